package observability

import (
	"context"
	"fmt"

	"go.etcd.io/bbolt"
)

// DatabaseChecker verifies the BoltDB store can open a read transaction.
type DatabaseChecker struct {
	name string
	db   *bbolt.DB
}

// NewDatabaseChecker builds a checker for an open BoltDB handle.
func NewDatabaseChecker(name string, db *bbolt.DB) *DatabaseChecker {
	return &DatabaseChecker{name: name, db: db}
}

func (c *DatabaseChecker) Name() string { return c.name }

func (c *DatabaseChecker) HealthCheck(_ context.Context) error {
	if c.db == nil {
		return fmt.Errorf("database is not open")
	}
	return c.db.View(func(_ *bbolt.Tx) error { return nil })
}

func (c *DatabaseChecker) ReadinessCheck(ctx context.Context) error {
	return c.HealthCheck(ctx)
}

// UpstreamChecker gates readiness on a minimum number of ready upstreams.
// The counts closure decouples the checker from the upstream manager.
type UpstreamChecker struct {
	name     string
	counts   func() (total, ready int)
	minReady int
}

// NewUpstreamChecker builds a checker. minReady of zero makes readiness
// unconditional, which is the right default for a hub that starts before
// its upstreams do.
func NewUpstreamChecker(name string, counts func() (total, ready int), minReady int) *UpstreamChecker {
	return &UpstreamChecker{name: name, counts: counts, minReady: minReady}
}

func (c *UpstreamChecker) Name() string { return c.name }

func (c *UpstreamChecker) HealthCheck(_ context.Context) error {
	if c.counts == nil {
		return fmt.Errorf("no counts source")
	}
	return nil
}

func (c *UpstreamChecker) ReadinessCheck(_ context.Context) error {
	if c.counts == nil {
		return fmt.Errorf("no counts source")
	}
	total, ready := c.counts()
	if ready < c.minReady {
		return fmt.Errorf("only %d of %d upstreams ready, need %d", ready, total, c.minReady)
	}
	return nil
}

// ComponentChecker adapts a pair of boolean probes into both checker
// interfaces.
type ComponentChecker struct {
	name      string
	isHealthy func() bool
	isReady   func() bool
}

// NewComponentChecker builds a checker from boolean probes. A nil probe
// always passes.
func NewComponentChecker(name string, isHealthy, isReady func() bool) *ComponentChecker {
	return &ComponentChecker{name: name, isHealthy: isHealthy, isReady: isReady}
}

func (c *ComponentChecker) Name() string { return c.name }

func (c *ComponentChecker) HealthCheck(_ context.Context) error {
	if c.isHealthy != nil && !c.isHealthy() {
		return fmt.Errorf("component %q is unhealthy", c.name)
	}
	return nil
}

func (c *ComponentChecker) ReadinessCheck(_ context.Context) error {
	if c.isReady != nil && !c.isReady() {
		return fmt.Errorf("component %q is not ready", c.name)
	}
	return nil
}

var (
	_ HealthChecker    = (*DatabaseChecker)(nil)
	_ ReadinessChecker = (*DatabaseChecker)(nil)
	_ HealthChecker    = (*UpstreamChecker)(nil)
	_ ReadinessChecker = (*UpstreamChecker)(nil)
	_ HealthChecker    = (*ComponentChecker)(nil)
	_ ReadinessChecker = (*ComponentChecker)(nil)
)
