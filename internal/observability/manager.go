package observability

import (
	"context"
	"net/http"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// Outcome labels for counter vectors.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Config selects which observability surfaces are active.
type Config struct {
	Health  HealthConfig  `json:"health"`
	Metrics MetricsConfig `json:"metrics"`
	Tracing TracingConfig `json:"tracing"`
}

// HealthConfig configures the health endpoints.
type HealthConfig struct {
	Enabled bool          `json:"enabled"`
	Timeout time.Duration `json:"timeout"`
}

// MetricsConfig configures the Prometheus surface.
type MetricsConfig struct {
	Enabled bool `json:"enabled"`
}

// DefaultConfig enables health and metrics and reads tracing settings
// from MCPHUB_OTLP_ENDPOINT and MCPHUB_TRACE_SAMPLE_RATE. Tracing stays
// off unless an endpoint is set.
func DefaultConfig(serviceName, serviceVersion string) Config {
	cfg := Config{
		Health: HealthConfig{
			Enabled: true,
			Timeout: 5 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		Tracing: TracingConfig{
			ServiceName:    serviceName,
			ServiceVersion: serviceVersion,
			SampleRate:     0.1,
		},
	}
	if endpoint := os.Getenv("MCPHUB_OTLP_ENDPOINT"); endpoint != "" {
		cfg.Tracing.Enabled = true
		cfg.Tracing.OTLPEndpoint = endpoint
	}
	if rate := os.Getenv("MCPHUB_TRACE_SAMPLE_RATE"); rate != "" {
		if parsed, err := strconv.ParseFloat(rate, 64); err == nil && parsed > 0 && parsed <= 1 {
			cfg.Tracing.SampleRate = parsed
		}
	}
	return cfg
}

// Manager holds the active observability surfaces. Disabled surfaces are
// nil; the accessor methods and helpers tolerate that.
type Manager struct {
	logger  *zap.Logger
	config  Config
	health  *Health
	metrics *Metrics
	tracing *Tracing

	startTime time.Time
}

// NewManager builds the enabled surfaces.
func NewManager(logger *zap.Logger, config Config) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		logger:    logger,
		config:    config,
		startTime: time.Now(),
	}

	if config.Health.Enabled {
		m.health = NewHealth(logger)
		m.health.SetTimeout(config.Health.Timeout)
	}
	if config.Metrics.Enabled {
		m.metrics = NewMetrics()
	}
	if config.Tracing.Enabled {
		var err error
		m.tracing, err = NewTracing(logger, config.Tracing)
		if err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Health returns the health surface, or nil when disabled.
func (m *Manager) Health() *Health { return m.health }

// Metrics returns the metrics surface, or nil when disabled.
func (m *Manager) Metrics() *Metrics { return m.metrics }

// Tracing returns the tracing surface, or nil when disabled.
func (m *Manager) Tracing() *Tracing { return m.tracing }

// RegisterHealthChecker adds a liveness checker when health is enabled.
func (m *Manager) RegisterHealthChecker(checker HealthChecker) {
	if m.health != nil {
		m.health.AddHealthChecker(checker)
	}
}

// RegisterReadinessChecker adds a readiness checker when health is enabled.
func (m *Manager) RegisterReadinessChecker(checker ReadinessChecker) {
	if m.health != nil {
		m.health.AddReadinessChecker(checker)
	}
}

// HTTPMiddleware chains the metrics and tracing middlewares.
func (m *Manager) HTTPMiddleware() func(http.Handler) http.Handler {
	var middlewares []func(http.Handler) http.Handler
	if m.metrics != nil {
		middlewares = append(middlewares, m.metrics.HTTPMiddleware())
	}
	if m.tracing != nil {
		middlewares = append(middlewares, m.tracing.HTTPMiddleware())
	}
	return func(next http.Handler) http.Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}

// RecordToolCall forwards one dispatch outcome to metrics and tracing.
func (m *Manager) RecordToolCall(ctx context.Context, upstreamName, toolName string, duration time.Duration, err error) {
	if m.metrics != nil {
		m.metrics.RecordToolCall(upstreamName, toolName, err, duration)
	}
	if m.tracing != nil {
		m.tracing.SetSpanError(ctx, err)
	}
}

// UpdateUptime refreshes the uptime gauge.
func (m *Manager) UpdateUptime() {
	if m.metrics != nil {
		m.metrics.SetUptime(m.startTime)
	}
}

// StartTime returns when the manager was built, which doubles as the hub
// start time for status reporting.
func (m *Manager) StartTime() time.Time {
	return m.startTime
}

// Close shuts down tracing. Health and metrics have nothing to release.
func (m *Manager) Close(ctx context.Context) error {
	if m.tracing != nil {
		if err := m.tracing.Close(ctx); err != nil {
			m.logger.Error("failed to close tracing", zap.Error(err))
			return err
		}
	}
	return nil
}

// IsReady reports readiness, true when health checking is disabled.
func (m *Manager) IsReady() bool {
	if m.health == nil {
		return true
	}
	return m.health.IsReady()
}
