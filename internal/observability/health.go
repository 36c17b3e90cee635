// Package observability bundles the hub's health endpoints, Prometheus
// metrics, and optional OpenTelemetry tracing.
package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// HealthChecker reports whether a component is alive at all.
type HealthChecker interface {
	// HealthCheck returns nil when the component is healthy.
	HealthCheck(ctx context.Context) error
	Name() string
}

// ReadinessChecker reports whether a component can serve traffic.
type ReadinessChecker interface {
	// ReadinessCheck returns nil when the component is ready.
	ReadinessCheck(ctx context.Context) error
	Name() string
}

// ComponentStatus is one checker's result inside a health response.
type ComponentStatus struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// HealthResponse is the /healthz body.
type HealthResponse struct {
	Status     string            `json:"status"`
	Timestamp  time.Time         `json:"timestamp"`
	Components []ComponentStatus `json:"components"`
}

// ReadinessResponse is the /readyz body.
type ReadinessResponse struct {
	Status     string            `json:"status"`
	Timestamp  time.Time         `json:"timestamp"`
	Components []ComponentStatus `json:"components"`
}

// Health runs registered checkers and serves /healthz and /readyz.
type Health struct {
	logger    *zap.Logger
	health    []HealthChecker
	readiness []ReadinessChecker
	timeout   time.Duration
}

// NewHealth builds a Health with the default 5s per-request timeout.
func NewHealth(logger *zap.Logger) *Health {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Health{
		logger:  logger,
		timeout: 5 * time.Second,
	}
}

// AddHealthChecker registers a liveness checker.
func (h *Health) AddHealthChecker(checker HealthChecker) {
	h.health = append(h.health, checker)
}

// AddReadinessChecker registers a readiness checker.
func (h *Health) AddReadinessChecker(checker ReadinessChecker) {
	h.readiness = append(h.readiness, checker)
}

// SetTimeout overrides the per-request check timeout.
func (h *Health) SetTimeout(timeout time.Duration) {
	if timeout > 0 {
		h.timeout = timeout
	}
}

// HealthzHandler serves the liveness endpoint.
func (h *Health) HealthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
		defer cancel()

		resp := h.checkHealth(ctx)
		code := http.StatusOK
		if resp.Status != "healthy" {
			code = http.StatusServiceUnavailable
		}
		h.writeJSON(w, code, resp)
	}
}

// ReadyzHandler serves the readiness endpoint.
func (h *Health) ReadyzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
		defer cancel()

		resp := h.checkReadiness(ctx)
		code := http.StatusOK
		if resp.Status != "ready" {
			code = http.StatusServiceUnavailable
		}
		h.writeJSON(w, code, resp)
	}
}

func (h *Health) checkHealth(ctx context.Context) HealthResponse {
	resp := HealthResponse{
		Status:     "healthy",
		Timestamp:  time.Now(),
		Components: make([]ComponentStatus, 0, len(h.health)),
	}
	for _, checker := range h.health {
		start := time.Now()
		status := ComponentStatus{Name: checker.Name(), Status: "healthy"}
		if err := checker.HealthCheck(ctx); err != nil {
			status.Status = "unhealthy"
			status.Error = err.Error()
			resp.Status = "unhealthy"
			h.logger.Warn("health check failed",
				zap.String("component", checker.Name()),
				zap.Error(err))
		}
		status.Latency = time.Since(start).String()
		resp.Components = append(resp.Components, status)
	}
	return resp
}

func (h *Health) checkReadiness(ctx context.Context) ReadinessResponse {
	resp := ReadinessResponse{
		Status:     "ready",
		Timestamp:  time.Now(),
		Components: make([]ComponentStatus, 0, len(h.readiness)),
	}
	for _, checker := range h.readiness {
		start := time.Now()
		status := ComponentStatus{Name: checker.Name(), Status: "ready"}
		if err := checker.ReadinessCheck(ctx); err != nil {
			status.Status = "not_ready"
			status.Error = err.Error()
			resp.Status = "not_ready"
			h.logger.Warn("readiness check failed",
				zap.String("component", checker.Name()),
				zap.Error(err))
		}
		status.Latency = time.Since(start).String()
		resp.Components = append(resp.Components, status)
	}
	return resp
}

func (h *Health) writeJSON(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode health response", zap.Error(err))
	}
}

// IsHealthy reports whether every health check currently passes.
func (h *Health) IsHealthy() bool {
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()
	return h.checkHealth(ctx).Status == "healthy"
}

// IsReady reports whether every readiness check currently passes.
func (h *Health) IsReady() bool {
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()
	return h.checkReadiness(ctx).Status == "ready"
}
