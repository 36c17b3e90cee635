package transport

import (
	"net/http"
	"time"

	"go.uber.org/zap"
)

// LoggingRoundTripper logs every HTTP exchange at debug level. It is wired
// into upstream HTTP clients only when debug logging is enabled, so the hot
// path carries no extra cost in normal operation.
type LoggingRoundTripper struct {
	base   http.RoundTripper
	logger *zap.Logger
}

// NewLoggingRoundTripper wraps base; a nil base means http.DefaultTransport.
func NewLoggingRoundTripper(base http.RoundTripper, logger *zap.Logger) *LoggingRoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return &LoggingRoundTripper{
		base:   base,
		logger: logger.Named("http-trace"),
	}
}

// RoundTrip implements http.RoundTripper.
func (t *LoggingRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()

	resp, err := t.base.RoundTrip(req)
	duration := time.Since(start)

	if err != nil {
		t.logger.Debug("http request failed",
			zap.String("method", req.Method),
			zap.String("url", req.URL.Redacted()),
			zap.Duration("duration", duration),
			zap.Error(err))
		return nil, err
	}

	t.logger.Debug("http exchange",
		zap.String("method", req.Method),
		zap.String("url", req.URL.Redacted()),
		zap.Int("status", resp.StatusCode),
		zap.String("content_type", resp.Header.Get("Content-Type")),
		zap.Duration("duration", duration))

	return resp, nil
}
