package reqcontext

import (
	"regexp"

	"github.com/google/uuid"
)

const (
	// RequestIDHeader is the HTTP header carrying client-supplied request IDs.
	RequestIDHeader = "X-Request-Id"

	// MaxRequestIDLength bounds accepted request IDs.
	MaxRequestIDLength = 256
)

var requestIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,256}$`)

// IsValidRequestID reports whether id is safe to echo back into responses
// and logs: alphanumeric plus dash and underscore, at most 256 characters.
func IsValidRequestID(id string) bool {
	if id == "" || len(id) > MaxRequestIDLength {
		return false
	}
	return requestIDPattern.MatchString(id)
}

// GenerateRequestID returns a new UUID v4 request ID.
func GenerateRequestID() string {
	return uuid.New().String()
}

// GetOrGenerateRequestID keeps a valid client-supplied ID and replaces
// anything else. Middleware calls this on every request.
func GetOrGenerateRequestID(providedID string) string {
	if IsValidRequestID(providedID) {
		return providedID
	}
	return GenerateRequestID()
}
