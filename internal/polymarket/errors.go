package polymarket

import (
	"fmt"

	"github.com/rewired-gh/polypulse/internal/models"
)

// APIError is a non-success response from a Polymarket endpoint.
type APIError struct {
	StatusCode int
	Message    string
	Body       []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("polymarket api error %d: %s", e.StatusCode, e.Message)
}

// IsRetryable returns true if the error should trigger a retry.
func (e *APIError) IsRetryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == 429
}

// Unwrap lets callers match every provider failure with models.ErrUpstreamUnavailable.
func (e *APIError) Unwrap() error {
	return models.ErrUpstreamUnavailable
}
