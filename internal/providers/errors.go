package providers

import (
	"fmt"
	"net/http"

	"github.com/dpatwari/tokenworth/internal/quote"
)

// classifyStatus maps an HTTP status to the error taxonomy. 429 is a
// rate-limit signal; 5xx is transient and retried exactly like a
// network failure; everything else non-2xx is a terminal provider
// error.
func classifyStatus(subject string, status int) error {
	switch {
	case status == http.StatusOK:
		return nil
	case status == http.StatusTooManyRequests:
		return quote.NewRateLimitError(subject, "provider rate limit exceeded")
	case status >= 500:
		return quote.NewNetworkError(subject, fmt.Sprintf("server error HTTP %d", status), nil)
	default:
		return quote.NewProviderError(subject, fmt.Sprintf("HTTP %d", status), nil)
	}
}
