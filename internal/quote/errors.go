package quote

import (
	"errors"
	"fmt"
)

// ErrorKind classifies provider failures. Only rate-limit and network
// failures are worth retrying; the rest fail the attempt immediately.
type ErrorKind string

const (
	KindRateLimit    ErrorKind = "rate_limit"
	KindNetwork      ErrorKind = "network"
	KindProvider     ErrorKind = "provider_error"
	KindBadAsset     ErrorKind = "bad_asset"
	KindUnconfigured ErrorKind = "unconfigured"
)

// Error is the typed failure returned by every provider.
type Error struct {
	Kind    ErrorKind
	Subject string // asset key, currency code, or provider name
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s error for %s: %s (%v)", e.Kind, e.Subject, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s error for %s: %s", e.Kind, e.Subject, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Retryable reports whether err is a transient provider failure.
// Network errors are treated identically to rate-limit errors.
func Retryable(err error) bool {
	var qe *Error
	if errors.As(err, &qe) {
		return qe.Kind == KindRateLimit || qe.Kind == KindNetwork
	}
	return false
}

func NewRateLimitError(subject, message string) *Error {
	return &Error{Kind: KindRateLimit, Subject: subject, Message: message}
}

func NewNetworkError(subject, message string, cause error) *Error {
	return &Error{Kind: KindNetwork, Subject: subject, Message: message, Cause: cause}
}

func NewProviderError(subject, message string, cause error) *Error {
	return &Error{Kind: KindProvider, Subject: subject, Message: message, Cause: cause}
}

func NewBadAssetError(subject, message string) *Error {
	return &Error{Kind: KindBadAsset, Subject: subject, Message: message}
}

func NewUnconfiguredError(provider string) *Error {
	return &Error{Kind: KindUnconfigured, Subject: provider, Message: "provider not configured"}
}
