package exchange

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an exchange API failure; handling policy hangs off the kind.
type Kind int

const (
	KindTransient     Kind = iota // network error / 5xx: retry with backoff
	KindRateLimited                // 429: honour server hint, else back off
	KindAuth                       // 401/403: report, do not retry
	KindGeoRestricted              // 451: fatal for this exchange
	KindBadRequest                 // 4xx we caused: do not retry
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindRateLimited:
		return "rate_limited"
	case KindAuth:
		return "auth"
	case KindGeoRestricted:
		return "geo_restricted"
	case KindBadRequest:
		return "bad_request"
	default:
		return "unknown"
	}
}

// APIError is the structured error returned by REST and WebSocket paths.
type APIError struct {
	Kind       Kind
	Status     int
	RetryAfter int // seconds, from the server hint when present
	Op         string
	Cause      error
}

func (e *APIError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s: %s (http %d): %v", e.Op, e.Kind, e.Status, e.Cause)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Cause)
}

func (e *APIError) Unwrap() error { return e.Cause }

// Retryable reports whether the failure policy allows another attempt.
func (e *APIError) Retryable() bool {
	return e.Kind == KindTransient || e.Kind == KindRateLimited
}

// Fatal reports whether the failure must be surfaced to the FSM and stop the
// exchange (geo restriction).
func (e *APIError) Fatal() bool {
	return e.Kind == KindGeoRestricted
}

// classifyStatus maps an HTTP status to a failure kind.
func classifyStatus(status int) Kind {
	switch {
	case status == http.StatusTooManyRequests:
		return KindRateLimited
	case status == http.StatusUnavailableForLegalReasons:
		return KindGeoRestricted
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindAuth
	case status >= 500:
		return KindTransient
	default:
		return KindBadRequest
	}
}

// AsAPIError unwraps err to an *APIError if one is in the chain.
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// ErrUnsupportedAdapter is returned for exchanges listed by config that have
// no adapter implementation yet.
var ErrUnsupportedAdapter = errors.New("unsupported exchange adapter")
