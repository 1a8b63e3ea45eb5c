package completion

import (
	"errors"
	"fmt"
)

// Kind classifies why an upstream completion failed.
type Kind string

const (
	Timeout          Kind = "timeout"
	TransportFailure Kind = "transport_failure"
	MalformedSuccess Kind = "malformed_success"
	NotConfigured    Kind = "not_configured"
)

// UpstreamError is the gateway's failure outcome. Timeout and
// TransportFailure are retried; the other kinds are not.
type UpstreamError struct {
	Kind     Kind
	Attempts int
	Err      error
}

func (e *UpstreamError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("upstream %s after %d attempt(s)", e.Kind, e.Attempts)
	}
	return fmt.Sprintf("upstream %s after %d attempt(s): %v", e.Kind, e.Attempts, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

func (e *UpstreamError) retryable() bool {
	return e.Kind == Timeout || e.Kind == TransportFailure
}

// KindOf returns the upstream failure kind of err, or "" if err is not an
// UpstreamError.
func KindOf(err error) Kind {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue.Kind
	}
	return ""
}

var errEmptyChoices = errors.New("invalid API response format: no choices")
