package queue

import (
	"errors"
	"fmt"
	"time"
)

// FailureKind classifies why a remote call failed. The queue only needs to
// answer one question per failure: is trying again later worth it.
type FailureKind string

const (
	// FailureNotConnected means the device had no network at call time.
	FailureNotConnected FailureKind = "not_connected"
	// FailureTimeout means the call started but did not finish in time.
	FailureTimeout FailureKind = "timeout"
	// FailureServer covers 5xx-class responses.
	FailureServer FailureKind = "server_error"
	// FailureClient covers 4xx-class responses other than rate limiting.
	// These are permanent: retrying an unauthorized or malformed request
	// just repeats the rejection.
	FailureClient FailureKind = "client_error"
	// FailureRateLimited is a 429: retryable, possibly with a server-
	// suggested delay.
	FailureRateLimited FailureKind = "rate_limited"
)

// NetError is a classified remote-call failure. Executors wrap transport
// errors in one of these so the queue can decide between backoff and
// permanent failure without knowing the transport.
type NetError struct {
	Kind FailureKind
	// Code is the HTTP status for server/client/rate-limited failures,
	// zero otherwise.
	Code int
	// RetryAfter carries a server-suggested delay, if any.
	RetryAfter time.Duration
	Err        error
}

func (e *NetError) Error() string {
	msg := string(e.Kind)
	if e.Code != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.Code)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *NetError) Unwrap() error { return e.Err }

func NotConnected() *NetError { return &NetError{Kind: FailureNotConnected} }

func Timeout(err error) *NetError { return &NetError{Kind: FailureTimeout, Err: err} }

func ServerError(code int, err error) *NetError {
	return &NetError{Kind: FailureServer, Code: code, Err: err}
}

func ClientError(code int, err error) *NetError {
	return &NetError{Kind: FailureClient, Code: code, Err: err}
}

func RateLimited(retryAfter time.Duration) *NetError {
	return &NetError{Kind: FailureRateLimited, Code: 429, RetryAfter: retryAfter}
}

// IsRetryable reports whether the failure is transient. Unclassified errors
// count as permanent: they come from business logic, not the network, and
// re-running them blindly could duplicate side effects.
func IsRetryable(err error) bool {
	var ne *NetError
	if !errors.As(err, &ne) {
		return false
	}
	switch ne.Kind {
	case FailureNotConnected, FailureTimeout, FailureServer, FailureRateLimited:
		return true
	default:
		return false
	}
}

// SuggestedRetryDelay returns a server-provided delay hint, or zero when the
// failure carries none.
func SuggestedRetryDelay(err error) time.Duration {
	var ne *NetError
	if errors.As(err, &ne) {
		return ne.RetryAfter
	}
	return 0
}
