package retry

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

var ErrRetryExhausted = errors.New("retry exhausted")

// Reason tells why Execute stopped retrying.
type Reason int

const (
	// ReasonAttempts: every allowed attempt failed transiently.
	ReasonAttempts Reason = iota
	// ReasonTimeout: the next wait would overrun the policy timeout, or the
	// timeout passed during an attempt.
	ReasonTimeout
	// ReasonCanceled: the caller's context was canceled.
	ReasonCanceled
)

func (r Reason) String() string {
	switch r {
	case ReasonAttempts:
		return "attempts"
	case ReasonTimeout:
		return "timeout"
	case ReasonCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// ExhaustedError wraps the last failure of a call that ran out of attempts or
// time. errors.Is matches both ErrRetryExhausted and the wrapped failure.
type ExhaustedError struct {
	Reason   Reason
	Attempts int
	Elapsed  time.Duration
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retry exhausted (%s) after %d attempt(s) in %v: %v", e.Reason, e.Attempts, e.Elapsed.Round(time.Millisecond), e.Err)
}

func (e *ExhaustedError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrRetryExhausted}
	}
	return []error{ErrRetryExhausted, e.Err}
}

// HTTPError is a non-success HTTP response. 429 and 5xx are transient.
type HTTPError struct {
	StatusCode int
	Status     string
	Method     string
	URL        string
}

func (e *HTTPError) Error() string {
	if e.Method == "" {
		return fmt.Sprintf("http status %d", e.StatusCode)
	}
	return fmt.Sprintf("%s %s: %s", e.Method, e.URL, e.Status)
}

func (e *HTTPError) Transient() bool {
	return e.StatusCode == http.StatusTooManyRequests ||
		(e.StatusCode >= 500 && e.StatusCode < 600)
}

// CheckResponse returns an *HTTPError for any status outside 2xx and 3xx.
func CheckResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 400 {
		return nil
	}
	e := &HTTPError{StatusCode: resp.StatusCode, Status: resp.Status}
	if resp.Request != nil {
		e.Method = resp.Request.Method
		e.URL = resp.Request.URL.Redacted()
	}
	return e
}

type markedError struct {
	err       error
	transient bool
}

func (e *markedError) Error() string { return e.err.Error() }
func (e *markedError) Unwrap() error { return e.err }

// Transient marks err as retryable regardless of its type or the
// classifier in use.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &markedError{err: err, transient: true}
}

// Permanent marks err as not retryable regardless of its type or the
// classifier in use.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &markedError{err: err, transient: false}
}
