package retry

import (
	"context"
	"errors"
	"io"
	"net"
	"syscall"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Classifier reports whether err is transient and worth another attempt.
type Classifier func(err error) bool

// DefaultClassifier treats as transient: errors marked with Transient,
// deadline and network timeouts, connection resets, HTTP 429 and 5xx
// (*HTTPError), and the gRPC codes Unavailable, ResourceExhausted,
// DeadlineExceeded and Aborted. Everything else, including context
// cancellation and anything marked Permanent, is permanent.
func DefaultClassifier(err error) bool {
	if err == nil {
		return false
	}

	if transient, ok := markedVerdict(err); ok {
		return transient
	}

	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Transient()
	}

	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.Unavailable, codes.ResourceExhausted, codes.DeadlineExceeded, codes.Aborted:
			return true
		default:
			return false
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	return errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ETIMEDOUT) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, io.ErrUnexpectedEOF)
}

// markedVerdict returns the verdict of a Transient or Permanent marker on
// err, if any.
func markedVerdict(err error) (transient, ok bool) {
	var marked *markedError
	if errors.As(err, &marked) {
		return marked.transient, true
	}
	return false, false
}

// AnyOf is transient when any of the classifiers says so. Use it to extend
// DefaultClassifier with API-specific signals. A Transient or Permanent
// marker wins over every classifier.
func AnyOf(classifiers ...Classifier) Classifier {
	return func(err error) bool {
		if transient, ok := markedVerdict(err); ok {
			return transient
		}
		for _, c := range classifiers {
			if c != nil && c(err) {
				return true
			}
		}
		return false
	}
}
