package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestDefaultClassifier(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("bad request"), false},
		{"deadline", context.DeadlineExceeded, true},
		{"canceled", context.Canceled, false},
		{"net timeout", &net.OpError{Op: "dial", Err: timeoutErr{}}, true},
		{"connection reset", &net.OpError{Op: "read", Err: syscall.ECONNRESET}, true},
		{"etimedout", fmt.Errorf("dial: %w", syscall.ETIMEDOUT), true},
		{"unexpected eof", fmt.Errorf("body: %w", io.ErrUnexpectedEOF), true},
		{"http 429", &HTTPError{StatusCode: http.StatusTooManyRequests}, true},
		{"http 503", &HTTPError{StatusCode: http.StatusServiceUnavailable}, true},
		{"http 401", &HTTPError{StatusCode: http.StatusUnauthorized}, false},
		{"http 404 wrapped", fmt.Errorf("lookup: %w", &HTTPError{StatusCode: http.StatusNotFound}), false},
		{"grpc unavailable", status.Error(codes.Unavailable, "down"), true},
		{"grpc exhausted", status.Error(codes.ResourceExhausted, "quota"), true},
		{"grpc invalid", status.Error(codes.InvalidArgument, "bad"), false},
		{"marked transient", Transient(errors.New("temporary_error")), true},
		{"marked permanent", Permanent(&HTTPError{StatusCode: http.StatusBadGateway}), false},
		{"outer marker wins", Permanent(Transient(errors.New("x"))), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DefaultClassifier(tt.err))
		})
	}
}

func TestMarkers(t *testing.T) {
	assert.NoError(t, Transient(nil))
	assert.NoError(t, Permanent(nil))

	base := errors.New("base")
	assert.ErrorIs(t, Transient(base), base)
	assert.Equal(t, "base", Permanent(base).Error())
}

func TestAnyOf(t *testing.T) {
	errQuota := errors.New("quota")
	c := AnyOf(DefaultClassifier, nil, func(err error) bool { return errors.Is(err, errQuota) })

	assert.True(t, c(errQuota))
	assert.True(t, c(context.DeadlineExceeded))
	assert.False(t, c(errors.New("other")))
	assert.False(t, c(Permanent(errQuota)), "a Permanent marker wins over every classifier")
	assert.True(t, AnyOf(func(error) bool { return false })(Transient(errors.New("x"))))
}

func TestCheckResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			w.WriteHeader(http.StatusOK)
		case "/busy":
			w.WriteHeader(http.StatusTooManyRequests)
		default:
			w.WriteHeader(http.StatusForbidden)
		}
	}))
	defer srv.Close()

	get := func(path string) *http.Response {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		return resp
	}

	assert.NoError(t, CheckResponse(get("/ok")))

	err := CheckResponse(get("/busy"))
	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusTooManyRequests, httpErr.StatusCode)
	assert.Equal(t, http.MethodGet, httpErr.Method)
	assert.Contains(t, httpErr.Error(), "/busy")
	assert.True(t, DefaultClassifier(err))

	assert.False(t, DefaultClassifier(CheckResponse(get("/denied"))))
}
