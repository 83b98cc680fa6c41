package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrNotConfigured is returned by workers without an endpoint.
var ErrNotConfigured = errors.New("worker endpoint not configured")

// TransientError represents a temporary failure that may succeed on retry:
// network faults, timeouts, rate limits, temporary unavailability.
type TransientError struct {
	err error
}

func (e *TransientError) Error() string { return e.err.Error() }

func (e *TransientError) Unwrap() error { return e.err }

// NewTransientError wraps err as transient (retryable).
func NewTransientError(err error) error {
	return &TransientError{err: err}
}

// PermanentError represents a failure that will not go away on retry:
// invalid input, unknown entity, business-rule rejection.
type PermanentError struct {
	err error
}

func (e *PermanentError) Error() string { return e.err.Error() }

func (e *PermanentError) Unwrap() error { return e.err }

// NewPermanentError wraps err as permanent (never retried).
func NewPermanentError(err error) error {
	return &PermanentError{err: err}
}

// IsTransient reports whether err is transient.
func IsTransient(err error) bool {
	var transient *TransientError
	return errors.As(err, &transient)
}

// IsPermanent reports whether err is permanent.
func IsPermanent(err error) bool {
	var permanent *PermanentError
	return errors.As(err, &permanent)
}

// StatusError is a non-2xx answer from an HTTP worker.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("worker returned %d", e.Code)
	}
	return fmt.Sprintf("worker returned %d: %s", e.Code, e.Body)
}

var transientHTTP = map[int]bool{
	http.StatusRequestTimeout:      true,
	http.StatusTooEarly:            true,
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

var transientGRPC = map[codes.Code]bool{
	codes.Unavailable:       true,
	codes.DeadlineExceeded:  true,
	codes.ResourceExhausted: true,
	codes.Aborted:           true,
}

// Classify wraps err as transient or permanent. Errors that already carry
// a class are returned unchanged; anything unrecognised is permanent.
func Classify(err error) error {
	if err == nil || IsTransient(err) || IsPermanent(err) {
		return err
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.ErrUnexpectedEOF) {
		return NewTransientError(err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrNotConfigured) {
		return NewPermanentError(err)
	}

	var se *StatusError
	if errors.As(err, &se) {
		if transientHTTP[se.Code] {
			return NewTransientError(err)
		}
		return NewPermanentError(err)
	}

	if st, ok := status.FromError(err); ok && st.Code() != codes.Unknown {
		if transientGRPC[st.Code()] {
			return NewTransientError(err)
		}
		return NewPermanentError(err)
	}

	// *url.Error is itself a net.Error, so only connection-level faults
	// count: request construction mistakes stay permanent.
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return NewTransientError(err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return NewTransientError(err)
	}
	if errors.Is(err, io.EOF) {
		return NewTransientError(err)
	}

	return NewPermanentError(err)
}
