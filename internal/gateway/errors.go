package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrNetwork           = errors.New("network error")
	ErrServer            = errors.New("server error")
	ErrMalformedResponse = errors.New("malformed response")
)

// Kind returns the taxonomy label of a gateway error, or "" if err is not one.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrNetwork):
		return "network_error"
	case errors.Is(err, ErrServer):
		return "server_error"
	case errors.Is(err, ErrMalformedResponse):
		return "malformed_response"
	}
	return ""
}

// StatusError is a non-2xx response. It unwraps to ErrNotFound or ErrServer.
type StatusError struct {
	Op     string
	Status int
	Err    error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: %v: status %d", e.Op, e.Err, e.Status)
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

// statusError classifies a non-2xx response. 404 is only NotFound for
// single-entity reads; callers pass notFoundOK=false elsewhere.
func statusError(op string, status int, notFoundOK bool) error {
	if status == http.StatusNotFound && notFoundOK {
		return &StatusError{Op: op, Status: status, Err: ErrNotFound}
	}
	return &StatusError{Op: op, Status: status, Err: ErrServer}
}

func networkError(op string, err error) error {
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrNetwork, err)
}

func malformed(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrMalformedResponse, err)
}

// transient reports whether a read may be retried: network failures and 5xx
// responses only.
func transient(err error) bool {
	if errors.Is(err, ErrNetwork) {
		return true
	}
	var se *StatusError
	return errors.As(err, &se) && se.Status >= http.StatusInternalServerError
}
