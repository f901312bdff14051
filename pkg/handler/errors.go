package handler

import (
	"errors"
	"net/http"
)

// ErrNilResponse is reported when a handler returns no response.
var ErrNilResponse = errors.New("handler returned nil response")

// HTTPError carries a status code and a machine-readable key.
type HTTPError struct {
	Code int    // HTTP status code
	Key  string // error code in the response body, e.g. "not_found"
}

// Error implements the error interface.
func (e HTTPError) Error() string {
	return e.Key
}

var (
	ErrBadRequest         = HTTPError{Code: http.StatusBadRequest, Key: "bad_request"}
	ErrNotFound           = HTTPError{Code: http.StatusNotFound, Key: "not_found"}
	ErrConflict           = HTTPError{Code: http.StatusConflict, Key: "conflict"}
	ErrInternalServer     = HTTPError{Code: http.StatusInternalServerError, Key: "internal_error"}
	ErrServiceUnavailable = HTTPError{Code: http.StatusServiceUnavailable, Key: "service_unavailable"}
)

// statusError attaches an HTTPError to a cause so the body keeps the cause's
// message while the status and code come from kind.
type statusError struct {
	kind  HTTPError
	cause error
}

// WithStatus classifies err as kind. errors.Is matches both kind and err.
func WithStatus(kind HTTPError, err error) error {
	return &statusError{kind: kind, cause: err}
}

func (e *statusError) Error() string   { return e.cause.Error() }
func (e *statusError) Unwrap() []error { return []error{e.kind, e.cause} }
