package authflow

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrResponseNotFound is returned when the provider callback lacks state or code
	ErrResponseNotFound = errors.New("response not found")
	// ErrStateMismatch is returned when a callback arrives for a session with no login in progress
	ErrStateMismatch = errors.New("no login in progress for this session")
)

// StatusError attaches an HTTP status to a flow failure
type StatusError struct {
	Status int
	Err    error
}

func (e *StatusError) Error() string {
	return e.Err.Error()
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

// StatusCode returns the HTTP status to render
func (e *StatusError) StatusCode() int {
	if e.Status == 0 {
		return http.StatusInternalServerError
	}
	return e.Status
}

func badRequest(err error) error {
	return &StatusError{Status: http.StatusBadRequest, Err: err}
}

// ErrorRenderer turns a failed flow step into an HTTP response
type ErrorRenderer interface {
	RenderError(w http.ResponseWriter, r *http.Request, err error)
}

// ErrorRendererFunc adapts a function to ErrorRenderer
type ErrorRendererFunc func(w http.ResponseWriter, r *http.Request, err error)

func (f ErrorRendererFunc) RenderError(w http.ResponseWriter, r *http.Request, err error) {
	f(w, r, err)
}

// stepError names the flow step that failed, keeping the cause matchable
func stepError(step string, err error) error {
	return fmt.Errorf("%s: %w", step, err)
}
