package server

import (
	"errors"
	"net/http"

	"github.com/dgellow/docsite/internal/envutil"
	"github.com/dgellow/docsite/internal/idp"
	jsonwriter "github.com/dgellow/docsite/internal/json"
	"github.com/dgellow/docsite/internal/log"
	"github.com/ory/fosite"
)

const genericErrorMessage = "Authentication failed. Please try signing in again."

// ErrorRenderer writes flow failures as JSON. Details are only exposed in development.
type ErrorRenderer struct {
	dev bool
}

// NewErrorRenderer creates a renderer for the current environment
func NewErrorRenderer() *ErrorRenderer {
	return &ErrorRenderer{dev: envutil.IsDev()}
}

// StatusFor returns the status carried by err, or 500
func StatusFor(err error) int {
	var coded interface{ StatusCode() int }
	if errors.As(err, &coded) {
		if status := coded.StatusCode(); status >= http.StatusBadRequest {
			return status
		}
	}
	return http.StatusInternalServerError
}

// RenderError implements authflow.ErrorRenderer
func (e *ErrorRenderer) RenderError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	resp := jsonwriter.ErrorResponse{
		Message:   genericErrorMessage,
		RequestID: log.RequestID(r.Context()),
	}

	var perr *idp.ProviderError
	var rfcErr *fosite.RFC6749Error
	switch {
	case errors.As(err, &perr):
		resp.Error = perr.Code
	case errors.As(err, &rfcErr):
		resp.Error = rfcErr.ErrorField
	}

	if status >= http.StatusInternalServerError {
		resp.Message = http.StatusText(status)
	}
	if e.dev {
		resp.Details = err.Error()
		if rfcErr != nil {
			resp.Details = rfcErr.GetDescription()
		}
	}

	jsonwriter.WriteError(w, status, resp)
}
