package json

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/dgellow/docsite/internal/log"
)

// ErrorResponse is the JSON body of every error the server renders
type ErrorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message,omitempty"`
	Details   string `json:"details,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// WriteResponse writes a JSON response with the given status code
func WriteResponse(w http.ResponseWriter, statusCode int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.LogError("Failed to encode JSON response: %v", err)
		return err
	}
	return nil
}

// Write writes a JSON response with 200 OK status
func Write(w http.ResponseWriter, data any) error {
	return WriteResponse(w, http.StatusOK, data)
}

// WriteError writes resp with statusCode. An empty resp.Error is filled from the status.
func WriteError(w http.ResponseWriter, statusCode int, resp ErrorResponse) {
	if resp.Error == "" {
		resp.Error = ErrorCode(statusCode)
	}
	if err := WriteResponse(w, statusCode, resp); err != nil {
		// Headers are already sent, nothing left to do but log
		log.LogDebug("Failed to write error response: %v", err)
	}
}

// ErrorCode converts an HTTP status into a snake_case error code,
// e.g. 502 -> "bad_gateway"
func ErrorCode(statusCode int) string {
	text := http.StatusText(statusCode)
	if text == "" {
		return "error"
	}
	text = strings.ToLower(text)
	text = strings.NewReplacer(" ", "_", "-", "_", "'", "").Replace(text)
	return text
}
