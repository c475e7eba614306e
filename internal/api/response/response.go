// Package response writes the JSON envelopes every endpoint shares:
// {"data": ...} on success and {"error": {...}} on failure.
package response

import (
	"encoding/json"
	"net/http"

	"github.com/kiranshivaraju/docrender/pkg/models"
)

type envelope struct {
	Data any `json:"data"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
	Details   any    `json:"details,omitempty"`
}

func JSON(w http.ResponseWriter, data any)     { Status(w, http.StatusOK, data) }
func Created(w http.ResponseWriter, data any)  { Status(w, http.StatusCreated, data) }
func Accepted(w http.ResponseWriter, data any) { Status(w, http.StatusAccepted, data) }

// Status writes data in the success envelope with an explicit status code.
func Status(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, envelope{Data: data})
}

func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// Error writes an error envelope for codes outside the job error taxonomy
// (auth, rate limiting, health).
func Error(w http.ResponseWriter, status int, code, message string, details any) {
	writeJSON(w, status, errorEnvelope{Error: errorBody{
		Code:    code,
		Message: message,
		Details: details,
	}})
}

// Fail writes a classified error. Codes a client may resend unchanged after
// a delay carry "retryable": true.
func Fail(w http.ResponseWriter, status int, code models.ErrorCode, message string, details any) {
	writeJSON(w, status, errorEnvelope{Error: errorBody{
		Code:      string(code),
		Message:   message,
		Retryable: code.Retryable(),
		Details:   details,
	}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
