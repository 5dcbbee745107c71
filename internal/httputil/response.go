// Package httputil provides the JSON response envelope shared by handlers
// and middleware.
package httputil

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/voidwallet/voidd/internal/errors"
)

// ErrorBody is the error half of the response envelope.
type ErrorBody struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

type envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *ErrorBody  `json:"error,omitempty"`
}

// WriteJSON writes a success envelope.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Success: true, Data: data})
}

// WriteError maps an error to the failure envelope. Unknown error types are
// masked as internal errors so nothing leaks to clients.
func WriteError(w http.ResponseWriter, err error) {
	se := apperrors.GetServiceError(err)
	if se == nil {
		se = apperrors.Internal("Internal server error", err)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(se.HTTPStatus)
	_ = json.NewEncoder(w).Encode(envelope{
		Success: false,
		Error: &ErrorBody{
			Code:    string(se.Code),
			Message: se.Message,
			Details: se.Details,
		},
	})
}
