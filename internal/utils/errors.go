package utils

import (
	"encoding/json"
	"net/http"
)

// APIError is the JSON body of every non-2xx response.
type APIError struct {
	Code    int    `json:"-"`
	Message string `json:"error"`
}

func (e *APIError) Error() string { return e.Message }

func NewAPIError(code int, message string) *APIError {
	return &APIError{Code: code, Message: message}
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// WriteError writes e as {"error": "..."}.
func WriteError(w http.ResponseWriter, e *APIError) {
	WriteJSON(w, e.Code, e)
}
