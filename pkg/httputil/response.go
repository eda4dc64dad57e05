// Package httputil provides shared HTTP utilities for consistent response handling.
package httputil

import (
	"encoding/json"
	"net/http"
	"time"
)

// ErrorBody is the structured JSON body dproxy returns for proxy-generated
// failures (bad gateway, gateway timeout, critical interceptor errors).
type ErrorBody struct {
	Error     bool   `json:"error"`
	Message   string `json:"message"`
	Status    int    `json:"status"`
	Timestamp string `json:"timestamp"`
}

// NewErrorBody builds the canonical error body for a proxy-generated failure.
func NewErrorBody(status int, message string) ErrorBody {
	return ErrorBody{
		Error:     true,
		Message:   message,
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// MarshalErrorBody renders the canonical error body as JSON bytes.
// Marshalling a flat struct of scalars cannot fail, so no error is returned.
func MarshalErrorBody(status int, message string) []byte {
	b, _ := json.Marshal(NewErrorBody(status, message))
	return b
}

// WriteJSON writes a JSON response with the given status code.
// It sets the Content-Type header to application/json.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// WriteError writes the canonical dproxy error body with the given status code.
func WriteError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, NewErrorBody(status, message))
}

// WriteOK writes a 200 OK response with data.
func WriteOK(w http.ResponseWriter, data any) {
	WriteJSON(w, http.StatusOK, data)
}

// WriteBadRequest writes a 400 Bad Request error response.
func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, message)
}

// WriteNotFound writes a 404 Not Found error response.
func WriteNotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, message)
}

// WriteBadGateway writes a 502 Bad Gateway error response.
func WriteBadGateway(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadGateway, message)
}

// WriteInternalError writes a 500 Internal Server Error response.
func WriteInternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, message)
}
