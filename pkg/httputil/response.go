// Package httputil provides HTTP handler utilities for consistent error handling,
// JSON encoding/decoding, and request parsing.
package httputil

import (
	"encoding/json"
	"net/http"
)

// Error codes carried in ErrorResponse.Code. Clients branch on the code;
// the message is for humans.
const (
	CodeBadRequest   = "bad_request"
	CodeUnauthorized = "unauthorized"
	CodeForbidden    = "forbidden"
	CodeNotFound     = "not_found"
	CodeConflict     = "conflict"
	CodeTooLarge     = "payload_too_large"
	CodeRateLimited  = "rate_limited"
	CodeInternal     = "internal"
)

// ErrorResponse is the body of every non-2xx reply
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"error"`
}

// Problem is an error that knows how it should be rendered over HTTP
type Problem struct {
	Status  int
	Code    string
	Message string
}

func (p *Problem) Error() string { return p.Message }

// NewProblem builds a Problem. An empty code falls back to the status default.
func NewProblem(status int, code, message string) *Problem {
	if code == "" {
		code = StatusCode(status)
	}
	return &Problem{Status: status, Code: code, Message: message}
}

// StatusCode returns the default error code for an HTTP status
func StatusCode(status int) string {
	switch status {
	case http.StatusBadRequest:
		return CodeBadRequest
	case http.StatusUnauthorized:
		return CodeUnauthorized
	case http.StatusForbidden:
		return CodeForbidden
	case http.StatusNotFound:
		return CodeNotFound
	case http.StatusConflict:
		return CodeConflict
	case http.StatusRequestEntityTooLarge:
		return CodeTooLarge
	case http.StatusTooManyRequests:
		return CodeRateLimited
	}
	if status >= 500 {
		return CodeInternal
	}
	return CodeBadRequest
}

// WriteJSON encodes data as the response body
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// WriteSuccess is WriteJSON with 200
func WriteSuccess(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusOK, data)
}

// WriteProblem renders p. 5xx messages are replaced so internals never leak.
func WriteProblem(w http.ResponseWriter, p *Problem) {
	msg := p.Message
	if p.Status >= 500 {
		msg = http.StatusText(p.Status)
	}
	_ = WriteJSON(w, p.Status, ErrorResponse{Code: p.Code, Message: msg})
}

// WriteError writes err with the default code for status
func WriteError(w http.ResponseWriter, status int, err error) {
	WriteProblem(w, NewProblem(status, "", err.Error()))
}

// WriteErrorMessage writes message with the default code for status
func WriteErrorMessage(w http.ResponseWriter, status int, message string) {
	WriteProblem(w, NewProblem(status, "", message))
}

func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusBadRequest, message)
}

func WriteUnauthorized(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusUnauthorized, message)
}

func WriteForbidden(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusForbidden, message)
}

func WriteTooManyRequests(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusTooManyRequests, message)
}

// WriteInternalError writes a bare 500
func WriteInternalError(w http.ResponseWriter) {
	WriteErrorMessage(w, http.StatusInternalServerError, "")
}
