// Package core provides the HTTP response envelope and error types shared by
// the API modules.
package core

import (
	"encoding/json"
	"net/http"
)

// Response renders itself to an http.ResponseWriter.
type Response interface {
	Render(w http.ResponseWriter, r *http.Request) error
}

// JSONResponse is the standard JSON envelope.
type JSONResponse struct {
	Data  any          `json:"data,omitempty"`
	Error *ErrorDetail `json:"error,omitempty"`
}

// ErrorDetail contains error information safe to expose to clients.
type ErrorDetail struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

type jsonResponse struct {
	status int
	body   JSONResponse
}

func (j jsonResponse) Render(w http.ResponseWriter, r *http.Request) error {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(j.status)
	return json.NewEncoder(w).Encode(j.body)
}

// JSON creates a 200 JSON response wrapping data.
func JSON(data any) Response {
	return jsonResponse{
		status: http.StatusOK,
		body:   JSONResponse{Data: data},
	}
}

// JSONError creates a JSON error response. HTTPError values map onto their
// status code; anything else becomes a generic 500 so internal reasons stay
// server-side.
func JSONError(err error) Response {
	status := http.StatusInternalServerError
	detail := &ErrorDetail{
		Code:    "internal_server_error",
		Message: "operation failed",
	}

	if httpErr, ok := err.(HTTPError); ok {
		status = httpErr.Code
		detail.Code = httpErr.Key
		detail.Message = http.StatusText(httpErr.Code)
		if httpErr.Message != "" {
			detail.Message = httpErr.Message
		}
	}

	return jsonResponse{
		status: status,
		body:   JSONResponse{Error: detail},
	}
}

// Render writes resp, falling back to a plain 500 if rendering itself fails.
func Render(w http.ResponseWriter, r *http.Request, resp Response) {
	if err := resp.Render(w, r); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}
