// Package api writes the JSON bodies every HTTP surface returns, including
// the error envelope {"error":{code,message,details,request_id}}.
package api

import (
	"encoding/json"
	"net/http"
)

type envelope struct {
	Error body `json:"error"`
}

type body struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
}

// Problem is an error response before it is written. Code is a stable
// machine-readable token; Message is for humans.
type Problem struct {
	Status  int
	Code    string
	Message string
	Details map[string]any
}

// With returns a copy of p carrying one more detail.
func (p Problem) With(key string, v any) Problem {
	d := make(map[string]any, len(p.Details)+1)
	for k, old := range p.Details {
		d[k] = old
	}
	d[key] = v
	p.Details = d
	return p
}

// Fail writes p, stamped with the request id of r.
func Fail(w http.ResponseWriter, r *http.Request, p Problem) {
	WriteJSON(w, p.Status, envelope{Error: body{
		Code:      p.Code,
		Message:   p.Message,
		Details:   p.Details,
		RequestID: RequestID(r.Context()),
	}})
}

func BadRequest(code, message string) Problem {
	return Problem{Status: http.StatusBadRequest, Code: code, Message: message}
}

func Unauthorized(code, message string) Problem {
	return Problem{Status: http.StatusUnauthorized, Code: code, Message: message}
}

func Forbidden(code, message string) Problem {
	return Problem{Status: http.StatusForbidden, Code: code, Message: message}
}

func NotFound(code, message string) Problem {
	return Problem{Status: http.StatusNotFound, Code: code, Message: message}
}

func Conflict(code, message string) Problem {
	return Problem{Status: http.StatusConflict, Code: code, Message: message}
}

// BadGateway reports that a dependency this service relies on failed.
func BadGateway(code, message string) Problem {
	return Problem{Status: http.StatusBadGateway, Code: code, Message: message}
}

func Unavailable(code, message string) Problem {
	return Problem{Status: http.StatusServiceUnavailable, Code: code, Message: message}
}

// Internal hides the cause; log it before calling.
func Internal() Problem {
	return Problem{Status: http.StatusInternalServerError, Code: "INTERNAL", Message: "Internal server error"}
}

// WriteJSON writes v with the given status. Encoding errors after the header
// is sent cannot be reported to the client and are dropped.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
