package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// apiError is the OpenAI-compatible error body:
// {"error": {"message", "type", "param", "code"}}.
type apiError struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Param   string `json:"param,omitempty"`
	Code    string `json:"code,omitempty"`
}

func errUnauthorized(msg string) apiError {
	return apiError{Error: errorDetail{Message: msg, Type: "authentication_error", Code: "invalid_api_key"}}
}

func errRateLimited(msg string) apiError {
	return apiError{Error: errorDetail{Message: msg, Type: "rate_limit_error", Code: "rate_limit_exceeded"}}
}

func errServiceUnavailable(msg string) apiError {
	return apiError{Error: errorDetail{Message: msg, Type: "server_error", Code: "service_unavailable"}}
}

func errInvalidRequest(msg string) apiError {
	return apiError{Error: errorDetail{Message: msg, Type: "invalid_request_error"}}
}

// errUpstream wraps an upstream HTTP error body. No code: the message is
// the raw upstream payload and carries whatever detail the proxy gave us.
func errUpstream(msg string) apiError {
	return apiError{Error: errorDetail{Message: msg, Type: "upstream_error"}}
}

func errServer(msg string) apiError {
	return apiError{Error: errorDetail{Message: msg, Type: "server_error"}}
}

// jsonCT is a pre-allocated header value slice. Direct map assignment
// (w.Header()["Content-Type"] = jsonCT) avoids the []string{v} alloc
// that Header.Set creates on every call. Saves 1 alloc/req.
var jsonCT = []string{"application/json"}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header()["Content-Type"] = jsonCT
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
