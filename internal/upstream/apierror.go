package upstream

import (
	"fmt"
	"io"
	"net/http"
)

// APIError represents an error response from the upstream proxy. The
// status code and body are preserved so the gateway can forward them.
type APIError struct {
	StatusCode int
	Body       string
}

// Error returns a formatted error string including status and body.
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: HTTP %d: %s", upstreamName, e.StatusCode, e.Body)
}

// HTTPStatus returns the status code to surface to the client. Codes
// outside the error range degrade to 502 Bad Gateway.
func (e *APIError) HTTPStatus() int {
	if e.StatusCode >= 400 && e.StatusCode <= 599 {
		return e.StatusCode
	}
	return http.StatusBadGateway
}

// ParseAPIError reads up to 4KB from the response body and returns an
// APIError. The caller remains responsible for closing the body.
func ParseAPIError(resp *http.Response) *APIError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &APIError{StatusCode: resp.StatusCode, Body: string(body)}
}
