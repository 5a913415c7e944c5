// Package cloudauth provides http.RoundTripper decorators that inject
// credentials for the upstream LiteLLM proxy: static API keys for plain
// deployments and GCP OAuth for proxies behind Cloud Run / IAP.
package cloudauth

import "net/http"

// APIKeyTransport is an http.RoundTripper that injects a static API key
// header on every outbound request. HeaderName is the header to set
// (e.g. "Authorization", "x-litellm-api-key"). Prefix is prepended to
// Key (e.g. "Bearer " for Authorization headers).
type APIKeyTransport struct {
	Key        string
	HeaderName string
	Prefix     string
	Base       http.RoundTripper
}

// NewBearerTransport wraps base with a standard Authorization: Bearer
// header carrying key.
func NewBearerTransport(key string, base http.RoundTripper) *APIKeyTransport {
	return &APIKeyTransport{
		Key:        key,
		HeaderName: "Authorization",
		Prefix:     "Bearer ",
		Base:       base,
	}
}

// RoundTrip clones the request and sets the auth header.
func (t *APIKeyTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	r2 := r.Clone(r.Context())
	r2.Header.Set(t.HeaderName, t.Prefix+t.Key)
	return t.base().RoundTrip(r2)
}

func (t *APIKeyTransport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}
