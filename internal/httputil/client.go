package httputil

import (
	"net/http"
	"time"
)

const DefaultTimeout = 30 * time.Second

// NewClient returns an HTTP client with standard timeout configuration.
// A non-empty token is attached to every request as the X-API-Token
// header the data portal uses for rate-limit identification.
func NewClient(token string) *http.Client {
	c := &http.Client{
		Timeout: DefaultTimeout,
	}
	if token != "" {
		c.Transport = &tokenTransport{token: token, base: http.DefaultTransport}
	}
	return c
}

type tokenTransport struct {
	token string
	base  http.RoundTripper
}

func (t *tokenTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	clone.Header.Set("X-API-Token", t.token)
	return t.base.RoundTrip(clone)
}
