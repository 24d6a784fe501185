package common

import (
	"net/http"
	"time"
)

type headerTransport struct {
	transport http.RoundTripper
	headers   map[string]string
}

// RoundTrip sets the configured headers on a clone of the request. The clone
// matters because the request's header map might be shared or reused.
func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	for k, v := range t.headers {
		if req.Header.Get(k) == "" {
			req.Header.Set(k, v)
		}
	}
	return t.transport.RoundTrip(req)
}

// HTTPClient returns an http client that attaches the given headers to every
// outgoing request. Callers use this to mimic a known mobile client, since the
// backend expects its usual origin markers on every call.
func HTTPClient(timeout time.Duration, headers map[string]string) *http.Client {
	return &http.Client{
		Transport: &headerTransport{
			transport: http.DefaultTransport,
			headers:   headers,
		},
		Timeout: timeout,
	}
}
