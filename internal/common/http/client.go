package http

import (
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
)

// Client is the shared outbound HTTP client for upstream services. Every
// request is traced through an otelhttp transport.
type Client struct {
	httpClient *http.Client
}

// NewClient builds a client with an overall request timeout. A zero timeout
// leaves deadlines to the request context.
func NewClient(timeout time.Duration) *Client {
	return NewClientWithTransport(timeout, http.DefaultTransport)
}

// NewClientWithTransport wraps base in the tracing transport.
func NewClientWithTransport(timeout time.Duration, base http.RoundTripper) *Client {
	if base == nil {
		base = http.DefaultTransport
	}
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: otelhttp.NewTransport(base,
				otelhttp.WithTracerProvider(otel.GetTracerProvider()),
				otelhttp.WithSpanNameFormatter(spanName),
			),
		},
	}
}

func spanName(_ string, r *http.Request) string {
	return "upstream " + r.Method + " " + r.URL.Host
}

func (c *Client) Do(req *http.Request) (*http.Response, error) {
	return c.httpClient.Do(req)
}

