package httpclient

import (
	"net/http"
	"time"
)

type options struct {
	requestTimeout  time.Duration
	maxConnsPerHost int
	roundTripper    http.RoundTripper
}

// Option customizes the constructed client.
type Option func(*options)

func newOptions(opts ...Option) *options {
	o := &options{
		requestTimeout:  defaultRequestTimeout,
		maxConnsPerHost: defaultMaxConnsPerHost,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithRequestTimeout sets the total per-request timeout.
func WithRequestTimeout(timeout time.Duration) Option {
	return func(o *options) {
		o.requestTimeout = timeout
	}
}

// WithMaxConnsPerHost caps concurrent connections to a single provider host.
func WithMaxConnsPerHost(n int) Option {
	return func(o *options) {
		o.maxConnsPerHost = n
	}
}

// WithRoundTripper replaces the default transport entirely.
func WithRoundTripper(rt http.RoundTripper) Option {
	return func(o *options) {
		o.roundTripper = rt
	}
}
