package qianfan

import (
	"net/http"

	"github.com/nulpointcorp/qianfan-go/internal/ratelimit"
)

// Option configures a capability client at construction.
type Option func(*clientOptions)

type clientOptions struct {
	model    string
	endpoint string
	limitKey string

	// config pins a snapshot; nil follows the live global snapshot.
	config *Config

	// hc gives the client a private transport and with it a private token
	// cache, registry and limiter.
	hc *http.Client

	// limits overrides the snapshot's rate-limit parameters for this client.
	limits *ratelimit.Limits
}

// WithModel selects the model whose endpoint the registry resolves. A
// per-request Model field overrides it.
func WithModel(name string) Option {
	return func(o *clientOptions) { o.model = name }
}

// WithEndpoint targets an explicit endpoint name (the last URL segment of a
// service deployment), bypassing the registry. A per-request Endpoint field
// overrides it.
func WithEndpoint(endpoint string) Option {
	return func(o *clientOptions) { o.endpoint = endpoint }
}

// WithLimitKey pins the rate-limit bucket this client draws from. Clients
// sharing a key share the budget.
func WithLimitKey(key string) Option {
	return func(o *clientOptions) { o.limitKey = key }
}

// WithConfig pins a configuration snapshot: the client stops following
// SetConfig updates. The snapshot is copied, so later mutation of cfg has no
// effect.
func WithConfig(cfg *Config) Option {
	return func(o *clientOptions) {
		if cfg == nil {
			o.config = nil
			return
		}
		cp := *cfg
		o.config = &cp
	}
}

// WithHTTPClient runs the client on its own http.Client, isolated from the
// shared transport, token cache, endpoint registry and rate limiter.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *clientOptions) { o.hc = hc }
}

// WithRateLimit overrides the snapshot's rate-limit parameters for this
// client. Zero disables the corresponding bucket.
func WithRateLimit(qps float64, rpm, tpm int) Option {
	return func(o *clientOptions) {
		o.limits = &ratelimit.Limits{QPS: qps, RPM: rpm, TPM: tpm}
	}
}
