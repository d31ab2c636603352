package qianfan

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/nulpointcorp/qianfan-go/internal/auth"
	"github.com/nulpointcorp/qianfan-go/internal/backoff"
	"github.com/nulpointcorp/qianfan-go/internal/endpoints"
	"github.com/nulpointcorp/qianfan-go/internal/ratelimit"
	"github.com/nulpointcorp/qianfan-go/internal/transport"
	"github.com/nulpointcorp/qianfan-go/pkg/qferr"
)

// inferencePrefix is the common URL prefix of every inference endpoint; the
// registry's paths are appended to it.
const inferencePrefix = "/rpc/2.0/ai_custom/v1/wenxinworkshop"

// prepFunc finalizes a request payload once the endpoint path is known: chat
// applies per-endpoint truncation here. It returns the payload to marshal and
// the token estimate the limiter debits.
type prepFunc func(path string) (payload any, estimate int, err error)

// pipeline executes requests for one capability client: resolve the endpoint,
// acquire a rate-limit permit, authorize, send, classify the outcome and
// retry within the budget.
type pipeline struct {
	capability endpoints.Capability
	opts       clientOptions
	rt         *runtime
}

func newPipeline(capability endpoints.Capability, defaultModel string, opts []Option) *pipeline {
	o := clientOptions{model: defaultModel}
	for _, opt := range opts {
		opt(&o)
	}
	rt := sharedRuntime()
	if o.hc != nil {
		rt = newRuntime(o.hc)
	}
	return &pipeline{capability: capability, opts: o, rt: rt}
}

// call is the per-call state: the captured snapshot, the resolved target, the
// marshaled body, and the recovery bookkeeping the classifier consults.
type call struct {
	cfg      *Config
	creds    auth.Credentials
	policy   backoff.Policy
	model    string
	path     string
	body     []byte
	estimate int
	limits   ratelimit.Limits
	limitKey string

	attempt           int
	tokenRefreshed    bool
	endpointRefreshed bool
}

// newCall captures the config snapshot, checks credentials before any I/O,
// resolves the endpoint and marshals the body. stream decides the wire-level
// stream flag.
func (p *pipeline) newCall(ctx context.Context, base *BaseRequest, prep prepFunc, stream bool) (*call, error) {
	cfg := p.opts.config
	if cfg == nil {
		var err error
		if cfg, err = GetConfig(); err != nil {
			return nil, err
		}
	}
	if !cfg.NoAuth && !cfg.HasCredentials() {
		return nil, qferr.ErrCredentialsMissing
	}

	c := &call{
		cfg:   cfg,
		creds: credentialsOf(cfg),
		policy: backoff.Policy{
			Count:   cfg.RetryCount,
			Timeout: cfg.RetryTimeout,
			Factor:  cfg.RetryBackoffFactor,
			MaxWait: cfg.RetryMaxWaitInterval,
		},
	}

	if err := p.resolve(ctx, c, base); err != nil {
		return nil, err
	}

	base.Stream = stream
	payload, estimate, err := prep(c.path)
	if err != nil {
		return nil, err
	}
	c.estimate = estimate

	if c.body, err = buildBody(payload, cfg.Version); err != nil {
		return nil, err
	}

	c.limits = p.limitsOf(cfg)
	c.limitKey = base.LimitKey
	if c.limitKey == "" {
		c.limitKey = p.opts.limitKey
	}
	if c.limitKey == "" {
		c.limitKey = defaultLimitKey(c.creds, c.path)
	}
	return c, nil
}

// resolve picks the endpoint path: an explicit endpoint wins, otherwise the
// model goes through the registry, refreshing it on a miss when possible.
func (p *pipeline) resolve(ctx context.Context, c *call, base *BaseRequest) error {
	endpoint := base.Endpoint
	if endpoint == "" {
		endpoint = p.opts.endpoint
	}
	if endpoint != "" {
		c.path = "/" + string(p.capability) + "/" + endpoint
		return nil
	}

	model := base.Model
	if model == "" {
		model = p.opts.model
	}
	if model == "" {
		return &qferr.ConfigError{Msg: "neither model nor endpoint specified"}
	}
	c.model = model

	path, ok := p.rt.registry.ResolveWithRefresh(ctx, p.registrySource(c.cfg), p.capability, model)
	if !ok {
		return &qferr.UnsupportedModelError{Model: model}
	}
	c.path = path
	return nil
}

func (p *pipeline) registrySource(cfg *Config) endpoints.Source {
	return endpoints.Source{
		ConsoleBaseURL: cfg.ConsoleBaseURL,
		Creds:          credentialsOf(cfg),
		Retry: backoff.Policy{
			Count:   cfg.ConsoleRetryCount,
			Timeout: cfg.ConsoleRetryTimeout,
			Factor:  cfg.ConsoleRetryBackoffFactor,
			MaxWait: cfg.ConsoleRetryMaxWaitInterval,
		},
		CacheDir: cfg.CacheDir,
	}
}

func (p *pipeline) limitsOf(cfg *Config) ratelimit.Limits {
	if p.opts.limits != nil {
		return *p.opts.limits
	}
	return ratelimit.Limits{QPS: cfg.QPSLimit, RPM: cfg.RPMLimit, TPM: cfg.TPMLimit}
}

func credentialsOf(cfg *Config) auth.Credentials {
	return auth.Credentials{
		AccessKey:          cfg.AccessKey,
		SecretKey:          cfg.SecretKey,
		AK:                 cfg.AK,
		SK:                 cfg.SK,
		AccessToken:        cfg.AccessToken,
		SignExpiration:     cfg.SignExpiration,
		RefreshMinInterval: cfg.AccessTokenRefreshMinInterval,
		TokenBaseURL:       cfg.BaseURL,
	}
}

// defaultLimitKey scopes the rate-limit bucket to (credential, endpoint) when
// the caller did not pin one.
func defaultLimitKey(creds auth.Credentials, path string) string {
	id := creds.AccessKey
	if id == "" {
		id = creds.AK
	}
	if id == "" {
		id = creds.AccessToken
	}
	sum := sha256.Sum256([]byte(id + "|" + path))
	return hex.EncodeToString(sum[:])
}

// buildBody marshals the payload and seeds extra_parameters.request_source,
// preserving any caller-supplied extras.
func buildBody(payload any, version string) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, &qferr.InternalError{Msg: "marshal request: " + err.Error()}
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, &qferr.InternalError{Msg: "remarshal request: " + err.Error()}
	}
	extra, _ := m["extra_parameters"].(map[string]any)
	if extra == nil {
		extra = make(map[string]any, 1)
	}
	if _, ok := extra["request_source"]; !ok {
		extra["request_source"] = version
	}
	m["extra_parameters"] = extra
	return json.Marshal(m)
}

// request builds a fresh descriptor for one attempt. Descriptors are never
// reused: the signature covers the timestamped headers.
func (c *call) request() *transport.Request {
	req := transport.NewRequest(http.MethodPost, c.cfg.BaseURL, inferencePrefix+c.path)
	req.Body = c.body
	req.Headers.Set("Content-Type", "application/json")
	req.Headers.Set("Request-Source", c.cfg.Version)
	return req
}

// acquire blocks on the rate limiter, recording the wait.
func (p *pipeline) acquire(ctx context.Context, c *call) error {
	if c.cfg.EnableStressTest || !c.limits.Enabled() {
		return nil
	}
	start := time.Now()
	err := p.rt.limiter.Acquire(ctx, c.limitKey, c.limits, c.estimate)
	p.rt.metrics.ObserveRateLimitWait(string(p.capability), time.Since(start))
	return err
}

// settleTokens reconciles the TPM debit against metered usage. Skipped in
// stress-test mode because nothing was debited.
func (p *pipeline) settleTokens(c *call, usage Usage) {
	if c.cfg.EnableStressTest {
		return
	}
	if usage.TotalTokens > 0 {
		p.rt.limiter.Reconcile(c.limitKey, c.limits, c.estimate, usage.TotalTokens)
	}
}

// release returns the whole estimate after a request that never produced
// usage.
func (p *pipeline) release(c *call) {
	if c.cfg.EnableStressTest {
		return
	}
	p.rt.limiter.Release(c.limitKey, c.limits, c.estimate)
}

// do runs one non-streaming call and decodes the body into out.
func (p *pipeline) do(ctx context.Context, base *BaseRequest, prep prepFunc, out envelope) error {
	started := time.Now()
	err := p.doInner(ctx, base, prep, out)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	p.rt.metrics.ObserveRequest(string(p.capability), outcome, time.Since(started))
	return err
}

func (p *pipeline) doInner(ctx context.Context, base *BaseRequest, prep prepFunc, out envelope) error {
	c, err := p.newCall(ctx, base, prep, false)
	if err != nil {
		return err
	}
	if c.policy.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.policy.Timeout)
		defer cancel()
	}
	if err := p.acquire(ctx, c); err != nil {
		return err
	}

	resp, err := p.send(ctx, c)
	if err != nil {
		p.release(c)
		return err
	}
	if err := decodeInto(resp, out); err != nil {
		return err
	}
	usage := out.usageInfo()
	p.settleTokens(c, usage)
	p.rt.metrics.AddTokens(string(p.capability), usage.PromptTokens, usage.CompletionTokens)
	return nil
}

// send runs the attempt loop for a non-streaming call.
func (p *pipeline) send(ctx context.Context, c *call) (*transport.Response, error) {
	capability := string(p.capability)
	for {
		req := c.request()
		if !c.cfg.NoAuth {
			if err := p.rt.auth.Authorize(ctx, c.creds, req); err != nil {
				return nil, err
			}
		}
		resp, err := p.rt.transport.Send(ctx, req)
		v, reason, aerr := classify(resp, err)
		if v == verdictOK {
			p.rt.metrics.RecordAttempt(capability, "ok")
			return resp, nil
		}
		p.rt.metrics.RecordAttempt(capability, reason)
		if rerr := p.recover(ctx, c, v, reason, aerr); rerr != nil {
			return nil, rerr
		}
	}
}

type verdict int

const (
	verdictOK verdict = iota
	verdictRetry
	verdictRefreshToken
	verdictRefreshEndpoint
	verdictFatal
)

// classify sorts one attempt outcome into the pipeline's recovery paths.
// Exactly one of resp/err is meaningful.
func classify(resp *transport.Response, err error) (verdict, string, error) {
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return verdictFatal, "canceled", err
		}
		var te *qferr.TransportError
		if errors.As(err, &te) {
			return verdictRetry, "network", err
		}
		return verdictFatal, "error", err
	}

	if resp.ErrorCode != 0 {
		apiErr := &qferr.APIError{StatusCode: resp.StatusCode, Code: resp.ErrorCode, Msg: resp.ErrorMsg}
		switch {
		case qferr.TokenRefreshCode(resp.ErrorCode):
			return verdictRefreshToken, "token_expired", apiErr
		case qferr.EndpointRefreshCode(resp.ErrorCode):
			return verdictRefreshEndpoint, "unsupported_endpoint", apiErr
		case qferr.RetryableCode(resp.ErrorCode):
			return verdictRetry, "platform_code", apiErr
		default:
			return verdictFatal, "platform_code", apiErr
		}
	}

	// No platform code: fall back to HTTP status.
	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return verdictRetry, "http_status", &qferr.APIError{StatusCode: resp.StatusCode, Msg: http.StatusText(resp.StatusCode)}
	case resp.StatusCode >= 400:
		return verdictFatal, "http_status", &qferr.APIError{StatusCode: resp.StatusCode, Msg: http.StatusText(resp.StatusCode)}
	}
	return verdictOK, "ok", nil
}

// recover applies the refresh-once rules and the retry budget after a failed
// attempt. A nil return means the loop may try again; refresh paths do not
// consume an attempt.
func (p *pipeline) recover(ctx context.Context, c *call, v verdict, reason string, aerr error) error {
	capability := string(p.capability)
	switch v {
	case verdictRefreshToken:
		if c.tokenRefreshed || !c.creds.HasAKSK() {
			return aerr
		}
		c.tokenRefreshed = true
		p.rt.metrics.RecordTokenRefresh()
		if _, err := p.rt.auth.Refresh(ctx, c.creds); err != nil {
			return err
		}
		p.rt.metrics.RecordRetry(capability, reason)
		return nil

	case verdictRefreshEndpoint:
		if c.endpointRefreshed || c.model == "" || !c.creds.HasAccessKeyPair() {
			return aerr
		}
		c.endpointRefreshed = true
		if err := p.rt.registry.Refresh(ctx, p.registrySource(c.cfg)); err != nil {
			p.rt.metrics.RecordEndpointRefresh("error")
			return aerr
		}
		p.rt.metrics.RecordEndpointRefresh("ok")
		path, ok := p.rt.registry.Resolve(p.capability, c.model)
		if !ok {
			return aerr
		}
		c.path = path
		p.rt.metrics.RecordRetry(capability, reason)
		return nil

	case verdictRetry:
		c.attempt++
		if c.policy.Exhausted(c.attempt) {
			return aerr
		}
		p.rt.metrics.RecordRetry(capability, reason)
		if err := backoff.Sleep(ctx, c.policy.Wait(c.attempt-1)); err != nil {
			return aerr
		}
		return nil

	default:
		return aerr
	}
}
