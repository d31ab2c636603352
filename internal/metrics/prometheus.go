// Package metrics provides the Prometheus instrumentation for the SDK.
//
// All metrics are scoped to a private registry (not the global default) so an
// embedding application's own metrics are never disturbed. The registry is
// exposed through Handler() for applications that want to scrape it.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds all exported metrics.
type Registry struct {
	reg *prometheus.Registry

	// qianfan_requests_total{capability,outcome}
	requestsTotal *prometheus.CounterVec

	// qianfan_request_duration_seconds{capability}
	requestDuration *prometheus.HistogramVec

	// qianfan_attempts_total{capability,outcome}
	attemptsTotal *prometheus.CounterVec

	// qianfan_retries_total{capability,reason}
	retriesTotal *prometheus.CounterVec

	// qianfan_token_refresh_total
	tokenRefreshTotal prometheus.Counter

	// qianfan_endpoint_refresh_total{outcome}
	endpointRefreshTotal *prometheus.CounterVec

	// qianfan_ratelimit_wait_seconds{capability}
	rateLimitWait *prometheus.HistogramVec

	// qianfan_tokens_total{capability,direction}
	tokensTotal *prometheus.CounterVec

	// qianfan_stream_events_total{capability}
	streamEvents *prometheus.CounterVec

	// qianfan_build_info{version}
	buildInfo *prometheus.GaugeVec

	handler http.Handler
}

func New() *Registry {
	reg := prometheus.NewRegistry()

	// Baseline runtime metrics even with a private registry.
	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	r := &Registry{
		reg: reg,

		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "qianfan_requests_total",
				Help: "Total number of SDK calls, by capability and outcome",
			},
			[]string{"capability", "outcome"},
		),

		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "qianfan_request_duration_seconds",
				Help:    "End-to-end SDK call duration in seconds (includes limiter waits and retries)",
				Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30, 60, 120},
			},
			[]string{"capability"},
		),

		attemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "qianfan_attempts_total",
				Help: "Total platform attempts (includes retries)",
			},
			[]string{"capability", "outcome"},
		),

		retriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "qianfan_retries_total",
				Help: "Retries absorbed by the pipeline, by trigger",
			},
			[]string{"capability", "reason"},
		),

		tokenRefreshTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "qianfan_token_refresh_total",
			Help: "Bearer token refreshes forced by token-expiry error codes",
		}),

		endpointRefreshTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "qianfan_endpoint_refresh_total",
				Help: "Endpoint registry refreshes from the console",
			},
			[]string{"outcome"},
		),

		rateLimitWait: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "qianfan_ratelimit_wait_seconds",
				Help:    "Time spent waiting for the client-side rate limiter",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"capability"},
		),

		tokensTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "qianfan_tokens_total",
				Help: "Token usage totals from platform usage fields",
			},
			[]string{"capability", "direction"},
		),

		streamEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "qianfan_stream_events_total",
				Help: "Stream events delivered to callers",
			},
			[]string{"capability"},
		),

		buildInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "qianfan_build_info",
				Help: "Build information",
			},
			[]string{"version"},
		),
	}

	reg.MustRegister(
		r.requestsTotal,
		r.requestDuration,
		r.attemptsTotal,
		r.retriesTotal,
		r.tokenRefreshTotal,
		r.endpointRefreshTotal,
		r.rateLimitWait,
		r.tokensTotal,
		r.streamEvents,
		r.buildInfo,
	)

	r.handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	return r
}

// ObserveRequest records one finished SDK call.
func (r *Registry) ObserveRequest(capability, outcome string, dur time.Duration) {
	r.requestsTotal.WithLabelValues(capability, outcome).Inc()
	r.requestDuration.WithLabelValues(capability).Observe(dur.Seconds())
}

// RecordAttempt records one platform attempt inside a call.
func (r *Registry) RecordAttempt(capability, outcome string) {
	r.attemptsTotal.WithLabelValues(capability, outcome).Inc()
}

// RecordRetry records a retry the pipeline absorbed, labelled by its trigger.
func (r *Registry) RecordRetry(capability, reason string) {
	r.retriesTotal.WithLabelValues(capability, reason).Inc()
}

func (r *Registry) RecordTokenRefresh() { r.tokenRefreshTotal.Inc() }

func (r *Registry) RecordEndpointRefresh(outcome string) {
	r.endpointRefreshTotal.WithLabelValues(outcome).Inc()
}

// ObserveRateLimitWait records time spent blocked in the limiter before the
// first attempt.
func (r *Registry) ObserveRateLimitWait(capability string, dur time.Duration) {
	r.rateLimitWait.WithLabelValues(capability).Observe(dur.Seconds())
}

// AddTokens records metered usage from a response's usage block.
func (r *Registry) AddTokens(capability string, promptTokens, completionTokens int) {
	if promptTokens > 0 {
		r.tokensTotal.WithLabelValues(capability, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		r.tokensTotal.WithLabelValues(capability, "completion").Add(float64(completionTokens))
	}
	if promptTokens+completionTokens > 0 {
		r.tokensTotal.WithLabelValues(capability, "total").Add(float64(promptTokens + completionTokens))
	}
}

func (r *Registry) RecordStreamEvent(capability string) {
	r.streamEvents.WithLabelValues(capability).Inc()
}

func (r *Registry) SetBuildInfo(version string) {
	// Gauge is used so the time series always exists.
	r.buildInfo.WithLabelValues(version).Set(1)
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler { return r.handler }

func (r *Registry) PromRegistry() *prometheus.Registry { return r.reg }
