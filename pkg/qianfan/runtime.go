package qianfan

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/nulpointcorp/qianfan-go/internal/auth"
	"github.com/nulpointcorp/qianfan-go/internal/endpoints"
	"github.com/nulpointcorp/qianfan-go/internal/metrics"
	"github.com/nulpointcorp/qianfan-go/internal/ratelimit"
	"github.com/nulpointcorp/qianfan-go/internal/transport"
)

// runtime bundles the long-lived pieces every pipeline shares: one transport,
// one token cache, one endpoint registry, one rate limiter and one metrics
// registry. Sharing them is what makes the cross-call guarantees hold
// (token refresh collapse, registry staleness debounce, per-key buckets).
type runtime struct {
	transport *transport.Client
	auth      *auth.Manager
	registry  *endpoints.Registry
	limiter   *ratelimit.Limiter
	metrics   *metrics.Registry
}

func newRuntime(hc *http.Client) *runtime {
	log := activeLogger()
	tc := transport.NewClient(hc, log)
	rt := &runtime{
		transport: tc,
		auth:      auth.NewManager(tc, log),
		limiter:   ratelimit.New(log),
		metrics:   metrics.New(),
	}
	rt.registry = endpoints.NewRegistry(tc, rt.auth, log)
	rt.metrics.SetBuildInfo(VersionIndicator)
	return rt
}

var (
	sharedOnce sync.Once
	sharedRT   *runtime
)

// sharedRuntime returns the process-wide runtime, building it on first use.
// Clients constructed with WithHTTPClient get a private runtime instead.
func sharedRuntime() *runtime {
	sharedOnce.Do(func() { sharedRT = newRuntime(nil) })
	return sharedRT
}

// Metrics returns the SDK's private Prometheus registry, for applications
// that gather it into their own exposition endpoint.
func Metrics() *prometheus.Registry {
	return sharedRuntime().metrics.PromRegistry()
}

// MetricsHandler returns an http.Handler serving the SDK metrics in the
// Prometheus exposition format.
func MetricsHandler() http.Handler {
	return sharedRuntime().metrics.Handler()
}

// SetRateLimitRedis switches the SDK rate limiter to a shared Redis store so
// several processes can split one platform quota. Passing nil returns to
// process-local buckets. When Redis is unreachable the limiter allows
// requests instead of failing them.
func SetRateLimitRedis(rdb *redis.Client) {
	sharedRuntime().limiter.SetStore(rdb)
}
