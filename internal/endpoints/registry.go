// Package endpoints maintains the (capability, model) → endpoint-path table
// the pipeline resolves inference URLs from.
//
// The table seeds from a built-in mapping of platform-hosted models. When
// admin credentials are available it can extend itself at runtime by listing
// the tenant's services through the console API; discovered entries are kept
// in a dynamic overlay that never shrinks on a failed refresh and can be
// persisted to disk for warm starts.
package endpoints

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/nulpointcorp/qianfan-go/internal/auth"
	"github.com/nulpointcorp/qianfan-go/internal/backoff"
	"github.com/nulpointcorp/qianfan-go/internal/transport"
	"github.com/nulpointcorp/qianfan-go/pkg/qferr"
)

// Capability tags one platform API family. The tag doubles as the first URL
// segment after the common inference prefix.
type Capability string

const (
	Chat        Capability = "chat"
	Completions Capability = "completions"
	Embeddings  Capability = "embeddings"
	Text2Image  Capability = "text2image"
	Image2Text  Capability = "image2text"
	Reranker    Capability = "reranker"
	Plugin      Capability = "plugin"
)

// Entry maps one model to its endpoint path. Name keeps the display casing;
// lookups go through the lowercased map key.
type Entry struct {
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// Source carries the per-call parameters a refresh needs: the console origin,
// credentials for request signing, the console retry budget, and where to
// persist discoveries. The registry itself holds no configuration so each
// call can bring its own snapshot.
type Source struct {
	ConsoleBaseURL string
	Creds          auth.Credentials
	Retry          backoff.Policy
	CacheDir       string
}

// consoleServicePath is the management route that lists the tenant's hosted
// services. Requires admin-signed requests.
const consoleServicePath = "/v2/service"

const defaultStaleAfter = time.Hour

// Registry is the process-wide endpoint table. Reads take a shared lock;
// refreshes collapse to a single in-flight console call however many
// resolution misses race into one.
type Registry struct {
	client *transport.Client
	auth   *auth.Manager
	logger *slog.Logger

	// staleAfter debounces miss-triggered refreshes: a console attempt
	// (successful or not) suppresses further attempts for this long.
	staleAfter time.Duration
	now        func() time.Time

	mu          sync.RWMutex
	dynamic     map[Capability]map[string]Entry
	lastAttempt time.Time
	loadedDir   string

	group singleflight.Group
}

// NewRegistry builds a Registry that refreshes through client, signing
// console requests via authman.
func NewRegistry(client *transport.Client, authman *auth.Manager, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		client:     client,
		auth:       authman,
		logger:     logger,
		staleAfter: defaultStaleAfter,
		now:        time.Now,
		dynamic:    make(map[Capability]map[string]Entry),
	}
}

// Resolve returns the endpoint path for model under capability. Matching is
// case-insensitive; the built-in table wins over dynamic discoveries so a
// console listing cannot shadow a shipped mapping with something else.
func (r *Registry) Resolve(capability Capability, model string) (string, bool) {
	key := strings.ToLower(model)
	if e, ok := builtinTable[capability][key]; ok {
		return e.Path, true
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.dynamic[capability][key]; ok {
		return e.Path, true
	}
	return "", false
}

// ResolveWithRefresh resolves model, and on a miss attempts a console refresh
// when admin credentials are present and the table has not been refreshed
// within the staleness interval. It returns false when the model stays
// unknown after the attempt.
func (r *Registry) ResolveWithRefresh(ctx context.Context, src Source, capability Capability, model string) (string, bool) {
	r.warmStart(src.CacheDir)
	if path, ok := r.Resolve(capability, model); ok {
		return path, true
	}
	if !src.Creds.HasAccessKeyPair() || !r.stale() {
		return "", false
	}
	if err := r.Refresh(ctx, src); err != nil {
		r.logger.Warn("endpoint refresh failed",
			slog.String("model", model),
			slog.String("error", err.Error()),
		)
		return "", false
	}
	return r.Resolve(capability, model)
}

// Models returns the model names known for capability, built-in plus
// discovered, in display casing, sorted.
func (r *Registry) Models(capability Capability) []string {
	seen := make(map[string]string, len(builtinTable[capability]))
	for key, e := range builtinTable[capability] {
		seen[key] = e.Name
	}
	r.mu.RLock()
	for key, e := range r.dynamic[capability] {
		if _, ok := seen[key]; !ok {
			seen[key] = e.Name
		}
	}
	r.mu.RUnlock()

	names := make([]string, 0, len(seen))
	for _, name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Refresh lists the tenant's services from the console and merges the
// discovered endpoints into the dynamic table. Concurrent calls collapse to
// one console request; a failed refresh leaves the previous table intact.
func (r *Registry) Refresh(ctx context.Context, src Source) error {
	_, err, _ := r.group.Do("refresh", func() (any, error) {
		return nil, r.refresh(ctx, src)
	})
	return err
}

func (r *Registry) stale() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.now().Sub(r.lastAttempt) >= r.staleAfter
}

// serviceItem is one element of the console service listing. URL points at
// the full inference endpoint; the trailing two path segments carry the
// (api-type, endpoint) pair the registry records.
type serviceItem struct {
	Name    string `json:"name"`
	URL     string `json:"url"`
	APIType string `json:"apiType"`
}

type serviceListResponse struct {
	Result struct {
		ServiceList []serviceItem `json:"serviceList"`
	} `json:"result"`
}

func (r *Registry) refresh(ctx context.Context, src Source) error {
	// Any completed attempt, failed included, re-arms the staleness window so
	// a broken console is not hammered on every resolution miss.
	defer func() {
		r.mu.Lock()
		r.lastAttempt = r.now()
		r.mu.Unlock()
	}()

	resp, err := r.listServices(ctx, src)
	if err != nil {
		return err
	}

	var list serviceListResponse
	if err := json.Unmarshal(resp.Body, &list); err != nil {
		return &qferr.MalformedResponseError{Reason: "service list is not JSON"}
	}

	now := r.now()
	merged := 0
	r.mu.Lock()
	for _, item := range list.Result.ServiceList {
		capability, path, ok := tailPath(item.URL)
		if !ok || item.Name == "" {
			continue
		}
		if r.dynamic[capability] == nil {
			r.dynamic[capability] = make(map[string]Entry)
		}
		r.dynamic[capability][strings.ToLower(item.Name)] = Entry{
			Name:      item.Name,
			Path:      path,
			UpdatedAt: now,
		}
		merged++
	}
	r.mu.Unlock()

	r.logger.Debug("endpoint registry refreshed",
		slog.Int("services", len(list.Result.ServiceList)),
		slog.Int("merged", merged),
	)

	if src.CacheDir != "" {
		r.saveDisk(src.CacheDir)
	}
	return nil
}

// listServices issues the signed console call, retrying per the console
// policy on transport failures and console-internal errors.
func (r *Registry) listServices(ctx context.Context, src Source) (*transport.Response, error) {
	var lastErr error
	for attempt := 0; ; attempt++ {
		// A fresh descriptor per attempt: the signature covers the timestamped
		// headers, so a signed request is never reused.
		req := transport.NewRequest(http.MethodPost, src.ConsoleBaseURL, consoleServicePath)
		req.Query.Set("Action", "DescribeServices")
		req.Body = []byte(`{}`)
		req.Headers.Set("Content-Type", "application/json")

		if err := r.auth.Authorize(ctx, src.Creds, req); err != nil {
			return nil, err
		}

		resp, err := r.client.Send(ctx, req)
		switch {
		case err != nil:
			lastErr = err
		case resp.ErrorCode == qferr.ConsoleInternalErrorCode:
			lastErr = &qferr.APIError{StatusCode: resp.StatusCode, Code: resp.ErrorCode, Msg: resp.ErrorMsg}
		case resp.ErrorCode != 0:
			return nil, &qferr.APIError{StatusCode: resp.StatusCode, Code: resp.ErrorCode, Msg: resp.ErrorMsg}
		default:
			return resp, nil
		}

		if ctx.Err() != nil {
			return nil, lastErr
		}
		if src.Retry.Exhausted(attempt + 1) {
			return nil, lastErr
		}
		if err := backoff.Sleep(ctx, src.Retry.Wait(attempt)); err != nil {
			return nil, lastErr
		}
	}
}

// tailPath extracts the trailing /<api-type>/<endpoint> pair from a service
// URL. Items whose URL has fewer than two segments are skipped.
func tailPath(raw string) (Capability, string, bool) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", false
	}
	segs := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(segs) < 2 {
		return "", "", false
	}
	apiType, endpoint := segs[len(segs)-2], segs[len(segs)-1]
	if apiType == "" || endpoint == "" {
		return "", "", false
	}
	return Capability(apiType), "/" + apiType + "/" + endpoint, true
}

// ── Disk persistence ──────────────────────────────────────────────────────────

const cacheFileName = "endpoints.json"

type diskTable struct {
	SavedAt      time.Time                       `json:"saved_at"`
	Capabilities map[Capability]map[string]Entry `json:"capabilities"`
}

// warmStart loads a previously persisted table once per directory. Disk
// entries never override anything already discovered in this process.
func (r *Registry) warmStart(dir string) {
	if dir == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.loadedDir == dir {
		return
	}
	r.loadedDir = dir

	data, err := os.ReadFile(filepath.Join(dir, cacheFileName))
	if err != nil {
		return
	}
	var table diskTable
	if err := json.Unmarshal(data, &table); err != nil {
		r.logger.Warn("ignoring corrupt endpoint cache",
			slog.String("dir", dir),
			slog.String("error", err.Error()),
		)
		return
	}
	for capability, entries := range table.Capabilities {
		if r.dynamic[capability] == nil {
			r.dynamic[capability] = make(map[string]Entry)
		}
		for key, e := range entries {
			if e.Name == "" || e.Path == "" {
				continue
			}
			if _, ok := r.dynamic[capability][key]; !ok {
				r.dynamic[capability][key] = e
			}
		}
	}
}

// saveDisk persists the dynamic table. Failures only log: the cache is an
// optimization, never a source of truth.
func (r *Registry) saveDisk(dir string) {
	r.mu.RLock()
	table := diskTable{
		SavedAt:      r.now(),
		Capabilities: make(map[Capability]map[string]Entry, len(r.dynamic)),
	}
	for capability, entries := range r.dynamic {
		cp := make(map[string]Entry, len(entries))
		for key, e := range entries {
			cp[key] = e
		}
		table.Capabilities[capability] = cp
	}
	r.mu.RUnlock()

	data, err := json.MarshalIndent(table, "", "  ")
	if err != nil {
		return
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		r.logger.Warn("endpoint cache dir", slog.String("error", err.Error()))
		return
	}
	if err := os.WriteFile(filepath.Join(dir, cacheFileName), data, 0o600); err != nil {
		r.logger.Warn("endpoint cache write", slog.String("error", err.Error()))
	}
}
