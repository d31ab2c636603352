package qianfan

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nulpointcorp/qianfan-go/pkg/qferr"
)

// platformServer fakes the platform origin: the oauth token endpoint, the
// console service listing, and a test-supplied inference handler mounted
// under the inference prefix. Every inference request is recorded.
type platformServer struct {
	*httptest.Server

	tokenHits   atomic.Int32
	consoleHits atomic.Int32

	mu       sync.Mutex
	requests []wireRequest
	console  http.HandlerFunc
}

type wireRequest struct {
	method string
	path   string
	query  url.Values
	auth   string
	body   map[string]any
}

func newPlatform(t *testing.T, inference http.HandlerFunc) *platformServer {
	t.Helper()
	p := &platformServer{}

	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/2.0/token", func(w http.ResponseWriter, r *http.Request) {
		n := p.tokenHits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"access_token":"token-%d","expires_in":2592000}`, n)
	})
	mux.HandleFunc("/v2/service", func(w http.ResponseWriter, r *http.Request) {
		p.consoleHits.Add(1)
		p.mu.Lock()
		h := p.console
		p.mu.Unlock()
		if h == nil {
			http.NotFound(w, r)
			return
		}
		h(w, r)
	})
	mux.HandleFunc(inferencePrefix+"/", func(w http.ResponseWriter, r *http.Request) {
		p.record(r)
		inference(w, r)
	})

	p.Server = httptest.NewServer(mux)
	t.Cleanup(p.Close)
	return p
}

func (p *platformServer) record(r *http.Request) {
	raw, _ := io.ReadAll(r.Body)
	r.Body = io.NopCloser(bytes.NewReader(raw))
	var body map[string]any
	json.Unmarshal(raw, &body)

	p.mu.Lock()
	p.requests = append(p.requests, wireRequest{
		method: r.Method,
		path:   r.URL.Path,
		query:  r.URL.Query(),
		auth:   r.Header.Get("Authorization"),
		body:   body,
	})
	p.mu.Unlock()
}

func (p *platformServer) setConsole(h http.HandlerFunc) {
	p.mu.Lock()
	p.console = h
	p.mu.Unlock()
}

func (p *platformServer) inferenceHits() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

func (p *platformServer) request(t *testing.T, i int) wireRequest {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	if i >= len(p.requests) {
		t.Fatalf("expected at least %d inference requests, got %d", i+1, len(p.requests))
	}
	return p.requests[i]
}

// appConfig is a pinned snapshot with the application key pair, pointed at
// the fake platform.
func appConfig(srv *httptest.Server) *Config {
	return &Config{
		AK:                            "app_ak",
		SK:                            "app_sk",
		BaseURL:                       srv.URL,
		ConsoleBaseURL:                srv.URL,
		IAMBaseURL:                    srv.URL,
		SignExpiration:                300 * time.Second,
		AccessTokenRefreshMinInterval: time.Hour,
		RetryCount:                    1,
		RetryTimeout:                  10 * time.Second,
		ConsoleRetryCount:             1,
		ConsoleRetryTimeout:           10 * time.Second,
		Version:                       VersionIndicator,
	}
}

// adminConfig swaps the application pair for the admin key pair, switching
// inference calls to signed authorization and enabling console access.
func adminConfig(srv *httptest.Server) *Config {
	cfg := appConfig(srv)
	cfg.AK, cfg.SK = "", ""
	cfg.AccessKey, cfg.SecretKey = "admin_ak", "admin_sk"
	return cfg
}

func newChat(cfg *Config, srv *httptest.Server, opts ...Option) *ChatCompletion {
	opts = append(opts, WithConfig(cfg), WithHTTPClient(srv.Client()))
	return NewChatCompletion(opts...)
}

func chatReq(model string) *ChatRequest {
	return &ChatRequest{
		BaseRequest: BaseRequest{Model: model},
		Messages:    []ChatMessage{{Role: RoleUser, Content: "hi"}},
	}
}

func chatJSON(result string) string {
	return fmt.Sprintf(`{"id":"as-0001","object":"chat.completion","created":1719480000,"result":%q,"is_end":true,"usage":{"prompt_tokens":2,"completion_tokens":4,"total_tokens":6}}`, result)
}

func serveChat(result string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, chatJSON(result))
	}
}

func TestChatCompletion_Do(t *testing.T) {
	p := newPlatform(t, serveChat("hello there"))
	chat := newChat(appConfig(p.Server), p.Server)

	resp, err := chat.Do(context.Background(), chatReq("ERNIE-Speed"))
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if resp.Result != "hello there" {
		t.Errorf("expected result %q, got %q", "hello there", resp.Result)
	}
	if resp.Usage.TotalTokens != 6 {
		t.Errorf("expected total_tokens 6, got %d", resp.Usage.TotalTokens)
	}
	if len(resp.Raw) == 0 {
		t.Error("expected the raw body retained on the response")
	}

	req := p.request(t, 0)
	if req.method != http.MethodPost {
		t.Errorf("expected POST, got %s", req.method)
	}
	if want := inferencePrefix + "/chat/ernie_speed"; req.path != want {
		t.Errorf("expected path %s, got %s", want, req.path)
	}
	if got := req.query.Get("access_token"); got != "token-1" {
		t.Errorf("expected access_token token-1, got %q", got)
	}
	if req.auth != "" {
		t.Errorf("expected no authorization header alongside access_token, got %q", req.auth)
	}
	extra, _ := req.body["extra_parameters"].(map[string]any)
	if got := extra["request_source"]; got != VersionIndicator {
		t.Errorf("expected request_source %q, got %v", VersionIndicator, got)
	}
	if _, ok := req.body["stream"]; ok {
		t.Error("non-streaming request must not carry a stream flag")
	}
}

func TestChatCompletion_Do_AdminSignature(t *testing.T) {
	p := newPlatform(t, serveChat("ok"))
	chat := newChat(adminConfig(p.Server), p.Server)

	if _, err := chat.Do(context.Background(), chatReq("ERNIE-Speed")); err != nil {
		t.Fatalf("Do: %v", err)
	}

	req := p.request(t, 0)
	if !strings.HasPrefix(req.auth, "bce-auth-v1/admin_ak/") {
		t.Errorf("expected signed authorization header, got %q", req.auth)
	}
	if req.query.Has("access_token") {
		t.Error("expected no access_token alongside the signature")
	}
	if p.tokenHits.Load() != 0 {
		t.Errorf("expected no token exchange, got %d", p.tokenHits.Load())
	}
}

func TestChatCompletion_Do_PresetToken(t *testing.T) {
	p := newPlatform(t, serveChat("ok"))
	cfg := appConfig(p.Server)
	cfg.AK, cfg.SK = "", ""
	cfg.AccessToken = "preset-token"
	chat := newChat(cfg, p.Server)

	if _, err := chat.Do(context.Background(), chatReq("ERNIE-Speed")); err != nil {
		t.Fatalf("Do: %v", err)
	}

	req := p.request(t, 0)
	if got := req.query.Get("access_token"); got != "preset-token" {
		t.Errorf("expected access_token preset-token, got %q", got)
	}
	if req.auth != "" {
		t.Errorf("expected no authorization header, got %q", req.auth)
	}
	if p.tokenHits.Load() != 0 {
		t.Errorf("expected no token exchange for a preset token, got %d", p.tokenHits.Load())
	}
}

func TestChatCompletion_Do_CredentialsMissing(t *testing.T) {
	p := newPlatform(t, serveChat("unreachable"))
	cfg := appConfig(p.Server)
	cfg.AK, cfg.SK = "", ""
	chat := newChat(cfg, p.Server)

	_, err := chat.Do(context.Background(), chatReq("ERNIE-Speed"))
	if !errors.Is(err, qferr.ErrCredentialsMissing) {
		t.Fatalf("expected ErrCredentialsMissing, got %v", err)
	}
	if p.inferenceHits() != 0 || p.tokenHits.Load() != 0 {
		t.Errorf("expected no network I/O, got %d inference and %d token calls",
			p.inferenceHits(), p.tokenHits.Load())
	}
}

func TestChatCompletion_Do_NoAuth(t *testing.T) {
	p := newPlatform(t, serveChat("ok"))
	cfg := appConfig(p.Server)
	cfg.AK, cfg.SK = "", ""
	cfg.NoAuth = true
	chat := newChat(cfg, p.Server)

	if _, err := chat.Do(context.Background(), chatReq("ERNIE-Speed")); err != nil {
		t.Fatalf("Do: %v", err)
	}
	req := p.request(t, 0)
	if req.query.Has("access_token") || req.auth != "" {
		t.Errorf("expected bare request, got token %q auth %q",
			req.query.Get("access_token"), req.auth)
	}
}

func TestChatCompletion_Do_StaleTokenRefreshedBeforeCall(t *testing.T) {
	p := newPlatform(t, serveChat("ok"))
	cfg := appConfig(p.Server)
	chat := newChat(cfg, p.Server)

	chat.p.rt.auth.StoreToken(credentialsOf(cfg), "stale-token", time.Now().Add(-100*time.Hour))

	if _, err := chat.Do(context.Background(), chatReq("ERNIE-Speed")); err != nil {
		t.Fatalf("Do: %v", err)
	}
	if got := p.request(t, 0).query.Get("access_token"); got != "token-1" {
		t.Errorf("expected the refreshed token on the wire, got %q", got)
	}
	if p.tokenHits.Load() != 1 || p.inferenceHits() != 1 {
		t.Errorf("expected exactly one token and one chat call, got %d and %d",
			p.tokenHits.Load(), p.inferenceHits())
	}
}

func TestChatCompletion_Do_ExpiredTokenRefreshedOnce(t *testing.T) {
	var chat *ChatCompletion
	var cfg *Config
	var hits atomic.Int32

	p := newPlatform(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if hits.Add(1) == 1 {
			// Age the cached token so the refresh is not debounced.
			chat.p.rt.auth.StoreToken(credentialsOf(cfg), "token-1", time.Now().Add(-2*time.Hour))
			io.WriteString(w, `{"error_code":110,"error_msg":"Access token invalid or no longer valid"}`)
			return
		}
		io.WriteString(w, chatJSON("ok"))
	})
	cfg = appConfig(p.Server)
	chat = newChat(cfg, p.Server)

	if _, err := chat.Do(context.Background(), chatReq("ERNIE-Speed")); err != nil {
		t.Fatalf("Do: %v", err)
	}
	if p.inferenceHits() != 2 {
		t.Fatalf("expected 2 inference calls, got %d", p.inferenceHits())
	}
	if got := p.request(t, 1).query.Get("access_token"); got != "token-2" {
		t.Errorf("expected the retry to carry the refreshed token, got %q", got)
	}
	if p.tokenHits.Load() != 2 {
		t.Errorf("expected 2 token exchanges (initial + refresh), got %d", p.tokenHits.Load())
	}
}

func TestChatCompletion_Do_SecondTokenErrorSurfaces(t *testing.T) {
	var chat *ChatCompletion
	var cfg *Config
	var hits atomic.Int32

	p := newPlatform(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if hits.Add(1) == 1 {
			chat.p.rt.auth.StoreToken(credentialsOf(cfg), "token-1", time.Now().Add(-2*time.Hour))
		}
		io.WriteString(w, `{"error_code":110,"error_msg":"Access token invalid or no longer valid"}`)
	})
	cfg = appConfig(p.Server)
	chat = newChat(cfg, p.Server)

	_, err := chat.Do(context.Background(), chatReq("ERNIE-Speed"))
	var apiErr *qferr.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != 110 {
		t.Fatalf("expected APIError code 110, got %v", err)
	}
	if p.inferenceHits() != 2 {
		t.Errorf("expected exactly one restart after the refresh, got %d calls", p.inferenceHits())
	}
}

func TestChatCompletion_Do_DiscoversUnknownModel(t *testing.T) {
	p := newPlatform(t, serveChat("ok"))
	p.setConsole(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"result":{"serviceList":[
			{"name":"ERNIE-99","url":"https://gw.example.com/rpc/2.0/ai_custom/v1/wenxinworkshop/chat/eb99","apiType":"chat"}
		]}}`)
	})
	chat := newChat(adminConfig(p.Server), p.Server)

	if _, err := chat.Do(context.Background(), chatReq("ERNIE-99")); err != nil {
		t.Fatalf("Do: %v", err)
	}
	if p.consoleHits.Load() != 1 {
		t.Errorf("expected 1 console refresh, got %d", p.consoleHits.Load())
	}
	if got, want := p.request(t, 0).path, inferencePrefix+"/chat/eb99"; got != want {
		t.Errorf("expected discovered path %s, got %s", want, got)
	}
}

func TestChatCompletion_Do_UnknownModelFails(t *testing.T) {
	p := newPlatform(t, serveChat("unreachable"))
	p.setConsole(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"result":{"serviceList":[]}}`)
	})
	chat := newChat(adminConfig(p.Server), p.Server)

	_, err := chat.Do(context.Background(), chatReq("ERNIE-99"))
	var ume *qferr.UnsupportedModelError
	if !errors.As(err, &ume) || ume.Model != "ERNIE-99" {
		t.Fatalf("expected UnsupportedModelError for ERNIE-99, got %v", err)
	}
	if p.consoleHits.Load() != 1 {
		t.Errorf("expected 1 console refresh, got %d", p.consoleHits.Load())
	}
	if p.inferenceHits() != 0 {
		t.Errorf("expected no inference call, got %d", p.inferenceHits())
	}
}

func TestChatCompletion_Do_UnknownModelWithoutAdminPair(t *testing.T) {
	p := newPlatform(t, serveChat("unreachable"))
	chat := newChat(appConfig(p.Server), p.Server)

	_, err := chat.Do(context.Background(), chatReq("ERNIE-99"))
	var ume *qferr.UnsupportedModelError
	if !errors.As(err, &ume) {
		t.Fatalf("expected UnsupportedModelError, got %v", err)
	}
	if p.consoleHits.Load() != 0 {
		t.Errorf("expected no console refresh without the admin pair, got %d", p.consoleHits.Load())
	}
}

func TestChatCompletion_Do_RetriesHighLoad(t *testing.T) {
	var hits atomic.Int32
	p := newPlatform(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if hits.Add(1) <= 2 {
			io.WriteString(w, `{"error_code":336100,"error_msg":"the server is under high load"}`)
			return
		}
		io.WriteString(w, chatJSON("ok"))
	})
	cfg := appConfig(p.Server)
	cfg.RetryCount = 3
	cfg.RetryBackoffFactor = 0.02
	cfg.RetryMaxWaitInterval = time.Second
	chat := newChat(cfg, p.Server)

	start := time.Now()
	resp, err := chat.Do(context.Background(), chatReq("ERNIE-Speed"))
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if resp.Result != "ok" {
		t.Errorf("expected result ok, got %q", resp.Result)
	}
	if p.inferenceHits() != 3 {
		t.Errorf("expected 3 attempts, got %d", p.inferenceHits())
	}
	// Two waits: factor*2^0 + factor*2^1.
	if elapsed := time.Since(start); elapsed < 60*time.Millisecond {
		t.Errorf("expected backoff of at least 60ms, elapsed %s", elapsed)
	}
}

func TestChatCompletion_Do_RetryBudgetExhausted(t *testing.T) {
	p := newPlatform(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"error_code":336100,"error_msg":"the server is under high load"}`)
	})
	cfg := appConfig(p.Server)
	cfg.RetryCount = 2
	chat := newChat(cfg, p.Server)

	_, err := chat.Do(context.Background(), chatReq("ERNIE-Speed"))
	var apiErr *qferr.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != 336100 {
		t.Fatalf("expected APIError code 336100, got %v", err)
	}
	if p.inferenceHits() != 2 {
		t.Errorf("expected attempts bounded by retry count 2, got %d", p.inferenceHits())
	}
}

func TestChatCompletion_Do_HTTPStatusRetry(t *testing.T) {
	var hits atomic.Int32
	p := newPlatform(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			io.WriteString(w, `{}`)
			return
		}
		io.WriteString(w, chatJSON("ok"))
	})
	cfg := appConfig(p.Server)
	cfg.RetryCount = 2
	chat := newChat(cfg, p.Server)

	if _, err := chat.Do(context.Background(), chatReq("ERNIE-Speed")); err != nil {
		t.Fatalf("Do: %v", err)
	}
	if p.inferenceHits() != 2 {
		t.Errorf("expected retry on 502, got %d attempts", p.inferenceHits())
	}
}

func TestChatCompletion_Do_ClientErrorIsFatal(t *testing.T) {
	p := newPlatform(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{}`)
	})
	cfg := appConfig(p.Server)
	cfg.RetryCount = 3
	chat := newChat(cfg, p.Server)

	_, err := chat.Do(context.Background(), chatReq("ERNIE-Speed"))
	var apiErr *qferr.APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected APIError with status 400, got %v", err)
	}
	if p.inferenceHits() != 1 {
		t.Errorf("expected no retry on 400, got %d attempts", p.inferenceHits())
	}
}

func TestChatCompletion_Do_MalformedBody(t *testing.T) {
	p := newPlatform(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, "definitely not json")
	})
	chat := newChat(appConfig(p.Server), p.Server)

	_, err := chat.Do(context.Background(), chatReq("ERNIE-Speed"))
	var merr *qferr.MalformedResponseError
	if !errors.As(err, &merr) {
		t.Fatalf("expected MalformedResponseError, got %v", err)
	}
}

func TestChatCompletion_Do_ExplicitEndpoint(t *testing.T) {
	p := newPlatform(t, serveChat("ok"))
	chat := newChat(appConfig(p.Server), p.Server, WithEndpoint("my_deploy"))

	req := &ChatRequest{Messages: []ChatMessage{{Role: RoleUser, Content: "hi"}}}
	if _, err := chat.Do(context.Background(), req); err != nil {
		t.Fatalf("Do: %v", err)
	}
	if got, want := p.request(t, 0).path, inferencePrefix+"/chat/my_deploy"; got != want {
		t.Errorf("expected path %s, got %s", want, got)
	}
	if p.consoleHits.Load() != 0 {
		t.Errorf("expected no registry traffic for an explicit endpoint, got %d", p.consoleHits.Load())
	}
}

func TestChatCompletion_Do_RequestEndpointWins(t *testing.T) {
	p := newPlatform(t, serveChat("ok"))
	chat := newChat(appConfig(p.Server), p.Server, WithEndpoint("client_level"))

	req := &ChatRequest{
		BaseRequest: BaseRequest{Endpoint: "request_level"},
		Messages:    []ChatMessage{{Role: RoleUser, Content: "hi"}},
	}
	if _, err := chat.Do(context.Background(), req); err != nil {
		t.Fatalf("Do: %v", err)
	}
	if got, want := p.request(t, 0).path, inferencePrefix+"/chat/request_level"; got != want {
		t.Errorf("expected path %s, got %s", want, got)
	}
}

func TestChatCompletion_Do_RequestModelWins(t *testing.T) {
	p := newPlatform(t, serveChat("ok"))
	chat := newChat(appConfig(p.Server), p.Server, WithModel("ERNIE-Bot"))

	if _, err := chat.Do(context.Background(), chatReq("ERNIE-Speed")); err != nil {
		t.Fatalf("Do: %v", err)
	}
	if got, want := p.request(t, 0).path, inferencePrefix+"/chat/ernie_speed"; got != want {
		t.Errorf("expected path %s, got %s", want, got)
	}
}

func TestChatCompletion_Do_ExtraParametersPreserved(t *testing.T) {
	p := newPlatform(t, serveChat("ok"))
	chat := newChat(appConfig(p.Server), p.Server)

	req := chatReq("ERNIE-Speed")
	req.ExtraParameters = map[string]any{"disable_trace": true}
	if _, err := chat.Do(context.Background(), req); err != nil {
		t.Fatalf("Do: %v", err)
	}

	extra, _ := p.request(t, 0).body["extra_parameters"].(map[string]any)
	if extra["disable_trace"] != true {
		t.Errorf("expected caller extras preserved, got %v", extra)
	}
	if extra["request_source"] != VersionIndicator {
		t.Errorf("expected request_source seeded next to caller extras, got %v", extra)
	}
}

func TestChatCompletion_Do_CallerRequestSourceKept(t *testing.T) {
	p := newPlatform(t, serveChat("ok"))
	chat := newChat(appConfig(p.Server), p.Server)

	req := chatReq("ERNIE-Speed")
	req.ExtraParameters = map[string]any{"request_source": "custom-pipeline"}
	if _, err := chat.Do(context.Background(), req); err != nil {
		t.Fatalf("Do: %v", err)
	}

	extra, _ := p.request(t, 0).body["extra_parameters"].(map[string]any)
	if extra["request_source"] != "custom-pipeline" {
		t.Errorf("expected caller request_source kept, got %v", extra["request_source"])
	}
}

func TestChatCompletion_Do_RateLimitBudget(t *testing.T) {
	p := newPlatform(t, serveChat("ok"))
	chat := newChat(appConfig(p.Server), p.Server, WithRateLimit(1, 0, 0))

	if _, err := chat.Do(context.Background(), chatReq("ERNIE-Speed")); err != nil {
		t.Fatalf("Do: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := chat.Do(ctx, chatReq("ERNIE-Speed"))
	var rle *qferr.RateLimitError
	if !errors.As(err, &rle) {
		t.Fatalf("expected RateLimitError when the wait exceeds the deadline, got %v", err)
	}
	if p.inferenceHits() != 1 {
		t.Errorf("expected the limited call to stay off the wire, got %d", p.inferenceHits())
	}
}

func TestChatCompletion_Do_NeitherModelNorEndpoint(t *testing.T) {
	p := newPlatform(t, serveChat("unreachable"))
	cfg := appConfig(p.Server)
	chat := &ChatCompletion{p: newPipeline("chat", "", []Option{WithConfig(cfg), WithHTTPClient(p.Server.Client())})}

	_, err := chat.Do(context.Background(), &ChatRequest{Messages: []ChatMessage{{Role: RoleUser, Content: "hi"}}})
	var cerr *qferr.ConfigError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
}

func TestCapabilityDefaultPaths(t *testing.T) {
	p := newPlatform(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"id":"as-1","object":"resp","created":1719480000,"result":"ok","usage":{"prompt_tokens":1,"completion_tokens":1,"total_tokens":2}}`)
	})
	cfg := appConfig(p.Server)
	hc := p.Server.Client()
	ctx := context.Background()
	base := []Option{WithConfig(cfg), WithHTTPClient(hc)}

	cases := []struct {
		name string
		call func() error
		path string
	}{
		{"chat", func() error {
			_, err := NewChatCompletion(base...).Do(ctx, &ChatRequest{Messages: []ChatMessage{{Role: RoleUser, Content: "hi"}}})
			return err
		}, "/chat/eb-instant"},
		{"completion", func() error {
			_, err := NewCompletion(base...).Do(ctx, &CompletionRequest{Prompt: "func main"})
			return err
		}, "/completions/codellama_7b_instruct"},
		{"embedding", func() error {
			_, err := NewEmbedding(base...).Do(ctx, &EmbeddingRequest{Input: []string{"vector me"}})
			return err
		}, "/embeddings/embedding-v1"},
		{"text2image", func() error {
			_, err := NewText2Image(base...).Do(ctx, &Text2ImageRequest{Prompt: "a lighthouse"})
			return err
		}, "/text2image/sd_xl"},
		{"image2text", func() error {
			_, err := NewImage2Text(base...).Do(ctx, &Image2TextRequest{Prompt: "describe", Image: "aGk="})
			return err
		}, "/image2text/fuyu_8b"},
		{"reranker", func() error {
			_, err := NewReranker(base...).Do(ctx, &RerankerRequest{Query: "q", Documents: []string{"d1", "d2"}})
			return err
		}, "/reranker/bce_reranker_base"},
		{"plugin", func() error {
			_, err := NewPlugin(base...).Do(ctx, &PluginRequest{Query: "summarize"})
			return err
		}, "/erniebot/plugin"},
	}
	for i, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.call(); err != nil {
				t.Fatalf("call: %v", err)
			}
			if got, want := p.request(t, i).path, inferencePrefix+tc.path; got != want {
				t.Errorf("expected path %s, got %s", want, got)
			}
		})
	}
}
