// Package auth produces per-request authorization artifacts for the two
// platform credential regimes: bce-auth-v1 request signatures computed from
// the admin key pair, and bearer tokens exchanged from the application key
// pair and cached per pair.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/nulpointcorp/qianfan-go/internal/transport"
	"github.com/nulpointcorp/qianfan-go/pkg/qferr"
)

// Credentials carries the credential fields of one configuration snapshot.
// Variant precedence in Authorize: admin pair, application pair, preset
// bearer token.
type Credentials struct {
	AccessKey string
	SecretKey string

	AK string
	SK string

	// AccessToken is a pre-minted bearer; used only when neither pair is
	// complete, and never refreshed.
	AccessToken string

	// SignExpiration is the validity window stamped into signatures.
	SignExpiration time.Duration

	// RefreshMinInterval debounces bearer refresh per application pair.
	RefreshMinInterval time.Duration

	// TokenBaseURL is the origin for the bearer exchange endpoint.
	TokenBaseURL string
}

// HasAccessKeyPair reports whether the admin pair is complete.
func (c Credentials) HasAccessKeyPair() bool { return c.AccessKey != "" && c.SecretKey != "" }

// HasAKSK reports whether the application pair is complete.
func (c Credentials) HasAKSK() bool { return c.AK != "" && c.SK != "" }

func (c Credentials) cacheKey() string { return c.AK + ":" + c.SK }

type cachedToken struct {
	token       string
	lastRefresh time.Time
}

// Manager holds the process-wide bearer token cache. A token is refreshed on
// the wire at most once per pair per refresh interval, however many callers
// ask; concurrent refreshes collapse to a single exchange call.
type Manager struct {
	client *transport.Client
	logger *slog.Logger
	now    func() time.Time

	mu     sync.RWMutex
	tokens map[string]cachedToken
	group  singleflight.Group
}

// NewManager builds a Manager that performs token exchanges through client.
func NewManager(client *transport.Client, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		client: client,
		logger: logger,
		now:    time.Now,
		tokens: make(map[string]cachedToken),
	}
}

// Authorize attaches an authorization artifact to req: a bce-auth-v1
// signature for the admin pair, otherwise an access_token query parameter.
// Exactly one artifact ends up on the request. With no usable variant it
// fails with qferr.ErrCredentialsMissing before any network I/O.
func (m *Manager) Authorize(ctx context.Context, creds Credentials, req *transport.Request) error {
	req.Query.Del("access_token")
	req.Headers.Del("Authorization")

	switch {
	case creds.HasAccessKeyPair():
		SignAt(req, creds.AccessKey, creds.SecretKey, creds.SignExpiration, m.now())
		return nil
	case creds.HasAKSK():
		token, err := m.Bearer(ctx, creds)
		if err != nil {
			return err
		}
		req.Query.Set("access_token", token)
		return nil
	case creds.AccessToken != "":
		req.Query.Set("access_token", creds.AccessToken)
		return nil
	default:
		return qferr.ErrCredentialsMissing
	}
}

// Bearer returns the cached token for the application pair, exchanging a
// fresh one when the cache is empty or older than the refresh interval.
func (m *Manager) Bearer(ctx context.Context, creds Credentials) (string, error) {
	if !creds.HasAKSK() {
		return "", qferr.ErrCredentialsMissing
	}
	key := creds.cacheKey()
	if token, ok := m.freshToken(key, creds.RefreshMinInterval); ok {
		return token, nil
	}

	v, err, _ := m.group.Do(key, func() (any, error) {
		// A caller that lost the race reuses the token the winner stored.
		if token, ok := m.freshToken(key, creds.RefreshMinInterval); ok {
			return token, nil
		}
		token, err := m.exchange(ctx, creds)
		if err != nil {
			return nil, err
		}
		m.mu.Lock()
		m.tokens[key] = cachedToken{token: token, lastRefresh: m.now()}
		m.mu.Unlock()
		m.logger.Debug("bearer token refreshed", slog.String("ak", creds.AK))
		return token, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Refresh re-fetches the bearer for the pair. Within the refresh interval it
// returns the cached token instead, so a storm of expired-token responses
// cannot trigger more than one wire exchange.
func (m *Manager) Refresh(ctx context.Context, creds Credentials) (string, error) {
	return m.Bearer(ctx, creds)
}

// StoreToken seeds the cache for a pair. Used to adopt an externally minted
// token and by tests to control staleness.
func (m *Manager) StoreToken(creds Credentials, token string, lastRefresh time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[creds.cacheKey()] = cachedToken{token: token, lastRefresh: lastRefresh}
}

func (m *Manager) freshToken(key string, interval time.Duration) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tok, ok := m.tokens[key]
	if !ok || m.now().Sub(tok.lastRefresh) >= interval {
		return "", false
	}
	return tok.token, true
}

type tokenExchangeResponse struct {
	AccessToken      string `json:"access_token"`
	ExpiresIn        int    `json:"expires_in"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func (m *Manager) exchange(ctx context.Context, creds Credentials) (string, error) {
	req := transport.NewRequest(http.MethodPost, creds.TokenBaseURL, "/oauth/2.0/token")
	req.Query.Set("grant_type", "client_credentials")
	req.Query.Set("client_id", creds.AK)
	req.Query.Set("client_secret", creds.SK)

	resp, err := m.client.Send(ctx, req)
	if err != nil {
		return "", err
	}

	var body tokenExchangeResponse
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return "", &qferr.MalformedResponseError{
			Reason:  "token exchange body is not JSON",
			Snippet: snippet(resp.Body),
		}
	}
	if body.Error != "" {
		return "", &qferr.AuthError{
			Msg: fmt.Sprintf("token exchange rejected: %s: %s", body.Error, body.ErrorDescription),
		}
	}
	if body.AccessToken == "" {
		return "", &qferr.AuthError{
			Msg: fmt.Sprintf("token exchange returned no access_token (http %d)", resp.StatusCode),
		}
	}
	return body.AccessToken, nil
}

func snippet(body []byte) string {
	const max = 120
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}
