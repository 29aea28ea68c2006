// Package auth obtains bearer tokens from the banking API and caches them per
// (username, scope).
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/punchamoorthee/bankclient/internal/domain"
	"github.com/punchamoorthee/bankclient/internal/metrics"
	"github.com/punchamoorthee/bankclient/internal/retry"
)

// ErrAuthentication is wrapped by every failure to obtain a token.
var ErrAuthentication = errors.New("authentication failed")

const (
	// DefaultLifetime is how long a token is cached. The server issues
	// 60 minute tokens.
	DefaultLifetime = 50 * time.Minute
	// expiryMargin is subtracted from a JWT's own exp claim.
	expiryMargin = 10 * time.Minute
)

type cacheKey struct {
	username string
	scope    string
}

type Option func(*Manager)

// WithClock replaces time.Now for expiry decisions.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithLifetime overrides DefaultLifetime.
func WithLifetime(d time.Duration) Option {
	return func(m *Manager) { m.lifetime = d }
}

// Manager owns one token cache. Managers never share entries.
//
// Concurrent misses on the same key are not collapsed: each caller that finds
// no usable entry performs its own authentication call.
type Manager struct {
	baseURL  string
	engine   *retry.Engine
	log      *zap.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
	lifetime time.Duration

	mu    sync.RWMutex
	cache map[cacheKey]domain.CachedToken
}

// New builds a Manager that authenticates against baseURL through doer.
// Token requests are single-shot; a failure is reported, not retried.
func New(baseURL string, doer retry.Doer, log *zap.Logger, m *metrics.Metrics, opts ...Option) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	if m == nil {
		m = metrics.New(nil)
	}
	mgr := &Manager{
		baseURL:  strings.TrimRight(baseURL, "/"),
		engine:   retry.New(doer, retry.Policy{MaxRetries: 1}, log, m),
		log:      log,
		metrics:  m,
		now:      time.Now,
		lifetime: DefaultLifetime,
		cache:    make(map[cacheKey]domain.CachedToken),
	}
	for _, opt := range opts {
		opt(mgr)
	}
	return mgr
}

// GetToken returns a cached token for (username, scope) when one is present
// and unexpired, unless forceRefresh is set. Otherwise it authenticates and
// caches the result. A failed fetch leaves the cache as it was.
func (m *Manager) GetToken(ctx context.Context, username, password, scope string, forceRefresh bool) (string, error) {
	key := cacheKey{username: username, scope: scope}

	if !forceRefresh {
		if tok, ok := m.lookup(key); ok {
			m.metrics.TokenCache.WithLabelValues(metrics.CacheHit).Inc()
			m.log.Debug("using cached token", zap.String("username", username), zap.String("scope", scope))
			return tok.Token, nil
		}
	}
	m.metrics.TokenCache.WithLabelValues(metrics.CacheMiss).Inc()

	m.log.Info("requesting new token",
		zap.String("username", username),
		zap.String("scope", scope),
		zap.Bool("force_refresh", forceRefresh),
	)
	token, err := m.fetch(ctx, username, password, scope)
	if err != nil {
		m.metrics.TokenCache.WithLabelValues(metrics.CacheError).Inc()
		m.log.Error("could not obtain token",
			zap.String("username", username),
			zap.String("scope", scope),
			zap.Error(err),
		)
		return "", err
	}

	now := m.now()
	entry := domain.CachedToken{
		Token:     token,
		ExpiresAt: m.expiry(token, now),
		Username:  username,
		Scope:     scope,
	}
	m.mu.Lock()
	m.cache[key] = entry
	m.mu.Unlock()

	m.log.Info("obtained token", zap.String("username", username), zap.String("scope", scope), zap.Time("expires_at", entry.ExpiresAt))
	return token, nil
}

func (m *Manager) lookup(key cacheKey) (domain.CachedToken, bool) {
	m.mu.RLock()
	tok, ok := m.cache[key]
	m.mu.RUnlock()
	if !ok || tok.Expired(m.now()) {
		return domain.CachedToken{}, false
	}
	return tok, true
}

type tokenResponse struct {
	Token string `json:"token"`
}

func (m *Manager) fetch(ctx context.Context, username, password, scope string) (string, error) {
	resp, err := m.engine.Do(ctx, retry.Request{
		Method:   http.MethodPost,
		URL:      m.baseURL + "/authToken",
		Endpoint: "/authToken",
		Query:    url.Values{"claim": {scope}},
		Body:     map[string]string{"username": username, "password": password},
	})
	if err != nil {
		return "", fmt.Errorf("%w: user %q scope %q: %w", ErrAuthentication, username, scope, err)
	}

	var out tokenResponse
	if err := resp.JSON(&out); err != nil {
		return "", fmt.Errorf("%w: %w", ErrAuthentication, err)
	}
	if out.Token == "" {
		return "", fmt.Errorf("%w: no token in response", ErrAuthentication)
	}
	return out.Token, nil
}

// expiry is now+lifetime, shortened when the token is a JWT whose own exp
// claim (less a margin) comes sooner.
func (m *Manager) expiry(token string, now time.Time) time.Time {
	expires := now.Add(m.lifetime)

	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return expires
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return expires
	}
	if claimed := exp.Add(-expiryMargin); claimed.Before(expires) {
		return claimed.In(now.Location())
	}
	return expires
}

type validateResponse struct {
	Valid bool `json:"valid"`
}

// ValidateToken asks the server whether token is valid. It does not consult
// or change the cache.
func (m *Manager) ValidateToken(ctx context.Context, token string) bool {
	resp, err := m.engine.Do(ctx, retry.Request{
		Method:   http.MethodPost,
		URL:      m.baseURL + "/auth/validate",
		Endpoint: "/auth/validate",
		Header:   http.Header{"Authorization": {"Bearer " + token}},
	})
	if err != nil {
		m.log.Error("error validating token", zap.Error(err))
		return false
	}
	var out validateResponse
	if err := resp.JSON(&out); err != nil {
		m.log.Error("error validating token", zap.Error(err))
		return false
	}
	m.log.Debug("token validation result", zap.Bool("valid", out.Valid))
	return out.Valid
}

// Cached returns the stored entry for (username, scope), expired or not.
func (m *Manager) Cached(username, scope string) (domain.CachedToken, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tok, ok := m.cache[cacheKey{username: username, scope: scope}]
	return tok, ok
}

// Invalidate drops the entry for (username, scope).
func (m *Manager) Invalidate(username, scope string) {
	m.mu.Lock()
	delete(m.cache, cacheKey{username: username, scope: scope})
	m.mu.Unlock()
}

// ClearCache drops every cached token.
func (m *Manager) ClearCache() {
	m.mu.Lock()
	m.cache = make(map[cacheKey]domain.CachedToken)
	m.mu.Unlock()
	m.log.Debug("token cache cleared")
}
