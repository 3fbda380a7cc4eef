package quake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/Checker-Finance/quake/internal/httpclient"
	"github.com/Checker-Finance/quake/internal/metrics"
)

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// TokenManager caches the bearer token and performs the client-credentials exchange.
// The token and its expiry are always set and cleared together. Concurrent callers
// that find the token missing or expired share a single exchange.
type TokenManager struct {
	logger   *zap.Logger
	exec     *httpclient.Executor
	tokenURL string
	username string
	password string
	now      func() time.Time
	timeout  time.Duration

	mu          sync.RWMutex
	accessToken string
	expiresAt   time.Time

	group singleflight.Group
}

func newTokenManager(logger *zap.Logger, exec *httpclient.Executor, tokenURL, username, password string, now func() time.Time, timeout time.Duration) *TokenManager {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &TokenManager{
		logger:   logger,
		exec:     exec,
		tokenURL: tokenURL,
		username: username,
		password: password,
		now:      now,
		timeout:  timeout,
	}
}

// EnsureValid refreshes the token when it is absent, expired or force is set.
// A token whose expiry is strictly after now is reused without a network call.
func (m *TokenManager) EnsureValid(ctx context.Context, force bool) error {
	_, err := m.ensure(ctx, force)
	return err
}

// Token returns the cached token, if any. It does not check expiry.
func (m *TokenManager) Token() (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.accessToken, m.accessToken != ""
}

func (m *TokenManager) ExpiresAt() (time.Time, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.accessToken == "" {
		return time.Time{}, false
	}
	return m.expiresAt, true
}

// refreshResult is what one shared exchange hands to every waiter. exchanged
// is false when the flight found a valid token and skipped the network.
type refreshResult struct {
	token     string
	exchanged bool
}

// ensure returns the token that was valid at the time of the check so callers
// never read a token that a concurrent refresh has just cleared.
//
// Forced and unforced refreshes share one flight. The exchange is detached from
// the caller that started it and bounded by the client timeout; each waiter
// gives up only on its own ctx. A forced caller that lands on a flight which
// skipped the exchange tries again.
func (m *TokenManager) ensure(ctx context.Context, force bool) (string, error) {
	if !force {
		if tok, ok := m.current(); ok {
			return tok, nil
		}
	}

	for {
		ch := m.group.DoChan("refresh", func() (any, error) {
			if !force {
				if tok, ok := m.current(); ok {
					return refreshResult{token: tok}, nil
				}
			}
			rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.timeout)
			defer cancel()
			tok, err := m.refresh(rctx)
			return refreshResult{token: tok, exchanged: true}, err
		})

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case r := <-ch:
			if r.Err != nil {
				return "", r.Err
			}
			res := r.Val.(refreshResult)
			if force && !res.exchanged {
				continue
			}
			return res.token, nil
		}
	}
}

func (m *TokenManager) current() (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.accessToken != "" && m.expiresAt.After(m.now()) {
		return m.accessToken, true
	}
	return "", false
}

func (m *TokenManager) set(token string, expiresAt time.Time) {
	m.mu.Lock()
	m.accessToken = token
	m.expiresAt = expiresAt
	m.mu.Unlock()
}

func (m *TokenManager) clear() { m.set("", time.Time{}) }

func (m *TokenManager) refresh(ctx context.Context) (string, error) {
	m.clear()

	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("quake auth: build request: %w", err)
	}
	req.SetBasicAuth(m.username, m.password)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := m.exec.Do(ctx, req, "", "auth.token")
	if err != nil {
		metrics.IncAuthRefresh("error")
		return "", err
	}

	if resp.StatusCode != http.StatusOK {
		metrics.IncAuthRefresh("rejected")
		m.logger.Warn("quake.auth.rejected", zap.Int("status", resp.StatusCode))
		return "", &AuthenticationError{StatusCode: resp.StatusCode, Body: resp.Body}
	}

	var tr tokenResponse
	if err := json.Unmarshal(resp.Body, &tr); err != nil {
		metrics.IncAuthRefresh("rejected")
		return "", &AuthenticationError{StatusCode: resp.StatusCode, Body: resp.Body, Err: fmt.Errorf("decode token response: %w", err)}
	}
	if tr.AccessToken == "" {
		metrics.IncAuthRefresh("rejected")
		return "", &AuthenticationError{StatusCode: resp.StatusCode, Body: resp.Body, Err: errors.New("empty access_token")}
	}

	expiresAt := m.now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	m.set(tr.AccessToken, expiresAt)
	metrics.IncAuthRefresh("ok")

	m.logger.Info("quake.auth.token_refreshed",
		zap.Int64("expires_in_sec", tr.ExpiresIn),
		zap.Time("expires_at", expiresAt))

	return tr.AccessToken, nil
}
