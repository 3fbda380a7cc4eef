package quake

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var testEpoch = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{t: testEpoch} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// fakeQuake is an httptest server with a token endpoint plus per-test API routes.
type fakeQuake struct {
	srv *httptest.Server
	mux *http.ServeMux

	authCalls atomic.Int32
	apiCalls  atomic.Int32

	mu        sync.Mutex
	requests  []string
	expiresIn int64
	authCode  int
	authGate  chan struct{}
}

func newFakeQuake(t *testing.T) *fakeQuake {
	t.Helper()
	f := &fakeQuake{mux: http.NewServeMux(), expiresIn: 3600, authCode: http.StatusOK}

	f.mux.HandleFunc("POST /api/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		n := f.authCalls.Add(1)

		f.mu.Lock()
		gate, code, exp := f.authGate, f.authCode, f.expiresIn
		f.mu.Unlock()
		if gate != nil {
			<-gate
		}

		user, pass, ok := r.BasicAuth()
		if !ok || user != "api-user" || pass != "api-pass" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if err := r.ParseForm(); err != nil || r.PostForm.Get("grant_type") != "client_credentials" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if code != http.StatusOK {
			w.WriteHeader(code)
			_, _ = w.Write([]byte(`{"error":"invalid_client"}`))
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"access_token": "tok-" + strconv.Itoa(int(n)),
			"token_type":   "Bearer",
			"expires_in":   exp,
		})
	})

	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/oauth/token" {
			f.apiCalls.Add(1)
			f.mu.Lock()
			f.requests = append(f.requests, r.Method+" "+r.URL.RequestURI())
			f.mu.Unlock()
		}
		f.mux.ServeHTTP(w, r)
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeQuake) handle(pattern string, h http.HandlerFunc) { f.mux.HandleFunc(pattern, h) }

func (f *fakeQuake) totalCalls() int { return int(f.authCalls.Load() + f.apiCalls.Load()) }

func (f *fakeQuake) recorded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.requests...)
}

func (f *fakeQuake) client(t *testing.T, clk *fakeClock, opts ...Option) *Client {
	t.Helper()
	base := []Option{WithLogger(zap.NewNop()), WithHTTPClient(f.srv.Client())}
	if clk != nil {
		base = append(base, WithClock(clk.Now))
	}
	c, err := New(Credentials{
		Username:      "api-user",
		Password:      "api-pass",
		CompanyID:     "company-1",
		BaseURL:       f.srv.URL,
		WebhookSecret: "whsec",
	}, append(base, opts...)...)
	require.NoError(t, err)
	return c
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func assertBearer(t *testing.T, r *http.Request) bool {
	t.Helper()
	return assert.Regexp(t, `^Bearer tok-\d+$`, r.Header.Get("Authorization"))
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": {"application/json"}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}
