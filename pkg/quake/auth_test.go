package quake

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureValid_CachedTokenSkipsNetwork(t *testing.T) {
	api := newFakeQuake(t)
	c := api.client(t, newFakeClock())

	require.NoError(t, c.Authenticate(context.Background(), false))
	require.NoError(t, c.Authenticate(context.Background(), false))

	assert.EqualValues(t, 1, api.authCalls.Load())
}

func TestEnsureValid_RefreshSetsExpiryFromExpiresIn(t *testing.T) {
	api := newFakeQuake(t)
	api.expiresIn = 1800
	clk := newFakeClock()
	c := api.client(t, clk)

	_, ok := c.Tokens().Token()
	require.False(t, ok, "no token before first exchange")

	require.NoError(t, c.Authenticate(context.Background(), false))

	tok, ok := c.Tokens().Token()
	require.True(t, ok)
	assert.Equal(t, "tok-1", tok)

	exp, ok := c.Tokens().ExpiresAt()
	require.True(t, ok)
	assert.Equal(t, testEpoch.Add(1800*time.Second), exp)
}

func TestEnsureValid_ExpiredTokenRefreshes(t *testing.T) {
	api := newFakeQuake(t)
	clk := newFakeClock()
	c := api.client(t, clk)

	require.NoError(t, c.Authenticate(context.Background(), false))
	clk.Advance(3599 * time.Second)
	require.NoError(t, c.Authenticate(context.Background(), false))
	assert.EqualValues(t, 1, api.authCalls.Load(), "token still valid one second before expiry")

	// expiresAt == now is no longer valid
	clk.Advance(time.Second)
	require.NoError(t, c.Authenticate(context.Background(), false))
	assert.EqualValues(t, 2, api.authCalls.Load())

	tok, _ := c.Tokens().Token()
	assert.Equal(t, "tok-2", tok)
}

func TestEnsureValid_ForceAlwaysRefreshes(t *testing.T) {
	api := newFakeQuake(t)
	c := api.client(t, newFakeClock())

	require.NoError(t, c.Authenticate(context.Background(), false))
	require.NoError(t, c.Authenticate(context.Background(), true))

	assert.EqualValues(t, 2, api.authCalls.Load())
}

func TestEnsureValid_RejectedExchange(t *testing.T) {
	api := newFakeQuake(t)
	c := api.client(t, newFakeClock())
	require.NoError(t, c.Authenticate(context.Background(), false))

	api.mu.Lock()
	api.authCode = http.StatusUnauthorized
	api.mu.Unlock()

	err := c.Authenticate(context.Background(), true)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAuthentication)

	var authErr *AuthenticationError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, http.StatusUnauthorized, authErr.StatusCode)

	_, ok := c.Tokens().Token()
	assert.False(t, ok, "failed refresh must leave no token behind")
	_, ok = c.Tokens().ExpiresAt()
	assert.False(t, ok)
}

func TestEnsureValid_EmptyAccessToken(t *testing.T) {
	c, err := New(Credentials{Username: "u", Password: "p", BaseURL: "https://quake.test"}, WithHTTPClient(&http.Client{
		Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
			return jsonResponse(http.StatusOK, `{"access_token":"","expires_in":60}`), nil
		}),
	}))
	require.NoError(t, err)

	err = c.Authenticate(context.Background(), false)
	assert.ErrorIs(t, err, ErrAuthentication)
}

func TestEnsureValid_TransportFailure(t *testing.T) {
	dialErr := errors.New("connection refused")
	c, err := New(Credentials{Username: "u", Password: "p", BaseURL: "https://quake.test"}, WithHTTPClient(&http.Client{
		Transport: roundTripFunc(func(*http.Request) (*http.Response, error) { return nil, dialErr }),
	}))
	require.NoError(t, err)

	err = c.Authenticate(context.Background(), false)
	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, http.MethodPost, te.Op)
	assert.Contains(t, te.URL, "/api/oauth/token")
	assert.ErrorIs(t, err, dialErr)
	assert.NotErrorIs(t, err, ErrAuthentication)
}

func TestEnsureValid_ConcurrentCallersShareOneExchange(t *testing.T) {
	api := newFakeQuake(t)
	gate := make(chan struct{})
	api.authGate = gate
	c := api.client(t, newFakeClock())

	const callers = 16
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- c.Authenticate(context.Background(), false)
		}()
	}

	require.Eventually(t, func() bool { return api.authCalls.Load() == 1 }, time.Second, time.Millisecond)
	close(gate)
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	assert.EqualValues(t, 1, api.authCalls.Load())
}

func TestCall_AttachesBearerToken(t *testing.T) {
	api := newFakeQuake(t)
	var got string
	api.handle("GET /api/v1/flows/f-1", func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
		writeJSON(w, http.StatusOK, map[string]any{"id": "f-1"})
	})
	c := api.client(t, newFakeClock())

	_, err := c.ShowFlow(context.Background(), "f-1")
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok-1", got)
}

func TestCall_401IsNotRetried(t *testing.T) {
	api := newFakeQuake(t)
	api.handle("GET /api/v1/flows/f-1", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"message": "token expired"})
	})
	c := api.client(t, newFakeClock())

	_, err := c.ShowFlow(context.Background(), "f-1")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Equal(t, "token expired", apiErr.Message)
	assert.EqualValues(t, 1, api.authCalls.Load())
	assert.EqualValues(t, 1, api.apiCalls.Load())
}

func TestEnsureValid_CancelledCallerDoesNotFailWaiters(t *testing.T) {
	api := newFakeQuake(t)
	gate := make(chan struct{})
	api.authGate = gate
	c := api.client(t, newFakeClock())

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() { first <- c.Authenticate(ctx, false) }()
	require.Eventually(t, func() bool { return api.authCalls.Load() == 1 }, time.Second, time.Millisecond)

	second := make(chan error, 1)
	go func() { second <- c.Authenticate(context.Background(), false) }()

	cancel()
	select {
	case err := <-first:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("cancelled caller kept waiting")
	}

	close(gate)
	select {
	case err := <-second:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("waiter never returned")
	}

	assert.EqualValues(t, 1, api.authCalls.Load())
	tok, ok := c.Tokens().Token()
	require.True(t, ok)
	assert.Equal(t, "tok-1", tok)
}

func TestEnsureValid_UnforcedCallerJoinsForcedRefresh(t *testing.T) {
	api := newFakeQuake(t)
	c := api.client(t, newFakeClock())
	require.NoError(t, c.Authenticate(context.Background(), false))

	gate := make(chan struct{})
	api.mu.Lock()
	api.authGate = gate
	api.mu.Unlock()

	forced := make(chan error, 1)
	go func() { forced <- c.Authenticate(context.Background(), true) }()
	require.Eventually(t, func() bool { return api.authCalls.Load() == 2 }, time.Second, time.Millisecond)

	// the forced exchange has cleared the token, so this caller has to wait for it
	_, ok := c.Tokens().Token()
	require.False(t, ok)

	unforced := make(chan error, 1)
	go func() { unforced <- c.Authenticate(context.Background(), false) }()
	time.Sleep(20 * time.Millisecond)

	close(gate)
	require.NoError(t, <-forced)
	require.NoError(t, <-unforced)

	assert.EqualValues(t, 2, api.authCalls.Load())
	tok, ok := c.Tokens().Token()
	require.True(t, ok)
	assert.Equal(t, "tok-2", tok)
}
