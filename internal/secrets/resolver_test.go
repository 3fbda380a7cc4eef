package secrets

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Checker-Finance/quake/pkg/quake"
	pkgsecrets "github.com/Checker-Finance/quake/pkg/secrets"
)

// --- Mock Provider ---

type mockProvider struct {
	secrets     map[string]map[string]string
	secretNames []string
	err         error
	calls       int
}

func (m *mockProvider) GetSecret(_ context.Context, key string) (map[string]string, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	if v, ok := m.secrets[key]; ok {
		return v, nil
	}
	return nil, fmt.Errorf("secret not found: %s", key)
}

func (m *mockProvider) ListSecrets(_ context.Context, _ string) ([]string, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.secretNames, nil
}

func newResolver(p pkgsecrets.Provider) *Resolver[quake.Credentials] {
	return NewCredentialsResolver(zap.NewNop(), "dev", p, pkgsecrets.NewCache[quake.Credentials](5*time.Minute))
}

// --- Tests ---

func TestResolver_CacheHit(t *testing.T) {
	mock := &mockProvider{}
	cache := pkgsecrets.NewCache[quake.Credentials](5 * time.Minute)
	cache.Put("acme|quake", quake.Credentials{Username: "cached", Password: "pw", BaseURL: "https://cached.example.com"})
	r := NewCredentialsResolver(zap.NewNop(), "dev", mock, cache)

	creds, err := r.Resolve(context.Background(), "ACME")
	require.NoError(t, err)
	assert.Equal(t, "cached", creds.Username)
	assert.Equal(t, 0, mock.calls, "should not call provider on cache hit")
}

func TestResolver_CacheMissFetchesAndCaches(t *testing.T) {
	mock := &mockProvider{secrets: map[string]map[string]string{
		"dev/acme/quake": {
			"username":       "api-user",
			"password":       "api-pass",
			"company_id":     "cmp-1",
			"webhook_secret": "whsec",
		},
	}}
	r := newResolver(mock)

	creds, err := r.Resolve(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, "api-user", creds.Username)
	assert.Equal(t, "cmp-1", creds.CompanyID)
	assert.Equal(t, quake.DefaultBaseURL, creds.BaseURL)
	assert.Equal(t, "whsec", creds.WebhookSecret)

	_, err = r.Resolve(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, 1, mock.calls)

	r.Invalidate("acme")
	_, err = r.Resolve(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, 2, mock.calls)
}

func TestResolver_ProviderError(t *testing.T) {
	mock := &mockProvider{err: errors.New("access denied")}
	r := newResolver(mock)

	_, err := r.Resolve(context.Background(), "acme")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access denied")
	assert.Contains(t, err.Error(), "acme")
}

func TestResolver_InvalidSecret(t *testing.T) {
	mock := &mockProvider{secrets: map[string]map[string]string{
		"dev/acme/quake": {"username": "only-user"},
	}}
	r := newResolver(mock)

	_, err := r.Resolve(context.Background(), "acme")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "password is required")
}

func TestResolver_EmptyCompany(t *testing.T) {
	mock := &mockProvider{}
	_, err := newResolver(mock).Resolve(context.Background(), " ")
	require.Error(t, err)
	assert.Equal(t, 0, mock.calls)
}

func TestResolver_SecretName(t *testing.T) {
	r := newResolver(&mockProvider{})
	assert.Equal(t, "dev/acme/quake", r.SecretName("ACME"))
}

func TestResolver_DiscoverCompanies(t *testing.T) {
	mock := &mockProvider{secretNames: []string{
		"dev/acme/quake",
		"dev/globex/quake",
		"dev/acme/mailer",
		"dev/nested/path/quake",
		"prod/initech/quake",
	}}
	companies, err := newResolver(mock).DiscoverCompanies(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"acme", "globex"}, companies)
}

func TestParseCredentials_KeepsExplicitBaseURL(t *testing.T) {
	creds, err := ParseCredentials(map[string]string{
		"username": "u",
		"password": "p",
		"base_url": "https://staging.leadcomplete.test",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://staging.leadcomplete.test", creds.BaseURL)
}
