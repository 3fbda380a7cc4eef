package secrets

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/Checker-Finance/quake/internal/metrics"
	"github.com/Checker-Finance/quake/pkg/quake"
	pkgsecrets "github.com/Checker-Finance/quake/pkg/secrets"
)

// Service is the trailing segment of every Quake secret name.
const Service = "quake"

// Resolver resolves per-company configuration from a secrets Provider,
// caching results locally to reduce API calls. It is generic over the
// resolved type T so the webhook relay and the sync job share it.
//
// Secret naming convention: {env}/{companyID}/{service}
type Resolver[T any] struct {
	logger   *zap.Logger
	env      string
	service  string
	provider pkgsecrets.Provider
	cache    *pkgsecrets.Cache[T]
	parse    func(map[string]string) (T, error)
}

// NewResolver constructs a resolver. parse extracts T from the raw secret map
// and should validate required fields.
func NewResolver[T any](
	logger *zap.Logger,
	env string,
	service string,
	provider pkgsecrets.Provider,
	cache *pkgsecrets.Cache[T],
	parse func(map[string]string) (T, error),
) *Resolver[T] {
	return &Resolver[T]{
		logger:   logger,
		env:      env,
		service:  service,
		provider: provider,
		cache:    cache,
		parse:    parse,
	}
}

// NewCredentialsResolver resolves quake.Credentials from "{env}/{companyID}/quake".
func NewCredentialsResolver(logger *zap.Logger, env string, provider pkgsecrets.Provider, cache *pkgsecrets.Cache[quake.Credentials]) *Resolver[quake.Credentials] {
	return NewResolver(logger, env, Service, provider, cache, ParseCredentials)
}

func (r *Resolver[T]) cacheKey(companyID string) string {
	return strings.ToLower(fmt.Sprintf("%s|%s", companyID, r.service))
}

// SecretName builds the secrets-store key for a company.
func (r *Resolver[T]) SecretName(companyID string) string {
	return strings.ToLower(fmt.Sprintf("%s/%s/%s", r.env, companyID, r.service))
}

// Resolve fetches or returns the cached T for a company.
func (r *Resolver[T]) Resolve(ctx context.Context, companyID string) (T, error) {
	var zero T
	if strings.TrimSpace(companyID) == "" {
		return zero, errors.New("resolve: company id is required")
	}

	key := r.cacheKey(companyID)
	if cfg, ok := r.cache.Get(key); ok {
		metrics.IncCacheHit("hit")
		return cfg, nil
	}
	metrics.IncCacheHit("miss")

	secretName := r.SecretName(companyID)
	secretMap, err := r.provider.GetSecret(ctx, secretName)
	if err != nil {
		r.logger.Warn("secrets.fetch_failed",
			zap.String("key", secretName),
			zap.Error(err))
		return zero, fmt.Errorf("resolve config for company %q: %w", companyID, err)
	}

	cfg, err := r.parse(secretMap)
	if err != nil {
		return zero, fmt.Errorf("parse secret %q: %w", secretName, err)
	}

	r.cache.Put(key, cfg)

	r.logger.Info("secrets.company_config_resolved",
		zap.String("company", companyID),
		zap.String("service", r.service))
	return cfg, nil
}

// Invalidate drops the cached value, forcing the next Resolve to hit the provider.
func (r *Resolver[T]) Invalidate(companyID string) {
	r.cache.Bust(r.cacheKey(companyID))
}

// DiscoverCompanies lists company IDs that have a secret matching "{env}/*/{service}".
func (r *Resolver[T]) DiscoverCompanies(ctx context.Context) ([]string, error) {
	prefix := strings.ToLower(r.env + "/")
	suffix := "/" + r.service

	names, err := r.provider.ListSecrets(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("discover companies: %w", err)
	}

	var companies []string
	for _, name := range names {
		lower := strings.ToLower(name)
		if !strings.HasPrefix(lower, prefix) || !strings.HasSuffix(lower, suffix) {
			continue
		}
		trimmed := strings.TrimSuffix(strings.TrimPrefix(lower, prefix), suffix)
		if trimmed != "" && !strings.Contains(trimmed, "/") {
			companies = append(companies, trimmed)
		}
	}

	r.logger.Info("secrets.companies_discovered",
		zap.Int("count", len(companies)),
		zap.Strings("companies", companies))
	return companies, nil
}

// ParseCredentials reads quake.Credentials from a secret map. company_id and
// webhook_secret are optional; base_url defaults to quake.DefaultBaseURL.
func ParseCredentials(m map[string]string) (quake.Credentials, error) {
	creds := quake.Credentials{
		Username:      strings.TrimSpace(m["username"]),
		Password:      m["password"],
		CompanyID:     strings.TrimSpace(m["company_id"]),
		BaseURL:       strings.TrimSpace(m["base_url"]),
		WebhookSecret: m["webhook_secret"],
	}
	if creds.BaseURL == "" {
		creds.BaseURL = quake.DefaultBaseURL
	}
	if err := creds.Validate(); err != nil {
		return quake.Credentials{}, err
	}
	return creds, nil
}
