// Package bootstrap turns a config.Config into Quake clients for the cmd/ binaries.
package bootstrap

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Checker-Finance/quake/internal/rate"
	intsecrets "github.com/Checker-Finance/quake/internal/secrets"
	"github.com/Checker-Finance/quake/pkg/config"
	"github.com/Checker-Finance/quake/pkg/quake"
	pkgsecrets "github.com/Checker-Finance/quake/pkg/secrets"
)

// DefaultCompany keys the env-sourced secret when QUAKE_COMPANY_ID is unset.
const DefaultCompany = "default"

// Clients resolves credentials per company and builds clients sharing one rate limiter.
type Clients struct {
	cfg      *config.Config
	logger   *zap.Logger
	resolver *intsecrets.Resolver[quake.Credentials]
	rateMgr  *rate.Manager
	stop     chan struct{}
	stopOnce sync.Once
}

// New picks the secrets provider named by cfg.SecretsSource.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Clients, error) {
	var provider pkgsecrets.Provider
	switch cfg.SecretsSource {
	case config.SecretsSourceAWS:
		p, err := pkgsecrets.NewAWSProvider(ctx, cfg.AWSRegion)
		if err != nil {
			return nil, fmt.Errorf("init aws secrets provider: %w", err)
		}
		provider = p
	case config.SecretsSourceEnv:
		provider = EnvProvider(cfg)
	default:
		return nil, fmt.Errorf("unknown secrets source %q", cfg.SecretsSource)
	}
	return NewWithProvider(cfg, logger, provider), nil
}

// NewWithProvider uses the given provider regardless of cfg.SecretsSource.
func NewWithProvider(cfg *config.Config, logger *zap.Logger, provider pkgsecrets.Provider) *Clients {
	if logger == nil {
		logger = zap.NewNop()
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	cache := pkgsecrets.NewCache[quake.Credentials](ttl)
	stop := make(chan struct{})
	if cfg.CleanupFreq > 0 {
		go cache.StartCleaner(cfg.CleanupFreq, stop)
	}

	return &Clients{
		cfg:      cfg,
		logger:   logger,
		resolver: intsecrets.NewCredentialsResolver(logger, cfg.Env, provider, cache),
		rateMgr: rate.NewManager(rate.Config{
			RequestsPerSecond: cfg.QuakeRateRPS,
			Burst:             cfg.QuakeRateBurst,
		}),
		stop: stop,
	}
}

// EnvProvider exposes the QUAKE_* settings as the single secret
// "{env}/{company}/quake", so both sources go through the same resolver.
func EnvProvider(cfg *config.Config) *pkgsecrets.StaticProvider {
	name := fmt.Sprintf("%s/%s/%s", cfg.Env, companyKey(cfg.QuakeCompanyID), intsecrets.Service)
	return pkgsecrets.NewStaticProvider(map[string]map[string]string{
		name: {
			"username":       cfg.QuakeUsername,
			"password":       cfg.QuakePassword,
			"company_id":     cfg.QuakeCompanyID,
			"base_url":       cfg.QuakeAPIEndpoint,
			"webhook_secret": cfg.QuakeWebhookSecret,
		},
	})
}

func companyKey(id string) string {
	if id == "" {
		return DefaultCompany
	}
	return id
}

// Companies returns the configured company, or every company with a secret when all is set.
func (c *Clients) Companies(ctx context.Context, all bool) ([]string, error) {
	if !all {
		return []string{companyKey(c.cfg.QuakeCompanyID)}, nil
	}
	companies, err := c.resolver.DiscoverCompanies(ctx)
	if err != nil {
		return nil, err
	}
	if len(companies) == 0 {
		return nil, fmt.Errorf("no quake secrets found for env %q", c.cfg.Env)
	}
	return companies, nil
}

// Credentials resolves credentials for company. A secret without company_id
// takes the company from its name.
func (c *Clients) Credentials(ctx context.Context, company string) (quake.Credentials, error) {
	creds, err := c.resolver.Resolve(ctx, companyKey(company))
	if err != nil {
		return quake.Credentials{}, err
	}
	if creds.CompanyID == "" && company != "" && company != DefaultCompany {
		creds.CompanyID = company
	}
	return creds, nil
}

// Client resolves credentials for company and builds a quake.Client from them.
func (c *Clients) Client(ctx context.Context, company string) (*quake.Client, error) {
	creds, err := c.Credentials(ctx, company)
	if err != nil {
		return nil, err
	}
	return c.NewClient(creds)
}

// NewClient builds a quake.Client from already resolved credentials.
func (c *Clients) NewClient(creds quake.Credentials) (*quake.Client, error) {
	return quake.New(creds,
		quake.WithLogger(c.logger.Named("quake")),
		quake.WithTimeout(c.cfg.QuakeHTTPTimeout),
		quake.WithRateLimiter(c.rateMgr),
		quake.WithDefaultRegion(c.cfg.QuakeRegion),
	)
}

// Invalidate drops cached credentials for company.
func (c *Clients) Invalidate(company string) {
	c.resolver.Invalidate(companyKey(company))
}

// Close stops the cache cleaner.
func (c *Clients) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
}
