// Package quake is a client for the Quake (LeadComplete) marketing-automation API.
//
// A Client authenticates with OAuth2 client credentials, caches the bearer token
// until it expires and exposes the contact, flow, flow-instance and entity
// resources. List operations return lazy iter.Seq2 sequences that fetch one page
// at a time. Webhook verification lives on Verifier and needs no network access.
package quake

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Checker-Finance/quake/internal/httpclient"
	"github.com/Checker-Finance/quake/internal/rate"
)

const (
	DefaultBaseURL = "https://www.leadcomplete.co.uk"
	DefaultTimeout = 10 * time.Second
	DefaultRegion  = "GB"

	tokenPath = "/api/oauth/token"
	apiPrefix = "/api/v1"
)

// Credentials configure a Client. CompanyID and WebhookSecret are optional.
type Credentials struct {
	Username      string `json:"username"`
	Password      string `json:"password"`
	CompanyID     string `json:"company_id"`
	BaseURL       string `json:"base_url"`
	WebhookSecret string `json:"webhook_secret"`
}

// Validate checks the fields needed to authenticate.
func (c Credentials) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Username) == "" {
		errs = append(errs, errors.New("username is required"))
	}
	if strings.TrimSpace(c.Password) == "" {
		errs = append(errs, errors.New("password is required"))
	}
	if strings.TrimSpace(c.BaseURL) == "" {
		errs = append(errs, errors.New("base url is required"))
	} else if u, err := url.Parse(c.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("base url %q is not an absolute url", c.BaseURL))
	}
	if len(errs) > 0 {
		return fmt.Errorf("quake: invalid credentials: %w", errors.Join(errs...))
	}
	return nil
}

// Option customises a Client.
type Option func(*Client)

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithHTTPClient replaces the default client. Its own Timeout is used as-is.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithRateLimiter throttles resource calls per company ID.
func WithRateLimiter(m *rate.Manager) Option {
	return func(c *Client) { c.rateMgr = m }
}

func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// WithDefaultRegion sets the region used to interpret national telephone numbers.
func WithDefaultRegion(region string) Option {
	return func(c *Client) { c.region = strings.ToUpper(strings.TrimSpace(region)) }
}

// Client talks to one Quake account. It is safe for concurrent use.
type Client struct {
	creds  Credentials
	logger *zap.Logger

	httpClient *http.Client
	timeout    time.Duration
	rateMgr    *rate.Manager
	now        func() time.Time
	region     string

	mu        sync.RWMutex
	companyID string

	exec    *httpclient.Executor
	tokens  *TokenManager
	apiBase string
}

// New builds a Client. An empty BaseURL falls back to DefaultBaseURL.
func New(creds Credentials, opts ...Option) (*Client, error) {
	if strings.TrimSpace(creds.BaseURL) == "" {
		creds.BaseURL = DefaultBaseURL
	}
	creds.BaseURL = strings.TrimRight(strings.TrimSpace(creds.BaseURL), "/")
	if err := creds.Validate(); err != nil {
		return nil, err
	}

	c := &Client{
		creds:     creds,
		logger:    zap.NewNop(),
		timeout:   DefaultTimeout,
		now:       time.Now,
		region:    DefaultRegion,
		companyID: creds.CompanyID,
		apiBase:   creds.BaseURL + apiPrefix,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: c.timeout}
	}
	if c.region == "" {
		c.region = DefaultRegion
	}

	c.exec = httpclient.New(c.logger, c.rateMgr, c.httpClient, "quake", newAPIError).
		OnTransportError(func(req *http.Request, err error) error {
			return &TransportError{Op: req.Method, URL: req.URL.Redacted(), Err: err}
		})
	c.tokens = newTokenManager(c.logger, c.exec, creds.BaseURL+tokenPath, creds.Username, creds.Password, c.now, c.timeout)

	return c, nil
}

// SetCompanyID changes the default company used when creating contacts.
func (c *Client) SetCompanyID(id string) {
	c.mu.Lock()
	c.companyID = id
	c.mu.Unlock()
}

func (c *Client) CompanyID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.companyID
}

// Authenticate makes sure a usable bearer token is cached. force discards the
// current token first; use it after a 401 before retrying a call.
func (c *Client) Authenticate(ctx context.Context, force bool) error {
	return c.tokens.EnsureValid(ctx, force)
}

// Tokens exposes the token cache for inspection.
func (c *Client) Tokens() *TokenManager { return c.tokens }

// Webhooks returns a Verifier bound to the configured webhook secret.
func (c *Client) Webhooks() *Verifier {
	return NewVerifier(c.creds.WebhookSecret, WithVerifierClock(c.now), WithVerifierLogger(c.logger))
}
