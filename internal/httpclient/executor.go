package httpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/Checker-Finance/quake/internal/metrics"
	"github.com/Checker-Finance/quake/internal/rate"
)

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Executor handles rate-limited HTTP execution with JSON decoding.
// Requests are attempted exactly once; callers decide whether to retry.
type Executor struct {
	logger         *zap.Logger
	rateMgr        *rate.Manager
	http           *http.Client
	tag            string
	errorHandler   func(status int, body []byte) error
	transportError func(req *http.Request, err error) error
}

// New creates an Executor. errorHandler is called on non-2xx responses to produce a
// service-specific error. If nil, a default error is returned.
func New(
	logger *zap.Logger,
	rateMgr *rate.Manager,
	httpClient *http.Client,
	tag string,
	errorHandler func(status int, body []byte) error,
) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Executor{
		logger:       logger,
		rateMgr:      rateMgr,
		http:         httpClient,
		tag:          tag,
		errorHandler: errorHandler,
	}
}

// OnTransportError sets the wrapper applied when the request never produced a response.
func (e *Executor) OnTransportError(fn func(req *http.Request, err error) error) *Executor {
	e.transportError = fn
	return e
}

// Do sends req and reads the whole body. Non-2xx statuses are returned without error.
// endpoint is a low-cardinality label used for logs and metrics.
func (e *Executor) Do(ctx context.Context, req *http.Request, rateLimitKey, endpoint string) (*Response, error) {
	if e.rateMgr != nil && rateLimitKey != "" {
		if err := e.rateMgr.Wait(ctx, rateLimitKey); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	start := time.Now()
	resp, err := e.http.Do(req.WithContext(ctx))
	if err != nil {
		metrics.IncQuakeRequest(endpoint, req.Method, "error")
		e.logger.Warn(e.tag+".http_failed",
			zap.String("endpoint", endpoint),
			zap.String("method", req.Method),
			zap.String("url", req.URL.String()),
			zap.Error(err))
		if e.transportError != nil {
			return nil, e.transportError(req, err)
		}
		return nil, fmt.Errorf("%s %s %s: %w", e.tag, req.Method, req.URL.Redacted(), err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	metrics.ObserveDuration(metrics.QuakeRequestDuration, start, endpoint, req.Method)
	metrics.IncQuakeRequest(endpoint, req.Method, strconv.Itoa(resp.StatusCode))
	if err != nil {
		if e.transportError != nil {
			return nil, e.transportError(req, err)
		}
		return nil, fmt.Errorf("%s read body: %w", e.tag, err)
	}

	e.logger.Debug(e.tag+".http_done",
		zap.String("endpoint", endpoint),
		zap.String("method", req.Method),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)))

	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}, nil
}

// DoJSON executes req and JSON-decodes a 2xx body into out. An empty body leaves out untouched.
func (e *Executor) DoJSON(ctx context.Context, req *http.Request, rateLimitKey, endpoint string, out any) error {
	resp, err := e.Do(ctx, req, rateLimitKey, endpoint)
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		e.logger.Warn(e.tag+".unexpected_status",
			zap.String("endpoint", endpoint),
			zap.Int("status", resp.StatusCode),
			zap.String("url", req.URL.String()))
		if e.errorHandler != nil {
			return e.errorHandler(resp.StatusCode, resp.Body)
		}
		return fmt.Errorf("%s returned %d", e.tag, resp.StatusCode)
	}

	if out != nil && len(resp.Body) > 0 {
		if err := json.Unmarshal(resp.Body, out); err != nil {
			e.logger.Warn(e.tag+".decode_failed",
				zap.Error(err),
				zap.String("endpoint", endpoint),
				zap.String("url", req.URL.String()))
			return fmt.Errorf("decode failed: %w", err)
		}
	}
	return nil
}
