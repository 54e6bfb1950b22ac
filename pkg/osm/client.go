// Package osm fetches and decodes objects from the OpenStreetMap API.
package osm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	posm "github.com/paulmach/osm"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/NERVsystems/osm2vcf/pkg/cache"
	"github.com/NERVsystems/osm2vcf/pkg/config"
	"github.com/NERVsystems/osm2vcf/pkg/core"
	"github.com/NERVsystems/osm2vcf/pkg/osm/queries"
	"github.com/NERVsystems/osm2vcf/pkg/tracing"
)

// MaxResponseBytes caps a single API response body
const MaxResponseBytes = 32 << 20

// Client talks to one OpenStreetMap API endpoint. It is safe for concurrent
// use; all requests share one rate limiter.
type Client struct {
	baseURL   string
	userAgent string
	timeout   time.Duration
	http      *http.Client
	limiter   *rate.Limiter
	hooks     *MonitoringHooks
	cache     *cache.TTLCache[[]byte]
	logger    *slog.Logger
}

// Option customises a Client
type Option func(*Client)

// WithHTTPClient replaces the pooled HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithLimiter replaces the limiter built from the configuration
func WithLimiter(l *rate.Limiter) Option {
	return func(c *Client) {
		if l != nil {
			c.limiter = l
		}
	}
}

// WithMonitoringHooks installs request hooks
func WithMonitoringHooks(h *MonitoringHooks) Option {
	return func(c *Client) {
		c.hooks = h
	}
}

// WithCache shares a response cache keyed by request path
func WithCache(rc *cache.TTLCache[[]byte]) Option {
	return func(c *Client) {
		c.cache = rc
	}
}

// WithLogger sets the client logger
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient creates a client for cfg.APIBaseURL
func NewClient(cfg config.Config, opts ...Option) *Client {
	c := &Client{
		baseURL:   cfg.APIBaseURL,
		userAgent: cfg.UserAgent,
		timeout:   cfg.RequestTimeout,
		http: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: cfg.MaxConcurrentFetches,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
			Timeout: cfg.RequestTimeout,
		},
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst),
		logger:  slog.Default(),
	}

	if cfg.CacheTTL > 0 {
		c.cache = cache.NewTTLCache[[]byte](cfg.CacheTTL, cfg.CacheTTL, cfg.CacheSize)
	}

	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("service", tracing.ServiceOSMAPI)
	return c
}

// Close releases the response cache janitor
func (c *Client) Close() {
	if c.cache != nil {
		c.cache.Stop()
	}
}

// Fetch performs one GET of path and returns the body, serving it from the
// response cache when one is configured. operation labels the request in
// hooks and spans. Failures come back as FETCH_FAILED naming path. Bodies
// enter the cache only through FetchDocument, once they decode.
func (c *Client) Fetch(ctx context.Context, path, operation string) ([]byte, error) {
	body, _, err := c.fetch(ctx, path, operation, c.cache)
	return body, err
}

// fetch reports whether body came from rc
func (c *Client) fetch(ctx context.Context, path, operation string, rc *cache.TTLCache[[]byte]) (body []byte, cached bool, err error) {
	ctx, span := tracing.StartSpan(ctx, "osm.fetch",
		trace.WithAttributes(
			attribute.String(tracing.AttrServiceName, tracing.ServiceOSMAPI),
			attribute.String(tracing.AttrServiceOperation, operation),
			attribute.String(tracing.AttrHTTPPath, path),
		),
	)
	defer span.End()
	defer func() {
		if err != nil {
			tracing.RecordError(ctx, err)
			tracing.SetStatus(ctx, codes.Error, string(core.CodeOf(err)))
		}
	}()

	if rc != nil {
		hit, ok := rc.Get(path)
		c.hooks.cacheLookup(tracing.ServiceOSMAPI, ok)
		span.SetAttributes(attribute.Bool(tracing.AttrCacheHit, ok))
		if ok {
			c.logger.Debug("cache hit", "path", path, "bytes", len(hit))
			return hit, true, nil
		}
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, false, core.NewError(core.ErrFetchFailed, "invalid request").
			WithStage(core.StageFetch).
			WithRequest(path).
			WithCause(err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/xml")

	c.hooks.request(tracing.ServiceOSMAPI, operation)

	if err := c.wait(ctx); err != nil {
		c.hooks.failed(tracing.ServiceOSMAPI, "rate_limit_wait_error")
		return nil, false, core.NewError(core.ErrFetchFailed, "gave up waiting for rate limiter").
			WithStage(core.StageFetch).
			WithRequest(path).
			WithCause(err)
	}

	start := time.Now()
	resp, err := core.Do(ctx, c.http, req, path)
	duration := time.Since(start)
	c.hooks.response(tracing.ServiceOSMAPI, operation, duration, err == nil)
	if err != nil {
		c.hooks.failed(tracing.ServiceOSMAPI, errorType(err))
		return nil, false, err
	}
	defer resp.Body.Close()

	body, err = io.ReadAll(io.LimitReader(resp.Body, MaxResponseBytes+1))
	if err != nil {
		c.hooks.failed(tracing.ServiceOSMAPI, "read_error")
		return nil, false, core.NewError(core.ErrFetchFailed, "reading response body").
			WithStage(core.StageFetch).
			WithRequest(path).
			WithCause(err)
	}
	if len(body) > MaxResponseBytes {
		c.hooks.failed(tracing.ServiceOSMAPI, "response_too_large")
		return nil, false, core.NewError(core.ErrFetchFailed, fmt.Sprintf("response exceeds %d bytes", MaxResponseBytes)).
			WithStage(core.StageFetch).
			WithRequest(path)
	}

	c.logger.Debug("fetched", "path", path, "bytes", len(body), "duration", duration)
	return body, false, nil
}

// FetchDocument fetches path and decodes it as OSM XML
func (c *Client) FetchDocument(ctx context.Context, path, operation string) (*posm.OSM, error) {
	body, cached, err := c.fetch(ctx, path, operation, c.cache)
	if err != nil {
		return nil, err
	}

	doc, err := Decode(body)
	if err != nil {
		var cerr *core.Error
		if errors.As(err, &cerr) {
			cerr.WithRequest(path)
		}
		return nil, err
	}
	if c.cache != nil && !cached {
		c.cache.Set(path, body)
	}
	return doc, nil
}

// CheckHealth requests the API capabilities document, bypassing the cache
func (c *Client) CheckHealth(ctx context.Context) error {
	if _, _, err := c.fetch(ctx, queries.CapabilitiesPath(), "capabilities", nil); err != nil {
		return fmt.Errorf("osm api health check failed: %w", err)
	}
	return nil
}

// Host returns the API host name, used to label health checks
func (c *Client) Host() string {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return ""
	}
	return u.Host
}

// wait blocks on the shared limiter and records waits in the current span
func (c *Client) wait(ctx context.Context) error {
	if c.limiter.Allow() {
		return nil
	}

	start := time.Now()
	tracing.AddEvent(ctx, "rate_limit_wait",
		trace.WithAttributes(attribute.String(tracing.AttrRateLimitService, tracing.ServiceOSMAPI)),
	)

	err := c.limiter.Wait(ctx)

	waited := time.Since(start)
	tracing.SetAttributes(ctx,
		attribute.String(tracing.AttrRateLimitService, tracing.ServiceOSMAPI),
		attribute.Int64(tracing.AttrRateLimitWaitMs, waited.Milliseconds()),
	)
	c.hooks.rateLimit(tracing.ServiceOSMAPI, waited)
	return err
}

func errorType(err error) string {
	var cerr *core.Error
	if errors.As(err, &cerr) && cerr.StatusCode != 0 {
		return fmt.Sprintf("http_%d", cerr.StatusCode)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	return "request_error"
}
