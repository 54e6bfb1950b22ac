package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/NERVsystems/osm2vcf/pkg/core"
	"github.com/NERVsystems/osm2vcf/pkg/monitoring"
	"github.com/NERVsystems/osm2vcf/pkg/osm"
	"github.com/NERVsystems/osm2vcf/pkg/tools"
	"github.com/NERVsystems/osm2vcf/pkg/vcard"
)

// HTTPTransportConfig holds configuration for the HTTP transport
type HTTPTransportConfig struct {
	Addr           string  `json:"addr"`             // listen address, e.g. ":7082"
	BaseURL        string  `json:"base_url"`         // advertised base URL; derived from the request when empty
	AuthType       string  `json:"auth_type"`        // "bearer", "basic" or "none"
	AuthToken      string  `json:"auth_token"`       // token, or "user:password" for basic
	SSEEndpoint    string  `json:"sse_endpoint"`     // default "/sse"
	MsgEndpoint    string  `json:"msg_endpoint"`     // default "/message"
	RateLimit      float64 `json:"rate_limit"`       // requests per second per IP, 0 disables
	RateBurst      int     `json:"rate_burst"`       // per-IP burst
	MaxRequestSize int64   `json:"max_request_size"` // request body limit in bytes
	TLSCertFile    string  `json:"tls_cert_file"`
	TLSKeyFile     string  `json:"tls_key_file"`
	ForceHTTPS     bool    `json:"force_https"` // redirect plain HTTP to HTTPS
}

// DefaultHTTPTransportConfig returns sensible defaults
func DefaultHTTPTransportConfig() HTTPTransportConfig {
	return HTTPTransportConfig{
		Addr:           ":7082",
		AuthType:       "none",
		SSEEndpoint:    "/sse",
		MsgEndpoint:    "/message",
		RateLimit:      10,
		RateBurst:      20,
		MaxRequestSize: 1 << 20,
	}
}

// HTTPTransport serves MCP over HTTP+SSE next to the vCard download endpoint,
// health probes and Prometheus metrics
type HTTPTransport struct {
	config        HTTPTransportConfig
	logger        *slog.Logger
	exporter      tools.Exporter
	sseServer     *mcpserver.SSEServer
	mux           *http.ServeMux
	httpSrv       *http.Server
	rateLimiter   *RateLimiter
	healthChecker *monitoring.HealthChecker
	mu            sync.RWMutex
	sseStreams    atomic.Int64
}

// NewHTTPTransport creates a new HTTP transport instance
func NewHTTPTransport(mcpServer *mcpserver.MCPServer, exporter tools.Exporter, config HTTPTransportConfig, logger *slog.Logger) *HTTPTransport {
	if logger == nil {
		logger = slog.Default()
	}
	defaults := DefaultHTTPTransportConfig()
	if config.SSEEndpoint == "" {
		config.SSEEndpoint = defaults.SSEEndpoint
	}
	if config.MsgEndpoint == "" {
		config.MsgEndpoint = defaults.MsgEndpoint
	}
	if config.AuthType == "" {
		config.AuthType = "none"
	}
	if config.MaxRequestSize <= 0 {
		config.MaxRequestSize = defaults.MaxRequestSize
	}

	if config.AuthType != "none" && config.AuthToken != "" {
		if err := core.ValidateAuthToken(config.AuthToken); err != nil {
			logger.Warn("weak authentication token detected", "error", err.Error())
		}
	}

	t := &HTTPTransport{
		config:   config,
		logger:   logger,
		exporter: exporter,
		sseServer: mcpserver.NewSSEServer(
			mcpServer,
			mcpserver.WithSSEEndpoint(config.SSEEndpoint),
			mcpserver.WithMessageEndpoint(config.MsgEndpoint),
			mcpserver.WithBaseURL(config.BaseURL),
		),
		mux: http.NewServeMux(),
	}
	if config.RateLimit > 0 {
		t.rateLimiter = NewRateLimiter(rate.Limit(config.RateLimit), config.RateBurst)
	}

	t.setupRoutes()
	return t
}

// SetHealthChecker sets the health checker backing /health, /ready and /live
func (t *HTTPTransport) SetHealthChecker(hc *monitoring.HealthChecker) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.healthChecker = hc
}

func (t *HTTPTransport) setupRoutes() {
	t.mux.HandleFunc("GET /{$}", t.httpsEnforcement(t.handleServiceDiscovery))

	// Probes and metrics skip auth and rate limiting
	t.mux.HandleFunc("/health", t.handleProbe(func(hc *monitoring.HealthChecker) http.HandlerFunc { return hc.HealthHandler() }, "status", "ok"))
	t.mux.HandleFunc("/ready", t.handleProbe(func(hc *monitoring.HealthChecker) http.HandlerFunc { return hc.ReadinessHandler() }, "ready", true))
	t.mux.HandleFunc("/live", t.handleProbe(func(hc *monitoring.HealthChecker) http.HandlerFunc { return hc.LivenessHandler() }, "alive", true))
	t.mux.Handle("/metrics", promhttp.Handler())

	t.mux.Handle(t.config.SSEEndpoint, t.protect(t.countStreams(t.sseServer.SSEHandler())))
	t.mux.Handle(t.config.MsgEndpoint, t.protect(t.sseServer.MessageHandler()))
	t.mux.Handle("GET /vcf/{type}/{id}", t.protect(http.HandlerFunc(t.handleVCard)))
}

// countStreams tracks open SSE streams in the active connections gauge
func (t *HTTPTransport) countStreams(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		monitoring.UpdateActiveConnections("http", "sse", int(t.sseStreams.Add(1)))
		defer func() {
			monitoring.UpdateActiveConnections("http", "sse", int(t.sseStreams.Add(-1)))
		}()
		next.ServeHTTP(w, r)
	})
}

// protect applies HTTPS enforcement, auth and the per-IP limiter
func (t *HTTPTransport) protect(next http.Handler) http.Handler {
	h := t.authMiddleware(next)
	if t.rateLimiter != nil {
		h = t.rateLimiter.Middleware(h)
	}
	return t.httpsEnforcement(h.ServeHTTP)
}

// httpsEnforcement redirects HTTP requests to HTTPS if ForceHTTPS is enabled
func (t *HTTPTransport) httpsEnforcement(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if t.config.ForceHTTPS && r.TLS == nil {
			httpsURL := "https://" + r.Host + r.URL.RequestURI()
			t.logger.Info("redirecting HTTP request to HTTPS",
				"client_ip", getIP(r),
				"redirect_url", httpsURL)
			http.Redirect(w, r, httpsURL, http.StatusMovedPermanently)
			return
		}
		next(w, r)
	}
}

// authMiddleware checks bearer or basic credentials
func (t *HTTPTransport) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if t.config.AuthType == "none" {
			next.ServeHTTP(w, r)
			return
		}

		var result core.AuthResult
		switch t.config.AuthType {
		case "bearer":
			result = core.AuthenticateBearer(r.Header.Get("Authorization"), t.config.AuthToken)
		case "basic":
			username, password, ok := r.BasicAuth()
			if !ok {
				result = core.AuthResult{Error: "missing basic auth credentials"}
			} else {
				result = core.AuthenticateBasic(username, password, t.config.AuthToken)
			}
		default:
			result = core.AuthResult{Error: "unknown auth type"}
		}

		if !result.Authorized {
			t.logger.Warn("authentication failed",
				"remote_addr", getIP(r),
				"path", r.URL.Path,
				"auth_type", t.config.AuthType,
				"error", result.Error,
				"auth_duration", result.Duration)

			if t.config.AuthType == "basic" {
				w.Header().Set("WWW-Authenticate", `Basic realm="osm2vcf"`)
			} else {
				w.Header().Set("WWW-Authenticate", "Bearer")
			}
			if strings.HasPrefix(r.URL.Path, "/vcf/") {
				t.writeError(w, r, core.NewError(core.ErrInvalidInput, "authentication required"), http.StatusUnauthorized)
				return
			}
			t.writeJSONRPCError(w, nil, -32602, "Authentication required")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// handleServiceDiscovery lists the endpoints a client can use
func (t *HTTPTransport) handleServiceDiscovery(w http.ResponseWriter, r *http.Request) {
	baseURL := t.config.BaseURL
	if baseURL == "" {
		scheme := "http"
		if r.TLS != nil || t.config.ForceHTTPS || (t.config.TLSCertFile != "" && t.config.TLSKeyFile != "") {
			scheme = "https"
		}
		baseURL = fmt.Sprintf("%s://%s", scheme, r.Host)
	}

	discovery := map[string]any{
		"service":   ServerName,
		"transport": "HTTP+SSE",
		"endpoints": map[string]string{
			"sse":     baseURL + t.config.SSEEndpoint,
			"message": baseURL + t.config.MsgEndpoint,
			"vcard":   baseURL + "/vcf/{type}/{id}",
		},
		"capabilities": map[string]any{
			"tools": true,
		},
		"auth": map[string]any{
			"required": t.config.AuthType != "none",
		},
	}

	writeJSON(w, http.StatusOK, discovery, t.logger)
}

// handleProbe serves a health checker endpoint, falling back to a static
// answer when no checker is attached
func (t *HTTPTransport) handleProbe(pick func(*monitoring.HealthChecker) http.HandlerFunc, key string, value any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		t.mu.RLock()
		hc := t.healthChecker
		t.mu.RUnlock()

		if hc != nil {
			pick(hc)(w, r)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{key: value}, t.logger)
	}
}

// handleVCard exports /vcf/{type}/{id} as a vCard download
func (t *HTTPTransport) handleVCard(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		t.writeError(w, r, core.NewValidationError(core.ErrInvalidInput,
			fmt.Sprintf("object id %q is not a number", r.PathValue("id"))), 0)
		return
	}

	ref, err := osm.NewObjectRef(r.PathValue("type"), id)
	if err != nil {
		t.writeError(w, r, err, 0)
		return
	}

	result, err := t.exporter.Export(r.Context(), ref)
	if err != nil {
		t.writeError(w, r, err, 0)
		return
	}

	w.Header().Set("Content-Type", vcard.MediaType+"; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
	for _, warning := range result.Warnings {
		w.Header().Add("X-Export-Warning", warning)
	}
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(result.Body)); err != nil {
		t.logger.Error("failed to write vcard", "object", ref.String(), "error", err)
	}
}

// statusFor maps an export error to the HTTP status of the download endpoint
func statusFor(err error) int {
	var cerr *core.Error
	if !errors.As(err, &cerr) {
		return http.StatusInternalServerError
	}

	switch core.ErrorCode(cerr.Code) {
	case core.ErrInvalidInput, core.ErrInvalidParameter:
		return http.StatusBadRequest
	case core.ErrFetchFailed:
		switch cerr.StatusCode {
		case http.StatusNotFound, http.StatusGone:
			return cerr.StatusCode
		case http.StatusTooManyRequests:
			return http.StatusServiceUnavailable
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return http.StatusGatewayTimeout
		}
		return http.StatusBadGateway
	case core.ErrMalformedResponse:
		return http.StatusBadGateway
	case core.ErrRateLimit:
		return http.StatusTooManyRequests
	case core.ErrInsufficientGeometry:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// writeError writes err as a JSON core.Error. A zero status is derived from
// the error code.
func (t *HTTPTransport) writeError(w http.ResponseWriter, r *http.Request, err error, status int) {
	if status == 0 {
		status = statusFor(err)
	}

	var cerr *core.Error
	if !errors.As(err, &cerr) {
		cerr = core.NewError(core.ErrInternalError, err.Error())
	}

	t.logger.Warn("vcard request failed",
		"request_id", requestID(r.Context()),
		"path", r.URL.Path,
		"status", status,
		"error", err)
	writeJSON(w, status, cerr, t.logger)
}

// writeJSONRPCError writes a JSON-RPC error response
func (t *HTTPTransport) writeJSONRPCError(w http.ResponseWriter, id any, code int, message string) {
	writeJSON(w, http.StatusBadRequest, map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"error": map[string]any{
			"code":    code,
			"message": message,
		},
	}, t.logger)
}

func writeJSON(w http.ResponseWriter, status int, body any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Error("failed to encode response", "error", err)
	}
}

// Handler returns the routed mux wrapped in the standard middleware chain
func (t *HTTPTransport) Handler() http.Handler {
	handler := http.Handler(t.mux)
	handler = TracingMiddleware()(handler)
	handler = LoggingMiddleware(t.logger)(handler)
	handler = SecurityHeaders(handler)
	return RequestSizeLimiter(t.config.MaxRequestSize)(handler)
}

// Start begins serving HTTP requests. It blocks until the server stops.
func (t *HTTPTransport) Start() error {
	t.mu.Lock()
	if t.httpSrv != nil {
		t.mu.Unlock()
		return core.NewError(core.ErrInternalError, "HTTP transport already started").
			WithGuidance("Stop the HTTP transport before starting it again.")
	}

	t.httpSrv = &http.Server{
		Addr:              t.config.Addr,
		Handler:           t.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// SSE streams stay open, so no WriteTimeout
		IdleTimeout: 120 * time.Second,
	}
	srv := t.httpSrv
	tls := t.config.TLSCertFile != "" && t.config.TLSKeyFile != ""
	t.mu.Unlock()

	t.logger.Info("starting HTTP transport",
		"addr", t.config.Addr,
		"sse_endpoint", t.config.SSEEndpoint,
		"message_endpoint", t.config.MsgEndpoint,
		"auth_type", t.config.AuthType,
		"tls_enabled", tls,
		"force_https", t.config.ForceHTTPS)

	if tls {
		return srv.ListenAndServeTLS(t.config.TLSCertFile, t.config.TLSKeyFile)
	}
	if t.config.ForceHTTPS {
		t.logger.Warn("HTTPS enforcement enabled without TLS certificates; plain requests will be redirected")
	}
	return srv.ListenAndServe()
}

// Shutdown gracefully stops the HTTP transport
func (t *HTTPTransport) Shutdown(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.rateLimiter != nil {
		t.rateLimiter.Stop()
	}
	if t.httpSrv == nil {
		return nil
	}

	t.logger.Info("shutting down HTTP transport")
	if err := t.sseServer.Shutdown(ctx); err != nil {
		t.logger.Error("failed to shutdown SSE server", "error", err)
	}

	err := t.httpSrv.Shutdown(ctx)
	t.httpSrv = nil
	return err
}

// GetConfig returns the transport configuration
func (t *HTTPTransport) GetConfig() HTTPTransportConfig {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.config
}
