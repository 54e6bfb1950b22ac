package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/NERVsystems/osm2vcf/pkg/config"
	"github.com/NERVsystems/osm2vcf/pkg/export"
	"github.com/NERVsystems/osm2vcf/pkg/monitoring"
	"github.com/NERVsystems/osm2vcf/pkg/osm"
	"github.com/NERVsystems/osm2vcf/pkg/server"
	"github.com/NERVsystems/osm2vcf/pkg/tools"
	"github.com/NERVsystems/osm2vcf/pkg/tracing"
	ver "github.com/NERVsystems/osm2vcf/pkg/version"
)

var (
	showVersionFlag bool
	debug           bool
	configPath      string
	userAgent       string
	apiURL          string
	cacheTTL        time.Duration

	// One-shot export
	exportRef string
	outDir    string

	// HTTP transport flags
	enableHTTP    bool
	httpOnly      bool
	httpAddr      string
	httpBaseURL   string
	httpAuthType  string
	httpAuthToken string
	httpRPS       float64
	httpBurst     int

	// Monitoring flags
	enableMonitoring bool
	monitoringAddr   string
	healthInterval   time.Duration
)

func init() {
	flag.BoolVar(&showVersionFlag, "version", false, "Display version information")
	flag.BoolVar(&debug, "debug", false, "Enable debug logging")
	flag.StringVar(&configPath, "config", "", "Path to a YAML configuration file")
	flag.StringVar(&userAgent, "user-agent", "", "User-Agent for OpenStreetMap API requests (overrides config)")
	flag.StringVar(&apiURL, "api-url", "", "OpenStreetMap API base URL (overrides config)")
	flag.DurationVar(&cacheTTL, "cache-ttl", 0, "Keep OpenStreetMap API responses this long (overrides config, 0 keeps the config value)")

	flag.StringVar(&exportRef, "export", "", "Export one object (e.g. way/123) and exit")
	flag.StringVar(&outDir, "out", ".", "Directory for the exported <id>.vcf; \"-\" writes to stdout")

	flag.BoolVar(&enableHTTP, "enable-http", false, "Enable HTTP+SSE transport and the /vcf download endpoint (in addition to stdio)")
	flag.BoolVar(&httpOnly, "http-only", false, "Run HTTP transport only, skip stdio (requires --enable-http)")
	flag.StringVar(&httpAddr, "http-addr", ":7082", "HTTP server address")
	flag.StringVar(&httpBaseURL, "http-base-url", "", "Base URL for HTTP transport (auto-detected if empty)")
	flag.StringVar(&httpAuthType, "http-auth-type", "none", "HTTP authentication type: none, bearer, basic")
	flag.StringVar(&httpAuthToken, "http-auth-token", "", "HTTP authentication token")
	flag.Float64Var(&httpRPS, "http-rps", 10, "Per-client HTTP requests per second (0 disables)")
	flag.IntVar(&httpBurst, "http-burst", 20, "Per-client HTTP burst size")

	flag.BoolVar(&enableMonitoring, "enable-monitoring", true, "Enable Prometheus metrics and the OSM API health monitor")
	flag.StringVar(&monitoringAddr, "monitoring-addr", ":9090", "Monitoring server address")
	flag.DurationVar(&healthInterval, "health-interval", time.Minute, "Interval between OSM API health checks")
}

func main() {
	flag.Parse()

	logLevel := slog.LevelInfo
	if debug {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	if showVersionFlag {
		showVersion(os.Stdout)
		return
	}

	cfg, err := loadConfig(configPath, apiURL, userAgent)
	if err == nil && cacheTTL > 0 {
		cfg.CacheTTL = cacheTTL
		err = cfg.Validate()
	}
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.InitTracing(ctx, ver.BuildVersion)
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
	} else {
		defer func() {
			if err := shutdownTracing(context.Background()); err != nil {
				logger.Error("error shutting down tracing", "error", err)
			}
		}()
		if endpoint := os.Getenv("OTLP_ENDPOINT"); endpoint != "" {
			logger.Info("OpenTelemetry tracing enabled", "endpoint", endpoint)
		}
	}

	client := osm.NewClient(cfg,
		osm.WithMonitoringHooks(monitoring.ClientHooks()),
		osm.WithLogger(logger),
	)
	defer client.Close()
	exporter := export.New(cfg, client, logger)

	if exportRef != "" {
		path, err := runExport(ctx, exporter, exportRef, outDir, os.Stdout)
		client.Close()
		if err != nil {
			fmt.Fprintf(os.Stderr, "osm2vcf: %v\n", err)
			os.Exit(1)
		}
		if path != "" {
			logger.Info("vcard written", "path", path)
		}
		return
	}

	if httpOnly && !enableHTTP {
		logger.Error("--http-only requires --enable-http")
		os.Exit(2)
	}

	logger.Info("starting osm2vcf",
		"version", ver.BuildVersion,
		"log_level", logLevel.String(),
		"api_url", cfg.APIBaseURL,
		"user_agent", cfg.UserAgent,
		"rate_limit", cfg.RateLimit,
		"max_concurrent_fetches", cfg.MaxConcurrentFetches,
		"cache_ttl", cfg.CacheTTL,
		"http_enabled", enableHTTP,
		"monitoring_enabled", enableMonitoring)

	var healthChecker *monitoring.HealthChecker
	if enableMonitoring {
		healthChecker = monitoring.NewHealthChecker(monitoring.ServiceName, ver.BuildVersion)
		defer healthChecker.Shutdown()

		apiMonitor := monitoring.NewConnectionMonitor(tracing.ServiceOSMAPI, healthChecker, client.CheckHealth, healthInterval)
		apiMonitor.Start()
		logger.Info("monitoring osm api", "host", client.Host(), "interval", healthInterval)
		defer apiMonitor.Stop()

		startMetricsServer(ctx, monitoringAddr, logger)
	}

	s := server.NewServer(logger, exporter)

	if enableHTTP {
		startHTTPTransport(ctx, s, exporter, healthChecker, logger)
	}

	switch {
	case !enableHTTP:
		logger.Info("transport_enabled", "type", "stdio", "mode", "blocking")
		if err := s.RunWithContext(ctx); err != nil {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	case httpOnly:
		logger.Info("server_ready", "transports", []string{"http"})
		<-ctx.Done()
	default:
		go func() {
			logger.Info("transport_enabled", "type", "stdio", "mode", "background")
			if err := s.RunWithContext(ctx); err != nil {
				logger.Error("stdio transport error", "error", err)
			}
		}()
		logger.Info("server_ready", "transports", []string{"stdio", "http"})
		<-ctx.Done()
	}

	logger.Info("server stopped")
}

// loadConfig reads the optional file and applies flag overrides
func loadConfig(path, apiURL, userAgent string) (config.Config, error) {
	cfg := config.Default()
	cfg.UserAgent = ver.UserAgent()
	if path != "" {
		loaded, err := config.LoadWithBase(path, cfg)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	}

	if apiURL != "" {
		cfg.APIBaseURL = strings.TrimRight(apiURL, "/")
	}
	if userAgent != "" {
		cfg.UserAgent = userAgent
	}
	return cfg, cfg.Validate()
}

// runExport exports ref and writes <id>.vcf into dir, or the card to stdout
// when dir is "-". It returns the written path.
func runExport(ctx context.Context, exporter tools.Exporter, ref, dir string, stdout io.Writer) (string, error) {
	objRef, err := osm.ParseObjectRef(ref)
	if err != nil {
		return "", err
	}

	result, err := exporter.Export(ctx, objRef)
	if err != nil {
		return "", err
	}
	for _, warning := range result.Warnings {
		slog.Warn("export warning", "object", objRef.String(), "warning", warning)
	}

	if dir == "-" {
		_, err := io.WriteString(stdout, result.Body+"\r\n")
		return "", err
	}

	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("creating output directory: %w", err)
	}
	path := filepath.Join(dir, result.Filename)
	if err := os.WriteFile(path, []byte(result.Body), 0o644); err != nil {
		return "", fmt.Errorf("writing %s: %w", path, err)
	}
	return path, nil
}

// startMetricsServer serves /metrics until ctx is cancelled
func startMetricsServer(ctx context.Context, addr string, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 30 * time.Second,
	}

	go func() {
		logger.Info("starting Prometheus metrics server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("monitoring server error", "error", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown monitoring server", "error", err)
		}
	}()
}

// startHTTPTransport runs the HTTP transport in the background until ctx is cancelled
func startHTTPTransport(ctx context.Context, s *server.Server, exporter tools.Exporter, hc *monitoring.HealthChecker, logger *slog.Logger) {
	transportCfg := server.DefaultHTTPTransportConfig()
	transportCfg.Addr = httpAddr
	transportCfg.BaseURL = httpBaseURL
	transportCfg.AuthType = httpAuthType
	transportCfg.AuthToken = httpAuthToken
	transportCfg.RateLimit = httpRPS
	transportCfg.RateBurst = httpBurst

	transport := server.NewHTTPTransport(s.GetMCPServer(), exporter, transportCfg, logger)
	if hc != nil {
		transport.SetHealthChecker(hc)
		hc.SetTransport(monitoring.TransportInfo{Type: "http", HTTPAddr: httpAddr})
	}

	go func() {
		if err := transport.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP transport error", "error", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := transport.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown HTTP transport", "error", err)
		}
	}()
}

func showVersion(w io.Writer) {
	info := ver.Info()
	fmt.Fprintf(w, "osm2vcf %s (commit %s, built %s, %s)\n",
		info["version"], info["commit"], info["build_date"], info["go_version"])
}
