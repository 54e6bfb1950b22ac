package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/NERVsystems/osm2vcf/pkg/tracing"
)

// DefaultClient provides a pre-configured HTTP client with secure defaults
var DefaultClient = &http.Client{
	Timeout: 30 * time.Second,
	Transport: &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	},
}

// Do performs a single HTTP request inside a tracing span. There is no retry:
// a transport error or any non-2xx status is returned as FETCH_FAILED naming
// request, or the URL path when request is empty. On success the caller owns
// the response body.
func Do(ctx context.Context, client *http.Client, req *http.Request, request string) (*http.Response, error) {
	if client == nil {
		client = DefaultClient
	}
	if request == "" {
		request = req.URL.Path
	}

	spanName := fmt.Sprintf("http.request %s %s", req.Method, req.URL.Path)
	ctx, span := tracing.StartSpan(ctx, spanName,
		trace.WithAttributes(
			attribute.String(tracing.AttrHTTPMethod, req.Method),
			attribute.String("http.url", req.URL.String()),
			attribute.String("http.host", req.URL.Host),
		),
	)
	defer span.End()

	logger := slog.Default().With(
		"url", req.URL.String(),
		"method", req.Method,
	)

	resp, err := client.Do(req.WithContext(ctx))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		logger.Error("request failed", "error", err)
		return nil, NewError(ErrFetchFailed, "request failed").
			WithStage(StageFetch).
			WithRequest(request).
			WithCause(err).
			WithGuidance("Check your network connection and export again.")
	}

	span.SetAttributes(
		attribute.Int(tracing.AttrHTTPStatusCode, resp.StatusCode),
		attribute.Int("http.response.content_length", int(resp.ContentLength)),
		attribute.String("http.response.content_type", resp.Header.Get("Content-Type")),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if err := resp.Body.Close(); err != nil {
			logger.Warn("failed to close response body", "error", err)
		}
		fetchErr := FetchError(request, resp.StatusCode)
		span.RecordError(fetchErr)
		span.SetStatus(codes.Error, http.StatusText(resp.StatusCode))
		logger.Error("request returned error status", "status", resp.StatusCode)
		return nil, fetchErr
	}

	span.SetStatus(codes.Ok, "")
	logger.Debug("request successful",
		"status", resp.StatusCode,
		"content_length", resp.ContentLength,
		"content_type", resp.Header.Get("Content-Type"),
	)
	return resp, nil
}
