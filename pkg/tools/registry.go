package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/NERVsystems/osm2vcf/pkg/monitoring"
	"github.com/NERVsystems/osm2vcf/pkg/tracing"
)

// Registry contains all tool definitions and handlers
type Registry struct {
	logger   *slog.Logger
	exporter Exporter
}

// NewRegistry creates a new tool registry
func NewRegistry(logger *slog.Logger, exporter Exporter) *Registry {
	return &Registry{
		logger:   logger,
		exporter: exporter,
	}
}

// ToolDefinition pairs an MCP tool with its handler
type ToolDefinition struct {
	Name        string
	Description string
	Tool        mcp.Tool
	Handler     ToolHandler
}

// GetToolDefinitions returns the list of all available tools.
func (r *Registry) GetToolDefinitions() []ToolDefinition {
	return []ToolDefinition{
		{
			Name:        "export_vcard",
			Description: "Export an OpenStreetMap object as a vCard 3.0 card. Parameters: type (node, way, relation) and id, or ref",
			Tool:        ExportVCardTool(),
			Handler:     HandleExportVCard(r.exporter),
		},
		{
			Name:        "get_version",
			Description: "Get the version information for this service",
			Tool:        GetVersionTool(),
			Handler:     HandleGetVersion,
		},
	}
}

// RegisterTools registers all tools with the MCP server.
func (r *Registry) RegisterTools(mcpServer *server.MCPServer) {
	for _, def := range r.GetToolDefinitions() {
		r.logger.Info("registering tool", "name", def.Name)
		mcpServer.AddTool(def.Tool, server.ToolHandlerFunc(r.instrument(def.Name, def.Handler)))
	}
}

// instrument wraps a tool handler with a span and request metrics
func (r *Registry) instrument(toolName string, handler ToolHandler) ToolHandler {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ctx, span := tracing.StartSpan(ctx, fmt.Sprintf("mcp.tool.%s", toolName),
			trace.WithAttributes(attribute.String(tracing.AttrMCPToolName, toolName)),
		)
		defer span.End()

		start := time.Now()
		result, err := handler(ctx, req)
		duration := time.Since(start)

		// Tool failures come back as error results, not Go errors
		failed := err != nil || (result != nil && result.IsError)
		status := tracing.StatusSuccess
		if failed {
			status = tracing.StatusError
			if err != nil {
				span.RecordError(err)
			}
			span.SetStatus(codes.Error, "tool failed")
		} else {
			span.SetStatus(codes.Ok, "")
		}

		resultSize := 0
		if result != nil && result.Content != nil {
			if data, marshalErr := json.Marshal(result.Content); marshalErr == nil {
				resultSize = len(data)
			}
		}

		span.SetAttributes(tracing.MCPToolAttributes(toolName, status, duration.Milliseconds(), resultSize)...)
		monitoring.RecordMCPRequest(toolName, duration, !failed)

		r.logger.Debug("tool executed",
			"tool", toolName,
			"duration_ms", duration.Milliseconds(),
			"status", status,
			"result_size", resultSize,
		)

		return result, err
	}
}

// GetToolNames returns a list of all tool names.
func (r *Registry) GetToolNames() []string {
	defs := r.GetToolDefinitions()
	names := make([]string, len(defs))
	for i, def := range defs {
		names[i] = def.Name
	}
	return names
}
