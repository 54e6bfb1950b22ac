package tools

import (
	"context"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/NERVsystems/osm2vcf/pkg/core"
	"github.com/NERVsystems/osm2vcf/pkg/export"
	"github.com/NERVsystems/osm2vcf/pkg/osm"
)

// Exporter produces vCards; *export.Exporter implements it
type Exporter interface {
	Export(ctx context.Context, ref osm.ObjectRef) (*export.Result, error)
}

// ExportVCardInput selects the object either by ref or by type and id
type ExportVCardInput struct {
	Type string `json:"type,omitempty"`
	ID   int64  `json:"id,omitempty"`
	Ref  string `json:"ref,omitempty"`
}

// ObjectRef resolves the input to an object reference. A non-empty Ref wins.
func (in ExportVCardInput) ObjectRef() (osm.ObjectRef, error) {
	if in.Ref != "" {
		return osm.ParseObjectRef(in.Ref)
	}
	if in.Type == "" && in.ID == 0 {
		return osm.ObjectRef{}, core.NewError(core.ErrInvalidInput, "either ref or type and id are required").
			WithGuidance(usageGuidance("export_vcard"))
	}
	return osm.NewObjectRef(in.Type, in.ID)
}

// ExportVCardTool returns the export_vcard tool definition
func ExportVCardTool() mcp.Tool {
	return mcp.NewTool("export_vcard",
		mcp.WithDescription("Export an OpenStreetMap node, way or relation as a vCard 3.0 contact card. "+
			"The card carries the object's name (ORG), address (ADR), phone (TEL), website (URI), email, "+
			"description (NOTE) and a representative coordinate (GEO)."),
		mcp.WithString("type",
			mcp.Description("Object type: node, way or relation"),
			mcp.Enum("node", "way", "relation"),
		),
		mcp.WithNumber("id",
			mcp.Description("Positive OSM object id"),
		),
		mcp.WithString("ref",
			mcp.Description("Alternative to type and id: \"way/123\", \"node 5\" or an openstreetmap.org object URL"),
		),
	)
}

// HandleExportVCard returns the export_vcard handler bound to exporter
func HandleExportVCard(exporter Exporter) ToolHandler {
	return WithParsedInput("export_vcard", func(ctx context.Context, input ExportVCardInput, logger *slog.Logger) (any, error) {
		ref, err := input.ObjectRef()
		if err != nil {
			return nil, err
		}

		logger.Info("exporting", "object", ref.String())
		result, err := exporter.Export(ctx, ref)
		if err != nil {
			return nil, err
		}
		return result, nil
	})
}
