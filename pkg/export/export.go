// Package export turns an OSM object reference into a vCard. It fetches the
// object and any member geometry the first response lacks, then runs the
// parse, resolve, map and serialize stages once everything has arrived.
package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	posm "github.com/paulmach/osm"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/NERVsystems/osm2vcf/pkg/config"
	"github.com/NERVsystems/osm2vcf/pkg/core"
	"github.com/NERVsystems/osm2vcf/pkg/geo"
	"github.com/NERVsystems/osm2vcf/pkg/monitoring"
	"github.com/NERVsystems/osm2vcf/pkg/osm"
	"github.com/NERVsystems/osm2vcf/pkg/osm/queries"
	"github.com/NERVsystems/osm2vcf/pkg/tracing"
	"github.com/NERVsystems/osm2vcf/pkg/vcard"
)

// Operation labels used for fetch metrics and spans
const (
	OpFetchObject     = "fetch_object"
	OpFetchMemberNode = "fetch_member_node"
	OpFetchMemberWay  = "fetch_member_way"
)

// Fetcher retrieves and decodes one API path. *osm.Client implements it.
type Fetcher interface {
	FetchDocument(ctx context.Context, path, operation string) (*posm.OSM, error)
}

// Result is a finished export
type Result struct {
	Ref         osm.ObjectRef    `json:"ref"`
	Filename    string           `json:"filename"`
	ContentType string           `json:"content_type"`
	Body        string           `json:"vcard"`
	Fields      vcard.FieldSet   `json:"fields"`
	Center      *geo.Point       `json:"center,omitempty"`
	Bounds      *geo.BoundingBox `json:"bounds,omitempty"`
	Warnings    []string         `json:"warnings,omitempty"`
	Fetches     int              `json:"fetches"`
}

// Exporter runs exports against one API. It holds no per-export state and
// is safe for concurrent use.
type Exporter struct {
	cfg        config.Config
	fetcher    Fetcher
	serializer *vcard.Serializer
	logger     *slog.Logger
}

// New creates an exporter
func New(cfg config.Config, fetcher Fetcher, logger *slog.Logger) *Exporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter{
		cfg:        cfg,
		fetcher:    fetcher,
		serializer: vcard.NewSerializer(cfg),
		logger:     logger.With("component", "export"),
	}
}

// Export produces the vCard for ref. Any error aborts the export; no
// partial card is ever returned alongside an error.
func (e *Exporter) Export(ctx context.Context, ref osm.ObjectRef) (result *Result, err error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}

	ctx, span := tracing.StartSpan(ctx, "vcf.export",
		trace.WithAttributes(tracing.ObjectAttributes(string(ref.Type), ref.ID)...),
	)
	defer span.End()

	logger := e.logger.With("object", ref.String())
	start := time.Now()
	fetches := 0

	defer func() {
		monitoring.RecordExport(string(ref.Type), time.Since(start), fetches, err == nil)
		span.SetAttributes(attribute.Int(tracing.AttrExportFetches, fetches))
		if err != nil {
			code := string(core.CodeOf(err))
			span.RecordError(err, trace.WithAttributes(tracing.ErrorAttributes(code, err)...))
			span.SetStatus(codes.Error, code)
			monitoring.RecordError("export", code)
			logger.Error("export failed", "error", err, "fetches", fetches)
		}
	}()

	obj, fetches, err := e.resolve(ctx, ref)
	if err != nil {
		return nil, err
	}

	result, err = e.render(ctx, obj, logger)
	if err != nil {
		return nil, err
	}
	result.Fetches = fetches

	span.SetStatus(codes.Ok, "")
	logger.Info("export complete",
		"fields", result.Fields.Names(),
		"fetches", fetches,
		"warnings", len(result.Warnings),
		"duration", time.Since(start),
	)
	return result, nil
}

// resolve fetches the object and then, round by round, every member element
// the accumulated document still lacks. It returns the extracted object and
// the number of requests issued.
func (e *Exporter) resolve(ctx context.Context, ref osm.ObjectRef) (*osm.Object, int, error) {
	primary := queries.PrimaryPath(string(ref.Type), ref.ID)
	doc, err := e.fetcher.FetchDocument(ctx, primary, OpFetchObject)
	fetches := 1
	if err != nil {
		return nil, fetches, annotate(err, ref, core.StageFetch)
	}

	for round := 1; ; round++ {
		obj, err := osm.Extract(doc, ref)
		if err != nil && !core.IsCode(err, core.ErrInsufficientGeometry) {
			return nil, fetches, annotate(err, ref, core.StageParse)
		}
		if obj.Missing.Empty() {
			return obj, fetches, nil
		}

		// Out of rounds: resolve from the candidates collected so far
		if round > e.cfg.MaxResolveRounds {
			e.logger.Warn("member geometry incomplete, using partial candidates",
				"object", ref.String(),
				"rounds", e.cfg.MaxResolveRounds,
				"nodes_missing", len(obj.Missing.Nodes),
				"ways_missing", len(obj.Missing.Ways),
				"candidates", len(obj.Candidates),
			)
			return obj, fetches, nil
		}

		tracing.AddEvent(ctx, "resolve_round", trace.WithAttributes(
			attribute.Int(tracing.AttrExportRound, round),
			attribute.Int(tracing.AttrExportMissing, obj.Missing.Count()),
		))
		e.logger.Debug("fetching missing members",
			"object", ref.String(),
			"round", round,
			"nodes", len(obj.Missing.Nodes),
			"ways", len(obj.Missing.Ways),
		)

		docs, err := e.fetchMembers(ctx, obj.Missing)
		fetches += obj.Missing.Count()
		if err != nil {
			return nil, fetches, annotate(err, ref, core.StageFetch)
		}
		osm.Merge(doc, docs...)
	}
}

// member is one leaf fetch of a resolve round
type member struct {
	ref       osm.ObjectRef
	path      string
	operation string
}

func membersOf(missing osm.Missing) []member {
	members := make([]member, 0, missing.Count())
	for _, id := range missing.Nodes {
		members = append(members, member{
			ref:       osm.ObjectRef{Type: osm.TypeNode, ID: id},
			path:      queries.NodePath(id),
			operation: OpFetchMemberNode,
		})
	}
	for _, id := range missing.Ways {
		members = append(members, member{
			ref:       osm.ObjectRef{Type: osm.TypeWay, ID: id},
			path:      queries.WayFullPath(id),
			operation: OpFetchMemberWay,
		})
	}
	return members
}

// fetchMembers issues every member fetch concurrently, at most
// MaxConcurrentFetches at a time, and waits for all of them. The first
// failure cancels the rest. Each task writes only its own slot, so the
// results need no locking.
func (e *Exporter) fetchMembers(ctx context.Context, missing osm.Missing) ([]*posm.OSM, error) {
	members := membersOf(missing)
	docs := make([]*posm.OSM, len(members))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.MaxConcurrentFetches)

	for i, m := range members {
		g.Go(func() error {
			doc, err := e.fetchMember(gctx, m)
			if err != nil {
				return err
			}
			docs[i] = doc
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return docs, nil
}

// fetchMember fetches one member. Any problem with the response, including a
// body that does not contain the member, is a FETCH_FAILED for that request.
func (e *Exporter) fetchMember(ctx context.Context, m member) (*posm.OSM, error) {
	doc, err := e.fetcher.FetchDocument(ctx, m.path, m.operation)
	if err != nil {
		if core.IsCode(err, core.ErrFetchFailed) {
			return nil, err
		}
		return nil, core.NewError(core.ErrFetchFailed, "member response unusable").
			WithStage(core.StageFetch).
			WithRequest(m.path).
			WithCause(err)
	}

	if !contains(doc, m.ref) {
		return nil, core.NewError(core.ErrFetchFailed, fmt.Sprintf("response does not contain %s", m.ref)).
			WithStage(core.StageFetch).
			WithRequest(m.path)
	}
	return doc, nil
}

func contains(doc *posm.OSM, ref osm.ObjectRef) bool {
	if doc == nil {
		return false
	}
	switch ref.Type {
	case osm.TypeNode:
		for _, n := range doc.Nodes {
			if n != nil && int64(n.ID) == ref.ID {
				return true
			}
		}
	case osm.TypeWay:
		for _, w := range doc.Ways {
			if w != nil && int64(w.ID) == ref.ID {
				return true
			}
		}
	}
	return false
}

// render runs resolve, map and serialize on a fully fetched object. Missing
// geometry degrades to a card without GEO.
func (e *Exporter) render(ctx context.Context, obj *osm.Object, logger *slog.Logger) (*Result, error) {
	result := &Result{
		Ref:         obj.Ref,
		Filename:    obj.Ref.Filename(),
		ContentType: vcard.MediaType,
	}

	if !obj.Missing.Empty() {
		result.Warnings = append(result.Warnings, fmt.Sprintf("%s: %d member elements unresolved; GEO uses partial geometry",
			obj.Ref, obj.Missing.Count()))
		monitoring.RecordExportWarning("PARTIAL_GEOMETRY")
	}

	attrs := obj.Attributes
	var center *geo.Point

	p, err := geo.ResolveCenter(obj.Candidates)
	switch {
	case err == nil:
		center = &p
		attrs = attrs.WithCenter(p)
		if box, ok := geo.Bounds(obj.Candidates); ok {
			result.Bounds = &box
		}
	case core.IsCode(err, core.ErrInsufficientGeometry):
		warning := fmt.Sprintf("%s: %s has no resolvable geometry; GEO omitted", core.ErrInsufficientGeometry, obj.Ref)
		result.Warnings = append(result.Warnings, warning)
		monitoring.RecordExportWarning(string(core.ErrInsufficientGeometry))
		tracing.AddEvent(ctx, "geometry_degraded")
		logger.Warn("no resolvable geometry, omitting GEO")
	default:
		return nil, annotate(err, obj.Ref, core.StageResolve)
	}

	result.Center = center
	result.Fields = vcard.MapFields(attrs, center)
	result.Body = e.serializer.Serialize(result.Fields)

	tracing.SetAttributes(ctx,
		attribute.StringSlice(tracing.AttrExportFields, result.Fields.Names()),
		attribute.Int(tracing.AttrExportBodyBytes, len(result.Body)),
	)
	return result, nil
}

// annotate makes sure err names the exported object and a stage
func annotate(err error, ref osm.ObjectRef, stage string) error {
	var cerr *core.Error
	if !errors.As(err, &cerr) {
		return core.NewError(core.ErrInternalError, "export failed").
			WithObject(ref).
			WithStage(stage).
			WithCause(err)
	}
	if cerr.Object == "" {
		cerr.WithObject(ref)
	}
	if cerr.Stage == "" {
		cerr.WithStage(stage)
	}
	return err
}
