package export

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	posm "github.com/paulmach/osm"

	"github.com/NERVsystems/osm2vcf/pkg/config"
	"github.com/NERVsystems/osm2vcf/pkg/core"
	"github.com/NERVsystems/osm2vcf/pkg/osm"
	"github.com/NERVsystems/osm2vcf/pkg/vcard"
)

// fakeAPI serves canned OSM XML documents by path
type fakeAPI struct {
	docs  map[string]string
	fail  map[string]int
	delay time.Duration

	mu       sync.Mutex
	requests []string

	inflight    int32
	maxInflight int32
}

func (f *fakeAPI) FetchDocument(ctx context.Context, path, operation string) (*posm.OSM, error) {
	f.mu.Lock()
	f.requests = append(f.requests, path)
	f.mu.Unlock()

	n := atomic.AddInt32(&f.inflight, 1)
	defer atomic.AddInt32(&f.inflight, -1)
	for {
		max := atomic.LoadInt32(&f.maxInflight)
		if n <= max || atomic.CompareAndSwapInt32(&f.maxInflight, max, n) {
			break
		}
	}

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, core.NewError(core.ErrFetchFailed, "cancelled").WithRequest(path).WithCause(ctx.Err())
		}
	}

	if status, ok := f.fail[path]; ok {
		return nil, core.FetchError(path, status)
	}
	body, ok := f.docs[path]
	if !ok {
		return nil, core.FetchError(path, http.StatusNotFound)
	}
	return osm.Decode([]byte(body))
}

func (f *fakeAPI) requested() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.requests...)
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.MaxConcurrentFetches = 4
	cfg.MaxResolveRounds = 3
	return cfg
}

func newTestExporter(cfg config.Config, api Fetcher) *Exporter {
	e := New(cfg, api, nil)
	e.serializer.Now = func() time.Time {
		return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	}
	return e
}

func TestExportNode(t *testing.T) {
	api := &fakeAPI{docs: map[string]string{
		"/node/1": `<osm><node id="1" lat="40.0" lon="-73.0">
			<tag k="name" v="Cafe Fig"/>
			<tag k="addr:street" v="Main St"/>
			<tag k="addr:housenumber" v="12"/>
		</node></osm>`,
	}}

	result, err := newTestExporter(testConfig(), api).Export(context.Background(), osm.ObjectRef{Type: osm.TypeNode, ID: 1})
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}

	want := strings.Join([]string{
		"BEGIN:VCARD",
		"VERSION:3.0",
		"PRODID:" + config.DefaultProductID,
		"REV:2024-01-02T03:04:05.000Z",
		"KIND:org",
		"GEO:40.0000000,-73.0000000",
		"ADR:;12;Main St;;;;",
		"ORG:Cafe Fig",
		"END:VCARD",
	}, "\r\n")
	if result.Body != want {
		t.Errorf("Body =\n%q\nwant\n%q", result.Body, want)
	}
	if result.Filename != "1.vcf" || result.ContentType != vcard.MediaType {
		t.Errorf("unexpected filename/content type %q %q", result.Filename, result.ContentType)
	}
	if result.Fetches != 1 || len(api.requested()) != 1 {
		t.Errorf("expected a single fetch, got %d (%v)", result.Fetches, api.requested())
	}
	if len(result.Warnings) != 0 {
		t.Errorf("unexpected warnings %v", result.Warnings)
	}
}

func TestExportWayCenter(t *testing.T) {
	api := &fakeAPI{docs: map[string]string{
		"/way/9/full": `<osm>
			<node id="1" lat="10" lon="20"/>
			<node id="2" lat="12" lon="24"/>
			<way id="9"><nd ref="1"/><nd ref="2"/></way>
		</osm>`,
	}}

	result, err := newTestExporter(testConfig(), api).Export(context.Background(), osm.ObjectRef{Type: osm.TypeWay, ID: 9})
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}

	if result.Fields[vcard.FieldGeo] != "11.0000000,22.0000000" {
		t.Errorf("GEO = %q", result.Fields[vcard.FieldGeo])
	}
	for _, field := range []vcard.Field{vcard.FieldAdr, vcard.FieldOrg, vcard.FieldNote, vcard.FieldEmail} {
		if _, ok := result.Fields[field]; ok {
			t.Errorf("unexpected field %s", field)
		}
	}
	if result.Bounds == nil || result.Bounds.MaxLon != 24 {
		t.Errorf("unexpected bounds %+v", result.Bounds)
	}
}

func TestExportRelationAdminCentre(t *testing.T) {
	var b strings.Builder
	b.WriteString(`<osm><node id="500" lat="5" lon="5"/>`)
	b.WriteString(`<relation id="3"><member type="node" ref="500" role="admin_centre"/>`)
	for i := 1; i <= 10; i++ {
		fmt.Fprintf(&b, `<member type="way" ref="%d" role="outer"/>`, i)
	}
	b.WriteString(`<tag k="name" v="Somewhere"/></relation>`)
	for i := 1; i <= 10; i++ {
		fmt.Fprintf(&b, `<node id="%d" lat="%d" lon="%d"/><way id="%d"><nd ref="%d"/></way>`, 1000+i, 40+i, 40+i, i, 1000+i)
	}
	b.WriteString(`</osm>`)

	api := &fakeAPI{docs: map[string]string{"/relation/3/full": b.String()}}

	result, err := newTestExporter(testConfig(), api).Export(context.Background(), osm.ObjectRef{Type: osm.TypeRelation, ID: 3})
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if result.Fields[vcard.FieldGeo] != "5.0000000,5.0000000" {
		t.Errorf("GEO = %q, want the admin_centre", result.Fields[vcard.FieldGeo])
	}
	if result.Fields[vcard.FieldOrg] != "Somewhere" {
		t.Errorf("ORG = %q", result.Fields[vcard.FieldOrg])
	}
}

func TestExportInsufficientGeometryDegrades(t *testing.T) {
	api := &fakeAPI{docs: map[string]string{
		"/relation/4/full": `<osm><relation id="4">
			<member type="relation" ref="5" role="subarea"/>
			<tag k="name" v="Nowhere"/>
			<tag k="website" v="https://example.org"/>
		</relation></osm>`,
	}}

	result, err := newTestExporter(testConfig(), api).Export(context.Background(), osm.ObjectRef{Type: osm.TypeRelation, ID: 4})
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if _, ok := result.Fields[vcard.FieldGeo]; ok {
		t.Error("GEO must be omitted without geometry")
	}
	if result.Center != nil || result.Bounds != nil {
		t.Error("no centre expected")
	}
	if !strings.Contains(result.Body, "\r\nORG:Nowhere\r\n") || !strings.Contains(result.Body, "\r\nURI:https://example.org\r\n") {
		t.Errorf("other fields must still be emitted: %q", result.Body)
	}
	if len(result.Warnings) != 1 || !strings.Contains(result.Warnings[0], "INSUFFICIENT_GEOMETRY") {
		t.Errorf("expected one geometry warning, got %v", result.Warnings)
	}
}

func TestExportObjectNotInResponse(t *testing.T) {
	api := &fakeAPI{docs: map[string]string{
		"/node/2": `<osm><node id="3" lat="1" lon="1"/></osm>`,
	}}

	result, err := newTestExporter(testConfig(), api).Export(context.Background(), osm.ObjectRef{Type: osm.TypeNode, ID: 2})
	if !core.IsCode(err, core.ErrMalformedResponse) {
		t.Fatalf("expected MALFORMED_RESPONSE, got %v", err)
	}
	if result != nil {
		t.Error("no result may be produced on error")
	}
	if !strings.Contains(err.Error(), "node/2") {
		t.Errorf("error must name the object: %q", err.Error())
	}
}

func TestExportFetchesMissingWayNodes(t *testing.T) {
	api := &fakeAPI{docs: map[string]string{
		"/way/7/full": `<osm>
			<node id="1" lat="0" lon="0"/>
			<way id="7"><nd ref="1"/><nd ref="2"/><nd ref="3"/></way>
		</osm>`,
		"/node/2": `<osm><node id="2" lat="2" lon="4"/></osm>`,
		"/node/3": `<osm><node id="3" lat="4" lon="8"/></osm>`,
	}}

	result, err := newTestExporter(testConfig(), api).Export(context.Background(), osm.ObjectRef{Type: osm.TypeWay, ID: 7})
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if result.Fields[vcard.FieldGeo] != "2.0000000,4.0000000" {
		t.Errorf("GEO = %q", result.Fields[vcard.FieldGeo])
	}
	if result.Fetches != 3 {
		t.Errorf("expected 3 fetches, got %d (%v)", result.Fetches, api.requested())
	}
}

func TestExportFetchesMissingRelationMembers(t *testing.T) {
	api := &fakeAPI{docs: map[string]string{
		"/relation/8/full": `<osm>
			<relation id="8">
				<member type="way" ref="10" role="outer"/>
				<member type="way" ref="11" role="outer"/>
			</relation>
		</osm>`,
		"/way/10/full": `<osm><node id="1" lat="0" lon="0"/><way id="10"><nd ref="1"/><nd ref="2"/></way></osm>`,
		"/way/11/full": `<osm><node id="3" lat="6" lon="6"/><way id="11"><nd ref="3"/></way></osm>`,
		"/node/2":      `<osm><node id="2" lat="-2" lon="-2"/></osm>`,
	}}

	result, err := newTestExporter(testConfig(), api).Export(context.Background(), osm.ObjectRef{Type: osm.TypeRelation, ID: 8})
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if result.Fields[vcard.FieldGeo] != "2.0000000,2.0000000" {
		t.Errorf("GEO = %q", result.Fields[vcard.FieldGeo])
	}
	// primary, two member ways, then the node the first way lacked
	if result.Fetches != 4 {
		t.Errorf("expected 4 fetches, got %d (%v)", result.Fetches, api.requested())
	}
}

func TestExportResolveRoundsExhausted(t *testing.T) {
	tests := []struct {
		name    string
		way     string
		wantGeo string
	}{
		{
			name:    "partial candidates",
			way:     `<osm><node id="1" lat="10" lon="20"/><way id="10"><nd ref="1"/><nd ref="2"/></way></osm>`,
			wantGeo: "10.0000000,20.0000000",
		},
		{
			name: "no candidates",
			way:  `<osm><way id="10"><nd ref="2"/></way></osm>`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &fakeAPI{docs: map[string]string{
				"/relation/8/full": `<osm><relation id="8"><member type="way" ref="10" role="outer"/><tag k="name" v="Park"/></relation></osm>`,
				"/way/10/full":     tt.way,
				"/node/2":          `<osm><node id="2" lat="12" lon="24"/></osm>`,
			}}

			cfg := testConfig()
			cfg.MaxResolveRounds = 1

			result, err := newTestExporter(cfg, api).Export(context.Background(), osm.ObjectRef{Type: osm.TypeRelation, ID: 8})
			if err != nil {
				t.Fatalf("Export() error = %v", err)
			}
			if got := result.Fields[vcard.FieldGeo]; got != tt.wantGeo {
				t.Errorf("GEO = %q, want %q", got, tt.wantGeo)
			}
			if result.Fields[vcard.FieldOrg] != "Park" {
				t.Errorf("ORG = %q", result.Fields[vcard.FieldOrg])
			}
			if len(result.Warnings) == 0 {
				t.Error("expected a warning about unresolved members")
			}
			// primary and the member way; node 2 is never requested
			if result.Fetches != 2 {
				t.Errorf("expected 2 fetches, got %d (%v)", result.Fetches, api.requested())
			}
		})
	}
}

func TestExportMemberFetchFailed(t *testing.T) {
	api := &fakeAPI{
		docs: map[string]string{
			"/way/7/full": `<osm><way id="7"><nd ref="1"/><nd ref="2"/></way></osm>`,
			"/node/1":     `<osm><node id="1" lat="0" lon="0"/></osm>`,
		},
		fail: map[string]int{"/node/2": http.StatusBadGateway},
	}

	result, err := newTestExporter(testConfig(), api).Export(context.Background(), osm.ObjectRef{Type: osm.TypeWay, ID: 7})
	if !core.IsCode(err, core.ErrFetchFailed) {
		t.Fatalf("expected FETCH_FAILED, got %v", err)
	}
	if result != nil {
		t.Error("no result may be produced on error")
	}
	msg := err.Error()
	if !strings.Contains(msg, "/node/2") || !strings.Contains(msg, "way/7") {
		t.Errorf("error must name the request and the object: %q", msg)
	}
}

func TestExportMemberResponseUnusable(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed body", "<osm><node"},
		{"member absent", "<osm></osm>"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &fakeAPI{docs: map[string]string{
				"/way/7/full": `<osm><way id="7"><nd ref="2"/></way></osm>`,
				"/node/2":     tt.body,
			}}

			_, err := newTestExporter(testConfig(), api).Export(context.Background(), osm.ObjectRef{Type: osm.TypeWay, ID: 7})
			if !core.IsCode(err, core.ErrFetchFailed) {
				t.Fatalf("expected FETCH_FAILED, got %v", err)
			}
			if !strings.Contains(err.Error(), "/node/2") {
				t.Errorf("error must name the request: %q", err.Error())
			}
		})
	}
}

func TestExportBoundedConcurrency(t *testing.T) {
	docs := map[string]string{}
	var way strings.Builder
	way.WriteString(`<osm><way id="1">`)
	for i := 1; i <= 12; i++ {
		fmt.Fprintf(&way, `<nd ref="%d"/>`, i)
		docs[fmt.Sprintf("/node/%d", i)] = fmt.Sprintf(`<osm><node id="%d" lat="%d" lon="%d"/></osm>`, i, i, i)
	}
	way.WriteString(`</way></osm>`)
	docs["/way/1/full"] = way.String()

	api := &fakeAPI{docs: docs, delay: 20 * time.Millisecond}
	cfg := testConfig()
	cfg.MaxConcurrentFetches = 3

	result, err := newTestExporter(cfg, api).Export(context.Background(), osm.ObjectRef{Type: osm.TypeWay, ID: 1})
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if result.Fetches != 13 {
		t.Errorf("expected 13 fetches, got %d", result.Fetches)
	}
	if max := atomic.LoadInt32(&api.maxInflight); max > 3 {
		t.Errorf("expected at most 3 concurrent fetches, saw %d", max)
	}
	if result.Fields[vcard.FieldGeo] != "6.5000000,6.5000000" {
		t.Errorf("GEO = %q", result.Fields[vcard.FieldGeo])
	}
}

func TestExportInvalidRef(t *testing.T) {
	api := &fakeAPI{}
	_, err := newTestExporter(testConfig(), api).Export(context.Background(), osm.ObjectRef{Type: "area", ID: 1})
	if !core.IsCode(err, core.ErrInvalidInput) {
		t.Fatalf("expected INVALID_INPUT, got %v", err)
	}
	if len(api.requested()) != 0 {
		t.Error("no request expected for an invalid reference")
	}
}

func TestExportThroughClient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/0.6/way/5/full":
			w.Write([]byte(`<osm><node id="1" lat="1" lon="1"/><way id="5"><nd ref="1"/><nd ref="2"/></way></osm>`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	cfg := testConfig()
	cfg.APIBaseURL = server.URL + "/api/0.6"
	cfg.RateLimit = 1000
	cfg.RateBurst = 100

	client := osm.NewClient(cfg)
	_, err := New(cfg, client, nil).Export(context.Background(), osm.ObjectRef{Type: osm.TypeWay, ID: 5})
	if !core.IsCode(err, core.ErrFetchFailed) {
		t.Fatalf("expected FETCH_FAILED, got %v", err)
	}
	var cerr *core.Error
	if !errors.As(err, &cerr) || cerr.Request != "/node/2" {
		t.Errorf("error must name the failing API request: %v", err)
	}
}
