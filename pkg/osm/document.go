package osm

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"sort"
	"strings"

	posm "github.com/paulmach/osm"

	"github.com/NERVsystems/osm2vcf/pkg/core"
	"github.com/NERVsystems/osm2vcf/pkg/geo"
)

// Tag keys copied from the OSM object into its attribute set
const (
	KeyCity        = "addr:city"
	KeyCountry     = "addr:country"
	KeyHousenumber = "addr:housenumber"
	KeyPlace       = "addr:place"
	KeyPostcode    = "addr:postcode"
	KeyState       = "addr:state"
	KeyStreet      = "addr:street"
	KeyDescription = "description"
	KeyEmail       = "email"
	KeyName        = "name"
	KeyPhone       = "phone"
	KeyWebsite     = "website"

	// Derived keys added after the centre is resolved
	KeyLat = "lat"
	KeyLon = "lon"
)

// TagKeys is the fixed tag vocabulary
var TagKeys = []string{
	KeyCity, KeyCountry, KeyHousenumber, KeyPlace, KeyPostcode, KeyState, KeyStreet,
	KeyDescription, KeyEmail, KeyName, KeyPhone, KeyWebsite,
}

// Relation member roles that pin a relation to one node
var centerRoles = []string{"admin_centre", "label"}

// Attributes maps vocabulary keys to tag values. A key is present only when
// the object carries the tag.
type Attributes map[string]string

// HasAddress reports whether any addr:* key is present
func (a Attributes) HasAddress() bool {
	for k := range a {
		if strings.HasPrefix(k, "addr:") {
			return true
		}
	}
	return false
}

// WithCenter returns a copy of a enriched with the lat/lon keys of p
func (a Attributes) WithCenter(p geo.Point) Attributes {
	out := make(Attributes, len(a)+2)
	for k, v := range a {
		out[k] = v
	}
	out[KeyLat] = geo.FormatCoord(p.Lat)
	out[KeyLon] = geo.FormatCoord(p.Lon)
	return out
}

// Missing lists elements the object references but the document lacks
type Missing struct {
	Nodes []int64 `json:"nodes,omitempty"`
	Ways  []int64 `json:"ways,omitempty"`
}

// Empty reports whether nothing is missing
func (m Missing) Empty() bool {
	return len(m.Nodes) == 0 && len(m.Ways) == 0
}

// Count returns the number of missing elements
func (m Missing) Count() int {
	return len(m.Nodes) + len(m.Ways)
}

// Object is the parsed form of the requested OSM element
type Object struct {
	Ref        ObjectRef
	Attributes Attributes
	Candidates []geo.Point
	Missing    Missing
}

// Parse decodes an OSM XML document and extracts ref from it
func Parse(data []byte, ref ObjectRef) (*Object, error) {
	doc, err := Decode(data)
	if err != nil {
		return nil, err
	}
	return Extract(doc, ref)
}

// Decode parses an OSM API XML document
func Decode(data []byte) (*posm.OSM, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, malformed("empty document")
	}

	doc := &posm.OSM{}
	if err := xml.Unmarshal(data, doc); err != nil {
		return nil, malformed("document is not valid OSM XML").WithCause(err)
	}
	return doc, nil
}

// Merge appends the elements of every src document to dst
func Merge(dst *posm.OSM, srcs ...*posm.OSM) {
	for _, src := range srcs {
		if src == nil {
			continue
		}
		dst.Nodes = append(dst.Nodes, src.Nodes...)
		dst.Ways = append(dst.Ways, src.Ways...)
		dst.Relations = append(dst.Relations, src.Relations...)
	}
}

// Extract locates ref in doc and collects its attributes and coordinate
// candidates. Elements the object references but doc does not contain are
// skipped and listed in Object.Missing. When there are no candidates and
// nothing left to fetch, the object is returned together with an
// INSUFFICIENT_GEOMETRY error so callers can degrade.
func Extract(doc *posm.OSM, ref ObjectRef) (*Object, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, malformed("no document").WithObject(ref)
	}

	obj := &Object{Ref: ref}
	nodes := indexNodes(doc)

	switch ref.Type {
	case TypeNode:
		n, ok := nodes[posm.NodeID(ref.ID)]
		if !ok {
			return nil, notFound(ref)
		}
		obj.Attributes = attributesFrom(n.Tags)
		obj.Candidates = []geo.Point{{Lat: n.Lat, Lon: n.Lon}}

	case TypeWay:
		w := findWay(doc, posm.WayID(ref.ID))
		if w == nil {
			return nil, notFound(ref)
		}
		obj.Attributes = attributesFrom(w.Tags)
		missing := newIDSet()
		obj.Candidates = wayPoints(w, nodes, missing)
		obj.Missing.Nodes = missing.sorted()

	case TypeRelation:
		r := findRelation(doc, posm.RelationID(ref.ID))
		if r == nil {
			return nil, notFound(ref)
		}
		obj.Attributes = attributesFrom(r.Tags)
		obj.Candidates, obj.Missing = relationPoints(doc, r, nodes)
	}

	for _, p := range obj.Candidates {
		if err := geo.ValidateCoords(p.Lat, p.Lon); err != nil {
			return nil, malformed("coordinate out of range").WithObject(ref).WithCause(err)
		}
	}

	if len(obj.Candidates) == 0 && obj.Missing.Empty() {
		return obj, core.NewError(core.ErrInsufficientGeometry, "no coordinate candidates in document").
			WithObject(ref).
			WithStage(core.StageParse)
	}

	return obj, nil
}

// attributesFrom copies the vocabulary tags. Tags are scanned directly so a
// tag with an empty value still counts as present.
func attributesFrom(tags posm.Tags) Attributes {
	attrs := make(Attributes)
	for _, key := range TagKeys {
		for _, tag := range tags {
			if tag.Key == key {
				attrs[key] = tag.Value
				break
			}
		}
	}
	return attrs
}

// relationPoints uses the admin_centre or label node when the relation has
// one, otherwise the union of every member way's nodes. Member relations are
// not followed.
func relationPoints(doc *posm.OSM, r *posm.Relation, nodes map[posm.NodeID]*posm.Node) ([]geo.Point, Missing) {
	var missing Missing

	if centerID, ok := centerMember(r); ok {
		if n, found := nodes[centerID]; found {
			return []geo.Point{{Lat: n.Lat, Lon: n.Lon}}, missing
		}
		missing.Nodes = []int64{int64(centerID)}
		return nil, missing
	}

	ways := indexWays(doc)
	missingNodes := newIDSet()
	missingWays := newIDSet()
	var points []geo.Point

	for _, m := range r.Members {
		if m.Type != posm.TypeWay {
			continue
		}
		w, ok := ways[posm.WayID(m.Ref)]
		if !ok {
			missingWays.add(m.Ref)
			continue
		}
		points = append(points, wayPoints(w, nodes, missingNodes)...)
	}

	missing.Nodes = missingNodes.sorted()
	missing.Ways = missingWays.sorted()
	return points, missing
}

// centerMember returns the explicit centre node, preferring admin_centre over label
func centerMember(r *posm.Relation) (posm.NodeID, bool) {
	for _, role := range centerRoles {
		for _, m := range r.Members {
			if m.Type == posm.TypeNode && m.Role == role {
				return posm.NodeID(m.Ref), true
			}
		}
	}
	return 0, false
}

// wayPoints resolves each nd ref of w. Refs absent from the document go to missing.
func wayPoints(w *posm.Way, nodes map[posm.NodeID]*posm.Node, missing *idSet) []geo.Point {
	points := make([]geo.Point, 0, len(w.Nodes))
	for _, wn := range w.Nodes {
		if n, ok := nodes[wn.ID]; ok {
			points = append(points, geo.Point{Lat: n.Lat, Lon: n.Lon})
			continue
		}
		// Overpass "out geom" inlines coordinates on nd elements
		if wn.Lat != 0 || wn.Lon != 0 {
			points = append(points, geo.Point{Lat: wn.Lat, Lon: wn.Lon})
			continue
		}
		missing.add(int64(wn.ID))
	}
	return points
}

func indexNodes(doc *posm.OSM) map[posm.NodeID]*posm.Node {
	idx := make(map[posm.NodeID]*posm.Node, len(doc.Nodes))
	for _, n := range doc.Nodes {
		if n == nil {
			continue
		}
		if _, seen := idx[n.ID]; !seen {
			idx[n.ID] = n
		}
	}
	return idx
}

func indexWays(doc *posm.OSM) map[posm.WayID]*posm.Way {
	idx := make(map[posm.WayID]*posm.Way, len(doc.Ways))
	for _, w := range doc.Ways {
		if w == nil {
			continue
		}
		if _, seen := idx[w.ID]; !seen {
			idx[w.ID] = w
		}
	}
	return idx
}

func findWay(doc *posm.OSM, id posm.WayID) *posm.Way {
	for _, w := range doc.Ways {
		if w != nil && w.ID == id {
			return w
		}
	}
	return nil
}

func findRelation(doc *posm.OSM, id posm.RelationID) *posm.Relation {
	for _, r := range doc.Relations {
		if r != nil && r.ID == id {
			return r
		}
	}
	return nil
}

func malformed(message string) *core.Error {
	return core.NewError(core.ErrMalformedResponse, message).
		WithStage(core.StageParse).
		WithGuidance("The OpenStreetMap API returned an unexpected or truncated document. Export again.")
}

func notFound(ref ObjectRef) *core.Error {
	return malformed(fmt.Sprintf("%s not present in response", ref)).WithObject(ref)
}

// idSet collects ids once each
type idSet struct {
	seen map[int64]struct{}
}

func newIDSet() *idSet {
	return &idSet{seen: make(map[int64]struct{})}
}

func (s *idSet) add(id int64) {
	s.seen[id] = struct{}{}
}

func (s *idSet) sorted() []int64 {
	if len(s.seen) == 0 {
		return nil
	}
	ids := make([]int64, 0, len(s.seen))
	for id := range s.seen {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
