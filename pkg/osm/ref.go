package osm

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/NERVsystems/osm2vcf/pkg/core"
)

// ObjectType is the kind of OSM element an export targets
type ObjectType string

// Supported object types
const (
	TypeNode     ObjectType = "node"
	TypeWay      ObjectType = "way"
	TypeRelation ObjectType = "relation"
)

// Valid reports whether t is one of node, way or relation
func (t ObjectType) Valid() bool {
	switch t {
	case TypeNode, TypeWay, TypeRelation:
		return true
	}
	return false
}

// ObjectRef identifies the requested map object
type ObjectRef struct {
	Type ObjectType `json:"type"`
	ID   int64      `json:"id"`
}

// String renders the reference as "type/id"
func (r ObjectRef) String() string {
	return fmt.Sprintf("%s/%d", r.Type, r.ID)
}

// Filename is the download name of the object's vCard
func (r ObjectRef) Filename() string {
	return strconv.FormatInt(r.ID, 10) + ".vcf"
}

// Validate checks the type and id of the reference
func (r ObjectRef) Validate() error {
	if !r.Type.Valid() {
		return core.NewValidationError(core.ErrInvalidInput,
			fmt.Sprintf("unknown object type %q (expected node, way or relation)", r.Type))
	}
	if r.ID <= 0 {
		return core.NewValidationError(core.ErrInvalidInput,
			fmt.Sprintf("object id must be positive, got %d", r.ID))
	}
	return nil
}

// NewObjectRef builds and validates a reference from its parts
func NewObjectRef(objectType string, id int64) (ObjectRef, error) {
	ref := ObjectRef{Type: ObjectType(strings.ToLower(strings.TrimSpace(objectType))), ID: id}
	if err := ref.Validate(); err != nil {
		return ObjectRef{}, err
	}
	return ref, nil
}

// ParseObjectRef parses "node/123", "way 123", "relation:123" or an
// openstreetmap.org browse URL such as https://www.openstreetmap.org/way/123.
func ParseObjectRef(s string) (ObjectRef, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return ObjectRef{}, core.NewValidationError(core.ErrInvalidInput, "empty object reference")
	}

	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ObjectRef{}, core.NewValidationError(core.ErrInvalidInput,
				fmt.Sprintf("invalid object URL %q", s)).WithCause(err)
		}
		s = strings.Trim(u.Path, "/")
		// /api/0.6/way/123/full style paths keep the last two usable segments
		segments := strings.Split(s, "/")
		for i := 0; i+1 < len(segments); i++ {
			if ObjectType(segments[i]).Valid() {
				s = segments[i] + "/" + segments[i+1]
				break
			}
		}
	}

	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == '/' || r == ':' || r == ' '
	})
	if len(fields) != 2 {
		return ObjectRef{}, core.NewValidationError(core.ErrInvalidInput,
			fmt.Sprintf("object reference %q must look like type/id", s))
	}

	id, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return ObjectRef{}, core.NewValidationError(core.ErrInvalidInput,
			fmt.Sprintf("object id %q is not an integer", fields[1]))
	}

	return NewObjectRef(fields[0], id)
}
