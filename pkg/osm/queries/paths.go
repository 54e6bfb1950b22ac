// Package queries builds request paths for the OpenStreetMap API v0.6.
package queries

import (
	"strconv"
	"strings"
)

// PathBuilder provides a fluent interface for composing API paths relative
// to the configured base URL.
type PathBuilder struct {
	segments []string
}

// NewPathBuilder creates an empty path builder
func NewPathBuilder() *PathBuilder {
	return &PathBuilder{}
}

// Object appends "/<type>/<id>"
func (b *PathBuilder) Object(objectType string, id int64) *PathBuilder {
	b.segments = append(b.segments, objectType, strconv.FormatInt(id, 10))
	return b
}

// Full requests the element together with everything it references
// (way nodes, relation members one level deep).
func (b *PathBuilder) Full() *PathBuilder {
	b.segments = append(b.segments, "full")
	return b
}

// Capabilities targets the API capabilities document
func (b *PathBuilder) Capabilities() *PathBuilder {
	b.segments = append(b.segments, "capabilities")
	return b
}

// Build returns the path with a leading slash
func (b *PathBuilder) Build() string {
	return "/" + strings.Join(b.segments, "/")
}

// PrimaryPath is the first request of an export. Nodes carry their own
// coordinates; ways and relations are fetched with /full.
func PrimaryPath(objectType string, id int64) string {
	b := NewPathBuilder().Object(objectType, id)
	if objectType != "node" {
		b.Full()
	}
	return b.Build()
}

// NodePath fetches one node
func NodePath(id int64) string {
	return NewPathBuilder().Object("node", id).Build()
}

// WayFullPath fetches one way with its nodes
func WayFullPath(id int64) string {
	return NewPathBuilder().Object("way", id).Full().Build()
}

// CapabilitiesPath is used for health checks
func CapabilitiesPath() string {
	return NewPathBuilder().Capabilities().Build()
}
