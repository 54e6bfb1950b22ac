// Package geo resolves a single representative coordinate for OSM objects.
package geo

import (
	"fmt"
	"math"
	"strconv"

	"github.com/paulmach/orb"

	"github.com/NERVsystems/osm2vcf/pkg/core"
)

// Precision is the number of decimal places kept for resolved coordinates
const Precision = 7

// Point is a WGS84 coordinate in decimal degrees
type Point struct {
	Lat float64 `json:"latitude"`
	Lon float64 `json:"longitude"`
}

// String renders the point as "lat,lon" with Precision decimals
func (p Point) String() string {
	return FormatCoord(p.Lat) + "," + FormatCoord(p.Lon)
}

// orb keeps points as [lon, lat]
func (p Point) orb() orb.Point {
	return orb.Point{p.Lon, p.Lat}
}

// BoundingBox is an axis-aligned box in decimal degrees
type BoundingBox struct {
	MinLat float64 `json:"minLat"`
	MinLon float64 `json:"minLon"`
	MaxLat float64 `json:"maxLat"`
	MaxLon float64 `json:"maxLon"`
}

// Bounds returns the bounding box of the given points. The boolean is false
// when points is empty.
func Bounds(points []Point) (BoundingBox, bool) {
	if len(points) == 0 {
		return BoundingBox{}, false
	}

	mp := make(orb.MultiPoint, 0, len(points))
	for _, p := range points {
		mp = append(mp, p.orb())
	}
	b := mp.Bound()

	return BoundingBox{
		MinLat: b.Min.Lat(),
		MinLon: b.Min.Lon(),
		MaxLat: b.Max.Lat(),
		MaxLon: b.Max.Lon(),
	}, true
}

// Center returns the midpoint of the box rounded to Precision decimals
func (b BoundingBox) Center() Point {
	c := orb.Bound{
		Min: orb.Point{b.MinLon, b.MinLat},
		Max: orb.Point{b.MaxLon, b.MaxLat},
	}.Center()

	return Point{Lat: Round(c.Lat()), Lon: Round(c.Lon())}
}

// ResolveCenter returns the bounding-box centroid of the candidates.
//
// This is deliberately not a polygon centroid or a geodesic centre: the
// result is only advisory (vCard GEO). Min/max aggregation makes the result
// independent of candidate order, and a single candidate comes back unchanged.
func ResolveCenter(candidates []Point) (Point, error) {
	box, ok := Bounds(candidates)
	if !ok {
		return Point{}, core.NewError(core.ErrInsufficientGeometry, "no coordinate candidates").
			WithStage(core.StageResolve).
			WithGuidance("The object has no resolvable geometry; GEO is omitted.")
	}
	return box.Center(), nil
}

// Round rounds v to Precision decimal places
func Round(v float64) float64 {
	scale := math.Pow10(Precision)
	return math.Round(v*scale) / scale
}

// FormatCoord renders a coordinate with exactly Precision decimals
func FormatCoord(v float64) string {
	return strconv.FormatFloat(Round(v), 'f', Precision, 64)
}

// ValidateCoords validates latitude and longitude values
func ValidateCoords(lat, lon float64) error {
	if lat < -90 || lat > 90 {
		return fmt.Errorf("invalid latitude: %f (must be between -90 and 90)", lat)
	}
	if lon < -180 || lon > 180 {
		return fmt.Errorf("invalid longitude: %f (must be between -180 and 180)", lon)
	}
	return nil
}
