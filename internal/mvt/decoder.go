// Package mvt decodes vector-tile payloads into per-layer feature lists in
// tile-local coordinates.
//
// Geometry stays in tile-local space at a fixed 4096-unit extent; projection
// to device pixels happens at rasterization time, so one decoded result can
// serve any output resolution.
package mvt

import (
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/mvt"
	"github.com/paulmach/orb/geojson"

	"github.com/openmapper/tilepipe/internal/tile"
)

// GeometryType is the flattened feature geometry class.
type GeometryType string

const (
	TypePoint      GeometryType = "Point"
	TypeLineString GeometryType = "LineString"
	TypePolygon    GeometryType = "Polygon"
)

// Feature is one decoded geometry with its properties. Multi-geometries are
// flattened into one Feature per part during decode.
type Feature struct {
	Geometry   orb.Geometry
	Properties geojson.Properties
}

// Type classifies the feature's geometry; empty for unsupported types.
func (f Feature) Type() GeometryType {
	switch f.Geometry.(type) {
	case orb.Point:
		return TypePoint
	case orb.LineString:
		return TypeLineString
	case orb.Polygon:
		return TypePolygon
	}
	return ""
}

// Layers maps a source-layer name to its decoded features.
type Layers map[string][]Feature

// Decode parses a vector-tile payload, gzipped or plain. Layers encoded at a
// different extent are rescaled to 4096 so downstream consumers see one
// coordinate space. A decode error fails this tile only; callers substitute
// a fallback surface.
func Decode(b []byte) (Layers, error) {
	var (
		layers mvt.Layers
		err    error
	)
	if len(b) >= 2 && b[0] == 0x1f && b[1] == 0x8b {
		layers, err = mvt.UnmarshalGzipped(b)
	} else {
		layers, err = mvt.Unmarshal(b)
	}
	if err != nil {
		return nil, fmt.Errorf("unmarshal vector tile: %w", err)
	}

	out := make(Layers, len(layers))
	for _, layer := range layers {
		scale := 1.0
		if layer.Extent != 0 && layer.Extent != tile.Extent {
			scale = float64(tile.Extent) / float64(layer.Extent)
		}

		feats := make([]Feature, 0, len(layer.Features))
		for _, f := range layer.Features {
			if f == nil || f.Geometry == nil {
				continue
			}
			g := f.Geometry
			if scale != 1.0 {
				g = scaleGeometry(g, scale)
			}
			for _, part := range flatten(g) {
				feats = append(feats, Feature{Geometry: part, Properties: f.Properties})
			}
		}
		out[layer.Name] = feats
	}
	return out, nil
}

// flatten splits multi- and collection geometries into single parts.
func flatten(g orb.Geometry) []orb.Geometry {
	switch t := g.(type) {
	case orb.Point, orb.LineString, orb.Polygon:
		return []orb.Geometry{g}
	case orb.MultiPoint:
		out := make([]orb.Geometry, 0, len(t))
		for _, p := range t {
			out = append(out, p)
		}
		return out
	case orb.MultiLineString:
		out := make([]orb.Geometry, 0, len(t))
		for _, ls := range t {
			out = append(out, ls)
		}
		return out
	case orb.MultiPolygon:
		out := make([]orb.Geometry, 0, len(t))
		for _, p := range t {
			out = append(out, p)
		}
		return out
	case orb.Collection:
		var out []orb.Geometry
		for _, sub := range t {
			out = append(out, flatten(sub)...)
		}
		return out
	}
	return nil
}

func scaleGeometry(g orb.Geometry, s float64) orb.Geometry {
	switch t := g.(type) {
	case orb.Point:
		return orb.Point{t[0] * s, t[1] * s}
	case orb.MultiPoint:
		out := make(orb.MultiPoint, len(t))
		for i, p := range t {
			out[i] = orb.Point{p[0] * s, p[1] * s}
		}
		return out
	case orb.LineString:
		out := make(orb.LineString, len(t))
		for i, p := range t {
			out[i] = orb.Point{p[0] * s, p[1] * s}
		}
		return out
	case orb.MultiLineString:
		out := make(orb.MultiLineString, len(t))
		for i, ls := range t {
			out[i] = scaleGeometry(ls, s).(orb.LineString)
		}
		return out
	case orb.Ring:
		out := make(orb.Ring, len(t))
		for i, p := range t {
			out[i] = orb.Point{p[0] * s, p[1] * s}
		}
		return out
	case orb.Polygon:
		out := make(orb.Polygon, len(t))
		for i, r := range t {
			out[i] = scaleGeometry(r, s).(orb.Ring)
		}
		return out
	case orb.MultiPolygon:
		out := make(orb.MultiPolygon, len(t))
		for i, p := range t {
			out[i] = scaleGeometry(p, s).(orb.Polygon)
		}
		return out
	case orb.Collection:
		out := make(orb.Collection, len(t))
		for i, sub := range t {
			out[i] = scaleGeometry(sub, s)
		}
		return out
	}
	return g
}
