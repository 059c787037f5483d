// Package style holds the restricted styling model used to rasterize vector
// tiles: an ordered list of layers, each with a predicate over feature
// properties and paint/layout values that are either literals or small case
// expressions. The language is deliberately not a general expression engine;
// anything it cannot express belongs in a new named paint property.
package style

import (
	"encoding/json"
	"fmt"
	"image/color"
	"os"

	"github.com/cespare/xxhash/v2"
	"github.com/paulmach/orb/geojson"
	colors "gopkg.in/go-playground/colors.v1"
)

// LayerType selects the draw primitive for a layer.
type LayerType string

const (
	TypeBackground LayerType = "background"
	TypeFill       LayerType = "fill"
	TypeLine       LayerType = "line"
	TypeCircle     LayerType = "circle"
	TypeSymbol     LayerType = "symbol"
)

// Layer is one draw pass. Layers render strictly in document order; there is
// no z-index.
type Layer struct {
	ID          string           `json:"id"`
	Type        LayerType        `json:"type"`
	SourceLayer string           `json:"source-layer,omitempty"`
	Filter      *Filter          `json:"filter,omitempty"`
	MinZoom     int              `json:"minzoom,omitempty"`
	MaxZoom     int              `json:"maxzoom,omitempty"`
	Paint       map[string]Value `json:"paint,omitempty"`
	Layout      map[string]Value `json:"layout,omitempty"`
}

// Matches reports whether the layer draws the given feature.
func (l *Layer) Matches(props geojson.Properties) bool {
	return l.Filter.Matches(props)
}

// VisibleAt reports whether the layer draws at the given zoom. MaxZoom of
// zero means unbounded.
func (l *Layer) VisibleAt(zoom int) bool {
	if zoom < l.MinZoom {
		return false
	}
	if l.MaxZoom > 0 && zoom > l.MaxZoom {
		return false
	}
	return true
}

// PaintColor resolves a paint property to a color, falling back to def when
// the property is absent or does not parse.
func (l *Layer) PaintColor(name string, props geojson.Properties, def color.NRGBA) color.NRGBA {
	v, ok := l.Paint[name]
	if !ok {
		return def
	}
	s, ok := v.Resolve(props).(string)
	if !ok {
		return def
	}
	c, ok := ParseColor(s)
	if !ok {
		return def
	}
	return c
}

// PaintFloat resolves a numeric paint property, falling back to def.
func (l *Layer) PaintFloat(name string, props geojson.Properties, def float64) float64 {
	v, ok := l.Paint[name]
	if !ok {
		return def
	}
	f, ok := toFloat(v.Resolve(props))
	if !ok {
		return def
	}
	return f
}

// LayoutString resolves a string layout property, falling back to def.
func (l *Layer) LayoutString(name string, props geojson.Properties, def string) string {
	v, ok := l.Layout[name]
	if !ok {
		return def
	}
	s, ok := v.Resolve(props).(string)
	if !ok {
		return def
	}
	return s
}

// LayoutFloat resolves a numeric layout property, falling back to def.
func (l *Layer) LayoutFloat(name string, props geojson.Properties, def float64) float64 {
	v, ok := l.Layout[name]
	if !ok {
		return def
	}
	f, ok := toFloat(v.Resolve(props))
	if !ok {
		return def
	}
	return f
}

// Style is a named, ordered set of layers.
type Style struct {
	Name   string  `json:"name"`
	Layers []Layer `json:"layers"`
}

// DrawOrder returns the layers in render order, first painted first.
func (s *Style) DrawOrder() []Layer { return s.Layers }

// Fingerprint hashes the style document so render caches keyed on it are
// invalidated when the style changes.
func (s *Style) Fingerprint() uint64 {
	b, err := json.Marshal(s)
	if err != nil {
		return 0
	}
	return xxhash.Sum64(b)
}

// Parse decodes and validates a style document.
func Parse(b []byte) (*Style, error) {
	var s Style
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("parse style: %w", err)
	}
	if len(s.Layers) == 0 {
		return nil, fmt.Errorf("style %q has no layers", s.Name)
	}
	seen := make(map[string]bool, len(s.Layers))
	for i, l := range s.Layers {
		if l.ID == "" {
			return nil, fmt.Errorf("style %q: layer %d has no id", s.Name, i)
		}
		if seen[l.ID] {
			return nil, fmt.Errorf("style %q: duplicate layer id %q", s.Name, l.ID)
		}
		seen[l.ID] = true
		switch l.Type {
		case TypeBackground, TypeFill, TypeLine, TypeCircle, TypeSymbol:
		default:
			return nil, fmt.Errorf("style %q: layer %q has unknown type %q", s.Name, l.ID, l.Type)
		}
		if l.Type != TypeBackground && l.SourceLayer == "" {
			return nil, fmt.Errorf("style %q: layer %q needs a source-layer", s.Name, l.ID)
		}
	}
	return &s, nil
}

// Load reads a style document from disk.
func Load(path string) (*Style, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read style %s: %w", path, err)
	}
	return Parse(b)
}

// ParseColor parses a CSS color string (hex, rgb(), rgba()).
func ParseColor(s string) (color.NRGBA, bool) {
	c, err := colors.Parse(s)
	if err != nil {
		return color.NRGBA{}, false
	}
	r := c.ToRGBA()
	a := r.A
	if a < 0 {
		a = 0
	}
	if a > 1 {
		a = 1
	}
	return color.NRGBA{R: r.R, G: r.G, B: r.B, A: uint8(a*255 + 0.5)}, true
}

// Default is the built-in style used when no style document is configured:
// a light basemap with water, landuse, roads, buildings, and place labels.
func Default() *Style {
	return &Style{
		Name: "tilepipe-basic",
		Layers: []Layer{
			{
				ID:    "background",
				Type:  TypeBackground,
				Paint: map[string]Value{"background-color": Lit("#f8f4f0")},
			},
			{
				ID:          "landuse",
				Type:        TypeFill,
				SourceLayer: "landuse",
				Filter:      mustFilter(`["in","class","grass","park","wood","forest"]`),
				Paint:       map[string]Value{"fill-color": Lit("#d8e8c8")},
			},
			{
				ID:          "water",
				Type:        TypeFill,
				SourceLayer: "water",
				Paint:       map[string]Value{"fill-color": Lit("#a0c8f0")},
			},
			{
				ID:          "waterway",
				Type:        TypeLine,
				SourceLayer: "waterway",
				Paint: map[string]Value{
					"line-color": Lit("#a0c8f0"),
					"line-width": Lit(1.5),
				},
			},
			{
				ID:          "roads",
				Type:        TypeLine,
				SourceLayer: "transportation",
				Filter:      mustFilter(`["!in","class","rail","transit"]`),
				Paint: map[string]Value{
					"line-color": ByCase("#ffffff",
						Case{When: mustFilter(`["==","class","motorway"]`), Value: "#fc8"},
						Case{When: mustFilter(`["in","class","primary","trunk"]`), Value: "#fea"},
					),
					"line-width": ByCase(1.0,
						Case{When: mustFilter(`["==","class","motorway"]`), Value: 4.0},
						Case{When: mustFilter(`["in","class","primary","trunk"]`), Value: 2.5},
					),
				},
			},
			{
				ID:          "buildings",
				Type:        TypeFill,
				SourceLayer: "building",
				MinZoom:     13,
				Paint: map[string]Value{
					"fill-color":   Lit("#d9d0c9"),
					"fill-opacity": Lit(0.8),
				},
			},
			{
				ID:          "place-dots",
				Type:        TypeCircle,
				SourceLayer: "place",
				Filter:      mustFilter(`["in","class","city","town"]`),
				Paint: map[string]Value{
					"circle-color":  Lit("#666666"),
					"circle-radius": Lit(2.0),
				},
			},
			{
				ID:          "place-labels",
				Type:        TypeSymbol,
				SourceLayer: "place",
				Filter:      mustFilter(`["all",["has","name"],["in","class","city","town"]]`),
				Layout:      map[string]Value{"text-field": Lit("{name}")},
				Paint: map[string]Value{
					"text-color":      Lit("#333333"),
					"text-halo-color": Lit("#ffffff"),
				},
			},
		},
	}
}

func mustFilter(src string) *Filter {
	f := &Filter{}
	if err := json.Unmarshal([]byte(src), f); err != nil {
		panic(fmt.Sprintf("built-in filter %s: %v", src, err))
	}
	return f
}
