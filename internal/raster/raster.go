// Package raster paints decoded vector-tile layers onto a square pixel
// surface according to a style. Rendering is pure: the same layers, style,
// and size always produce the same image, which is what makes caching the
// rendered surface safe.
package raster

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"time"

	"github.com/fogleman/gg"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"

	"github.com/openmapper/tilepipe/internal/mvt"
	"github.com/openmapper/tilepipe/internal/observability"
	"github.com/openmapper/tilepipe/internal/style"
	"github.com/openmapper/tilepipe/internal/tile"
)

// FallbackColor fills the surface when a tile payload cannot be decoded.
var FallbackColor = color.NRGBA{R: 0xe0, G: 0xe0, B: 0xe0, A: 0xff}

type Option func(*Renderer)

// WithFontFace overrides the label font.
func WithFontFace(face font.Face) Option {
	return func(r *Renderer) { r.face = face }
}

// WithFontPath loads a TTF for labels; the built-in bitmap font stays in
// place if loading fails.
func WithFontPath(path string, points float64) Option {
	return func(r *Renderer) {
		face, err := gg.LoadFontFace(path, points)
		if err == nil {
			r.face = face
		}
	}
}

// Renderer rasterizes tiles at a fixed output size. Safe for concurrent use;
// each Render call draws on its own context.
type Renderer struct {
	sizePx int
	face   font.Face
}

func New(sizePx int, opts ...Option) *Renderer {
	r := &Renderer{sizePx: sizePx, face: basicfont.Face7x13}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *Renderer) SizePx() int { return r.sizePx }

// Render paints the style's layers in document order. Tile-local coordinates
// scale linearly onto the surface, so extent-edge coordinates land exactly on
// the pixel edge.
func (r *Renderer) Render(layers mvt.Layers, st *style.Style, zoom int) image.Image {
	start := time.Now()
	defer func() { observability.ObserveRender(time.Since(start).Seconds()) }()

	dc := gg.NewContext(r.sizePx, r.sizePx)
	scale := float64(r.sizePx) / float64(tile.Extent)

	for _, l := range st.DrawOrder() {
		if !l.VisibleAt(zoom) {
			continue
		}
		if l.Type == style.TypeBackground {
			r.drawBackground(dc, &l)
			continue
		}
		for _, f := range layers[l.SourceLayer] {
			if !l.Matches(f.Properties) {
				continue
			}
			switch l.Type {
			case style.TypeFill:
				r.drawFill(dc, &l, f, scale)
			case style.TypeLine:
				r.drawLine(dc, &l, f, scale)
			case style.TypeCircle:
				r.drawCircle(dc, &l, f, scale)
			case style.TypeSymbol:
				r.drawSymbol(dc, &l, f, scale)
			}
		}
	}
	return dc.Image()
}

func (r *Renderer) drawBackground(dc *gg.Context, l *style.Layer) {
	c := l.PaintColor("background-color", nil, color.NRGBA{R: 0xf8, G: 0xf4, B: 0xf0, A: 0xff})
	dc.SetColor(withOpacity(c, l.PaintFloat("background-opacity", nil, 1)))
	dc.Clear()
}

func (r *Renderer) drawFill(dc *gg.Context, l *style.Layer, f mvt.Feature, scale float64) {
	poly, ok := f.Geometry.(orb.Polygon)
	if !ok {
		return
	}
	c := l.PaintColor("fill-color", f.Properties, color.NRGBA{A: 0xff})
	dc.SetColor(withOpacity(c, l.PaintFloat("fill-opacity", f.Properties, 1)))
	for _, ring := range poly {
		if len(ring) < 3 {
			continue
		}
		dc.MoveTo(ring[0][0]*scale, ring[0][1]*scale)
		for _, p := range ring[1:] {
			dc.LineTo(p[0]*scale, p[1]*scale)
		}
		dc.ClosePath()
	}
	// Even-odd so interior rings cut holes.
	dc.SetFillRuleEvenOdd()
	dc.Fill()
}

func (r *Renderer) drawLine(dc *gg.Context, l *style.Layer, f mvt.Feature, scale float64) {
	var points []orb.Point
	switch g := f.Geometry.(type) {
	case orb.LineString:
		points = g
	case orb.Polygon:
		// Line layers may stroke polygon outlines (e.g. boundaries).
		if len(g) > 0 {
			points = g[0]
		}
	}
	if len(points) < 2 {
		return
	}
	c := l.PaintColor("line-color", f.Properties, color.NRGBA{A: 0xff})
	dc.SetColor(withOpacity(c, l.PaintFloat("line-opacity", f.Properties, 1)))
	dc.SetLineWidth(l.PaintFloat("line-width", f.Properties, 1) * scaleUp(scale))
	dc.SetLineCapRound()
	dc.SetLineJoinRound()
	dc.MoveTo(points[0][0]*scale, points[0][1]*scale)
	for _, p := range points[1:] {
		dc.LineTo(p[0]*scale, p[1]*scale)
	}
	dc.Stroke()
}

func (r *Renderer) drawCircle(dc *gg.Context, l *style.Layer, f mvt.Feature, scale float64) {
	p, ok := f.Geometry.(orb.Point)
	if !ok {
		return
	}
	radius := l.PaintFloat("circle-radius", f.Properties, 3) * scaleUp(scale)
	fill := l.PaintColor("circle-color", f.Properties, color.NRGBA{A: 0xff})
	dc.SetColor(fill)
	dc.DrawCircle(p[0]*scale, p[1]*scale, radius)
	dc.Fill()

	if sw := l.PaintFloat("circle-stroke-width", f.Properties, 0); sw > 0 {
		dc.SetColor(l.PaintColor("circle-stroke-color", f.Properties, color.NRGBA{A: 0xff}))
		dc.SetLineWidth(sw * scaleUp(scale))
		dc.DrawCircle(p[0]*scale, p[1]*scale, radius)
		dc.Stroke()
	}
}

func (r *Renderer) drawSymbol(dc *gg.Context, l *style.Layer, f mvt.Feature, scale float64) {
	text := expandTemplate(l.LayoutString("text-field", f.Properties, ""), f.Properties)
	if text == "" {
		return
	}
	anchor := anchorPoint(f.Geometry)
	x, y := anchor[0]*scale, anchor[1]*scale

	dc.SetFontFace(r.face)
	if hw := l.PaintFloat("text-halo-width", f.Properties, 1); hw > 0 {
		halo := l.PaintColor("text-halo-color", f.Properties, color.NRGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff})
		dc.SetColor(halo)
		for _, d := range [][2]float64{
			{-hw, -hw}, {0, -hw}, {hw, -hw},
			{-hw, 0}, {hw, 0},
			{-hw, hw}, {0, hw}, {hw, hw},
		} {
			dc.DrawStringAnchored(text, x+d[0], y+d[1], 0.5, 0.5)
		}
	}
	dc.SetColor(l.PaintColor("text-color", f.Properties, color.NRGBA{A: 0xff}))
	dc.DrawStringAnchored(text, x, y, 0.5, 0.5)
}

// expandTemplate substitutes {prop} placeholders with property values.
func expandTemplate(tmpl string, props geojson.Properties) string {
	var out []byte
	for i := 0; i < len(tmpl); i++ {
		if tmpl[i] != '{' {
			out = append(out, tmpl[i])
			continue
		}
		end := i + 1
		for end < len(tmpl) && tmpl[end] != '}' {
			end++
		}
		if end == len(tmpl) {
			out = append(out, tmpl[i:]...)
			break
		}
		name := tmpl[i+1 : end]
		if v, ok := props[name]; ok {
			out = append(out, fmt.Sprint(v)...)
		}
		i = end
	}
	return string(out)
}

func anchorPoint(g orb.Geometry) orb.Point {
	if p, ok := g.(orb.Point); ok {
		return p
	}
	return g.Bound().Center()
}

// scaleUp keeps stroke widths and radii from collapsing when rendering below
// the nominal 256px size; at or above it they scale with the surface.
func scaleUp(scale float64) float64 {
	px := scale * float64(tile.Extent) / 256
	if px < 1 {
		return 1
	}
	return px
}

func withOpacity(c color.NRGBA, opacity float64) color.NRGBA {
	if opacity >= 1 {
		return c
	}
	if opacity < 0 {
		opacity = 0
	}
	c.A = uint8(float64(c.A)*opacity + 0.5)
	return c
}

// Transparent returns a fully transparent surface, the stand-in for a tile
// that could not be fetched.
func Transparent(sizePx int) image.Image {
	return image.NewNRGBA(image.Rect(0, 0, sizePx, sizePx))
}

// Flat returns a single-color surface, the stand-in for a tile that fetched
// but could not be decoded.
func Flat(c color.Color, sizePx int) image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, sizePx, sizePx))
	r, g, b, a := c.RGBA()
	nrgba := color.NRGBA{uint8(r >> 8), uint8(g >> 8), uint8(b >> 8), uint8(a >> 8)}
	for y := 0; y < sizePx; y++ {
		for x := 0; x < sizePx; x++ {
			img.SetNRGBA(x, y, nrgba)
		}
	}
	return img
}

// EncodePNG serializes a rendered surface for the HTTP tile endpoint.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}
