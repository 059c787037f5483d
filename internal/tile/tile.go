// Package tile defines tile keys and coordinate math for the XYZ quad-tree.
package tile

import (
	"fmt"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
)

// Extent is the local coordinate range vector-tile geometry is encoded in,
// independent of output pixel size.
const Extent = 4096

const (
	ZoomMin = 0
	ZoomMax = 22
)

// Kind distinguishes the cached artifact types sharing the key space.
type Kind string

const (
	KindTile     Kind = "tile"
	KindBuilding Kind = "building"
)

// Key identifies one cached artifact: (kind, provider, z, x, y).
type Key struct {
	Kind     Kind
	Provider string
	Z        int
	X        int
	Y        int
}

func New(kind Kind, provider string, z, x, y int) Key {
	return Key{Kind: kind, Provider: provider, Z: z, X: x, Y: y}
}

// String renders the derived store key: ${kind}_${provider}_${z}_${x}_${y}.
func (k Key) String() string {
	return fmt.Sprintf("%s_%s_%d_%d_%d", k.Kind, k.Provider, k.Z, k.X, k.Y)
}

// Valid reports whether the coordinate lies inside the quad-tree at its zoom.
func (k Key) Valid() bool {
	if k.Z < ZoomMin || k.Z > ZoomMax {
		return false
	}
	n := 1 << uint(k.Z)
	return k.X >= 0 && k.X < n && k.Y >= 0 && k.Y < n
}

// RescaleTo maps the tile coordinate to another zoom level,
// scale = 2^(z - k.Z), truncating toward the containing tile when zooming out.
func (k Key) RescaleTo(z int) Key {
	out := k
	out.Z = z
	switch {
	case z > k.Z:
		shift := uint(z - k.Z)
		out.X = k.X << shift
		out.Y = k.Y << shift
	case z < k.Z:
		shift := uint(k.Z - z)
		out.X = k.X >> shift
		out.Y = k.Y >> shift
	}
	return out
}

// Bound returns the geographic bounds of the tile in degrees.
func (k Key) Bound() orb.Bound {
	return maptile.New(uint32(k.X), uint32(k.Y), maptile.Zoom(k.Z)).Bound()
}

// At returns the tile coordinate containing the given position.
func At(lat, lon float64, zoom int, kind Kind, provider string) Key {
	t := maptile.At(orb.Point{lon, lat}, maptile.Zoom(zoom))
	return Key{Kind: kind, Provider: provider, Z: int(t.Z), X: int(t.X), Y: int(t.Y)}
}

// SourceURL builds the upstream URL for a key:
// {base}/tiles/{provider}/{z}/{x}/{y}.pbf for primary tiles and
// {base}/buildings/{provider}/{z}/{x}/{y}.json for building footprints.
func SourceURL(base string, k Key) string {
	base = strings.TrimRight(base, "/")
	if k.Kind == KindBuilding {
		return fmt.Sprintf("%s/buildings/%s/%d/%d/%d.json", base, k.Provider, k.Z, k.X, k.Y)
	}
	return fmt.Sprintf("%s/tiles/%s/%d/%d/%d.pbf", base, k.Provider, k.Z, k.X, k.Y)
}
