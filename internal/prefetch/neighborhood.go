package prefetch

import "github.com/openmapper/tilepipe/internal/tile"

// Neighborhood enumerates the prefetch candidates around a center tile: for
// each zoom from centerZ-1 to centerZ+1 (clamped to [minZoom, maxZoom]) the
// center is rescaled to that zoom and every coordinate within ±radius
// (Chebyshev distance) is included, discarding coordinates outside the
// quad-tree. Building keys are appended for zooms at or above
// buildingMinZoom when includeBuildings is set.
func Neighborhood(center tile.Key, radius, minZoom, maxZoom int, includeBuildings bool, buildingMinZoom int) []tile.Key {
	zLo := center.Z - 1
	if zLo < minZoom {
		zLo = minZoom
	}
	zHi := center.Z + 1
	if zHi > maxZoom {
		zHi = maxZoom
	}

	var out []tile.Key
	for z := zLo; z <= zHi; z++ {
		c := center.RescaleTo(z)
		for dx := -radius; dx <= radius; dx++ {
			for dy := -radius; dy <= radius; dy++ {
				k := tile.New(tile.KindTile, center.Provider, z, c.X+dx, c.Y+dy)
				if !k.Valid() {
					continue
				}
				out = append(out, k)
				if includeBuildings && z >= buildingMinZoom {
					b := k
					b.Kind = tile.KindBuilding
					out = append(out, b)
				}
			}
		}
	}
	return out
}
