// Package imagery adapts the tile pipeline to an imagery-provider surface:
// a caller asks for (x, y, level) and always gets an image back. Failures
// degrade to placeholder surfaces instead of errors, because a map viewer
// with a hole in it is worse than a map viewer with a blank tile.
package imagery

import (
	"context"
	"image"
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/openmapper/tilepipe/internal/fetch"
	"github.com/openmapper/tilepipe/internal/mvt"
	"github.com/openmapper/tilepipe/internal/observability"
	"github.com/openmapper/tilepipe/internal/raster"
	"github.com/openmapper/tilepipe/internal/style"
	"github.com/openmapper/tilepipe/internal/tile"
)

// Rectangle is the provider's geographic coverage in degrees.
type Rectangle struct {
	West  float64
	South float64
	East  float64
	North float64
}

type Config struct {
	Provider        string
	MinimumLevel    int
	MaximumLevel    int
	Credit          string
	RenderCacheSize int

	// MaxAge bounds how long a rendered surface may be served from the
	// in-process cache. It should match the byte store's max age so a hot
	// tile cannot outlive the store's lazy expiry. Zero means no bound.
	MaxAge time.Duration
}

// Provider renders cached vector tiles into raster imagery.
type Provider struct {
	logger   *slog.Logger
	fetcher  *fetch.Fetcher
	renderer *raster.Renderer
	style    *style.Style
	styleFP  uint64
	cfg      Config
	renders  *lru.Cache[renderKey, cachedRender]
	now      func() time.Time
}

// renderKey pins a cached raster to both the tile and the exact style it was
// rendered under, so swapping styles can never serve stale imagery.
type renderKey struct {
	tile    string
	styleFP uint64
}

type cachedRender struct {
	img        image.Image
	renderedAt time.Time
}

func New(logger *slog.Logger, fetcher *fetch.Fetcher, renderer *raster.Renderer, st *style.Style, cfg Config) *Provider {
	if cfg.MaximumLevel <= 0 {
		cfg.MaximumLevel = 18
	}
	if cfg.RenderCacheSize <= 0 {
		cfg.RenderCacheSize = 256
	}
	renders, err := lru.New[renderKey, cachedRender](cfg.RenderCacheSize)
	if err != nil {
		// Only reachable with a non-positive size, which is clamped above.
		panic(err)
	}
	return &Provider{
		logger:   logger,
		fetcher:  fetcher,
		renderer: renderer,
		style:    st,
		styleFP:  st.Fingerprint(),
		cfg:      cfg,
		renders:  renders,
		now:      time.Now,
	}
}

func (p *Provider) TileWidth() int    { return p.renderer.SizePx() }
func (p *Provider) TileHeight() int   { return p.renderer.SizePx() }
func (p *Provider) MinimumLevel() int { return p.cfg.MinimumLevel }
func (p *Provider) MaximumLevel() int { return p.cfg.MaximumLevel }
func (p *Provider) Credit() string    { return p.cfg.Credit }

// Rectangle is the world coverage of the XYZ quad-tree: the bounds of the
// single tile at level zero.
func (p *Provider) Rectangle() Rectangle {
	b := tile.New(tile.KindTile, p.cfg.Provider, 0, 0, 0).Bound()
	return Rectangle{
		West:  b.Min[0],
		South: b.Min[1],
		East:  b.Max[0],
		North: b.Max[1],
	}
}

// RequestImage returns the rendered surface for a tile coordinate. It never
// fails: a tile that cannot be fetched renders transparent, a tile that
// fetches but cannot be decoded renders a flat fallback. Fetched bytes are
// cached even when decode fails, so the bad payload is not refetched.
// Placeholder surfaces are not cached, so transient failures retry on the
// next request.
func (p *Provider) RequestImage(ctx context.Context, x, y, level int) image.Image {
	key := tile.New(tile.KindTile, p.cfg.Provider, level, x, y)
	rk := renderKey{tile: key.String(), styleFP: p.styleFP}

	if ent, ok := p.renders.Get(rk); ok {
		if p.cfg.MaxAge <= 0 || p.now().Sub(ent.renderedAt) <= p.cfg.MaxAge {
			observability.IncRenderCacheHit()
			return ent.img
		}
		// Stale render: drop it and fall through to the byte store, whose
		// lazy age expiry gives the authoritative freshness verdict.
		p.renders.Remove(rk)
	}
	observability.IncRenderCacheMiss()

	b, _, err := p.fetcher.GetOrFetch(ctx, key)
	if err != nil {
		p.logger.Debug("tile fetch failed, serving transparent",
			"tile", key.String(), "err", err)
		return raster.Transparent(p.renderer.SizePx())
	}

	layers, err := mvt.Decode(b)
	if err != nil {
		observability.IncDecodeFailure()
		p.logger.Warn("tile decode failed, serving fallback",
			"tile", key.String(), "err", err)
		return raster.Flat(raster.FallbackColor, p.renderer.SizePx())
	}

	img := p.renderer.Render(layers, p.style, level)
	p.renders.Add(rk, cachedRender{img: img, renderedAt: p.now()})
	return img
}
