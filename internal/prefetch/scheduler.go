// Package prefetch speculatively warms the tile cache around the current
// viewport. Prefetch is best-effort: it throttles itself, drops failures
// silently, and its only observable effect is a warmer cache.
package prefetch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/openmapper/tilepipe/internal/cache"
	"github.com/openmapper/tilepipe/internal/fetch"
	"github.com/openmapper/tilepipe/internal/observability"
	"github.com/openmapper/tilepipe/internal/tile"
)

// Viewport is the latest map position; racing updates supersede each other.
type Viewport struct {
	Lat  float64 `json:"lat"`
	Lon  float64 `json:"lon"`
	Zoom int     `json:"zoom"`
}

type Config struct {
	Provider         string
	Radius           int
	BatchSize        int
	Pause            time.Duration
	MinZoom          int
	MaxZoom          int
	IncludeBuildings bool
	BuildingMinZoom  int
}

type Scheduler struct {
	logger  *slog.Logger
	store   cache.Store
	fetcher *fetch.Fetcher
	cfg     Config
}

func New(logger *slog.Logger, store cache.Store, fetcher *fetch.Fetcher, cfg Config) *Scheduler {
	if cfg.Radius <= 0 {
		cfg.Radius = 2
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 5
	}
	if cfg.Pause <= 0 {
		cfg.Pause = 100 * time.Millisecond
	}
	return &Scheduler{logger: logger, store: store, fetcher: fetcher, cfg: cfg}
}

// Prefetch warms the cache around center. Tiles already cached are skipped;
// the rest are fetched in fixed-size concurrent batches with a pause between
// batches so prefetch never starves interactive requests. Failed fetches are
// dropped without surfacing an error.
func (s *Scheduler) Prefetch(ctx context.Context, center tile.Key) {
	candidates := Neighborhood(center, s.cfg.Radius, s.cfg.MinZoom, s.cfg.MaxZoom,
		s.cfg.IncludeBuildings, s.cfg.BuildingMinZoom)

	missing := make([]tile.Key, 0, len(candidates))
	for _, k := range candidates {
		if ctx.Err() != nil {
			return
		}
		if _, ok := s.store.Get(ctx, k); ok {
			continue
		}
		missing = append(missing, k)
	}
	observability.AddPrefetchSkipped(len(candidates) - len(missing))
	observability.AddPrefetchScheduled(len(missing))

	s.logger.Debug("prefetch neighborhood",
		"center", center.String(),
		"candidates", len(candidates),
		"missing", len(missing))

	for i := 0; i < len(missing); i += s.cfg.BatchSize {
		if ctx.Err() != nil {
			return
		}
		end := i + s.cfg.BatchSize
		if end > len(missing) {
			end = len(missing)
		}

		var wg sync.WaitGroup
		for _, k := range missing[i:end] {
			wg.Add(1)
			go func(k tile.Key) {
				defer wg.Done()
				// Read-through so the write carries the source URL; the
				// extra cache check is cheap and catches tiles that landed
				// since the candidate scan.
				if _, _, err := s.fetcher.GetOrFetch(ctx, k); err != nil {
					s.logger.Debug("prefetch fetch dropped", "tile", k.String(), "err", err)
				}
			}(k)
		}
		wg.Wait()

		if end < len(missing) {
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.cfg.Pause):
			}
		}
	}
}

// Run consumes viewport events until ctx is done or the channel closes. Each
// event supersedes the previous one: the in-progress prefetch is canceled so
// stale neighborhoods stop consuming batch slots promptly. Fetches already
// dispatched may still complete and populate the cache, which is harmless.
func (s *Scheduler) Run(ctx context.Context, events <-chan Viewport) {
	var cancelPrev context.CancelFunc
	defer func() {
		if cancelPrev != nil {
			cancelPrev()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case vp, ok := <-events:
			if !ok {
				return
			}
			if cancelPrev != nil {
				cancelPrev()
			}
			pctx, cancel := context.WithCancel(ctx)
			cancelPrev = cancel

			center := tile.At(vp.Lat, vp.Lon, clampZoom(vp.Zoom, s.cfg.MinZoom, s.cfg.MaxZoom),
				tile.KindTile, s.cfg.Provider)
			go s.Prefetch(pctx, center)
		}
	}
}

func clampZoom(z, lo, hi int) int {
	if z < lo {
		return lo
	}
	if z > hi {
		return hi
	}
	return z
}
