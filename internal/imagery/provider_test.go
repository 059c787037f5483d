package imagery

import (
	"context"
	"image/color"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/mvt"
	"github.com/paulmach/orb/geojson"

	"github.com/openmapper/tilepipe/internal/cache/redisstore"
	"github.com/openmapper/tilepipe/internal/cache/tilestore"
	"github.com/openmapper/tilepipe/internal/fetch"
	"github.com/openmapper/tilepipe/internal/raster"
	"github.com/openmapper/tilepipe/internal/style"
	"github.com/openmapper/tilepipe/internal/tile"
)

func discardLogger() *slog.Logger { return slog.New(slog.DiscardHandler) }

func newTestStore(t *testing.T) *tilestore.Store {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	t.Cleanup(cancel)

	cli, err := redisstore.New(ctx, mr.Addr())
	if err != nil {
		t.Fatalf("redisstore.New: %v", err)
	}
	t.Cleanup(func() { _ = cli.Close() })
	return tilestore.New(cli, discardLogger())
}

// a minimal valid tile: one full-extent water polygon
func validTile(t *testing.T) []byte {
	t.Helper()
	e := float64(tile.Extent)
	f := geojson.NewFeature(orb.Polygon{{{0, 0}, {e, 0}, {e, e}, {0, e}, {0, 0}}})
	f.Properties = geojson.Properties{"class": "lake"}
	layer := &mvt.Layer{Name: "water", Version: 2, Extent: tile.Extent, Features: []*geojson.Feature{f}}
	b, err := mvt.Marshal(mvt.Layers{layer})
	if err != nil {
		t.Fatalf("marshal fixture tile: %v", err)
	}
	return b
}

type tileServer struct {
	mu   sync.Mutex
	hits int
	body []byte
	fail bool
	junk bool
}

func (s *tileServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.hits++
	fail, junk, body := s.fail, s.junk, s.body
	s.mu.Unlock()
	switch {
	case fail:
		http.Error(w, "upstream down", http.StatusInternalServerError)
	case junk:
		_, _ = w.Write([]byte{0xff, 0xff, 0xff, 0xff})
	default:
		_, _ = w.Write(body)
	}
}

func (s *tileServer) total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits
}

func (s *tileServer) setFail(v bool) {
	s.mu.Lock()
	s.fail = v
	s.mu.Unlock()
}

func newProvider(t *testing.T, srv *tileServer) (*Provider, *tilestore.Store) {
	t.Helper()
	store := newTestStore(t)
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	f := fetch.New(discardLogger(), ts.Client(), ts.URL, store)
	p := New(discardLogger(), f, raster.New(64), style.Default(), Config{
		Provider: "osm", MaximumLevel: 18, Credit: "test tiles",
	})
	return p, store
}

func TestRequestImageFetchesOncePerTile(t *testing.T) {
	srv := &tileServer{body: validTile(t)}
	p, store := newProvider(t, srv)

	ctx := context.Background()
	first := p.RequestImage(ctx, 100, 100, 12)
	if first == nil {
		t.Fatalf("RequestImage returned nil")
	}
	if srv.total() != 1 {
		t.Fatalf("upstream hits=%d want 1", srv.total())
	}

	// Raw bytes were cached under the derived key.
	if _, ok := store.Get(ctx, tile.New(tile.KindTile, "osm", 12, 100, 100)); !ok {
		t.Fatalf("fetched bytes not cached")
	}

	// The repeat request is served without touching upstream.
	second := p.RequestImage(ctx, 100, 100, 12)
	if srv.total() != 1 {
		t.Fatalf("repeat request hit upstream: hits=%d", srv.total())
	}
	if second == nil {
		t.Fatalf("repeat RequestImage returned nil")
	}
}

func TestRequestImageFetchFailureIsTransparent(t *testing.T) {
	srv := &tileServer{fail: true}
	p, store := newProvider(t, srv)

	ctx := context.Background()
	img := p.RequestImage(ctx, 5, 5, 8)

	c := color.NRGBAModel.Convert(img.At(32, 32)).(color.NRGBA)
	if c.A != 0 {
		t.Fatalf("failed fetch rendered opaque pixel %v", c)
	}
	if n := store.Count(ctx); n != 0 {
		t.Fatalf("failed fetch populated the byte cache: count=%d", n)
	}

	// The placeholder is not pinned: once upstream recovers, the same
	// coordinate renders for real.
	srv.setFail(false)
	srv.mu.Lock()
	srv.body = validTile(t)
	srv.mu.Unlock()

	img = p.RequestImage(ctx, 5, 5, 8)
	c = color.NRGBAModel.Convert(img.At(32, 32)).(color.NRGBA)
	if c.A == 0 {
		t.Fatalf("recovered tile still transparent")
	}
}

func TestRequestImageDecodeFailureIsFlatFallback(t *testing.T) {
	srv := &tileServer{junk: true}
	p, store := newProvider(t, srv)

	ctx := context.Background()
	img := p.RequestImage(ctx, 7, 7, 9)

	c := color.NRGBAModel.Convert(img.At(32, 32)).(color.NRGBA)
	if c != raster.FallbackColor {
		t.Fatalf("decode failure pixel=%v want %v", c, raster.FallbackColor)
	}

	// The undecodable bytes stay cached, so the repeat request does not
	// refetch them.
	if _, ok := store.Get(ctx, tile.New(tile.KindTile, "osm", 9, 7, 7)); !ok {
		t.Fatalf("undecodable bytes were not cached")
	}
	_ = p.RequestImage(ctx, 7, 7, 9)
	if srv.total() != 1 {
		t.Fatalf("repeat request refetched bad payload: hits=%d", srv.total())
	}
}

func TestRequestImageRendersFromWarmCache(t *testing.T) {
	srv := &tileServer{}
	p, store := newProvider(t, srv)

	ctx := context.Background()
	key := tile.New(tile.KindTile, "osm", 12, 3, 3)
	store.Set(ctx, key, validTile(t), "")

	img := p.RequestImage(ctx, 3, 3, 12)
	if srv.total() != 0 {
		t.Fatalf("warm cache request hit upstream: hits=%d", srv.total())
	}
	c := color.NRGBAModel.Convert(img.At(32, 32)).(color.NRGBA)
	if c.A == 0 {
		t.Fatalf("warm tile rendered transparent")
	}
}

func TestStaleRenderExpiresWithByteCache(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	t.Cleanup(cancel)

	cli, err := redisstore.New(ctx, mr.Addr())
	if err != nil {
		t.Fatalf("redisstore.New: %v", err)
	}
	t.Cleanup(func() { _ = cli.Close() })

	now := time.Unix(1700000000, 0)
	clock := func() time.Time { return now }
	store := tilestore.New(cli, discardLogger(),
		tilestore.WithClock(clock),
		tilestore.WithMaxAge(time.Hour),
	)

	srv := &tileServer{body: validTile(t)}
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	f := fetch.New(discardLogger(), ts.Client(), ts.URL, store)
	p := New(discardLogger(), f, raster.New(64), style.Default(), Config{
		Provider: "osm", MaximumLevel: 18, MaxAge: time.Hour,
	})
	p.now = clock

	reqCtx := context.Background()
	_ = p.RequestImage(reqCtx, 1, 2, 10)
	_ = p.RequestImage(reqCtx, 1, 2, 10)
	if srv.total() != 1 {
		t.Fatalf("fresh requests hit upstream %d times, want 1", srv.total())
	}

	// Past maxAge the rendered surface may not be served from the in-process
	// cache: the byte store's lazy expiry reports a miss and the tile is
	// refetched.
	now = now.Add(2 * time.Hour)
	_ = p.RequestImage(reqCtx, 1, 2, 10)
	if srv.total() != 2 {
		t.Fatalf("stale render served without refetch: hits=%d want 2", srv.total())
	}
}

func TestProviderMetadata(t *testing.T) {
	srv := &tileServer{}
	p, _ := newProvider(t, srv)

	if p.TileWidth() != 64 || p.TileHeight() != 64 {
		t.Fatalf("tile size=%dx%d want 64x64", p.TileWidth(), p.TileHeight())
	}
	if p.MinimumLevel() != 0 || p.MaximumLevel() != 18 {
		t.Fatalf("levels=[%d,%d] want [0,18]", p.MinimumLevel(), p.MaximumLevel())
	}
	if p.Credit() != "test tiles" {
		t.Fatalf("credit=%q", p.Credit())
	}

	r := p.Rectangle()
	if r.West != -180 || r.East != 180 {
		t.Fatalf("rectangle west/east=%v/%v want -180/180", r.West, r.East)
	}
	// Web-mercator latitude cutoff.
	if math.Abs(r.North-85.0511) > 0.001 || math.Abs(r.South+85.0511) > 0.001 {
		t.Fatalf("rectangle north/south=%v/%v want ±85.0511", r.North, r.South)
	}
}
