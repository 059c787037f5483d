package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/mvt"
	"github.com/paulmach/orb/geojson"

	"github.com/openmapper/tilepipe/internal/cache/redisstore"
	"github.com/openmapper/tilepipe/internal/cache/tilestore"
	"github.com/openmapper/tilepipe/internal/config"
	"github.com/openmapper/tilepipe/internal/fetch"
	"github.com/openmapper/tilepipe/internal/imagery"
	"github.com/openmapper/tilepipe/internal/prefetch"
	"github.com/openmapper/tilepipe/internal/raster"
	"github.com/openmapper/tilepipe/internal/style"
	"github.com/openmapper/tilepipe/internal/tile"
)

func discardLogger() *slog.Logger { return slog.New(slog.DiscardHandler) }

func validTile(t *testing.T) []byte {
	t.Helper()
	e := float64(tile.Extent)
	f := geojson.NewFeature(orb.Polygon{{{0, 0}, {e, 0}, {e, e}, {0, e}, {0, 0}}})
	layer := &mvt.Layer{Name: "water", Version: 2, Extent: tile.Extent, Features: []*geojson.Feature{f}}
	b, err := mvt.Marshal(mvt.Layers{layer})
	if err != nil {
		t.Fatalf("marshal fixture tile: %v", err)
	}
	return b
}

func newTestRouter(t *testing.T, events chan prefetch.Viewport, ping func(context.Context) error) (http.Handler, *tilestore.Store) {
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
	store := tilestore.New(cli, discardLogger())

	// No upstream: every tile must come from the warm cache or degrade.
	f := fetch.New(discardLogger(), &http.Client{Timeout: 100 * time.Millisecond},
		"http://127.0.0.1:0", store)
	provider := imagery.New(discardLogger(), f, raster.New(64), style.Default(), imagery.Config{
		Provider: "osm", MaximumLevel: 18,
	})

	if ping == nil {
		ping = cli.Ping
	}
	cfg := config.Config{Addr: ":0", Provider: "osm"}
	return NewRouter(cfg, discardLogger(), provider, events, ping), store
}

func TestTileEndpointServesPNG(t *testing.T) {
	router, store := newTestRouter(t, make(chan prefetch.Viewport, 1), nil)

	key := tile.New(tile.KindTile, "osm", 12, 3, 3)
	store.Set(context.Background(), key, validTile(t), "")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/tiles/osm/12/3/3.png", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d want 200: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/png" {
		t.Fatalf("content-type=%q", ct)
	}
	body := rec.Body.Bytes()
	if len(body) < 8 || string(body[1:4]) != "PNG" {
		t.Fatalf("response is not a PNG (%d bytes)", len(body))
	}
}

func TestTileEndpointNeverFailsOnMiss(t *testing.T) {
	// Upstream is unreachable; the endpoint still answers 200 with a
	// transparent tile.
	router, _ := newTestRouter(t, make(chan prefetch.Viewport, 1), nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/tiles/osm/10/1/1.png", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d want 200", rec.Code)
	}
}

func TestTileEndpointRejectsBadInput(t *testing.T) {
	router, _ := newTestRouter(t, make(chan prefetch.Viewport, 1), nil)

	cases := []struct {
		path string
		want int
	}{
		{"/tiles/osm/12/abc/3.png", http.StatusBadRequest},
		{"/tiles/osm/12/9999999/3.png", http.StatusBadRequest},
		{"/tiles/osm/25/0/0.png", http.StatusBadRequest},
		{"/tiles/other/12/3/3.png", http.StatusNotFound},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tc.path, nil))
		if rec.Code != tc.want {
			t.Fatalf("%s status=%d want %d", tc.path, rec.Code, tc.want)
		}
	}
}

func TestViewportEndpointFeedsScheduler(t *testing.T) {
	events := make(chan prefetch.Viewport, 1)
	router, _ := newTestRouter(t, events, nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/viewport",
		strings.NewReader(`{"lat":59.91,"lon":10.75,"zoom":12}`))
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status=%d want 202: %s", rec.Code, rec.Body.String())
	}
	select {
	case vp := <-events:
		if vp.Zoom != 12 || vp.Lat != 59.91 {
			t.Fatalf("event=%+v", vp)
		}
	default:
		t.Fatalf("no viewport event queued")
	}
}

func TestViewportEndpointRejectsBadBody(t *testing.T) {
	router, _ := newTestRouter(t, make(chan prefetch.Viewport, 1), nil)

	cases := []string{
		`not json`,
		`{"lat":99,"lon":0,"zoom":12}`,
		`{"lat":0,"lon":200,"zoom":12}`,
		`{"lat":0,"lon":0,"zoom":40}`,
	}
	for _, body := range cases {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/viewport", strings.NewReader(body)))
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("body %q status=%d want 400", body, rec.Code)
		}
	}
}

func TestViewportEndpointDropsWhenBusy(t *testing.T) {
	events := make(chan prefetch.Viewport) // unbuffered, nobody reading
	router, _ := newTestRouter(t, events, nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/viewport",
		strings.NewReader(`{"lat":1,"lon":1,"zoom":5}`))
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("busy scheduler changed the response: status=%d", rec.Code)
	}
}

func TestHealthEndpoints(t *testing.T) {
	router, _ := newTestRouter(t, make(chan prefetch.Viewport, 1), nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz status=%d", rec.Code)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("readyz status=%d", rec.Code)
	}
}

func TestReadyzReportsStoreOutage(t *testing.T) {
	down := func(context.Context) error { return errors.New("store down") }
	router, _ := newTestRouter(t, make(chan prefetch.Viewport, 1), down)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz status=%d want 503", rec.Code)
	}
}
