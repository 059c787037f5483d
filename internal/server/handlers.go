package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/openmapper/tilepipe/internal/imagery"
	"github.com/openmapper/tilepipe/internal/prefetch"
	"github.com/openmapper/tilepipe/internal/raster"
	"github.com/openmapper/tilepipe/internal/tile"
)

// HandleTile renders one tile as PNG. The provider path segment must match
// the configured upstream provider; everything else is a coordinate parse.
// Rendering itself never fails, so the only error statuses are for bad input.
func HandleTile(logger *slog.Logger, provider *imagery.Provider, providerName string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if chi.URLParam(r, "provider") != providerName {
			http.Error(w, "unknown provider", http.StatusNotFound)
			return
		}
		z, errZ := strconv.Atoi(chi.URLParam(r, "z"))
		x, errX := strconv.Atoi(chi.URLParam(r, "x"))
		y, errY := strconv.Atoi(chi.URLParam(r, "y"))
		if errZ != nil || errX != nil || errY != nil {
			http.Error(w, "bad tile coordinate", http.StatusBadRequest)
			return
		}
		if !tile.New(tile.KindTile, providerName, z, x, y).Valid() {
			http.Error(w, "tile coordinate out of range", http.StatusBadRequest)
			return
		}
		if z < provider.MinimumLevel() || z > provider.MaximumLevel() {
			http.Error(w, "zoom level not served", http.StatusNotFound)
			return
		}

		img := provider.RequestImage(r.Context(), x, y, z)
		b, err := raster.EncodePNG(img)
		if err != nil {
			logger.Error("png encode failed", "err", err)
			http.Error(w, "internal server error", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		if credit := provider.Credit(); credit != "" {
			w.Header().Set("X-Imagery-Credit", credit)
		}
		_, _ = w.Write(b)
	}
}

// HandleViewport accepts the client's current map position and feeds the
// prefetch loop. The send is non-blocking: if the scheduler is behind, the
// stale event is dropped because a newer one is coming anyway.
func HandleViewport(logger *slog.Logger, events chan<- prefetch.Viewport) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var vp prefetch.Viewport
		if err := json.NewDecoder(r.Body).Decode(&vp); err != nil {
			http.Error(w, "bad viewport body", http.StatusBadRequest)
			return
		}
		if vp.Lat < -90 || vp.Lat > 90 || vp.Lon < -180 || vp.Lon > 180 {
			http.Error(w, "viewport out of range", http.StatusBadRequest)
			return
		}
		if vp.Zoom < tile.ZoomMin || vp.Zoom > tile.ZoomMax {
			http.Error(w, "viewport zoom out of range", http.StatusBadRequest)
			return
		}

		select {
		case events <- vp:
		default:
			logger.Debug("viewport event dropped, scheduler busy",
				"lat", vp.Lat, "lon", vp.Lon, "zoom", vp.Zoom)
		}
		w.WriteHeader(http.StatusAccepted)
	}
}
