// Package observability exposes Prometheus metrics for the tile pipeline.
package observability

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		},
		[]string{"method", "route", "status"},
	)

	cacheOpTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_op_total",
			Help: "Tile cache store operations by outcome.",
		},
		[]string{"op", "outcome"},
	)

	cacheOpDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cache_op_duration_seconds",
			Help:    "Duration of tile cache store operations in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
		[]string{"op"},
	)

	cacheResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_results_total",
			Help: "Cache lookups by outcome.",
		},
		[]string{"outcome"},
	)

	cacheSizeBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cache_size_bytes",
			Help: "Total size of cached tile bytes.",
		},
	)

	cacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cache_entries",
			Help: "Number of cached tile entries.",
		},
	)

	cacheEvictionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_evictions_total",
			Help: "Entries evicted from the tile cache by reason.",
		},
		[]string{"reason"},
	)

	tileFetchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tile_fetch_total",
			Help: "Upstream tile fetches by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)

	tileFetchDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tile_fetch_duration_seconds",
			Help:    "Latency of upstream tile fetches in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"kind"},
	)

	decodeFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tile_decode_failures_total",
			Help: "Vector tile payloads that failed to decode.",
		},
	)

	renderDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tile_render_duration_seconds",
			Help:    "Duration of decode+style+rasterize per tile in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		},
	)

	renderCacheResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "render_cache_results_total",
			Help: "Rendered-raster LRU lookups by outcome.",
		},
		[]string{"outcome"},
	)

	prefetchTiles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prefetch_tiles_total",
			Help: "Prefetch candidates by disposition.",
		},
		[]string{"disposition"},
	)

	buildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "app_build_info",
			Help: "Build information for the binary.",
		},
		[]string{"version"},
	)
)

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st).Observe(durationSeconds)
}

func ObserveCacheOp(op string, err error, durationSeconds float64) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	cacheOpTotal.WithLabelValues(op, outcome).Inc()
	cacheOpDurationSeconds.WithLabelValues(op).Observe(durationSeconds)
}

func IncCacheHit()  { cacheResults.WithLabelValues("hit").Inc() }
func IncCacheMiss() { cacheResults.WithLabelValues("miss").Inc() }

func SetCacheSizeBytes(n int64) { cacheSizeBytes.Set(float64(n)) }
func SetCacheEntries(n int64)   { cacheEntries.Set(float64(n)) }

func IncEviction(reason string) { cacheEvictionsTotal.WithLabelValues(reason).Inc() }

func ObserveFetch(kind string, err error, durationSeconds float64) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	tileFetchTotal.WithLabelValues(kind, outcome).Inc()
	tileFetchDurationSeconds.WithLabelValues(kind).Observe(durationSeconds)
}

func IncDecodeFailure() { decodeFailuresTotal.Inc() }

func ObserveRender(durationSeconds float64) { renderDurationSeconds.Observe(durationSeconds) }

func IncRenderCacheHit()  { renderCacheResults.WithLabelValues("hit").Inc() }
func IncRenderCacheMiss() { renderCacheResults.WithLabelValues("miss").Inc() }

func AddPrefetchScheduled(n int) {
	prefetchTiles.WithLabelValues("scheduled").Add(float64(n))
}

func AddPrefetchSkipped(n int) {
	prefetchTiles.WithLabelValues("already_cached").Add(float64(n))
}

func ExposeBuildInfo(version string) {
	if version == "" {
		version = "dev"
	}
	buildInfo.WithLabelValues(version).Set(1)
}
