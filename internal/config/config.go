// Package config loads service configuration from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Addr           string
	LogLevel       string
	RedisAddr      string
	TileServerBase string
	Provider       string

	CacheMaxAge  time.Duration
	CacheMaxSize int64
	CacheTimeout time.Duration

	PrefetchRadius    int
	PrefetchBatchSize int
	PrefetchPause     time.Duration
	PrefetchBuildings bool
	BuildingMinZoom   int

	TileSizePx      int
	MinZoom         int
	MaxZoom         int
	StylePath       string
	FontPath        string
	RenderCacheSize int
	Credit          string
}

func FromEnv() Config {
	return Config{
		Addr:           getenv("ADDR", ":8080"),
		LogLevel:       getenv("LOG_LEVEL", "info"),
		RedisAddr:      getenv("REDIS_ADDR", "localhost:6379"),
		TileServerBase: getenv("TILE_SERVER_BASE", "http://localhost:9000"),
		Provider:       getenv("TILE_PROVIDER", "osm"),

		CacheMaxAge:  getduration("CACHE_MAX_AGE", 7*24*time.Hour),
		CacheMaxSize: getint64("CACHE_MAX_SIZE_BYTES", 100<<20),
		CacheTimeout: getduration("CACHE_OP_TIMEOUT", 250*time.Millisecond),

		PrefetchRadius:    getint("PREFETCH_RADIUS", 2),
		PrefetchBatchSize: getint("PREFETCH_BATCH_SIZE", 5),
		PrefetchPause:     getduration("PREFETCH_PAUSE", 100*time.Millisecond),
		PrefetchBuildings: getbool("PREFETCH_BUILDINGS", true),
		BuildingMinZoom:   getint("BUILDING_MIN_ZOOM", 14),

		TileSizePx:      getint("TILE_SIZE_PX", 256),
		MinZoom:         getint("MIN_ZOOM", 0),
		MaxZoom:         getint("MAX_ZOOM", 18),
		StylePath:       getenv("STYLE_PATH", ""),
		FontPath:        getenv("FONT_PATH", ""),
		RenderCacheSize: getint("RENDER_CACHE_SIZE", 256),
		Credit:          getenv("CREDIT", "© OpenStreetMap contributors"),
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getint64(k string, def int64) int64 {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
