// warmup prefetches the tile neighborhood around a coordinate and exits.
// Useful for priming the cache before a demo or after an eviction storm.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/openmapper/tilepipe/internal/cache/redisstore"
	"github.com/openmapper/tilepipe/internal/cache/tilestore"
	"github.com/openmapper/tilepipe/internal/config"
	"github.com/openmapper/tilepipe/internal/fetch"
	"github.com/openmapper/tilepipe/internal/httpclient"
	"github.com/openmapper/tilepipe/internal/logger"
	"github.com/openmapper/tilepipe/internal/prefetch"
	"github.com/openmapper/tilepipe/internal/tile"
)

func main() {
	os.Exit(run())
}

func run() int {
	lat := flag.Float64("lat", 59.9139, "viewport latitude")
	lon := flag.Float64("lon", 10.7522, "viewport longitude")
	zoom := flag.Int("zoom", 12, "viewport zoom level")
	radius := flag.Int("radius", 0, "neighborhood radius override")
	flag.Parse()

	cfg := config.FromEnv()
	if *radius > 0 {
		cfg.PrefetchRadius = *radius
	}

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   strings.ToLower(os.Getenv("LOG_CONSOLE")) == "true",
		Component: "warmup",
	}, os.Stdout)

	appLog := logger.NewSlog(&zl)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cli, err := redisstore.New(ctx, cfg.RedisAddr)
	if err != nil {
		appLog.Error("redis connect failed", "addr", cfg.RedisAddr, "err", err)
		return 1
	}
	defer func() { _ = cli.Close() }()

	store := tilestore.New(cli, appLog,
		tilestore.WithMaxAge(cfg.CacheMaxAge),
		tilestore.WithMaxSize(cfg.CacheMaxSize),
		tilestore.WithOpTimeout(cfg.CacheTimeout),
	)
	fetcher := fetch.New(appLog, httpclient.NewOutbound(), cfg.TileServerBase, store)

	scheduler := prefetch.New(appLog, store, fetcher, prefetch.Config{
		Provider:         cfg.Provider,
		Radius:           cfg.PrefetchRadius,
		BatchSize:        cfg.PrefetchBatchSize,
		Pause:            cfg.PrefetchPause,
		MinZoom:          cfg.MinZoom,
		MaxZoom:          cfg.MaxZoom,
		IncludeBuildings: cfg.PrefetchBuildings,
		BuildingMinZoom:  cfg.BuildingMinZoom,
	})

	center := tile.At(*lat, *lon, *zoom, tile.KindTile, cfg.Provider)
	appLog.Info("warming cache",
		"center", center.String(),
		"radius", cfg.PrefetchRadius,
		"tile_server", cfg.TileServerBase)

	start := time.Now()
	scheduler.Prefetch(ctx, center)

	appLog.Info("warmup done",
		"elapsed", time.Since(start).String(),
		"cached_entries", store.Count(ctx),
		"cached_bytes", store.TotalSize(ctx))
	return 0
}
