package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/openmapper/tilepipe/internal/cache/redisstore"
	"github.com/openmapper/tilepipe/internal/cache/tilestore"
	"github.com/openmapper/tilepipe/internal/config"
	"github.com/openmapper/tilepipe/internal/fetch"
	"github.com/openmapper/tilepipe/internal/httpclient"
	"github.com/openmapper/tilepipe/internal/imagery"
	"github.com/openmapper/tilepipe/internal/logger"
	"github.com/openmapper/tilepipe/internal/observability"
	"github.com/openmapper/tilepipe/internal/prefetch"
	"github.com/openmapper/tilepipe/internal/raster"
	"github.com/openmapper/tilepipe/internal/server"
	"github.com/openmapper/tilepipe/internal/style"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	addrFlag := flag.String("addr", "", "listen address override")
	flag.Parse()

	cfg := config.FromEnv()
	if *addrFlag != "" {
		cfg.Addr = strings.TrimSpace(*addrFlag)
	}

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   strings.ToLower(os.Getenv("LOG_CONSOLE")) == "true",
		Component: "tileserver",
	}, os.Stdout)

	appLog := logger.NewSlog(&zl)

	observability.ExposeBuildInfo(Version)
	appLog.Info("starting tileserver",
		"addr", cfg.Addr,
		"version", Version,
		"tile_server", cfg.TileServerBase,
		"provider", cfg.Provider,
		"redis", cfg.RedisAddr)

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

	st := style.Default()
	if cfg.StylePath != "" {
		loaded, err := style.Load(cfg.StylePath)
		if err != nil {
			appLog.Warn("style load failed, using built-in style",
				"path", cfg.StylePath, "err", err)
		} else {
			st = loaded
		}
	}

	var rasterOpts []raster.Option
	if cfg.FontPath != "" {
		rasterOpts = append(rasterOpts, raster.WithFontPath(cfg.FontPath, 12))
	}
	renderer := raster.New(cfg.TileSizePx, rasterOpts...)

	fetcher := fetch.New(appLog, httpclient.NewOutbound(), cfg.TileServerBase, store)
	provider := imagery.New(appLog, fetcher, renderer, st, imagery.Config{
		Provider:        cfg.Provider,
		MinimumLevel:    cfg.MinZoom,
		MaximumLevel:    cfg.MaxZoom,
		Credit:          cfg.Credit,
		RenderCacheSize: cfg.RenderCacheSize,
		MaxAge:          cfg.CacheMaxAge,
	})

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

	events := make(chan prefetch.Viewport, 16)
	go scheduler.Run(ctx, events)

	if err := server.Run(ctx, cfg, appLog, provider, events, cli.Ping); err != nil {
		appLog.Error("server exited with error", "err", err)
		return 1
	}
	appLog.Info("server stopped")
	return 0
}
