// Package fetch retrieves tile bytes from the configured tile server and
// fills the cache on the read-through path.
package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/openmapper/tilepipe/internal/cache"
	"github.com/openmapper/tilepipe/internal/observability"
	"github.com/openmapper/tilepipe/internal/tile"
)

type Fetcher struct {
	logger *slog.Logger
	client *http.Client
	base   string
	store  cache.Store
}

func New(logger *slog.Logger, client *http.Client, base string, store cache.Store) *Fetcher {
	return &Fetcher{
		logger: logger,
		client: client,
		base:   base,
		store:  store,
	}
}

// Fetch downloads the bytes for key from the tile server. A non-2xx status
// is an error; the caller decides how to degrade.
func (f *Fetcher) Fetch(ctx context.Context, key tile.Key) ([]byte, error) {
	url := tile.SourceURL(f.base, key)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	start := time.Now()
	resp, err := f.client.Do(req)
	observability.ObserveFetch(string(key.Kind), err, time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", key, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("fetch %s: status %d: %s",
			key, resp.StatusCode, strings.TrimSpace(string(b)))
	}

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: read body: %w", key, err)
	}
	return b, nil
}

// GetOrFetch returns the tile bytes for key, consulting the cache first. On a
// miss it fetches from the tile server and writes the bytes back; concurrent
// callers for the same key may both fetch and write, last write wins.
func (f *Fetcher) GetOrFetch(ctx context.Context, key tile.Key) (b []byte, cached bool, err error) {
	if b, ok := f.store.Get(ctx, key); ok {
		return b, true, nil
	}
	b, err = f.Fetch(ctx, key)
	if err != nil {
		return nil, false, err
	}
	f.store.Set(ctx, key, b, tile.SourceURL(f.base, key))
	return b, false, nil
}
