// Package tilestore implements the Redis-backed persistent tile cache.
//
// Each entry is a value key holding the raw bytes plus a metadata hash
// (created_at, size, source_url, zoom, kind). A sorted set indexes entries by creation
// time for the age and size eviction scans, and a counter tracks the total
// byte size. Multi-key updates ride a single MULTI/EXEC pipeline.
//
// Concurrent writers for the same key are last-write-wins. That is safe here
// because tile content is idempotent per key: two fetches of the same source
// URL yield equivalent bytes.
package tilestore

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/openmapper/tilepipe/internal/cache"
	"github.com/openmapper/tilepipe/internal/cache/redisstore"
	"github.com/openmapper/tilepipe/internal/observability"
	"github.com/openmapper/tilepipe/internal/tile"
)

const (
	valuePrefix = "tile:v:"
	metaPrefix  = "tile:m:"
	indexKey    = "tile:idx"
	sizeKey     = "tile:bytes"

	fieldCreatedAt = "created_at"
	fieldSize      = "size"
	fieldSourceURL = "source_url"
	fieldZoom      = "zoom"
	fieldKind      = "kind"
)

const (
	DefaultMaxAge  = 7 * 24 * time.Hour
	DefaultMaxSize = 100 << 20 // 100 MB
)

type Option func(*Store)

func WithMaxAge(d time.Duration) Option {
	return func(s *Store) { s.maxAge = d }
}

func WithMaxSize(n int64) Option {
	return func(s *Store) { s.maxSize = n }
}

func WithOpTimeout(d time.Duration) Option {
	return func(s *Store) { s.opTimeout = d }
}

// WithClock overrides the time source. For tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

type Store struct {
	cli       *redisstore.Client
	logger    *slog.Logger
	maxAge    time.Duration
	maxSize   int64
	opTimeout time.Duration
	now       func() time.Time
}

var _ cache.Store = (*Store)(nil)

func New(cli *redisstore.Client, logger *slog.Logger, opts ...Option) *Store {
	s := &Store{
		cli:     cli,
		logger:  logger,
		maxAge:  DefaultMaxAge,
		maxSize: DefaultMaxSize,
		now:     time.Now,
	}
	for _, f := range opts {
		f(s)
	}
	return s
}

// returns context with the store's op timeout applied, if any
func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.opTimeout)
}

func (s *Store) Get(ctx context.Context, key tile.Key) ([]byte, bool) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	k := key.String()
	meta, err := s.cli.HGetAll(ctx, metaPrefix+k)
	if err != nil {
		s.logger.Warn("cache meta read failed, treating as miss", "tile", k, "err", err)
		observability.IncCacheMiss()
		return nil, false
	}
	if len(meta) == 0 {
		observability.IncCacheMiss()
		return nil, false
	}

	// Lazy age expiry: a stale entry is deleted as a side effect of the read.
	createdAt, _ := strconv.ParseInt(meta[fieldCreatedAt], 10, 64)
	if s.maxAge > 0 && s.now().UnixNano()-createdAt > s.maxAge.Nanoseconds() {
		s.deleteEntry(ctx, k)
		observability.IncEviction("age")
		observability.IncCacheMiss()
		return nil, false
	}

	b, ok, err := s.cli.GetBytes(ctx, valuePrefix+k)
	if err != nil || !ok {
		if err != nil {
			s.logger.Warn("cache value read failed, treating as miss", "tile", k, "err", err)
		}
		observability.IncCacheMiss()
		return nil, false
	}
	observability.IncCacheHit()
	return b, true
}

func (s *Store) Set(ctx context.Context, key tile.Key, b []byte, sourceURL string) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	k := key.String()
	incoming := int64(len(b))

	// A payload bigger than the whole cache can never fit; writing it would
	// leave the total over the bound even after evicting everything else.
	if s.maxSize > 0 && incoming > s.maxSize {
		s.logger.Warn("cache write refused, payload exceeds cache size bound",
			"tile", k, "size", incoming, "max_size", s.maxSize)
		return
	}

	// Size of any entry being overwritten, so the total stays accurate.
	var oldSize int64
	if meta, err := s.cli.HGetAll(ctx, metaPrefix+k); err == nil && len(meta) > 0 {
		oldSize, _ = strconv.ParseInt(meta[fieldSize], 10, 64)
	}

	if s.maxSize > 0 {
		s.evictToFit(ctx, incoming-oldSize, k)
	}

	now := s.now().UnixNano()
	err := s.cli.TxPipelined(ctx, "set", func(p redis.Pipeliner) error {
		p.Set(ctx, valuePrefix+k, b, 0)
		p.HSet(ctx, metaPrefix+k,
			fieldCreatedAt, now,
			fieldSize, incoming,
			fieldSourceURL, sourceURL,
			fieldZoom, key.Z,
			fieldKind, string(key.Kind),
		)
		p.ZAdd(ctx, indexKey, redis.Z{Score: float64(now), Member: k})
		p.IncrBy(ctx, sizeKey, incoming-oldSize)
		return nil
	})
	if err != nil {
		s.logger.Warn("cache write failed, dropping entry", "tile", k, "err", err)
		return
	}
	s.publishGauges(ctx)
}

func (s *Store) Delete(ctx context.Context, key tile.Key) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	s.deleteEntry(ctx, key.String())
}

func (s *Store) TotalSize(ctx context.Context) int64 {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	n, err := s.cli.GetInt64(ctx, sizeKey)
	if err != nil {
		s.logger.Warn("cache size read failed", "err", err)
		return 0
	}
	if n < 0 {
		return 0
	}
	return n
}

func (s *Store) Count(ctx context.Context) int64 {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	n, err := s.cli.ZCard(ctx, indexKey)
	if err != nil {
		s.logger.Warn("cache count read failed", "err", err)
		return 0
	}
	return n
}

// deleteEntry removes the value, metadata, index member and size contribution
// of one entry. Absent entries are a no-op, which makes Delete idempotent.
func (s *Store) deleteEntry(ctx context.Context, k string) {
	meta, err := s.cli.HGetAll(ctx, metaPrefix+k)
	if err != nil {
		s.logger.Warn("cache delete read failed", "tile", k, "err", err)
		return
	}
	if len(meta) == 0 {
		return
	}
	size, _ := strconv.ParseInt(meta[fieldSize], 10, 64)

	err = s.cli.TxPipelined(ctx, "del", func(p redis.Pipeliner) error {
		p.Del(ctx, valuePrefix+k, metaPrefix+k)
		p.ZRem(ctx, indexKey, k)
		p.DecrBy(ctx, sizeKey, size)
		return nil
	})
	if err != nil {
		s.logger.Warn("cache delete failed", "tile", k, "err", err)
		return
	}
	s.publishGauges(ctx)
}

func (s *Store) publishGauges(ctx context.Context) {
	if n, err := s.cli.GetInt64(ctx, sizeKey); err == nil {
		observability.SetCacheSizeBytes(n)
	}
	if n, err := s.cli.ZCard(ctx, indexKey); err == nil {
		observability.SetCacheEntries(n)
	}
}
