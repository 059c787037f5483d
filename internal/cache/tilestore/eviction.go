package tilestore

import (
	"context"

	"github.com/openmapper/tilepipe/internal/observability"
)

// evictChunk bounds how many index members one eviction round inspects.
const evictChunk = 32

// maxEvictRounds bounds the scan so a store that refuses deletes cannot
// spin the writer forever.
const maxEvictRounds = 64

// evictToFit deletes entries oldest-first (FIFO by createdAt, not LRU by last
// access) until the store can absorb `incoming` additional bytes without
// exceeding maxSize. The entry being overwritten, if any, is skipped: its
// size delta is already folded into incoming.
func (s *Store) evictToFit(ctx context.Context, incoming int64, overwriting string) {
	for round := 0; round < maxEvictRounds; round++ {
		total := s.TotalSize(ctx)
		if total+incoming <= s.maxSize {
			return
		}

		oldest, err := s.cli.ZRangeN(ctx, indexKey, evictChunk)
		if err != nil {
			s.logger.Warn("eviction scan failed", "err", err)
			return
		}
		if len(oldest) == 0 {
			return
		}

		progressed := false
		for _, k := range oldest {
			if total+incoming <= s.maxSize {
				return
			}
			if k == overwriting {
				continue
			}
			s.deleteEntry(ctx, k)
			observability.IncEviction("size")
			progressed = true
			total = s.TotalSize(ctx)
		}
		if !progressed {
			return
		}
	}
	s.logger.Warn("eviction gave up before reaching size bound",
		"incoming", incoming, "max_size", s.maxSize)
}
