// Package cache defines the persistent tile cache contract.
//
// Store operations never return errors: I/O failure degrades to a miss on
// reads and a no-op on writes, so callers always have a usable answer.
package cache

import (
	"context"

	"github.com/openmapper/tilepipe/internal/tile"
)

type Store interface {
	// Get returns the cached bytes for key, or ok=false on a miss. Entries
	// older than the store's max age are deleted and reported as misses.
	Get(ctx context.Context, key tile.Key) (b []byte, ok bool)

	// Set writes bytes for key, evicting oldest entries first when the write
	// would push the store over its size bound. Overwrites are last-write-wins.
	Set(ctx context.Context, key tile.Key, b []byte, sourceURL string)

	// Delete removes the entry for key. Deleting an absent key is a no-op.
	Delete(ctx context.Context, key tile.Key)

	// TotalSize is the sum of entry sizes in bytes.
	TotalSize(ctx context.Context) int64

	// Count is the number of entries.
	Count(ctx context.Context) int64
}
