package quota

import (
	"context"
	"time"
)

// Record is the stored usage for one key.
type Record struct {
	Count   int
	ResetAt time.Time
}

// Store persists usage records. Consume must be atomic per key: the count
// only increases while it is below limit, and a record read at or after its
// ResetAt starts over at zero with nextReset.
type Store interface {
	Peek(ctx context.Context, key string) (Record, bool, error)
	Consume(ctx context.Context, key string, limit int, now, nextReset time.Time) (Record, bool, error)
	Reset(ctx context.Context, key string) error
	Close() error
}

// apply is the shared rollover and increment rule used by the in-process stores.
func apply(rec Record, found bool, limit int, now, nextReset time.Time) (Record, bool) {
	if !found || !now.Before(rec.ResetAt) {
		rec = Record{Count: 0, ResetAt: nextReset}
	}
	if rec.Count >= limit {
		return rec, false
	}
	rec.Count++
	return rec, true
}
