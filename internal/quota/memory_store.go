package quota

import (
	"context"
	"sync"
	"time"
)

type memEntry struct {
	mu   sync.Mutex
	rec  Record
	dead bool // set by the sweeper once the entry is unlinked
}

// MemoryStore keeps records in process memory with a mutex per key.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*memEntry
	now     func() time.Time

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewMemoryStore creates an empty store. When sweepEvery is positive a
// goroutine drops records whose reset time has passed; Close stops it.
func NewMemoryStore(sweepEvery time.Duration) *MemoryStore {
	s := &MemoryStore{
		entries: make(map[string]*memEntry),
		now:     time.Now,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	if sweepEvery > 0 {
		go s.sweepLoop(sweepEvery)
	} else {
		close(s.done)
	}
	return s
}

// lock returns the live entry for key, locked.
func (s *MemoryStore) lock(key string) *memEntry {
	for {
		s.mu.Lock()
		e, ok := s.entries[key]
		if !ok {
			e = &memEntry{}
			s.entries[key] = e
		}
		s.mu.Unlock()

		e.mu.Lock()
		if !e.dead {
			return e
		}
		e.mu.Unlock()
	}
}

func (s *MemoryStore) Peek(_ context.Context, key string) (Record, bool, error) {
	s.mu.Lock()
	e, ok := s.entries[key]
	s.mu.Unlock()
	if !ok {
		return Record{}, false, nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dead || e.rec.ResetAt.IsZero() {
		return Record{}, false, nil
	}
	return e.rec, true, nil
}

func (s *MemoryStore) Consume(_ context.Context, key string, limit int, now, nextReset time.Time) (Record, bool, error) {
	e := s.lock(key)
	defer e.mu.Unlock()

	rec, ok := apply(e.rec, !e.rec.ResetAt.IsZero(), limit, now, nextReset)
	e.rec = rec
	return rec, ok, nil
}

func (s *MemoryStore) Reset(_ context.Context, key string) error {
	e := s.lock(key)
	e.rec = Record{}
	e.mu.Unlock()
	return nil
}

// Len reports the number of tracked keys.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Sweep removes records whose reset time is not after now and returns how
// many were removed. Entries busy in another call are left for the next sweep.
func (s *MemoryStore) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, e := range s.entries {
		if !e.mu.TryLock() {
			continue
		}
		if e.rec.ResetAt.IsZero() || !now.Before(e.rec.ResetAt) {
			e.dead = true
			delete(s.entries, key)
			removed++
		}
		e.mu.Unlock()
	}
	return removed
}

func (s *MemoryStore) sweepLoop(every time.Duration) {
	defer close(s.done)
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.Sweep(s.now())
		}
	}
}

// Close stops the sweeper.
func (s *MemoryStore) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
	return nil
}
