// Package resultcache holds short-lived per-chat values keyed by species, so
// follow-up buttons can be served without calling the classifier again.
package resultcache

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
)

// MaxTokenLen bounds Token so that a two-byte prefix plus the token fits in
// Telegram's 64-byte callback data.
const MaxTokenLen = 62

// Key builds the cache key for scope (a chat or user ID) and species. The
// species part is Token(species).
func Key(scope int64, species string) string {
	return strconv.FormatInt(scope, 10) + ":" + Token(species)
}

// Token is the canonical name, or "#" and a hash of it when the name is
// longer than MaxTokenLen bytes. Token(Token(s)) == Token(s), so a token
// read back from callback data resolves to the same key.
func Token(species string) string {
	c := Canonical(species)
	if len(c) <= MaxTokenLen {
		return c
	}
	sum := sha256.Sum256([]byte(c))
	return "#" + hex.EncodeToString(sum[:12])
}

// Canonical normalizes a species name for use in keys and callback data.
func Canonical(species string) string {
	return strings.ToLower(strings.Join(strings.Fields(species), " "))
}

// Cache is a typed TTL cache. Expired entries are never returned and are
// evicted on read; a janitor removes the rest every cleanup interval.
type Cache[T any] struct {
	c *cache.Cache

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// New creates a cache whose entries live for ttl. cleanup <= 0 disables the janitor.
func New[T any](ttl, cleanup time.Duration) *Cache[T] {
	rc := &Cache[T]{
		// The janitor is driven below so Close can stop it.
		c:    cache.New(ttl, cache.NoExpiration),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	if cleanup > 0 {
		go rc.janitor(cleanup)
	} else {
		close(rc.done)
	}
	return rc
}

func (rc *Cache[T]) janitor(every time.Duration) {
	defer close(rc.done)
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-rc.stop:
			return
		case <-t.C:
			rc.c.DeleteExpired()
		}
	}
}

// Set stores value under key with the default TTL.
func (rc *Cache[T]) Set(key string, value T) {
	rc.c.Set(key, value, cache.DefaultExpiration)
}

// SetWithTTL stores value under key with an explicit TTL.
func (rc *Cache[T]) SetWithTTL(key string, value T, ttl time.Duration) {
	rc.c.Set(key, value, ttl)
}

// Get returns the value for key. A miss also drops any expired entry.
func (rc *Cache[T]) Get(key string) (T, bool) {
	v, ok := rc.c.Get(key)
	if !ok {
		rc.c.Delete(key)
		var zero T
		return zero, false
	}
	return v.(T), true
}

// Delete removes key.
func (rc *Cache[T]) Delete(key string) {
	rc.c.Delete(key)
}

// ClearChat removes every entry scoped to chatID and returns how many were removed.
func (rc *Cache[T]) ClearChat(chatID int64) int {
	prefix := strconv.FormatInt(chatID, 10) + ":"
	n := 0
	for k := range rc.c.Items() {
		if strings.HasPrefix(k, prefix) {
			rc.c.Delete(k)
			n++
		}
	}
	return n
}

// ItemCount returns the number of stored entries, including expired ones
// the janitor has not removed yet.
func (rc *Cache[T]) ItemCount() int {
	return rc.c.ItemCount()
}

// Close stops the janitor. The cache stays usable.
func (rc *Cache[T]) Close() {
	rc.stopOnce.Do(func() { close(rc.stop) })
	<-rc.done
}
