// Package imageprovider fetches reference photos of species together with
// their attribution, and caches the results.
package imageprovider

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/tphakala/wildlife-id-bot/internal/errors"
	"github.com/tphakala/wildlife-id-bot/internal/logger"
)

// ErrImageNotFound means the provider has no usable image for the species.
var ErrImageNotFound = errors.NewStd("image not found")

// Provider fetches one reference image.
type Provider interface {
	Fetch(ctx context.Context, scientificName string) (Image, error)
}

// Image is a reference photo with its attribution.
type Image struct {
	URL            string
	ScientificName string
	LicenseName    string
	LicenseURL     string
	AuthorName     string
	AuthorURL      string
	SourceProvider string
	CachedAt       time.Time
}

// Attribution renders a short credit line, e.g. "Jane Doe, CC BY-SA 4.0".
func (img Image) Attribution() string {
	switch {
	case img.AuthorName != "" && img.LicenseName != "":
		return img.AuthorName + ", " + img.LicenseName
	case img.AuthorName != "":
		return img.AuthorName
	default:
		return img.LicenseName
	}
}

// CacheStats counts cache outcomes.
type CacheStats struct {
	Hits         int64
	Misses       int64
	NegativeHits int64
}

// Cache wraps a Provider with a positive and a negative cache. Concurrent
// lookups of the same species share one upstream fetch.
type Cache struct {
	provider    Provider
	images      *cache.Cache
	negativeTTL time.Duration
	group       singleflight.Group
	log         logger.Logger

	hits, misses, negativeHits atomic.Int64
}

// NewCache creates a Cache. Misses are remembered for negativeTTL so that
// species without a photo do not hammer the provider.
func NewCache(p Provider, ttl, negativeTTL time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if negativeTTL <= 0 {
		negativeTTL = 15 * time.Minute
	}
	return &Cache{
		provider:    p,
		images:      cache.New(ttl, time.Hour),
		negativeTTL: negativeTTL,
		log:         logger.Global().Module("imageprovider"),
	}
}

type negativeEntry struct{}

// Fetch returns the cached image or fetches it.
func (c *Cache) Fetch(ctx context.Context, scientificName string) (Image, error) {
	key := canonicalName(scientificName)
	if key == "" {
		return Image{}, ErrImageNotFound
	}
	if v, ok := c.images.Get(key); ok {
		if _, neg := v.(negativeEntry); neg {
			c.negativeHits.Add(1)
			return Image{}, ErrImageNotFound
		}
		c.hits.Add(1)
		return v.(Image), nil
	}
	c.misses.Add(1)

	v, err, _ := c.group.Do(key, func() (any, error) {
		img, err := c.provider.Fetch(ctx, scientificName)
		if err != nil {
			if errors.Is(err, ErrImageNotFound) {
				c.images.Set(key, negativeEntry{}, c.negativeTTL)
			}
			return Image{}, err
		}
		img.CachedAt = time.Now()
		c.images.Set(key, img, cache.DefaultExpiration)
		return img, nil
	})
	if err != nil {
		if !errors.Is(err, ErrImageNotFound) {
			c.log.Warn("reference image fetch failed",
				logger.String("species", scientificName),
				logger.Error(err))
		}
		return Image{}, err
	}
	return v.(Image), nil
}

// Stats returns a snapshot of cache counters.
func (c *Cache) Stats() CacheStats {
	return CacheStats{
		Hits:         c.hits.Load(),
		Misses:       c.misses.Load(),
		NegativeHits: c.negativeHits.Load(),
	}
}

func canonicalName(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
