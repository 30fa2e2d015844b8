package geocode

import (
	"context"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"

	"horse.fit/flashpoint/internal/globaltime"
	"horse.fit/flashpoint/internal/model"
)

const DefaultCacheTTL = 24 * time.Hour

// Cache stores resolved placements by normalized query key. Entries are never authoritative and a
// cache failure is a miss.
type Cache interface {
	Get(ctx context.Context, key string) (model.Placement, bool)
	Set(ctx context.Context, key string, p model.Placement)
}

// CacheKey normalizes the structured location of q. It is empty when q has no location fields.
func CacheKey(q Query) string {
	city := normalizePlaceName(q.City)
	region := normalizePlaceName(q.Region)
	country := normalizePlaceName(q.Country)
	if city == "" && region == "" && country == "" {
		return ""
	}
	return strings.Join([]string{city, region, country}, "|")
}

// MemoryCache is an in-process TTL cache.
type MemoryCache struct {
	cache *gocache.Cache
}

func NewMemoryCache(ttl, cleanupInterval time.Duration) *MemoryCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if cleanupInterval <= 0 {
		cleanupInterval = ttl / 4
	}
	return &MemoryCache{cache: gocache.New(ttl, cleanupInterval)}
}

func (c *MemoryCache) Get(_ context.Context, key string) (model.Placement, bool) {
	value, found := c.cache.Get(key)
	if !found {
		return model.Placement{}, false
	}
	p, ok := value.(model.Placement)
	return p, ok
}

func (c *MemoryCache) Set(_ context.Context, key string, p model.Placement) {
	c.cache.Set(key, p, gocache.DefaultExpiration)
}

func (c *MemoryCache) Len() int {
	return c.cache.ItemCount()
}

// LayeredCache reads through a fast front tier to a shared back tier and promotes back-tier hits.
type LayeredCache struct {
	front Cache
	back  Cache
}

func NewLayeredCache(front, back Cache) *LayeredCache {
	return &LayeredCache{front: front, back: back}
}

func (c *LayeredCache) Get(ctx context.Context, key string) (model.Placement, bool) {
	if p, ok := c.front.Get(ctx, key); ok {
		return p, true
	}
	p, ok := c.back.Get(ctx, key)
	if ok {
		c.front.Set(ctx, key, p)
	}
	return p, ok
}

func (c *LayeredCache) Set(ctx context.Context, key string, p model.Placement) {
	c.front.Set(ctx, key, p)
	c.back.Set(ctx, key, p)
}

// EntryStore is a persistent table of cached placements.
type EntryStore interface {
	LookupGeocode(ctx context.Context, key string, notBefore time.Time) (model.Placement, bool, error)
	SaveGeocode(ctx context.Context, key string, p model.Placement, fetchedAt time.Time) error
}

// StoreCache adapts an EntryStore, honoring ttl on read.
type StoreCache struct {
	store  EntryStore
	ttl    time.Duration
	logger zerolog.Logger
}

func NewStoreCache(store EntryStore, ttl time.Duration, logger zerolog.Logger) *StoreCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &StoreCache{store: store, ttl: ttl, logger: logger}
}

func (c *StoreCache) Get(ctx context.Context, key string) (model.Placement, bool) {
	p, found, err := c.store.LookupGeocode(ctx, key, globaltime.UTC().Add(-c.ttl))
	if err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("geocode cache read failed")
		return model.Placement{}, false
	}
	return p, found
}

func (c *StoreCache) Set(ctx context.Context, key string, p model.Placement) {
	if err := c.store.SaveGeocode(ctx, key, p, globaltime.UTC()); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("geocode cache write failed")
	}
}
