// Package venuecache wraps a reservation.Adapter and memoizes ResolveVenue
// lookups, the one pure/side-effect-free call on the interface (spec §4.2).
// It prefers Redis (redis/go-redis/v9) when configured and degrades to an
// in-process sync.Map otherwise, so the module runs standalone.
package venuecache

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/reservation-agent/internal/domain/reservation"
)

const ttl = 10 * time.Minute

type Cache struct {
	inner reservation.Adapter
	redis *redis.Client
	local sync.Map // restaurantName -> string venueID
}

// New wraps inner with a cache. redisClient may be nil, in which case the
// cache is purely in-process.
func New(inner reservation.Adapter, redisClient *redis.Client) *Cache {
	return &Cache{inner: inner, redis: redisClient}
}

var _ reservation.Adapter = (*Cache)(nil)

func (c *Cache) Name() reservation.Platform { return c.inner.Name() }

func (c *Cache) ResolveVenue(ctx context.Context, restaurantName string) (string, error) {
	key := cacheKey(c.inner.Name(), restaurantName)

	if c.redis != nil {
		if venueID, err := c.redis.Get(ctx, key).Result(); err == nil && venueID != "" {
			return venueID, nil
		}
	} else if v, ok := c.local.Load(key); ok {
		return v.(string), nil
	}

	venueID, err := c.inner.ResolveVenue(ctx, restaurantName)
	if err != nil {
		// Never cache NotFound: a venue onboarded mid-run must be picked up
		// promptly (spec additive requirement, D.3).
		return "", err
	}

	if c.redis != nil {
		_ = c.redis.Set(ctx, key, venueID, ttl).Err()
	} else {
		c.local.Store(key, venueID)
	}
	return venueID, nil
}

func (c *Cache) TryBook(ctx context.Context, venueID, date, timePreferred string, partySize int) (reservation.BookResult, error) {
	return c.inner.TryBook(ctx, venueID, date, timePreferred, partySize)
}

func (c *Cache) SubscribeNotify(ctx context.Context, venueID, date, timePreferred string, partySize int) (bool, error) {
	return c.inner.SubscribeNotify(ctx, venueID, date, timePreferred, partySize)
}

func cacheKey(platform reservation.Platform, restaurantName string) string {
	return "venuecache:" + string(platform) + ":" + restaurantName
}
