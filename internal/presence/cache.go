package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/ridecore/dispatch/pkg/models"
	"github.com/ridecore/dispatch/pkg/redis"
)

// cacheKeyPrefix namespaces the hot-cache keys (spec §4.6: "driver:{id}").
const cacheKeyPrefix = "driver:"

// Cache is the short-TTL hot cache layered in front of the durable driver
// record (spec §4.6). The Matcher reads this first and falls back to the
// durable store on miss.
type Cache struct {
	client redis.ClientInterface
	ttl    time.Duration
}

// NewCache builds a Cache with the given TTL (spec default 60s).
func NewCache(client redis.ClientInterface, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

func cacheKey(driverID uuid.UUID) string {
	return cacheKeyPrefix + driverID.String()
}

// Put writes (or refreshes) a driver's hot-cache snapshot.
func (c *Cache) Put(ctx context.Context, snapshot models.PresenceSnapshot) error {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("presence: marshal snapshot: %w", err)
	}
	if err := c.client.SetWithExpiration(ctx, cacheKey(snapshot.DriverID), payload, c.ttl); err != nil {
		return fmt.Errorf("presence: cache put: %w", err)
	}
	return nil
}

// Get reads a driver's hot-cache snapshot. ok is false on cache miss
// (expired TTL or never cached) so the caller can fall back to the
// durable record.
func (c *Cache) Get(ctx context.Context, driverID uuid.UUID) (snapshot models.PresenceSnapshot, ok bool, err error) {
	raw, err := c.client.GetString(ctx, cacheKey(driverID))
	if err != nil {
		if err == goredis.Nil {
			return models.PresenceSnapshot{}, false, nil
		}
		return models.PresenceSnapshot{}, false, fmt.Errorf("presence: cache get: %w", err)
	}
	if err := json.Unmarshal([]byte(raw), &snapshot); err != nil {
		return models.PresenceSnapshot{}, false, fmt.Errorf("presence: unmarshal snapshot: %w", err)
	}
	return snapshot, true, nil
}

// Delete removes a driver's hot-cache entry (spec §4.6: "explicit
// driverDisconnect ... cache key deleted").
func (c *Cache) Delete(ctx context.Context, driverID uuid.UUID) error {
	if err := c.client.Delete(ctx, cacheKey(driverID)); err != nil {
		return fmt.Errorf("presence: cache delete: %w", err)
	}
	return nil
}
