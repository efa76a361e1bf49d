package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"github.com/fleetops/refilld/internal/model"
)

// tagCacheTTL bounds how long a fetched permitted-tag set is trusted
// before the next AvailableTags call must hit the remote directory again.
const tagCacheTTL = 2 * time.Minute

// tagCache is a Redis-backed cache of one tank's permitted tag set,
// grounded on the teacher's store/redis Writer/Reader connection-setup
// shape (NewClient + Ping at construction).
type tagCache struct {
	client *goredis.Client
}

func newTagCache(addr string) (*tagCache, error) {
	client := goredis.NewClient(&goredis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("directory: redis ping: %w", err)
	}
	slog.Info("directory: connected to redis", "addr", addr)
	return &tagCache{client: client}, nil
}

func cacheKey(tankID int) string {
	return fmt.Sprintf("fleetops:tags:%d", tankID)
}

// get returns the cached tag set for tankID, or ok=false on a cache miss
// or expired entry.
func (c *tagCache) get(ctx context.Context, tankID int) (map[model.Tag]model.VehicleRecord, bool) {
	raw, err := c.client.Get(ctx, cacheKey(tankID)).Bytes()
	if err != nil {
		return nil, false
	}
	var set map[model.Tag]model.VehicleRecord
	if err := json.Unmarshal(raw, &set); err != nil {
		slog.Warn("directory: corrupt cache entry, ignoring", "tank_id", tankID, "err", err)
		return nil, false
	}
	return set, true
}

// put stores the tag set with the fixed TTL.
func (c *tagCache) put(ctx context.Context, tankID int, set map[model.Tag]model.VehicleRecord) {
	raw, err := json.Marshal(set)
	if err != nil {
		slog.Warn("directory: failed to marshal tag set for cache", "tank_id", tankID, "err", err)
		return
	}
	if err := c.client.Set(ctx, cacheKey(tankID), raw, tagCacheTTL).Err(); err != nil {
		slog.Warn("directory: failed to cache tag set", "tank_id", tankID, "err", err)
	}
}
