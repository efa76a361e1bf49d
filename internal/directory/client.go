// Package directory implements the Fleet Directory Client (spec §4,
// "Fleet directory (remote HTTP)" in §6): it authenticates against the
// remote fleet API, caches the permitted tag set for a tank in Redis, and
// exposes best-effort vehicle-hours updates. HTTP calls are wrapped in a
// circuit breaker so a string of failures stops retrying a downed remote
// every tick.
package directory

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"

	"github.com/fleetops/refilld/internal/model"
	"github.com/fleetops/refilld/pkg/fleetapi"
)

// Client implements model.DirectoryClient.
type Client struct {
	api *fleetapi.Client
	cb  *circuitBreaker

	cache *tagCache // nil when Redis is unavailable; degrades to direct calls
}

// Config configures a Client.
type Config struct {
	BaseURL  string
	Username string
	Password string
	// RedisAddr caches the permitted tag set. If empty, caching is skipped
	// and every AvailableTags call hits the remote directory.
	RedisAddr string
}

// New constructs a Client and performs an initial login. A login failure
// is fatal to initialization only (spec §7.4).
func New(ctx context.Context, cfg Config) (*Client, error) {
	api := fleetapi.New(fleetapi.Config{
		BaseURL:  cfg.BaseURL,
		Username: cfg.Username,
		Password: cfg.Password,
	})
	if err := api.Login(ctx); err != nil {
		return nil, err
	}

	c := &Client{
		api: api,
		cb:  newCircuitBreaker(5, 30*time.Second),
	}
	if cfg.RedisAddr != "" {
		cache, err := newTagCache(cfg.RedisAddr)
		if err != nil {
			slog.Warn("directory: redis cache unavailable, running uncached", "err", err)
		} else {
			c.cache = cache
		}
	}
	return c, nil
}

// AvailableTags returns the set of tags currently permitted for tankID,
// served from cache when fresh.
func (c *Client) AvailableTags(ctx context.Context, tankID int) (map[model.Tag]model.VehicleRecord, error) {
	if c.cache != nil {
		if set, ok := c.cache.get(ctx, tankID); ok {
			return set, nil
		}
	}

	var records []fleetapi.TagRecord
	err := c.cb.execute(func() error {
		var fetchErr error
		records, fetchErr = c.api.GetAvailableTagsByTankID(ctx, tankID)
		return fetchErr
	})
	if err != nil {
		if errors.Is(err, ErrCircuitOpen) {
			slog.Warn("directory: circuit open, skipping fetch", "tank_id", tankID)
		}
		return nil, err
	}

	set := make(map[model.Tag]model.VehicleRecord, len(records))
	for _, r := range records {
		set[model.Tag(r.Tag)] = model.VehicleRecord{
			Tag:                 model.Tag(r.Tag),
			FleetNumber:         r.FleetNumber,
			TankCapacityLiters:  litersFromFloat(r.TankCapacityLiters),
			CurrentMachineHours: r.CurrentMachineHours,
		}
	}

	if c.cache != nil {
		c.cache.put(ctx, tankID, set)
	}
	return set, nil
}

// ValidateTag looks up tag in the most recently fetched permitted set.
func (c *Client) ValidateTag(ctx context.Context, tankID int, tag model.Tag) (model.VehicleRecord, bool, error) {
	set, err := c.AvailableTags(ctx, tankID)
	if err != nil {
		return model.VehicleRecord{}, false, err
	}
	rec, ok := set[tag]
	return rec, ok, nil
}

// UpdateVehicleHours is best-effort and non-fatal (spec §9): the caller
// logs a failure but never lets it affect refill completion.
func (c *Client) UpdateVehicleHours(ctx context.Context, tag model.Tag, hours float64) error {
	return c.cb.execute(func() error {
		return c.api.UpdateVehicleHours(ctx, string(tag), hours)
	})
}

func litersFromFloat(f float64) model.Liters {
	return model.Liters(math.Round(f * 1000))
}
