package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	masterdata "qhome-metering/internal/masterdata/domain"
)

const (
	keyPrefix = "qhome:resident:primary:"

	// absentMarker caches the fact that a unit has no primary resident,
	// so repeated coverage queries do not hammer the residents table.
	absentMarker = "__absent__"
)

// ResidentCache is a read-through cache for primary-resident lookups.
// Get returns the resident, nil for a confirmed-absent owner, or falls
// back to the underlying repository on any cache failure. Entries expire
// after TTL; Invalidate drops a unit's entry when occupancy changes.
type ResidentCache struct {
	repo   masterdata.ResidentRepository
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewResidentCache constructs a cache.
func NewResidentCache(repo masterdata.ResidentRepository, client *redis.Client, ttl time.Duration, logger *zap.Logger) (*ResidentCache, error) {
	if repo == nil {
		return nil, errors.New("resident cache: nil repo")
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &ResidentCache{repo: repo, client: client, ttl: ttl, logger: logger}, nil
}

// PrimaryByUnit returns the current primary resident of a unit, reading
// through the cache. A nil result with nil error means confirmed absent.
func (c *ResidentCache) PrimaryByUnit(ctx context.Context, unitID string) (*masterdata.Resident, error) {
	if unitID == "" {
		return nil, errors.New("resident cache: empty unit id")
	}
	if c.client != nil {
		raw, err := c.client.Get(ctx, keyPrefix+unitID).Result()
		switch {
		case err == nil:
			if raw == absentMarker {
				return nil, nil
			}
			var res masterdata.Resident
			if jsonErr := json.Unmarshal([]byte(raw), &res); jsonErr == nil {
				return &res, nil
			}
			// corrupt entry: drop and fall through to the repository
			c.client.Del(ctx, keyPrefix+unitID)
		case errors.Is(err, redis.Nil):
			// miss, fall through
		default:
			if c.logger != nil {
				c.logger.Warn("resident cache read failed", zap.String("unit_id", unitID), zap.Error(err))
			}
		}
	}

	res, err := c.repo.PrimaryByUnit(ctx, unitID)
	if err != nil {
		return nil, err
	}
	c.store(ctx, unitID, res)
	return res, nil
}

// ListByUnit delegates to the repository; only the primary lookup is cached.
func (c *ResidentCache) ListByUnit(ctx context.Context, unitID string) ([]masterdata.Resident, error) {
	return c.repo.ListByUnit(ctx, unitID)
}

// Save writes through and invalidates the unit's cache entry.
func (c *ResidentCache) Save(ctx context.Context, resident *masterdata.Resident) error {
	if err := c.repo.Save(ctx, resident); err != nil {
		return err
	}
	if resident != nil {
		c.Invalidate(ctx, resident.UnitID)
	}
	return nil
}

// Invalidate removes a unit's cached primary-resident entry.
func (c *ResidentCache) Invalidate(ctx context.Context, unitID string) {
	if c.client == nil || unitID == "" {
		return
	}
	if err := c.client.Del(ctx, keyPrefix+unitID).Err(); err != nil && c.logger != nil {
		c.logger.Warn("resident cache invalidate failed", zap.String("unit_id", unitID), zap.Error(err))
	}
}

func (c *ResidentCache) store(ctx context.Context, unitID string, res *masterdata.Resident) {
	if c.client == nil {
		return
	}
	value := absentMarker
	if res != nil {
		data, err := json.Marshal(res)
		if err != nil {
			return
		}
		value = string(data)
	}
	if err := c.client.Set(ctx, keyPrefix+unitID, value, c.ttl).Err(); err != nil && c.logger != nil {
		c.logger.Warn("resident cache write failed", zap.String("unit_id", unitID), zap.Error(err))
	}
}
