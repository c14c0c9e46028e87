package inventory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const stockChangedChannel = "inventory.stock.changed"

// SummaryCache wraps Redis caching of material summaries and carries the
// post-commit invalidation signal to the external cache layer. A nil client
// degrades to pass-through.
type SummaryCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
	group  singleflight.Group
}

// NewSummaryCache instantiates the cache helper.
func NewSummaryCache(client *redis.Client, ttl time.Duration, logger *slog.Logger) *SummaryCache {
	return &SummaryCache{client: client, ttl: ttl, logger: logger}
}

func summaryKey(materialID int64) string {
	return fmt.Sprintf("inventory:summary:%d", materialID)
}

// FetchSummary loads a cached summary or populates it using the loader.
// Concurrent fetches of the same material collapse into one loader call.
func (c *SummaryCache) FetchSummary(ctx context.Context, materialID int64, loader func(context.Context) (MaterialSummary, error)) (MaterialSummary, error) {
	if c == nil || c.client == nil {
		return loader(ctx)
	}
	key := summaryKey(materialID)
	value, err, _ := c.group.Do(key, func() (interface{}, error) {
		payload, err := c.client.Get(ctx, key).Bytes()
		if err == nil {
			var summary MaterialSummary
			if err := json.Unmarshal(payload, &summary); err == nil {
				return summary, nil
			}
		} else if err != redis.Nil {
			return MaterialSummary{}, err
		}
		summary, err := loader(ctx)
		if err != nil {
			return MaterialSummary{}, err
		}
		raw, err := json.Marshal(summary)
		if err != nil {
			return MaterialSummary{}, err
		}
		if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
			return MaterialSummary{}, err
		}
		return summary, nil
	})
	if err != nil {
		return MaterialSummary{}, err
	}
	return value.(MaterialSummary), nil
}

type invalidationMessage struct {
	MaterialID int64 `json:"material_id"`
	LocationID int64 `json:"location_id"`
}

// Invalidate drops the material's summary key and publishes the change so
// external read caches can react. Errors are logged, never propagated: the
// signal is fire-and-forget and the commit already happened.
func (c *SummaryCache) Invalidate(ctx context.Context, materialID, locationID int64) {
	if c == nil || c.client == nil {
		return
	}
	if err := c.client.Del(ctx, summaryKey(materialID)).Err(); err != nil {
		c.log("cache invalidate failed", err)
	}
	payload, err := json.Marshal(invalidationMessage{MaterialID: materialID, LocationID: locationID})
	if err != nil {
		return
	}
	if err := c.client.Publish(ctx, stockChangedChannel, payload).Err(); err != nil {
		c.log("cache publish failed", err)
	}
}

func (c *SummaryCache) log(msg string, err error) {
	if c.logger != nil {
		c.logger.Warn(msg, slog.Any("error", err))
	}
}
