package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/shoecom/stockledger/internal/domain"
)

const keyPrefix = "stock:"

// Each key is a hash with the version of the newest record seen for the pair
// ("v", updated_at in microseconds) and, unless the entry is a fence left by
// Invalidate, the record itself ("rec").
const (
	fieldVersion = "v"
	fieldRecord  = "rec"
)

// setIfNewer writes ARGV[2] at version ARGV[1] unless the key already holds a
// newer version.
var setIfNewer = redis.NewScript(`
local v = redis.call('HGET', KEYS[1], 'v')
if v and tonumber(v) > tonumber(ARGV[1]) then
	return 0
end
redis.call('HSET', KEYS[1], 'v', ARGV[1], 'rec', ARGV[2])
redis.call('PEXPIRE', KEYS[1], ARGV[3])
return 1
`)

// fence drops the cached record and remembers version ARGV[1], so reads that
// loaded an older row before the write committed cannot repopulate the key.
var fence = redis.NewScript(`
local v = redis.call('HGET', KEYS[1], 'v')
if v and tonumber(v) > tonumber(ARGV[1]) then
	return 0
end
redis.call('DEL', KEYS[1])
redis.call('HSET', KEYS[1], 'v', ARGV[1])
redis.call('PEXPIRE', KEYS[1], ARGV[2])
return 1
`)

// StockCache is a read-through cache of single stock records. A committed
// write fences the pair at the written record's updated_at, and Set refuses
// any record older than the fence, so a read racing the commit cannot cache
// the pre-commit balance. The TTL bounds how long a missed invalidation can
// serve stale data.
type StockCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewStockCache creates a Redis-backed stock cache.
func NewStockCache(client *redis.Client, ttl time.Duration) *StockCache {
	return &StockCache{client: client, ttl: ttl}
}

func stockKey(storeID, variantID string) string {
	return keyPrefix + storeID + ":" + variantID
}

func version(rec *domain.StockRecord) int64 {
	if rec.UpdatedAt.IsZero() {
		return 0
	}
	return rec.UpdatedAt.UnixMicro()
}

// Get returns the cached record. The bool is false on a miss.
func (c *StockCache) Get(ctx context.Context, storeID, variantID string) (*domain.StockRecord, bool, error) {
	data, err := c.client.HGet(ctx, stockKey(storeID, variantID), fieldRecord).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("redis get stock: %w", err)
	}

	var rec domain.StockRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, false, fmt.Errorf("unmarshal stock: %w", err)
	}
	return &rec, true, nil
}

// Set stores rec with the configured TTL unless the key already holds a newer
// version. Skipping is not an error.
func (c *StockCache) Set(ctx context.Context, rec *domain.StockRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal stock: %w", err)
	}
	key := stockKey(rec.StoreID, rec.VariantID)
	if err := setIfNewer.Run(ctx, c.client, []string{key}, version(rec), data, c.ttl.Milliseconds()).Err(); err != nil {
		return fmt.Errorf("redis set stock: %w", err)
	}
	return nil
}

// Invalidate drops the entries for committed records and fences each pair at
// the record's version.
func (c *StockCache) Invalidate(ctx context.Context, records ...*domain.StockRecord) error {
	if len(records) == 0 {
		return nil
	}
	ttl := c.ttl.Milliseconds()
	_, err := c.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		for _, rec := range records {
			fence.Eval(ctx, p, []string{stockKey(rec.StoreID, rec.VariantID)}, version(rec), ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis invalidate stock: %w", err)
	}
	return nil
}
