package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Iaminblockchain/MoonBot-sub000/internal/domain"
)

// Deduper implements domain.Deduper with SET NX plus a TTL: the first
// caller to mark a key wins, and the mark ages out with the window. The
// copy-trade consumer uses it so reconnect replays never double-buy.
type Deduper struct {
	rdb *redis.Client
}

// NewDeduper creates a Deduper backed by the given Client.
func NewDeduper(c *Client) *Deduper {
	return &Deduper{rdb: c.Underlying()}
}

func dedupeKey(key string) string {
	return "dedupe:" + key
}

// Seen records the key and reports whether it was already present within
// the TTL window.
func (d *Deduper) Seen(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	set, err := d.rdb.SetNX(ctx, dedupeKey(key), 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis: dedupe %s: %w", key, err)
	}
	return !set, nil
}

// Compile-time interface check.
var _ domain.Deduper = (*Deduper)(nil)
