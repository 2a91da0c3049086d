// Package cache stores expiring meeting snapshots in Redis.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Marga-Ghale/ora-meeting-backend/internal/models"
)

const DefaultTTL = 6 * time.Hour

// SnapshotCache is a best-effort read path for joins. The database stays
// authoritative; a missing or stale entry is rebuilt from it.
type SnapshotCache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func NewSnapshotCache(client redis.UniversalClient, ttl time.Duration) *SnapshotCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &SnapshotCache{client: client, ttl: ttl}
}

func snapshotKey(scope models.Scope) string {
	return "meeting:" + scope.Key()
}

// Get returns nil, nil on a miss.
func (c *SnapshotCache) Get(ctx context.Context, scope models.Scope) (*models.Snapshot, error) {
	body, err := c.client.Get(ctx, snapshotKey(scope)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get snapshot: %w", err)
	}

	var snap models.Snapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		// unreadable entries are treated as a miss and dropped
		_ = c.client.Del(ctx, snapshotKey(scope)).Err()
		return nil, nil
	}
	return &snap, nil
}

func (c *SnapshotCache) Put(ctx context.Context, scope models.Scope, snap *models.Snapshot) error {
	body, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := c.client.Set(ctx, snapshotKey(scope), body, c.ttl).Err(); err != nil {
		return fmt.Errorf("put snapshot: %w", err)
	}
	return nil
}

func (c *SnapshotCache) Invalidate(ctx context.Context, scope models.Scope) error {
	if err := c.client.Del(ctx, snapshotKey(scope)).Err(); err != nil {
		return fmt.Errorf("invalidate snapshot: %w", err)
	}
	return nil
}
