// Package redisarchive keeps finished execution logs in Redis with a TTL,
// so audit lookups keep working after the in-memory store evicts them.
package redisarchive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/roach88/icm/internal/execlog"
)

// DefaultPrefix namespaces archive keys.
const DefaultPrefix = "icm:execlog:"

// Archive implements execlog.Archive on Redis.
type Archive struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// New creates an archive. A zero ttl keeps logs until deleted.
func New(client redis.UniversalClient, ttl time.Duration) *Archive {
	return &Archive{client: client, prefix: DefaultPrefix, ttl: ttl}
}

func (a *Archive) key(executionID string) string {
	return a.prefix + executionID
}

// Save stores the log as JSON.
func (a *Archive) Save(ctx context.Context, l *execlog.Log) error {
	data, err := json.Marshal(l)
	if err != nil {
		return fmt.Errorf("marshal execution log: %w", err)
	}
	if err := a.client.Set(ctx, a.key(l.ExecutionID), data, a.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", a.key(l.ExecutionID), err)
	}
	return nil
}

// Load reads a log back. A missing or expired key is execlog.ErrNotFound.
func (a *Archive) Load(ctx context.Context, executionID string) (*execlog.Log, error) {
	data, err := a.client.Get(ctx, a.key(executionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", execlog.ErrNotFound, executionID)
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", a.key(executionID), err)
	}

	var l execlog.Log
	if err := json.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("unmarshal execution log: %w", err)
	}
	return &l, nil
}

// Delete removes an archived log.
func (a *Archive) Delete(ctx context.Context, executionID string) error {
	if err := a.client.Del(ctx, a.key(executionID)).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", a.key(executionID), err)
	}
	return nil
}
