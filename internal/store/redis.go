package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"trackify-svr/internal/presence"
)

// keyPrefix namespaces presence records inside the shared Redis keyspace.
const keyPrefix = "presence:"

// scanCount is the per-round hint for SCAN. Full listing uses cursor
// scans, never KEYS, so enumeration stays incremental under a large
// population.
const scanCount = 512

// Redis is a presence store backed by a shared Redis instance. Values
// are JSON-encoded records under presence:{userCode}.
type Redis struct {
	rdb *redis.Client
}

func NewRedis(ctx context.Context, addr string, db int) (*Redis, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})
	if _, err := rdb.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &Redis{rdb: rdb}, nil
}

func (r *Redis) Close() error { return r.rdb.Close() }

func key(userCode string) string { return keyPrefix + userCode }

func (r *Redis) Get(ctx context.Context, userCode string) (*presence.Presence, error) {
	b, err := r.rdb.Get(ctx, key(userCode)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis GET %s: %w", userCode, err)
	}
	var p presence.Presence
	if err := json.Unmarshal(b, &p); err != nil {
		return nil, fmt.Errorf("redis decode %s: %w", userCode, err)
	}
	return &p, nil
}

func (r *Redis) Put(ctx context.Context, p *presence.Presence) error {
	b, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("redis encode %s: %w", p.UserCode, err)
	}
	if err := r.rdb.Set(ctx, key(p.UserCode), b, 0).Err(); err != nil {
		return fmt.Errorf("redis SET %s: %w", p.UserCode, err)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, userCode string) error {
	if err := r.rdb.Del(ctx, key(userCode)).Err(); err != nil {
		return fmt.Errorf("redis DEL %s: %w", userCode, err)
	}
	return nil
}

func (r *Redis) List(ctx context.Context) ([]*presence.Presence, error) {
	var out []*presence.Presence
	iter := r.rdb.Scan(ctx, 0, keyPrefix+"*", scanCount).Iterator()
	for iter.Next(ctx) {
		b, err := r.rdb.Get(ctx, iter.Val()).Bytes()
		if errors.Is(err, redis.Nil) {
			// deleted between scan and get, skip
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("redis GET %s: %w", iter.Val(), err)
		}
		var p presence.Presence
		if err := json.Unmarshal(b, &p); err != nil {
			return nil, fmt.Errorf("redis decode %s: %w", iter.Val(), err)
		}
		out = append(out, &p)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis SCAN: %w", err)
	}
	return out, nil
}

// Update is a per-key get/modify/set. Redis serializes each command, so
// same-key writers are last-write-wins rather than fully linearizable;
// every engine operation touches a single key, which makes that
// acceptable for presence data.
func (r *Redis) Update(ctx context.Context, userCode string, fn func(*presence.Presence) *presence.Presence) (*presence.Presence, error) {
	cur, err := r.Get(ctx, userCode)
	if err != nil {
		return nil, err
	}
	next := fn(cur)
	if next == nil {
		return nil, nil
	}
	if err := r.Put(ctx, next); err != nil {
		return nil, err
	}
	return next, nil
}
