package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBackend keeps suspensions in one hash: device id -> unix millis.
type RedisBackend struct {
	client redis.UniversalClient
	key    string
}

func NewRedisBackend(client redis.UniversalClient, key string) *RedisBackend {
	if key == "" {
		key = "bridge:suspended"
	}
	return &RedisBackend{client: client, key: key}
}

func (r *RedisBackend) LoadAll(ctx context.Context) ([]Suspension, error) {
	m, err := r.client.HGetAll(ctx, r.key).Result()
	if err != nil {
		return nil, fmt.Errorf("hgetall %s: %w", r.key, err)
	}
	out := make([]Suspension, 0, len(m))
	for id, v := range m {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("suspension of %s: bad timestamp %q", id, v)
		}
		out = append(out, Suspension{DeviceID: id, SuspendedAt: time.UnixMilli(ms)})
	}
	return out, nil
}

func (r *RedisBackend) Put(ctx context.Context, s Suspension) error {
	return r.client.HSet(ctx, r.key, s.DeviceID, s.SuspendedAt.UnixMilli()).Err()
}

func (r *RedisBackend) Delete(ctx context.Context, deviceID string) error {
	return r.client.HDel(ctx, r.key, deviceID).Err()
}

// NewRedisClient connects and pings.
func NewRedisClient(ctx context.Context, opts *redis.Options) (*redis.Client, error) {
	rdb := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return rdb, nil
}
