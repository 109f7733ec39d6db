package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingBackend struct{ FileBackend }

func (*failingBackend) Put(context.Context, Suspension) error { return errors.New("disk full") }

func TestSuspensions_FileRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state", "suspended.json")
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	s := NewSuspensions(NewFileBackend(path))
	require.NoError(t, s.Load(ctx))
	assert.False(t, s.IsSuspended("gen-01"))

	require.NoError(t, s.Suspend(ctx, "gen-01", at))
	require.NoError(t, s.Suspend(ctx, "gen-02", at.Add(time.Minute)))
	require.NoError(t, s.Suspend(ctx, "gen-01", at.Add(time.Hour)))
	assert.Equal(t, 2, s.Len())

	// a fresh process sees the same set
	restarted := NewSuspensions(NewFileBackend(path))
	require.NoError(t, restarted.Load(ctx))
	list := restarted.List()
	require.Len(t, list, 2)
	assert.Equal(t, "gen-01", list[0].DeviceID)
	assert.True(t, list[0].SuspendedAt.Equal(at.Add(time.Hour)))

	require.NoError(t, restarted.Resume(ctx, "gen-01"))
	require.NoError(t, restarted.Resume(ctx, "gen-unknown"))
	assert.False(t, restarted.IsSuspended("gen-01"))

	again := NewSuspensions(NewFileBackend(path))
	require.NoError(t, again.Load(ctx))
	assert.Equal(t, []string{"gen-02"}, ids(again.List()))
}

func TestSuspensions_BackendFailureStillSuspendsInMemory(t *testing.T) {
	s := NewSuspensions(&failingBackend{FileBackend{path: filepath.Join(t.TempDir(), "x.json")}})
	err := s.Suspend(context.Background(), "gen-01", time.Now())
	assert.Error(t, err)
	assert.True(t, s.IsSuspended("gen-01"))
}

func TestFileBackend_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "suspended.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))
	_, err := NewFileBackend(path).LoadAll(context.Background())
	assert.Error(t, err)
}

func setupTestRedis(t *testing.T) *redis.Client {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379", DB: 15})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skip("Redis not available, skipping test")
	}
	client.FlushDB(ctx)
	t.Cleanup(func() {
		client.FlushDB(ctx)
		client.Close()
	})
	return client
}

func TestSuspensions_RedisRoundTrip(t *testing.T) {
	client := setupTestRedis(t)
	ctx := context.Background()
	at := time.UnixMilli(1767225600000)

	s := NewSuspensions(NewRedisBackend(client, "test:suspended"))
	require.NoError(t, s.Suspend(ctx, "gen-01", at))

	restarted := NewSuspensions(NewRedisBackend(client, "test:suspended"))
	require.NoError(t, restarted.Load(ctx))
	require.True(t, restarted.IsSuspended("gen-01"))
	assert.True(t, restarted.List()[0].SuspendedAt.Equal(at))

	require.NoError(t, restarted.Resume(ctx, "gen-01"))
	all, err := NewRedisBackend(client, "test:suspended").LoadAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func ids(list []Suspension) []string {
	out := make([]string, 0, len(list))
	for _, s := range list {
		out = append(out, s.DeviceID)
	}
	return out
}
