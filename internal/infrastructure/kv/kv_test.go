package kv

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agromind-map/internal/domain/repository"
)

func exerciseStore(t *testing.T, store repository.KVStore) {
	t.Helper()
	ctx := context.Background()

	_, ok, err := store.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Set(ctx, "agromind_token", "abc"))
	require.NoError(t, store.Set(ctx, "agromind_token", "def"))
	v, ok, err := store.Get(ctx, "agromind_token")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "def", v)

	require.NoError(t, store.Set(ctx, "other", "x"))
	require.NoError(t, store.Delete(ctx, "agromind_token", "other", "never-set"))
	_, ok, err = store.Get(ctx, "agromind_token")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestSQLiteStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	store, err := OpenSQLite(path)
	require.NoError(t, err)
	exerciseStore(t, store)
	require.NoError(t, store.Set(context.Background(), "persisted", "yes"))
	require.NoError(t, store.Close())

	reopened, err := OpenSQLite(path)
	require.NoError(t, err)
	defer reopened.Close()
	v, ok, err := reopened.Get(context.Background(), "persisted")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "yes", v)
}

func TestRedisStore(t *testing.T) {
	host := os.Getenv("REDIS_HOST")
	if host == "" {
		t.Skip("REDIS_HOST が未設定のためスキップ")
	}
	store := NewRedisStore(RedisOptions{Addr: host + ":6379", Prefix: "agromind-test:"})
	defer store.Close()
	require.NoError(t, store.Ping(context.Background()))
	exerciseStore(t, store)
}
