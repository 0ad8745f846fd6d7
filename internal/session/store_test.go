package session

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStoreWithClient(client, "", 0), mr
}

func TestStores_Contract(t *testing.T) {
	backends := map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store { return NewMemoryStore() },
		"file": func(t *testing.T) Store {
			return NewFileStore(filepath.Join(t.TempDir(), "nested", "session.json"), slog.Default())
		},
		"redis": func(t *testing.T) Store {
			s, _ := setupRedisStore(t)
			return s
		},
	}

	for name, newStore := range backends {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := newStore(t)

			_, err := s.Get(ctx, "data")
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, s.Set(ctx, "data", `{"accessToken":"a"}`))
			require.NoError(t, s.Set(ctx, "err", "boom"))

			v, err := s.Get(ctx, "data")
			require.NoError(t, err)
			assert.Equal(t, `{"accessToken":"a"}`, v)

			require.NoError(t, s.Remove(ctx, "data"))
			require.NoError(t, s.Remove(ctx, "data"))

			_, err = s.Get(ctx, "data")
			assert.ErrorIs(t, err, ErrNotFound)

			v, err = s.Get(ctx, "err")
			require.NoError(t, err)
			assert.Equal(t, "boom", v)
		})
	}
}

func TestFileStore_PermissionsAndPersistence(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "session.json")

	s := NewFileStore(path, nil)
	require.NoError(t, s.Set(ctx, "data", "blob"))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	reopened := NewFileStore(path, nil)
	v, err := reopened.Get(ctx, "data")
	require.NoError(t, err)
	assert.Equal(t, "blob", v)
	assert.Equal(t, path, reopened.Path())
}

func TestFileStore_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o600))

	_, err := NewFileStore(path, nil).Get(context.Background(), "data")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestRedisStore_PrefixAndTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	s := NewRedisStoreWithClient(client, "test:", time.Hour)
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "data", "blob"))
	require.NoError(t, s.Ping(ctx))

	assert.True(t, mr.Exists("test:data"))
	assert.Equal(t, time.Hour, mr.TTL("test:data"))

	mr.FastForward(2 * time.Hour)
	_, err := s.Get(ctx, "data")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNewRedisStore_InvalidURL(t *testing.T) {
	_, err := NewRedisStore("://bad", "", 0)
	assert.Error(t, err)
}

func TestRedisStore_ConnectionError(t *testing.T) {
	s, mr := setupRedisStore(t)
	mr.Close()

	_, err := s.Get(context.Background(), "data")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestRepository(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	repo := NewRepository(store, "")
	assert.Equal(t, DefaultKey, repo.Key())

	_, err := repo.Load(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	in := &Session{AccessToken: "a", RefreshToken: "r", LoginTime: 10}
	require.NoError(t, repo.Save(ctx, in))

	out, err := repo.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", out.AccessToken)
	assert.Equal(t, int64(10), out.LoginTime)

	msg, err := repo.LastError(ctx)
	require.NoError(t, err)
	assert.Empty(t, msg)

	require.NoError(t, repo.RecordError(ctx, "expired"))
	msg, err = repo.LastError(ctx)
	require.NoError(t, err)
	assert.Equal(t, "expired", msg)
	require.NoError(t, repo.ClearError(ctx))

	require.NoError(t, repo.Clear(ctx))
	_, err = repo.Load(ctx)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRepository_NullBlob(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Set(context.Background(), "data", "null"))

	_, err := NewRepository(store, "data").Load(context.Background())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTeardown(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	repo := NewRepository(store, "")
	require.NoError(t, repo.Save(ctx, &Session{AccessToken: "a"}))

	teardown := NewTeardown(repo, nil)
	teardown(ctx, ReasonUnauthorized, "session expired")

	_, err := repo.Load(ctx)
	assert.ErrorIs(t, err, ErrNotFound)
	msg, err := repo.LastError(ctx)
	require.NoError(t, err)
	assert.Equal(t, "session expired", msg)

	// second call with no message keeps the recorded error
	teardown(ctx, ReasonLogout, "")
	msg, _ = repo.LastError(ctx)
	assert.Equal(t, "session expired", msg)
}
