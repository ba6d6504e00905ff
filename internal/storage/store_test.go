package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stanstork/jobwatch/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStores(t *testing.T) map[string]Store {
	t.Helper()
	dir := t.TempDir()

	fileStore, err := NewFileStore(filepath.Join(dir, "state", "state.json"))
	require.NoError(t, err)
	sqliteStore, err := NewSQLiteStore(filepath.Join(dir, "state.db"))
	require.NoError(t, err)

	stores := map[string]Store{
		"memory": NewMemoryStore(),
		"file":   fileStore,
		"sqlite": sqliteStore,
	}
	if url := os.Getenv("JOBWATCH_TEST_REDIS_URL"); url != "" {
		redisStore, err := NewRedisStore(context.Background(), url, "jobwatch-test:"+uuid.NewString()+":")
		require.NoError(t, err)
		stores["redis"] = redisStore
	}
	for _, s := range stores {
		t.Cleanup(func() { s.Close() })
	}
	return stores
}

func TestStore_SetGetDelete(t *testing.T) {
	ctx := context.Background()
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Get(ctx, "session")
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, s.Set(ctx, "session", []byte(`{"a":1}`)))
			got, err := s.Get(ctx, "session")
			require.NoError(t, err)
			assert.Equal(t, `{"a":1}`, string(got))

			require.NoError(t, s.Set(ctx, "session", []byte(`{"a":2}`)))
			got, err = s.Get(ctx, "session")
			require.NoError(t, err)
			assert.Equal(t, `{"a":2}`, string(got))

			require.NoError(t, s.Delete(ctx, "session"))
			_, err = s.Get(ctx, "session")
			assert.ErrorIs(t, err, ErrNotFound)

			// deleting a missing key is not an error
			assert.NoError(t, s.Delete(ctx, "session"))
		})
	}
}

func TestStore_JSONHelpers(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	type payload struct {
		JobID int64 `json:"jobId"`
	}
	require.NoError(t, SetJSON(ctx, s, "last_job_id", payload{JobID: 42}))

	var got payload
	require.NoError(t, GetJSON(ctx, s, "last_job_id", &got))
	assert.Equal(t, int64(42), got.JobID)

	require.NoError(t, s.Set(ctx, "broken", []byte("{")))
	assert.Error(t, GetJSON(ctx, s, "broken", &got))
}

func TestFileStore_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.json")

	first, err := NewFileStore(path)
	require.NoError(t, err)
	require.NoError(t, first.Set(ctx, "last_job_id", []byte("99")))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	second, err := NewFileStore(path)
	require.NoError(t, err)
	got, err := second.Get(ctx, "last_job_id")
	require.NoError(t, err)
	assert.Equal(t, "99", string(got))
}

func TestSQLiteStore_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.db")

	first, err := NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, first.Set(ctx, "session", []byte("token")))
	require.NoError(t, first.Close())

	second, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer second.Close()
	got, err := second.Get(ctx, "session")
	require.NoError(t, err)
	assert.Equal(t, "token", string(got))
}

func TestOpen_DefaultIsPrivateSQLite(t *testing.T) {
	cfg := config.Default().Store
	cfg.Path = filepath.Join(t.TempDir(), "state.db")

	store, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	defer store.Close()
	assert.IsType(t, &SQLiteStore{}, store)

	info, err := os.Stat(cfg.Path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}
