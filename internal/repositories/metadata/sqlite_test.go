package metadata

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`
CREATE TABLE metadata (
  key TEXT PRIMARY KEY,
  value BLOB
);
`)
	require.NoError(t, err)

	return db
}

func TestSetGetDelete(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	v, err := r.Get(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, v)

	require.NoError(t, r.Set(ctx, "k", []byte("v1")))
	require.NoError(t, r.Set(ctx, "k", []byte("v2")))

	v, err = r.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), v)

	require.NoError(t, r.Delete(ctx, "k"))
	v, err = r.Get(ctx, "k")
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestListAndClear(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	require.NoError(t, r.Set(ctx, "a", []byte("1")))
	require.NoError(t, r.Set(ctx, "b", []byte("2")))

	all, err := r.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string][]byte{"a": []byte("1"), "b": []byte("2")}, all)

	require.NoError(t, r.Clear(ctx))
	all, err = r.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestLastSyncTime(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	ts, err := r.LastSyncTime(ctx)
	require.NoError(t, err)
	assert.True(t, ts.IsZero())

	now := time.Date(2025, 6, 1, 12, 0, 0, 123000, time.UTC)
	require.NoError(t, r.SetLastSyncTime(ctx, now))

	ts, err = r.LastSyncTime(ctx)
	require.NoError(t, err)
	assert.Equal(t, now, ts)
}

func TestDeviceId_StableAcrossCalls(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	id1, err := r.DeviceId(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, id1)

	id2, err := r.DeviceId(ctx)
	require.NoError(t, err)
	assert.Equal(t, id1, id2)
}

func TestSyncPaused(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	paused, err := r.SyncPaused(ctx)
	require.NoError(t, err)
	assert.False(t, paused)

	require.NoError(t, r.SetSyncPaused(ctx, true))
	paused, err = r.SyncPaused(ctx)
	require.NoError(t, err)
	assert.True(t, paused)

	require.NoError(t, r.SetSyncPaused(ctx, false))
	paused, err = r.SyncPaused(ctx)
	require.NoError(t, err)
	assert.False(t, paused)
}
