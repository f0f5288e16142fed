package metadata

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrijs2005/notesync/internal/dbx"
)

type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := r.db.QueryRowContext(ctx, `SELECT value FROM metadata WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get metadata[%s]: %w", key, err)
	}
	return value, nil
}

func (r *SQLiteRepository) Set(ctx context.Context, key string, value []byte) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO metadata (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("failed to set metadata[%s]: %w", key, err)
	}
	return nil
}

func (r *SQLiteRepository) Delete(ctx context.Context, key string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM metadata WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("failed to delete metadata[%s]: %w", key, err)
	}
	return nil
}

func (r *SQLiteRepository) Clear(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM metadata`)
	if err != nil {
		return fmt.Errorf("failed to clear metadata: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) List(ctx context.Context) (map[string][]byte, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT key, value FROM metadata`)
	if err != nil {
		return nil, fmt.Errorf("failed to list metadata: %w", err)
	}
	defer rows.Close()

	result := make(map[string][]byte)
	for rows.Next() {
		var key string
		var value []byte
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("failed to scan metadata row: %w", err)
		}
		result[key] = value
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate metadata rows: %w", err)
	}

	return result, nil
}

func (r *SQLiteRepository) LastSyncTime(ctx context.Context) (time.Time, error) {
	value, err := r.Get(ctx, KeyLastSyncTime)
	if err != nil {
		return time.Time{}, err
	}
	if value == nil {
		return time.Time{}, nil
	}
	micros, err := strconv.ParseInt(string(value), 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid last sync time %q: %w", value, err)
	}
	return time.UnixMicro(micros).UTC(), nil
}

func (r *SQLiteRepository) SetLastSyncTime(ctx context.Context, t time.Time) error {
	return r.Set(ctx, KeyLastSyncTime, []byte(strconv.FormatInt(t.UnixMicro(), 10)))
}

func (r *SQLiteRepository) DeviceId(ctx context.Context) (string, error) {
	value, err := r.Get(ctx, KeyDeviceId)
	if err != nil {
		return "", err
	}
	if value != nil {
		return string(value), nil
	}
	id := uuid.NewString()
	if err := r.Set(ctx, KeyDeviceId, []byte(id)); err != nil {
		return "", err
	}
	return id, nil
}

func (r *SQLiteRepository) SyncPaused(ctx context.Context) (bool, error) {
	value, err := r.Get(ctx, KeySyncPaused)
	if err != nil {
		return false, err
	}
	return string(value) == "1", nil
}

func (r *SQLiteRepository) SetSyncPaused(ctx context.Context, paused bool) error {
	if !paused {
		return r.Delete(ctx, KeySyncPaused)
	}
	return r.Set(ctx, KeySyncPaused, []byte("1"))
}
