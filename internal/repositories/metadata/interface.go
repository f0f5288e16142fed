package metadata

import (
	"context"
	"time"
)

// Well-known metadata keys.
const (
	KeyLastSyncTime = "last_sync_time"
	KeyDeviceId     = "device_id"
	KeySyncPaused   = "sync_paused"
)

type Repository interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context) (map[string][]byte, error)
	Clear(ctx context.Context) error

	// LastSyncTime returns the zero time when no sync has completed yet.
	LastSyncTime(ctx context.Context) (time.Time, error)
	SetLastSyncTime(ctx context.Context, t time.Time) error

	// DeviceId returns the stable identifier of this installation,
	// generating and persisting one on first call.
	DeviceId(ctx context.Context) (string, error)

	SyncPaused(ctx context.Context) (bool, error)
	SetSyncPaused(ctx context.Context, paused bool) error
}
