// Package remote talks to the shared remote store. The orchestrator only
// depends on the Adapter interface; the production implementation keeps one
// JSON object per entity in an S3 bucket.
package remote

import (
	"context"
	"time"

	"github.com/dmitrijs2005/notesync/internal/models"
)

// ObjectInfo is the envelope metadata of a remote entity object. Listing
// returns metadata only; payloads are fetched separately so a pass
// downloads just the objects the resolver picked.
type ObjectInfo struct {
	Id        string
	Type      models.EntityType
	Version   int64
	UpdatedAt time.Time
	// Ref is the opaque concurrency handle for this object state (the
	// S3 ETag). Uploads and removes pass it back as a precondition.
	Ref string
}

// TombstoneInfo is a remote deletion record plus its concurrency handle.
type TombstoneInfo struct {
	models.Tombstone
	Ref string
}

// Expectation states what the caller believes the remote object looks
// like. A write that finds something else fails with
// common.ErrVersionConflict.
type Expectation struct {
	// Ref must match the current remote object state. Ignored when
	// Create is set.
	Ref string
	// Create requires that the object does not exist yet.
	Create bool
}

// UploadResult reports the state of the remote object after a successful
// upload.
type UploadResult struct {
	Ref string
}

// Adapter is the portable surface over the remote store.
type Adapter interface {
	// CheckHasData reports whether the owner has any remote entities at
	// all, with an approximate count. Used on first association to pick
	// merge versus initial upload.
	CheckHasData(ctx context.Context, ownerId string) (bool, int, error)

	ListRemote(ctx context.Context, ownerId string) ([]ObjectInfo, error)
	Download(ctx context.Context, ownerId, id string) (*models.Entity, error)
	Upload(ctx context.Context, entity *models.Entity, expect *Expectation) (UploadResult, error)
	// Remove deletes a remote entity object. Removing an absent object
	// is not an error.
	Remove(ctx context.Context, ownerId, id string, expect *Expectation) error

	ListTombstones(ctx context.Context, ownerId string) ([]TombstoneInfo, error)
	PutTombstone(ctx context.Context, ownerId string, ts *models.Tombstone) error
	RemoveTombstone(ctx context.Context, ownerId, entityId string) error
}
