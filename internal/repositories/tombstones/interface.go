package tombstones

import (
	"context"

	"github.com/dmitrijs2005/notesync/internal/models"
)

// Repository is the Deletion Log: an append-only record of permanent
// deletions, kept independently of the entity rows so a delete can out-race
// stale re-creations from other devices.
type Repository interface {
	// Append records a tombstone. Idempotent per entity id: a second append
	// for the same id is a no-op and the original DeletedAt is kept.
	Append(ctx context.Context, ts models.Tombstone) error

	// ListAll returns every tombstone on this device.
	ListAll(ctx context.Context) ([]models.Tombstone, error)

	// Remove drops a tombstone once both local and remote sides agree the
	// delete has propagated. Idempotent.
	Remove(ctx context.Context, entityId string) error
}
