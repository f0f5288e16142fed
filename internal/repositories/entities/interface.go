package entities

import (
	"context"

	"github.com/dmitrijs2005/notesync/internal/models"
)

// Repository is the Local Store: durable key/value persistence for entities
// and their sync metadata. It is the single source of truth on a device.
// Implementations are backed by a local SQLite database; every write is
// committed before the call returns.
type Repository interface {
	// Put inserts a new entity or replaces an existing one by Id.
	Put(ctx context.Context, entity *models.Entity) error

	// Get returns an entity by id, or common.ErrorNotFound.
	Get(ctx context.Context, id string) (*models.Entity, error)

	// Delete permanently removes an entity row. Idempotent: deleting an
	// absent id is not an error.
	Delete(ctx context.Context, id string) error

	// ListByOwner returns every entity belonging to ownerId, including
	// trashed ones.
	ListByOwner(ctx context.Context, ownerId string) ([]*models.Entity, error)
}
