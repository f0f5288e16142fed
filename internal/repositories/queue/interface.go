package queue

import (
	"context"

	"github.com/dmitrijs2005/notesync/internal/models"
)

// Repository is the Mutation Queue: a durable, ordered record of local
// create/update/delete intents not yet acknowledged by the remote store.
// The queue holds at most one pending intent per (entityType, entityId)
// pair; it is replayed after a crash.
type Repository interface {
	// Enqueue stores an intent. If an intent for the same entity already
	// exists, the payload is replaced in place: the row keeps representing
	// "the latest known local state not yet confirmed remote". A pending
	// create stays a create when a newer update arrives (the remote store
	// has never seen the entity); a delete replaces anything.
	Enqueue(ctx context.Context, item *models.QueueItem) error

	// DequeueConfirmed removes the item with the given item id. A no-op if
	// the entity's row was since replaced by a newer intent (different id),
	// so confirming an old upload never drops unconfirmed work.
	DequeueConfirmed(ctx context.Context, id string) error

	// ListPending returns all queued intents, oldest first.
	ListPending(ctx context.Context) ([]*models.QueueItem, error)

	// PurgeEntity drops any queued intent for the entity, regardless of
	// item id. Used when a delete supersedes queued edits.
	PurgeEntity(ctx context.Context, entityType models.EntityType, entityId string) error
}
