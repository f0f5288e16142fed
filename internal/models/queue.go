package models

import (
	"time"

	"github.com/google/uuid"
)

// OpType classifies a queued local intent.
type OpType string

const (
	OpCreate OpType = "create"
	OpUpdate OpType = "update"
	OpDelete OpType = "delete"
)

// QueueItem is a durable record of a local mutation not yet acknowledged by
// the remote store. The queue holds at most one pending intent per
// (EntityType, EntityId) pair; enqueuing a newer intent for the same entity
// replaces the payload in place.
type QueueItem struct {
	Id         string
	OpType     OpType
	EntityType EntityType
	EntityId   string
	// Payload is the full wire snapshot of the entity for create/update;
	// nil for delete.
	Payload    []byte
	EnqueuedAt time.Time
}

// NewQueueItem builds a queue item for one intent.
func NewQueueItem(op OpType, entityType EntityType, entityId string, payload []byte, now time.Time) *QueueItem {
	return &QueueItem{
		Id:         uuid.NewString(),
		OpType:     op,
		EntityType: entityType,
		EntityId:   entityId,
		Payload:    payload,
		EnqueuedAt: now,
	}
}
