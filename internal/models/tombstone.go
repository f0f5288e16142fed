package models

import "time"

// Tombstone is a durable record that an entity was permanently deleted at a
// given time. Never mutated after creation; only removed once both local and
// remote sides agree the delete has propagated.
type Tombstone struct {
	EntityId   string     `json:"entity_id"`
	EntityType EntityType `json:"entity_type"`
	DeletedAt  time.Time  `json:"deleted_at"`
}
