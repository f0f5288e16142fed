// Package models defines the entity envelope and the two concrete entity
// kinds (Note, Collection) synchronized by the engine, plus the durable
// bookkeeping records (tombstones, mutation-queue items).
package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EntityType classifies an entity kind.
type EntityType string

const (
	EntityTypeNote       EntityType = "note"
	EntityTypeCollection EntityType = "collection"
)

// SyncStatus tracks where an entity stands relative to the remote store.
type SyncStatus string

const (
	SyncStatusPending SyncStatus = "pending"
	SyncStatusSynced  SyncStatus = "synced"
	SyncStatusError   SyncStatus = "error"
)

var (
	ErrUnknownEntityType = errors.New("unknown entity type")
	ErrVariantMismatch   = errors.New("entity variant does not match its type")
)

// Envelope carries the fields shared by every entity kind. Version starts
// at 1 and strictly increments on every local mutation; UpdatedAt is a
// device-local wall-clock timestamp.
type Envelope struct {
	Id         string     `json:"id"`
	Type       EntityType `json:"type"`
	OwnerId    string     `json:"owner_id"`
	Version    int64      `json:"version"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	SyncStatus SyncStatus `json:"sync_status"`
	// SyncError holds the error kind when SyncStatus is "error"
	// (e.g. "quota-exceeded"); empty otherwise.
	SyncError string `json:"sync_error,omitempty"`
	// RemoteRef is the handle to the corresponding remote object; empty
	// until the first successful upload.
	RemoteRef string `json:"remote_ref,omitempty"`
	// Deleted marks the entity as trashed (soft delete, restorable).
	// Distinct from permanent deletion, which is recorded as a Tombstone.
	Deleted   bool       `json:"deleted"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// NoteFields are the note-specific fields. Content is an opaque serialized
// blob produced by the editor; the engine never interprets it.
type NoteFields struct {
	Title        string `json:"title"`
	Content      string `json:"content"`
	CollectionId string `json:"collection_id,omitempty"`
	Pinned       bool   `json:"pinned"`
}

// CollectionFields are the collection-specific fields.
type CollectionFields struct {
	Name         string   `json:"name"`
	MemberIds    []string `json:"member_ids"`
	DisplayOrder int64    `json:"display_order"`
}

// Entity is a tagged variant: exactly one of Note/Collection is non-nil and
// must agree with Envelope.Type.
type Entity struct {
	Envelope
	Note       *NoteFields
	Collection *CollectionFields
}

// NewNote creates a pending, version-1 note owned by ownerId.
func NewNote(ownerId string, fields NoteFields, now time.Time) *Entity {
	return &Entity{
		Envelope: Envelope{
			Id:         uuid.NewString(),
			Type:       EntityTypeNote,
			OwnerId:    ownerId,
			Version:    1,
			CreatedAt:  now,
			UpdatedAt:  now,
			SyncStatus: SyncStatusPending,
		},
		Note: &fields,
	}
}

// NewCollection creates a pending, version-1 collection owned by ownerId.
func NewCollection(ownerId string, fields CollectionFields, now time.Time) *Entity {
	return &Entity{
		Envelope: Envelope{
			Id:         uuid.NewString(),
			Type:       EntityTypeCollection,
			OwnerId:    ownerId,
			Version:    1,
			CreatedAt:  now,
			UpdatedAt:  now,
			SyncStatus: SyncStatusPending,
		},
		Collection: &fields,
	}
}

// Validate checks the variant invariant and the soft-delete invariant
// (Deleted implies DeletedAt and vice versa).
func (e *Entity) Validate() error {
	switch e.Type {
	case EntityTypeNote:
		if e.Note == nil || e.Collection != nil {
			return fmt.Errorf("%w: %s", ErrVariantMismatch, e.Id)
		}
	case EntityTypeCollection:
		if e.Collection == nil || e.Note != nil {
			return fmt.Errorf("%w: %s", ErrVariantMismatch, e.Id)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownEntityType, e.Type)
	}
	if e.Deleted != (e.DeletedAt != nil) {
		return fmt.Errorf("entity %s: deleted flag and deleted_at disagree", e.Id)
	}
	return nil
}

// Touch records a local mutation: version strictly increments, the entity
// becomes pending and any previous sync error is cleared.
func (e *Entity) Touch(now time.Time) {
	e.Version++
	e.UpdatedAt = now
	e.SyncStatus = SyncStatusPending
	e.SyncError = ""
}

// MarkTrashed soft-deletes the entity. Counts as a mutation.
func (e *Entity) MarkTrashed(now time.Time) {
	e.Deleted = true
	t := now
	e.DeletedAt = &t
	e.Touch(now)
}

// Restore undoes a soft delete. Counts as a mutation.
func (e *Entity) Restore(now time.Time) {
	e.Deleted = false
	e.DeletedAt = nil
	e.Touch(now)
}

// Payload serializes the kind-specific fields as JSON.
func (e *Entity) Payload() ([]byte, error) {
	switch e.Type {
	case EntityTypeNote:
		return json.Marshal(e.Note)
	case EntityTypeCollection:
		return json.Marshal(e.Collection)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEntityType, e.Type)
	}
}

// SetPayload decodes kind-specific fields according to Envelope.Type.
func (e *Entity) SetPayload(data []byte) error {
	switch e.Type {
	case EntityTypeNote:
		var f NoteFields
		if err := json.Unmarshal(data, &f); err != nil {
			return fmt.Errorf("decoding note payload: %w", err)
		}
		e.Note = &f
		e.Collection = nil
		return nil
	case EntityTypeCollection:
		var f CollectionFields
		if err := json.Unmarshal(data, &f); err != nil {
			return fmt.Errorf("decoding collection payload: %w", err)
		}
		e.Collection = &f
		e.Note = nil
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownEntityType, e.Type)
	}
}

// Clone returns a deep copy. The resolver and orchestrator hand copies
// around so a pass never aliases live store state.
func (e *Entity) Clone() *Entity {
	c := &Entity{Envelope: e.Envelope}
	if e.DeletedAt != nil {
		t := *e.DeletedAt
		c.DeletedAt = &t
	}
	if e.Note != nil {
		f := *e.Note
		c.Note = &f
	}
	if e.Collection != nil {
		f := *e.Collection
		c.Collection = &f
		if e.Collection.MemberIds != nil {
			f.MemberIds = append([]string(nil), e.Collection.MemberIds...)
		}
	}
	return c
}

// wireEntity is the flat JSON shape stored in the remote object body.
type wireEntity struct {
	Envelope
	Payload json.RawMessage `json:"payload"`
}

// MarshalWire encodes the entity (envelope + payload) for upload.
func (e *Entity) MarshalWire() ([]byte, error) {
	p, err := e.Payload()
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireEntity{Envelope: e.Envelope, Payload: p})
}

// UnmarshalWire decodes an entity downloaded from the remote store.
func UnmarshalWire(data []byte) (*Entity, error) {
	var w wireEntity
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decoding remote entity: %w", err)
	}
	e := &Entity{Envelope: w.Envelope}
	if err := e.SetPayload(w.Payload); err != nil {
		return nil, err
	}
	return e, nil
}
