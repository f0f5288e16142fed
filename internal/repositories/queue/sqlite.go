package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/notesync/internal/dbx"
	"github.com/dmitrijs2005/notesync/internal/models"
)

// SQLiteRepository implements Repository using a DBTX (either *sql.DB or *sql.Tx).
type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Enqueue upserts the intent keyed by (entity_type, entity_id). The op_type
// CASE keeps a pending create a create when a newer update coalesces into it.
func (r *SQLiteRepository) Enqueue(ctx context.Context, item *models.QueueItem) error {
	query := `INSERT INTO mutation_queue (id, op_type, entity_type, entity_id, payload, enqueued_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(entity_type, entity_id) DO UPDATE SET
				id = excluded.id,
				op_type = CASE
					WHEN mutation_queue.op_type = 'create' AND excluded.op_type = 'update'
					THEN 'create'
					ELSE excluded.op_type
				END,
				payload = excluded.payload,
				enqueued_at = excluded.enqueued_at
	`
	_, err := r.db.ExecContext(ctx, query,
		item.Id, item.OpType, item.EntityType, item.EntityId, item.Payload, item.EnqueuedAt.UnixMicro())
	if err != nil {
		return fmt.Errorf("failed to enqueue mutation: %w", err)
	}
	return nil
}

// DequeueConfirmed removes an item by its item id only.
func (r *SQLiteRepository) DequeueConfirmed(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM mutation_queue WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to dequeue mutation: %w", err)
	}
	return nil
}

// ListPending returns all queued intents, oldest first.
func (r *SQLiteRepository) ListPending(ctx context.Context) ([]*models.QueueItem, error) {
	query := `SELECT id, op_type, entity_type, entity_id, payload, enqueued_at
			FROM mutation_queue ORDER BY enqueued_at ASC`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to select mutations: %w", err)
	}
	defer rows.Close()

	var result []*models.QueueItem
	for rows.Next() {
		var (
			item models.QueueItem
			at   int64
		)
		if err := rows.Scan(&item.Id, &item.OpType, &item.EntityType, &item.EntityId, &item.Payload, &at); err != nil {
			return nil, err
		}
		item.EnqueuedAt = time.UnixMicro(at).UTC()
		result = append(result, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// PurgeEntity drops any queued intent for the entity.
func (r *SQLiteRepository) PurgeEntity(ctx context.Context, entityType models.EntityType, entityId string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM mutation_queue WHERE entity_type = ? AND entity_id = ?`, entityType, entityId)
	if err != nil {
		return fmt.Errorf("failed to purge mutations: %w", err)
	}
	return nil
}
