package tombstones

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

// Append inserts a tombstone; an existing row for the id wins (tombstones
// are never mutated after creation).
func (r *SQLiteRepository) Append(ctx context.Context, ts models.Tombstone) error {
	query := `INSERT INTO tombstones (entity_id, entity_type, deleted_at)
			VALUES (?, ?, ?)
			ON CONFLICT(entity_id) DO NOTHING`
	_, err := r.db.ExecContext(ctx, query, ts.EntityId, ts.EntityType, ts.DeletedAt.UnixMicro())
	if err != nil {
		return fmt.Errorf("failed to append tombstone: %w", err)
	}
	return nil
}

// ListAll returns every tombstone.
func (r *SQLiteRepository) ListAll(ctx context.Context) ([]models.Tombstone, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT entity_id, entity_type, deleted_at FROM tombstones`)
	if err != nil {
		return nil, fmt.Errorf("failed to select tombstones: %w", err)
	}
	defer rows.Close()

	var result []models.Tombstone
	for rows.Next() {
		var (
			ts models.Tombstone
			at int64
		)
		if err := rows.Scan(&ts.EntityId, &ts.EntityType, &at); err != nil {
			return nil, err
		}
		ts.DeletedAt = time.UnixMicro(at).UTC()
		result = append(result, ts)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Remove drops the tombstone for entityId. Idempotent.
func (r *SQLiteRepository) Remove(ctx context.Context, entityId string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM tombstones WHERE entity_id = ?`, entityId); err != nil {
		return fmt.Errorf("failed to remove tombstone: %w", err)
	}
	return nil
}
