package entities

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/notesync/internal/common"
	"github.com/dmitrijs2005/notesync/internal/dbx"
	"github.com/dmitrijs2005/notesync/internal/models"
)

// SQLiteRepository implements Repository using a DBTX (either *sql.DB or *sql.Tx).
type SQLiteRepository struct {
	db dbx.DBTX
}

// NewSQLiteRepository returns a new SQLiteRepository bound to the given DBTX.
func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Put upserts an entity by id. All envelope columns and the payload are
// replaced on conflict.
func (r *SQLiteRepository) Put(ctx context.Context, e *models.Entity) error {
	if err := e.Validate(); err != nil {
		return err
	}
	payload, err := e.Payload()
	if err != nil {
		return err
	}

	query := `INSERT INTO entities
			(id, entity_type, owner_id, version, created_at, updated_at,
			 sync_status, sync_error, remote_ref, deleted, deleted_at, payload)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				entity_type = excluded.entity_type,
				owner_id = excluded.owner_id,
				version = excluded.version,
				created_at = excluded.created_at,
				updated_at = excluded.updated_at,
				sync_status = excluded.sync_status,
				sync_error = excluded.sync_error,
				remote_ref = excluded.remote_ref,
				deleted = excluded.deleted,
				deleted_at = excluded.deleted_at,
				payload = excluded.payload
	`
	_, err = r.db.ExecContext(ctx, query,
		e.Id, e.Type, e.OwnerId, e.Version,
		e.CreatedAt.UnixMicro(), e.UpdatedAt.UnixMicro(),
		e.SyncStatus, e.SyncError, e.RemoteRef,
		boolToInt(e.Deleted), timePtrToMicro(e.DeletedAt), payload)
	if err != nil {
		return fmt.Errorf("failed to upsert entity: %w", err)
	}
	return nil
}

// Get returns one entity by id.
func (r *SQLiteRepository) Get(ctx context.Context, id string) (*models.Entity, error) {
	row := r.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id)

	e, err := scanEntity(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("entity %s: %w", id, common.ErrorNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select entity: %w", err)
	}
	return e, nil
}

// Delete removes the entity row. Idempotent.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM entities WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete entity: %w", err)
	}
	return nil
}

// ListByOwner returns all entities for one owner, trashed included.
func (r *SQLiteRepository) ListByOwner(ctx context.Context, ownerId string) ([]*models.Entity, error) {
	rows, err := r.db.QueryContext(ctx, selectColumns+` WHERE owner_id = ?`, ownerId)
	if err != nil {
		return nil, fmt.Errorf("failed to select entities: %w", err)
	}
	defer rows.Close()

	var result []*models.Entity
	for rows.Next() {
		e, err := scanEntity(rows.Scan)
		if err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

const selectColumns = `SELECT id, entity_type, owner_id, version, created_at, updated_at,
	sync_status, sync_error, remote_ref, deleted, deleted_at, payload FROM entities`

func scanEntity(scan func(dest ...any) error) (*models.Entity, error) {
	var (
		e         models.Entity
		created   int64
		updated   int64
		deleted   int64
		deletedAt sql.NullInt64
		payload   []byte
	)
	err := scan(&e.Id, &e.Type, &e.OwnerId, &e.Version, &created, &updated,
		&e.SyncStatus, &e.SyncError, &e.RemoteRef, &deleted, &deletedAt, &payload)
	if err != nil {
		return nil, err
	}

	e.CreatedAt = time.UnixMicro(created).UTC()
	e.UpdatedAt = time.UnixMicro(updated).UTC()
	e.Deleted = deleted != 0
	if deletedAt.Valid {
		t := time.UnixMicro(deletedAt.Int64).UTC()
		e.DeletedAt = &t
	}
	if err := e.SetPayload(payload); err != nil {
		return nil, err
	}
	return &e, nil
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func timePtrToMicro(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMicro()
}
