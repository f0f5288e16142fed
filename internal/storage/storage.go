// Package storage opens the local SQLite database, applies migrations
// and wires up the repositories it backs.
package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/dmitrijs2005/notesync/internal/dbx"
	"github.com/dmitrijs2005/notesync/internal/filex"
	"github.com/dmitrijs2005/notesync/internal/migrations"
	"github.com/dmitrijs2005/notesync/internal/repositories/entities"
	"github.com/dmitrijs2005/notesync/internal/repositories/metadata"
	"github.com/dmitrijs2005/notesync/internal/repositories/queue"
	"github.com/dmitrijs2005/notesync/internal/repositories/tombstones"
)

// Storage bundles the open database handle with the repositories over it.
// Repositories share the handle so they can also be rebound to one
// transaction via dbx.WithTx.
type Storage struct {
	DB         *sql.DB
	Entities   entities.Repository
	Tombstones tombstones.Repository
	Queue      queue.Repository
	Metadata   metadata.Repository
}

func RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	return goose.UpContext(ctx, db, ".")
}

func InitDatabase(ctx context.Context, dsn string) (*Storage, error) {
	if err := filex.EnsureParentDir(dsn); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	// modernc sqlite serializes writes itself, but a single connection
	// avoids SQLITE_BUSY on concurrent transactions
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, `PRAGMA journal_mode=WAL; PRAGMA foreign_keys=ON;`); err != nil {
		db.Close()
		return nil, err
	}

	if err := RunMigrations(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	return &Storage{
		DB:         db,
		Entities:   entities.NewSQLiteRepository(db),
		Tombstones: tombstones.NewSQLiteRepository(db),
		Queue:      queue.NewSQLiteRepository(db),
		Metadata:   metadata.NewSQLiteRepository(db),
	}, nil
}

// WithTx runs fn against a copy of the Storage whose repositories are
// bound to one transaction. Commit on success, rollback on error.
func (s *Storage) WithTx(ctx context.Context, fn func(ctx context.Context, txStore *Storage) error) error {
	return dbx.WithTx(ctx, s.DB, nil, func(ctx context.Context, tx dbx.DBTX) error {
		txStore := &Storage{
			DB:         s.DB,
			Entities:   entities.NewSQLiteRepository(tx),
			Tombstones: tombstones.NewSQLiteRepository(tx),
			Queue:      queue.NewSQLiteRepository(tx),
			Metadata:   metadata.NewSQLiteRepository(tx),
		}
		return fn(ctx, txStore)
	})
}

func (s *Storage) Close() error {
	return s.DB.Close()
}
