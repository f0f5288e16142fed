// Package notesync is an offline-first synchronization engine for
// structured notes. It owns the local durable store, the deletion log
// and mutation queue, debounced autosave, sync scheduling and the
// conflict resolution against a shared remote object store.
//
// The engine is a library: the embedding application supplies the
// editing surface, credentials and lifecycle, and reads entities back
// through the engine.
package notesync

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/notesync/internal/auth"
	"github.com/dmitrijs2005/notesync/internal/coalescer"
	"github.com/dmitrijs2005/notesync/internal/common"
	"github.com/dmitrijs2005/notesync/internal/config"
	"github.com/dmitrijs2005/notesync/internal/logging"
	"github.com/dmitrijs2005/notesync/internal/models"
	"github.com/dmitrijs2005/notesync/internal/netx"
	"github.com/dmitrijs2005/notesync/internal/remote"
	"github.com/dmitrijs2005/notesync/internal/scheduler"
	"github.com/dmitrijs2005/notesync/internal/storage"
	"github.com/dmitrijs2005/notesync/internal/syncer"
	"github.com/dmitrijs2005/notesync/internal/timex"
)

// Re-exported domain types.
type (
	Entity             = models.Entity
	NoteFields         = models.NoteFields
	CollectionFields   = models.CollectionFields
	EntityType         = models.EntityType
	SyncStatus         = models.SyncStatus
	Config             = config.Config
	Credential         = auth.Credential
	CredentialProvider = auth.Provider
	Report             = syncer.Report
)

const (
	EntityTypeNote       = models.EntityTypeNote
	EntityTypeCollection = models.EntityTypeCollection
	SyncStatusPending    = models.SyncStatusPending
	SyncStatusSynced     = models.SyncStatusSynced
	SyncStatusError      = models.SyncStatusError
)

// Sentinel errors callers are expected to branch on.
var (
	ErrNotFound       = common.ErrorNotFound
	ErrOffline        = common.ErrOffline
	ErrSessionExpired = common.ErrSessionExpired
	ErrSyncInProgress = common.ErrSyncInProgress
	ErrSyncPaused     = common.ErrSyncPaused
)

// Options configure one Engine instance.
type Options struct {
	Config *config.Config
	// OwnerId scopes the local store to one account on shared devices.
	OwnerId string
	// Creds supplies remote-store credentials and handles refresh.
	Creds auth.Provider
	// Logger defaults to a discard logger when nil.
	Logger logging.Logger
	// Adapter overrides the S3-backed remote adapter. Mainly for tests
	// and alternative backends.
	Adapter remote.Adapter
	// Clock defaults to the system clock.
	Clock timex.Clock
}

// Engine is the public synchronization engine. All methods are safe for
// use from one goroutine per the single-writer-per-device model; the
// engine's own background work (timers, sync passes) is internally
// synchronized.
type Engine struct {
	cfg     *config.Config
	ownerId string
	store   *storage.Storage
	flusher *coalescer.Coalescer
	orch    *syncer.Orchestrator
	sched   *scheduler.Scheduler
	watcher *netx.Watcher
	clock   timex.Clock
	logger  logging.Logger
}

// New opens the local database, applies migrations and starts the
// scheduler and connectivity watcher.
func New(ctx context.Context, opts Options) (*Engine, error) {
	if opts.Config == nil {
		opts.Config = &config.Config{}
		opts.Config.LoadDefaults()
	}
	if opts.OwnerId == "" {
		return nil, errors.New("OwnerId is required")
	}
	if opts.Creds == nil {
		return nil, errors.New("Creds is required")
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	if opts.Clock == nil {
		opts.Clock = timex.SystemClock{}
	}
	cfg := opts.Config

	store, err := storage.InitDatabase(ctx, cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("opening local store: %w", err)
	}

	adapter := opts.Adapter
	if adapter == nil {
		adapter, err = remote.NewS3Adapter(ctx, cfg, opts.Creds, opts.Logger)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("building remote adapter: %w", err)
		}
	}

	e := &Engine{
		cfg:     cfg,
		ownerId: opts.OwnerId,
		store:   store,
		clock:   opts.Clock,
		logger:  opts.Logger,
	}

	e.flusher = coalescer.New(store.Entities, store.Queue, cfg.DebounceDelay, opts.Clock, opts.Logger, func() {
		if e.sched != nil {
			e.sched.NotifyActivity()
		}
	})

	e.orch = syncer.New(store, adapter, opts.Creds, e.flusher, syncer.NewActiveSet(), opts.Clock, opts.Logger, syncer.Options{
		OwnerId:             opts.OwnerId,
		StaleThreshold:      cfg.StaleDeviceThreshold,
		TransferConcurrency: cfg.TransferConcurrency,
		MaxPassAttempts:     cfg.MaxPassAttempts,
		RetryBaseDelay:      cfg.RetryBaseDelay,
	})

	e.watcher = netx.NewWatcher(
		netx.NewHTTPChecker(probeURL(cfg), cfg.OnlineCheckInterval),
		cfg.OnlineCheckInterval,
		func() { e.sched.RequestSync() },
		opts.Logger,
	)

	e.sched = scheduler.New(e.orch, e.hasPendingWork, e.watcher.Online,
		cfg.IdleSyncInterval, cfg.PeriodicSyncInterval, opts.Logger)

	e.sched.Start(ctx)
	e.watcher.Start(ctx)
	return e, nil
}

// probeURL is the endpoint the connectivity watcher pings. With no custom
// endpoint configured it falls back to the regional S3 service URL.
func probeURL(cfg *config.Config) string {
	if cfg.S3BaseEndpoint != "" {
		return cfg.S3BaseEndpoint
	}
	return fmt.Sprintf("https://s3.%s.amazonaws.com", cfg.S3Region)
}

func (e *Engine) hasPendingWork(ctx context.Context) (bool, error) {
	items, err := e.store.Queue.ListPending(ctx)
	if err != nil {
		return false, err
	}
	return len(items) > 0 || e.flusher.PendingCount() > 0, nil
}

// current reads through the coalescer so edits inside a debounce burst
// build on the latest scheduled state, not the last durable one.
func (e *Engine) current(ctx context.Context, id string) (*models.Entity, error) {
	if pending := e.flusher.Peek(id); pending != nil {
		return pending, nil
	}
	return e.store.Entities.Get(ctx, id)
}

// CreateNote durably creates a note and queues its upload.
func (e *Engine) CreateNote(ctx context.Context, fields NoteFields) (*Entity, error) {
	entity := models.NewNote(e.ownerId, fields, e.clock.Now())
	if err := e.writeNow(ctx, entity, models.OpCreate); err != nil {
		return nil, err
	}
	return entity.Clone(), nil
}

// CreateCollection durably creates a collection and queues its upload.
func (e *Engine) CreateCollection(ctx context.Context, fields CollectionFields) (*Entity, error) {
	entity := models.NewCollection(e.ownerId, fields, e.clock.Now())
	if err := e.writeNow(ctx, entity, models.OpCreate); err != nil {
		return nil, err
	}
	return entity.Clone(), nil
}

// UpdateNote records a content edit. Writes are debounced: bursts of
// calls settle into one durable write per entity.
func (e *Engine) UpdateNote(ctx context.Context, id string, fields NoteFields) error {
	entity, err := e.current(ctx, id)
	if err != nil {
		return err
	}
	if entity.Type != models.EntityTypeNote {
		return fmt.Errorf("%w: %s is not a note", common.ErrorInternal, id)
	}
	f := fields
	entity.Note = &f
	entity.Touch(e.clock.Now())
	e.flusher.Schedule(entity, models.OpUpdate)
	e.sched.NotifyActivity()
	return nil
}

// UpdateCollection records a collection edit, debounced like UpdateNote.
func (e *Engine) UpdateCollection(ctx context.Context, id string, fields CollectionFields) error {
	entity, err := e.current(ctx, id)
	if err != nil {
		return err
	}
	if entity.Type != models.EntityTypeCollection {
		return fmt.Errorf("%w: %s is not a collection", common.ErrorInternal, id)
	}
	f := fields
	entity.Collection = &f
	entity.Touch(e.clock.Now())
	e.flusher.Schedule(entity, models.OpUpdate)
	e.sched.NotifyActivity()
	return nil
}

// TogglePinned flips the pin flag. Structural: written durably at once
// and followed by an immediate sync request.
func (e *Engine) TogglePinned(ctx context.Context, id string) error {
	entity, err := e.current(ctx, id)
	if err != nil {
		return err
	}
	if entity.Type != models.EntityTypeNote {
		return fmt.Errorf("%w: %s is not a note", common.ErrorInternal, id)
	}
	entity.Note.Pinned = !entity.Note.Pinned
	entity.Touch(e.clock.Now())
	if err := e.writeNow(ctx, entity, models.OpUpdate); err != nil {
		return err
	}
	e.sched.RequestSync()
	return nil
}

// Trash soft-deletes the entity. It stays restorable until permanently
// deleted.
func (e *Engine) Trash(ctx context.Context, id string) error {
	entity, err := e.current(ctx, id)
	if err != nil {
		return err
	}
	entity.MarkTrashed(e.clock.Now())
	if err := e.writeNow(ctx, entity, models.OpUpdate); err != nil {
		return err
	}
	e.sched.RequestSync()
	return nil
}

// Restore undoes a soft delete.
func (e *Engine) Restore(ctx context.Context, id string) error {
	entity, err := e.current(ctx, id)
	if err != nil {
		return err
	}
	entity.Restore(e.clock.Now())
	if err := e.writeNow(ctx, entity, models.OpUpdate); err != nil {
		return err
	}
	e.sched.RequestSync()
	return nil
}

// DeletePermanently writes a tombstone, drops the entity and its queued
// work and schedules the remote delete.
func (e *Engine) DeletePermanently(ctx context.Context, id string) error {
	entity, err := e.current(ctx, id)
	if err != nil {
		return err
	}
	e.flusher.Discard(id)

	now := e.clock.Now()
	if err := e.store.Tombstones.Append(ctx, models.Tombstone{
		EntityId:   id,
		EntityType: entity.Type,
		DeletedAt:  now,
	}); err != nil {
		return err
	}
	if err := e.store.Queue.PurgeEntity(ctx, entity.Type, id); err != nil {
		return err
	}
	if err := e.store.Queue.Enqueue(ctx, models.NewQueueItem(models.OpDelete, entity.Type, id, nil, now)); err != nil {
		return err
	}
	if err := e.store.Entities.Delete(ctx, id); err != nil {
		return err
	}
	e.orch.Active().Close(id)
	e.sched.RequestSync()
	return nil
}

// ClearSyncError returns a failed entity to the pending state and
// queues it again.
func (e *Engine) ClearSyncError(ctx context.Context, id string) error {
	entity, err := e.store.Entities.Get(ctx, id)
	if err != nil {
		return err
	}
	if entity.SyncStatus != models.SyncStatusError {
		return nil
	}
	entity.SyncStatus = models.SyncStatusPending
	entity.SyncError = ""
	if err := e.writeNow(ctx, entity, models.OpUpdate); err != nil {
		return err
	}
	e.sched.RequestSync()
	return nil
}

// OpenEntity marks the entity as being edited: sync passes stop
// overwriting its local copy until CloseEntity.
func (e *Engine) OpenEntity(id string) {
	e.orch.Active().Open(id)
}

// CloseEntity releases the edit hold and flushes any scheduled write so
// the entity is durable before navigation completes.
func (e *Engine) CloseEntity(ctx context.Context, id string) error {
	e.orch.Active().Close(id)
	return e.flusher.Flush(ctx)
}

// GetEntity returns the current state of one entity, including state
// still held by the debouncer.
func (e *Engine) GetEntity(ctx context.Context, id string) (*Entity, error) {
	entity, err := e.current(ctx, id)
	if err != nil {
		return nil, err
	}
	return entity.Clone(), nil
}

// ListEntities returns every durable entity of the engine's owner,
// trashed ones included.
func (e *Engine) ListEntities(ctx context.Context) ([]*Entity, error) {
	return e.store.Entities.ListByOwner(ctx, e.ownerId)
}

// SyncNow forces a full pass immediately, flushing the debouncer first.
// Returns ErrSyncInProgress if a pass is already running.
func (e *Engine) SyncNow(ctx context.Context) (*Report, error) {
	return e.orch.RunPassReport(ctx)
}

// ResumeSync lifts the quota pause latch and requests a pass.
func (e *Engine) ResumeSync(ctx context.Context) error {
	if err := e.orch.Resume(ctx); err != nil {
		return err
	}
	e.sched.RequestSync()
	return nil
}

// Close flushes pending writes, stops background work and closes the
// local database. The final flush keeps teardown from losing edits.
func (e *Engine) Close(ctx context.Context) error {
	e.sched.Stop()
	e.watcher.Stop()
	flushErr := e.flusher.Flush(ctx)
	return errors.Join(flushErr, e.store.Close())
}

func (e *Engine) writeNow(ctx context.Context, entity *models.Entity, op models.OpType) error {
	if err := e.store.Entities.Put(ctx, entity); err != nil {
		return err
	}
	payload, err := entity.MarshalWire()
	if err != nil {
		return err
	}
	if err := e.store.Queue.Enqueue(ctx, models.NewQueueItem(op, entity.Type, entity.Id, payload, e.clock.Now())); err != nil {
		return err
	}
	e.sched.NotifyActivity()
	return nil
}
