// Package syncer runs the sync pass: it snapshots both sides, asks the
// resolver for a plan and applies it with bounded-concurrency transfers.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"

	"github.com/dmitrijs2005/notesync/internal/auth"
	"github.com/dmitrijs2005/notesync/internal/coalescer"
	"github.com/dmitrijs2005/notesync/internal/common"
	"github.com/dmitrijs2005/notesync/internal/logging"
	"github.com/dmitrijs2005/notesync/internal/models"
	"github.com/dmitrijs2005/notesync/internal/remote"
	"github.com/dmitrijs2005/notesync/internal/resolver"
	"github.com/dmitrijs2005/notesync/internal/storage"
	"github.com/dmitrijs2005/notesync/internal/timex"
)

// Report summarizes what one pass did.
type Report struct {
	Uploaded       int
	Downloaded     int
	DeletedLocal   int
	DeletedRemote  int
	PurgedStale    int
	FailedEntities int
}

// Options tune one Orchestrator.
type Options struct {
	OwnerId             string
	StaleThreshold      time.Duration
	TransferConcurrency int
	// MaxPassAttempts bounds whole-pass retries on precondition
	// conflicts; RetryBaseDelay seeds the exponential backoff between
	// them.
	MaxPassAttempts int
	RetryBaseDelay  time.Duration
}

// Orchestrator owns the one-pass-at-a-time guard and all result
// bookkeeping. Local state is mutated only here and in the coalescer.
type Orchestrator struct {
	store   *storage.Storage
	adapter remote.Adapter
	creds   auth.Provider
	flusher *coalescer.Coalescer
	active  *ActiveSet
	clock   timex.Clock
	logger  logging.Logger
	opts    Options

	isSyncing atomic.Bool
}

func New(store *storage.Storage, adapter remote.Adapter, creds auth.Provider, flusher *coalescer.Coalescer, active *ActiveSet, clock timex.Clock, logger logging.Logger, opts Options) *Orchestrator {
	if opts.TransferConcurrency <= 0 {
		opts.TransferConcurrency = 1
	}
	if opts.MaxPassAttempts <= 0 {
		opts.MaxPassAttempts = 1
	}
	return &Orchestrator{
		store:   store,
		adapter: adapter,
		creds:   creds,
		flusher: flusher,
		active:  active,
		clock:   clock,
		logger:  logger,
		opts:    opts,
	}
}

// Active exposes the open-entity set shared with the embedding engine.
func (o *Orchestrator) Active() *ActiveSet { return o.active }

// Resume lifts the quota pause latch so passes run again.
func (o *Orchestrator) Resume(ctx context.Context) error {
	return o.store.Metadata.SetSyncPaused(ctx, false)
}

// RunPass executes one synchronization pass.
func (o *Orchestrator) RunPass(ctx context.Context) error {
	_, err := o.RunPassReport(ctx)
	return err
}

// RunPassReport is RunPass with pass statistics. At most one pass runs
// at a time; overlapping calls fail with common.ErrSyncInProgress.
func (o *Orchestrator) RunPassReport(ctx context.Context) (*Report, error) {
	if !o.isSyncing.CompareAndSwap(false, true) {
		return nil, common.ErrSyncInProgress
	}
	defer o.isSyncing.Store(false)

	paused, err := o.store.Metadata.SyncPaused(ctx)
	if err != nil {
		return nil, err
	}
	if paused {
		return nil, common.ErrSyncPaused
	}

	if o.flusher != nil {
		if err := o.flusher.Flush(ctx); err != nil {
			return nil, fmt.Errorf("flushing pending writes: %w", err)
		}
	}

	report, err := o.runWithRetry(ctx)
	if errors.Is(err, common.ErrAuthExpired) {
		// one refresh-and-retry; a failed refresh ends the session
		if _, rerr := o.creds.Refresh(ctx); rerr != nil {
			return nil, fmt.Errorf("%w: %v", common.ErrSessionExpired, rerr)
		}
		o.logger.Info(ctx, "credential refreshed, retrying pass")
		report, err = o.runWithRetry(ctx)
	}
	if errors.Is(err, common.ErrQuotaExceeded) {
		if perr := o.store.Metadata.SetSyncPaused(ctx, true); perr != nil {
			o.logger.Error(ctx, "failed to latch quota pause", "error", perr)
		}
		o.logger.Warn(ctx, "remote quota exceeded, sync paused until resumed")
	}
	return report, err
}

// runWithRetry retries the whole pass on precondition conflicts: a
// fresh listing will see whatever the competing writer did.
func (o *Orchestrator) runWithRetry(ctx context.Context) (*Report, error) {
	var report *Report
	backoff := retry.WithMaxRetries(uint64(o.opts.MaxPassAttempts-1), retry.NewExponential(o.opts.RetryBaseDelay))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		r, err := o.runOnce(ctx)
		if errors.Is(err, common.ErrVersionConflict) {
			o.logger.Info(ctx, "pass lost a write race, retrying", "error", err)
			return retry.RetryableError(err)
		}
		report = r
		return err
	})
	return report, err
}

// snapshot is the local+remote state one pass resolves over.
type snapshot struct {
	local            map[string]*models.Entity
	remote           map[string]remote.ObjectInfo
	localTombstones  map[string]models.Tombstone
	remoteTombstones map[string]models.Tombstone
	queueByEntity    map[string]*models.QueueItem
	lastSync         time.Time
}

func (o *Orchestrator) takeSnapshot(ctx context.Context, lastSync time.Time, listRemote bool) (*snapshot, error) {
	s := &snapshot{
		lastSync:         lastSync,
		local:            map[string]*models.Entity{},
		remote:           map[string]remote.ObjectInfo{},
		localTombstones:  map[string]models.Tombstone{},
		remoteTombstones: map[string]models.Tombstone{},
		queueByEntity:    map[string]*models.QueueItem{},
	}

	locals, err := o.store.Entities.ListByOwner(ctx, o.opts.OwnerId)
	if err != nil {
		return nil, err
	}
	for _, e := range locals {
		s.local[e.Id] = e
	}

	tombstones, err := o.store.Tombstones.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	for _, ts := range tombstones {
		s.localTombstones[ts.EntityId] = ts
	}

	pending, err := o.store.Queue.ListPending(ctx)
	if err != nil {
		return nil, err
	}
	for _, item := range pending {
		s.queueByEntity[item.EntityId] = item
	}

	if !listRemote {
		return s, nil
	}

	remotes, err := o.adapter.ListRemote(ctx, o.opts.OwnerId)
	if err != nil {
		return nil, err
	}
	for _, info := range remotes {
		s.remote[info.Id] = info
	}

	remoteTs, err := o.adapter.ListTombstones(ctx, o.opts.OwnerId)
	if err != nil {
		return nil, err
	}
	for _, info := range remoteTs {
		s.remoteTombstones[info.EntityId] = info.Tombstone
	}

	return s, nil
}

func (o *Orchestrator) runOnce(ctx context.Context) (*Report, error) {
	now := o.clock.Now()

	lastSync, err := o.store.Metadata.LastSyncTime(ctx)
	if err != nil {
		return nil, err
	}

	// first sync: an empty account needs no remote listing, the pass
	// reduces to the initial upload
	listRemote := true
	if lastSync.IsZero() {
		hasData, approx, err := o.adapter.CheckHasData(ctx, o.opts.OwnerId)
		if err != nil {
			return nil, err
		}
		listRemote = hasData
		o.logger.Info(ctx, "first sync for this device",
			"remote_has_data", hasData, "remote_approx", approx)
	}

	snap, err := o.takeSnapshot(ctx, lastSync, listRemote)
	if err != nil {
		return nil, err
	}

	pendingIds := make(map[string]struct{}, len(snap.queueByEntity))
	for id := range snap.queueByEntity {
		pendingIds[id] = struct{}{}
	}

	plan := resolver.Resolve(resolver.Input{
		Local:            snap.local,
		Remote:           snap.remote,
		LocalTombstones:  snap.localTombstones,
		RemoteTombstones: snap.remoteTombstones,
		ActiveIds:        o.active.Snapshot(),
		PendingIds:       pendingIds,
		Now:              now,
		LastSyncTime:     snap.lastSync,
		StaleThreshold:   o.opts.StaleThreshold,
	})

	report := &Report{}
	if err := o.applyPlan(ctx, snap, plan, report); err != nil {
		return report, err
	}

	if err := o.store.Metadata.SetLastSyncTime(ctx, now); err != nil {
		return report, err
	}
	o.logger.Info(ctx, "sync pass complete",
		"uploaded", report.Uploaded, "downloaded", report.Downloaded,
		"deleted_local", report.DeletedLocal, "deleted_remote", report.DeletedRemote,
		"failed", report.FailedEntities)
	return report, nil
}

func (o *Orchestrator) applyPlan(ctx context.Context, snap *snapshot, plan resolver.Plan, report *Report) error {
	// the local merge outcome lands in one transaction: a crash mid-apply
	// must never leave a tombstone recorded with its queue purge missing
	err := o.store.WithTx(ctx, func(ctx context.Context, tx *storage.Storage) error {
		for _, ts := range plan.AddLocalTombstones {
			if err := tx.Tombstones.Append(ctx, ts); err != nil {
				return err
			}
		}
		for _, id := range plan.DeleteLocal {
			if err := tx.Entities.Delete(ctx, id); err != nil {
				return err
			}
			report.DeletedLocal++
		}
		for _, key := range plan.PurgeQueue {
			if err := tx.Queue.PurgeEntity(ctx, key.EntityType, key.EntityId); err != nil {
				return err
			}
		}
		for _, id := range plan.PurgeLocal {
			if err := tx.Entities.Delete(ctx, id); err != nil {
				return err
			}
			report.PurgedStale++
		}
		return nil
	})
	if err != nil {
		return err
	}

	// remote deletes settle next so transfers never race a dying entity
	for _, ts := range plan.AddRemoteTombstones {
		if err := o.adapter.PutTombstone(ctx, o.opts.OwnerId, &ts); err != nil {
			return err
		}
	}
	for _, del := range plan.DeleteRemote {
		if err := o.adapter.Remove(ctx, o.opts.OwnerId, del.Id, del.Expect); err != nil {
			return err
		}
		report.DeletedRemote++
	}

	if err := o.applyDownloads(ctx, snap, plan.Downloads, report); err != nil {
		return err
	}
	if err := o.applyUploads(ctx, snap, plan.Uploads, report); err != nil {
		return err
	}

	for _, id := range plan.DropLocalTombstones {
		if err := o.store.Tombstones.Remove(ctx, id); err != nil {
			return err
		}
	}
	for _, id := range plan.DropRemoteTombstones {
		if err := o.adapter.RemoveTombstone(ctx, o.opts.OwnerId, id); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) applyDownloads(ctx context.Context, snap *snapshot, downloads []resolver.Download, report *Report) error {
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.opts.TransferConcurrency)

	for _, d := range downloads {
		g.Go(func() error {
			entity, err := o.adapter.Download(gctx, o.opts.OwnerId, d.Info.Id)
			if err != nil {
				return err
			}
			entity.SyncStatus = models.SyncStatusSynced
			entity.SyncError = ""

			// the user may have edited while the fetch was in flight;
			// never regress past a newer local write
			if stale, err := o.localMovedOn(gctx, snap, entity.Id); err != nil {
				return err
			} else if stale {
				o.logger.Debug(gctx, "download skipped, local state moved on", "id", entity.Id)
				return nil
			}
			if err := o.store.Entities.Put(gctx, entity); err != nil {
				return err
			}
			mu.Lock()
			report.Downloaded++
			mu.Unlock()
			return nil
		})
	}
	return g.Wait()
}

func (o *Orchestrator) applyUploads(ctx context.Context, snap *snapshot, uploads []resolver.Upload, report *Report) error {
	var mu sync.Mutex
	var failed []error

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.opts.TransferConcurrency)

	for _, u := range uploads {
		g.Go(func() error {
			sent := u.Entity.Clone()
			sent.SyncStatus = models.SyncStatusSynced
			sent.SyncError = ""

			res, err := o.adapter.Upload(gctx, sent, u.Expect)
			if err != nil {
				if isPassFatal(err) {
					// quota failures still stamp the entity so the UI
					// can show why it stopped syncing
					if errors.Is(err, common.ErrQuotaExceeded) {
						if merr := o.markEntityError(gctx, sent.Id, err); merr != nil {
							o.logger.Error(gctx, "failed to record quota error", "id", sent.Id, "error", merr)
						}
					}
					return err
				}
				// one broken entity must not block the rest
				o.logger.Error(gctx, "upload failed", "id", sent.Id, "error", err)
				if merr := o.markEntityError(gctx, sent.Id, err); merr != nil {
					return merr
				}
				mu.Lock()
				failed = append(failed, err)
				report.FailedEntities++
				mu.Unlock()
				return nil
			}

			if err := o.confirmUpload(gctx, snap, u.Entity, res); err != nil {
				return err
			}
			mu.Lock()
			report.Uploaded++
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if len(failed) > 0 {
		return fmt.Errorf("%d upload(s) failed: %w", len(failed), errors.Join(failed...))
	}
	return nil
}

// confirmUpload records a successful upload, but only against the exact
// version that was sent. Edits made during the transfer keep the entity
// pending and its queue item alive.
func (o *Orchestrator) confirmUpload(ctx context.Context, snap *snapshot, uploaded *models.Entity, res remote.UploadResult) error {
	current, err := o.store.Entities.Get(ctx, uploaded.Id)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil
		}
		return err
	}
	if current.Version != uploaded.Version {
		o.logger.Debug(ctx, "upload bookkeeping skipped, entity edited during transfer", "id", uploaded.Id)
		return nil
	}

	current.SyncStatus = models.SyncStatusSynced
	current.SyncError = ""
	current.RemoteRef = res.Ref

	// status flip and dequeue land together or not at all
	return o.store.WithTx(ctx, func(ctx context.Context, tx *storage.Storage) error {
		if err := tx.Entities.Put(ctx, current); err != nil {
			return err
		}
		if item, ok := snap.queueByEntity[uploaded.Id]; ok {
			// keyed by item id: a replacement intent enqueued mid-transfer
			// has a different id and survives
			if err := tx.Queue.DequeueConfirmed(ctx, item.Id); err != nil {
				return err
			}
		}
		return nil
	})
}

// localMovedOn reports whether the entity changed locally since the
// pass snapshot was taken.
func (o *Orchestrator) localMovedOn(ctx context.Context, snap *snapshot, id string) (bool, error) {
	current, err := o.store.Entities.Get(ctx, id)
	if errors.Is(err, common.ErrorNotFound) {
		return snap.local[id] != nil, nil
	}
	if err != nil {
		return false, err
	}
	before := snap.local[id]
	if before == nil {
		return false, nil
	}
	return current.Version != before.Version, nil
}

func (o *Orchestrator) markEntityError(ctx context.Context, id string, cause error) error {
	current, err := o.store.Entities.Get(ctx, id)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil
		}
		return err
	}
	current.SyncStatus = models.SyncStatusError
	current.SyncError = classify(cause)
	return o.store.Entities.Put(ctx, current)
}

// isPassFatal reports whether the error must abort the whole pass
// instead of being recorded on the one affected entity.
func isPassFatal(err error) bool {
	return errors.Is(err, common.ErrOffline) ||
		errors.Is(err, common.ErrAuthExpired) ||
		errors.Is(err, common.ErrQuotaExceeded) ||
		errors.Is(err, common.ErrVersionConflict) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// classify names the error kind stored in Entity.SyncError.
func classify(err error) string {
	switch {
	case errors.Is(err, common.ErrOffline):
		return "offline"
	case errors.Is(err, common.ErrAuthExpired):
		return "auth-expired"
	case errors.Is(err, common.ErrPermissionDenied):
		return "permission-denied"
	case errors.Is(err, common.ErrQuotaExceeded):
		return "quota-exceeded"
	case errors.Is(err, common.ErrVersionConflict):
		return "conflict"
	default:
		return "unknown"
	}
}
