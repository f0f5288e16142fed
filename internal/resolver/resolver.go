// Package resolver merges local and remote state into one consistent
// outcome. Resolve is a pure function over snapshots; all I/O needed to
// apply its Plan happens in the orchestrator.
package resolver

import (
	"sort"
	"time"

	"github.com/dmitrijs2005/notesync/internal/models"
	"github.com/dmitrijs2005/notesync/internal/remote"
)

// Input is one consistent snapshot of both sides.
type Input struct {
	Local            map[string]*models.Entity
	Remote           map[string]remote.ObjectInfo
	LocalTombstones  map[string]models.Tombstone
	RemoteTombstones map[string]models.Tombstone

	// ActiveIds are entities currently open for editing on this device;
	// their local copies are never overwritten by a pass.
	ActiveIds map[string]struct{}
	// PendingIds are entities with an unconfirmed queued mutation.
	PendingIds map[string]struct{}

	// LastSyncTime and Now drive the stale-device purge.
	Now            time.Time
	LastSyncTime   time.Time
	StaleThreshold time.Duration
}

// Upload schedules a local entity to overwrite (or create) its remote
// object, guarded by the state the decision was made against.
type Upload struct {
	Entity *models.Entity
	Expect *remote.Expectation
}

// Download schedules a remote object to be fetched and written locally.
type Download struct {
	Info remote.ObjectInfo
}

// RemoteDelete schedules removal of a remote entity object.
type RemoteDelete struct {
	Id     string
	Expect *remote.Expectation
}

// QueueKey addresses one pending mutation.
type QueueKey struct {
	EntityType models.EntityType
	EntityId   string
}

// Plan is the full set of actions one pass must apply. Every slice is
// sorted by entity id so identical inputs produce identical plans.
type Plan struct {
	Uploads   []Upload
	Downloads []Download

	// DeleteLocal removes entities whose tombstone won.
	DeleteLocal  []string
	DeleteRemote []RemoteDelete

	// Tombstone propagation to whichever side lacks the record.
	AddLocalTombstones  []models.Tombstone
	AddRemoteTombstones []models.Tombstone

	// Superseded tombstones (a newer edit resurrected the entity).
	DropLocalTombstones  []string
	DropRemoteTombstones []string

	// PurgeQueue drops pending mutations overtaken by the merge outcome.
	PurgeQueue []QueueKey

	// PurgeLocal removes orphaned local-only entities on a long-offline
	// device. No tombstone is written; the entities were never
	// acknowledged remotely.
	PurgeLocal []string
}

// Empty reports whether the plan requires no work at all.
func (p *Plan) Empty() bool {
	return len(p.Uploads) == 0 && len(p.Downloads) == 0 &&
		len(p.DeleteLocal) == 0 && len(p.DeleteRemote) == 0 &&
		len(p.AddLocalTombstones) == 0 && len(p.AddRemoteTombstones) == 0 &&
		len(p.DropLocalTombstones) == 0 && len(p.DropRemoteTombstones) == 0 &&
		len(p.PurgeQueue) == 0 && len(p.PurgeLocal) == 0
}

// Resolve merges the two sides. Per id the first matching rule wins:
//
//  1. an entity open for editing keeps its local copy and is only ever
//     uploaded,
//  2. a tombstone newer than every edit deletes the entity everywhere,
//  3. an edit newer than the tombstone resurrects the entity and
//     retires the tombstone; between two surviving copies the newer
//     updatedAt wins, since versions diverged across the delete,
//  4. the strictly higher version wins,
//  5. on equal versions the later updatedAt wins; exact ties keep the
//     local copy so nothing is rewritten,
//  6. a side-only entity is copied to the other side, except that
//     unacknowledged local-only entities on a long-offline device are
//     purged instead of re-uploaded.
func Resolve(in Input) Plan {
	var plan Plan

	ids := map[string]struct{}{}
	for id := range in.Local {
		ids[id] = struct{}{}
	}
	for id := range in.Remote {
		ids[id] = struct{}{}
	}
	for id := range in.LocalTombstones {
		ids[id] = struct{}{}
	}
	for id := range in.RemoteTombstones {
		ids[id] = struct{}{}
	}

	deviceStale := !in.LastSyncTime.IsZero() &&
		in.StaleThreshold > 0 &&
		in.Now.Sub(in.LastSyncTime) > in.StaleThreshold

	for id := range ids {
		resolveOne(&plan, in, id, deviceStale)
	}

	sortPlan(&plan)
	return plan
}

func resolveOne(plan *Plan, in Input, id string, deviceStale bool) {
	local := in.Local[id]
	remoteInfo, hasRemote := in.Remote[id]
	localTs, hasLocalTs := in.LocalTombstones[id]
	remoteTs, hasRemoteTs := in.RemoteTombstones[id]

	ts, hasTs := newestTombstone(localTs, hasLocalTs, remoteTs, hasRemoteTs)

	_, active := in.ActiveIds[id]
	_, pending := in.PendingIds[id]

	// rule 1: never overwrite an open entity
	if active && local != nil {
		if !hasRemote {
			plan.Uploads = append(plan.Uploads, Upload{Entity: local, Expect: &remote.Expectation{Create: true}})
		} else if pending || local.Version != remoteInfo.Version {
			plan.Uploads = append(plan.Uploads, Upload{Entity: local, Expect: &remote.Expectation{Ref: remoteInfo.Ref}})
		}
		return
	}

	// rule 2: a tombstone newer than every edit wins
	if hasTs && ts.DeletedAt.After(newestEdit(local, remoteInfo, hasRemote)) {
		if local != nil {
			plan.DeleteLocal = append(plan.DeleteLocal, id)
			plan.PurgeQueue = append(plan.PurgeQueue, QueueKey{EntityType: local.Type, EntityId: id})
		} else if pending {
			// a queued delete intent is settled once the tombstone has
			// propagated
			plan.PurgeQueue = append(plan.PurgeQueue, QueueKey{EntityType: ts.EntityType, EntityId: id})
		}
		if hasRemote {
			plan.DeleteRemote = append(plan.DeleteRemote, RemoteDelete{Id: id, Expect: &remote.Expectation{Ref: remoteInfo.Ref}})
		}
		if !hasLocalTs {
			plan.AddLocalTombstones = append(plan.AddLocalTombstones, ts)
		}
		if !hasRemoteTs {
			plan.AddRemoteTombstones = append(plan.AddRemoteTombstones, ts)
		}
		// fully propagated and nothing left to delete: the local record
		// has served its purpose, the remote one keeps guarding other
		// devices
		if local == nil && !hasRemote && hasLocalTs && hasRemoteTs {
			plan.DropLocalTombstones = append(plan.DropLocalTombstones, id)
		}
		return
	}

	// rule 3: an edit newer than the tombstone resurrects the entity
	if hasTs {
		if hasLocalTs {
			plan.DropLocalTombstones = append(plan.DropLocalTombstones, id)
		}
		if hasRemoteTs {
			plan.DropRemoteTombstones = append(plan.DropRemoteTombstones, id)
		}
		if local != nil && hasRemote {
			resolveResurrected(plan, id, local, remoteInfo, pending)
			return
		}
	}

	switch {
	case local != nil && hasRemote:
		resolveBoth(plan, id, local, remoteInfo, pending)
	case local != nil:
		// rule 6, local only
		if deviceStale && !pending {
			plan.PurgeLocal = append(plan.PurgeLocal, id)
			return
		}
		plan.Uploads = append(plan.Uploads, Upload{Entity: local, Expect: &remote.Expectation{Create: true}})
	case hasRemote:
		// rule 6, remote only
		plan.Downloads = append(plan.Downloads, Download{Info: remoteInfo})
	}
}

// resolveResurrected picks the winner when a tombstone was superseded and
// the entity still exists on both sides. Version counters diverged across
// the delete and re-create, so version order says nothing here: the side
// whose edit actually outlived the tombstone is the one with the newer
// updatedAt, and it wins.
func resolveResurrected(plan *Plan, id string, local *models.Entity, remoteInfo remote.ObjectInfo, pending bool) {
	switch {
	case local.UpdatedAt.After(remoteInfo.UpdatedAt):
		plan.Uploads = append(plan.Uploads, Upload{Entity: local, Expect: &remote.Expectation{Ref: remoteInfo.Ref}})
	case remoteInfo.UpdatedAt.After(local.UpdatedAt):
		plan.Downloads = append(plan.Downloads, Download{Info: remoteInfo})
		if pending {
			plan.PurgeQueue = append(plan.PurgeQueue, QueueKey{EntityType: local.Type, EntityId: id})
		}
	case pending:
		plan.Uploads = append(plan.Uploads, Upload{Entity: local, Expect: &remote.Expectation{Ref: remoteInfo.Ref}})
	}
}

// resolveBoth applies rules 4 and 5 when the entity exists on both sides.
func resolveBoth(plan *Plan, id string, local *models.Entity, remoteInfo remote.ObjectInfo, pending bool) {
	localWins := local.Version > remoteInfo.Version ||
		(local.Version == remoteInfo.Version && local.UpdatedAt.After(remoteInfo.UpdatedAt))
	remoteWins := remoteInfo.Version > local.Version ||
		(local.Version == remoteInfo.Version && remoteInfo.UpdatedAt.After(local.UpdatedAt))

	switch {
	case localWins:
		plan.Uploads = append(plan.Uploads, Upload{Entity: local, Expect: &remote.Expectation{Ref: remoteInfo.Ref}})
	case remoteWins:
		plan.Downloads = append(plan.Downloads, Download{Info: remoteInfo})
		if pending {
			plan.PurgeQueue = append(plan.PurgeQueue, QueueKey{EntityType: local.Type, EntityId: id})
		}
	case pending:
		// exact tie but the mutation was never confirmed
		plan.Uploads = append(plan.Uploads, Upload{Entity: local, Expect: &remote.Expectation{Ref: remoteInfo.Ref}})
	}
}

func newestTombstone(localTs models.Tombstone, hasLocal bool, remoteTs models.Tombstone, hasRemote bool) (models.Tombstone, bool) {
	switch {
	case hasLocal && hasRemote:
		if remoteTs.DeletedAt.After(localTs.DeletedAt) {
			return remoteTs, true
		}
		return localTs, true
	case hasLocal:
		return localTs, true
	case hasRemote:
		return remoteTs, true
	default:
		return models.Tombstone{}, false
	}
}

// newestEdit returns the latest updatedAt across both sides, or the zero
// time when the entity exists on neither.
func newestEdit(local *models.Entity, remoteInfo remote.ObjectInfo, hasRemote bool) time.Time {
	var t time.Time
	if local != nil {
		t = local.UpdatedAt
	}
	if hasRemote && remoteInfo.UpdatedAt.After(t) {
		t = remoteInfo.UpdatedAt
	}
	return t
}

func sortPlan(p *Plan) {
	sort.Slice(p.Uploads, func(i, j int) bool { return p.Uploads[i].Entity.Id < p.Uploads[j].Entity.Id })
	sort.Slice(p.Downloads, func(i, j int) bool { return p.Downloads[i].Info.Id < p.Downloads[j].Info.Id })
	sort.Strings(p.DeleteLocal)
	sort.Slice(p.DeleteRemote, func(i, j int) bool { return p.DeleteRemote[i].Id < p.DeleteRemote[j].Id })
	sort.Slice(p.AddLocalTombstones, func(i, j int) bool { return p.AddLocalTombstones[i].EntityId < p.AddLocalTombstones[j].EntityId })
	sort.Slice(p.AddRemoteTombstones, func(i, j int) bool { return p.AddRemoteTombstones[i].EntityId < p.AddRemoteTombstones[j].EntityId })
	sort.Strings(p.DropLocalTombstones)
	sort.Strings(p.DropRemoteTombstones)
	sort.Slice(p.PurgeQueue, func(i, j int) bool { return p.PurgeQueue[i].EntityId < p.PurgeQueue[j].EntityId })
	sort.Strings(p.PurgeLocal)
}
