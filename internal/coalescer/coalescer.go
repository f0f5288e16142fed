// Package coalescer absorbs high-frequency edits (keystroke autosave)
// so each entity settles into one durable write and one queued mutation
// per burst.
package coalescer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dmitrijs2005/notesync/internal/logging"
	"github.com/dmitrijs2005/notesync/internal/models"
	"github.com/dmitrijs2005/notesync/internal/repositories/entities"
	"github.com/dmitrijs2005/notesync/internal/repositories/queue"
	"github.com/dmitrijs2005/notesync/internal/timex"
)

type pendingWrite struct {
	entity *models.Entity
	op     models.OpType
	timer  *time.Timer
}

// Coalescer holds the latest scheduled state per entity behind a
// per-entity timer. Only create and update intents flow through it;
// structural operations (delete, restore, pin) write immediately.
type Coalescer struct {
	entities entities.Repository
	queue    queue.Repository
	delay    time.Duration
	clock    timex.Clock
	logger   logging.Logger

	// afterWrite, when set, is invoked after every durable write so the
	// scheduler can observe activity. Never called under the lock.
	afterWrite func()

	mu      sync.Mutex
	pending map[string]*pendingWrite
}

func New(entityRepo entities.Repository, queueRepo queue.Repository, delay time.Duration, clock timex.Clock, logger logging.Logger, afterWrite func()) *Coalescer {
	return &Coalescer{
		entities:   entityRepo,
		queue:      queueRepo,
		delay:      delay,
		clock:      clock,
		logger:     logger,
		afterWrite: afterWrite,
		pending:    make(map[string]*pendingWrite),
	}
}

// Schedule arms or re-arms the entity's timer with the given state. A
// later Schedule for the same id replaces the held state; a create
// followed by updates stays a create until it has been written and
// confirmed.
func (c *Coalescer) Schedule(entity *models.Entity, op models.OpType) {
	snapshot := entity.Clone()

	c.mu.Lock()
	if existing, ok := c.pending[entity.Id]; ok {
		existing.timer.Stop()
		if existing.op == models.OpCreate {
			op = models.OpCreate
		}
	}
	id := entity.Id
	c.pending[id] = &pendingWrite{
		entity: snapshot,
		op:     op,
		timer: time.AfterFunc(c.delay, func() {
			c.fire(id)
		}),
	}
	c.mu.Unlock()
}

// fire performs the write for one expired timer. The entry may already
// be gone if a Flush raced the timer.
func (c *Coalescer) fire(id string) {
	c.mu.Lock()
	entry, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()
	if !ok {
		return
	}

	ctx := context.Background()
	if err := c.write(ctx, entry); err != nil {
		c.logger.Error(ctx, "coalesced write failed", "id", id, "error", err)
		return
	}
	if c.afterWrite != nil {
		c.afterWrite()
	}
}

// Flush cancels all timers and performs their writes synchronously.
// Schedules racing in after the snapshot is taken stay pending for the
// next flush.
func (c *Coalescer) Flush(ctx context.Context) error {
	c.mu.Lock()
	snapshot := make([]*pendingWrite, 0, len(c.pending))
	for id, entry := range c.pending {
		entry.timer.Stop()
		snapshot = append(snapshot, entry)
		delete(c.pending, id)
	}
	c.mu.Unlock()

	var errs []error
	for _, entry := range snapshot {
		if err := c.write(ctx, entry); err != nil {
			errs = append(errs, err)
		}
	}
	if len(snapshot) > 0 && len(errs) == 0 && c.afterWrite != nil {
		c.afterWrite()
	}
	return errors.Join(errs...)
}

// Peek returns a copy of the scheduled-but-unwritten state for the
// entity, or nil. Editing flows read through it so a burst of edits
// keeps incrementing the same in-flight version.
func (c *Coalescer) Peek(id string) *models.Entity {
	c.mu.Lock()
	defer c.mu.Unlock()
	if entry, ok := c.pending[id]; ok {
		return entry.entity.Clone()
	}
	return nil
}

// PendingCount reports how many entities are waiting on a timer.
func (c *Coalescer) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Discard drops any scheduled write for the entity without persisting
// it. Used when the entity is permanently deleted mid-burst.
func (c *Coalescer) Discard(id string) {
	c.mu.Lock()
	if entry, ok := c.pending[id]; ok {
		entry.timer.Stop()
		delete(c.pending, id)
	}
	c.mu.Unlock()
}

func (c *Coalescer) write(ctx context.Context, entry *pendingWrite) error {
	if err := c.entities.Put(ctx, entry.entity); err != nil {
		return err
	}
	payload, err := entry.entity.MarshalWire()
	if err != nil {
		return err
	}
	item := models.NewQueueItem(entry.op, entry.entity.Type, entry.entity.Id, payload, c.clock.Now())
	return c.queue.Enqueue(ctx, item)
}
