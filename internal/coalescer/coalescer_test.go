package coalescer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/notesync/internal/logging"
	"github.com/dmitrijs2005/notesync/internal/models"
	"github.com/dmitrijs2005/notesync/internal/timex"
)

type fakeEntityRepo struct {
	mu      sync.Mutex
	puts    int
	entities map[string]*models.Entity
}

func newFakeEntityRepo() *fakeEntityRepo {
	return &fakeEntityRepo{entities: map[string]*models.Entity{}}
}

func (f *fakeEntityRepo) Put(ctx context.Context, e *models.Entity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts++
	f.entities[e.Id] = e.Clone()
	return nil
}

func (f *fakeEntityRepo) Get(ctx context.Context, id string) (*models.Entity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.entities[id].Clone(), nil
}

func (f *fakeEntityRepo) Delete(ctx context.Context, id string) error { return nil }

func (f *fakeEntityRepo) ListByOwner(ctx context.Context, ownerId string) ([]*models.Entity, error) {
	return nil, nil
}

func (f *fakeEntityRepo) putCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.puts
}

type fakeQueueRepo struct {
	mu    sync.Mutex
	items map[string]*models.QueueItem // keyed by entity id
}

func newFakeQueueRepo() *fakeQueueRepo {
	return &fakeQueueRepo{items: map[string]*models.QueueItem{}}
}

func (f *fakeQueueRepo) Enqueue(ctx context.Context, item *models.QueueItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.items[item.EntityId]; ok && existing.OpType == models.OpCreate && item.OpType == models.OpUpdate {
		item.OpType = models.OpCreate
	}
	f.items[item.EntityId] = item
	return nil
}

func (f *fakeQueueRepo) DequeueConfirmed(ctx context.Context, id string) error { return nil }

func (f *fakeQueueRepo) ListPending(ctx context.Context) ([]*models.QueueItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.QueueItem
	for _, item := range f.items {
		out = append(out, item)
	}
	return out, nil
}

func (f *fakeQueueRepo) PurgeEntity(ctx context.Context, entityType models.EntityType, entityId string) error {
	return nil
}

func (f *fakeQueueRepo) get(entityId string) *models.QueueItem {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.items[entityId]
}

func (f *fakeQueueRepo) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.items)
}

var testTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func TestSchedule_BurstCollapsesToOneWrite(t *testing.T) {
	entityRepo := newFakeEntityRepo()
	queueRepo := newFakeQueueRepo()
	clock := &timex.FixedClock{Current: testTime}
	c := New(entityRepo, queueRepo, 30*time.Millisecond, clock, logging.Discard(), nil)

	e := models.NewNote("alice", models.NoteFields{Title: "draft"}, testTime)
	for i := 0; i < 50; i++ {
		e.Note.Content = string(rune('a' + i%26))
		e.Touch(testTime.Add(time.Duration(i) * time.Millisecond))
		c.Schedule(e, models.OpUpdate)
	}

	assert.Eventually(t, func() bool { return entityRepo.putCount() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, queueRepo.count())

	stored, err := entityRepo.Get(context.Background(), e.Id)
	require.NoError(t, err)
	assert.Equal(t, e.Version, stored.Version, "last scheduled state wins")
}

func TestSchedule_CreateStaysCreateThroughBurst(t *testing.T) {
	entityRepo := newFakeEntityRepo()
	queueRepo := newFakeQueueRepo()
	clock := &timex.FixedClock{Current: testTime}
	c := New(entityRepo, queueRepo, time.Hour, clock, logging.Discard(), nil)

	e := models.NewNote("alice", models.NoteFields{Title: "new"}, testTime)
	c.Schedule(e, models.OpCreate)
	e.Touch(testTime.Add(time.Second))
	c.Schedule(e, models.OpUpdate)

	require.NoError(t, c.Flush(context.Background()))

	item := queueRepo.get(e.Id)
	require.NotNil(t, item)
	assert.Equal(t, models.OpCreate, item.OpType)
}

func TestFlush_WritesSynchronouslyAndCancelsTimers(t *testing.T) {
	entityRepo := newFakeEntityRepo()
	queueRepo := newFakeQueueRepo()
	clock := &timex.FixedClock{Current: testTime}
	c := New(entityRepo, queueRepo, time.Hour, clock, logging.Discard(), nil)

	e1 := models.NewNote("alice", models.NoteFields{Title: "one"}, testTime)
	e2 := models.NewNote("alice", models.NoteFields{Title: "two"}, testTime)
	c.Schedule(e1, models.OpCreate)
	c.Schedule(e2, models.OpCreate)
	assert.Equal(t, 2, c.PendingCount())

	require.NoError(t, c.Flush(context.Background()))

	assert.Equal(t, 2, entityRepo.putCount())
	assert.Equal(t, 2, queueRepo.count())
	assert.Equal(t, 0, c.PendingCount())

	// nothing left for the timers to write
	require.NoError(t, c.Flush(context.Background()))
	assert.Equal(t, 2, entityRepo.putCount())
}

func TestFlush_ScheduleRacingInStaysPending(t *testing.T) {
	entityRepo := newFakeEntityRepo()
	queueRepo := newFakeQueueRepo()
	clock := &timex.FixedClock{Current: testTime}
	c := New(entityRepo, queueRepo, time.Hour, clock, logging.Discard(), nil)

	e1 := models.NewNote("alice", models.NoteFields{Title: "one"}, testTime)
	c.Schedule(e1, models.OpCreate)

	require.NoError(t, c.Flush(context.Background()))

	// a write scheduled after the flush snapshot is not lost
	e2 := models.NewNote("alice", models.NoteFields{Title: "two"}, testTime)
	c.Schedule(e2, models.OpCreate)
	assert.Equal(t, 1, c.PendingCount())

	require.NoError(t, c.Flush(context.Background()))
	assert.Equal(t, 2, entityRepo.putCount())
}

func TestPeek_SeesScheduledState(t *testing.T) {
	entityRepo := newFakeEntityRepo()
	queueRepo := newFakeQueueRepo()
	clock := &timex.FixedClock{Current: testTime}
	c := New(entityRepo, queueRepo, time.Hour, clock, logging.Discard(), nil)

	assert.Nil(t, c.Peek("missing"))

	e := models.NewNote("alice", models.NoteFields{Title: "draft"}, testTime)
	c.Schedule(e, models.OpUpdate)

	peeked := c.Peek(e.Id)
	require.NotNil(t, peeked)
	assert.Equal(t, "draft", peeked.Note.Title)

	// the copy is detached from the held state
	peeked.Note.Title = "mutated"
	assert.Equal(t, "draft", c.Peek(e.Id).Note.Title)
}

func TestDiscard_DropsScheduledWrite(t *testing.T) {
	entityRepo := newFakeEntityRepo()
	queueRepo := newFakeQueueRepo()
	clock := &timex.FixedClock{Current: testTime}
	c := New(entityRepo, queueRepo, time.Hour, clock, logging.Discard(), nil)

	e := models.NewNote("alice", models.NoteFields{Title: "doomed"}, testTime)
	c.Schedule(e, models.OpUpdate)
	c.Discard(e.Id)

	require.NoError(t, c.Flush(context.Background()))
	assert.Equal(t, 0, entityRepo.putCount())
}

func TestAfterWriteNotification(t *testing.T) {
	entityRepo := newFakeEntityRepo()
	queueRepo := newFakeQueueRepo()
	clock := &timex.FixedClock{Current: testTime}

	var mu sync.Mutex
	notified := 0
	c := New(entityRepo, queueRepo, 20*time.Millisecond, clock, logging.Discard(), func() {
		mu.Lock()
		notified++
		mu.Unlock()
	})

	e := models.NewNote("alice", models.NoteFields{Title: "x"}, testTime)
	c.Schedule(e, models.OpCreate)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return notified == 1
	}, time.Second, 5*time.Millisecond)
}
