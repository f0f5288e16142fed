package notesync

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/notesync/internal/auth"
	"github.com/dmitrijs2005/notesync/internal/common"
	"github.com/dmitrijs2005/notesync/internal/config"
	"github.com/dmitrijs2005/notesync/internal/models"
	"github.com/dmitrijs2005/notesync/internal/remote"
	"github.com/dmitrijs2005/notesync/internal/timex"
)

// memoryAdapter is a minimal in-memory remote store for engine tests.
type memoryAdapter struct {
	mu       sync.Mutex
	entities map[string]*models.Entity
	refs     map[string]string
	tombs    map[string]models.Tombstone
	seq      int
}

func newMemoryAdapter() *memoryAdapter {
	return &memoryAdapter{
		entities: map[string]*models.Entity{},
		refs:     map[string]string{},
		tombs:    map[string]models.Tombstone{},
	}
}

func (m *memoryAdapter) CheckHasData(ctx context.Context, ownerId string) (bool, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entities) > 0, len(m.entities), nil
}

func (m *memoryAdapter) ListRemote(ctx context.Context, ownerId string) ([]remote.ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []remote.ObjectInfo
	for id, e := range m.entities {
		out = append(out, remote.ObjectInfo{
			Id: id, Type: e.Type, Version: e.Version, UpdatedAt: e.UpdatedAt, Ref: m.refs[id],
		})
	}
	return out, nil
}

func (m *memoryAdapter) Download(ctx context.Context, ownerId, id string) (*models.Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entities[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return e.Clone(), nil
}

func (m *memoryAdapter) Upload(ctx context.Context, entity *models.Entity, expect *remote.Expectation) (remote.UploadResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, exists := m.entities[entity.Id]
	if expect != nil {
		if expect.Create && exists {
			return remote.UploadResult{}, fmt.Errorf("%w: exists", common.ErrVersionConflict)
		}
		if !expect.Create && m.refs[entity.Id] != expect.Ref {
			return remote.UploadResult{}, fmt.Errorf("%w: ref mismatch", common.ErrVersionConflict)
		}
	}
	m.seq++
	ref := fmt.Sprintf("ref-%d", m.seq)
	m.entities[entity.Id] = entity.Clone()
	m.refs[entity.Id] = ref
	return remote.UploadResult{Ref: ref}, nil
}

func (m *memoryAdapter) Remove(ctx context.Context, ownerId, id string, expect *remote.Expectation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entities, id)
	delete(m.refs, id)
	return nil
}

func (m *memoryAdapter) ListTombstones(ctx context.Context, ownerId string) ([]remote.TombstoneInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []remote.TombstoneInfo
	for _, ts := range m.tombs {
		out = append(out, remote.TombstoneInfo{Tombstone: ts})
	}
	return out, nil
}

func (m *memoryAdapter) PutTombstone(ctx context.Context, ownerId string, ts *models.Tombstone) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tombs[ts.EntityId]; !ok {
		m.tombs[ts.EntityId] = *ts
	}
	return nil
}

func (m *memoryAdapter) RemoveTombstone(ctx context.Context, ownerId, entityId string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tombs, entityId)
	return nil
}

var engineTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestEngine(t *testing.T) (*Engine, *memoryAdapter, *timex.FixedClock) {
	t.Helper()

	cfg := &config.Config{}
	cfg.LoadDefaults()
	cfg.DatabasePath = filepath.Join(t.TempDir(), "engine.db")
	// keep timers out of the way; tests drive sync explicitly
	cfg.DebounceDelay = time.Hour
	cfg.IdleSyncInterval = time.Hour
	cfg.PeriodicSyncInterval = time.Hour
	cfg.OnlineCheckInterval = time.Hour

	adapter := newMemoryAdapter()
	clock := &timex.FixedClock{Current: engineTime}

	ctx, cancel := context.WithCancel(context.Background())
	engine, err := New(ctx, Options{
		Config:  cfg,
		OwnerId: "alice",
		Creds:   auth.NewStaticProvider(auth.Credential{AccessKeyID: "AK", SecretAccessKey: "SK"}),
		Adapter: adapter,
		Clock:   clock,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = engine.Close(context.Background())
		cancel()
	})
	return engine, adapter, clock
}

func TestCreateNote_DurableAndQueued(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()

	note, err := engine.CreateNote(ctx, NoteFields{Title: "first", Content: "hello"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), note.Version)
	assert.Equal(t, SyncStatusPending, note.SyncStatus)

	stored, err := engine.GetEntity(ctx, note.Id)
	require.NoError(t, err)
	assert.Equal(t, "first", stored.Note.Title)

	pending, err := engine.store.Queue.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, models.OpCreate, pending[0].OpType)
}

func TestUpdateNote_VersionsIncrementThroughBurst(t *testing.T) {
	engine, _, clock := newTestEngine(t)
	ctx := context.Background()

	note, err := engine.CreateNote(ctx, NoteFields{Title: "draft"})
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		clock.Advance(time.Second)
		require.NoError(t, engine.UpdateNote(ctx, note.Id, NoteFields{Title: "draft", Content: fmt.Sprintf("rev %d", i)}))
	}

	// edits build on the debounced state, not the last durable write
	current, err := engine.GetEntity(ctx, note.Id)
	require.NoError(t, err)
	assert.Equal(t, int64(6), current.Version)
	assert.Equal(t, "rev 4", current.Note.Content)

	// still only the create is durable
	durable, err := engine.store.Entities.Get(ctx, note.Id)
	require.NoError(t, err)
	assert.Equal(t, int64(1), durable.Version)

	require.NoError(t, engine.CloseEntity(ctx, note.Id))
	durable, err = engine.store.Entities.Get(ctx, note.Id)
	require.NoError(t, err)
	assert.Equal(t, int64(6), durable.Version)
}

func TestTrashAndRestore(t *testing.T) {
	engine, _, clock := newTestEngine(t)
	ctx := context.Background()

	note, err := engine.CreateNote(ctx, NoteFields{Title: "junk"})
	require.NoError(t, err)

	clock.Advance(time.Second)
	require.NoError(t, engine.Trash(ctx, note.Id))

	trashed, err := engine.GetEntity(ctx, note.Id)
	require.NoError(t, err)
	assert.True(t, trashed.Deleted)
	require.NotNil(t, trashed.DeletedAt)

	clock.Advance(time.Second)
	require.NoError(t, engine.Restore(ctx, note.Id))

	restored, err := engine.GetEntity(ctx, note.Id)
	require.NoError(t, err)
	assert.False(t, restored.Deleted)
	assert.Nil(t, restored.DeletedAt)
	assert.Greater(t, restored.Version, trashed.Version)
}

func TestDeletePermanently(t *testing.T) {
	engine, adapter, clock := newTestEngine(t)
	ctx := context.Background()

	note, err := engine.CreateNote(ctx, NoteFields{Title: "gone"})
	require.NoError(t, err)

	_, err = engine.SyncNow(ctx)
	require.NoError(t, err)

	clock.Advance(time.Second)
	require.NoError(t, engine.DeletePermanently(ctx, note.Id))

	_, err = engine.GetEntity(ctx, note.Id)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = engine.SyncNow(ctx)
	require.NoError(t, err)

	adapter.mu.Lock()
	_, remoteExists := adapter.entities[note.Id]
	_, tombExists := adapter.tombs[note.Id]
	adapter.mu.Unlock()
	assert.False(t, remoteExists, "remote copy removed")
	assert.True(t, tombExists, "tombstone propagated")
}

func TestSyncNow_RoundTrip(t *testing.T) {
	engine, adapter, _ := newTestEngine(t)
	ctx := context.Background()

	note, err := engine.CreateNote(ctx, NoteFields{Title: "shared", Content: "body"})
	require.NoError(t, err)

	report, err := engine.SyncNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Uploaded)

	synced, err := engine.GetEntity(ctx, note.Id)
	require.NoError(t, err)
	assert.Equal(t, SyncStatusSynced, synced.SyncStatus)
	assert.NotEmpty(t, synced.RemoteRef)

	// a second device's note arrives on the next pass
	other := models.NewNote("alice", models.NoteFields{Title: "from B"}, engineTime)
	adapter.mu.Lock()
	adapter.entities[other.Id] = other
	adapter.refs[other.Id] = "ref-b"
	adapter.mu.Unlock()

	report, err = engine.SyncNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Downloaded)

	all, err := engine.ListEntities(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestTogglePinned(t *testing.T) {
	engine, _, clock := newTestEngine(t)
	ctx := context.Background()

	note, err := engine.CreateNote(ctx, NoteFields{Title: "pin me"})
	require.NoError(t, err)

	clock.Advance(time.Second)
	require.NoError(t, engine.TogglePinned(ctx, note.Id))

	pinned, err := engine.GetEntity(ctx, note.Id)
	require.NoError(t, err)
	assert.True(t, pinned.Note.Pinned)
	assert.Equal(t, int64(2), pinned.Version)
}

func TestCollections(t *testing.T) {
	engine, _, clock := newTestEngine(t)
	ctx := context.Background()

	note, err := engine.CreateNote(ctx, NoteFields{Title: "member"})
	require.NoError(t, err)

	coll, err := engine.CreateCollection(ctx, CollectionFields{Name: "work", MemberIds: []string{note.Id}})
	require.NoError(t, err)
	assert.Equal(t, EntityTypeCollection, coll.Type)

	clock.Advance(time.Second)
	require.NoError(t, engine.UpdateCollection(ctx, coll.Id, CollectionFields{Name: "work", MemberIds: []string{note.Id}, DisplayOrder: 3}))
	require.NoError(t, engine.CloseEntity(ctx, coll.Id))

	stored, err := engine.GetEntity(ctx, coll.Id)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stored.Collection.DisplayOrder)
}

func TestClearSyncError(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()

	note, err := engine.CreateNote(ctx, NoteFields{Title: "failed"})
	require.NoError(t, err)

	// simulate a failed upload
	broken, err := engine.store.Entities.Get(ctx, note.Id)
	require.NoError(t, err)
	broken.SyncStatus = models.SyncStatusError
	broken.SyncError = "unknown"
	require.NoError(t, engine.store.Entities.Put(ctx, broken))

	require.NoError(t, engine.ClearSyncError(ctx, note.Id))

	cleared, err := engine.GetEntity(ctx, note.Id)
	require.NoError(t, err)
	assert.Equal(t, SyncStatusPending, cleared.SyncStatus)
	assert.Empty(t, cleared.SyncError)
}

func TestActiveEntityProtectedDuringSync(t *testing.T) {
	engine, adapter, _ := newTestEngine(t)
	ctx := context.Background()

	note, err := engine.CreateNote(ctx, NoteFields{Title: "mine"})
	require.NoError(t, err)
	_, err = engine.SyncNow(ctx)
	require.NoError(t, err)

	// a newer copy appears remotely while the note is open here
	adapter.mu.Lock()
	newer := adapter.entities[note.Id].Clone()
	newer.Touch(engineTime.Add(time.Hour))
	newer.Note.Title = "theirs"
	adapter.entities[note.Id] = newer
	adapter.refs[note.Id] = "ref-newer"
	adapter.mu.Unlock()

	engine.OpenEntity(note.Id)
	_, err = engine.SyncNow(ctx)
	require.NoError(t, err)

	kept, err := engine.GetEntity(ctx, note.Id)
	require.NoError(t, err)
	assert.Equal(t, "mine", kept.Note.Title, "open entity never overwritten")

	require.NoError(t, engine.CloseEntity(ctx, note.Id))
}

func TestProbeURL(t *testing.T) {
	cfg := &config.Config{}
	cfg.LoadDefaults()
	assert.Equal(t, "https://s3.us-east-1.amazonaws.com", probeURL(cfg))

	cfg.S3Region = "eu-west-1"
	assert.Equal(t, "https://s3.eu-west-1.amazonaws.com", probeURL(cfg))

	cfg.S3BaseEndpoint = "http://localhost:9000"
	assert.Equal(t, "http://localhost:9000", probeURL(cfg))
}

func TestUpdateNote_RejectsCollection(t *testing.T) {
	engine, _, clock := newTestEngine(t)
	ctx := context.Background()

	coll, err := engine.CreateCollection(ctx, CollectionFields{Name: "inbox"})
	require.NoError(t, err)

	clock.Advance(time.Second)
	err = engine.UpdateNote(ctx, coll.Id, NoteFields{Title: "nope"})
	assert.Error(t, err, "collection cannot be updated as a note")
}
