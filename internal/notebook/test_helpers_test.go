package notebook

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/pds/internal/snowflake"
)

var errBackendUnavailable = errors.New("backend unavailable")

// memoryBackend is a Backend kept in maps. The fail* fields inject errors.
type memoryBackend struct {
	mu        sync.Mutex
	snapshots map[snowflake.ID]Snapshot
	oplog     []OplogEntry

	failAppend         bool
	failPutSnapshot    bool
	failDeleteSnapshot bool
	failHistory        bool
}

func newMemoryBackend() *memoryBackend {
	return &memoryBackend{snapshots: make(map[snowflake.ID]Snapshot)}
}

func (b *memoryBackend) PutSnapshot(_ context.Context, objID snowflake.ID, objType ObjectType, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failPutSnapshot {
		return errBackendUnavailable
	}
	b.snapshots[objID] = Snapshot{ObjID: objID, ObjType: objType, Data: slices.Clone(data)}
	return nil
}

func (b *memoryBackend) DeleteSnapshot(_ context.Context, objID snowflake.ID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failDeleteSnapshot {
		return errBackendUnavailable
	}
	delete(b.snapshots, objID)
	return nil
}

func (b *memoryBackend) ListSnapshots(context.Context) ([]Snapshot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := slices.Sorted(maps.Keys(b.snapshots))
	snapshots := make([]Snapshot, 0, len(ids))
	for _, id := range ids {
		snapshots = append(snapshots, b.snapshots[id])
	}
	return snapshots, nil
}

func (b *memoryBackend) AppendLog(_ context.Context, entryID, objID snowflake.ID, objType ObjectType, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failAppend {
		return errBackendUnavailable
	}
	for _, entry := range b.oplog {
		if entry.ID == entryID {
			return fmt.Errorf("duplicate oplog entry %s", entryID)
		}
	}
	b.oplog = append(b.oplog, OplogEntry{ID: entryID, ObjID: objID, ObjType: objType, Data: slices.Clone(data)})
	return nil
}

func (b *memoryBackend) LatestEntry(_ context.Context, objID snowflake.ID) (OplogEntry, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failHistory {
		return OplogEntry{}, false, errBackendUnavailable
	}
	for index := len(b.oplog) - 1; index >= 0; index-- {
		if b.oplog[index].ObjID == objID {
			return b.oplog[index], true, nil
		}
	}
	return OplogEntry{}, false, nil
}

func (b *memoryBackend) entries() []OplogEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.oplog)
}

func (b *memoryBackend) snapshot(objID snowflake.ID) (Snapshot, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	snapshot, ok := b.snapshots[objID]
	return snapshot, ok
}

// plainBackend exposes only the Backend methods of the wrapped value.
type plainBackend struct {
	Backend
}

// transactionalBackend stages writes and applies them only when fn succeeds.
type transactionalBackend struct {
	*memoryBackend
	commits int
}

func (b *transactionalBackend) Atomically(ctx context.Context, fn func(Backend) error) error {
	staged := &stagingBackend{target: b.memoryBackend}
	if err := fn(staged); err != nil {
		return err
	}
	for _, apply := range staged.pending {
		if err := apply(ctx); err != nil {
			return err
		}
	}
	b.commits++
	return nil
}

type stagingBackend struct {
	target  *memoryBackend
	pending []func(context.Context) error
}

func (s *stagingBackend) PutSnapshot(_ context.Context, objID snowflake.ID, objType ObjectType, data []byte) error {
	if s.target.failPutSnapshot {
		return errBackendUnavailable
	}
	s.pending = append(s.pending, func(ctx context.Context) error {
		return s.target.PutSnapshot(ctx, objID, objType, data)
	})
	return nil
}

func (s *stagingBackend) DeleteSnapshot(_ context.Context, objID snowflake.ID) error {
	if s.target.failDeleteSnapshot {
		return errBackendUnavailable
	}
	s.pending = append(s.pending, func(ctx context.Context) error {
		return s.target.DeleteSnapshot(ctx, objID)
	})
	return nil
}

func (s *stagingBackend) ListSnapshots(ctx context.Context) ([]Snapshot, error) {
	return s.target.ListSnapshots(ctx)
}

func (s *stagingBackend) AppendLog(_ context.Context, entryID, objID snowflake.ID, objType ObjectType, data []byte) error {
	if s.target.failAppend {
		return errBackendUnavailable
	}
	s.pending = append(s.pending, func(ctx context.Context) error {
		return s.target.AppendLog(ctx, entryID, objID, objType, data)
	})
	return nil
}

type sequentialIDs struct {
	mu   sync.Mutex
	next snowflake.ID
}

func (s *sequentialIDs) Generate() (snowflake.ID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	return s.next, nil
}

func newTestNotebook(t *testing.T, backend Backend) *Notebook {
	t.Helper()
	store, err := New(Config{Backend: backend, IDs: &sequentialIDs{next: 1000}})
	if err != nil {
		t.Fatalf("unexpected notebook error: %v", err)
	}
	if err := store.Initialize(context.Background()); err != nil {
		t.Fatalf("unexpected initialize error: %v", err)
	}
	return store
}

func stringPointer(value string) *string {
	return &value
}

func mustTime(t *testing.T, value string) time.Time {
	t.Helper()
	parsed, err := time.Parse(time.RFC3339, value)
	if err != nil {
		t.Fatalf("unexpected time error: %v", err)
	}
	return parsed
}

func noteWithTitle(id snowflake.ID, title string) Note {
	return Note{
		ID:             id,
		Fields:         NoteFields{Title: stringPointer(title)},
		CreatedAt:      "2026-03-01T12:00:00Z",
		LastModifiedAt: "2026-03-01T12:00:00Z",
	}
}

func noteIDs(notes []Note) []snowflake.ID {
	ids := make([]snowflake.ID, 0, len(notes))
	for _, note := range notes {
		ids = append(ids, note.ID)
	}
	return ids
}
