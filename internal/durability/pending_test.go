package durability

import (
	"sync"
	"testing"
	"time"

	"github.com/shiv248/kolabrooms/internal/room"
)

// fakeStore is an in-memory backingStore used to exercise Writer's
// debounce timing without a real database connection.
type fakeStore struct {
	mu    sync.Mutex
	saves []fakeSave
}

type fakeSave struct {
	code     string
	id       int
	content  string
	revision int
}

func (f *fakeStore) InitDocuments(code string, ids []int) error { return nil }

func (f *fakeStore) LoadDocuments(code string) ([]room.PersistedDocument, error) { return nil, nil }

func (f *fakeStore) saveDocument(code string, id int, content string, revision int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves = append(f.saves, fakeSave{code, id, content, revision})
	return nil
}

func (f *fakeStore) CleanupRoom(code string) error { return nil }

func (f *fakeStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.saves)
}

func (f *fakeStore) last() fakeSave {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.saves[len(f.saves)-1]
}

// TestScheduleSaveDebouncesBursts verifies a burst of edits to the same
// document produces exactly one write, carrying the latest content.
func TestScheduleSaveDebouncesBursts(t *testing.T) {
	fs := &fakeStore{}
	w := &Writer{store: fs, window: 30 * time.Millisecond, pending: make(map[pendingKey]*pendingWrite)}

	w.ScheduleSave("ABC123", 1, "h", 1)
	w.ScheduleSave("ABC123", 1, "he", 2)
	w.ScheduleSave("ABC123", 1, "hel", 3)

	time.Sleep(80 * time.Millisecond)

	if got := fs.count(); got != 1 {
		t.Fatalf("got %d writes, want 1 (debounced)", got)
	}
	if last := fs.last(); last.content != "hel" || last.revision != 3 {
		t.Fatalf("got %+v, want latest state content=hel revision=3", last)
	}
}

// TestScheduleSaveSeparateKeysIndependent verifies documents debounce
// independently of one another.
func TestScheduleSaveSeparateKeysIndependent(t *testing.T) {
	fs := &fakeStore{}
	w := &Writer{store: fs, window: 20 * time.Millisecond, pending: make(map[pendingKey]*pendingWrite)}

	w.ScheduleSave("ROOM01", 1, "a", 1)
	w.ScheduleSave("ROOM01", 2, "b", 1)

	time.Sleep(60 * time.Millisecond)

	if got := fs.count(); got != 2 {
		t.Fatalf("got %d writes, want 2 (independent keys)", got)
	}
}

// TestFlushForcesImmediateWrite verifies Flush bypasses the debounce
// window, as used during graceful shutdown.
func TestFlushForcesImmediateWrite(t *testing.T) {
	fs := &fakeStore{}
	w := &Writer{store: fs, window: time.Hour, pending: make(map[pendingKey]*pendingWrite)}

	w.ScheduleSave("ABC123", 1, "content", 5)
	w.Flush()

	if got := fs.count(); got != 1 {
		t.Fatalf("got %d writes after Flush, want 1", got)
	}
}

// TestCleanupRoomCancelsPendingWrites verifies a room cleanup drops any
// in-flight debounced write for that room rather than letting it
// resurrect a deleted row.
func TestCleanupRoomCancelsPendingWrites(t *testing.T) {
	fs := &fakeStore{}
	w := &Writer{store: fs, window: 30 * time.Millisecond, pending: make(map[pendingKey]*pendingWrite)}

	w.ScheduleSave("ABC123", 1, "content", 1)
	if err := w.CleanupRoom("ABC123"); err != nil {
		t.Fatalf("CleanupRoom: %v", err)
	}

	time.Sleep(60 * time.Millisecond)

	if got := fs.count(); got != 0 {
		t.Fatalf("got %d writes, want 0 (cancelled by cleanup)", got)
	}
}
