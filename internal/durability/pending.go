package durability

import (
	"sync"
	"time"

	"github.com/shiv248/kolabrooms/internal/room"
	"github.com/shiv248/kolabrooms/pkg/logger"
)

// pendingKey identifies one document's outstanding write. Kept as a
// struct of its real fields rather than a formatted "code-id" string: a
// room code can itself contain the separator character, and parsing it
// back apart is exactly the bug spec.md's design notes call out to
// avoid.
type pendingKey struct {
	code string
	id   int
}

// pendingWrite is the most recent content queued for a key; later writes
// to the same key replace it before the timer fires, so only the latest
// state is ever persisted.
type pendingWrite struct {
	content  string
	revision int
	timer    *time.Timer
}

// backingStore is the subset of *Store a Writer needs. Kept as an
// interface, rather than a concrete *Store field, so the debounce timing
// logic can be exercised against a fake in tests without a database.
type backingStore interface {
	InitDocuments(code string, ids []int) error
	LoadDocuments(code string) ([]room.PersistedDocument, error)
	saveDocument(code string, id int, content string, revision int) error
	CleanupRoom(code string) error
}

// Writer debounces SendOperation's persistence calls: each document gets
// its own quiescence timer, reset on every edit, so a burst of keystrokes
// produces one write Tw after the burst ends rather than one write per
// keystroke.
type Writer struct {
	mu      sync.Mutex
	store   backingStore
	window  time.Duration
	pending map[pendingKey]*pendingWrite
}

// NewWriter wraps a Store with a Tw debounce window (spec.md section 6.4).
func NewWriter(store *Store, window time.Duration) *Writer {
	if window <= 0 {
		window = 2 * time.Second
	}
	return &Writer{store: store, window: window, pending: make(map[pendingKey]*pendingWrite)}
}

// InitDocuments delegates straight through; seeding rows is not debounced.
func (w *Writer) InitDocuments(code string, ids []int) error {
	return w.store.InitDocuments(code, ids)
}

// LoadDocuments delegates straight through.
func (w *Writer) LoadDocuments(code string) ([]room.PersistedDocument, error) {
	return w.store.LoadDocuments(code)
}

// ScheduleSave records a document's latest state and (re)arms its
// per-key debounce timer. Persistence failures are logged, not returned:
// a write hiccup must never block the ingest path that called this.
func (w *Writer) ScheduleSave(code string, id int, content string, revision int) {
	key := pendingKey{code: code, id: id}

	w.mu.Lock()
	defer w.mu.Unlock()

	if pw, ok := w.pending[key]; ok {
		pw.content = content
		pw.revision = revision
		pw.timer.Reset(w.window)
		return
	}

	pw := &pendingWrite{content: content, revision: revision}
	pw.timer = time.AfterFunc(w.window, func() { w.flush(key) })
	w.pending[key] = pw
}

func (w *Writer) flush(key pendingKey) {
	w.mu.Lock()
	pw, ok := w.pending[key]
	if ok {
		delete(w.pending, key)
	}
	w.mu.Unlock()
	if !ok {
		return
	}
	if err := w.store.saveDocument(key.code, key.id, pw.content, pw.revision); err != nil {
		logger.Error("persist %s/%d: %v", key.code, key.id, err)
	}
}

// Flush forces every pending write out immediately, for use during
// graceful shutdown.
func (w *Writer) Flush() {
	w.mu.Lock()
	keys := make([]pendingKey, 0, len(w.pending))
	for key, pw := range w.pending {
		pw.timer.Stop()
		keys = append(keys, key)
	}
	w.mu.Unlock()

	for _, key := range keys {
		w.flush(key)
	}
}

// CleanupRoom cancels and drops, without saving, every pending write for
// the room, then forwards to the store, so an in-flight debounced write
// can't resurrect a row after the room's data was deleted.
func (w *Writer) CleanupRoom(code string) error {
	w.mu.Lock()
	var keys []pendingKey
	for key := range w.pending {
		if key.code == code {
			keys = append(keys, key)
		}
	}
	for _, key := range keys {
		if pw, ok := w.pending[key]; ok {
			pw.timer.Stop()
			delete(w.pending, key)
		}
	}
	w.mu.Unlock()

	return w.store.CleanupRoom(code)
}
