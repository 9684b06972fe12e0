// Package document implements the per-document store (spec component C3):
// canonical content, revision counter, and a bounded history of applied
// operations. Each Document serializes its own mutations behind a mutex,
// so concurrent documents advance independently while a single document
// is totally ordered.
package document

import (
	"errors"
	"fmt"
	"sync"

	"github.com/shiv248/kolabrooms/internal/ot"
)

// HistorySize is H from spec.md section 3: the number of most-recent
// applied operations retained per document.
const HistorySize = 100

// Sentinel errors surfaced by Ingest; the room layer maps these onto the
// wire error kinds from spec.md section 7.
var (
	ErrRevisionTooOld = errors.New("document: revision too old")
	ErrFutureRevision = errors.New("document: revision from the future")
)

// Document is the canonical state of one editable text buffer.
type Document struct {
	mu       sync.Mutex
	id       int
	content  string
	revision int
	history  []*ot.Operation
}

// New creates an empty document at revision 0.
func New(id int) *Document {
	return &Document{id: id}
}

// FromPersisted recreates a document from durably stored state, as C5
// does on load. History starts empty: a client whose baseRevision predates
// this snapshot is already stale and must resync regardless.
func FromPersisted(id int, content string, revision int) *Document {
	return &Document{id: id, content: content, revision: revision}
}

// ID returns the document's room-scoped identifier.
func (d *Document) ID() int { return d.id }

// Snapshot returns a read-only view of the current content and revision.
func (d *Document) Snapshot() (content string, revision int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.content, d.revision
}

// Reset replaces the document's state wholesale, as C5 does after loading
// a persisted row. History is cleared: snapshot then reset yields an
// observationally identical document with empty history.
func (d *Document) Reset(content string, revision int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.content = content
	d.revision = revision
	d.history = nil
}

// rev0Locked returns the oldest revision still present in history, per the
// invariant rev0 == max(0, revision - len(history)).
func (d *Document) rev0Locked() int {
	r0 := d.revision - len(d.history)
	if r0 < 0 {
		return 0
	}
	return r0
}

// Ingest applies a client operation authored against baseRevision,
// transforming it against any intervening history if necessary. Returns
// the (possibly transformed) operation actually applied and the new
// revision.
//
// See spec.md section 4.3 for the four cases this implements.
func (d *Document) Ingest(op *ot.Operation, baseRevision int) (*ot.Operation, int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if baseRevision > d.revision {
		return nil, 0, fmt.Errorf("%w: base %d, current %d", ErrFutureRevision, baseRevision, d.revision)
	}

	rev0 := d.rev0Locked()
	if baseRevision < rev0 {
		return nil, 0, fmt.Errorf("%w: base %d, oldest retained %d", ErrRevisionTooOld, baseRevision, rev0)
	}

	transformed := op
	for _, h := range d.history[baseRevision-rev0:] {
		var err error
		transformed, err = ot.Transform(transformed, h, ot.Left)
		if err != nil {
			return nil, 0, fmt.Errorf("transform against history: %w", err)
		}
	}

	if !ot.Validate(transformed, uint64(len(d.runes()))) {
		return nil, 0, fmt.Errorf("%w: length mismatch after transform", ot.ErrInvalidOperation)
	}

	newContent, err := ot.Apply(d.content, transformed)
	if err != nil {
		return nil, 0, err
	}

	d.content = newContent
	d.revision++
	d.history = append(d.history, transformed)
	if len(d.history) > HistorySize {
		d.history = d.history[len(d.history)-HistorySize:]
	}

	return transformed, d.revision, nil
}

// runes is a small helper so length comparisons operate on code points,
// matching the spec's Unicode semantics.
func (d *Document) runes() []rune {
	return []rune(d.content)
}
