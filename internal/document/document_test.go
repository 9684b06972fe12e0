package document

import (
	"errors"
	"testing"

	"github.com/shiv248/kolabrooms/internal/ot"
)

func TestIngestExactRevision(t *testing.T) {
	d := New(1)
	op := ot.New().Insert("hello world")
	transformed, rev, err := d.Ingest(op, 0)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if rev != 1 {
		t.Fatalf("rev = %d, want 1", rev)
	}
	content, r := d.Snapshot()
	if content != "hello world" || r != 1 {
		t.Fatalf("snapshot = %q/%d", content, r)
	}
	if len(transformed.Primitives) == 0 {
		t.Fatalf("expected non-empty transformed op")
	}
}

func TestIngestTransformsAgainstHistory(t *testing.T) {
	d := New(1)
	if _, _, err := d.Ingest(ot.New().Insert("abc"), 0); err != nil {
		t.Fatalf("seed: %v", err)
	}

	// Client A authored against revision 1 (current content "abc").
	opA := ot.New().Insert("X").Retain(3)
	if _, rev, err := d.Ingest(opA, 1); err != nil || rev != 2 {
		t.Fatalf("ingest A: rev=%d err=%v", rev, err)
	}
	content, _ := d.Snapshot()
	if content != "Xabc" {
		t.Fatalf("content = %q", content)
	}

	// Client B also authored against revision 1, unaware of A's edit.
	opB := ot.New().Insert("Y").Retain(3)
	transformedB, rev, err := d.Ingest(opB, 1)
	if err != nil {
		t.Fatalf("ingest B: %v", err)
	}
	if rev != 3 {
		t.Fatalf("rev = %d, want 3", rev)
	}
	content, _ = d.Snapshot()
	if content != "XYabc" {
		t.Fatalf("content = %q, want XYabc", content)
	}
	if len(transformedB.Primitives) == 0 {
		t.Fatalf("expected transformed op for B")
	}
}

func TestIngestRevisionTooOld(t *testing.T) {
	d := New(1)
	for i := 0; i < HistorySize+50; i++ {
		if _, _, err := d.Ingest(ot.New().Retain(uint64(i)).Insert("a"), i); err != nil {
			t.Fatalf("seed ingest %d: %v", i, err)
		}
	}
	_, _, err := d.Ingest(ot.New().Retain(uint64(len([]rune(mustSnapshot(d))))), 0)
	if !errors.Is(err, ErrRevisionTooOld) {
		t.Fatalf("expected ErrRevisionTooOld, got %v", err)
	}
}

func TestIngestFutureRevisionFails(t *testing.T) {
	d := New(1)
	_, _, err := d.Ingest(ot.New(), 5)
	if err == nil {
		t.Fatalf("expected error for future revision")
	}
}

func TestHistoryBound(t *testing.T) {
	d := New(1)
	for i := 0; i < HistorySize+25; i++ {
		if _, _, err := d.Ingest(ot.New().Retain(uint64(i)).Insert("x"), i); err != nil {
			t.Fatalf("ingest %d: %v", i, err)
		}
	}
	if len(d.history) != HistorySize {
		t.Fatalf("history length = %d, want %d", len(d.history), HistorySize)
	}
}

func TestSnapshotResetRoundTrip(t *testing.T) {
	d := New(1)
	d.Ingest(ot.New().Insert("hello"), 0)
	content, rev := d.Snapshot()

	d2 := New(1)
	d2.Reset(content, rev)
	content2, rev2 := d2.Snapshot()
	if content != content2 || rev != rev2 {
		t.Fatalf("reset mismatch: (%q,%d) vs (%q,%d)", content, rev, content2, rev2)
	}
	if len(d2.history) != 0 {
		t.Fatalf("expected empty history after reset")
	}
}

func mustSnapshot(d *Document) string {
	c, _ := d.Snapshot()
	return c
}
