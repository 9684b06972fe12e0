// Package ot implements the operational-transformation primitives and
// transform engine the server uses to reconcile concurrent edits.
//
// An Operation is a canonical, ordered sequence of Retain/Insert/Delete
// primitives. Values are never mutated after being handed to another
// goroutine: every method that produces a new operation returns a fresh
// one, matching the value-type discipline described for this component.
package ot

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalidOperation is returned when an operation would read or write
// past the bounds of the document it is applied to, or fails validation.
var ErrInvalidOperation = errors.New("ot: invalid operation")

// Kind tags which variant a Primitive holds.
type Kind int

const (
	KindRetain Kind = iota
	KindInsert
	KindDelete
)

// Primitive is one step of an Operation: Retain(n), Insert(s), or Delete(n).
type Primitive struct {
	Kind Kind
	N    uint64 // count, for Retain/Delete
	Text string // inserted text, for Insert
}

func Retain(n uint64) Primitive { return Primitive{Kind: KindRetain, N: n} }
func Insert(s string) Primitive { return Primitive{Kind: KindInsert, Text: s} }
func Delete(n uint64) Primitive { return Primitive{Kind: KindDelete, N: n} }

// runeLen returns the primitive's length in Unicode code points.
func (p Primitive) runeLen() uint64 {
	if p.Kind == KindInsert {
		return uint64(len([]rune(p.Text)))
	}
	return p.N
}

// Operation is a finite ordered sequence of primitives in canonical form:
// no zero-count primitives, no two adjacent primitives of the same kind.
type Operation struct {
	Primitives []Primitive
}

// New returns an empty operation.
func New() *Operation {
	return &Operation{}
}

// WithCapacity returns an empty operation with room for n primitives.
func WithCapacity(n int) *Operation {
	return &Operation{Primitives: make([]Primitive, 0, n)}
}

// Retain appends a Retain(n) primitive, merging with a trailing Retain.
func (op *Operation) Retain(n uint64) *Operation {
	if n == 0 {
		return op
	}
	if l := len(op.Primitives); l > 0 && op.Primitives[l-1].Kind == KindRetain {
		op.Primitives[l-1].N += n
		return op
	}
	op.Primitives = append(op.Primitives, Retain(n))
	return op
}

// Insert appends an Insert(s) primitive, merging with a trailing Insert.
//
// Canonical form keeps inserts ordered before a trailing delete at the same
// position (an insert-then-delete at a cursor is observably a delete-then-
// insert only when the insert is folded into an adjacent insert), so an
// Insert is inserted before a trailing Delete rather than simply appended.
func (op *Operation) Insert(s string) *Operation {
	if s == "" {
		return op
	}
	l := len(op.Primitives)
	if l > 0 && op.Primitives[l-1].Kind == KindInsert {
		op.Primitives[l-1].Text += s
		return op
	}
	if l > 0 && op.Primitives[l-1].Kind == KindDelete {
		del := op.Primitives[l-1]
		if l > 1 && op.Primitives[l-2].Kind == KindInsert {
			op.Primitives[l-2].Text += s
			return op
		}
		op.Primitives[l-1] = Insert(s)
		op.Primitives = append(op.Primitives, del)
		return op
	}
	op.Primitives = append(op.Primitives, Insert(s))
	return op
}

// Delete appends a Delete(n) primitive, merging with a trailing Delete.
func (op *Operation) Delete(n uint64) *Operation {
	if n == 0 {
		return op
	}
	if l := len(op.Primitives); l > 0 && op.Primitives[l-1].Kind == KindDelete {
		op.Primitives[l-1].N += n
		return op
	}
	op.Primitives = append(op.Primitives, Delete(n))
	return op
}

// BaseLen returns the length (in code points) of documents this operation
// can be applied to: sum of retain and delete counts.
func (op *Operation) BaseLen() uint64 {
	var n uint64
	for _, p := range op.Primitives {
		switch p.Kind {
		case KindRetain, KindDelete:
			n += p.N
		}
	}
	return n
}

// TargetLen returns the length (in code points) of the document this
// operation produces: sum of retain and insert counts.
func (op *Operation) TargetLen() uint64 {
	var n uint64
	for _, p := range op.Primitives {
		switch p.Kind {
		case KindRetain:
			n += p.N
		case KindInsert:
			n += p.runeLen()
		}
	}
	return n
}

// IsNoop reports whether applying op leaves a document unchanged: zero or
// one Retain primitives and nothing else.
func (op *Operation) IsNoop() bool {
	switch len(op.Primitives) {
	case 0:
		return true
	case 1:
		return op.Primitives[0].Kind == KindRetain
	default:
		return false
	}
}

// Validate reports whether op is well-formed against a document of baseLen
// code points: retain+delete counts cover baseLen exactly, every count is
// at least 1, and every insert is non-empty.
func Validate(op *Operation, baseLen uint64) bool {
	if op.BaseLen() != baseLen {
		return false
	}
	for _, p := range op.Primitives {
		switch p.Kind {
		case KindRetain, KindDelete:
			if p.N == 0 {
				return false
			}
		case KindInsert:
			if p.Text == "" {
				return false
			}
		}
	}
	return true
}

// Compact merges adjacent same-kind primitives and drops zero-count ones.
// Idempotent: Compact(Compact(op)) observably equals Compact(op).
func Compact(op *Operation) *Operation {
	out := WithCapacity(len(op.Primitives))
	for _, p := range op.Primitives {
		switch p.Kind {
		case KindRetain:
			out.Retain(p.N)
		case KindInsert:
			out.Insert(p.Text)
		case KindDelete:
			out.Delete(p.N)
		}
	}
	return out
}

// Apply reads content left to right under the cursor op describes and
// returns the resulting document. Fails with ErrInvalidOperation if op
// would read past the end of content.
func Apply(content string, op *Operation) (string, error) {
	runes := []rune(content)
	var cursor uint64
	var out bytes.Buffer
	out.Grow(len(content))

	for _, p := range op.Primitives {
		switch p.Kind {
		case KindRetain:
			end := cursor + p.N
			if end > uint64(len(runes)) {
				return "", fmt.Errorf("%w: retain past end of document (cursor=%d, n=%d, len=%d)", ErrInvalidOperation, cursor, p.N, len(runes))
			}
			for _, r := range runes[cursor:end] {
				out.WriteRune(r)
			}
			cursor = end
		case KindInsert:
			out.WriteString(p.Text)
		case KindDelete:
			end := cursor + p.N
			if end > uint64(len(runes)) {
				return "", fmt.Errorf("%w: delete past end of document (cursor=%d, n=%d, len=%d)", ErrInvalidOperation, cursor, p.N, len(runes))
			}
			cursor = end
		}
	}

	if cursor != uint64(len(runes)) {
		return "", fmt.Errorf("%w: operation does not cover document (cursor=%d, len=%d)", ErrInvalidOperation, cursor, len(runes))
	}

	return out.String(), nil
}

// cursor walks an operation's primitives one "unit" at a time, splitting
// a primitive across calls when the caller only consumes part of it.
type cursor struct {
	prims []Primitive
	idx   int
	have  bool
	cur   Primitive
}

func newCursor(op *Operation) *cursor {
	return &cursor{prims: op.Primitives}
}

// peek returns the current primitive (possibly a split remainder) and
// whether one is available.
func (c *cursor) peek() (Primitive, bool) {
	if !c.have {
		if c.idx >= len(c.prims) {
			return Primitive{}, false
		}
		c.cur = c.prims[c.idx]
		c.idx++
		c.have = true
	}
	return c.cur, true
}

// take consumes up to n units (code points) from the current primitive and
// returns the consumed slice; for Insert, n is a count of runes.
func (c *cursor) take(n uint64) Primitive {
	p, _ := c.peek()
	length := p.N
	if p.Kind == KindInsert {
		length = p.runeLen()
	}
	if n >= length {
		c.have = false
		return p
	}
	switch p.Kind {
	case KindInsert:
		r := []rune(p.Text)
		c.cur.Text = string(r[n:])
		return Insert(string(r[:n]))
	default:
		c.cur.N = p.N - n
		out := p
		out.N = n
		return out
	}
}

// Compose merges two sequential operations op1 then op2 (op2 defined
// against op1's result) into a single operation with the same net effect.
func Compose(op1, op2 *Operation) (*Operation, error) {
	if op1.TargetLen() != op2.BaseLen() {
		return nil, fmt.Errorf("%w: op1 target length %d != op2 base length %d", ErrInvalidOperation, op1.TargetLen(), op2.BaseLen())
	}

	result := New()
	c1, c2 := newCursor(op1), newCursor(op2)

	for {
		a, aok := c1.peek()
		b, bok := c2.peek()

		switch {
		case !aok && !bok:
			return Compact(result), nil

		case aok && a.Kind == KindInsert:
			// Inserts from op1 land in the intermediate document; op2 may
			// retain, delete, or simply not reach them yet.
			if bok && b.Kind == KindDelete {
				n := minU64(a.runeLen(), b.N)
				c1.take(n)
				c2.take(n)
				continue
			}
			if bok && b.Kind == KindRetain {
				n := minU64(a.runeLen(), b.N)
				ins := c1.take(n)
				c2.take(n)
				result.Insert(ins.Text)
				continue
			}
			ins := c1.take(a.runeLen())
			result.Insert(ins.Text)

		case aok && a.Kind == KindDelete:
			// A delete in op1 never reached the intermediate document, so
			// it is independent of whatever op2 is doing.
			del := c1.take(a.N)
			result.Delete(del.N)

		case bok && b.Kind == KindInsert:
			// op2 inserts fresh content with no counterpart in op1.
			ins := c2.take(b.runeLen())
			result.Insert(ins.Text)

		case !aok:
			return nil, fmt.Errorf("%w: op2 longer than op1's target length", ErrInvalidOperation)

		case !bok:
			// a must be Retain (Insert/Delete handled above).
			result.Retain(a.N)
			c1.take(a.N)

		case b.Kind == KindRetain:
			// a must be Retain here too.
			n := minU64(a.N, b.N)
			result.Retain(n)
			c1.take(n)
			c2.take(n)

		case b.Kind == KindDelete:
			n := minU64(a.N, b.N)
			result.Delete(n)
			c1.take(n)
			c2.take(n)

		default:
			return nil, fmt.Errorf("%w: compose hit unreachable primitive pair", ErrInvalidOperation)
		}
	}
}

func minU64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}

// wirePrimitive is one primitive in wire form; Type is the JSON "type"
// discriminator from the wire protocol.
type wirePrimitive struct {
	Type  string `json:"type"`
	Count uint64 `json:"count,omitempty"`
	Text  string `json:"text,omitempty"`
}

// MarshalJSON encodes an Operation as the wire array of tagged primitives
// described in spec.md section 6.2.
func (op Operation) MarshalJSON() ([]byte, error) {
	wire := make([]wirePrimitive, len(op.Primitives))
	for i, p := range op.Primitives {
		switch p.Kind {
		case KindRetain:
			wire[i] = wirePrimitive{Type: "retain", Count: p.N}
		case KindInsert:
			wire[i] = wirePrimitive{Type: "insert", Text: p.Text}
		case KindDelete:
			wire[i] = wirePrimitive{Type: "delete", Count: p.N}
		}
	}
	return json.Marshal(wire)
}

// UnmarshalJSON decodes an Operation from the wire array of tagged
// primitives. Unknown or malformed primitives fail with ErrInvalidOperation.
func (op *Operation) UnmarshalJSON(data []byte) error {
	var wire []wirePrimitive
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	op.Primitives = make([]Primitive, 0, len(wire))
	for _, w := range wire {
		switch w.Type {
		case "retain":
			op.Primitives = append(op.Primitives, Retain(w.Count))
		case "insert":
			op.Primitives = append(op.Primitives, Insert(w.Text))
		case "delete":
			op.Primitives = append(op.Primitives, Delete(w.Count))
		default:
			return fmt.Errorf("%w: unknown primitive type %q", ErrInvalidOperation, w.Type)
		}
	}
	return nil
}

// FromJSON parses a wire-format operation.
func FromJSON(data []byte) (*Operation, error) {
	op := New()
	if err := json.Unmarshal(data, op); err != nil {
		return nil, err
	}
	return op, nil
}
