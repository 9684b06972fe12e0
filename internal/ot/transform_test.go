package ot

import "testing"

// TestTransformIdentity checks transform(op, identity, side) == op where
// identity is Retain(len).
func TestTransformIdentity(t *testing.T) {
	op := New().Retain(2).Insert("xy").Delete(3)
	identity := New().Retain(op.BaseLen())

	for _, side := range []Side{Left, Right} {
		got, err := Transform(op, identity, side)
		if err != nil {
			t.Fatalf("Transform: %v", err)
		}
		if !equalOps(got, op) {
			t.Fatalf("side=%v: got %+v want %+v", side, got.Primitives, op.Primitives)
		}
	}
}

// TestTransformConvergence is the TP1 property from spec.md section 8:
// apply(apply(d,a), transform(b,a,left)) == apply(apply(d,b), transform(a,b,right)),
// i.e. on a same-position tie a's insert lands first on both paths.
func TestTransformConvergence(t *testing.T) {
	cases := []struct {
		name string
		base string
		a, b *Operation
	}{
		{
			name: "same position insert",
			base: "abc",
			a:    New().Insert("x").Retain(3),
			b:    New().Insert("y").Retain(3),
		},
		{
			name: "overlapping deletes",
			base: "hello world",
			a:    New().Delete(5).Retain(6),
			b:    New().Retain(1).Delete(6).Retain(4),
		},
		{
			name: "disjoint edits",
			base: "0123456789",
			a:    New().Retain(2).Insert("AB").Retain(8),
			b:    New().Retain(7).Insert("CD").Retain(3),
		},
		{
			name: "insert inside other's delete",
			base: "abcdef",
			a:    New().Retain(1).Insert("Z").Retain(5),
			b:    New().Delete(4).Retain(2),
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			aPrime, err := Transform(tc.a, tc.b, Right)
			if err != nil {
				t.Fatalf("transform(a,b,right): %v", err)
			}
			bPrime, err := Transform(tc.b, tc.a, Left)
			if err != nil {
				t.Fatalf("transform(b,a,left): %v", err)
			}

			left, err := Apply(tc.base, tc.a)
			if err != nil {
				t.Fatalf("apply a: %v", err)
			}
			left, err = Apply(left, bPrime)
			if err != nil {
				t.Fatalf("apply b': %v", err)
			}

			right, err := Apply(tc.base, tc.b)
			if err != nil {
				t.Fatalf("apply b: %v", err)
			}
			right, err = Apply(right, aPrime)
			if err != nil {
				t.Fatalf("apply a': %v", err)
			}

			if left != right {
				t.Fatalf("convergence failed: %q != %q", left, right)
			}
		})
	}
}

// TestSamePositionInsertTieBreak is the literal scenario from spec.md
// section 8 (end-to-end scenario 2).
func TestSamePositionInsertTieBreak(t *testing.T) {
	a := New().Insert("x").Retain(3) // applied first
	b := New().Insert("y").Retain(3)

	afterA, err := Apply("abc", a)
	if err != nil {
		t.Fatalf("apply a: %v", err)
	}
	if afterA != "xabc" {
		t.Fatalf("got %q", afterA)
	}

	bPrime, err := Transform(b, a, Left)
	if err != nil {
		t.Fatalf("transform: %v", err)
	}
	final, err := Apply(afterA, bPrime)
	if err != nil {
		t.Fatalf("apply b': %v", err)
	}
	if final != "xyabc" {
		t.Fatalf("got %q want xyabc", final)
	}
}

// TestOverlappingDeletesScenario is end-to-end scenario 3 from spec.md.
func TestOverlappingDeletesScenario(t *testing.T) {
	base := "hello world"
	a := New().Delete(5).Retain(6)          // delete "hello"
	b := New().Retain(1).Delete(6).Retain(4) // delete "ello w"

	afterA, err := Apply(base, a)
	if err != nil {
		t.Fatalf("apply a: %v", err)
	}
	if afterA != " world" {
		t.Fatalf("got %q", afterA)
	}

	bPrime, err := Transform(b, a, Left)
	if err != nil {
		t.Fatalf("transform: %v", err)
	}
	final, err := Apply(afterA, bPrime)
	if err != nil {
		t.Fatalf("apply b': %v", err)
	}
	if final != "orld" {
		t.Fatalf("got %q want orld", final)
	}
}

func TestTransformIncompatibleBaseLengths(t *testing.T) {
	a := New().Retain(3)
	b := New().Retain(5)
	if _, err := Transform(a, b, Left); err == nil {
		t.Fatalf("expected error for mismatched base lengths")
	}
}
