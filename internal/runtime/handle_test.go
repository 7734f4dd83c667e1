package runtime

import "testing"

// TestLocalHandleLifecycle is spec.md scenario S3: copy shares the value,
// writes through either handle are visible from the other, and dropping
// both eventually reaps the entry.
func TestLocalHandleLifecycle(t *testing.T) {
	m := newLocalManagerNoReaper()
	defer m.Close()

	h1, err := New[int](m, 5)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	h2, err := h1.Copy()
	if err != nil {
		t.Fatalf("Copy: %v", err)
	}

	v1, err := h1.Deref().Get()
	if err != nil || v1 != 5 {
		t.Fatalf("h1 value = (%v, %v), want 5", v1, err)
	}

	v2, err := h2.Deref().Get()
	if err != nil || v2 != 5 {
		t.Fatalf("h2 value = (%v, %v), want 5", v2, err)
	}

	if err := h1.Deref().Set(6); err != nil {
		t.Fatalf("Set: %v", err)
	}

	v2, err = h2.Deref().Get()
	if err != nil || v2 != 6 {
		t.Fatalf("h2 value after h1 write = (%v, %v), want 6", v2, err)
	}

	if _, err := h1.Drop(); err != nil {
		t.Fatalf("drop h1: %v", err)
	}

	if _, err := h2.Drop(); err != nil {
		t.Fatalf("drop h2: %v", err)
	}

	// Drop alone never removes a zero-count entry — only the reaper does,
	// "after one reaper period" (spec §8 scenario S3).
	if len(m.entries) != 1 {
		t.Fatalf("entries immediately after both drops = %d, want 1 (pending reap)", len(m.entries))
	}

	m.sweep()

	if len(m.entries) != 0 {
		t.Fatalf("entries after sweep = %d, want 0", len(m.entries))
	}
}

// TestCopyThenDropOriginal is invariant/law 8: copy(H); drop_original(H);
// use(copy) must still work.
func TestCopyThenDropOriginal(t *testing.T) {
	m := NewLocalManager()
	defer m.Close()

	h1, err := New[string](m, "hello")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	h2, err := h1.Copy()
	if err != nil {
		t.Fatalf("Copy: %v", err)
	}

	if _, err := h1.Drop(); err != nil {
		t.Fatalf("drop original: %v", err)
	}

	v, err := h2.Deref().Get()
	if err != nil || v != "hello" {
		t.Fatalf("copy after original dropped = (%v, %v), want hello", v, err)
	}

	if _, err := h2.Drop(); err != nil {
		t.Fatalf("drop copy: %v", err)
	}
}

// TestArrayBounds is spec.md scenario/law 9: indexing within [0,n) succeeds,
// i==n or i<0 raises out_of_bounds.
func TestArrayBounds(t *testing.T) {
	m := NewLocalManager()
	defer m.Close()

	a, err := NewArray[int](m, 3)
	if err != nil {
		t.Fatalf("NewArray: %v", err)
	}

	for i := 0; i < 3; i++ {
		ref, err := a.At(i)
		if err != nil {
			t.Fatalf("At(%d): %v", i, err)
		}

		if err := ref.Set(i * 10); err != nil {
			t.Fatalf("Set(%d): %v", i, err)
		}
	}

	for i := 0; i < 3; i++ {
		ref, err := a.At(i)
		if err != nil {
			t.Fatalf("At(%d): %v", i, err)
		}

		v, err := ref.Get()
		if err != nil || v != i*10 {
			t.Fatalf("At(%d).Get() = (%v, %v), want %d", i, v, err, i*10)
		}
	}

	if _, err := a.At(3); err == nil {
		t.Fatalf("At(3) on size-3 array: expected out_of_bounds")
	}

	if _, err := a.At(-1); err == nil {
		t.Fatalf("At(-1): expected out_of_bounds")
	}

	if _, err := a.Drop(); err != nil {
		t.Fatalf("drop array: %v", err)
	}
}

func TestArraySliceClamping(t *testing.T) {
	m := NewLocalManager()
	defer m.Close()

	a, err := NewArray[int](m, 5)
	if err != nil {
		t.Fatalf("NewArray: %v", err)
	}
	defer a.Drop()

	s, err := a.Slice(-2, 100)
	if err != nil {
		t.Fatalf("Slice: %v", err)
	}
	defer s.Drop()

	if s.Size() != 5 {
		t.Fatalf("Slice(-2,100).Size() = %d, want 5 (clamped)", s.Size())
	}
}

func TestArrayPointerArithmeticCrossAllocation(t *testing.T) {
	m := NewLocalManager()
	defer m.Close()

	a, err := NewArray[int](m, 4)
	if err != nil {
		t.Fatalf("NewArray a: %v", err)
	}
	defer a.Drop()

	b, err := NewArray[int](m, 4)
	if err != nil {
		t.Fatalf("NewArray b: %v", err)
	}
	defer b.Drop()

	if _, err := a.Sub(b); err == nil {
		t.Fatalf("Sub across distinct allocations: expected out_of_bounds")
	}
}

func TestHandleEqualNullIsAddressOnly(t *testing.T) {
	var a, b Handle[int]

	if !Equal[int, int](a, b) {
		t.Fatalf("two null handles should compare Equal")
	}
}
