package runtime

import (
	"testing"
	"time"
)

func newByteHeader(t *testing.T, n int) *AllocationHeader {
	t.Helper()

	h := NewBytesHeader(BytesTypeDescriptor(), n)

	return h
}

// newLocalManagerNoReaper builds a LocalManager whose background reaper is
// not started: Drop's Wake() only fills the buffered wake channel, so a
// zero-count entry stays in the table until the test calls sweep() itself.
func newLocalManagerNoReaper() *LocalManager {
	return &LocalManager{
		entries: make(map[ObjectID]*refEntry),
		nextID:  1,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

func TestLocalManagerDropTransitions(t *testing.T) {
	m := newLocalManagerNoReaper()
	defer m.Close()

	id, err := m.Allocate(newByteHeader(t, 1))
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}

	// Count 1 -> 3, so the three drops below land on 2, 1 and 0.
	for i := 0; i < 2; i++ {
		if err := m.Lift(id); err != nil {
			t.Fatalf("lift: %v", err)
		}
	}

	res, err := m.Drop(id)
	if err != nil || res != Reduced {
		t.Fatalf("first drop: got (%v, %v), want Reduced", res, err)
	}

	res, err = m.Drop(id)
	if err != nil || res != Hanging {
		t.Fatalf("second drop: got (%v, %v), want Hanging", res, err)
	}

	res, err = m.Drop(id)
	if err != nil || res != Lost {
		t.Fatalf("third drop: got (%v, %v), want Lost", res, err)
	}

	// Drop only transitions the refcount; the zero-count entry stays in the
	// table until the reaper actually sweeps it (spec §4.2 "Reaper", §8
	// scenario S3 "after one reaper period, no live entries remain").
	if _, err := m.GetBase(id); err != nil {
		t.Fatalf("GetBase immediately after Lost: %v, want the entry still present", err)
	}

	m.sweep()

	if _, err := m.GetBase(id); err == nil {
		t.Fatalf("expected unknown-id error after the reaper has swept")
	}
}

// TestLocalManagerReaperWakesAsynchronously exercises the actual
// background goroutine, not a direct sweep() call: Drop's implicit Wake()
// should cause the reaper to pick up and remove the zero-count entry on
// its own, without the test ever invoking sweep() or the timer tick
// directly (spec §4.2 "Reaper ... on a 5-second timer or an explicit
// wake").
func TestLocalManagerReaperWakesAsynchronously(t *testing.T) {
	m := NewLocalManager()
	defer m.Close()

	id, err := m.Allocate(newByteHeader(t, 1))
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}

	if res, err := m.Drop(id); err != nil || res != Lost {
		t.Fatalf("drop: got (%v, %v), want Lost", res, err)
	}

	deadline := time.After(2 * time.Second)
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.mu.Lock()
			_, present := m.entries[id]
			m.mu.Unlock()

			if !present {
				return
			}
		case <-deadline:
			t.Fatalf("reaper never removed entry %d via background Wake()", id)
		}
	}
}

func TestLocalManagerDropUnknownID(t *testing.T) {
	m := NewLocalManager()
	defer m.Close()

	if _, err := m.Drop(ObjectID(999)); err == nil {
		t.Fatalf("expected error dropping unknown id")
	}
}

// TestReserveContiguous is spec.md scenario S6: reserve_contiguous(3) when
// the tentative next ID is 7 and {8} is in use must land on [9, 11] and
// leave next_id = 9 before those three allocations.
func TestReserveContiguous(t *testing.T) {
	m := NewLocalManager()
	defer m.Close()

	// Drive nextID to 7, then take 8 so the run at 7 is broken.
	for i := 0; i < 6; i++ {
		if _, err := m.Allocate(newByteHeader(t, 0)); err != nil {
			t.Fatalf("seed allocate %d: %v", i, err)
		}
	}

	if m.nextID != 7 {
		t.Fatalf("nextID before reservation = %d, want 7", m.nextID)
	}

	// Occupy 8 directly so the first candidate run [7,8,9) is broken.
	m.mu.Lock()
	m.entries[8] = &refEntry{count: 1, header: newByteHeader(t, 0)}
	m.mu.Unlock()

	first := m.ReserveContiguous(3)
	if first != 9 {
		t.Fatalf("ReserveContiguous(3) = %d, want 9", first)
	}

	for i, want := range []ObjectID{9, 10, 11} {
		id, err := m.Allocate(newByteHeader(t, 0))
		if err != nil {
			t.Fatalf("post-reserve allocate %d: %v", i, err)
		}

		if id != want {
			t.Fatalf("post-reserve allocate %d = %d, want %d", i, id, want)
		}
	}
}

// TestLocalManagerSetReaperPeriodReapsPromptly sets a shortened period live
// on a running manager and checks that a Lost entry is still collected
// within one second. Drop's own Wake() triggers that sweep, so the test
// does not isolate the shortened timer from the wake path.
func TestLocalManagerSetReaperPeriodReapsPromptly(t *testing.T) {
	m := NewLocalManager()
	defer m.Close()

	m.SetReaperPeriod(10 * time.Millisecond)

	id, err := m.Allocate(newByteHeader(t, 1))
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}

	if res, err := m.Drop(id); err != nil || res != Lost {
		t.Fatalf("drop: got (%v, %v), want Lost", res, err)
	}

	deadline := time.After(1 * time.Second)
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.mu.Lock()
			_, present := m.entries[id]
			m.mu.Unlock()

			if !present {
				return
			}
		case <-deadline:
			t.Fatalf("reaper never removed entry %d within the shortened period", id)
		}
	}
}

func TestLocalManagerEvictUnknown(t *testing.T) {
	m := NewLocalManager()
	defer m.Close()

	if err := m.Evict(ObjectID(42)); err == nil {
		t.Fatalf("expected error evicting unknown id")
	}
}
