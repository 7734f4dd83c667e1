package runtime

import (
	"strings"
	"testing"
	"unsafe"
)

func TestAllocationHeaderRepresent(t *testing.T) {
	desc := typeDescriptorFor[int]()
	backing := []int{1, 2, 3}
	h := newHeader(desc, backing, unsafe.Pointer(&backing[0]))
	h.SetInitialized(3)

	got := h.Represent()
	if got != "[1, 2, 3]" {
		t.Fatalf("Represent() = %q, want [1, 2, 3]", got)
	}
}

func TestAllocationHeaderStringRepresent(t *testing.T) {
	desc := typeDescriptorFor[string]()
	backing := []string{"hi"}
	h := newHeader(desc, backing, unsafe.Pointer(&backing[0]))
	h.SetInitialized(1)

	got := h.Represent()
	if !strings.Contains(got, `"hi"`) {
		t.Fatalf("Represent() = %q, want a quoted string", got)
	}
}

func TestDestroyAllOnlyOnce(t *testing.T) {
	h := newByteHeader(t, 4)
	h.DestroyAll()

	defer func() {
		if r := recover(); r == nil {
			t.Fatalf("expected panic calling DestroyAll twice")
		}
	}()

	h.DestroyAll()
}

func TestDestroyAllBeforeInitializedPanics(t *testing.T) {
	h := newHeader(BytesTypeDescriptor(), nil, nil)

	defer func() {
		if r := recover(); r == nil {
			t.Fatalf("expected panic calling DestroyAll before SetInitialized")
		}
	}()

	h.DestroyAll()
}

func TestSetInitializedTwicePanics(t *testing.T) {
	h := newByteHeader(t, 1)

	defer func() {
		if r := recover(); r == nil {
			t.Fatalf("expected panic calling SetInitialized twice")
		}
	}()

	h.SetInitialized(1)
}
