package runtime

import (
	"fmt"
	"unsafe"
)

// AllocationHeader is the type-erased metadata placed at the start of every
// managed allocation (spec §3 "Allocation header", §4.1). Unlike the
// source's contiguous header-then-payload byte layout, the payload here is
// an ordinary heap value kept alive by payloadKeepAlive; PayloadBase() exposes an
// unsafe.Pointer to its first element for the probe/evict and fault-region
// code paths that need raw addresses, without resorting to manual memory
// layout tricks Go doesn't need.
type AllocationHeader struct {
	desc *TypeDescriptor

	// payloadKeepAlive roots the payload value so the garbage collector
	// doesn't reclaim it out from under PayloadBase(); it is the canonical owner of
	// the backing storage.
	payloadKeepAlive any
	base             unsafe.Pointer

	// count is the number of constructed elements. Zero until
	// SetInitialized is called exactly once, after every constructor for
	// the allocation has run (spec §4.1 invariant).
	count       int
	initialized bool

	// destroyed guards destroyAll's "at most once" invariant (spec §8
	// invariant 2).
	destroyed bool
}

// newHeader builds a header over an already-allocated payload value/slice.
// base must point at the first element; desc describes the element type.
func newHeader(desc *TypeDescriptor, keepAlive any, base unsafe.Pointer) *AllocationHeader {
	return &AllocationHeader{
		desc:             desc,
		payloadKeepAlive: keepAlive,
		base:             base,
	}
}

// SetInitialized finalizes the payload element count. Must be called
// exactly once, after all element constructors have succeeded (spec §3).
func (h *AllocationHeader) SetInitialized(count int) {
	if h.initialized {
		panic("runtime: SetInitialized called twice on the same allocation")
	}

	h.count = count
	h.initialized = true
}

// TotalSize returns the element size times the initialized count. Callers
// on the remote path (C5) use this to compute the number of pages an
// allocation spans.
func (h *AllocationHeader) TotalSize() uintptr {
	return h.desc.ElemSize * uintptr(h.count)
}

// PayloadBase returns the raw address of element zero.
func (h *AllocationHeader) PayloadBase() unsafe.Pointer {
	return h.base
}

// TypeToken identifies the header's concrete element type.
func (h *AllocationHeader) TypeToken() TypeToken {
	return h.desc.Token
}

// Count returns the finalized element count, or zero if not yet
// initialized.
func (h *AllocationHeader) Count() int {
	return h.count
}

// DestroyAll invokes the type descriptor's destructor once per element, in
// index order. A nil Destroy (trivially destructible type) is a no-op.
// Calling this more than once, or before SetInitialized, panics: both are
// programmer errors the manager must never trigger (spec §4.1 invariant).
func (h *AllocationHeader) DestroyAll() {
	if !h.initialized {
		panic("runtime: DestroyAll called before SetInitialized")
	}

	if h.destroyed {
		panic("runtime: DestroyAll called twice on the same allocation")
	}

	h.destroyed = true

	if h.desc.Destroy == nil {
		return
	}

	for i := 0; i < h.count; i++ {
		elem := unsafe.Pointer(uintptr(h.base) + uintptr(i)*h.desc.ElemSize)
		h.desc.Destroy(elem)
	}
}

// Represent produces the debug snapshot spec §4.1 describes: decimal for
// primitive element types, quoted for strings, "{...}" otherwise. An
// allocation with more than one element is rendered as a bracketed comma
// list; a one-element allocation, including a one-element array, renders
// as the bare element, and an empty or uninitialized one as "[]".
func (h *AllocationHeader) Represent() string {
	if !h.initialized || h.count == 0 {
		return "[]"
	}

	return h.desc.Format(h.base, h.count)
}

// String supports %v / %s formatting in the shutdown diagnostic (spec
// §4.2 "Shutdown diagnostic").
func (h *AllocationHeader) String() string {
	return fmt.Sprintf("%s#%d%s", h.desc.Name, h.desc.Token, h.Represent())
}
