package runtime

import "unsafe"

// BytesTypeDescriptor returns the shared type descriptor the server uses
// for its "issue that many local byte-array allocations" allocations
// (spec §4.8): a trivially destructible byte element.
func BytesTypeDescriptor() *TypeDescriptor {
	return typeDescriptorFor[byte]()
}

// NewBytesHeader builds and finalizes a size-byte allocation header for
// the server-side object table.
func NewBytesHeader(desc *TypeDescriptor, size int) *AllocationHeader {
	backing := make([]byte, size)

	var base unsafe.Pointer
	if size > 0 {
		base = unsafe.Pointer(&backing[0])
	}

	h := newHeader(desc, backing, base)
	h.SetInitialized(size)

	return h
}

// ReadBytes copies out header's payload bytes.
func ReadBytes(h *AllocationHeader) []byte {
	n := h.Count()
	if n == 0 {
		return nil
	}

	src := (*[1 << 30]byte)(h.PayloadBase())[:n:n]
	out := make([]byte, n)
	copy(out, src)

	return out
}

// WriteBytes overwrites header's payload with data, which must be exactly
// h.Count() bytes long.
func WriteBytes(h *AllocationHeader, data []byte) {
	n := h.Count()
	if n == 0 {
		return
	}

	dst := (*[1 << 30]byte)(h.PayloadBase())[:n:n]
	copy(dst, data)
}
