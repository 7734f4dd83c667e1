package runtime

import "unsafe"

// ArrayHandle is the array-handle variant (spec §3 "Array handle", §4.6
// "Array-handle specifics"): a Handle plus the visible slice length, which
// may be ≤ the allocation's constructed element count.
type ArrayHandle[T any] struct {
	Handle[T]
	size int
}

// NewArray allocates an n-element array, finalizes the initialized count
// to n, and returns a full-length array handle.
func NewArray[T any](mgr Manager, n int) (ArrayHandle[T], error) {
	if n < 0 {
		return ArrayHandle[T]{}, newErr(OutOfBounds, "NewArray: negative count %d", n)
	}

	desc := typeDescriptorFor[T]()

	switch m := mgr.(type) {
	case *LocalManager:
		backing := make([]T, n)

		var base unsafe.Pointer
		if n > 0 {
			base = unsafe.Pointer(&backing[0])
		}

		header := newHeader(desc, backing, base)

		id, err := m.Allocate(header)
		if err != nil {
			return ArrayHandle[T]{}, err
		}

		header.SetInitialized(n)

		if err := m.Evict(id); err != nil {
			return ArrayHandle[T]{}, err
		}

		h := Handle[T]{raw: base, id: id, locality: Local, mgr: m}

		return ArrayHandle[T]{Handle: h, size: n}, nil
	case *RemoteManager:
		id, header, err := m.allocateBytes(desc, n, nil)
		if err != nil {
			return ArrayHandle[T]{}, err
		}

		h := Handle[T]{raw: header.PayloadBase(), id: id, locality: Remote, mgr: m}

		return ArrayHandle[T]{Handle: h, size: n}, nil
	default:
		return ArrayHandle[T]{}, newErr(UnknownError, "NewArray: unsupported manager %T", mgr)
	}
}

// Size returns the visible slice length.
func (a ArrayHandle[T]) Size() int { return a.size }

// At returns a dereference proxy for element i, bounds-checked against
// Size (spec §4.6 "Indexing is bounds-checked against size; out-of-bounds
// raises out_of_bounds").
func (a *ArrayHandle[T]) At(i int) (Ref[T], error) {
	if a.IsNull() {
		return Ref[T]{}, newErr(NullDereference, "index of null array handle")
	}

	if i < 0 || i >= a.size {
		return Ref[T]{}, newErr(OutOfBounds, "index %d out of range [0,%d)", i, a.size)
	}

	var zero T

	elemH := Handle[T]{
		raw:      unsafe.Pointer(uintptr(a.raw) + uintptr(i)*unsafe.Sizeof(zero)),
		id:       a.id,
		locality: a.locality,
		mgr:      a.mgr,
	}

	return elemH.Deref(), nil
}

// Slice clamps start and length to the current range and lifts the
// allocation, returning an independent array handle over the narrowed
// view (spec §4.6 "Slicing clamps start and size to the current range;
// lifts the allocation").
func (a ArrayHandle[T]) Slice(start, length int) (ArrayHandle[T], error) {
	if a.IsNull() {
		return ArrayHandle[T]{}, newErr(NullDereference, "slice of null array handle")
	}

	if start < 0 {
		start = 0
	}

	if start > a.size {
		start = a.size
	}

	if length < 0 {
		length = 0
	}

	if start+length > a.size {
		length = a.size - start
	}

	var zero T

	newRaw := unsafe.Pointer(uintptr(a.raw) + uintptr(start)*unsafe.Sizeof(zero))

	h, err := CloneWith[T](a.Handle, newRaw)
	if err != nil {
		return ArrayHandle[T]{}, err
	}

	return ArrayHandle[T]{Handle: h, size: length}, nil
}

// Add returns a new array handle over the same allocation id, offset by n
// elements, with its size reduced by n; n is not bounds-checked. A null
// handle raises null_dereference. The same-id check for arithmetic between
// two array handles lives in Sub.
func (a ArrayHandle[T]) Add(n int) (ArrayHandle[T], error) {
	if a.IsNull() {
		return ArrayHandle[T]{}, newErr(NullDereference, "pointer arithmetic on null array handle")
	}

	var zero T

	newRaw := unsafe.Pointer(uintptr(a.raw) + uintptr(n)*unsafe.Sizeof(zero))

	h, err := CloneWith[T](a.Handle, newRaw)
	if err != nil {
		return ArrayHandle[T]{}, err
	}

	return ArrayHandle[T]{Handle: h, size: a.size - n}, nil
}

// Sub computes the element distance between a and b. Both must be
// non-null and share the same allocation id.
func (a ArrayHandle[T]) Sub(b ArrayHandle[T]) (int, error) {
	if a.IsNull() || b.IsNull() {
		return 0, newErr(NullDereference, "pointer arithmetic on null array handle")
	}

	if a.id != b.id {
		return 0, newErr(OutOfBounds, "pointer arithmetic across allocations %d and %d", a.id, b.id)
	}

	var zero T

	return int((uintptr(a.raw) - uintptr(b.raw)) / unsafe.Sizeof(zero)), nil
}
