package runtime

import "unsafe"

// New constructs a single-object allocation holding value, finalizes the
// initialized count to 1, then issues an Evict so the debug snapshot is
// emitted (spec §4.6 "New(args…) ... issues an evict on the allocation").
// Go has no in-place variadic constructor, so New takes an already-built
// value rather than a constructor argument list; this is the one place
// this port diverges from the source's placement-new idiom, documented in
// DESIGN.md.
func New[T any](mgr Manager, value T) (Handle[T], error) {
	desc := typeDescriptorFor[T]()

	switch m := mgr.(type) {
	case *LocalManager:
		boxed := new(T)
		*boxed = value

		header := newHeader(desc, boxed, unsafe.Pointer(boxed))

		id, err := m.Allocate(header)
		if err != nil {
			return Handle[T]{}, err
		}

		header.SetInitialized(1)

		if err := m.Evict(id); err != nil {
			return Handle[T]{}, err
		}

		return Handle[T]{raw: unsafe.Pointer(boxed), id: id, locality: Local, mgr: m}, nil
	case *RemoteManager:
		boxed := new(T)
		*boxed = value

		id, header, err := m.allocateBytes(desc, 1, unsafe.Pointer(boxed))
		if err != nil {
			return Handle[T]{}, err
		}

		return Handle[T]{raw: header.PayloadBase(), id: id, locality: Remote, mgr: m}, nil
	default:
		return Handle[T]{}, newErr(UnknownError, "New: unsupported manager %T", mgr)
	}
}

// Ref is the dereference proxy returned by Handle.Deref (spec §4.6
// "operator* returns a proxy"). Reading probes for read before exposing
// the value; Set probes for write, assigns, then evicts so remote writes
// become durable (spec §5 "Writes through the dereference proxy are made
// durable at server no later than the matching evict call").
type Ref[T any] struct {
	h *Handle[T]
}

// Deref returns h's dereference proxy.
func (h *Handle[T]) Deref() Ref[T] {
	return Ref[T]{h: h}
}

// Get probes for read and returns the current value.
func (r Ref[T]) Get() (T, error) {
	var zero T

	if err := r.h.probe(false); err != nil {
		return zero, err
	}

	return *(*T)(r.h.raw), nil
}

// Set probes for write, assigns v, then evicts.
func (r Ref[T]) Set(v T) error {
	if err := r.h.probe(true); err != nil {
		return err
	}

	*(*T)(r.h.raw) = v

	return r.h.mgr.Evict(r.h.id)
}

// FieldHandle projects a handle to one field of h's pointee, computed via
// fieldOffset bytes from h's raw address (spec §4.6 "Member-pointer
// projection builds a handle to the addressed field using clone_with").
// A null base yields NullDereference.
func FieldHandle[T, F any](h Handle[T], fieldOffset uintptr) (Handle[F], error) {
	if h.IsNull() {
		return Handle[F]{}, newErr(NullDereference, "field projection of null handle")
	}

	return CloneWith[F](h, unsafe.Pointer(uintptr(h.raw)+fieldOffset))
}
