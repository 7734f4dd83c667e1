package runtime

import "unsafe"

// Handle is the managed smart pointer triple (raw_pointer, id, locality)
// from spec §3/§4.6, component C6. The zero value is the null handle:
// locality Unowned, mgr nil, raw nil — no manager participation.
type Handle[T any] struct {
	raw      unsafe.Pointer
	id       ObjectID
	locality Locality
	mgr      Manager
}

// IsNull reports whether h carries no manager participation (spec §4.6
// "Default and null construction leave locality = unowned").
func (h Handle[T]) IsNull() bool {
	return h.locality == Unowned && h.raw == nil
}

// ID returns the allocation identity h participates in. Only meaningful
// when !h.IsNull().
func (h Handle[T]) ID() ObjectID { return h.id }

// Locality reports where h's allocation lives.
func (h Handle[T]) Locality() Locality { return h.locality }

// Copy lifts h's refcount and returns an independent handle carrying the
// same triple (spec §4.6 "Copy construction and copy assignment lift the
// source's ID").
func (h Handle[T]) Copy() (Handle[T], error) {
	if h.IsNull() {
		return h, nil
	}

	if err := h.mgr.Lift(h.id); err != nil {
		return Handle[T]{}, err
	}

	return h, nil
}

// Move transfers h's triple to a new handle and zeroes h, without lifting
// (spec §4.6 "Move construction and move assignment transfer the triple
// without lifting; the source becomes null/unowned"). Go has no implicit
// move semantics, so callers invoke this explicitly and must discard h
// afterward.
func (h *Handle[T]) Move() Handle[T] {
	moved := *h
	*h = Handle[T]{}

	return moved
}

// Drop releases h's reference, running the manager's Drop transition. A
// null handle drops as a no-op, mirroring "Destruction drops if owned."
func (h *Handle[T]) Drop() (DropResult, error) {
	if h.IsNull() {
		return Lost, nil
	}

	id, mgr := h.id, h.mgr
	*h = Handle[T]{}

	return mgr.Drop(id)
}

// Equal compares two handles' raw addresses across comparable element
// types, matching spec §4.6's "address-only" equality rule (one of T, U
// need not be the other — Go's type system requires the caller to pick a
// common comparison point, typically via unsafe pointer equality on
// interior pointers obtained from clones).
func Equal[T, U any](a Handle[T], b Handle[U]) bool {
	return a.raw == b.raw
}

// CloneWith produces a new handle over the same allocation (h.id,
// h.locality) but pointing at a different interior address — the
// mechanism behind member-into-object, slice, and pointer-arithmetic
// projections (spec §4.6 "Projection clone_with"). The projection lifts
// the refcount, so the result is an independent reference.
func CloneWith[T, U any](h Handle[U], newRaw unsafe.Pointer) (Handle[T], error) {
	if h.IsNull() {
		if newRaw != nil {
			return Handle[T]{}, newErr(NullDereference, "clone_with: null base handle")
		}

		return Handle[T]{}, nil
	}

	if err := h.mgr.Lift(h.id); err != nil {
		return Handle[T]{}, err
	}

	return Handle[T]{raw: newRaw, id: h.id, locality: h.locality, mgr: h.mgr}, nil
}

// probe hints the manager that raw is about to be read (write=false) or
// written (write=true), per spec §4.6 "operator* issues a probe(read)
// before returning a raw reference" / "probe(write)" before assignment.
// For the local manager this is currently a no-op (local memory needs no
// fault-in); the remote manager's probe drives the fault handler.
func (h Handle[T]) probe(write bool) error {
	if h.IsNull() {
		return newErr(NullDereference, "dereference of null handle")
	}

	if p, ok := h.mgr.(interface {
		Probe(id ObjectID, addr unsafe.Pointer, write bool) error
	}); ok {
		return p.Probe(h.id, h.raw, write)
	}

	return nil
}
