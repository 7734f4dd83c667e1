package runtime

// Invocable is the type-erased interface a FuncHandle's carrier exposes —
// the Go analogue of the source's two-field vtable carrier (spec §4.6
// "Function-handle specifics": "one virtual call site → invoke(args…)").
type Invocable interface {
	Invoke(args ...any) (any, error)
}

// FuncHandle wraps a Handle to an Invocable carrier object.
type FuncHandle struct {
	Handle[Invocable]
}

// NewFunc erases fn into a carrier and allocates it, returning a
// FuncHandle (spec §4.6 "New(invocable) erases the invocable via a small
// two-field carrier").
func NewFunc(mgr Manager, fn Invocable) (FuncHandle, error) {
	h, err := New[Invocable](mgr, fn)
	if err != nil {
		return FuncHandle{}, err
	}

	return FuncHandle{Handle: h}, nil
}

// Call probes the allocation, then dispatches to the carried invocable
// (spec §4.6 "Calling the handle probes the allocation, then dispatches").
func (f FuncHandle) Call(args ...any) (any, error) {
	if f.IsNull() {
		return nil, newErr(NullDereference, "call through null function handle")
	}

	ref := f.Deref()

	fn, err := ref.Get()
	if err != nil {
		return nil, err
	}

	return fn.Invoke(args...)
}
