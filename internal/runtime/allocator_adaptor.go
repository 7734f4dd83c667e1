package runtime

// ContainerAllocator adapts the handle model to the shape a generic
// container expects from an allocator (spec §4.7, component C7):
// Allocate requests an n-element array from the default manager;
// Deallocate is a no-op because lifetime is refcount-driven; all adaptor
// instances compare Equal, whatever their Mgr, because allocation identity
// is global.
type ContainerAllocator[T any] struct {
	Mgr Manager
}

// Allocate requests an n-element array allocation and returns a handle
// supporting pointer-like iterator semantics via ArrayHandle's Add/Sub/At.
func (a ContainerAllocator[T]) Allocate(n int) (ArrayHandle[T], error) {
	return NewArray[T](a.Mgr, n)
}

// Deallocate is a no-op: the allocation is released when the last handle
// referencing it drops, not when the container releases its iterator
// (spec §4.7 "deallocate is a no-op — lifetime is refcount-driven").
func (a ContainerAllocator[T]) Deallocate(ArrayHandle[T], int) {}

// Equal reports whether two adaptors are interchangeable. They always are:
// allocation identity is global to the manager, not to the adaptor value
// (spec §4.7 "All adaptor instances compare equal").
func (a ContainerAllocator[T]) Equal(ContainerAllocator[T]) bool { return true }
