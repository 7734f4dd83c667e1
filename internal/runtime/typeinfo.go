package runtime

import (
	"fmt"
	"reflect"
	"strconv"
	"sync"
	"sync/atomic"
	"unsafe"
)

// TypeToken uniquely identifies a concrete payload type across the process,
// analogous to the source's compile-time type-descriptor trick (spec.md
// §9 "Type-erased payload metadata"). It's handed out monotonically by the
// type registry rather than derived from compile-time information, since Go
// has no template instantiation to piggyback on.
type TypeToken uint64

// TypeDescriptor is the immutable, static, per-concrete-type metadata that
// every AllocationHeader references: element size, a destructor (nil when
// trivially destructible), and a total formatter used for debug snapshots.
type TypeDescriptor struct {
	Token    TypeToken
	Name     string
	ElemSize uintptr
	// Destroy runs the destructor for one element at elem. Nil means the
	// type is trivially destructible and destruction is a no-op.
	Destroy func(elem unsafe.Pointer)
	// Format renders count elements starting at base into a debug string.
	Format func(base unsafe.Pointer, count int) string
}

var (
	registryMu     sync.Mutex
	registry       = map[reflect.Type]*TypeDescriptor{}
	nextTypeToken  uint64
	registryTokens = map[TypeToken]*TypeDescriptor{}
)

// typeDescriptorFor returns (creating if necessary) the descriptor for T.
// Destructors are derived from an optional MMDestroy() method (destructible);
// formatting falls back to the three-tier rule from spec.md §4.1: decimal
// for primitives, quoted for strings, "{...}" otherwise.
func typeDescriptorFor[T any]() *TypeDescriptor {
	var zero T
	rt := reflect.TypeOf(zero)

	registryMu.Lock()
	defer registryMu.Unlock()

	if rt == nil {
		// T is an interface type instantiated with a nil value; key by the
		// static interface type instead so registration is still stable.
		rt = reflect.TypeOf((*T)(nil)).Elem()
	}

	if d, ok := registry[rt]; ok {
		return d
	}

	token := TypeToken(atomic.AddUint64(&nextTypeToken, 1))
	d := &TypeDescriptor{
		Token:    token,
		Name:     rt.String(),
		ElemSize: unsafe.Sizeof(zero),
		Destroy:  destructorFor[T](),
		Format:   formatterFor[T](rt),
	}
	registry[rt] = d
	registryTokens[token] = d

	return d
}

// destructible is implemented by payload types that need explicit cleanup
// before their backing memory is reclaimed (e.g. releasing an owned handle
// held in a field). Types without it get a nil Destroy, matching spec.md's
// "destructor function (null ⇒ trivially destructible — skip)".
type destructible interface {
	MMDestroy()
}

func destructorFor[T any]() func(unsafe.Pointer) {
	var zero T
	if _, ok := any(&zero).(destructible); !ok {
		return nil
	}

	return func(elem unsafe.Pointer) {
		v := (*T)(elem)
		if d, ok := any(v).(destructible); ok {
			d.MMDestroy()
		}
	}
}

func formatterFor[T any](rt reflect.Type) func(unsafe.Pointer, int) string {
	switch rt.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64, reflect.Bool:
		return func(base unsafe.Pointer, count int) string {
			return formatArray(rt, base, count, func(v reflect.Value) string {
				return fmt.Sprintf("%v", v.Interface())
			})
		}
	case reflect.String:
		return func(base unsafe.Pointer, count int) string {
			return formatArray(rt, base, count, func(v reflect.Value) string {
				return strconv.Quote(v.String())
			})
		}
	default:
		return func(base unsafe.Pointer, count int) string {
			return formatArray(rt, base, count, func(reflect.Value) string { return "{...}" })
		}
	}
}

func formatArray(rt reflect.Type, base unsafe.Pointer, count int, one func(reflect.Value) string) string {
	if count == 1 {
		v := reflect.NewAt(rt, base).Elem()
		return one(v)
	}

	sz := rt.Size()
	parts := make([]string, count)

	for i := 0; i < count; i++ {
		elem := unsafe.Pointer(uintptr(base) + uintptr(i)*sz)
		v := reflect.NewAt(rt, elem).Elem()
		parts[i] = one(v)
	}

	out := "["
	for i, p := range parts {
		if i > 0 {
			out += ", "
		}

		out += p
	}

	return out + "]"
}

// TypeNameOf returns the registered name for a token, mainly for the
// shutdown leak diagnostic (spec.md §4.2).
func TypeNameOf(token TypeToken) string {
	registryMu.Lock()
	defer registryMu.Unlock()

	if d, ok := registryTokens[token]; ok {
		return d.Name
	}

	return fmt.Sprintf("type#%d", token)
}
