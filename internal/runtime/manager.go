package runtime

// ObjectID is a dense, manager-scoped allocation identifier (spec §3
// "Refcount entry").
type ObjectID uint64

// Locality says where an allocation physically lives (spec glossary).
type Locality int

const (
	// Unowned marks a null or raw-address-adapted handle with no manager
	// participation.
	Unowned Locality = iota
	Local
	Remote
)

func (l Locality) String() string {
	switch l {
	case Local:
		return "local"
	case Remote:
		return "remote"
	default:
		return "unowned"
	}
}

// DropResult reports the refcount transition a Drop caused (spec §4.2).
type DropResult int

const (
	// Reduced means the count is still > 1 after the decrement.
	Reduced DropResult = iota
	// Hanging means the count is exactly 1 after the decrement — the last
	// cleanup step (terminal destruction) is the caller's responsibility.
	Hanging
	// Lost means the count reached 0 after the decrement. The local manager
	// keeps the zero-count entry until its reaper's next sweep removes it;
	// the remote manager forgets its client-side header.
	Lost
)

func (r DropResult) String() string {
	switch r {
	case Hanging:
		return "hanging"
	case Lost:
		return "lost"
	default:
		return "reduced"
	}
}

// Manager is the shared contract between the local manager (C2) and the
// remote manager (C5): refcount lifecycle plus the probe/evict hints the
// handle layer issues around raw access (spec §4.2, §4.5, §4.6).
type Manager interface {
	// Lift increments id's refcount. Fails fast (returns an error) if id is
	// not known to this manager: UnknownError locally, NetworkFailure when
	// the server rejects it.
	Lift(id ObjectID) error

	// Drop decrements id's refcount and reports the resulting transition.
	Drop(id ObjectID) (DropResult, error)

	// GetBase returns the header of id's allocation. For the local
	// manager this never blocks; for the remote manager it is the trap
	// region computation and also never blocks — materialization happens
	// lazily on fault (spec §4.5 "get_base_of").
	GetBase(id ObjectID) (*AllocationHeader, error)

	// Evict hints that recent writes to id should now be made durable. A
	// no-op for the local manager; flushes write-back for the remote one.
	Evict(id ObjectID) error

	// Locality reports which concrete manager kind this is, so handles can
	// record it alongside the ID.
	Locality() Locality
}
