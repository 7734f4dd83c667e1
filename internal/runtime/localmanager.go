package runtime

import (
	"sync"
	"sync/atomic"
)

// refEntry is the local manager's "ID → (count, header_address)" table row
// (spec §3 "Refcount entry").
type refEntry struct {
	count  int64
	header *AllocationHeader
}

// LocalManager is the local refcount table, ID issuer, and background
// reaper (spec §4.2, component C2). The zero value is not usable; build
// one with NewLocalManager.
type LocalManager struct {
	mu      sync.Mutex
	entries map[ObjectID]*refEntry
	nextID  ObjectID

	wake chan struct{}
	done chan struct{}

	// reaperPeriodNS holds the reaper's current wake interval as
	// nanoseconds, 0 meaning "use defaultReaperPeriod". Accessed via
	// atomic so SetReaperPeriod can be called concurrently with reap's
	// timer loop (spec §9 "the local reaper period ... should expose it
	// as a tunable").
	reaperPeriodNS int64

	stopOnce sync.Once
}

// NewLocalManager starts the manager and its background reaper goroutine.
// Callers should defer Close() to stop the reaper and dump the shutdown
// leak diagnostic.
func NewLocalManager() *LocalManager {
	m := &LocalManager{
		entries: make(map[ObjectID]*refEntry),
		nextID:  1,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}

	go m.reap()

	return m
}

func (m *LocalManager) Locality() Locality { return Local }

// Allocate places header under a freshly issued ID with an initial refcount
// of 1 and returns the ID. Allocation never fails on the local path; the
// error return exists to satisfy the broader allocation API shape shared
// with the remote manager, whose allocation path (allocateBytes) can fail
// on RPC.
func (m *LocalManager) Allocate(header *AllocationHeader) (ObjectID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.issueLocked()
	m.entries[id] = &refEntry{count: 1, header: header}

	return id, nil
}

// issueLocked returns the first unassigned ID ≥ nextID, advancing nextID
// past it (spec §4.2 "ID issuance"). Must be called with mu held.
func (m *LocalManager) issueLocked() ObjectID {
	id := m.nextID

	for {
		if _, taken := m.entries[id]; !taken {
			break
		}

		id++
	}

	m.nextID = id + 1

	return id
}

// ReserveContiguous scans forward from nextID for the first run of n
// consecutively unassigned IDs and advances nextID to the start of that
// run, so that — absent intervening allocations — the next n Allocate
// calls return IDs [start, start+n) in order (spec §4.2 "Reserve
// contiguous", §8 scenario S6).
func (m *LocalManager) ReserveContiguous(n int) ObjectID {
	if n <= 0 {
		panic("runtime: ReserveContiguous requires n > 0")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	candidate := m.nextID

	for {
		run := true

		for i := 0; i < n; i++ {
			if _, taken := m.entries[candidate+ObjectID(i)]; taken {
				run = false
				candidate = candidate + ObjectID(i) + 1

				break
			}
		}

		if run {
			break
		}
	}

	m.nextID = candidate

	return candidate
}

// Lift increments id's refcount. Unknown IDs fail fast with UnknownError,
// matching spec §4.2's "abort in debug builds, saturate in release" —
// this port always reports the error rather than silently saturating.
func (m *LocalManager) Lift(id ObjectID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[id]
	if !ok {
		return newErr(UnknownError, "lift: unknown id %d", id)
	}

	e.count++

	return nil
}

// Drop decrements id's refcount and reports the transition (spec §4.2
// "Drop"): reduced when the post-decrement count is > 1, hanging when it
// is exactly 1, lost when it reaches 0. Drop itself never removes the
// entry or runs a destructor — that's the Reaper's job, on its next timer
// tick or explicit wake (spec §4.2 "Reaper", §8 scenario S3: "after one
// reaper period, no live entries remain"). Drop only requests destruction
// by waking the reaper; it stays a cheap, non-blocking call.
func (m *LocalManager) Drop(id ObjectID) (DropResult, error) {
	m.mu.Lock()

	e, ok := m.entries[id]
	if !ok {
		m.mu.Unlock()
		return Reduced, newErr(UnknownError, "drop: unknown id %d", id)
	}

	e.count--
	count := e.count

	m.mu.Unlock()

	switch {
	case count > 1:
		return Reduced, nil
	case count == 1:
		return Hanging, nil
	default:
		m.Wake()
		return Lost, nil
	}
}

// GetBase returns the header for id.
func (m *LocalManager) GetBase(id ObjectID) (*AllocationHeader, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[id]
	if !ok {
		return nil, newErr(UnknownError, "get_base: unknown id %d", id)
	}

	return e.header, nil
}

// Evict is a no-op for the local manager beyond emitting the debug
// snapshot spec §4.2 calls for ("evict(id) (no-op locally, but emits a
// debug snapshot)").
func (m *LocalManager) Evict(id ObjectID) error {
	m.mu.Lock()
	e, ok := m.entries[id]
	m.mu.Unlock()

	if !ok {
		return newErr(UnknownError, "evict: unknown id %d", id)
	}

	emitDebugSnapshot(id, e.header)

	return nil
}
