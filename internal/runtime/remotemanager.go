package runtime

import (
	"sync"
	"time"
	"unsafe"

	"github.com/orizon-lang/managed-memory/internal/runtime/fault"
	"github.com/orizon-lang/managed-memory/internal/runtime/remote"
)

// regionSize is REGION_SIZE from spec §4.4: 1 << (16 + 3·pointer_width)
// bytes — 1 TiB of reserved virtual address space on a 64-bit build.
const regionSize = uintptr(1) << (16 + 3*unsafe.Sizeof(uintptr(0)))

// sessionTransport adapts a remote.ClientSession to fault.Transport.
type sessionTransport struct {
	sess *remote.ClientSession
}

func (t sessionTransport) FetchPage(pageIndex uint64) ([]byte, error) {
	return t.sess.Read(pageIndex)
}

func (t sessionTransport) WritebackPage(pageIndex uint64, data []byte) error {
	return t.sess.Write(pageIndex, data)
}

// RemoteManager is the client-side remote manager (spec §4.5, component
// C5): it mirrors LocalManager's contract but allocation is paged and
// drop's terminal transition runs destructors and releases each page in
// turn. It owns the trap-region fault handler (C4) that makes remote
// object bytes look like local memory.
type RemoteManager struct {
	mu       sync.Mutex
	sess     *remote.ClientSession
	region   *fault.Region
	pageSize int
	headers  map[ObjectID]*AllocationHeader
}

// NewRemoteManager starts a trap region serviced by sess and returns a
// ready RemoteManager.
func NewRemoteManager(sess *remote.ClientSession, pageSize int) (*RemoteManager, error) {
	region, err := fault.NewRegion(fault.Options{
		PageSize:   pageSize,
		RegionSize: regionSize,
		Transport:  sessionTransport{sess: sess},
	})
	if err != nil {
		return nil, wrapErr(MemoryError, err, "remote manager: trap region setup")
	}

	return &RemoteManager{
		sess:     sess,
		region:   region,
		pageSize: pageSize,
		headers:  make(map[ObjectID]*AllocationHeader),
	}, nil
}

func (m *RemoteManager) Locality() Locality { return Remote }

// SetWritebackTimeout forwards to the owned trap region, letting a caller
// apply a hot-reloaded mmconfig.Tuning value (spec §9's writeback-timeout
// tunable) without reaching into the region directly.
func (m *RemoteManager) SetWritebackTimeout(d time.Duration) {
	m.region.SetWritebackTimeout(d)
}

func ceilDivUintptr(n, d uintptr) uintptr {
	if n == 0 {
		return 0
	}

	return (n-1)/d + 1
}

// allocateBytes requests a paged allocation sized for count elements of
// desc and registers a client-side header for it (spec §4.5 "allocate
// splits the request"). Every part's page is wiped first, matching
// "wipe(id,size) ... skips the initial fetch for a freshly allocated header
// page"; unless src is nil, count*desc.ElemSize bytes are then copied from
// src starting at the first page. A nil src leaves the elements zeroed.
func (m *RemoteManager) allocateBytes(desc *TypeDescriptor, count int, src unsafe.Pointer) (ObjectID, *AllocationHeader, error) {
	totalSize := desc.ElemSize * uintptr(count)
	ps := uintptr(m.pageSize)

	parts := totalSize / ps
	rem := totalSize % ps

	numParts := int(parts)
	if rem > 0 {
		numParts++
	}

	if numParts == 0 {
		numParts = 1
	}

	// The first part's server-side refcount starts at 2 (spec §4.5 "the
	// first part starts with server-side count = 2 — initial lift is
	// implicit"): one for the base allocation, one representing this
	// client's own reference.
	firstID, err := m.sess.Alloc(desc.Name, 2, m.pageSize, int(parts), int(rem))
	if err != nil {
		return 0, nil, wrapErr(NetworkFailure, err, "alloc %s x%d", desc.Name, count)
	}

	id := ObjectID(firstID)

	for i := 0; i < numParts; i++ {
		if _, err := m.region.Wipe(uint64(id)+uint64(i), ps); err != nil {
			return 0, nil, wrapErr(MemoryError, err, "wipe part %d", i)
		}
	}

	basePtr, err := m.region.BeginWrite(uint64(id))
	if err != nil {
		return 0, nil, wrapErr(MemoryError, err, "fault in header page for %d", id)
	}

	if src != nil {
		dst := (*[1 << 30]byte)(basePtr)[:totalSize:totalSize]
		srcBytes := (*[1 << 30]byte)(src)[:totalSize:totalSize]
		copy(dst, srcBytes)
	}

	if err := m.region.Evict(uint64(id)); err != nil {
		return 0, nil, wrapErr(MemoryError, err, "evict header page for %d", id)
	}

	header := newHeader(desc, nil, basePtr)
	header.SetInitialized(count)

	m.mu.Lock()
	m.headers[id] = header
	m.mu.Unlock()

	return id, header, nil
}

// Lift forwards to the server.
func (m *RemoteManager) Lift(id ObjectID) error {
	if err := m.sess.Lift(uint64(id)); err != nil {
		return wrapErr(NetworkFailure, err, "lift %d", id)
	}

	return nil
}

// Drop forwards to the server; a hanging reply triggers the client-driven
// terminal destruction sequence (spec §4.5 "drop(id)").
func (m *RemoteManager) Drop(id ObjectID) (DropResult, error) {
	res, err := m.sess.Drop(uint64(id))
	if err != nil {
		return Reduced, wrapErr(NetworkFailure, err, "drop %d", id)
	}

	switch res {
	case "reduced":
		return Reduced, nil
	case "lost":
		m.mu.Lock()
		delete(m.headers, id)
		m.mu.Unlock()

		return Lost, nil
	case "hanging":
		return m.terminalDrop(id)
	default:
		return Reduced, newErr(UnknownError, "drop %d: unexpected server reply %q", id, res)
	}
}

// terminalDrop implements spec §4.5's four numbered steps: fault in the
// header for writing, compute the part count from total_size, run
// destructors, then evict and drop each part in order.
func (m *RemoteManager) terminalDrop(id ObjectID) (DropResult, error) {
	m.mu.Lock()
	header := m.headers[id]
	m.mu.Unlock()

	if header == nil {
		return Hanging, newErr(UnknownError, "terminal drop: no local header for %d", id)
	}

	if _, err := m.region.BeginWrite(uint64(id)); err != nil {
		return Hanging, wrapErr(MemoryError, err, "probe header %d for terminal drop", id)
	}

	parts := ceilDivUintptr(header.TotalSize(), uintptr(m.pageSize))
	if parts == 0 {
		parts = 1
	}

	header.DestroyAll()

	for i := uintptr(0); i < parts; i++ {
		partID := id + ObjectID(i)

		if err := m.region.Evict(uint64(partID)); err != nil {
			return Hanging, wrapErr(MemoryError, err, "evict part %d", partID)
		}

		res, err := m.sess.Drop(uint64(partID))
		if err != nil {
			return Hanging, wrapErr(NetworkFailure, err, "drop part %d", partID)
		}

		if res != "lost" {
			return Hanging, newErr(NetworkFailure, "terminal drop: part %d expected lost, got %q", partID, res)
		}
	}

	m.mu.Lock()
	delete(m.headers, id)
	m.mu.Unlock()

	return Lost, nil
}

// GetBase returns id's client-side header, computed entirely from the
// alloc-time record — no RPC (spec §4.5 "get_base_of(id) ... no RPC; all
// materialization happens on fault").
func (m *RemoteManager) GetBase(id ObjectID) (*AllocationHeader, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, ok := m.headers[id]
	if !ok {
		return nil, newErr(UnknownError, "get_base: unknown remote id %d", id)
	}

	return h, nil
}

// Evict flushes any dirty writeback for id's page.
func (m *RemoteManager) Evict(id ObjectID) error {
	if err := m.region.Evict(uint64(id)); err != nil {
		return wrapErr(MemoryError, err, "evict %d", id)
	}

	return nil
}

// Probe implements the interface Handle.probe type-asserts for, driving
// the fault handler on behalf of a dereference (spec §4.6 "probe(read)" /
// "probe(write)"). addr is accepted to match the probe signature shared
// with the local manager but is not needed to pick the page: id already
// is the page index for single-page allocations (spec §3 "remote
// allocation IDs == virtual page indices"). A handle projected past the
// first page of a multi-page array allocation would need the containing
// part's ID, not addr's raw offset; array handles that span more than one
// page are out of scope for this port's probe path.
func (m *RemoteManager) Probe(id ObjectID, addr unsafe.Pointer, write bool) error {
	_ = addr

	var err error

	if write {
		_, err = m.region.BeginWrite(uint64(id))
	} else {
		_, err = m.region.BeginRead(uint64(id))
	}

	if err != nil {
		return wrapErr(MemoryError, err, "probe %d write=%v", id, write)
	}

	return nil
}

// Close ends the wire session and tears down the trap region, reporting
// any leaked IDs the server names in its bye reply.
func (m *RemoteManager) Close() ([]uint64, error) {
	leaked, err := m.sess.Bye()

	if cerr := m.region.Close(); cerr != nil && err == nil {
		err = cerr
	}

	return leaked, err
}
