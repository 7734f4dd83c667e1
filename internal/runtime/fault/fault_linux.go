//go:build linux

package fault

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Region is the Linux trap-region implementation: a memfd-backed,
// MAP_SHARED|MAP_NORESERVE anonymous mapping, PROT_NONE everywhere except
// the single active page (spec §4.4). All transactions are serialized
// through a single goroutine reading reqCh, the idiomatic replacement for
// the source's condvar-driven signal-handler hand-off (spec §5, §9).
type Region struct {
	opts Options
	fd   int
	mem  []byte
	base uintptr

	reqCh chan *transaction
	done  chan struct{}

	// writebackTimeoutNS holds the live quiescence duration as
	// nanoseconds, accessed via atomic since SetWritebackTimeout can be
	// called concurrently with the serve goroutine's timer loop (spec §9
	// "writeback-timeout duration ... should expose it as a tunable").
	writebackTimeoutNS int64

	// state below is only ever touched by the service goroutine.
	activePage    int64
	activeWritten bool
	writebackDue  bool

	mu sync.Mutex // guards Close/idempotent teardown only
	closed bool
}

// NewRegion reserves a trap region of opts.RegionSize bytes and starts its
// servicing goroutine.
func NewRegion(opts Options) (*Region, error) {
	opts = opts.withDefaults()

	if opts.PageSize <= 0 {
		opts.PageSize = unix.Getpagesize()
	}

	fd, err := unix.MemfdCreate("mm-trap-region", 0)
	if err != nil {
		return nil, fmt.Errorf("fault: memfd_create: %w", err)
	}

	if err := unix.Ftruncate(fd, int64(opts.RegionSize)); err != nil {
		unix.Close(fd)

		return nil, fmt.Errorf("fault: ftruncate: %w", err)
	}

	mem, err := unix.Mmap(fd, 0, int(opts.RegionSize), unix.PROT_NONE,
		unix.MAP_SHARED|unix.MAP_NORESERVE)
	if err != nil {
		unix.Close(fd)

		return nil, fmt.Errorf("fault: mmap: %w", err)
	}

	r := &Region{
		opts:               opts,
		fd:                 fd,
		mem:                mem,
		base:               uintptr(unsafe.Pointer(&mem[0])),
		reqCh:              make(chan *transaction),
		done:               make(chan struct{}),
		activePage:         -1,
		writebackTimeoutNS: int64(opts.WritebackTimeout),
	}

	go r.serve()

	return r, nil
}

// currentWritebackTimeout returns the live quiescence duration.
func (r *Region) currentWritebackTimeout() time.Duration {
	return time.Duration(atomic.LoadInt64(&r.writebackTimeoutNS))
}

// SetWritebackTimeout changes the quiescence duration after which a dirty
// page is flushed without an explicit Evict; it takes effect the next time
// the servicing goroutine arms its timer (spec §9).
func (r *Region) SetWritebackTimeout(d time.Duration) {
	if d <= 0 {
		return
	}

	atomic.StoreInt64(&r.writebackTimeoutNS, int64(d))
}

// Base returns the trap region's base virtual address (spec §4.5
// "get_base_of(id) returns trap_base + id · page_size").
func (r *Region) Base() uintptr { return r.base }

// PageSize returns the configured page size.
func (r *Region) PageSize() int { return r.opts.PageSize }

func (r *Region) pageAddr(pageIndex uint64) uintptr {
	return r.base + uintptr(pageIndex)*uintptr(r.opts.PageSize)
}

// submit sends a transaction and blocks for its reply.
func (r *Region) submit(op Op, pageIndex uint64, length uintptr) (Result, error) {
	t := &transaction{op: op, addr: r.pageAddr(pageIndex), length: length, reply: make(chan transactionReply, 1)}

	select {
	case r.reqCh <- t:
	case <-r.done:
		return Uncaught, fmt.Errorf("fault: region closed")
	}

	rep := <-t.reply

	return rep.result, rep.err
}

// BeginRead faults page pageIndex in for reading (spec §4.4 "begin_read")
// and returns a pointer to its first byte, backed by the real mmap'd
// trap-region memory.
func (r *Region) BeginRead(pageIndex uint64) (unsafe.Pointer, error) {
	res, err := r.submit(BeginRead, pageIndex, 0)
	if res != Success {
		return nil, err
	}

	return r.pagePointer(pageIndex), nil
}

// BeginWrite faults page pageIndex in for writing.
func (r *Region) BeginWrite(pageIndex uint64) (unsafe.Pointer, error) {
	res, err := r.submit(BeginWrite, pageIndex, 0)
	if res != Success {
		return nil, err
	}

	return r.pagePointer(pageIndex), nil
}

// Wipe marks pageIndex active and writable without fetching, asserting
// the caller will overwrite it immediately (spec §4.4 "wipe does not
// fetch").
func (r *Region) Wipe(pageIndex uint64, length uintptr) (unsafe.Pointer, error) {
	res, err := r.submit(Wipe, pageIndex, length)
	if res != Success {
		return nil, err
	}

	return r.pagePointer(pageIndex), nil
}

func (r *Region) pagePointer(pageIndex uint64) unsafe.Pointer {
	off := uintptr(pageIndex) * uintptr(r.opts.PageSize)

	return unsafe.Pointer(&r.mem[off])
}

// Evict writes back the active page if it has a pending write and then
// returns it to PROT_NONE, whichever page pageIndex names (spec §4.4
// "evict(addr)").
func (r *Region) Evict(pageIndex uint64) error {
	_, err := r.submit(Evict, pageIndex, 0)

	return err
}

// Close terminates the servicing goroutine and unmaps the region.
func (r *Region) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()

		return nil
	}

	r.closed = true
	r.mu.Unlock()

	_, err := r.submit(Terminate, 0, 0)
	close(r.done)

	_ = unix.Munmap(r.mem)
	_ = unix.Close(r.fd)

	return err
}

// serve is the single goroutine that owns all region state; it is the
// direct analogue of the source's dedicated fault-handler thread (spec
// §4.4 "Main loop").
func (r *Region) serve() {
	var timer *time.Timer

	timerC := func() <-chan time.Time {
		if timer == nil {
			return nil
		}

		return timer.C
	}

	for {
		select {
		case t, ok := <-r.reqCh:
			if !ok {
				return
			}

			res, err := r.handle(t)
			t.reply <- transactionReply{result: res, err: err}

			if r.writebackDue {
				if timer == nil {
					timer = time.NewTimer(r.currentWritebackTimeout())
				} else {
					timer.Reset(r.currentWritebackTimeout())
				}
			}

			if t.op == Terminate {
				return
			}
		case <-timerC():
			timer = nil
			r.flushActiveIfDirty()
		}
	}
}

func (r *Region) flushActiveIfDirty() {
	if r.activePage < 0 || !r.writebackDue {
		return
	}

	r.writeback(uint64(r.activePage))
}

func (r *Region) writeback(page uint64) {
	off := uintptr(page) * uintptr(r.opts.PageSize)
	data := make([]byte, r.opts.PageSize)
	copy(data, r.mem[off:off+uintptr(r.opts.PageSize)])

	if r.opts.Transport != nil {
		_ = r.opts.Transport.WritebackPage(page, data)
	}

	r.writebackDue = false
}

func (r *Region) handle(t *transaction) (Result, error) {
	targetPage := uint64((t.addr - r.base) / uintptr(r.opts.PageSize))

	invalidate := t.op == Terminate || t.op == Wipe ||
		(r.activePage >= 0 && uint64(r.activePage) != targetPage) ||
		(t.op == Evict && r.activePage >= 0 && uint64(r.activePage) == targetPage)

	if r.activePage >= 0 {
		if r.writebackDue {
			r.writeback(uint64(r.activePage))
		}

		if invalidate {
			if err := unix.Mprotect(r.mem, unix.PROT_NONE); err != nil {
				return MappingFailure, fmt.Errorf("fault: mprotect none: %w", err)
			}

			off := int64(r.activePage) * int64(r.opts.PageSize)
			if err := unix.Fallocate(r.fd, unix.FALLOC_FL_PUNCH_HOLE|unix.FALLOC_FL_KEEP_SIZE,
				off, int64(r.opts.PageSize)); err != nil {
				return MappingFailure, fmt.Errorf("fault: fallocate punch hole: %w", err)
			}

			r.activePage = -1
		}
	}

	if t.op == Terminate || t.op == Evict {
		return Success, nil
	}

	off := int64(targetPage) * int64(r.opts.PageSize)
	pageBytes := r.mem[off : off+int64(r.opts.PageSize)]

	needFetch := r.activePage != int64(targetPage) && t.op != Wipe

	if needFetch {
		if r.opts.Transport == nil {
			return FetchFailure, fmt.Errorf("fault: no transport configured")
		}

		data, err := r.opts.Transport.FetchPage(targetPage)
		if err != nil {
			return FetchFailure, fmt.Errorf("fault: fetch page %d: %w", targetPage, err)
		}

		copy(pageBytes, data)
	}

	prot := unix.PROT_READ
	if t.op == BeginWrite || t.op == Wipe {
		prot |= unix.PROT_WRITE
		r.writebackDue = true
	}

	if err := unix.Mprotect(pageBytes, prot); err != nil {
		return MappingFailure, fmt.Errorf("fault: mprotect page %d: %w", targetPage, err)
	}

	r.activePage = int64(targetPage)

	return Success, nil
}
