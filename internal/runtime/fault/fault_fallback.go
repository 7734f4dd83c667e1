//go:build !linux

package fault

import (
	"fmt"
	"sync"
	"time"
	"unsafe"
)

// Region is the portable fallback trap region for platforms without the
// mmap/mprotect/fallocate syscalls fault_linux.go uses. It keeps the same
// single-active-page invariant and transaction surface but backs pages
// with plain heap buffers instead of a real VM mapping — the "restrict
// the remote-memory facility to an explicit fetch/commit API" escape
// hatch spec §9 names for targets without a portable page-fault hook.
type Region struct {
	opts Options

	mu         sync.Mutex
	pages      map[uint64][]byte
	activePage int64
	dirty      bool
}

// NewRegion builds a fallback region. There is no address space to
// reserve: Base returns 0, and the pointers BeginRead, BeginWrite and Wipe
// return point at per-page heap buffers, not at Base + index·PageSize.
// Page(pageIndex) returns the backing slice itself.
func NewRegion(opts Options) (*Region, error) {
	opts = opts.withDefaults()

	if opts.PageSize <= 0 {
		opts.PageSize = 4096
	}

	return &Region{
		opts:       opts,
		pages:      make(map[uint64][]byte),
		activePage: -1,
	}, nil
}

func (r *Region) Base() uintptr { return 0 }
func (r *Region) PageSize() int { return r.opts.PageSize }

// SetWritebackTimeout keeps API parity with the Linux build's tunable, but
// is inert here: the fallback region flushes synchronously on Evict and on
// every active-page switch rather than on a quiescence timer, so there is
// no timer duration for this build to apply.
func (r *Region) SetWritebackTimeout(d time.Duration) {
	if d <= 0 {
		return
	}

	r.mu.Lock()
	r.opts.WritebackTimeout = d
	r.mu.Unlock()
}

func (r *Region) pageLocked(pageIndex uint64) []byte {
	p, ok := r.pages[pageIndex]
	if !ok {
		p = make([]byte, r.opts.PageSize)
		r.pages[pageIndex] = p
	}

	return p
}

// Page returns the backing slice for pageIndex, fetching it from the
// transport first if it isn't the active page.
func (r *Region) Page(pageIndex uint64) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.activePage >= 0 && uint64(r.activePage) != pageIndex && r.dirty {
		if err := r.flushLocked(); err != nil {
			return nil, err
		}
	}

	needFetch := r.activePage != int64(pageIndex)

	p := r.pageLocked(pageIndex)

	if needFetch {
		if r.opts.Transport == nil {
			return nil, fmt.Errorf("fault: no transport configured")
		}

		data, err := r.opts.Transport.FetchPage(pageIndex)
		if err != nil {
			return nil, fmt.Errorf("fault: fetch page %d: %w", pageIndex, err)
		}

		copy(p, data)
	}

	r.activePage = int64(pageIndex)

	return p, nil
}

func (r *Region) flushLocked() error {
	if r.activePage < 0 {
		return nil
	}

	data := r.pages[uint64(r.activePage)]
	if r.opts.Transport != nil {
		if err := r.opts.Transport.WritebackPage(uint64(r.activePage), data); err != nil {
			return fmt.Errorf("fault: writeback page %d: %w", r.activePage, err)
		}
	}

	r.dirty = false

	return nil
}

// BeginRead ensures pageIndex is the active page and returns a pointer to
// its backing heap buffer — stable for as long as the page stays resident,
// since the fallback never reallocates a page's slice while it's live.
func (r *Region) BeginRead(pageIndex uint64) (unsafe.Pointer, error) {
	p, err := r.Page(pageIndex)
	if err != nil {
		return nil, err
	}

	return unsafe.Pointer(&p[0]), nil
}

// BeginWrite is like BeginRead but marks the page dirty.
func (r *Region) BeginWrite(pageIndex uint64) (unsafe.Pointer, error) {
	p, err := r.Page(pageIndex)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.dirty = true
	r.mu.Unlock()

	return unsafe.Pointer(&p[0]), nil
}

// Wipe marks pageIndex active and writable without fetching.
func (r *Region) Wipe(pageIndex uint64, length uintptr) (unsafe.Pointer, error) {
	r.mu.Lock()
	p := r.pageLocked(pageIndex)
	clear(p)
	r.activePage = int64(pageIndex)
	r.dirty = true
	r.mu.Unlock()

	return unsafe.Pointer(&p[0]), nil
}

// Evict flushes the active page if it is pageIndex and dirty.
func (r *Region) Evict(pageIndex uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.activePage >= 0 && uint64(r.activePage) == pageIndex && r.dirty {
		return r.flushLocked()
	}

	return nil
}

// Close flushes any pending write and releases the region.
func (r *Region) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.flushLocked()
}
