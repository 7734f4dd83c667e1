// Package fault implements the trap-region fault handler (spec §4.4,
// component C4): a reserved span of virtual address space backing remote
// memory, with at most one page active (accessible) at a time, serviced
// one transaction at a time by a dedicated goroutine. Go has no portable
// way to install a raw SIGSEGV handler outside cgo, so callers drive the
// state machine through the explicit Op methods below rather than through
// a signal trampoline — the "restrict the remote-memory facility to an
// explicit fetch/commit API" escape hatch spec §9 names.
package fault

import (
	"fmt"
	"time"
)

// Op names a transaction the region's goroutine can service (spec §4.4
// "Transactions").
type Op int

const (
	BeginRead Op = iota
	BeginWrite
	Wipe
	Evict
	Terminate
)

func (o Op) String() string {
	switch o {
	case BeginRead:
		return "begin_read"
	case BeginWrite:
		return "begin_write"
	case Wipe:
		return "wipe"
	case Evict:
		return "evict"
	case Terminate:
		return "terminate"
	default:
		return fmt.Sprintf("Op(%d)", int(o))
	}
}

// Result is the outcome of a transaction (spec §4.4 "Responses").
type Result int

const (
	Success Result = iota
	Uncaught
	FetchFailure
	MappingFailure
)

func (r Result) String() string {
	switch r {
	case Success:
		return "success"
	case Uncaught:
		return "uncaught"
	case FetchFailure:
		return "fetch_failure"
	case MappingFailure:
		return "mapping_failure"
	default:
		return fmt.Sprintf("Result(%d)", int(r))
	}
}

// writebackTimeout is the default quiescence duration after which a dirty
// page is flushed without an explicit Evict (spec §4.4, §9 "Writeback-
// timeout duration ... should expose it as a tunable").
const writebackTimeout = 5 * time.Millisecond

// Transport is what the region needs from the remote manager to service a
// page fault: fetch a page's bytes on demand, and write a dirty page back.
// pageIndex is the remote allocation ID for that page (spec §3
// "Fault-region position ... makes remote allocation IDs == virtual page
// indices").
type Transport interface {
	FetchPage(pageIndex uint64) ([]byte, error)
	WritebackPage(pageIndex uint64, data []byte) error
}

// Options configures a Region.
type Options struct {
	PageSize         int
	RegionSize       uintptr
	WritebackTimeout time.Duration
	Transport        Transport
}

func (o Options) withDefaults() Options {
	if o.WritebackTimeout <= 0 {
		o.WritebackTimeout = writebackTimeout
	}

	return o
}

// transaction is the single struct exchanged between the faulting caller
// and the servicing goroutine (spec §5 "The fault handler exchanges a
// single transaction struct ... under one mutex + two-sided condvar" —
// realized here as a request/response channel pair instead of a condvar,
// Go's idiomatic equivalent of the same hand-off).
type transaction struct {
	op     Op
	addr   uintptr
	length uintptr
	reply  chan transactionReply
}

type transactionReply struct {
	result Result
	err    error
}
