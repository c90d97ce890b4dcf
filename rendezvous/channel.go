// Package rendezvous implements an unbuffered/buffered channel on top of
// a monotonically indexed, segmented cell array with compare-and-swap
// cell transitions and continuation parking - the core spec's C2.
//
// Each Send and Receive first claims a unique cell index via an
// atomic fetch-add on its own sequence counter (sendersSeq /
// receiversSeq), then drives that cell through the state machine
// implemented by trySendAtIndex and tryReceiveAtIndex. Pairing is by
// cell index, which is what gives FIFO-vs-FIFO delivery ordering: if
// send A precedes send B in one goroutine's program order, every
// receiver observes A before B.
package rendezvous

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/joeycumines/go-concur/internal/park"
)

// Sentinel errors, following the "<package>: <condition>" convention used
// throughout this module (see longpoll.Channel's "longpoll: nil context"
// style panics, here rendered as errors since these are runtime, not
// programmer, conditions).
var (
	// ErrClosed is returned by Send/Receive (and the direct, non-*OrClosed
	// forms) once the channel has been closed via Done, and any buffered
	// values have been drained. A channel closed via Error(err) reports
	// err instead.
	ErrClosed = errors.New("rendezvous: channel closed")
	// errBroken is the internal signal the non-blocking TrySend/TryReceive
	// paths use for "no partner waiting and no buffer space"; callers
	// never see it directly - TrySend/TryReceive turn it into ok == false.
	errBroken = errors.New("rendezvous: cell broken")
)

// cellsPerBucket is the segment size: large enough to amortize the CAS
// append of a new bucket across many operations, small enough that a
// fully-drained bucket (both sequence counters past its range) retires
// for GC promptly. Chosen per spec §9's open question on segment sizing.
const cellsPerBucket = 1024

// cellState is the tagged union a single cell occupies: empty,
// buffered(v), suspendedSend(v, k), suspendedReceive(k), done, broken, or
// interrupted. Channel closure is not a cell state: it is tracked by the
// Chan's closed flag and close error.
type cellState[T any] struct {
	kind     cellKind
	val      T
	sendCont *park.Continuation[sendAck]
	recvCont *park.Continuation[recvResult[T]]
}

type cellKind uint8

const (
	cellEmpty cellKind = iota
	cellBuffered
	cellSuspendedSend
	cellSuspendedReceive
	cellDone
	cellBroken
	cellInterrupted
)

type bucket[T any] struct {
	base  uint64 // index of cell 0 in this bucket
	cells [cellsPerBucket]atomic.Pointer[cellState[T]]
	next  atomic.Pointer[bucket[T]]
}

// Chan is a rendezvous channel with buffer capacity B: a cell at index i
// is buffered-eligible iff i < receiversSeq + B (B == 0 gives the
// classic unbuffered rendezvous).
type Chan[T any] struct {
	capacity int

	sendersSeq   atomic.Uint64
	receiversSeq atomic.Uint64

	head atomic.Pointer[bucket[T]]

	closed   atomic.Bool
	closeErr atomic.Pointer[error]

	parkedSendsMu   sync.Mutex
	parkedSends     map[uint64]*parkedSend[T]
	parkedReceivesMu sync.Mutex
	parkedReceives   map[uint64]*parkedReceive[T]
}

// New constructs a Chan with the given buffer capacity. capacity == 0
// yields an unbuffered (strictly rendezvous) channel.
func New[T any](capacity int) *Chan[T] {
	if capacity < 0 {
		panic("rendezvous: negative capacity")
	}
	c := &Chan[T]{
		capacity:       capacity,
		parkedSends:    make(map[uint64]*parkedSend[T]),
		parkedReceives: make(map[uint64]*parkedReceive[T]),
	}
	c.head.Store(&bucket[T]{})
	return c
}

// bucketFor walks the segmented list from the cached head to the bucket
// covering index, appending new buckets (CAS-linked, Treiber-stack
// style) as needed.
func (c *Chan[T]) bucketFor(index uint64) *bucket[T] {
	b := c.head.Load()
	for {
		if index < b.base+cellsPerBucket {
			return b
		}
		if next := b.next.Load(); next != nil {
			b = next
			continue
		}
		nb := &bucket[T]{base: b.base + cellsPerBucket}
		if b.next.CompareAndSwap(nil, nb) {
			b = nb
		} else {
			b = b.next.Load()
		}
	}
}

func (c *Chan[T]) cellPtr(index uint64) *atomic.Pointer[cellState[T]] {
	b := c.bucketFor(index)
	return &b.cells[index-b.base]
}

// retireIfPossible drops the Chan's cached head reference once both
// sequence counters have moved past the bucket's range, letting the GC
// reclaim it - the "retired block" mentioned in spec §9.
func (c *Chan[T]) retireIfPossible() {
	for {
		b := c.head.Load()
		if c.sendersSeq.Load() < b.base+cellsPerBucket || c.receiversSeq.Load() < b.base+cellsPerBucket {
			return
		}
		next := b.next.Load()
		if next == nil {
			return
		}
		if c.head.CompareAndSwap(b, next) {
			continue
		}
		return
	}
}

func (c *Chan[T]) bufferedEligible(index uint64) bool {
	return index < c.receiversSeq.Load()+uint64(c.capacity)
}
