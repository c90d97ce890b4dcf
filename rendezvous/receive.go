package rendezvous

import (
	"context"

	"github.com/joeycumines/go-concur/internal/park"
)

// recvResult is what a parked receiver's continuation is resumed with: a
// value handed off by a matching sender, or a closed/errored signal if
// the channel closed while the receive was parked.
type recvResult[T any] struct {
	val    T
	closed bool
	err    error
}

type parkedReceive[T any] struct {
	index uint64
	cont  *park.Continuation[recvResult[T]]
}

func (c *Chan[T]) registerParkedReceive(p *parkedReceive[T]) {
	c.parkedReceivesMu.Lock()
	c.parkedReceives[p.index] = p
	c.parkedReceivesMu.Unlock()
}

func (c *Chan[T]) unregisterParkedReceive(index uint64) {
	c.parkedReceivesMu.Lock()
	delete(c.parkedReceives, index)
	c.parkedReceivesMu.Unlock()
}

// Receive blocks until a value has been handed off directly by a sender
// or pulled from the buffer, or ctx is cancelled, or the channel closes
// with nothing left buffered.
func (c *Chan[T]) Receive(ctx context.Context) (T, error) {
	for {
		index := c.receiversSeq.Add(1) - 1
		v, err, retry := c.tryReceiveAtIndex(ctx, index, true)
		if !retry {
			c.retireIfPossible()
			return v, err
		}
	}
}

// TryReceive attempts to pull a value without blocking. ok is false if
// nothing is buffered and no sender is waiting (or the channel is closed
// and drained).
func (c *Chan[T]) TryReceive() (v T, ok bool) {
	for {
		index := c.receiversSeq.Add(1) - 1
		val, err, retry := c.tryReceiveAtIndex(context.Background(), index, false)
		if retry {
			continue
		}
		if err != nil {
			var zero T
			return zero, false
		}
		return val, true
	}
}

// ReceiveOrClosed is Receive, but reports channel closure as a typed
// result (closed == true) instead of overloading the error return, per
// the "distinguish end-of-stream from a transient failure" guidance
// longpoll.Channel's io.EOF convention inspired.
func (c *Chan[T]) ReceiveOrClosed(ctx context.Context) (v T, closed bool, err error) {
	v, err = c.Receive(ctx)
	if err == ErrClosed || (c.closeErr.Load() != nil && err == *c.closeErr.Load()) {
		var zero T
		return zero, true, err
	}
	return v, false, err
}

func (c *Chan[T]) tryReceiveAtIndex(ctx context.Context, index uint64, blocking bool) (v T, err error, retry bool) {
	ptr := c.cellPtr(index)

	for {
		cur := ptr.Load()

		switch {
		case cur == nil:
			if c.closed.Load() {
				var zero T
				return zero, c.currentCloseErr(), false
			}
			if !blocking {
				// Tombstone the cell so a sender that later lands on this
				// same index (its own counter runs independently of
				// receiversSeq) doesn't mistake it for live buffer space:
				// this pairing failed, and nobody will ever look at this
				// cell as a receiver again.
				ptr.CompareAndSwap(nil, &cellState[T]{kind: cellInterrupted})
				var zero T
				return zero, errBroken, false // signals "not available" to TryReceive, never surfaced
			}
			cont := park.New[recvResult[T]]()
			parked := &parkedReceive[T]{index: index, cont: cont}
			placeholder := &cellState[T]{kind: cellSuspendedReceive, recvCont: cont}
			if !ptr.CompareAndSwap(nil, placeholder) {
				continue
			}
			c.registerParkedReceive(parked)
			if c.closed.Load() {
				cont.TryResume(recvResult[T]{closed: true, err: c.currentCloseErr()})
			}
			res, awaitErr := cont.Await(ctx, func() {
				ptr.CompareAndSwap(placeholder, &cellState[T]{kind: cellInterrupted})
			})
			c.unregisterParkedReceive(index)
			if awaitErr != nil {
				var zero T
				return zero, awaitErr, false
			}
			if res.closed {
				var zero T
				return zero, res.err, false
			}
			return res.val, nil, false

		case cur.kind == cellBuffered:
			if ptr.CompareAndSwap(cur, &cellState[T]{kind: cellDone}) {
				return cur.val, nil, false
			}
			continue

		case cur.kind == cellSuspendedSend:
			if cur.sendCont.TryResume(nil) {
				ptr.CompareAndSwap(cur, &cellState[T]{kind: cellDone})
				return cur.val, nil, false
			}
			// sender gave up concurrently; this cell is unusable, retry
			// at a fresh index.
			ptr.CompareAndSwap(cur, &cellState[T]{kind: cellBroken})
			var zero T
			return zero, nil, true

		case cur.kind == cellBroken, cur.kind == cellInterrupted:
			var zero T
			return zero, nil, true

		default:
			panic("rendezvous: receive: invariant violation: unexpected cell state")
		}
	}
}
