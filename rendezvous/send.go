package rendezvous

import (
	"context"

	"github.com/joeycumines/go-concur/internal/park"
)

// sendAck is what a parked sender's continuation is resumed with: nil on
// a normal handoff, or the channel's close error (ErrClosed after Done,
// or the error passed to Error) if the channel closed while the send was
// parked.
type sendAck = error

// parkedSend/parkedReceive track currently-suspended continuations so
// Done/Error can resume every one of them with a closed signal, without
// needing to walk the (potentially huge, segmented) cell array looking
// for suspended cells.
type parkedSend[T any] struct {
	index uint64
	cont  *park.Continuation[sendAck]
}

func (c *Chan[T]) registerParkedSend(p *parkedSend[T]) {
	c.parkedSendsMu.Lock()
	c.parkedSends[p.index] = p
	c.parkedSendsMu.Unlock()
}

func (c *Chan[T]) unregisterParkedSend(index uint64) {
	c.parkedSendsMu.Lock()
	delete(c.parkedSends, index)
	c.parkedSendsMu.Unlock()
}

// Send blocks until v has been handed directly to a receiver or stored in
// the buffer, or ctx is cancelled, or the channel is closed.
func (c *Chan[T]) Send(ctx context.Context, v T) error {
	for {
		index := c.sendersSeq.Add(1) - 1
		err, retry := c.trySendAtIndex(ctx, index, v, true)
		if !retry {
			c.retireIfPossible()
			return err
		}
	}
}

// TrySend attempts to hand v off or buffer it without blocking. ok is
// false if no receiver is waiting and the buffer is full (or the
// channel is closed).
func (c *Chan[T]) TrySend(v T) (ok bool) {
	if c.closed.Load() {
		return false
	}
	for {
		index := c.sendersSeq.Add(1) - 1
		err, retry := c.trySendAtIndex(context.Background(), index, v, false)
		if retry {
			continue
		}
		return err == nil
	}
}

// trySendAtIndex drives the decision table of spec §4.2 for one claimed
// index. blocking selects whether an Empty/not-buffered-eligible cell
// parks (true) or reports failure immediately (false, for TrySend).
// retry is true iff the cell was Broken/Interrupted and a fresh index
// must be claimed.
func (c *Chan[T]) trySendAtIndex(ctx context.Context, index uint64, v T, blocking bool) (err error, retry bool) {
	ptr := c.cellPtr(index)

	if c.closed.Load() {
		return c.currentCloseErr(), false
	}

	for {
		cur := ptr.Load()

		switch {
		case cur == nil:
			if c.bufferedEligible(index) {
				// buffered-eligible: store directly, no waiting party yet.
				if ptr.CompareAndSwap(nil, &cellState[T]{kind: cellBuffered, val: v}) {
					return nil, false
				}
				continue
			}
			if !blocking {
				// Tombstone so a receiver that later lands on this same
				// index (receiversSeq runs independently of sendersSeq)
				// doesn't wait on a sender that already gave up.
				ptr.CompareAndSwap(nil, &cellState[T]{kind: cellInterrupted})
				return errBroken, false // signals "not sent" to TrySend, never surfaced
			}
			cont := park.New[sendAck]()
			parked := &parkedSend[T]{index: index, cont: cont}
			placeholder := &cellState[T]{kind: cellSuspendedSend, val: v, sendCont: cont}
			if !ptr.CompareAndSwap(nil, placeholder) {
				continue
			}
			c.registerParkedSend(parked)
			if c.closed.Load() {
				// closeWith may have already swept parkedSends before this
				// registration landed; resume ourselves so we don't wait
				// forever for a close signal that already happened.
				cont.TryResume(c.currentCloseErr())
			}
			ackErr, awaitErr := cont.Await(ctx, func() {
				ptr.CompareAndSwap(placeholder, &cellState[T]{kind: cellInterrupted})
			})
			c.unregisterParkedSend(index)
			if awaitErr != nil {
				return awaitErr, false
			}
			return ackErr, false

		case cur.kind == cellSuspendedReceive:
			if cur.recvCont.TryResume(recvResult[T]{val: v}) {
				ptr.CompareAndSwap(cur, &cellState[T]{kind: cellDone})
				return nil, false
			}
			// receiver gave up concurrently; mark broken and retry at a
			// fresh index, we cannot reclaim this one.
			ptr.CompareAndSwap(cur, &cellState[T]{kind: cellBroken})
			return nil, true

		case cur.kind == cellBroken, cur.kind == cellInterrupted:
			return nil, true

		default:
			panic("rendezvous: send: invariant violation: unexpected cell state")
		}
	}
}

func (c *Chan[T]) currentCloseErr() error {
	if p := c.closeErr.Load(); p != nil {
		return *p
	}
	return ErrClosed
}
