package rendezvous

// Done closes the channel cleanly: every pending parked receiver
// observes end-of-stream (ReceiveOrClosed reports closed == true, err ==
// ErrClosed), and every pending parked sender fails with ErrClosed.
// Buffered values already handed off are still delivered to receivers
// that claim their cell index before the buffer drains; new Send/Receive
// calls past that point fail immediately with ErrClosed.
func (c *Chan[T]) Done() error {
	return c.closeWith(ErrClosed)
}

// Error closes the channel with a caller-supplied failure: parked
// receivers get it back through ReceiveOrClosed's err (with closed ==
// true), parked senders get it back directly from Send.
func (c *Chan[T]) Error(err error) error {
	if err == nil {
		err = ErrClosed
	}
	return c.closeWith(err)
}

func (c *Chan[T]) closeWith(err error) error {
	if !c.closed.CompareAndSwap(false, true) {
		return c.currentCloseErr() // already closed
	}
	c.closeErr.Store(&err)

	c.parkedSendsMu.Lock()
	sends := c.parkedSends
	c.parkedSends = make(map[uint64]*parkedSend[T])
	c.parkedSendsMu.Unlock()
	for _, p := range sends {
		p.cont.TryResume(err)
	}

	c.parkedReceivesMu.Lock()
	recvs := c.parkedReceives
	c.parkedReceives = make(map[uint64]*parkedReceive[T])
	c.parkedReceivesMu.Unlock()
	for _, p := range recvs {
		p.cont.TryResume(recvResult[T]{closed: true, err: err})
	}

	return nil
}

// Closed reports whether Done or Error has been called.
func (c *Chan[T]) Closed() bool {
	return c.closed.Load()
}
