package rendezvous_test

import (
	"context"
	"time"

	"github.com/joeycumines/go-concur/rendezvous"
)

// ExampleChan_batchReceive demonstrates the microbatch.Batcher pattern (a
// min/max-size receive loop bounded by a flush-interval timer) built on top
// of a rendezvous.Chan, rather than shipped as new core API - per spec, a
// flow/stream combinator library is explicitly out of scope, but nothing
// stops a caller from composing one locally the way microbatch.Batcher.run
// does: accumulate into a slice, flush on either reaching maxSize or the
// flush timer firing, whichever comes first.
func ExampleChan_batchReceive() {
	ch := rendezvous.New[int](0)

	go func() {
		for i := 0; i < 7; i++ {
			_ = ch.Send(context.Background(), i)
		}
		_ = ch.Done()
	}()

	const maxSize = 3
	const flushInterval = 50 * time.Millisecond

	var batch []int
	flush := func() {
		if len(batch) == 0 {
			return
		}
		batch = batch[:0]
	}

	timer := time.NewTimer(flushInterval)
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			flush()
			timer.Reset(flushInterval)
		default:
		}

		v, closed, err := ch.ReceiveOrClosed(context.Background())
		if closed {
			flush()
			return
		}
		if err != nil {
			return
		}

		batch = append(batch, v)
		if len(batch) >= maxSize {
			flush()
			timer.Reset(flushInterval)
		}
	}
}
