package concur

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Handle is a future-like fork result. Join blocks until the fork's body
// has returned (successfully, with an error, or via panic) and hands the
// joiner the body's error as the body produced it: forks add no wrapper
// of their own, and a recovered panic arrives as an error.
type Handle[T any] struct {
	done chan struct{}
	val  T
	err  error
}

// Join blocks until the fork completes, returning its value and error.
func (h *Handle[T]) Join() (T, error) {
	<-h.done
	return h.val, h.err
}

// JoinEither blocks until the fork completes, returning a Result so
// callers that want Either-style handling don't need a second error
// return.
func (h *Handle[T]) JoinEither() Result[error, T] {
	v, err := h.Join()
	if err != nil {
		return Err[error, T](err)
	}
	return Ok[error, T](v)
}

func successHandle[T any](v T) *Handle[T] {
	done := make(chan struct{})
	close(done)
	return &Handle[T]{done: done, val: v}
}

func failedHandle[T any](err error) *Handle[T] {
	done := make(chan struct{})
	close(done)
	return &Handle[T]{done: done, err: err}
}

// runBody executes body with panic recovery, converting a panic into a
// fork-local error rather than crashing the carrier goroutine, and
// reporting the panic through the scope's optional Logger.
func runBody[T any](s *Scope, body func(*Scope) (T, error)) (t T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = recoverToError(r)
			logEvent(s.opts.Logger, "fork_panic", "recovered", r)
		}
	}()
	return body(s)
}

// Fork spawns a daemon fork: supervised (its failure ends the scope), but
// its success does not delay scope end - the scope only waits for it
// because every fork, daemon or not, is tracked by the scope's
// WaitGroup, but a daemon fork's success is never required for the
// supervisor's outstanding-count to reach zero.
func Fork[T any](s *Scope, body func(*Scope) (T, error)) *Handle[T] {
	h := &Handle[T]{done: make(chan struct{})}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		v, err := runBody(s, body)
		h.val, h.err = v, err
		close(h.done)
		if err != nil {
			s.sup.forkException(err)
		}
	}()
	return h
}

// ForkUser spawns a supervised fork that also contributes to scope end:
// the scope awaits it, and its success decrements the outstanding count
// the default Supervisor uses to decide whether the body completing is
// enough to end the scope.
func ForkUser[T any](s *Scope, body func(*Scope) (T, error)) *Handle[T] {
	s.sup.forkStarts()
	h := &Handle[T]{done: make(chan struct{})}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		v, err := runBody(s, body)
		h.val, h.err = v, err
		close(h.done)
		if err != nil {
			s.sup.forkException(err)
			s.sup.forkUserFailed()
		} else {
			s.sup.forkSuccess()
		}
	}()
	return h
}

// ForkUnsupervised spawns a fork whose failures are held until Join is
// called on its Handle, never reported to the scope's Supervisor. The
// scope still awaits its termination before returning, but never ends
// early on its account.
func ForkUnsupervised[T any](s *Scope, body func(*Scope) (T, error)) *Handle[T] {
	h := &Handle[T]{done: make(chan struct{})}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		v, err := runBody(s, body)
		h.val, h.err = v, err
		close(h.done)
	}()
	return h
}

// ForkError is the ErrorMode-polymorphic daemon fork: application errors
// classified by em end the scope exactly as an exception from Fork would.
func ForkError[E, C any](s *Scope, em ErrorMode[E, C], body func(*Scope) C) *Handle[C] {
	h := &Handle[C]{done: make(chan struct{})}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		c, panicErr := runBody(s, func(s *Scope) (C, error) {
			return body(s), nil
		})
		h.val, h.err = c, panicErr
		close(h.done)
		if panicErr != nil {
			s.sup.forkException(panicErr)
			return
		}
		if em.IsError(c) {
			s.sup.forkException(appErrorAsError(em.GetError(c)))
		}
	}()
	return h
}

// ForkUserError is ForkError's ForkUser counterpart: it both ends the
// scope on application error, and contributes to scope end on success.
func ForkUserError[E, C any](s *Scope, em ErrorMode[E, C], body func(*Scope) C) *Handle[C] {
	s.sup.forkStarts()
	h := &Handle[C]{done: make(chan struct{})}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		c, panicErr := runBody(s, func(s *Scope) (C, error) {
			return body(s), nil
		})
		h.val, h.err = c, panicErr
		close(h.done)
		if panicErr != nil {
			s.sup.forkException(panicErr)
			s.sup.forkUserFailed()
			return
		}
		if em.IsError(c) {
			s.sup.forkException(appErrorAsError(em.GetError(c)))
			s.sup.forkUserFailed()
		} else {
			s.sup.forkSuccess()
		}
	}()
	return h
}

// ForkAll spawns every body as a ForkUser of s, returning one Handle per
// body in order. It is a convenience for the common "fan out N producers
// into one scope" shape (spec scenario: 1000 producers x 1000 consumers).
func ForkAll[T any](s *Scope, bodies ...func(*Scope) (T, error)) []*Handle[T] {
	handles := make([]*Handle[T], len(bodies))
	for i, body := range bodies {
		handles[i] = ForkUser(s, body)
	}
	return handles
}

// CancellableFork is the handle returned by ForkCancellable: in addition
// to Join, it exposes Cancel (graceful: interrupts the fork at its next
// suspension point) and CancelNow (identical here, since this runtime's
// cancellation is always cooperative - CancelNow is provided for API
// parity with the source semantics, where it additionally skips any
// grace period).
type CancellableFork[T any] struct {
	*Handle[T]
	sem       *semaphore.Weighted
	cancelled sync.Once
}

// Cancel signals the fork's nested scope to end, interrupting the fork's
// body at its next suspension point. Safe to call multiple times and
// safe to call after the fork has already completed - only the first
// call actually releases the semaphore's single token; a second Release
// with nothing left to hand it back out to would panic ("released more
// than held").
func (c *CancellableFork[T]) Cancel() {
	c.cancelled.Do(func() { c.sem.Release(1) })
}

// CancelNow is Cancel, provided for API parity with sources that
// distinguish a graceful vs immediate cancel; this runtime's cancellation
// is always cooperative; there is no preemptive variant.
func (c *CancellableFork[T]) CancelNow() {
	c.Cancel()
}

// ForkCancellable spawns a fork backed by its own nested Scope, wired to a
// weight-1 semaphore: Cancel releases the semaphore, which a supervisor
// goroutine inside the nested scope is blocked acquiring, causing the
// nested scope to end and its body to be interrupted via context
// cancellation. This costs two carrier goroutines per fork (the fork
// body, and the semaphore-waiting goroutine) in exchange for isolated
// interruptibility that never touches the outer scope's own accounting.
func ForkCancellable[T any](s *Scope, body func(*Scope) (T, error)) *CancellableFork[T] {
	sem := semaphore.NewWeighted(1)
	// Drain the single token immediately so the waiter goroutine below
	// blocks until Cancel/CancelNow actually releases one - a fresh
	// semaphore.NewWeighted(1) starts with its token available, which
	// would otherwise let the waiter's Acquire return immediately and
	// cancel the nested scope before the body ever runs.
	_ = sem.Acquire(context.Background(), 1)
	cf := &CancellableFork[T]{sem: sem}

	outer := &Handle[T]{done: make(chan struct{})}
	cf.Handle = outer

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		nested := newScope(s.ctx, s.opts, nil)
		nested.wg.Add(1)
		go func() {
			defer nested.wg.Done()
			// blocks until Cancel releases the semaphore, or the nested
			// scope ends for any other reason.
			_ = sem.Acquire(nested.ctx, 1)
			nested.cancelScope(ErrScopeCancelled)
		}()

		v, err := runScope(nested, body)

		outer.val, outer.err = v, err
		close(outer.done)
	}()

	return cf
}

// ForkStage is the contract this core exposes to an external flow/stream
// combinator library (out of scope per spec §1): anything with Run(Sink)
// can be driven by a scope-bounded fork, with the guarantee that OnNext,
// OnDone, and OnError are invoked by a single producer, in order.
type ForkStage[T any] interface {
	Run(ctx context.Context, sink Sink[T]) error
}

// Sink receives single-producer, ordered callbacks from a ForkStage.
type Sink[T any] interface {
	OnNext(T)
	OnDone()
	OnError(error)
}
