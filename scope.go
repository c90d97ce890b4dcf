package concur

import (
	"context"
	"sync"
)

// Logger is the narrow structured-diagnostics hook scopes and forks use to
// report panics, cancellation reasons, and suppressed failures. A
// github.com/joeycumines/logiface logger satisfies it through the
// LogifaceLogger adapter. The zero
// value (nil) disables logging entirely; no component in this module
// requires a Logger to function correctly.
type Logger interface {
	// LogConcur is called with a short event name (e.g. "fork_panic",
	// "scope_cancel") and structured key/value pairs (always an even
	// count: key, value, key, value, ...).
	LogConcur(event string, kv ...any)
}

func logEvent(l Logger, event string, kv ...any) {
	if l != nil {
		l.LogConcur(event, kv...)
	}
}

// Options configures a Scope on entry. The zero value is valid and uses a
// nil Logger (no-op).
type Options struct {
	// Logger receives structured diagnostic events. Optional.
	Logger Logger
}

// Scope owns a group of forks spawned via Fork/ForkUser/ForkUnsupervised/
// ForkError/ForkUserError/ForkCancellable, and guarantees every fork it
// tracks terminates before the scope itself returns control to its caller.
//
// A Scope must not be retained or used after the function that received it
// (the body passed to Supervised/Scoped/SupervisedError) returns.
type Scope struct {
	ctx    context.Context
	cancel context.CancelCauseFunc
	sup    supervisor
	opts   Options

	wg sync.WaitGroup

	finalizersMu sync.Mutex
	finalizers   []func()
}

// Context returns the scope's context. It is cancelled when the scope
// decides to end, for whatever reason (body completion with no
// outstanding forks, a fork failure, or an explicit cancellation).
func (s *Scope) Context() context.Context {
	return s.ctx
}

// Defer registers a finalizer to run, uninterruptibly, in LIFO order once
// every child fork of the scope has terminated. Finalizers registered
// after the scope has already begun ending still run, since finalizer
// execution itself is the last step before the scope surfaces its
// outcome.
func (s *Scope) Defer(f func()) {
	s.finalizersMu.Lock()
	defer s.finalizersMu.Unlock()
	s.finalizers = append(s.finalizers, f)
}

func (s *Scope) runFinalizers() {
	s.finalizersMu.Lock()
	fs := s.finalizers
	s.finalizers = nil
	s.finalizersMu.Unlock()

	for i := len(fs) - 1; i >= 0; i-- {
		fs[i]()
	}
}

// cancelScope is the supervisor's "end" callback: cancelling the scope's
// context is how cancellation propagates to every fork's carrier
// goroutine, per spec: forks observe this at their next suspension point.
func (s *Scope) cancelScope(cause error) {
	if cause != nil {
		logEvent(s.opts.Logger, "scope_cancel", "cause", cause)
	}
	s.cancel(cause)
}

// newScope builds a Scope with the given supervisor factory (nil means
// unsupervised / noopSupervisor).
func newScope(ctx context.Context, opts Options, makeSupervisor func(end func()) supervisor) *Scope {
	cctx, cancel := context.WithCancelCause(ctx)
	s := &Scope{ctx: cctx, cancel: cancel, opts: opts}
	if makeSupervisor != nil {
		s.sup = makeSupervisor(func() { s.cancelScope(ErrScopeCancelled) })
	} else {
		s.sup = noopSupervisor{}
	}
	return s
}

// runScope executes body, then applies the structured-concurrency exit
// algorithm: await all children, run finalizers LIFO uninterruptibly, and
// surface either the first recorded failure (with subsequent failures
// attached as suppressed) or the body's own result.
func runScope[T any](s *Scope, body func(*Scope) (T, error)) (T, error) {
	val, bodyErr := func() (t T, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = recoverToError(r)
			}
		}()
		return body(s)
	}()

	if ds, ok := s.sup.(*defaultSupervisor); ok {
		if bodyErr != nil {
			ds.bodyFailed(bodyErr)
		} else {
			ds.bodyCompleted()
		}
	} else if bodyErr != nil {
		// unsupervised scope: the body's own error ends it directly.
		s.cancelScope(bodyErr)
	} else {
		s.cancelScope(nil)
	}

	s.wg.Wait()
	s.runFinalizers()

	if ds, ok := s.sup.(*defaultSupervisor); ok {
		if failure := ds.failure(); failure != nil {
			suppressed := ds.drainSuppressed()
			logEvent(s.opts.Logger, "scope_failed", "first", failure, "suppressed_count", len(suppressed))
			se := &ScopeError{First: failure, Suppressed: suppressed}
			var zero T
			return zero, se
		}
	}

	return val, bodyErr
}

func recoverToError(r any) error {
	if err, ok := r.(error); ok {
		return err
	}
	return &panicError{value: r}
}

type panicError struct{ value any }

func (p *panicError) Error() string { return "concur: panic in fork body" }

// Supervised runs body inside a new supervised scope: the scope ends as
// soon as every ForkUser/ForkUserError fork it spawned has completed and
// the body itself has returned, or immediately upon the first fork
// failure. Daemon forks (Fork/ForkError) do not delay scope end on
// success, but still end the scope (and are awaited) on failure.
func Supervised(ctx context.Context, opts Options, body func(*Scope) error) error {
	s := newScope(ctx, opts, func(end func()) supervisor { return newDefaultSupervisor(end) })
	_, err := runScope(s, func(s *Scope) (struct{}, error) {
		return struct{}{}, body(s)
	})
	return err
}

// SupervisedError is the ErrorMode-polymorphic form of Supervised: the
// body returns a value-typed result C (for example Result[E, T]) instead
// of an (T, error) pair, and application errors classified by em end the
// scope exactly as thrown exceptions do.
func SupervisedError[E, C any](ctx context.Context, opts Options, em ErrorMode[E, C], body func(*Scope) C) C {
	s := newScope(ctx, opts, func(end func()) supervisor { return newDefaultSupervisor(end) })
	c, err := runScope(s, func(s *Scope) (C, error) {
		result := body(s)
		if em.IsError(result) {
			return result, appErrorAsError(em.GetError(result))
		}
		return result, nil
	})
	if err == nil {
		return c
	}
	// A scope failure (body app-error, or any fork's exception/app-error)
	// surfaces here as a plain Go error; recover the E it was built from
	// and hand it back through em.PureError so the caller sees it the
	// same way a direct application error would have arrived. A failure
	// that does not unwrap to E is a genuine exception (a panic, or a
	// plain Fork's error) that this ErrorMode has no value-typed home
	// for - re-raise it rather than silently discarding it as a zero C.
	if e, ok := errorToAppValue[E](err); ok {
		return em.PureError(e)
	}
	panic(err)
}

type appError struct{ value any }

func (a *appError) Error() string { return "concur: application error" }

func appErrorAsError[E any](e E) error {
	if err, ok := any(e).(error); ok {
		return err
	}
	return &appError{value: e}
}

// errorToAppValue attempts to recover the original E an application error
// was built from via appErrorAsError, unwrapping ScopeError and appError
// wrappers as needed.
func errorToAppValue[E any](err error) (E, bool) {
	if se, ok := err.(*ScopeError); ok {
		err = se.First
	}
	if ae, ok := err.(*appError); ok {
		if v, ok2 := ae.value.(E); ok2 {
			return v, true
		}
		var zero E
		return zero, false
	}
	if v, ok := any(err).(E); ok {
		return v, true
	}
	var zero E
	return zero, false
}

// Scoped runs body inside a new, unsupervised scope: only the body's own
// return (or cancellation of the parent context) ends the scope. Forks
// spawned within still have their lifetimes bounded by the scope - it
// awaits them all before returning - but their failures do not
// automatically end the scope early. This is the Scope analogue of
// ForkUnsupervised used at the top level.
func Scoped(ctx context.Context, opts Options, body func(*Scope) error) error {
	s := newScope(ctx, opts, nil)
	_, err := runScope(s, func(s *Scope) (struct{}, error) {
		return struct{}{}, body(s)
	})
	return err
}
