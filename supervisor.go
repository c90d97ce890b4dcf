package concur

import "sync/atomic"

// Supervisor decides when a Scope should end, based on the outcomes of the
// forks it tracks. There are two implementations: noopSupervisor (used by
// unsupervised scopes, i.e. Scoped) never asks the scope to end on behalf
// of a fork, and defaultSupervisor (used by Supervised/SupervisedError)
// tracks outstanding user forks plus the first recorded failure.
type supervisor interface {
	// forkStarts registers a new user fork as outstanding.
	forkStarts()
	// forkSuccess records a user fork's successful completion, possibly
	// ending the scope if the body has already completed and none remain
	// outstanding.
	forkSuccess()
	// forkException records a fork failure. Returns true iff this call
	// was the first to record a failure; later callers must treat their
	// own failure as suppressed and re-surface it via their own Join.
	forkException(err error) bool
	// forkUserFailed decrements the outstanding count without evaluating
	// scope end (forkException already requested it); called only by
	// forks that previously called forkStarts.
	forkUserFailed()
	// bodyCompleted records that the scope's own body returned. Returns
	// true iff this was enough, by itself, to end the scope (no
	// outstanding user forks).
	bodyCompleted() bool
	// failure returns the first recorded failure, or nil.
	failure() error
}

// noopSupervisor never ends the scope on behalf of a fork: used for
// Scoped (unsupervised) blocks, where only the body's own return (or
// cancellation of the parent context) ends the scope.
type noopSupervisor struct{}

func (noopSupervisor) forkStarts()              {}
func (noopSupervisor) forkSuccess()             {}
func (noopSupervisor) forkException(error) bool { return false }
func (noopSupervisor) forkUserFailed()           {}
func (noopSupervisor) bodyCompleted() bool      { return false }
func (noopSupervisor) failure() error           { return nil }

// defaultSupervisor is installed by Supervised/SupervisedError. It tracks
// the count of outstanding user forks and the first recorded failure,
// ending the scope (via its end callback) the moment either the count
// reaches zero with the body complete, or a failure is recorded.
type defaultSupervisor struct {
	outstanding atomic.Int32
	bodyDone    atomic.Bool
	first       atomic.Pointer[error]
	suppressed  chan error // holds up to 64 later failures; see recordFailure
	end         func()     // idempotent; signals the scope's task group to unwind
}

func newDefaultSupervisor(end func()) *defaultSupervisor {
	return &defaultSupervisor{
		suppressed: make(chan error, 64),
		end:        end,
	}
}

func (s *defaultSupervisor) forkStarts() {
	s.outstanding.Add(1)
}

func (s *defaultSupervisor) forkSuccess() {
	if s.outstanding.Add(-1) == 0 && s.bodyDone.Load() {
		s.end()
	}
}

// forkException records a failure from either a daemon fork (Fork,
// ForkError - never registered via forkStarts) or a user fork (ForkUser,
// ForkUserError - registered via forkStarts). It always requests scope
// end immediately, so the outstanding count is not load-bearing for
// failure handling; it is left untouched here and decremented by the
// caller only when the fork had previously called forkStarts (see
// ForkUser/ForkUserError, which call forkSuccess on the non-error path
// and must symmetrically account for the error path by not leaving the
// count permanently elevated).
func (s *defaultSupervisor) forkException(err error) bool {
	first := s.recordFailure(err)
	s.end()
	return first
}

func (s *defaultSupervisor) forkUserFailed() {
	s.outstanding.Add(-1)
}

func (s *defaultSupervisor) bodyCompleted() bool {
	s.bodyDone.Store(true)
	if s.outstanding.Load() == 0 {
		s.end()
		return true
	}
	return false
}

// bodyFailed records a failure originating in the scope's own body (as
// opposed to one of its forks) and immediately requests scope end: a
// failing body is, for propagation purposes, equivalent to a fork
// failure - outstanding forks are interrupted rather than patiently
// awaited to their own natural completion.
func (s *defaultSupervisor) bodyFailed(err error) bool {
	s.bodyDone.Store(true)
	first := s.recordFailure(err)
	s.end()
	return first
}

func (s *defaultSupervisor) failure() error {
	p := s.first.Load()
	if p == nil {
		return nil
	}
	return *p
}

// recordFailure implements first-writer-wins; every later failure is
// pushed to suppressed (best-effort: if the buffer is full, it is dropped
// rather than blocking a fork's unwind, since suppressed causes are
// diagnostic, not load-bearing).
func (s *defaultSupervisor) recordFailure(err error) (first bool) {
	if err == nil {
		return false
	}
	if s.first.CompareAndSwap(nil, &err) {
		return true
	}
	select {
	case s.suppressed <- err:
	default:
	}
	return false
}

func (s *defaultSupervisor) drainSuppressed() []error {
	var out []error
	for {
		select {
		case err := <-s.suppressed:
			out = append(out, err)
		default:
			return out
		}
	}
}
