package concur

import "errors"

// Sentinel errors for scope and fork operations. Channel-specific
// sentinels (the exported ErrClosed, and the internal errBroken) live in
// the rendezvous package, following the same "<package>: <condition>"
// message convention.
var (
	// ErrScopeCancelled is the cancellation cause (see context.Cause)
	// recorded on a scope's context when its supervisor ends the scope,
	// and on a ForkCancellable's nested scope when Cancel ends it. It is
	// not returned by Supervised, Scoped or Join.
	ErrScopeCancelled = errors.New("concur: scope cancelled")

	// ErrForkInterrupted names a fork interrupted by scope cancellation.
	// Nothing in this package returns it: Join reports whatever error the
	// fork body itself returned (for a body that stops on cancellation,
	// typically its scope context's error).
	ErrForkInterrupted = errors.New("concur: fork interrupted")
)

// ScopeError aggregates the first failure observed by a scope's
// Supervisor, with any subsequent failures attached as suppressed causes,
// per the "first failure on a supervised scope wins" propagation policy.
type ScopeError struct {
	// First is the first exception or application error recorded.
	First error
	// Suppressed holds later failures recorded while the scope was
	// already ending, at most 64 of them; failures past that count are
	// not kept.
	Suppressed []error
}

func (e *ScopeError) Error() string {
	if e == nil || e.First == nil {
		return "concur: scope failed"
	}
	return e.First.Error()
}

func (e *ScopeError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.First
}
