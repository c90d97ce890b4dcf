package concur

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSupervisedBodyOnlyNoForks(t *testing.T) {
	var ran bool
	err := Supervised(context.Background(), Options{}, func(s *Scope) error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran, "body never ran")
}

func TestSupervisedWaitsForUserForks(t *testing.T) {
	var order []string
	var mu sync.Mutex
	record := func(s string) {
		mu.Lock()
		order = append(order, s)
		mu.Unlock()
	}

	err := Supervised(context.Background(), Options{}, func(s *Scope) error {
		h := ForkUser(s, func(s *Scope) (struct{}, error) {
			time.Sleep(10 * time.Millisecond)
			record("fork")
			return struct{}{}, nil
		})
		record("body")
		_, joinErr := h.Join()
		assert.NoError(t, joinErr)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"body", "fork"}, order)
}

func TestSupervisedForkUserFailureEndsScope(t *testing.T) {
	wantErr := errors.New("boom")
	var bodyObservedCancel bool

	err := Supervised(context.Background(), Options{}, func(s *Scope) error {
		ForkUser(s, func(s *Scope) (struct{}, error) {
			return struct{}{}, wantErr
		})
		<-s.Context().Done()
		bodyObservedCancel = true
		return nil
	})
	require.Error(t, err)
	var se *ScopeError
	require.ErrorAs(t, err, &se)
	assert.ErrorIs(t, se.First, wantErr)
	assert.True(t, bodyObservedCancel, "body never observed scope cancellation after fork failure")
}

func TestSupervisedDaemonForkFailureEndsScope(t *testing.T) {
	wantErr := errors.New("daemon boom")

	err := Supervised(context.Background(), Options{}, func(s *Scope) error {
		Fork(s, func(s *Scope) (struct{}, error) {
			return struct{}{}, wantErr
		})
		<-s.Context().Done()
		return nil
	})
	require.Error(t, err)
	var se *ScopeError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, wantErr, se.First)
}

func TestSupervisedDaemonForkSuccessDoesNotDelayEnd(t *testing.T) {
	// A daemon Fork's success must not be required for the scope to end:
	// only the body's own completion (with no outstanding user forks)
	// matters. We assert the scope signals its end (cancels its context)
	// while the daemon fork is still sleeping, and that the scope still
	// awaits the daemon's termination (WaitGroup semantics) before
	// returning.
	daemonDone := make(chan struct{})
	var endedBeforeDaemon atomic.Bool
	start := time.Now()
	err := Supervised(context.Background(), Options{}, func(s *Scope) error {
		Fork(s, func(s *Scope) (struct{}, error) {
			time.Sleep(30 * time.Millisecond)
			endedBeforeDaemon.Store(s.Context().Err() != nil)
			close(daemonDone)
			return struct{}{}, nil
		})
		return nil
	})
	elapsed := time.Since(start)
	require.NoError(t, err)
	select {
	case <-daemonDone:
	default:
		t.Fatal("scope returned before its daemon fork finished - WaitGroup not honored")
	}
	assert.GreaterOrEqual(t, elapsed, 30*time.Millisecond, "scope returned too soon; daemon fork must still be awaited")
	assert.True(t, endedBeforeDaemon.Load(), "scope did not signal its end until its daemon fork had finished")
}

func TestScopedDoesNotEndEarlyOnForkFailure(t *testing.T) {
	forkErr := errors.New("fork failed but scope is unsupervised")
	var bodyFinished bool

	err := Scoped(context.Background(), Options{}, func(s *Scope) error {
		h := ForkUser(s, func(s *Scope) (struct{}, error) {
			return struct{}{}, forkErr
		})
		time.Sleep(10 * time.Millisecond)
		select {
		case <-s.Context().Done():
			t.Error("unsupervised scope must not be cancelled by a fork failure")
		default:
		}
		_, joinErr := h.Join()
		assert.Equal(t, forkErr, joinErr)
		bodyFinished = true
		return nil
	})
	require.NoError(t, err, "unsupervised scope only reports body's own error")
	assert.True(t, bodyFinished, "body never finished")
}

func TestScopedSurfacesBodyError(t *testing.T) {
	wantErr := errors.New("explicit body failure")
	err := Scoped(context.Background(), Options{}, func(s *Scope) error {
		return wantErr
	})
	assert.Equal(t, wantErr, err)
}

func TestDeferRunsLIFOAfterAllForksComplete(t *testing.T) {
	var order []int
	err := Supervised(context.Background(), Options{}, func(s *Scope) error {
		for i := 1; i <= 3; i++ {
			i := i
			s.Defer(func() { order = append(order, i) })
		}
		ForkUser(s, func(s *Scope) (struct{}, error) {
			time.Sleep(5 * time.Millisecond)
			return struct{}{}, nil
		})
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{3, 2, 1}, order)
}

func TestForkPanicIsRecoveredAsError(t *testing.T) {
	err := Supervised(context.Background(), Options{}, func(s *Scope) error {
		Fork(s, func(s *Scope) (struct{}, error) {
			panic("fork exploded")
		})
		<-s.Context().Done()
		return nil
	})
	require.Error(t, err)
	var se *ScopeError
	require.ErrorAs(t, err, &se)
	var pe *panicError
	require.ErrorAs(t, se.First, &pe)
}

func TestSupervisedErrorRecoversApplicationError(t *testing.T) {
	em := ThrowingErrorMode[int]()
	permanentErr := errors.New("app error")

	out := SupervisedError(context.Background(), Options{}, em, func(s *Scope) ThrowingResult[int] {
		return ThrowingResult[int]{Err: permanentErr}
	})
	assert.Equal(t, permanentErr, out.Err, "want permanentErr surfaced through em.PureError")
}

func TestSupervisedErrorSuccess(t *testing.T) {
	em := ThrowingErrorMode[int]()
	out := SupervisedError(context.Background(), Options{}, em, func(s *Scope) ThrowingResult[int] {
		return ThrowingResult[int]{Val: 7}
	})
	require.NoError(t, out.Err)
	assert.Equal(t, 7, out.Val)
}

func TestForkCancellableInterruptsOnCancel(t *testing.T) {
	var interrupted atomic.Bool
	err := Scoped(context.Background(), Options{}, func(s *Scope) error {
		cf := ForkCancellable(s, func(s *Scope) (struct{}, error) {
			<-s.Context().Done()
			interrupted.Store(true)
			return struct{}{}, s.Context().Err()
		})
		// spec §8 scenario 6: the body must still be running (not
		// interrupted) before Cancel is called - a ForkCancellable that
		// tears down its nested scope unconditionally at spawn time,
		// regardless of whether Cancel was ever invoked, would also pass
		// an assertion made only after cf.Cancel().
		time.Sleep(10 * time.Millisecond)
		require.False(t, interrupted.Load(), "ForkCancellable's body was interrupted before Cancel was ever called")
		cf.Cancel()
		_, joinErr := cf.Join()
		assert.Error(t, joinErr, "want a non-nil error from an interrupted fork")
		return nil
	})
	require.NoError(t, err)
	assert.True(t, interrupted.Load(), "ForkCancellable's body never observed cancellation")
}

func TestForkAllFansOutInOrder(t *testing.T) {
	err := Supervised(context.Background(), Options{}, func(s *Scope) error {
		bodies := make([]func(*Scope) (int, error), 5)
		for i := range bodies {
			i := i
			bodies[i] = func(s *Scope) (int, error) { return i, nil }
		}
		handles := ForkAll(s, bodies...)
		for i, h := range handles {
			v, err := h.Join()
			if assert.NoError(t, err, "handle %d", i) {
				assert.Equal(t, i, v, "handle %d", i)
			}
		}
		return nil
	})
	require.NoError(t, err)
}

func TestHandleJoinEither(t *testing.T) {
	err := Scoped(context.Background(), Options{}, func(s *Scope) error {
		h := ForkUser(s, func(s *Scope) (int, error) { return 0, errors.New("x") })
		r := h.JoinEither()
		assert.True(t, r.IsErr())
		return nil
	})
	require.NoError(t, err)
}
