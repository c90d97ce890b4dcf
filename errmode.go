package concur

// ErrorMode adapts a computation's result container C to a uniform
// error/value view, letting the schedule engine drive throw-based,
// Result-based, or custom result containers with the same loop.
//
// E is the logical error type; C is the container type returned by the
// operation under schedule (for example Result[E, T] or ThrowingResult[T]).
type ErrorMode[E, C any] struct {
	// IsError reports whether c represents a failure.
	IsError func(c C) bool
	// GetError extracts the failure value. Only called when IsError(c).
	GetError func(c C) E
	// GetT extracts the success value. Only called when !IsError(c).
	GetT func(c C) any
	// PureError wraps e as a failed container.
	PureError func(e E) C
	// PureT wraps a success value as a container.
	PureT func(t any) C
}

// Result is a minimal Either-style container: exactly one of Err or Val is
// meaningful, selected by an internal flag that Err sets and IsErr reports.
type Result[E, T any] struct {
	Err   E
	Val   T
	isErr bool
}

// Ok wraps a success value.
func Ok[E, T any](v T) Result[E, T] {
	return Result[E, T]{Val: v}
}

// Err wraps a failure value.
func Err[E, T any](e E) Result[E, T] {
	return Result[E, T]{Err: e, isErr: true}
}

// IsErr reports whether r represents a failure.
func (r Result[E, T]) IsErr() bool {
	return r.isErr
}

// ResultErrorMode builds the ErrorMode adapter for Result[E, T].
func ResultErrorMode[E, T any]() ErrorMode[E, Result[E, T]] {
	return ErrorMode[E, Result[E, T]]{
		IsError: func(c Result[E, T]) bool { return c.IsErr() },
		GetError: func(c Result[E, T]) E {
			return c.Err
		},
		GetT: func(c Result[E, T]) any {
			return c.Val
		},
		PureError: func(e E) Result[E, T] {
			return Err[E, T](e)
		},
		PureT: func(t any) Result[E, T] {
			return Ok[E, T](t.(T))
		},
	}
}

// ThrowingResult is the container ThrowingErrorMode uses for the
// conventional Go shape: C is a ThrowingResult[T] carrying either a value
// or an error, the pragmatic rendering of "throw-based" semantics without
// actually using panic/recover for control flow.
type ThrowingResult[T any] struct {
	Val T
	Err error
}

// ThrowingErrorMode builds the ErrorMode adapter for ThrowingResult[T].
func ThrowingErrorMode[T any]() ErrorMode[error, ThrowingResult[T]] {
	return ErrorMode[error, ThrowingResult[T]]{
		IsError: func(c ThrowingResult[T]) bool { return c.Err != nil },
		GetError: func(c ThrowingResult[T]) error {
			return c.Err
		},
		GetT: func(c ThrowingResult[T]) any {
			return c.Val
		},
		PureError: func(e error) ThrowingResult[T] {
			return ThrowingResult[T]{Err: e}
		},
		PureT: func(t any) ThrowingResult[T] {
			return ThrowingResult[T]{Val: t.(T)}
		},
	}
}
