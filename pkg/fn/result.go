package fn

import "fmt"

// Result is the outcome of a stage: a value, or the error that replaced it.
type Result[T any] struct {
	val T
	err error
	ok  bool
}

// Ok wraps a value.
func Ok[T any](v T) Result[T] { return Result[T]{val: v, ok: true} }

// Err wraps a failure.
func Err[T any](err error) Result[T] { return Result[T]{err: err} }

// FromPair lifts a (value, error) return into a Result.
func FromPair[T any](v T, err error) Result[T] {
	if err != nil {
		return Err[T](err)
	}
	return Ok(v)
}

func (r Result[T]) IsOk() bool  { return r.ok }
func (r Result[T]) IsErr() bool { return !r.ok }

// Unwrap returns the value and error as a Go pair.
func (r Result[T]) Unwrap() (T, error) { return r.val, r.err }

// Error is nil for an ok Result.
func (r Result[T]) Error() error { return r.err }

// Collect gathers the values of results in order. The first failure wins
// and is reported with its index.
func Collect[T any](results []Result[T]) Result[[]T] {
	out := make([]T, len(results))
	for i, r := range results {
		if !r.ok {
			return Err[[]T](fmt.Errorf("item %d: %w", i, r.err))
		}
		out[i] = r.val
	}
	return Ok(out)
}
