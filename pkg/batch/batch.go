// Package batch runs an operation over many items in fixed-size concurrent waves.
//
// Every item of a wave is dispatched at once; the next wave starts only after
// every member of the current one has settled. A failing item never cancels
// its siblings or later waves. Dispatch stops early only when the caller's
// context is done or an item fails with an error reporting Fatal() == true.
package batch

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"
)

// DefaultWaveSize is the number of operations dispatched together.
const DefaultWaveSize = 6

// Failure is one item whose operation returned an error.
type Failure[T any] struct {
	Item T
	Err  error
}

// Report summarizes a run.
type Report[T any] struct {
	// Attempted counts items whose operation was dispatched.
	Attempted int
	// Succeeded holds items that returned nil, in input order.
	Succeeded []T
	// Failures holds items that returned an error, in input order.
	Failures []Failure[T]
	// Waves is the number of waves dispatched.
	Waves int
	// Stopped is the reason dispatch ended before every item was attempted, or nil.
	Stopped error
}

// Skipped returns how many items were never attempted.
func (r Report[T]) Skipped(total int) int {
	return total - r.Attempted
}

type fatal interface {
	Fatal() bool
}

// IsFatal reports whether err asks the run to stop dispatching further waves.
func IsFatal(err error) bool {
	var f fatal
	return errors.As(err, &f) && f.Fatal()
}

// RunWaves applies fn to items, at most size at a time. size <= 0 uses DefaultWaveSize.
// Items are partitioned in order, so wave k holds items[k*size : (k+1)*size].
func RunWaves[T any](ctx context.Context, items []T, size int, fn func(context.Context, T) error) Report[T] {
	if size <= 0 {
		size = DefaultWaveSize
	}

	var report Report[T]
	errs := make([]error, len(items))

	for start := 0; start < len(items); start += size {
		if err := ctx.Err(); err != nil {
			report.Stopped = err
			break
		}

		end := min(start+size, len(items))

		// errgroup.Group without a derived context: one member's error must not cancel the others.
		var g errgroup.Group
		for i := start; i < end; i++ {
			g.Go(func() error {
				errs[i] = fn(ctx, items[i])
				return nil
			})
		}
		_ = g.Wait()

		report.Waves++
		report.Attempted = end

		if err := firstFatal(errs[start:end]); err != nil {
			report.Stopped = err
			break
		}
	}

	for i := 0; i < report.Attempted; i++ {
		if errs[i] != nil {
			report.Failures = append(report.Failures, Failure[T]{Item: items[i], Err: errs[i]})
			continue
		}
		report.Succeeded = append(report.Succeeded, items[i])
	}

	return report
}

func firstFatal(errs []error) error {
	for _, err := range errs {
		if err != nil && IsFatal(err) {
			return err
		}
	}
	return nil
}
