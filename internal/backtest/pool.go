package backtest

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// runAll runs n independent tasks with at most workers in flight.
//
// Cancellation is cooperative: once ctx is done no further task starts and
// the remaining ones are handed to skip. Tasks already started run to
// completion on a context that ignores the cancellation.
func runAll(ctx context.Context, workers, n int, task func(ctx context.Context, i int), skip func(i int, err error)) {
	var g errgroup.Group
	g.SetLimit(max(workers, 1))
	detached := context.WithoutCancel(ctx)

	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			skip(i, fmt.Errorf("%w: %w", ErrSkipped, err))
			continue
		}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				skip(i, fmt.Errorf("%w: %w", ErrSkipped, err))
				return nil
			}
			task(detached, i)
			return nil
		})
	}
	_ = g.Wait()
}

// progressCounter serialises the done count reported to a ProgressFunc.
type progressCounter struct {
	fn    ProgressFunc
	total int
	done  atomic.Int64
}

func (p *progressCounter) report(res *Result) {
	done := int(p.done.Add(1))
	if p.fn == nil {
		return
	}
	p.fn(Progress{
		Done:   done,
		Total:  p.total,
		Symbol: res.Symbol,
		Key:    res.Key(),
		Err:    res.Err,
	})
}
