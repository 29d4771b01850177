package resilience

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// ParallelMap runs mapper over items with bounded concurrency. Results keep
// the input order. The first mapper error cancels the remaining work and is
// returned; in-flight mappers observe the cancellation via their context.
func ParallelMap[T any, R any](ctx context.Context, items []T, concurrency int, mapper func(ctx context.Context, item T) (R, error)) ([]R, error) {
	if concurrency <= 0 {
		concurrency = 1
	}

	results := make([]R, len(items))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for i, item := range items {
		g.Go(func() error {
			r, err := mapper(gctx, item)
			if err != nil {
				return err
			}
			results[i] = r
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
