package marks

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

const DefaultBulkConcurrency = 8

// Atomicity is the failure policy of a bulk upsert.
type Atomicity string

const (
	// AtomicityPartial writes every valid element; failures are reported per element and
	// never undo the writes of their siblings.
	AtomicityPartial Atomicity = "partial"
	// AtomicityAllOrNothing runs the batch in a single store transaction: the first failure
	// discards every write of the batch.
	AtomicityAllOrNothing Atomicity = "all_or_nothing"
)

func ParseAtomicity(s string) (Atomicity, error) {
	switch Atomicity(s) {
	case "", AtomicityPartial:
		return AtomicityPartial, nil
	case AtomicityAllOrNothing:
		return AtomicityAllOrNothing, nil
	}
	return "", fmt.Errorf("unknown atomicity %q", s)
}

// BatchStrategy calls fn once for every index in [0, n).
// Unless failFast is set, an error returned by fn does not stop the remaining calls.
// Apply returns the first fn error when failFast is set, else ctx.Err().
type BatchStrategy interface {
	Name() string
	Apply(ctx context.Context, n int, failFast bool, fn func(ctx context.Context, i int) error) error
}

// Sequential processes elements one after the other, in input order.
type Sequential struct{}

func (Sequential) Name() string { return "sequential" }

func (Sequential) Apply(ctx context.Context, n int, failFast bool, fn func(ctx context.Context, i int) error) error {
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(ctx, i); err != nil && failFast {
			return err
		}
	}
	return nil
}

// FanOut processes up to Concurrency elements at a time.
type FanOut struct {
	Concurrency int
}

func (FanOut) Name() string { return "fanout" }

func (s FanOut) Apply(ctx context.Context, n int, failFast bool, fn func(ctx context.Context, i int) error) error {
	limit := s.Concurrency
	if limit <= 0 {
		limit = DefaultBulkConcurrency
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			if err := fn(gctx, i); err != nil && failFast {
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

func ParseBatchStrategy(name string, concurrency int) (BatchStrategy, error) {
	switch name {
	case "", "sequential":
		return Sequential{}, nil
	case "fanout":
		return FanOut{Concurrency: concurrency}, nil
	}
	return nil, fmt.Errorf("unknown bulk strategy %q", name)
}
