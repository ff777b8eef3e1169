package nutrition

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"macrolog/internal/meal"
)

// Fan-out limits for resolving a whole meal. The concurrency cap keeps us
// under the nutrition API's rate limit; the ceiling bounds how long a user
// waits for a reply no matter how slow individual lookups are.
const (
	defaultConcurrency = 4
	defaultCeiling     = 10 * time.Second
)

// Aggregator resolves all items of a meal concurrently and sums the results.
type Aggregator struct {
	Resolver *Resolver
	// Concurrency caps in-flight resolutions. Defaults to 4.
	Concurrency int
	// Ceiling bounds the wall-clock time of the whole fan-out. Items still
	// pending at the ceiling come back unresolved. Defaults to 10s.
	Ceiling time.Duration
}

// Aggregate resolves every item and merges the results in submission order.
// It never returns an error: an all-unresolved meal yields zero totals and a
// full unresolved list.
func (a *Aggregator) Aggregate(ctx context.Context, items []meal.Item) Aggregate {
	ceiling := a.Ceiling
	if ceiling <= 0 {
		ceiling = defaultCeiling
	}
	concurrency := a.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}

	ctx, cancel := context.WithTimeout(ctx, ceiling)
	defer cancel()

	results := make([]Resolved, len(items))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, item := range items {
		g.Go(func() error {
			// Resolve absorbs all failures, including the deadline firing,
			// into an unresolved result.
			results[i] = a.Resolver.Resolve(ctx, item)
			return nil
		})
	}
	g.Wait()

	var agg Aggregate
	for _, r := range results {
		agg.merge(r)
	}
	return agg
}
