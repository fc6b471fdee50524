// Package cacheaside runs the read path shared by every catalog endpoint:
// serve the store when it is good enough, otherwise refresh from upstream and
// fall back to whatever the store had.
package cacheaside

import (
	"context"
	"errors"
)

// Outcome names the branch a Fetch took.
type Outcome string

const (
	Hit       Outcome = "hit"
	Refreshed Outcome = "refreshed"
	Degraded  Outcome = "degraded"
	Failed    Outcome = "failed"
)

// Plan wires one endpoint into Fetch.
//
// Load reports whether anything was cached. Enough decides whether the
// cached value can be served as is. Upstream and Persist run only on a miss.
// Stale is optional and runs only after a failed refresh; it loads without the
// freshness bound Load applies and wins over Load's value when it finds any.
type Plan[T any] struct {
	Load     func(ctx context.Context) (T, bool, error)
	Enough   func(T) bool
	Upstream func(ctx context.Context) (T, error)
	Persist  func(ctx context.Context, fetched T) (T, error)
	Stale    func(ctx context.Context) (T, bool, error)
}

// Result carries the value and the branch taken. Cause is the refresh error
// behind a Degraded result.
type Result[T any] struct {
	Value   T
	Outcome Outcome
	Cause   error
}

// Fetch returns an error only when the refresh failed and nothing was cached.
// A failing Load is treated as a miss.
func Fetch[T any](ctx context.Context, p Plan[T]) (Result[T], error) {
	cached, found, loadErr := p.Load(ctx)
	if loadErr != nil {
		found = false
	}
	if found && p.Enough(cached) {
		return Result[T]{Value: cached, Outcome: Hit}, nil
	}

	value, err := refresh(ctx, p)
	if err == nil {
		return Result[T]{Value: value, Outcome: Refreshed}, nil
	}
	if p.Stale != nil {
		if stale, ok, staleErr := p.Stale(ctx); staleErr == nil && ok {
			return Result[T]{Value: stale, Outcome: Degraded, Cause: err}, nil
		}
	}
	if found {
		return Result[T]{Value: cached, Outcome: Degraded, Cause: err}, nil
	}
	if loadErr != nil {
		err = errors.Join(err, loadErr)
	}
	var zero T
	return Result[T]{Value: zero, Outcome: Failed, Cause: err}, err
}

func refresh[T any](ctx context.Context, p Plan[T]) (T, error) {
	fetched, err := p.Upstream(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	if p.Persist == nil {
		return fetched, nil
	}
	return p.Persist(ctx, fetched)
}
