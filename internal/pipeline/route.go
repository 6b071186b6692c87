package pipeline

import (
	"context"

	"apicore/internal/pagination"
)

// Input is what a route handler receives once the earlier stages passed.
type Input struct {
	// Plan is set for paginated routes.
	Plan pagination.Plan
	Vars map[string]string
}

// Result is the payload of a successful handler.
type Result struct {
	Data       any
	Pagination *pagination.Meta
}

// HandlerFunc produces the payload of a route.
type HandlerFunc func(ctx context.Context, in Input) (Result, error)

// Route describes one endpoint.
type Route struct {
	// Class selects the endpoint class quota.
	Class string
	// Cost is the number of tokens one request consumes. Zero counts as one.
	Cost int
	// Sort is the sort allow-list of a collection. A nil Sort marks a
	// single resource route that skips the pagination stage.
	Sort   *pagination.Schema
	Handle HandlerFunc
}

// Paginated reports whether the route serves a collection.
func (r Route) Paginated() bool {
	return r.Sort != nil
}

func (r Route) cost() int {
	if r.Cost < 1 {
		return 1
	}
	return r.Cost
}

// Collection returns a handler that serves one page of exec per request.
func Collection[T any](exec pagination.Executor[T], keyOf pagination.KeyFunc[T]) HandlerFunc {
	return func(ctx context.Context, in Input) (Result, error) {
		page, err := pagination.Fetch(ctx, in.Plan, exec, keyOf)
		if err != nil {
			return Result{}, err
		}
		meta := page.Meta()
		return Result{Data: page.Items, Pagination: &meta}, nil
	}
}
