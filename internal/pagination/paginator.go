// Package pagination implements keyset pagination with opaque cursors.
//
// A page is resolved in two calls: Prepare validates the request and turns
// the cursor into a Plan, and Fetch runs the plan against an Executor and
// builds the cursor for the following page. Resolve does both.
package pagination

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"apicore/internal/apierror"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Query is what an Executor must return: up to Limit items ordered by
// Order, strictly after the sort key After when it is set.
type Query struct {
	Order Order
	After []any
	Limit int
}

//go:generate mockgen -source=paginator.go -destination=../mock/executor_mock.go -package=mock

// Executor runs ordered keyset queries against a collection.
type Executor[T any] interface {
	Fetch(ctx context.Context, q Query) ([]T, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc[T any] func(ctx context.Context, q Query) ([]T, error)

func (f ExecutorFunc[T]) Fetch(ctx context.Context, q Query) ([]T, error) {
	return f(ctx, q)
}

// KeyFunc returns the sort key of an item for the given order.
type KeyFunc[T any] func(item T, order Order) []any

// PageRequest is a client page request after query parsing.
type PageRequest struct {
	Cursor string
	Limit  int
	Order  Order
}

// Page is one slice of a collection. HasMore is true exactly when
// NextCursor is set.
type Page[T any] struct {
	Items      []T
	NextCursor string
	HasMore    bool
}

// Meta is the pagination block of a collection response body.
type Meta struct {
	NextCursor *string `json:"nextCursor"`
	HasMore    bool    `json:"hasMore"`
}

func (p Page[T]) Meta() Meta {
	m := Meta{HasMore: p.HasMore}
	if p.NextCursor != "" {
		next := p.NextCursor
		m.NextCursor = &next
	}
	return m
}

// Plan is a validated page request.
type Plan struct {
	// Order is the presentation order requested by the client.
	Order     Order
	Direction Direction
	After     []any
	Limit     int
}

// Query returns the executor query for the plan. Backward plans query in
// the reverse order and fetch one extra item to detect a following page.
func (p Plan) Query() Query {
	order := p.Order
	if p.Direction == Backward {
		order = order.Reverse()
	}
	return Query{Order: order, After: p.After, Limit: p.Limit + 1}
}

// Paginator holds the page size bounds.
type Paginator struct {
	defaultSize int
	maxSize     int
}

// New creates a Paginator. Non-positive sizes fall back to the package
// defaults and the default size never exceeds the maximum.
func New(defaultSize, maxSize int) *Paginator {
	if maxSize <= 0 {
		maxSize = MaxPageSize
	}
	if defaultSize <= 0 {
		defaultSize = DefaultPageSize
	}
	if defaultSize > maxSize {
		defaultSize = maxSize
	}
	return &Paginator{defaultSize: defaultSize, maxSize: maxSize}
}

// Clamp bounds limit to [1, max]. A limit below one selects the default
// page size.
func (p *Paginator) Clamp(limit int) int {
	if limit < 1 {
		return p.defaultSize
	}
	if limit > p.maxSize {
		return p.maxSize
	}
	return limit
}

// Prepare validates req. A cursor that does not decode against req.Order
// yields an InvalidCursor error.
func (p *Paginator) Prepare(req PageRequest) (Plan, error) {
	if len(req.Order) == 0 {
		return Plan{}, errors.New("page request has no sort order")
	}
	plan := Plan{Order: req.Order, Direction: Forward, Limit: p.Clamp(req.Limit)}
	if req.Cursor == "" {
		return plan, nil
	}

	cursor, err := Decode(req.Cursor, req.Order)
	if err != nil {
		return Plan{}, apierror.NewInvalidCursor(err)
	}
	plan.Direction = cursor.Direction
	plan.After = cursor.Values
	return plan, nil
}

// Fetch runs plan against exec. Items come back in presentation order; the
// next cursor continues in the direction of the plan from the last item
// fetched before the cut.
func Fetch[T any](ctx context.Context, plan Plan, exec Executor[T], keyOf KeyFunc[T]) (Page[T], error) {
	q := plan.Query()
	items, err := exec.Fetch(ctx, q)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return Page[T]{}, apierror.NewUpstream(apierror.UpstreamTimeout, "query timed out", err)
		}
		return Page[T]{}, fmt.Errorf("fetch page: %w", err)
	}

	page := Page[T]{Items: items}
	if page.Items == nil {
		page.Items = []T{}
	}
	if len(items) > plan.Limit {
		page.Items = items[:plan.Limit]
		boundary := page.Items[len(page.Items)-1]
		next, err := Encode(plan.Order, plan.Direction, keyOf(boundary, plan.Order))
		if err != nil {
			return Page[T]{}, fmt.Errorf("build next cursor: %w", err)
		}
		page.NextCursor = next
		page.HasMore = true
	}
	if plan.Direction == Backward {
		page.Items = slices.Clone(page.Items)
		slices.Reverse(page.Items)
	}
	return page, nil
}

// Resolve prepares req and fetches the page.
func Resolve[T any](ctx context.Context, p *Paginator, req PageRequest, exec Executor[T], keyOf KeyFunc[T]) (Page[T], error) {
	plan, err := p.Prepare(req)
	if err != nil {
		return Page[T]{}, err
	}
	return Fetch(ctx, plan, exec, keyOf)
}

// ParseLimit parses the limit query parameter. An empty value selects the
// default page size; anything that is not an integer is a validation error.
func ParseLimit(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apierror.NewValidation(apierror.FieldError{
			Field:         "limit",
			Message:       "limit must be an integer",
			Code:          apierror.CodeInvalidInteger,
			RejectedValue: raw,
		})
	}
	return n, nil
}
