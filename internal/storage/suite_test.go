package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"apicore/internal/models"
	"apicore/internal/pagination"
)

var suiteBase = time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)

// seedSuite stores five items whose names and timestamps do not follow
// their IDs, so that every sort order produces a different sequence.
func seedSuite(t *testing.T, items Items) {
	t.Helper()
	fixtures := []models.Item{
		{Name: "delta", Category: "tools", Tags: []string{"a"}, CreatedAt: suiteBase.Add(3 * time.Hour)},
		{Name: "alpha", Category: "books", Tags: []string{"b", "c"}, CreatedAt: suiteBase.Add(1 * time.Hour)},
		{Name: "charlie", Category: "tools", CreatedAt: suiteBase.Add(5 * time.Hour)},
		{Name: "bravo", Category: "books", Tags: []string{"d"}, CreatedAt: suiteBase.Add(1 * time.Hour)},
		{Name: "echo", Category: "garden", CreatedAt: suiteBase},
	}
	for i := range fixtures {
		if err := items.Save(context.Background(), &fixtures[i]); err != nil {
			t.Fatalf("Save(%s) error: %v", fixtures[i].Name, err)
		}
		if fixtures[i].ID == 0 {
			t.Fatalf("Save(%s) did not assign an ID", fixtures[i].Name)
		}
	}
}

func names(items []models.Item) []string {
	out := make([]string, len(items))
	for i, item := range items {
		out[i] = item.Name
	}
	return out
}

func equalNames(t *testing.T, got []models.Item, want ...string) {
	t.Helper()
	g := names(got)
	if len(g) != len(want) {
		t.Fatalf("expected %v, got %v", want, g)
	}
	for i := range want {
		if g[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, g)
		}
	}
}

// collect pages through items with the paginator and returns every item
// in presentation order.
func collect(t *testing.T, items Items, order pagination.Order, limit int) []models.Item {
	t.Helper()
	p := pagination.New(limit, 100)

	var (
		all    []models.Item
		cursor string
	)
	for range 20 {
		page, err := pagination.Resolve[models.Item](context.Background(), p, pagination.PageRequest{
			Cursor: cursor,
			Limit:  limit,
			Order:  order,
		}, items, ItemKey)
		if err != nil {
			t.Fatalf("Resolve error: %v", err)
		}
		all = append(all, page.Items...)
		if !page.HasMore {
			return all
		}
		cursor = page.NextCursor
	}
	t.Fatal("pagination did not terminate")
	return nil
}

// runItemsSuite exercises the behaviour every Items backend must share.
func runItemsSuite(t *testing.T, items Items) {
	ctx := context.Background()
	seedSuite(t, items)

	t.Run("Count", func(t *testing.T) {
		n, err := items.Count(ctx)
		if err != nil {
			t.Fatalf("Count error: %v", err)
		}
		if n != 5 {
			t.Errorf("expected 5 items, got %d", n)
		}
	})

	t.Run("Get", func(t *testing.T) {
		got, err := items.Get(ctx, 2)
		if err != nil {
			t.Fatalf("Get error: %v", err)
		}
		if got.Name != "alpha" || got.Category != "books" {
			t.Errorf("unexpected item %+v", got)
		}
		if len(got.Tags) != 2 || got.Tags[1] != "c" {
			t.Errorf("expected tags [b c], got %v", got.Tags)
		}
		if !got.CreatedAt.Equal(suiteBase.Add(time.Hour)) {
			t.Errorf("expected created_at %v, got %v", suiteBase.Add(time.Hour), got.CreatedAt)
		}
	})

	t.Run("GetMissing", func(t *testing.T) {
		_, err := items.Get(ctx, 999)
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("FetchByID", func(t *testing.T) {
		order := ItemSchema.Order()
		got, err := items.Fetch(ctx, pagination.Query{Order: order, Limit: 3})
		if err != nil {
			t.Fatalf("Fetch error: %v", err)
		}
		equalNames(t, got, "delta", "alpha", "charlie")
	})

	t.Run("FetchAfter", func(t *testing.T) {
		order := ItemSchema.Order()
		got, err := items.Fetch(ctx, pagination.Query{Order: order, After: []any{int64(3)}, Limit: 10})
		if err != nil {
			t.Fatalf("Fetch error: %v", err)
		}
		equalNames(t, got, "bravo", "echo")
	})

	t.Run("PagesByName", func(t *testing.T) {
		order := ItemSchema.Order(pagination.SortField{Name: "name"})
		equalNames(t, collect(t, items, order, 2), "alpha", "bravo", "charlie", "delta", "echo")
	})

	t.Run("PagesByCreatedAtDescending", func(t *testing.T) {
		order := ItemSchema.Order(pagination.SortField{Name: "created_at", Desc: true})
		// alpha and bravo share a timestamp; the ID tie-break keeps alpha first.
		equalNames(t, collect(t, items, order, 2), "charlie", "delta", "alpha", "bravo", "echo")
	})

	t.Run("PagesByCategoryThenName", func(t *testing.T) {
		order := ItemSchema.Order(pagination.SortField{Name: "category"}, pagination.SortField{Name: "name", Desc: true})
		equalNames(t, collect(t, items, order, 3), "bravo", "alpha", "echo", "delta", "charlie")
	})

	t.Run("SaveUpdatesExisting", func(t *testing.T) {
		item, err := items.Get(ctx, 5)
		if err != nil {
			t.Fatal(err)
		}
		item.Name = "echo prime"
		if err := items.Save(ctx, &item); err != nil {
			t.Fatalf("Save error: %v", err)
		}
		got, err := items.Get(ctx, 5)
		if err != nil {
			t.Fatal(err)
		}
		if got.Name != "echo prime" {
			t.Errorf("expected updated name, got %q", got.Name)
		}
		if n, _ := items.Count(ctx); n != 5 {
			t.Errorf("update should not add items, count is %d", n)
		}
	})

	t.Run("SaveRejectsInvalid", func(t *testing.T) {
		err := items.Save(ctx, &models.Item{Name: "", Category: "tools"})
		if err == nil {
			t.Error("expected validation error")
		}
	})

	t.Run("Ping", func(t *testing.T) {
		if err := items.Ping(ctx); err != nil {
			t.Errorf("Ping error: %v", err)
		}
	})
}
