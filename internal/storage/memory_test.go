package storage

import (
	"context"
	"errors"
	"sync"
	"testing"

	"apicore/internal/models"
	"apicore/internal/pagination"
)

func TestMemoryItems(t *testing.T) {
	items, err := NewMemoryItems(Config{Type: "memory"})
	if err != nil {
		t.Fatalf("NewMemoryItems error: %v", err)
	}
	defer items.Close()

	runItemsSuite(t, items)
}

func TestMemoryItems_ReturnsCopies(t *testing.T) {
	items, _ := NewMemoryItems(Config{})
	ctx := context.Background()

	item := models.Item{Name: "Widget", Category: "tools", Tags: []string{"red"}}
	if err := items.Save(ctx, &item); err != nil {
		t.Fatal(err)
	}
	item.Tags[0] = "mutated"

	got, _ := items.Get(ctx, item.ID)
	if got.Tags[0] != "red" {
		t.Errorf("stored item was modified through caller slice: %v", got.Tags)
	}

	got.Tags[0] = "mutated"
	again, _ := items.Get(ctx, item.ID)
	if again.Tags[0] != "red" {
		t.Errorf("stored item was modified through returned slice: %v", again.Tags)
	}
}

func TestMemoryItems_ExplicitIDAdvancesSequence(t *testing.T) {
	items, _ := NewMemoryItems(Config{})
	ctx := context.Background()

	if err := items.Save(ctx, &models.Item{ID: 10, Name: "Ten", Category: "tools"}); err != nil {
		t.Fatal(err)
	}
	next := models.Item{Name: "Next", Category: "tools"}
	if err := items.Save(ctx, &next); err != nil {
		t.Fatal(err)
	}
	if next.ID != 11 {
		t.Errorf("expected ID 11, got %d", next.ID)
	}
}

func TestMemoryItems_FetchHonoursCancellation(t *testing.T) {
	items, _ := NewMemoryItems(Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	order := ItemSchema.Order()
	_, err := items.Fetch(ctx, pagination.Query{Order: order, Limit: 10})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestMemoryItems_ConcurrentSaves(t *testing.T) {
	items, _ := NewMemoryItems(Config{})
	ctx := context.Background()

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			item := models.Item{Name: "Widget", Category: "tools"}
			if err := items.Save(ctx, &item); err != nil {
				t.Errorf("Save error: %v", err)
			}
		}()
	}
	wg.Wait()

	n, _ := items.Count(ctx)
	if n != 50 {
		t.Errorf("expected 50 items, got %d", n)
	}
}

func TestSelectPage_AfterLastItem(t *testing.T) {
	order := ItemSchema.Order()
	all := []models.Item{{ID: 1}, {ID: 2}}
	page := selectPage(all, pagination.Query{Order: order, After: []any{int64(2)}, Limit: 5})
	if len(page) != 0 {
		t.Errorf("expected empty page, got %v", page)
	}
}
