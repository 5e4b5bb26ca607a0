package syncer

import (
	"context"
	"slices"
	"strings"

	"github.com/ladle-app/ladle/internal/auth"
	"github.com/ladle-app/ladle/internal/docstore"
	"github.com/ladle-app/ladle/internal/model"
)

// Grocery is the sync controller for the grocery list. Identity for dedup
// and merge is the case-insensitive, trimmed ingredient name; at most one
// unchecked entry may exist per name.
type Grocery struct {
	*Controller[model.GroceryItem]
}

func NewGrocery(kv KV, docs docstore.Store, sessions auth.Watcher, opts Options) *Grocery {
	col := Collection[model.GroceryItem]{
		Field: "grocery",
		Key: func(it model.GroceryItem) string {
			return model.NormalizeName(it.Name)
		},
		Normalize: normalizeGroceryItem,
	}
	return &Grocery{newController(col, kv, docs, sessions, opts)}
}

// normalizeGroceryItem repairs items read from either store: a missing ID is
// regenerated and a missing timestamp becomes now. FlexTime already absorbed
// whatever wire shape the timestamp arrived in.
func normalizeGroceryItem(it model.GroceryItem) model.GroceryItem {
	if it.ID == "" {
		it.ID = model.NewGroceryItemID()
	}
	if it.AddedAt.IsZero() {
		it.AddedAt = model.Now()
	}
	return it
}

// Add puts an ingredient on the list. If an unchecked entry with the same
// name (case-insensitive, trimmed) already exists this is a no-op; if only a
// checked entry exists it is reactivated (unchecked) instead of adding a
// second row.
func (g *Grocery) Add(name string) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return
	}
	key := model.NormalizeName(trimmed)

	g.Mutate(func(items []model.GroceryItem) ([]model.GroceryItem, bool) {
		checkedIdx := -1
		for i, it := range items {
			if model.NormalizeName(it.Name) != key {
				continue
			}
			if !it.Checked {
				return items, false
			}
			if checkedIdx < 0 {
				checkedIdx = i
			}
		}
		if checkedIdx >= 0 {
			next := slices.Clone(items)
			next[checkedIdx].Checked = false
			return next, true
		}
		return append(slices.Clone(items), model.GroceryItem{
			ID:      model.NewGroceryItemID(),
			Name:    trimmed,
			AddedAt: model.Now(),
		}), true
	})
}

// Toggle flips an item's checked state.
func (g *Grocery) Toggle(id string) {
	g.Mutate(func(items []model.GroceryItem) ([]model.GroceryItem, bool) {
		for i, it := range items {
			if it.ID == id {
				next := slices.Clone(items)
				next[i].Checked = !next[i].Checked
				return next, true
			}
		}
		return items, false
	})
}

// Remove deletes an item by ID.
func (g *Grocery) Remove(id string) {
	g.Mutate(func(items []model.GroceryItem) ([]model.GroceryItem, bool) {
		next := slices.DeleteFunc(slices.Clone(items), func(it model.GroceryItem) bool {
			return it.ID == id
		})
		return next, len(next) != len(items)
	})
}

// RemoveByName deletes every entry matching the name, case-insensitively.
// Recipe screens use this to take an ingredient off the list without
// knowing its ID.
func (g *Grocery) RemoveByName(name string) {
	key := model.NormalizeName(name)
	if key == "" {
		return
	}
	g.Mutate(func(items []model.GroceryItem) ([]model.GroceryItem, bool) {
		next := slices.DeleteFunc(slices.Clone(items), func(it model.GroceryItem) bool {
			return model.NormalizeName(it.Name) == key
		})
		return next, len(next) != len(items)
	})
}

// ClearChecked removes every checked item. The persist runs before this
// returns so the caller can surface a retry on failure.
func (g *Grocery) ClearChecked(ctx context.Context) error {
	return g.MutateFlush(ctx, func(items []model.GroceryItem) ([]model.GroceryItem, bool) {
		next := slices.DeleteFunc(slices.Clone(items), func(it model.GroceryItem) bool {
			return it.Checked
		})
		return next, len(next) != len(items)
	})
}

// ClearAll empties the list. Persists before returning, like ClearChecked.
func (g *Grocery) ClearAll(ctx context.Context) error {
	return g.MutateFlush(ctx, func(items []model.GroceryItem) ([]model.GroceryItem, bool) {
		return nil, len(items) != 0
	})
}
