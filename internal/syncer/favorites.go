package syncer

import (
	"slices"
	"strconv"

	"github.com/ladle-app/ladle/internal/auth"
	"github.com/ladle-app/ladle/internal/docstore"
	"github.com/ladle-app/ladle/internal/model"
)

// Favorites is the sync controller for saved recipes. Identity is the
// recipe API's ID: a collection never holds two entries with the same ID.
type Favorites struct {
	*Controller[model.FavoriteItem]
}

func NewFavorites(kv KV, docs docstore.Store, sessions auth.Watcher, opts Options) *Favorites {
	col := Collection[model.FavoriteItem]{
		Field: "favorites",
		Key: func(it model.FavoriteItem) string {
			return strconv.FormatInt(it.ID, 10)
		},
	}
	return &Favorites{newController(col, kv, docs, sessions, opts)}
}

// Add saves a recipe. Adding an already-saved recipe is a no-op.
func (f *Favorites) Add(item model.FavoriteItem) {
	f.Mutate(func(items []model.FavoriteItem) ([]model.FavoriteItem, bool) {
		for _, cur := range items {
			if cur.ID == item.ID {
				return items, false
			}
		}
		return append(slices.Clone(items), item), true
	})
}

// Remove unsaves a recipe by ID.
func (f *Favorites) Remove(id int64) {
	f.Mutate(func(items []model.FavoriteItem) ([]model.FavoriteItem, bool) {
		next := slices.DeleteFunc(slices.Clone(items), func(it model.FavoriteItem) bool {
			return it.ID == id
		})
		return next, len(next) != len(items)
	})
}

// IsPresent reports whether the recipe is currently saved.
func (f *Favorites) IsPresent(id int64) bool {
	for _, it := range f.Items() {
		if it.ID == id {
			return true
		}
	}
	return false
}
