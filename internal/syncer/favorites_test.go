package syncer

import (
	"context"
	"slices"
	"testing"

	"github.com/ladle-app/ladle/internal/model"
)

func TestFavoritesDedupByID(t *testing.T) {
	f := newFixture(t)
	fav := f.newFavorites(t)

	fav.Add(model.FavoriteItem{ID: 1, Name: "Soup"})
	fav.Add(model.FavoriteItem{ID: 2, Name: "Pie"})
	fav.Add(model.FavoriteItem{ID: 1, Name: "Soup again"})
	fav.Remove(2)
	fav.Add(model.FavoriteItem{ID: 2, Name: "Pie"})
	fav.Add(model.FavoriteItem{ID: 2, Name: "Pie"})

	items := fav.Items()
	seen := make(map[int64]bool)
	for _, it := range items {
		if seen[it.ID] {
			t.Fatalf("duplicate id %d in %v", it.ID, items)
		}
		seen[it.ID] = true
	}
	if len(items) != 2 {
		t.Errorf("items = %v", items)
	}
	if items[0].Name != "Soup" {
		t.Errorf("first add did not win: %v", items)
	}
}

func TestFavoritesIsPresent(t *testing.T) {
	f := newFixture(t)
	fav := f.newFavorites(t)

	fav.Add(model.FavoriteItem{ID: 7, Name: "Stew"})
	if !fav.IsPresent(7) {
		t.Error("expected id 7 present")
	}
	if fav.IsPresent(8) {
		t.Error("expected id 8 absent")
	}
	fav.Remove(7)
	if fav.IsPresent(7) {
		t.Error("expected id 7 removed")
	}
}

func TestFavoritesAnonymousPersistence(t *testing.T) {
	f := newFixture(t)
	fav := f.newFavorites(t)

	fav.Add(model.FavoriteItem{ID: 1, Name: "Soup"})
	waitFor(t, "anonymous persist", func() bool {
		_, ok := anonRaw(t, f, "favorites")
		return ok
	})

	// A fresh controller over the same device store sees the data.
	fav2 := NewFavorites(f.kv, f.docs, f.session, f.options())
	fav2.Start()
	t.Cleanup(fav2.Close)
	waitFor(t, "reload", func() bool { return len(fav2.Items()) == 1 })

	if fav2.Items()[0].Name != "Soup" {
		t.Errorf("items = %v", fav2.Items())
	}
}

func TestMigrationOnFirstSignIn(t *testing.T) {
	f := newFixture(t)
	fav := f.newFavorites(t)

	fav.Add(model.FavoriteItem{ID: 1, Name: "Soup"})
	waitFor(t, "anonymous persist", func() bool {
		_, ok := anonRaw(t, f, "favorites")
		return ok
	})

	signIn(t, f, fav.Controller, "acct-U")

	// Local cache, remote document, and anonymous store all settle.
	items := fav.Items()
	if len(items) != 1 || items[0].ID != 1 || items[0].Name != "Soup" {
		t.Errorf("cache = %v", items)
	}
	remote := docField[model.FavoriteItem](t, f.docs, "acct-U", "favorites")
	if len(remote) != 1 || remote[0].Name != "Soup" {
		t.Errorf("remote = %v", remote)
	}
	if _, ok := anonRaw(t, f, "favorites"); ok {
		t.Error("anonymous store not cleared after migration")
	}
}

func TestSignInAdoptsExistingRemote(t *testing.T) {
	f := newFixture(t)
	fav := f.newFavorites(t)

	seedAnon(t, f, "favorites", []model.FavoriteItem{{ID: 9, Name: "Local"}})
	seedDoc(t, f.docs, "acct-U", "favorites", []model.FavoriteItem{{ID: 2, Name: "Pie"}})

	signIn(t, f, fav.Controller, "acct-U")

	// Remote has data of this kind: adopt as-is, no migration merge.
	if got := favNames(fav.Items()); !slices.Equal(got, []string{"Pie"}) {
		t.Errorf("cache = %v", got)
	}
	if _, ok := anonRaw(t, f, "favorites"); !ok {
		t.Error("anonymous store should be untouched without migration")
	}
}

func TestManualSyncMergesRemoteWins(t *testing.T) {
	f := newFixture(t)
	fav := f.newFavorites(t)

	seedAnon(t, f, "favorites", []model.FavoriteItem{
		{ID: 2, Name: "OldPie"},
		{ID: 3, Name: "Cake"},
	})
	seedDoc(t, f.docs, "acct-U", "favorites", []model.FavoriteItem{{ID: 2, Name: "Pie"}})

	signIn(t, f, fav.Controller, "acct-U")

	if err := fav.Sync(context.Background()); err != nil {
		t.Fatalf("sync: %v", err)
	}

	want := []string{"Pie", "Cake"}
	if got := favNames(fav.Items()); !slices.Equal(got, want) {
		t.Errorf("cache = %v, want %v", got, want)
	}
	remote := docField[model.FavoriteItem](t, f.docs, "acct-U", "favorites")
	if got := favNames(remote); !slices.Equal(got, want) {
		t.Errorf("remote = %v, want %v", got, want)
	}
	if _, ok := anonRaw(t, f, "favorites"); ok {
		t.Error("anonymous store not cleared after sync")
	}

	// Second run with no local changes must not alter the result.
	if err := fav.Sync(context.Background()); err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if got := favNames(fav.Items()); !slices.Equal(got, want) {
		t.Errorf("cache after second sync = %v, want %v", got, want)
	}
}

func TestSyncRequiresSignIn(t *testing.T) {
	f := newFixture(t)
	fav := f.newFavorites(t)

	if err := fav.Sync(context.Background()); err != ErrNotSignedIn {
		t.Errorf("err = %v, want ErrNotSignedIn", err)
	}
}

func TestSignOutRestoresAnonymous(t *testing.T) {
	f := newFixture(t)
	fav := f.newFavorites(t)

	signIn(t, f, fav.Controller, "acct-U")
	fav.Add(model.FavoriteItem{ID: 5, Name: "Remote only"})
	waitFor(t, "remote persist", func() bool {
		return len(docField[model.FavoriteItem](t, f.docs, "acct-U", "favorites")) == 1
	})

	signOut(t, f, fav.Controller)

	if len(fav.Items()) != 0 {
		t.Errorf("anonymous cache = %v, want empty", fav.Items())
	}
	if fav.SignedIn() {
		t.Error("still signed in")
	}
}
