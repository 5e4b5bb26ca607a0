package syncer

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/ladle-app/ladle/internal/auth"
	"github.com/ladle-app/ladle/internal/database"
	"github.com/ladle-app/ladle/internal/docstore"
	"github.com/ladle-app/ladle/internal/localstore"
	"github.com/ladle-app/ladle/internal/model"
)

const testDebounce = 15 * time.Millisecond

type fixture struct {
	kv      *localstore.Store
	docs    *docstore.Memory
	session *auth.Static
	notices chan Notice
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	return &fixture{
		kv:      localstore.New(db),
		docs:    docstore.NewMemory(),
		session: auth.NewStatic(),
		notices: make(chan Notice, 16),
	}
}

func (f *fixture) options() Options {
	return Options{
		Debounce: testDebounce,
		ClientID: "this-device",
		Logger:   slog.New(slog.DiscardHandler),
		OnNotice: func(n Notice) {
			select {
			case f.notices <- n:
			default:
			}
		},
	}
}

func (f *fixture) newFavorites(t *testing.T) *Favorites {
	t.Helper()
	fav := NewFavorites(f.kv, f.docs, f.session, f.options())
	fav.Start()
	t.Cleanup(fav.Close)
	waitFor(t, "initial load", func() bool { return !fav.Loading() })
	return fav
}

func (f *fixture) newGrocery(t *testing.T) *Grocery {
	t.Helper()
	g := NewGrocery(f.kv, f.docs, f.session, f.options())
	g.Start()
	t.Cleanup(g.Close)
	waitFor(t, "initial load", func() bool { return !g.Loading() })
	return g
}

// signIn drives a session transition and waits for the controller to finish
// switching stores.
func signIn[T any](t *testing.T, f *fixture, c *Controller[T], account string) {
	t.Helper()
	f.session.SignIn(account)
	waitFor(t, "sign-in settled", func() bool {
		return c.SignedIn() && !c.Loading()
	})
}

func signOut[T any](t *testing.T, f *fixture, c *Controller[T]) {
	t.Helper()
	f.session.SignOut()
	waitFor(t, "sign-out settled", func() bool {
		return !c.SignedIn() && !c.Loading()
	})
}

func waitFor(t *testing.T, desc string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", desc)
}

// docField decodes one field of an owner's in-memory document.
func docField[T any](t *testing.T, m *docstore.Memory, owner, field string) []T {
	t.Helper()
	doc, err := m.Get(context.Background(), owner)
	if err != nil {
		t.Fatalf("get document %s: %v", owner, err)
	}
	raw, ok := doc.Fields[field]
	if !ok {
		return nil
	}
	var items []T
	if err := json.Unmarshal(raw, &items); err != nil {
		t.Fatalf("decode field %s: %v", field, err)
	}
	return items
}

func seedDoc(t *testing.T, m *docstore.Memory, owner, field string, items any) {
	t.Helper()
	raw, err := json.Marshal(items)
	if err != nil {
		t.Fatalf("marshal seed: %v", err)
	}
	m.Inject(owner, map[string]json.RawMessage{field: raw})
}

func seedAnon(t *testing.T, f *fixture, key string, items any) {
	t.Helper()
	raw, err := json.Marshal(items)
	if err != nil {
		t.Fatalf("marshal seed: %v", err)
	}
	if err := f.kv.Set(context.Background(), key, string(raw)); err != nil {
		t.Fatalf("seed anonymous store: %v", err)
	}
}

func anonRaw(t *testing.T, f *fixture, key string) (string, bool) {
	t.Helper()
	value, ok, err := f.kv.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("read anonymous store: %v", err)
	}
	return value, ok
}

func favNames(items []model.FavoriteItem) []string {
	names := make([]string, len(items))
	for i, it := range items {
		names[i] = it.Name
	}
	return names
}
