package bridge

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	ws "github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/ladle-app/ladle/internal/auth"
	"github.com/ladle-app/ladle/internal/database"
	"github.com/ladle-app/ladle/internal/docstore"
	"github.com/ladle-app/ladle/internal/localstore"
	"github.com/ladle-app/ladle/internal/model"
	"github.com/ladle-app/ladle/internal/syncer"
)

type fixture struct {
	srv       *Server
	favorites *syncer.Favorites
	grocery   *syncer.Grocery
	account   *auth.Client
	docs      *docstore.Memory
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.DiscardHandler)
	kv := localstore.New(db)
	docs := docstore.NewMemory()
	account := auth.NewClient(logger)

	opts := syncer.Options{
		Debounce: 10 * time.Millisecond,
		ClientID: "bridge-test",
		Logger:   logger,
	}
	favorites := syncer.NewFavorites(kv, docs, account, opts)
	grocery := syncer.NewGrocery(kv, docs, account, opts)
	favorites.Start()
	grocery.Start()
	t.Cleanup(func() {
		favorites.Close()
		grocery.Close()
	})

	srv := New(favorites, grocery, account, NewHub(logger), logger)
	srv.Start()
	t.Cleanup(srv.Stop)

	f := &fixture{srv: srv, favorites: favorites, grocery: grocery, account: account, docs: docs}
	f.waitFor(t, func() bool { return !favorites.Loading() && !grocery.Loading() })
	return f
}

func (f *fixture) waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	f.srv.Router().ServeHTTP(rec, req)
	return rec
}

func makeToken(t *testing.T, sub, email string) string {
	t.Helper()
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none","typ":"JWT"}`))
	payload, err := json.Marshal(map[string]any{
		"sub":   sub,
		"email": email,
		"exp":   time.Now().Add(time.Hour).Unix(),
	})
	if err != nil {
		t.Fatalf("marshal claims: %v", err)
	}
	return header + "." + base64.RawURLEncoding.EncodeToString(payload) + "."
}

func TestHealth(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("health returned %d", rec.Code)
	}
}

func TestFavoritesRoundTrip(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/favorites", `{"id":42,"name":"Tomato Soup","image":"soup.jpg"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("add returned %d: %s", rec.Code, rec.Body.String())
	}

	rec = f.do(t, http.MethodGet, "/api/favorites", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list returned %d", rec.Code)
	}
	var items []model.FavoriteItem
	if err := json.Unmarshal(rec.Body.Bytes(), &items); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(items) != 1 || items[0].ID != 42 || items[0].Name != "Tomato Soup" {
		t.Fatalf("unexpected list %+v", items)
	}

	rec = f.do(t, http.MethodDelete, "/api/favorites/42", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete returned %d", rec.Code)
	}
	if got := len(f.favorites.Items()); got != 0 {
		t.Fatalf("expected empty favorites, got %d items", got)
	}
}

func TestFavoritesAddValidation(t *testing.T) {
	f := newFixture(t)

	for _, body := range []string{`not json`, `{"name":"No ID"}`, `{"id":7}`} {
		rec := f.do(t, http.MethodPost, "/api/favorites", body)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("body %q returned %d, want 400", body, rec.Code)
		}
	}
}

func TestGroceryCheckAndRemove(t *testing.T) {
	f := newFixture(t)

	if rec := f.do(t, http.MethodPost, "/api/grocery", `{"name":"Milk"}`); rec.Code != http.StatusCreated {
		t.Fatalf("add returned %d", rec.Code)
	}

	items := f.grocery.Items()
	if len(items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(items))
	}
	id := items[0].ID

	if rec := f.do(t, http.MethodPost, "/api/grocery/"+id+"/check", ""); rec.Code != http.StatusNoContent {
		t.Fatalf("check returned %d", rec.Code)
	}
	if got := f.grocery.Items(); !got[0].Checked {
		t.Fatal("item should be checked")
	}

	if rec := f.do(t, http.MethodDelete, "/api/grocery/"+id, ""); rec.Code != http.StatusNoContent {
		t.Fatalf("remove returned %d", rec.Code)
	}
	if got := len(f.grocery.Items()); got != 0 {
		t.Fatalf("expected empty list, got %d items", got)
	}
}

func TestGroceryRemoveByName(t *testing.T) {
	f := newFixture(t)

	f.grocery.Add("Eggs")
	rec := f.do(t, http.MethodPost, "/api/grocery/remove-by-name", `{"name":"  EGGS "}`)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("remove-by-name returned %d", rec.Code)
	}
	if got := len(f.grocery.Items()); got != 0 {
		t.Fatalf("expected empty list, got %d items", got)
	}
}

func TestGroceryAislesGroupedInWalkingOrder(t *testing.T) {
	f := newFixture(t)

	for _, name := range []string{"ice cream", "bananas", "milk"} {
		f.grocery.Add(name)
	}

	rec := f.do(t, http.MethodGet, "/api/grocery/aisles", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("aisles returned %d", rec.Code)
	}
	var groups []aisleGroup
	if err := json.Unmarshal(rec.Body.Bytes(), &groups); err != nil {
		t.Fatalf("decode groups: %v", err)
	}

	var order []string
	for _, g := range groups {
		if len(g.Items) == 0 {
			t.Fatalf("aisle %q has no items", g.Aisle)
		}
		order = append(order, g.Aisle)
	}
	want := []string{"Produce", "Dairy & Eggs", "Frozen"}
	if len(order) != len(want) {
		t.Fatalf("got aisles %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("got aisles %v, want %v", order, want)
		}
	}
}

func TestSyncRequiresSession(t *testing.T) {
	f := newFixture(t)

	for _, path := range []string{"/api/favorites/sync", "/api/grocery/sync"} {
		rec := f.do(t, http.MethodPost, path, "")
		if rec.Code != http.StatusConflict {
			t.Errorf("%s returned %d, want 409", path, rec.Code)
		}
	}
}

func TestSessionLifecycle(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/session", `{"token":"`+makeToken(t, "acct-1", "cook@example.com")+`"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("session set returned %d: %s", rec.Code, rec.Body.String())
	}
	f.waitFor(t, func() bool { return f.favorites.SignedIn() && f.grocery.SignedIn() })

	rec = f.do(t, http.MethodGet, "/api/status", "")
	var status struct {
		SignedIn bool   `json:"signed_in"`
		Email    string `json:"email"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if !status.SignedIn || status.Email != "cook@example.com" {
		t.Fatalf("unexpected status %+v", status)
	}

	if rec := f.do(t, http.MethodPost, "/api/favorites/sync", ""); rec.Code != http.StatusOK {
		t.Fatalf("sync while signed in returned %d: %s", rec.Code, rec.Body.String())
	}

	if rec := f.do(t, http.MethodDelete, "/api/session", ""); rec.Code != http.StatusNoContent {
		t.Fatalf("session clear returned %d", rec.Code)
	}
	f.waitFor(t, func() bool { return !f.favorites.SignedIn() })
}

func TestSessionRejectsBadToken(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/session", `{"token":"garbage"}`)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad token returned %d, want 401", rec.Code)
	}
}

func TestWebSocketReceivesListUpdates(t *testing.T) {
	f := newFixture(t)

	ts := httptest.NewServer(f.srv.Router())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := ws.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(ws.StatusNormalClosure, "")

	f.waitFor(t, func() bool { return f.srv.hub.ClientCount() == 1 })

	f.grocery.Add("Butter")

	var msg Message
	for {
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			t.Fatalf("read frame: %v", err)
		}
		if msg.Type == "list" && msg.Collection == "grocery" {
			break
		}
	}

	items, err := json.Marshal(msg.Items)
	if err != nil {
		t.Fatalf("re-marshal items: %v", err)
	}
	var got []model.GroceryItem
	if err := json.Unmarshal(items, &got); err != nil {
		t.Fatalf("decode items: %v", err)
	}
	if len(got) != 1 || got[0].Name != "Butter" {
		t.Fatalf("unexpected payload %+v", got)
	}
}
