package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

func TestClientGet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("method = %s", r.Method)
		}
		if r.URL.Path != "/v1/docs/acct-1" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok-123" {
			t.Errorf("auth header = %q", got)
		}
		json.NewEncoder(w).Encode(Document{Fields: map[string]json.RawMessage{
			"favorites": json.RawMessage(`[{"id":1,"name":"Soup"}]`),
		}})
	}))
	defer srv.Close()

	c := NewClient(Config{
		BaseURL:     srv.URL,
		TokenSource: func() string { return "tok-123" },
		Logger:      slog.New(slog.DiscardHandler),
	})

	doc, err := c.Get(context.Background(), "acct-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if doc.Owner != "acct-1" {
		t.Errorf("owner = %q", doc.Owner)
	}
	if _, ok := doc.Fields["favorites"]; !ok {
		t.Errorf("fields = %v", doc.Fields)
	}
}

func TestClientGetNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL})
	if _, err := c.Get(context.Background(), "acct-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestClientSet(t *testing.T) {
	var gotMethod string
	var gotBody Document
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL})
	fields := map[string]json.RawMessage{"grocery": json.RawMessage(`[]`)}

	if err := c.Set(context.Background(), "acct-1", fields, true); err != nil {
		t.Fatalf("set merge: %v", err)
	}
	if gotMethod != http.MethodPatch {
		t.Errorf("merge method = %s, want PATCH", gotMethod)
	}
	if _, ok := gotBody.Fields["grocery"]; !ok {
		t.Errorf("body fields = %v", gotBody.Fields)
	}

	if err := c.Set(context.Background(), "acct-1", fields, false); err != nil {
		t.Fatalf("set replace: %v", err)
	}
	if gotMethod != http.MethodPut {
		t.Errorf("replace method = %s, want PUT", gotMethod)
	}
}

func TestClientSetServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "permission denied", http.StatusForbidden)
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL})
	if err := c.Set(context.Background(), "acct-1", nil, true); err == nil {
		t.Fatal("expected error on 403")
	}
}

func TestClientSubscribe(t *testing.T) {
	send := make(chan Document, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/docs/acct-1/watch" {
			http.NotFound(w, r)
			return
		}
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "")
		for doc := range send {
			if err := wsjson.Write(r.Context(), conn, doc); err != nil {
				return
			}
		}
	}))
	defer srv.Close()
	defer close(send)

	c := NewClient(Config{BaseURL: srv.URL, Logger: slog.New(slog.DiscardHandler)})

	changes := make(chan Document, 4)
	unsub, err := c.Subscribe("acct-1",
		func(d Document) { changes <- d },
		func(err error) {},
	)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer unsub()

	send <- Document{Fields: map[string]json.RawMessage{"favorites": json.RawMessage(`[{"id":2}]`)}}

	select {
	case doc := <-changes:
		if doc.Owner != "acct-1" {
			t.Errorf("owner = %q", doc.Owner)
		}
		if _, ok := doc.Fields["favorites"]; !ok {
			t.Errorf("fields = %v", doc.Fields)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for change notification")
	}
}
