package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ladle-app/ladle/internal/auth"
	"github.com/ladle-app/ladle/internal/grocery"
	"github.com/ladle-app/ladle/internal/model"
	"github.com/ladle-app/ladle/internal/syncer"
)

// Server is the local API the app shell talks to. It owns no sync state of
// its own; every route delegates to a controller or the account client.
type Server struct {
	favorites *syncer.Favorites
	grocery   *syncer.Grocery
	account   *auth.Client
	hub       *Hub
	logger    *slog.Logger
	unsubs    []func()
}

func New(favorites *syncer.Favorites, grocery *syncer.Grocery, account *auth.Client, hub *Hub, logger *slog.Logger) *Server {
	return &Server{
		favorites: favorites,
		grocery:   grocery,
		account:   account,
		hub:       hub,
		logger:    logger,
	}
}

// Start subscribes to controller and session changes so every connected shell
// sees list updates as they land, whichever device caused them.
func (s *Server) Start() {
	s.unsubs = append(s.unsubs,
		s.favorites.OnChange(func() {
			s.hub.Broadcast(Message{Type: "list", Collection: "favorites", Items: s.favorites.Items()})
		}),
		s.grocery.OnChange(func() {
			s.hub.Broadcast(Message{Type: "list", Collection: "grocery", Items: s.grocery.Items()})
		}),
		s.account.OnSessionChange(func(sess auth.Session) {
			s.hub.Broadcast(Message{Type: "session", SignedIn: sess.SignedIn()})
		}),
	)
}

// Stop detaches the hub from the controllers. Safe to call more than once.
func (s *Server) Stop() {
	for _, unsub := range s.unsubs {
		unsub()
	}
	s.unsubs = nil
}

func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.health)
	mux.HandleFunc("GET /api/status", s.status)

	mux.HandleFunc("POST /api/session", s.sessionSet)
	mux.HandleFunc("DELETE /api/session", s.sessionClear)

	mux.HandleFunc("GET /api/favorites", s.favoritesList)
	mux.HandleFunc("POST /api/favorites", s.favoritesAdd)
	mux.HandleFunc("DELETE /api/favorites/{id}", s.favoritesRemove)
	mux.HandleFunc("POST /api/favorites/sync", s.favoritesSync)

	mux.HandleFunc("GET /api/grocery", s.groceryList)
	mux.HandleFunc("GET /api/grocery/aisles", s.groceryAisles)
	mux.HandleFunc("POST /api/grocery", s.groceryAdd)
	mux.HandleFunc("POST /api/grocery/{id}/check", s.groceryToggle)
	mux.HandleFunc("DELETE /api/grocery/{id}", s.groceryRemove)
	mux.HandleFunc("POST /api/grocery/remove-by-name", s.groceryRemoveByName)
	mux.HandleFunc("POST /api/grocery/clear-checked", s.groceryClearChecked)
	mux.HandleFunc("POST /api/grocery/clear", s.groceryClear)
	mux.HandleFunc("POST /api/grocery/sync", s.grocerySync)

	mux.HandleFunc("GET /ws", handleWS(s.hub))

	return requestLogger(s.logger.With("component", "http"))(mux)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	sess := s.account.Current()
	writeJSON(w, http.StatusOK, map[string]any{
		"signed_in":         sess.SignedIn(),
		"email":             sess.Email,
		"favorites_loading": s.favorites.Loading(),
		"grocery_loading":   s.grocery.Loading(),
	})
}

func (s *Server) sessionSet(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "token is required"})
		return
	}

	if err := s.account.SetToken(req.Token); err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid token"})
		return
	}

	sess := s.account.Current()
	writeJSON(w, http.StatusOK, map[string]any{"signed_in": true, "email": sess.Email})
}

func (s *Server) sessionClear(w http.ResponseWriter, r *http.Request) {
	s.account.SignOut()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) favoritesList(w http.ResponseWriter, r *http.Request) {
	items := s.favorites.Items()
	if items == nil {
		items = []model.FavoriteItem{}
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) favoritesAdd(w http.ResponseWriter, r *http.Request) {
	var item model.FavoriteItem
	if err := json.NewDecoder(r.Body).Decode(&item); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	if item.ID == 0 || strings.TrimSpace(item.Name) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "id and name are required"})
		return
	}

	s.favorites.Add(item)
	writeJSON(w, http.StatusCreated, item)
}

func (s *Server) favoritesRemove(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}

	s.favorites.Remove(id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) favoritesSync(w http.ResponseWriter, r *http.Request) {
	s.runSync(w, r, "favorites", s.favorites.Sync)
}

type aisleGroup struct {
	Aisle string              `json:"aisle"`
	Items []model.GroceryItem `json:"items"`
}

func (s *Server) groceryList(w http.ResponseWriter, r *http.Request) {
	items := s.grocery.Items()
	if items == nil {
		items = []model.GroceryItem{}
	}
	writeJSON(w, http.StatusOK, items)
}

// groceryAisles returns the list grouped for shopping: one group per aisle in
// walking order, empty aisles omitted.
func (s *Server) groceryAisles(w http.ResponseWriter, r *http.Request) {
	byAisle := make(map[string][]model.GroceryItem)
	for _, item := range s.grocery.Items() {
		aisle := grocery.Aisle(item.Name)
		byAisle[aisle] = append(byAisle[aisle], item)
	}

	groups := []aisleGroup{}
	for _, aisle := range grocery.Aisles() {
		if items, ok := byAisle[aisle]; ok {
			groups = append(groups, aisleGroup{Aisle: aisle, Items: items})
		}
	}
	writeJSON(w, http.StatusOK, groups)
}

func (s *Server) groceryAdd(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "name is required"})
		return
	}

	s.grocery.Add(req.Name)
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) groceryToggle(w http.ResponseWriter, r *http.Request) {
	s.grocery.Toggle(r.PathValue("id"))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) groceryRemove(w http.ResponseWriter, r *http.Request) {
	s.grocery.Remove(r.PathValue("id"))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) groceryRemoveByName(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Name) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "name is required"})
		return
	}

	s.grocery.RemoveByName(req.Name)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) groceryClearChecked(w http.ResponseWriter, r *http.Request) {
	if err := s.grocery.ClearChecked(r.Context()); err != nil {
		s.logger.Error("clear checked", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to clear checked items"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) groceryClear(w http.ResponseWriter, r *http.Request) {
	if err := s.grocery.ClearAll(r.Context()); err != nil {
		s.logger.Error("clear list", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to clear list"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) grocerySync(w http.ResponseWriter, r *http.Request) {
	s.runSync(w, r, "grocery", s.grocery.Sync)
}

func (s *Server) runSync(w http.ResponseWriter, r *http.Request, name string, sync func(ctx context.Context) error) {
	err := sync(r.Context())
	switch {
	case errors.Is(err, syncer.ErrNotSignedIn):
		writeJSON(w, http.StatusConflict, map[string]string{"error": "sign in to sync"})
	case err != nil:
		s.logger.Error("manual sync", "collection", name, "error", err)
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "sync failed"})
	default:
		writeJSON(w, http.StatusOK, map[string]string{"status": "synced"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// statusRecorder wraps http.ResponseWriter to capture the status code.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Unwrap exposes the underlying writer so interface checks (e.g. the
// websocket library's http.Hijacker lookup) can see through the wrapper.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rec, r)

			attrs := []slog.Attr{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", rec.status),
				slog.Duration("duration", time.Since(start)),
			}

			switch {
			case rec.status >= 500:
				logger.LogAttrs(r.Context(), slog.LevelError, "request", attrs...)
			case rec.status >= 400:
				logger.LogAttrs(r.Context(), slog.LevelWarn, "request", attrs...)
			default:
				logger.LogAttrs(r.Context(), slog.LevelInfo, "request", attrs...)
			}
		})
	}
}
