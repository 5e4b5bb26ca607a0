// Package bridge exposes the sync controllers to the app shell over a local
// HTTP API plus a WebSocket push channel for live list updates.
package bridge

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	ws "github.com/coder/websocket"

	"github.com/ladle-app/ladle/internal/syncer"
)

const (
	sendBufferSize = 16
	pingInterval   = 30 * time.Second
)

// Message is a push frame sent to every connected shell.
type Message struct {
	// Type is "list", "notice", or "session".
	Type string `json:"type"`
	// Collection names the list a "list" or "notice" frame belongs to.
	Collection string `json:"collection,omitempty"`
	Items      any    `json:"items,omitempty"`
	Text       string `json:"text,omitempty"`
	// SignedIn is meaningful only on "session" frames.
	SignedIn bool `json:"signed_in"`
}

// NoticeMessage converts a controller notice into a push frame.
func NoticeMessage(n syncer.Notice) Message {
	return Message{Type: "notice", Collection: n.Collection, Text: n.Message}
}

// Hub tracks connected shells and fans frames out to them.
type Hub struct {
	mu      sync.RWMutex
	clients map[*hubClient]struct{}
	logger  *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients: make(map[*hubClient]struct{}),
		logger:  logger,
	}
}

func (h *Hub) register(c *hubClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) unregister(c *hubClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// Broadcast sends a frame to every connected shell. Slow clients are skipped
// rather than blocking the caller; the next frame carries the full list anyway.
func (h *Hub) Broadcast(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("marshal broadcast", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		select {
		case c.send <- data:
		default:
		}
	}
}

// ClientCount returns the number of connected shells.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

type hubClient struct {
	hub  *Hub
	conn *ws.Conn
	send chan []byte
}

func newHubClient(hub *Hub, conn *ws.Conn) *hubClient {
	return &hubClient{
		hub:  hub,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
	}
}

// run registers the client, starts the write pump, and blocks reading until
// the connection closes.
func (c *hubClient) run(ctx context.Context) {
	c.hub.register(c)
	defer c.hub.unregister(c)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go c.writePump(ctx)
	c.readPump(ctx)
}

// readPump discards incoming frames; the push channel is one-way. The shell
// makes changes through the HTTP API.
func (c *hubClient) readPump(ctx context.Context) {
	for {
		if _, _, err := c.conn.Read(ctx); err != nil {
			return
		}
	}
}

func (c *hubClient) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.Write(ctx, ws.MessageText, msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.Ping(ctx); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// handleWS upgrades the request and runs the connection as a hub client.
func handleWS(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := ws.Accept(w, r, &ws.AcceptOptions{
			InsecureSkipVerify: true, // Shell connects from a webview origin
		})
		if err != nil {
			hub.logger.Warn("websocket accept", "error", err)
			return
		}
		newHubClient(hub, conn).run(r.Context())
	}
}
