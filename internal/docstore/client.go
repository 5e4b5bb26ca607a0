package docstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/sethvargo/go-retry"
)

const (
	dialBackoffBase = time.Second
	dialBackoffCap  = 30 * time.Second
)

// Config holds document store connection settings.
type Config struct {
	// BaseURL of the hosted document service, e.g. "https://docs.ladle.app".
	BaseURL string
	// TokenSource supplies the bearer credential for each request. May
	// return "" while signed out; the service rejects those calls.
	TokenSource func() string
	Logger      *slog.Logger
}

// Client talks to the hosted document service over HTTP, with realtime
// change notifications over WebSocket.
type Client struct {
	cfg  Config
	http *http.Client
}

func NewClient(cfg Config) *Client {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *Client) docURL(owner string, suffix string) string {
	return c.cfg.BaseURL + "/v1/docs/" + url.PathEscape(owner) + suffix
}

func (c *Client) authorize(h http.Header) {
	if c.cfg.TokenSource != nil {
		if token := c.cfg.TokenSource(); token != "" {
			h.Set("Authorization", "Bearer "+token)
		}
	}
}

func (c *Client) Get(ctx context.Context, owner string) (Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.docURL(owner, ""), nil)
	if err != nil {
		return Document{}, fmt.Errorf("build get request: %w", err)
	}
	c.authorize(req.Header)

	resp, err := c.http.Do(req)
	if err != nil {
		return Document{}, fmt.Errorf("get document: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return Document{}, ErrNotFound
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Document{}, fmt.Errorf("get document: status %d: %s", resp.StatusCode, body)
	}

	var doc Document
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return Document{}, fmt.Errorf("decode document: %w", err)
	}
	doc.Owner = owner
	return doc, nil
}

func (c *Client) Set(ctx context.Context, owner string, fields map[string]json.RawMessage, merge bool) error {
	payload, err := json.Marshal(Document{Fields: fields})
	if err != nil {
		return fmt.Errorf("encode fields: %w", err)
	}

	method := http.MethodPut
	if merge {
		method = http.MethodPatch
	}
	req, err := http.NewRequestWithContext(ctx, method, c.docURL(owner, ""), bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build set request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req.Header)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("set document: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("set document: status %d: %s", resp.StatusCode, body)
	}
	return nil
}

// Subscribe opens a realtime watch on owner's document. The watch reconnects
// with capped exponential backoff until the returned cancel function is
// called; connection failures are reported through onError but never end the
// subscription on their own.
func (c *Client) Subscribe(owner string, onChange func(Document), onError func(error)) (func(), error) {
	ctx, cancel := context.WithCancel(context.Background())
	go c.watch(ctx, owner, onChange, onError)
	return cancel, nil
}

func (c *Client) watch(ctx context.Context, owner string, onChange func(Document), onError func(error)) {
	for ctx.Err() == nil {
		conn, err := c.dial(ctx, owner)
		if err != nil {
			// Only a canceled context gets the dial loop here.
			return
		}
		c.pump(ctx, conn, owner, onChange, onError)
	}
}

// dial connects the watch WebSocket, retrying with backoff until the context
// is canceled.
func (c *Client) dial(ctx context.Context, owner string) (*websocket.Conn, error) {
	backoff := retry.WithCappedDuration(dialBackoffCap, retry.NewExponential(dialBackoffBase))

	var conn *websocket.Conn
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		header := http.Header{}
		c.authorize(header)
		cn, _, err := websocket.Dial(ctx, c.docURL(owner, "/watch"), &websocket.DialOptions{
			HTTPHeader: header,
		})
		if err != nil {
			c.cfg.Logger.Debug("watch dial failed", "owner", owner, "error", err)
			return retry.RetryableError(err)
		}
		conn = cn
		return nil
	})
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// pump reads change notifications until the connection drops or the context
// is canceled.
func (c *Client) pump(ctx context.Context, conn *websocket.Conn, owner string, onChange func(Document), onError func(error)) {
	defer conn.Close(websocket.StatusNormalClosure, "")

	for {
		var doc Document
		if err := wsjson.Read(ctx, conn, &doc); err != nil {
			if ctx.Err() == nil && onError != nil {
				onError(fmt.Errorf("watch %s: %w", owner, err))
			}
			return
		}
		doc.Owner = owner
		onChange(doc)
	}
}
