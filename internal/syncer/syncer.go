// Package syncer implements the device/remote synchronization core. A
// Controller keeps one collection (favorites or grocery items) consistent
// across three places: the in-memory list the UI reads, the anonymous
// device-local store used while signed out, and the per-account remote
// document with its realtime change feed.
//
// The controller is the only writer to all three. UI mutations apply to the
// in-memory list synchronously and are persisted on a debounce; sign-in
// migrates the anonymous data into the account document exactly once; every
// remote write is tagged with a per-client sequence number so the
// subscription's echo of our own writes can be recognized and dropped.
package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ladle-app/ladle/internal/auth"
	"github.com/ladle-app/ladle/internal/docstore"
)

const (
	defaultDebounce = 300 * time.Millisecond
	opTimeout       = 30 * time.Second
	persistBuf      = 16
	sessionBuf      = 16
)

// ErrNotSignedIn is returned by Sync when no account is active.
var ErrNotSignedIn = errors.New("syncer: not signed in")

// KV is the device-local persistent store backing anonymous collections.
type KV interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
}

// Origin identifies the client and write sequence behind a remote document
// field, stored alongside the field itself. The subscription handler drops
// any snapshot whose origin is this client with a sequence at or below the
// highest one written here.
type Origin struct {
	ClientID string `json:"client_id"`
	Seq      uint64 `json:"seq"`
}

// Collection describes one synced collection: the document field it lives
// under (also its anonymous-store key), item identity for dedup and merge,
// and optional per-item normalization applied to anything read from a store.
type Collection[T any] struct {
	Field     string
	Key       func(T) string
	Normalize func(T) T
}

// writeState tracks the write path of the remote document.
type writeState int

const (
	stateIdle writeState = iota
	stateWriting
	stateAwaitingEcho
)

// Notice is a non-blocking, user-visible message (e.g. a subscription
// failure while signed in).
type Notice struct {
	Collection string
	Message    string
	Err        error
}

// Options tune a Controller.
type Options struct {
	// Debounce is the quiet period after the last mutation before a
	// persist fires. Zero means the 300ms default.
	Debounce time.Duration
	// ClientID tags this device's remote writes. Defaults to a random
	// UUID per controller.
	ClientID string
	Logger   *slog.Logger
	// OnNotice receives user-visible notices. May be nil.
	OnNotice func(Notice)
}

type persistReq struct {
	epoch   uint64
	barrier bool
	done    chan error
}

// Controller synchronizes one collection. Create via NewFavorites or
// NewGrocery, then Start it; Close releases the session subscription and
// stops background work.
type Controller[T any] struct {
	col      Collection[T]
	kv       KV
	docs     docstore.Store
	sessions auth.Watcher
	opts     Options
	logger   *slog.Logger

	mu          sync.Mutex
	items       []T
	loading     bool
	owner       string
	epoch       uint64
	seq         uint64
	acked       uint64
	state       writeState
	timer       *time.Timer
	initialized map[string]bool
	listeners   map[int]func()
	nextListen  int
	unsubDoc    func()

	// writeMu serializes writes to the remote document: a write waits for
	// the prior write to the same document to settle.
	writeMu sync.Mutex

	persistCh chan persistReq
	sessionCh chan auth.Session
	unsubAuth func()
	closed    chan struct{}
	wg        sync.WaitGroup
}

func newController[T any](col Collection[T], kv KV, docs docstore.Store, sessions auth.Watcher, opts Options) *Controller[T] {
	if opts.Debounce <= 0 {
		opts.Debounce = defaultDebounce
	}
	if opts.ClientID == "" {
		opts.ClientID = uuid.NewString()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Controller[T]{
		col:         col,
		kv:          kv,
		docs:        docs,
		sessions:    sessions,
		opts:        opts,
		logger:      opts.Logger.With("collection", col.Field),
		loading:     true,
		initialized: make(map[string]bool),
		listeners:   make(map[int]func()),
		persistCh:   make(chan persistReq, persistBuf),
		sessionCh:   make(chan auth.Session, sessionBuf),
		closed:      make(chan struct{}),
	}
}

// Start begins observing session transitions and loads the collection for
// the current sign-in state.
func (c *Controller[T]) Start() {
	c.unsubAuth = c.sessions.OnSessionChange(func(s auth.Session) {
		select {
		case c.sessionCh <- s:
		case <-c.closed:
		}
	})

	c.wg.Add(2)
	go c.persistLoop()
	go c.sessionLoop()
}

// Close tears down the auth and document subscriptions and waits for
// background work to stop. Pending debounced persists are discarded.
func (c *Controller[T]) Close() {
	if c.unsubAuth != nil {
		c.unsubAuth()
	}
	close(c.closed)
	c.wg.Wait()

	c.mu.Lock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	unsub := c.unsubDoc
	c.unsubDoc = nil
	c.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}

// Items returns a snapshot of the current list.
func (c *Controller[T]) Items() []T {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.items)
}

// Loading reports whether the collection is mid-transition (store swap in
// progress).
func (c *Controller[T]) Loading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loading
}

// SignedIn reports whether an account's remote document is the active
// backing store.
func (c *Controller[T]) SignedIn() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.owner != ""
}

// OnChange registers a listener invoked after every visible list change.
// The returned function unregisters it.
func (c *Controller[T]) OnChange(fn func()) func() {
	c.mu.Lock()
	id := c.nextListen
	c.nextListen++
	c.listeners[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

func (c *Controller[T]) notify() {
	c.mu.Lock()
	fns := make([]func(), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

func (c *Controller[T]) notice(msg string, err error) {
	if c.opts.OnNotice != nil {
		c.opts.OnNotice(Notice{Collection: c.col.Field, Message: msg, Err: err})
	}
}

// Mutate applies a pure transform to the current list. When the transform
// reports a change, the result becomes the new list immediately and a
// debounced persist is scheduled.
func (c *Controller[T]) Mutate(fn func(items []T) ([]T, bool)) {
	c.mu.Lock()
	next, changed := fn(c.items)
	if !changed {
		c.mu.Unlock()
		return
	}
	c.items = next
	c.scheduleLocked()
	c.mu.Unlock()

	c.notify()
}

// MutateFlush applies a transform like Mutate but persists immediately,
// returning the persist outcome. Bulk operations (clear-all, clear-checked)
// use this so the caller can offer a retry on failure.
func (c *Controller[T]) MutateFlush(ctx context.Context, fn func(items []T) ([]T, bool)) error {
	c.mu.Lock()
	next, changed := fn(c.items)
	if !changed {
		c.mu.Unlock()
		return nil
	}
	c.items = next
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	epoch := c.epoch
	c.mu.Unlock()

	c.notify()
	return c.requestPersist(ctx, epoch)
}

// Flush forces any pending debounced persist to run now.
func (c *Controller[T]) Flush(ctx context.Context) error {
	c.mu.Lock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	epoch := c.epoch
	c.mu.Unlock()
	return c.requestPersist(ctx, epoch)
}

// scheduleLocked arms (or re-arms) the debounce timer. Caller holds mu.
func (c *Controller[T]) scheduleLocked() {
	if c.timer != nil {
		c.timer.Reset(c.opts.Debounce)
		return
	}
	c.timer = time.AfterFunc(c.opts.Debounce, c.debounceFired)
}

func (c *Controller[T]) debounceFired() {
	c.mu.Lock()
	c.timer = nil
	epoch := c.epoch
	c.mu.Unlock()

	select {
	case c.persistCh <- persistReq{epoch: epoch}:
	default:
		// Queue full: a persist is already pending and will pick up the
		// latest snapshot when it runs.
	}
}

// requestPersist enqueues a persist for the given epoch and waits for it.
func (c *Controller[T]) requestPersist(ctx context.Context, epoch uint64) error {
	done := make(chan error, 1)
	select {
	case c.persistCh <- persistReq{epoch: epoch, done: done}:
	case <-c.closed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// barrier waits until every persist enqueued so far has settled.
func (c *Controller[T]) barrier() {
	done := make(chan error, 1)
	select {
	case c.persistCh <- persistReq{barrier: true, done: done}:
		<-done
	case <-c.closed:
	}
}

func (c *Controller[T]) persistLoop() {
	defer c.wg.Done()
	for {
		select {
		case req := <-c.persistCh:
			c.handlePersist(req)
		case <-c.closed:
			return
		}
	}
}

// handlePersist coalesces the queued burst behind req into one store write.
func (c *Controller[T]) handlePersist(req persistReq) {
	reqs := []persistReq{req}
drain:
	for {
		select {
		case extra := <-c.persistCh:
			reqs = append(reqs, extra)
		default:
			break drain
		}
	}

	c.mu.Lock()
	epoch := c.epoch
	owner := c.owner
	snapshot := slices.Clone(c.items)
	c.mu.Unlock()

	write := false
	for _, r := range reqs {
		if !r.barrier && r.epoch == epoch {
			write = true
			break
		}
	}

	var err error
	if write {
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		if owner == "" {
			err = c.saveAnon(ctx, snapshot)
		} else {
			err = c.writeRemote(ctx, owner, snapshot)
		}
		cancel()
		if err != nil {
			c.logger.Warn("persist failed", "owner", owner, "error", err)
		}
	}

	for _, r := range reqs {
		if r.done != nil {
			r.done <- err
		}
	}
}

// saveAnon writes the snapshot to the anonymous store.
func (c *Controller[T]) saveAnon(ctx context.Context, items []T) error {
	data, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("encode %s: %w", c.col.Field, err)
	}
	if err := c.kv.Set(ctx, c.col.Field, string(data)); err != nil {
		return fmt.Errorf("save anonymous %s: %w", c.col.Field, err)
	}
	return nil
}

// readAnon loads the anonymous store's list. Read or decode failures
// degrade to an empty list.
func (c *Controller[T]) readAnon(ctx context.Context) []T {
	value, ok, err := c.kv.Get(ctx, c.col.Field)
	if err != nil {
		c.logger.Warn("read anonymous store", "error", err)
		return nil
	}
	if !ok || value == "" {
		return nil
	}
	var items []T
	if err := json.Unmarshal([]byte(value), &items); err != nil {
		c.logger.Warn("decode anonymous store", "error", err)
		return nil
	}
	return c.normalizeAll(items)
}

func (c *Controller[T]) normalizeAll(items []T) []T {
	if c.col.Normalize == nil {
		return items
	}
	out := make([]T, len(items))
	for i, it := range items {
		out[i] = c.col.Normalize(it)
	}
	return out
}

// writeRemote persists items to owner's document, tagged with the next
// write sequence. Writes to the same document are serialized.
func (c *Controller[T]) writeRemote(ctx context.Context, owner string, items []T) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	data, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("encode %s: %w", c.col.Field, err)
	}

	c.mu.Lock()
	c.seq++
	seq := c.seq
	c.state = stateWriting
	c.mu.Unlock()

	origin, _ := json.Marshal(Origin{ClientID: c.opts.ClientID, Seq: seq})
	fields := map[string]json.RawMessage{
		c.col.Field:             data,
		c.col.Field + "_origin": origin,
	}
	err = c.docs.Set(ctx, owner, fields, true)

	c.mu.Lock()
	switch {
	case err != nil:
		c.state = stateIdle
	case c.acked >= seq:
		// Echo already arrived while the write was in flight.
		c.state = stateIdle
	default:
		c.state = stateAwaitingEcho
	}
	c.mu.Unlock()

	if err != nil {
		return fmt.Errorf("write %s for %s: %w", c.col.Field, owner, err)
	}
	return nil
}
