package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"slices"

	"github.com/ladle-app/ladle/internal/auth"
	"github.com/ladle-app/ladle/internal/docstore"
)

// sessionLoop applies sign-in transitions one at a time: teardown of the
// previous backing store always completes before the next one is set up.
func (c *Controller[T]) sessionLoop() {
	defer c.wg.Done()

	c.applySession(c.sessions.Current(), true)
	for {
		select {
		case s := <-c.sessionCh:
			c.applySession(s, false)
		case <-c.closed:
			return
		}
	}
}

func (c *Controller[T]) applySession(s auth.Session, force bool) {
	c.mu.Lock()
	cur := c.owner
	c.mu.Unlock()

	next := s.AccountID
	if !force && cur == next {
		return
	}

	// Leaving the anonymous scope with a persist still debouncing: flush it
	// now so the migration merge sees the latest contents.
	if cur == "" && next != "" {
		c.flushAnonPending()
	}

	c.teardown()
	if next != "" {
		c.activate(next)
	} else {
		c.deactivate()
	}
}

// teardown detaches from the current backing store: the debounce timer is
// stopped, queued persists are invalidated, the realtime subscription is
// removed, and any in-flight persist settles before teardown returns. After
// this, nothing belonging to the previous owner can land under the next one.
func (c *Controller[T]) teardown() {
	c.mu.Lock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.epoch++
	unsub := c.unsubDoc
	c.unsubDoc = nil
	c.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	c.barrier()
}

func (c *Controller[T]) flushAnonPending() {
	c.mu.Lock()
	pending := c.owner == "" && c.timer != nil
	if pending {
		c.timer.Stop()
		c.timer = nil
	}
	snapshot := slices.Clone(c.items)
	c.mu.Unlock()

	if !pending {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	if err := c.saveAnon(ctx, snapshot); err != nil {
		c.logger.Warn("flush anonymous store before sign-in", "error", err)
	}
}

// activate makes account's remote document the backing store: load it,
// migrate the anonymous data into it when it holds nothing of this kind yet,
// and establish the realtime subscription.
func (c *Controller[T]) activate(account string) {
	c.mu.Lock()
	c.owner = account
	c.loading = true
	c.mu.Unlock()
	c.notify()

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	remote, present, err := c.loadRemote(ctx, account)
	switch {
	case err != nil:
		// Unreadable document: show an empty collection rather than
		// blocking the UI. The anonymous data stays put so a later
		// activation can still migrate it.
		c.logger.Warn("load remote document", "owner", account, "error", err)
		c.setItems(nil)
	case present:
		c.mu.Lock()
		c.initialized[account] = true
		c.mu.Unlock()
		c.setItems(remote)
	default:
		c.migrate(ctx, account)
	}

	c.subscribeDoc(account)

	c.mu.Lock()
	c.loading = false
	c.mu.Unlock()
	c.notify()
}

// deactivate returns to the anonymous scope.
func (c *Controller[T]) deactivate() {
	c.mu.Lock()
	c.owner = ""
	c.loading = true
	c.mu.Unlock()
	c.notify()

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	items := c.readAnon(ctx)

	c.mu.Lock()
	c.items = items
	c.loading = false
	c.mu.Unlock()
	c.notify()
}

// loadRemote reads account's document. present is false when neither the
// document nor this collection's field exists yet.
func (c *Controller[T]) loadRemote(ctx context.Context, account string) (items []T, present bool, err error) {
	doc, err := c.docs.Get(ctx, account)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	raw, ok := doc.Fields[c.col.Field]
	if !ok {
		return nil, false, nil
	}
	if uerr := json.Unmarshal(raw, &items); uerr != nil {
		// The field exists but is garbled; adopt it as empty rather than
		// risking a migration write over data some other client can read.
		c.logger.Warn("decode remote field", "owner", account, "error", uerr)
		return nil, true, nil
	}
	return c.normalizeAll(items), true, nil
}

// migrate performs the one-time anonymous-to-account merge: the account has
// no items of this kind, so the union is just the anonymous list. The
// anonymous store is cleared only after the remote write succeeds. An empty
// anonymous list still writes the field, leaving the account with a usable
// empty document instead of an uninitialized one.
func (c *Controller[T]) migrate(ctx context.Context, account string) {
	anon := c.readAnon(ctx)
	merged := mergeByKey(nil, anon, c.col.Key)

	if err := c.writeRemote(ctx, account, merged); err != nil {
		c.logger.Warn("migration write", "owner", account, "error", err)
		c.notice("Your saved items couldn't be moved to your account yet", err)
		// Keep showing the data; the anonymous copy remains for a retry.
		c.setItems(merged)
		return
	}

	c.mu.Lock()
	c.initialized[account] = true
	c.mu.Unlock()
	c.setItems(merged)

	if err := c.kv.Remove(ctx, c.col.Field); err != nil {
		c.logger.Warn("clear anonymous store after migration", "error", err)
	}
}

func (c *Controller[T]) subscribeDoc(account string) {
	unsub, err := c.docs.Subscribe(account, c.onDocChange, func(err error) {
		c.onDocError(account, err)
	})
	if err != nil {
		c.logger.Warn("subscribe to document", "owner", account, "error", err)
		c.notice("Live updates are unavailable right now", err)
		return
	}

	c.mu.Lock()
	if c.owner == account {
		c.unsubDoc = unsub
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	unsub()
}

// onDocChange handles a realtime snapshot of the active account's document.
func (c *Controller[T]) onDocChange(doc docstore.Document) {
	c.mu.Lock()
	if doc.Owner != c.owner {
		// Notification raced a sign-out or account switch.
		c.mu.Unlock()
		return
	}

	var origin Origin
	if raw, ok := doc.Fields[c.col.Field+"_origin"]; ok {
		_ = json.Unmarshal(raw, &origin)
	}
	if origin.ClientID == c.opts.ClientID && origin.Seq <= c.seq {
		// Echo of a write this controller made: record the
		// acknowledgment, never re-apply the snapshot.
		if origin.Seq > c.acked {
			c.acked = origin.Seq
		}
		if c.state == stateAwaitingEcho && c.acked >= c.seq {
			c.state = stateIdle
		}
		c.mu.Unlock()
		return
	}

	owner := c.owner
	raw, ok := doc.Fields[c.col.Field]
	initialized := c.initialized[owner]
	c.mu.Unlock()

	if !ok {
		if initialized {
			// Another client removed the field outright.
			c.setItems(nil)
			return
		}
		// The document exists (some other collection wrote it) but holds
		// nothing of this kind yet: migration path.
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()
		c.migrate(ctx, owner)
		return
	}

	var items []T
	if err := json.Unmarshal(raw, &items); err != nil {
		c.logger.Warn("decode remote snapshot", "owner", owner, "error", err)
		return
	}
	items = c.normalizeAll(items)

	c.mu.Lock()
	if c.owner != owner {
		c.mu.Unlock()
		return
	}
	c.initialized[owner] = true
	c.items = items
	c.mu.Unlock()
	c.notify()
}

// onDocError surfaces subscription failures while the owner is still the
// active session; errors that arrive after a sign-out or switch no longer
// reflect UI state and are swallowed.
func (c *Controller[T]) onDocError(owner string, err error) {
	c.mu.Lock()
	active := c.owner == owner
	c.mu.Unlock()

	if !active {
		c.logger.Debug("subscription error for inactive owner", "owner", owner, "error", err)
		return
	}
	c.logger.Warn("realtime subscription error", "owner", owner, "error", err)
	c.notice("Live updates are interrupted; changes will sync when the connection recovers", err)
}

func (c *Controller[T]) setItems(items []T) {
	c.mu.Lock()
	c.items = items
	c.mu.Unlock()
	c.notify()
}
