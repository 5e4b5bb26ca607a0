package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/ladle-app/ladle/internal/docstore"
)

// mergeByKey unions two lists by item identity. Remote entries win on key
// collision and keep their order; anonymous-only entries are appended in
// their original order.
func mergeByKey[T any](remote, anon []T, key func(T) string) []T {
	merged := slices.Clone(remote)
	seen := make(map[string]bool, len(remote))
	for _, it := range remote {
		seen[key(it)] = true
	}
	for _, it := range anon {
		if k := key(it); !seen[k] {
			seen[k] = true
			merged = append(merged, it)
		}
	}
	return merged
}

// Sync is the user-invoked merge: union the anonymous store with the
// account's current remote list (remote wins on identity collision), write
// the result back, and clear the anonymous copy. Running it again with no
// intervening local change is a no-op on the result. On any failure the
// local state is left untouched.
func (c *Controller[T]) Sync(ctx context.Context) error {
	c.mu.Lock()
	owner := c.owner
	c.mu.Unlock()
	if owner == "" {
		return ErrNotSignedIn
	}

	// Settle the write pipeline first: flush a pending debounced persist
	// (its mutations must be part of the merge), or just wait out an
	// in-flight write.
	c.mu.Lock()
	pending := c.timer != nil
	if pending {
		c.timer.Stop()
		c.timer = nil
	}
	epoch := c.epoch
	c.mu.Unlock()
	if pending {
		if err := c.requestPersist(ctx, epoch); err != nil {
			return fmt.Errorf("flush before sync: %w", err)
		}
	} else {
		c.barrier()
	}

	anon := c.readAnon(ctx)

	var remote []T
	doc, err := c.docs.Get(ctx, owner)
	if err != nil && !errors.Is(err, docstore.ErrNotFound) {
		return fmt.Errorf("load remote %s: %w", c.col.Field, err)
	}
	if err == nil {
		if raw, ok := doc.Fields[c.col.Field]; ok {
			if uerr := json.Unmarshal(raw, &remote); uerr != nil {
				return fmt.Errorf("decode remote %s: %w", c.col.Field, uerr)
			}
			remote = c.normalizeAll(remote)
		}
	}

	merged := mergeByKey(remote, anon, c.col.Key)
	if err := c.writeRemote(ctx, owner, merged); err != nil {
		return err
	}

	c.mu.Lock()
	if c.owner == owner {
		c.items = merged
		c.initialized[owner] = true
	}
	c.mu.Unlock()

	if err := c.kv.Remove(ctx, c.col.Field); err != nil {
		c.logger.Warn("clear anonymous store after sync", "error", err)
	}
	c.notify()
	return nil
}
