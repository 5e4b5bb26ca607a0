// Package docstore is the client for the hosted document database. Each
// account owns one schemaless document; the sync core reads and writes named
// fields within it and observes realtime change notifications.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrNotFound is returned by Get when no document exists for the owner yet.
var ErrNotFound = errors.New("docstore: document not found")

// Document is a schemaless field bag owned by one account.
type Document struct {
	Owner  string                     `json:"owner"`
	Fields map[string]json.RawMessage `json:"fields"`
}

// Field decodes the named field into v. The second return is false when the
// field is absent.
func (d Document) Field(name string, v any) (bool, error) {
	raw, ok := d.Fields[name]
	if !ok || len(raw) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return true, err
	}
	return true, nil
}

// Store is the document database capability consumed by the sync core.
//
// Subscribe delivers notifications for changes made after the subscription
// is established, including changes this client wrote itself; callers that
// need to tell the two apart must tag their writes. The returned function
// cancels the subscription.
type Store interface {
	Get(ctx context.Context, owner string) (Document, error)
	Set(ctx context.Context, owner string, fields map[string]json.RawMessage, merge bool) error
	Subscribe(owner string, onChange func(Document), onError func(error)) (func(), error)
}
