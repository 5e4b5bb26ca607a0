package docstore

import (
	"context"
	"encoding/json"
	"sync"
)

// Memory is an in-process Store. It backs offline mode and is the test
// double for every sync scenario: change notifications, including the echo
// of this process's own writes, are delivered synchronously from Set, which
// makes test ordering deterministic.
type Memory struct {
	mu      sync.Mutex
	docs    map[string]map[string]json.RawMessage
	subs    map[string]map[int]subscription
	nextSub int
	writes  map[string]int
	setErr  error
}

type subscription struct {
	onChange func(Document)
	onError  func(error)
}

func NewMemory() *Memory {
	return &Memory{
		docs:   make(map[string]map[string]json.RawMessage),
		subs:   make(map[string]map[int]subscription),
		writes: make(map[string]int),
	}
}

func (m *Memory) Get(_ context.Context, owner string) (Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	fields, ok := m.docs[owner]
	if !ok {
		return Document{}, ErrNotFound
	}
	return Document{Owner: owner, Fields: cloneFields(fields)}, nil
}

func (m *Memory) Set(_ context.Context, owner string, fields map[string]json.RawMessage, merge bool) error {
	m.mu.Lock()
	if m.setErr != nil {
		err := m.setErr
		m.mu.Unlock()
		return err
	}

	doc, ok := m.docs[owner]
	if !ok || !merge {
		doc = make(map[string]json.RawMessage)
		m.docs[owner] = doc
	}
	for name, raw := range fields {
		doc[name] = raw
	}
	m.writes[owner]++

	snapshot := Document{Owner: owner, Fields: cloneFields(doc)}
	subs := make([]subscription, 0, len(m.subs[owner]))
	for _, sub := range m.subs[owner] {
		subs = append(subs, sub)
	}
	m.mu.Unlock()

	for _, sub := range subs {
		sub.onChange(snapshot)
	}
	return nil
}

func (m *Memory) Subscribe(owner string, onChange func(Document), onError func(error)) (func(), error) {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	if m.subs[owner] == nil {
		m.subs[owner] = make(map[int]subscription)
	}
	m.subs[owner][id] = subscription{onChange: onChange, onError: onError}
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.subs[owner], id)
		m.mu.Unlock()
	}, nil
}

// Writes returns how many Set calls have landed for owner.
func (m *Memory) Writes(owner string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes[owner]
}

// FailSets makes every subsequent Set return err; pass nil to heal.
func (m *Memory) FailSets(err error) {
	m.mu.Lock()
	m.setErr = err
	m.mu.Unlock()
}

// Inject replaces owner's document wholesale and notifies subscribers, as if
// another device had written it.
func (m *Memory) Inject(owner string, fields map[string]json.RawMessage) {
	m.mu.Lock()
	m.docs[owner] = cloneFields(fields)
	snapshot := Document{Owner: owner, Fields: cloneFields(fields)}
	subs := make([]subscription, 0, len(m.subs[owner]))
	for _, sub := range m.subs[owner] {
		subs = append(subs, sub)
	}
	m.mu.Unlock()

	for _, sub := range subs {
		sub.onChange(snapshot)
	}
}

// InjectError delivers a subscription error to owner's subscribers.
func (m *Memory) InjectError(owner string, err error) {
	m.mu.Lock()
	subs := make([]subscription, 0, len(m.subs[owner]))
	for _, sub := range m.subs[owner] {
		subs = append(subs, sub)
	}
	m.mu.Unlock()

	for _, sub := range subs {
		if sub.onError != nil {
			sub.onError(err)
		}
	}
}

// Subscribers returns the number of active subscriptions for owner.
func (m *Memory) Subscribers(owner string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs[owner])
}

func cloneFields(fields map[string]json.RawMessage) map[string]json.RawMessage {
	out := make(map[string]json.RawMessage, len(fields))
	for name, raw := range fields {
		out[name] = raw
	}
	return out
}
