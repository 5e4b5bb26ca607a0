package auth

import "sync"

// Static is an in-memory Watcher driven directly by the test (or by offline
// mode). Transitions fan out synchronously on the calling goroutine.
type Static struct {
	mu      sync.Mutex
	session Session
	subs    map[int]func(Session)
	nextSub int
}

func NewStatic() *Static {
	return &Static{subs: make(map[int]func(Session))}
}

// SignIn transitions to the given account.
func (s *Static) SignIn(accountID string) {
	s.Set(Session{AccountID: accountID})
}

// SignOut transitions to the signed-out state.
func (s *Static) SignOut() {
	s.Set(Session{})
}

// Set installs an arbitrary session and notifies subscribers.
func (s *Static) Set(session Session) {
	s.mu.Lock()
	s.session = session
	cbs := make([]func(Session), 0, len(s.subs))
	for _, cb := range s.subs {
		cbs = append(cbs, cb)
	}
	s.mu.Unlock()

	for _, cb := range cbs {
		cb(session)
	}
}

func (s *Static) Current() Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

func (s *Static) OnSessionChange(cb func(Session)) func() {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = cb
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}
