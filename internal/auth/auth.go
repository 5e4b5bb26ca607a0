// Package auth tracks the hosted-auth session on behalf of the sync
// controllers. The app shell owns the sign-in UI and hands the resulting ID
// token to this package; consumers only observe sign-in state transitions.
package auth

import "time"

// Session describes the current sign-in state. A zero AccountID means
// signed out.
type Session struct {
	AccountID string
	Email     string
	ExpiresAt time.Time
}

// SignedIn reports whether the session belongs to an authenticated account.
func (s Session) SignedIn() bool {
	return s.AccountID != ""
}

// Watcher exposes the current session and change notifications. Callbacks
// fire once per transition with the new session; the returned function
// unsubscribes.
type Watcher interface {
	Current() Session
	OnSessionChange(cb func(Session)) (unsubscribe func())
}
