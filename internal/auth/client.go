package auth

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Client is the production Watcher. It accepts ID tokens pushed by the app
// shell, extracts the account identity from the token claims, and signs the
// session out automatically when the token expires.
//
// Token signatures are not verified here: the token is only used to identify
// the account this device should sync as, and it was obtained by the shell
// directly from the hosted auth service. The document store verifies it on
// every request.
type Client struct {
	mu      sync.Mutex
	session Session
	token   string
	subs    map[int]func(Session)
	nextSub int
	expiry  *time.Timer
	logger  *slog.Logger
}

func NewClient(logger *slog.Logger) *Client {
	return &Client{
		subs:   make(map[int]func(Session)),
		logger: logger,
	}
}

// SetToken installs a fresh ID token and transitions the session to the
// account it names. An already-expired token is rejected.
func (c *Client) SetToken(raw string) error {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return fmt.Errorf("parse id token: %w", err)
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return fmt.Errorf("id token has no subject")
	}

	var expiresAt time.Time
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		expiresAt = exp.Time
		if time.Now().After(expiresAt) {
			return fmt.Errorf("id token expired at %s", expiresAt.Format(time.RFC3339))
		}
	}

	email, _ := claims["email"].(string)

	session := Session{AccountID: sub, Email: email, ExpiresAt: expiresAt}

	c.mu.Lock()
	c.token = raw
	c.resetExpiryLocked(expiresAt)
	cbs := c.setSessionLocked(session)
	c.mu.Unlock()

	c.logger.Info("session established", "account", sub)
	for _, cb := range cbs {
		cb(session)
	}
	return nil
}

// SignOut clears the session.
func (c *Client) SignOut() {
	c.mu.Lock()
	c.token = ""
	c.resetExpiryLocked(time.Time{})
	cbs := c.setSessionLocked(Session{})
	c.mu.Unlock()

	if cbs != nil {
		c.logger.Info("session cleared")
	}
	for _, cb := range cbs {
		cb(Session{})
	}
}

// Token returns the current raw ID token, or "" when signed out. The
// document store client uses it as the bearer credential.
func (c *Client) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

func (c *Client) Current() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

func (c *Client) OnSessionChange(cb func(Session)) func() {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = cb
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}

// setSessionLocked updates the session and returns the callbacks to notify.
// A no-op transition (same account) returns nil.
func (c *Client) setSessionLocked(s Session) []func(Session) {
	if c.session == s {
		return nil
	}
	c.session = s
	cbs := make([]func(Session), 0, len(c.subs))
	for _, cb := range c.subs {
		cbs = append(cbs, cb)
	}
	return cbs
}

// resetExpiryLocked arms a timer that signs the session out when the token
// expires. A zero time disarms it.
func (c *Client) resetExpiryLocked(expiresAt time.Time) {
	if c.expiry != nil {
		c.expiry.Stop()
		c.expiry = nil
	}
	if expiresAt.IsZero() {
		return
	}
	d := time.Until(expiresAt)
	c.expiry = time.AfterFunc(d, func() {
		c.logger.Warn("id token expired, signing out")
		c.SignOut()
	})
}
