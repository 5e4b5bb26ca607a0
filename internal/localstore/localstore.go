// Package localstore is the device-local persistent key-value store backing
// the anonymous (signed-out) collections. Values are serialized item lists;
// the store itself treats them as opaque strings.
package localstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

type Store struct {
	db     *sql.DB
	sealer *Sealer
}

// New returns a plaintext store over the device database.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// NewSealed returns a store that encrypts values at rest with a key derived
// from the given passphrase. The key-derivation salt is persisted alongside
// the data on first use.
func NewSealed(db *sql.DB, passphrase string) (*Store, error) {
	salt, err := loadOrCreateSalt(db)
	if err != nil {
		return nil, err
	}
	sealer, err := NewSealer(passphrase, salt)
	if err != nil {
		return nil, err
	}
	return &Store{db: db, sealer: sealer}, nil
}

// Get returns the value for key. The second return is false when the key is
// absent.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	var value []byte
	var sealed int
	err := s.db.QueryRowContext(ctx,
		`SELECT value, sealed FROM device_kv WHERE key = ?`, key,
	).Scan(&value, &sealed)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %q: %w", key, err)
	}

	if sealed != 0 {
		if s.sealer == nil {
			return "", false, fmt.Errorf("get %q: value is sealed but store has no key", key)
		}
		plain, err := s.sealer.Open(value)
		if err != nil {
			return "", false, fmt.Errorf("get %q: %w", key, err)
		}
		value = plain
	}
	return string(value), true, nil
}

// Set writes value under key, replacing any previous value.
func (s *Store) Set(ctx context.Context, key, value string) error {
	data := []byte(value)
	sealed := 0
	if s.sealer != nil {
		var err error
		data, err = s.sealer.Seal(data)
		if err != nil {
			return fmt.Errorf("set %q: %w", key, err)
		}
		sealed = 1
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO device_kv (key, value, sealed, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, sealed = excluded.sealed, updated_at = excluded.updated_at`,
		key, data, sealed, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("set %q: %w", key, err)
	}
	return nil
}

// Remove deletes key. Removing an absent key is not an error.
func (s *Store) Remove(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM device_kv WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("remove %q: %w", key, err)
	}
	return nil
}
