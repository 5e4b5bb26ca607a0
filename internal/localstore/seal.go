package localstore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"database/sql"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
)

const (
	saltSize  = 16
	nonceSize = 12
	keySize   = 32
	argonTime = 3
	argonMem  = 64 * 1024
	argonPar  = 4

	saltKey = "_seal_salt"
)

// Sealer encrypts and decrypts store values with AES-256-GCM using an
// Argon2id-derived key. The key is derived once at construction; sealed
// values carry only their nonce.
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer derives the sealing key from passphrase and salt.
func NewSealer(passphrase string, salt []byte) (*Sealer, error) {
	key := argon2.IDKey([]byte(passphrase), salt, argonTime, argonMem, argonPar, keySize)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return &Sealer{aead: aead}, nil
}

// Seal encrypts plaintext. Output format: [12-byte nonce][ciphertext].
func (s *Sealer) Seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return s.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Open decrypts a value produced by Seal.
func (s *Sealer) Open(data []byte) ([]byte, error) {
	if len(data) < nonceSize {
		return nil, fmt.Errorf("sealed value too small")
	}
	plain, err := s.aead.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt value: %w", err)
	}
	return plain, nil
}

// loadOrCreateSalt reads the persisted key-derivation salt, generating and
// storing a fresh one on first use.
func loadOrCreateSalt(db *sql.DB) ([]byte, error) {
	var salt []byte
	err := db.QueryRow(`SELECT value FROM device_kv WHERE key = ?`, saltKey).Scan(&salt)
	if err == nil && len(salt) == saltSize {
		return salt, nil
	}
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("load salt: %w", err)
	}

	salt = make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	if _, err := db.Exec(
		`INSERT OR REPLACE INTO device_kv (key, value, sealed) VALUES (?, ?, 0)`,
		saltKey, salt,
	); err != nil {
		return nil, fmt.Errorf("store salt: %w", err)
	}
	return salt, nil
}
