package model

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// FavoriteItem is a saved recipe. ID is the external recipe identifier
// assigned by the recipe API and is the uniqueness key within a collection.
type FavoriteItem struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Image   string `json:"image,omitempty"`
	Details string `json:"details,omitempty"`
}

// GroceryItem is one grocery list entry. ID is generated on the device and
// stays stable for the item's lifetime.
type GroceryItem struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Checked bool     `json:"checked"`
	AddedAt FlexTime `json:"addedAt"`
}

// NormalizeName is the dedup key for grocery items: case-insensitive,
// surrounding whitespace ignored.
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// NewGroceryItemID returns a unique time-based ID with a random suffix,
// e.g. "1735689600123-a3f9c1".
func NewGroceryItemID() string {
	suffix := make([]byte, 3)
	if _, err := rand.Read(suffix); err != nil {
		// Degrade to time-only; collisions within a millisecond are
		// not a realistic concern for a single device.
		return fmt.Sprintf("%d", time.Now().UnixMilli())
	}
	return fmt.Sprintf("%d-%s", time.Now().UnixMilli(), hex.EncodeToString(suffix))
}
