// Package cache provides a TTL cache for resolved update responses.
//
// Responses are cached per catalog version and request fingerprint, so a
// catalog cutover naturally invalidates every entry through its key. Entries
// carry an ETag over the body so transports can answer conditional requests
// without re-resolving.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// Entry is one cached response body with its validator.
type Entry struct {
	Body     []byte
	ETag     string
	StoredAt time.Time
}

// Store is the cache backend. Implementations must treat any internal
// corruption or decode failure as a miss, never as an error surfaced to
// resolution.
type Store interface {
	// Get returns the entry for key, or ok=false on a miss or expired entry.
	Get(ctx context.Context, key string) (Entry, bool)

	// Set stores an entry under key for the given TTL. A non-positive TTL
	// stores nothing.
	Set(ctx context.Context, key string, entry Entry, ttl time.Duration)

	// Delete removes the entry for key if present.
	Delete(ctx context.Context, key string)
}

// ETag computes the validator for a response body: the lowercase hex SHA-256
// of the body.
func ETag(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// Key builds the cache key for one device lookup under a catalog version.
// Every input that can change the response participates in the key; protocol
// filters go into extra.
func Key(catalogVersion string, manufacturerID, productType, productID uint16, firmwareVersion string, extra ...string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s|%04x:%04x:%04x|%s", catalogVersion, manufacturerID, productType, productID, firmwareVersion)
	for _, field := range extra {
		b.WriteByte('|')
		b.WriteString(field)
	}
	return b.String()
}
