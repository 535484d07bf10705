// Package directory stores API clients and resolves API keys to them.
//
// Keys are never stored: records carry the BLAKE2b-256 digest of the key,
// and lookups digest the presented key and compare digests. Two stores are
// provided, MemoryStore and SQLiteStore; both are safe for concurrent use.
package directory

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/mail"
	"time"

	"golang.org/x/crypto/blake2b"
)

var (
	// ErrNotFound means no matching client exists, or it is inactive.
	ErrNotFound = errors.New("directory: client not found")
	// ErrKeyRequired is returned when creating a client without a key.
	ErrKeyRequired = errors.New("directory: api key required for new client")
)

// DefaultRateLimit is applied by callers that create clients without an
// explicit limit. It is recorded only; nothing enforces it.
const DefaultRateLimit = 1000

// Client is an account allowed to call the gateway.
type Client struct {
	ID        int64
	Name      string
	Email     string
	KeyDigest string
	Active    bool
	RateLimit *int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Validate checks the record invariants.
func (c *Client) Validate() error {
	if c.Name == "" {
		return errors.New("name is required")
	}
	if c.Email != "" {
		addr, err := mail.ParseAddress(c.Email)
		if err != nil || addr.Address != c.Email {
			return fmt.Errorf("email %q is invalid", c.Email)
		}
	}
	if c.RateLimit != nil && *c.RateLimit <= 0 {
		return errors.New("rate_limit must be greater than 0")
	}
	return nil
}

// Store is the full directory interface.
type Store interface {
	// LookupActive returns the active client whose key is apiKey.
	LookupActive(ctx context.Context, apiKey string) (*Client, error)
	// LookupActiveByEmail returns the active client with the given email.
	LookupActiveByEmail(ctx context.Context, email string) (*Client, error)
	// FindByEmail returns the client with the given email, active or not.
	FindByEmail(ctx context.Context, email string) (*Client, error)
	// ListActive returns active clients ordered by id.
	ListActive(ctx context.Context) ([]*Client, error)
	// Upsert creates or updates the client identified by c.Email (a client
	// without email is always created). A non-empty apiKey replaces the
	// stored key; an empty one keeps it, and is an error for new clients.
	Upsert(ctx context.Context, c *Client, apiKey string) (*Client, error)
	Close() error
}

// Digest returns the stored form of an API key.
func Digest(apiKey string) string {
	sum := blake2b.Sum256([]byte(apiKey))
	return hex.EncodeToString(sum[:])
}

// GenerateAPIKey returns a new random key. Without a prefix the key is 32
// random bytes in hex; with one it is prefix followed by 16 random bytes in
// hex, which keeps seeded keys recognisable.
func GenerateAPIKey(prefix string) (string, error) {
	n := 32
	if prefix != "" {
		n = 16
	}
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating api key: %w", err)
	}
	return prefix + hex.EncodeToString(b), nil
}

func cloneClient(c *Client) *Client {
	out := *c
	if c.RateLimit != nil {
		rl := *c.RateLimit
		out.RateLimit = &rl
	}
	return &out
}
