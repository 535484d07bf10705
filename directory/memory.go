package directory

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStore is an in-process Store. Records are lost on exit.
type MemoryStore struct {
	mu      sync.RWMutex
	nextID  int64
	clients []*Client
	now     func() time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{nextID: 1, now: time.Now}
}

func (m *MemoryStore) LookupActive(ctx context.Context, apiKey string) (*Client, error) {
	digest := Digest(apiKey)
	return m.find(func(c *Client) bool { return c.Active && c.KeyDigest == digest })
}

func (m *MemoryStore) LookupActiveByEmail(ctx context.Context, email string) (*Client, error) {
	if email == "" {
		return nil, ErrNotFound
	}
	return m.find(func(c *Client) bool { return c.Active && c.Email == email })
}

func (m *MemoryStore) FindByEmail(ctx context.Context, email string) (*Client, error) {
	if email == "" {
		return nil, ErrNotFound
	}
	return m.find(func(c *Client) bool { return c.Email == email })
}

func (m *MemoryStore) ListActive(ctx context.Context) ([]*Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Client
	for _, c := range m.clients {
		if c.Active {
			out = append(out, cloneClient(c))
		}
	}
	return out, nil
}

func (m *MemoryStore) Upsert(ctx context.Context, c *Client, apiKey string) (*Client, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var digest string
	if apiKey != "" {
		digest = Digest(apiKey)
	}

	var existing *Client
	if c.Email != "" {
		for _, cur := range m.clients {
			if cur.Email == c.Email {
				existing = cur
				break
			}
		}
	}
	if digest != "" {
		for _, cur := range m.clients {
			if cur.KeyDigest == digest && cur != existing {
				return nil, fmt.Errorf("directory: api key already in use")
			}
		}
	}

	now := m.now().UTC()
	if existing == nil {
		if digest == "" {
			return nil, ErrKeyRequired
		}
		rec := cloneClient(c)
		rec.ID = m.nextID
		rec.KeyDigest = digest
		rec.CreatedAt = now
		rec.UpdatedAt = now
		m.nextID++
		m.clients = append(m.clients, rec)
		return cloneClient(rec), nil
	}

	existing.Name = c.Name
	existing.Active = c.Active
	existing.RateLimit = cloneClient(c).RateLimit
	if digest != "" {
		existing.KeyDigest = digest
	}
	existing.UpdatedAt = now
	return cloneClient(existing), nil
}

func (m *MemoryStore) Close() error {
	return nil
}

func (m *MemoryStore) find(match func(*Client) bool) (*Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, c := range m.clients {
		if match(c) {
			return cloneClient(c), nil
		}
	}
	return nil, ErrNotFound
}

var _ Store = (*MemoryStore)(nil)
