package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/mnehpets/mcpgate/directory"
)

// ClientLookup is the part of the client directory the gate needs.
type ClientLookup interface {
	LookupActive(ctx context.Context, apiKey string) (*directory.Client, error)
}

// DirectoryResolver resolves API keys against the client directory.
type DirectoryResolver struct {
	Clients ClientLookup
}

// Resolve implements Resolver.
func (d DirectoryResolver) Resolve(ctx context.Context, credential string) (Identity, error) {
	c, err := d.Clients.LookupActive(ctx, credential)
	if errors.Is(err, directory.ErrNotFound) {
		return Identity{}, ErrInvalidCredential
	}
	if err != nil {
		return Identity{}, fmt.Errorf("looking up client: %w", err)
	}
	return Identity{Name: c.Name}, nil
}
