package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/go-jose/go-jose/v4"
	"github.com/mnehpets/mcpgate/directory"
)

// EmailLookup finds an active client by its email address.
type EmailLookup interface {
	LookupActiveByEmail(ctx context.Context, email string) (*directory.Client, error)
}

// signatureAlgorithms are the JWS algorithms accepted for bearer ID tokens.
var signatureAlgorithms = []jose.SignatureAlgorithm{
	jose.RS256, jose.RS384, jose.RS512,
	jose.ES256, jose.ES384, jose.ES512,
	jose.PS256, jose.PS384, jose.PS512,
	jose.EdDSA,
}

// OIDCResolver accepts ID tokens from a single issuer as bearer
// credentials. The token's verified email must belong to an active client.
type OIDCResolver struct {
	verifier *oidc.IDTokenVerifier
	clients  EmailLookup
}

// NewOIDCResolver performs discovery against issuer and verifies tokens
// whose audience is clientID.
func NewOIDCResolver(ctx context.Context, issuer, clientID string, clients EmailLookup) (*OIDCResolver, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to query provider %q: %w", issuer, err)
	}
	return NewOIDCResolverWithVerifier(provider.Verifier(&oidc.Config{ClientID: clientID}), clients), nil
}

// NewOIDCResolverWithVerifier builds a resolver around an existing verifier.
func NewOIDCResolverWithVerifier(verifier *oidc.IDTokenVerifier, clients EmailLookup) *OIDCResolver {
	return &OIDCResolver{verifier: verifier, clients: clients}
}

type idClaims struct {
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
}

// Resolve implements Resolver. Credentials that are not compact JWS are
// rejected without contacting the key set, so plain API keys fall through
// a Chain cheaply.
func (o *OIDCResolver) Resolve(ctx context.Context, credential string) (Identity, error) {
	if _, err := jose.ParseSigned(credential, signatureAlgorithms); err != nil {
		return Identity{}, ErrInvalidCredential
	}

	tok, err := o.verifier.Verify(ctx, credential)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}

	var claims idClaims
	if err := tok.Claims(&claims); err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}
	if claims.Email == "" || !claims.EmailVerified {
		return Identity{}, ErrInvalidCredential
	}

	c, err := o.clients.LookupActiveByEmail(ctx, claims.Email)
	if errors.Is(err, directory.ErrNotFound) {
		return Identity{}, ErrInvalidCredential
	}
	if err != nil {
		return Identity{}, fmt.Errorf("looking up client: %w", err)
	}
	return Identity{Name: c.Name}, nil
}
