package auth

import (
	"context"
	"errors"
	"net/http"

	"github.com/mnehpets/mcpgate/endpoint"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
)

var (
	// ErrMissingCredential means the request carried no credential at all.
	ErrMissingCredential = errors.New("auth: missing credential")
	// ErrInvalidCredential means a credential was presented but does not
	// resolve to an active identity. Unknown and inactive are not told apart.
	ErrInvalidCredential = errors.New("auth: invalid credential")
)

const (
	msgMissing = "API key is missing"
	msgInvalid = "Invalid or inactive API key"
)

// Resolver maps a raw credential to an Identity. Implementations return
// ErrInvalidCredential for credentials they do not recognise; any other
// error is treated as a server fault.
type Resolver interface {
	Resolve(ctx context.Context, credential string) (Identity, error)
}

// ResolverFunc adapts a function to a Resolver.
type ResolverFunc func(ctx context.Context, credential string) (Identity, error)

func (f ResolverFunc) Resolve(ctx context.Context, credential string) (Identity, error) {
	return f(ctx, credential)
}

// Chain tries each resolver in order and returns the first identity found.
// A resolver answering ErrInvalidCredential passes to the next; any other
// error stops the chain.
func Chain(resolvers ...Resolver) Resolver {
	return ResolverFunc(func(ctx context.Context, credential string) (Identity, error) {
		for _, res := range resolvers {
			id, err := res.Resolve(ctx, credential)
			if err == nil {
				return id, nil
			}
			if !errors.Is(err, ErrInvalidCredential) {
				return Identity{}, err
			}
		}
		return Identity{}, ErrInvalidCredential
	})
}

// Gate is an endpoint.Processor that authenticates every request before the
// endpoint runs and attaches the resolved Identity to the request context.
type Gate struct {
	resolver   Resolver
	allowQuery bool
	logger     zerolog.Logger
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithQueryKey enables or disables the api_key query parameter.
func WithQueryKey(allow bool) GateOption {
	return func(g *Gate) { g.allowQuery = allow }
}

// WithLogger sets the logger used when the request carries none.
func WithLogger(l zerolog.Logger) GateOption {
	return func(g *Gate) { g.logger = l }
}

// NewGate returns a Gate using resolver. The query parameter is accepted
// unless disabled with WithQueryKey(false).
func NewGate(resolver Resolver, opts ...GateOption) *Gate {
	g := &Gate{
		resolver:   resolver,
		allowQuery: true,
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Process implements endpoint.Processor.
func (g *Gate) Process(w http.ResponseWriter, r *http.Request, next func(w http.ResponseWriter, r *http.Request) error) error {
	id, err := g.Authenticate(r)
	if err != nil {
		switch {
		case errors.Is(err, ErrMissingCredential):
			w.Header().Set("WWW-Authenticate", "Bearer")
			return endpoint.Error(http.StatusUnauthorized, msgMissing, err)
		case errors.Is(err, ErrInvalidCredential):
			w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
			return endpoint.Error(http.StatusUnauthorized, msgInvalid, err)
		default:
			return endpoint.Error(http.StatusInternalServerError, "", err)
		}
	}
	return next(w, r.WithContext(WithIdentity(r.Context(), id)))
}

// Authenticate extracts and resolves the request credential.
func (g *Gate) Authenticate(r *http.Request) (Identity, error) {
	cred, source, found := ExtractCredential(r, g.allowQuery)
	if !found {
		return Identity{}, ErrMissingCredential
	}
	if source == SourceQuery {
		g.log(r).Warn().Str("path", r.URL.Path).Msg("api key supplied in query string")
	}
	if cred == "" {
		return Identity{}, ErrInvalidCredential
	}
	return g.resolver.Resolve(r.Context(), cred)
}

func (g *Gate) log(r *http.Request) *zerolog.Logger {
	if l := hlog.FromRequest(r); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &g.logger
}
