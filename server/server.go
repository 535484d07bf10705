// Package server wires the gateway's HTTP surface: routing, the auth gate,
// the JSON-RPC endpoint, the event stream and the plain random endpoint.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/mnehpets/mcpgate/auth"
	"github.com/mnehpets/mcpgate/capability"
	"github.com/mnehpets/mcpgate/endpoint"
	"github.com/mnehpets/mcpgate/jsonrpc"
	"github.com/mnehpets/mcpgate/logging"
	"github.com/mnehpets/mcpgate/mcp"
	mw "github.com/mnehpets/mcpgate/middleware"
)

// Name is announced to MCP clients in serverInfo.
const Name = "mcpgate"

// Options configures a Server. Resolver and Registry are required.
type Options struct {
	Addr              string
	ReadHeaderTimeout time.Duration
	Resolver          auth.Resolver
	Registry          *capability.Registry
	Logger            zerolog.Logger
	Version           string
	AllowQueryKey     bool
	Heartbeat         time.Duration
	AllowedOrigins    []string
	HSTSMaxAge        int
}

// Server is the gateway HTTP server.
type Server struct {
	opts    Options
	router  *chi.Mux
	logger  zerolog.Logger
	random  func(lo, hi int) (int, error)
	now     func() time.Time
	httpSrv *http.Server
}

// New builds the router. It does not start listening.
func New(opts Options) *Server {
	if opts.Version == "" {
		opts.Version = "dev"
	}
	s := &Server{
		opts:   opts,
		router: chi.NewRouter(),
		logger: opts.Logger.With().Str("component", "server").Logger(),
		random: capability.RandomInt,
		now:    time.Now,
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(logging.Middleware(s.opts.Logger))
	s.router.Use(middleware.Recoverer)

	if len(s.opts.AllowedOrigins) > 0 {
		s.router.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.opts.AllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", auth.APIKeyHeader},
			ExposedHeaders: []string{logging.RequestIDHeader},
			MaxAge:         300,
		}))
	}
}

func (s *Server) setupRoutes() {
	gate := auth.NewGate(s.opts.Resolver,
		auth.WithQueryKey(s.opts.AllowQueryKey),
		auth.WithLogger(s.logger))

	var headerOpts []mw.SecurityHeadersOption
	if s.opts.HSTSMaxAge > 0 {
		headerOpts = append(headerOpts, mw.WithHSTS(s.opts.HSTSMaxAge, true, false))
	}
	if len(s.opts.AllowedOrigins) > 0 {
		headerOpts = append(headerOpts, mw.WithCrossOriginResourcePolicy("cross-origin"))
	}
	headers := mw.NewSecurityHeaders(headerOpts...)

	rpc := jsonrpc.NewEndpoint(mcp.NewDispatcher(Name, s.opts.Version, s.opts.Registry))
	random := &randomEndpoint{
		random: func(lo, hi int) (int, error) { return s.random(lo, hi) },
		now:    func() time.Time { return s.now() },
	}

	s.router.Get("/healthz", endpoint.HandleFunc(healthz, headers))
	s.router.Get("/api/v1/random", endpoint.HandleFunc(random.Endpoint, headers, gate))
	s.router.Post("/mcp/messages", endpoint.HandleFunc(rpc.Endpoint, headers, gate))
	s.router.Get("/mcp/sse", endpoint.HandleFunc(s.stream, headers, gate))
}

func (s *Server) stream(w http.ResponseWriter, r *http.Request, _ struct{}) (endpoint.Renderer, error) {
	id, _ := auth.IdentityFromContext(r.Context())
	return mcp.NewStreamSession(r.Context(), id.Name, s.opts.Heartbeat, s.logger), nil
}

func healthz(w http.ResponseWriter, r *http.Request, _ struct{}) (endpoint.Renderer, error) {
	return &endpoint.JSONRenderer{Value: map[string]string{"status": "ok"}}, nil
}

// ListenAndServe serves until ctx is cancelled, then shuts down within
// shutdownTimeout. Cancelling ctx also cancels every request context, which
// ends open event streams.
func (s *Server) ListenAndServe(ctx context.Context, shutdownTimeout time.Duration) error {
	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()

	s.httpSrv = &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: s.opts.ReadHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.opts.Addr).Msg("listening")
		errCh <- s.httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info().Msg("shutting down")
	// Streams never go idle on their own; end them before draining.
	cancelBase()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
