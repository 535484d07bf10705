package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mnehpets/mcpgate/auth"
	"github.com/mnehpets/mcpgate/capability"
	"github.com/mnehpets/mcpgate/directory"
	"github.com/mnehpets/mcpgate/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gateway",
	Long: `Start the gateway HTTP server.

The client directory is opened (and seeded, if directory.seed_file is set)
before listening. SIGINT or SIGTERM closes open event streams and drains
in-flight requests.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	if cfg.Directory.SeedFile != "" {
		seed, err := directory.LoadSeed(cfg.Directory.SeedFile)
		if err != nil {
			return err
		}
		seeded, err := directory.ApplySeed(ctx, store, seed.Clients)
		if err != nil {
			return err
		}
		for _, s := range seeded {
			ev := logger.Info().Str("client", s.Client.Name)
			if s.APIKey != "" {
				// Generated keys exist nowhere else.
				ev = ev.Str("api_key", s.APIKey)
			}
			ev.Msg("seeded client")
		}
	}

	resolvers := []auth.Resolver{}
	if cfg.Auth.OIDC.Issuer != "" {
		oidcResolver, err := auth.NewOIDCResolver(ctx, cfg.Auth.OIDC.Issuer, cfg.Auth.OIDC.ClientID, store)
		if err != nil {
			return fmt.Errorf("configuring oidc: %w", err)
		}
		resolvers = append(resolvers, oidcResolver)
		logger.Info().Str("issuer", cfg.Auth.OIDC.Issuer).Msg("oidc bearer tokens enabled")
	}
	resolvers = append(resolvers, auth.DirectoryResolver{Clients: store})

	if cfg.Auth.AllowQueryKey {
		logger.Warn().Msg("api_key query parameter is enabled; disable with auth.allow_query_key=false")
	}

	srv := server.New(server.Options{
		Addr:              cfg.Server.Addr,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		Resolver:          auth.Chain(resolvers...),
		Registry:          capability.NewRegistry(),
		Logger:            logger,
		Version:           Version,
		AllowQueryKey:     cfg.Auth.AllowQueryKey,
		Heartbeat:         cfg.Stream.HeartbeatInterval,
		AllowedOrigins:    cfg.CORS.AllowedOrigins,
		HSTSMaxAge:        cfg.Server.HSTSMaxAge,
	})
	return srv.ListenAndServe(ctx, cfg.Server.ShutdownTimeout)
}
