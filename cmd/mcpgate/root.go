package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/mnehpets/mcpgate/config"
	"github.com/mnehpets/mcpgate/directory"
	"github.com/mnehpets/mcpgate/logging"
)

// Version is set at build time.
var Version = "dev"

var (
	configPath string
	logLevel   string
	logPretty  bool
)

var rootCmd = &cobra.Command{
	Use:   "mcpgate",
	Short: "API-key authenticated MCP gateway",
	Long: `mcpgate serves a random number tool over a plain HTTP endpoint and an
MCP (JSON-RPC 2.0) endpoint with a keep-alive event stream.

Run 'mcpgate serve' to start the gateway, 'mcpgate bridge' to connect a
stdio MCP client to it, and 'mcpgate clients' to manage API clients.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug|info|warn|error), overrides config")
	rootCmd.PersistentFlags().BoolVar(&logPretty, "log-pretty", false, "Human-readable logs")

	rootCmd.SetVersionTemplate(fmt.Sprintf("mcpgate %s\n", Version))

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(bridgeCmd)
	rootCmd.AddCommand(clientsCmd)
	rootCmd.AddCommand(keygenCmd)
}

// loadConfig reads the config and builds the process logger from it.
func loadConfig() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if logPretty {
		cfg.Logging.Pretty = true
	}
	logger := logging.New(logging.Config{
		Level:  logging.ParseLevel(cfg.Logging.Level),
		Output: os.Stderr,
		Pretty: cfg.Logging.Pretty,
	})
	return cfg, logger, nil
}

// openStore opens the configured client directory.
func openStore(cfg *config.Config, logger zerolog.Logger) (directory.Store, error) {
	if cfg.Directory.Path == config.MemoryPath {
		return directory.NewMemoryStore(), nil
	}
	return directory.NewSQLiteStore(cfg.Directory.Path, logger)
}
