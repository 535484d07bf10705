package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mnehpets/mcpgate/bridge"
	"github.com/mnehpets/mcpgate/logging"
)

var (
	bridgeURL string
	bridgeKey string
)

var bridgeCmd = &cobra.Command{
	Use:   "bridge",
	Short: "Relay a stdio MCP client to the gateway",
	Long: `Read one JSON-RPC message per line from stdin, post it to the gateway's
message endpoint and write each answer as one line on stdout.

The gateway URL defaults to $MCP_SERVER_URL (or http://localhost:3001) and
the API key to $MCP_API_KEY. A key is required. Logs go to stderr.`,
	RunE: runBridge,
}

func init() {
	bridgeCmd.Flags().StringVar(&bridgeURL, "url", envOr("MCP_SERVER_URL", "http://localhost:3001"), "Gateway base URL")
	bridgeCmd.Flags().StringVar(&bridgeKey, "key", os.Getenv("MCP_API_KEY"), "API key")
}

func runBridge(cmd *cobra.Command, args []string) error {
	if bridgeKey == "" {
		return errors.New("MCP_API_KEY environment variable is required")
	}

	level := logging.ParseLevel("warn")
	if logLevel != "" {
		level = logging.ParseLevel(logLevel)
	}
	logger := logging.New(logging.Config{Level: level, Output: os.Stderr, Pretty: logPretty})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	relay := bridge.New(bridgeURL, bridge.NewClient(ctx, bridgeKey), os.Stdin, os.Stdout, logger)
	if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
