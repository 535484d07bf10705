package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mnehpets/mcpgate/directory"
)

var (
	seedFile string

	addName      string
	addEmail     string
	addRateLimit int
	addInactive  bool
	addKeyPrefix string

	keygenPrefix string
)

var clientsCmd = &cobra.Command{
	Use:   "clients",
	Short: "Manage API clients",
}

var clientsSeedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Create or update clients from a seed file",
	Long: `Upsert every client in a seed file (.yaml, .yml, .toml or .cbor),
matching existing clients by email, then list the active clients.

Keys are shown only when they were supplied by the file or generated by this
run; existing clients keep their key.`,
	RunE: runClientsSeed,
}

var clientsAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Create a client with a new API key",
	RunE:  runClientsAdd,
}

var clientsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List active clients",
	RunE:  runClientsList,
}

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Print a new random API key",
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := directory.GenerateAPIKey(keygenPrefix)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), key)
		return nil
	},
}

func init() {
	clientsSeedCmd.Flags().StringVarP(&seedFile, "file", "f", "", "Seed file")
	clientsSeedCmd.MarkFlagRequired("file")

	clientsAddCmd.Flags().StringVar(&addName, "name", "", "Client name")
	clientsAddCmd.Flags().StringVar(&addEmail, "email", "", "Client email")
	clientsAddCmd.Flags().IntVar(&addRateLimit, "rate-limit", directory.DefaultRateLimit, "Recorded rate limit")
	clientsAddCmd.Flags().BoolVar(&addInactive, "inactive", false, "Create the client disabled")
	clientsAddCmd.Flags().StringVar(&addKeyPrefix, "key-prefix", "", "Prefix for the generated key")
	clientsAddCmd.MarkFlagRequired("name")

	keygenCmd.Flags().StringVar(&keygenPrefix, "prefix", "", "Key prefix")

	clientsCmd.AddCommand(clientsSeedCmd)
	clientsCmd.AddCommand(clientsAddCmd)
	clientsCmd.AddCommand(clientsListCmd)
}

func runClientsSeed(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	seed, err := directory.LoadSeed(seedFile)
	if err != nil {
		return err
	}
	seeded, err := directory.ApplySeed(cmd.Context(), store, seed.Clients)
	if err != nil {
		return err
	}

	keys := make(map[int64]string, len(seeded))
	for _, s := range seeded {
		if s.APIKey != "" {
			keys[s.Client.ID] = s.APIKey
		}
	}

	active, err := store.ListActive(cmd.Context())
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	color.New(color.FgGreen, color.Bold).Fprintf(out, "Seeded %d client(s)\n", len(seeded))
	fmt.Fprintln(out)
	printClients(out, active, keys)
	return nil
}

func runClientsAdd(cmd *cobra.Command, args []string) error {
	if addRateLimit <= 0 {
		return errors.New("--rate-limit must be greater than 0")
	}
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	if addEmail != "" {
		if _, err := store.FindByEmail(cmd.Context(), addEmail); err == nil {
			return fmt.Errorf("a client with email %s already exists", addEmail)
		} else if !errors.Is(err, directory.ErrNotFound) {
			return err
		}
	}

	key, err := directory.GenerateAPIKey(addKeyPrefix)
	if err != nil {
		return err
	}
	rl := addRateLimit
	c, err := store.Upsert(cmd.Context(), &directory.Client{
		Name:      addName,
		Email:     addEmail,
		Active:    !addInactive,
		RateLimit: &rl,
	}, key)
	if err != nil {
		return err
	}

	printClients(cmd.OutOrStdout(), []*directory.Client{c}, map[int64]string{c.ID: key})
	color.New(color.FgYellow).Fprintln(cmd.ErrOrStderr(), "Store this key now; it cannot be shown again.")
	return nil
}

func runClientsList(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	active, err := store.ListActive(cmd.Context())
	if err != nil {
		return err
	}
	printClients(cmd.OutOrStdout(), active, nil)
	return nil
}

func printClients(w io.Writer, clients []*directory.Client, keys map[int64]string) {
	name := color.New(color.FgCyan, color.Bold)
	dim := color.New(color.FgHiBlack)

	if len(clients) == 0 {
		dim.Fprintln(w, "No active clients.")
		return
	}
	for _, c := range clients {
		name.Fprintf(w, "%s", c.Name)
		if c.Email != "" {
			dim.Fprintf(w, " <%s>", c.Email)
		}
		fmt.Fprintln(w)

		rl := "-"
		if c.RateLimit != nil {
			rl = strconv.Itoa(*c.RateLimit)
		}
		fmt.Fprintf(w, "  id:         %d\n", c.ID)
		fmt.Fprintf(w, "  rate limit: %s\n", rl)
		if key, ok := keys[c.ID]; ok {
			fmt.Fprintf(w, "  api key:    %s\n", color.GreenString(key))
		} else {
			fmt.Fprintf(w, "  api key:    %s\n", dim.Sprint("(unchanged)"))
		}
	}
}

