package directory

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/fxamacker/cbor/v2"
	"gopkg.in/yaml.v3"
)

// SeedEntry describes one client in a seed file. APIKey is optional: new
// clients without one get a generated key starting with KeyPrefix.
type SeedEntry struct {
	Name      string `yaml:"name" toml:"name" cbor:"name"`
	Email     string `yaml:"email" toml:"email" cbor:"email"`
	APIKey    string `yaml:"api_key" toml:"api_key" cbor:"api_key,omitempty"`
	KeyPrefix string `yaml:"key_prefix" toml:"key_prefix" cbor:"key_prefix,omitempty"`
	Active    *bool  `yaml:"active" toml:"active" cbor:"active,omitempty"`
	RateLimit *int   `yaml:"rate_limit" toml:"rate_limit" cbor:"rate_limit,omitempty"`
}

// SeedFile is the top-level document of a seed file.
type SeedFile struct {
	Clients []SeedEntry `yaml:"clients" toml:"clients" cbor:"clients"`
}

// Seeded reports the outcome for one entry. APIKey is set only when the
// key was supplied by the entry or generated during this run.
type Seeded struct {
	Client *Client
	APIKey string
}

// LoadSeed reads a seed file. The format is chosen by extension: .yaml or
// .yml, .toml, or .cbor.
func LoadSeed(path string) (*SeedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading seed file: %w", err)
	}
	return DecodeSeed(strings.TrimPrefix(filepath.Ext(path), "."), data)
}

// DecodeSeed decodes a seed document in the named format.
func DecodeSeed(format string, data []byte) (*SeedFile, error) {
	var sf SeedFile
	var err error
	switch strings.ToLower(format) {
	case "yaml", "yml":
		err = yaml.Unmarshal(data, &sf)
	case "toml":
		err = toml.Unmarshal(data, &sf)
	case "cbor":
		err = cbor.Unmarshal(data, &sf)
	default:
		return nil, fmt.Errorf("unsupported seed format %q", format)
	}
	if err != nil {
		return nil, fmt.Errorf("decoding %s seed: %w", format, err)
	}
	return &sf, nil
}

// ApplySeed upserts every entry into store, in order. Existing clients
// (matched by email) keep their key unless the entry supplies one.
func ApplySeed(ctx context.Context, store Store, entries []SeedEntry) ([]Seeded, error) {
	out := make([]Seeded, 0, len(entries))
	for i, e := range entries {
		c := &Client{
			Name:      e.Name,
			Email:     e.Email,
			Active:    e.Active == nil || *e.Active,
			RateLimit: e.RateLimit,
		}
		if c.RateLimit == nil {
			rl := DefaultRateLimit
			c.RateLimit = &rl
		}

		key := e.APIKey
		if key == "" {
			_, err := store.FindByEmail(ctx, e.Email)
			switch {
			case err == nil:
			case errors.Is(err, ErrNotFound):
				if key, err = GenerateAPIKey(e.KeyPrefix); err != nil {
					return out, err
				}
			default:
				return out, fmt.Errorf("seed entry %d: %w", i, err)
			}
		}

		saved, err := store.Upsert(ctx, c, key)
		if err != nil {
			return out, fmt.Errorf("seed entry %d (%s): %w", i, e.Name, err)
		}
		out = append(out, Seeded{Client: saved, APIKey: key})
	}
	return out, nil
}
