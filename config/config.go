// Package config loads gateway settings from defaults, an optional YAML
// file and the environment, in that order of precedence (lowest first).
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// MemoryPath selects the in-memory client directory.
const MemoryPath = ":memory:"

// Config is the complete gateway configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Directory DirectoryConfig `yaml:"directory"`
	Auth      AuthConfig      `yaml:"auth"`
	Stream    StreamConfig    `yaml:"stream"`
	Logging   LoggingConfig   `yaml:"logging"`
	CORS      CORSConfig      `yaml:"cors"`
}

type ServerConfig struct {
	Addr              string        `yaml:"addr"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
	// HSTSMaxAge enables Strict-Transport-Security when positive (seconds).
	HSTSMaxAge int `yaml:"hsts_max_age"`
}

type DirectoryConfig struct {
	// Path is the SQLite database file, or ":memory:".
	Path     string `yaml:"path"`
	SeedFile string `yaml:"seed_file"`
}

type AuthConfig struct {
	AllowQueryKey bool       `yaml:"allow_query_key"`
	OIDC          OIDCConfig `yaml:"oidc"`
}

// OIDCConfig enables ID tokens as bearer credentials when Issuer is set.
type OIDCConfig struct {
	Issuer   string `yaml:"issuer"`
	ClientID string `yaml:"client_id"`
}

type StreamConfig struct {
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:              ":3001",
			ReadHeaderTimeout: 10 * time.Second,
			ShutdownTimeout:   15 * time.Second,
		},
		Directory: DirectoryConfig{Path: "mcpgate.db"},
		Auth:      AuthConfig{AllowQueryKey: true},
		Stream:    StreamConfig{HeartbeatInterval: 30 * time.Second},
		Logging:   LoggingConfig{Level: "info"},
	}
}

// Load builds the configuration. A .env file in the working directory is
// loaded into the environment first if present; existing variables win.
// path may be empty, in which case only defaults and environment apply.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR} with the variable's value, or nothing.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("MCPGATE_ADDR", &c.Server.Addr)
	str("MCPGATE_DB_PATH", &c.Directory.Path)
	str("MCPGATE_SEED_FILE", &c.Directory.SeedFile)
	str("MCPGATE_LOG_LEVEL", &c.Logging.Level)
	str("MCPGATE_OIDC_ISSUER", &c.Auth.OIDC.Issuer)
	str("MCPGATE_OIDC_CLIENT_ID", &c.Auth.OIDC.ClientID)

	if v, ok := lookup("MCPGATE_ALLOW_QUERY_KEY"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("MCPGATE_ALLOW_QUERY_KEY %q: %w", v, err)
		}
		c.Auth.AllowQueryKey = b
	}
	if v, ok := lookup("MCPGATE_HEARTBEAT"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("MCPGATE_HEARTBEAT %q: %w", v, err)
		}
		c.Stream.HeartbeatInterval = d
	}
	return nil
}

// Validate reports the first invalid field.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return errors.New("server.addr is required")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("server.shutdown_timeout must be positive")
	}
	if c.Directory.Path == "" {
		return errors.New("directory.path is required")
	}
	if c.Stream.HeartbeatInterval <= 0 {
		return errors.New("stream.heartbeat_interval must be positive")
	}
	if c.Auth.OIDC.Issuer != "" && c.Auth.OIDC.ClientID == "" {
		return errors.New("auth.oidc.client_id is required when auth.oidc.issuer is set")
	}
	return nil
}
