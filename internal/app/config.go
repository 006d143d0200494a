package app

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/florianilch/firehose/internal/observability"
	"github.com/florianilch/firehose/internal/stream"
	"github.com/florianilch/firehose/internal/tally"
	"github.com/florianilch/firehose/internal/tokensource"
	"github.com/florianilch/firehose/internal/tokenstore"
)

// LogFormat represents the logging output format.
type LogFormat string

const (
	LogFormatText     LogFormat = observability.FormatText
	LogFormatJSON     LogFormat = observability.FormatJSON
	LogFormatAuto     LogFormat = observability.FormatAuto
	LogFormatOTLP     LogFormat = observability.FormatOTLP
	LogFormatOTLPGRPC LogFormat = observability.FormatOTLPGRPC
	LogFormatStdout   LogFormat = observability.FormatStdout
)

// TokenStorageType represents the different storage types supported for cached tokens.
type TokenStorageType string

const (
	TokenStorageTypeFile    TokenStorageType = "file"
	TokenStorageTypeEnv     TokenStorageType = "env"
	TokenStorageTypeKeyring TokenStorageType = "keyring"
)

// Default configuration values
const (
	DefaultConfigLogFormat       = LogFormatAuto
	DefaultConfigEnvironment     = "prod"
	DefaultConfigTickInterval    = stream.DefaultTickInterval
	DefaultConfigBroadcastHost   = "127.0.0.1"
	DefaultConfigBroadcastPort   = 9871
	DefaultConfigTallyField      = tally.DefaultField
	DefaultConfigShutdownTimeout = 5 * time.Second
	DefaultConfigTokenStorage    = TokenStorageTypeFile
)

// keyringService is the keyring service name cached tokens are stored under.
const keyringService = "firehose-token"

// EnvironmentConfig describes one firehose deployment: where to get tokens,
// where to stream from and where to cache the token.
type EnvironmentConfig struct {
	TokenAPIHost  string `json:"token_api_host" validate:"required"`
	ClientID      string `json:"client_id" validate:"required"`
	ClientSecret  string `json:"client_secret"`
	Username      string `json:"username" validate:"required"`
	Password      string `json:"password"`
	TrustAllCerts bool   `json:"trust_all_certs"`

	StreamURL      string `json:"stream_url" validate:"required,url"`
	MaxConnections int    `json:"max_connections" validate:"gte=0"`

	// Token cache - where a previously acquired token is kept between runs
	TokenStorage TokenStorageType `json:"token_storage" validate:"required,oneof=file env keyring"`
	File         string           `json:"file,omitempty"`         // For file storage: path to token file
	EnvKey       string           `json:"env_key,omitempty"`      // For env storage: environment variable name
	KeyringUser  string           `json:"keyring_user,omitempty"` // For keyring storage: user identifier
}

// Credentials returns the token service credentials of the environment.
func (e *EnvironmentConfig) Credentials() tokensource.Credentials {
	return tokensource.Credentials{
		TokenAPIHost:  e.TokenAPIHost,
		ClientID:      e.ClientID,
		ClientSecret:  e.ClientSecret,
		Username:      e.Username,
		Password:      e.Password,
		TrustAllCerts: e.TrustAllCerts,
	}
}

// NewTokenStore creates the TokenStore backing the token cache.
func (e *EnvironmentConfig) NewTokenStore() (tokenstore.TokenStore, error) {
	switch e.TokenStorage {
	case TokenStorageTypeFile:
		return tokenstore.NewFileStore(e.File)
	case TokenStorageTypeEnv:
		return tokenstore.NewEnvStore(e.EnvKey)
	case TokenStorageTypeKeyring:
		return tokenstore.NewKeyringStore(keyringService, e.KeyringUser)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", e.TokenStorage)
	}
}

// BroadcastConfig holds the tally broadcast server configuration.
type BroadcastConfig struct {
	Disabled bool   `json:"disabled"`
	Host     string `json:"host" validate:"omitempty,hostname_rfc1123|ip"`
	Port     uint16 `json:"port"` // Port range 0-65535 handled by uint16 type
	// Period between snapshots on /events (defaults to the tick interval).
	Period time.Duration `json:"period" validate:"gte=0"`
}

// ShutdownConfig holds shutdown behavior configuration.
type ShutdownConfig struct {
	// Timeout for graceful shutdown.
	Timeout time.Duration `json:"timeout"`
}

// Config holds the application's configuration.
type Config struct {
	// LogLevel for logging output (defaults to Info if unset).
	LogLevel  slog.Level `json:"log_level"`
	LogFormat LogFormat  `json:"log_format" validate:"oneof=text json auto otlp otlp-grpc stdout"`

	// Environment selects one entry of Environments.
	Environment  string                       `json:"environment" validate:"required"`
	Environments map[string]EnvironmentConfig `json:"environments"`

	TickInterval time.Duration   `json:"tick_interval" validate:"gt=0"`
	TallyField   string          `json:"tally_field"`
	Broadcast    BroadcastConfig `json:"broadcast"`
	Shutdown     ShutdownConfig  `json:"shutdown"`
}

// Default creates a new Config with default values applied.
func Default() (*Config, error) {
	cfg := &Config{}
	if err := cfg.ApplyDefaults(); err != nil {
		return nil, fmt.Errorf("failed to apply defaults: %w", err)
	}
	return cfg, nil
}

// ApplyDefaults fills unset config fields with sensible defaults.
func (c *Config) ApplyDefaults() error {
	if c.LogFormat == "" {
		c.LogFormat = DefaultConfigLogFormat
	}
	if c.Environment == "" {
		c.Environment = DefaultConfigEnvironment
	}
	if c.TickInterval == 0 {
		c.TickInterval = DefaultConfigTickInterval
	}
	if c.TallyField == "" {
		c.TallyField = DefaultConfigTallyField
	}
	if c.Broadcast.Host == "" {
		c.Broadcast.Host = DefaultConfigBroadcastHost
	}
	if c.Broadcast.Port == 0 {
		c.Broadcast.Port = DefaultConfigBroadcastPort
	}
	if c.Broadcast.Period == 0 {
		c.Broadcast.Period = c.TickInterval
	}
	if c.Shutdown.Timeout == 0 {
		c.Shutdown.Timeout = DefaultConfigShutdownTimeout
	}

	env, ok := c.Environments[c.Environment]
	if !ok {
		// Reported by Validate
		return nil
	}

	if env.TokenStorage == "" {
		env.TokenStorage = DefaultConfigTokenStorage
	}

	// Dynamic defaults based on storage type
	switch env.TokenStorage {
	case TokenStorageTypeFile:
		if env.File == "" {
			configDir, err := os.UserConfigDir()
			if err != nil {
				return fmt.Errorf("environments.%s.file required (auto-detect failed: %w)", c.Environment, err)
			}
			env.File = filepath.Join(configDir, "firehose", c.Environment+".token")
		}
	case TokenStorageTypeKeyring:
		if env.KeyringUser == "" {
			env.KeyringUser = c.Environment
		}
	case TokenStorageTypeEnv:
		// env_key must be explicitly configured (no sensible default)
	}

	c.Environments[c.Environment] = env
	return nil
}

// Selected returns the configuration of the active environment.
func (c *Config) Selected() (EnvironmentConfig, error) {
	env, ok := c.Environments[c.Environment]
	if !ok {
		return EnvironmentConfig{}, fmt.Errorf("environment %q is not configured", c.Environment)
	}
	return env, nil
}

// Validate validates the configuration using struct tags and enum values.
// Only the selected environment has to be complete.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return err
	}

	env, err := c.Selected()
	if err != nil {
		return err
	}
	if err := validate.Struct(env); err != nil {
		return fmt.Errorf("environments.%s: %w", c.Environment, err)
	}

	switch env.TokenStorage {
	case TokenStorageTypeFile:
		if env.File == "" {
			return errors.New("file path required for file storage")
		}
	case TokenStorageTypeEnv:
		if env.EnvKey == "" {
			return errors.New("env_key required for env storage")
		}
	case TokenStorageTypeKeyring:
		if env.KeyringUser == "" {
			return errors.New("keyring_user required for keyring storage")
		}
	}

	return nil
}
