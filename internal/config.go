package internal

import (
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration.
type Config struct {
	App         ApplicationConfig `yaml:"app"`
	Merge       MergeConfig       `yaml:"merge"`
	Ledger      LedgerConfig      `yaml:"ledger"`
	ConflictLog ConflictLogConfig `yaml:"conflict_log"`
	Cache       CacheConfig       `yaml:"cache"`
	Watch       WatchConfig       `yaml:"watch"`
	Auth        AuthConfig        `yaml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Merge.Validate(); err != nil {
		return err
	}
	if err := c.Ledger.Validate(); err != nil {
		return err
	}
	if err := c.ConflictLog.Validate(); err != nil {
		return err
	}
	if err := c.Watch.Validate(); err != nil {
		return err
	}
	return c.Auth.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds the status server configuration used in watch mode.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns the HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// MergeConfig describes what to merge and where.
type MergeConfig struct {
	// Sources are the root directories scanned for candidates, walked in
	// the order given.
	Sources []string `yaml:"sources"`
	// Destination is the directory merged files land in. It must already
	// exist; nothing outside it is ever written.
	Destination string `yaml:"destination"`
	// Extensions is the case-insensitive allow-list of file extensions.
	Extensions []string `yaml:"extensions"`
	// Workers bounds concurrent hashing. Zero means one per CPU.
	Workers int `yaml:"workers"`
}

// Validate validates the merge configuration.
func (c *MergeConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Sources, validation.Required, validation.Each(validation.Required)),
		validation.Field(&c.Destination, validation.Required),
		validation.Field(&c.Extensions, validation.Required, validation.Each(validation.Required)),
		validation.Field(&c.Workers, validation.Min(0), validation.Max(256)),
	)
}

// LedgerConfig holds the path of the processed-file ledger.
type LedgerConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the ledger configuration.
func (c *LedgerConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// ConflictLogConfig holds the path of the append-only conflict log.
type ConflictLogConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the conflict log configuration.
func (c *ConflictLogConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// CacheConfig holds the fingerprint cache database path. An empty path
// disables caching; every file is then hashed on every run.
type CacheConfig struct {
	Path string `yaml:"path"`
}

// WatchConfig configures hot-folder mode.
type WatchConfig struct {
	// SettleSeconds is how long a changed file must stay quiet before it is
	// merged, so files still being written are not hashed mid-copy.
	SettleSeconds int `yaml:"settle_seconds"`
}

// Settle returns the settle delay as a duration.
func (c *WatchConfig) Settle() time.Duration {
	return time.Duration(c.SettleSeconds) * time.Second
}

// Validate validates the watch configuration.
func (c *WatchConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.SettleSeconds, validation.Min(0), validation.Max(3600)),
	)
}

// AuthConfig holds authentication configuration for the status API.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local use.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	// Normalise empty mode to "disabled" for backward compatibility.
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// DefaultExtensions is the built-in allow-list: the common photo formats
// plus the video container formats handled by modification time alone.
func DefaultExtensions() []string {
	return []string{
		".jpg", ".jpeg", ".png", ".cr2", ".heic", ".heif",
		".mp4", ".mov", ".avi", ".mkv",
	}
}

// NewDefaultConfig returns a new Config with sensible default values.
// Sources and Destination have no defaults and must come from the config
// file or flags.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Merge: MergeConfig{
			Extensions: DefaultExtensions(),
		},
		Ledger: LedgerConfig{
			Path: "seen_sources.txt",
		},
		ConflictLog: ConflictLogConfig{
			Path: "conflict_log.txt",
		},
		Watch: WatchConfig{
			SettleSeconds: 2,
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}
