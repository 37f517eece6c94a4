// Package config handles loading and managing mailsift configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/mailsift/mailsift/internal/retrieve"
)

// OAuthConfig holds OAuth configuration.
type OAuthConfig struct {
	ClientSecrets string `toml:"client_secrets"`
	TokensDir     string `toml:"tokens_dir"`
}

// GmailConfig holds Gmail API access settings.
type GmailConfig struct {
	Account      string `toml:"account"`        // Token file key, usually the mailbox address
	UserID       string `toml:"user_id"`        // Gmail API user id (default: "me")
	RateLimitQPS int    `toml:"rate_limit_qps"` // Outgoing request rate
}

// RetrievalConfig tunes the retrieval layer.
type RetrievalConfig struct {
	PageSize      int      `toml:"page_size"`
	MaxRetries    int      `toml:"max_retries"`
	BackoffUnit   string   `toml:"backoff_unit"`
	PublicDomains []string `toml:"public_domains"`
}

// ServerConfig holds HTTP API server configuration.
type ServerConfig struct {
	BindAddr     string  `toml:"bind_addr"`      // Listen address (default: 127.0.0.1)
	APIPort      int     `toml:"api_port"`       // HTTP server port (default: 8080)
	APIKey       string  `toml:"api_key"`        // API authentication key
	RateLimitRPS float64 `toml:"rate_limit_rps"` // Per-client request rate (0 disables)

	CORSOrigins     []string `toml:"cors_origins"`     // Allowed browser origins (empty disables CORS)
	CORSCredentials bool     `toml:"cors_credentials"` // Send Access-Control-Allow-Credentials
	CORSMaxAge      int      `toml:"cors_max_age"`     // Preflight cache seconds (default 86400 when origins are set)
}

// Config represents the mailsift configuration.
type Config struct {
	OAuth     OAuthConfig     `toml:"oauth"`
	Gmail     GmailConfig     `toml:"gmail"`
	Retrieval RetrievalConfig `toml:"retrieval"`
	Server    ServerConfig    `toml:"server"`

	// Computed paths (not from config file)
	HomeDir    string `toml:"-"`
	configPath string
}

// DefaultHome returns the default mailsift home directory.
// Respects MAILSIFT_HOME environment variable.
func DefaultHome() string {
	if h := os.Getenv("MAILSIFT_HOME"); h != "" {
		return expandPath(h)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".mailsift"
	}
	return filepath.Join(home, ".mailsift")
}

// NewDefaultConfig returns a configuration with default values rooted at
// DefaultHome.
func NewDefaultConfig() *Config {
	return newDefaultConfig(DefaultHome())
}

func newDefaultConfig(homeDir string) *Config {
	return &Config{
		HomeDir: homeDir,
		Gmail: GmailConfig{
			UserID:       "me",
			RateLimitQPS: 5,
		},
		Retrieval: RetrievalConfig{
			PageSize:      retrieve.MaxPageSize,
			MaxRetries:    retrieve.DefaultMaxRetries,
			BackoffUnit:   retrieve.DefaultBackoffUnit.String(),
			PublicDomains: append([]string(nil), retrieve.DefaultPublicDomains...),
		},
		Server: ServerConfig{
			BindAddr:     "127.0.0.1",
			APIPort:      8080,
			RateLimitRPS: 10,
		},
		configPath: filepath.Join(homeDir, "config.toml"),
	}
}

// Load reads the configuration.
//
// With an explicit path the file must exist, and HomeDir becomes the file's
// directory. Otherwise config.toml is read from homeDir (or DefaultHome when
// homeDir is empty) if present.
func Load(path, homeDir string) (*Config, error) {
	explicit := path != ""

	if homeDir != "" {
		homeDir = expandPath(homeDir)
	} else {
		homeDir = DefaultHome()
	}

	if explicit {
		path = expandPath(path)
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("resolve config path: %w", err)
		}
		path = abs
		homeDir = filepath.Dir(abs)
	} else {
		path = filepath.Join(homeDir, "config.toml")
	}

	cfg := newDefaultConfig(homeDir)
	cfg.configPath = path

	// Config file is optional - use defaults if not present
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, decodeError(err)
	}

	cfg.OAuth.ClientSecrets = cfg.resolvePath(cfg.OAuth.ClientSecrets)
	cfg.OAuth.TokensDir = cfg.resolvePath(cfg.OAuth.TokensDir)

	return cfg, nil
}

// decodeError adds a hint for the common mistake of Windows paths in
// double-quoted TOML strings.
func decodeError(err error) error {
	msg := err.Error()
	if strings.Contains(msg, "invalid escape") || strings.Contains(msg, "hexadecimal digits") {
		return fmt.Errorf("decode config: %w (hint: use forward slashes or single quotes for paths containing backslashes)", err)
	}
	return fmt.Errorf("decode config: %w", err)
}

// resolvePath expands ~ and makes relative paths relative to HomeDir.
func (c *Config) resolvePath(p string) string {
	p = expandPath(p)
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.HomeDir, p)
}

// ConfigFilePath returns the path the configuration was (or would be) read from.
func (c *Config) ConfigFilePath() string {
	return c.configPath
}

// TokensDir returns the path to the OAuth tokens directory.
func (c *Config) TokensDir() string {
	if c.OAuth.TokensDir != "" {
		return c.OAuth.TokensDir
	}
	return filepath.Join(c.HomeDir, "tokens")
}

// BackoffUnit returns the parsed retrieval backoff unit.
func (c *Config) BackoffUnit() (time.Duration, error) {
	if c.Retrieval.BackoffUnit == "" {
		return retrieve.DefaultBackoffUnit, nil
	}
	d, err := time.ParseDuration(c.Retrieval.BackoffUnit)
	if err != nil {
		return 0, fmt.Errorf("retrieval.backoff_unit: %w", err)
	}
	return d, nil
}

// ServerAddr returns the listen address for the HTTP API.
func (c *Config) ServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.BindAddr, c.Server.APIPort)
}

// Validate checks values that cannot be corrected silently.
func (c *Config) Validate() error {
	var errs []error
	if c.Retrieval.PageSize < 1 || c.Retrieval.PageSize > retrieve.MaxPageSize {
		errs = append(errs, fmt.Errorf("retrieval.page_size must be between 1 and %d, got %d",
			retrieve.MaxPageSize, c.Retrieval.PageSize))
	}
	if c.Retrieval.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("retrieval.max_retries must not be negative, got %d", c.Retrieval.MaxRetries))
	}
	if d, err := c.BackoffUnit(); err != nil {
		errs = append(errs, err)
	} else if d < 0 {
		errs = append(errs, fmt.Errorf("retrieval.backoff_unit must not be negative, got %s", d))
	}
	if c.Gmail.RateLimitQPS <= 0 {
		errs = append(errs, fmt.Errorf("gmail.rate_limit_qps must be positive, got %d", c.Gmail.RateLimitQPS))
	}
	if c.Server.APIPort < 0 || c.Server.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("server.api_port out of range: %d", c.Server.APIPort))
	}
	if c.Server.CORSMaxAge < 0 {
		errs = append(errs, fmt.Errorf("server.cors_max_age must not be negative, got %d", c.Server.CORSMaxAge))
	}
	if c.Server.RateLimitRPS < 0 {
		errs = append(errs, fmt.Errorf("server.rate_limit_rps must not be negative, got %g", c.Server.RateLimitRPS))
	}
	return errors.Join(errs...)
}

// expandPath expands a leading ~ to the user's home directory. On Windows,
// surrounding quotes left by CMD are stripped first.
func expandPath(path string) string {
	if path == "" {
		return path
	}
	if runtime.GOOS == "windows" && len(path) >= 2 {
		if (path[0] == '\'' && path[len(path)-1] == '\'') || (path[0] == '"' && path[len(path)-1] == '"') {
			path = path[1 : len(path)-1]
		}
	}
	if path != "~" && !strings.HasPrefix(path, "~/") && !strings.HasPrefix(path, `~\`) {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
