package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/mailsift/mailsift/internal/retrieve"
)

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("MAILSIFT_HOME", tmpDir)

	cfg, err := Load("", "")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.HomeDir != tmpDir {
		t.Errorf("HomeDir = %q, want %q", cfg.HomeDir, tmpDir)
	}
	if cfg.Gmail.UserID != "me" {
		t.Errorf("Gmail.UserID = %q, want me", cfg.Gmail.UserID)
	}
	if cfg.Gmail.RateLimitQPS != 5 {
		t.Errorf("Gmail.RateLimitQPS = %d, want 5", cfg.Gmail.RateLimitQPS)
	}
	if cfg.Retrieval.PageSize != retrieve.MaxPageSize {
		t.Errorf("Retrieval.PageSize = %d, want %d", cfg.Retrieval.PageSize, retrieve.MaxPageSize)
	}
	if cfg.Retrieval.MaxRetries != 3 {
		t.Errorf("Retrieval.MaxRetries = %d, want 3", cfg.Retrieval.MaxRetries)
	}
	if d, err := cfg.BackoffUnit(); err != nil || d != time.Second {
		t.Errorf("BackoffUnit() = %v, %v, want 1s", d, err)
	}
	if diff := cmp.Diff(retrieve.DefaultPublicDomains, cfg.Retrieval.PublicDomains); diff != "" {
		t.Errorf("PublicDomains mismatch (-want +got):\n%s", diff)
	}
	if cfg.Server.APIPort != 8080 || cfg.Server.APIKey != "" {
		t.Errorf("Server = %+v, want port 8080 and no key", cfg.Server)
	}
	if got, want := cfg.ServerAddr(), "127.0.0.1:8080"; got != want {
		t.Errorf("ServerAddr() = %q, want %q", got, want)
	}
	if got, want := cfg.TokensDir(), filepath.Join(tmpDir, "tokens"); got != want {
		t.Errorf("TokensDir() = %q, want %q", got, want)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() on defaults = %v", err)
	}
}

func TestLoadWithConfigFile(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("MAILSIFT_HOME", tmpDir)

	writeConfig(t, tmpDir, `
[oauth]
client_secrets = "~/secrets/client.json"

[gmail]
account = "me@example.com"
rate_limit_qps = 10

[retrieval]
page_size = 10
max_retries = 1
backoff_unit = "250ms"
public_domains = ["example.org"]

[server]
api_port = 9090
api_key = "test-secret-key"
`)

	cfg, err := Load("", "")
	if err != nil {
		t.Fatalf("Load(\"\") failed: %v", err)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		t.Fatalf("failed to get user home dir: %v", err)
	}
	if want := filepath.Join(home, "secrets/client.json"); cfg.OAuth.ClientSecrets != want {
		t.Errorf("OAuth.ClientSecrets = %q, want %q", cfg.OAuth.ClientSecrets, want)
	}
	if cfg.Gmail.Account != "me@example.com" || cfg.Gmail.RateLimitQPS != 10 {
		t.Errorf("Gmail = %+v", cfg.Gmail)
	}
	if cfg.Gmail.UserID != "me" {
		t.Errorf("Gmail.UserID = %q, default should survive partial section", cfg.Gmail.UserID)
	}
	if cfg.Retrieval.PageSize != 10 || cfg.Retrieval.MaxRetries != 1 {
		t.Errorf("Retrieval = %+v", cfg.Retrieval)
	}
	if d, err := cfg.BackoffUnit(); err != nil || d != 250*time.Millisecond {
		t.Errorf("BackoffUnit() = %v, %v, want 250ms", d, err)
	}
	if diff := cmp.Diff([]string{"example.org"}, cfg.Retrieval.PublicDomains); diff != "" {
		t.Errorf("PublicDomains mismatch (-want +got):\n%s", diff)
	}
	if cfg.Server.APIPort != 9090 || cfg.Server.APIKey != "test-secret-key" {
		t.Errorf("Server = %+v", cfg.Server)
	}
}

func TestLoadExplicitPathNotFound(t *testing.T) {
	_, err := Load("/nonexistent/path/config.toml", "")
	if err == nil {
		t.Fatal("Load with explicit nonexistent path should return error")
	}
	if got := err.Error(); !strings.Contains(got, "config file not found") {
		t.Errorf("error = %q, want it to contain %q", got, "config file not found")
	}
}

func TestLoadExplicitPathDerivedHomeDir(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := writeConfig(t, tmpDir, "[gmail]\nrate_limit_qps = 3\n")

	cfg, err := Load(configPath, "")
	if err != nil {
		t.Fatalf("Load(%q) failed: %v", configPath, err)
	}

	if cfg.HomeDir != tmpDir {
		t.Errorf("HomeDir = %q, want %q", cfg.HomeDir, tmpDir)
	}
	if cfg.Gmail.RateLimitQPS != 3 {
		t.Errorf("Gmail.RateLimitQPS = %d, want 3", cfg.Gmail.RateLimitQPS)
	}
	if want := filepath.Join(tmpDir, "tokens"); cfg.TokensDir() != want {
		t.Errorf("TokensDir() = %q, want %q", cfg.TokensDir(), want)
	}
	if cfg.ConfigFilePath() != configPath {
		t.Errorf("ConfigFilePath() = %q, want %q", cfg.ConfigFilePath(), configPath)
	}
}

func TestLoadExplicitPathRelativePaths(t *testing.T) {
	// Relative paths resolve against the config file's directory, not the
	// working directory.
	tmpDir := t.TempDir()
	configPath := writeConfig(t, tmpDir, `
[oauth]
client_secrets = "secrets/client.json"
tokens_dir = "tok"
`)

	cfg, err := Load(configPath, "")
	if err != nil {
		t.Fatalf("Load(%q) failed: %v", configPath, err)
	}

	if want := filepath.Join(tmpDir, "secrets/client.json"); cfg.OAuth.ClientSecrets != want {
		t.Errorf("OAuth.ClientSecrets = %q, want %q", cfg.OAuth.ClientSecrets, want)
	}
	if want := filepath.Join(tmpDir, "tok"); cfg.TokensDir() != want {
		t.Errorf("TokensDir() = %q, want %q", cfg.TokensDir(), want)
	}
}

func TestLoadWithHomeDir(t *testing.T) {
	homeDir := t.TempDir()
	writeConfig(t, homeDir, "[gmail]\nrate_limit_qps = 42\n")

	cfg, err := Load("", homeDir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.HomeDir != homeDir {
		t.Errorf("HomeDir = %q, want %q", cfg.HomeDir, homeDir)
	}
	if cfg.Gmail.RateLimitQPS != 42 {
		t.Errorf("Gmail.RateLimitQPS = %d, want 42", cfg.Gmail.RateLimitQPS)
	}
}

func TestLoadWithHomeDirExpandsTilde(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Fatalf("failed to get user home dir: %v", err)
	}

	cfg, err := Load("", "~/custom-data")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if want := filepath.Join(home, "custom-data"); cfg.HomeDir != want {
		t.Errorf("HomeDir = %q, want %q", cfg.HomeDir, want)
	}
}

func TestDefaultHomeExpandsTilde(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Fatalf("failed to get user home dir: %v", err)
	}

	t.Setenv("MAILSIFT_HOME", "~/.mailsift")
	if got, want := DefaultHome(), filepath.Join(home, ".mailsift"); got != want {
		t.Errorf("DefaultHome() = %q, want %q", got, want)
	}
}

func TestLoadBackslashErrorHint(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("MAILSIFT_HOME", tmpDir)
	writeConfig(t, tmpDir, "[oauth]\nclient_secrets = \"C:\\Games\\secret.json\"\n")

	_, err := Load("", "")
	if err == nil {
		t.Fatal("Load should fail on TOML backslash error")
	}
	for _, want := range []string{"hint:", "forward slashes", "single quotes"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error should contain %q, got: %s", want, err)
		}
	}
}

func TestLoadIgnoresUnknownKeys(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("MAILSIFT_HOME", tmpDir)
	writeConfig(t, tmpDir, "[server]\napi_port = 9090\nmcp_enabled = true\n")

	cfg, err := Load("", "")
	if err != nil {
		t.Fatalf("Load() should ignore unknown keys, got error: %v", err)
	}
	if cfg.Server.APIPort != 9090 {
		t.Errorf("Server.APIPort = %d, want 9090", cfg.Server.APIPort)
	}
}

func TestNewDefaultConfig(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("MAILSIFT_HOME", tmpDir)

	cfg := NewDefaultConfig()
	if cfg.HomeDir != tmpDir {
		t.Errorf("HomeDir = %q, want %q", cfg.HomeDir, tmpDir)
	}
	if want := filepath.Join(tmpDir, "config.toml"); cfg.ConfigFilePath() != want {
		t.Errorf("ConfigFilePath() = %q, want %q", cfg.ConfigFilePath(), want)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"page size too large", func(c *Config) { c.Retrieval.PageSize = 21 }, "page_size"},
		{"page size zero", func(c *Config) { c.Retrieval.PageSize = 0 }, "page_size"},
		{"negative retries", func(c *Config) { c.Retrieval.MaxRetries = -1 }, "max_retries"},
		{"bad backoff", func(c *Config) { c.Retrieval.BackoffUnit = "soon" }, "backoff_unit"},
		{"negative backoff", func(c *Config) { c.Retrieval.BackoffUnit = "-1s" }, "backoff_unit"},
		{"zero qps", func(c *Config) { c.Gmail.RateLimitQPS = 0 }, "rate_limit_qps"},
		{"port out of range", func(c *Config) { c.Server.APIPort = 70000 }, "api_port"},
		{"negative rps", func(c *Config) { c.Server.RateLimitRPS = -1 }, "rate_limit_rps"},
		{"negative cors max age", func(c *Config) { c.Server.CORSMaxAge = -1 }, "cors_max_age"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := newDefaultConfig(t.TempDir())
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Fatalf("failed to get user home dir: %v", err)
	}

	tests := []struct {
		name     string
		input    string
		expected string
		unixOnly bool
	}{
		{"empty string", "", "", false},
		{"just tilde", "~", home, false},
		{"tilde with slash and path", "~/foo", filepath.Join(home, "foo"), false},
		{"tilde with trailing slash only", "~/", home, false},
		{"tilde user notation not expanded", "~user", "~user", false},
		{"tilde with double slash", "~//foo", filepath.Join(home, "foo"), false},
		{"absolute path unchanged", "/var/log/test", "/var/log/test", true},
		{"relative path unchanged", "relative/path", "relative/path", false},
		{"tilde in middle not expanded", "/home/~user/foo", "/home/~user/foo", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.unixOnly && runtime.GOOS == "windows" {
				t.Skip("skipping Unix-specific path test on Windows")
			}
			if got := expandPath(tt.input); got != tt.expected {
				t.Errorf("expandPath(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}
