// Package oauth loads stored OAuth2 tokens for Gmail and keeps them fresh.
//
// Tokens are obtained out of band (for example with Google's OAuth
// playground or gcloud) and saved as JSON under the tokens directory.
package oauth

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// Scopes are the scopes mailsift needs. Retrieval is read-only.
var Scopes = []string{
	"https://www.googleapis.com/auth/gmail.readonly",
}

// ErrNoToken is returned when no token is stored for an account.
var ErrNoToken = errors.New("no stored token")

// Manager loads, refreshes and stores OAuth2 tokens.
type Manager struct {
	config    *oauth2.Config
	tokensDir string
	logger    *slog.Logger
}

// NewManager creates an OAuth manager from a Google client secrets file.
func NewManager(clientSecretsPath, tokensDir string, logger *slog.Logger) (*Manager, error) {
	data, err := os.ReadFile(clientSecretsPath)
	if err != nil {
		return nil, fmt.Errorf("read client secrets: %w", err)
	}

	config, err := google.ConfigFromJSON(data, Scopes...)
	if err != nil {
		return nil, fmt.Errorf("parse client secrets: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		config:    config,
		tokensDir: tokensDir,
		logger:    logger,
	}, nil
}

// TokenSource returns an auto-refreshing token source for the account.
// Refreshed tokens are written back to disk.
func (m *Manager) TokenSource(ctx context.Context, account string) (oauth2.TokenSource, error) {
	token, err := m.loadToken(account)
	if err != nil {
		return nil, fmt.Errorf("token for %s: %w", account, err)
	}

	ts := &savingTokenSource{
		base:    m.config.TokenSource(ctx, token),
		last:    token.AccessToken,
		account: account,
		mgr:     m,
	}
	return oauth2.ReuseTokenSource(token, ts), nil
}

// savingTokenSource persists tokens whenever the access token changes.
type savingTokenSource struct {
	base    oauth2.TokenSource
	mgr     *Manager
	account string

	mu   sync.Mutex
	last string
}

func (s *savingTokenSource) Token() (*oauth2.Token, error) {
	tok, err := s.base.Token()
	if err != nil {
		return nil, fmt.Errorf("refresh token: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if tok.AccessToken != s.last {
		s.last = tok.AccessToken
		if err := s.mgr.saveToken(s.account, tok); err != nil {
			s.mgr.logger.Warn("failed to save refreshed token", "account", s.account, "error", err)
		}
	}
	return tok, nil
}

// HasToken checks if a token exists for the given account.
func (m *Manager) HasToken(account string) bool {
	_, err := m.loadToken(account)
	return err == nil
}

// HasScope reports whether the stored token was saved with scope. Tokens
// saved without scope metadata report false.
func (m *Manager) HasScope(account, scope string) bool {
	tf, err := m.loadTokenFile(account)
	if err != nil {
		return false
	}
	return slices.Contains(tf.Scopes, scope)
}

// ImportToken stores a token read from a JSON file for the account.
func (m *Manager) ImportToken(account, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read token: %w", err)
	}
	var token oauth2.Token
	if err := json.Unmarshal(data, &token); err != nil {
		return fmt.Errorf("parse token: %w", err)
	}
	if token.AccessToken == "" && token.RefreshToken == "" {
		return fmt.Errorf("token file %s has neither access nor refresh token", path)
	}
	return m.saveToken(account, &token)
}

// DeleteToken removes the token file for the given account.
func (m *Manager) DeleteToken(account string) error {
	err := os.Remove(m.tokenPath(account))
	if errors.Is(err, os.ErrNotExist) {
		return nil // Already gone
	}
	return err
}

// TokenPath returns the path to the token file for an account.
func (m *Manager) TokenPath(account string) string {
	return m.tokenPath(account)
}

// tokenFile wraps an OAuth2 token with the scopes it was stored under.
type tokenFile struct {
	oauth2.Token
	Scopes []string `json:"scopes,omitempty"`
}

func (m *Manager) loadToken(account string) (*oauth2.Token, error) {
	tf, err := m.loadTokenFile(account)
	if err != nil {
		return nil, err
	}
	return &tf.Token, nil
}

func (m *Manager) loadTokenFile(account string) (*tokenFile, error) {
	data, err := os.ReadFile(m.tokenPath(account))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoToken
	}
	if err != nil {
		return nil, err
	}

	var tf tokenFile
	if err := json.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("parse token file: %w", err)
	}
	return &tf, nil
}

// saveToken writes the token atomically through a temp file and rename.
func (m *Manager) saveToken(account string, token *oauth2.Token) error {
	if err := os.MkdirAll(m.tokensDir, 0700); err != nil {
		return err
	}

	data, err := json.MarshalIndent(tokenFile{Token: *token, Scopes: m.config.Scopes}, "", "  ")
	if err != nil {
		return err
	}

	path := m.tokenPath(account)
	tmp, err := os.CreateTemp(m.tokensDir, ".token-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0600); err != nil && runtime.GOOS != "windows" {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	// os.Rename does not replace an existing file on Windows.
	if runtime.GOOS == "windows" {
		_ = os.Remove(path)
	}
	return os.Rename(tmpPath, path)
}

// tokenPath returns the token file path for an account. The account is
// sanitized so the path cannot escape tokensDir.
func (m *Manager) tokenPath(account string) string {
	safe := strings.ReplaceAll(account, "/", "_")
	safe = strings.ReplaceAll(safe, "\\", "_")
	safe = strings.ReplaceAll(safe, "..", "_")

	cleanPath := filepath.Clean(filepath.Join(m.tokensDir, safe+".json"))
	if !strings.HasPrefix(cleanPath, filepath.Clean(m.tokensDir)) {
		return filepath.Join(m.tokensDir, fmt.Sprintf("%x.json", sha256.Sum256([]byte(account))))
	}
	return cleanPath
}
