// Package credential persists the two bearer tokens Domus holds: the
// user-level token obtained from the hub login flow, and the long-lived
// proxy-scoped token created for the MCP integration.
package credential

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Kind identifies which of the two tokens a call refers to.
type Kind string

const (
	// KindBase is the user-level access token from the hub login flow.
	KindBase Kind = "base"
	// KindScoped is the long-lived token created for this proxy.
	KindScoped Kind = "scoped"
)

// File names are kept compatible with earlier deployments of the proxy.
var fileNames = map[Kind]string{
	KindBase:   "token.txt",
	KindScoped: "mcp_token.txt",
}

// Store reads and writes tokens as single-line text files in a cache
// directory. The directory is created on first write, never truncated.
type Store struct {
	dir string
}

// NewStore creates a Store rooted at dir. The directory is not created
// until the first Save.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Load returns the stored token for kind. A missing file is the normal
// first-run state and is reported as ok=false, not as an error.
func (s *Store) Load(kind Kind) (token string, ok bool, err error) {
	data, err := os.ReadFile(s.path(kind))
	if os.IsNotExist(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading %s credential: %w", kind, err)
	}

	token = firstLine(string(data))
	if token == "" {
		return "", false, nil
	}
	return token, true, nil
}

// Save persists the token for kind, creating the cache directory if needed.
func (s *Store) Save(kind Kind, token string) error {
	if err := os.MkdirAll(s.dir, 0700); err != nil {
		return fmt.Errorf("creating cache dir: %w", err)
	}
	if err := os.WriteFile(s.path(kind), []byte(token+"\n"), 0600); err != nil {
		return fmt.Errorf("writing %s credential: %w", kind, err)
	}
	return nil
}

// Invalidate removes the stored token for kind. Removing an absent token
// is not an error.
func (s *Store) Invalidate(kind Kind) error {
	err := os.Remove(s.path(kind))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing %s credential: %w", kind, err)
	}
	return nil
}

func (s *Store) path(kind Kind) string {
	return filepath.Join(s.dir, fileNames[kind])
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
