// Package workspace manages the per-issue working directories code
// generation runs against, namespaced under the OS scratch root.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/cespare/xxhash/v2"
)

// Manager allocates and reuses one directory per issue under root, so a
// resumed run's code-generation session finds the same checkout it left
// behind.
type Manager struct {
	root string
}

// New returns a Manager rooted at root. An empty root defaults to
// "warpcoder" under the OS scratch directory.
func New(root string) (*Manager, error) {
	if root == "" {
		root = filepath.Join(os.TempDir(), "warpcoder")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("workspace: create root %s: %w", root, err)
	}
	return &Manager{root: root}, nil
}

// Dir returns the workdir for issueID, creating it if this is the
// issue's first act. The directory name is the issue id's xxhash
// digest rather than the id itself, so ids containing path-hostile
// characters (slashes, colons) never leak into the filesystem layer.
func (m *Manager) Dir(issueID string) (string, error) {
	name := fmt.Sprintf("%016x", xxhash.Sum64String(issueID))
	dir := filepath.Join(m.root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("workspace: create workdir for issue %s: %w", issueID, err)
	}
	return dir, nil
}

// Remove deletes an issue's workdir, for cleanup once a run reaches a
// terminal state.
func (m *Manager) Remove(issueID string) error {
	name := fmt.Sprintf("%016x", xxhash.Sum64String(issueID))
	if err := os.RemoveAll(filepath.Join(m.root, name)); err != nil {
		return fmt.Errorf("workspace: remove workdir for issue %s: %w", issueID, err)
	}
	return nil
}
