// Package workspace manages the fixed on-disk layout of a pipeline run: the
// ephemeral downloads directory the browser writes exports into, the run data
// directory holding normalized artifacts, and the screenshots directory for
// diagnostic captures.
package workspace

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"portalsync/internal/logfields"
)

// Manager handles workspace directory operations for a single run at a time.
type Manager struct {
	root string
}

// NewManager creates a workspace manager rooted at the given directory.
func NewManager(root string) *Manager {
	if root == "" {
		root = "."
	}
	return &Manager{root: root}
}

// Root returns the workspace root path.
func (m *Manager) Root() string { return m.root }

// Downloads returns the browser download directory path.
func (m *Manager) Downloads() string { return filepath.Join(m.root, "downloads") }

// Data returns the run-local data directory holding normalized artifacts.
func (m *Manager) Data() string { return filepath.Join(m.root, "data") }

// Screenshots returns the diagnostic screenshot directory path.
func (m *Manager) Screenshots() string { return filepath.Join(m.root, "screenshots") }

// Create ensures all workspace subdirectories exist.
func (m *Manager) Create() error {
	for _, dir := range []string{m.Downloads(), m.Data(), m.Screenshots()} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("failed to create workspace directory %s: %w", dir, err)
		}
	}
	slog.Debug("Workspace ready", logfields.Path(m.root))
	return nil
}

// ResetRun empties the downloads and data directories before a run starts.
// Stale files left by a crashed run would otherwise be misattributed to the
// first harvest that scans the download directory.
func (m *Manager) ResetRun() error {
	for _, dir := range []string{m.Downloads(), m.Data()} {
		if err := emptyDir(dir); err != nil {
			return fmt.Errorf("failed to reset %s: %w", dir, err)
		}
	}
	slog.Debug("Workspace reset for new run", logfields.Path(m.root))
	return nil
}

// CleanDownloads removes leftover partial downloads (browser .crdownload/.tmp
// files) from the download directory.
func (m *Manager) CleanDownloads() error {
	entries, err := os.ReadDir(m.Downloads())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, e := range entries {
		name := e.Name()
		if strings.HasSuffix(name, ".crdownload") || strings.HasSuffix(name, ".tmp") {
			if err := os.Remove(filepath.Join(m.Downloads(), name)); err != nil {
				slog.Warn("Failed to remove partial download", logfields.Path(name), logfields.Error(err))
			}
		}
	}
	return nil
}

func emptyDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return os.MkdirAll(dir, 0o750)
		}
		return err
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			return err
		}
	}
	return nil
}
