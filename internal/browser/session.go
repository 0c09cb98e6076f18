package browser

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"

	"portalsync/internal/logfields"
)

// Session is an authenticated browser session. It is exclusively owned by the
// run that acquired it; Release must be called exactly once per successful
// Acquire, on every exit path.
type Session struct {
	browser       *rod.Browser
	page          *rod.Page
	launcher      *launcher.Launcher
	screenshotDir string
	releaseOnce   sync.Once
}

// Page returns the single page the session drives.
func (s *Session) Page() *rod.Page { return s.page }

// Screenshot captures the current page into the screenshot directory, named
// by the given label plus a timestamp. Returns the written path.
func (s *Session) Screenshot(label string) (string, error) {
	if s.page == nil {
		return "", fmt.Errorf("no page available for screenshot")
	}
	data, err := s.page.Screenshot(false, nil)
	if err != nil {
		return "", fmt.Errorf("capture screenshot: %w", err)
	}
	if err := os.MkdirAll(s.screenshotDir, 0o750); err != nil {
		return "", err
	}
	name := fmt.Sprintf("%s_%s.png", label, time.Now().Format("20060102-150405"))
	path := filepath.Join(s.screenshotDir, name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("write screenshot: %w", err)
	}
	slog.Debug("Diagnostic screenshot captured", logfields.Path(path))
	return path, nil
}

// Release unconditionally terminates the underlying browser process. Safe to
// call multiple times; only the first call acts.
func (s *Session) Release() {
	s.releaseOnce.Do(func() {
		if s.page != nil {
			_ = s.page.Close()
		}
		if s.browser != nil {
			if err := s.browser.Close(); err != nil {
				slog.Debug("Browser close reported error", logfields.Error(err))
			}
		}
		if s.launcher != nil {
			s.launcher.Kill()
		}
		slog.Info("Browser session released")
	})
}
