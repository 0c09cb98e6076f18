// Package browser owns the single authenticated headless-Chromium session a
// pipeline run drives. The controller acquires the session once per run and
// the caller releases it unconditionally at the end.
package browser

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"

	"portalsync/internal/config"
	"portalsync/internal/logfields"
)

// urlPollInterval is how often the post-submit URL is re-checked during the
// bounded authentication wait.
const urlPollInterval = 250 * time.Millisecond

// Controller launches and authenticates browser sessions against the portal.
type Controller struct {
	portal        config.PortalConfig
	downloadDir   string
	screenshotDir string
}

// NewController creates a session controller. Downloads land in downloadDir;
// diagnostic captures go to screenshotDir.
func NewController(portal config.PortalConfig, downloadDir, screenshotDir string) *Controller {
	return &Controller{portal: portal, downloadDir: downloadDir, screenshotDir: screenshotDir}
}

// Acquire launches a headless browser, logs into the portal, and returns an
// authenticated session. On any failure the browser is torn down before
// returning, so Release is owed only for a nil error. A login form that does
// not navigate away within the page timeout yields *AuthError.
func (c *Controller) Acquire(ctx context.Context) (*Session, error) {
	l := launcher.New().
		Headless(true).
		Set(flags.NoSandbox).
		Set("disable-gpu").
		Set("disable-dev-shm-usage")

	controlURL, err := l.Launch()
	if err != nil {
		return nil, &LaunchError{Err: err}
	}

	b := rod.New().ControlURL(controlURL).Context(ctx)
	if err := b.Connect(); err != nil {
		l.Kill()
		return nil, &LaunchError{Err: err}
	}

	s := &Session{browser: b, launcher: l, screenshotDir: c.screenshotDir}

	page, err := b.Page(proto.TargetCreateTarget{URL: c.portal.LoginURL})
	if err != nil {
		s.Release()
		return nil, &LaunchError{Err: err}
	}
	s.page = page

	// Route every download into the fixed workspace directory.
	if err := (proto.BrowserSetDownloadBehavior{
		Behavior:     proto.BrowserSetDownloadBehaviorBehaviorAllow,
		DownloadPath: c.downloadDir,
	}).Call(page); err != nil {
		slog.Warn("Failed to set download directory", logfields.Error(err))
	}

	if err := c.login(s); err != nil {
		if _, serr := s.Screenshot("auth_failure"); serr != nil {
			slog.Warn("Auth failure screenshot failed", logfields.Error(serr))
		}
		s.Release()
		return nil, err
	}

	slog.Info("Portal session established", logfields.URL(c.portal.LoginURL))
	return s, nil
}

// login fills the portal login form and waits for the post-submit navigation.
func (c *Controller) login(s *Session) error {
	timeout := c.portal.PageTimeout
	page := s.page

	if _, err := page.Timeout(timeout).Element("body"); err != nil {
		return &AuthError{URL: c.portal.LoginURL, Err: err}
	}

	user, err := firstElement(page, timeout,
		`input[name="username"]`, `input[type="email"]`, `input[type="text"]`)
	if err != nil {
		return &AuthError{URL: c.portal.LoginURL, Err: err}
	}
	if err := user.Input(c.portal.Username); err != nil {
		return &AuthError{URL: c.portal.LoginURL, Err: err}
	}

	pass, err := firstElement(page, timeout, `input[type="password"]`)
	if err != nil {
		return &AuthError{URL: c.portal.LoginURL, Err: err}
	}
	if err := pass.Input(c.portal.Password); err != nil {
		return &AuthError{URL: c.portal.LoginURL, Err: err}
	}

	before := currentURL(page)

	// Prefer the submit control; fall back to Enter in the password field.
	if submit, err := firstElement(page, 2*time.Second, `button[type="submit"]`, `input[type="submit"]`); err == nil {
		if err := submit.Click(proto.InputMouseButtonLeft, 1); err != nil {
			return &AuthError{URL: c.portal.LoginURL, Err: err}
		}
	} else if err := pass.Type(input.Enter); err != nil {
		return &AuthError{URL: c.portal.LoginURL, Err: err}
	}

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if u := currentURL(page); u != "" && u != before {
			return nil
		}
		time.Sleep(urlPollInterval)
	}
	return &AuthError{URL: c.portal.LoginURL}
}

// firstElement tries each selector in order with a short per-selector wait and
// returns the first match.
func firstElement(page *rod.Page, total time.Duration, selectors ...string) (*rod.Element, error) {
	per := total / time.Duration(len(selectors))
	if per < time.Second {
		per = time.Second
	}
	var lastErr error
	for _, sel := range selectors {
		el, err := page.Timeout(per).Element(sel)
		if err == nil {
			return el, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func currentURL(page *rod.Page) string {
	info, err := page.Info()
	if err != nil {
		return ""
	}
	return info.URL
}
