// Package harvest navigates the portal's listing pages, discovers export
// controls heuristically, triggers them, and captures the resulting download.
// Per-target failure is isolated: one target failing never aborts the others.
package harvest

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-rod/rod"

	"portalsync/internal/browser"
	"portalsync/internal/config"
	"portalsync/internal/logfields"
)

// discoveryPollInterval bounds how often trigger discovery re-queries the DOM
// while waiting for dynamically rendered controls.
const discoveryPollInterval = 500 * time.Millisecond

// ExportExt is the extension harvested portal exports arrive with.
const ExportExt = ".csv"

// Harvester drives one target page to a downloaded export file.
type Harvester struct {
	locators    []Locator
	watcher     *Watcher
	pageTimeout time.Duration
	settle      time.Duration
}

// New creates a harvester using the default locator order for the configured
// marker token.
func New(portal config.PortalConfig, downloadDir string) *Harvester {
	return &Harvester{
		locators:    DefaultLocators(portal.Marker),
		watcher:     NewWatcher(downloadDir, ExportExt),
		pageTimeout: portal.PageTimeout,
		settle:      portal.Settle,
	}
}

// WithLocators overrides the matcher order (fluent helper).
func (h *Harvester) WithLocators(locators []Locator) *Harvester {
	h.locators = locators
	return h
}

// Harvest navigates to the target, clicks candidate export triggers in
// document order, and returns the path of the downloaded file. Failures are
// reported as *TimeoutError or *NoExportError with a diagnostic screenshot
// already captured; the caller treats them as non-fatal.
func (h *Harvester) Harvest(ctx context.Context, s *browser.Session, target config.Target) (string, error) {
	page := s.Page()
	slog.Info("Harvesting target", logfields.Target(target.Label), logfields.URL(target.URL))

	if err := page.Context(ctx).Timeout(h.pageTimeout).Navigate(target.URL); err != nil {
		h.diagnose(s, "harvest_timeout", target)
		return "", &TimeoutError{Target: target.Label, Wait: h.pageTimeout}
	}
	if _, err := page.Timeout(h.pageTimeout).Element("body"); err != nil {
		h.diagnose(s, "harvest_timeout", target)
		return "", &TimeoutError{Target: target.Label, Wait: h.pageTimeout}
	}

	candidates, err := h.discoverTriggers(ctx, page)
	if err != nil || len(candidates) == 0 {
		h.diagnose(s, "harvest_timeout", target)
		return "", &TimeoutError{Target: target.Label, Wait: h.pageTimeout}
	}
	slog.Debug("Export trigger candidates found", logfields.Target(target.Label), logfields.Count(len(candidates)))

	// Attempt list with early exit on first success: some candidates are
	// decorative or wired to other formats, so each gets one click and one
	// settle window before the next is tried.
	since := time.Now()
	for i, el := range candidates {
		if _, err := el.Eval(`() => this.click()`); err != nil {
			slog.Debug("Trigger click failed", logfields.Target(target.Label), logfields.Count(i), logfields.Error(err))
			continue
		}
		path, err := h.awaitExport(ctx, target, since)
		if err != nil {
			return "", err
		}
		if path != "" {
			slog.Info("Export captured", logfields.Target(target.Label), logfields.Path(path))
			return path, nil
		}
	}

	h.diagnose(s, "harvest_missing", target)
	return "", &NoExportError{Target: target.Label, Candidates: len(candidates)}
}

// awaitExport waits one settle window for a download. Context cancellation is
// mapped into the package's typed errors so callers classify it like any
// other bounded-wait failure.
func (h *Harvester) awaitExport(ctx context.Context, target config.Target, since time.Time) (string, error) {
	path, err := h.watcher.Await(ctx, h.settle, since)
	if err != nil {
		return "", &TimeoutError{Target: target.Label, Wait: h.settle, Err: err}
	}
	return path, nil
}

// discoverTriggers polls the DOM for export controls until the page timeout.
// Controls render dynamically, so a single query is not enough.
func (h *Harvester) discoverTriggers(ctx context.Context, page *rod.Page) ([]*rod.Element, error) {
	deadline := time.Now().Add(h.pageTimeout)
	for {
		for _, loc := range h.locators {
			els, err := loc.Candidates(page)
			if err != nil {
				slog.Debug("Locator query failed", slog.String("locator", loc.Name()), logfields.Error(err))
				continue
			}
			if len(els) > 0 {
				return els, nil
			}
		}
		if time.Now().After(deadline) {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(discoveryPollInterval):
		}
	}
}

func (h *Harvester) diagnose(s *browser.Session, label string, target config.Target) {
	if _, err := s.Screenshot(label + "_" + target.Stem); err != nil {
		slog.Warn("Diagnostic screenshot failed", logfields.Target(target.Label), logfields.Error(err))
	}
}
