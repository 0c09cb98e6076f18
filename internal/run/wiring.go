package run

import (
	"context"
	"fmt"

	"portalsync/internal/browser"
	"portalsync/internal/config"
	"portalsync/internal/gitsync"
	"portalsync/internal/harvest"
	"portalsync/internal/normalize"
	"portalsync/internal/workspace"
)

var _ Session = (*browser.Session)(nil)

// NewPipeline wires the production components into a runner: headless browser
// controller, export harvester, xlsx conversion, and git mirror syncer.
func NewPipeline(cfg *config.Config) *Runner {
	ws := workspace.NewManager(cfg.Workspace)
	controller := browser.NewController(cfg.Portal, ws.Downloads(), ws.Screenshots())
	harvester := harvest.New(cfg.Portal, ws.Downloads())
	syncer := gitsync.NewSyncer(normalize.CanonicalExt)

	return NewRunner(cfg, ws,
		controllerAdapter{controller},
		harvesterAdapter{harvester},
		normalize.Normalize,
		syncer,
	)
}

// controllerAdapter narrows *browser.Session to the orchestrator's Session.
type controllerAdapter struct {
	c *browser.Controller
}

func (a controllerAdapter) Acquire(ctx context.Context) (Session, error) {
	s, err := a.c.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// harvesterAdapter recovers the concrete session type the harvester needs.
type harvesterAdapter struct {
	h *harvest.Harvester
}

func (a harvesterAdapter) Harvest(ctx context.Context, s Session, target config.Target) (string, error) {
	bs, ok := s.(*browser.Session)
	if !ok {
		return "", fmt.Errorf("harvest: unexpected session type %T", s)
	}
	return a.h.Harvest(ctx, bs, target)
}
