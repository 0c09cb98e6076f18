// Package run orchestrates one end-to-end pipeline execution: authenticate,
// harvest every configured target, normalize, and synchronize both repository
// mirrors. Per-target failures are isolated; phase failures end the run.
package run

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"portalsync/internal/config"
	"portalsync/internal/gitsync"
	"portalsync/internal/harvest"
	"portalsync/internal/history"
	"portalsync/internal/logfields"
	"portalsync/internal/metrics"
	"portalsync/internal/normalize"
	"portalsync/internal/workspace"
)

// Session is the slice of a browser session the orchestrator needs.
type Session interface {
	Screenshot(label string) (string, error)
	Release()
}

// Controller acquires authenticated sessions.
type Controller interface {
	Acquire(ctx context.Context) (Session, error)
}

// Harvester captures one target's export into the download directory.
type Harvester interface {
	Harvest(ctx context.Context, s Session, target config.Target) (string, error)
}

// Syncer reconciles repository mirrors with the run's artifacts.
type Syncer interface {
	EnsureMirror(m gitsync.Mirror) error
	Sync(m gitsync.Mirror, artifacts []string) error
}

// NormalizeFunc converts a harvested file into a canonical artifact.
type NormalizeFunc func(csvPath, dataDir, stem string) (string, error)

// Result aggregates what a run produced. The orchestrator exclusively owns it.
type Result struct {
	RunID       string
	State       State
	Transitions []State
	Artifacts   []string
	Failed      []string
	Started     time.Time
	Finished    time.Time
}

// Runner drives the pipeline components in order.
type Runner struct {
	cfg        *config.Config
	ws         *workspace.Manager
	controller Controller
	harvester  Harvester
	normalize  NormalizeFunc
	syncer     Syncer
	recorder   metrics.Recorder
	ledger     *history.Store
}

// NewRunner assembles a runner from explicit components. Use NewPipeline for
// the production wiring.
func NewRunner(cfg *config.Config, ws *workspace.Manager, c Controller, h Harvester, n NormalizeFunc, s Syncer) *Runner {
	return &Runner{cfg: cfg, ws: ws, controller: c, harvester: h, normalize: n, syncer: s}
}

// WithRecorder attaches a metrics recorder (fluent helper).
func (r *Runner) WithRecorder(rec metrics.Recorder) *Runner {
	r.recorder = rec
	return r
}

// WithLedger attaches a run history ledger (fluent helper).
func (r *Runner) WithLedger(l *history.Store) *Runner {
	r.ledger = l
	return r
}

// Run executes one pipeline run. The returned Result is valid on every path;
// the error is non-nil only for phase-level failures (auth, sync, workspace).
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	res := &Result{
		RunID:       uuid.NewString(),
		State:       StateInit,
		Transitions: []State{StateInit},
		Started:     time.Now(),
	}
	slog.Info("Pipeline run starting", logfields.RunID(res.RunID), logfields.Count(len(r.cfg.Targets)))

	err := r.execute(ctx, res)
	res.Finished = time.Now()

	if r.recorder != nil {
		r.recorder.RunOutcome(string(res.State))
		r.recorder.ObserveRunDuration(res.Finished.Sub(res.Started))
		r.recorder.SetArtifactsLastRun(len(res.Artifacts))
	}
	r.record(res, err)

	if err != nil {
		slog.Error("Pipeline run failed", logfields.RunID(res.RunID), logfields.State(string(res.State)), logfields.Error(err))
	} else {
		slog.Info("Pipeline run finished",
			logfields.RunID(res.RunID),
			logfields.State(string(res.State)),
			logfields.Count(len(res.Artifacts)),
			logfields.DurationMS(float64(res.Finished.Sub(res.Started).Milliseconds())))
	}
	return res, err
}

func (r *Runner) execute(ctx context.Context, res *Result) error {
	if err := r.ws.Create(); err != nil {
		r.transition(res, StateFailed)
		return err
	}
	if err := r.ws.ResetRun(); err != nil {
		r.transition(res, StateFailed)
		return err
	}

	r.transition(res, StateAuthenticated)
	session, err := r.controller.Acquire(ctx)
	if err != nil {
		r.transition(res, StateFailed)
		return err
	}

	released := false
	release := func() {
		if !released {
			released = true
			session.Release()
		}
	}
	// Session release is owed on every path, including panics below.
	defer release()

	r.transition(res, StateHarvesting)
	for _, target := range r.cfg.Targets {
		r.harvestTarget(ctx, session, target, res)
	}

	// Sync happens after browser teardown; the session is not needed anymore.
	release()

	if len(res.Artifacts) == 0 {
		slog.Warn("No artifacts produced, skipping synchronization", logfields.RunID(res.RunID))
		r.transition(res, StateSyncingSkipped)
		r.transition(res, StateDone)
		return nil
	}

	r.transition(res, StateSyncing)
	if err := r.syncMirrors(res); err != nil {
		r.transition(res, StateFailed)
		return err
	}

	r.transition(res, StateDone)
	return nil
}

// harvestTarget runs harvest plus normalize for one target. Failures are
// swallowed here and surfaced as an omission plus a warning log line.
func (r *Runner) harvestTarget(ctx context.Context, session Session, target config.Target, res *Result) {
	csvPath, err := r.harvester.Harvest(ctx, session, target)
	if err != nil {
		slog.Warn("Target harvest failed", logfields.Target(target.Label), logfields.Error(err))
		res.Failed = append(res.Failed, target.Label)
		r.recordHarvest(target.Label, harvestOutcome(err))
		return
	}

	artifact, err := r.normalize(csvPath, r.ws.Data(), target.Stem)
	if err != nil {
		slog.Warn("Target conversion failed", logfields.Target(target.Label), logfields.Error(err))
		// Same handling as a failed harvest, including the diagnostic capture.
		if _, serr := session.Screenshot("conversion_error_" + target.Stem); serr != nil {
			slog.Warn("Diagnostic screenshot failed", logfields.Target(target.Label), logfields.Error(serr))
		}
		res.Failed = append(res.Failed, target.Label)
		r.recordHarvest(target.Label, "conversion_error")
		return
	}

	res.Artifacts = append(res.Artifacts, artifact)
	r.recordHarvest(target.Label, "success")
}

// syncMirrors reconciles the automation repo first, then the consuming repo,
// which mirrors the same artifact set.
func (r *Runner) syncMirrors(res *Result) error {
	automation := gitsync.MirrorFromConfig("automation", r.cfg.Sync.Automation)
	if err := r.timedSync(automation, res.Artifacts); err != nil {
		return err
	}

	consuming := gitsync.MirrorFromConfig("testapp", r.cfg.Sync.Consuming)
	if err := r.syncer.EnsureMirror(consuming); err != nil {
		return err
	}
	return r.timedSync(consuming, res.Artifacts)
}

func (r *Runner) timedSync(m gitsync.Mirror, artifacts []string) error {
	start := time.Now()
	err := r.syncer.Sync(m, artifacts)
	if r.recorder != nil {
		r.recorder.ObserveSyncDuration(m.Name, time.Since(start))
	}
	return err
}

func (r *Runner) transition(res *Result, next State) {
	res.State = next
	res.Transitions = append(res.Transitions, next)
	slog.Debug("Run state transition", logfields.RunID(res.RunID), logfields.State(string(next)))
}

func (r *Runner) recordHarvest(target, outcome string) {
	if r.recorder != nil {
		r.recorder.HarvestOutcome(target, outcome)
	}
}

// record persists the run outcome to the ledger when one is attached.
func (r *Runner) record(res *Result, runErr error) {
	if r.ledger == nil {
		return
	}
	entry := history.Entry{
		RunID:     res.RunID,
		State:     string(res.State),
		Started:   res.Started,
		Finished:  res.Finished,
		Artifacts: len(res.Artifacts),
		Failed:    res.Failed,
	}
	if runErr != nil {
		entry.Error = runErr.Error()
	}
	if err := r.ledger.Record(entry); err != nil {
		slog.Warn("Failed to record run history", logfields.RunID(res.RunID), logfields.Error(err))
	}
}

// harvestOutcome maps typed harvest errors to metric labels.
func harvestOutcome(err error) string {
	var timeout *harvest.TimeoutError
	var missing *harvest.NoExportError
	var conv *normalize.ConversionError
	switch {
	case errors.As(err, &timeout):
		return "timeout"
	case errors.As(err, &missing):
		return "not_found"
	case errors.As(err, &conv):
		return "conversion_error"
	default:
		return "error"
	}
}
