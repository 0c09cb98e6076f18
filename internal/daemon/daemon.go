// Package daemon runs the pipeline on a cron schedule and exposes the
// Prometheus scrape endpoint. Runs are single-flight: a tick that fires while
// a run is still in progress is skipped, never queued.
package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"

	"portalsync/internal/config"
	"portalsync/internal/logfields"
	"portalsync/internal/metrics"
	"portalsync/internal/run"
	"portalsync/internal/version"
)

// RunFunc executes one pipeline run.
type RunFunc func(ctx context.Context) (*run.Result, error)

// Daemon owns the scheduler and the metrics HTTP server.
type Daemon struct {
	cfg       config.DaemonConfig
	runFn     RunFunc
	recorder  *metrics.PrometheusRecorder
	scheduler gocron.Scheduler
	server    *http.Server

	runLock sync.Mutex
	started time.Time
	lastRun struct {
		sync.Mutex
		state    string
		finished time.Time
	}
}

// New creates a daemon that invokes runFn per the configured cron schedule.
func New(cfg config.DaemonConfig, runFn RunFunc, recorder *metrics.PrometheusRecorder) (*Daemon, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	return &Daemon{cfg: cfg, runFn: runFn, recorder: recorder, scheduler: s}, nil
}

// Start schedules the cron job and starts the HTTP server, then blocks until
// ctx is cancelled.
func (d *Daemon) Start(ctx context.Context) error {
	d.started = time.Now()

	if d.cfg.Schedule == "" {
		return fmt.Errorf("daemon mode requires a cron schedule")
	}
	if _, err := d.scheduler.NewJob(
		gocron.CronJob(d.cfg.Schedule, false),
		gocron.NewTask(d.tick, ctx),
		gocron.WithName("pipeline-run"),
	); err != nil {
		return fmt.Errorf("failed to schedule pipeline job: %w", err)
	}
	d.scheduler.Start()
	slog.Info("Scheduler started", slog.String("schedule", d.cfg.Schedule))

	d.server = &http.Server{
		Addr:              d.cfg.MetricsAddr,
		Handler:           d.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("Metrics server listening", slog.String("addr", d.cfg.MetricsAddr))
		if err := d.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return d.Stop()
	case err := <-errCh:
		_ = d.Stop()
		return fmt.Errorf("metrics server failed: %w", err)
	}
}

// Stop shuts the scheduler and HTTP server down gracefully.
func (d *Daemon) Stop() error {
	slog.Info("Stopping daemon")
	if err := d.scheduler.Shutdown(); err != nil {
		slog.Warn("Scheduler shutdown failed", logfields.Error(err))
	}
	if d.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return d.server.Shutdown(shutdownCtx)
	}
	return nil
}

// tick is the scheduled entry point. TryLock makes overlapping ticks skip
// instead of stacking runs behind a held browser profile.
func (d *Daemon) tick(ctx context.Context) {
	if !d.runLock.TryLock() {
		slog.Warn("Previous run still in progress, skipping scheduled run")
		return
	}
	defer d.runLock.Unlock()

	res, err := d.runFn(ctx)
	state := "FAILED"
	if res != nil {
		state = string(res.State)
	}
	d.lastRun.Lock()
	d.lastRun.state = state
	d.lastRun.finished = time.Now()
	d.lastRun.Unlock()
	if err != nil {
		slog.Error("Scheduled run failed", logfields.Error(err))
	}
}

func (d *Daemon) routes() http.Handler {
	mux := http.NewServeMux()
	if d.recorder != nil {
		mux.Handle("/metrics", d.recorder.Handler())
	}
	mux.HandleFunc("/healthz", d.handleHealth)
	return mux
}

type healthResponse struct {
	Status     string    `json:"status"`
	Version    string    `json:"version"`
	Uptime     string    `json:"uptime"`
	LastState  string    `json:"last_state,omitempty"`
	LastFinish time.Time `json:"last_finished,omitempty"`
}

func (d *Daemon) handleHealth(w http.ResponseWriter, r *http.Request) {
	d.lastRun.Lock()
	resp := healthResponse{
		Status:     "ok",
		Version:    version.String(),
		Uptime:     time.Since(d.started).Round(time.Second).String(),
		LastState:  d.lastRun.state,
		LastFinish: d.lastRun.finished,
	}
	d.lastRun.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Warn("Failed to encode health response", logfields.Error(err))
	}
}
