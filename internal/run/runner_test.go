package run

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"portalsync/internal/config"
	"portalsync/internal/gitsync"
	"portalsync/internal/harvest"
	"portalsync/internal/normalize"
	"portalsync/internal/workspace"
)

type fakeSession struct {
	released bool
	shots    []string
}

func (s *fakeSession) Screenshot(label string) (string, error) {
	s.shots = append(s.shots, label)
	return label + ".png", nil
}

func (s *fakeSession) Release() { s.released = true }

type fakeController struct {
	session *fakeSession
	err     error
	calls   int
}

func (c *fakeController) Acquire(ctx context.Context) (Session, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return c.session, nil
}

// fakeHarvester fails the targets named in fail and succeeds otherwise.
type fakeHarvester struct {
	fail  map[string]error
	calls int
}

func (h *fakeHarvester) Harvest(ctx context.Context, s Session, target config.Target) (string, error) {
	h.calls++
	if err, ok := h.fail[target.Label]; ok {
		return "", err
	}
	return filepath.Join("downloads", target.Stem+".csv"), nil
}

type syncCall struct {
	mirror          string
	artifacts       int
	sessionReleased bool
}

type fakeSyncer struct {
	session   *fakeSession
	syncErr   error
	ensureErr error
	calls     []syncCall
	ensured   []string
}

func (f *fakeSyncer) Sync(m gitsync.Mirror, artifacts []string) error {
	released := f.session == nil || f.session.released
	f.calls = append(f.calls, syncCall{mirror: m.Name, artifacts: len(artifacts), sessionReleased: released})
	return f.syncErr
}

func (f *fakeSyncer) EnsureMirror(m gitsync.Mirror) error {
	f.ensured = append(f.ensured, m.Name)
	return f.ensureErr
}

func passthroughNormalize(csvPath, dataDir, stem string) (string, error) {
	return filepath.Join(dataDir, stem+".xlsx"), nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Portal: config.PortalConfig{
			LoginURL: "https://portal.example/login",
			Username: "svc",
			Password: "secret",
		},
		Targets: []config.Target{
			{URL: "https://portal.example/agents", Label: "Agents", Stem: "agents"},
			{URL: "https://portal.example/tickets", Label: "Tickets", Stem: "tickets"},
			{URL: "https://portal.example/calls", Label: "Call Log", Stem: "calls"},
			{URL: "https://portal.example/reports/performance", Label: "Performance", Stem: "performance"},
		},
		Workspace: t.TempDir(),
	}
}

func newTestRunner(t *testing.T, cfg *config.Config, c Controller, h Harvester, s Syncer) *Runner {
	t.Helper()
	return NewRunner(cfg, workspace.NewManager(cfg.Workspace), c, h, passthroughNormalize, s)
}

func hasTransition(res *Result, want State) bool {
	for _, s := range res.Transitions {
		if s == want {
			return true
		}
	}
	return false
}

func TestRunPartialSuccess(t *testing.T) {
	cfg := testConfig(t)
	session := &fakeSession{}
	harvester := &fakeHarvester{fail: map[string]error{
		"Tickets": &harvest.TimeoutError{Target: "Tickets", Wait: time.Second},
	}}
	syncer := &fakeSyncer{session: session}

	res, err := newTestRunner(t, cfg, &fakeController{session: session}, harvester, syncer).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.State != StateDone {
		t.Errorf("final state = %s, want %s", res.State, StateDone)
	}
	if len(res.Artifacts) != 3 {
		t.Errorf("artifacts = %d, want 3", len(res.Artifacts))
	}
	if len(res.Failed) != 1 || res.Failed[0] != "Tickets" {
		t.Errorf("failed targets = %v, want [Tickets]", res.Failed)
	}
	if len(syncer.calls) != 2 {
		t.Fatalf("sync calls = %d, want 2 (automation then testapp)", len(syncer.calls))
	}
	if syncer.calls[0].mirror != "automation" || syncer.calls[1].mirror != "testapp" {
		t.Errorf("sync order = %v", syncer.calls)
	}
	for _, call := range syncer.calls {
		if call.artifacts != 3 {
			t.Errorf("sync %s got %d artifacts, want 3", call.mirror, call.artifacts)
		}
	}
	if len(syncer.ensured) != 1 || syncer.ensured[0] != "testapp" {
		t.Errorf("ensured mirrors = %v, want [testapp]", syncer.ensured)
	}
	if hasTransition(res, StateSyncingSkipped) {
		t.Error("partial success must not skip sync")
	}
}

func TestRunAuthFailure(t *testing.T) {
	cfg := testConfig(t)
	harvester := &fakeHarvester{}
	syncer := &fakeSyncer{}
	controller := &fakeController{err: errors.New("login form never navigated")}

	res, err := newTestRunner(t, cfg, controller, harvester, syncer).Run(context.Background())
	if err == nil {
		t.Fatal("Run() error = nil, want auth failure")
	}
	if res.State != StateFailed {
		t.Errorf("final state = %s, want %s", res.State, StateFailed)
	}
	want := []State{StateInit, StateAuthenticated, StateFailed}
	if len(res.Transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", res.Transitions, want)
	}
	for i, s := range want {
		if res.Transitions[i] != s {
			t.Errorf("transition[%d] = %s, want %s", i, res.Transitions[i], s)
		}
	}
	if harvester.calls != 0 {
		t.Errorf("harvest calls = %d, want 0", harvester.calls)
	}
	if len(syncer.calls) != 0 {
		t.Errorf("sync calls = %d, want 0", len(syncer.calls))
	}
}

func TestRunConversionFailureCapturesScreenshot(t *testing.T) {
	cfg := testConfig(t)
	session := &fakeSession{}
	syncer := &fakeSyncer{session: session}
	failTickets := func(csvPath, dataDir, stem string) (string, error) {
		if stem == "tickets" {
			return "", &normalize.ConversionError{Path: csvPath, Err: errors.New("unterminated quote")}
		}
		return filepath.Join(dataDir, stem+".xlsx"), nil
	}

	runner := NewRunner(cfg, workspace.NewManager(cfg.Workspace),
		&fakeController{session: session}, &fakeHarvester{}, failTickets, syncer)
	res, err := runner.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(res.Failed) != 1 || res.Failed[0] != "Tickets" {
		t.Errorf("failed targets = %v, want [Tickets]", res.Failed)
	}
	found := false
	for _, shot := range session.shots {
		if shot == "conversion_error_tickets" {
			found = true
		}
	}
	if !found {
		t.Errorf("screenshots = %v, want conversion_error_tickets captured", session.shots)
	}
	if len(res.Artifacts) != 3 {
		t.Errorf("artifacts = %d, want 3", len(res.Artifacts))
	}
}

func TestRunAllTargetsFailSkipsSync(t *testing.T) {
	cfg := testConfig(t)
	session := &fakeSession{}
	harvester := &fakeHarvester{fail: map[string]error{
		"Agents":      &harvest.TimeoutError{Target: "Agents", Wait: time.Second},
		"Tickets":     &harvest.NoExportError{Target: "Tickets", Candidates: 2},
		"Call Log":    &harvest.TimeoutError{Target: "Call Log", Wait: time.Second},
		"Performance": &harvest.NoExportError{Target: "Performance"},
	}}
	syncer := &fakeSyncer{session: session}

	res, err := newTestRunner(t, cfg, &fakeController{session: session}, harvester, syncer).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v, want nil (all-fail run completes)", err)
	}
	if res.State != StateDone {
		t.Errorf("final state = %s, want %s", res.State, StateDone)
	}
	if !hasTransition(res, StateSyncingSkipped) {
		t.Errorf("transitions = %v, want %s present", res.Transitions, StateSyncingSkipped)
	}
	if len(syncer.calls) != 0 {
		t.Errorf("sync calls = %d, want 0", len(syncer.calls))
	}
	if len(res.Failed) != 4 {
		t.Errorf("failed targets = %v, want all 4", res.Failed)
	}
}

func TestRunSyncFailure(t *testing.T) {
	cfg := testConfig(t)
	session := &fakeSession{}
	syncer := &fakeSyncer{session: session, syncErr: &gitsync.SyncError{Op: "push", Repo: "automation", Err: errors.New("remote rejected")}}

	res, err := newTestRunner(t, cfg, &fakeController{session: session}, &fakeHarvester{}, syncer).Run(context.Background())
	if err == nil {
		t.Fatal("Run() error = nil, want sync failure")
	}
	if res.State != StateFailed {
		t.Errorf("final state = %s, want %s", res.State, StateFailed)
	}
	if !hasTransition(res, StateSyncing) {
		t.Errorf("transitions = %v, want %s present", res.Transitions, StateSyncing)
	}
	if !session.released {
		t.Error("session not released")
	}
}

func TestRunReleasesSessionBeforeSync(t *testing.T) {
	cfg := testConfig(t)
	session := &fakeSession{}
	syncer := &fakeSyncer{session: session}

	if _, err := newTestRunner(t, cfg, &fakeController{session: session}, &fakeHarvester{}, syncer).Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	for _, call := range syncer.calls {
		if !call.sessionReleased {
			t.Errorf("sync %s ran while browser session was still held", call.mirror)
		}
	}
}

func TestRunRecordsHarvestOutcomes(t *testing.T) {
	cfg := testConfig(t)
	session := &fakeSession{}
	harvester := &fakeHarvester{fail: map[string]error{
		"Tickets": &harvest.NoExportError{Target: "Tickets", Candidates: 1},
	}}
	rec := &captureRecorder{}
	syncer := &fakeSyncer{session: session}

	runner := newTestRunner(t, cfg, &fakeController{session: session}, harvester, syncer).WithRecorder(rec)
	if _, err := runner.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if rec.outcomes["Tickets"] != "not_found" {
		t.Errorf("Tickets outcome = %q, want not_found", rec.outcomes["Tickets"])
	}
	if rec.outcomes["Agents"] != "success" {
		t.Errorf("Agents outcome = %q, want success", rec.outcomes["Agents"])
	}
	if rec.runStates[0] != string(StateDone) {
		t.Errorf("recorded run state = %q, want DONE", rec.runStates[0])
	}
	if rec.artifacts != 3 {
		t.Errorf("recorded artifacts = %d, want 3", rec.artifacts)
	}
}

type captureRecorder struct {
	outcomes  map[string]string
	runStates []string
	artifacts int
}

func (c *captureRecorder) RunOutcome(state string) { c.runStates = append(c.runStates, state) }
func (c *captureRecorder) ObserveRunDuration(d time.Duration) {}
func (c *captureRecorder) HarvestOutcome(target, outcome string) {
	if c.outcomes == nil {
		c.outcomes = map[string]string{}
	}
	c.outcomes[target] = outcome
}
func (c *captureRecorder) ObserveSyncDuration(repo string, d time.Duration) {}
func (c *captureRecorder) SetArtifactsLastRun(n int)                       { c.artifacts = n }
