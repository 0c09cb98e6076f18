package daemon

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"portalsync/internal/config"
	"portalsync/internal/run"
)

func TestTickSingleFlight(t *testing.T) {
	var active, overlapped int32
	release := make(chan struct{})
	var wg sync.WaitGroup

	d, err := New(config.DaemonConfig{Schedule: "* * * * *"}, func(ctx context.Context) (*run.Result, error) {
		if atomic.AddInt32(&active, 1) > 1 {
			atomic.StoreInt32(&overlapped, 1)
		}
		<-release
		atomic.AddInt32(&active, -1)
		return &run.Result{State: run.StateDone}, nil
	}, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	wg.Add(2)
	go func() { defer wg.Done(); d.tick(context.Background()) }()
	go func() { defer wg.Done(); d.tick(context.Background()) }()

	// One tick holds the lock until released; the other must return at once.
	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()

	if atomic.LoadInt32(&overlapped) != 0 {
		t.Error("two runs executed concurrently")
	}
}

func TestHealthEndpoint(t *testing.T) {
	d, err := New(config.DaemonConfig{Schedule: "* * * * *"}, func(ctx context.Context) (*run.Result, error) {
		return &run.Result{State: run.StateDone}, nil
	}, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	d.started = time.Now()
	d.tick(context.Background())

	rec := httptest.NewRecorder()
	d.routes().ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))

	if rec.Code != 200 {
		t.Fatalf("healthz status = %d, want 200", rec.Code)
	}
	var resp healthResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode health response: %v", err)
	}
	if resp.Status != "ok" {
		t.Errorf("status = %q, want ok", resp.Status)
	}
	if resp.LastState != string(run.StateDone) {
		t.Errorf("last_state = %q, want DONE", resp.LastState)
	}
}

func TestStartRejectsEmptySchedule(t *testing.T) {
	d, err := New(config.DaemonConfig{}, func(ctx context.Context) (*run.Result, error) {
		return nil, nil
	}, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := d.Start(ctx); err == nil {
		t.Fatal("Start() with empty schedule succeeded, want error")
	}
}
