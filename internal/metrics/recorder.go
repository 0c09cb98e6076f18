// Package metrics records pipeline outcomes for Prometheus scraping in
// daemon mode.
package metrics

import "time"

// Recorder abstracts metric recording so the orchestrator stays decoupled
// from the Prometheus client. A nil *PrometheusRecorder is a safe no-op.
type Recorder interface {
	RunOutcome(state string)
	ObserveRunDuration(d time.Duration)
	HarvestOutcome(target, outcome string)
	ObserveSyncDuration(repo string, d time.Duration)
	SetArtifactsLastRun(n int)
}
