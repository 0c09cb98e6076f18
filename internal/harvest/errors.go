package harvest

import (
	"fmt"
	"time"
)

// TimeoutError indicates a bounded wait expired or was interrupted before the
// page, its export triggers, or a download appeared. Per-target and non-fatal:
// the target is skipped.
type TimeoutError struct {
	Target string
	Wait   time.Duration
	Err    error
}

func (e *TimeoutError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("harvest %s: bounded wait interrupted after %s: %v", e.Target, e.Wait, e.Err)
	}
	return fmt.Sprintf("harvest %s: no export trigger found within %s", e.Target, e.Wait)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// NoExportError indicates every candidate trigger was clicked but no export
// file materialized in the download directory.
type NoExportError struct {
	Target     string
	Candidates int
}

func (e *NoExportError) Error() string {
	return fmt.Sprintf("harvest %s: %d trigger candidate(s) clicked, no export file appeared", e.Target, e.Candidates)
}
