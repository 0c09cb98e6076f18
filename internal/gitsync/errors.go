package gitsync

import (
	"fmt"
	"strings"
)

// SyncError wraps a failed synchronization step. Transient remote failures
// get a bounded retry at the push/fetch level; anything still failing
// propagates to the orchestrator which ends the run in a failed state.
type SyncError struct {
	Op   string
	Repo string
	Err  error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("sync %s failed for %s: %v", e.Op, e.Repo, e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }

// AuthError indicates the remote rejected the configured credentials.
type AuthError struct {
	Op   string
	Repo string
	Err  error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("sync %s auth error for %s: %v", e.Op, e.Repo, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// NotFoundError indicates the remote repository does not exist.
type NotFoundError struct {
	Op   string
	Repo string
	Err  error
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("sync %s not found %s: %v", e.Op, e.Repo, e.Err)
}

func (e *NotFoundError) Unwrap() error { return e.Err }

// classifyRemoteError wraps go-git remote failures into typed variants when
// the message allows it. These types let the orchestrator log failure classes
// without string parsing.
func classifyRemoteError(op, repo string, err error) error {
	if err == nil {
		return nil
	}
	l := strings.ToLower(err.Error())
	switch {
	case strings.Contains(l, "authentication") || strings.Contains(l, "authorization") || strings.Contains(l, "invalid username or password"):
		return &AuthError{Op: op, Repo: repo, Err: err}
	case strings.Contains(l, "not found") || strings.Contains(l, "repository does not exist"):
		return &NotFoundError{Op: op, Repo: repo, Err: err}
	default:
		return &SyncError{Op: op, Repo: repo, Err: err}
	}
}
