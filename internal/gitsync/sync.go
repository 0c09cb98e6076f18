// Package gitsync reconciles repository mirrors with the artifacts of a run:
// hard-reset the working tree, fully replace the data directory, commit, and
// push. It never merges with unknown local state.
package gitsync

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	gitcfg "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"

	"portalsync/internal/config"
	"portalsync/internal/logfields"
	"portalsync/internal/retry"
)

const (
	// dataSubdir is the sync target inside every mirror.
	dataSubdir = "data"

	commitAuthor = "portalsync"
	commitEmail  = "portalsync@automation.local"
)

// Mirror is a working copy of a version-control repository whose data/
// subdirectory the synchronizer owns during reconciliation.
type Mirror struct {
	Name   string
	Path   string
	URL    string
	Token  string
	Branch string
	Remote string
}

// MirrorFromConfig builds a Mirror from a repository config block.
func MirrorFromConfig(name string, rc config.RepoConfig) Mirror {
	return Mirror{
		Name:   name,
		Path:   rc.Path,
		URL:    rc.URL,
		Token:  rc.Token,
		Branch: rc.Branch,
		Remote: rc.Remote,
	}
}

// Syncer performs mirror reconciliation. It holds the artifact extension so
// only canonical files are replaced, never unrelated repository content.
type Syncer struct {
	artifactExt string
	retryPolicy retry.Policy
}

// NewSyncer creates a syncer for artifacts with the given extension (".xlsx").
func NewSyncer(artifactExt string) *Syncer {
	return &Syncer{artifactExt: artifactExt, retryPolicy: retry.DefaultPolicy()}
}

// remoteRetryable reports whether a remote operation failure is worth
// retrying. Auth rejections and missing repositories are permanent.
func remoteRetryable(err error) bool {
	var authErr *AuthError
	var notFound *NotFoundError
	return !errors.As(err, &authErr) && !errors.As(err, &notFound)
}

// Sync reconciles the mirror's data directory with the run's artifacts:
// discard local state, full replace, commit with a timestamped message, push.
// A clean status after staging means nothing changed and the commit is
// skipped, so repeated syncs with an unchanged run result are no-ops.
//
// Artifact contents are captured up front: under the default layout the run's
// data directory IS the automation mirror's data/, so the hard reset below
// would otherwise revert or delete the files being synced.
func (s *Syncer) Sync(m Mirror, artifacts []string) error {
	snap, err := snapshotArtifacts(artifacts)
	if err != nil {
		return &SyncError{Op: "read", Repo: m.Name, Err: err}
	}

	repo, err := git.PlainOpen(m.Path)
	if err != nil {
		return &SyncError{Op: "open", Repo: m.Name, Err: err}
	}
	wt, err := repo.Worktree()
	if err != nil {
		return &SyncError{Op: "worktree", Repo: m.Name, Err: err}
	}

	if err := discardLocalState(repo, wt); err != nil {
		return &SyncError{Op: "reset", Repo: m.Name, Err: err}
	}

	dataDir := filepath.Join(m.Path, dataSubdir)
	if err := s.replaceData(dataDir, snap); err != nil {
		return &SyncError{Op: "replace", Repo: m.Name, Err: err}
	}

	if err := wt.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		return &SyncError{Op: "stage", Repo: m.Name, Err: err}
	}
	status, err := wt.Status()
	if err != nil {
		return &SyncError{Op: "status", Repo: m.Name, Err: err}
	}
	if status.IsClean() {
		slog.Info("Mirror already up to date", logfields.Repository(m.Name))
		return nil
	}

	msg := fmt.Sprintf("Update data files %s", time.Now().Format(time.RFC3339))
	commit, err := wt.Commit(msg, &git.CommitOptions{
		Author: &object.Signature{Name: commitAuthor, Email: commitEmail, When: time.Now()},
	})
	if err != nil {
		return &SyncError{Op: "commit", Repo: m.Name, Err: err}
	}

	pushOpts := &git.PushOptions{
		RemoteName: m.Remote,
		RefSpecs: []gitcfg.RefSpec{
			gitcfg.RefSpec(fmt.Sprintf("refs/heads/%s:refs/heads/%s", m.Branch, m.Branch)),
		},
		Auth: m.auth(),
	}
	pushErr := retry.Do(s.retryPolicy, func() error {
		if err := repo.Push(pushOpts); err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
			return classifyRemoteError("push", m.Name, err)
		}
		return nil
	}, remoteRetryable)
	if pushErr != nil {
		return pushErr
	}

	slog.Info("Mirror synchronized",
		logfields.Repository(m.Name),
		logfields.Branch(m.Branch),
		logfields.Count(len(artifacts)),
		slog.String("commit", commit.String()[:8]))
	return nil
}

// EnsureMirror makes the mirror's working copy exist and match its remote:
// clone fresh with a token-embedded URL when missing, otherwise fetch and
// hard-reset to the remote branch.
func (s *Syncer) EnsureMirror(m Mirror) error {
	if _, err := os.Stat(filepath.Join(m.Path, ".git")); err != nil {
		return s.cloneMirror(m)
	}
	return s.refreshMirror(m)
}

func (s *Syncer) cloneMirror(m Mirror) error {
	if m.URL == "" {
		return &SyncError{Op: "clone", Repo: m.Name, Err: fmt.Errorf("no remote URL configured")}
	}
	cloneURL := m.URL
	if m.Token != "" {
		var err error
		cloneURL, err = authURL(m.URL, m.Token)
		if err != nil {
			return &SyncError{Op: "clone", Repo: m.Name, Err: err}
		}
	}
	slog.Info("Cloning mirror", logfields.Repository(m.Name), logfields.Path(m.Path))
	_, err := git.PlainClone(m.Path, false, &git.CloneOptions{
		URL:           cloneURL,
		ReferenceName: plumbing.NewBranchReferenceName(m.Branch),
		SingleBranch:  true,
	})
	if err != nil {
		return classifyRemoteError("clone", m.Name, err)
	}
	return nil
}

func (s *Syncer) refreshMirror(m Mirror) error {
	repo, err := git.PlainOpen(m.Path)
	if err != nil {
		return &SyncError{Op: "open", Repo: m.Name, Err: err}
	}

	fetchOpts := &git.FetchOptions{
		RemoteName: m.Remote,
		RefSpecs:   []gitcfg.RefSpec{gitcfg.RefSpec(fmt.Sprintf("+refs/heads/*:refs/remotes/%s/*", m.Remote))},
		Tags:       git.NoTags,
		Auth:       m.auth(),
	}
	fetchErr := retry.Do(s.retryPolicy, func() error {
		if err := repo.Fetch(fetchOpts); err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
			return classifyRemoteError("fetch", m.Name, err)
		}
		return nil
	}, remoteRetryable)
	if fetchErr != nil {
		return fetchErr
	}

	remoteRef, err := repo.Reference(plumbing.NewRemoteReferenceName(m.Remote, m.Branch), true)
	if err != nil {
		// Fresh remote with no commits on the branch yet: nothing to reset to.
		slog.Debug("Remote branch not found, skipping reset", logfields.Repository(m.Name), logfields.Branch(m.Branch))
		return nil
	}
	wt, err := repo.Worktree()
	if err != nil {
		return &SyncError{Op: "worktree", Repo: m.Name, Err: err}
	}
	if err := wt.Reset(&git.ResetOptions{Commit: remoteRef.Hash(), Mode: git.HardReset}); err != nil {
		return &SyncError{Op: "reset", Repo: m.Name, Err: err}
	}
	if err := wt.Clean(&git.CleanOptions{Dir: true}); err != nil {
		slog.Warn("Clean untracked failed", logfields.Repository(m.Name), logfields.Error(err))
	}
	slog.Info("Mirror refreshed from remote",
		logfields.Repository(m.Name),
		logfields.Branch(m.Branch),
		slog.String("commit", remoteRef.Hash().String()[:8]))
	return nil
}

// discardLocalState hard-resets tracked files and removes untracked ones so
// reconciliation starts from the last committed state. A repository without
// commits yet has nothing to reset.
func discardLocalState(repo *git.Repository, wt *git.Worktree) error {
	head, err := repo.Head()
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return nil
		}
		return err
	}
	if err := wt.Reset(&git.ResetOptions{Commit: head.Hash(), Mode: git.HardReset}); err != nil {
		return fmt.Errorf("hard reset: %w", err)
	}
	if err := wt.Clean(&git.CleanOptions{Dir: true}); err != nil {
		return fmt.Errorf("clean untracked: %w", err)
	}
	return nil
}

// artifactFile is an in-memory copy of one normalized artifact, captured
// before the worktree reset can touch its source path.
type artifactFile struct {
	name string
	data []byte
}

func snapshotArtifacts(paths []string) ([]artifactFile, error) {
	out := make([]artifactFile, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, err
		}
		out = append(out, artifactFile{name: filepath.Base(p), data: data})
	}
	return out, nil
}

// replaceData removes every existing canonical file under the data directory
// and writes the run's artifacts in. Full replace, not merge.
func (s *Syncer) replaceData(dataDir string, artifacts []artifactFile) error {
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return err
	}
	entries, err := os.ReadDir(dataDir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), s.artifactExt) {
			continue
		}
		if err := os.Remove(filepath.Join(dataDir, e.Name())); err != nil {
			return err
		}
	}
	for _, a := range artifacts {
		if err := os.WriteFile(filepath.Join(dataDir, a.name), a.data, 0o640); err != nil {
			return err
		}
	}
	return nil
}

// auth returns the transport auth for remotes that need it. Local and
// ssh-agent remotes pass nil through.
func (m Mirror) auth() transport.AuthMethod {
	if m.Token == "" {
		return nil
	}
	return &githttp.BasicAuth{Username: "x-access-token", Password: m.Token}
}

// authURL embeds the access token into an HTTPS remote URL for fresh clones.
func authURL(raw, token string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	u.User = url.UserPassword("x-access-token", token)
	return u.String(), nil
}
