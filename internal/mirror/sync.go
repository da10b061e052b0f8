package mirror

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	"git.home.luguber.info/inful/repomirror/internal/credentials"
	"git.home.luguber.info/inful/repomirror/internal/logfields"
	"git.home.luguber.info/inful/repomirror/internal/metrics"
	"git.home.luguber.info/inful/repomirror/internal/util/sets"
)

// BranchLister enumerates the branch names that currently exist on the
// remote. Fetch and pull are poor at reporting nonexistent branches, so the
// authoritative set is queried up front and requested branches absent on the
// remote are silently dropped.
type BranchLister interface {
	ListBranchNames(ctx context.Context, org, name string) ([]string, error)
}

// Synchronizer drives the clone-or-fetch-then-fast-forward state machine for
// one mirror.
type Synchronizer struct {
	desc   *Descriptor
	remote BranchLister
	rec    metrics.Recorder
}

// NewSynchronizer creates a Synchronizer for the given mirror identity.
func NewSynchronizer(desc *Descriptor, remote BranchLister) *Synchronizer {
	return &Synchronizer{desc: desc, remote: remote, rec: metrics.NoopRecorder{}}
}

// WithRecorder injects a metrics recorder.
func (s *Synchronizer) WithRecorder(rec metrics.Recorder) *Synchronizer {
	if rec != nil {
		s.rec = rec
	}
	return s
}

// Update runs one update cycle: resolve the effective fetch set, take the
// cross-process lock, initialize or repair the mirror if needed, fetch, and
// force every local branch in the set to the fetched remote position.
// Transport and authentication failures propagate unmodified; the caller
// retries on its own schedule.
func (s *Synchronizer) Update(ctx context.Context, token credentials.Token) (*Mirror, error) {
	started := time.Now()
	slog.Info("updating mirror", logfields.URL(s.desc.URL), logfields.Path(s.desc.Dir))

	names, err := s.remote.ListBranchNames(ctx, s.desc.Org, s.desc.Name)
	if err != nil {
		s.rec.IncUpdateOutcome("failed")
		return nil, err
	}
	effective := s.desc.Branches.Intersect(sets.New(names...))
	for _, b := range sets.Sorted(s.desc.Branches) {
		if !effective.Has(b) {
			slog.Debug("requested branch absent on remote, dropping",
				logfields.Repository(s.desc.FullName()), logfields.Branch(b))
		}
	}
	s.rec.SetBranchesTracked(s.desc.FullName(), len(effective))

	// Optimistic probe before the lock; re-checked once the lock is held.
	m := Probe(s.desc)

	var out *Mirror
	err = s.desc.WithLock(ctx, func() error {
		var lockedErr error
		out, lockedErr = s.updateLocked(ctx, m, effective, token)
		return lockedErr
	})
	if err != nil {
		s.rec.ObserveUpdateDuration(s.desc.FullName(), time.Since(started), false)
		s.rec.IncUpdateOutcome("failed")
		return nil, err
	}

	s.rec.ObserveUpdateDuration(s.desc.FullName(), time.Since(started), true)
	s.rec.IncUpdateOutcome("success")
	slog.Info("mirror updated", logfields.Repository(s.desc.FullName()),
		logfields.DurationMS(time.Since(started)))
	return out, nil
}

func (s *Synchronizer) updateLocked(ctx context.Context, m *Mirror, effective sets.Set[string], token credentials.Token) (*Mirror, error) {
	if m.state != StateOpen {
		// Another process may have created or repaired the mirror between
		// the unlocked probe and lock acquisition.
		m = Probe(s.desc)
	}

	if m.state != StateOpen {
		repo, err := s.initLocked()
		if err != nil {
			return nil, err
		}
		m = &Mirror{desc: s.desc, repo: repo, state: StateOpen}
	}

	if len(effective) == 0 {
		slog.Info("no requested branches exist on the remote, skipping fetch",
			logfields.Repository(s.desc.FullName()))
		return m, nil
	}

	// Refspecs follow the current effective set, not the remote config, so
	// branches created or deleted upstream between cycles are picked up or
	// dropped on the next update.
	fetchStart := time.Now()
	fo := &git.FetchOptions{
		RemoteName: "origin",
		RefSpecs:   s.desc.refspecs(effective),
		Auth:       token.AuthMethod(),
		Tags:       git.NoTags,
	}
	if err := m.repo.FetchContext(ctx, fo); err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return nil, &TransportError{Op: "fetch", URL: s.desc.URL, Err: err}
	}
	s.rec.ObserveFetchDuration(s.desc.FullName(), time.Since(fetchStart))

	for _, branch := range sets.Sorted(effective) {
		if err := s.forceBranch(m.repo, branch); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// initLocked deletes any partial remnants and creates an empty repository
// with default branch "main" and an origin remote carrying one refspec per
// requested branch. The registered refspecs are a baseline for interop with
// other git tooling; each fetch passes the per-cycle set explicitly.
func (s *Synchronizer) initLocked() (*git.Repository, error) {
	slog.Info("mirror does not exist, initializing", logfields.URL(s.desc.URL), logfields.Path(s.desc.Dir))

	if err := os.RemoveAll(s.desc.Dir); err != nil {
		return nil, fmt.Errorf("remove partial mirror: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.desc.Dir), 0o750); err != nil {
		return nil, fmt.Errorf("create mirror parent: %w", err)
	}

	repo, err := git.PlainInitWithOptions(s.desc.Dir, &git.PlainInitOptions{
		InitOptions: git.InitOptions{DefaultBranch: plumbing.Main},
		Bare:        false,
	})
	if err != nil {
		return nil, fmt.Errorf("init mirror: %w", err)
	}

	remoteCfg := originConfig(s.desc.URL)
	remoteCfg.Fetch = s.desc.refspecs(s.desc.Branches)
	if _, err := repo.CreateRemote(remoteCfg); err != nil {
		return nil, fmt.Errorf("create origin remote: %w", err)
	}

	return repo, nil
}

// forceBranch moves the local branch to the remote-tracking position learned
// from the fetch. A missing local branch is created pointing straight at the
// fetched commit without touching the working directory; an existing one is
// checked out and hard reset.
func (s *Synchronizer) forceBranch(repo *git.Repository, branch string) error {
	remoteName := plumbing.NewRemoteReferenceName("origin", branch)
	remoteRef, err := repo.Reference(remoteName, true)
	if err != nil {
		return &RefLookupError{Branch: branch, Ref: remoteName.String()}
	}

	localName := plumbing.NewBranchReferenceName(branch)
	localRef, err := repo.Reference(localName, true)
	if err != nil {
		slog.Info("creating local branch", logfields.Branch(branch),
			logfields.Commit(remoteRef.Hash().String()))
		return repo.Storer.SetReference(plumbing.NewHashReference(localName, remoteRef.Hash()))
	}

	if localRef.Hash() == remoteRef.Hash() {
		return nil
	}

	// The remote is assumed to only move forward. When it was rewound we
	// still force local state to match, but say so.
	if ff, ancErr := isAncestor(repo, localRef.Hash(), remoteRef.Hash()); ancErr == nil && !ff {
		slog.Warn("remote history is not a fast-forward, forcing local branch",
			logfields.Repository(s.desc.FullName()), logfields.Branch(branch),
			logfields.Commit(remoteRef.Hash().String()))
	}

	slog.Info("fast-forwarding local branch", logfields.Branch(branch),
		logfields.Commit(remoteRef.Hash().String()))

	wt, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("worktree: %w", err)
	}
	if err := wt.Checkout(&git.CheckoutOptions{Branch: localName, Force: true}); err != nil {
		return fmt.Errorf("checkout %s: %w", branch, err)
	}
	if err := wt.Reset(&git.ResetOptions{Commit: remoteRef.Hash(), Mode: git.HardReset}); err != nil {
		return fmt.Errorf("reset %s: %w", branch, err)
	}
	return nil
}

// isAncestor reports whether a is reachable from b following parent edges.
func isAncestor(repo *git.Repository, a, b plumbing.Hash) (bool, error) {
	if a == b {
		return true, nil
	}
	seen := map[plumbing.Hash]struct{}{}
	queue := []plumbing.Hash{b}
	for len(queue) > 0 {
		h := queue[0]
		queue = queue[1:]
		if h == a {
			return true, nil
		}
		if _, ok := seen[h]; ok {
			continue
		}
		seen[h] = struct{}{}
		commit, err := repo.CommitObject(h)
		if err != nil {
			return false, err
		}
		queue = append(queue, commit.ParentHashes...)
	}
	return false, nil
}
