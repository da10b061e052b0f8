package mirror

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"git.home.luguber.info/inful/repomirror/internal/util/sets"
)

// newUpstream initializes a repository acting as the remote, with an initial
// commit on main.
func newUpstream(t *testing.T, dir string) *git.Repository {
	t.Helper()
	repo, err := git.PlainInitWithOptions(dir, &git.PlainInitOptions{
		InitOptions: git.InitOptions{DefaultBranch: plumbing.Main},
		Bare:        false,
	})
	if err != nil {
		t.Fatalf("init upstream: %v", err)
	}
	return repo
}

// commitFile writes a file and commits it, returning the new commit hash.
func commitFile(t *testing.T, repo *git.Repository, name, content, msg string) plumbing.Hash {
	t.Helper()
	wt, err := repo.Worktree()
	if err != nil {
		t.Fatalf("worktree: %v", err)
	}
	path := filepath.Join(wt.Filesystem.Root(), name)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		t.Fatalf("mkdir for %s: %v", name, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	if _, err := wt.Add(name); err != nil {
		t.Fatalf("add %s: %v", name, err)
	}
	hash, err := wt.Commit(msg, &git.CommitOptions{
		Author: &object.Signature{Name: "tester", Email: "tester@example.com", When: time.Now()},
	})
	if err != nil {
		t.Fatalf("commit %s: %v", msg, err)
	}
	return hash
}

// deleteFile removes a file and commits the deletion.
func deleteFile(t *testing.T, repo *git.Repository, name, msg string) plumbing.Hash {
	t.Helper()
	wt, err := repo.Worktree()
	if err != nil {
		t.Fatalf("worktree: %v", err)
	}
	if _, err := wt.Remove(name); err != nil {
		t.Fatalf("remove %s: %v", name, err)
	}
	hash, err := wt.Commit(msg, &git.CommitOptions{
		Author: &object.Signature{Name: "tester", Email: "tester@example.com", When: time.Now()},
	})
	if err != nil {
		t.Fatalf("commit %s: %v", msg, err)
	}
	return hash
}

// checkoutNewBranch creates and checks out a branch at the current head.
func checkoutNewBranch(t *testing.T, repo *git.Repository, branch string) {
	t.Helper()
	wt, err := repo.Worktree()
	if err != nil {
		t.Fatalf("worktree: %v", err)
	}
	err = wt.Checkout(&git.CheckoutOptions{
		Branch: plumbing.NewBranchReferenceName(branch),
		Create: true,
	})
	if err != nil {
		t.Fatalf("checkout -b %s: %v", branch, err)
	}
}

// testDescriptor builds a descriptor whose remote URL is the upstream's git
// directory on the local filesystem.
func testDescriptor(t *testing.T, upstreamDir, parentDir string, branches ...string) *Descriptor {
	t.Helper()
	if len(branches) == 0 {
		branches = []string{"main"}
	}
	return &Descriptor{
		URL:       filepath.Join(upstreamDir, ".git"),
		Host:      "local.test",
		Org:       "acme",
		Name:      "widgets",
		ParentDir: parentDir,
		Dir:       filepath.Join(parentDir, "local.test", "acme", "widgets"),
		Branches:  sets.New(branches...),
	}
}

// staticLister is a BranchLister stub returning a fixed branch list.
type staticLister []string

func (l staticLister) ListBranchNames(_ context.Context, _, _ string) ([]string, error) {
	return l, nil
}

// openMirror probes and fails the test unless the mirror is open.
func openMirror(t *testing.T, desc *Descriptor) *Mirror {
	t.Helper()
	m := Probe(desc)
	if m.State() != StateOpen {
		t.Fatalf("expected open mirror at %s, state %s", desc.Dir, m.State())
	}
	return m
}
