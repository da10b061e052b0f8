package mirror

import (
	"fmt"
	"strings"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// RefPosition is where one tracked branch currently points.
type RefPosition struct {
	Hash       string    `json:"hash" yaml:"hash"`
	Summary    string    `json:"summary" yaml:"summary"`
	CommitTime time.Time `json:"commitDate" yaml:"commitDate"`
}

// RefPositions maps each tracked local branch to the commit it points at.
// Only branches in the descriptor's branch set are reported.
func (m *Mirror) RefPositions() (map[string]RefPosition, error) {
	if m.state != StateOpen {
		return nil, ErrNotOpen
	}
	out := make(map[string]RefPosition)
	iter, err := m.repo.Branches()
	if err != nil {
		return nil, err
	}
	err = iter.ForEach(func(ref *plumbing.Reference) error {
		short := ref.Name().Short()
		if !m.desc.Branches.Has(short) {
			return nil
		}
		commit, err := m.repo.CommitObject(ref.Hash())
		if err != nil {
			return fmt.Errorf("commit for branch %s: %w", short, err)
		}
		summary, _, _ := strings.Cut(commit.Message, "\n")
		out[short] = RefPosition{
			Hash:       ref.Hash().String(),
			Summary:    summary,
			CommitTime: commit.Committer.When,
		}
		return nil
	})
	return out, err
}

// CheckoutReset puts the working directory at what ref points to, discarding
// any existing local changes.
func (m *Mirror) CheckoutReset(ref string) error {
	if m.state != StateOpen {
		return ErrNotOpen
	}
	target, err := m.repo.Reference(plumbing.ReferenceName(ref), true)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", ref, err)
	}
	wt, err := m.repo.Worktree()
	if err != nil {
		return fmt.Errorf("worktree: %w", err)
	}
	if err := wt.Checkout(&git.CheckoutOptions{Branch: plumbing.ReferenceName(ref), Force: true}); err != nil {
		return fmt.Errorf("checkout %s: %w", ref, err)
	}
	if err := wt.Reset(&git.ResetOptions{Commit: target.Hash(), Mode: git.HardReset}); err != nil {
		return fmt.Errorf("reset %s: %w", ref, err)
	}
	return nil
}
