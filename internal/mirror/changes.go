package mirror

import (
	"fmt"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"git.home.luguber.info/inful/repomirror/internal/util/sets"
)

// ChangedFiles returns the paths of files that differ between since and
// until, filtered by match (nil matches everything).
//
// since == "" diffs the empty tree against until's tree, i.e. lists every
// path present there; used for full initial scans. Otherwise the two commit
// trees are diffed and each changed entry reports its post-change path, so
// additions and modifications appear normally while pure deletions, having
// no post-change path, are excluded.
//
// Purely local: reads the already-fetched object store, never the network.
func (m *Mirror) ChangedFiles(since, until string, match func(string) bool) (sets.Set[string], error) {
	if m.state != StateOpen {
		return nil, ErrNotOpen
	}
	if until == "" {
		until = "HEAD"
	}
	if match == nil {
		match = func(string) bool { return true }
	}

	untilTree, err := m.treeAt(until)
	if err != nil {
		return nil, err
	}

	out := sets.New[string]()

	if since == "" {
		err := untilTree.Files().ForEach(func(f *object.File) error {
			if match(f.Name) {
				out.Add(f.Name)
			}
			return nil
		})
		return out, err
	}

	sinceTree, err := m.treeAt(since)
	if err != nil {
		return nil, err
	}
	changes, err := object.DiffTree(sinceTree, untilTree)
	if err != nil {
		return nil, fmt.Errorf("diff %s..%s: %w", since, until, err)
	}
	for _, ch := range changes {
		if ch.To.Name == "" {
			continue // deletion, no post-change identity
		}
		if match(ch.To.Name) {
			out.Add(ch.To.Name)
		}
	}
	return out, nil
}

// treeAt resolves a revision (ref name, tag, hash, HEAD) to its commit tree,
// peeling annotated tags.
func (m *Mirror) treeAt(rev string) (*object.Tree, error) {
	h, err := m.repo.ResolveRevision(plumbing.Revision(rev))
	if err != nil {
		return nil, fmt.Errorf("resolve %q: %w", rev, err)
	}
	commit, err := m.repo.CommitObject(*h)
	if err != nil {
		tag, tagErr := m.repo.TagObject(*h)
		if tagErr != nil {
			return nil, fmt.Errorf("resolve %q to commit: %w", rev, err)
		}
		commit, err = tag.Commit()
		if err != nil {
			return nil, fmt.Errorf("peel tag %q: %w", rev, err)
		}
	}
	return commit.Tree()
}
