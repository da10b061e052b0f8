// Package mirror maintains local working mirrors of remote repositories for
// the scanning pipeline: path resolution, cross-process locking,
// clone/fetch/fast-forward synchronization, change-set computation, and
// watermark-tag management.
package mirror

import (
	"os"

	git "github.com/go-git/go-git/v5"
)

// State is the on-disk condition of a mirror. It is evaluated optimistically
// before the lock is taken and authoritatively once it is held, because
// another process may create or repair the mirror in between.
type State int

const (
	// StateAbsent means nothing usable exists at the mirror path.
	StateAbsent State = iota
	// StateOpen means the mirror opened as a valid repository.
	StateOpen
	// StateCorrupt means something exists at the path but fails to open.
	// Treated as equivalent to absent: deleted and recreated, never surfaced.
	StateCorrupt
)

func (s State) String() string {
	switch s {
	case StateAbsent:
		return "absent"
	case StateOpen:
		return "open"
	case StateCorrupt:
		return "corrupt"
	default:
		return "unknown"
	}
}

// Mirror is a handle to the on-disk repository state. A handle must be
// treated as invalid after any external modification of the directory the
// process did not itself perform.
type Mirror struct {
	desc  *Descriptor
	repo  *git.Repository
	state State
}

// Probe evaluates the current on-disk state of the mirror without mutating
// it. The path is opened exactly, never searched upward.
func Probe(desc *Descriptor) *Mirror {
	if _, err := os.Stat(desc.Dir); err != nil {
		return &Mirror{desc: desc, state: StateAbsent}
	}
	repo, err := git.PlainOpenWithOptions(desc.Dir, &git.PlainOpenOptions{DetectDotGit: false})
	if err != nil {
		return &Mirror{desc: desc, state: StateCorrupt}
	}
	return &Mirror{desc: desc, repo: repo, state: StateOpen}
}

// State reports the state observed when this handle was created.
func (m *Mirror) State() State { return m.state }

// Descriptor returns the identity this handle was opened for.
func (m *Mirror) Descriptor() *Descriptor { return m.desc }
