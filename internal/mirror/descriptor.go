package mirror

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	gitcfg "github.com/go-git/go-git/v5/config"

	"git.home.luguber.info/inful/repomirror/internal/util/sets"
)

// Descriptor identifies one mirrored repository: where it lives upstream,
// where its local mirror lives on disk, and which branches we track.
type Descriptor struct {
	URL  string // upstream remote URL, as given
	Host string
	Org  string
	Name string

	// Dir is the on-disk mirror location. Unless overridden it is
	// ParentDir/Host/Org/Name.
	Dir       string
	ParentDir string

	Branches sets.Set[string]
}

// Option customizes descriptor construction.
type Option func(*Descriptor)

// WithDir overrides the canonical mirror location with an explicit path.
// The parent directory is then inferred three levels up so that lock files
// keep the canonical layout convention.
func WithDir(dir string) Option {
	return func(d *Descriptor) { d.Dir = dir }
}

// WithBranches sets the branches to fetch. Defaults to {"main"}.
func WithBranches(branches ...string) Option {
	return func(d *Descriptor) { d.Branches = sets.New(branches...) }
}

// ParseDescriptor builds a Descriptor from a repository URL of the form
// scheme://host/org/name[.git]. URLs whose path is not exactly an org and a
// repository segment are rejected here rather than guessed at.
func ParseDescriptor(rawURL, parentDir string, opts ...Option) (*Descriptor, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrMalformedURL, rawURL, err)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("%w: %q: missing host", ErrMalformedURL, rawURL)
	}

	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(segments) != 2 || segments[0] == "" || segments[1] == "" {
		return nil, fmt.Errorf("%w: %q: path must be /org/name", ErrMalformedURL, rawURL)
	}

	d := &Descriptor{
		URL:       rawURL,
		Host:      u.Hostname(),
		Org:       segments[0],
		Name:      strings.TrimSuffix(segments[1], ".git"),
		ParentDir: parentDir,
		Branches:  sets.New("main"),
	}

	for _, opt := range opts {
		opt(d)
	}

	if len(d.Branches) == 0 {
		return nil, fmt.Errorf("descriptor for %q: at least one branch is required", rawURL)
	}

	if d.Dir == "" {
		d.Dir = filepath.Join(d.ParentDir, d.Host, d.Org, d.Name)
	} else if parentDir == "" {
		d.ParentDir = filepath.Dir(filepath.Dir(filepath.Dir(d.Dir)))
	}

	return d, nil
}

// FullName returns "org/name".
func (d *Descriptor) FullName() string { return d.Org + "/" + d.Name }

// LockPath is the cross-process lock file for this mirror identity. It lives
// under ParentDir so that every process sharing the layout contends on the
// same file.
func (d *Descriptor) LockPath() string {
	return filepath.Join(d.ParentDir, "_MIRROR_LOCK_"+d.Host+"-"+d.Org+"-"+d.Name)
}

// PushTimePath is the sidecar file recording the upstream push time observed
// just before the last fetch, measured with the forge's clock.
func (d *Descriptor) PushTimePath() string {
	return d.Dir + ".upstream_push_time"
}

// originConfig is the remote registration for a freshly initialized mirror.
func originConfig(url string) *gitcfg.RemoteConfig {
	return &gitcfg.RemoteConfig{Name: "origin", URLs: []string{url}}
}

// refspecs returns one fetch refspec per branch, in deterministic order. The
// leading + lets a rewound remote still update the remote-tracking ref; local
// branches are forced to match separately.
func (d *Descriptor) refspecs(branches sets.Set[string]) []gitcfg.RefSpec {
	out := make([]gitcfg.RefSpec, 0, len(branches))
	for _, b := range sets.Sorted(branches) {
		out = append(out, gitcfg.RefSpec(fmt.Sprintf("+refs/heads/%s:refs/remotes/origin/%s", b, b)))
	}
	return out
}
