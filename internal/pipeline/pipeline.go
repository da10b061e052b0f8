// Package pipeline drives the full mirror lifecycle for one repository:
// pull (sync the mirror from upstream), scan (feed changed config files to
// scanners and advance the watermark), and delete (remove the local copy).
package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"git.home.luguber.info/inful/repomirror/internal/credentials"
	"git.home.luguber.info/inful/repomirror/internal/events"
	"git.home.luguber.info/inful/repomirror/internal/forge"
	"git.home.luguber.info/inful/repomirror/internal/history"
	"git.home.luguber.info/inful/repomirror/internal/metrics"
	"git.home.luguber.info/inful/repomirror/internal/mirror"
	"git.home.luguber.info/inful/repomirror/internal/scanner"
	"git.home.luguber.info/inful/repomirror/internal/util/sets"
)

// Branch configures scanning for one tracked branch.
type Branch struct {
	Name      string
	Namespace string
	Prod      bool
}

// Position reports where the mirror stands after a pull or scan: the commit
// each tracked branch points at, plus the upstream push time (seconds since
// epoch, measured with the forge's clock) observed before the last fetch.
type Position struct {
	RefPositions map[string]mirror.RefPosition `json:"refPositions" yaml:"refPositions"`
	LastModified int64                         `json:"lastModified" yaml:"lastModified"`
}

// Pipeline wires the mirror, its collaborators, and the scanners together.
type Pipeline struct {
	desc     *mirror.Descriptor
	forge    forge.Client
	creds    credentials.Provider
	registry *scanner.Registry
	scanners []string
	branches []Branch

	workspaceNamespace string

	publisher events.Publisher
	history   *history.Store
	rec       metrics.Recorder
}

// Option customizes pipeline construction.
type Option func(*Pipeline)

// WithCredentials sets the credential provider. Defaults to Anonymous.
func WithCredentials(p credentials.Provider) Option {
	return func(pl *Pipeline) { pl.creds = p }
}

// WithScanners names the scanners to run on every branch.
func WithScanners(names ...string) Option {
	return func(pl *Pipeline) { pl.scanners = names }
}

// WithBranches configures the branches to scan and their target namespaces.
func WithBranches(branches ...Branch) Option {
	return func(pl *Pipeline) { pl.branches = branches }
}

// WithWorkspaceNamespace sets the namespace passed to scanners for
// workspace-scoped resources.
func WithWorkspaceNamespace(ns string) Option {
	return func(pl *Pipeline) { pl.workspaceNamespace = ns }
}

// WithPublisher sets the scan event publisher. Defaults to Noop.
func WithPublisher(pub events.Publisher) Option {
	return func(pl *Pipeline) { pl.publisher = pub }
}

// WithHistory records scan runs in the given store.
func WithHistory(store *history.Store) Option {
	return func(pl *Pipeline) { pl.history = store }
}

// WithRecorder sets the metrics recorder. Defaults to Noop.
func WithRecorder(rec metrics.Recorder) Option {
	return func(pl *Pipeline) { pl.rec = rec }
}

// WithRegistry overrides the scanner registry. Defaults to the process-wide
// one.
func WithRegistry(reg *scanner.Registry) Option {
	return func(pl *Pipeline) { pl.registry = reg }
}

// New builds a pipeline for one repository.
func New(desc *mirror.Descriptor, forgeClient forge.Client, opts ...Option) *Pipeline {
	p := &Pipeline{
		desc:      desc,
		forge:     forgeClient,
		creds:     credentials.Anonymous{},
		registry:  scanner.Default(),
		scanners:  []string{scanner.FileListerName},
		publisher: events.Noop{},
		rec:       metrics.NoopRecorder{},
	}
	for _, opt := range opts {
		opt(p)
	}
	if len(p.branches) == 0 {
		p.branches = defaultBranches(desc)
	}
	return p
}

// defaultBranches derives a branch configuration from the descriptor's
// tracked set when none was given explicitly. "main" counts as production.
func defaultBranches(desc *mirror.Descriptor) []Branch {
	var out []Branch
	for _, name := range sets.Sorted(desc.Branches) {
		out = append(out, Branch{Name: name, Namespace: "default", Prod: name == "main"})
	}
	return out
}

// readPushTime reads the sidecar written by the last pull.
func (p *Pipeline) readPushTime() (int64, error) {
	data, err := os.ReadFile(p.desc.PushTimePath())
	if err != nil {
		return 0, fmt.Errorf("read upstream push time (did a pull run?): %w", err)
	}
	n, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse upstream push time: %w", err)
	}
	return n, nil
}

// writePushTime records the upstream push time next to the mirror. Written
// before the fetch so that missing a change is impossible; re-scanning an
// extra time is the cheap direction of that tradeoff.
func (p *Pipeline) writePushTime(t int64) error {
	if err := os.MkdirAll(filepath.Dir(p.desc.PushTimePath()), 0o750); err != nil {
		return err
	}
	return os.WriteFile(p.desc.PushTimePath(), []byte(strconv.FormatInt(t, 10)), 0o640)
}
