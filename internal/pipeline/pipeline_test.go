package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"git.home.luguber.info/inful/repomirror/internal/events"
	"git.home.luguber.info/inful/repomirror/internal/forge"
	"git.home.luguber.info/inful/repomirror/internal/history"
	"git.home.luguber.info/inful/repomirror/internal/mirror"
	"git.home.luguber.info/inful/repomirror/internal/scanner"
	"git.home.luguber.info/inful/repomirror/internal/util/sets"
)

// stubForge serves branch listings and repository metadata from fixed data.
type stubForge struct {
	branches []string
	pushedAt time.Time
}

func (s *stubForge) ListBranchNames(context.Context, string, string) ([]string, error) {
	return s.branches, nil
}

func (s *stubForge) GetRepository(context.Context, string, string) (*forge.Repository, error) {
	return &forge.Repository{
		FullName:      "acme/widgets",
		DefaultBranch: "main",
		PushedAt:      s.pushedAt,
	}, nil
}

// captureSink collects what capture scanners see across a run.
type captureSink struct {
	mu       sync.Mutex
	inits    []scanner.Options
	files    []string
	docs     map[string]any
	finishes int
}

func (c *captureSink) paths() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := slices.Clone(c.files)
	slices.Sort(out)
	return out
}

func (c *captureSink) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inits = nil
	c.files = nil
	c.docs = nil
	c.finishes = 0
}

type captureScanner struct {
	sink *captureSink
}

func (s *captureScanner) Init(opts scanner.Options) error {
	s.sink.mu.Lock()
	defer s.sink.mu.Unlock()
	s.sink.inits = append(s.sink.inits, opts)
	return nil
}

func (s *captureScanner) ScanFile(_ context.Context, path string, doc any) error {
	s.sink.mu.Lock()
	defer s.sink.mu.Unlock()
	s.sink.files = append(s.sink.files, path)
	if s.sink.docs == nil {
		s.sink.docs = map[string]any{}
	}
	s.sink.docs[path] = doc
	return nil
}

func (s *captureScanner) Finish(context.Context) error {
	s.sink.mu.Lock()
	defer s.sink.mu.Unlock()
	s.sink.finishes++
	return nil
}

// capturePublisher records published scan events.
type capturePublisher struct {
	mu     sync.Mutex
	events []events.ScanEvent
}

func (p *capturePublisher) Publish(_ context.Context, e *events.ScanEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, *e)
	return nil
}

func (p *capturePublisher) Close() error { return nil }

func commitUpstreamFile(t *testing.T, repo *git.Repository, name, content, msg string) plumbing.Hash {
	t.Helper()
	wt, err := repo.Worktree()
	if err != nil {
		t.Fatalf("worktree: %v", err)
	}
	path := filepath.Join(wt.Filesystem.Root(), name)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
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
		t.Fatalf("commit: %v", err)
	}
	return hash
}

// fixture builds an upstream with committed files and a pipeline mirroring
// it, with capture scanner, capture publisher and in-memory history wired.
type fixture struct {
	upstream *git.Repository
	desc     *mirror.Descriptor
	pipe     *Pipeline
	sink     *captureSink
	pub      *capturePublisher
	store    *history.Store
	pushedAt time.Time
}

func newFixture(t *testing.T, files map[string]string) *fixture {
	t.Helper()
	upstreamDir := t.TempDir()
	upstream, err := git.PlainInitWithOptions(upstreamDir, &git.PlainInitOptions{
		InitOptions: git.InitOptions{DefaultBranch: plumbing.Main},
		Bare:        false,
	})
	if err != nil {
		t.Fatalf("init upstream: %v", err)
	}
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		commitUpstreamFile(t, upstream, name, files[name], "add "+name)
	}

	parent := t.TempDir()
	desc := &mirror.Descriptor{
		URL:       filepath.Join(upstreamDir, ".git"),
		Host:      "local.test",
		Org:       "acme",
		Name:      "widgets",
		ParentDir: parent,
		Dir:       filepath.Join(parent, "local.test", "acme", "widgets"),
		Branches:  sets.New("main"),
	}

	sink := &captureSink{}
	reg := scanner.NewRegistry()
	if err := reg.Register("capture", func() scanner.Scanner { return &captureScanner{sink: sink} }); err != nil {
		t.Fatalf("register capture scanner: %v", err)
	}

	store, err := history.NewStore(":memory:")
	if err != nil {
		t.Fatalf("history store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	pub := &capturePublisher{}
	pushedAt := time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC)
	pipe := New(desc, &stubForge{branches: []string{"main"}, pushedAt: pushedAt},
		WithRegistry(reg),
		WithScanners("capture"),
		WithBranches(Branch{Name: "main", Namespace: "prod-ns", Prod: true}),
		WithWorkspaceNamespace("workspace-ns"),
		WithPublisher(pub),
		WithHistory(store),
	)
	return &fixture{upstream: upstream, desc: desc, pipe: pipe, sink: sink, pub: pub, store: store, pushedAt: pushedAt}
}

func TestPullWritesSidecarAndReportsPosition(t *testing.T) {
	f := newFixture(t, map[string]string{"a.yaml": "a: 1"})

	pos, err := f.pipe.Pull(context.Background())
	if err != nil {
		t.Fatalf("Pull: %v", err)
	}
	if pos.LastModified != f.pushedAt.Unix() {
		t.Fatalf("LastModified = %d, want %d", pos.LastModified, f.pushedAt.Unix())
	}
	if _, ok := pos.RefPositions["main"]; !ok {
		t.Fatalf("main missing from RefPositions: %v", pos.RefPositions)
	}

	data, err := os.ReadFile(f.desc.PushTimePath())
	if err != nil {
		t.Fatalf("read sidecar: %v", err)
	}
	if got := strings.TrimSpace(string(data)); got != strconv.FormatInt(f.pushedAt.Unix(), 10) {
		t.Fatalf("sidecar = %q", got)
	}
}

func TestScanFeedsChangedScannableFiles(t *testing.T) {
	f := newFixture(t, map[string]string{
		"a.yaml": "a: 1",
		"b.json": `{"b": 2}`,
		"c.txt":  "not config",
	})
	ctx := context.Background()

	if _, err := f.pipe.Pull(ctx); err != nil {
		t.Fatalf("Pull: %v", err)
	}
	pos, err := f.pipe.Scan(ctx, false)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if pos.LastModified != f.pushedAt.Unix() {
		t.Fatalf("LastModified = %d", pos.LastModified)
	}

	if got := f.sink.paths(); !slices.Equal(got, []string{"a.yaml", "b.json"}) {
		t.Fatalf("scanned paths = %v", got)
	}
	// Files arrive decoded, not as raw bytes.
	if got, want := f.sink.docs["a.yaml"], (map[string]any{"a": 1}); !reflect.DeepEqual(got, want) {
		t.Fatalf("a.yaml decoded as %#v, want %#v", got, want)
	}
	if got, want := f.sink.docs["b.json"], (map[string]any{"b": float64(2)}); !reflect.DeepEqual(got, want) {
		t.Fatalf("b.json decoded as %#v, want %#v", got, want)
	}
	if len(f.sink.inits) != 1 {
		t.Fatalf("scanner initialized %d times, want 1", len(f.sink.inits))
	}
	opts := f.sink.inits[0]
	if opts.Namespace != "prod-ns" || !opts.Prod || opts.WorkspaceNamespace != "workspace-ns" {
		t.Fatalf("scanner options = %+v", opts)
	}
	if f.sink.finishes != 1 {
		t.Fatalf("Finish called %d times, want 1", f.sink.finishes)
	}

	// The watermark now sits at head; nothing new to feed.
	f.sink.reset()
	if _, err := f.pipe.Scan(ctx, false); err != nil {
		t.Fatalf("second Scan: %v", err)
	}
	if got := f.sink.paths(); len(got) != 0 {
		t.Fatalf("rescan fed %v, want nothing", got)
	}
}

func TestScanFailsOnUndecodableConfig(t *testing.T) {
	f := newFixture(t, map[string]string{"bad.yaml": "a: [unclosed"})
	ctx := context.Background()

	if _, err := f.pipe.Pull(ctx); err != nil {
		t.Fatalf("Pull: %v", err)
	}
	if _, err := f.pipe.Scan(ctx, false); err == nil {
		t.Fatal("expected scan failure for an undecodable config file")
	}
}

func TestScanPicksUpNewCommitsAfterPull(t *testing.T) {
	f := newFixture(t, map[string]string{"a.yaml": "a: 1"})
	ctx := context.Background()

	if _, err := f.pipe.Pull(ctx); err != nil {
		t.Fatalf("Pull: %v", err)
	}
	if _, err := f.pipe.Scan(ctx, false); err != nil {
		t.Fatalf("Scan: %v", err)
	}

	commitUpstreamFile(t, f.upstream, "d.yaml", "d: 4", "add d.yaml")
	if _, err := f.pipe.Pull(ctx); err != nil {
		t.Fatalf("second Pull: %v", err)
	}

	f.sink.reset()
	if _, err := f.pipe.Scan(ctx, false); err != nil {
		t.Fatalf("second Scan: %v", err)
	}
	if got := f.sink.paths(); !slices.Equal(got, []string{"d.yaml"}) {
		t.Fatalf("scanned paths = %v, want [d.yaml]", got)
	}
}

func TestFullScanIgnoresWatermark(t *testing.T) {
	f := newFixture(t, map[string]string{"a.yaml": "a: 1", "b.yaml": "b: 2"})
	ctx := context.Background()

	if _, err := f.pipe.Pull(ctx); err != nil {
		t.Fatalf("Pull: %v", err)
	}
	if _, err := f.pipe.Scan(ctx, false); err != nil {
		t.Fatalf("Scan: %v", err)
	}

	f.sink.reset()
	if _, err := f.pipe.Scan(ctx, true); err != nil {
		t.Fatalf("full Scan: %v", err)
	}
	if got := f.sink.paths(); !slices.Equal(got, []string{"a.yaml", "b.yaml"}) {
		t.Fatalf("full scan fed %v", got)
	}
}

func TestScanPublishesEventAndRecordsHistory(t *testing.T) {
	f := newFixture(t, map[string]string{"a.yaml": "a: 1"})
	ctx := context.Background()

	if _, err := f.pipe.Pull(ctx); err != nil {
		t.Fatalf("Pull: %v", err)
	}
	if _, err := f.pipe.Scan(ctx, false); err != nil {
		t.Fatalf("Scan: %v", err)
	}

	if len(f.pub.events) != 1 {
		t.Fatalf("published %d events, want 1", len(f.pub.events))
	}
	event := f.pub.events[0]
	if event.Repository != "acme/widgets" || event.Branch != "main" || event.Outcome != "success" {
		t.Fatalf("event = %+v", event)
	}
	if event.FilesFed != 1 {
		t.Fatalf("event.FilesFed = %d", event.FilesFed)
	}
	if event.RunID == "" {
		t.Fatal("event missing run id")
	}

	last, err := f.store.LastRun(ctx, "acme/widgets", "main")
	if err != nil {
		t.Fatalf("LastRun: %v", err)
	}
	if last == nil || last.RunID != event.RunID || last.FilesFed != 1 {
		t.Fatalf("history run = %+v", last)
	}
}

func TestScanWithoutPullFails(t *testing.T) {
	f := newFixture(t, map[string]string{"a.yaml": "a: 1"})
	if _, err := f.pipe.Scan(context.Background(), false); err == nil {
		t.Fatal("scan before any pull succeeded")
	}
}

func TestScanSkipsBranchesNotMirrored(t *testing.T) {
	f := newFixture(t, map[string]string{"a.yaml": "a: 1"})
	ctx := context.Background()

	f.pipe.branches = []Branch{
		{Name: "main", Namespace: "prod-ns", Prod: true},
		{Name: "develop", Namespace: "workspace-ns"},
	}
	if _, err := f.pipe.Pull(ctx); err != nil {
		t.Fatalf("Pull: %v", err)
	}
	if _, err := f.pipe.Scan(ctx, false); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(f.pub.events) != 1 {
		t.Fatalf("published %d events, want 1 (develop skipped)", len(f.pub.events))
	}
}

func TestDeleteRemovesMirrorAndSidecar(t *testing.T) {
	f := newFixture(t, map[string]string{"a.yaml": "a: 1"})
	ctx := context.Background()

	if _, err := f.pipe.Pull(ctx); err != nil {
		t.Fatalf("Pull: %v", err)
	}
	if err := f.pipe.Delete(ctx); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	if _, err := os.Stat(f.desc.Dir); !os.IsNotExist(err) {
		t.Fatalf("mirror dir still present: %v", err)
	}
	if _, err := os.Stat(f.desc.PushTimePath()); !os.IsNotExist(err) {
		t.Fatalf("sidecar still present: %v", err)
	}

	// Deleting an absent mirror is fine.
	if err := f.pipe.Delete(ctx); err != nil {
		t.Fatalf("second Delete: %v", err)
	}
}
