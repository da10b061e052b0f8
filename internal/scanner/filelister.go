package scanner

import (
	"context"
	"log/slog"

	"git.home.luguber.info/inful/repomirror/internal/logfields"
)

// FileListerName is the registration name of the built-in listing scanner.
const FileListerName = "filelister"

func init() {
	// The default registration can only collide with itself.
	_ = Register(FileListerName, func() Scanner { return &FileLister{} })
}

type visitedKey struct{}

// WithVisited arms a context to collect the paths a FileLister sees. The
// returned context must be the one passed to ScanFile.
func WithVisited(ctx context.Context) (context.Context, *[]string) {
	visited := &[]string{}
	return context.WithValue(ctx, visitedKey{}, visited), visited
}

// VisitedFrom returns the collector armed by WithVisited, or nil.
func VisitedFrom(ctx context.Context) *[]string {
	visited, _ := ctx.Value(visitedKey{}).(*[]string)
	return visited
}

// FileLister is a diagnostic scanner that logs each file it is offered and,
// when the context was armed with WithVisited, records the paths there. Run
// state lives in the context rather than the package so that concurrent runs
// cannot observe each other.
type FileLister struct {
	opts Options
}

func (l *FileLister) Init(opts Options) error {
	l.opts = opts
	return nil
}

func (l *FileLister) ScanFile(ctx context.Context, path string, _ any) error {
	slog.Debug("filelister visited",
		logfields.Scanner(FileListerName),
		logfields.URL(l.opts.RepoURL),
		logfields.Path(path))
	if visited := VisitedFrom(ctx); visited != nil {
		*visited = append(*visited, path)
	}
	return nil
}

func (l *FileLister) Finish(context.Context) error { return nil }
