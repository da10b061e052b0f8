package pipeline

import (
	"context"
	"log/slog"
	"os"

	"git.home.luguber.info/inful/repomirror/internal/logfields"
)

// Delete removes the local mirror and its push-time sidecar. Absence is not
// an error. The lock file itself stays; another process may be waiting on
// it.
func (p *Pipeline) Delete(ctx context.Context) error {
	return p.desc.WithLock(ctx, func() error {
		if err := os.RemoveAll(p.desc.Dir); err != nil {
			return err
		}
		if err := os.Remove(p.desc.PushTimePath()); err != nil && !os.IsNotExist(err) {
			return err
		}
		slog.Info("mirror deleted",
			logfields.Repository(p.desc.FullName()),
			logfields.Path(p.desc.Dir))
		return nil
	})
}
