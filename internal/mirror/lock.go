package mirror

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/danjacques/gofslock/fslock"

	"git.home.luguber.info/inful/repomirror/internal/logfields"
)

// lockHeldDelay is how long to sleep between acquisition attempts when the
// lock is held by another process.
const lockHeldDelay = 100 * time.Millisecond

// lockBlocker sleeps between acquisition attempts, aborting once the context
// is done. The caller imposes bounded waiting through the context deadline;
// the lock itself has no built-in timeout.
func lockBlocker(ctx context.Context) fslock.Blocker {
	return func() error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(lockHeldDelay):
			return nil
		}
	}
}

// WithLock runs fn while holding the exclusive cross-process lock for this
// mirror identity. Acquisition blocks until the lock is obtained or ctx is
// done. The lock is released on every exit path, and by the operating system
// if the holding process dies. It serializes only processes sharing the same
// ParentDir and identity.
func (d *Descriptor) WithLock(ctx context.Context, fn func() error) error {
	if err := os.MkdirAll(d.ParentDir, 0o750); err != nil {
		return err
	}
	slog.Debug("acquiring mirror lock", logfields.Repository(d.FullName()), logfields.Path(d.LockPath()))
	return fslock.WithBlocking(d.LockPath(), lockBlocker(ctx), func() error {
		slog.Debug("mirror lock held", logfields.Repository(d.FullName()))
		return fn()
	})
}
