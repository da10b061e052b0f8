package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"git.home.luguber.info/inful/repomirror/internal/logfields"
	"git.home.luguber.info/inful/repomirror/internal/mirror"
)

// Pull clones or updates the mirror from upstream and reports the resulting
// position.
//
// The upstream push time is recorded before the fetch: if a push lands
// between the two, the recorded time undersells what the mirror actually
// holds and the next cycle rescans, which is safe. The reverse ordering
// could claim a freshness the mirror does not have.
func (p *Pipeline) Pull(ctx context.Context) (*Position, error) {
	token, err := p.creds.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("obtain credentials: %w", err)
	}

	meta, err := p.forge.GetRepository(ctx, p.desc.Org, p.desc.Name)
	if err != nil {
		return nil, fmt.Errorf("repository metadata for %s: %w", p.desc.FullName(), err)
	}
	pushed := meta.PushedAt.Unix()
	if err := p.writePushTime(pushed); err != nil {
		return nil, fmt.Errorf("record upstream push time: %w", err)
	}

	syncer := mirror.NewSynchronizer(p.desc, p.forge).WithRecorder(p.rec)
	m, err := syncer.Update(ctx, token)
	if err != nil {
		return nil, err
	}

	refs, err := m.RefPositions()
	if err != nil {
		return nil, fmt.Errorf("ref positions after update: %w", err)
	}

	slog.Info("pull complete",
		logfields.Repository(p.desc.FullName()),
		logfields.Path(p.desc.Dir),
		slog.Int("branches", len(refs)))
	return &Position{RefPositions: refs, LastModified: pushed}, nil
}
