package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/repomirror/internal/events"
	"git.home.luguber.info/inful/repomirror/internal/history"
	"git.home.luguber.info/inful/repomirror/internal/logfields"
	"git.home.luguber.info/inful/repomirror/internal/mirror"
	"git.home.luguber.info/inful/repomirror/internal/scanner"
	"git.home.luguber.info/inful/repomirror/internal/util/sets"
)

// Scan feeds the config files changed since the last scan to the configured
// scanners, one branch at a time, then advances each branch's watermark tag.
// fullScan ignores existing watermarks and feeds every scannable file.
//
// The whole scan runs under the mirror lock so a concurrent pull cannot move
// branches between the change-set computation and the watermark advance.
func (p *Pipeline) Scan(ctx context.Context, fullScan bool) (*Position, error) {
	pushed, err := p.readPushTime()
	if err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	var refs map[string]mirror.RefPosition

	err = p.desc.WithLock(ctx, func() error {
		m := mirror.Probe(p.desc)
		if m.State() != mirror.StateOpen {
			return fmt.Errorf("mirror at %s: %w", p.desc.Dir, mirror.ErrNotOpen)
		}

		refs, err = m.RefPositions()
		if err != nil {
			return fmt.Errorf("ref positions: %w", err)
		}

		for _, branch := range p.branches {
			if !m.HasRef("refs/heads/" + branch.Name) {
				slog.Debug("branch not mirrored, skipping",
					logfields.RunID(runID),
					logfields.Repository(p.desc.FullName()),
					logfields.Branch(branch.Name))
				continue
			}
			if err := p.scanBranch(ctx, m, runID, branch, refs[branch.Name], fullScan); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &Position{RefPositions: refs, LastModified: pushed}, nil
}

// scanBranch scans one branch and advances its watermark.
func (p *Pipeline) scanBranch(ctx context.Context, m *mirror.Mirror, runID string, branch Branch, pos mirror.RefPosition, fullScan bool) error {
	started := time.Now()
	filesFed, err := p.runScanners(ctx, m, runID, branch, fullScan)
	duration := time.Since(started)

	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	p.rec.ObserveScanDuration(p.desc.FullName(), branch.Name, duration)
	p.rec.AddFilesScanned(p.desc.FullName(), filesFed)
	p.rec.IncScanOutcome(outcome)
	p.record(ctx, &history.Run{
		RunID:      runID,
		Repository: p.desc.FullName(),
		Branch:     branch.Name,
		Commit:     pos.Hash,
		FilesFed:   filesFed,
		Duration:   duration,
		Outcome:    outcome,
		StartedAt:  started,
	})
	p.publish(ctx, &events.ScanEvent{
		RunID:      runID,
		Repository: p.desc.FullName(),
		URL:        p.desc.URL,
		Branch:     branch.Name,
		Commit:     pos.Hash,
		FilesFed:   filesFed,
		FullScan:   fullScan,
		Outcome:    outcome,
	})
	if err != nil {
		return err
	}

	slog.Info("branch scanned",
		logfields.RunID(runID),
		logfields.Repository(p.desc.FullName()),
		logfields.Branch(branch.Name),
		logfields.Commit(pos.Hash),
		slog.Int("files", filesFed),
		logfields.DurationMS(duration))
	return nil
}

// runScanners computes the change set for one branch, feeds it to fresh
// scanner instances, and advances the watermark tag on success.
func (p *Pipeline) runScanners(ctx context.Context, m *mirror.Mirror, runID string, branch Branch, fullScan bool) (int, error) {
	if err := m.CheckoutReset("refs/heads/" + branch.Name); err != nil {
		return 0, fmt.Errorf("checkout %s: %w", branch.Name, err)
	}

	tag := mirror.WatermarkTag(branch.Name)
	since := ""
	if !fullScan && m.HasRef("refs/tags/"+tag) {
		since = tag
	}
	files, err := m.ChangedFiles(since, "HEAD", scanner.Scannable)
	if err != nil {
		return 0, fmt.Errorf("changed files on %s: %w", branch.Name, err)
	}

	scanners, err := p.newScanners(branch)
	if err != nil {
		return 0, err
	}

	fed := 0
	for _, name := range sets.Sorted(files) {
		data, err := os.ReadFile(filepath.Join(p.desc.Dir, name))
		if err != nil {
			return fed, fmt.Errorf("read %s: %w", name, err)
		}
		var doc any
		if err := scanner.DecodeFile(name, data, &doc); err != nil {
			return fed, fmt.Errorf("scan %s: %w", name, err)
		}
		slog.Debug("scanning file",
			logfields.RunID(runID),
			logfields.Branch(branch.Name),
			logfields.Path(name))
		for _, s := range scanners {
			if err := s.ScanFile(ctx, name, doc); err != nil {
				return fed, fmt.Errorf("scan %s: %w", name, err)
			}
		}
		fed++
	}
	for _, s := range scanners {
		if err := s.Finish(ctx); err != nil {
			return fed, fmt.Errorf("finish scan of %s: %w", branch.Name, err)
		}
	}

	if err := m.CreateTag(tag, "Config scanner ran to here"); err != nil {
		return fed, fmt.Errorf("advance watermark for %s: %w", branch.Name, err)
	}
	return fed, nil
}

// newScanners instantiates and initializes the configured scanners for one
// branch.
func (p *Pipeline) newScanners(branch Branch) ([]scanner.Scanner, error) {
	opts := scanner.Options{
		RepoURL:            p.desc.URL,
		Namespace:          branch.Namespace,
		WorkspaceNamespace: p.workspaceNamespace,
		Prod:               branch.Prod,
	}
	out := make([]scanner.Scanner, 0, len(p.scanners))
	for _, name := range p.scanners {
		s, err := p.registry.New(name)
		if err != nil {
			return nil, err
		}
		if err := s.Init(opts); err != nil {
			return nil, fmt.Errorf("init scanner %s: %w", name, err)
		}
		out = append(out, s)
	}
	return out, nil
}

// record appends a history row. History is advisory; failures are logged,
// never fatal to the scan.
func (p *Pipeline) record(ctx context.Context, run *history.Run) {
	if p.history == nil {
		return
	}
	if err := p.history.RecordRun(ctx, run); err != nil {
		slog.Warn("record scan run", logfields.RunID(run.RunID), logfields.Error(err))
	}
}

// publish emits a scan event, logging failures rather than failing the scan.
func (p *Pipeline) publish(ctx context.Context, event *events.ScanEvent) {
	if err := p.publisher.Publish(ctx, event); err != nil {
		slog.Warn("publish scan event", logfields.RunID(event.RunID), logfields.Error(err))
	}
}
