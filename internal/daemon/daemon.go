// Package daemon runs the mirror pipeline continuously: a periodic
// pull-and-scan over every configured repository, a config file watcher for
// live reloads, and an optional Prometheus endpoint.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	prom "github.com/prometheus/client_golang/prometheus"

	"git.home.luguber.info/inful/repomirror/internal/config"
	"git.home.luguber.info/inful/repomirror/internal/credentials"
	"git.home.luguber.info/inful/repomirror/internal/events"
	"git.home.luguber.info/inful/repomirror/internal/forge"
	"git.home.luguber.info/inful/repomirror/internal/history"
	"git.home.luguber.info/inful/repomirror/internal/logfields"
	"git.home.luguber.info/inful/repomirror/internal/metrics"
	"git.home.luguber.info/inful/repomirror/internal/mirror"
	"git.home.luguber.info/inful/repomirror/internal/pipeline"
)

// Daemon owns the long-running mirror service.
type Daemon struct {
	configPath string

	mu  sync.RWMutex
	cfg *config.Config

	rec       metrics.Recorder
	registry  *prom.Registry
	publisher events.Publisher
	store     *history.Store
}

// New loads the configuration and prepares the daemon's shared
// collaborators.
func New(configPath string) (*Daemon, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	d := &Daemon{
		configPath: configPath,
		cfg:        cfg,
		rec:        metrics.NoopRecorder{},
		publisher:  events.Noop{},
	}

	if cfg.Metrics.Enabled {
		d.registry = prom.NewRegistry()
		d.rec = metrics.NewPrometheusRecorder(d.registry)
	}
	if cfg.Events.Enabled {
		pub, err := events.NewNATSPublisher(cfg.Events.NATSURL, cfg.Events.Subject)
		if err != nil {
			return nil, err
		}
		d.publisher = pub
	}
	if cfg.History.Enabled {
		store, err := history.NewStore(cfg.History.Path)
		if err != nil {
			return nil, err
		}
		d.store = store
	}
	return d, nil
}

// config returns the current configuration snapshot.
func (d *Daemon) config() *config.Config {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cfg
}

// reload re-reads the configuration file. Collaborators built at startup
// (events, history, metrics) keep their settings; repository and branch
// lists take effect on the next cycle.
func (d *Daemon) reload() {
	cfg, err := config.Load(d.configPath)
	if err != nil {
		slog.Error("config reload failed, keeping previous config", logfields.Error(err))
		return
	}
	d.mu.Lock()
	d.cfg = cfg
	d.mu.Unlock()
	slog.Info("config reloaded", logfields.Path(d.configPath), slog.Int("repositories", len(cfg.Repositories)))
}

// Run executes cycles until ctx is done.
func (d *Daemon) Run(ctx context.Context) error {
	cfg := d.config()

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("create scheduler: %w", err)
	}
	_, err = scheduler.NewJob(
		gocron.DurationJob(cfg.Daemon.Interval.Std()),
		gocron.NewTask(func() { d.cycle(ctx) }),
		gocron.WithName("pull-and-scan"),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		return fmt.Errorf("schedule pull-and-scan: %w", err)
	}

	watcher, err := newConfigWatcher(d.configPath, d.reload)
	if err != nil {
		return err
	}
	if err := watcher.Start(ctx); err != nil {
		return err
	}
	defer watcher.Stop()

	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		metricsSrv = d.serveMetrics(cfg.Metrics.Addr)
	}

	slog.Info("daemon started",
		slog.String("interval", cfg.Daemon.Interval.Std().String()),
		slog.Int("repositories", len(cfg.Repositories)))
	scheduler.Start()

	<-ctx.Done()

	slog.Info("daemon shutting down")
	if err := scheduler.Shutdown(); err != nil {
		slog.Error("scheduler shutdown", logfields.Error(err))
	}
	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			slog.Error("metrics server shutdown", logfields.Error(err))
		}
	}
	if err := d.publisher.Close(); err != nil {
		slog.Error("close events publisher", logfields.Error(err))
	}
	if d.store != nil {
		if err := d.store.Close(); err != nil {
			slog.Error("close history store", logfields.Error(err))
		}
	}
	return nil
}

// serveMetrics exposes the Prometheus registry over HTTP.
func (d *Daemon) serveMetrics(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.HTTPHandler(d.registry))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		slog.Info("metrics endpoint listening", slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server", logfields.Error(err))
		}
	}()
	return srv
}

// cycle pulls and scans every configured repository. Per-repository failures
// are logged and do not stop the cycle; the next interval retries.
func (d *Daemon) cycle(ctx context.Context) {
	cfg := d.config()
	for _, repo := range cfg.Repositories {
		if ctx.Err() != nil {
			return
		}
		if err := d.runRepository(ctx, cfg, repo); err != nil {
			slog.Error("repository cycle failed", logfields.URL(repo.URL), logfields.Error(err))
		}
	}
}

// runRepository does one pull-and-scan for a single repository. Transport
// failures during pull are retried with backoff; anything else waits for the
// next interval.
func (d *Daemon) runRepository(ctx context.Context, cfg *config.Config, repo config.Repository) error {
	pipe, err := d.buildPipeline(cfg, repo)
	if err != nil {
		return err
	}
	policy := cfg.Daemon.Policy()
	for attempt := 0; ; attempt++ {
		_, err = pipe.Pull(ctx)
		var terr *mirror.TransportError
		if err == nil || !errors.As(err, &terr) || attempt >= policy.MaxRetries {
			break
		}
		delay := policy.Delay(attempt + 1)
		slog.Warn("pull failed, retrying",
			logfields.URL(repo.URL),
			logfields.Error(err),
			slog.String("delay", delay.String()))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	if err != nil {
		return fmt.Errorf("pull: %w", err)
	}
	if _, err := pipe.Scan(ctx, false); err != nil {
		return fmt.Errorf("scan: %w", err)
	}
	return nil
}

// buildPipeline assembles the pipeline for one configured repository.
func (d *Daemon) buildPipeline(cfg *config.Config, repo config.Repository) (*pipeline.Pipeline, error) {
	branchCfgs := cfg.BranchesFor(repo)
	names := make([]string, 0, len(branchCfgs))
	branches := make([]pipeline.Branch, 0, len(branchCfgs))
	for _, b := range branchCfgs {
		names = append(names, b.Name)
		branches = append(branches, pipeline.Branch{Name: b.Name, Namespace: b.Namespace, Prod: b.Prod})
	}

	desc, err := mirror.ParseDescriptor(repo.URL, cfg.ParentDir, mirror.WithBranches(names...))
	if err != nil {
		return nil, err
	}

	appID, key, err := credentials.LoadAppCredentials(cfg.GitHub.AppIDFile, cfg.GitHub.PrivateKeyFile)
	if err != nil {
		return nil, err
	}
	creds, err := credentials.NewProvider(appID, key, desc.Org, desc.Name,
		credentials.WithAPIURL(cfg.GitHub.APIURL))
	if err != nil {
		return nil, err
	}
	forgeClient := forge.NewGitHubClient(creds, forge.WithAPIURL(cfg.GitHub.APIURL))

	opts := []pipeline.Option{
		pipeline.WithCredentials(creds),
		pipeline.WithScanners(cfg.Scan.Scanners...),
		pipeline.WithBranches(branches...),
		pipeline.WithWorkspaceNamespace(cfg.Scan.WorkspaceNamespace),
		pipeline.WithPublisher(d.publisher),
		pipeline.WithRecorder(d.rec),
	}
	if d.store != nil {
		opts = append(opts, pipeline.WithHistory(d.store))
	}
	return pipeline.New(desc, forgeClient, opts...), nil
}
