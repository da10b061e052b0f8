package daemon

import (
	"os"
	"path/filepath"
	"testing"

	"git.home.luguber.info/inful/repomirror/internal/config"
)

func configRepo(url string) config.Repository {
	return config.Repository{URL: url}
}

func writeDaemonConfig(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func TestNewLoadsConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeDaemonConfig(t, path, `
parent_dir: /var/lib/repomirror
repositories:
  - url: https://github.com/acme/widgets
`)

	d, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := len(d.config().Repositories); got != 1 {
		t.Fatalf("repositories = %d, want 1", got)
	}
	if d.store != nil {
		t.Fatal("history store created although disabled")
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeDaemonConfig(t, path, `repositories: []`)

	if _, err := New(path); err == nil {
		t.Fatal("config without parent_dir accepted")
	}
}

func TestReloadSwapsConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeDaemonConfig(t, path, `
parent_dir: /var/lib/repomirror
repositories:
  - url: https://github.com/acme/widgets
`)
	d, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	writeDaemonConfig(t, path, `
parent_dir: /var/lib/repomirror
repositories:
  - url: https://github.com/acme/widgets
  - url: https://github.com/acme/gears
`)
	d.reload()
	if got := len(d.config().Repositories); got != 2 {
		t.Fatalf("repositories after reload = %d, want 2", got)
	}

	// A broken file keeps the previous configuration.
	writeDaemonConfig(t, path, `parent_dir: [`)
	d.reload()
	if got := len(d.config().Repositories); got != 2 {
		t.Fatalf("repositories after failed reload = %d, want 2", got)
	}
}

func TestBuildPipelineRejectsMalformedURL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeDaemonConfig(t, path, `
parent_dir: /var/lib/repomirror
`)
	d, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	cfg := d.config()
	if _, err := d.buildPipeline(cfg, configRepo("https://github.com/acme")); err == nil {
		t.Fatal("malformed repository URL accepted")
	}
	if _, err := d.buildPipeline(cfg, configRepo("https://github.com/acme/widgets")); err != nil {
		t.Fatalf("buildPipeline: %v", err)
	}
}
