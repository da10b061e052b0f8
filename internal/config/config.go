// Package config loads the repomirror configuration: which repositories to
// mirror, where mirrors live, how to authenticate, and which scanners run on
// which branches.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"git.home.luguber.info/inful/repomirror/internal/retry"
)

// Config is the top-level configuration.
type Config struct {
	// ParentDir is the root under which mirrors are laid out as
	// host/org/name.
	ParentDir string `yaml:"parent_dir"`

	GitHub       GitHubConfig  `yaml:"github"`
	Scan         ScanConfig    `yaml:"scan"`
	Repositories []Repository  `yaml:"repositories"`
	Events       EventsConfig  `yaml:"events"`
	History      HistoryConfig `yaml:"history"`
	Metrics      MetricsConfig `yaml:"metrics"`
	Daemon       DaemonConfig  `yaml:"daemon"`
}

// GitHubConfig locates the API and the GitHub App credentials.
type GitHubConfig struct {
	APIURL string `yaml:"api_url,omitempty"`
	// AppIDFile holds the numeric app id (not the client id).
	AppIDFile      string `yaml:"app_id_file,omitempty"`
	PrivateKeyFile string `yaml:"private_key_file,omitempty"`
}

// ScanConfig names the scanners and the branches they run on.
type ScanConfig struct {
	Scanners []string `yaml:"scanners,omitempty"`
	// ProdNamespace is the target namespace for resources from production
	// branches, WorkspaceNamespace for the rest.
	ProdNamespace      string         `yaml:"prod_namespace,omitempty"`
	WorkspaceNamespace string         `yaml:"workspace_namespace,omitempty"`
	Branches           []BranchConfig `yaml:"branches,omitempty"`
}

// BranchConfig is one branch to mirror and scan.
type BranchConfig struct {
	Name      string `yaml:"name"`
	Namespace string `yaml:"namespace,omitempty"`
	Prod      bool   `yaml:"prod,omitempty"`
}

// Repository is one repository to mirror.
type Repository struct {
	URL string `yaml:"url"`
	// Branches overrides the global branch list for this repository.
	Branches []BranchConfig `yaml:"branches,omitempty"`
}

// EventsConfig controls scan event publishing.
type EventsConfig struct {
	Enabled bool   `yaml:"enabled"`
	NATSURL string `yaml:"nats_url,omitempty"`
	Subject string `yaml:"subject,omitempty"`
}

// HistoryConfig controls the local scan run database.
type HistoryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path,omitempty"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr,omitempty"`
}

// DaemonConfig controls periodic operation.
type DaemonConfig struct {
	Interval Duration    `yaml:"interval,omitempty"`
	Retry    RetryConfig `yaml:"retry,omitempty"`
}

// RetryConfig shapes the backoff applied to transient pull failures. Absent
// fields keep the default policy.
type RetryConfig struct {
	Backoff string   `yaml:"backoff,omitempty"` // fixed, linear or exponential
	Initial Duration `yaml:"initial,omitempty"`
	Max     Duration `yaml:"max,omitempty"`
	// MaxRetries counts retries after the first attempt; 0 disables retrying.
	MaxRetries *int `yaml:"max_retries,omitempty"`
}

// Policy converts the retry settings into a policy, with defaults for absent
// fields.
func (d DaemonConfig) Policy() retry.Policy {
	maxRetries := -1
	if d.Retry.MaxRetries != nil {
		maxRetries = *d.Retry.MaxRetries
	}
	return retry.NewPolicy(retry.BackoffMode(d.Retry.Backoff),
		d.Retry.Initial.Std(), d.Retry.Max.Std(), maxRetries)
}

// Duration is a time.Duration that unmarshals from YAML strings like "5m".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Load reads a config file, expanding ${VAR} references from the
// environment. A .env file next to the working directory is loaded first,
// without overriding the existing process environment.
func Load(configPath string) (*Config, error) {
	// Missing .env is the normal case.
	_ = godotenv.Load()

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))
	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.GitHub.APIURL == "" {
		c.GitHub.APIURL = "https://api.github.com"
	}
	if c.GitHub.AppIDFile == "" {
		c.GitHub.AppIDFile = "/etc/repomirror/github-creds/GITHUB_APP_ID"
	}
	if c.GitHub.PrivateKeyFile == "" {
		c.GitHub.PrivateKeyFile = "/etc/repomirror/github-creds/GITHUB_APP_PRIVATE_KEY"
	}
	if len(c.Scan.Scanners) == 0 {
		c.Scan.Scanners = []string{"filelister"}
	}
	if c.Scan.ProdNamespace == "" {
		c.Scan.ProdNamespace = "default"
	}
	if c.Scan.WorkspaceNamespace == "" {
		c.Scan.WorkspaceNamespace = "default"
	}
	if len(c.Scan.Branches) == 0 {
		c.Scan.Branches = []BranchConfig{
			{Name: "main", Namespace: c.Scan.ProdNamespace, Prod: true},
			{Name: "develop", Namespace: c.Scan.WorkspaceNamespace},
		}
	}
	for i := range c.Scan.Branches {
		if c.Scan.Branches[i].Namespace == "" {
			c.Scan.Branches[i].Namespace = c.Scan.WorkspaceNamespace
		}
	}
	if c.Events.Subject == "" {
		c.Events.Subject = "repomirror.scans"
	}
	if c.History.Path == "" {
		c.History.Path = "repomirror-history.db"
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9090"
	}
	if c.Daemon.Interval <= 0 {
		c.Daemon.Interval = Duration(5 * time.Minute)
	}
}

// Validate rejects configurations that cannot work.
func (c *Config) Validate() error {
	if c.ParentDir == "" {
		return fmt.Errorf("parent_dir is required")
	}
	for i, repo := range c.Repositories {
		if repo.URL == "" {
			return fmt.Errorf("repositories[%d]: url is required", i)
		}
	}
	for i, branch := range c.Scan.Branches {
		if branch.Name == "" {
			return fmt.Errorf("scan.branches[%d]: name is required", i)
		}
	}
	if c.Events.Enabled && c.Events.NATSURL == "" {
		return fmt.Errorf("events.nats_url is required when events are enabled")
	}
	if c.Daemon.Interval.Std() < time.Second {
		return fmt.Errorf("daemon.interval must be at least 1s, got %s", c.Daemon.Interval.Std())
	}
	switch retry.BackoffMode(c.Daemon.Retry.Backoff) {
	case "", retry.BackoffFixed, retry.BackoffLinear, retry.BackoffExponential:
	default:
		return fmt.Errorf("daemon.retry.backoff must be fixed, linear or exponential, got %q", c.Daemon.Retry.Backoff)
	}
	if c.Daemon.Retry.MaxRetries != nil && *c.Daemon.Retry.MaxRetries < 0 {
		return fmt.Errorf("daemon.retry.max_retries cannot be negative")
	}
	if err := c.Daemon.Policy().Validate(); err != nil {
		return fmt.Errorf("daemon.retry: %w", err)
	}
	return nil
}

// BranchesFor returns the branch configuration for one repository, falling
// back to the global scan branches.
func (c *Config) BranchesFor(repo Repository) []BranchConfig {
	if len(repo.Branches) > 0 {
		out := make([]BranchConfig, len(repo.Branches))
		copy(out, repo.Branches)
		for i := range out {
			if out[i].Namespace == "" {
				out[i].Namespace = c.Scan.WorkspaceNamespace
			}
		}
		return out
	}
	return c.Scan.Branches
}
