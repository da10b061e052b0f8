package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/alecthomas/kong"
	"gopkg.in/yaml.v3"

	"git.home.luguber.info/inful/repomirror/internal/credentials"
	"git.home.luguber.info/inful/repomirror/internal/daemon"
	"git.home.luguber.info/inful/repomirror/internal/forge"
	"git.home.luguber.info/inful/repomirror/internal/mirror"
	"git.home.luguber.info/inful/repomirror/internal/pipeline"
	"git.home.luguber.info/inful/repomirror/internal/version"
)

// repoArgs are the arguments shared by the one-shot subcommands.
type repoArgs struct {
	RepoURL string `arg:"" help:"Repository URL (scheme://host/org/name)"`
	Dest    string `arg:"" optional:"" default:"." help:"Parent directory for the local mirror"`

	Branch            []string `help:"Branch to mirror. Repeatable." default:"main,develop"`
	APIURL            string   `help:"Forge API base URL" default:"https://api.github.com"`
	AppIDFrom         string   `help:"File containing the GitHub App ID (not the client id)" default:"/etc/repomirror/github-creds/GITHUB_APP_ID"`
	AppPrivateKeyFrom string   `help:"File containing the GitHub App private key" default:"/etc/repomirror/github-creds/GITHUB_APP_PRIVATE_KEY"`
}

var CLI struct {
	Verbose bool             `short:"v" help:"Enable verbose logging"`
	Version kong.VersionFlag `help:"Print version and exit"`

	Update struct {
		repoArgs
	} `cmd:"" help:"Clone or update the local mirror from upstream"`

	Scan struct {
		repoArgs
		EnableScanner      []string `help:"Scanner to run on changed files. Repeatable." default:"filelister"`
		ProdNamespace      string   `help:"Target namespace for production-branch configs" default:"default"`
		WorkspaceNamespace string   `help:"Target namespace for workspace-branch configs" default:"default"`
		FullScan           bool     `help:"Scan every file, not just those changed since the last scan"`
	} `cmd:"" help:"Scan mirrored branches for changed config files"`

	Delete struct {
		repoArgs
	} `cmd:"" help:"Delete the local mirror"`

	Daemon struct {
		Config string `short:"c" help:"Configuration file path" default:"config.yaml"`
	} `cmd:"" help:"Run continuous pull-and-scan over the configured repositories"`
}

func main() {
	ctx := kong.Parse(&CLI, kong.Vars{"version": version.Version})

	logLevel := slog.LevelInfo
	if CLI.Verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch cmd := strings.Fields(ctx.Command())[0]; cmd {
	case "update":
		err = runUpdate(runCtx, &CLI.Update.repoArgs)
	case "scan":
		err = runScan(runCtx)
	case "delete":
		err = runDelete(runCtx, &CLI.Delete.repoArgs)
	case "daemon":
		err = runDaemon(runCtx, CLI.Daemon.Config)
	default:
		err = fmt.Errorf("unknown command %q", cmd)
	}
	if err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

// buildPipeline assembles a pipeline from one-shot command arguments.
func buildPipeline(args *repoArgs, extra ...pipeline.Option) (*pipeline.Pipeline, error) {
	desc, err := mirror.ParseDescriptor(args.RepoURL, args.Dest, mirror.WithBranches(args.Branch...))
	if err != nil {
		return nil, err
	}

	appID, key, err := credentials.LoadAppCredentials(args.AppIDFrom, args.AppPrivateKeyFrom)
	if err != nil {
		return nil, err
	}
	creds, err := credentials.NewProvider(appID, key, desc.Org, desc.Name,
		credentials.WithAPIURL(args.APIURL))
	if err != nil {
		return nil, err
	}
	forgeClient := forge.NewGitHubClient(creds, forge.WithAPIURL(args.APIURL))

	opts := append([]pipeline.Option{pipeline.WithCredentials(creds)}, extra...)
	return pipeline.New(desc, forgeClient, opts...), nil
}

// statusPatch is the document printed on stdout for the orchestrating
// system: the patch to apply to the repository's status record.
type statusPatch struct {
	Status map[string]*pipeline.Position `yaml:"status"`
}

func printPatch(key string, pos *pipeline.Position) error {
	out, err := yaml.Marshal(statusPatch{Status: map[string]*pipeline.Position{key: pos}})
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func runUpdate(ctx context.Context, args *repoArgs) error {
	pipe, err := buildPipeline(args)
	if err != nil {
		return err
	}
	pos, err := pipe.Pull(ctx)
	if err != nil {
		return err
	}
	return printPatch("clonePosition", pos)
}

func runScan(ctx context.Context) error {
	args := &CLI.Scan.repoArgs
	branches := make([]pipeline.Branch, 0, len(args.Branch))
	for _, name := range args.Branch {
		b := pipeline.Branch{Name: name, Namespace: CLI.Scan.WorkspaceNamespace}
		if name == "main" {
			b.Namespace = CLI.Scan.ProdNamespace
			b.Prod = true
		}
		branches = append(branches, b)
	}

	pipe, err := buildPipeline(args,
		pipeline.WithScanners(CLI.Scan.EnableScanner...),
		pipeline.WithBranches(branches...),
		pipeline.WithWorkspaceNamespace(CLI.Scan.WorkspaceNamespace),
	)
	if err != nil {
		return err
	}
	pos, err := pipe.Scan(ctx, CLI.Scan.FullScan)
	if err != nil {
		return err
	}
	return printPatch("configScanPosition", pos)
}

func runDelete(ctx context.Context, args *repoArgs) error {
	pipe, err := buildPipeline(args)
	if err != nil {
		return err
	}
	if err := pipe.Delete(ctx); err != nil {
		return err
	}
	return printPatch("clonePosition", nil)
}

func runDaemon(ctx context.Context, configPath string) error {
	d, err := daemon.New(configPath)
	if err != nil {
		return err
	}
	return d.Run(ctx)
}
