// Package scanner defines the boundary between the mirror pipeline and the
// config scanners that consume changed files. The pipeline decodes every
// changed file on a tracked branch and feeds each scanner the resulting
// document; what a scanner does with it is its own business.
package scanner

import "context"

// Options carries the per-run settings a scanner receives at Init time.
type Options struct {
	// RepoURL is the upstream URL of the repository being scanned.
	RepoURL string
	// Namespace is the target namespace for configs found on this branch.
	Namespace string
	// WorkspaceNamespace, when set, redirects workspace-scoped configs.
	WorkspaceNamespace string
	// Prod marks the branch as a production branch.
	Prod bool
}

// Scanner consumes the changed files of one branch scan. Init is called once
// before any files, ScanFile once per changed file with its decoded document,
// and Finish once after the last file. Scanners keep per-run state in
// themselves or in the context, never in package-level variables.
type Scanner interface {
	Init(opts Options) error
	ScanFile(ctx context.Context, path string, doc any) error
	Finish(ctx context.Context) error
}

// Factory constructs a fresh scanner instance for one run.
type Factory func() Scanner
