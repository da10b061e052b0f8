// Package forge talks to the hosting service's API for repository metadata
// that the local mirror cannot answer: which branches exist upstream, and
// when the repository last saw a push.
package forge

import (
	"context"
	"time"
)

// Repository is the subset of hosting-service metadata the mirror pipeline
// consumes.
type Repository struct {
	FullName      string
	Description   string
	Private       bool
	Archived      bool
	CloneURL      string
	DefaultBranch string
	PushedAt      time.Time
}

// Client answers repository questions against the hosting service.
type Client interface {
	// ListBranchNames returns the names of all branches of org/repo.
	ListBranchNames(ctx context.Context, org, repo string) ([]string, error)
	// GetRepository returns repository metadata.
	GetRepository(ctx context.Context, org, repo string) (*Repository, error)
}
