// Package credentials supplies the opaque tokens used to talk to the source
// host. One credential value is shared by the two logically distinct
// capabilities that need it: the branch-discovery API client and the git
// transport.
package credentials

import (
	"context"
	"time"

	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
)

// Token is an opaque bearer token. The zero value means anonymous access.
// A token is treated as valid for the duration of a single update call;
// refresh is the provider's concern on the next call.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// IsZero reports whether this is the anonymous token.
func (t Token) IsZero() bool { return t.Value == "" }

// AuthMethod adapts the token for the git smart-HTTP transport: the token is
// the password half of basic credentials with a placeholder username. Returns
// nil for the anonymous token.
func (t Token) AuthMethod() transport.AuthMethod {
	if t.IsZero() {
		return nil
	}
	return &githttp.BasicAuth{
		Username: "token", // placeholder, the token itself carries identity
		Password: t.Value,
	}
}

// Provider mints tokens on demand.
type Provider interface {
	Token(ctx context.Context) (Token, error)
}

// Anonymous is the Provider for public repositories: it always returns the
// zero token.
type Anonymous struct{}

// Token implements Provider.
func (Anonymous) Token(context.Context) (Token, error) { return Token{}, nil }
