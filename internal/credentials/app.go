package credentials

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"net/http"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
)

const defaultAPIURL = "https://api.github.com"

// AppProvider authenticates as a GitHub App and mints installation access
// tokens scoped to the installation that owns one repository.
type AppProvider struct {
	appID      string
	privateKey *rsa.PrivateKey
	apiURL     string
	org        string
	repo       string
	httpClient *http.Client
}

// AppOption customizes an AppProvider.
type AppOption func(*AppProvider)

// WithAPIURL points the provider at a GitHub Enterprise API endpoint.
func WithAPIURL(u string) AppOption {
	return func(p *AppProvider) { p.apiURL = u }
}

// WithHTTPClient overrides the HTTP client, mainly for tests.
func WithHTTPClient(c *http.Client) AppOption {
	return func(p *AppProvider) { p.httpClient = c }
}

// NewAppProvider parses the app's RSA private key and prepares a provider for
// the installation covering org/repo.
func NewAppProvider(appID string, privatePEM []byte, org, repo string, opts ...AppOption) (*AppProvider, error) {
	block, _ := pem.Decode(privatePEM)
	if block == nil || block.Type != "RSA PRIVATE KEY" {
		return nil, fmt.Errorf("failed to decode PEM block containing private key")
	}
	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse app private key: %w", err)
	}

	p := &AppProvider{
		appID:      appID,
		privateKey: key,
		apiURL:     defaultAPIURL,
		org:        org,
		repo:       repo,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Token mints a fresh installation access token: sign an app JWT, resolve the
// installation for the repository, then exchange for an access token.
func (p *AppProvider) Token(ctx context.Context) (Token, error) {
	appJWT, err := p.signAppJWT()
	if err != nil {
		return Token{}, err
	}

	installationID, err := p.repoInstallation(ctx, appJWT)
	if err != nil {
		return Token{}, err
	}

	return p.installationToken(ctx, appJWT, installationID)
}

func (p *AppProvider) signAppJWT() (string, error) {
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.RS256, Key: p.privateKey}, nil)
	if err != nil {
		return "", err
	}

	cl := jwt.Claims{
		// GitHub App's ID or client ID
		Issuer: p.appID,
		// issued at time, 60 seconds in the past to allow for clock drift
		IssuedAt: jwt.NewNumericDate(time.Now().Add(-60 * time.Second)),
		// JWT expiration time (10 minute maximum)
		Expiry: jwt.NewNumericDate(time.Now().Add(10 * time.Minute)),
	}

	return jwt.Signed(signer).Claims(cl).Serialize()
}

// repoInstallation finds the app installation responsible for the repository.
func (p *AppProvider) repoInstallation(ctx context.Context, appJWT string) (int64, error) {
	url := fmt.Sprintf("%s/repos/%s/%s/installation", p.apiURL, p.org, p.repo)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	p.setHeaders(req, appJWT)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return 0, fmt.Errorf("repo installation lookup status %d, body: %q", resp.StatusCode, body)
	}

	var installation struct {
		ID int64 `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&installation); err != nil {
		return 0, err
	}
	return installation.ID, nil
}

func (p *AppProvider) installationToken(ctx context.Context, appJWT string, installationID int64) (Token, error) {
	url := fmt.Sprintf("%s/app/installations/%d/access_tokens", p.apiURL, installationID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return Token{}, err
	}
	p.setHeaders(req, appJWT)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return Token{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		return Token{}, fmt.Errorf("app token response status %d, body: %q", resp.StatusCode, body)
	}

	var tokenResponse struct {
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expires_at"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokenResponse); err != nil {
		return Token{}, err
	}
	return Token{Value: tokenResponse.Token, ExpiresAt: tokenResponse.ExpiresAt}, nil
}

func (p *AppProvider) setHeaders(req *http.Request, appJWT string) {
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Authorization", "Bearer "+appJWT)
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
}
