package forge

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"time"

	"git.home.luguber.info/inful/repomirror/internal/credentials"
)

const defaultAPIURL = "https://api.github.com"

// listPageSize is the per_page value for paginated listings. 100 is the API
// maximum.
const listPageSize = 100

// GitHubClient implements Client against the GitHub REST API.
type GitHubClient struct {
	apiURL     string
	creds      credentials.Provider
	httpClient *http.Client
	userAgent  string
}

// GitHubOption customizes client construction.
type GitHubOption func(*GitHubClient)

// WithAPIURL points the client at an alternate API base, e.g. a GitHub
// Enterprise instance or a test server.
func WithAPIURL(u string) GitHubOption {
	return func(c *GitHubClient) { c.apiURL = u }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) GitHubOption {
	return func(c *GitHubClient) { c.httpClient = hc }
}

// NewGitHubClient builds a client that authenticates each request with a
// token from creds. An Anonymous provider yields unauthenticated requests,
// subject to the much lower rate limits.
func NewGitHubClient(creds credentials.Provider, opts ...GitHubOption) *GitHubClient {
	c := &GitHubClient{
		apiURL:     defaultAPIURL,
		creds:      creds,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		userAgent:  "repomirror/1.0",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// githubBranch is the wire shape of one branch listing entry.
type githubBranch struct {
	Name string `json:"name"`
}

// githubRepo is the wire shape of repository metadata.
type githubRepo struct {
	FullName      string    `json:"full_name"`
	Description   string    `json:"description"`
	Private       bool      `json:"private"`
	Archived      bool      `json:"archived"`
	CloneURL      string    `json:"clone_url"`
	DefaultBranch string    `json:"default_branch"`
	PushedAt      time.Time `json:"pushed_at"`
}

// ListBranchNames returns the names of every branch of org/repo, following
// pagination.
func (c *GitHubClient) ListBranchNames(ctx context.Context, org, repo string) ([]string, error) {
	var names []string
	for page := 1; ; page++ {
		endpoint := fmt.Sprintf("/repos/%s/%s/branches", org, repo)
		query := url.Values{
			"per_page": {fmt.Sprint(listPageSize)},
			"page":     {fmt.Sprint(page)},
		}
		req, err := c.newRequest(ctx, http.MethodGet, endpoint, query)
		if err != nil {
			return nil, err
		}

		var branches []githubBranch
		if err := c.doRequest(req, &branches); err != nil {
			return nil, fmt.Errorf("list branches of %s/%s: %w", org, repo, err)
		}
		for _, b := range branches {
			names = append(names, b.Name)
		}
		if len(branches) < listPageSize {
			return names, nil
		}
	}
}

// GetRepository returns metadata for org/repo.
func (c *GitHubClient) GetRepository(ctx context.Context, org, repo string) (*Repository, error) {
	req, err := c.newRequest(ctx, http.MethodGet, fmt.Sprintf("/repos/%s/%s", org, repo), nil)
	if err != nil {
		return nil, err
	}

	var gr githubRepo
	if err := c.doRequest(req, &gr); err != nil {
		return nil, fmt.Errorf("get repository %s/%s: %w", org, repo, err)
	}
	return &Repository{
		FullName:      gr.FullName,
		Description:   gr.Description,
		Private:       gr.Private,
		Archived:      gr.Archived,
		CloneURL:      gr.CloneURL,
		DefaultBranch: gr.DefaultBranch,
		PushedAt:      gr.PushedAt,
	}, nil
}

func (c *GitHubClient) newRequest(ctx context.Context, method, endpoint string, query url.Values) (*http.Request, error) {
	u, err := url.Parse(c.apiURL)
	if err != nil {
		return nil, err
	}
	u.Path = path.Join(u.Path, endpoint)
	if query != nil {
		u.RawQuery = query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), nil)
	if err != nil {
		return nil, err
	}

	token, err := c.creds.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("obtain credentials: %w", err)
	}
	if !token.IsZero() {
		req.Header.Set("Authorization", "Bearer "+token.Value)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	req.Header.Set("User-Agent", c.userAgent)

	return req, nil
}

func (c *GitHubClient) doRequest(req *http.Request, result interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return &APIError{
			StatusCode: resp.StatusCode,
			URL:        req.URL.String(),
			Message:    apiErrorMessage(resp.Body),
		}
	}

	if result != nil {
		return json.NewDecoder(resp.Body).Decode(result)
	}
	return nil
}

// apiErrorMessage extracts GitHub's error message field, if any.
func apiErrorMessage(body io.Reader) string {
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(io.LimitReader(body, 4096)).Decode(&payload); err != nil {
		return ""
	}
	return payload.Message
}
