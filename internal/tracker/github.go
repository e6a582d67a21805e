package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/iammorganparry/hive-sync/internal/models"
)

// GitHubAPIURL is the public GitHub REST endpoint.
const GitHubAPIURL = "https://api.github.com"

// GitHubClient reads and updates GitHub issues. GitHub stores Markdown, so
// descriptions pass through unchanged.
type GitHubClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewGitHubClient(baseURL string) *GitHubClient {
	if baseURL == "" {
		baseURL = GitHubAPIURL
	}
	return &GitHubClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: newHTTPClient(),
	}
}

type issue struct {
	Number    int       `json:"number"`
	Title     string    `json:"title"`
	Body      *string   `json:"body"`
	State     string    `json:"state"`
	UpdatedAt time.Time `json:"updated_at"`
}

type issuePatch struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

func (c *GitHubClient) System() models.System {
	return models.SystemGitHub
}

// FetchItem handles GET /repos/{owner}/{repo}/issues/{number}
func (c *GitHubClient) FetchItem(ctx context.Context, externalID string, creds Credentials) (*models.ExternalItem, error) {
	u, err := c.issueURL(externalID, creds)
	if err != nil {
		return nil, err
	}

	status, body, err := do(ctx, c.httpClient, request{
		method: http.MethodGet,
		url:    u,
		header: c.authHeader(creds),
	})
	if err != nil {
		return nil, fmt.Errorf("github fetch %s: %w", externalID, err)
	}
	if status == http.StatusNotFound {
		return nil, nil
	}
	return decodeIssue(body)
}

// UpdateItem handles PATCH /repos/{owner}/{repo}/issues/{number}
func (c *GitHubClient) UpdateItem(ctx context.Context, externalID string, creds Credentials, upd ItemUpdate) (*models.ExternalItem, error) {
	u, err := c.issueURL(externalID, creds)
	if err != nil {
		return nil, err
	}

	status, body, err := do(ctx, c.httpClient, request{
		method: http.MethodPatch,
		url:    u,
		body:   issuePatch{Title: upd.Title, Body: upd.Description},
		header: c.authHeader(creds),
	})
	if err != nil {
		return nil, fmt.Errorf("github update %s: %w", externalID, err)
	}
	if status == http.StatusNotFound {
		return nil, &StatusError{Method: http.MethodPatch, URL: u, StatusCode: status, Body: truncate(string(body), 512)}
	}
	return decodeIssue(body)
}

func (c *GitHubClient) ToLocal(description string) string {
	return description
}

func (c *GitHubClient) ToExternal(md string) (string, error) {
	return md, nil
}

func (c *GitHubClient) Ping(ctx context.Context) error {
	return ping(ctx, c.httpClient, c.baseURL)
}

func (c *GitHubClient) issueURL(externalID string, creds Credentials) (string, error) {
	n, err := strconv.ParseUint(strings.TrimPrefix(strings.TrimSpace(externalID), "#"), 10, 64)
	if err != nil || n == 0 {
		return "", fmt.Errorf("%w: github issue number %q", ErrInvalidExternalID, externalID)
	}
	if creds.Token == "" || creds.Owner == "" || creds.Repo == "" {
		return "", fmt.Errorf("%w: github needs token, owner and repo", ErrIncompleteCredentials)
	}
	return fmt.Sprintf("%s/repos/%s/%s/issues/%d",
		c.baseURL, url.PathEscape(creds.Owner), url.PathEscape(creds.Repo), n), nil
}

func (c *GitHubClient) authHeader(creds Credentials) http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+creds.Token)
	h.Set("Accept", "application/vnd.github+json")
	h.Set("X-GitHub-Api-Version", "2022-11-28")
	return h
}

func decodeIssue(body []byte) (*models.ExternalItem, error) {
	var is issue
	if err := json.Unmarshal(body, &is); err != nil {
		return nil, fmt.Errorf("decode issue: %w", err)
	}
	if is.UpdatedAt.IsZero() {
		return nil, fmt.Errorf("decode issue %d: missing updated_at", is.Number)
	}
	desc := ""
	if is.Body != nil {
		desc = *is.Body
	}
	return &models.ExternalItem{
		ID:          strconv.Itoa(is.Number),
		Title:       is.Title,
		Description: desc,
		UpdatedAt:   normalizeTime(is.UpdatedAt),
		State:       is.State,
	}, nil
}
