package tracker

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/iammorganparry/hive-sync/internal/markup"
	"github.com/iammorganparry/hive-sync/internal/models"
)

const (
	// AzureDevOpsURL is the Azure DevOps Services REST endpoint.
	AzureDevOpsURL = "https://dev.azure.com"

	azureAPIVersion = "7.0"
)

// AzureDevOpsClient reads and updates Azure DevOps work items.
type AzureDevOpsClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewAzureDevOpsClient(baseURL string) *AzureDevOpsClient {
	if baseURL == "" {
		baseURL = AzureDevOpsURL
	}
	return &AzureDevOpsClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: newHTTPClient(),
	}
}

type workItem struct {
	ID     int `json:"id"`
	Fields struct {
		Title       string    `json:"System.Title"`
		Description string    `json:"System.Description"`
		ChangedDate time.Time `json:"System.ChangedDate"`
		State       string    `json:"System.State"`
	} `json:"fields"`
}

type patchOp struct {
	Op    string `json:"op"`
	Path  string `json:"path"`
	Value string `json:"value"`
}

func (c *AzureDevOpsClient) System() models.System {
	return models.SystemAzureDevOps
}

// FetchItem handles GET /{org}/{project}/_apis/wit/workitems/{id}
func (c *AzureDevOpsClient) FetchItem(ctx context.Context, externalID string, creds Credentials) (*models.ExternalItem, error) {
	u, err := c.workItemURL(externalID, creds)
	if err != nil {
		return nil, err
	}

	status, body, err := do(ctx, c.httpClient, request{
		method: http.MethodGet,
		url:    u,
		header: c.authHeader(creds),
	})
	if err != nil {
		return nil, fmt.Errorf("azure devops fetch %s: %w", externalID, err)
	}
	if status == http.StatusNotFound {
		return nil, nil
	}
	return c.decode(body)
}

// UpdateItem handles PATCH /{org}/{project}/_apis/wit/workitems/{id}
func (c *AzureDevOpsClient) UpdateItem(ctx context.Context, externalID string, creds Credentials, upd ItemUpdate) (*models.ExternalItem, error) {
	u, err := c.workItemURL(externalID, creds)
	if err != nil {
		return nil, err
	}

	ops := []patchOp{
		{Op: "add", Path: "/fields/System.Title", Value: upd.Title},
		{Op: "add", Path: "/fields/System.Description", Value: upd.Description},
	}
	status, body, err := do(ctx, c.httpClient, request{
		method:      http.MethodPatch,
		url:         u,
		body:        ops,
		contentType: "application/json-patch+json",
		header:      c.authHeader(creds),
	})
	if err != nil {
		return nil, fmt.Errorf("azure devops update %s: %w", externalID, err)
	}
	if status == http.StatusNotFound {
		return nil, &StatusError{Method: http.MethodPatch, URL: u, StatusCode: status, Body: truncate(string(body), 512)}
	}
	return c.decode(body)
}

// ToLocal converts Azure DevOps rich text to Markdown.
func (c *AzureDevOpsClient) ToLocal(description string) string {
	return markup.HTMLToMarkdown(description)
}

// ToExternal renders Markdown as HTML for the System.Description field.
func (c *AzureDevOpsClient) ToExternal(md string) (string, error) {
	return markup.MarkdownToHTML(md)
}

// Ping checks that the service answers at all; auth is per project.
func (c *AzureDevOpsClient) Ping(ctx context.Context) error {
	return ping(ctx, c.httpClient, c.baseURL)
}

func (c *AzureDevOpsClient) workItemURL(externalID string, creds Credentials) (string, error) {
	id, err := strconv.ParseUint(strings.TrimSpace(externalID), 10, 64)
	if err != nil || id == 0 {
		return "", fmt.Errorf("%w: azure devops work item id %q", ErrInvalidExternalID, externalID)
	}
	if creds.Token == "" || creds.Organization == "" || creds.Project == "" {
		return "", fmt.Errorf("%w: azure devops needs token, organization and project", ErrIncompleteCredentials)
	}
	return fmt.Sprintf("%s/%s/%s/_apis/wit/workitems/%d?api-version=%s",
		c.baseURL, url.PathEscape(creds.Organization), url.PathEscape(creds.Project), id, azureAPIVersion), nil
}

func (c *AzureDevOpsClient) authHeader(creds Credentials) http.Header {
	h := http.Header{}
	h.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(":"+creds.Token)))
	h.Set("Accept", "application/json")
	return h
}

func (c *AzureDevOpsClient) decode(body []byte) (*models.ExternalItem, error) {
	var wi workItem
	if err := json.Unmarshal(body, &wi); err != nil {
		return nil, fmt.Errorf("decode work item: %w", err)
	}
	if wi.Fields.ChangedDate.IsZero() {
		return nil, fmt.Errorf("decode work item %d: missing System.ChangedDate", wi.ID)
	}
	return &models.ExternalItem{
		ID:          strconv.Itoa(wi.ID),
		Title:       wi.Fields.Title,
		Description: wi.Fields.Description,
		UpdatedAt:   normalizeTime(wi.Fields.ChangedDate),
		State:       wi.Fields.State,
	}, nil
}

func ping(ctx context.Context, client *http.Client, u string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("ping %s: %w", u, err)
	}
	resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("ping %s: status %d", u, resp.StatusCode)
	}
	return nil
}
