package zitadel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/picklr-io/zitadelhost/internal/errdefs"
	"golang.org/x/oauth2"
)

// Client talks to the REST gateway of the management and organization services.
type Client struct {
	endpoint string
	http     *http.Client
	orgID    string
}

var _ AdminAPI = (*Client)(nil)

// NewClient returns a Client for opts. Requests carry a bearer token from opts.Tokens.
func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = cleanhttp.DefaultPooledClient()
	}
	if opts.Tokens != nil {
		httpClient = &http.Client{
			Transport: &oauth2.Transport{Source: opts.Tokens, Base: httpClient.Transport},
			Timeout:   httpClient.Timeout,
		}
	}
	return &Client{
		endpoint: opts.Endpoint,
		http:     httpClient,
	}
}

// WithOrganization returns a copy of c scoped to the organization orgID.
func (c *Client) WithOrganization(orgID string) *Client {
	clone := *c
	clone.orgID = orgID
	return &clone
}

type textQueryJSON struct {
	Name   string          `json:"name,omitempty"`
	Key    string          `json:"key,omitempty"`
	Method TextQueryMethod `json:"method"`
}

type listQuery struct {
	NameQuery *textQueryJSON `json:"nameQuery,omitempty"`
	KeyQuery  *textQueryJSON `json:"keyQuery,omitempty"`
}

type listRequest struct {
	Queries []listQuery `json:"queries,omitempty"`
}

func nameQueries(q *TextQuery) listRequest {
	if q == nil {
		return listRequest{}
	}
	return listRequest{Queries: []listQuery{{NameQuery: &textQueryJSON{Name: q.Value, Method: q.Method}}}}
}

func (c *Client) ListOrganizations(ctx context.Context, req ListOrganizationsRequest) ([]Organization, error) {
	var resp struct {
		Result []Organization `json:"result"`
	}
	if err := c.do(ctx, "ListOrganizations", "/v2/organizations/_search", nameQueries(req.Name), &resp); err != nil {
		return nil, err
	}
	return resp.Result, nil
}

func (c *Client) ListProjects(ctx context.Context, req ListProjectsRequest) ([]Project, error) {
	var resp struct {
		Result []Project `json:"result"`
	}
	if err := c.do(ctx, "ListProjects", "/management/v1/projects/_search", nameQueries(req.Name), &resp); err != nil {
		return nil, err
	}
	return resp.Result, nil
}

func (c *Client) AddProject(ctx context.Context, req AddProjectRequest) (string, error) {
	var resp struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, "AddProject", "/management/v1/projects", req, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (c *Client) ListApps(ctx context.Context, req ListAppsRequest) ([]App, error) {
	var resp struct {
		Result []App `json:"result"`
	}
	path := fmt.Sprintf("/management/v1/projects/%s/apps/_search", url.PathEscape(req.ProjectID))
	if err := c.do(ctx, "ListApps", path, nameQueries(req.Name), &resp); err != nil {
		return nil, err
	}
	return resp.Result, nil
}

func (c *Client) AddOIDCApp(ctx context.Context, req AddOIDCAppRequest) (AddOIDCAppResponse, error) {
	var resp AddOIDCAppResponse
	path := fmt.Sprintf("/management/v1/projects/%s/apps/oidc", url.PathEscape(req.ProjectID))
	if err := c.do(ctx, "AddOIDCApp", path, req, &resp); err != nil {
		return AddOIDCAppResponse{}, err
	}
	return resp, nil
}

func (c *Client) ListProjectRoles(ctx context.Context, req ListProjectRolesRequest) ([]Role, error) {
	var resp struct {
		Result []Role `json:"result"`
	}
	body := listRequest{}
	if req.Key != nil {
		body.Queries = []listQuery{{KeyQuery: &textQueryJSON{Key: req.Key.Value, Method: req.Key.Method}}}
	}
	path := fmt.Sprintf("/management/v1/projects/%s/roles/_search", url.PathEscape(req.ProjectID))
	if err := c.do(ctx, "ListProjectRoles", path, body, &resp); err != nil {
		return nil, err
	}
	return resp.Result, nil
}

func (c *Client) AddProjectRole(ctx context.Context, req AddProjectRoleRequest) error {
	path := fmt.Sprintf("/management/v1/projects/%s/roles", url.PathEscape(req.ProjectID))
	return c.do(ctx, "AddProjectRole", path, req, nil)
}

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// do posts body as JSON to path and decodes the reply into out. Every failure is
// reported as an errdefs.ProvisioningError.
func (c *Client) do(ctx context.Context, op, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return &errdefs.ProvisioningError{Op: op, Err: fmt.Errorf("failed to encode request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(payload))
	if err != nil {
		return &errdefs.ProvisioningError{Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.orgID != "" {
		req.Header.Set("x-zitadel-orgid", c.orgID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &errdefs.ProvisioningError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return &errdefs.ProvisioningError{Op: op, StatusCode: resp.StatusCode, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr apiError
		_ = json.Unmarshal(raw, &apiErr)
		msg := apiErr.Message
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return &errdefs.ProvisioningError{Op: op, StatusCode: resp.StatusCode, Message: msg}
	}

	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &errdefs.ProvisioningError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	return nil
}
