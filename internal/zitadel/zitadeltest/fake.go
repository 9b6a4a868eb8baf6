// Package zitadeltest provides an in-memory administrative API for tests.
package zitadeltest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/picklr-io/zitadelhost/internal/errdefs"
	"github.com/picklr-io/zitadelhost/internal/zitadel"
)

type fakeApp struct {
	app    zitadel.App
	secret string
}

// Fake is a concurrency-safe in-memory AdminAPI. It records how often each call is made
// and can be told to fail a given operation.
type Fake struct {
	mu sync.Mutex

	orgs     []zitadel.Organization
	projects []zitadel.Project
	apps     map[string][]fakeApp
	roles    map[string][]zitadel.Role
	seq      int

	calls map[string]int
	fail  map[string]error
}

var _ zitadel.AdminAPI = (*Fake)(nil)

// NewFake returns a Fake holding a single organization named org.
func NewFake(org string) *Fake {
	return &Fake{
		orgs:  []zitadel.Organization{{ID: "org-1", Name: org}},
		apps:  map[string][]fakeApp{},
		roles: map[string][]zitadel.Role{},
		calls: map[string]int{},
		fail:  map[string]error{},
	}
}

// FailOn makes every call of op return err. A nil err clears the failure.
func (f *Fake) FailOn(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.fail, op)
		return
	}
	f.fail[op] = err
}

// Calls returns how many times op was invoked.
func (f *Fake) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// Projects returns a copy of the stored projects.
func (f *Fake) Projects() []zitadel.Project {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]zitadel.Project(nil), f.projects...)
}

// Apps returns a copy of the apps stored under projectID.
func (f *Fake) Apps(projectID string) []zitadel.App {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []zitadel.App
	for _, a := range f.apps[projectID] {
		out = append(out, a.app)
	}
	return out
}

// Roles returns a copy of the roles stored under projectID.
func (f *Fake) Roles(projectID string) []zitadel.Role {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]zitadel.Role(nil), f.roles[projectID]...)
}

// SeedProject stores a project without counting a call and returns its id.
func (f *Fake) SeedProject(name string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID("project")
	f.projects = append(f.projects, zitadel.Project{ID: id, Name: name})
	return id
}

func (f *Fake) nextID(prefix string) string {
	f.seq++
	return fmt.Sprintf("%s-%d", prefix, f.seq)
}

func (f *Fake) enter(op string) error {
	f.calls[op]++
	if err, ok := f.fail[op]; ok {
		return &errdefs.ProvisioningError{Op: op, StatusCode: 500, Err: err}
	}
	return nil
}

func match(q *zitadel.TextQuery, value string) bool {
	if q == nil {
		return true
	}
	switch q.Method {
	case zitadel.TextQueryMethodEqualsIgnoreCase:
		return strings.EqualFold(q.Value, value)
	case zitadel.TextQueryMethodContains:
		return strings.Contains(value, q.Value)
	default:
		return q.Value == value
	}
}

func (f *Fake) ListOrganizations(_ context.Context, req zitadel.ListOrganizationsRequest) ([]zitadel.Organization, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("ListOrganizations"); err != nil {
		return nil, err
	}
	var out []zitadel.Organization
	for _, o := range f.orgs {
		if match(req.Name, o.Name) {
			out = append(out, o)
		}
	}
	return out, nil
}

func (f *Fake) ListProjects(_ context.Context, req zitadel.ListProjectsRequest) ([]zitadel.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("ListProjects"); err != nil {
		return nil, err
	}
	var out []zitadel.Project
	for _, p := range f.projects {
		if match(req.Name, p.Name) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *Fake) AddProject(_ context.Context, req zitadel.AddProjectRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("AddProject"); err != nil {
		return "", err
	}
	id := f.nextID("project")
	f.projects = append(f.projects, zitadel.Project{ID: id, Name: req.Name})
	return id, nil
}

func (f *Fake) ListApps(_ context.Context, req zitadel.ListAppsRequest) ([]zitadel.App, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("ListApps"); err != nil {
		return nil, err
	}
	var out []zitadel.App
	for _, a := range f.apps[req.ProjectID] {
		if match(req.Name, a.app.Name) {
			out = append(out, a.app)
		}
	}
	return out, nil
}

func (f *Fake) AddOIDCApp(_ context.Context, req zitadel.AddOIDCAppRequest) (zitadel.AddOIDCAppResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("AddOIDCApp"); err != nil {
		return zitadel.AddOIDCAppResponse{}, err
	}
	appID := f.nextID("app")
	resp := zitadel.AddOIDCAppResponse{
		AppID:    appID,
		ClientID: appID + "@client",
	}
	if req.AuthMethodType != zitadel.OIDCAuthMethodNone {
		resp.ClientSecret = "secret-" + appID
	}
	f.apps[req.ProjectID] = append(f.apps[req.ProjectID], fakeApp{
		app: zitadel.App{
			ID:         appID,
			Name:       req.Name,
			OIDCConfig: &zitadel.OIDCConfig{ClientID: resp.ClientID},
		},
		secret: resp.ClientSecret,
	})
	return resp, nil
}

func (f *Fake) ListProjectRoles(_ context.Context, req zitadel.ListProjectRolesRequest) ([]zitadel.Role, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("ListProjectRoles"); err != nil {
		return nil, err
	}
	var out []zitadel.Role
	for _, r := range f.roles[req.ProjectID] {
		if match(req.Key, r.Key) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *Fake) AddProjectRole(_ context.Context, req zitadel.AddProjectRoleRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("AddProjectRole"); err != nil {
		return err
	}
	for _, r := range f.roles[req.ProjectID] {
		if r.Key == req.RoleKey {
			return &errdefs.ProvisioningError{Op: "AddProjectRole", StatusCode: 409, Message: "role already exists"}
		}
	}
	f.roles[req.ProjectID] = append(f.roles[req.ProjectID], zitadel.Role{
		Key:         req.RoleKey,
		DisplayName: req.DisplayName,
		Group:       req.Group,
	})
	return nil
}
