// Package provision implements idempotent create-or-get operations against the
// administrative API.
//
// Every operation looks up the entity with an exact-match filter before creating it, so
// running the pipeline again against an already provisioned instance converges without
// duplicates. Failures of the administrative API are returned as they are; there is no
// retry here.
package provision

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/picklr-io/zitadelhost/internal/errdefs"
	"github.com/picklr-io/zitadelhost/internal/hooks"
	"github.com/picklr-io/zitadelhost/internal/logging"
	"github.com/picklr-io/zitadelhost/internal/resource"
	"github.com/picklr-io/zitadelhost/internal/secrets"
	"github.com/picklr-io/zitadelhost/internal/zitadel"
)

// ClientFactory builds an administrative API client for one readiness cycle.
type ClientFactory func(opts zitadel.Options) zitadel.AdminAPI

// DefaultClientFactory returns a REST client.
func DefaultClientFactory(opts zitadel.Options) zitadel.AdminAPI {
	return zitadel.NewClient(opts)
}

// Config wires an Engine.
type Config struct {
	Notifier  *resource.Notifier
	Hooks     *hooks.Registry
	Secrets   secrets.Store
	NewClient ClientFactory
	Metrics   *Metrics
	Log       *slog.Logger
}

// Engine runs provisioning steps.
type Engine struct {
	notifier  *resource.Notifier
	hooks     *hooks.Registry
	secrets   secrets.Store
	newClient ClientFactory
	metrics   *Metrics
	log       *slog.Logger
}

func New(cfg Config) *Engine {
	e := &Engine{
		notifier:  cfg.Notifier,
		hooks:     cfg.Hooks,
		secrets:   cfg.Secrets,
		newClient: cfg.NewClient,
		metrics:   cfg.Metrics,
		log:       logging.OrDefault(cfg.Log).With("component", "provision"),
	}
	if e.notifier == nil {
		e.notifier = resource.NewNotifier()
	}
	if e.hooks == nil {
		e.hooks = hooks.NewRegistry()
	}
	if e.newClient == nil {
		e.newClient = DefaultClientFactory
	}
	return e
}

// Client returns the administrative API client for opts.
func (e *Engine) Client(opts zitadel.Options) zitadel.AdminAPI {
	return e.newClient(opts)
}

// EnsureProject makes sure a project with the display name of project exists, assigns its
// id to project and runs the project's hooks. The project status moves to Starting and
// then Running, or FailedToStart when any step fails.
func (e *Engine) EnsureProject(ctx context.Context, opts zitadel.Options, project *resource.Project) (string, error) {
	log := e.log.With("project", project.Name())
	e.notifier.PublishState(project.Name(), resource.StateStarting)

	id, err := e.ensureProject(ctx, opts, project, log)
	if err != nil {
		e.notifier.PublishFailure(project.Name(), err)
		return "", err
	}

	e.notifier.Publish(project.Name(), func(s resource.Snapshot) resource.Snapshot {
		s.State = resource.StateRunning
		s.Error = ""
		s.Properties = map[string]string{"id": id}
		return s
	})
	return id, nil
}

func (e *Engine) ensureProject(ctx context.Context, opts zitadel.Options, project *resource.Project, log *slog.Logger) (string, error) {
	api := e.newClient(opts)
	name := project.Request.Name

	existing, err := api.ListProjects(ctx, zitadel.ListProjectsRequest{Name: zitadel.Equals(name)})
	if err != nil {
		e.metrics.observe(kindProject, outcomeFailed)
		return "", err
	}

	var id string
	for _, p := range existing {
		if p.Name == name {
			id = p.ID
			break
		}
	}

	if id != "" {
		log.Info("adopting existing project", "id", id)
		e.metrics.observe(kindProject, outcomeAdopted)
	} else {
		id, err = api.AddProject(ctx, project.Request)
		if err != nil {
			e.metrics.observe(kindProject, outcomeFailed)
			return "", err
		}
		log.Info("created project", "id", id)
		e.metrics.observe(kindProject, outcomeCreated)
	}

	if err := project.SetID(id); err != nil {
		return "", errdefs.Configuration(project.Name(), "conflicting project id", err)
	}

	for i, h := range e.hooks.ProjectHooks(project) {
		log.Debug("running project hook", "index", i)
		if err := h(ctx, opts, project); err != nil {
			return "", err
		}
	}
	return id, nil
}

func projectID(project *resource.Project) (string, error) {
	id, ok := project.ID()
	if !ok {
		return "", errdefs.Configuration(project.Name(), "project is not provisioned yet", nil)
	}
	return id, nil
}

// EnsureOIDCApp makes sure the OIDC application req.Name exists in project and records
// its credentials on project. A newly issued client secret is saved in the secret store;
// for an existing application the saved secret is loaded, since the API never returns it
// again.
func (e *Engine) EnsureOIDCApp(ctx context.Context, api zitadel.AdminAPI, project *resource.Project, req zitadel.AddOIDCAppRequest) (resource.AppCredentials, error) {
	id, err := projectID(project)
	if err != nil {
		return resource.AppCredentials{}, err
	}
	req.ProjectID = id
	log := e.log.With("project", project.Name(), "app", req.Name)
	secretKey := secrets.OIDCClientSecretKey(project.Name(), req.Name)

	apps, err := api.ListApps(ctx, zitadel.ListAppsRequest{ProjectID: id, Name: zitadel.Equals(req.Name)})
	if err != nil {
		e.metrics.observe(kindOIDCApp, outcomeFailed)
		return resource.AppCredentials{}, err
	}

	for _, app := range apps {
		if app.Name != req.Name {
			continue
		}
		creds := resource.AppCredentials{AppID: app.ID}
		if app.OIDCConfig != nil {
			creds.ClientID = app.OIDCConfig.ClientID
		}
		if e.secrets != nil {
			secret, ok, err := e.secrets.Load(ctx, secretKey)
			if err != nil {
				return resource.AppCredentials{}, fmt.Errorf("failed to load client secret of %s: %w", req.Name, err)
			}
			if ok {
				creds.ClientSecret = secret
			}
		}
		if creds.ClientSecret == "" && req.AuthMethodType != zitadel.OIDCAuthMethodNone {
			log.Warn("client secret of existing application is not available locally")
		}
		log.Info("adopting existing application", "appId", creds.AppID, "clientId", creds.ClientID)
		e.metrics.observe(kindOIDCApp, outcomeAdopted)
		project.SetApp(req.Name, creds)
		return creds, nil
	}

	resp, err := api.AddOIDCApp(ctx, req)
	if err != nil {
		e.metrics.observe(kindOIDCApp, outcomeFailed)
		return resource.AppCredentials{}, err
	}
	creds := resource.AppCredentials{AppID: resp.AppID, ClientID: resp.ClientID, ClientSecret: resp.ClientSecret}

	if creds.ClientSecret != "" && e.secrets != nil {
		if err := e.secrets.Save(ctx, secretKey, creds.ClientSecret); err != nil {
			return resource.AppCredentials{}, fmt.Errorf("failed to save client secret of %s: %w", req.Name, err)
		}
	}
	log.Info("created application", "appId", creds.AppID, "clientId", creds.ClientID)
	e.metrics.observe(kindOIDCApp, outcomeCreated)
	project.SetApp(req.Name, creds)
	return creds, nil
}

// EnsureRole makes sure the role req.RoleKey exists in project.
func (e *Engine) EnsureRole(ctx context.Context, api zitadel.AdminAPI, project *resource.Project, req zitadel.AddProjectRoleRequest) error {
	id, err := projectID(project)
	if err != nil {
		return err
	}
	req.ProjectID = id
	log := e.log.With("project", project.Name(), "role", req.RoleKey)

	roles, err := api.ListProjectRoles(ctx, zitadel.ListProjectRolesRequest{ProjectID: id, Key: zitadel.Equals(req.RoleKey)})
	if err != nil {
		e.metrics.observe(kindRole, outcomeFailed)
		return err
	}
	for _, r := range roles {
		if r.Key == req.RoleKey {
			log.Debug("role already exists")
			e.metrics.observe(kindRole, outcomeAdopted)
			project.AddRole(req.RoleKey)
			return nil
		}
	}

	if err := api.AddProjectRole(ctx, req); err != nil {
		e.metrics.observe(kindRole, outcomeFailed)
		return err
	}
	log.Info("created role")
	e.metrics.observe(kindRole, outcomeCreated)
	project.AddRole(req.RoleKey)
	return nil
}

// LookupOrganization returns the organization called name, or the first visible one when
// name is empty.
func (e *Engine) LookupOrganization(ctx context.Context, api zitadel.AdminAPI, name string) (zitadel.Organization, error) {
	req := zitadel.ListOrganizationsRequest{}
	if name != "" {
		req.Name = zitadel.Equals(name)
	}
	orgs, err := api.ListOrganizations(ctx, req)
	if err != nil {
		return zitadel.Organization{}, err
	}
	for _, o := range orgs {
		if name == "" || o.Name == name {
			return o, nil
		}
	}
	return zitadel.Organization{}, &errdefs.ProvisioningError{
		Op:      "ListOrganizations",
		Message: fmt.Sprintf("organization %q not found", name),
	}
}
