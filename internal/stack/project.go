package stack

import (
	"context"

	"github.com/picklr-io/zitadelhost/internal/hooks"
	"github.com/picklr-io/zitadelhost/internal/resource"
	"github.com/picklr-io/zitadelhost/internal/zitadel"
)

// ProjectBuilder configures a project declared on a ZITADEL service.
type ProjectBuilder struct {
	b       *Builder
	project *resource.Project
}

func (p *ProjectBuilder) Resource() *resource.Project { return p.project }

// WithInitialization runs h after the project is provisioned, in registration order.
func (p *ProjectBuilder) WithInitialization(h hooks.ProjectHook) *ProjectBuilder {
	p.b.Hooks.RegisterProject(p.project, h)
	return p
}

// WithOIDCApp makes sure the application described by req exists in the project. Its
// client id and secret become outputs of the project.
func (p *ProjectBuilder) WithOIDCApp(req zitadel.AddOIDCAppRequest) *ProjectBuilder {
	engine := p.b.Engine
	return p.WithInitialization(func(ctx context.Context, opts zitadel.Options, project *resource.Project) error {
		_, err := engine.EnsureOIDCApp(ctx, engine.Client(opts), project, req)
		return err
	})
}

// WithRole makes sure the role described by req exists in the project.
func (p *ProjectBuilder) WithRole(req zitadel.AddProjectRoleRequest) *ProjectBuilder {
	engine := p.b.Engine
	return p.WithInitialization(func(ctx context.Context, opts zitadel.Options, project *resource.Project) error {
		return engine.EnsureRole(ctx, engine.Client(opts), project, req)
	})
}
