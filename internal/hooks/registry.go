// Package hooks keeps the initialization callbacks declared for services and projects.
package hooks

import (
	"context"
	"strings"
	"sync"

	"github.com/picklr-io/zitadelhost/internal/resource"
	"github.com/picklr-io/zitadelhost/internal/zitadel"
)

// ServiceHook runs against a ready service with the cycle's credentials.
type ServiceHook func(ctx context.Context, opts zitadel.Options, svc *resource.Service) error

// ProjectHook runs against a project once its id is known.
type ProjectHook func(ctx context.Context, opts zitadel.Options, project *resource.Project) error

// Registry stores hooks per resource in registration order. It is filled while a stack is
// declared and read during readiness cycles.
type Registry struct {
	mu       sync.RWMutex
	services map[string][]ServiceHook
	projects map[string][]ProjectHook
}

func NewRegistry() *Registry {
	return &Registry{
		services: map[string][]ServiceHook{},
		projects: map[string][]ProjectHook{},
	}
}

func key(r resource.Resource) string { return strings.ToLower(r.Name()) }

// RegisterService appends h to the hooks of svc. Duplicates are kept.
func (r *Registry) RegisterService(svc *resource.Service, h ServiceHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.services[key(svc)] = append(r.services[key(svc)], h)
}

// RegisterProject appends h to the hooks of project. Duplicates are kept.
func (r *Registry) RegisterProject(project *resource.Project, h ProjectHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.projects[key(project)] = append(r.projects[key(project)], h)
}

// ServiceHooks returns the hooks of svc in registration order.
func (r *Registry) ServiceHooks(svc *resource.Service) []ServiceHook {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]ServiceHook(nil), r.services[key(svc)]...)
}

// ProjectHooks returns the hooks of project in registration order.
func (r *Registry) ProjectHooks(project *resource.Project) []ProjectHook {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]ProjectHook(nil), r.projects[key(project)]...)
}
