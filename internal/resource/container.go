package resource

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// HealthCheck reports whether a started resource is healthy.
type HealthCheck interface {
	Check(ctx context.Context) error
}

// EnvironmentContext collects the environment of a container while it is materialized.
type EnvironmentContext struct {
	Execution ExecutionContext
	Vars      map[string]ValueProvider
}

func (c *EnvironmentContext) Set(key string, v ValueProvider) { c.Vars[key] = v }

func (c *EnvironmentContext) SetLiteral(key, value string) { c.Vars[key] = Literal(value) }

// EnvironmentCallback contributes to a container's environment. Callbacks run when the
// container is about to start, after everything it waits for is ready.
type EnvironmentCallback func(ctx context.Context, env *EnvironmentContext) error

// Mount binds a host path into the container.
type Mount struct {
	Source   string
	Target   string
	ReadOnly bool
}

// ContainerFile is a file placed into a container before it starts.
type ContainerFile struct {
	Name     string
	Contents string
}

// ContainerFiles is a set of files placed under Destination.
type ContainerFiles struct {
	Destination string
	Files       []ContainerFile
}

// Container is a container-backed resource.
type Container struct {
	name  string
	Image string
	Tag   string
	Args  []string

	endpoints    []*Endpoint
	callbacks    []EnvironmentCallback
	mounts       []Mount
	files        []ContainerFiles
	healthChecks []HealthCheck
	waits        []Resource
}

// NewContainer declares a container running image:tag.
func NewContainer(name, image, tag string) *Container {
	return &Container{name: name, Image: image, Tag: tag}
}

func (c *Container) Name() string            { return c.name }
func (c *Container) AsContainer() *Container { return c }

// ImageRef returns the full image reference.
func (c *Container) ImageRef() string {
	if c.Tag == "" || strings.Contains(c.Image, "@") {
		return c.Image
	}
	return c.Image + ":" + c.Tag
}

// AddEndpoint adds ep. Endpoint names are unique per container.
func (c *Container) AddEndpoint(ep *Endpoint) error {
	if _, ok := c.Endpoint(ep.Name); ok {
		return fmt.Errorf("resource %s already has an endpoint named %q", c.name, ep.Name)
	}
	c.endpoints = append(c.endpoints, ep)
	return nil
}

func (c *Container) Endpoint(name string) (*Endpoint, bool) {
	for _, ep := range c.endpoints {
		if strings.EqualFold(ep.Name, name) {
			return ep, true
		}
	}
	return nil, false
}

func (c *Container) Endpoints() []*Endpoint { return c.endpoints }

// RemoveEndpoint drops the endpoint called name and reports whether it existed.
func (c *Container) RemoveEndpoint(name string) bool {
	for i, ep := range c.endpoints {
		if strings.EqualFold(ep.Name, name) {
			c.endpoints = append(c.endpoints[:i], c.endpoints[i+1:]...)
			return true
		}
	}
	return false
}

// GetEndpoint returns a reference to the endpoint called name.
func (c *Container) GetEndpoint(name string) EndpointReference {
	return EndpointReference{Owner: c, Name: name}
}

// WithEnvironment registers an environment callback.
func (c *Container) WithEnvironment(cb EnvironmentCallback) {
	c.callbacks = append(c.callbacks, cb)
}

// SetEnv sets key to v.
func (c *Container) SetEnv(key string, v ValueProvider) {
	c.WithEnvironment(func(_ context.Context, env *EnvironmentContext) error {
		env.Set(key, v)
		return nil
	})
}

// SetEnvLiteral sets key to a fixed value.
func (c *Container) SetEnvLiteral(key, value string) { c.SetEnv(key, Literal(value)) }

func (c *Container) WithBindMount(source, target string, readOnly bool) {
	c.mounts = append(c.mounts, Mount{Source: source, Target: target, ReadOnly: readOnly})
}

func (c *Container) WithContainerFiles(destination string, files ...ContainerFile) {
	c.files = append(c.files, ContainerFiles{Destination: destination, Files: files})
}

func (c *Container) WithHealthCheck(hc HealthCheck) {
	c.healthChecks = append(c.healthChecks, hc)
}

// WaitFor delays the start of c until r is ready.
func (c *Container) WaitFor(r Resource) {
	for _, w := range c.waits {
		if strings.EqualFold(w.Name(), r.Name()) {
			return
		}
	}
	c.waits = append(c.waits, r)
}

func (c *Container) Mounts() []Mount                  { return c.mounts }
func (c *Container) Files() []ContainerFiles          { return c.files }
func (c *Container) HealthChecks() []HealthCheck      { return c.healthChecks }
func (c *Container) Waits() []Resource                { return c.waits }
func (c *Container) Callbacks() []EnvironmentCallback { return c.callbacks }

// Environment runs the environment callbacks and renders the result for ec.
func (c *Container) Environment(ctx context.Context, ec ExecutionContext) (map[string]string, error) {
	envCtx := &EnvironmentContext{Execution: ec, Vars: map[string]ValueProvider{}}
	for _, cb := range c.callbacks {
		if err := cb(ctx, envCtx); err != nil {
			return nil, fmt.Errorf("environment of %s: %w", c.name, err)
		}
	}

	keys := make([]string, 0, len(envCtx.Vars))
	for k := range envCtx.Vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(map[string]string, len(keys))
	for _, k := range keys {
		v, err := Render(ctx, ec, envCtx.Vars[k])
		if err != nil {
			return nil, fmt.Errorf("environment of %s: %s: %w", c.name, k, err)
		}
		out[k] = v
	}
	return out, nil
}
