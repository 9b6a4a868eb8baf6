package stack

import (
	"fmt"

	"github.com/picklr-io/zitadelhost/internal/health"
	"github.com/picklr-io/zitadelhost/internal/resource"
)

// ContainerBuilder configures a generic container.
type ContainerBuilder struct {
	b *Builder
	c *resource.Container
}

// AddContainer declares a container running image:tag.
func (b *Builder) AddContainer(name, image, tag string) (*ContainerBuilder, error) {
	if name == "" {
		return nil, fmt.Errorf("container name is empty")
	}
	if image == "" {
		return nil, fmt.Errorf("container %s: image is empty", name)
	}
	c := resource.NewContainer(name, image, tag)
	if err := b.add(c); err != nil {
		return nil, err
	}
	return &ContainerBuilder{b: b, c: c}, nil
}

func (c *ContainerBuilder) Resource() *resource.Container { return c.c }

// WithEndpoint exposes targetPort on port. Zero allocates a host port.
func (c *ContainerBuilder) WithEndpoint(name, scheme string, port, targetPort int) error {
	if scheme == "" {
		scheme = "http"
	}
	return c.c.AddEndpoint(&resource.Endpoint{Name: name, Scheme: scheme, Port: port, TargetPort: targetPort})
}

// WithHTTPHealthCheck waits for GET path on endpoint to succeed before the container
// counts as ready.
func (c *ContainerBuilder) WithHTTPHealthCheck(endpoint, path string) error {
	if _, ok := c.c.Endpoint(endpoint); !ok {
		return fmt.Errorf("container %s has no endpoint %q", c.c.Name(), endpoint)
	}
	c.c.WithHealthCheck(health.NewHTTPCheck(c.c.GetEndpoint(endpoint), path))
	return nil
}

func (c *ContainerBuilder) WithEnv(key string, v resource.ValueProvider) *ContainerBuilder {
	c.c.SetEnv(key, v)
	return c
}

func (c *ContainerBuilder) WithArgs(args ...string) *ContainerBuilder {
	c.c.Args = append(c.c.Args, args...)
	return c
}

// WithReference sets key to the value a ref://<resource>/<path> reference points at and
// waits for the referenced resource.
func (c *ContainerBuilder) WithReference(key, ref string) error {
	target, v, err := c.b.ResolveRef(ref)
	if err != nil {
		return fmt.Errorf("container %s: %s: %w", c.c.Name(), key, err)
	}
	c.c.SetEnv(key, v)
	if target.Name() != c.c.Name() {
		c.c.WaitFor(target)
	}
	return nil
}

// WaitFor delays the start of the container until name is ready.
func (c *ContainerBuilder) WaitFor(name string) error {
	r, ok := c.b.Graph.Lookup(name)
	if !ok {
		return fmt.Errorf("container %s waits for undeclared resource %q", c.c.Name(), name)
	}
	c.c.WaitFor(r)
	return nil
}
