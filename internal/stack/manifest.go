package stack

import (
	"context"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/picklr-io/zitadelhost/internal/resource"
)

// Manifest is the deployment description of a stack with every runtime value replaced
// by a {resource.path} placeholder.
type Manifest struct {
	Name      string                       `yaml:"name"`
	Resources map[string]*ManifestResource `yaml:"resources"`
}

// ManifestResource describes one resource of a Manifest.
type ManifestResource struct {
	Type             string                      `yaml:"type"`
	Image            string                      `yaml:"image,omitempty"`
	Args             []string                    `yaml:"args,omitempty"`
	Env              map[string]string           `yaml:"env,omitempty"`
	Bindings         map[string]*ManifestBinding `yaml:"bindings,omitempty"`
	BindMounts       []ManifestMount             `yaml:"bindMounts,omitempty"`
	Files            []ManifestFiles             `yaml:"files,omitempty"`
	WaitFor          []string                    `yaml:"waitFor,omitempty"`
	Parent           string                      `yaml:"parent,omitempty"`
	ConnectionString string                      `yaml:"connectionString,omitempty"`
	Value            string                      `yaml:"value,omitempty"`
	Secret           bool                        `yaml:"secret,omitempty"`
}

type ManifestBinding struct {
	Scheme     string `yaml:"scheme"`
	Port       int    `yaml:"port,omitempty"`
	TargetPort int    `yaml:"targetPort"`
}

type ManifestMount struct {
	Source   string `yaml:"source"`
	Target   string `yaml:"target"`
	ReadOnly bool   `yaml:"readOnly,omitempty"`
}

type ManifestFiles struct {
	Destination string   `yaml:"destination"`
	Names       []string `yaml:"names"`
}

// Manifest renders the declared resources. Projects are provisioned at run time and
// have no manifest entry; their outputs appear as placeholders where referenced.
func (b *Builder) Manifest(ctx context.Context) (*Manifest, error) {
	ec := resource.ExecutionContext{Mode: resource.ModePublish}
	m := &Manifest{Name: b.name, Resources: map[string]*ManifestResource{}}

	for _, r := range b.Graph.Resources() {
		var entry *ManifestResource
		switch v := r.(type) {
		case *resource.Project:
			continue
		case *resource.Parameter:
			entry = &ManifestResource{Value: v.ManifestExpression(), Secret: v.IsSecret()}
		case resource.ContainerResource:
			var err error
			entry, err = containerManifest(ctx, ec, v.AsContainer())
			if err != nil {
				return nil, err
			}
		default:
			entry = &ManifestResource{}
		}

		entry.Type = resource.TypeName(r)
		if cs, ok := r.(resource.ConnectionStringResource); ok {
			entry.ConnectionString = cs.ConnectionStringExpression().ManifestExpression()
		}
		if p, ok := r.(resource.ResourceWithParent); ok && p.Parent() != nil {
			entry.Parent = p.Parent().Name()
		}
		m.Resources[r.Name()] = entry
	}
	return m, nil
}

func containerManifest(ctx context.Context, ec resource.ExecutionContext, c *resource.Container) (*ManifestResource, error) {
	env, err := c.Environment(ctx, ec)
	if err != nil {
		return nil, err
	}
	entry := &ManifestResource{
		Image: c.ImageRef(),
		Args:  c.Args,
		Env:   env,
	}
	for _, ep := range c.Endpoints() {
		if entry.Bindings == nil {
			entry.Bindings = map[string]*ManifestBinding{}
		}
		entry.Bindings[ep.Name] = &ManifestBinding{Scheme: ep.Scheme, Port: ep.Port, TargetPort: ep.TargetPort}
	}
	for _, mnt := range c.Mounts() {
		entry.BindMounts = append(entry.BindMounts, ManifestMount{Source: mnt.Source, Target: mnt.Target, ReadOnly: mnt.ReadOnly})
	}
	for _, f := range c.Files() {
		names := make([]string, 0, len(f.Files))
		for _, file := range f.Files {
			names = append(names, file.Name)
		}
		entry.Files = append(entry.Files, ManifestFiles{Destination: f.Destination, Names: names})
	}
	for _, w := range c.Waits() {
		entry.WaitFor = append(entry.WaitFor, w.Name())
	}
	return entry, nil
}

// WriteManifest renders the manifest of b as YAML to w.
func (b *Builder) WriteManifest(ctx context.Context, w io.Writer) error {
	m, err := b.Manifest(ctx)
	if err != nil {
		return err
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(m); err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	return enc.Close()
}
