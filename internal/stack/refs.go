package stack

import (
	"fmt"
	"strings"

	"github.com/picklr-io/zitadelhost/internal/resource"
)

// RefScheme prefixes references to values of other resources.
const RefScheme = "ref://"

// IsRef reports whether s is a ref:// reference.
func IsRef(s string) bool { return strings.HasPrefix(s, RefScheme) }

// ParseRef splits ref://<resource>/<path>.
func ParseRef(ref string) (name, path string, err error) {
	if !IsRef(ref) {
		return "", "", fmt.Errorf("reference %q does not start with %s", ref, RefScheme)
	}
	name, path, ok := strings.Cut(strings.TrimPrefix(ref, RefScheme), "/")
	if !ok || name == "" || path == "" {
		return "", "", fmt.Errorf("reference %q must have the form %s<resource>/<path>", ref, RefScheme)
	}
	return name, path, nil
}

// ResolveRef returns the resource a reference points at and a provider for its value.
//
// Supported paths:
//
//	projects:         id, apps.<app>.clientId, apps.<app>.clientSecret
//	containers:       endpoints.<endpoint>.<url|host|port|targetPort|scheme>
//	login clients:    url
//	parameters:       value
//	postgres:         connectionString
func (b *Builder) ResolveRef(ref string) (resource.Resource, resource.ValueProvider, error) {
	name, path, err := ParseRef(ref)
	if err != nil {
		return nil, nil, err
	}
	r, ok := b.Graph.Lookup(name)
	if !ok {
		return nil, nil, fmt.Errorf("reference %q: no resource named %q", ref, name)
	}

	switch v := r.(type) {
	case *resource.Project:
		out, err := v.Output(path)
		if err != nil {
			return nil, nil, err
		}
		return r, out, nil
	case *resource.Parameter:
		if path == "value" {
			return r, v, nil
		}
	case *resource.LoginClient:
		if path == "url" {
			return r, v.URL(), nil
		}
	}

	if path == "connectionString" {
		if cs, ok := r.(resource.ConnectionStringResource); ok {
			return r, cs.ConnectionStringExpression(), nil
		}
	}

	if cr, ok := r.(resource.ContainerResource); ok && strings.HasPrefix(path, "endpoints.") {
		parts := strings.Split(path, ".")
		if len(parts) != 3 {
			return nil, nil, fmt.Errorf("reference %q: expected endpoints.<name>.<property>", ref)
		}
		c := cr.AsContainer()
		if _, ok := c.Endpoint(parts[1]); !ok {
			return nil, nil, fmt.Errorf("reference %q: %s has no endpoint %q", ref, name, parts[1])
		}
		prop := resource.EndpointProperty(parts[2])
		switch prop {
		case resource.PropertyURL, resource.PropertyHost, resource.PropertyPort, resource.PropertyTargetPort, resource.PropertyScheme:
			return r, c.GetEndpoint(parts[1]).Property(prop), nil
		default:
			return nil, nil, fmt.Errorf("reference %q: unknown endpoint property %q", ref, parts[2])
		}
	}

	return nil, nil, fmt.Errorf("reference %q: %s has no output %q", ref, name, path)
}
