package resource

import (
	"context"
	"fmt"
	"strconv"
	"sync"
)

// Endpoint is a named network endpoint of a container.
type Endpoint struct {
	Name   string
	Scheme string
	// Port is the host port. Zero means a free port is allocated when the stack runs.
	Port int
	// TargetPort is the port the container listens on.
	TargetPort int

	mu   sync.RWMutex
	host string
	port int
}

// Allocate records the host address the endpoint is reachable at.
func (e *Endpoint) Allocate(host string, port int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.host, e.port = host, port
}

// Allocated returns the host address, if one was allocated.
func (e *Endpoint) Allocated() (string, int, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.host, e.port, e.port != 0
}

// EndpointProperty selects a part of an endpoint.
type EndpointProperty string

const (
	PropertyURL        EndpointProperty = "url"
	PropertyHost       EndpointProperty = "host"
	PropertyPort       EndpointProperty = "port"
	PropertyTargetPort EndpointProperty = "targetPort"
	PropertyScheme     EndpointProperty = "scheme"
)

// EndpointReference points at an endpoint by owner and name. It is usable before the
// endpoint is allocated; properties resolve when read.
type EndpointReference struct {
	Owner *Container
	Name  string
}

// Endpoint returns the referenced endpoint.
func (r EndpointReference) Endpoint() (*Endpoint, error) {
	if r.Owner == nil {
		return nil, fmt.Errorf("endpoint reference %q has no owner", r.Name)
	}
	ep, ok := r.Owner.Endpoint(r.Name)
	if !ok {
		return nil, fmt.Errorf("resource %s has no endpoint %q", r.Owner.Name(), r.Name)
	}
	return ep, nil
}

func (r EndpointReference) Property(p EndpointProperty) ValueProvider {
	return endpointValue{ref: r, prop: p}
}

func (r EndpointReference) URL() ValueProvider  { return r.Property(PropertyURL) }
func (r EndpointReference) Host() ValueProvider { return r.Property(PropertyHost) }
func (r EndpointReference) Port() ValueProvider { return r.Property(PropertyPort) }

type endpointValue struct {
	ref  EndpointReference
	prop EndpointProperty
}

func (v endpointValue) Value(context.Context) (string, error) {
	ep, err := v.ref.Endpoint()
	if err != nil {
		return "", err
	}

	switch v.prop {
	case PropertyTargetPort:
		return strconv.Itoa(ep.TargetPort), nil
	case PropertyScheme:
		return ep.Scheme, nil
	}

	host, port, ok := ep.Allocated()
	if !ok {
		return "", fmt.Errorf("endpoint %s/%s is not allocated", v.ref.Owner.Name(), ep.Name)
	}
	switch v.prop {
	case PropertyURL:
		return fmt.Sprintf("%s://%s:%d", ep.Scheme, host, port), nil
	case PropertyHost:
		return host, nil
	case PropertyPort:
		return strconv.Itoa(port), nil
	default:
		return "", fmt.Errorf("unknown endpoint property %q", v.prop)
	}
}

func (v endpointValue) ManifestExpression() string {
	owner := ""
	if v.ref.Owner != nil {
		owner = v.ref.Owner.Name()
	}
	return fmt.Sprintf("{%s.bindings.%s.%s}", owner, v.ref.Name, v.prop)
}
