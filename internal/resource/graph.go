package resource

import (
	"fmt"
	"strings"
)

// Graph is the set of declared resources. Names are unique and case-insensitive.
type Graph struct {
	resources []Resource
	byName    map[string]Resource
}

func NewGraph() *Graph {
	return &Graph{byName: map[string]Resource{}}
}

func (g *Graph) Add(r Resource) error {
	key := strings.ToLower(r.Name())
	if key == "" {
		return fmt.Errorf("resource name is empty")
	}
	if _, ok := g.byName[key]; ok {
		return fmt.Errorf("resource %q is already declared", r.Name())
	}
	g.byName[key] = r
	g.resources = append(g.resources, r)
	return nil
}

func (g *Graph) Lookup(name string) (Resource, bool) {
	r, ok := g.byName[strings.ToLower(name)]
	return r, ok
}

// Resources returns the resources in declaration order.
func (g *Graph) Resources() []Resource {
	return append([]Resource(nil), g.resources...)
}

// Project returns the project called name, if one is declared.
func (g *Graph) Project(name string) (*Project, bool) {
	r, ok := g.Lookup(name)
	if !ok {
		return nil, false
	}
	p, ok := r.(*Project)
	return p, ok
}

// TypeName is a short type label used in status output and graphs.
func TypeName(r Resource) string {
	switch r.(type) {
	case *Service:
		return "zitadel"
	case *Project:
		return "zitadel.project"
	case *LoginClient:
		return "zitadel.login"
	case *PostgresServer:
		return "postgres"
	case *PostgresDatabase:
		return "postgres.database"
	case *Parameter:
		return "parameter"
	case *Container:
		return "container"
	default:
		return fmt.Sprintf("%T", r)
	}
}
