package runtime

import (
	"fmt"
	"sort"
	"strings"

	"github.com/picklr-io/zitadelhost/internal/resource"
)

// DAG orders the resources of a graph by their wait and parent dependencies.
type DAG struct {
	nodes    map[string]*dagNode
	order    []string // start order
	revOrder []string // stop order
}

type dagNode struct {
	name     string
	res      resource.Resource
	edges    []string // resources this node waits for
	revEdges []string // resources waiting for this node
}

func nodeKey(r resource.Resource) string { return strings.ToLower(r.Name()) }

// BuildDAG constructs the dependency graph of g. Dependencies on resources that are not
// part of g are an error.
func BuildDAG(g *resource.Graph) (*DAG, error) {
	dag := &DAG{nodes: make(map[string]*dagNode)}
	for _, r := range g.Resources() {
		dag.nodes[nodeKey(r)] = &dagNode{name: r.Name(), res: r}
	}

	for _, r := range g.Resources() {
		node := dag.nodes[nodeKey(r)]
		for _, dep := range dependencies(r) {
			key := nodeKey(dep)
			if _, ok := dag.nodes[key]; !ok {
				return nil, fmt.Errorf("resource %s depends on undeclared resource %s", r.Name(), dep.Name())
			}
			if !contains(node.edges, key) {
				node.edges = append(node.edges, key)
			}
		}
	}

	for key, node := range dag.nodes {
		for _, dep := range node.edges {
			dag.nodes[dep].revEdges = append(dag.nodes[dep].revEdges, key)
		}
	}

	order, err := dag.topoSort()
	if err != nil {
		return nil, err
	}
	dag.order = order
	dag.revOrder = make([]string, len(order))
	for i, key := range order {
		dag.revOrder[len(order)-1-i] = key
	}
	return dag, nil
}

func dependencies(r resource.Resource) []resource.Resource {
	var deps []resource.Resource
	if w, ok := r.(resource.Waiter); ok {
		deps = append(deps, w.Waits()...)
	}
	if c, ok := r.(resource.ResourceWithParent); ok && c.Parent() != nil {
		deps = append(deps, c.Parent())
	}
	return deps
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// topoSort is Kahn's algorithm. Ties are broken by name so the order is stable.
func (d *DAG) topoSort() ([]string, error) {
	inDegree := make(map[string]int, len(d.nodes))
	var queue []string
	for key, node := range d.nodes {
		inDegree[key] = len(node.edges)
		if inDegree[key] == 0 {
			queue = append(queue, key)
		}
	}
	sort.Strings(queue)

	var sorted []string
	for len(queue) > 0 {
		key := queue[0]
		queue = queue[1:]
		sorted = append(sorted, key)

		var ready []string
		for _, dependent := range d.nodes[key].revEdges {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				ready = append(ready, dependent)
			}
		}
		sort.Strings(ready)
		queue = append(queue, ready...)
	}

	if len(sorted) != len(d.nodes) {
		return nil, fmt.Errorf("dependency cycle detected in resource graph")
	}
	return sorted, nil
}

// StartOrder returns resource names in dependency-respecting start order.
func (d *DAG) StartOrder() []string { return d.names(d.order) }

// StopOrder returns resource names in reverse start order.
func (d *DAG) StopOrder() []string { return d.names(d.revOrder) }

func (d *DAG) names(keys []string) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = d.nodes[k].name
	}
	return out
}

// Dependencies returns the names of the resources name waits for.
func (d *DAG) Dependencies(name string) []string {
	node, ok := d.nodes[strings.ToLower(name)]
	if !ok {
		return nil
	}
	return d.names(node.edges)
}

// Resource returns the resource called name.
func (d *DAG) Resource(name string) (resource.Resource, bool) {
	node, ok := d.nodes[strings.ToLower(name)]
	if !ok {
		return nil, false
	}
	return node.res, true
}
