package engine

import (
	"fmt"
	"strings"

	"github.com/keel-iac/keel/internal/ir"
)

// DAG represents a directed acyclic graph of resources for dependency
// ordering.
type DAG struct {
	nodes    map[string]*dagNode
	seq      []string // insertion order, keeps sorting stable
	order    []string // topological order (creation order)
	revOrder []string // reverse topological order (destruction order)
}

func (d *DAG) addNode(addr string) {
	if _, ok := d.nodes[addr]; ok {
		return
	}
	d.nodes[addr] = &dagNode{addr: addr}
	d.seq = append(d.seq, addr)
}

type dagNode struct {
	addr     string
	edges    []string // resources this node depends on
	revEdges []string // resources that depend on this node
}

// BuildDAG constructs a dependency graph from desired resources. It
// resolves both explicit depends_on entries and implicit ptr://
// references found in property values.
func BuildDAG(resources []*ir.Resource) (*DAG, error) {
	dag := &DAG{
		nodes: make(map[string]*dagNode),
	}

	for _, res := range resources {
		dag.addNode(res.Address())
	}

	for _, res := range resources {
		node := dag.nodes[res.Address()]

		for _, dep := range res.DependsOn {
			if _, ok := dag.nodes[dep]; ok {
				node.edges = append(node.edges, dep)
			}
		}

		for _, ref := range extractPtrRefs(res.Properties) {
			depAddr := ptrRefToAddr(ref)
			if depAddr == "" {
				continue
			}
			if _, ok := dag.nodes[depAddr]; ok {
				node.edges = append(node.edges, depAddr)
			}
		}
	}

	return dag, dag.finish()
}

// BuildDAGFromState constructs a dependency graph from tracked state,
// used to order destroy operations.
func BuildDAGFromState(resources []*ir.ResourceState) (*DAG, error) {
	dag := &DAG{
		nodes: make(map[string]*dagNode),
	}

	for _, res := range resources {
		dag.addNode(res.Address())
	}

	for _, res := range resources {
		node := dag.nodes[res.Address()]
		for _, dep := range res.Dependencies {
			// A dependency may have been removed from state already.
			dag.addNode(dep)
			node.edges = append(node.edges, dep)
		}
	}

	return dag, dag.finish()
}

func (d *DAG) finish() error {
	for _, addr := range d.seq {
		for _, dep := range d.nodes[addr].edges {
			d.nodes[dep].revEdges = append(d.nodes[dep].revEdges, addr)
		}
	}

	order, err := d.topoSort()
	if err != nil {
		return err
	}
	d.order = order

	d.revOrder = make([]string, len(order))
	for i, addr := range order {
		d.revOrder[len(order)-1-i] = addr
	}

	return nil
}

// CreationOrder returns resources in dependency-respecting creation
// order.
func (d *DAG) CreationOrder() []string {
	return d.order
}

// DestructionOrder returns resources in reverse dependency order (safe
// for deletion).
func (d *DAG) DestructionOrder() []string {
	return d.revOrder
}

// Dependencies returns the direct dependencies of the given address.
func (d *DAG) Dependencies(addr string) []string {
	if node, ok := d.nodes[addr]; ok {
		return node.edges
	}
	return nil
}

// TransitiveDeps returns every resource the given address depends on,
// directly or indirectly.
func (d *DAG) TransitiveDeps(addr string) []string {
	var out []string
	seen := map[string]bool{addr: true}

	var visit func(string)
	visit = func(a string) {
		for _, dep := range d.Dependencies(a) {
			if seen[dep] {
				continue
			}
			seen[dep] = true
			out = append(out, dep)
			visit(dep)
		}
	}
	visit(addr)

	return out
}

// topoSort performs Kahn's algorithm for topological sorting.
func (d *DAG) topoSort() ([]string, error) {
	inDegree := make(map[string]int, len(d.nodes))
	for addr, node := range d.nodes {
		inDegree[addr] = len(node.edges)
	}

	var queue []string
	for _, addr := range d.seq {
		if inDegree[addr] == 0 {
			queue = append(queue, addr)
		}
	}

	var sorted []string
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		sorted = append(sorted, node)

		for _, dependent := range d.nodes[node].revEdges {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	if len(sorted) != len(d.nodes) {
		return nil, fmt.Errorf("dependency cycle detected in resource graph")
	}

	return sorted, nil
}

// extractPtrRefs extracts all ptr:// references from a property value.
func extractPtrRefs(v any) []string {
	var refs []string
	switch val := v.(type) {
	case string:
		if strings.HasPrefix(val, "ptr://") {
			refs = append(refs, val)
		}
	case map[string]any:
		for _, v := range val {
			refs = append(refs, extractPtrRefs(v)...)
		}
	case map[any]any:
		for _, v := range val {
			refs = append(refs, extractPtrRefs(v)...)
		}
	case []any:
		for _, v := range val {
			refs = append(refs, extractPtrRefs(v)...)
		}
	}
	return refs
}

// ptrRefToAddr converts a ptr:// reference to a resource address.
// ptr://local:local_file/motd/path -> local_file.motd
func ptrRefToAddr(ref string) string {
	if !strings.HasPrefix(ref, "ptr://") {
		return ""
	}
	path := strings.TrimPrefix(ref, "ptr://")

	// Format: provider:type/name/attribute. The provider prefix is
	// dropped so the result matches Resource.Address (type.name).
	parts := strings.SplitN(path, "/", 3)
	if len(parts) < 2 {
		return ""
	}
	typ := parts[0]
	if i := strings.Index(typ, ":"); i >= 0 {
		typ = typ[i+1:]
	}
	if typ == "" || parts[1] == "" {
		return ""
	}
	return fmt.Sprintf("%s.%s", typ, parts[1])
}
