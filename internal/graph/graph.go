// Package graph holds the service dependency graph used for impact-path analysis.
//
// An edge From->To means To depends on From: a failure in From propagates to
// To. Downstream therefore follows edges forward and upstream follows them
// backward.
package graph

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/miradorstack/mirador-remediation/internal/models"
)

type edgeKey struct {
	from, to string
}

// Graph is a directed, possibly cyclic, graph of services. It is safe for
// concurrent use; mutations are idempotent.
type Graph struct {
	mu         sync.RWMutex
	nodes      map[string]models.ServiceNode
	nodeOrder  []string
	edges      []models.DependencyEdge
	edgeSet    map[edgeKey]struct{}
	downstream map[string][]string
	upstream   map[string][]string
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{
		nodes:      make(map[string]models.ServiceNode),
		edgeSet:    make(map[edgeKey]struct{}),
		downstream: make(map[string][]string),
		upstream:   make(map[string][]string),
	}
}

// FromSnapshot builds a graph from a static definition.
func FromSnapshot(s models.GraphSnapshot) *Graph {
	g := New()
	for _, node := range s.Services {
		g.AddNode(node)
	}
	for _, edge := range s.Dependencies {
		g.AddEdge(edge)
	}
	return g
}

// AddNode inserts a node. It reports false when the id already exists.
func (g *Graph) AddNode(node models.ServiceNode) bool {
	if node.ID == "" {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.addNodeLocked(node)
}

func (g *Graph) addNodeLocked(node models.ServiceNode) bool {
	if _, ok := g.nodes[node.ID]; ok {
		return false
	}
	if node.Name == "" {
		node.Name = node.ID
	}
	g.nodes[node.ID] = node
	g.nodeOrder = append(g.nodeOrder, node.ID)
	return true
}

// AddEdge inserts an edge, creating missing endpoints. An edge is identified
// by its endpoints; adding the same pair again is a no-op and reports false.
func (g *Graph) AddEdge(edge models.DependencyEdge) bool {
	if edge.From == "" || edge.To == "" {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	key := edgeKey{from: edge.From, to: edge.To}
	if _, ok := g.edgeSet[key]; ok {
		return false
	}
	g.addNodeLocked(models.ServiceNode{ID: edge.From})
	g.addNodeLocked(models.ServiceNode{ID: edge.To})

	g.edgeSet[key] = struct{}{}
	g.edges = append(g.edges, edge)
	g.downstream[edge.From] = append(g.downstream[edge.From], edge.To)
	g.upstream[edge.To] = append(g.upstream[edge.To], edge.From)
	return true
}

// Node returns the node with the given id.
func (g *Graph) Node(id string) (models.ServiceNode, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	node, ok := g.nodes[id]
	return node, ok
}

// Upstream lists the services id depends on. Unknown ids yield an empty slice.
func (g *Graph) Upstream(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]string{}, g.upstream[id]...)
}

// Downstream lists the services that depend on id. Unknown ids yield an empty slice.
func (g *Graph) Downstream(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]string{}, g.downstream[id]...)
}

// ImpactPath returns every service reachable downstream from root in BFS
// discovery order, root first. Each service appears once even on cycles.
func (g *Graph) ImpactPath(root string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	visited := map[string]struct{}{root: {}}
	path := []string{}
	queue := []string{root}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		path = append(path, current)
		for _, next := range g.downstream[current] {
			if _, seen := visited[next]; seen {
				continue
			}
			visited[next] = struct{}{}
			queue = append(queue, next)
		}
	}
	return path
}

// DependencyChain searches breadth-first along upstream edges from `from`
// until it reaches `to`, returning the path in that order. It returns an empty
// slice when `to` is not something `from` (transitively) depends on.
func (g *Graph) DependencyChain(from, to string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if from == to {
		return []string{from}
	}
	parent := map[string]string{from: ""}
	queue := []string{from}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, next := range g.upstream[current] {
			if _, seen := parent[next]; seen {
				continue
			}
			parent[next] = current
			if next == to {
				return unwind(parent, from, to)
			}
			queue = append(queue, next)
		}
	}
	return []string{}
}

func unwind(parent map[string]string, from, to string) []string {
	path := []string{to}
	for node := to; node != from; {
		node = parent[node]
		path = append(path, node)
	}
	slices.Reverse(path)
	return path
}

// Snapshot returns a copy of the graph in definition form.
func (g *Graph) Snapshot() models.GraphSnapshot {
	g.mu.RLock()
	defer g.mu.RUnlock()

	snap := models.GraphSnapshot{
		Services:     make([]models.ServiceNode, 0, len(g.nodeOrder)),
		Dependencies: append([]models.DependencyEdge{}, g.edges...),
	}
	for _, id := range g.nodeOrder {
		snap.Services = append(snap.Services, g.nodes[id])
	}
	return snap
}

// NodeIDs returns node ids in insertion order.
func (g *Graph) NodeIDs() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]string(nil), g.nodeOrder...)
}

// Size returns the node and edge counts.
func (g *Graph) Size() (nodes, edges int) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes), len(g.edges)
}

// ServiceContext renders a short human-readable description of the given
// services and their neighbours, for use as analysis prompt context.
func (g *Graph) ServiceContext(ids []string) string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	lines := []string{"Service Dependency Context:"}
	for _, id := range ids {
		node, ok := g.nodes[id]
		if !ok {
			continue
		}
		lines = append(lines, fmt.Sprintf("- %s (%s): depends on [%s], depended on by [%s]",
			node.Name, node.ID,
			strings.Join(g.upstream[id], ", "),
			strings.Join(g.downstream[id], ", ")))
	}
	return strings.Join(lines, "\n")
}
