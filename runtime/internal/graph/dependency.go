package graph

import (
	"fmt"
	"sort"
	"strings"
)

// Node is a plugin and the plugins it requires.
type Node struct {
	ID       string
	Requires []Edge
}

// Edge is one requirement of a node.
type Edge struct {
	ID       string
	Optional bool
}

// Graph represents the requires graph between installed plugins
type Graph struct {
	nodes map[string]Node

	// edges maps plugin id to the plugins it depends on
	edges map[string][]string

	// reverseEdges maps plugin id to the plugins that depend on it
	reverseEdges map[string][]string
}

// BuildGraph constructs a dependency graph from plugin requires.
// A missing optional requirement is dropped; a missing mandatory one is an
// error unless lenient is set, in which case it is dropped as well.
func BuildGraph(nodes []Node, lenient bool) (*Graph, error) {
	g := &Graph{
		nodes:        make(map[string]Node),
		edges:        make(map[string][]string),
		reverseEdges: make(map[string][]string),
	}

	// First pass: register all nodes
	for _, n := range nodes {
		g.nodes[n.ID] = n
		g.edges[n.ID] = []string{}
		g.reverseEdges[n.ID] = []string{}
	}

	// Second pass: build edges
	for _, n := range nodes {
		for _, dep := range n.Requires {
			if _, exists := g.nodes[dep.ID]; !exists {
				if dep.Optional || lenient {
					continue
				}
				return nil, &GraphError{
					Type:     ErrorMissingDependency,
					PluginID: n.ID,
					Message:  fmt.Sprintf("plugin '%s' requires '%s' which is not installed", n.ID, dep.ID),
					Details: map[string]string{
						"dependency": dep.ID,
					},
				}
			}

			g.edges[n.ID] = append(g.edges[n.ID], dep.ID)
			g.reverseEdges[dep.ID] = append(g.reverseEdges[dep.ID], n.ID)
		}
	}

	if cycle := g.findCycle(); cycle != nil {
		return nil, &GraphError{
			Type:     ErrorCircularDependency,
			PluginID: cycle[0],
			Message:  fmt.Sprintf("circular dependency detected: %s", strings.Join(cycle, " → ")),
			Details: map[string]string{
				"cycle": strings.Join(cycle, " → "),
			},
		}
	}

	return g, nil
}

// TopologicalSort returns plugin ids in dependency order (dependencies first).
// Ties are broken by id so the order is stable.
func (g *Graph) TopologicalSort() ([]string, error) {
	inDegree := make(map[string]int)
	for node := range g.nodes {
		inDegree[node] = len(g.edges[node])
	}

	queue := []string{}
	for _, node := range g.Nodes() {
		if inDegree[node] == 0 {
			queue = append(queue, node)
		}
	}

	result := []string{}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		result = append(result, current)

		dependents := append([]string(nil), g.reverseEdges[current]...)
		sort.Strings(dependents)
		for _, dependent := range dependents {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	if len(result) != len(g.nodes) {
		cycle := g.findCycle()
		return nil, &GraphError{
			Type:     ErrorCircularDependency,
			PluginID: cycle[0],
			Message:  fmt.Sprintf("circular dependency prevents ordering: %s", strings.Join(cycle, " → ")),
			Details: map[string]string{
				"cycle": strings.Join(cycle, " → "),
			},
		}
	}

	return result, nil
}

// findCycle detects and returns a cycle in the graph, or nil if no cycle exists
// Uses DFS with recursion stack tracking
func (g *Graph) findCycle() []string {
	visited := make(map[string]bool)
	recStack := make(map[string]bool)
	parent := make(map[string]string)

	var dfs func(node string) []string

	dfs = func(node string) []string {
		visited[node] = true
		recStack[node] = true

		for _, dep := range g.edges[node] {
			if !visited[dep] {
				parent[dep] = node
				if cycle := dfs(dep); cycle != nil {
					return cycle
				}
			} else if recStack[dep] {
				cycle := []string{dep}
				current := node
				for current != dep {
					cycle = append([]string{current}, cycle...)
					current = parent[current]
				}
				cycle = append(cycle, dep)
				return cycle
			}
		}

		recStack[node] = false
		return nil
	}

	for _, node := range g.Nodes() {
		if !visited[node] {
			if cycle := dfs(node); cycle != nil {
				return cycle
			}
		}
	}

	return nil
}

// Nodes returns all plugin ids in the graph, sorted
func (g *Graph) Nodes() []string {
	nodes := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		nodes = append(nodes, id)
	}
	sort.Strings(nodes)
	return nodes
}

// GraphError represents errors that occur during graph operations
type GraphError struct {
	Type     ErrorType
	PluginID string
	Message  string
	Details  map[string]string
}

func (e *GraphError) Error() string {
	return e.Message
}

// ErrorType represents different types of graph errors
type ErrorType int

const (
	ErrorMissingDependency ErrorType = iota
	ErrorCircularDependency
)

func (t ErrorType) String() string {
	switch t {
	case ErrorMissingDependency:
		return "MissingDependency"
	case ErrorCircularDependency:
		return "CircularDependency"
	default:
		return "Unknown"
	}
}
