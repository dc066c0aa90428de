package graph

import (
	"strings"
	"testing"
)

func require(ids ...string) []Edge {
	edges := make([]Edge, len(ids))
	for i, id := range ids {
		edges[i] = Edge{ID: id}
	}
	return edges
}

func indexOf(slice []string, item string) int {
	for i, v := range slice {
		if v == item {
			return i
		}
	}
	return -1
}

func TestBuildGraph_NoDependencies(t *testing.T) {
	nodes := []Node{
		{ID: "org.gimo.a"},
		{ID: "org.gimo.b"},
	}

	graph, err := BuildGraph(nodes, false)
	if err != nil {
		t.Fatalf("BuildGraph failed: %v", err)
	}

	if len(graph.Nodes()) != 2 {
		t.Errorf("Expected 2 nodes, got %d", len(graph.Nodes()))
	}

	if _, err := graph.TopologicalSort(); err != nil {
		t.Errorf("Expected no cycle in graph, got %v", err)
	}
}

func TestBuildGraph_LinearChain(t *testing.T) {
	// a → b → c
	nodes := []Node{
		{ID: "a", Requires: require("b")},
		{ID: "b", Requires: require("c")},
		{ID: "c"},
	}

	graph, err := BuildGraph(nodes, false)
	if err != nil {
		t.Fatalf("BuildGraph failed: %v", err)
	}

	order, err := graph.TopologicalSort()
	if err != nil {
		t.Fatalf("TopologicalSort failed: %v", err)
	}
	if strings.Join(order, ",") != "c,b,a" {
		t.Errorf("Expected order c,b,a, got %v", order)
	}
}

func TestTopologicalSort_DiamondDependency(t *testing.T) {
	//     a
	//    / \
	//   b   c
	//    \ /
	//     d
	nodes := []Node{
		{ID: "a", Requires: require("b", "c")},
		{ID: "b", Requires: require("d")},
		{ID: "c", Requires: require("d")},
		{ID: "d"},
	}

	graph, err := BuildGraph(nodes, false)
	if err != nil {
		t.Fatalf("BuildGraph failed: %v", err)
	}

	order, err := graph.TopologicalSort()
	if err != nil {
		t.Fatalf("TopologicalSort failed: %v", err)
	}

	want := []string{"d", "b", "c", "a"}
	if strings.Join(order, ",") != strings.Join(want, ",") {
		t.Errorf("Expected order %v, got %v", want, order)
	}
}

func TestTopologicalSort_Deterministic(t *testing.T) {
	nodes := []Node{
		{ID: "zeta"},
		{ID: "alpha"},
		{ID: "mid", Requires: require("zeta")},
	}

	graph, err := BuildGraph(nodes, false)
	if err != nil {
		t.Fatalf("BuildGraph failed: %v", err)
	}

	for i := 0; i < 10; i++ {
		order, err := graph.TopologicalSort()
		if err != nil {
			t.Fatalf("TopologicalSort failed: %v", err)
		}
		if strings.Join(order, ",") != "alpha,zeta,mid" {
			t.Fatalf("Unexpected order %v", order)
		}
	}
}

func TestBuildGraph_SimpleCycle(t *testing.T) {
	nodes := []Node{
		{ID: "a", Requires: require("b")},
		{ID: "b", Requires: require("a")},
	}

	_, err := BuildGraph(nodes, false)
	if err == nil {
		t.Fatal("Expected error for circular dependency")
	}

	graphErr, ok := err.(*GraphError)
	if !ok {
		t.Fatalf("Expected GraphError, got %T", err)
	}

	if graphErr.Type != ErrorCircularDependency {
		t.Errorf("Expected ErrorCircularDependency, got %v", graphErr.Type)
	}

	if !strings.Contains(graphErr.Message, "circular dependency") {
		t.Errorf("Expected 'circular dependency' in error message, got: %s", graphErr.Message)
	}
}

func TestBuildGraph_MissingDependency(t *testing.T) {
	nodes := []Node{
		{ID: "a", Requires: require("b")},
	}

	_, err := BuildGraph(nodes, false)
	if err == nil {
		t.Fatal("Expected error for missing dependency")
	}

	graphErr, ok := err.(*GraphError)
	if !ok {
		t.Fatalf("Expected GraphError, got %T", err)
	}

	if graphErr.Type != ErrorMissingDependency {
		t.Errorf("Expected ErrorMissingDependency, got %v", graphErr.Type)
	}

	if graphErr.PluginID != "a" {
		t.Errorf("Expected error on plugin 'a', got '%s'", graphErr.PluginID)
	}

	if graphErr.Details["dependency"] != "b" {
		t.Errorf("Expected dependency 'b' in details, got %v", graphErr.Details)
	}
}

func TestBuildGraph_MissingOptionalDependency(t *testing.T) {
	nodes := []Node{
		{ID: "a", Requires: []Edge{{ID: "b", Optional: true}}},
	}

	graph, err := BuildGraph(nodes, false)
	if err != nil {
		t.Fatalf("BuildGraph failed: %v", err)
	}

	order, err := graph.TopologicalSort()
	if err != nil {
		t.Fatalf("TopologicalSort failed: %v", err)
	}
	if len(order) != 1 || order[0] != "a" {
		t.Errorf("Expected optional missing dependency to be dropped, got %v", order)
	}
}

func TestBuildGraph_Lenient(t *testing.T) {
	nodes := []Node{
		{ID: "a", Requires: require("missing", "c")},
		{ID: "c"},
	}

	graph, err := BuildGraph(nodes, true)
	if err != nil {
		t.Fatalf("BuildGraph failed: %v", err)
	}

	order, err := graph.TopologicalSort()
	if err != nil {
		t.Fatalf("TopologicalSort failed: %v", err)
	}

	if indexOf(order, "c") > indexOf(order, "a") {
		t.Errorf("Expected c before a, got %v", order)
	}
}

func TestErrorType_String(t *testing.T) {
	tests := []struct {
		errType  ErrorType
		expected string
	}{
		{ErrorMissingDependency, "MissingDependency"},
		{ErrorCircularDependency, "CircularDependency"},
		{ErrorType(99), "Unknown"},
	}

	for _, tt := range tests {
		if got := tt.errType.String(); got != tt.expected {
			t.Errorf("ErrorType(%d).String() = %s, want %s", tt.errType, got, tt.expected)
		}
	}
}
