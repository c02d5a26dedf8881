package engine

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"k8s.io/examples/AI/modelgraft/pkg/graph"
)

func TestBuildDAG(t *testing.T) {
	g := graph.New()
	// Inserted out of dependency order on purpose.
	for _, n := range []*graph.Node{
		graph.NewNode("out", graph.OpIdentity, graph.Ref("mid", 0)),
		graph.NewNode("mid", "Square", graph.Ref("in", 0)),
		graph.NewNode("in", graph.OpPlaceholder),
		graph.NewNode("loop_a", graph.OpIdentity, graph.Ref("loop_b", 0)),
		graph.NewNode("loop_b", graph.OpIdentity, graph.Ref("loop_a", 0)),
	} {
		if err := g.Add(n); err != nil {
			t.Fatal(err)
		}
	}

	order, err := BuildDAG(g, []string{"out"})
	if err != nil {
		t.Fatalf("BuildDAG: %v", err)
	}
	if diff := cmp.Diff([]string{"in", "mid", "out"}, order); diff != "" {
		t.Errorf("unexpected order (-want +got):\n%s", diff)
	}

	if _, err := BuildDAG(g, []string{"loop_a"}); err == nil {
		t.Errorf("expected an error for a node on a cycle")
	}
}

func TestAncestors(t *testing.T) {
	g := graph.New()
	for _, n := range []*graph.Node{
		graph.NewNode("a", graph.OpPlaceholder),
		graph.NewNode("b", graph.OpIdentity, graph.Ref("a", 0)),
		graph.NewNode("c", graph.OpPlaceholder),
	} {
		if err := g.Add(n); err != nil {
			t.Fatal(err)
		}
	}
	got := Ancestors(g, []string{"b", "missing"})
	if diff := cmp.Diff(map[string]bool{"a": true, "b": true}, got); diff != "" {
		t.Errorf("unexpected ancestors (-want +got):\n%s", diff)
	}
}
