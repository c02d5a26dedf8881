package main

import (
	"fmt"

	"github.com/xlab/treeprint"

	"k8s.io/examples/AI/modelgraft/pkg/graph"
)

// describe renders g as a tree hanging from the nodes nothing consumes.
// A node reached a second time is printed without its inputs.
func describe(g *graph.Graph) treeprint.Tree {
	consumed := make(map[string]bool)
	for _, n := range g.Nodes() {
		for _, in := range n.Inputs {
			consumed[in.Node] = true
		}
	}

	tree := treeprint.NewWithRoot(fmt.Sprintf("graph (%d nodes)", g.Len()))
	seen := make(map[string]bool)
	for _, n := range g.Nodes() {
		if !consumed[n.Name] {
			addNode(tree, g, n, "", seen)
		}
	}
	return tree
}

func addNode(parent treeprint.Tree, g *graph.Graph, n *graph.Node, slot string, seen map[string]bool) {
	label := n.Name + slot + " [" + n.Op + "]"
	if n.IsConst() {
		label += fmt.Sprintf(" %v", n.Value.Shape)
	}
	if seen[n.Name] {
		parent.AddNode(label + " ...")
		return
	}
	seen[n.Name] = true
	if len(n.Inputs) == 0 {
		parent.AddNode(label)
		return
	}

	branch := parent.AddBranch(label)
	for _, in := range n.Inputs {
		producer, err := g.Resolve(in)
		if err != nil {
			branch.AddNode(in.String() + " [missing]")
			continue
		}
		s := ""
		if in.Slot != 0 {
			s = fmt.Sprintf(":%d", in.Slot)
		}
		addNode(branch, g, producer, s, seen)
	}
}
