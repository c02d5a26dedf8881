// Package graph is a mutable, name-indexed representation of a frozen
// dataflow graph.
//
// Edges are TensorRefs: (producer name, output slot) pairs resolved through
// the owning Graph's index rather than pointers, so a node can be renamed or
// replaced without chasing object identity. The graph enforces unique names
// at all times and owns its nodes exclusively.
//
// A Graph is not safe for concurrent mutation.
package graph

import (
	"fmt"
	"slices"
)

// Graph is an ordered collection of uniquely named nodes.
type Graph struct {
	nodes  []*Node
	byName map[string]*Node
}

func New() *Graph {
	return &Graph{
		byName: make(map[string]*Node),
	}
}

// Len returns the number of live nodes.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// Nodes returns the live nodes in insertion order. The slice is a copy; the
// nodes are not.
func (g *Graph) Nodes() []*Node {
	return slices.Clone(g.nodes)
}

// Names returns the names of the live nodes in insertion order.
func (g *Graph) Names() []string {
	names := make([]string, len(g.nodes))
	for i, n := range g.nodes {
		names[i] = n.Name
	}
	return names
}

func (g *Graph) Contains(name string) bool {
	_, ok := g.byName[name]
	return ok
}

// Get returns the node called name, or a *NotFoundError.
func (g *Graph) Get(name string) (*Node, error) {
	n, ok := g.byName[name]
	if !ok {
		return nil, &NotFoundError{Name: name}
	}
	return n, nil
}

// Resolve returns the producer of ref, checking that the slot exists.
func (g *Graph) Resolve(ref TensorRef) (*Node, error) {
	n, ok := g.byName[ref.Node]
	if !ok || ref.Slot < 0 || ref.Slot >= len(n.Outputs) {
		return nil, &NotFoundError{Name: ref.String()}
	}
	return n, nil
}

// Add inserts n. The graph takes ownership of n.
func (g *Graph) Add(n *Node) error {
	if n == nil || n.Name == "" {
		return fmt.Errorf("cannot add node without a name")
	}
	if g.Contains(n.Name) {
		return &DuplicateNameError{Name: n.Name}
	}
	g.nodes = append(g.nodes, n)
	g.byName[n.Name] = n
	return nil
}

// Rename changes the name of a node. Every input reference to the node's
// outputs follows it, so references stay valid across the rename.
func (g *Graph) Rename(oldName, newName string) error {
	n, ok := g.byName[oldName]
	if !ok {
		return &NotFoundError{Name: oldName}
	}
	if oldName == newName {
		return nil
	}
	if newName == "" {
		return fmt.Errorf("cannot rename %q to an empty name", oldName)
	}
	if g.Contains(newName) {
		return &DuplicateNameError{Name: newName}
	}

	delete(g.byName, oldName)
	n.Name = newName
	g.byName[newName] = n

	for _, consumer := range g.nodes {
		for i := range consumer.Inputs {
			if consumer.Inputs[i].Node == oldName {
				consumer.Inputs[i].Node = newName
			}
		}
	}
	return nil
}

// Remove deletes the node called name. It fails with a
// *DanglingReferenceError if any other node still consumes one of its
// outputs.
func (g *Graph) Remove(name string) error {
	return g.RemoveNodes(name)
}

// RemoveNodes deletes a set of nodes at once. References between members of
// the set are allowed; references from surviving nodes are not. Nothing is
// removed if any check fails.
func (g *Graph) RemoveNodes(names ...string) error {
	if len(names) == 0 {
		return nil
	}
	doomed := make(map[string]bool, len(names))
	for _, name := range names {
		if !g.Contains(name) {
			return &NotFoundError{Name: name}
		}
		doomed[name] = true
	}

	for _, n := range g.nodes {
		if doomed[n.Name] {
			continue
		}
		for _, in := range n.Inputs {
			if doomed[in.Node] {
				return &DanglingReferenceError{Name: in.Node, Consumer: n.Name}
			}
		}
	}

	g.nodes = slices.DeleteFunc(g.nodes, func(n *Node) bool {
		return doomed[n.Name]
	})
	for name := range doomed {
		delete(g.byName, name)
	}
	return nil
}

// FilterByOpType returns the nodes with the given op, in graph order.
func (g *Graph) FilterByOpType(op string) []*Node {
	var matches []*Node
	for _, n := range g.nodes {
		if n.Op == op {
			matches = append(matches, n)
		}
	}
	return matches
}

// CopyFrom deep-copies every node of src into g. If any name in src is
// already taken in g it fails with a *DuplicateNameError before copying
// anything.
func (g *Graph) CopyFrom(src *Graph) error {
	for _, n := range src.nodes {
		if g.Contains(n.Name) {
			return &DuplicateNameError{Name: n.Name}
		}
	}

	copies := make([]*Node, 0, len(src.nodes))
	for _, n := range src.nodes {
		c, err := n.DeepCopy()
		if err != nil {
			return err
		}
		copies = append(copies, c)
	}
	for _, c := range copies {
		g.nodes = append(g.nodes, c)
		g.byName[c.Name] = c
	}
	return nil
}

// Clone returns a deep copy of g.
func (g *Graph) Clone() (*Graph, error) {
	c := New()
	if err := c.CopyFrom(g); err != nil {
		return nil, err
	}
	return c, nil
}

// Reroute rewrites every input equal to from so that it reads to instead.
// It returns the number of inputs rewritten and never removes nodes.
func (g *Graph) Reroute(from, to TensorRef) int {
	count := 0
	for _, n := range g.nodes {
		for i := range n.Inputs {
			if n.Inputs[i] == from {
				n.Inputs[i] = to
				count++
			}
		}
	}
	return count
}

// Consumers returns the nodes that read any output of the node called name.
// A node appears once even if it reads several outputs.
func (g *Graph) Consumers(name string) []*Node {
	var consumers []*Node
	for _, n := range g.nodes {
		for _, in := range n.Inputs {
			if in.Node == name {
				consumers = append(consumers, n)
				break
			}
		}
	}
	return consumers
}

// ConsumerCount returns the number of input slots, across all nodes, that
// read ref.
func (g *Graph) ConsumerCount(ref TensorRef) int {
	count := 0
	for _, n := range g.nodes {
		for _, in := range n.Inputs {
			if in == ref {
				count++
			}
		}
	}
	return count
}

// UniqueName returns base if it is free, otherwise base_1, base_2, ...
func (g *Graph) UniqueName(base string) string {
	if !g.Contains(base) {
		return base
	}
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s_%d", base, i)
		if !g.Contains(candidate) {
			return candidate
		}
	}
}

// CheckReferences verifies that every input of every node resolves to an
// existing output slot.
func (g *Graph) CheckReferences() error {
	for _, n := range g.nodes {
		for i, in := range n.Inputs {
			if _, err := g.Resolve(in); err != nil {
				return fmt.Errorf("input %d of node %q: %w", i, n.Name, err)
			}
		}
	}
	return nil
}
