package splice

import (
	"fmt"

	"k8s.io/examples/AI/modelgraft/pkg/graph"
)

const (
	// aliasPrefix is prepended to a host boundary node's name while the donor
	// claims the name.
	aliasPrefix = "__original__"

	processedSuffix     = "_processed"
	postprocessedSuffix = "_postprocessed"
)

func alias(name string) string {
	return aliasPrefix + name
}

// validateUpstream checks everything AttachUpstream relies on, so that a
// failure leaves host untouched.
func validateUpstream(host, donor *graph.Graph, names []string) error {
	if err := checkDistinct(names); err != nil {
		return err
	}
	for _, name := range names {
		if err := checkPlaceholder(host, "host", name); err != nil {
			return err
		}
		if err := checkPlaceholder(donor, "donor", name); err != nil {
			return err
		}
		if err := checkProducer(donor, name, name+processedSuffix); err != nil {
			return err
		}
	}
	return checkCollisions(host, donor, names)
}

// validateDownstream checks everything AttachDownstream relies on, so that a
// failure leaves host untouched.
func validateDownstream(host, donor *graph.Graph, names []string) error {
	if err := checkDistinct(names); err != nil {
		return err
	}
	for _, name := range names {
		n, err := host.Get(name)
		if err != nil {
			return &graph.ContractViolationError{Boundary: name, Reason: "host graph has no node with this name"}
		}
		if n.NumOutputs() != 1 {
			return &graph.ContractViolationError{
				Boundary: name,
				Reason:   fmt.Sprintf("output node must have exactly one output slot, has %d", n.NumOutputs()),
			}
		}
		if err := checkPlaceholder(donor, "donor", name); err != nil {
			return err
		}
		if err := checkProducer(donor, name, name+postprocessedSuffix); err != nil {
			return err
		}
		// The companion takes over the output name, so it must keep one slot.
		if c, _ := donor.Get(name + postprocessedSuffix); c.NumOutputs() != 1 {
			return &graph.ContractViolationError{
				Boundary: name,
				Reason:   fmt.Sprintf("donor node %q must have exactly one output slot, has %d", c.Name, c.NumOutputs()),
			}
		}
	}
	return checkCollisions(host, donor, names)
}

func checkDistinct(names []string) error {
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		if name == "" {
			return &graph.ContractViolationError{Boundary: name, Reason: "empty boundary name"}
		}
		if seen[name] {
			return &graph.ContractViolationError{Boundary: name, Reason: "boundary listed more than once"}
		}
		seen[name] = true
	}
	return nil
}

func checkPlaceholder(g *graph.Graph, role, name string) error {
	n, err := g.Get(name)
	if err != nil {
		return &graph.ContractViolationError{Boundary: name, Reason: role + " graph has no Placeholder with this name"}
	}
	if n.Op != graph.OpPlaceholder {
		return &graph.ContractViolationError{
			Boundary: name,
			Reason:   fmt.Sprintf("%s node is a %s, not a Placeholder", role, n.Op),
		}
	}
	if n.NumOutputs() != 1 {
		return &graph.ContractViolationError{
			Boundary: name,
			Reason:   fmt.Sprintf("%s Placeholder must have exactly one output slot, has %d", role, n.NumOutputs()),
		}
	}
	return nil
}

func checkProducer(donor *graph.Graph, boundary, name string) error {
	n, err := donor.Get(name)
	if err != nil {
		return &graph.ContractViolationError{Boundary: boundary, Reason: fmt.Sprintf("donor graph has no node %q", name)}
	}
	if n.NumOutputs() == 0 {
		return &graph.ContractViolationError{Boundary: boundary, Reason: fmt.Sprintf("donor node %q has no outputs", name)}
	}
	return nil
}

// checkCollisions verifies that renaming the boundaries to their aliases and
// then copying donor into host will not clash on any name.
func checkCollisions(host, donor *graph.Graph, names []string) error {
	boundary := make(map[string]bool, len(names))
	for _, name := range names {
		boundary[name] = true
		a := alias(name)
		if host.Contains(a) || donor.Contains(a) {
			return &graph.DuplicateNameError{Name: a}
		}
	}
	for _, n := range donor.Nodes() {
		if boundary[n.Name] {
			continue
		}
		if host.Contains(n.Name) {
			return &graph.DuplicateNameError{Name: n.Name}
		}
	}
	return nil
}
