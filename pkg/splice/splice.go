// Package splice grafts donor graphs onto the named boundaries of a host
// graph.
//
// A pre-processing donor for boundary X holds a Placeholder X and a node
// X_processed; a post-processing donor holds a Placeholder X and a node
// X_postprocessed. After splicing, X is still the external name, bound to the
// donor's entry point (upstream) or the donor's final value (downstream).
//
// Every precondition is checked before the host is touched, so a failed
// splice leaves the host exactly as it was.
package splice

import (
	"context"
	"fmt"

	"k8s.io/klog/v2"

	"k8s.io/examples/AI/modelgraft/pkg/graph"
)

// AttachUpstream grafts donor in front of each input boundary in names.
// The host's Placeholder is replaced by the donor's, and every former
// consumer of it reads the donor's processed value instead.
func AttachUpstream(ctx context.Context, host, donor *graph.Graph, names []string) error {
	log := klog.FromContext(ctx)

	if len(names) == 0 {
		return nil
	}
	if err := validateUpstream(host, donor, names); err != nil {
		return fmt.Errorf("attaching pre-processing: %w", err)
	}

	for _, name := range names {
		if err := host.Rename(name, alias(name)); err != nil {
			return fmt.Errorf("attaching pre-processing: %w", err)
		}
	}
	if err := host.CopyFrom(donor); err != nil {
		return fmt.Errorf("attaching pre-processing: %w", err)
	}
	for _, name := range names {
		processed := name + processedSuffix
		n := host.Reroute(graph.Ref(alias(name), 0), graph.Ref(processed, 0))
		if err := host.Remove(alias(name)); err != nil {
			return fmt.Errorf("attaching pre-processing: %w", err)
		}
		log.V(2).Info("attached pre-processing", "boundary", name, "via", processed, "rerouted", n)
	}

	log.Info("attached pre-processing graph", "boundaries", names, "donorNodes", donor.Len(), "nodes", host.Len())
	return nil
}

// AttachDownstream grafts donor behind each output boundary in names. The
// host's producer feeds the donor's chain, and the donor's postprocessed
// node takes over the boundary name.
func AttachDownstream(ctx context.Context, host, donor *graph.Graph, names []string) error {
	log := klog.FromContext(ctx)

	if len(names) == 0 {
		return nil
	}
	if err := validateDownstream(host, donor, names); err != nil {
		return fmt.Errorf("attaching post-processing: %w", err)
	}

	for _, name := range names {
		if err := host.Rename(name, alias(name)); err != nil {
			return fmt.Errorf("attaching post-processing: %w", err)
		}
	}
	if err := host.CopyFrom(donor); err != nil {
		return fmt.Errorf("attaching post-processing: %w", err)
	}
	for _, name := range names {
		n := host.Reroute(graph.Ref(name, 0), graph.Ref(alias(name), 0))
		if err := host.Remove(name); err != nil {
			return fmt.Errorf("attaching post-processing: %w", err)
		}
		if err := host.Rename(name+postprocessedSuffix, name); err != nil {
			return fmt.Errorf("attaching post-processing: %w", err)
		}
		log.V(2).Info("attached post-processing", "boundary", name, "producer", alias(name), "rerouted", n)
	}

	log.Info("attached post-processing graph", "boundaries", names, "donorNodes", donor.Len(), "nodes", host.Len())
	return nil
}

// DonorBoundaries returns the names of the donor's Placeholders, which are
// the boundaries it expects to be attached to.
func DonorBoundaries(donor *graph.Graph) []string {
	var names []string
	for _, n := range donor.FilterByOpType(graph.OpPlaceholder) {
		names = append(names, n.Name)
	}
	return names
}
