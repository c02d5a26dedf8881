// Package model supplies the graphs and boundary names of the model being
// grafted.
package model

import (
	"context"
	"fmt"

	"k8s.io/examples/AI/modelgraft/pkg/graph"
)

// Provider is the source of everything a graft run consumes. Graph methods
// return graphs the caller owns and may mutate.
type Provider interface {
	FrozenGraph(ctx context.Context) (*graph.Graph, error)
	InputNodeNames() []string
	OutputNodeNames() []string
	// PreProcessingGraph returns the donor attached in front of the inputs.
	// Its Placeholders name the boundaries it is attached to.
	PreProcessingGraph(ctx context.Context) (*graph.Graph, error)
	// PostProcessingGraph returns the donor attached behind the outputs.
	PostProcessingGraph(ctx context.Context) (*graph.Graph, error)
}

// StaticProvider serves graphs held in memory. Each call returns a fresh
// copy. A nil donor graph is served as an empty graph.
type StaticProvider struct {
	Frozen  *graph.Graph
	Pre     *graph.Graph
	Post    *graph.Graph
	Inputs  []string
	Outputs []string
}

var _ Provider = &StaticProvider{}

func (p *StaticProvider) FrozenGraph(ctx context.Context) (*graph.Graph, error) {
	if p.Frozen == nil {
		return nil, fmt.Errorf("no frozen graph")
	}
	return p.Frozen.Clone()
}

func (p *StaticProvider) InputNodeNames() []string {
	return append([]string(nil), p.Inputs...)
}

func (p *StaticProvider) OutputNodeNames() []string {
	return append([]string(nil), p.Outputs...)
}

func (p *StaticProvider) PreProcessingGraph(ctx context.Context) (*graph.Graph, error) {
	return cloneOrEmpty(p.Pre)
}

func (p *StaticProvider) PostProcessingGraph(ctx context.Context) (*graph.Graph, error) {
	return cloneOrEmpty(p.Post)
}

func cloneOrEmpty(g *graph.Graph) (*graph.Graph, error) {
	if g == nil {
		return graph.New(), nil
	}
	return g.Clone()
}
