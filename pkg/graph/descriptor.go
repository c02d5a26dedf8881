package graph

import (
	"fmt"
	"os"

	"github.com/Masterminds/semver/v3"
	"sigs.k8s.io/yaml"
)

// FormatVersion is written into every encoded descriptor.
const FormatVersion = "1.0.0"

// supportedFormats is the range of descriptor versions Decode accepts.
const supportedFormats = "^1.0"

// descriptor is the serialized form of a graph, in YAML or JSON.
type descriptor struct {
	Version string           `json:"version"`
	Nodes   []nodeDescriptor `json:"nodes"`
}

type nodeDescriptor struct {
	Name   string   `json:"name"`
	Op     string   `json:"op"`
	Inputs []string `json:"inputs,omitempty"`
	// Outputs is omitted for the common single default output; an explicit
	// empty list declares a node with no outputs.
	Outputs *[]string         `json:"outputs,omitempty"`
	Attrs   map[string]any    `json:"attrs,omitempty"`
	Value   *tensorDescriptor `json:"value,omitempty"`
}

type tensorDescriptor struct {
	Shape  []int     `json:"shape,omitempty"`
	Values []float32 `json:"values"`
}

// Decode parses a graph descriptor. The descriptor must carry a supported
// format version and be well formed: unique names and no dangling inputs.
func Decode(data []byte) (*Graph, error) {
	var d descriptor
	if err := yaml.UnmarshalStrict(data, &d); err != nil {
		return nil, fmt.Errorf("parsing graph descriptor: %w", err)
	}
	if err := checkVersion(d.Version); err != nil {
		return nil, err
	}

	g := New()
	for i, nd := range d.Nodes {
		n, err := nd.toNode()
		if err != nil {
			return nil, fmt.Errorf("node %d (%q): %w", i, nd.Name, err)
		}
		if err := g.Add(n); err != nil {
			return nil, fmt.Errorf("node %d: %w", i, err)
		}
	}
	if err := g.CheckReferences(); err != nil {
		return nil, fmt.Errorf("invalid graph descriptor: %w", err)
	}
	return g, nil
}

// Encode serializes g as a YAML descriptor.
func Encode(g *Graph) ([]byte, error) {
	d := descriptor{
		Version: FormatVersion,
		Nodes:   make([]nodeDescriptor, 0, g.Len()),
	}
	for _, n := range g.nodes {
		d.Nodes = append(d.Nodes, fromNode(n))
	}
	data, err := yaml.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("encoding graph descriptor: %w", err)
	}
	return data, nil
}

// ReadFile decodes the descriptor stored at path.
func ReadFile(path string) (*Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading graph descriptor: %w", err)
	}
	g, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("decoding %q: %w", path, err)
	}
	return g, nil
}

// WriteFile encodes g and writes it to path.
func WriteFile(path string, g *Graph) error {
	data, err := Encode(g)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing graph descriptor: %w", err)
	}
	return nil
}

func checkVersion(raw string) error {
	if raw == "" {
		return fmt.Errorf("graph descriptor has no version")
	}
	v, err := semver.NewVersion(raw)
	if err != nil {
		return fmt.Errorf("parsing graph descriptor version %q: %w", raw, err)
	}
	c, err := semver.NewConstraint(supportedFormats)
	if err != nil {
		return fmt.Errorf("parsing constraint %q: %w", supportedFormats, err)
	}
	if !c.Check(v) {
		return fmt.Errorf("graph descriptor version %s is not supported (want %s)", v, supportedFormats)
	}
	return nil
}

func (nd *nodeDescriptor) toNode() (*Node, error) {
	if nd.Name == "" {
		return nil, fmt.Errorf("node has no name")
	}
	if nd.Op == "" {
		return nil, fmt.Errorf("node has no op")
	}
	n := &Node{
		Name:    nd.Name,
		Op:      nd.Op,
		Attrs:   nd.Attrs,
		Outputs: []string{DefaultOutput},
	}
	if nd.Outputs != nil {
		n.Outputs = append([]string{}, (*nd.Outputs)...)
	}
	for _, s := range nd.Inputs {
		ref, err := ParseTensorRef(s)
		if err != nil {
			return nil, err
		}
		n.Inputs = append(n.Inputs, ref)
	}
	if nd.Value != nil {
		t, err := NewTensor(nd.Value.Shape, nd.Value.Values)
		if err != nil {
			return nil, fmt.Errorf("value: %w", err)
		}
		n.Value = t
	}
	if n.Op == OpConst && n.Value == nil {
		return nil, fmt.Errorf("Const node has no value")
	}
	return n, nil
}

func fromNode(n *Node) nodeDescriptor {
	nd := nodeDescriptor{
		Name:  n.Name,
		Op:    n.Op,
		Attrs: n.Attrs,
	}
	if len(n.Outputs) != 1 || n.Outputs[0] != DefaultOutput {
		outputs := append([]string{}, n.Outputs...)
		nd.Outputs = &outputs
	}
	for _, in := range n.Inputs {
		nd.Inputs = append(nd.Inputs, in.String())
	}
	if n.Value != nil {
		nd.Value = &tensorDescriptor{Shape: n.Value.Shape, Values: n.Value.Values}
	}
	return nd
}
