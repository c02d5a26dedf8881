package graph

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mitchellh/copystructure"
)

// Op type tags that the editor and the rewrite passes know about.
const (
	OpPlaceholder   = "Placeholder"
	OpConst         = "Const"
	OpIdentity      = "Identity"
	OpCheckNumerics = "CheckNumerics"
	OpMatMul        = "MatMul"
	OpConv2D        = "Conv2D"
	OpBiasAdd       = "BiasAdd"
	OpMul           = "Mul"

	OpFusedBatchNorm                   = "FusedBatchNorm"
	OpFusedBatchNormV3                 = "FusedBatchNormV3"
	OpBatchNormWithGlobalNormalization = "BatchNormWithGlobalNormalization"
)

// DefaultOutput is the slot name given to nodes that do not declare their
// outputs.
const DefaultOutput = "output"

// TensorRef names one output slot of a node. It is a weak reference: it is
// only valid while the graph holds a node called Node with more than Slot
// outputs.
type TensorRef struct {
	Node string
	Slot int
}

func Ref(node string, slot int) TensorRef {
	return TensorRef{Node: node, Slot: slot}
}

// String renders the reference as "name" for slot 0 and "name:slot" otherwise.
func (r TensorRef) String() string {
	if r.Slot == 0 {
		return r.Node
	}
	return r.Node + ":" + strconv.Itoa(r.Slot)
}

// ParseTensorRef parses "name" or "name:slot".
func ParseTensorRef(s string) (TensorRef, error) {
	if s == "" {
		return TensorRef{}, fmt.Errorf("empty tensor reference")
	}
	if strings.HasPrefix(s, "^") {
		return TensorRef{}, fmt.Errorf("control input %q is not supported", s)
	}
	i := strings.LastIndexByte(s, ':')
	if i < 0 {
		return TensorRef{Node: s}, nil
	}
	slot, err := strconv.Atoi(s[i+1:])
	if err != nil || slot < 0 {
		return TensorRef{}, fmt.Errorf("invalid output slot in tensor reference %q", s)
	}
	if i == 0 {
		return TensorRef{}, fmt.Errorf("missing node name in tensor reference %q", s)
	}
	return TensorRef{Node: s[:i], Slot: slot}, nil
}

// Node is one operation in a graph.
//
// Name must only be changed through Graph.Rename, which keeps the graph's
// index and every reference to the node consistent.
type Node struct {
	Name   string
	Op     string
	Inputs []TensorRef
	// Outputs holds the names of the node's output slots; its length is the
	// node's output arity.
	Outputs []string
	Attrs   map[string]any
	// Value is the payload of a Const node.
	Value *Tensor
}

// NewNode returns a node with a single default output slot.
func NewNode(name, op string, inputs ...TensorRef) *Node {
	return &Node{
		Name:    name,
		Op:      op,
		Inputs:  inputs,
		Outputs: []string{DefaultOutput},
	}
}

// NewConst returns a Const node producing value.
func NewConst(name string, value *Tensor) *Node {
	n := NewNode(name, OpConst)
	n.Value = value
	return n
}

// Output returns a reference to the given output slot of n.
func (n *Node) Output(slot int) TensorRef {
	return TensorRef{Node: n.Name, Slot: slot}
}

func (n *Node) NumOutputs() int {
	return len(n.Outputs)
}

// IsConst reports whether n is a Const node with a payload.
func (n *Node) IsConst() bool {
	return n.Op == OpConst && n.Value != nil
}

// DeepCopy returns a copy of n that shares no memory with it.
func (n *Node) DeepCopy() (*Node, error) {
	c, err := copystructure.Copy(n)
	if err != nil {
		return nil, fmt.Errorf("copying node %q: %w", n.Name, err)
	}
	return c.(*Node), nil
}

// FloatAttr returns the numeric attribute name, or def if it is unset or not
// a number.
func (n *Node) FloatAttr(name string, def float64) float64 {
	switch v := n.Attrs[name].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return def
}

// BoolAttr returns the boolean attribute name, or def if it is unset.
func (n *Node) BoolAttr(name string, def bool) bool {
	if v, ok := n.Attrs[name].(bool); ok {
		return v
	}
	return def
}

// StringAttr returns the string attribute name, or def if it is unset.
func (n *Node) StringAttr(name string, def string) string {
	if v, ok := n.Attrs[name].(string); ok {
		return v
	}
	return def
}

// SetAttr sets an attribute, allocating the map if needed.
func (n *Node) SetAttr(name string, value any) {
	if n.Attrs == nil {
		n.Attrs = make(map[string]any)
	}
	n.Attrs[name] = value
}
