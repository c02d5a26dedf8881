package rewrite

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"k8s.io/examples/AI/modelgraft/pkg/engine"
	"k8s.io/examples/AI/modelgraft/pkg/engine/fallback"
	"k8s.io/examples/AI/modelgraft/pkg/graph"
)

func build(t *testing.T, nodes ...*graph.Node) *graph.Graph {
	t.Helper()
	g := graph.New()
	for _, n := range nodes {
		if err := g.Add(n); err != nil {
			t.Fatalf("adding %q: %v", n.Name, err)
		}
	}
	return g
}

func get(t *testing.T, g *graph.Graph, name string) *graph.Node {
	t.Helper()
	n, err := g.Get(name)
	if err != nil {
		t.Fatalf("getting %q: %v", name, err)
	}
	return n
}

func apply(t *testing.T, p Pass, g *graph.Graph, b Boundaries) Result {
	t.Helper()
	result, err := p.Apply(context.Background(), g, b)
	if err != nil {
		t.Fatalf("%s: %v", p.Name(), err)
	}
	if err := g.CheckReferences(); err != nil {
		t.Fatalf("%s left a dangling reference: %v", p.Name(), err)
	}
	return result
}

func matrix(rows, cols int, values ...float32) *graph.Tensor {
	return &graph.Tensor{Shape: []int{rows, cols}, Values: values}
}

var approx = cmpopts.EquateApprox(0, 1e-5)

// evaluateWith computes output after binding the Placeholder input to value.
func evaluateWith(t *testing.T, g *graph.Graph, input string, value *graph.Tensor, output string) []float32 {
	t.Helper()
	c, err := g.Clone()
	if err != nil {
		t.Fatal(err)
	}
	in := get(t, c, input)
	in.Op = graph.OpConst
	in.Value = value

	scope, err := fallback.NewCalculationScope()
	if err != nil {
		t.Fatal(err)
	}
	defer scope.Close()
	results, err := engine.Evaluate(scope, c, []string{output})
	if err != nil {
		t.Fatalf("evaluating %q: %v", output, err)
	}
	return results[output].Values
}

func TestStripUnused(t *testing.T) {
	g := build(t,
		graph.NewNode("A", graph.OpPlaceholder),
		graph.NewNode("B", graph.OpIdentity, graph.Ref("A", 0)),
		graph.NewConst("C", graph.Scalar(1)),
	)
	b := Boundaries{Inputs: []string{"A"}, Outputs: []string{"B"}}

	result := apply(t, StripUnused{}, g, b)
	if result.Rewrites != 1 {
		t.Errorf("expected 1 removal, got %d", result.Rewrites)
	}
	if diff := cmp.Diff([]string{"A", "B"}, g.Names()); diff != "" {
		t.Errorf("unexpected nodes (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]graph.TensorRef{graph.Ref("A", 0)}, get(t, g, "B").Inputs); diff != "" {
		t.Errorf("unexpected inputs of B (-want +got):\n%s", diff)
	}

	before, err := graph.Encode(g)
	if err != nil {
		t.Fatal(err)
	}
	if result := apply(t, StripUnused{}, g, b); result.Rewrites != 0 {
		t.Errorf("second run made %d rewrites", result.Rewrites)
	}
	after, err := graph.Encode(g)
	if err != nil {
		t.Fatal(err)
	}
	if string(before) != string(after) {
		t.Errorf("second run changed the graph")
	}
}

func TestStripUnusedInputsAndInitializers(t *testing.T) {
	init := graph.NewNode("hash_table_init", "InitializeTableV2", graph.Ref("keys", 0))
	init.Outputs = []string{}
	g := build(t,
		graph.NewNode("used", graph.OpPlaceholder),
		graph.NewNode("unused", graph.OpPlaceholder),
		graph.NewNode("out", "Neg", graph.Ref("used", 0)),
		graph.NewConst("keys", graph.Vector(1, 2)),
		init,
	)
	b := Boundaries{
		Inputs:       []string{"used", "unused"},
		Outputs:      []string{"out"},
		Initializers: []string{"hash_table_init"},
	}
	apply(t, StripUnused{}, g, b)
	if diff := cmp.Diff([]string{"used", "out", "keys", "hash_table_init"}, g.Names()); diff != "" {
		t.Errorf("unexpected nodes (-want +got):\n%s", diff)
	}
}

func TestRemovePassthrough(t *testing.T) {
	g := build(t,
		graph.NewNode("in", graph.OpPlaceholder),
		graph.NewNode("id", graph.OpIdentity, graph.Ref("in", 0)),
		graph.NewNode("check", graph.OpCheckNumerics, graph.Ref("id", 0)),
		graph.NewNode("sq", "Square", graph.Ref("check", 0)),
		graph.NewNode("out", graph.OpIdentity, graph.Ref("sq", 0)),
	)
	b := Boundaries{Inputs: []string{"in"}, Outputs: []string{"out"}}

	result := apply(t, RemovePassthrough{}, g, b)
	if result.Rewrites != 2 {
		t.Errorf("expected 2 rewrites, got %d", result.Rewrites)
	}
	if diff := cmp.Diff([]string{"in", "sq", "out"}, g.Names()); diff != "" {
		t.Errorf("unexpected nodes (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]graph.TensorRef{graph.Ref("in", 0)}, get(t, g, "sq").Inputs); diff != "" {
		t.Errorf("unexpected inputs of sq (-want +got):\n%s", diff)
	}
	if result := apply(t, RemovePassthrough{}, g, b); result.Rewrites != 0 {
		t.Errorf("second run made %d rewrites", result.Rewrites)
	}
}

func TestFoldConstants(t *testing.T) {
	g := build(t,
		graph.NewNode("in", graph.OpPlaceholder),
		graph.NewConst("a", graph.Vector(1, 2)),
		graph.NewConst("b", graph.Vector(3, 4)),
		graph.NewNode("sum", "Add", graph.Ref("a", 0), graph.Ref("b", 0)),
		graph.NewConst("two", graph.Scalar(2)),
		graph.NewNode("double", graph.OpMul, graph.Ref("sum", 0), graph.Ref("two", 0)),
		graph.NewNode("odd", "Mystery", graph.Ref("two", 0)),
		graph.NewNode("out", "Add", graph.Ref("in", 0), graph.Ref("double", 0)),
		graph.NewNode("other", "Add", graph.Ref("in", 0), graph.Ref("odd", 0)),
	)
	b := Boundaries{Inputs: []string{"in"}, Outputs: []string{"out", "other"}}

	result := apply(t, FoldConstants{}, g, b)
	if result.Rewrites != 2 {
		t.Errorf("expected 2 folds, got %d", result.Rewrites)
	}
	if len(result.FoldErrors) != 1 || result.FoldErrors[0].Node != "odd" {
		t.Errorf("expected a fold error for odd, got %v", result.FoldErrors)
	}

	if diff := cmp.Diff([]string{"in", "two", "double", "odd", "out", "other"}, g.Names()); diff != "" {
		t.Errorf("unexpected nodes (-want +got):\n%s", diff)
	}
	double := get(t, g, "double")
	if !double.IsConst() || len(double.Inputs) != 0 {
		t.Fatalf("expected double to be folded, got %+v", double)
	}
	if diff := cmp.Diff([]float32{8, 12}, double.Value.Values, approx); diff != "" {
		t.Errorf("unexpected folded value (-want +got):\n%s", diff)
	}
	if get(t, g, "odd").Op != "Mystery" {
		t.Errorf("unsupported node was changed")
	}

	if result := apply(t, FoldConstants{}, g, b); result.Rewrites != 0 {
		t.Errorf("second run made %d rewrites", result.Rewrites)
	}
}

func TestFoldMulIntoMatMul(t *testing.T) {
	g := build(t,
		graph.NewNode("x", graph.OpPlaceholder),
		graph.NewConst("W", matrix(2, 2, 1, 2, 3, 4)),
		graph.NewNode("mm", graph.OpMatMul, graph.Ref("x", 0), graph.Ref("W", 0)),
		graph.NewConst("s", graph.Vector(10, 100)),
		graph.NewNode("scaled", graph.OpMul, graph.Ref("mm", 0), graph.Ref("s", 0)),
	)
	b := Boundaries{Inputs: []string{"x"}, Outputs: []string{"scaled"}}
	input := matrix(1, 2, 0.5, -1)
	want := evaluateWith(t, g, "x", input, "scaled")

	result := apply(t, FoldBatchNorms{}, g, b)
	if result.Rewrites != 1 {
		t.Fatalf("expected 1 rewrite, got %d (errors %v)", result.Rewrites, result.FoldErrors)
	}
	if diff := cmp.Diff([]string{"x", "W", "scaled"}, g.Names()); diff != "" {
		t.Errorf("unexpected nodes (-want +got):\n%s", diff)
	}
	scaled := get(t, g, "scaled")
	if scaled.Op != graph.OpMatMul {
		t.Errorf("expected scaled to be a MatMul, got %q", scaled.Op)
	}
	if diff := cmp.Diff([]float32{10, 200, 30, 400}, get(t, g, "W").Value.Values, approx); diff != "" {
		t.Errorf("unexpected weights (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(want, evaluateWith(t, g, "x", input, "scaled"), approx); diff != "" {
		t.Errorf("fold changed the result (-want +got):\n%s", diff)
	}

	if result := apply(t, FoldBatchNorms{}, g, b); result.Rewrites != 0 {
		t.Errorf("expected a fixed point, second run made %d rewrites", result.Rewrites)
	}
}

func TestFoldMulKeepsSharedWeights(t *testing.T) {
	g := build(t,
		graph.NewNode("x", graph.OpPlaceholder),
		graph.NewConst("W", matrix(2, 2, 1, 2, 3, 4)),
		graph.NewNode("mm", graph.OpMatMul, graph.Ref("x", 0), graph.Ref("W", 0)),
		graph.NewNode("mm2", graph.OpMatMul, graph.Ref("x", 0), graph.Ref("W", 0)),
		graph.NewConst("s", graph.Scalar(2)),
		graph.NewNode("scaled", graph.OpMul, graph.Ref("s", 0), graph.Ref("mm", 0)),
	)
	b := Boundaries{Inputs: []string{"x"}, Outputs: []string{"scaled", "mm2"}}

	if result := apply(t, FoldBatchNorms{}, g, b); result.Rewrites != 1 {
		t.Fatalf("expected 1 rewrite, got %d", result.Rewrites)
	}
	if diff := cmp.Diff([]float32{1, 2, 3, 4}, get(t, g, "W").Value.Values); diff != "" {
		t.Errorf("shared weights were modified (-want +got):\n%s", diff)
	}
	scaled := get(t, g, "scaled")
	folded := get(t, g, scaled.Inputs[1].Node)
	if diff := cmp.Diff([]float32{2, 4, 6, 8}, folded.Value.Values, approx); diff != "" {
		t.Errorf("unexpected folded weights (-want +got):\n%s", diff)
	}
}

func batchNormParams(t *testing.T, names ...string) []*graph.Node {
	t.Helper()
	values := [][]float32{{2, 2}, {1, 1}, {0, 1}, {1, 4}}
	var nodes []*graph.Node
	for i, name := range names {
		nodes = append(nodes, graph.NewConst(name, graph.Vector(values[i]...)))
	}
	return nodes
}

func TestFoldFusedBatchNorm(t *testing.T) {
	bn := graph.NewNode("bn", graph.OpFusedBatchNormV3,
		graph.Ref("mm", 0), graph.Ref("scale", 0), graph.Ref("offset", 0), graph.Ref("mean", 0), graph.Ref("var", 0))
	bn.Outputs = []string{"y", "batch_mean", "batch_variance"}
	bn.SetAttr("epsilon", 0.0)

	nodes := []*graph.Node{
		graph.NewNode("x", graph.OpPlaceholder),
		graph.NewConst("W", matrix(2, 2, 1, 2, 3, 4)),
		graph.NewNode("mm", graph.OpMatMul, graph.Ref("x", 0), graph.Ref("W", 0)),
	}
	nodes = append(nodes, batchNormParams(t, "scale", "offset", "mean", "var")...)
	nodes = append(nodes, bn)
	g := build(t, nodes...)
	b := Boundaries{Inputs: []string{"x"}, Outputs: []string{"bn"}}

	if result := apply(t, FoldBatchNorms{}, g, b); result.Rewrites != 1 {
		t.Fatalf("expected 1 rewrite, got %d (errors %v)", result.Rewrites, result.FoldErrors)
	}
	if diff := cmp.Diff([]string{"x", "W", "mm", "bn", "bn/folded_bias"}, g.Names()); diff != "" {
		t.Errorf("unexpected nodes (-want +got):\n%s", diff)
	}
	folded := get(t, g, "bn")
	if folded.Op != graph.OpBiasAdd || folded.NumOutputs() != 1 {
		t.Errorf("expected bn to be a single-output BiasAdd, got %q with %d outputs", folded.Op, folded.NumOutputs())
	}
	if diff := cmp.Diff([]float32{2, 2, 6, 4}, get(t, g, "W").Value.Values, approx); diff != "" {
		t.Errorf("unexpected weights (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]float32{1, 0}, get(t, g, "bn/folded_bias").Value.Values, approx); diff != "" {
		t.Errorf("unexpected bias (-want +got):\n%s", diff)
	}

	// x·W' + b for x = [1, 1]: [1*2+1*6+1, 1*2+1*4+0].
	got := evaluateWith(t, g, "x", matrix(1, 2, 1, 1), "bn")
	if diff := cmp.Diff([]float32{9, 6}, got, approx); diff != "" {
		t.Errorf("unexpected result (-want +got):\n%s", diff)
	}
}

func TestFoldFusedBatchNormSkipsTraining(t *testing.T) {
	bn := graph.NewNode("bn", graph.OpFusedBatchNorm,
		graph.Ref("mm", 0), graph.Ref("scale", 0), graph.Ref("offset", 0), graph.Ref("mean", 0), graph.Ref("var", 0))
	bn.SetAttr("is_training", true)
	nodes := []*graph.Node{
		graph.NewNode("x", graph.OpPlaceholder),
		graph.NewConst("W", matrix(2, 2, 1, 2, 3, 4)),
		graph.NewNode("mm", graph.OpMatMul, graph.Ref("x", 0), graph.Ref("W", 0)),
	}
	nodes = append(nodes, batchNormParams(t, "scale", "offset", "mean", "var")...)
	nodes = append(nodes, bn)
	g := build(t, nodes...)

	if result := apply(t, FoldBatchNorms{}, g, Boundaries{Outputs: []string{"bn"}}); result.Rewrites != 0 {
		t.Errorf("expected no rewrites, got %d", result.Rewrites)
	}
}

func TestFoldOldBatchNorm(t *testing.T) {
	bn := graph.NewNode("bn", graph.OpBatchNormWithGlobalNormalization,
		graph.Ref("conv", 0), graph.Ref("mean", 0), graph.Ref("var", 0), graph.Ref("beta", 0), graph.Ref("gamma", 0))
	bn.SetAttr("variance_epsilon", 0.0)
	bn.SetAttr("scale_after_normalization", true)

	g := build(t,
		graph.NewNode("x", graph.OpPlaceholder),
		// 1x1 kernel, 1 input channel, 2 output channels.
		graph.NewConst("W", &graph.Tensor{Shape: []int{1, 1, 1, 2}, Values: []float32{1, 1}}),
		graph.NewNode("conv", graph.OpConv2D, graph.Ref("x", 0), graph.Ref("W", 0)),
		graph.NewConst("mean", graph.Vector(0, 1)),
		graph.NewConst("var", graph.Vector(4, 1)),
		graph.NewConst("beta", graph.Vector(0, 5)),
		graph.NewConst("gamma", graph.Vector(1, 3)),
		bn,
	)
	b := Boundaries{Inputs: []string{"x"}, Outputs: []string{"bn"}}

	if result := apply(t, FoldOldBatchNorms{}, g, b); result.Rewrites != 1 {
		t.Fatalf("expected 1 rewrite, got %d (errors %v)", result.Rewrites, result.FoldErrors)
	}
	// mult = gamma / sqrt(var) = [0.5, 3]; bias = beta - mean*mult = [0, 2].
	if diff := cmp.Diff([]float32{0.5, 3}, get(t, g, "W").Value.Values, approx); diff != "" {
		t.Errorf("unexpected weights (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]float32{0, 2}, get(t, g, "bn/folded_bias").Value.Values, approx); diff != "" {
		t.Errorf("unexpected bias (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"x", "W", "conv", "bn", "bn/folded_bias"}, g.Names()); diff != "" {
		t.Errorf("unexpected nodes (-want +got):\n%s", diff)
	}
}

func TestFoldFusedBatchNormKeepsDataFormat(t *testing.T) {
	conv := graph.NewNode("conv", graph.OpConv2D, graph.Ref("x", 0), graph.Ref("W", 0))
	conv.SetAttr("data_format", "NCHW")
	bn := graph.NewNode("bn", graph.OpFusedBatchNorm,
		graph.Ref("conv", 0), graph.Ref("scale", 0), graph.Ref("offset", 0), graph.Ref("mean", 0), graph.Ref("var", 0))
	bn.SetAttr("epsilon", 0.0)
	bn.SetAttr("data_format", "NCHW")

	nodes := []*graph.Node{
		graph.NewNode("x", graph.OpPlaceholder),
		graph.NewConst("W", &graph.Tensor{Shape: []int{1, 1, 1, 2}, Values: []float32{1, 1}}),
		conv,
	}
	nodes = append(nodes, batchNormParams(t, "scale", "offset", "mean", "var")...)
	nodes = append(nodes, bn)
	g := build(t, nodes...)
	b := Boundaries{Inputs: []string{"x"}, Outputs: []string{"bn"}}

	if result := apply(t, FoldBatchNorms{}, g, b); result.Rewrites != 1 {
		t.Fatalf("expected 1 rewrite, got %d (errors %v)", result.Rewrites, result.FoldErrors)
	}
	folded := get(t, g, "bn")
	if folded.Op != graph.OpBiasAdd {
		t.Fatalf("expected bn to be a BiasAdd, got %q", folded.Op)
	}
	if diff := cmp.Diff(map[string]any{"data_format": "NCHW"}, folded.Attrs); diff != "" {
		t.Errorf("unexpected attrs (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]float32{2, 1}, get(t, g, "W").Value.Values, approx); diff != "" {
		t.Errorf("unexpected weights (-want +got):\n%s", diff)
	}
}

func TestFoldMulSkipsChannelsFirstConv(t *testing.T) {
	conv := graph.NewNode("conv", graph.OpConv2D, graph.Ref("x", 0), graph.Ref("W", 0))
	conv.SetAttr("data_format", "NCHW")
	upConv := graph.NewNode("up", graph.OpConv2D, graph.Ref("scaled", 0), graph.Ref("W2", 0))
	upConv.SetAttr("data_format", "NCHW")

	g := build(t,
		graph.NewNode("x", graph.OpPlaceholder),
		graph.NewConst("W", &graph.Tensor{Shape: []int{1, 1, 1, 2}, Values: []float32{1, 1}}),
		conv,
		graph.NewConst("c", graph.Vector(2, 3)),
		graph.NewNode("mul", graph.OpMul, graph.Ref("conv", 0), graph.Ref("c", 0)),
		graph.NewNode("y", graph.OpPlaceholder),
		graph.NewConst("d", graph.Vector(2, 3)),
		graph.NewNode("scaled", graph.OpMul, graph.Ref("y", 0), graph.Ref("d", 0)),
		graph.NewConst("W2", &graph.Tensor{Shape: []int{1, 1, 2, 1}, Values: []float32{1, 1}}),
		upConv,
	)
	before, err := graph.Encode(g)
	if err != nil {
		t.Fatalf("encoding graph: %v", err)
	}
	b := Boundaries{Inputs: []string{"x", "y"}, Outputs: []string{"mul", "up"}}

	if result := apply(t, FoldBatchNorms{}, g, b); result.Rewrites != 0 {
		t.Errorf("FoldBatchNorms made %d rewrites", result.Rewrites)
	}
	if result := apply(t, FoldBatchNormsUp{}, g, b); result.Rewrites != 0 {
		t.Errorf("FoldBatchNormsUp made %d rewrites", result.Rewrites)
	}
	after, err := graph.Encode(g)
	if err != nil {
		t.Fatalf("encoding graph: %v", err)
	}
	if diff := cmp.Diff(string(before), string(after)); diff != "" {
		t.Errorf("graph changed (-before +after):\n%s", diff)
	}
}

func TestFoldMulUp(t *testing.T) {
	g := build(t,
		graph.NewNode("x", graph.OpPlaceholder),
		graph.NewConst("c", graph.Vector(2, 3)),
		graph.NewNode("mul", graph.OpMul, graph.Ref("x", 0), graph.Ref("c", 0)),
		graph.NewConst("W", matrix(2, 2, 1, 2, 3, 4)),
		graph.NewNode("mm", graph.OpMatMul, graph.Ref("mul", 0), graph.Ref("W", 0)),
	)
	b := Boundaries{Inputs: []string{"x"}, Outputs: []string{"mm"}}
	input := matrix(1, 2, 1, -2)
	want := evaluateWith(t, g, "x", input, "mm")

	if result := apply(t, FoldBatchNormsUp{}, g, b); result.Rewrites != 1 {
		t.Fatalf("expected 1 rewrite, got %d (errors %v)", result.Rewrites, result.FoldErrors)
	}
	if diff := cmp.Diff([]string{"x", "W", "mm"}, g.Names()); diff != "" {
		t.Errorf("unexpected nodes (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]float32{2, 4, 9, 12}, get(t, g, "W").Value.Values, approx); diff != "" {
		t.Errorf("unexpected weights (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(want, evaluateWith(t, g, "x", input, "mm"), approx); diff != "" {
		t.Errorf("fold changed the result (-want +got):\n%s", diff)
	}
	if result := apply(t, FoldBatchNormsUp{}, g, b); result.Rewrites != 0 {
		t.Errorf("second run made %d rewrites", result.Rewrites)
	}
}

func TestFoldFusedBatchNormUp(t *testing.T) {
	bn := graph.NewNode("bn", graph.OpFusedBatchNorm,
		graph.Ref("x", 0), graph.Ref("scale", 0), graph.Ref("offset", 0), graph.Ref("mean", 0), graph.Ref("var", 0))
	bn.SetAttr("epsilon", 0.0)

	nodes := []*graph.Node{graph.NewNode("x", graph.OpPlaceholder)}
	nodes = append(nodes, batchNormParams(t, "scale", "offset", "mean", "var")...)
	nodes = append(nodes,
		bn,
		graph.NewConst("W", matrix(2, 2, 1, 2, 3, 4)),
		graph.NewNode("mm", graph.OpMatMul, graph.Ref("bn", 0), graph.Ref("W", 0)),
	)
	g := build(t, nodes...)
	b := Boundaries{Inputs: []string{"x"}, Outputs: []string{"mm"}}

	if result := apply(t, FoldBatchNormsUp{}, g, b); result.Rewrites != 1 {
		t.Fatalf("expected 1 rewrite, got %d (errors %v)", result.Rewrites, result.FoldErrors)
	}
	if diff := cmp.Diff([]string{"x", "mm", "mm/folded_weights", "mm/folded_matmul", "mm/folded_bias"}, g.Names()); diff != "" {
		t.Errorf("unexpected nodes (-want +got):\n%s", diff)
	}
	mm := get(t, g, "mm")
	if mm.Op != graph.OpBiasAdd {
		t.Errorf("expected mm to be a BiasAdd, got %q", mm.Op)
	}
	if diff := cmp.Diff([]float32{2, 4, 3, 4}, get(t, g, "mm/folded_weights").Value.Values, approx); diff != "" {
		t.Errorf("unexpected weights (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]float32{1, 2}, get(t, g, "mm/folded_bias").Value.Values, approx); diff != "" {
		t.Errorf("unexpected bias (-want +got):\n%s", diff)
	}

	// For x = [1, 1]: norm gives [3, 1], times W gives [6, 10].
	got := evaluateWith(t, g, "x", matrix(1, 2, 1, 1), "mm")
	if diff := cmp.Diff([]float32{6, 10}, got, approx); diff != "" {
		t.Errorf("unexpected result (-want +got):\n%s", diff)
	}
}

func TestFoldRejectsMismatchedChannels(t *testing.T) {
	g := build(t,
		graph.NewNode("x", graph.OpPlaceholder),
		graph.NewConst("W", matrix(2, 2, 1, 2, 3, 4)),
		graph.NewNode("mm", graph.OpMatMul, graph.Ref("x", 0), graph.Ref("W", 0)),
		graph.NewConst("s", graph.Vector(1, 2, 3)),
		graph.NewNode("scaled", graph.OpMul, graph.Ref("mm", 0), graph.Ref("s", 0)),
	)
	before, _ := graph.Encode(g)

	result := apply(t, FoldBatchNorms{}, g, Boundaries{Outputs: []string{"scaled"}})
	if result.Rewrites != 0 || len(result.FoldErrors) != 1 {
		t.Fatalf("expected one fold error and no rewrites, got %+v", result)
	}
	after, _ := graph.Encode(g)
	if string(before) != string(after) {
		t.Errorf("failed fold changed the graph")
	}
}

func TestScaleAxis(t *testing.T) {
	w := &graph.Tensor{Shape: []int{2, 3}, Values: []float32{1, 1, 1, 1, 1, 1}}
	rows, err := scaleAxis(w, 0, []float32{2, 3})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]float32{2, 2, 2, 3, 3, 3}, rows.Values); diff != "" {
		t.Errorf("unexpected row scaling (-want +got):\n%s", diff)
	}
	cols, err := scaleAxis(w, 1, []float32{1, 2, 3})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]float32{1, 2, 3, 1, 2, 3}, cols.Values); diff != "" {
		t.Errorf("unexpected column scaling (-want +got):\n%s", diff)
	}
	if w.Values[0] != 1 {
		t.Errorf("scaleAxis modified its input")
	}
	if _, err := scaleAxis(w, 1, []float32{1}); err == nil {
		t.Errorf("expected an error for a factor count mismatch")
	}
}
