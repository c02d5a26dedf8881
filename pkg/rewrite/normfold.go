package rewrite

import (
	"context"
	"errors"
	"fmt"
	"math"

	"k8s.io/klog/v2"

	"k8s.io/examples/AI/modelgraft/pkg/graph"
)

// defaultBatchNormEpsilon is used when a batch norm node has no epsilon.
const defaultBatchNormEpsilon = 1e-3

// FoldBatchNorms folds a Mul or FusedBatchNorm that follows a MatMul or
// Conv2D into the linear op's weights. A Mul disappears and the linear op
// takes its name; a batch norm keeps its name as a BiasAdd.
type FoldBatchNorms struct{}

// FoldOldBatchNorms is FoldBatchNorms for BatchNormWithGlobalNormalization.
type FoldOldBatchNorms struct{}

// FoldBatchNormsUp folds a Mul or FusedBatchNorm that feeds a linear op into
// the linear op's weights.
type FoldBatchNormsUp struct{}

var (
	_ Pass = FoldBatchNorms{}
	_ Pass = FoldOldBatchNorms{}
	_ Pass = FoldBatchNormsUp{}
)

func (FoldBatchNorms) Name() string    { return "fold_batch_norms" }
func (FoldOldBatchNorms) Name() string { return "fold_old_batch_norms" }
func (FoldBatchNormsUp) Name() string  { return "fold_batch_norms_up" }

func (p FoldBatchNorms) Apply(ctx context.Context, g *graph.Graph, b Boundaries) (Result, error) {
	return foldEach(ctx, g, b, p.Name(), func(f *folder, n *graph.Node) (bool, error) {
		switch n.Op {
		case graph.OpMul:
			return f.foldMulDown(n)
		case graph.OpFusedBatchNorm, graph.OpFusedBatchNormV3:
			return f.foldFusedBatchNormDown(n)
		}
		return false, nil
	})
}

func (p FoldOldBatchNorms) Apply(ctx context.Context, g *graph.Graph, b Boundaries) (Result, error) {
	return foldEach(ctx, g, b, p.Name(), func(f *folder, n *graph.Node) (bool, error) {
		if n.Op == graph.OpBatchNormWithGlobalNormalization {
			return f.foldGlobalBatchNormDown(n)
		}
		return false, nil
	})
}

func (p FoldBatchNormsUp) Apply(ctx context.Context, g *graph.Graph, b Boundaries) (Result, error) {
	return foldEach(ctx, g, b, p.Name(), func(f *folder, n *graph.Node) (bool, error) {
		switch n.Op {
		case graph.OpMul:
			return f.foldMulUp(n)
		case graph.OpFusedBatchNorm, graph.OpFusedBatchNormV3:
			return f.foldFusedBatchNormUp(n)
		}
		return false, nil
	})
}

// folder holds the state shared by the rules of one sweep. Rules compute
// everything before touching the graph, so a rule that returns an error has
// changed nothing.
type folder struct {
	g         *graph.Graph
	protected map[string]bool
	// stale collects Const nodes that may have lost their last consumer.
	stale []string
}

func foldEach(ctx context.Context, g *graph.Graph, b Boundaries, pass string, rule func(f *folder, n *graph.Node) (bool, error)) (Result, error) {
	log := klog.FromContext(ctx)

	f := &folder{g: g, protected: b.Protected()}
	var result Result
	for _, n := range g.Nodes() {
		// Skip nodes removed or renamed away by an earlier rewrite.
		if cur, err := g.Get(n.Name); err != nil || cur != n {
			continue
		}
		applied, err := rule(f, n)
		if err != nil {
			log.V(2).Info("leaving node unfolded", "pass", pass, "node", n.Name, "op", n.Op, "err", err)
			result.FoldErrors = append(result.FoldErrors, &graph.FoldError{Pass: pass, Node: n.Name, Err: err})
			continue
		}
		if applied {
			log.V(2).Info("folded node", "pass", pass, "node", n.Name, "op", n.Op)
			result.Rewrites++
		}
	}
	pruneConstants(g, f.stale, f.protected)
	return result, nil
}

// constInput returns the Const node feeding input i of n.
func (f *folder) constInput(n *graph.Node, i int) (*graph.Node, bool) {
	if i >= len(n.Inputs) || n.Inputs[i].Slot != 0 {
		return nil, false
	}
	producer, err := f.g.Get(n.Inputs[i].Node)
	if err != nil || !producer.IsConst() {
		return nil, false
	}
	return producer, true
}

// linearInput returns the MatMul or Conv2D producing input i of n, if n is
// its only consumer.
func (f *folder) linearInput(n *graph.Node, i int) (*graph.Node, bool) {
	if i >= len(n.Inputs) || n.Inputs[i].Slot != 0 {
		return nil, false
	}
	l, err := f.g.Get(n.Inputs[i].Node)
	if err != nil || !isLinear(l) || f.protected[l.Name] {
		return nil, false
	}
	if f.g.ConsumerCount(l.Output(0)) != 1 || len(f.g.Consumers(l.Name)) != 1 {
		return nil, false
	}
	return l, true
}

// soleLinearConsumer returns the MatMul or Conv2D that is the only reader of
// n, provided it reads n as its data input.
func (f *folder) soleLinearConsumer(n *graph.Node) (*graph.Node, bool) {
	consumers := f.g.Consumers(n.Name)
	if len(consumers) != 1 || f.g.ConsumerCount(n.Output(0)) != 1 {
		return nil, false
	}
	l := consumers[0]
	if !isLinear(l) || len(l.Inputs) != 2 || l.Inputs[0] != n.Output(0) {
		return nil, false
	}
	return l, true
}

func isLinear(n *graph.Node) bool {
	return n.Op == graph.OpMatMul || n.Op == graph.OpConv2D
}

const attrDataFormat = "data_format"

// channelsFirst reports whether l is a Conv2D over NCHW activations. A Mul by
// a channel vector broadcasts along the last axis, which is not the channel
// axis there.
func channelsFirst(l *graph.Node) bool {
	return l.Op == graph.OpConv2D && l.StringAttr(attrDataFormat, "NHWC") == "NCHW"
}

// weights returns the constant weights of a linear op, laid out so that the
// output channel is the last axis.
func (f *folder) weights(l *graph.Node) (*graph.Node, error) {
	if len(l.Inputs) != 2 {
		return nil, fmt.Errorf("%s %q has %d inputs", l.Op, l.Name, len(l.Inputs))
	}
	w, ok := f.constInput(l, 1)
	if !ok {
		return nil, errNoMatch
	}
	if l.Op == graph.OpMatMul && (l.BoolAttr("transpose_a", false) || l.BoolAttr("transpose_b", false)) {
		return nil, errNoMatch
	}
	want := 2
	if l.Op == graph.OpConv2D {
		want = 4
	}
	if w.Value.Rank() != want {
		return nil, fmt.Errorf("%s weights %q have shape %v", l.Op, w.Name, w.Value.Shape)
	}
	return w, nil
}

// inputAxis is the weight axis indexing input channels.
func inputAxis(l *graph.Node) int {
	if l.Op == graph.OpConv2D {
		return 2
	}
	return 0
}

// errNoMatch marks a node that does not fit a motif. It is not reported.
var errNoMatch = errors.New("no match")

// onlyFirstOutputUsed reports whether nothing reads slots other than 0.
func (f *folder) onlyFirstOutputUsed(n *graph.Node) bool {
	for slot := 1; slot < n.NumOutputs(); slot++ {
		if f.g.ConsumerCount(n.Output(slot)) != 0 {
			return false
		}
	}
	return true
}

// setWeights points input 1 of l at value, reusing the existing Const if l is
// its only reader.
func (f *folder) setWeights(l *graph.Node, w *graph.Node, value *graph.Tensor) error {
	if f.g.ConsumerCount(w.Output(0)) == 1 && len(f.g.Consumers(w.Name)) == 1 && !f.protected[w.Name] {
		w.Value = value
		return nil
	}
	c := graph.NewConst(f.g.UniqueName(l.Name+"/folded_weights"), value)
	if err := f.g.Add(c); err != nil {
		return err
	}
	l.Inputs[1] = c.Output(0)
	f.stale = append(f.stale, w.Name)
	return nil
}

// foldMulDown rewrites Mul(L(x, W), c) into L(x, W*c), named after the Mul.
func (f *folder) foldMulDown(n *graph.Node) (bool, error) {
	if len(n.Inputs) != 2 {
		return false, nil
	}
	for i := 0; i < 2; i++ {
		l, ok := f.linearInput(n, i)
		if !ok || channelsFirst(l) {
			continue
		}
		c, ok := f.constInput(n, 1-i)
		if !ok {
			continue
		}
		w, err := f.weights(l)
		if errors.Is(err, errNoMatch) {
			continue
		}
		if err != nil {
			return false, err
		}
		axis := w.Value.Rank() - 1
		factors, err := channelFactors(c.Value, w.Value.Shape[axis])
		if err != nil {
			return false, err
		}
		scaled, err := scaleAxis(w.Value, axis, factors)
		if err != nil {
			return false, err
		}

		if err := f.setWeights(l, w, scaled); err != nil {
			return false, err
		}
		name := n.Name
		f.g.Reroute(n.Output(0), l.Output(0))
		if err := f.g.Remove(name); err != nil {
			return false, err
		}
		if err := f.g.Rename(l.Name, name); err != nil {
			return false, err
		}
		f.stale = append(f.stale, c.Name)
		return true, nil
	}
	return false, nil
}

// batchNorm is a normalization reduced to a per-channel multiply and add.
type batchNorm struct {
	mult []float32
	bias []float32
}

// fusedBatchNorm reads FusedBatchNorm(x, scale, offset, mean, variance).
func (f *folder) fusedBatchNorm(n *graph.Node) (*batchNorm, []*graph.Node, error) {
	if len(n.Inputs) < 5 || n.BoolAttr("is_training", false) || !f.onlyFirstOutputUsed(n) {
		return nil, nil, errNoMatch
	}
	params, ok := f.constInputs(n, 1, 5)
	if !ok {
		return nil, nil, errNoMatch
	}
	scale, offset, mean, variance := params[0].Value, params[1].Value, params[2].Value, params[3].Value
	epsilon := float32(n.FloatAttr("epsilon", defaultBatchNormEpsilon))

	size := len(scale.Values)
	if err := sameLength(size, offset, mean, variance); err != nil {
		return nil, nil, err
	}
	bn := &batchNorm{mult: make([]float32, size), bias: make([]float32, size)}
	for i := 0; i < size; i++ {
		v := variance.Values[i] + epsilon
		if v <= 0 {
			return nil, nil, fmt.Errorf("non-positive variance %v for channel %d", v, i)
		}
		bn.mult[i] = scale.Values[i] / float32(math.Sqrt(float64(v)))
		bn.bias[i] = offset.Values[i] - mean.Values[i]*bn.mult[i]
	}
	return bn, params, nil
}

// globalBatchNorm reads BatchNormWithGlobalNormalization(t, mean, variance,
// beta, gamma).
func (f *folder) globalBatchNorm(n *graph.Node) (*batchNorm, []*graph.Node, error) {
	if len(n.Inputs) != 5 {
		return nil, nil, errNoMatch
	}
	params, ok := f.constInputs(n, 1, 5)
	if !ok {
		return nil, nil, errNoMatch
	}
	mean, variance, beta, gamma := params[0].Value, params[1].Value, params[2].Value, params[3].Value
	epsilon := float32(n.FloatAttr("variance_epsilon", defaultBatchNormEpsilon))
	scaleAfter := n.BoolAttr("scale_after_normalization", true)

	size := len(mean.Values)
	if err := sameLength(size, variance, beta, gamma); err != nil {
		return nil, nil, err
	}
	bn := &batchNorm{mult: make([]float32, size), bias: make([]float32, size)}
	for i := 0; i < size; i++ {
		v := variance.Values[i] + epsilon
		if v <= 0 {
			return nil, nil, fmt.Errorf("non-positive variance %v for channel %d", v, i)
		}
		bn.mult[i] = 1 / float32(math.Sqrt(float64(v)))
		if scaleAfter {
			bn.mult[i] *= gamma.Values[i]
		}
		bn.bias[i] = beta.Values[i] - mean.Values[i]*bn.mult[i]
	}
	return bn, params, nil
}

func (f *folder) constInputs(n *graph.Node, from, to int) ([]*graph.Node, bool) {
	var nodes []*graph.Node
	for i := from; i < to; i++ {
		c, ok := f.constInput(n, i)
		if !ok {
			return nil, false
		}
		nodes = append(nodes, c)
	}
	return nodes, true
}

func (f *folder) foldFusedBatchNormDown(n *graph.Node) (bool, error) {
	return f.foldNormDown(n, f.fusedBatchNorm)
}

func (f *folder) foldGlobalBatchNormDown(n *graph.Node) (bool, error) {
	return f.foldNormDown(n, f.globalBatchNorm)
}

// foldNormDown rewrites Norm(L(x, W)) into BiasAdd(L(x, W*mult), bias),
// keeping the norm's name on the BiasAdd.
func (f *folder) foldNormDown(n *graph.Node, read func(*graph.Node) (*batchNorm, []*graph.Node, error)) (bool, error) {
	l, ok := f.linearInput(n, 0)
	if !ok {
		return false, nil
	}
	w, err := f.weights(l)
	if errors.Is(err, errNoMatch) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	bn, params, err := read(n)
	if errors.Is(err, errNoMatch) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	axis := w.Value.Rank() - 1
	if len(bn.mult) != w.Value.Shape[axis] {
		return false, fmt.Errorf("norm has %d channels, weights %q have %d", len(bn.mult), w.Name, w.Value.Shape[axis])
	}
	scaled, err := scaleAxis(w.Value, axis, bn.mult)
	if err != nil {
		return false, err
	}

	if err := f.setWeights(l, w, scaled); err != nil {
		return false, err
	}
	bias := graph.NewConst(f.g.UniqueName(n.Name+"/folded_bias"), graph.Vector(bn.bias...))
	if err := f.g.Add(bias); err != nil {
		return false, err
	}
	format := n.StringAttr(attrDataFormat, l.StringAttr(attrDataFormat, ""))
	n.Op = graph.OpBiasAdd
	n.Inputs = []graph.TensorRef{l.Output(0), bias.Output(0)}
	n.Outputs = []string{graph.DefaultOutput}
	n.Attrs = nil
	if format != "" {
		n.SetAttr(attrDataFormat, format)
	}
	for _, p := range params {
		f.stale = append(f.stale, p.Name)
	}
	return true, nil
}

// foldMulUp rewrites L(Mul(x, c), W) into L(x, W') with W scaled along its
// input channels.
func (f *folder) foldMulUp(n *graph.Node) (bool, error) {
	if len(n.Inputs) != 2 || f.protected[n.Name] {
		return false, nil
	}
	l, ok := f.soleLinearConsumer(n)
	if !ok || channelsFirst(l) {
		return false, nil
	}
	w, err := f.weights(l)
	if errors.Is(err, errNoMatch) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	for i := 0; i < 2; i++ {
		c, ok := f.constInput(n, i)
		if !ok {
			continue
		}
		x := n.Inputs[1-i]
		axis := inputAxis(l)
		factors, err := channelFactors(c.Value, w.Value.Shape[axis])
		if err != nil {
			return false, err
		}
		scaled, err := scaleAxis(w.Value, axis, factors)
		if err != nil {
			return false, err
		}

		if err := f.setWeights(l, w, scaled); err != nil {
			return false, err
		}
		l.Inputs[0] = x
		if err := f.g.Remove(n.Name); err != nil {
			return false, err
		}
		f.stale = append(f.stale, c.Name)
		return true, nil
	}
	return false, nil
}

// foldFusedBatchNormUp rewrites MatMul(Norm(x), W) into
// BiasAdd(MatMul(x, W*mult), bias·W), keeping the MatMul's name on the
// BiasAdd.
func (f *folder) foldFusedBatchNormUp(n *graph.Node) (bool, error) {
	if f.protected[n.Name] {
		return false, nil
	}
	l, ok := f.soleLinearConsumer(n)
	if !ok || l.Op != graph.OpMatMul {
		return false, nil
	}
	w, err := f.weights(l)
	if errors.Is(err, errNoMatch) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	bn, params, err := f.fusedBatchNorm(n)
	if errors.Is(err, errNoMatch) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	rows, cols := w.Value.Shape[0], w.Value.Shape[1]
	if len(bn.mult) != rows {
		return false, fmt.Errorf("norm has %d channels, weights %q have %d rows", len(bn.mult), w.Name, rows)
	}
	scaled, err := scaleAxis(w.Value, 0, bn.mult)
	if err != nil {
		return false, err
	}
	bias := make([]float32, cols)
	for j := 0; j < cols; j++ {
		for i := 0; i < rows; i++ {
			bias[j] += bn.bias[i] * w.Value.Values[i*cols+j]
		}
	}

	weights := graph.NewConst(f.g.UniqueName(l.Name+"/folded_weights"), scaled)
	if err := f.g.Add(weights); err != nil {
		return false, err
	}
	matmul := graph.NewNode(f.g.UniqueName(l.Name+"/folded_matmul"), graph.OpMatMul, n.Inputs[0], weights.Output(0))
	if err := f.g.Add(matmul); err != nil {
		return false, err
	}
	biasConst := graph.NewConst(f.g.UniqueName(l.Name+"/folded_bias"), graph.Vector(bias...))
	if err := f.g.Add(biasConst); err != nil {
		return false, err
	}
	l.Op = graph.OpBiasAdd
	l.Inputs = []graph.TensorRef{matmul.Output(0), biasConst.Output(0)}
	l.Attrs = nil
	if err := f.g.Remove(n.Name); err != nil {
		return false, err
	}
	f.stale = append(f.stale, w.Name)
	for _, p := range params {
		f.stale = append(f.stale, p.Name)
	}
	return true, nil
}

// channelFactors turns a scalar or per-channel constant into size factors.
func channelFactors(c *graph.Tensor, size int) ([]float32, error) {
	switch {
	case len(c.Values) == 1:
		factors := make([]float32, size)
		for i := range factors {
			factors[i] = c.Values[0]
		}
		return factors, nil
	case len(c.Values) == size && c.Rank() > 0 && c.Dim(-1) == size:
		return c.Values, nil
	}
	return nil, fmt.Errorf("cannot apply constant of shape %v to %d channels", c.Shape, size)
}

// scaleAxis returns a copy of t with every slice along axis multiplied by
// the matching factor.
func scaleAxis(t *graph.Tensor, axis int, factors []float32) (*graph.Tensor, error) {
	if axis < 0 || axis >= t.Rank() || t.Shape[axis] != len(factors) {
		return nil, fmt.Errorf("cannot scale axis %d of shape %v by %d factors", axis, t.Shape, len(factors))
	}
	stride := 1
	for _, d := range t.Shape[axis+1:] {
		stride *= d
	}
	result := t.Clone()
	for i := range result.Values {
		result.Values[i] *= factors[(i/stride)%len(factors)]
	}
	return result, nil
}

func sameLength(size int, tensors ...*graph.Tensor) error {
	for _, t := range tensors {
		if len(t.Values) != size {
			return fmt.Errorf("batch norm parameters differ in length: %d and %d", size, len(t.Values))
		}
	}
	return nil
}
