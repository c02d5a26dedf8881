package rewrite

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"k8s.io/klog/v2"

	"k8s.io/examples/AI/modelgraft/pkg/graph"
)

// DefaultInitializerRoots are kept alive by dead-code elimination when they
// are present.
var DefaultInitializerRoots = []string{"hash_table_init"}

const defaultMaxIterations = 100

type Options struct {
	// InitializerRoots defaults to DefaultInitializerRoots.
	InitializerRoots []string
	// PassthroughOps defaults to DefaultPassthroughOps.
	PassthroughOps []string
	// MaxIterations bounds each fixed-point stage; zero means 100.
	MaxIterations int
	// Snapshots, if set, receives the graph after every stage.
	Snapshots Snapshotter
}

type stage struct {
	name   string
	passes []Pass
	// fixedPoint repeats the passes until a round makes no rewrites.
	fixedPoint bool
}

// Pipeline runs a fixed sequence of rewrite stages.
type Pipeline struct {
	opts   Options
	stages []stage
}

func NewPipeline(opts Options) *Pipeline {
	if opts.InitializerRoots == nil {
		opts.InitializerRoots = DefaultInitializerRoots
	}
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = defaultMaxIterations
	}
	return &Pipeline{
		opts: opts,
		stages: []stage{
			{
				name: "builtin_rewrites",
				passes: []Pass{
					StripUnused{},
					RemovePassthrough{Ops: opts.PassthroughOps},
					FoldConstants{},
					FoldBatchNorms{},
					FoldOldBatchNorms{},
				},
			},
			{
				name:       "fold_batch_norms",
				passes:     []Pass{FoldBatchNorms{}, FoldOldBatchNorms{}},
				fixedPoint: true,
			},
			{
				name:       "fold_batch_norms_up",
				passes:     []Pass{FoldBatchNormsUp{}},
				fixedPoint: true,
			},
		},
	}
}

// Boundaries returns the names protected during a run over g. Initializer
// roots absent from g are dropped.
func (p *Pipeline) Boundaries(g *graph.Graph, inputs, outputs []string) Boundaries {
	b := Boundaries{Inputs: inputs, Outputs: outputs}
	for _, name := range p.opts.InitializerRoots {
		if g.Contains(name) {
			b.Initializers = append(b.Initializers, name)
		}
	}
	return b
}

// Run rewrites g in place. Only structural failures are returned as errors;
// failed folds are collected in the report.
func (p *Pipeline) Run(ctx context.Context, g *graph.Graph, inputs, outputs []string) (*Report, error) {
	report := newReport(uuid.NewString(), g.Len())
	log := klog.FromContext(ctx).WithValues("run", report.RunID)
	ctx = klog.NewContext(ctx, log)

	b := p.Boundaries(g, inputs, outputs)
	log.Info("running rewrite pipeline", "nodes", g.Len(), "inputs", b.Inputs, "outputs", b.Outputs, "initializers", b.Initializers)

	for _, s := range p.stages {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if err := p.runStage(ctx, s, g, b, report); err != nil {
			return report, fmt.Errorf("stage %s: %w", s.name, err)
		}
		log.Info("finished rewrite stage", "stage", s.name, "nodes", g.Len())
		WriteSnapshot(ctx, p.opts.Snapshots, "after_"+s.name, g)
	}

	report.NodesAfter = g.Len()
	return report, nil
}

func (p *Pipeline) runStage(ctx context.Context, s stage, g *graph.Graph, b Boundaries, report *Report) error {
	log := klog.FromContext(ctx)

	entries := make([]*PassReport, len(s.passes))
	for i, pass := range s.passes {
		entries[i] = &PassReport{Stage: s.name, Pass: pass.Name()}
	}

	for iteration := 1; ; iteration++ {
		rewrites := 0
		for i, pass := range s.passes {
			if entries[i].Iterations == 0 {
				entries[i].NodesBefore = g.Len()
			}
			start := time.Now()
			result, err := pass.Apply(ctx, g, b)
			entries[i].Duration += time.Since(start)
			if err != nil {
				return fmt.Errorf("%s: %w", pass.Name(), err)
			}
			entries[i].Iterations++
			entries[i].Rewrites += result.Rewrites
			entries[i].NodesAfter = g.Len()
			report.addFoldErrors(result.FoldErrors)
			rewrites += result.Rewrites
		}
		if !s.fixedPoint || rewrites == 0 {
			break
		}
		if iteration >= p.opts.MaxIterations {
			log.Info("rewrite stage did not reach a fixed point", "stage", s.name, "iterations", iteration)
			break
		}
	}

	for _, e := range entries {
		log.V(2).Info("pass finished", "stage", e.Stage, "pass", e.Pass, "iterations", e.Iterations, "rewrites", e.Rewrites, "nodesBefore", e.NodesBefore, "nodesAfter", e.NodesAfter)
		report.Passes = append(report.Passes, *e)
	}
	return nil
}
