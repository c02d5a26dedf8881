// Package graft drives a full run: it splices the model's processing graphs
// onto its frozen graph, rewrites the result and exports it.
package graft

import (
	"context"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/opencontainers/go-digest"
	"k8s.io/klog/v2"

	"k8s.io/examples/AI/modelgraft/pkg/blobs"
	"k8s.io/examples/AI/modelgraft/pkg/graph"
	"k8s.io/examples/AI/modelgraft/pkg/model"
	"k8s.io/examples/AI/modelgraft/pkg/rewrite"
	"k8s.io/examples/AI/modelgraft/pkg/splice"
)

type Options struct {
	Rewrite rewrite.Options
	// SkipProcessing rewrites the frozen graph alone, without grafting the
	// processing graphs.
	SkipProcessing bool
}

// Build produces the rewritten graph for the model served by p. The report
// is returned whenever the rewrite pipeline ran, even if a later check
// failed.
func Build(ctx context.Context, p model.Provider, opts Options) (*graph.Graph, *rewrite.Report, error) {
	start := time.Now()
	g, report, err := build(ctx, p, opts)
	observeBuild(report, time.Since(start), err)
	return g, report, err
}

func build(ctx context.Context, p model.Provider, opts Options) (*graph.Graph, *rewrite.Report, error) {
	log := klog.FromContext(ctx)

	g, err := p.FrozenGraph(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("loading frozen graph: %w", err)
	}
	inputs := p.InputNodeNames()
	outputs := p.OutputNodeNames()
	log.Info("loaded frozen graph", "nodes", g.Len(), "inputs", inputs, "outputs", outputs)

	if opts.SkipProcessing {
		log.Info("skipping pre- and post-processing")
	} else {
		if err := attachProcessing(ctx, p, g, inputs, outputs); err != nil {
			return nil, nil, err
		}
		log.Info("attached pre- and post-processing", "nodes", g.Len())
	}
	rewrite.WriteSnapshot(ctx, opts.Rewrite.Snapshots, "after_pre_and_post", g)

	report, err := rewrite.NewPipeline(opts.Rewrite).Run(ctx, g, inputs, outputs)
	if err != nil {
		return nil, report, fmt.Errorf("rewriting graph: %w", err)
	}
	log.Info("rewrote graph", "nodesBefore", report.NodesBefore, "nodesAfter", report.NodesAfter, "foldErrors", len(report.FoldErrorList()))

	if err := checkBoundaries(ctx, g, inputs, outputs); err != nil {
		return nil, report, err
	}
	if err := g.CheckReferences(); err != nil {
		return nil, report, fmt.Errorf("rewritten graph is malformed: %w", err)
	}
	return g, report, nil
}

func attachProcessing(ctx context.Context, p model.Provider, g *graph.Graph, inputs, outputs []string) error {
	pre, err := p.PreProcessingGraph(ctx)
	if err != nil {
		return fmt.Errorf("loading pre-processing graph: %w", err)
	}
	post, err := p.PostProcessingGraph(ctx)
	if err != nil {
		return fmt.Errorf("loading post-processing graph: %w", err)
	}

	preNames := splice.DonorBoundaries(pre)
	if err := checkDeclared(preNames, inputs, "input"); err != nil {
		return fmt.Errorf("attaching pre-processing: %w", err)
	}
	postNames := splice.DonorBoundaries(post)
	if err := checkDeclared(postNames, outputs, "output"); err != nil {
		return fmt.Errorf("attaching post-processing: %w", err)
	}

	if err := splice.AttachUpstream(ctx, g, pre, preNames); err != nil {
		return err
	}
	return splice.AttachDownstream(ctx, g, post, postNames)
}

func checkDeclared(names, declared []string, role string) error {
	for _, name := range names {
		if !slices.Contains(declared, name) {
			return &graph.ContractViolationError{Boundary: name, Reason: "not a declared " + role + " of the model"}
		}
	}
	return nil
}

// checkBoundaries verifies the declared names survived the rewrite. An
// input may have been stripped as unused; a missing output is an error.
func checkBoundaries(ctx context.Context, g *graph.Graph, inputs, outputs []string) error {
	log := klog.FromContext(ctx)
	for _, name := range inputs {
		if !g.Contains(name) {
			log.Info("warning: input was removed as unused", "input", name)
		}
	}
	for _, name := range outputs {
		n, err := g.Get(name)
		if err != nil {
			return fmt.Errorf("output lost during rewrite: %w", err)
		}
		if n.NumOutputs() != 1 {
			return &graph.ContractViolationError{Boundary: name, Reason: fmt.Sprintf("output has %d slots after rewrite", n.NumOutputs())}
		}
	}
	return nil
}

// Export encodes g and uploads it to store, keyed by the digest of its
// encoding.
func Export(ctx context.Context, g *graph.Graph, store blobs.Blobstore) (digest.Digest, error) {
	log := klog.FromContext(ctx)

	data, err := graph.Encode(g)
	if err != nil {
		return "", err
	}
	info := blobs.BlobInfo{Digest: digest.FromBytes(data)}

	f, err := os.CreateTemp("", "graph-*.yaml")
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}
	tempPath := f.Name()
	defer os.Remove(tempPath)

	if _, err := f.Write(data); err != nil {
		f.Close()
		return "", fmt.Errorf("writing temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("closing temp file: %w", err)
	}

	if err := store.Upload(ctx, tempPath, info); err != nil {
		return "", fmt.Errorf("uploading graph: %w", err)
	}
	log.Info("exported graph", "digest", info.Digest, "bytes", len(data), "nodes", g.Len())
	return info.Digest, nil
}
