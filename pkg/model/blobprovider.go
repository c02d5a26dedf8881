package model

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"

	"k8s.io/examples/AI/modelgraft/pkg/blobs"
	"k8s.io/examples/AI/modelgraft/pkg/graph"
)

// Spec names the blobs and boundaries of one model.
type Spec struct {
	Name        string
	FrozenGraph blobs.BlobInfo
	// PreProcessing and PostProcessing are optional.
	PreProcessing  *blobs.BlobInfo
	PostProcessing *blobs.BlobInfo
	Inputs         []string
	Outputs        []string
}

// LoadFromBlobs downloads and decodes the graphs named by spec, concurrently,
// and returns a provider serving them.
func LoadFromBlobs(ctx context.Context, reader blobs.BlobReader, spec Spec) (*StaticProvider, error) {
	log := klog.FromContext(ctx)

	dir, err := os.MkdirTemp("", "modelgraft-")
	if err != nil {
		return nil, fmt.Errorf("creating download directory: %w", err)
	}
	defer os.RemoveAll(dir)

	p := &StaticProvider{
		Inputs:  spec.Inputs,
		Outputs: spec.Outputs,
	}

	eg, ctx := errgroup.WithContext(ctx)
	load := func(role string, info *blobs.BlobInfo, dest **graph.Graph) {
		if info == nil {
			return
		}
		eg.Go(func() error {
			localPath := filepath.Join(dir, role+".yaml")
			if err := reader.Download(ctx, *info, localPath); err != nil {
				return fmt.Errorf("downloading %s graph %s: %w", role, info.Digest, err)
			}
			g, err := graph.ReadFile(localPath)
			if err != nil {
				return fmt.Errorf("loading %s graph: %w", role, err)
			}
			log.Info("loaded graph", "model", spec.Name, "role", role, "digest", info.Digest, "nodes", g.Len())
			*dest = g
			return nil
		})
	}
	load("frozen", &spec.FrozenGraph, &p.Frozen)
	load("pre_processing", spec.PreProcessing, &p.Pre)
	load("post_processing", spec.PostProcessing, &p.Post)

	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return p, nil
}
