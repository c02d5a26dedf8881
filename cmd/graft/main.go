// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/afero"
	"k8s.io/klog/v2"

	"k8s.io/examples/AI/modelgraft/pkg/blobs"
	"k8s.io/examples/AI/modelgraft/pkg/config"
	"k8s.io/examples/AI/modelgraft/pkg/graft"
	"k8s.io/examples/AI/modelgraft/pkg/graph"
	"k8s.io/examples/AI/modelgraft/pkg/model"
	"k8s.io/examples/AI/modelgraft/pkg/rewrite"
)

func main() {
	ctx := context.Background()
	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("GRAFT_CONFIG")
	if configPath == "" {
		configPath = "graft.hcl"
	}
	flag.StringVar(&configPath, "config", configPath, "path to the graft config file")

	modelName := os.Getenv("GRAFT_MODEL")
	flag.StringVar(&modelName, "model", modelName, "model to build; may be omitted if the config defines one model")

	blobstore := os.Getenv("BLOBSTORE")
	flag.StringVar(&blobstore, "blobstore", blobstore, "where to read model graphs from; overrides the config")

	exportTo := os.Getenv("EXPORT_BLOBSTORE")
	flag.StringVar(&exportTo, "export", exportTo, "blobstore to upload the rewritten graph to; overrides the config")

	dumpDir := os.Getenv("GRAFT_DUMP_DIR")
	flag.StringVar(&dumpDir, "dump-dir", dumpDir, "directory to write intermediate graphs to; overrides the config")

	output := ""
	flag.StringVar(&output, "output", output, "also write the rewritten graph to this file")

	noProcessing := false
	flag.BoolVar(&noProcessing, "no-processing", noProcessing, "do not attach pre- and post-processing graphs")

	maxDownloadAttempts := 5
	if s := os.Getenv("MAX_DOWNLOAD_ATTEMPTS"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return fmt.Errorf("parsing MAX_DOWNLOAD_ATTEMPTS %q: %w", s, err)
		}
		maxDownloadAttempts = n
	}
	flag.IntVar(&maxDownloadAttempts, "max-download-attempts", maxDownloadAttempts, "number of times to attempt each download")

	klog.InitFlags(nil)

	flag.Parse()

	log := klog.FromContext(ctx)

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	m, err := cfg.Model(modelName)
	if err != nil {
		return err
	}
	spec, err := m.Spec()
	if err != nil {
		return err
	}

	if blobstore == "" {
		blobstore = cfg.Blobstore
	}
	if blobstore == "" {
		return fmt.Errorf("no blobstore configured; set blobstore in %s or pass -blobstore", configPath)
	}
	reader, err := blobs.OpenBlobReader(blobstore)
	if err != nil {
		return err
	}
	loader := &blobs.Loader{
		Reader:              reader,
		MaxDownloadAttempts: maxDownloadAttempts,
	}

	provider, err := model.LoadFromBlobs(ctx, loader, spec)
	if err != nil {
		return fmt.Errorf("loading model %q: %w", spec.Name, err)
	}

	opts := graft.Options{
		Rewrite:        cfg.Rewrite.Options(),
		SkipProcessing: noProcessing || m.SkipProcessing,
	}
	if dumpDir == "" && cfg.Rewrite != nil {
		dumpDir = cfg.Rewrite.SnapshotDir
	}
	if dumpDir != "" {
		snapshots := rewrite.NewDirSnapshotter(afero.NewOsFs(), dumpDir)
		log.Info("writing intermediate graphs", "dir", filepath.Join(snapshots.Dir, snapshots.RunID))
		opts.Rewrite.Snapshots = snapshots
	}

	g, report, err := graft.Build(ctx, provider, opts)
	if err != nil {
		return fmt.Errorf("building model %q: %w", spec.Name, err)
	}
	for _, p := range report.Passes {
		log.Info("pass", "stage", p.Stage, "pass", p.Pass, "nodesBefore", p.NodesBefore, "nodesAfter", p.NodesAfter, "rewrites", p.Rewrites)
	}
	for _, err := range report.FoldErrorList() {
		log.V(2).Info("fold failed", "error", err)
	}

	if output != "" {
		if err := graph.WriteFile(output, g); err != nil {
			return err
		}
		log.Info("wrote graph", "path", output, "nodes", g.Len())
	}

	if exportTo == "" && cfg.Export != nil {
		exportTo = cfg.Export.Blobstore
	}
	if exportTo != "" {
		store, err := blobs.OpenBlobstore(exportTo)
		if err != nil {
			return err
		}
		d, err := graft.Export(ctx, g, store)
		if err != nil {
			return fmt.Errorf("exporting model %q: %w", spec.Name, err)
		}
		fmt.Println(d)
	}
	return nil
}
