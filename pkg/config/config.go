// Package config reads the graft configuration file, written in HCL:
//
//	blobstore = "gs://models/graphs"
//
//	model "detector" {
//	  frozen_graph    = "sha256:..."
//	  pre_processing  = "sha256:..."
//	  post_processing = "sha256:..."
//	  inputs          = ["image"]
//	  outputs         = ["detection_classes"]
//	}
//
//	rewrite {
//	  snapshot_dir = "${env.HOME}/.cache/modelgraft/dumps"
//	}
//
//	export {
//	  blobstore = "gs://models/optimized"
//	}
//
// Expressions may read environment variables through env.<NAME>.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"

	"k8s.io/examples/AI/modelgraft/pkg/blobs"
	"k8s.io/examples/AI/modelgraft/pkg/model"
	"k8s.io/examples/AI/modelgraft/pkg/rewrite"
)

// File is the decoded configuration.
type File struct {
	// Blobstore is where model graphs are read from.
	Blobstore string   `hcl:"blobstore,optional"`
	Models    []*Model `hcl:"model,block"`
	Rewrite   *Rewrite `hcl:"rewrite,block"`
	Export    *Export  `hcl:"export,block"`
}

type Model struct {
	Name           string   `hcl:"name,label"`
	FrozenGraph    string   `hcl:"frozen_graph"`
	PreProcessing  string   `hcl:"pre_processing,optional"`
	PostProcessing string   `hcl:"post_processing,optional"`
	Inputs         []string `hcl:"inputs"`
	Outputs        []string `hcl:"outputs"`
	// SkipProcessing builds the graph without grafting the donors, for
	// runtimes that cannot execute the processing ops.
	SkipProcessing bool `hcl:"skip_processing,optional"`
}

type Rewrite struct {
	InitializerRoots []string `hcl:"initializer_roots,optional"`
	PassthroughOps   []string `hcl:"passthrough_ops,optional"`
	MaxIterations    int      `hcl:"max_iterations,optional"`
	SnapshotDir      string   `hcl:"snapshot_dir,optional"`
}

type Export struct {
	Blobstore string `hcl:"blobstore"`
}

// Load reads and decodes the configuration file at path.
func Load(path string) (*File, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(src, path)
}

// Parse decodes configuration source; filename is used in diagnostics.
func Parse(src []byte, filename string) (*File, error) {
	parser := hclparse.NewParser()
	hclFile, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL file %s: %w", filename, diags)
	}

	var f File
	diags = gohcl.DecodeBody(hclFile.Body, evalContext(), &f)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode HCL file %s: %w", filename, diags)
	}
	if err := f.validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", filename, err)
	}
	return &f, nil
}

func evalContext() *hcl.EvalContext {
	env := make(map[string]cty.Value)
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		env[k] = cty.StringVal(v)
	}
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"env": cty.ObjectVal(env),
		},
	}
}

func (f *File) validate() error {
	seen := make(map[string]bool)
	for _, m := range f.Models {
		if seen[m.Name] {
			return fmt.Errorf("model %q is defined more than once", m.Name)
		}
		seen[m.Name] = true
		if len(m.Outputs) == 0 {
			return fmt.Errorf("model %q declares no outputs", m.Name)
		}
		if _, err := m.Spec(); err != nil {
			return err
		}
	}
	return nil
}

// Model returns the model called name. If name is empty and exactly one
// model is defined, that model is returned.
func (f *File) Model(name string) (*Model, error) {
	if name == "" {
		if len(f.Models) != 1 {
			return nil, fmt.Errorf("config defines %d models; one must be chosen", len(f.Models))
		}
		return f.Models[0], nil
	}
	for _, m := range f.Models {
		if m.Name == name {
			return m, nil
		}
	}
	return nil, fmt.Errorf("model %q not found in config", name)
}

// Spec converts the block into the blob references the provider loads.
func (m *Model) Spec() (model.Spec, error) {
	spec := model.Spec{
		Name:    m.Name,
		Inputs:  m.Inputs,
		Outputs: m.Outputs,
	}
	var err error
	spec.FrozenGraph, err = blobs.ParseBlobInfo(m.FrozenGraph)
	if err != nil {
		return spec, fmt.Errorf("model %q: frozen_graph: %w", m.Name, err)
	}
	if spec.PreProcessing, err = optionalBlob(m.PreProcessing); err != nil {
		return spec, fmt.Errorf("model %q: pre_processing: %w", m.Name, err)
	}
	if spec.PostProcessing, err = optionalBlob(m.PostProcessing); err != nil {
		return spec, fmt.Errorf("model %q: post_processing: %w", m.Name, err)
	}
	return spec, nil
}

func optionalBlob(s string) (*blobs.BlobInfo, error) {
	if s == "" {
		return nil, nil
	}
	info, err := blobs.ParseBlobInfo(s)
	if err != nil {
		return nil, err
	}
	return &info, nil
}

// Options returns the pipeline options the block describes. Snapshots are
// wired by the caller from SnapshotDir.
func (r *Rewrite) Options() rewrite.Options {
	if r == nil {
		return rewrite.Options{}
	}
	return rewrite.Options{
		InitializerRoots: r.InitializerRoots,
		PassthroughOps:   r.PassthroughOps,
		MaxIterations:    r.MaxIterations,
	}
}
