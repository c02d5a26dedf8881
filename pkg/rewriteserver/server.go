// Package rewriteserver implements the GraphRewriter gRPC service.
package rewriteserver

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"k8s.io/klog/v2"

	api "k8s.io/examples/AI/modelgraft/api/v1alpha1"
	"k8s.io/examples/AI/modelgraft/pkg/blobs"
	"k8s.io/examples/AI/modelgraft/pkg/graft"
	"k8s.io/examples/AI/modelgraft/pkg/graph"
	"k8s.io/examples/AI/modelgraft/pkg/model"
	"k8s.io/examples/AI/modelgraft/pkg/rewrite"
)

// Server runs one independent build per request.
type Server struct {
	api.UnimplementedGraphRewriterServer

	// Store, if set, receives every rewritten graph.
	Store blobs.Blobstore
	// Snapshots, if set, receives intermediate graphs.
	Snapshots rewrite.Snapshotter
}

var _ api.GraphRewriterServer = &Server{}

func (s *Server) Rewrite(ctx context.Context, req *api.RewriteRequest) (*api.RewriteResponse, error) {
	log := klog.FromContext(ctx).WithValues("request", uuid.NewString())
	ctx = klog.NewContext(ctx, log)

	provider, err := providerFor(req)
	if err != nil {
		return nil, err
	}

	opts := graft.Options{
		SkipProcessing: req.SkipProcessing,
		Rewrite:        rewrite.Options{Snapshots: s.Snapshots},
	}
	if o := req.Options; o != nil {
		opts.Rewrite.InitializerRoots = o.InitializerRoots
		opts.Rewrite.PassthroughOps = o.PassthroughOps
		opts.Rewrite.MaxIterations = o.MaxIterations
	}

	g, report, err := graft.Build(ctx, provider, opts)
	if err != nil {
		log.Error(err, "rewrite failed")
		return nil, toStatus(err)
	}

	data, err := graph.Encode(g)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encoding graph: %v", err)
	}
	response := &api.RewriteResponse{
		Graph:  string(data),
		Report: FromReport(report),
	}
	if s.Store != nil {
		d, err := graft.Export(ctx, g, s.Store)
		if err != nil {
			return nil, status.Errorf(codes.Unavailable, "exporting graph: %v", err)
		}
		response.Digest = d.String()
	}
	return response, nil
}

func providerFor(req *api.RewriteRequest) (*model.StaticProvider, error) {
	if req.FrozenGraph == "" {
		return nil, status.Errorf(codes.InvalidArgument, "frozenGraph is required")
	}
	if len(req.Outputs) == 0 {
		return nil, status.Errorf(codes.InvalidArgument, "outputs are required")
	}

	p := &model.StaticProvider{
		Inputs:  req.Inputs,
		Outputs: req.Outputs,
	}
	var err error
	if p.Frozen, err = decode("frozenGraph", req.FrozenGraph); err != nil {
		return nil, err
	}
	if p.Pre, err = decode("preProcessingGraph", req.PreProcessingGraph); err != nil {
		return nil, err
	}
	if p.Post, err = decode("postProcessingGraph", req.PostProcessingGraph); err != nil {
		return nil, err
	}
	return p, nil
}

func decode(field, descriptor string) (*graph.Graph, error) {
	if descriptor == "" {
		return nil, nil
	}
	g, err := graph.Decode([]byte(descriptor))
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "%s: %v", field, err)
	}
	return g, nil
}

// toStatus keeps the code of typed graph errors and reports anything else
// as internal.
func toStatus(err error) error {
	if st, ok := status.FromError(err); ok {
		return st.Err()
	}
	return status.Error(codes.Internal, err.Error())
}

// FromReport converts a pipeline report to its wire form.
func FromReport(r *rewrite.Report) *api.Report {
	if r == nil {
		return nil
	}
	out := &api.Report{
		RunID:       r.RunID,
		NodesBefore: r.NodesBefore,
		NodesAfter:  r.NodesAfter,
	}
	for _, p := range r.Passes {
		out.Passes = append(out.Passes, api.PassReport{
			Stage:          p.Stage,
			Pass:           p.Pass,
			Iterations:     p.Iterations,
			NodesBefore:    p.NodesBefore,
			NodesAfter:     p.NodesAfter,
			Rewrites:       p.Rewrites,
			DurationMillis: p.Duration.Milliseconds(),
		})
	}
	for _, err := range r.FoldErrorList() {
		out.FoldErrors = append(out.FoldErrors, fmt.Sprint(err))
	}
	return out
}
