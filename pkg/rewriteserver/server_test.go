package rewriteserver

import (
	"context"
	"net"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/opencontainers/go-digest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	api "k8s.io/examples/AI/modelgraft/api/v1alpha1"
	"k8s.io/examples/AI/modelgraft/pkg/blobs"
	"k8s.io/examples/AI/modelgraft/pkg/graph"
)

const frozen = `
version: "1.0"
nodes:
- name: in
  op: Placeholder
- name: id
  op: Identity
  inputs: [in]
- name: out
  op: Relu
  inputs: [id]
`

const pre = `
version: "1.0"
nodes:
- name: in
  op: Placeholder
- name: in_processed
  op: Sqrt
  inputs: [in]
`

func startServer(t *testing.T, s *Server) api.GraphRewriterClient {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	grpcServer := grpc.NewServer()
	api.RegisterGraphRewriterServer(grpcServer, s)
	go grpcServer.Serve(lis)
	t.Cleanup(grpcServer.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("connecting: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return api.NewGraphRewriterClient(conn)
}

func TestRewrite(t *testing.T) {
	ctx := context.Background()
	store := &blobs.LocalBlobstore{Dir: t.TempDir()}
	client := startServer(t, &Server{Store: store})

	response, err := client.Rewrite(ctx, &api.RewriteRequest{
		FrozenGraph:        frozen,
		PreProcessingGraph: pre,
		Inputs:             []string{"in"},
		Outputs:            []string{"out"},
	})
	if err != nil {
		t.Fatalf("Rewrite: %v", err)
	}

	g, err := graph.Decode([]byte(response.Graph))
	if err != nil {
		t.Fatalf("decoding response graph: %v", err)
	}
	if diff := cmp.Diff([]string{"out", "in", "in_processed"}, g.Names()); diff != "" {
		t.Errorf("unexpected nodes (-want +got):\n%s", diff)
	}
	out, _ := g.Get("out")
	if diff := cmp.Diff([]graph.TensorRef{graph.Ref("in_processed", 0)}, out.Inputs); diff != "" {
		t.Errorf("unexpected inputs of out (-want +got):\n%s", diff)
	}

	if response.Report == nil || response.Report.NodesBefore != 4 || response.Report.NodesAfter != 3 {
		t.Errorf("unexpected report %+v", response.Report)
	}
	if len(response.Report.Passes) == 0 || response.Report.RunID == "" {
		t.Errorf("report is missing pass details: %+v", response.Report)
	}

	d, err := digest.Parse(response.Digest)
	if err != nil {
		t.Fatalf("invalid digest %q: %v", response.Digest, err)
	}
	if d != digest.FromString(response.Graph) {
		t.Errorf("digest %s does not match the returned graph", d)
	}
}

func TestRewriteErrors(t *testing.T) {
	ctx := context.Background()
	client := startServer(t, &Server{})

	grid := []struct {
		name string
		req  *api.RewriteRequest
		want codes.Code
	}{
		{
			name: "no frozen graph",
			req:  &api.RewriteRequest{Outputs: []string{"out"}},
			want: codes.InvalidArgument,
		},
		{
			name: "bad descriptor",
			req:  &api.RewriteRequest{FrozenGraph: "version: \"9.0\"", Outputs: []string{"out"}},
			want: codes.InvalidArgument,
		},
		{
			name: "missing output",
			req:  &api.RewriteRequest{FrozenGraph: frozen, Inputs: []string{"in"}, Outputs: []string{"ghost"}},
			want: codes.NotFound,
		},
		{
			name: "undeclared boundary",
			req:  &api.RewriteRequest{FrozenGraph: frozen, PreProcessingGraph: pre, Outputs: []string{"out"}},
			want: codes.InvalidArgument,
		},
	}
	for _, g := range grid {
		t.Run(g.name, func(t *testing.T) {
			_, err := client.Rewrite(ctx, g.req)
			if got := status.Code(err); got != g.want {
				t.Errorf("expected code %v, got %v (%v)", g.want, got, err)
			}
		})
	}
}

func TestUnimplemented(t *testing.T) {
	_, err := api.UnimplementedGraphRewriterServer{}.Rewrite(context.Background(), &api.RewriteRequest{})
	if status.Code(err) != codes.Unimplemented {
		t.Errorf("expected Unimplemented, got %v", err)
	}
}
