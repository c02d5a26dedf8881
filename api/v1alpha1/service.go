package v1alpha1

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	GraphRewriter_ServiceName            = "modelgraft.v1alpha1.GraphRewriter"
	GraphRewriter_Rewrite_FullMethodName = "/" + GraphRewriter_ServiceName + "/Rewrite"
)

// GraphRewriterServer is the server API for the GraphRewriter service.
type GraphRewriterServer interface {
	Rewrite(context.Context, *RewriteRequest) (*RewriteResponse, error)
}

// UnimplementedGraphRewriterServer can be embedded to have forward
// compatible implementations.
type UnimplementedGraphRewriterServer struct{}

func (UnimplementedGraphRewriterServer) Rewrite(context.Context, *RewriteRequest) (*RewriteResponse, error) {
	return nil, status.Errorf(codes.Unimplemented, "method Rewrite not implemented")
}

func RegisterGraphRewriterServer(s grpc.ServiceRegistrar, srv GraphRewriterServer) {
	s.RegisterService(&GraphRewriter_ServiceDesc, srv)
}

func _GraphRewriter_Rewrite_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(RewriteRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(GraphRewriterServer).Rewrite(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: GraphRewriter_Rewrite_FullMethodName,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(GraphRewriterServer).Rewrite(ctx, req.(*RewriteRequest))
	}
	return interceptor(ctx, in, info, handler)
}

var GraphRewriter_ServiceDesc = grpc.ServiceDesc{
	ServiceName: GraphRewriter_ServiceName,
	HandlerType: (*GraphRewriterServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Rewrite",
			Handler:    _GraphRewriter_Rewrite_Handler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "modelgraft/v1alpha1",
}

// GraphRewriterClient is the client API for the GraphRewriter service.
type GraphRewriterClient interface {
	Rewrite(ctx context.Context, in *RewriteRequest, opts ...grpc.CallOption) (*RewriteResponse, error)
}

type graphRewriterClient struct {
	cc grpc.ClientConnInterface
}

func NewGraphRewriterClient(cc grpc.ClientConnInterface) GraphRewriterClient {
	return &graphRewriterClient{cc}
}

func (c *graphRewriterClient) Rewrite(ctx context.Context, in *RewriteRequest, opts ...grpc.CallOption) (*RewriteResponse, error) {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	out := new(RewriteResponse)
	if err := c.cc.Invoke(ctx, GraphRewriter_Rewrite_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
