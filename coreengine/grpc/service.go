package grpc

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "outreach.v1.OutreachService"

// Full method names.
const (
	MethodGenerate       = "/" + ServiceName + "/Generate"
	MethodClassify       = "/" + ServiceName + "/Classify"
	MethodGenerateStream = "/" + ServiceName + "/GenerateStream"
)

// OutreachServiceServer is the server API. Requests and responses are
// structpb.Struct documents with the JSON shape of runtime.Request and
// runtime.Response.
type OutreachServiceServer interface {
	Generate(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Classify(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	GenerateStream(req *structpb.Struct, stream OutreachService_GenerateStreamServer) error
}

// OutreachService_GenerateStreamServer sends progress events to the client.
type OutreachService_GenerateStreamServer = grpc.ServerStreamingServer[structpb.Struct]

// ServiceDesc describes the outreach service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*OutreachServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Generate", Handler: generateHandler},
		{MethodName: "Classify", Handler: classifyHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "GenerateStream", Handler: generateStreamHandler, ServerStreams: true},
	},
	Metadata: "outreach/v1/outreach.proto",
}

// RegisterOutreachServiceServer registers srv on s.
func RegisterOutreachServiceServer(s grpc.ServiceRegistrar, srv OutreachServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func generateHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(OutreachServiceServer).Generate(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodGenerate}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(OutreachServiceServer).Generate(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func classifyHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(OutreachServiceServer).Classify(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodClassify}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(OutreachServiceServer).Classify(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func generateStreamHandler(srv any, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(OutreachServiceServer).GenerateStream(in, &grpc.GenericServerStream[structpb.Struct, structpb.Struct]{ServerStream: stream})
}

// =============================================================================
// CLIENT
// =============================================================================

// Client calls the outreach service.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps a client connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Generate drafts outreach for one request.
func (c *Client) Generate(ctx context.Context, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, MethodGenerate, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// Classify routes a request without drafting.
func (c *Client) Classify(ctx context.Context, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, MethodClassify, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// GenerateStream drafts outreach and receives progress events. The last
// event has type "final".
func (c *Client) GenerateStream(ctx context.Context, req *structpb.Struct, opts ...grpc.CallOption) (grpc.ServerStreamingClient[structpb.Struct], error) {
	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[0], MethodGenerateStream, opts...)
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[structpb.Struct, structpb.Struct]{ClientStream: stream}
	if err := x.ClientStream.SendMsg(req); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

// =============================================================================
// STRUCT CODEC
// =============================================================================

// ToStruct converts a JSON-tagged value to a structpb.Struct.
func ToStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode struct: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("encode struct: %w", err)
	}
	return structpb.NewStruct(m)
}

// FromStruct decodes a structpb.Struct into a JSON-tagged value.
func FromStruct(s *structpb.Struct, v any) error {
	data, err := json.Marshal(s.AsMap())
	if err != nil {
		return fmt.Errorf("decode struct: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode struct: %w", err)
	}
	return nil
}
