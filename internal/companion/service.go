// Package companion implements the out-of-process agent that the request
// processor reports to over a unix socket.
package companion

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "sinkguard.agent.v1.Agent"

// AgentServer is the companion's RPC surface. Payloads are
// google.protobuf.Struct so no generated code is needed.
type AgentServer interface {
	Ping(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	ReportStats(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	UpdateConfig(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ReportPackages(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	Status(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

func fullMethod(name string) string { return "/" + ServiceName + "/" + name }

func unary[Req, Resp any](name string, call func(AgentServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(AgentServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(AgentServer), ctx, req.(*Req))
			})
		},
	}
}

// ServiceDesc describes AgentServer to grpc.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AgentServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Ping", AgentServer.Ping),
		unary("ReportStats", AgentServer.ReportStats),
		unary("UpdateConfig", AgentServer.UpdateConfig),
		unary("ReportPackages", AgentServer.ReportPackages),
		unary("Status", AgentServer.Status),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "sinkguard/agent/v1/agent.proto",
}

// RegisterAgentServer registers srv on s.
func RegisterAgentServer(s grpc.ServiceRegistrar, srv AgentServer) {
	s.RegisterService(&ServiceDesc, srv)
}
