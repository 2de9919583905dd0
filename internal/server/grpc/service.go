package grpc

import (
	"context"

	"github.com/dmitrijs2005/volunteerhub/internal/common"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const ServiceName = common.GatewayService

const (
	MethodHandshake    = common.GatewayMethodHandshake
	MethodCall         = common.GatewayMethodCall
	MethodCloseSession = common.GatewayMethodCloseSession
)

// GatewayServer is the gRPC face of the gate. Every message is a
// google.protobuf.Struct shaped like the HTTP JSON bodies.
type GatewayServer interface {
	Handshake(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	Call(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	CloseSession(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

func RegisterGatewayServer(s grpc.ServiceRegistrar, srv GatewayServer) {
	s.RegisterService(&gatewayServiceDesc, srv)
}

func unaryHandler(method string, call func(GatewayServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(GatewayServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(GatewayServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

var gatewayServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*GatewayServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Handshake", Handler: unaryHandler(MethodHandshake, GatewayServer.Handshake)},
		{MethodName: "Call", Handler: unaryHandler(MethodCall, GatewayServer.Call)},
		{MethodName: "CloseSession", Handler: unaryHandler(MethodCloseSession, GatewayServer.CloseSession)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "volunteerhub/gateway",
}
