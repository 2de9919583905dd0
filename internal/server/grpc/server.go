// Package grpc serves the gate over gRPC for clients that prefer it to the
// JSON HTTP routes. No generated stubs are needed: messages are
// google.protobuf.Struct values carrying the same JSON shapes.
package grpc

import (
	"context"
	"encoding/json"
	"net"
	"net/http"

	"github.com/dmitrijs2005/volunteerhub/internal/logging"
	"github.com/dmitrijs2005/volunteerhub/internal/server/gate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

type Server struct {
	address string
	gate    *gate.Gate
	logger  logging.Logger
}

func NewServer(address string, l logging.Logger, g *gate.Gate) *Server {
	if l == nil {
		l = logging.Nop{}
	}
	return &Server{
		address: address,
		gate:    g,
		logger:  l.With("module", "grpc_server"),
	}
}

// NewGRPCServer builds a *grpc.Server with the gateway and its interceptor
// registered.
func (s *Server) NewGRPCServer(opts ...grpc.ServerOption) *grpc.Server {
	opts = append(opts, grpc.ChainUnaryInterceptor(s.sessionInterceptor))
	srv := grpc.NewServer(opts...)
	RegisterGatewayServer(srv, s)
	return srv
}

func (s *Server) Run(ctx context.Context) error {

	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}

	srv := s.NewGRPCServer()

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping gRPC server...")
		srv.GracefulStop()
	}()

	s.logger.Info(ctx, "Starting gRPC server", "address", s.address)

	if err := srv.Serve(listen); err != nil {
		return err
	}

	return nil
}

func (s *Server) Handshake(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	key := in.GetFields()["userPublicKey"].GetStringValue()
	return reply(s.gate.Handshake(ctx, remoteIP(ctx), key))
}

func (s *Server) Call(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	fields := in.GetFields()
	endpoint := fields["endpoint"].GetStringValue()
	if endpoint == "" {
		return nil, status.Error(codes.InvalidArgument, "Missing endpoint")
	}

	var data json.RawMessage
	if v, ok := fields["data"]; ok {
		b, err := v.MarshalJSON()
		if err != nil {
			return nil, status.Error(codes.InvalidArgument, "Malformed data")
		}
		data = b
	}

	return reply(s.gate.Handle(ctx, endpoint, gate.Request{
		Session:  sessionFromContext(ctx),
		Data:     data,
		RemoteIP: remoteIP(ctx),
	}))
}

func (s *Server) CloseSession(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	return reply(s.gate.CloseSession(ctx, sessionFromContext(ctx)))
}

// reply converts a gate envelope into a Struct, or into a status error when
// the gate refused the request.
func reply(code int, resp gate.Response) (*structpb.Struct, error) {
	if code != http.StatusOK {
		return nil, status.Error(grpcCode(code), resp.Msg)
	}

	b, err := json.Marshal(resp)
	if err != nil {
		return nil, status.Error(codes.Internal, "internal error")
	}
	out := &structpb.Struct{}
	if err := out.UnmarshalJSON(b); err != nil {
		return nil, status.Error(codes.Internal, "internal error")
	}
	return out, nil
}

func grpcCode(httpStatus int) codes.Code {
	switch httpStatus {
	case http.StatusBadRequest:
		return codes.InvalidArgument
	case http.StatusUnauthorized:
		return codes.Unauthenticated
	case http.StatusForbidden:
		return codes.PermissionDenied
	case http.StatusNotFound:
		return codes.NotFound
	case http.StatusTooManyRequests:
		return codes.ResourceExhausted
	default:
		return codes.Internal
	}
}

func remoteIP(ctx context.Context) string {
	p, ok := peer.FromContext(ctx)
	if !ok || p.Addr == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(p.Addr.String())
	if err != nil {
		return p.Addr.String()
	}
	return host
}
