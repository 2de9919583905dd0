package grpc

import (
	"context"

	"github.com/dmitrijs2005/volunteerhub/internal/common"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

type ctxKey string

const sessionIDKey ctxKey = "sessionID"

func sessionFromContext(ctx context.Context) string {
	id, _ := ctx.Value(sessionIDKey).(string)
	return id
}

// sessionInterceptor requires a session id in the "session" metadata on
// every method except the handshake. Call also needs the session to be live;
// CloseSession does not, so closing twice succeeds.
func (s *Server) sessionInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	if info.FullMethod == MethodCall || info.FullMethod == MethodCloseSession {

		var sessionID string
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			values := md.Get(common.SessionMetadataKey)
			if len(values) > 0 {
				sessionID = values[0]
			}
		}
		if len(sessionID) == 0 {
			return nil, status.Error(codes.InvalidArgument, "Missing session ID")
		}

		if info.FullMethod == MethodCall && !s.gate.HaveSession(ctx, sessionID) {
			return nil, status.Error(codes.Unauthenticated, "Invalid session ID")
		}

		ctx = context.WithValue(ctx, sessionIDKey, sessionID)
	}

	return handler(ctx, req)
}
