package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/dmitrijs2005/volunteerhub/internal/common"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// GRPCTransport speaks to the gateway service with Struct messages.
type GRPCTransport struct {
	conn *grpc.ClientConn
}

// NewGRPCTransport connects to endpoint. Without options the connection is
// plaintext.
func NewGRPCTransport(endpoint string, opts ...grpc.DialOption) (*GRPCTransport, error) {
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	conn, err := grpc.NewClient(endpoint, opts...)
	if err != nil {
		return nil, err
	}
	return &GRPCTransport{conn: conn}, nil
}

func withSession(ctx context.Context, session string) context.Context {
	md, _ := metadata.FromOutgoingContext(ctx)
	md = md.Copy()
	if md == nil {
		md = metadata.MD{}
	}
	md.Set(common.SessionMetadataKey, session)

	return metadata.NewOutgoingContext(ctx, md)
}

func (t *GRPCTransport) Handshake(ctx context.Context, userPublicKey string) (*Envelope, error) {
	in, err := structpb.NewStruct(map[string]any{"userPublicKey": userPublicKey})
	if err != nil {
		return nil, err
	}
	return t.invoke(ctx, common.GatewayMethodHandshake, in)
}

func (t *GRPCTransport) Call(ctx context.Context, session, endpoint string, data json.RawMessage) (*Envelope, error) {
	v := &structpb.Value{}
	if err := v.UnmarshalJSON(data); err != nil {
		return nil, fmt.Errorf("error encoding data: %w", err)
	}
	in := &structpb.Struct{Fields: map[string]*structpb.Value{
		"endpoint": structpb.NewStringValue(endpoint),
		"data":     v,
	}}
	return t.invoke(withSession(ctx, session), common.GatewayMethodCall, in)
}

func (t *GRPCTransport) CloseSession(ctx context.Context, session string) (*Envelope, error) {
	return t.invoke(withSession(ctx, session), common.GatewayMethodCloseSession, &structpb.Struct{})
}

func (t *GRPCTransport) Close() error {
	return t.conn.Close()
}

func (t *GRPCTransport) invoke(ctx context.Context, method string, in *structpb.Struct) (*Envelope, error) {
	out := &structpb.Struct{}
	if err := t.conn.Invoke(ctx, method, in, out); err != nil {
		return nil, fromStatus(err)
	}

	b, err := out.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	env := &Envelope{}
	if err := json.Unmarshal(b, env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	return env, nil
}

func fromStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}

	switch st.Code() {
	case codes.Unavailable, codes.DeadlineExceeded, codes.Canceled:
		return fmt.Errorf("%w: %s", ErrUnavailable, st.Message())
	case codes.InvalidArgument:
		return &APIError{Status: http.StatusBadRequest, Msg: st.Message()}
	case codes.Unauthenticated:
		return &APIError{Status: http.StatusUnauthorized, Msg: st.Message()}
	case codes.PermissionDenied:
		return &APIError{Status: http.StatusForbidden, Msg: st.Message()}
	case codes.NotFound:
		return &APIError{Status: http.StatusNotFound, Msg: st.Message()}
	case codes.ResourceExhausted:
		return &APIError{Status: http.StatusTooManyRequests, Msg: st.Message()}
	default:
		return &APIError{Status: http.StatusInternalServerError, Msg: st.Message()}
	}
}
