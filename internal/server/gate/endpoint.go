package gate

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
)

var endpointNameRe = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// Call is what a handler learns about the request besides its payload.
type Call struct {
	Session  string
	RemoteIP string
	// User is the account bound to Session when the payload carried a
	// token that checked out, empty otherwise.
	User     string
	Bindings *Bindings
}

// HandlerFunc runs the business logic of an endpoint. payload is the value
// returned by Endpoint.New, decoded and validated. A nil result is sent as {}.
type HandlerFunc func(ctx context.Context, call *Call, payload any) (any, error)

type Endpoint struct {
	Name string
	// New returns a pointer to a fresh payload struct. Its validate tags
	// declare the accepted shape.
	New    func() any
	Handle HandlerFunc
}

// TokenCarrier is implemented by payloads of endpoints that require an
// authenticated user.
type TokenCarrier interface {
	AuthToken() (token string, present bool)
}

// Request is one privileged call as received from a transport.
type Request struct {
	Session  string
	Data     json.RawMessage
	RemoteIP string
}

// Response is the JSON envelope every transport sends back.
type Response struct {
	Success    bool            `json:"success"`
	APIVersion string          `json:"api_version,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
	Msg        string          `json:"msg,omitempty"`
}

func failure(msg string) Response {
	return Response{Success: false, Msg: msg}
}

func endpointError(name string, err error) string {
	return fmt.Sprintf("Errors in %q: %v", name, err)
}
