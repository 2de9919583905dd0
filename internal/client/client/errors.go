package client

import (
	"errors"
	"fmt"
)

var (
	ErrUnavailable  = errors.New("server unavailable")
	ErrNoSession    = errors.New("no session, handshake first")
	ErrBadHandshake = errors.New("malformed handshake response")
	ErrBadResponse  = errors.New("malformed response")
)

// APIError is a failure envelope returned by the server.
type APIError struct {
	// Status is the HTTP status, or its closest equivalent for gRPC.
	Status int
	Msg    string
}

func (e *APIError) Error() string {
	if e.Status == 0 {
		return e.Msg
	}
	return fmt.Sprintf("%d: %s", e.Status, e.Msg)
}
