// Package cli implements the volunteerhub command-line client.
package cli

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/dmitrijs2005/volunteerhub/internal/client/client"
	"github.com/spf13/cobra"
)

const (
	defaultServer  = "http://127.0.0.1:3000"
	defaultTimeout = 30 * time.Second
)

type options struct {
	server  string
	grpc    string
	timeout time.Duration
}

// newTransport is a seam for tests.
var newTransport = func(o *options) (client.Transport, error) {
	if o.grpc != "" {
		return client.NewGRPCTransport(o.grpc)
	}
	return client.NewHTTPTransport(o.server, nil), nil
}

// NewRootCmd builds the command tree. Output goes to out.
func NewRootCmd(out io.Writer) *cobra.Command {
	o := &options{}

	root := &cobra.Command{
		Use:           "vhcli",
		Short:         "Command-line client for the volunteerhub API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	root.SetErr(out)

	server := os.Getenv("VH_SERVER")
	if server == "" {
		server = defaultServer
	}
	root.PersistentFlags().StringVar(&o.server, "server", server, "server base URL")
	root.PersistentFlags().StringVar(&o.grpc, "grpc", "", "gRPC address; when set it is used instead of --server")
	root.PersistentFlags().DurationVar(&o.timeout, "timeout", defaultTimeout, "overall timeout per command")

	root.AddCommand(
		newHandshakeCmd(o),
		newSignUpCmd(o),
		newSignInCmd(o),
		newPermissionsCmd(o),
		newHeartbeatCmd(o),
	)
	return root
}

// Execute runs the client against os.Args.
func Execute() error {
	return NewRootCmd(os.Stdout).Execute()
}

// withSession opens a session, runs fn and closes the session again.
func withSession(cmd *cobra.Command, o *options, fn func(ctx context.Context, c *client.Client) error) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), o.timeout)
	defer cancel()

	t, err := newTransport(o)
	if err != nil {
		return err
	}
	c := client.New(t)
	defer func() { _ = c.Close() }()

	if err := c.Handshake(ctx); err != nil {
		return err
	}
	defer func() { _ = c.CloseSession(ctx) }()

	return fn(ctx, c)
}
