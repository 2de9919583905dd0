package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/volunteerhub/internal/client/client"
	"github.com/dmitrijs2005/volunteerhub/internal/common"
	"github.com/spf13/cobra"
)

type credentials struct {
	ID       string `json:"id"`
	Password string `json:"password"`
	Captcha  string `json:"captcha,omitempty"`
}

type signUpRequest struct {
	credentials
	Permissions string `json:"permissions,omitempty"`
	Token       string `json:"token,omitempty"`
}

type tokenReply struct {
	Token string `json:"token"`
}

func newHandshakeCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "handshake",
		Short: "Open a session and print its parameters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, o, func(ctx context.Context, c *client.Client) error {
				mode := "encrypted"
				if c.Secure() {
					mode = "secure transport"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "session %s (%s), api %s\n", c.Session(), mode, c.APIVersion())
				return nil
			})
		},
	}
}

// readCredentials prompts for the password of id.
func readCredentials(cmd *cobra.Command, id, captcha, prompt string) (credentials, error) {
	pw, err := GetPassword(cmd.OutOrStdout(), prompt)
	if err != nil {
		return credentials{}, err
	}
	defer common.WipeByteArray(pw)

	return credentials{ID: id, Password: string(pw), Captcha: captcha}, nil
}

func signIn(ctx context.Context, c *client.Client, cred credentials) (string, error) {
	var reply tokenReply
	if err := c.Call(ctx, "sign-in", cred, &reply); err != nil {
		return "", err
	}
	return reply.Token, nil
}

func newSignUpCmd(o *options) *cobra.Command {
	var id, permissions, admin, captcha string

	cmd := &cobra.Command{
		Use:   "sign-up",
		Short: "Create an account",
		Long: "Create an account. Self-registered accounts get the default permissions;\n" +
			"choosing --permissions requires signing in as an admin with --admin.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cred, err := readCredentials(cmd, id, captcha, "Choose password: ")
			if err != nil {
				return err
			}
			var adminCred credentials
			if admin != "" {
				if adminCred, err = readCredentials(cmd, admin, captcha, "Admin password: "); err != nil {
					return err
				}
			}
			return withSession(cmd, o, func(ctx context.Context, c *client.Client) error {
				req := signUpRequest{credentials: cred, Permissions: permissions}
				if admin != "" {
					if req.Token, err = signIn(ctx, c, adminCred); err != nil {
						return err
					}
				}
				if err := c.Call(ctx, "sign-up", req, nil); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "account %q created\n", id)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "account id")
	cmd.Flags().StringVar(&permissions, "permissions", "", "permission string for the new account (admin only)")
	cmd.Flags().StringVar(&admin, "admin", "", "admin account to sign in as before creating the account")
	cmd.Flags().StringVar(&captcha, "captcha", "", "human verification token")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func newSignInCmd(o *options) *cobra.Command {
	var id, captcha string

	cmd := &cobra.Command{
		Use:   "sign-in",
		Short: "Sign in and print an access token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cred, err := readCredentials(cmd, id, captcha, "Enter password: ")
			if err != nil {
				return err
			}
			return withSession(cmd, o, func(ctx context.Context, c *client.Client) error {
				token, err := signIn(ctx, c, cred)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), token)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "account id")
	cmd.Flags().StringVar(&captcha, "captcha", "", "human verification token")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func newPermissionsCmd(o *options) *cobra.Command {
	var id, captcha string

	cmd := &cobra.Command{
		Use:   "permissions",
		Short: "Sign in and print the account's permissions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cred, err := readCredentials(cmd, id, captcha, "Enter password: ")
			if err != nil {
				return err
			}
			return withSession(cmd, o, func(ctx context.Context, c *client.Client) error {
				token, err := signIn(ctx, c, cred)
				if err != nil {
					return err
				}
				var reply struct {
					Permissions string `json:"permissions"`
				}
				if err := c.Call(ctx, "get-permissions", tokenReply{Token: token}, &reply); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %q\n", id, reply.Permissions)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "account id")
	cmd.Flags().StringVar(&captcha, "captcha", "", "human verification token")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func newHeartbeatCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "heartbeat",
		Short: "Print the server clock",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, o, func(ctx context.Context, c *client.Client) error {
				var reply struct {
					Time int64 `json:"time"`
				}
				if err := c.Call(ctx, "heartbeat", nil, &reply); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), time.UnixMilli(reply.Time).UTC().Format(time.RFC3339Nano))
				return nil
			})
		},
	}
}
