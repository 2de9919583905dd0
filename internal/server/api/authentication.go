// Package api declares the endpoints served through the gate.
package api

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/volunteerhub/internal/common"
	"github.com/dmitrijs2005/volunteerhub/internal/server/gate"
)

const (
	// PermissionAdmin may delete accounts and create accounts with chosen
	// permissions.
	PermissionAdmin = "admin"
	// PermissionUser is given to every self-registered account.
	PermissionUser = "user"
)

// Accounts is the slice of users.Service the endpoints call.
type Accounts interface {
	Login(ctx context.Context, id, password, proof, remoteIP string) (string, error)
	AddUser(ctx context.Context, id, password, permissions, proof, remoteIP string) error
	VerifyToken(ctx context.Context, expectedID, token string) bool
	UpdatePassword(ctx context.Context, id, newPassword string) error
	GetUserPermissions(ctx context.Context, id string) (string, error)
	DeleteUser(ctx context.Context, id string) error
}

type SignInRequest struct {
	ID       string `json:"id" validate:"required"`
	Password string `json:"password" validate:"required"`
	Captcha  string `json:"captcha,omitempty"`
}

type SignInResponse struct {
	Token string `json:"token"`
}

// SignUpRequest creates an account. Permissions other than PermissionUser
// need Token of an admin signed in on the same session.
type SignUpRequest struct {
	ID          string `json:"id" validate:"required,max=128"`
	Password    string `json:"password" validate:"required,max=72"`
	Permissions string `json:"permissions,omitempty"`
	Token       string `json:"token,omitempty"`
	Captcha     string `json:"captcha,omitempty"`
}

type SignOutRequest struct {
	Token string `json:"token" validate:"required"`
}

func (r *SignOutRequest) AuthToken() (string, bool) { return r.Token, r.Token != "" }

type TokenStateRequest struct {
	TokenToCheck string `json:"tokenToCheck" validate:"required"`
	UserID       string `json:"userID" validate:"required"`
}

type TokenStateResponse struct {
	Valid bool `json:"valid"`
}

type PermissionsRequest struct {
	Token string `json:"token" validate:"required"`
}

func (r *PermissionsRequest) AuthToken() (string, bool) { return r.Token, r.Token != "" }

type PermissionsResponse struct {
	Permissions string `json:"permissions"`
}

type UpdatePasswordRequest struct {
	Token    string `json:"token" validate:"required"`
	Password string `json:"password" validate:"required,max=72"`
}

func (r *UpdatePasswordRequest) AuthToken() (string, bool) { return r.Token, r.Token != "" }

type DeleteUserRequest struct {
	Token string `json:"token" validate:"required"`
	ID    string `json:"id" validate:"required"`
}

func (r *DeleteUserRequest) AuthToken() (string, bool) { return r.Token, r.Token != "" }

type HeartbeatResponse struct {
	Time int64 `json:"time"`
}

// AuthEndpoints returns the account endpoints backed by accounts.
func AuthEndpoints(accounts Accounts) []gate.Endpoint {
	return []gate.Endpoint{
		{
			Name: "sign-in",
			New:  func() any { return &SignInRequest{} },
			Handle: func(ctx context.Context, call *gate.Call, payload any) (any, error) {
				req := payload.(*SignInRequest)
				token, err := accounts.Login(ctx, req.ID, req.Password, req.Captcha, call.RemoteIP)
				if err != nil {
					return nil, err
				}
				call.Bindings.Bind(call.Session, req.ID)
				return SignInResponse{Token: token}, nil
			},
		},
		{
			Name: "sign-up",
			New:  func() any { return &SignUpRequest{} },
			Handle: func(ctx context.Context, call *gate.Call, payload any) (any, error) {
				req := payload.(*SignUpRequest)
				perms := req.Permissions
				if perms == "" {
					perms = PermissionUser
				}

				byAdmin := perms != PermissionUser
				if byAdmin {
					admin, ok := call.Bindings.Lookup(call.Session)
					if !ok || req.Token == "" || !accounts.VerifyToken(ctx, admin, req.Token) {
						return nil, fmt.Errorf("%w: choosing permissions needs an admin token", common.ErrorForbidden)
					}
					if err := requireAdmin(ctx, accounts, admin); err != nil {
						return nil, err
					}
				}

				if err := accounts.AddUser(ctx, req.ID, req.Password, perms, req.Captcha, call.RemoteIP); err != nil {
					return nil, err
				}
				// An admin creating an account stays signed in as themselves.
				if !byAdmin {
					call.Bindings.Bind(call.Session, req.ID)
				}
				return nil, nil
			},
		},
		{
			Name: "sign-out",
			New:  func() any { return &SignOutRequest{} },
			Handle: func(ctx context.Context, call *gate.Call, payload any) (any, error) {
				call.Bindings.Unbind(call.Session)
				return nil, nil
			},
		},
		{
			Name: "get-token-state",
			New:  func() any { return &TokenStateRequest{} },
			Handle: func(ctx context.Context, call *gate.Call, payload any) (any, error) {
				req := payload.(*TokenStateRequest)
				valid := accounts.VerifyToken(ctx, req.UserID, req.TokenToCheck)
				if valid {
					call.Bindings.Bind(call.Session, req.UserID)
				}
				return TokenStateResponse{Valid: valid}, nil
			},
		},
		{
			Name: "get-permissions",
			New:  func() any { return &PermissionsRequest{} },
			Handle: func(ctx context.Context, call *gate.Call, payload any) (any, error) {
				perms, err := accounts.GetUserPermissions(ctx, call.User)
				if err != nil {
					return nil, err
				}
				return PermissionsResponse{Permissions: perms}, nil
			},
		},
		{
			Name: "update-password",
			New:  func() any { return &UpdatePasswordRequest{} },
			Handle: func(ctx context.Context, call *gate.Call, payload any) (any, error) {
				req := payload.(*UpdatePasswordRequest)
				return nil, accounts.UpdatePassword(ctx, call.User, req.Password)
			},
		},
		{
			Name: "delete-user",
			New:  func() any { return &DeleteUserRequest{} },
			Handle: func(ctx context.Context, call *gate.Call, payload any) (any, error) {
				req := payload.(*DeleteUserRequest)
				if err := requireAdmin(ctx, accounts, call.User); err != nil {
					return nil, err
				}
				return nil, accounts.DeleteUser(ctx, req.ID)
			},
		},
		{
			Name: "heartbeat",
			New:  func() any { return &struct{}{} },
			Handle: func(ctx context.Context, call *gate.Call, payload any) (any, error) {
				return HeartbeatResponse{Time: time.Now().UnixMilli()}, nil
			},
		},
	}
}

func requireAdmin(ctx context.Context, accounts Accounts, user string) error {
	perms, err := accounts.GetUserPermissions(ctx, user)
	if err != nil {
		return err
	}
	if perms != PermissionAdmin {
		return fmt.Errorf("%w: %q is not an admin", common.ErrorForbidden, user)
	}
	return nil
}
