package users

import (
	"context"
)

type Repository interface {
	// Get returns common.ErrorNotFound for unknown ids.
	Get(ctx context.Context, id string) (*User, error)
	Create(ctx context.Context, user *User) error
	// UpdatePassword and Delete return common.ErrorNotFound when no row
	// matched.
	UpdatePassword(ctx context.Context, id, hash string) error
	Delete(ctx context.Context, id string) error
	// InTx runs fn with a repository bound to a single transaction.
	InTx(ctx context.Context, fn func(ctx context.Context, r Repository) error) error
}
