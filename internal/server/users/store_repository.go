package users

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/volunteerhub/internal/common"
	"github.com/dmitrijs2005/volunteerhub/internal/server/datastore"
)

const tableName = "authentication"

// StoreRepository keeps accounts in the datastore.
type StoreRepository struct {
	store datastore.Store
}

func NewStoreRepository(store datastore.Store) *StoreRepository {
	return &StoreRepository{store: store}
}

func (r *StoreRepository) Get(ctx context.Context, id string) (*User, error) {
	rows, err := r.store.Select(ctx, tableName, []string{"id", "password", "permissions"}, datastore.Eq("id", id))
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, common.ErrorNotFound
	}

	row := rows[0]
	return &User{
		ID:          asString(row["id"]),
		Password:    asString(row["password"]),
		Permissions: asString(row["permissions"]),
	}, nil
}

func (r *StoreRepository) Create(ctx context.Context, user *User) error {
	_, err := r.store.Insert(ctx, tableName, datastore.Row{
		"id":          user.ID,
		"password":    user.Password,
		"permissions": user.Permissions,
	})
	return err
}

func (r *StoreRepository) UpdatePassword(ctx context.Context, id, hash string) error {
	n, err := r.store.Update(ctx, tableName, datastore.Row{"password": hash}, datastore.Eq("id", id))
	if err != nil {
		return err
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}

func (r *StoreRepository) Delete(ctx context.Context, id string) error {
	n, err := r.store.Delete(ctx, tableName, datastore.Eq("id", id))
	if err != nil {
		return err
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}

func (r *StoreRepository) InTx(ctx context.Context, fn func(ctx context.Context, r Repository) error) error {
	return r.store.WithTx(ctx, func(ctx context.Context, s datastore.Store) error {
		return fn(ctx, NewStoreRepository(s))
	})
}

func asString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	default:
		return fmt.Sprint(t)
	}
}
