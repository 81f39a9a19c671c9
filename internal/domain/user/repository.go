package user

import (
	"context"
)

// UserRepository reads the accounts owned by the academic application.
type UserRepository interface {
	GetByID(ctx context.Context, id string) (User, error)
	GetByIDs(ctx context.Context, ids []string) ([]User, error)
}
