package domain

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

type CreateUserRequest struct {
	Username string
	Password string
	Role     Role
}

type Service interface {
	Create(context.Context, CreateUserRequest) (User, error)
	Authenticate(ctx context.Context, username, password string) (User, error)
	// Delete removes the user and every mapping that references it.
	Delete(ctx context.Context, username string) error
	GetByUsername(ctx context.Context, username string) (User, error)
	List(context.Context) ([]User, error)
	// CreateInitialAdmin creates an admin account only when none exists yet.
	// It reports whether a user was created.
	CreateInitialAdmin(ctx context.Context, username, password string) (bool, error)
}

// Provisioner makes sure a login account exists for a username first seen
// in scheduler logs. It runs inside the caller's transaction.
type Provisioner interface {
	EnsureUserExists(ctx context.Context, tx *gorm.DB, username string) error
}

var (
	ErrInvalidUsername    = errors.New("invalid_username")
	ErrInvalidPassword    = errors.New("invalid_password")
	ErrInvalidRole        = errors.New("invalid_role")
	ErrUserExists         = errors.New("user_exists")
	ErrNotFound           = errors.New("user_not_found")
	ErrInvalidCredentials = errors.New("invalid_credentials")
)
