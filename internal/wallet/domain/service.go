package domain

import (
	"context"
	"errors"
)

type CreateWalletRequest struct {
	Name        string
	Description *string
}

type UpdateWalletRequest struct {
	Name        string
	NewName     string
	Description *string
}

type Service interface {
	Create(context.Context, CreateWalletRequest) (Wallet, error)
	Update(context.Context, UpdateWalletRequest) (Wallet, error)
	// Delete removes the wallet together with every mapping that targets it.
	Delete(ctx context.Context, name string) error
	GetByName(ctx context.Context, name string) (Wallet, error)
	List(context.Context) ([]Wallet, error)
}

var (
	ErrInvalidName  = errors.New("invalid_wallet_name")
	ErrWalletExists = errors.New("wallet_exists")
	ErrNotFound     = errors.New("wallet_not_found")
)
