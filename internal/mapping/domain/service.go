package domain

import (
	"context"
	"errors"
)

type AddRuleRequest struct {
	Kind   Kind
	Source string
	Target string
}

type DeleteRuleRequest struct {
	Kind   Kind
	Source string
}

type Service interface {
	Add(context.Context, AddRuleRequest) (Rule, error)
	Delete(context.Context, DeleteRuleRequest) error
	List(ctx context.Context, kind Kind) ([]Rule, error)
	// Rules loads the three attribution tables keyed by their left-hand side.
	Rules(ctx context.Context) (Rules, error)
}

var (
	ErrInvalidKind    = errors.New("invalid_mapping_kind")
	ErrInvalidSource  = errors.New("invalid_mapping_source")
	ErrInvalidTarget  = errors.New("invalid_mapping_target")
	ErrDuplicateKey   = errors.New("mapping_key_exists")
	ErrWalletNotFound = errors.New("mapping_wallet_not_found")
	ErrUserNotFound   = errors.New("mapping_user_not_found")
	ErrNotFound       = errors.New("mapping_not_found")
)

func ParseKind(value string) (Kind, error) {
	switch value {
	case "g2g", string(KindGroupToGroup):
		return KindGroupToGroup, nil
	case "g2w", string(KindGroupToWallet):
		return KindGroupToWallet, nil
	case "u2w", string(KindUserToWallet):
		return KindUserToWallet, nil
	case "g2u", string(KindGroupToUser):
		return KindGroupToUser, nil
	default:
		return "", ErrInvalidKind
	}
}
