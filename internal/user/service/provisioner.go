package service

import (
	"context"
	"strings"
	"sync"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/corehours/internal/clock"
	"github.com/smallbiznis/corehours/internal/user/domain"
	"github.com/smallbiznis/corehours/internal/user/password"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DefaultPassword is assigned to accounts created from scheduler logs.
const DefaultPassword = "default_password_123"

type ProvisionerParams struct {
	fx.In

	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  domain.Repository
}

// DefaultCredentialProvisioner creates unknown users as role "user" with
// DefaultPassword. Swap it for another domain.Provisioner to change the policy.
type DefaultCredentialProvisioner struct {
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  domain.Repository

	hashOnce sync.Once
	hash     string
	hashErr  error
}

func NewDefaultCredentialProvisioner(p ProvisionerParams) domain.Provisioner {
	return &DefaultCredentialProvisioner{
		log:   p.Log.Named("user.provisioner"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (p *DefaultCredentialProvisioner) EnsureUserExists(ctx context.Context, tx *gorm.DB, username string) error {
	username = strings.TrimSpace(username)
	if username == "" {
		return domain.ErrInvalidUsername
	}

	existing, err := p.repo.FindByUsername(ctx, tx, username)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}

	hashed, err := p.defaultHash()
	if err != nil {
		return err
	}

	now := p.clock.Now()
	if err := p.repo.Insert(ctx, tx, &domain.User{
		ID:             p.genID.Generate(),
		Username:       username,
		HashedPassword: hashed,
		Role:           domain.RoleUser,
		CreatedAt:      now,
		UpdatedAt:      now,
	}); err != nil {
		return err
	}

	p.log.Warn("provisioned user with default credential", zap.String("username", username))
	return nil
}

// defaultHash is computed once per process and shared by every provisioned row.
func (p *DefaultCredentialProvisioner) defaultHash() (string, error) {
	p.hashOnce.Do(func() {
		p.hash, p.hashErr = password.Hash(DefaultPassword)
	})
	return p.hash, p.hashErr
}
