package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/corehours/internal/clock"
	mappingdomain "github.com/smallbiznis/corehours/internal/mapping/domain"
	"github.com/smallbiznis/corehours/internal/wallet/domain"
	"github.com/smallbiznis/corehours/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Repo        domain.Repository
	MappingRepo mappingdomain.Repository
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	repo        domain.Repository
	mappingRepo mappingdomain.Repository
}

func New(p Params) domain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("wallet.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		repo:        p.Repo,
		mappingRepo: p.MappingRepo,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateWalletRequest) (domain.Wallet, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Wallet{}, domain.ErrInvalidName
	}

	existing, err := s.repo.FindByName(ctx, s.db, name)
	if err != nil {
		return domain.Wallet{}, err
	}
	if existing != nil {
		return domain.Wallet{}, domain.ErrWalletExists
	}

	now := s.clock.Now()
	wallet := domain.Wallet{
		ID:          s.genID.Generate(),
		Name:        name,
		Description: normalizeDescription(req.Description),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.Insert(ctx, s.db, &wallet); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return domain.Wallet{}, domain.ErrWalletExists
		}
		return domain.Wallet{}, err
	}

	s.log.Info("wallet created", zap.String("wallet", name))
	return wallet, nil
}

func (s *Service) Update(ctx context.Context, req domain.UpdateWalletRequest) (domain.Wallet, error) {
	var updated domain.Wallet
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		wallet, err := s.repo.FindByName(ctx, tx, strings.TrimSpace(req.Name))
		if err != nil {
			return err
		}
		if wallet == nil {
			return domain.ErrNotFound
		}

		if newName := strings.TrimSpace(req.NewName); newName != "" && newName != wallet.Name {
			clash, err := s.repo.FindByName(ctx, tx, newName)
			if err != nil {
				return err
			}
			if clash != nil {
				return domain.ErrWalletExists
			}
			wallet.Name = newName
		}
		if req.Description != nil {
			wallet.Description = normalizeDescription(req.Description)
		}
		wallet.UpdatedAt = s.clock.Now()

		if err := s.repo.Update(ctx, tx, wallet); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return domain.ErrWalletExists
			}
			return err
		}
		updated = *wallet
		return nil
	})
	if err != nil {
		return domain.Wallet{}, err
	}
	return updated, nil
}

func (s *Service) Delete(ctx context.Context, name string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		wallet, err := s.repo.FindByName(ctx, tx, strings.TrimSpace(name))
		if err != nil {
			return err
		}
		if wallet == nil {
			return domain.ErrNotFound
		}
		if err := s.mappingRepo.DeleteByWalletID(ctx, tx, wallet.ID); err != nil {
			return err
		}
		if err := s.repo.Delete(ctx, tx, wallet.ID); err != nil {
			return err
		}
		s.log.Info("wallet deleted", zap.String("wallet", wallet.Name))
		return nil
	})
}

func (s *Service) GetByName(ctx context.Context, name string) (domain.Wallet, error) {
	wallet, err := s.repo.FindByName(ctx, s.db, strings.TrimSpace(name))
	if err != nil {
		return domain.Wallet{}, err
	}
	if wallet == nil {
		return domain.Wallet{}, domain.ErrNotFound
	}
	return *wallet, nil
}

func (s *Service) List(ctx context.Context) ([]domain.Wallet, error) {
	return s.repo.List(ctx, s.db)
}

func normalizeDescription(desc *string) *string {
	if desc == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*desc)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
