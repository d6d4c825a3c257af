package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/corehours/internal/clock"
	"github.com/smallbiznis/corehours/internal/mapping/domain"
	userdomain "github.com/smallbiznis/corehours/internal/user/domain"
	walletdomain "github.com/smallbiznis/corehours/internal/wallet/domain"
	"github.com/smallbiznis/corehours/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Repo       domain.Repository
	WalletRepo walletdomain.Repository
	UserRepo   userdomain.Repository
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       domain.Repository
	walletRepo walletdomain.Repository
	userRepo   userdomain.Repository
}

func New(p Params) domain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("mapping.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		walletRepo: p.WalletRepo,
		userRepo:   p.UserRepo,
	}
}

func (s *Service) Add(ctx context.Context, req domain.AddRuleRequest) (domain.Rule, error) {
	source := strings.TrimSpace(req.Source)
	if source == "" {
		return domain.Rule{}, domain.ErrInvalidSource
	}
	target := strings.TrimSpace(req.Target)
	if target == "" {
		return domain.Rule{}, domain.ErrInvalidTarget
	}

	rule := domain.Rule{
		ID:     s.genID.Generate(),
		Kind:   req.Kind,
		Source: source,
		Target: target,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.insert(ctx, tx, rule); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return domain.ErrDuplicateKey
			}
			return err
		}
		return nil
	})
	if err != nil {
		return domain.Rule{}, err
	}

	s.log.Info("mapping added",
		zap.String("kind", string(rule.Kind)),
		zap.String("source", source),
		zap.String("target", target),
	)
	return rule, nil
}

func (s *Service) insert(ctx context.Context, tx *gorm.DB, rule domain.Rule) error {
	now := s.clock.Now()

	switch rule.Kind {
	case domain.KindGroupToGroup:
		if err := s.ensureUnique(ctx, tx, rule.Kind, rule.Source); err != nil {
			return err
		}
		return s.repo.InsertGroupToGroup(ctx, tx, &domain.GroupToGroupMapping{
			ID: rule.ID, SourceGroup: rule.Source, TargetGroup: rule.Target, CreatedAt: now,
		})

	case domain.KindGroupToWallet:
		wallet, err := s.wallet(ctx, tx, rule.Target)
		if err != nil {
			return err
		}
		if err := s.ensureUnique(ctx, tx, rule.Kind, rule.Source); err != nil {
			return err
		}
		return s.repo.InsertGroupToWallet(ctx, tx, &domain.GroupToWalletMapping{
			ID: rule.ID, SourceGroup: rule.Source, WalletID: wallet.ID, CreatedAt: now,
		})

	case domain.KindUserToWallet:
		user, err := s.user(ctx, tx, rule.Source)
		if err != nil {
			return err
		}
		wallet, err := s.wallet(ctx, tx, rule.Target)
		if err != nil {
			return err
		}
		if err := s.ensureUnique(ctx, tx, rule.Kind, rule.Source); err != nil {
			return err
		}
		return s.repo.InsertUserToWallet(ctx, tx, &domain.UserToWalletMapping{
			ID: rule.ID, UserID: user.ID, WalletID: wallet.ID, CreatedAt: now,
		})

	case domain.KindGroupToUser:
		user, err := s.user(ctx, tx, rule.Target)
		if err != nil {
			return err
		}
		if err := s.ensureUnique(ctx, tx, rule.Kind, rule.Source); err != nil {
			return err
		}
		return s.repo.InsertGroupToUser(ctx, tx, &domain.GroupToUserMapping{
			ID: rule.ID, SourceGroup: rule.Source, UserID: user.ID, CreatedAt: now,
		})

	default:
		return domain.ErrInvalidKind
	}
}

func (s *Service) ensureUnique(ctx context.Context, tx *gorm.DB, kind domain.Kind, source string) error {
	rules, err := s.repo.List(ctx, tx, kind)
	if err != nil {
		return err
	}
	for _, r := range rules {
		if r.Source == source {
			return domain.ErrDuplicateKey
		}
	}
	return nil
}

func (s *Service) wallet(ctx context.Context, tx *gorm.DB, name string) (*walletdomain.Wallet, error) {
	wallet, err := s.walletRepo.FindByName(ctx, tx, name)
	if err != nil {
		return nil, err
	}
	if wallet == nil {
		return nil, domain.ErrWalletNotFound
	}
	return wallet, nil
}

func (s *Service) user(ctx context.Context, tx *gorm.DB, username string) (*userdomain.User, error) {
	user, err := s.userRepo.FindByUsername(ctx, tx, username)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, domain.ErrUserNotFound
	}
	return user, nil
}

func (s *Service) Delete(ctx context.Context, req domain.DeleteRuleRequest) error {
	removed, err := s.repo.Delete(ctx, s.db, req.Kind, strings.TrimSpace(req.Source))
	if err != nil {
		return err
	}
	if !removed {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Service) List(ctx context.Context, kind domain.Kind) ([]domain.Rule, error) {
	return s.repo.List(ctx, s.db, kind)
}

func (s *Service) Rules(ctx context.Context) (domain.Rules, error) {
	rules := domain.NewRules()

	tables := []struct {
		kind domain.Kind
		into map[string]string
	}{
		{domain.KindGroupToGroup, rules.GroupToGroup},
		{domain.KindGroupToWallet, rules.GroupToWallet},
		{domain.KindUserToWallet, rules.UserToWallet},
	}
	for _, table := range tables {
		rows, err := s.repo.List(ctx, s.db, table.kind)
		if err != nil {
			return domain.Rules{}, err
		}
		for _, row := range rows {
			table.into[row.Source] = row.Target
		}
	}
	return rules, nil
}
