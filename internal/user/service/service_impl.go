package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/corehours/internal/clock"
	mappingdomain "github.com/smallbiznis/corehours/internal/mapping/domain"
	"github.com/smallbiznis/corehours/internal/user/domain"
	"github.com/smallbiznis/corehours/internal/user/password"
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
		log:         p.Log.Named("user.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		repo:        p.Repo,
		mappingRepo: p.MappingRepo,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateUserRequest) (domain.User, error) {
	username := strings.TrimSpace(req.Username)
	if username == "" {
		return domain.User{}, domain.ErrInvalidUsername
	}
	if req.Password == "" {
		return domain.User{}, domain.ErrInvalidPassword
	}

	role := req.Role
	if role == "" {
		role = domain.RoleUser
	}
	if !role.Valid() {
		return domain.User{}, domain.ErrInvalidRole
	}

	existing, err := s.repo.FindByUsername(ctx, s.db, username)
	if err != nil {
		return domain.User{}, err
	}
	if existing != nil {
		return domain.User{}, domain.ErrUserExists
	}

	hashed, err := password.Hash(req.Password)
	if err != nil {
		return domain.User{}, err
	}

	now := s.clock.Now()
	user := domain.User{
		ID:             s.genID.Generate(),
		Username:       username,
		HashedPassword: hashed,
		Role:           role,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.repo.Insert(ctx, s.db, &user); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return domain.User{}, domain.ErrUserExists
		}
		return domain.User{}, err
	}

	s.log.Info("user created", zap.String("username", username), zap.String("role", string(role)))
	return user, nil
}

func (s *Service) Authenticate(ctx context.Context, username, pass string) (domain.User, error) {
	user, err := s.repo.FindByUsername(ctx, s.db, strings.TrimSpace(username))
	if err != nil {
		return domain.User{}, err
	}
	if user == nil || !password.Verify(pass, user.HashedPassword) {
		return domain.User{}, domain.ErrInvalidCredentials
	}
	return *user, nil
}

func (s *Service) Delete(ctx context.Context, username string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		user, err := s.repo.FindByUsername(ctx, tx, strings.TrimSpace(username))
		if err != nil {
			return err
		}
		if user == nil {
			return domain.ErrNotFound
		}
		if err := s.mappingRepo.DeleteByUserID(ctx, tx, user.ID); err != nil {
			return err
		}
		return s.repo.Delete(ctx, tx, user.ID)
	})
}

func (s *Service) GetByUsername(ctx context.Context, username string) (domain.User, error) {
	user, err := s.repo.FindByUsername(ctx, s.db, strings.TrimSpace(username))
	if err != nil {
		return domain.User{}, err
	}
	if user == nil {
		return domain.User{}, domain.ErrNotFound
	}
	return *user, nil
}

func (s *Service) List(ctx context.Context) ([]domain.User, error) {
	return s.repo.List(ctx, s.db)
}

func (s *Service) CreateInitialAdmin(ctx context.Context, username, pass string) (bool, error) {
	count, err := s.repo.CountByRole(ctx, s.db, domain.RoleAdmin)
	if err != nil {
		return false, err
	}
	if count > 0 {
		s.log.Debug("admin already present, skipping bootstrap")
		return false, nil
	}

	if _, err := s.Create(ctx, domain.CreateUserRequest{
		Username: username,
		Password: pass,
		Role:     domain.RoleAdmin,
	}); err != nil {
		return false, err
	}
	return true, nil
}
