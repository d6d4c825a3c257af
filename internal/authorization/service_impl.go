package authorization

import (
	"context"
	_ "embed"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	userdomain "github.com/smallbiznis/corehours/internal/user/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

const (
	ObjectWallet  = "wallet"
	ObjectMapping = "mapping"
	ObjectUser    = "user"
	ObjectIngest  = "ingest"
	ObjectData    = "data"
	ObjectUsage   = "usage"
)

const (
	ActionWalletManage  = "wallet.manage"
	ActionMappingManage = "mapping.manage"
	ActionUserManage    = "user.manage"
	ActionIngestRun     = "ingest.run"
	ActionDataClear     = "data.clear"
	ActionUsageView     = "usage.view"
)

const (
	roleSystem = "role:system"
	roleAdmin  = "role:admin"
	roleUser   = "role:user"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
	UserRepo userdomain.Repository
}

type ServiceImpl struct {
	db       *gorm.DB
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
	userRepo userdomain.Repository
}

func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	enforcer.BuildRoleLinks()
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		db:       p.DB,
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
		userRepo: p.UserRepo,
	}
}

func (s *ServiceImpl) Authorize(ctx context.Context, actor string, object string, action string) error {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return ErrInvalidActor
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}

	roleName, err := s.resolveRole(ctx, actor)
	if err != nil {
		s.log.Warn("authorization denied", zap.String("actor", actor), zap.String("object", object), zap.String("action", action), zap.Error(err))
		return err
	}
	if err := s.ensureGrouping(actor, roleName); err != nil {
		return err
	}

	allowed, err := s.enforcer.Enforce(actor, object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.log.Warn("authorization denied", zap.String("actor", actor), zap.String("object", object), zap.String("action", action))
		return ErrForbidden
	}
	return nil
}

func (s *ServiceImpl) resolveRole(ctx context.Context, actor string) (string, error) {
	if actor == "system" {
		return roleSystem, nil
	}
	username, ok := strings.CutPrefix(actor, "user:")
	if !ok || strings.TrimSpace(username) == "" {
		return "", ErrInvalidActor
	}
	user, err := s.userRepo.FindByUsername(ctx, s.db, username)
	if err != nil {
		return "", err
	}
	if user == nil {
		return "", ErrForbidden
	}
	switch user.Role {
	case userdomain.RoleAdmin:
		return roleAdmin, nil
	default:
		return roleUser, nil
	}
}

// ensureGrouping keeps exactly one role link per subject, following role
// changes made through the user service.
func (s *ServiceImpl) ensureGrouping(subject string, roleName string) error {
	existing, err := s.enforcer.GetFilteredGroupingPolicy(0, subject)
	if err != nil {
		return err
	}
	for _, rule := range existing {
		if len(rule) < 2 || rule[1] == roleName {
			continue
		}
		params := make([]interface{}, 0, len(rule))
		for _, value := range rule {
			params = append(params, value)
		}
		if _, err := s.enforcer.RemoveGroupingPolicy(params...); err != nil {
			return err
		}
	}

	has, err := s.enforcer.HasGroupingPolicy(subject, roleName)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	_, err = s.enforcer.AddGroupingPolicy(subject, roleName)
	return err
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	policies := [][]string{
		// Users read usage only
		{roleUser, ObjectUsage, ActionUsageView},

		{roleAdmin, ObjectUsage, ActionUsageView},
		{roleAdmin, ObjectWallet, ActionWalletManage},
		{roleAdmin, ObjectMapping, ActionMappingManage},
		{roleAdmin, ObjectUser, ActionUserManage},
		{roleAdmin, ObjectIngest, ActionIngestRun},
		{roleAdmin, ObjectData, ActionDataClear},

		// Unattended runs (watch mode)
		{roleSystem, ObjectIngest, ActionIngestRun},
		{roleSystem, ObjectUsage, ActionUsageView},
	}

	for _, policy := range policies {
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}
	return nil
}
