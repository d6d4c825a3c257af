package authorization

import (
	"context"
	"testing"
	"time"

	"github.com/smallbiznis/corehours/internal/testdb"
	userdomain "github.com/smallbiznis/corehours/internal/user/domain"
	userrepo "github.com/smallbiznis/corehours/internal/user/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestAuthorize(t *testing.T) {
	db := testdb.Open(t)
	ctx := context.Background()
	node := testdb.Node(t)
	repo := userrepo.Provide()
	now := time.Date(2025, 7, 19, 0, 0, 0, 0, time.UTC)

	for _, u := range []userdomain.User{
		{Username: "root", Role: userdomain.RoleAdmin},
		{Username: "alice", Role: userdomain.RoleUser},
	} {
		u.ID = node.Generate()
		u.HashedPassword = "x"
		u.CreatedAt, u.UpdatedAt = now, now
		require.NoError(t, repo.Insert(ctx, db, &u))
	}

	enforcer, err := NewEnforcer(db)
	require.NoError(t, err)
	svc := NewService(Params{DB: db, Log: zaptest.NewLogger(t), Enforcer: enforcer, UserRepo: repo})

	require.NoError(t, svc.Authorize(ctx, UserActor("root"), ObjectWallet, ActionWalletManage))
	require.NoError(t, svc.Authorize(ctx, UserActor("root"), ObjectData, ActionDataClear))
	require.NoError(t, svc.Authorize(ctx, UserActor("alice"), ObjectUsage, ActionUsageView))
	require.NoError(t, svc.Authorize(ctx, "system", ObjectIngest, ActionIngestRun))

	assert.ErrorIs(t, svc.Authorize(ctx, UserActor("alice"), ObjectWallet, ActionWalletManage), ErrForbidden)
	assert.ErrorIs(t, svc.Authorize(ctx, "system", ObjectData, ActionDataClear), ErrForbidden)
	assert.ErrorIs(t, svc.Authorize(ctx, UserActor("ghost"), ObjectUsage, ActionUsageView), ErrForbidden)
	assert.ErrorIs(t, svc.Authorize(ctx, "alice", ObjectUsage, ActionUsageView), ErrInvalidActor)
	assert.ErrorIs(t, svc.Authorize(ctx, UserActor("alice"), "", ActionUsageView), ErrInvalidObject)
}

func TestRoleChangeIsFollowed(t *testing.T) {
	db := testdb.Open(t)
	ctx := context.Background()
	node := testdb.Node(t)
	repo := userrepo.Provide()
	now := time.Date(2025, 7, 19, 0, 0, 0, 0, time.UTC)

	u := &userdomain.User{ID: node.Generate(), Username: "bob", HashedPassword: "x", Role: userdomain.RoleAdmin, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, repo.Insert(ctx, db, u))

	enforcer, err := NewEnforcer(db)
	require.NoError(t, err)
	svc := NewService(Params{DB: db, Log: zaptest.NewLogger(t), Enforcer: enforcer, UserRepo: repo})
	require.NoError(t, svc.Authorize(ctx, UserActor("bob"), ObjectUser, ActionUserManage))

	require.NoError(t, db.Model(&userdomain.User{}).Where("id = ?", u.ID).Update("role", userdomain.RoleUser).Error)
	assert.ErrorIs(t, svc.Authorize(ctx, UserActor("bob"), ObjectUser, ActionUserManage), ErrForbidden)

	roles, err := enforcer.GetRolesForUser(UserActor("bob"))
	require.NoError(t, err)
	assert.Equal(t, []string{roleUser}, roles)
}
