package service

import (
	"context"
	"testing"
	"time"

	"github.com/smallbiznis/corehours/internal/clock"
	mappingdomain "github.com/smallbiznis/corehours/internal/mapping/domain"
	mappingrepo "github.com/smallbiznis/corehours/internal/mapping/repository"
	mappingservice "github.com/smallbiznis/corehours/internal/mapping/service"
	"github.com/smallbiznis/corehours/internal/testdb"
	userdomain "github.com/smallbiznis/corehours/internal/user/domain"
	userrepo "github.com/smallbiznis/corehours/internal/user/repository"
	userservice "github.com/smallbiznis/corehours/internal/user/service"
	"github.com/smallbiznis/corehours/internal/wallet/domain"
	walletrepo "github.com/smallbiznis/corehours/internal/wallet/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fixture struct {
	wallets  domain.Service
	mappings mappingdomain.Service
	users    userdomain.Service
	clock    *clock.FakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testdb.Open(t)
	log := zaptest.NewLogger(t)
	node := testdb.Node(t)
	clk := clock.NewFakeClock(time.Date(2025, 8, 1, 9, 0, 0, 0, time.UTC))
	mRepo := mappingrepo.Provide()
	uRepo := userrepo.Provide()
	wRepo := walletrepo.Provide()

	return &fixture{
		wallets: New(Params{DB: db, Log: log, GenID: node, Clock: clk, Repo: wRepo, MappingRepo: mRepo}),
		mappings: mappingservice.New(mappingservice.Params{
			DB: db, Log: log, GenID: node, Clock: clk, Repo: mRepo, WalletRepo: wRepo, UserRepo: uRepo,
		}),
		users: userservice.New(userservice.Params{DB: db, Log: log, GenID: node, Clock: clk, Repo: uRepo, MappingRepo: mRepo}),
		clock: clk,
	}
}

func strPtr(s string) *string { return &s }

func TestCreateWallet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	w, err := f.wallets.Create(ctx, domain.CreateWalletRequest{Name: "  proj-a ", Description: strPtr("Physics allocation")})
	require.NoError(t, err)
	assert.Equal(t, "proj-a", w.Name)
	require.NotNil(t, w.Description)
	assert.Equal(t, "Physics allocation", *w.Description)
	assert.Equal(t, f.clock.Now(), w.CreatedAt)

	_, err = f.wallets.Create(ctx, domain.CreateWalletRequest{Name: "proj-a"})
	assert.ErrorIs(t, err, domain.ErrWalletExists)

	_, err = f.wallets.Create(ctx, domain.CreateWalletRequest{Name: "   "})
	assert.ErrorIs(t, err, domain.ErrInvalidName)

	got, err := f.wallets.GetByName(ctx, "proj-a")
	require.NoError(t, err)
	assert.Equal(t, w.ID, got.ID)

	_, err = f.wallets.GetByName(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestUpdateWallet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.wallets.Create(ctx, domain.CreateWalletRequest{Name: "proj-a", Description: strPtr("old")})
	require.NoError(t, err)
	_, err = f.wallets.Create(ctx, domain.CreateWalletRequest{Name: "proj-b"})
	require.NoError(t, err)

	_, err = f.wallets.Update(ctx, domain.UpdateWalletRequest{Name: "proj-a", NewName: "proj-b"})
	assert.ErrorIs(t, err, domain.ErrWalletExists)

	_, err = f.wallets.Update(ctx, domain.UpdateWalletRequest{Name: "nope", NewName: "x"})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	f.clock.Advance(time.Hour)
	w, err := f.wallets.Update(ctx, domain.UpdateWalletRequest{Name: "proj-a", NewName: "proj-c"})
	require.NoError(t, err)
	assert.Equal(t, "proj-c", w.Name)
	require.NotNil(t, w.Description, "description is kept when not given")
	assert.Equal(t, "old", *w.Description)
	assert.Equal(t, f.clock.Now(), w.UpdatedAt)

	w, err = f.wallets.Update(ctx, domain.UpdateWalletRequest{Name: "proj-c", Description: strPtr("")})
	require.NoError(t, err)
	assert.Nil(t, w.Description)

	list, err := f.wallets.List(ctx)
	require.NoError(t, err)
	var names []string
	for _, w := range list {
		names = append(names, w.Name)
	}
	assert.ElementsMatch(t, []string{"proj-b", "proj-c"}, names)
}

func TestDeleteWalletCascadesMappings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.wallets.Create(ctx, domain.CreateWalletRequest{Name: "proj-a"})
	require.NoError(t, err)
	_, err = f.wallets.Create(ctx, domain.CreateWalletRequest{Name: "proj-b"})
	require.NoError(t, err)
	_, err = f.users.Create(ctx, userdomain.CreateUserRequest{Username: "alice", Password: "pw"})
	require.NoError(t, err)

	for _, req := range []mappingdomain.AddRuleRequest{
		{Kind: mappingdomain.KindGroupToWallet, Source: "physics", Target: "proj-a"},
		{Kind: mappingdomain.KindGroupToWallet, Source: "chemistry", Target: "proj-b"},
		{Kind: mappingdomain.KindUserToWallet, Source: "alice", Target: "proj-a"},
	} {
		_, err := f.mappings.Add(ctx, req)
		require.NoError(t, err)
	}

	require.NoError(t, f.wallets.Delete(ctx, "proj-a"))
	assert.ErrorIs(t, f.wallets.Delete(ctx, "proj-a"), domain.ErrNotFound)

	rules, err := f.mappings.Rules(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"chemistry": "proj-b"}, rules.GroupToWallet)
	assert.Empty(t, rules.UserToWallet)
}
