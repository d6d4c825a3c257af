package service

import (
	"context"
	"testing"
	"time"

	"github.com/smallbiznis/corehours/internal/clock"
	"github.com/smallbiznis/corehours/internal/mapping/domain"
	mappingrepo "github.com/smallbiznis/corehours/internal/mapping/repository"
	"github.com/smallbiznis/corehours/internal/testdb"
	userdomain "github.com/smallbiznis/corehours/internal/user/domain"
	userrepo "github.com/smallbiznis/corehours/internal/user/repository"
	userservice "github.com/smallbiznis/corehours/internal/user/service"
	walletdomain "github.com/smallbiznis/corehours/internal/wallet/domain"
	walletrepo "github.com/smallbiznis/corehours/internal/wallet/repository"
	walletservice "github.com/smallbiznis/corehours/internal/wallet/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newService(t *testing.T) domain.Service {
	t.Helper()
	db := testdb.Open(t)
	log := zaptest.NewLogger(t)
	node := testdb.Node(t)
	clk := clock.NewFakeClock(time.Date(2025, 8, 1, 9, 0, 0, 0, time.UTC))
	mRepo := mappingrepo.Provide()
	uRepo := userrepo.Provide()
	wRepo := walletrepo.Provide()
	ctx := context.Background()

	wallets := walletservice.New(walletservice.Params{DB: db, Log: log, GenID: node, Clock: clk, Repo: wRepo, MappingRepo: mRepo})
	for _, name := range []string{"proj-a", "proj-b"} {
		_, err := wallets.Create(ctx, walletdomain.CreateWalletRequest{Name: name})
		require.NoError(t, err)
	}
	users := userservice.New(userservice.Params{DB: db, Log: log, GenID: node, Clock: clk, Repo: uRepo, MappingRepo: mRepo})
	for _, name := range []string{"alice", "bob"} {
		_, err := users.Create(ctx, userdomain.CreateUserRequest{Username: name, Password: "pw"})
		require.NoError(t, err)
	}

	return New(Params{DB: db, Log: log, GenID: node, Clock: clk, Repo: mRepo, WalletRepo: wRepo, UserRepo: uRepo})
}

func TestAddRules(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		req     domain.AddRuleRequest
		wantErr error
	}{
		{"group to group", domain.AddRuleRequest{Kind: domain.KindGroupToGroup, Source: "phys-old", Target: "physics"}, nil},
		{"group to wallet", domain.AddRuleRequest{Kind: domain.KindGroupToWallet, Source: "physics", Target: "proj-a"}, nil},
		{"user to wallet", domain.AddRuleRequest{Kind: domain.KindUserToWallet, Source: "alice", Target: "proj-b"}, nil},
		{"group to user", domain.AddRuleRequest{Kind: domain.KindGroupToUser, Source: "physics", Target: "bob"}, nil},
		{"duplicate group key", domain.AddRuleRequest{Kind: domain.KindGroupToWallet, Source: "physics", Target: "proj-b"}, domain.ErrDuplicateKey},
		{"one wallet per user", domain.AddRuleRequest{Kind: domain.KindUserToWallet, Source: "alice", Target: "proj-a"}, domain.ErrDuplicateKey},
		{"unknown wallet", domain.AddRuleRequest{Kind: domain.KindGroupToWallet, Source: "chem", Target: "nope"}, domain.ErrWalletNotFound},
		{"unknown user", domain.AddRuleRequest{Kind: domain.KindUserToWallet, Source: "carol", Target: "proj-a"}, domain.ErrUserNotFound},
		{"unknown group owner", domain.AddRuleRequest{Kind: domain.KindGroupToUser, Source: "chem", Target: "carol"}, domain.ErrUserNotFound},
		{"empty source", domain.AddRuleRequest{Kind: domain.KindGroupToGroup, Source: " ", Target: "x"}, domain.ErrInvalidSource},
		{"empty target", domain.AddRuleRequest{Kind: domain.KindGroupToGroup, Source: "x", Target: ""}, domain.ErrInvalidTarget},
		{"bad kind", domain.AddRuleRequest{Kind: "nope", Source: "x", Target: "y"}, domain.ErrInvalidKind},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule, err := svc.Add(ctx, tt.req)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.req.Source, rule.Source)
			assert.Equal(t, tt.req.Target, rule.Target)
		})
	}

	rules, err := svc.Rules(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"phys-old": "physics"}, rules.GroupToGroup)
	assert.Equal(t, map[string]string{"physics": "proj-a"}, rules.GroupToWallet)
	assert.Equal(t, map[string]string{"alice": "proj-b"}, rules.UserToWallet)

	g2u, err := svc.List(ctx, domain.KindGroupToUser)
	require.NoError(t, err)
	require.Len(t, g2u, 1)
	assert.Equal(t, "bob", g2u[0].Target)
}

func TestDeleteRule(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	_, err := svc.Add(ctx, domain.AddRuleRequest{Kind: domain.KindUserToWallet, Source: "alice", Target: "proj-a"})
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, domain.DeleteRuleRequest{Kind: domain.KindUserToWallet, Source: "alice"}))
	err = svc.Delete(ctx, domain.DeleteRuleRequest{Kind: domain.KindUserToWallet, Source: "alice"})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	rules, err := svc.List(ctx, domain.KindUserToWallet)
	require.NoError(t, err)
	assert.Empty(t, rules)
}

func TestParseKind(t *testing.T) {
	k, err := domain.ParseKind("g2w")
	require.NoError(t, err)
	assert.Equal(t, domain.KindGroupToWallet, k)

	k, err = domain.ParseKind(string(domain.KindUserToWallet))
	require.NoError(t, err)
	assert.Equal(t, domain.KindUserToWallet, k)

	_, err = domain.ParseKind("w2g")
	assert.ErrorIs(t, err, domain.ErrInvalidKind)
}
