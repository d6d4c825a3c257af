// Package attribution decides which group and wallet a job is billed to.
package attribution

import (
	jobdomain "github.com/smallbiznis/corehours/internal/job/domain"
	mappingdomain "github.com/smallbiznis/corehours/internal/mapping/domain"
)

// Resolver applies mapping rules in a fixed order:
//
//  1. Group->Group rewrites the group label.
//  2. The wallet defaults to the rewritten group.
//  3. Group->Wallet on the rewritten group overrides the default.
//  4. User->Wallet overrides everything before it.
//
// A missing rule at any step leaves the value unchanged.
type Resolver struct {
	rules mappingdomain.Rules
}

func NewResolver(rules mappingdomain.Rules) *Resolver {
	return &Resolver{rules: rules}
}

// Resolve returns the stored group and billing wallet for a user and raw group.
func (r *Resolver) Resolve(user, group string) (string, string) {
	if target, ok := r.rules.GroupToGroup[group]; ok {
		group = target
	}
	wallet := group
	if target, ok := r.rules.GroupToWallet[group]; ok {
		wallet = target
	}
	if target, ok := r.rules.UserToWallet[user]; ok {
		wallet = target
	}
	return group, wallet
}

// Apply annotates jobs in place. An empty wallet leaves WalletName nil.
func (r *Resolver) Apply(jobs []jobdomain.Job) {
	for i := range jobs {
		group, wallet := r.Resolve(jobs[i].UserName, jobs[i].UserGroup)
		jobs[i].UserGroup = group
		if wallet == "" {
			jobs[i].WalletName = nil
			continue
		}
		w := wallet
		jobs[i].WalletName = &w
	}
}
