package main

import (
	"context"
	"strings"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/smallbiznis/corehours/internal/authorization"
	mappingdomain "github.com/smallbiznis/corehours/internal/mapping/domain"
	userdomain "github.com/smallbiznis/corehours/internal/user/domain"
	walletdomain "github.com/smallbiznis/corehours/internal/wallet/domain"
	"go.uber.org/fx"
)

func optionalString(v string, set bool) *string {
	if !set {
		return nil
	}
	return &v
}

func (c *cli) registerAdmin(app *kingpin.Application) {
	c.registerWallet(app)
	c.registerMapping(app)
	c.registerUser(app)
}

func (c *cli) registerWallet(app *kingpin.Application) {
	walletCmd := app.Command("wallet", "Manage wallets that job usage is billed to.")

	create := walletCmd.Command("create", "Create a wallet.")
	createName := create.Arg("name", "Wallet name.").Required().String()
	createDesc := create.Flag("description", "Free-form description.").String()
	c.handle(create, func() (action, []fx.Option, []any) {
		var (
			a   admin
			svc walletdomain.Service
		)
		return func(ctx context.Context, _ *fx.App) error {
			if err := c.authorize(ctx, &a, authorization.ObjectWallet, authorization.ActionWalletManage); err != nil {
				return err
			}
			w, err := svc.Create(ctx, walletdomain.CreateWalletRequest{
				Name:        *createName,
				Description: optionalString(*createDesc, *createDesc != ""),
			})
			if err != nil {
				return err
			}
			c.printer().message("created wallet %s", w.Name)
			return nil
		}, nil, []any{&a, &svc}
	})

	update := walletCmd.Command("update", "Rename a wallet or change its description.")
	updateName := update.Arg("name", "Current wallet name.").Required().String()
	rename := update.Flag("rename", "New wallet name.").String()
	var (
		updateDesc string
		descSet    bool
	)
	update.Flag("description", "New description; empty clears it.").IsSetByUser(&descSet).StringVar(&updateDesc)
	c.handle(update, func() (action, []fx.Option, []any) {
		var (
			a   admin
			svc walletdomain.Service
		)
		return func(ctx context.Context, _ *fx.App) error {
			if err := c.authorize(ctx, &a, authorization.ObjectWallet, authorization.ActionWalletManage); err != nil {
				return err
			}
			w, err := svc.Update(ctx, walletdomain.UpdateWalletRequest{
				Name:        *updateName,
				NewName:     *rename,
				Description: optionalString(updateDesc, descSet),
			})
			if err != nil {
				return err
			}
			c.printer().message("updated wallet %s", w.Name)
			return nil
		}, nil, []any{&a, &svc}
	})

	del := walletCmd.Command("delete", "Delete a wallet and the mappings that target it.")
	delName := del.Arg("name", "Wallet name.").Required().String()
	c.handle(del, func() (action, []fx.Option, []any) {
		var (
			a   admin
			svc walletdomain.Service
		)
		return func(ctx context.Context, _ *fx.App) error {
			if err := c.authorize(ctx, &a, authorization.ObjectWallet, authorization.ActionWalletManage); err != nil {
				return err
			}
			if err := svc.Delete(ctx, *delName); err != nil {
				return err
			}
			c.printer().message("deleted wallet %s", *delName)
			return nil
		}, nil, []any{&a, &svc}
	})

	list := walletCmd.Command("list", "List wallets.")
	c.handle(list, func() (action, []fx.Option, []any) {
		var svc walletdomain.Service
		return func(ctx context.Context, _ *fx.App) error {
			wallets, err := svc.List(ctx)
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(wallets))
			for _, w := range wallets {
				desc := ""
				if w.Description != nil {
					desc = *w.Description
				}
				rows = append(rows, []string{w.Name, orDash(desc), w.CreatedAt.Format(time.RFC3339)})
			}
			return c.printer().print(wallets, []string{"NAME", "DESCRIPTION", "CREATED"}, rows)
		}, nil, []any{&svc}
	})
}

func (c *cli) registerMapping(app *kingpin.Application) {
	mappingCmd := app.Command("mapping", "Manage attribution mappings.")

	kinds := []struct {
		short string
		help  string
	}{
		{"g2g", "Rewrite a scheduler group to another group."},
		{"g2w", "Bill a group's jobs to a wallet."},
		{"u2w", "Bill a user's jobs to a wallet; overrides group mappings."},
		{"g2u", "Associate a group with a user account."},
	}
	for _, k := range kinds {
		kind, _ := mappingdomain.ParseKind(k.short)
		kindCmd := mappingCmd.Command(k.short, k.help)

		add := kindCmd.Command("add", "Add a mapping.")
		source := add.Arg("source", "Left-hand side (group or user).").Required().String()
		target := add.Arg("target", "Right-hand side (group, wallet or user).").Required().String()
		c.handle(add, func() (action, []fx.Option, []any) {
			var (
				a   admin
				svc mappingdomain.Service
			)
			return func(ctx context.Context, _ *fx.App) error {
				if err := c.authorize(ctx, &a, authorization.ObjectMapping, authorization.ActionMappingManage); err != nil {
					return err
				}
				rule, err := svc.Add(ctx, mappingdomain.AddRuleRequest{Kind: kind, Source: *source, Target: *target})
				if err != nil {
					return err
				}
				c.printer().message("added %s mapping %s -> %s", rule.Kind, rule.Source, rule.Target)
				return nil
			}, nil, []any{&a, &svc}
		})

		del := kindCmd.Command("delete", "Delete a mapping by its source.")
		delSource := del.Arg("source", "Left-hand side (group or user).").Required().String()
		c.handle(del, func() (action, []fx.Option, []any) {
			var (
				a   admin
				svc mappingdomain.Service
			)
			return func(ctx context.Context, _ *fx.App) error {
				if err := c.authorize(ctx, &a, authorization.ObjectMapping, authorization.ActionMappingManage); err != nil {
					return err
				}
				if err := svc.Delete(ctx, mappingdomain.DeleteRuleRequest{Kind: kind, Source: *delSource}); err != nil {
					return err
				}
				c.printer().message("deleted %s mapping for %s", kind, *delSource)
				return nil
			}, nil, []any{&a, &svc}
		})

		list := kindCmd.Command("list", "List mappings of this kind.")
		c.handle(list, func() (action, []fx.Option, []any) {
			var svc mappingdomain.Service
			return func(ctx context.Context, _ *fx.App) error {
				rules, err := svc.List(ctx, kind)
				if err != nil {
					return err
				}
				rows := make([][]string, 0, len(rules))
				for _, r := range rules {
					rows = append(rows, []string{r.Source, r.Target})
				}
				return c.printer().print(rules, []string{"SOURCE", "TARGET"}, rows)
			}, nil, []any{&svc}
		})
	}
}

func (c *cli) registerUser(app *kingpin.Application) {
	userCmd := app.Command("user", "Manage login accounts.")

	create := userCmd.Command("create", "Create a user.")
	createName := create.Arg("username", "Login name.").Required().String()
	createPass := create.Flag("password", "Password.").Envar("COREHOURS_NEW_PASSWORD").Required().String()
	createRole := create.Flag("role", "Role, one of [user, admin].").Default(string(userdomain.RoleUser)).Enum(string(userdomain.RoleUser), string(userdomain.RoleAdmin))
	c.handle(create, func() (action, []fx.Option, []any) {
		var a admin
		return func(ctx context.Context, _ *fx.App) error {
			if err := c.authorize(ctx, &a, authorization.ObjectUser, authorization.ActionUserManage); err != nil {
				return err
			}
			u, err := a.Users.Create(ctx, userdomain.CreateUserRequest{
				Username: *createName,
				Password: *createPass,
				Role:     userdomain.Role(*createRole),
			})
			if err != nil {
				return err
			}
			c.printer().message("created %s %s", u.Role, u.Username)
			return nil
		}, nil, []any{&a}
	})

	del := userCmd.Command("delete", "Delete a user and the mappings that reference it.")
	delName := del.Arg("username", "Login name.").Required().String()
	c.handle(del, func() (action, []fx.Option, []any) {
		var a admin
		return func(ctx context.Context, _ *fx.App) error {
			if err := c.authorize(ctx, &a, authorization.ObjectUser, authorization.ActionUserManage); err != nil {
				return err
			}
			if strings.EqualFold(strings.TrimSpace(*delName), strings.TrimSpace(c.adminUser)) {
				return userdomain.ErrInvalidUsername
			}
			if err := a.Users.Delete(ctx, *delName); err != nil {
				return err
			}
			c.printer().message("deleted user %s", *delName)
			return nil
		}, nil, []any{&a}
	})

	list := userCmd.Command("list", "List users.")
	c.handle(list, func() (action, []fx.Option, []any) {
		var a admin
		return func(ctx context.Context, _ *fx.App) error {
			if err := c.authorize(ctx, &a, authorization.ObjectUser, authorization.ActionUserManage); err != nil {
				return err
			}
			users, err := a.Users.List(ctx)
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(users))
			for _, u := range users {
				rows = append(rows, []string{u.Username, string(u.Role), u.CreatedAt.Format(time.RFC3339)})
			}
			return c.printer().print(users, []string{"USERNAME", "ROLE", "CREATED"}, rows)
		}, nil, []any{&a}
	})

	initAdmin := userCmd.Command("init-admin", "Create the first administrator when none exists.")
	initName := initAdmin.Arg("username", "Login name.").Required().String()
	initPass := initAdmin.Flag("password", "Password.").Envar("COREHOURS_NEW_PASSWORD").Required().String()
	c.handle(initAdmin, func() (action, []fx.Option, []any) {
		var users userdomain.Service
		return func(ctx context.Context, _ *fx.App) error {
			created, err := users.CreateInitialAdmin(ctx, *initName, *initPass)
			if err != nil {
				return err
			}
			if !created {
				c.printer().message("an administrator already exists, nothing to do")
				return nil
			}
			c.printer().message("created administrator %s", *initName)
			return nil
		}, nil, []any{&users}
	})
}
