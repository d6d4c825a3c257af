package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	InsertGroupToGroup(ctx context.Context, db *gorm.DB, m *GroupToGroupMapping) error
	InsertGroupToWallet(ctx context.Context, db *gorm.DB, m *GroupToWalletMapping) error
	InsertUserToWallet(ctx context.Context, db *gorm.DB, m *UserToWalletMapping) error
	InsertGroupToUser(ctx context.Context, db *gorm.DB, m *GroupToUserMapping) error

	// Delete removes the rule of the given kind keyed by source. It reports
	// whether a row was removed.
	Delete(ctx context.Context, db *gorm.DB, kind Kind, source string) (bool, error)
	List(ctx context.Context, db *gorm.DB, kind Kind) ([]Rule, error)

	DeleteByWalletID(ctx context.Context, db *gorm.DB, walletID snowflake.ID) error
	DeleteByUserID(ctx context.Context, db *gorm.DB, userID snowflake.ID) error
}
