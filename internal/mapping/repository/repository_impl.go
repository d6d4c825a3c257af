package repository

import (
	"context"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/corehours/internal/mapping/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertGroupToGroup(ctx context.Context, db *gorm.DB, m *domain.GroupToGroupMapping) error {
	return db.WithContext(ctx).Create(m).Error
}

func (r *repo) InsertGroupToWallet(ctx context.Context, db *gorm.DB, m *domain.GroupToWalletMapping) error {
	return db.WithContext(ctx).Create(m).Error
}

func (r *repo) InsertUserToWallet(ctx context.Context, db *gorm.DB, m *domain.UserToWalletMapping) error {
	return db.WithContext(ctx).Create(m).Error
}

func (r *repo) InsertGroupToUser(ctx context.Context, db *gorm.DB, m *domain.GroupToUserMapping) error {
	return db.WithContext(ctx).Create(m).Error
}

func (r *repo) Delete(ctx context.Context, db *gorm.DB, kind domain.Kind, source string) (bool, error) {
	var stmt *gorm.DB
	switch kind {
	case domain.KindGroupToGroup:
		stmt = db.WithContext(ctx).Where("source_group = ?", source).Delete(&domain.GroupToGroupMapping{})
	case domain.KindGroupToWallet:
		stmt = db.WithContext(ctx).Where("source_group = ?", source).Delete(&domain.GroupToWalletMapping{})
	case domain.KindGroupToUser:
		stmt = db.WithContext(ctx).Where("source_group = ?", source).Delete(&domain.GroupToUserMapping{})
	case domain.KindUserToWallet:
		stmt = db.WithContext(ctx).
			Where("user_id IN (?)", db.Table("users").Select("id").Where("username = ?", source)).
			Delete(&domain.UserToWalletMapping{})
	default:
		return false, domain.ErrInvalidKind
	}
	if stmt.Error != nil {
		return false, stmt.Error
	}
	return stmt.RowsAffected > 0, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, kind domain.Kind) ([]domain.Rule, error) {
	var (
		table  string
		source string
		target string
		joins  []string
	)

	switch kind {
	case domain.KindGroupToGroup:
		table = "group_to_group_mappings m"
		source, target = "m.source_group", "m.target_group"
	case domain.KindGroupToWallet:
		table = "group_to_wallet_mappings m"
		source, target = "m.source_group", "w.name"
		joins = []string{"JOIN wallets w ON w.id = m.wallet_id"}
	case domain.KindUserToWallet:
		table = "user_to_wallet_mappings m"
		source, target = "u.username", "w.name"
		joins = []string{
			"JOIN users u ON u.id = m.user_id",
			"JOIN wallets w ON w.id = m.wallet_id",
		}
	case domain.KindGroupToUser:
		table = "group_to_user_mappings m"
		source, target = "m.source_group", "u.username"
		joins = []string{"JOIN users u ON u.id = m.user_id"}
	default:
		return nil, domain.ErrInvalidKind
	}

	stmt := db.WithContext(ctx).
		Table(table).
		Select(fmt.Sprintf("m.id AS id, %s AS source, %s AS target", source, target))
	for _, join := range joins {
		stmt = stmt.Joins(join)
	}

	var rows []domain.Rule
	if err := stmt.Order("source asc").Scan(&rows).Error; err != nil {
		return nil, err
	}
	for i := range rows {
		rows[i].Kind = kind
	}
	return rows, nil
}

func (r *repo) DeleteByWalletID(ctx context.Context, db *gorm.DB, walletID snowflake.ID) error {
	if err := db.WithContext(ctx).Where("wallet_id = ?", walletID).Delete(&domain.GroupToWalletMapping{}).Error; err != nil {
		return err
	}
	return db.WithContext(ctx).Where("wallet_id = ?", walletID).Delete(&domain.UserToWalletMapping{}).Error
}

func (r *repo) DeleteByUserID(ctx context.Context, db *gorm.DB, userID snowflake.ID) error {
	if err := db.WithContext(ctx).Where("user_id = ?", userID).Delete(&domain.UserToWalletMapping{}).Error; err != nil {
		return err
	}
	return db.WithContext(ctx).Where("user_id = ?", userID).Delete(&domain.GroupToUserMapping{}).Error
}
