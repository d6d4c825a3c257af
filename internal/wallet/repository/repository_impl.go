package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/corehours/internal/wallet/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, wallet *domain.Wallet) error {
	return db.WithContext(ctx).Create(wallet).Error
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, wallet *domain.Wallet) error {
	return db.WithContext(ctx).
		Model(&domain.Wallet{}).
		Where("id = ?", wallet.ID).
		Updates(map[string]any{
			"name":        wallet.Name,
			"description": wallet.Description,
			"updated_at":  wallet.UpdatedAt,
		}).Error
}

func (r *repo) Delete(ctx context.Context, db *gorm.DB, id snowflake.ID) error {
	return db.WithContext(ctx).Where("id = ?", id).Delete(&domain.Wallet{}).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Wallet, error) {
	return first(db.WithContext(ctx).Where("id = ?", id))
}

func (r *repo) FindByName(ctx context.Context, db *gorm.DB, name string) (*domain.Wallet, error) {
	return first(db.WithContext(ctx).Where("name = ?", name))
}

func (r *repo) List(ctx context.Context, db *gorm.DB) ([]domain.Wallet, error) {
	var wallets []domain.Wallet
	err := db.WithContext(ctx).Order("name asc").Find(&wallets).Error
	return wallets, err
}

func first(stmt *gorm.DB) (*domain.Wallet, error) {
	var wallet domain.Wallet
	if err := stmt.First(&wallet).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &wallet, nil
}
