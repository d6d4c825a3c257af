package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, wallet *Wallet) error
	Update(ctx context.Context, db *gorm.DB, wallet *Wallet) error
	Delete(ctx context.Context, db *gorm.DB, id snowflake.ID) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Wallet, error)
	FindByName(ctx context.Context, db *gorm.DB, name string) (*Wallet, error)
	List(ctx context.Context, db *gorm.DB) ([]Wallet, error)
}
