package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, user *User) error
	Delete(ctx context.Context, db *gorm.DB, id snowflake.ID) error
	FindByUsername(ctx context.Context, db *gorm.DB, username string) (*User, error)
	CountByRole(ctx context.Context, db *gorm.DB, role Role) (int64, error)
	List(ctx context.Context, db *gorm.DB) ([]User, error)
}
