package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Wallet is a billing bucket that job usage is attributed to.
type Wallet struct {
	ID          snowflake.ID `gorm:"primaryKey" json:"id"`
	Name        string       `gorm:"type:varchar(128);not null;uniqueIndex" json:"name"`
	Description *string      `gorm:"type:text" json:"description,omitempty"`
	CreatedAt   time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt   time.Time    `gorm:"not null" json:"updated_at"`
}

func (Wallet) TableName() string { return "wallets" }
