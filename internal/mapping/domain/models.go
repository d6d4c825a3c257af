package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Kind identifies one of the mapping tables.
type Kind string

const (
	KindGroupToGroup  Kind = "group_to_group"
	KindGroupToWallet Kind = "group_to_wallet"
	KindUserToWallet  Kind = "user_to_wallet"
	KindGroupToUser   Kind = "group_to_user"
)

// GroupToGroupMapping rewrites a raw scheduler group before wallet resolution.
type GroupToGroupMapping struct {
	ID          snowflake.ID `gorm:"primaryKey" json:"id"`
	SourceGroup string       `gorm:"type:varchar(128);not null;uniqueIndex" json:"source_group"`
	TargetGroup string       `gorm:"type:varchar(128);not null" json:"target_group"`
	CreatedAt   time.Time    `gorm:"not null" json:"created_at"`
}

func (GroupToGroupMapping) TableName() string { return "group_to_group_mappings" }

type GroupToWalletMapping struct {
	ID          snowflake.ID `gorm:"primaryKey" json:"id"`
	SourceGroup string       `gorm:"type:varchar(128);not null;uniqueIndex" json:"source_group"`
	WalletID    snowflake.ID `gorm:"not null;index" json:"wallet_id"`
	CreatedAt   time.Time    `gorm:"not null" json:"created_at"`
}

func (GroupToWalletMapping) TableName() string { return "group_to_wallet_mappings" }

// UserToWalletMapping takes precedence over GroupToWalletMapping.
type UserToWalletMapping struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	UserID    snowflake.ID `gorm:"not null;uniqueIndex" json:"user_id"`
	WalletID  snowflake.ID `gorm:"not null;index" json:"wallet_id"`
	CreatedAt time.Time    `gorm:"not null" json:"created_at"`
}

func (UserToWalletMapping) TableName() string { return "user_to_wallet_mappings" }

// GroupToUserMapping names the account responsible for a group's usage.
// It plays no part in wallet resolution.
type GroupToUserMapping struct {
	ID          snowflake.ID `gorm:"primaryKey" json:"id"`
	SourceGroup string       `gorm:"type:varchar(128);not null;uniqueIndex" json:"source_group"`
	UserID      snowflake.ID `gorm:"not null;index" json:"user_id"`
	CreatedAt   time.Time    `gorm:"not null" json:"created_at"`
}

func (GroupToUserMapping) TableName() string { return "group_to_user_mappings" }

// Rule is a mapping row with its references resolved to names.
type Rule struct {
	ID     snowflake.ID `json:"id"`
	Kind   Kind         `json:"kind"`
	Source string       `json:"source"`
	Target string       `json:"target"`
}

// Rules is the read-only snapshot consumed by attribution.
type Rules struct {
	GroupToGroup  map[string]string
	GroupToWallet map[string]string
	UserToWallet  map[string]string
}

func NewRules() Rules {
	return Rules{
		GroupToGroup:  map[string]string{},
		GroupToWallet: map[string]string{},
		UserToWallet:  map[string]string{},
	}
}
