package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}

type User struct {
	ID             snowflake.ID `gorm:"primaryKey" json:"id"`
	Username       string       `gorm:"type:varchar(128);not null;uniqueIndex" json:"username"`
	HashedPassword string       `gorm:"type:text;not null" json:"-"`
	Role           Role         `gorm:"type:varchar(16);not null;default:'user'" json:"role"`
	CreatedAt      time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt      time.Time    `gorm:"not null" json:"updated_at"`
}

func (User) TableName() string { return "users" }
