package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type RecipeModel struct {
	ID             string         `gorm:"primaryKey"`
	Name           string         `gorm:"not null"`
	Description    string         `gorm:"not null"`
	Body           string         `gorm:"type:text;not null"`
	Tags           datatypes.JSON `gorm:"type:jsonb"`
	Image          string         `gorm:"index"`
	AuthorUsername string         `gorm:"not null;index"`
	Created        time.Time      `gorm:"not null;index"`
}

func (RecipeModel) TableName() string { return "recipes" }

type UserModel struct {
	Username     string    `gorm:"primaryKey"`
	Name         string    `gorm:"not null"`
	PasswordHash string    `gorm:"not null"`
	CreatedAt    time.Time `gorm:"not null"`
}

func (UserModel) TableName() string { return "users" }

type FavoriteModel struct {
	Username  string    `gorm:"primaryKey"`
	RecipeID  string    `gorm:"primaryKey;index"`
	CreatedAt time.Time `gorm:"not null"`
}

func (FavoriteModel) TableName() string { return "favorites" }
