package store

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// GORM models used for persistence.
type UserModel struct {
	ID           int64     `gorm:"primaryKey;autoIncrement"`
	Username     string    `gorm:"size:150;uniqueIndex;not null"`
	Email        string    `gorm:"size:254;uniqueIndex;not null"`
	PasswordHash string    `gorm:"not null"`
	IsActive     bool      `gorm:"not null;default:true"`
	CreatedAt    time.Time `gorm:"not null"`
}

type ProfileModel struct {
	ID         int64                      `gorm:"primaryKey;autoIncrement"`
	UserID     int64                      `gorm:"uniqueIndex;not null"`
	UserType   string                     `gorm:"size:20;not null;default:customer"`
	SavedBooks datatypes.JSONSlice[int64] `gorm:"not null"`
	CartItems  datatypes.JSONSlice[int64] `gorm:"not null"`
	UpdatedAt  time.Time
}

type BookModel struct {
	ID            int64           `gorm:"primaryKey;autoIncrement"`
	Title         string          `gorm:"size:200;not null"`
	Author        string          `gorm:"size:100;not null;index"`
	ISBN          string          `gorm:"column:isbn;size:13;uniqueIndex;not null"`
	Price         decimal.Decimal `gorm:"type:numeric(10,2);not null"`
	CoverImageURL *string         `gorm:"size:200"`
	TimesIssued   int64           `gorm:"not null;default:0;index"`
	CreatedAt     time.Time       `gorm:"not null"`
	UpdatedAt     time.Time       `gorm:"not null"`
}
