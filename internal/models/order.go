package models

import (
	"time"
)

const (
	OrderTypeNormal = "normal"
	OrderTypeTurbo  = "turbo"
)

// Order is a subscriber-boost purchase paid from the credit balance.
type Order struct {
	ID        uint  `gorm:"primaryKey"`
	UserID    int64 `gorm:"not null;index"`
	User      User  `gorm:"constraint:OnUpdate:CASCADE,OnDelete:SET NULL;"`
	ChannelID int64 `gorm:"not null"`

	OrderType   string `gorm:"size:16;not null"`
	Requested   int    `gorm:"not null"`
	CostCredits int64  `gorm:"not null"`
	Status      string `gorm:"size:16;not null;default:'pending'"`

	CreatedAt time.Time
	UpdatedAt time.Time
}
