package models

import (
	"time"
)

type User struct {
	ID        int64  `gorm:"primaryKey"` // Telegram user id
	Username  string `gorm:"size:255"`
	FirstName string `gorm:"size:255"`

	// Balance is an integer credit counter. Mutated only through atomic
	// increments in the users store, never read-modify-write.
	Balance int64 `gorm:"not null;default:0"`

	// ReferrerID is set at most once, first-write-wins, never self.
	ReferrerID        *int64 `gorm:"index"`
	ReferredPaidCount int64  `gorm:"not null;default:0"`
	ReferralEarned    int64  `gorm:"not null;default:0"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// UserIP and UserSession are append-only anti-fraud sets. The composite unique
// indexes make inserts idempotent; rows are never updated or removed.

type UserIP struct {
	ID        uint   `gorm:"primaryKey"`
	UserID    int64  `gorm:"not null;uniqueIndex:idx_user_ip"`
	IP        string `gorm:"size:45;not null;uniqueIndex:idx_user_ip"`
	CreatedAt time.Time
}

type UserSession struct {
	ID          uint   `gorm:"primaryKey"`
	UserID      int64  `gorm:"not null;uniqueIndex:idx_user_fingerprint"`
	Fingerprint string `gorm:"size:64;not null;uniqueIndex:idx_user_fingerprint"`
	CreatedAt   time.Time
}
