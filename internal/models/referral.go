package models

import (
	"time"
)

const (
	BonusReasonFirstPaid = "first_paid_referral"
	BonusReasonFifthPaid = "fifth_paid_referral"
)

type ReferralBonus struct {
	ID            uint   `gorm:"primaryKey"`
	ReferrerID    int64  `gorm:"not null;index"`
	InvitedUserID int64  `gorm:"not null;index"`
	Credits       int64  `gorm:"not null"`
	Reason        string `gorm:"size:32;not null"`
	CreatedAt     time.Time
}
