package models

import (
	"time"
)

const (
	TxStatusPending   = "pending"
	TxStatusCompleted = "completed"
	TxStatusFailed    = "failed"
)

// Transaction records one top-up attempt, linked 1:1 to a gateway invoice.
// Status only ever moves pending -> completed or pending -> failed; the ledger
// enforces this with conditional updates.
type Transaction struct {
	ID     uint  `gorm:"primaryKey"`
	UserID int64 `gorm:"not null;index"`
	User   User  `gorm:"constraint:OnUpdate:CASCADE,OnDelete:SET NULL;"`

	InvoiceID string `gorm:"size:64;not null;uniqueIndex"` // gateway invoice uuid
	OrderID   string `gorm:"size:64"`                      // our order id sent to the gateway

	// Fixed at creation, never recomputed.
	AmountUSD     float64 `gorm:"not null"`
	AmountCredits int64   `gorm:"not null"`

	Status    string `gorm:"size:16;not null;default:'pending';index"`
	ErrorNote string `gorm:"size:255"`

	// Gateway metadata, enriched as it arrives.
	Network    string `gorm:"size:32"`
	PayAddress string `gorm:"size:255"`
	TxRef      string `gorm:"size:128"` // on-chain transaction reference

	ExpiresAt   time.Time
	ProcessedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (t *Transaction) Expired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}
