// Package ledger owns the transaction records and their state machine. The
// only legal transitions are pending -> completed and pending -> failed, and
// both are implemented as conditional updates so racing writers cannot both
// win: whoever flips the row first settles, everyone else sees zero rows
// affected.
package ledger

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"boostup-bot/internal/models"
)

type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Create(ctx context.Context, tx *models.Transaction) error {
	if err := s.db.WithContext(ctx).Create(tx).Error; err != nil {
		return fmt.Errorf("failed to create transaction: %w", err)
	}
	return nil
}

func (s *Store) ByID(ctx context.Context, id uint) (*models.Transaction, error) {
	var tx models.Transaction
	if err := s.db.WithContext(ctx).First(&tx, id).Error; err != nil {
		return nil, err
	}
	return &tx, nil
}

func (s *Store) ByInvoiceID(ctx context.Context, invoiceID string) (*models.Transaction, error) {
	var tx models.Transaction
	if err := s.db.WithContext(ctx).Where("invoice_id = ?", invoiceID).First(&tx).Error; err != nil {
		return nil, err
	}
	return &tx, nil
}

// SettleSuccess flips the transaction to completed and credits the user's
// balance inside one database transaction. The status flip is conditional on
// the row still being pending; when another trigger already settled it, no
// rows match, nothing is credited and (false, nil) is returned. A failure of
// the credit step rolls the flip back, so "credited but still pending" and
// "completed but not credited" are both unrepresentable.
func (s *Store) SettleSuccess(ctx context.Context, tx *models.Transaction, txRef, network string) (bool, error) {
	var settled bool
	err := s.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		updates := map[string]interface{}{
			"status":       models.TxStatusCompleted,
			"processed_at": time.Now(),
		}
		if txRef != "" {
			updates["tx_ref"] = txRef
		}
		if network != "" {
			updates["network"] = network
		}

		res := db.Model(&models.Transaction{}).
			Where("id = ? AND status = ?", tx.ID, models.TxStatusPending).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil // already settled by the other trigger
		}

		if err := db.Model(&models.User{}).
			Where("id = ?", tx.UserID).
			UpdateColumn("balance", gorm.Expr("balance + ?", tx.AmountCredits)).Error; err != nil {
			return err
		}
		settled = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to settle transaction %d: %w", tx.ID, err)
	}
	return settled, nil
}

// SettleFailure flips the transaction to failed with an optional note. Same
// conditional gate as SettleSuccess.
func (s *Store) SettleFailure(ctx context.Context, txID uint, note string) (bool, error) {
	updates := map[string]interface{}{
		"status":       models.TxStatusFailed,
		"processed_at": time.Now(),
	}
	if note != "" {
		updates["error_note"] = note
	}

	res := s.db.WithContext(ctx).Model(&models.Transaction{}).
		Where("id = ? AND status = ?", txID, models.TxStatusPending).
		Updates(updates)
	if res.Error != nil {
		return false, fmt.Errorf("failed to mark transaction %d failed: %w", txID, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// AttachTxRef records a late-arriving on-chain reference on a completed
// transaction. Metadata enrichment only: the status is untouched and nothing
// is credited.
func (s *Store) AttachTxRef(ctx context.Context, txID uint, txRef string) error {
	return s.db.WithContext(ctx).Model(&models.Transaction{}).
		Where("id = ? AND status = ? AND tx_ref = ''", txID, models.TxStatusCompleted).
		UpdateColumn("tx_ref", txRef).Error
}

// PendingNotExpired returns the transactions the reconciliation poller should
// re-query: still pending and not yet past their gateway lifetime.
func (s *Store) PendingNotExpired(ctx context.Context, now time.Time) ([]models.Transaction, error) {
	var txs []models.Transaction
	err := s.db.WithContext(ctx).
		Where("status = ? AND expires_at > ?", models.TxStatusPending, now).
		Find(&txs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query pending transactions: %w", err)
	}
	return txs, nil
}

// ExpirePastDue marks every pending transaction past its expiry as failed.
// The gateway no longer tracks these, so they can never settle successfully.
func (s *Store) ExpirePastDue(ctx context.Context, now time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Model(&models.Transaction{}).
		Where("status = ? AND expires_at <= ?", models.TxStatusPending, now).
		Updates(map[string]interface{}{
			"status":       models.TxStatusFailed,
			"error_note":   "invoice expired",
			"processed_at": now,
		})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to expire transactions: %w", res.Error)
	}
	return res.RowsAffected, nil
}

type Report struct {
	Count        int64
	TotalUSD     float64
	TotalCredits int64
	AverageUSD   float64
}

// FinancialReport aggregates completed transactions.
func (s *Store) FinancialReport(ctx context.Context) (*Report, error) {
	var row struct {
		Count        int64
		TotalUSD     float64
		TotalCredits int64
	}
	err := s.db.WithContext(ctx).Model(&models.Transaction{}).
		Select("COUNT(*) AS count, COALESCE(SUM(amount_usd), 0) AS total_usd, COALESCE(SUM(amount_credits), 0) AS total_credits").
		Where("status = ?", models.TxStatusCompleted).
		Scan(&row).Error
	if err != nil {
		return nil, fmt.Errorf("failed to build financial report: %w", err)
	}

	report := &Report{
		Count:        row.Count,
		TotalUSD:     row.TotalUSD,
		TotalCredits: row.TotalCredits,
	}
	if row.Count > 0 {
		report.AverageUSD = row.TotalUSD / float64(row.Count)
	}
	return report, nil
}
