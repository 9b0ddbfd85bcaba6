// Package users owns the user records. Balances and referral counters are the
// contended resources of the whole system, so every mutation here is a single
// atomic statement against the database; callers never get to read-modify-write
// a cached copy.
package users

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"boostup-bot/internal/models"
)

type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// EnsureUser finds or creates the user record.
func (s *Store) EnsureUser(ctx context.Context, id int64, username, firstName string) (*models.User, error) {
	user := models.User{ID: id}
	if err := s.db.WithContext(ctx).
		Where(models.User{ID: id}).
		Attrs(models.User{Username: username, FirstName: firstName}).
		FirstOrCreate(&user).Error; err != nil {
		return nil, fmt.Errorf("failed to find/create user %d: %w", id, err)
	}
	return &user, nil
}

func (s *Store) User(ctx context.Context, id int64) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, id).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// AddBalance atomically adds delta credits and returns the post-increment
// balance, so callers never have to re-read a possibly stale row.
func (s *Store) AddBalance(ctx context.Context, id int64, delta int64) (int64, error) {
	var balance int64
	err := s.db.WithContext(ctx).
		Raw("UPDATE users SET balance = balance + ?, updated_at = NOW() WHERE id = ? RETURNING balance", delta, id).
		Scan(&balance).Error
	if err != nil {
		return 0, fmt.Errorf("failed to adjust balance for user %d: %w", id, err)
	}
	return balance, nil
}

// Spend deducts amount only when the balance covers it. Returns false on
// insufficient funds; the balance is untouched in that case.
func (s *Store) Spend(ctx context.Context, id int64, amount int64) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ? AND balance >= ?", id, amount).
		UpdateColumn("balance", gorm.Expr("balance - ?", amount))
	if res.Error != nil {
		return false, fmt.Errorf("failed to spend balance for user %d: %w", id, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// SetReferrer links the user to a referrer. First write wins and self-links
// are refused; subsequent attempts report false.
func (s *Store) SetReferrer(ctx context.Context, userID, referrerID int64) (bool, error) {
	if userID == referrerID {
		return false, nil
	}
	res := s.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ? AND referrer_id IS NULL", userID).
		UpdateColumn("referrer_id", referrerID)
	if res.Error != nil {
		return false, fmt.Errorf("failed to set referrer for user %d: %w", userID, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// IncrementReferredPaid bumps the referrer's paid-referral counter and returns
// the post-increment value. The bonus rules key off this exact value, so the
// increment and the read have to come from the same statement.
func (s *Store) IncrementReferredPaid(ctx context.Context, referrerID int64) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Raw("UPDATE users SET referred_paid_count = referred_paid_count + 1, updated_at = NOW() WHERE id = ? RETURNING referred_paid_count", referrerID).
		Scan(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to increment paid-referral count for user %d: %w", referrerID, err)
	}
	return count, nil
}

// AwardReferralBonus credits the referrer, bumps the earnings counter and
// records the bonus, all in one database transaction.
func (s *Store) AwardReferralBonus(ctx context.Context, referrerID, invitedUserID, credits int64, reason string) error {
	err := s.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		if err := db.Model(&models.User{}).
			Where("id = ?", referrerID).
			Updates(map[string]interface{}{
				"balance":         gorm.Expr("balance + ?", credits),
				"referral_earned": gorm.Expr("referral_earned + ?", credits),
			}).Error; err != nil {
			return err
		}
		return db.Create(&models.ReferralBonus{
			ReferrerID:    referrerID,
			InvitedUserID: invitedUserID,
			Credits:       credits,
			Reason:        reason,
		}).Error
	})
	if err != nil {
		return fmt.Errorf("failed to award referral bonus to user %d: %w", referrerID, err)
	}
	return nil
}

// AddIP appends the IP to the user's anti-fraud set. Duplicate inserts are
// no-ops thanks to the unique index.
func (s *Store) AddIP(ctx context.Context, userID int64, ip string) error {
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models.UserIP{UserID: userID, IP: ip}).Error
}

// AddFingerprint appends a session fingerprint to the user's anti-fraud set.
func (s *Store) AddFingerprint(ctx context.Context, userID int64, fingerprint string) error {
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models.UserSession{UserID: userID, Fingerprint: fingerprint}).Error
}
