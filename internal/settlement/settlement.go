// Package settlement applies observed gateway outcomes to transactions and
// balances. The webhook handler, the reconciliation poller and the
// user-initiated payment check all converge on Pipeline.Settle; a conditional
// state transition in the store is the single idempotency gate, so whichever
// trigger arrives second becomes a no-op.
package settlement

import (
	"context"
	"log"
	"math"
	"time"

	"boostup-bot/internal/cryptopay"
	"boostup-bot/internal/models"
)

// amountEpsilon is the tolerance for comparing the invoiced fiat amount with
// the amount the gateway reports. Anything beyond it is treated as tampering.
const amountEpsilon = 0.01

const (
	firstPaidBonusCredits = 100
	fifthPaidBonusCredits = 150
	firstPaidMinUSD       = 10
)

type Result int

const (
	ResultStillPending Result = iota
	ResultSettled
	ResultFailed
	ResultRejected
	ResultAlreadyProcessed
)

func (r Result) String() string {
	switch r {
	case ResultStillPending:
		return "still_pending"
	case ResultSettled:
		return "settled"
	case ResultFailed:
		return "failed"
	case ResultRejected:
		return "rejected"
	case ResultAlreadyProcessed:
		return "already_processed"
	}
	return "unknown"
}

// TransactionStore is the ledger surface the pipeline needs. SettleSuccess
// and SettleFailure must be conditional on the pending state and report
// whether this caller won the transition.
type TransactionStore interface {
	SettleSuccess(ctx context.Context, tx *models.Transaction, txRef, network string) (bool, error)
	SettleFailure(ctx context.Context, txID uint, note string) (bool, error)
	AttachTxRef(ctx context.Context, txID uint, txRef string) error
}

type UserStore interface {
	User(ctx context.Context, id int64) (*models.User, error)
	IncrementReferredPaid(ctx context.Context, referrerID int64) (int64, error)
	AwardReferralBonus(ctx context.Context, referrerID, invitedUserID, credits int64, reason string) error
}

// Notifier delivers user-facing messages after settlement. Implementations
// must be fire-and-forget; settlement never depends on delivery.
type Notifier interface {
	PaymentCompleted(ctx context.Context, userID, credits int64)
	PaymentFailed(ctx context.Context, userID int64)
	ReferralBonusAwarded(ctx context.Context, referrerID, credits int64)
}

type Pipeline struct {
	txs      TransactionStore
	users    UserStore
	notifier Notifier
	now      func() time.Time
}

func NewPipeline(txs TransactionStore, users UserStore, notifier Notifier) *Pipeline {
	return &Pipeline{
		txs:      txs,
		users:    users,
		notifier: notifier,
		now:      time.Now,
	}
}

// Observation is one trigger's view of a gateway invoice.
type Observation struct {
	Status    string
	AmountUSD float64
	TxRef     string
	Network   string
}

// Settle applies an observed gateway status to a transaction.
func (p *Pipeline) Settle(ctx context.Context, tx *models.Transaction, obs Observation) (Result, error) {
	if tx.Status != models.TxStatusPending {
		p.enrich(ctx, tx, obs)
		return ResultAlreadyProcessed, nil
	}

	if math.Abs(tx.AmountUSD-obs.AmountUSD) > amountEpsilon {
		log.Printf("Amount mismatch on transaction %d: expected %.2f, observed %.2f", tx.ID, tx.AmountUSD, obs.AmountUSD)
		won, err := p.txs.SettleFailure(ctx, tx.ID, "amount mismatch")
		if err != nil {
			return ResultRejected, err
		}
		if !won {
			return ResultAlreadyProcessed, nil
		}
		return ResultRejected, nil
	}

	switch cryptopay.NormalizeStatus(obs.Status) {
	case cryptopay.OutcomeSuccess:
		return p.settleSuccess(ctx, tx, obs)
	case cryptopay.OutcomeFailure:
		won, err := p.txs.SettleFailure(ctx, tx.ID, "")
		if err != nil {
			return ResultFailed, err
		}
		if !won {
			return ResultAlreadyProcessed, nil
		}
		p.notifier.PaymentFailed(ctx, tx.UserID)
		log.Printf("Transaction %d (%s) failed with gateway status %q", tx.ID, tx.InvoiceID, obs.Status)
		return ResultFailed, nil
	default:
		return ResultStillPending, nil
	}
}

func (p *Pipeline) settleSuccess(ctx context.Context, tx *models.Transaction, obs Observation) (Result, error) {
	// A paid status observed after the invoice lifetime must not credit: the
	// gateway no longer tracks the invoice and the expiry sweep may already be
	// failing it.
	if tx.Expired(p.now()) {
		won, err := p.txs.SettleFailure(ctx, tx.ID, "expired before settlement")
		if err != nil {
			return ResultRejected, err
		}
		if !won {
			return ResultAlreadyProcessed, nil
		}
		log.Printf("Rejected settlement of expired transaction %d (%s)", tx.ID, tx.InvoiceID)
		return ResultRejected, nil
	}

	won, err := p.txs.SettleSuccess(ctx, tx, obs.TxRef, obs.Network)
	if err != nil {
		return ResultSettled, err
	}
	if !won {
		p.enrich(ctx, tx, obs)
		return ResultAlreadyProcessed, nil
	}

	log.Printf("Transaction %d (%s) completed: %d credits for user %d", tx.ID, tx.InvoiceID, tx.AmountCredits, tx.UserID)
	p.notifier.PaymentCompleted(ctx, tx.UserID, tx.AmountCredits)
	p.applyReferralBonuses(ctx, tx)
	return ResultSettled, nil
}

// applyReferralBonuses runs only for the trigger that won the settlement, so
// the counter increments exactly once per paid referral. The bonus decisions
// key off the post-increment value returned by the store, which makes each
// "becomes exactly N" rule fire once over the referrer's lifetime even under
// concurrent settlements.
func (p *Pipeline) applyReferralBonuses(ctx context.Context, tx *models.Transaction) {
	user, err := p.users.User(ctx, tx.UserID)
	if err != nil {
		log.Printf("Referral check skipped, failed to load user %d: %v", tx.UserID, err)
		return
	}
	if user.ReferrerID == nil {
		return
	}
	referrerID := *user.ReferrerID

	count, err := p.users.IncrementReferredPaid(ctx, referrerID)
	if err != nil {
		log.Printf("Failed to increment paid-referral count for %d: %v", referrerID, err)
		return
	}

	if tx.AmountUSD >= firstPaidMinUSD && count == 1 {
		p.award(ctx, referrerID, tx.UserID, firstPaidBonusCredits, models.BonusReasonFirstPaid)
	}
	if count == 5 {
		p.award(ctx, referrerID, tx.UserID, fifthPaidBonusCredits, models.BonusReasonFifthPaid)
	}
}

func (p *Pipeline) award(ctx context.Context, referrerID, invitedUserID, credits int64, reason string) {
	if err := p.users.AwardReferralBonus(ctx, referrerID, invitedUserID, credits, reason); err != nil {
		log.Printf("Failed to award %d-credit bonus to user %d: %v", credits, referrerID, err)
		return
	}
	log.Printf("Awarded %d referral credits to user %d (%s)", credits, referrerID, reason)
	p.notifier.ReferralBonusAwarded(ctx, referrerID, credits)
}

// enrich stores a late-arriving on-chain reference on an already-settled
// transaction. Never re-triggers crediting.
func (p *Pipeline) enrich(ctx context.Context, tx *models.Transaction, obs Observation) {
	if obs.TxRef == "" || tx.TxRef != "" {
		return
	}
	if err := p.txs.AttachTxRef(ctx, tx.ID, obs.TxRef); err != nil {
		log.Printf("Failed to attach tx reference to transaction %d: %v", tx.ID, err)
	}
}
