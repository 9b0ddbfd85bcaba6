// Package worker runs the reconciliation poller, the safety net for missed or
// delayed webhooks. It re-queries the gateway for pending invoices and feeds
// the answers into the settlement pipeline; because settlement is gated on the
// pending state, racing a webhook is always safe.
package worker

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"boostup-bot/internal/cryptopay"
	"boostup-bot/internal/models"
	"boostup-bot/internal/settlement"
)

// lockTTL keeps overlapping sweeps from querying the same invoice twice.
const lockTTL = 4 * time.Minute

type Ledger interface {
	PendingNotExpired(ctx context.Context, now time.Time) ([]models.Transaction, error)
	ExpirePastDue(ctx context.Context, now time.Time) (int64, error)
}

type Gateway interface {
	PaymentInfo(ctx context.Context, invoiceID string) (*cryptopay.Invoice, error)
}

type Settler interface {
	Settle(ctx context.Context, tx *models.Transaction, obs settlement.Observation) (settlement.Result, error)
}

type Poller struct {
	Ledger   Ledger
	Gateway  Gateway
	Pipeline Settler
	Redis    *redis.Client // optional; nil disables the in-flight locks
	Interval time.Duration
}

func NewPoller(ledger Ledger, gateway Gateway, pipeline Settler, rdb *redis.Client) *Poller {
	return &Poller{
		Ledger:   ledger,
		Gateway:  gateway,
		Pipeline: pipeline,
		Redis:    rdb,
		Interval: 5 * time.Minute,
	}
}

func (p *Poller) Start(ctx context.Context) {
	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()
	log.Println("Reconciliation poller started")

	// Run once at start
	p.Sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Println("Reconciliation poller stopped")
			return
		case <-ticker.C:
			p.Sweep(ctx)
		}
	}
}

// Sweep expires overdue invoices, then re-checks every live pending one.
func (p *Poller) Sweep(ctx context.Context) {
	now := time.Now()

	expired, err := p.Ledger.ExpirePastDue(ctx, now)
	if err != nil {
		log.Printf("Expiry sweep failed: %v", err)
	} else if expired > 0 {
		log.Printf("Expired %d overdue pending transactions", expired)
	}

	pending, err := p.Ledger.PendingNotExpired(ctx, now)
	if err != nil {
		log.Printf("Error querying pending transactions: %v", err)
		return
	}

	checked := 0
	for _, tx := range pending {
		if !p.acquire(ctx, tx.InvoiceID) {
			continue
		}
		if p.check(ctx, tx) {
			checked++
		}
	}
	if len(pending) > 0 {
		log.Printf("Finished checking %d pending payments, %d reached a terminal state", len(pending), checked)
	}
}

// check queries the gateway for one invoice and settles on the answer.
// Reports whether the transaction reached a terminal state.
func (p *Poller) check(ctx context.Context, tx models.Transaction) bool {
	invoice, err := p.Gateway.PaymentInfo(ctx, tx.InvoiceID)
	if err != nil {
		log.Printf("Error checking status for invoice %s: %v", tx.InvoiceID, err)
		return false
	}

	amount := tx.AmountUSD
	if invoice.Amount != "" {
		parsed, err := strconv.ParseFloat(invoice.Amount, 64)
		if err != nil {
			log.Printf("Unparseable amount %q for invoice %s", invoice.Amount, tx.InvoiceID)
			return false
		}
		amount = parsed
	}

	result, err := p.Pipeline.Settle(ctx, &tx, settlement.Observation{
		Status:    invoice.Status,
		AmountUSD: amount,
		TxRef:     invoice.TxID,
		Network:   invoice.Network,
	})
	if err != nil {
		log.Printf("Settlement error for invoice %s: %v", tx.InvoiceID, err)
		return false
	}
	switch result {
	case settlement.ResultSettled, settlement.ResultFailed, settlement.ResultRejected:
		log.Printf("Invoice %s resolved by poller: %s", tx.InvoiceID, result)
		return true
	default:
		return false
	}
}

func (p *Poller) acquire(ctx context.Context, invoiceID string) bool {
	if p.Redis == nil {
		return true
	}
	key := fmt.Sprintf("poll_lock_%s", invoiceID)
	ok, err := p.Redis.SetNX(ctx, key, "1", lockTTL).Result()
	if err != nil {
		log.Printf("Redis lock error for invoice %s: %v", invoiceID, err)
		return true // settlement gate still protects us
	}
	return ok
}
