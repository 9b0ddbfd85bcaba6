// Package wallet drives credit top-ups: it opens gateway invoices, persists
// the matching pending transactions and runs on-demand payment checks through
// the settlement pipeline.
package wallet

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/google/uuid"

	"boostup-bot/internal/cryptopay"
	"boostup-bot/internal/models"
	"boostup-bot/internal/pricing"
	"boostup-bot/internal/settlement"
)

// invoiceLifetime is the provider-enforced invoice validity.
const invoiceLifetime = 900 * time.Second

type Gateway interface {
	CreateInvoice(ctx context.Context, req cryptopay.CreateInvoiceRequest) (*cryptopay.Invoice, error)
	PaymentInfo(ctx context.Context, invoiceID string) (*cryptopay.Invoice, error)
}

type Ledger interface {
	Create(ctx context.Context, tx *models.Transaction) error
	ByInvoiceID(ctx context.Context, invoiceID string) (*models.Transaction, error)
}

type Settler interface {
	Settle(ctx context.Context, tx *models.Transaction, obs settlement.Observation) (settlement.Result, error)
}

type Service struct {
	gateway  Gateway
	ledger   Ledger
	pipeline Settler

	publicBaseURL string
	webhookSecret string
	returnURL     string
}

func NewService(gateway Gateway, ledger Ledger, pipeline Settler, publicBaseURL, webhookSecret, returnURL string) *Service {
	return &Service{
		gateway:       gateway,
		ledger:        ledger,
		pipeline:      pipeline,
		publicBaseURL: publicBaseURL,
		webhookSecret: webhookSecret,
		returnURL:     returnURL,
	}
}

// CreateTopUp opens a gateway invoice for a credit bundle and records the
// pending transaction. The order id is freshly generated each call, so a retry
// after any error opens a new invoice rather than colliding; on error no
// transaction exists and the caller must not assume one was created.
func (s *Service) CreateTopUp(ctx context.Context, userID, credits int64) (*models.Transaction, *cryptopay.Invoice, error) {
	usd, ok := pricing.Lookup(credits)
	if !ok {
		return nil, nil, fmt.Errorf("no price for %d credits", credits)
	}

	orderID := uuid.New().String()
	invoice, err := s.gateway.CreateInvoice(ctx, cryptopay.CreateInvoiceRequest{
		Amount:      strconv.FormatFloat(usd, 'f', 2, 64),
		Currency:    "USD",
		OrderID:     orderID,
		URLReturn:   s.returnURL,
		URLCallback: s.publicBaseURL + "/cryptopay/webhook/" + s.webhookSecret,
		Lifetime:    int(invoiceLifetime.Seconds()),
		ToCurrency:  "USDT",
	})
	if err != nil {
		log.Printf("Failed to create invoice for user %d: %v", userID, err)
		return nil, nil, fmt.Errorf("invoice creation failed: %w", err)
	}

	lifetime := invoiceLifetime
	if invoice.Lifetime > 0 {
		lifetime = time.Duration(invoice.Lifetime) * time.Second
	}

	tx := &models.Transaction{
		UserID:        userID,
		InvoiceID:     invoice.UUID,
		OrderID:       orderID,
		AmountUSD:     usd,
		AmountCredits: credits,
		Status:        models.TxStatusPending,
		Network:       invoice.Network,
		PayAddress:    invoice.Address,
		ExpiresAt:     time.Now().Add(lifetime),
	}
	if err := s.ledger.Create(ctx, tx); err != nil {
		// The provider-side invoice exists but we have no record of it; it
		// will simply expire unpaid.
		log.Printf("Failed to persist transaction for invoice %s: %v", invoice.UUID, err)
		return nil, nil, err
	}

	log.Printf("Invoice %s created for user %d: %d credits for $%.2f", invoice.UUID, userID, credits, usd)
	return tx, invoice, nil
}

// CheckPayment re-queries the gateway for an invoice and feeds the result into
// the settlement pipeline. Safe to call any number of times; the settlement
// gate deduplicates against the webhook and the poller. The returned
// transaction is re-fetched after settlement so the caller sees the stored
// state, not a cached copy.
func (s *Service) CheckPayment(ctx context.Context, invoiceID string) (*models.Transaction, settlement.Result, error) {
	tx, err := s.ledger.ByInvoiceID(ctx, invoiceID)
	if err != nil {
		return nil, 0, fmt.Errorf("transaction not found for invoice %s: %w", invoiceID, err)
	}

	invoice, err := s.gateway.PaymentInfo(ctx, invoiceID)
	if err != nil {
		return nil, 0, fmt.Errorf("payment info failed for invoice %s: %w", invoiceID, err)
	}

	amount := tx.AmountUSD
	if invoice.Amount != "" {
		parsed, err := strconv.ParseFloat(invoice.Amount, 64)
		if err != nil {
			return nil, 0, fmt.Errorf("unparseable amount %q for invoice %s", invoice.Amount, invoiceID)
		}
		amount = parsed
	}

	result, err := s.pipeline.Settle(ctx, tx, settlement.Observation{
		Status:    invoice.Status,
		AmountUSD: amount,
		TxRef:     invoice.TxID,
		Network:   invoice.Network,
	})
	if err != nil {
		return nil, result, err
	}

	updated, err := s.ledger.ByInvoiceID(ctx, invoiceID)
	if err != nil {
		return nil, result, err
	}
	return updated, result, nil
}
