// Package webhook receives CryptoPay payment callbacks. Everything inbound is
// hostile until the path secret, the optional source-IP allowlist and the body
// signature all check out; unverifiable requests are dropped with no side
// effects.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"gorm.io/gorm"

	"boostup-bot/internal/cryptopay"
	"boostup-bot/internal/models"
	"boostup-bot/internal/settlement"
	"boostup-bot/internal/signature"
	"boostup-bot/internal/utils"
)

type TransactionSource interface {
	ByInvoiceID(ctx context.Context, invoiceID string) (*models.Transaction, error)
}

type Settler interface {
	Settle(ctx context.Context, tx *models.Transaction, obs settlement.Observation) (settlement.Result, error)
}

type Handler struct {
	Ledger      TransactionSource
	Pipeline    Settler
	APIKey      string
	Secret      string
	AllowedIPs  []string // CIDR allowlist for the gateway's webhook sources, empty disables the check
}

func NewHandler(ledger TransactionSource, pipeline Settler, apiKey, secret string, allowedIPs []string) *Handler {
	return &Handler{
		Ledger:     ledger,
		Pipeline:   pipeline,
		APIKey:     apiKey,
		Secret:     secret,
		AllowedIPs: allowedIPs,
	}
}

// HandleWebhook is mounted at POST /cryptopay/webhook/{secret}.
func (h *Handler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if r.PathValue("secret") != h.Secret {
		log.Printf("Webhook with wrong path secret from %s", utils.ClientIP(r))
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	if len(h.AllowedIPs) > 0 {
		ip := utils.ClientIP(r)
		if !utils.IsAllowedIP(ip, h.AllowedIPs) {
			log.Printf("Webhook from disallowed IP %s", ip)
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
	}

	var payload cryptopay.WebhookPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		log.Printf("Failed to decode webhook: %v", err)
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	if !signature.VerifyGateway(payload.SignedFields(), payload.Sign, h.APIKey) {
		log.Printf("Webhook signature mismatch for invoice %s", payload.UUID)
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	if payload.UUID == "" || payload.Status == "" {
		log.Printf("Webhook missing essential fields: %+v", payload)
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	amount, err := strconv.ParseFloat(payload.Amount, 64)
	if err != nil {
		log.Printf("Webhook with unparseable amount %q for invoice %s", payload.Amount, payload.UUID)
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	tx, err := h.Ledger.ByInvoiceID(r.Context(), payload.UUID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Printf("Webhook for unknown invoice %s (status %s)", payload.UUID, payload.Status)
			http.Error(w, "Not found", http.StatusNotFound)
			return
		}
		log.Printf("Failed to load transaction for invoice %s: %v", payload.UUID, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	result, err := h.Pipeline.Settle(r.Context(), tx, settlement.Observation{
		Status:    payload.Status,
		AmountUSD: amount,
		TxRef:     payload.TxID,
		Network:   payload.Network,
	})
	if err != nil {
		log.Printf("Settlement error for invoice %s: %v", payload.UUID, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	log.Printf("Webhook for invoice %s handled: %s", payload.UUID, result)
	w.WriteHeader(http.StatusOK)
}
