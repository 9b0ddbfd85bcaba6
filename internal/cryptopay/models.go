package cryptopay

import "log"

type CreateInvoiceRequest struct {
	Amount            string `json:"amount"` // provider requires amounts as strings
	Currency          string `json:"currency"`
	OrderID           string `json:"order_id"`
	URLReturn         string `json:"url_return"`
	URLCallback       string `json:"url_callback"`
	Lifetime          int    `json:"lifetime"`
	IsPaymentMultiple bool   `json:"is_payment_multiple"`
	ToCurrency        string `json:"to_currency"`
}

type Invoice struct {
	UUID     string `json:"uuid"`
	OrderID  string `json:"order_id"`
	Amount   string `json:"amount"`
	Address  string `json:"address"`
	Network  string `json:"network"`
	URL      string `json:"url"`
	Status   string `json:"status"`
	TxID     string `json:"txid"`
	Lifetime int    `json:"lifetime"`
}

// apiResponse is the provider envelope: state 0 means success.
type apiResponse struct {
	State   int     `json:"state"`
	Result  Invoice `json:"result"`
	Message string  `json:"message"`
}

type PaymentInfoRequest struct {
	UUID string `json:"uuid"`
}

// WebhookPayload is the callback body. Amounts arrive as strings; Sign covers
// every other field per the legacy digest scheme.
type WebhookPayload struct {
	UUID     string `json:"uuid"`
	OrderID  string `json:"order_id"`
	Status   string `json:"status"`
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
	Network  string `json:"network"`
	TxID     string `json:"txid"`
	Sign     string `json:"sign"`
}

// SignedFields returns the payload fields covered by the signature, keyed the
// way they appear on the wire. Sign itself is excluded.
func (p *WebhookPayload) SignedFields() map[string]string {
	return map[string]string{
		"uuid":     p.UUID,
		"order_id": p.OrderID,
		"status":   p.Status,
		"amount":   p.Amount,
		"currency": p.Currency,
		"network":  p.Network,
		"txid":     p.TxID,
	}
}

// Outcome is the normalized meaning of a provider status string.
type Outcome int

const (
	OutcomePending Outcome = iota
	OutcomeSuccess
	OutcomeFailure
)

// statusOutcomes is the full known provider vocabulary. Anything outside it is
// treated as still pending and logged for review.
var statusOutcomes = map[string]Outcome{
	"paid":         OutcomeSuccess,
	"paid_over":    OutcomeSuccess,
	"confirmed":    OutcomeSuccess,
	"fail":         OutcomeFailure,
	"expired":      OutcomeFailure,
	"cancel":       OutcomeFailure,
	"check":        OutcomePending,
	"process":      OutcomePending,
	"stillWaiting": OutcomePending,
}

func NormalizeStatus(status string) Outcome {
	outcome, ok := statusOutcomes[status]
	if !ok {
		log.Printf("Unknown gateway status %q, treating as pending", status)
		return OutcomePending
	}
	return outcome
}

// KnownStatus reports whether status belongs to the provider vocabulary.
func KnownStatus(status string) bool {
	_, ok := statusOutcomes[status]
	return ok
}
