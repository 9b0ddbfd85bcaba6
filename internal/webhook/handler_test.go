package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"gorm.io/gorm"

	"boostup-bot/internal/cryptopay"
	"boostup-bot/internal/models"
	"boostup-bot/internal/settlement"
	"boostup-bot/internal/signature"
)

const (
	testAPIKey = "webhookTestApiKey"
	testSecret = "path-s3cret"
)

type fakeLedger struct {
	tx *models.Transaction
}

func (f *fakeLedger) ByInvoiceID(ctx context.Context, invoiceID string) (*models.Transaction, error) {
	if f.tx != nil && f.tx.InvoiceID == invoiceID {
		cp := *f.tx
		return &cp, nil
	}
	return nil, gorm.ErrRecordNotFound
}

type fakeSettler struct {
	calls []settlement.Observation
	res   settlement.Result
}

func (f *fakeSettler) Settle(ctx context.Context, tx *models.Transaction, obs settlement.Observation) (settlement.Result, error) {
	f.calls = append(f.calls, obs)
	return f.res, nil
}

func newTestServer(ledger *fakeLedger, settler *fakeSettler, allowedIPs []string) *httptest.Server {
	h := NewHandler(ledger, settler, testAPIKey, testSecret, allowedIPs)
	mux := http.NewServeMux()
	mux.HandleFunc("POST /cryptopay/webhook/{secret}", h.HandleWebhook)
	return httptest.NewServer(mux)
}

func signedBody(t *testing.T, payload cryptopay.WebhookPayload) []byte {
	t.Helper()
	payload.Sign = signature.Gateway(payload.SignedFields(), testAPIKey)
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatal(err)
	}
	return body
}

func pendingTx() *models.Transaction {
	return &models.Transaction{
		ID:            1,
		UserID:        10,
		InvoiceID:     "inv-1",
		AmountUSD:     20.0,
		AmountCredits: 500,
		Status:        models.TxStatusPending,
		ExpiresAt:     time.Now().Add(10 * time.Minute),
	}
}

func TestWebhookSettlesVerifiedPayload(t *testing.T) {
	ledger := &fakeLedger{tx: pendingTx()}
	settler := &fakeSettler{res: settlement.ResultSettled}
	srv := newTestServer(ledger, settler, nil)
	defer srv.Close()

	body := signedBody(t, cryptopay.WebhookPayload{
		UUID:     "inv-1",
		OrderID:  "ord-1",
		Status:   "paid",
		Amount:   "20.00",
		Currency: "USDT",
		Network:  "TRX",
		TxID:     "0xabc",
	})
	resp, err := http.Post(srv.URL+"/cryptopay/webhook/"+testSecret, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if len(settler.calls) != 1 {
		t.Fatalf("settle called %d times, want 1", len(settler.calls))
	}
	obs := settler.calls[0]
	if obs.Status != "paid" || obs.AmountUSD != 20.0 || obs.TxRef != "0xabc" || obs.Network != "TRX" {
		t.Errorf("observation = %+v", obs)
	}
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	ledger := &fakeLedger{tx: pendingTx()}
	settler := &fakeSettler{res: settlement.ResultSettled}
	srv := newTestServer(ledger, settler, nil)
	defer srv.Close()

	payload := cryptopay.WebhookPayload{
		UUID:   "inv-1",
		Status: "paid",
		Amount: "20.00",
		Sign:   "deadbeef",
	}
	body, _ := json.Marshal(payload)
	resp, err := http.Post(srv.URL+"/cryptopay/webhook/"+testSecret, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	if len(settler.calls) != 0 {
		t.Error("settlement ran on an unverified payload")
	}
}

func TestWebhookRejectsTamperedAmount(t *testing.T) {
	ledger := &fakeLedger{tx: pendingTx()}
	settler := &fakeSettler{res: settlement.ResultSettled}
	srv := newTestServer(ledger, settler, nil)
	defer srv.Close()

	// Sign one amount, send another.
	body := signedBody(t, cryptopay.WebhookPayload{
		UUID:   "inv-1",
		Status: "paid",
		Amount: "20.00",
	})
	body = bytes.Replace(body, []byte(`"amount":"20.00"`), []byte(`"amount":"15.00"`), 1)

	resp, err := http.Post(srv.URL+"/cryptopay/webhook/"+testSecret, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	if len(settler.calls) != 0 {
		t.Error("settlement ran on a tampered payload")
	}
}

func TestWebhookWrongPathSecret(t *testing.T) {
	ledger := &fakeLedger{tx: pendingTx()}
	settler := &fakeSettler{res: settlement.ResultSettled}
	srv := newTestServer(ledger, settler, nil)
	defer srv.Close()

	body := signedBody(t, cryptopay.WebhookPayload{UUID: "inv-1", Status: "paid", Amount: "20.00"})
	resp, err := http.Post(srv.URL+"/cryptopay/webhook/wrong", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
	if len(settler.calls) != 0 {
		t.Error("settlement ran despite wrong path secret")
	}
}

func TestWebhookUnknownInvoice(t *testing.T) {
	ledger := &fakeLedger{}
	settler := &fakeSettler{res: settlement.ResultSettled}
	srv := newTestServer(ledger, settler, nil)
	defer srv.Close()

	body := signedBody(t, cryptopay.WebhookPayload{UUID: "inv-unknown", Status: "paid", Amount: "20.00"})
	resp, err := http.Post(srv.URL+"/cryptopay/webhook/"+testSecret, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestWebhookIPAllowlist(t *testing.T) {
	ledger := &fakeLedger{tx: pendingTx()}
	settler := &fakeSettler{res: settlement.ResultSettled}
	// httptest connects from 127.0.0.1; allow only a disjoint range.
	srv := newTestServer(ledger, settler, []string{"203.0.113.0/24"})
	defer srv.Close()

	body := signedBody(t, cryptopay.WebhookPayload{UUID: "inv-1", Status: "paid", Amount: "20.00"})
	resp, err := http.Post(srv.URL+"/cryptopay/webhook/"+testSecret, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", resp.StatusCode)
	}
	if len(settler.calls) != 0 {
		t.Error("settlement ran from a disallowed IP")
	}
}
