package settlement

import (
	"context"
	"sync"
	"testing"
	"time"

	"boostup-bot/internal/models"
)

// fakeStore implements TransactionStore and UserStore with the same atomic
// check-then-act semantics the database gives the real stores.
type fakeStore struct {
	mu       sync.Mutex
	txs      map[uint]*models.Transaction
	users    map[int64]*models.User
	bonuses  []models.ReferralBonus
	creditErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		txs:   make(map[uint]*models.Transaction),
		users: make(map[int64]*models.User),
	}
}

func (f *fakeStore) addUser(u models.User) {
	f.users[u.ID] = &u
}

func (f *fakeStore) addTx(tx models.Transaction) {
	f.txs[tx.ID] = &tx
}

// tx returns a snapshot copy, the way a caller would load it from the ledger.
func (f *fakeStore) tx(id uint) *models.Transaction {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *f.txs[id]
	return &cp
}

func (f *fakeStore) balance(userID int64) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.users[userID].Balance
}

func (f *fakeStore) SettleSuccess(ctx context.Context, tx *models.Transaction, txRef, network string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored := f.txs[tx.ID]
	if stored.Status != models.TxStatusPending {
		return false, nil
	}
	if f.creditErr != nil {
		return false, f.creditErr
	}
	now := time.Now()
	stored.Status = models.TxStatusCompleted
	stored.ProcessedAt = &now
	if txRef != "" {
		stored.TxRef = txRef
	}
	if network != "" {
		stored.Network = network
	}
	f.users[tx.UserID].Balance += tx.AmountCredits
	return true, nil
}

func (f *fakeStore) SettleFailure(ctx context.Context, txID uint, note string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored := f.txs[txID]
	if stored.Status != models.TxStatusPending {
		return false, nil
	}
	now := time.Now()
	stored.Status = models.TxStatusFailed
	stored.ProcessedAt = &now
	stored.ErrorNote = note
	return true, nil
}

func (f *fakeStore) AttachTxRef(ctx context.Context, txID uint, txRef string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored := f.txs[txID]
	if stored.Status == models.TxStatusCompleted && stored.TxRef == "" {
		stored.TxRef = txRef
	}
	return nil
}

func (f *fakeStore) User(ctx context.Context, id int64) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *f.users[id]
	return &cp, nil
}

func (f *fakeStore) IncrementReferredPaid(ctx context.Context, referrerID int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[referrerID].ReferredPaidCount++
	return f.users[referrerID].ReferredPaidCount, nil
}

func (f *fakeStore) AwardReferralBonus(ctx context.Context, referrerID, invitedUserID, credits int64, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[referrerID].Balance += credits
	f.users[referrerID].ReferralEarned += credits
	f.bonuses = append(f.bonuses, models.ReferralBonus{
		ReferrerID:    referrerID,
		InvitedUserID: invitedUserID,
		Credits:       credits,
		Reason:        reason,
	})
	return nil
}

type noopNotifier struct{}

func (noopNotifier) PaymentCompleted(ctx context.Context, userID, credits int64)    {}
func (noopNotifier) PaymentFailed(ctx context.Context, userID int64)                {}
func (noopNotifier) ReferralBonusAwarded(ctx context.Context, referrerID, credits int64) {}

func newTestPipeline(store *fakeStore) *Pipeline {
	return NewPipeline(store, store, noopNotifier{})
}

func pendingTx(id uint, userID int64, usd float64, credits int64) models.Transaction {
	return models.Transaction{
		ID:            id,
		UserID:        userID,
		InvoiceID:     "inv-1",
		AmountUSD:     usd,
		AmountCredits: credits,
		Status:        models.TxStatusPending,
		ExpiresAt:     time.Now().Add(15 * time.Minute),
	}
}

func TestSettleCreditsExactlyOnceUnderRace(t *testing.T) {
	store := newFakeStore()
	store.addUser(models.User{ID: 10})
	store.addTx(pendingTx(1, 10, 20.0, 500))
	p := newTestPipeline(store)

	obs := Observation{Status: "paid", AmountUSD: 20.0, TxRef: "0xabc", Network: "TRX"}

	// Webhook and poller race: both loaded the transaction while pending.
	results := make(chan Result, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := p.Settle(context.Background(), store.tx(1), obs)
			if err != nil {
				t.Errorf("Settle returned error: %v", err)
			}
			results <- res
		}()
	}
	wg.Wait()
	close(results)

	var settled, already int
	for res := range results {
		switch res {
		case ResultSettled:
			settled++
		case ResultAlreadyProcessed:
			already++
		default:
			t.Errorf("unexpected result %v", res)
		}
	}
	if settled != 1 || already != 1 {
		t.Fatalf("got %d settled and %d already-processed, want 1 and 1", settled, already)
	}
	if got := store.balance(10); got != 500 {
		t.Errorf("balance = %d, want 500 (credited exactly once)", got)
	}
	if got := store.tx(1).Status; got != models.TxStatusCompleted {
		t.Errorf("status = %s, want completed", got)
	}
}

func TestDuplicateWebhookIsNoOp(t *testing.T) {
	store := newFakeStore()
	store.addUser(models.User{ID: 10})
	store.addTx(pendingTx(1, 10, 20.0, 500))
	p := newTestPipeline(store)

	obs := Observation{Status: "paid", AmountUSD: 20.0, TxRef: "0xabc"}

	res, err := p.Settle(context.Background(), store.tx(1), obs)
	if err != nil || res != ResultSettled {
		t.Fatalf("first settle = %v, %v; want settled, nil", res, err)
	}
	if got := store.balance(10); got != 500 {
		t.Fatalf("balance after first webhook = %d, want 500", got)
	}

	// Same payload delivered again a minute later.
	res, err = p.Settle(context.Background(), store.tx(1), obs)
	if err != nil || res != ResultAlreadyProcessed {
		t.Fatalf("duplicate settle = %v, %v; want already_processed, nil", res, err)
	}
	if got := store.balance(10); got != 500 {
		t.Errorf("balance after duplicate webhook = %d, want 500", got)
	}
}

func TestAmountMismatchRejectedAndNeverCredited(t *testing.T) {
	store := newFakeStore()
	store.addUser(models.User{ID: 10})
	store.addTx(pendingTx(1, 10, 20.0, 500))
	p := newTestPipeline(store)

	res, err := p.Settle(context.Background(), store.tx(1), Observation{Status: "paid", AmountUSD: 15.0})
	if err != nil {
		t.Fatalf("Settle returned error: %v", err)
	}
	if res != ResultRejected {
		t.Fatalf("result = %v, want rejected", res)
	}
	tx := store.tx(1)
	if tx.Status != models.TxStatusFailed {
		t.Errorf("status = %s, want failed", tx.Status)
	}
	if tx.ErrorNote != "amount mismatch" {
		t.Errorf("error note = %q, want %q", tx.ErrorNote, "amount mismatch")
	}
	if got := store.balance(10); got != 0 {
		t.Errorf("balance = %d, want 0", got)
	}
}

func TestAmountWithinEpsilonSettles(t *testing.T) {
	store := newFakeStore()
	store.addUser(models.User{ID: 10})
	store.addTx(pendingTx(1, 10, 20.0, 500))
	p := newTestPipeline(store)

	res, err := p.Settle(context.Background(), store.tx(1), Observation{Status: "paid", AmountUSD: 20.009})
	if err != nil || res != ResultSettled {
		t.Fatalf("settle = %v, %v; want settled, nil", res, err)
	}
}

func TestTerminalFailureStatus(t *testing.T) {
	for _, status := range []string{"fail", "expired", "cancel"} {
		store := newFakeStore()
		store.addUser(models.User{ID: 10})
		store.addTx(pendingTx(1, 10, 20.0, 500))
		p := newTestPipeline(store)

		res, err := p.Settle(context.Background(), store.tx(1), Observation{Status: status, AmountUSD: 20.0})
		if err != nil || res != ResultFailed {
			t.Fatalf("status %q: settle = %v, %v; want failed, nil", status, res, err)
		}
		if got := store.tx(1).Status; got != models.TxStatusFailed {
			t.Errorf("status %q: transaction status = %s, want failed", status, got)
		}
	}
}

func TestNonTerminalStatusStaysPending(t *testing.T) {
	for _, status := range []string{"check", "stillWaiting", "somethingNew"} {
		store := newFakeStore()
		store.addUser(models.User{ID: 10})
		store.addTx(pendingTx(1, 10, 20.0, 500))
		p := newTestPipeline(store)

		res, err := p.Settle(context.Background(), store.tx(1), Observation{Status: status, AmountUSD: 20.0})
		if err != nil || res != ResultStillPending {
			t.Fatalf("status %q: settle = %v, %v; want still_pending, nil", status, res, err)
		}
		if got := store.tx(1).Status; got != models.TxStatusPending {
			t.Errorf("status %q: transaction status = %s, want pending", status, got)
		}
	}
}

func TestExpiredTransactionNeverSettles(t *testing.T) {
	store := newFakeStore()
	store.addUser(models.User{ID: 10})
	tx := pendingTx(1, 10, 20.0, 500)
	tx.ExpiresAt = time.Now().Add(-time.Minute)
	store.addTx(tx)
	p := newTestPipeline(store)

	res, err := p.Settle(context.Background(), store.tx(1), Observation{Status: "paid", AmountUSD: 20.0})
	if err != nil {
		t.Fatalf("Settle returned error: %v", err)
	}
	if res != ResultRejected {
		t.Fatalf("result = %v, want rejected", res)
	}
	got := store.tx(1)
	if got.Status != models.TxStatusFailed {
		t.Errorf("status = %s, want failed", got.Status)
	}
	if got.ErrorNote != "expired before settlement" {
		t.Errorf("error note = %q", got.ErrorNote)
	}
	if bal := store.balance(10); bal != 0 {
		t.Errorf("balance = %d, want 0", bal)
	}
}

func TestLateTxRefEnrichmentDoesNotRecredit(t *testing.T) {
	store := newFakeStore()
	store.addUser(models.User{ID: 10, Balance: 500})
	tx := pendingTx(1, 10, 20.0, 500)
	tx.Status = models.TxStatusCompleted
	store.addTx(tx)
	p := newTestPipeline(store)

	res, err := p.Settle(context.Background(), store.tx(1), Observation{Status: "confirmed", AmountUSD: 20.0, TxRef: "0xlate"})
	if err != nil || res != ResultAlreadyProcessed {
		t.Fatalf("settle = %v, %v; want already_processed, nil", res, err)
	}
	got := store.tx(1)
	if got.TxRef != "0xlate" {
		t.Errorf("tx ref not attached, got %q", got.TxRef)
	}
	if bal := store.balance(10); bal != 500 {
		t.Errorf("balance = %d, want 500 (no re-credit)", bal)
	}
}

func TestReferralFirstPaymentBonus(t *testing.T) {
	store := newFakeStore()
	referrer := int64(1)
	store.addUser(models.User{ID: referrer})
	store.addUser(models.User{ID: 2, ReferrerID: &referrer})
	store.addTx(pendingTx(1, 2, 20.0, 500))
	p := newTestPipeline(store)

	res, err := p.Settle(context.Background(), store.tx(1), Observation{Status: "paid", AmountUSD: 20.0})
	if err != nil || res != ResultSettled {
		t.Fatalf("settle = %v, %v", res, err)
	}
	if got := store.balance(referrer); got != 100 {
		t.Errorf("referrer balance = %d, want 100", got)
	}
	if len(store.bonuses) != 1 || store.bonuses[0].Reason != models.BonusReasonFirstPaid {
		t.Errorf("bonuses = %+v, want one first-paid bonus", store.bonuses)
	}
}

func TestReferralFirstPaymentBelowThresholdNoBonus(t *testing.T) {
	store := newFakeStore()
	referrer := int64(1)
	store.addUser(models.User{ID: referrer})
	store.addUser(models.User{ID: 2, ReferrerID: &referrer})
	store.addTx(pendingTx(1, 2, 5.0, 100))
	p := newTestPipeline(store)

	res, err := p.Settle(context.Background(), store.tx(1), Observation{Status: "paid", AmountUSD: 5.0})
	if err != nil || res != ResultSettled {
		t.Fatalf("settle = %v, %v", res, err)
	}
	if got := store.balance(referrer); got != 0 {
		t.Errorf("referrer balance = %d, want 0", got)
	}
	// The counter still advanced: the threshold gates the bonus, not the count.
	u, _ := store.User(context.Background(), referrer)
	if u.ReferredPaidCount != 1 {
		t.Errorf("paid-referral count = %d, want 1", u.ReferredPaidCount)
	}
}

func TestFifthReferralBonusExactlyOnceUnderConcurrency(t *testing.T) {
	store := newFakeStore()
	referrer := int64(1)
	store.addUser(models.User{ID: referrer})

	for i := int64(2); i <= 6; i++ {
		store.addUser(models.User{ID: i, ReferrerID: &referrer})
		store.addTx(pendingTx(uint(i), i, 20.0, 500))
	}
	p := newTestPipeline(store)

	var wg sync.WaitGroup
	for i := int64(2); i <= 6; i++ {
		wg.Add(1)
		go func(id uint) {
			defer wg.Done()
			if _, err := p.Settle(context.Background(), store.tx(id), Observation{Status: "paid", AmountUSD: 20.0}); err != nil {
				t.Errorf("Settle(%d) returned error: %v", id, err)
			}
		}(uint(i))
	}
	wg.Wait()

	var fifth, first int
	for _, b := range store.bonuses {
		switch b.Reason {
		case models.BonusReasonFifthPaid:
			fifth++
		case models.BonusReasonFirstPaid:
			first++
		}
	}
	if fifth != 1 {
		t.Errorf("fifth-referral bonus awarded %d times, want exactly 1", fifth)
	}
	if first != 1 {
		t.Errorf("first-referral bonus awarded %d times, want exactly 1", first)
	}
	u, _ := store.User(context.Background(), referrer)
	if u.ReferredPaidCount != 5 {
		t.Errorf("paid-referral count = %d, want 5", u.ReferredPaidCount)
	}
	if u.ReferralEarned != 250 {
		t.Errorf("referral earned = %d, want 250", u.ReferralEarned)
	}
}

func TestStorageFailureLeavesTransactionPending(t *testing.T) {
	store := newFakeStore()
	store.addUser(models.User{ID: 10})
	store.addTx(pendingTx(1, 10, 20.0, 500))
	store.creditErr = context.DeadlineExceeded
	p := newTestPipeline(store)

	if _, err := p.Settle(context.Background(), store.tx(1), Observation{Status: "paid", AmountUSD: 20.0}); err == nil {
		t.Fatal("expected an error from the failing store")
	}
	// Still pending and uncredited, so a later retry can settle it cleanly.
	if got := store.tx(1).Status; got != models.TxStatusPending {
		t.Errorf("status = %s, want pending", got)
	}
	if got := store.balance(10); got != 0 {
		t.Errorf("balance = %d, want 0", got)
	}

	store.creditErr = nil
	res, err := p.Settle(context.Background(), store.tx(1), Observation{Status: "paid", AmountUSD: 20.0})
	if err != nil || res != ResultSettled {
		t.Fatalf("retry settle = %v, %v; want settled, nil", res, err)
	}
	if got := store.balance(10); got != 500 {
		t.Errorf("balance after retry = %d, want 500", got)
	}
}
