package payments

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/noveletta/backend/internal/ledger"
	"github.com/noveletta/backend/internal/models"
	"github.com/noveletta/backend/internal/notify"
)

// ---------------------------------------------------------------------------
// In-memory collaborators so the processor logic is testable without a
// database. fakeTx satisfies pgx.Tx for the service's own Begin/Commit
// bookkeeping; the mocks ignore the tx entirely.
// ---------------------------------------------------------------------------

type fakeTx struct{ pgx.Tx }

func (fakeTx) Commit(context.Context) error   { return nil }
func (fakeTx) Rollback(context.Context) error { return nil }

type fakeDB struct{}

func (fakeDB) Begin(context.Context) (pgx.Tx, error) { return fakeTx{}, nil }

type memIntents struct {
	mu       sync.Mutex
	intents  map[string]*models.PaymentIntent
	packages map[string]*models.CreditPackage
}

func newMemIntents() *memIntents {
	return &memIntents{
		intents: make(map[string]*models.PaymentIntent),
		packages: map[string]*models.CreditPackage{
			"standard": {ID: "standard", Credits: 1200, AmountMinor: 999, Currency: "usd"},
		},
	}
}

func (m *memIntents) Create(_ context.Context, pi *models.PaymentIntent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *pi
	m.intents[pi.ExternalID] = &cp
	return nil
}

func (m *memIntents) GetByExternalID(_ context.Context, externalID string) (*models.PaymentIntent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pi, ok := m.intents[externalID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *pi
	return &cp, nil
}

func (m *memIntents) UpdateStatusTx(_ context.Context, _ pgx.Tx, externalID, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	pi, ok := m.intents[externalID]
	if !ok {
		return pgx.ErrNoRows
	}
	pi.Status = status
	return nil
}

func (m *memIntents) GetPackage(_ context.Context, packageID string) (*models.CreditPackage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pkg, ok := m.packages[packageID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *pkg
	return &cp, nil
}

func (m *memIntents) status(externalID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.intents[externalID].Status
}

type memGuard struct {
	mu     sync.Mutex
	claims map[string]bool
}

func newMemGuard() *memGuard { return &memGuard{claims: make(map[string]bool)} }

func (m *memGuard) TryClaimTx(_ context.Context, _ pgx.Tx, eventKey string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.claims[eventKey] {
		return false, nil
	}
	m.claims[eventKey] = true
	return true, nil
}

type memLedger struct {
	mu       sync.Mutex
	balances map[uuid.UUID]int64
	entries  []*models.LedgerEntry
}

func newMemLedger() *memLedger { return &memLedger{balances: make(map[uuid.UUID]int64)} }

func (m *memLedger) CreditTx(_ context.Context, _ pgx.Tx, accountID uuid.UUID, amount int64, kind, referenceID string) (*models.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[accountID] += amount
	e := &models.LedgerEntry{AccountID: accountID, Kind: kind, Amount: amount, ReferenceID: referenceID}
	m.entries = append(m.entries, e)
	return e, nil
}

func (m *memLedger) DebitTx(_ context.Context, _ pgx.Tx, accountID uuid.UUID, amount int64, kind, referenceID string) (*models.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.balances[accountID] < amount {
		return nil, ledger.ErrInsufficientBalance
	}
	m.balances[accountID] -= amount
	e := &models.LedgerEntry{AccountID: accountID, Kind: kind, Amount: -amount, ReferenceID: referenceID}
	m.entries = append(m.entries, e)
	return e, nil
}

func (m *memLedger) BalanceTx(_ context.Context, _ pgx.Tx, accountID uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[accountID], nil
}

func (m *memLedger) balance(id uuid.UUID) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[id]
}

func (m *memLedger) countKind(kind string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.entries {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

type memRecon struct {
	mu   sync.Mutex
	rows []*models.ReconciliationFailure
}

func (m *memRecon) CreateTx(_ context.Context, _ pgx.Tx, f *models.ReconciliationFailure) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *f
	m.rows = append(m.rows, &cp)
	return nil
}

func (m *memRecon) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

type notifyRecorder struct {
	mu   sync.Mutex
	sent []notify.NotificationArgs
}

func (n *notifyRecorder) insert(_ context.Context, _ pgx.Tx, args notify.NotificationArgs) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, args)
	return nil
}

func (n *notifyRecorder) count(event string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, a := range n.sent {
		if a.Event == event {
			c++
		}
	}
	return c
}

// ---------------------------------------------------------------------------

type fixture struct {
	svc     *Service
	intents *memIntents
	ledger  *memLedger
	recon   *memRecon
	notes   *notifyRecorder
}

func newFixture() *fixture {
	intents := newMemIntents()
	led := newMemLedger()
	recon := &memRecon{}
	notes := &notifyRecorder{}
	gw := NewGateway("whsec_test", time.Minute)
	svc := NewService(fakeDB{}, gw, intents, newMemGuard(), led, recon, notes.insert, nil)
	return &fixture{svc: svc, intents: intents, ledger: led, recon: recon, notes: notes}
}

func (f *fixture) seedIntent(t *testing.T, accountID uuid.UUID) *models.PaymentIntent {
	t.Helper()
	pi, secret, err := f.svc.CreateIntent(context.Background(), accountID, "standard")
	if err != nil {
		t.Fatalf("CreateIntent: %v", err)
	}
	if secret == "" {
		t.Fatal("CreateIntent returned empty client secret")
	}
	return pi
}

func TestCreateIntent_UnknownPackage(t *testing.T) {
	f := newFixture()
	if _, _, err := f.svc.CreateIntent(context.Background(), uuid.New(), "platinum"); !errors.Is(err, ErrUnknownPackage) {
		t.Fatalf("got %v, want ErrUnknownPackage", err)
	}
}

func TestHandleEvent_TopUpCreditedOnce(t *testing.T) {
	f := newFixture()
	acc := uuid.New()
	pi := f.seedIntent(t, acc)
	ev := Event{ID: "evt_1", ExternalID: pi.ExternalID, Status: EventSucceeded}

	// The processor retries deliveries; every attempt must report success
	// and exactly one must move credits.
	for i := 0; i < 3; i++ {
		if err := f.svc.HandleEvent(context.Background(), ev); err != nil {
			t.Fatalf("delivery %d: %v", i+1, err)
		}
	}

	if got := f.ledger.balance(acc); got != pi.Credits {
		t.Errorf("balance: got %d, want %d", got, pi.Credits)
	}
	if n := f.ledger.countKind(models.EntryTopUp); n != 1 {
		t.Errorf("topup entries: got %d, want 1", n)
	}
	if got := f.intents.status(pi.ExternalID); got != models.IntentSucceeded {
		t.Errorf("intent status: got %q, want %q", got, models.IntentSucceeded)
	}
	if n := f.notes.count(notify.EventTopUpCredited); n != 1 {
		t.Errorf("notifications: got %d, want 1", n)
	}
}

func TestHandleEvent_UnknownIntent(t *testing.T) {
	f := newFixture()
	ev := Event{ID: "evt_x", ExternalID: "pi_missing", Status: EventSucceeded}
	if err := f.svc.HandleEvent(context.Background(), ev); !errors.Is(err, ErrUnknownIntent) {
		t.Fatalf("got %v, want ErrUnknownIntent", err)
	}
}

func TestHandleEvent_Failed(t *testing.T) {
	f := newFixture()
	acc := uuid.New()
	pi := f.seedIntent(t, acc)

	if err := f.svc.HandleEvent(context.Background(), Event{ExternalID: pi.ExternalID, Status: EventFailed}); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	if got := f.ledger.balance(acc); got != 0 {
		t.Errorf("balance: got %d, want 0", got)
	}
	if got := f.intents.status(pi.ExternalID); got != models.IntentFailed {
		t.Errorf("intent status: got %q, want %q", got, models.IntentFailed)
	}
}

func TestHandleEvent_RefundWithFullBalance(t *testing.T) {
	f := newFixture()
	acc := uuid.New()
	pi := f.seedIntent(t, acc)
	ctx := context.Background()

	if err := f.svc.HandleEvent(ctx, Event{ExternalID: pi.ExternalID, Status: EventSucceeded}); err != nil {
		t.Fatalf("topup: %v", err)
	}
	if err := f.svc.HandleEvent(ctx, Event{ExternalID: pi.ExternalID, Status: EventRefunded}); err != nil {
		t.Fatalf("refund: %v", err)
	}

	if got := f.ledger.balance(acc); got != 0 {
		t.Errorf("balance: got %d, want 0", got)
	}
	if got := f.intents.status(pi.ExternalID); got != models.IntentRefunded {
		t.Errorf("intent status: got %q, want %q", got, models.IntentRefunded)
	}
	if n := f.recon.count(); n != 0 {
		t.Errorf("reconciliation rows: got %d, want 0", n)
	}
}

// TestHandleEvent_RefundDeficit covers the already-spent case: the debit is
// not forced, the balance never goes negative, and the deficit lands on the
// reconciliation queue exactly once even when the refund is redelivered.
func TestHandleEvent_RefundDeficit(t *testing.T) {
	f := newFixture()
	acc := uuid.New()
	pi := f.seedIntent(t, acc)
	ctx := context.Background()

	if err := f.svc.HandleEvent(ctx, Event{ExternalID: pi.ExternalID, Status: EventSucceeded}); err != nil {
		t.Fatalf("topup: %v", err)
	}
	// The account spends most of the credits before the refund arrives.
	if _, err := f.ledger.DebitTx(ctx, nil, acc, pi.Credits-200, models.EntryPurchaseDebit, "ch_1"); err != nil {
		t.Fatalf("spend: %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := f.svc.HandleEvent(ctx, Event{ExternalID: pi.ExternalID, Status: EventRefunded}); err != nil {
			t.Fatalf("refund delivery %d: %v", i+1, err)
		}
	}

	if got := f.ledger.balance(acc); got != 200 {
		t.Errorf("balance: got %d, want 200 (no partial refund debit)", got)
	}
	if n := f.ledger.countKind(models.EntryRefund); n != 0 {
		t.Errorf("refund entries: got %d, want 0", n)
	}
	if n := f.recon.count(); n != 1 {
		t.Errorf("reconciliation rows: got %d, want 1", n)
	}
	if got := f.intents.status(pi.ExternalID); got != models.IntentRefunded {
		t.Errorf("intent status: got %q, want %q", got, models.IntentRefunded)
	}
}

// TestHandleEvent_RefundThenLateSuccess covers out-of-order delivery: the
// refund lands first, then the success event arrives late. The success claims
// a key of its own, so only the intent status keeps it from crediting a
// charge the processor has already settled.
func TestHandleEvent_RefundThenLateSuccess(t *testing.T) {
	f := newFixture()
	acc := uuid.New()
	pi := f.seedIntent(t, acc)
	ctx := context.Background()

	if err := f.svc.HandleEvent(ctx, Event{ExternalID: pi.ExternalID, Status: EventRefunded}); err != nil {
		t.Fatalf("refund: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := f.svc.HandleEvent(ctx, Event{ExternalID: pi.ExternalID, Status: EventSucceeded}); err != nil {
			t.Fatalf("late success delivery %d: %v", i+1, err)
		}
	}

	if got := f.ledger.balance(acc); got != 0 {
		t.Errorf("balance: got %d, want 0", got)
	}
	if n := f.ledger.countKind(models.EntryTopUp); n != 0 {
		t.Errorf("topup entries: got %d, want 0", n)
	}
	if n := f.ledger.countKind(models.EntryRefund); n != 0 {
		t.Errorf("refund entries: got %d, want 0", n)
	}
	if got := f.intents.status(pi.ExternalID); got != models.IntentRefunded {
		t.Errorf("intent status: got %q, want %q", got, models.IntentRefunded)
	}
	if n := f.recon.count(); n != 0 {
		t.Errorf("reconciliation rows: got %d, want 0", n)
	}
}

// TestHandleEvent_FailedAfterSuccess checks the other regression direction: a
// stray failed event must not demote a credited intent.
func TestHandleEvent_FailedAfterSuccess(t *testing.T) {
	f := newFixture()
	acc := uuid.New()
	pi := f.seedIntent(t, acc)
	ctx := context.Background()

	if err := f.svc.HandleEvent(ctx, Event{ExternalID: pi.ExternalID, Status: EventSucceeded}); err != nil {
		t.Fatalf("topup: %v", err)
	}
	if err := f.svc.HandleEvent(ctx, Event{ExternalID: pi.ExternalID, Status: EventFailed}); err != nil {
		t.Fatalf("failed event: %v", err)
	}

	if got := f.ledger.balance(acc); got != pi.Credits {
		t.Errorf("balance: got %d, want %d", got, pi.Credits)
	}
	if got := f.intents.status(pi.ExternalID); got != models.IntentSucceeded {
		t.Errorf("intent status: got %q, want %q", got, models.IntentSucceeded)
	}
	if n := f.notes.count(notify.EventTopUpFailed); n != 0 {
		t.Errorf("failure notifications: got %d, want 0", n)
	}
}
