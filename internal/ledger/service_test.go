package ledger

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/noveletta/backend/internal/models"
)

// ---------------------------------------------------------------------------
// In-memory Store so the service logic is testable without a database.
// ---------------------------------------------------------------------------

type memStore struct {
	mu       sync.Mutex
	balances map[uuid.UUID]int64
	entries  []*models.LedgerEntry
}

func newMemStore(seed map[uuid.UUID]int64) *memStore {
	balances := make(map[uuid.UUID]int64, len(seed))
	for id, b := range seed {
		balances[id] = b
	}
	return &memStore{balances: balances}
}

func (m *memStore) BalanceForUpdate(_ context.Context, _ pgx.Tx, id uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.balances[id]
	if !ok {
		return 0, fmt.Errorf("account %s not found", id)
	}
	return b, nil
}

func (m *memStore) AddBalance(_ context.Context, _ pgx.Tx, id uuid.UUID, amount int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[id] += amount
	return m.balances[id], nil
}

func (m *memStore) SubtractBalance(_ context.Context, _ pgx.Tx, id uuid.UUID, amount int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.balances[id] < amount {
		return 0, ErrInsufficientBalance
	}
	m.balances[id] -= amount
	return m.balances[id], nil
}

func (m *memStore) InsertEntry(_ context.Context, _ pgx.Tx, e *models.LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *e
	m.entries = append(m.entries, &cp)
	return nil
}

func (m *memStore) balance(id uuid.UUID) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[id]
}

func (m *memStore) entriesFor(id uuid.UUID) []*models.LedgerEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.LedgerEntry
	for _, e := range m.entries {
		if e.AccountID == id {
			out = append(out, e)
		}
	}
	return out
}

// ---------------------------------------------------------------------------

func TestCreditTx(t *testing.T) {
	acc := uuid.New()
	store := newMemStore(map[uuid.UUID]int64{acc: 100})
	svc := NewService(store, nil)
	ctx := context.Background()

	entry, err := svc.CreditTx(ctx, nil, acc, 50, models.EntryTopUp, "pi_1")
	if err != nil {
		t.Fatalf("CreditTx: %v", err)
	}
	if entry.Amount != 50 || entry.BalanceBefore != 100 || entry.BalanceAfter != 150 {
		t.Errorf("entry = %+v, want amount 50, before 100, after 150", entry)
	}
	if got := store.balance(acc); got != 150 {
		t.Errorf("balance: got %d, want 150", got)
	}

	if _, err := svc.CreditTx(ctx, nil, acc, 0, models.EntryTopUp, "pi_2"); err != ErrInvalidAmount {
		t.Errorf("zero amount: got %v, want ErrInvalidAmount", err)
	}
	if _, err := svc.CreditTx(ctx, nil, acc, -5, models.EntryTopUp, "pi_3"); err != ErrInvalidAmount {
		t.Errorf("negative amount: got %v, want ErrInvalidAmount", err)
	}
}

func TestDebitTx_InsufficientBalance(t *testing.T) {
	acc := uuid.New()
	store := newMemStore(map[uuid.UUID]int64{acc: 30})
	svc := NewService(store, nil)
	ctx := context.Background()

	if _, err := svc.DebitTx(ctx, nil, acc, 31, models.EntryWithdrawalDebit, "wr_1"); err != ErrInsufficientBalance {
		t.Fatalf("got %v, want ErrInsufficientBalance", err)
	}
	// No partial debit, no entry.
	if got := store.balance(acc); got != 30 {
		t.Errorf("balance mutated on failed debit: got %d, want 30", got)
	}
	if n := len(store.entriesFor(acc)); n != 0 {
		t.Errorf("entries written on failed debit: got %d, want 0", n)
	}

	entry, err := svc.DebitTx(ctx, nil, acc, 30, models.EntryWithdrawalDebit, "wr_2")
	if err != nil {
		t.Fatalf("DebitTx: %v", err)
	}
	if entry.Amount != -30 || entry.BalanceAfter != 0 {
		t.Errorf("entry = %+v, want amount -30, after 0", entry)
	}
}

func TestTransferTx_Atomic(t *testing.T) {
	reader := uuid.New()
	author := uuid.New()
	store := newMemStore(map[uuid.UUID]int64{reader: 200, author: 10})
	svc := NewService(store, nil)
	ctx := context.Background()

	debit, credit, err := svc.TransferTx(ctx, nil, reader, author, 200, models.EntryPurchaseDebit, models.EntryPurchaseCredit, "ch_1")
	if err != nil {
		t.Fatalf("TransferTx: %v", err)
	}
	if debit.Amount != -200 || credit.Amount != 200 {
		t.Errorf("amounts: debit %d, credit %d", debit.Amount, credit.Amount)
	}
	if store.balance(reader) != 0 || store.balance(author) != 210 {
		t.Errorf("balances: reader %d, author %d", store.balance(reader), store.balance(author))
	}

	// Failed transfer leaves both sides untouched and writes nothing.
	before := len(store.entries)
	if _, _, err := svc.TransferTx(ctx, nil, reader, author, 1, models.EntryPurchaseDebit, models.EntryPurchaseCredit, "ch_2"); err != ErrInsufficientBalance {
		t.Fatalf("got %v, want ErrInsufficientBalance", err)
	}
	if store.balance(reader) != 0 || store.balance(author) != 210 {
		t.Errorf("balances changed on failed transfer")
	}
	if len(store.entries) != before {
		t.Errorf("entries written on failed transfer")
	}
}

// TestReplayConsistency checks that summing an account's signed entry amounts
// from zero reproduces its balance after a mixed sequence of operations.
func TestReplayConsistency(t *testing.T) {
	reader := uuid.New()
	author := uuid.New()
	store := newMemStore(map[uuid.UUID]int64{reader: 0, author: 0})
	svc := NewService(store, nil)
	ctx := context.Background()

	mustOK := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	_, err := svc.CreditTx(ctx, nil, reader, 1000, models.EntryTopUp, "pi_1")
	mustOK(err)
	_, _, err = svc.TransferTx(ctx, nil, reader, author, 300, models.EntryPurchaseDebit, models.EntryPurchaseCredit, "ch_1")
	mustOK(err)
	_, err = svc.DebitTx(ctx, nil, reader, 400, models.EntryWithdrawalDebit, "wr_1")
	mustOK(err)
	_, err = svc.CreditTx(ctx, nil, reader, 400, models.EntryWithdrawalRefund, "wr_1")
	mustOK(err)

	for _, id := range []uuid.UUID{reader, author} {
		var sum int64
		var prev int64
		for _, e := range store.entriesFor(id) {
			if e.BalanceBefore != prev {
				t.Errorf("account %s: entry balance_before %d != previous balance_after %d", id, e.BalanceBefore, prev)
			}
			sum += e.Amount
			prev = e.BalanceAfter
		}
		if got := store.balance(id); got != sum {
			t.Errorf("account %s: entry sum %d != balance %d", id, sum, got)
		}
	}
}

func lockOrderIsStable(a, b uuid.UUID) bool {
	x := lockOrder(a, b)
	y := lockOrder(b, a)
	return x[0] == y[0] && x[1] == y[1]
}

func TestLockOrder(t *testing.T) {
	for i := 0; i < 100; i++ {
		a, b := uuid.New(), uuid.New()
		if !lockOrderIsStable(a, b) {
			t.Fatalf("lock order differs for (%s, %s)", a, b)
		}
	}
}
