package ledger_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snapsolpay/ledger-engine/ledger"
	"github.com/snapsolpay/ledger-engine/store/memory"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var testKind = ledger.Kind{
	Name: "test",
	Noun: "pool",
	Keys: ledger.StorageKeys{
		Accounts:     "test_accounts",
		Deposits:     "test_deposits",
		Transactions: "test_transactions",
		Loans:        "test_loans",
	},
}

var (
	u1 = ledger.Identity{UserID: "U1", Name: "Alice", Avatar: "a.png"}
	u2 = ledger.Identity{UserID: "U2", Name: "Bob"}
)

// sequentialIDs hands out id-1, id-2, ... safely across goroutines.
func sequentialIDs() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("id-%d", n)
	}
}

func fixedClock() ledger.Clock {
	t0 := time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC)
	return func() time.Time { return t0 }
}

type harness struct {
	engine    *ledger.Engine
	persister *ledger.Persister
	blobs     *memory.Blobs
}

func newHarness(t *testing.T, opts ...ledger.Option) *harness {
	t.Helper()
	return openHarness(t, memory.New(), opts...)
}

func openHarness(t *testing.T, blobs *memory.Blobs, opts ...ledger.Option) *harness {
	t.Helper()
	p := ledger.NewPersister(blobs, testKind, nil)
	base := []ledger.Option{ledger.WithClock(fixedClock()), ledger.WithIDs(sequentialIDs())}
	e, err := ledger.Open(context.Background(), testKind, p, append(base, opts...)...)
	require.NoError(t, err)
	return &harness{engine: e, persister: p, blobs: blobs}
}

func amt(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertAmount(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, amt(want).Equal(got), "want %s, got %s", want, got.String())
}

func (h *harness) createAccount(t *testing.T, name string) ledger.Account {
	t.Helper()
	acc, err := h.engine.CreateAccount(context.Background(), ledger.CreateAccountInput{Name: name, Owner: u1})
	require.NoError(t, err)
	return acc
}

func (h *harness) deposit(t *testing.T, id ledger.AccountID, who ledger.Identity, amount string) ledger.DepositEvent {
	t.Helper()
	dep, err := h.engine.Deposit(context.Background(), ledger.DepositInput{AccountID: id, User: who, Amount: amt(amount)})
	require.NoError(t, err)
	return dep
}

func (h *harness) borrow(t *testing.T, id ledger.AccountID, who ledger.Identity, amount string) ledger.LoanEvent {
	t.Helper()
	loan, err := h.engine.Borrow(context.Background(), ledger.BorrowInput{AccountID: id, User: who, Amount: amt(amount)})
	require.NoError(t, err)
	return loan
}

func (h *harness) accountBalance(t *testing.T, id ledger.AccountID) decimal.Decimal {
	t.Helper()
	b, err := h.engine.AccountBalance(id)
	require.NoError(t, err)
	return b
}

// recordingObserver counts command outcomes.
type recordingObserver struct {
	mu       sync.Mutex
	applied  []string
	rejected []ledger.Reason
}

func (o *recordingObserver) CommandApplied(kind, command string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.applied = append(o.applied, command)
}

func (o *recordingObserver) CommandRejected(kind, command string, reason ledger.Reason) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.rejected = append(o.rejected, reason)
}
