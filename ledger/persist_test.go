package ledger_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snapsolpay/ledger-engine/ledger"
	"github.com/snapsolpay/ledger-engine/store/memory"
)

// =============================================================================
// ROUND TRIP
// =============================================================================

func TestPersister_ReopenRestoresState(t *testing.T) {
	// GIVEN: A ledger with a deposit, a loan and a partial repayment
	// WHEN: Opening a new engine over the same blobs
	// THEN: Every derived figure and the loan state survive

	ctx := context.Background()
	h := newHarness(t)
	trip := h.createAccount(t, "Trip")
	h.deposit(t, trip.ID, u1, "100.25")
	loan := h.borrow(t, trip.ID, u1, "60")
	_, err := h.engine.Repay(ctx, loan.ID, amt("20"))
	require.NoError(t, err)
	assert.False(t, h.persister.Dirty())

	reopened := openHarness(t, h.blobs)

	assertAmount(t, "60.25", reopened.accountBalance(t, trip.ID))
	credit, err := reopened.engine.UserAvailableCredit(u1.UserID, trip.ID)
	require.NoError(t, err)
	assertAmount(t, "60.25", credit)

	stored, err := reopened.engine.Loan(loan.ID)
	require.NoError(t, err)
	assert.False(t, stored.Repaid)
	assertAmount(t, "20", stored.RepaidSoFar())
	assert.True(t, stored.Timestamp.Equal(loan.Timestamp))

	txs, err := reopened.engine.AccountTransactions(trip.ID)
	require.NoError(t, err)
	assert.Len(t, txs, 3)
}

func TestPersister_BlobLayout(t *testing.T) {
	// GIVEN: One account, later one deposit
	// WHEN: Inspecting the stored blobs
	// THEN: Every collection is a JSON array, timestamps are epoch millis,
	//       amounts are numbers

	ctx := context.Background()
	h := newHarness(t)
	trip := h.createAccount(t, "Trip")

	assert.ElementsMatch(t, testKind.Keys.All(), h.blobs.Keys())

	loans, err := h.blobs.Get(ctx, testKind.Keys.Loans)
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(loans))

	data, err := h.blobs.Get(ctx, testKind.Keys.Accounts)
	require.NoError(t, err)
	var rows []map[string]any
	require.NoError(t, json.Unmarshal(data, &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, string(trip.ID), rows[0]["id"])
	assert.Equal(t, float64(trip.CreatedAt.Millis()), rows[0]["createdAt"])
	assert.NotContains(t, rows[0], "solanaAddress")

	h.deposit(t, trip.ID, u1, "12.5")
	data, err = h.blobs.Get(ctx, testKind.Keys.Deposits)
	require.NoError(t, err)
	rows = nil
	require.NoError(t, json.Unmarshal(data, &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, 12.5, rows[0]["amount"], "amounts are JSON numbers")
	assert.Equal(t, string(trip.ID), rows[0]["accountId"])
}

func TestPersister_CorruptBlobFailsOpen(t *testing.T) {
	ctx := context.Background()
	blobs := memory.New()
	require.NoError(t, blobs.Put(ctx, testKind.Keys.Deposits, []byte(`{not json`)))

	_, err := ledger.Open(ctx, testKind, ledger.NewPersister(blobs, testKind, nil))

	require.Error(t, err)
	assert.Contains(t, err.Error(), testKind.Keys.Deposits)
}

// =============================================================================
// FAILED WRITES
// =============================================================================

func TestPersister_FailedWriteKeepsStateAndRetries(t *testing.T) {
	// GIVEN: A store that starts refusing writes
	// WHEN: Depositing, then healing the store and flushing
	// THEN: The deposit takes effect in memory, reports PersistenceWriteFailed,
	//       and is written by Flush

	ctx := context.Background()
	h := newHarness(t)
	trip := h.createAccount(t, "Trip")
	h.blobs.FailWrites(errors.New("disk full"))

	dep, err := h.engine.Deposit(ctx, ledger.DepositInput{AccountID: trip.ID, User: u1, Amount: amt("100")})

	require.ErrorIs(t, err, ledger.ErrPersistenceWriteFailed)
	assert.Equal(t, ledger.ReasonPersistenceWriteFailed, ledger.ReasonOf(err))
	assert.Contains(t, err.Error(), "disk full")
	assert.NotContains(t, err.Error(), testKind.Keys.Accounts, "the batch failed, not the accounts blob")
	var perr *ledger.PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.Empty(t, perr.Key)
	assert.False(t, ledger.IsClientError(err))
	assertAmount(t, "100", dep.Amount)
	assertAmount(t, "100", h.accountBalance(t, trip.ID))
	assert.True(t, h.persister.Dirty())

	require.Error(t, h.persister.Flush(ctx))
	assert.True(t, h.persister.Dirty())

	h.blobs.FailWrites(nil)
	require.NoError(t, h.persister.Flush(ctx))
	assert.False(t, h.persister.Dirty())

	reopened := openHarness(t, h.blobs)
	assertAmount(t, "100", reopened.accountBalance(t, trip.ID))
}

func TestPersister_FlushWithoutPendingIsNoop(t *testing.T) {
	blobs := memory.New()
	p := ledger.NewPersister(blobs, testKind, nil)

	require.NoError(t, p.Flush(context.Background()))
	assert.Empty(t, blobs.Keys())
}

// =============================================================================
// LEGACY MIGRATION
// =============================================================================

var legacyKind = ledger.Kind{
	Name: "legacy-test",
	Noun: "collateral account",
	Keys: ledger.StorageKeys{
		Accounts:     "new_accounts",
		Deposits:     "new_deposits",
		Transactions: "new_transactions",
		Loans:        "new_loans",
	},
	Legacy: &ledger.LegacyLayout{
		Keys: ledger.StorageKeys{
			Accounts:     "old_pools",
			Deposits:     "old_pool_contributions",
			Transactions: "old_pool_transactions",
			Loans:        "old_pool_loans",
		},
		AccountField: "poolId",
	},
	AccountField: "collateralId",
}

func seedLegacy(t *testing.T, blobs *memory.Blobs) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, blobs.PutBatch(ctx, map[string][]byte{
		"old_pools": []byte(`[{"id":"p1","name":"Old","createdAt":1700000000000,"ownerId":"U1","ownerName":"Alice","ownerAvatar":""}]`),
		"old_pool_contributions": []byte(`[{"id":"d1","poolId":"p1","userId":"U1","userName":"Alice","userAvatar":"","amount":100,"timestamp":1700000000000}]`),
		"old_pool_loans":         []byte(`[{"id":"l1","poolId":"p1","userId":"U1","userName":"Alice","userAvatar":"","amount":30,"timestamp":1700000000001,"repaid":false}]`),
		"old_pool_transactions":  []byte(`[{"id":"t1","poolId":"p1","type":"deposit","userId":"U1","userName":"Alice","userAvatar":"","amount":100,"timestamp":1700000000000,"description":"Deposit to pool"}]`),
	}))
}

func TestPersister_MigratesLegacyLayout(t *testing.T) {
	// GIVEN: Only the legacy keys hold data
	// WHEN: Opening the ledger
	// THEN: Rows are copied to the current keys with poolId renamed

	ctx := context.Background()
	blobs := memory.New()
	seedLegacy(t, blobs)

	e, err := ledger.Open(ctx, legacyKind, ledger.NewPersister(blobs, legacyKind, nil))
	require.NoError(t, err)

	balance, err := e.AccountBalance("p1")
	require.NoError(t, err)
	assertAmount(t, "70", balance)
	credit, err := e.UserAvailableCredit("U1", "p1")
	require.NoError(t, err)
	assertAmount(t, "70", credit)

	deposits, err := e.AccountDeposits("p1")
	require.NoError(t, err)
	require.Len(t, deposits, 1)
	assert.False(t, deposits[0].IsRepayment())

	migrated, err := blobs.Get(ctx, "new_deposits")
	require.NoError(t, err)
	assert.Contains(t, string(migrated), `"collateralId":"p1"`)
	assert.NotContains(t, string(migrated), "poolId")

	legacy, err := blobs.Get(ctx, "old_pool_contributions")
	require.NoError(t, err)
	assert.Contains(t, string(legacy), "poolId")
}

func TestPersister_LegacyIgnoredOnceCurrentExists(t *testing.T) {
	// GIVEN: A migrated ledger whose legacy keys later change
	// WHEN: Reopening
	// THEN: The legacy keys are not read again

	ctx := context.Background()
	blobs := memory.New()
	seedLegacy(t, blobs)
	_, err := ledger.Open(ctx, legacyKind, ledger.NewPersister(blobs, legacyKind, nil))
	require.NoError(t, err)

	require.NoError(t, blobs.Put(ctx, "old_pools", []byte(`[]`)))

	e, err := ledger.Open(ctx, legacyKind, ledger.NewPersister(blobs, legacyKind, nil))
	require.NoError(t, err)
	assert.Len(t, e.Accounts(), 1)
}
