package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snapsolpay/ledger-engine/ledger"
	"github.com/snapsolpay/ledger-engine/pool"
	"github.com/snapsolpay/ledger-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

// =============================================================================
// BLOB STORE TESTS
// =============================================================================

func TestStore_GetMissingKey(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Get(context.Background(), "nope")

	assert.ErrorIs(t, err, ledger.ErrBlobNotFound)
}

func TestStore_PutBatchUpserts(t *testing.T) {
	// GIVEN: A key written once
	// WHEN: Writing it again together with a new key
	// THEN: The latest value wins and both keys are listed

	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.PutBatch(ctx, map[string][]byte{"a": []byte(`[1]`)}))
	require.NoError(t, store.PutBatch(ctx, map[string][]byte{"a": []byte(`[2]`), "b": []byte(`[]`)}))

	got, err := store.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, `[2]`, string(got))

	keys, err := store.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, keys)

	require.NoError(t, store.Reset(ctx))
	keys, err = store.Keys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestStore_LedgerSurvivesRestart(t *testing.T) {
	// GIVEN: A pool ledger on a database file
	// WHEN: Closing and reopening the file
	// THEN: The pool and its balance are restored

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ledger.db")

	store, err := sqlite.New(path)
	require.NoError(t, err)
	engine, _, err := pool.Open(ctx, store, nil)
	require.NoError(t, err)

	alice := ledger.Identity{UserID: "U1", Name: "Alice"}
	acc, err := engine.CreateAccount(ctx, ledger.CreateAccountInput{Name: "Trip", Owner: alice})
	require.NoError(t, err)
	_, err = engine.Deposit(ctx, ledger.DepositInput{AccountID: acc.ID, User: alice, Amount: decimal.RequireFromString("42.50")})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened, err := sqlite.New(path)
	require.NoError(t, err)
	t.Cleanup(func() { reopened.Close() })
	engine, _, err = pool.Open(ctx, reopened, nil)
	require.NoError(t, err)

	balance, err := engine.AccountBalance(acc.ID)
	require.NoError(t, err)
	assert.Equal(t, "42.5", balance.String())
}
