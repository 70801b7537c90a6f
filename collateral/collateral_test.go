package collateral_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snapsolpay/ledger-engine/collateral"
	"github.com/snapsolpay/ledger-engine/ledger"
	"github.com/snapsolpay/ledger-engine/pool"
	"github.com/snapsolpay/ledger-engine/store/memory"
)

func TestOpen_MigratesSolSNAPLayout(t *testing.T) {
	// GIVEN: Data saved by an early build under solSNAP_pool* keys
	// WHEN: Opening the collateral ledger
	// THEN: The account and its loan are available under the new layout

	ctx := context.Background()
	blobs := memory.New()
	require.NoError(t, blobs.PutBatch(ctx, map[string][]byte{
		"solSNAP_pools":              []byte(`[{"id":"c1","name":"Bike","createdAt":1700000000000,"ownerId":"U1","ownerName":"Alice","ownerAvatar":""}]`),
		"solSNAP_pool_contributions": []byte(`[{"id":"d1","poolId":"c1","userId":"U1","userName":"Alice","userAvatar":"","amount":"200","timestamp":1700000000000}]`),
		"solSNAP_pool_loans":         []byte(`[{"id":"l1","poolId":"c1","userId":"U1","userName":"Alice","userAvatar":"","amount":"150","timestamp":1700000000500,"repaid":false}]`),
	}))

	engine, _, err := collateral.Open(ctx, blobs, nil)
	require.NoError(t, err)

	loan, err := engine.Loan("l1")
	require.NoError(t, err)
	assert.Equal(t, ledger.AccountID("c1"), loan.AccountID)

	credit, err := engine.UserAvailableCredit("U1", "c1")
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(50).Equal(credit), credit.String())

	for _, key := range []string{"snapSolPay_collaterals", "snapSolPay_collateral_deposits", "snapSolPay_collateral_loans"} {
		_, err := blobs.Get(ctx, key)
		assert.NoError(t, err, key)
	}
	_, err = blobs.Get(ctx, "snapSolPay_collateral_transactions")
	assert.ErrorIs(t, err, ledger.ErrBlobNotFound, "absent legacy key is not invented")

	migrated, err := blobs.Get(ctx, "snapSolPay_collateral_loans")
	require.NoError(t, err)
	assert.Contains(t, string(migrated), `"collateralId":"c1"`)
	assert.NotContains(t, string(migrated), "poolId")
}

func TestOpen_ReadsRowsWrittenByWebClient(t *testing.T) {
	// GIVEN: Collateral rows as the web client stores them
	// WHEN: Opening the ledger and depositing
	// THEN: The stored balance counts and the rewritten blob keeps collateralId

	ctx := context.Background()
	blobs := memory.New()
	require.NoError(t, blobs.PutBatch(ctx, map[string][]byte{
		"snapSolPay_collaterals":         []byte(`[{"id":"c1","name":"Bike","createdAt":1700000000000,"ownerId":"U1","ownerName":"Alice","ownerAvatar":""}]`),
		"snapSolPay_collateral_deposits": []byte(`[{"id":"d1","collateralId":"c1","userId":"U1","userName":"Alice","userAvatar":"","walletAddress":"","amount":100,"timestamp":1700000000000}]`),
	}))

	engine, _, err := collateral.Open(ctx, blobs, nil, ledger.WithIDs(func() string { return "d2" }))
	require.NoError(t, err)

	balance, err := engine.AccountBalance("c1")
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(100).Equal(balance), balance.String())

	alice := ledger.Identity{UserID: "U1", Name: "Alice"}
	_, err = engine.Deposit(ctx, ledger.DepositInput{AccountID: "c1", User: alice, Amount: decimal.NewFromInt(5)})
	require.NoError(t, err)

	data, err := blobs.Get(ctx, "snapSolPay_collateral_deposits")
	require.NoError(t, err)
	var rows []map[string]any
	require.NoError(t, json.Unmarshal(data, &rows))
	require.Len(t, rows, 2)
	for _, row := range rows {
		assert.Equal(t, "c1", row["collateralId"])
		assert.NotContains(t, row, "accountId")
	}
	assert.Equal(t, float64(100), rows[0]["amount"])
	assert.Equal(t, float64(5), rows[1]["amount"])

	reopened, _, err := collateral.Open(ctx, blobs, nil)
	require.NoError(t, err)
	balance, err = reopened.AccountBalance("c1")
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(105).Equal(balance), balance.String())
}

func TestOpen_SharesStoreWithPools(t *testing.T) {
	// GIVEN: Pool and collateral ledgers over one blob store
	// WHEN: Writing to the collateral ledger
	// THEN: The pool ledger does not see it and wording follows the kind

	ctx := context.Background()
	blobs := memory.New()
	pools, _, err := pool.Open(ctx, blobs, nil)
	require.NoError(t, err)
	collaterals, _, err := collateral.Open(ctx, blobs, nil)
	require.NoError(t, err)

	alice := ledger.Identity{UserID: "U1", Name: "Alice"}
	acc, err := collaterals.CreateAccount(ctx, ledger.CreateAccountInput{Name: "Bike", Owner: alice})
	require.NoError(t, err)
	_, err = collaterals.Deposit(ctx, ledger.DepositInput{AccountID: acc.ID, User: alice, Amount: decimal.NewFromInt(10)})
	require.NoError(t, err)

	assert.Empty(t, pools.Accounts())
	_, err = pools.AccountBalance(acc.ID)
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)

	txs, err := collaterals.AccountTransactions(acc.ID)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, "Deposit to collateral account", txs[0].Description)
	assert.Equal(t, "collateral", collaterals.Kind().Name)
}
