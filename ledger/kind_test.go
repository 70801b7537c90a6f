package ledger_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snapsolpay/ledger-engine/ledger"
	"github.com/snapsolpay/ledger-engine/store/memory"
)

func TestKind_Validate(t *testing.T) {
	require.NoError(t, testKind.Validate())

	missing := testKind
	missing.Keys.Loans = ""
	assert.Error(t, missing.Validate())

	assert.Error(t, ledger.Kind{}.Validate())
}

func TestKind_StoredAccountField(t *testing.T) {
	assert.Equal(t, "accountId", testKind.StoredAccountField())

	pools := testKind
	pools.AccountField = "poolId"
	assert.Equal(t, "poolId", pools.StoredAccountField())
}

func TestOpenKind_RejectsInvalidKind(t *testing.T) {
	_, _, err := ledger.OpenKind(context.Background(), ledger.Kind{Name: "broken"}, memory.New(), nil)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
}
