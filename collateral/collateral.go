/*
Package collateral declares the collateral account kind.

PURPOSE:
  A collateral account holds deposits that secure loans taken by the
  depositors themselves. Same accounting as a pool (package ledger),
  different storage keys and wording.

LEGACY LAYOUT:
  Early builds stored this data under solSNAP_pool* keys with a poolId
  field on every event row. When the current keys are empty and the old
  ones exist, the old data is copied across once on startup with poolId
  renamed to collateralId.

SEE ALSO:
  - pool/: the pool kind
  - ledger/persist.go: the migration itself
*/
package collateral

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/snapsolpay/ledger-engine/ledger"
)

var Kind = ledger.Kind{
	Name: "collateral",
	Noun: "collateral account",
	Keys: ledger.StorageKeys{
		Accounts:     "snapSolPay_collaterals",
		Deposits:     "snapSolPay_collateral_deposits",
		Transactions: "snapSolPay_collateral_transactions",
		Loans:        "snapSolPay_collateral_loans",
	},
	Legacy: &ledger.LegacyLayout{
		Keys: ledger.StorageKeys{
			Accounts:     "solSNAP_pools",
			Deposits:     "solSNAP_pool_contributions",
			Transactions: "solSNAP_pool_transactions",
			Loans:        "solSNAP_pool_loans",
		},
		AccountField: "poolId",
	},
	AccountField: "collateralId",
}

// Open loads the collateral ledger, migrating the legacy layout if needed.
func Open(ctx context.Context, blobs ledger.BlobStore, log logrus.FieldLogger, opts ...ledger.Option) (*ledger.Engine, *ledger.Persister, error) {
	return ledger.OpenKind(ctx, Kind, blobs, log, opts...)
}
