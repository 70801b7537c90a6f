/*
Package pool declares the shared-pool account kind.

PURPOSE:
  A pool is a group wallet. Contacts deposit into it, pay bills out of
  it, and may borrow against their own share. The accounting rules are
  those of package ledger; this package only names the kind and its
  storage layout.

STORAGE KEYS:
  snapSolPay_pools               accounts
  snapSolPay_pool_contributions  deposit events
  snapSolPay_pool_transactions   audit log
  snapSolPay_pool_loans          loan events

  Event rows name their pool in a poolId field.

SEE ALSO:
  - collateral/: the same engine with a different layout
  - ledger/engine.go: the commands
*/
package pool

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/snapsolpay/ledger-engine/ledger"
)

// Kind is the pool account kind.
var Kind = ledger.Kind{
	Name: "pool",
	Noun: "pool",
	Keys: ledger.StorageKeys{
		Accounts:     "snapSolPay_pools",
		Deposits:     "snapSolPay_pool_contributions",
		Transactions: "snapSolPay_pool_transactions",
		Loans:        "snapSolPay_pool_loans",
	},
	AccountField: "poolId",
}

// Open loads the pool ledger from blobs and returns its engine together
// with the persister, which the caller flushes on shutdown.
func Open(ctx context.Context, blobs ledger.BlobStore, log logrus.FieldLogger, opts ...ledger.Option) (*ledger.Engine, *ledger.Persister, error) {
	return ledger.OpenKind(ctx, Kind, blobs, log, opts...)
}
