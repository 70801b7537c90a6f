package ledger

import "fmt"

// =============================================================================
// ACCOUNT KIND - What flavour of bucket an engine manages
// =============================================================================

// Kind parameterises an Engine. Pools and collateral accounts follow the same
// accounting rules; they differ only in where their blobs live and in the
// wording of audit entries.
//
// Domain packages declare their kind and open it with OpenKind:
//
//	// In pool/pool.go
//	var Kind = ledger.Kind{Name: "pool", Noun: "pool", AccountField: "poolId", Keys: ...}
type Kind struct {
	// Name is the stable identifier used in URLs and log fields.
	Name string

	// Noun is used in generated descriptions ("Deposit to pool").
	Noun string

	// Keys are the blob keys of the current layout.
	Keys StorageKeys

	// AccountField is the JSON field carrying the account id on stored
	// event rows ("poolId", "collateralId"). Empty means "accountId".
	AccountField string

	// Legacy, when set, is copied into Keys once if Keys holds no accounts.
	Legacy *LegacyLayout
}

// StorageKeys names one blob per collection.
type StorageKeys struct {
	Accounts     string
	Deposits     string
	Transactions string
	Loans        string
}

// All returns the keys in save order.
func (k StorageKeys) All() []string {
	return []string{k.Accounts, k.Deposits, k.Transactions, k.Loans}
}

// LegacyLayout describes an older blob layout.
type LegacyLayout struct {
	Keys StorageKeys

	// AccountField is the JSON field that held the account id on event
	// rows (e.g. "poolId"). It is renamed to the kind's field on copy.
	AccountField string
}

// StoredAccountField is the account id field name used in blobs.
func (k Kind) StoredAccountField() string {
	if k.AccountField == "" {
		return accountIDField
	}
	return k.AccountField
}

const accountIDField = "accountId"

func (k Kind) Validate() error {
	if k.Name == "" {
		return fmt.Errorf("kind: name is required")
	}
	for _, key := range k.Keys.All() {
		if key == "" {
			return fmt.Errorf("kind %s: every storage key is required", k.Name)
		}
	}
	return nil
}
