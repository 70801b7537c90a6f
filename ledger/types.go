/*
Package ledger provides the accounting core shared by pools and collateral accounts.

PURPOSE:
  A small in-memory accounting engine. Deposits, withdrawals, payments,
  loans and repayments are recorded as events; balances, credit limits and
  withdrawable amounts are derived from those events on demand. Nothing
  in this package knows about bill images, wallets or the chain that
  actually moves value. It consumes amount transfer requests and balance
  queries and emits ledger entries.

KEY CONCEPTS IN THIS FILE (types.go):
  - Identity: who acted (user id, display name, avatar)
  - Account: a named bucket of pooled or collateralised funds
  - DepositEvent: a signed movement of contributed capital
  - LoanEvent: a borrowing against the borrower's own contribution
  - TransactionEvent: audit-log row, never read by the calculator

SIGNED DEPOSITS:
  Withdrawals and payments are negative DepositEvents, so summing an
  account's DepositEvents always yields its net contributed capital.
  Repayments are positive DepositEvents tagged SourceRepayment: they
  restore capital that a loan disbursement took out of the account.

PRECISION:
  All amounts are decimal.Decimal. Sums over hundreds of small payments
  must not drift.

SEE ALSO:
  - store.go: the append-only collections
  - balance.go: derived quantities
  - engine.go: command validation and application
  - persist.go: JSON blobs in a key-value store
*/
package ledger

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type AccountID string
type UserID string
type EventID string
type LoanID string

// Identity is the acting user as the UI knows them.
type Identity struct {
	UserID UserID `json:"userId"`
	Name   string `json:"userName"`
	Avatar string `json:"userAvatar"`
}

// =============================================================================
// ACCOUNT
// =============================================================================

// Account is a named accounting bucket.
//
// The id never changes. The only mutation after creation is attaching the
// external settlement address pair.
type Account struct {
	ID          AccountID `json:"id"`
	Name        string    `json:"name"`
	CreatedAt   Timestamp `json:"createdAt"`
	OwnerID     UserID    `json:"ownerId"`
	OwnerName   string    `json:"ownerName"`
	OwnerAvatar string    `json:"ownerAvatar"`
	Description string    `json:"description,omitempty"`

	// Opaque handles returned by the external settlement layer.
	ExternalAddress  string `json:"solanaAddress,omitempty"`
	SecondaryAddress string `json:"tokenAccount,omitempty"`
}

// Owner returns the account owner as an Identity.
func (a Account) Owner() Identity {
	return Identity{UserID: a.OwnerID, Name: a.OwnerName, Avatar: a.OwnerAvatar}
}

// HasExternalAddress reports whether the account was provisioned externally.
func (a Account) HasExternalAddress() bool {
	return a.ExternalAddress != "" && a.SecondaryAddress != ""
}

// =============================================================================
// DEPOSIT EVENT - Signed contributed-capital row
// =============================================================================

type DepositSource string

const (
	SourceContribution DepositSource = "contribution"
	SourceWithdrawal   DepositSource = "withdrawal"
	SourcePayment      DepositSource = "payment"
	SourceRepayment    DepositSource = "repayment" // restores capital a loan took out
)

type DepositEvent struct {
	ID        EventID   `json:"id"`
	AccountID AccountID `json:"accountId"`
	Identity
	WalletAddress string          `json:"walletAddress,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	Source        DepositSource   `json:"source,omitempty"`
	Timestamp     Timestamp       `json:"timestamp"`
}

// IsRepayment reports whether the row restores loan capital rather than
// recording the user's own contribution. Rows without a source predate the
// tag and count as contributions.
func (d DepositEvent) IsRepayment() bool {
	return d.Source == SourceRepayment
}

// =============================================================================
// LOAN EVENT
// =============================================================================

type LoanEvent struct {
	ID        LoanID    `json:"id"`
	AccountID AccountID `json:"accountId"`
	Identity
	Principal decimal.Decimal `json:"amount"`
	Timestamp Timestamp       `json:"timestamp"`
	Repaid    bool            `json:"repaid"`

	// Cumulative amount repaid so far; nil until the first repayment.
	RepaidAmount *decimal.Decimal `json:"repaidAmount,omitempty"`
	RepaidAt     *Timestamp       `json:"repaidTimestamp,omitempty"`
}

// Repaid so far, zero when nothing was repaid.
func (l LoanEvent) RepaidSoFar() decimal.Decimal {
	if l.RepaidAmount == nil {
		return decimal.Zero
	}
	return *l.RepaidAmount
}

// Outstanding is the part of the principal still owed.
func (l LoanEvent) Outstanding() decimal.Decimal {
	if l.Repaid {
		return decimal.Zero
	}
	out := l.Principal.Sub(l.RepaidSoFar())
	if out.IsNegative() {
		return decimal.Zero
	}
	return out
}

// =============================================================================
// TRANSACTION EVENT - Audit log
// =============================================================================

type TransactionType string

const (
	TxDeposit    TransactionType = "deposit"
	TxWithdrawal TransactionType = "withdrawal"
	TxPayment    TransactionType = "payment"
	TxLoan       TransactionType = "loan"
	TxRepayment  TransactionType = "repayment"
)

// TransactionEvent is display history only. Exactly one is appended per
// successful mutating money command.
type TransactionEvent struct {
	ID        EventID         `json:"id"`
	AccountID AccountID       `json:"accountId"`
	Type      TransactionType `json:"type"`
	Identity
	Amount        decimal.Decimal `json:"amount"`
	Timestamp     Timestamp       `json:"timestamp"`
	Description   string          `json:"description"`
	BillReference string          `json:"billReference,omitempty"`
}

// =============================================================================
// DERIVED VIEWS
// =============================================================================

// MemberPosition is one user's standing inside an account.
type MemberPosition struct {
	Identity
	Balance      decimal.Decimal `json:"balance"`
	Withdrawable decimal.Decimal `json:"withdrawable"`
	Credit       decimal.Decimal `json:"availableCredit"`
	Outstanding  decimal.Decimal `json:"outstanding"`
}

// AccountSummary is what the account detail screen shows.
type AccountSummary struct {
	Account     Account          `json:"account"`
	Balance     decimal.Decimal  `json:"balance"`
	Outstanding decimal.Decimal  `json:"outstanding"`
	Members     []MemberPosition `json:"members"`
}
