/*
store.go - The four ordered event collections

PURPOSE:
  Holds accounts, deposit events, loan events and transaction events in
  insertion order. No validation lives here: the Store is a dumb,
  mutation-observing data holder. The Engine decides what is allowed.

WRITES:
  All writes go through Apply(Batch). A batch is applied completely, then
  the registered OnChange callback receives a snapshot exactly once. This
  is the only observable side effect and is how the Persister is told to
  flush.

  Permitted mutations besides appends:
  - replacing an account (attaching the external address pair)
  - replacing a loan (recording a repayment)
  - removing an account together with every event referencing it

CONCURRENCY:
  Not safe for concurrent use. The Engine serialises all access.

SEE ALSO:
  - engine.go: builds batches
  - persist.go: OnChange target
*/
package ledger

import (
	"context"
	"slices"
)

// Snapshot is a copy of all four collections.
type Snapshot struct {
	Accounts     []Account
	Deposits     []DepositEvent
	Loans        []LoanEvent
	Transactions []TransactionEvent
}

// Empty reports whether the snapshot holds nothing at all.
func (s Snapshot) Empty() bool {
	return len(s.Accounts) == 0 && len(s.Deposits) == 0 && len(s.Loans) == 0 && len(s.Transactions) == 0
}

// Batch is a set of changes applied together.
type Batch struct {
	Accounts     []Account
	Deposits     []DepositEvent
	Loans        []LoanEvent
	Transactions []TransactionEvent

	// Replacements, matched by id. Unknown ids are ignored.
	AccountUpdates []Account
	LoanUpdates    []LoanEvent

	// Cascade-removes the account and every row that references it.
	RemoveAccount AccountID
}

func (b Batch) empty() bool {
	return len(b.Accounts) == 0 && len(b.Deposits) == 0 && len(b.Loans) == 0 &&
		len(b.Transactions) == 0 && len(b.AccountUpdates) == 0 && len(b.LoanUpdates) == 0 &&
		b.RemoveAccount == ""
}

// ChangeFunc observes every applied batch.
type ChangeFunc func(ctx context.Context, snap Snapshot) error

// =============================================================================
// STORE
// =============================================================================

type Store struct {
	accounts     []Account
	deposits     []DepositEvent
	loans        []LoanEvent
	transactions []TransactionEvent

	onChange ChangeFunc
}

func NewStore() *Store {
	return &Store{}
}

// OnChange registers the mutation callback. Pass nil to detach.
func (s *Store) OnChange(fn ChangeFunc) {
	s.onChange = fn
}

// Load replaces all collections without notifying the callback.
func (s *Store) Load(snap Snapshot) {
	s.accounts = slices.Clone(snap.Accounts)
	s.deposits = slices.Clone(snap.Deposits)
	s.loans = slices.Clone(snap.Loans)
	s.transactions = slices.Clone(snap.Transactions)
}

// Snapshot returns a copy of all collections.
func (s *Store) Snapshot() Snapshot {
	return Snapshot{
		Accounts:     slices.Clone(s.accounts),
		Deposits:     slices.Clone(s.deposits),
		Loans:        slices.Clone(s.loans),
		Transactions: slices.Clone(s.transactions),
	}
}

// Apply performs every change in b, then notifies the callback once.
// The returned error is the callback's; the changes stay applied.
func (s *Store) Apply(ctx context.Context, b Batch) error {
	if b.empty() {
		return nil
	}

	s.accounts = append(s.accounts, b.Accounts...)
	s.deposits = append(s.deposits, b.Deposits...)
	s.loans = append(s.loans, b.Loans...)
	s.transactions = append(s.transactions, b.Transactions...)

	for _, upd := range b.AccountUpdates {
		if i := slices.IndexFunc(s.accounts, func(a Account) bool { return a.ID == upd.ID }); i >= 0 {
			s.accounts[i] = upd
		}
	}
	for _, upd := range b.LoanUpdates {
		if i := slices.IndexFunc(s.loans, func(l LoanEvent) bool { return l.ID == upd.ID }); i >= 0 {
			s.loans[i] = upd
		}
	}

	if id := b.RemoveAccount; id != "" {
		s.accounts = slices.DeleteFunc(s.accounts, func(a Account) bool { return a.ID == id })
		s.deposits = slices.DeleteFunc(s.deposits, func(d DepositEvent) bool { return d.AccountID == id })
		s.loans = slices.DeleteFunc(s.loans, func(l LoanEvent) bool { return l.AccountID == id })
		s.transactions = slices.DeleteFunc(s.transactions, func(t TransactionEvent) bool { return t.AccountID == id })
	}

	if s.onChange == nil {
		return nil
	}
	return s.onChange(ctx, s.Snapshot())
}

// =============================================================================
// READS - Filter primitives, results are copies in insertion order
// =============================================================================

func (s *Store) Account(id AccountID) (Account, bool) {
	i := slices.IndexFunc(s.accounts, func(a Account) bool { return a.ID == id })
	if i < 0 {
		return Account{}, false
	}
	return s.accounts[i], true
}

func (s *Store) Loan(id LoanID) (LoanEvent, bool) {
	i := slices.IndexFunc(s.loans, func(l LoanEvent) bool { return l.ID == id })
	if i < 0 {
		return LoanEvent{}, false
	}
	return s.loans[i], true
}

func (s *Store) Accounts() []Account {
	return slices.Clone(s.accounts)
}

func (s *Store) Deposits(keep func(DepositEvent) bool) []DepositEvent {
	return filter(s.deposits, keep)
}

func (s *Store) Loans(keep func(LoanEvent) bool) []LoanEvent {
	return filter(s.loans, keep)
}

func (s *Store) Transactions(keep func(TransactionEvent) bool) []TransactionEvent {
	return filter(s.transactions, keep)
}

func filter[T any](rows []T, keep func(T) bool) []T {
	out := make([]T, 0, len(rows))
	for _, r := range rows {
		if keep == nil || keep(r) {
			out = append(out, r)
		}
	}
	return out
}

// =============================================================================
// PREDICATES
// =============================================================================

type accountScoped interface{ account() AccountID }

func (d DepositEvent) account() AccountID     { return d.AccountID }
func (l LoanEvent) account() AccountID        { return l.AccountID }
func (t TransactionEvent) account() AccountID { return t.AccountID }

func depositsOf(user UserID, account AccountID) func(DepositEvent) bool {
	return func(d DepositEvent) bool {
		return d.UserID == user && (account == "" || d.AccountID == account)
	}
}

func loansOf(user UserID, account AccountID) func(LoanEvent) bool {
	return func(l LoanEvent) bool {
		return l.UserID == user && (account == "" || l.AccountID == account)
	}
}

func inAccount[T accountScoped](id AccountID) func(T) bool {
	return func(r T) bool { return r.account() == id }
}
