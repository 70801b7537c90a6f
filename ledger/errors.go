/*
errors.go - Error kinds returned by ledger commands

PURPOSE:
  Every rejected command returns one of the sentinel errors below, usually
  wrapped in a structured error carrying the numbers that caused the
  rejection. Callers branch with errors.Is and display Message(err).

ERROR CATEGORIES:
  1. Input errors    - InvalidAmount, EmptyName, EmptyAddress
  2. Lookup errors   - AccountNotFound, LoanNotFound
  3. Limit errors    - ExceedsWithdrawable, InsufficientUserBalance,
                       InsufficientAccountFunds, ExceedsCredit, ExceedsPrincipal
  4. State errors    - AlreadyRepaid, ActiveLoansExist
  5. Storage errors  - PersistenceWriteFailed

ATOMICITY:
  Categories 1-4 are detected before anything is appended: the store is
  unchanged. PersistenceWriteFailed happens after the in-memory mutation
  took effect and is returned alongside the command's result.

SEE ALSO:
  - engine.go: where these are raised
  - api/handlers.go: HTTP status mapping
*/
package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrInvalidAmount            = errors.New("amount must be greater than zero")
	ErrAccountNotFound          = errors.New("account not found")
	ErrLoanNotFound             = errors.New("loan not found")
	ErrExceedsWithdrawable      = errors.New("amount exceeds withdrawable balance")
	ErrInsufficientUserBalance  = errors.New("insufficient user balance")
	ErrInsufficientAccountFunds = errors.New("insufficient account funds")
	ErrExceedsCredit            = errors.New("amount exceeds available credit")
	ErrExceedsPrincipal         = errors.New("repayment exceeds outstanding principal")
	ErrAlreadyRepaid            = errors.New("loan already repaid")
	ErrActiveLoansExist         = errors.New("account has active loans")
	ErrEmptyName                = errors.New("name is required")
	ErrEmptyAddress             = errors.New("external address is required")
	ErrPersistenceWriteFailed   = errors.New("persistence write failed")

	// ErrBlobNotFound is returned by a BlobStore for a key it never stored.
	ErrBlobNotFound = errors.New("blob not found")
)

// Reason is the typed failure reason handed to the UI layer.
type Reason string

const (
	ReasonNone                     Reason = ""
	ReasonInvalidAmount            Reason = "InvalidAmount"
	ReasonAccountNotFound          Reason = "AccountNotFound"
	ReasonLoanNotFound             Reason = "LoanNotFound"
	ReasonExceedsWithdrawable      Reason = "ExceedsWithdrawable"
	ReasonInsufficientUserBalance  Reason = "InsufficientUserBalance"
	ReasonInsufficientAccountFunds Reason = "InsufficientAccountFunds"
	ReasonExceedsCredit            Reason = "ExceedsCredit"
	ReasonExceedsPrincipal         Reason = "ExceedsPrincipal"
	ReasonAlreadyRepaid            Reason = "AlreadyRepaid"
	ReasonActiveLoansExist         Reason = "ActiveLoansExist"
	ReasonEmptyName                Reason = "EmptyName"
	ReasonEmptyAddress             Reason = "EmptyAddress"
	ReasonPersistenceWriteFailed   Reason = "PersistenceWriteFailed"
	ReasonInternal                 Reason = "Internal"
)

var reasons = []struct {
	err    error
	reason Reason
}{
	{ErrInvalidAmount, ReasonInvalidAmount},
	{ErrAccountNotFound, ReasonAccountNotFound},
	{ErrLoanNotFound, ReasonLoanNotFound},
	{ErrExceedsWithdrawable, ReasonExceedsWithdrawable},
	{ErrInsufficientUserBalance, ReasonInsufficientUserBalance},
	{ErrInsufficientAccountFunds, ReasonInsufficientAccountFunds},
	{ErrExceedsCredit, ReasonExceedsCredit},
	{ErrExceedsPrincipal, ReasonExceedsPrincipal},
	{ErrAlreadyRepaid, ReasonAlreadyRepaid},
	{ErrActiveLoansExist, ReasonActiveLoansExist},
	{ErrEmptyName, ReasonEmptyName},
	{ErrEmptyAddress, ReasonEmptyAddress},
	{ErrPersistenceWriteFailed, ReasonPersistenceWriteFailed},
}

// ReasonOf maps an error to its reason. Nil maps to ReasonNone; anything
// unrecognised is ReasonInternal.
func ReasonOf(err error) Reason {
	if err == nil {
		return ReasonNone
	}
	for _, r := range reasons {
		if errors.Is(err, r.err) {
			return r.reason
		}
	}
	return ReasonInternal
}

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// LimitError reports a request that crossed one of the solvency limits.
type LimitError struct {
	Kind      error // one of the limit sentinels
	AccountID AccountID
	UserID    UserID
	Requested decimal.Decimal
	Available decimal.Decimal
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("%v: requested %s, available %s", e.Kind, e.Requested.String(), e.Available.String())
}

func (e *LimitError) Unwrap() error { return e.Kind }

// Shortfall is how much more would have been needed.
func (e *LimitError) Shortfall() decimal.Decimal {
	return e.Requested.Sub(e.Available)
}

// PersistenceError wraps a failed save. It unwraps to both
// ErrPersistenceWriteFailed and the store's own error.
type PersistenceError struct {
	Key string
	Err error
}

func (e *PersistenceError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("%v: %v", ErrPersistenceWriteFailed, e.Err)
	}
	return fmt.Sprintf("%v (%s): %v", ErrPersistenceWriteFailed, e.Key, e.Err)
}

func (e *PersistenceError) Unwrap() []error {
	return []error{ErrPersistenceWriteFailed, e.Err}
}

func limitErr(kind error, account AccountID, user UserID, requested, available decimal.Decimal) error {
	return &LimitError{Kind: kind, AccountID: account, UserID: user, Requested: requested, Available: available}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// Message returns the short human-readable text the UI shows for err.
func Message(err error) string {
	var lim *LimitError
	if errors.As(err, &lim) {
		switch {
		case errors.Is(lim.Kind, ErrExceedsWithdrawable):
			return fmt.Sprintf("Cannot withdraw more than %s. Active loans are secured by your deposit.", lim.Available.StringFixed(2))
		case errors.Is(lim.Kind, ErrExceedsCredit):
			return fmt.Sprintf("Loan amount exceeds your available credit of %s.", lim.Available.StringFixed(2))
		case errors.Is(lim.Kind, ErrExceedsPrincipal):
			return fmt.Sprintf("Repayment cannot exceed the outstanding amount of %s.", lim.Available.StringFixed(2))
		case errors.Is(lim.Kind, ErrInsufficientUserBalance):
			return fmt.Sprintf("Insufficient balance. Available: %s.", lim.Available.StringFixed(2))
		case errors.Is(lim.Kind, ErrInsufficientAccountFunds):
			return fmt.Sprintf("Insufficient account funds. Available: %s.", lim.Available.StringFixed(2))
		}
	}
	switch ReasonOf(err) {
	case ReasonNone:
		return ""
	case ReasonInvalidAmount:
		return "Amount must be greater than 0."
	case ReasonAccountNotFound:
		return "Account not found."
	case ReasonLoanNotFound:
		return "Loan not found."
	case ReasonAlreadyRepaid:
		return "This loan has already been repaid."
	case ReasonActiveLoansExist:
		return "Cannot delete an account with active loans."
	case ReasonEmptyName:
		return "Name is required."
	case ReasonEmptyAddress:
		return "Both external addresses are required."
	case ReasonPersistenceWriteFailed:
		return "Saved in this session, but writing to storage failed."
	}
	return "Something went wrong."
}

// IsClientError returns true if the error is due to the request itself.
func IsClientError(err error) bool {
	switch ReasonOf(err) {
	case ReasonNone, ReasonInternal, ReasonPersistenceWriteFailed:
		return false
	}
	return true
}

// IsNotFound returns true if the error indicates a missing account or loan.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrAccountNotFound) || errors.Is(err, ErrLoanNotFound)
}
