/*
balance.go - Derived quantities

PURPOSE:
  Answers "how much is in this account?" and "how much may this user
  take out or borrow?". Everything is recomputed from the Store's event
  collections on every call. No caching: the collections are small and
  in memory.

FORMULAS:
  contributed(u,a)  = Σ u's DepositEvent.amount in a, repayment rows excluded
  outstanding(u,a)  = Σ LoanEvent.Outstanding() of u in a

  AccountBalance(a)       = Σ DepositEvent.amount − Σ LoanEvent.principal
  UserBalance(u,a)        = max(0, contributed(u,a))
  UserWithdrawable(u,a)   = contributed(u,a) − outstanding(u,a)
  UserAvailableCredit(u,a)= max(0, UserBalance(u,a) − outstanding(u,a))

  A disbursed principal leaves the account for good; the repayment
  DepositEvents bring it back. For any account that equals
  Σ contributions − Σ outstanding loans, so a repaid loan is counted once.

LIMITS:
  Loans: 100% of the user's own contributed balance. Other users' money
  in the same account never backs a loan.
  Withdrawals and payments: max(0, UserWithdrawable). Capital pledged
  against the user's outstanding loans cannot leave the account.

EXAMPLE:
  U1 deposits 100, borrows 60:
    AccountBalance = 100 − 60 = 40
    UserBalance    = 100
    Credit         = 100 − 60 = 40
  U1 repays 60 (deposit +60, source=repayment):
    AccountBalance = 160 − 60 = 100
    Credit         = 100

SEE ALSO:
  - engine.go: uses these to validate commands
*/
package ledger

import "github.com/shopspring/decimal"

// =============================================================================
// CALCULATOR
// =============================================================================

// Calculator derives balances from a Store. Stateless apart from the Store.
type Calculator struct {
	Store *Store
}

// AccountBalance is the account's net worth after its unrepaid loans.
func (c Calculator) AccountBalance(id AccountID) (decimal.Decimal, error) {
	if _, ok := c.Store.Account(id); !ok {
		return decimal.Zero, ErrAccountNotFound
	}
	total := decimal.Zero
	for _, d := range c.Store.Deposits(inAccount[DepositEvent](id)) {
		total = total.Add(d.Amount)
	}
	for _, l := range c.Store.Loans(inAccount[LoanEvent](id)) {
		total = total.Sub(l.Principal)
	}
	return total, nil
}

// AccountOutstanding is the sum still owed on the account's loans.
func (c Calculator) AccountOutstanding(id AccountID) decimal.Decimal {
	total := decimal.Zero
	for _, l := range c.Store.Loans(inAccount[LoanEvent](id)) {
		total = total.Add(l.Outstanding())
	}
	return total
}

// UserBalance is the user's contributed capital, never negative. An empty
// account id aggregates over every account.
func (c Calculator) UserBalance(user UserID, account AccountID) decimal.Decimal {
	return decimal.Max(decimal.Zero, c.contributed(user, account))
}

// UserWithdrawable bounds withdrawals and payments: contributions not
// pledged against an outstanding loan. May be negative.
func (c Calculator) UserWithdrawable(user UserID, account AccountID) decimal.Decimal {
	return c.contributed(user, account).Sub(c.UserOutstanding(user, account))
}

// UserAvailableCredit is the unborrowed part of the user's balance.
func (c Calculator) UserAvailableCredit(user UserID, account AccountID) decimal.Decimal {
	credit := c.UserBalance(user, account).Sub(c.UserOutstanding(user, account))
	return decimal.Max(decimal.Zero, credit)
}

// UserOutstanding sums what the user still owes.
func (c Calculator) UserOutstanding(user UserID, account AccountID) decimal.Decimal {
	total := decimal.Zero
	for _, l := range c.Store.Loans(loansOf(user, account)) {
		total = total.Add(l.Outstanding())
	}
	return total
}

// HasActiveLoans reports whether any loan of the account is unrepaid.
func (c Calculator) HasActiveLoans(id AccountID) bool {
	for _, l := range c.Store.Loans(inAccount[LoanEvent](id)) {
		if !l.Repaid {
			return true
		}
	}
	return false
}

// Position is the user's full standing in one account.
func (c Calculator) Position(who Identity, account AccountID) MemberPosition {
	return MemberPosition{
		Identity:     who,
		Balance:      c.UserBalance(who.UserID, account),
		Withdrawable: c.UserWithdrawable(who.UserID, account),
		Credit:       c.UserAvailableCredit(who.UserID, account),
		Outstanding:  c.UserOutstanding(who.UserID, account),
	}
}

func (c Calculator) contributed(user UserID, account AccountID) decimal.Decimal {
	total := decimal.Zero
	for _, d := range c.Store.Deposits(depositsOf(user, account)) {
		if d.IsRepayment() {
			continue
		}
		total = total.Add(d.Amount)
	}
	return total
}
