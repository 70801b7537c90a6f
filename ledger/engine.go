/*
engine.go - Command validation and application

PURPOSE:
  The stateful service in front of the Store. Each command reads the
  Calculator's current view, checks its preconditions, and on success
  applies one Batch of new events. The Store then asks the persistence
  port to flush.

COMMANDS:
  CreateAccount          name non-empty                     → Account
  AttachExternalAddress  account exists, both handles set   → Account (last write wins)
  Deposit                amount > 0, account exists         → DepositEvent(+), TxDeposit
  Withdraw               ≤ withdrawable, ≤ account balance  → DepositEvent(−), TxWithdrawal
  Pay                    ≤ withdrawable, ≤ account balance  → DepositEvent(−), TxPayment
  Borrow                 ≤ available credit, ≤ balance      → LoanEvent, TxLoan
  Repay                  loan open, ≤ outstanding           → LoanEvent update, DepositEvent(+), TxRepayment
  DeleteAccount          no unrepaid loans                  → cascade removal

ATOMICITY:
  Validation finishes before anything is appended, so a rejected command
  leaves the Store untouched. A failed flush is logged and returned as a
  PersistenceError together with the result; memory is not rolled back.

CONCURRENCY:
  Commands hold the write lock for read-validate-append-persist. Two
  borrows racing against the same credit cannot both pass. Queries hold
  the read lock.

SEE ALSO:
  - balance.go: the numbers commands are validated against
  - persist.go: the persistence port
*/
package ledger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Persistence is the port the Engine loads from and saves to.
type Persistence interface {
	Load(ctx context.Context) (Snapshot, error)
	Save(ctx context.Context, snap Snapshot) error
}

// Observer receives one call per command outcome. Used for metrics.
type Observer interface {
	CommandApplied(kind, command string)
	CommandRejected(kind, command string, reason Reason)
}

// Command names as reported to observers and logs.
const (
	CmdCreateAccount = "create_account"
	CmdAttachAddress = "attach_address"
	CmdDeposit       = "deposit"
	CmdWithdraw      = "withdraw"
	CmdPay           = "pay"
	CmdBorrow        = "borrow"
	CmdRepay         = "repay"
	CmdDeleteAccount = "delete_account"
)

// =============================================================================
// ENGINE
// =============================================================================

type Engine struct {
	kind     Kind
	store    *Store
	calc     Calculator
	log      logrus.FieldLogger
	observer Observer
	clock    Clock
	newID    func() string

	mu sync.RWMutex
}

type Option func(*Engine)

func WithLogger(log logrus.FieldLogger) Option { return func(e *Engine) { e.log = log } }
func WithObserver(o Observer) Option           { return func(e *Engine) { e.observer = o } }
func WithClock(c Clock) Option                 { return func(e *Engine) { e.clock = c } }
func WithIDs(gen func() string) Option         { return func(e *Engine) { e.newID = gen } }

// NewEngine wraps an existing Store. Nothing is loaded or persisted unless
// the Store already has an OnChange callback.
func NewEngine(kind Kind, store *Store, opts ...Option) *Engine {
	discard := logrus.New()
	discard.SetOutput(io.Discard)
	e := &Engine{
		kind:  kind,
		store: store,
		calc:  Calculator{Store: store},
		log:   discard,
		clock: SystemClock,
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.log == nil {
		e.log = discard
	}
	e.log = e.log.WithField("kind", kind.Name)
	return e
}

// Open hydrates a fresh Store from p and saves to p after every mutation.
func Open(ctx context.Context, kind Kind, p Persistence, opts ...Option) (*Engine, error) {
	snap, err := p.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load %s ledger: %w", kind.Name, err)
	}
	store := NewStore()
	store.Load(snap)
	store.OnChange(func(ctx context.Context, s Snapshot) error {
		return p.Save(ctx, s)
	})
	e := NewEngine(kind, store, opts...)
	e.log.WithFields(logrus.Fields{
		"accounts":     len(snap.Accounts),
		"deposits":     len(snap.Deposits),
		"loans":        len(snap.Loans),
		"transactions": len(snap.Transactions),
	}).Info("ledger loaded")
	return e, nil
}

// OpenKind opens kind over blobs with a Persister of its own. The caller
// keeps the Persister to Flush saves that failed.
func OpenKind(ctx context.Context, kind Kind, blobs BlobStore, log logrus.FieldLogger, opts ...Option) (*Engine, *Persister, error) {
	if err := kind.Validate(); err != nil {
		return nil, nil, err
	}
	p := NewPersister(blobs, kind, log)
	e, err := Open(ctx, kind, p, append([]Option{WithLogger(log)}, opts...)...)
	if err != nil {
		return nil, nil, err
	}
	return e, p, nil
}

func (e *Engine) Kind() Kind { return e.kind }

// =============================================================================
// COMMAND INPUTS
// =============================================================================

type CreateAccountInput struct {
	Name        string
	Owner       Identity
	Description string
}

type DepositInput struct {
	AccountID     AccountID
	User          Identity
	WalletAddress string
	Amount        decimal.Decimal
}

type WithdrawInput struct {
	AccountID AccountID
	User      Identity
	Amount    decimal.Decimal
}

type PayInput struct {
	AccountID     AccountID
	User          Identity
	Amount        decimal.Decimal
	Description   string
	BillReference string
}

type BorrowInput struct {
	AccountID   AccountID
	User        Identity
	Amount      decimal.Decimal
	Description string
}

// =============================================================================
// COMMANDS
// =============================================================================

func (e *Engine) CreateAccount(ctx context.Context, in CreateAccountInput) (Account, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	name := strings.TrimSpace(in.Name)
	if name == "" {
		return Account{}, e.reject(CmdCreateAccount, ErrEmptyName, nil)
	}

	acc := Account{
		ID:          AccountID(e.newID()),
		Name:        name,
		CreatedAt:   e.now(),
		OwnerID:     in.Owner.UserID,
		OwnerName:   in.Owner.Name,
		OwnerAvatar: in.Owner.Avatar,
		Description: strings.TrimSpace(in.Description),
	}
	err := e.commit(ctx, CmdCreateAccount, Batch{Accounts: []Account{acc}}, logrus.Fields{"account_id": acc.ID})
	return acc, err
}

// AttachExternalAddress records the settlement layer's handles. A second
// call overwrites the first.
func (e *Engine) AttachExternalAddress(ctx context.Context, id AccountID, address, secondary string) (Account, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	acc, ok := e.store.Account(id)
	if !ok {
		return Account{}, e.reject(CmdAttachAddress, ErrAccountNotFound, logrus.Fields{"account_id": id})
	}
	address, secondary = strings.TrimSpace(address), strings.TrimSpace(secondary)
	if address == "" || secondary == "" {
		return Account{}, e.reject(CmdAttachAddress, ErrEmptyAddress, logrus.Fields{"account_id": id})
	}

	acc.ExternalAddress = address
	acc.SecondaryAddress = secondary
	err := e.commit(ctx, CmdAttachAddress, Batch{AccountUpdates: []Account{acc}}, logrus.Fields{"account_id": id})
	return acc, err
}

func (e *Engine) Deposit(ctx context.Context, in DepositInput) (DepositEvent, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	fields := logrus.Fields{"account_id": in.AccountID, "user_id": in.User.UserID, "amount": in.Amount.String()}
	if !in.Amount.IsPositive() {
		return DepositEvent{}, e.reject(CmdDeposit, ErrInvalidAmount, fields)
	}
	if _, ok := e.store.Account(in.AccountID); !ok {
		return DepositEvent{}, e.reject(CmdDeposit, ErrAccountNotFound, fields)
	}

	at := e.now()
	dep := DepositEvent{
		ID:            EventID(e.newID()),
		AccountID:     in.AccountID,
		Identity:      in.User,
		WalletAddress: in.WalletAddress,
		Amount:        in.Amount,
		Source:        SourceContribution,
		Timestamp:     at,
	}
	tx := e.audit(in.AccountID, TxDeposit, in.User, in.Amount, at, fmt.Sprintf("Deposit to %s", e.kind.Noun), "")
	err := e.commit(ctx, CmdDeposit, Batch{Deposits: []DepositEvent{dep}, Transactions: []TransactionEvent{tx}}, fields)
	return dep, err
}

func (e *Engine) Withdraw(ctx context.Context, in WithdrawInput) (DepositEvent, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	fields := logrus.Fields{"account_id": in.AccountID, "user_id": in.User.UserID, "amount": in.Amount.String()}
	if !in.Amount.IsPositive() {
		return DepositEvent{}, e.reject(CmdWithdraw, ErrInvalidAmount, fields)
	}
	balance, err := e.calc.AccountBalance(in.AccountID)
	if err != nil {
		return DepositEvent{}, e.reject(CmdWithdraw, err, fields)
	}
	if avail := e.calc.UserWithdrawable(in.User.UserID, in.AccountID); in.Amount.GreaterThan(avail) {
		return DepositEvent{}, e.reject(CmdWithdraw,
			limitErr(ErrExceedsWithdrawable, in.AccountID, in.User.UserID, in.Amount, decimal.Max(decimal.Zero, avail)), fields)
	}
	if in.Amount.GreaterThan(balance) {
		return DepositEvent{}, e.reject(CmdWithdraw,
			limitErr(ErrInsufficientAccountFunds, in.AccountID, in.User.UserID, in.Amount, balance), fields)
	}

	at := e.now()
	dep := DepositEvent{
		ID:        EventID(e.newID()),
		AccountID: in.AccountID,
		Identity:  in.User,
		Amount:    in.Amount.Neg(),
		Source:    SourceWithdrawal,
		Timestamp: at,
	}
	tx := e.audit(in.AccountID, TxWithdrawal, in.User, in.Amount, at, fmt.Sprintf("Withdrawal by %s", displayName(in.User)), "")
	err = e.commit(ctx, CmdWithdraw, Batch{Deposits: []DepositEvent{dep}, Transactions: []TransactionEvent{tx}}, fields)
	return dep, err
}

func (e *Engine) Pay(ctx context.Context, in PayInput) (DepositEvent, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	fields := logrus.Fields{"account_id": in.AccountID, "user_id": in.User.UserID, "amount": in.Amount.String()}
	if !in.Amount.IsPositive() {
		return DepositEvent{}, e.reject(CmdPay, ErrInvalidAmount, fields)
	}
	balance, err := e.calc.AccountBalance(in.AccountID)
	if err != nil {
		return DepositEvent{}, e.reject(CmdPay, err, fields)
	}
	// Capital pledged against the payer's own loans stays in the account.
	avail := decimal.Max(decimal.Zero, e.calc.UserWithdrawable(in.User.UserID, in.AccountID))
	if in.Amount.GreaterThan(avail) {
		return DepositEvent{}, e.reject(CmdPay,
			limitErr(ErrInsufficientUserBalance, in.AccountID, in.User.UserID, in.Amount, avail), fields)
	}
	if in.Amount.GreaterThan(balance) {
		return DepositEvent{}, e.reject(CmdPay,
			limitErr(ErrInsufficientAccountFunds, in.AccountID, in.User.UserID, in.Amount, balance), fields)
	}

	desc := strings.TrimSpace(in.Description)
	if desc == "" {
		desc = fmt.Sprintf("Payment from %s", e.kind.Noun)
	}
	at := e.now()
	dep := DepositEvent{
		ID:        EventID(e.newID()),
		AccountID: in.AccountID,
		Identity:  in.User,
		Amount:    in.Amount.Neg(),
		Source:    SourcePayment,
		Timestamp: at,
	}
	tx := e.audit(in.AccountID, TxPayment, in.User, in.Amount, at, desc, in.BillReference)
	err = e.commit(ctx, CmdPay, Batch{Deposits: []DepositEvent{dep}, Transactions: []TransactionEvent{tx}}, fields)
	return dep, err
}

func (e *Engine) Borrow(ctx context.Context, in BorrowInput) (LoanEvent, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	fields := logrus.Fields{"account_id": in.AccountID, "user_id": in.User.UserID, "amount": in.Amount.String()}
	if !in.Amount.IsPositive() {
		return LoanEvent{}, e.reject(CmdBorrow, ErrInvalidAmount, fields)
	}
	balance, err := e.calc.AccountBalance(in.AccountID)
	if err != nil {
		return LoanEvent{}, e.reject(CmdBorrow, err, fields)
	}
	if credit := e.calc.UserAvailableCredit(in.User.UserID, in.AccountID); in.Amount.GreaterThan(credit) {
		return LoanEvent{}, e.reject(CmdBorrow,
			limitErr(ErrExceedsCredit, in.AccountID, in.User.UserID, in.Amount, credit), fields)
	}
	if in.Amount.GreaterThan(balance) {
		return LoanEvent{}, e.reject(CmdBorrow,
			limitErr(ErrInsufficientAccountFunds, in.AccountID, in.User.UserID, in.Amount, balance), fields)
	}

	desc := strings.TrimSpace(in.Description)
	if desc == "" {
		desc = fmt.Sprintf("Loan from %s", e.kind.Noun)
	}
	at := e.now()
	loan := LoanEvent{
		ID:        LoanID(e.newID()),
		AccountID: in.AccountID,
		Identity:  in.User,
		Principal: in.Amount,
		Timestamp: at,
	}
	tx := e.audit(in.AccountID, TxLoan, in.User, in.Amount, at, desc, "")
	fields["loan_id"] = loan.ID
	err = e.commit(ctx, CmdBorrow, Batch{Loans: []LoanEvent{loan}, Transactions: []TransactionEvent{tx}}, fields)
	return loan, err
}

// Repay settles part or all of a loan. Partial repayments accumulate; the
// loan is marked repaid once the cumulative amount reaches the principal.
func (e *Engine) Repay(ctx context.Context, id LoanID, amount decimal.Decimal) (LoanEvent, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	fields := logrus.Fields{"loan_id": id, "amount": amount.String()}
	loan, ok := e.store.Loan(id)
	if !ok {
		return LoanEvent{}, e.reject(CmdRepay, ErrLoanNotFound, fields)
	}
	fields["account_id"] = loan.AccountID
	fields["user_id"] = loan.UserID
	if loan.Repaid {
		return LoanEvent{}, e.reject(CmdRepay, ErrAlreadyRepaid, fields)
	}
	if !amount.IsPositive() {
		return LoanEvent{}, e.reject(CmdRepay, ErrInvalidAmount, fields)
	}
	outstanding := loan.Outstanding()
	if amount.GreaterThan(outstanding) {
		return LoanEvent{}, e.reject(CmdRepay,
			limitErr(ErrExceedsPrincipal, loan.AccountID, loan.UserID, amount, outstanding), fields)
	}

	at := e.now()
	repaid := loan.RepaidSoFar().Add(amount)
	loan.RepaidAmount = &repaid
	loan.RepaidAt = &at
	loan.Repaid = repaid.Equal(loan.Principal)

	desc := "Partial loan repayment"
	if loan.Repaid {
		desc = "Full loan repayment"
	}
	dep := DepositEvent{
		ID:        EventID(e.newID()),
		AccountID: loan.AccountID,
		Identity:  loan.Identity,
		Amount:    amount,
		Source:    SourceRepayment,
		Timestamp: at,
	}
	tx := e.audit(loan.AccountID, TxRepayment, loan.Identity, amount, at, desc, "")
	err := e.commit(ctx, CmdRepay, Batch{
		LoanUpdates:  []LoanEvent{loan},
		Deposits:     []DepositEvent{dep},
		Transactions: []TransactionEvent{tx},
	}, fields)
	return loan, err
}

// DeleteAccount removes the account and every row referencing it. Refused
// while any of its loans is unrepaid.
func (e *Engine) DeleteAccount(ctx context.Context, id AccountID) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	fields := logrus.Fields{"account_id": id}
	if _, ok := e.store.Account(id); !ok {
		return e.reject(CmdDeleteAccount, ErrAccountNotFound, fields)
	}
	if e.calc.HasActiveLoans(id) {
		return e.reject(CmdDeleteAccount, ErrActiveLoansExist, fields)
	}
	return e.commit(ctx, CmdDeleteAccount, Batch{RemoveAccount: id}, fields)
}

// =============================================================================
// QUERIES
// =============================================================================

func (e *Engine) Account(id AccountID) (Account, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	acc, ok := e.store.Account(id)
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return acc, nil
}

func (e *Engine) Accounts() []Account {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.store.Accounts()
}

func (e *Engine) AccountBalance(id AccountID) (decimal.Decimal, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.calc.AccountBalance(id)
}

// UserBalance with an empty account id aggregates over all accounts.
func (e *Engine) UserBalance(user UserID, account AccountID) (decimal.Decimal, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if err := e.requireAccount(account); err != nil {
		return decimal.Zero, err
	}
	return e.calc.UserBalance(user, account), nil
}

func (e *Engine) UserWithdrawable(user UserID, account AccountID) (decimal.Decimal, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if err := e.requireAccount(account); err != nil {
		return decimal.Zero, err
	}
	return e.calc.UserWithdrawable(user, account), nil
}

func (e *Engine) UserAvailableCredit(user UserID, account AccountID) (decimal.Decimal, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if err := e.requireAccount(account); err != nil {
		return decimal.Zero, err
	}
	return e.calc.UserAvailableCredit(user, account), nil
}

func (e *Engine) Loan(id LoanID) (LoanEvent, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	loan, ok := e.store.Loan(id)
	if !ok {
		return LoanEvent{}, ErrLoanNotFound
	}
	return loan, nil
}

func (e *Engine) AccountDeposits(id AccountID) ([]DepositEvent, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if err := e.requireAccount(id); err != nil {
		return nil, err
	}
	return e.store.Deposits(inAccount[DepositEvent](id)), nil
}

func (e *Engine) AccountLoans(id AccountID) ([]LoanEvent, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if err := e.requireAccount(id); err != nil {
		return nil, err
	}
	return e.store.Loans(inAccount[LoanEvent](id)), nil
}

func (e *Engine) AccountTransactions(id AccountID) ([]TransactionEvent, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if err := e.requireAccount(id); err != nil {
		return nil, err
	}
	return e.store.Transactions(inAccount[TransactionEvent](id)), nil
}

// UserDeposits lists the user's rows, optionally for one account.
func (e *Engine) UserDeposits(user UserID, account AccountID) []DepositEvent {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.store.Deposits(depositsOf(user, account))
}

// UserLoans lists the user's loans, optionally for one account.
func (e *Engine) UserLoans(user UserID, account AccountID) []LoanEvent {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.store.Loans(loansOf(user, account))
}

// Summary reports the account with every member's position. Members are
// listed in order of first appearance in the deposit or loan rows.
func (e *Engine) Summary(id AccountID) (AccountSummary, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	acc, ok := e.store.Account(id)
	if !ok {
		return AccountSummary{}, ErrAccountNotFound
	}
	balance, err := e.calc.AccountBalance(id)
	if err != nil {
		return AccountSummary{}, err
	}

	seen := map[UserID]bool{}
	var members []Identity
	note := func(who Identity) {
		if !seen[who.UserID] {
			seen[who.UserID] = true
			members = append(members, who)
		}
	}
	for _, d := range e.store.Deposits(inAccount[DepositEvent](id)) {
		note(d.Identity)
	}
	for _, l := range e.store.Loans(inAccount[LoanEvent](id)) {
		note(l.Identity)
	}

	positions := make([]MemberPosition, 0, len(members))
	for _, who := range members {
		positions = append(positions, e.calc.Position(who, id))
	}
	return AccountSummary{
		Account:     acc,
		Balance:     balance,
		Outstanding: e.calc.AccountOutstanding(id),
		Members:     positions,
	}, nil
}

// =============================================================================
// INTERNALS
// =============================================================================

func (e *Engine) requireAccount(id AccountID) error {
	if id == "" {
		return nil
	}
	if _, ok := e.store.Account(id); !ok {
		return ErrAccountNotFound
	}
	return nil
}

func (e *Engine) now() Timestamp { return NewTimestamp(e.clock()) }

func (e *Engine) audit(account AccountID, typ TransactionType, who Identity, amount decimal.Decimal, at Timestamp, desc, billRef string) TransactionEvent {
	return TransactionEvent{
		ID:            EventID(e.newID()),
		AccountID:     account,
		Type:          typ,
		Identity:      who,
		Amount:        amount,
		Timestamp:     at,
		Description:   desc,
		BillReference: billRef,
	}
}

// commit applies b. A persistence failure is logged and returned; the
// batch stays applied.
func (e *Engine) commit(ctx context.Context, cmd string, b Batch, fields logrus.Fields) error {
	err := e.store.Apply(ctx, b)
	if e.observer != nil {
		e.observer.CommandApplied(e.kind.Name, cmd)
	}
	log := e.log.WithField("command", cmd).WithFields(fields)
	if err != nil {
		var perr *PersistenceError
		if !errors.As(err, &perr) {
			err = &PersistenceError{Err: err}
		}
		log.WithError(err).Error("ledger flush failed, keeping in-memory state")
		return err
	}
	log.Info("command applied")
	return nil
}

func (e *Engine) reject(cmd string, err error, fields logrus.Fields) error {
	if e.observer != nil {
		e.observer.CommandRejected(e.kind.Name, cmd, ReasonOf(err))
	}
	e.log.WithField("command", cmd).WithFields(fields).WithField("reason", ReasonOf(err)).Debug("command rejected")
	return err
}

func displayName(who Identity) string {
	if who.Name != "" {
		return who.Name
	}
	return string(who.UserID)
}
