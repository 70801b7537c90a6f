/*
handlers.go - HTTP handlers for the ledger API

PURPOSE:
  Translates HTTP requests into ledger commands and queries, and ledger
  results and errors into JSON responses. Contains no accounting rules of
  its own: every check happens in the ledger.Engine.

ACCOUNT KINDS:
  Every route is scoped by {kind} ("pool" or "collateral"). The handler
  holds one engine per kind; an unknown kind is a 404.

ERROR MAPPING:
  400 InvalidAmount, EmptyName, EmptyAddress, malformed JSON
  404 AccountNotFound, LoanNotFound, unknown kind
  409 ActiveLoansExist, AlreadyRepaid
  422 ExceedsWithdrawable, InsufficientUserBalance, InsufficientAccountFunds,
      ExceedsCredit, ExceedsPrincipal
  500 PersistenceWriteFailed (the command took effect; the body carries
      its result), anything else

SEE ALSO:
  - server.go: Route definitions
  - dto.go: Request types
  - ledger/engine.go: Commands and queries
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"

	"github.com/snapsolpay/ledger-engine/ledger"
)

// Flusher retries failed saves. Implemented by *ledger.Persister.
type Flusher interface {
	Flush(ctx context.Context) error
	Dirty() bool
}

// Ledger pairs an engine with the persister behind it. Persister may be
// nil for engines that are not persisted.
type Ledger struct {
	Engine    *ledger.Engine
	Persister Flusher
}

// Handler handles HTTP requests for every registered account kind.
type Handler struct {
	ledgers map[string]Ledger
}

// NewHandler creates a handler serving the given ledgers by kind name.
func NewHandler(ledgers ...Ledger) *Handler {
	h := &Handler{ledgers: make(map[string]Ledger, len(ledgers))}
	for _, l := range ledgers {
		h.ledgers[l.Engine.Kind().Name] = l
	}
	return h
}

// Ledgers returns the served ledgers sorted by kind name.
func (h *Handler) Ledgers() []Ledger {
	out := make([]Ledger, 0, len(h.ledgers))
	for _, l := range h.ledgers {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Engine.Kind().Name < out[j].Engine.Kind().Name })
	return out
}

func (h *Handler) engine(w http.ResponseWriter, r *http.Request) (*ledger.Engine, bool) {
	kind := chi.URLParam(r, "kind")
	l, ok := h.ledgers[kind]
	if !ok {
		writeError(w, http.StatusNotFound, "Unknown account kind: "+kind, nil)
		return nil, false
	}
	return l.Engine, true
}

// =============================================================================
// HEALTH
// =============================================================================

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthDTO{Status: "ok", Kinds: map[string]bool{}}
	for name, l := range h.ledgers {
		dirty := l.Persister != nil && l.Persister.Dirty()
		resp.Kinds[name] = dirty
		if dirty {
			resp.Status = "degraded"
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// ACCOUNT ENDPOINTS
// =============================================================================

func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	e, ok := h.engine(w, r)
	if !ok {
		return
	}
	accounts := e.Accounts()
	dtos := make([]AccountDTO, 0, len(accounts))
	for _, acc := range accounts {
		balance, err := e.AccountBalance(acc.ID)
		if err != nil {
			// Deleted between the two reads.
			continue
		}
		dtos = append(dtos, AccountDTO{Account: acc, Balance: balance})
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	e, ok := h.engine(w, r)
	if !ok {
		return
	}
	var req CreateAccountRequest
	if !decode(w, r, &req) {
		return
	}
	acc, err := e.CreateAccount(r.Context(), ledger.CreateAccountInput{
		Name:        req.Name,
		Owner:       req.identity(),
		Description: req.Description,
	})
	writeResult(w, http.StatusCreated, acc, err)
}

func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	e, ok := h.engine(w, r)
	if !ok {
		return
	}
	id := accountID(r)
	acc, err := e.Account(id)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	balance, err := e.AccountBalance(id)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, AccountDTO{Account: acc, Balance: balance})
}

func (h *Handler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	e, ok := h.engine(w, r)
	if !ok {
		return
	}
	if err := e.DeleteAccount(r.Context(), accountID(r)); err != nil {
		writeLedgerError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) AttachAddress(w http.ResponseWriter, r *http.Request) {
	e, ok := h.engine(w, r)
	if !ok {
		return
	}
	var req AttachAddressRequest
	if !decode(w, r, &req) {
		return
	}
	acc, err := e.AttachExternalAddress(r.Context(), accountID(r), req.Address, req.SecondaryAddress)
	writeResult(w, http.StatusOK, acc, err)
}

func (h *Handler) GetSummary(w http.ResponseWriter, r *http.Request) {
	e, ok := h.engine(w, r)
	if !ok {
		return
	}
	summary, err := e.Summary(accountID(r))
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *Handler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	e, ok := h.engine(w, r)
	if !ok {
		return
	}
	txs, err := e.AccountTransactions(accountID(r))
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, txs)
}

func (h *Handler) GetDeposits(w http.ResponseWriter, r *http.Request) {
	e, ok := h.engine(w, r)
	if !ok {
		return
	}
	deposits, err := e.AccountDeposits(accountID(r))
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, deposits)
}

func (h *Handler) GetLoans(w http.ResponseWriter, r *http.Request) {
	e, ok := h.engine(w, r)
	if !ok {
		return
	}
	loans, err := e.AccountLoans(accountID(r))
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loans)
}

// =============================================================================
// MONEY MOVEMENT ENDPOINTS
// =============================================================================

func (h *Handler) Deposit(w http.ResponseWriter, r *http.Request) {
	e, ok := h.engine(w, r)
	if !ok {
		return
	}
	var req DepositRequest
	if !decode(w, r, &req) {
		return
	}
	dep, err := e.Deposit(r.Context(), ledger.DepositInput{
		AccountID:     accountID(r),
		User:          req.identity(),
		WalletAddress: req.WalletAddress,
		Amount:        req.Amount,
	})
	writeResult(w, http.StatusCreated, dep, err)
}

func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request) {
	e, ok := h.engine(w, r)
	if !ok {
		return
	}
	var req WithdrawRequest
	if !decode(w, r, &req) {
		return
	}
	dep, err := e.Withdraw(r.Context(), ledger.WithdrawInput{
		AccountID: accountID(r),
		User:      req.identity(),
		Amount:    req.Amount,
	})
	writeResult(w, http.StatusCreated, dep, err)
}

func (h *Handler) Pay(w http.ResponseWriter, r *http.Request) {
	e, ok := h.engine(w, r)
	if !ok {
		return
	}
	var req PayRequest
	if !decode(w, r, &req) {
		return
	}
	dep, err := e.Pay(r.Context(), ledger.PayInput{
		AccountID:     accountID(r),
		User:          req.identity(),
		Amount:        req.Amount,
		Description:   req.Description,
		BillReference: req.BillReference,
	})
	writeResult(w, http.StatusCreated, dep, err)
}

func (h *Handler) Borrow(w http.ResponseWriter, r *http.Request) {
	e, ok := h.engine(w, r)
	if !ok {
		return
	}
	var req BorrowRequest
	if !decode(w, r, &req) {
		return
	}
	loan, err := e.Borrow(r.Context(), ledger.BorrowInput{
		AccountID:   accountID(r),
		User:        req.identity(),
		Amount:      req.Amount,
		Description: req.Description,
	})
	writeResult(w, http.StatusCreated, loan, err)
}

func (h *Handler) Repay(w http.ResponseWriter, r *http.Request) {
	e, ok := h.engine(w, r)
	if !ok {
		return
	}
	var req RepayRequest
	if !decode(w, r, &req) {
		return
	}
	loan, err := e.Repay(r.Context(), ledger.LoanID(chi.URLParam(r, "loanId")), req.Amount)
	writeResult(w, http.StatusOK, loan, err)
}

// =============================================================================
// USER ENDPOINTS
// =============================================================================

// GetUserBalance reports a user's position. Without ?account_id= the
// figures are aggregated over every account of the kind.
func (h *Handler) GetUserBalance(w http.ResponseWriter, r *http.Request) {
	e, ok := h.engine(w, r)
	if !ok {
		return
	}
	user := ledger.UserID(chi.URLParam(r, "userId"))
	account := ledger.AccountID(r.URL.Query().Get("account_id"))

	balance, err := e.UserBalance(user, account)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	withdrawable, err := e.UserWithdrawable(user, account)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	credit, err := e.UserAvailableCredit(user, account)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, UserBalanceDTO{
		UserID:          user,
		AccountID:       account,
		Balance:         balance,
		Withdrawable:    withdrawable,
		AvailableCredit: credit,
	})
}

func (h *Handler) GetUserLoans(w http.ResponseWriter, r *http.Request) {
	e, ok := h.engine(w, r)
	if !ok {
		return
	}
	account := ledger.AccountID(r.URL.Query().Get("account_id"))
	if account != "" {
		if _, err := e.Account(account); err != nil {
			writeLedgerError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, e.UserLoans(ledger.UserID(chi.URLParam(r, "userId")), account))
}

// =============================================================================
// HELPERS
// =============================================================================

func accountID(r *http.Request) ledger.AccountID {
	return ledger.AccountID(chi.URLParam(r, "id"))
}

func decode(w http.ResponseWriter, r *http.Request, into any) bool {
	if err := json.NewDecoder(r.Body).Decode(into); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeResult replies with result on success. A command that took effect
// but failed to persist still returns its result inside the error body.
func writeResult(w http.ResponseWriter, status int, result any, err error) {
	if err == nil {
		writeJSON(w, status, result)
		return
	}
	resp := errorResponse(err)
	if errors.Is(err, ledger.ErrPersistenceWriteFailed) {
		resp.Result = result
	}
	writeJSON(w, statusFor(err), resp)
}

func writeLedgerError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), errorResponse(err))
}

func errorResponse(err error) ErrorResponse {
	return ErrorResponse{
		Error:   ledger.Message(err),
		Reason:  ledger.ReasonOf(err),
		Details: err.Error(),
	}
}

func statusFor(err error) int {
	var lim *ledger.LimitError
	switch {
	case errors.As(err, &lim):
		return http.StatusUnprocessableEntity
	case ledger.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrActiveLoansExist), errors.Is(err, ledger.ErrAlreadyRepaid):
		return http.StatusConflict
	case ledger.IsClientError(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
