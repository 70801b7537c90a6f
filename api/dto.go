/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Request bodies and the few response shapes that are not ledger types
  themselves. Accounts, events and summaries are returned as the ledger
  types; their JSON tags are the wire contract.

NAMING CONVENTION:
  - *Request:  Request body types from clients
  - *DTO:      Response types that combine several ledger values

AMOUNTS:
  decimal.Decimal accepts both 12.5 and "12.5". A missing amount decodes
  to zero and is rejected by the engine as InvalidAmount.

SEE ALSO:
  - handlers.go: Uses these types
  - ledger/types.go: Response types
*/
package api

import (
	"github.com/shopspring/decimal"

	"github.com/snapsolpay/ledger-engine/ledger"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// UserRequest is the acting user, carried by every money-moving request.
type UserRequest struct {
	UserID string `json:"userId"`
	Name   string `json:"userName"`
	Avatar string `json:"userAvatar"`
}

func (u UserRequest) identity() ledger.Identity {
	return ledger.Identity{UserID: ledger.UserID(u.UserID), Name: u.Name, Avatar: u.Avatar}
}

type CreateAccountRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	UserRequest
}

type AttachAddressRequest struct {
	Address          string `json:"solanaAddress"`
	SecondaryAddress string `json:"tokenAccount"`
}

type DepositRequest struct {
	UserRequest
	Amount        decimal.Decimal `json:"amount"`
	WalletAddress string          `json:"walletAddress"`
}

type WithdrawRequest struct {
	UserRequest
	Amount decimal.Decimal `json:"amount"`
}

type PayRequest struct {
	UserRequest
	Amount        decimal.Decimal `json:"amount"`
	Description   string          `json:"description"`
	BillReference string          `json:"billReference"`
}

type BorrowRequest struct {
	UserRequest
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
}

type RepayRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// AccountDTO is an account with its current balance.
type AccountDTO struct {
	ledger.Account
	Balance decimal.Decimal `json:"balance"`
}

// UserBalanceDTO answers "what can this user do?" for one account, or for
// all accounts of the kind when AccountID is empty.
type UserBalanceDTO struct {
	UserID          ledger.UserID    `json:"userId"`
	AccountID       ledger.AccountID `json:"accountId,omitempty"`
	Balance         decimal.Decimal  `json:"balance"`
	Withdrawable    decimal.Decimal  `json:"withdrawable"`
	AvailableCredit decimal.Decimal  `json:"availableCredit"`
}

type HealthDTO struct {
	Status string          `json:"status"`
	Kinds  map[string]bool `json:"pendingFlush"`
}

// ErrorResponse is the body of every non-2xx reply. Result is set when a
// command took effect but could not be persisted.
type ErrorResponse struct {
	Error   string        `json:"error"`
	Reason  ledger.Reason `json:"reason,omitempty"`
	Details string        `json:"details,omitempty"`
	Result  any           `json:"result,omitempty"`
}
