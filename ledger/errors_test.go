package ledger_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/snapsolpay/ledger-engine/ledger"
)

func TestReasonOf(t *testing.T) {
	tests := []struct {
		err  error
		want ledger.Reason
	}{
		{nil, ledger.ReasonNone},
		{ledger.ErrInvalidAmount, ledger.ReasonInvalidAmount},
		{fmt.Errorf("wrapped: %w", ledger.ErrLoanNotFound), ledger.ReasonLoanNotFound},
		{&ledger.LimitError{Kind: ledger.ErrExceedsCredit}, ledger.ReasonExceedsCredit},
		{&ledger.PersistenceError{Err: errors.New("io")}, ledger.ReasonPersistenceWriteFailed},
		{errors.New("boom"), ledger.ReasonInternal},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ledger.ReasonOf(tt.err), "%v", tt.err)
	}
}

func TestPersistenceError_UnwrapsBoth(t *testing.T) {
	cause := errors.New("connection reset")
	err := error(&ledger.PersistenceError{Key: "k", Err: cause})

	assert.ErrorIs(t, err, ledger.ErrPersistenceWriteFailed)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "persistence write failed (k): connection reset", err.Error())
}

func TestMessage(t *testing.T) {
	credit := &ledger.LimitError{Kind: ledger.ErrExceedsCredit, Requested: amt("50"), Available: amt("40")}
	assert.Equal(t, "Loan amount exceeds your available credit of 40.00.", ledger.Message(credit))
	assert.Equal(t, "Amount must be greater than 0.", ledger.Message(ledger.ErrInvalidAmount))
	assert.Equal(t, "Cannot delete an account with active loans.", ledger.Message(ledger.ErrActiveLoansExist))
	assert.Equal(t, "", ledger.Message(nil))
	assert.Equal(t, "Something went wrong.", ledger.Message(errors.New("boom")))
}

func TestErrorClassification(t *testing.T) {
	assert.True(t, ledger.IsClientError(ledger.ErrEmptyName))
	assert.True(t, ledger.IsClientError(&ledger.LimitError{Kind: ledger.ErrExceedsWithdrawable}))
	assert.False(t, ledger.IsClientError(errors.New("boom")))

	assert.True(t, ledger.IsNotFound(ledger.ErrAccountNotFound))
	assert.True(t, ledger.IsNotFound(ledger.ErrLoanNotFound))
	assert.False(t, ledger.IsNotFound(ledger.ErrAlreadyRepaid))
}
