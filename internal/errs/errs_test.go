package errs

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsMatchesOnCode(t *testing.T) {
	err := Newf(CodeInsufficientFunds, "wallet %s has 10.00 spendable", "w1")
	wrapped := fmt.Errorf("hold: %w", err)

	assert.ErrorIs(t, wrapped, ErrInsufficientFunds)
	assert.NotErrorIs(t, wrapped, ErrBudgetExhausted)
	assert.Equal(t, CodeInsufficientFunds, CodeOf(wrapped))
}

func TestWalletClosedIsWalletUnavailable(t *testing.T) {
	assert.ErrorIs(t, ErrWalletClosed, ErrWalletUnavailable)
	assert.Equal(t, "wallet closed", ErrWalletClosed.Error())
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := Wrap(CodeStorageFailure, cause, "commit")

	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, ErrStorageFailure)
	assert.True(t, Retryable(err))
	assert.Equal(t, "commit: connection reset", err.Error())
}

func TestHTTPStatus(t *testing.T) {
	cases := map[error]int{
		ErrNotFound:                 http.StatusNotFound,
		ErrBudgetExhausted:          http.StatusPaymentRequired,
		ErrApprovalRequired:         http.StatusForbidden,
		ErrInvalidTransition:        http.StatusConflict,
		ErrInvariantViolation:       http.StatusInternalServerError,
		errors.New("plain failure"): http.StatusInternalServerError,
	}
	for err, status := range cases {
		assert.Equal(t, status, HTTPStatus(err), err.Error())
	}
}

func TestSeverityOfInvariantViolation(t *testing.T) {
	assert.Equal(t, SeverityCritical, SeverityOf(New(CodeInvariantViolation, "reserved below zero")))
	assert.Equal(t, SeverityInfo, SeverityOf(ErrInsufficientFunds))
}
