// Package errs defines the settlement engine's error codes. Every failure that
// crosses a component boundary carries one of these codes so callers can match
// on it with errors.Is and the HTTP layer can map it to a status.
package errs

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies a class of failure.
type Code string

// Severity drives how loudly a failure is logged.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

const (
	CodeUnknown              Code = "UNKNOWN"
	CodeInvalidArgument      Code = "INVALID_ARGUMENT"
	CodeNotFound             Code = "NOT_FOUND"
	CodeInsufficientFunds    Code = "INSUFFICIENT_FUNDS"
	CodeBudgetExhausted      Code = "BUDGET_EXHAUSTED"
	CodeApprovalRequired     Code = "APPROVAL_REQUIRED"
	CodeInvalidTransition    Code = "INVALID_TRANSITION"
	CodeInvalidState         Code = "INVALID_STATE"
	CodeWalletUnavailable    Code = "WALLET_UNAVAILABLE"
	CodeDuplicateTransaction Code = "DUPLICATE_TRANSACTION"
	CodeInvariantViolation   Code = "INVARIANT_VIOLATION"
	CodeStorageFailure       Code = "STORAGE_FAILURE"
)

// Attributes describe the default behaviour attached to a code.
type Attributes struct {
	Message   string
	Severity  Severity
	Retryable bool
	Status    int
}

var registry = map[Code]Attributes{
	CodeUnknown:              {Message: "unknown error", Severity: SeverityCritical, Status: http.StatusInternalServerError},
	CodeInvalidArgument:      {Message: "invalid argument", Severity: SeverityInfo, Status: http.StatusBadRequest},
	CodeNotFound:             {Message: "resource not found", Severity: SeverityInfo, Status: http.StatusNotFound},
	CodeInsufficientFunds:    {Message: "insufficient funds", Severity: SeverityInfo, Status: http.StatusPaymentRequired},
	CodeBudgetExhausted:      {Message: "budget exhausted", Severity: SeverityInfo, Status: http.StatusPaymentRequired},
	CodeApprovalRequired:     {Message: "approval required", Severity: SeverityInfo, Status: http.StatusForbidden},
	CodeInvalidTransition:    {Message: "invalid transition", Severity: SeverityWarning, Status: http.StatusConflict},
	CodeInvalidState:         {Message: "invalid state", Severity: SeverityWarning, Status: http.StatusConflict},
	CodeWalletUnavailable:    {Message: "wallet unavailable", Severity: SeverityWarning, Status: http.StatusConflict},
	CodeDuplicateTransaction: {Message: "duplicate transaction", Severity: SeverityInfo, Status: http.StatusConflict},
	CodeInvariantViolation:   {Message: "ledger invariant violated", Severity: SeverityCritical, Status: http.StatusInternalServerError},
	CodeStorageFailure:       {Message: "storage failure", Severity: SeverityCritical, Retryable: true, Status: http.StatusServiceUnavailable},
}

// AttributesOf returns the attributes registered for code, falling back to
// CodeUnknown.
func AttributesOf(code Code) Attributes {
	if attr, ok := registry[code]; ok {
		return attr
	}
	return registry[CodeUnknown]
}

// Sentinels for errors.Is matching. Two errors with the same code match
// regardless of message or cause.
var (
	ErrInvalidArgument      = New(CodeInvalidArgument, "")
	ErrNotFound             = New(CodeNotFound, "")
	ErrInsufficientFunds    = New(CodeInsufficientFunds, "")
	ErrBudgetExhausted      = New(CodeBudgetExhausted, "")
	ErrApprovalRequired     = New(CodeApprovalRequired, "")
	ErrInvalidTransition    = New(CodeInvalidTransition, "")
	ErrInvalidState         = New(CodeInvalidState, "")
	ErrWalletUnavailable    = New(CodeWalletUnavailable, "")
	ErrDuplicateTransaction = New(CodeDuplicateTransaction, "")
	ErrInvariantViolation   = New(CodeInvariantViolation, "")
	ErrStorageFailure       = New(CodeStorageFailure, "")

	// ErrWalletClosed is returned by ledger writes against a wallet that is
	// not ACTIVE. It is a WalletUnavailable error.
	ErrWalletClosed = New(CodeWalletUnavailable, "wallet closed")
)

// Error is the typed error carried across component boundaries.
type Error struct {
	code    Code
	message string
	cause   error
}

// New creates an error with the given code. An empty message uses the code's
// default message.
func New(code Code, message string) *Error {
	if message == "" {
		message = AttributesOf(code).Message
	}
	return &Error{code: code, message: message}
}

// Newf is New with fmt formatting.
func Newf(code Code, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap attaches code to an underlying cause.
func Wrap(code Code, cause error, message string) *Error {
	e := New(code, message)
	e.cause = cause
	return e
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is matches on code so sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	if e == nil || target == nil {
		return false
	}
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.code == t.code
}

// Code returns the error code.
func (e *Error) Code() Code {
	if e == nil {
		return CodeUnknown
	}
	return e.code
}

// Message returns the message without the cause.
func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

// From extracts an *Error from err's chain.
func From(err error) (*Error, bool) {
	if err == nil {
		return nil, false
	}
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// CodeOf returns the code of err, or CodeUnknown.
func CodeOf(err error) Code {
	if e, ok := From(err); ok {
		return e.Code()
	}
	return CodeUnknown
}

// SeverityOf returns the registered severity for err's code.
func SeverityOf(err error) Severity {
	return AttributesOf(CodeOf(err)).Severity
}

// Retryable reports whether err is worth retrying locally.
func Retryable(err error) bool {
	return AttributesOf(CodeOf(err)).Retryable
}

// HTTPStatus maps err to an HTTP status code.
func HTTPStatus(err error) int {
	return AttributesOf(CodeOf(err)).Status
}
