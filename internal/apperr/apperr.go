// Package apperr holds the error taxonomy shared by the service layer.
// Handlers translate these into HTTP responses; services never return
// transport errors themselves.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrAuthenticationRequired = errors.New("you must be signed in")
	ErrInvalidCredentials     = errors.New("invalid email or password")
	ErrInvalidSession         = errors.New("invalid or expired session")
	ErrPermissionDenied       = errors.New("you don't have sufficient permissions")
	ErrOwnershipViolation     = errors.New("you don't own that resource")
	ErrNotFound               = errors.New("not found")
	ErrEmptyCart              = errors.New("your cart is empty")
	ErrExpiredOrInvalidToken  = errors.New("this reset token is invalid or expired")

	// ErrReconciliationRequired never reaches a client directly: the charge
	// went through but the order is not recorded yet, and a retry keyed by
	// the charge id will materialize it.
	ErrReconciliationRequired = errors.New("order pending confirmation")
)

// ValidationError reports invalid caller input for a named field.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Msg)
}

// PaymentError wraps a gateway decline or transport failure. The charge did
// not happen (a genuinely ambiguous outcome is reconfirmed before one of
// these is returned).
type PaymentError struct {
	Reason string
	Err    error
}

func (e *PaymentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("payment failed: %s: %v", e.Reason, e.Err)
	}
	return "payment failed: " + e.Reason
}

func (e *PaymentError) Unwrap() error { return e.Err }
