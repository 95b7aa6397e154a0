package types

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrAlreadyPosted        = errors.New("ledger posting already exists")
	ErrLockNotAcquired      = errors.New("lock is held by another worker")
	ErrMissingReferenceData = errors.New("missing reference data")
)

type InvalidTransitionError struct {
	Entity    string
	ID        string
	Current   string
	Attempted string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("%s %s cannot move from %s to %s", e.Entity, e.ID, e.Current, e.Attempted)
}

type ConflictError struct {
	Resource string
	Message  string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict on %s: %s", e.Resource, e.Message)
}

type AuthorizationFailedError struct {
	Reason string
	Err    error
}

func (e *AuthorizationFailedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("deposit authorization failed: %s: %s", e.Reason, e.Err.Error())
	}
	return fmt.Sprintf("deposit authorization failed: %s", e.Reason)
}

func (e *AuthorizationFailedError) Unwrap() error { return e.Err }

type PaymentFailedError struct {
	Operation string
	Err       error
}

func (e *PaymentFailedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("payment %s failed: %s", e.Operation, e.Err.Error())
	}
	return fmt.Sprintf("payment %s failed", e.Operation)
}

func (e *PaymentFailedError) Unwrap() error { return e.Err }

type UnbalancedPostingError struct {
	TransactionType TransactionType
	ReferenceID     string
	Debits          Money
	Credits         Money
}

func (e *UnbalancedPostingError) Error() string {
	return fmt.Sprintf("unbalanced %s posting %s: debits=%s credits=%s", e.TransactionType, e.ReferenceID, e.Debits, e.Credits)
}

type ExpiredHoldError struct {
	HoldID    string
	ExpiresAt time.Time
}

func (e *ExpiredHoldError) Error() string {
	return fmt.Sprintf("deposit hold %s expired at %s", e.HoldID, e.ExpiresAt.Format(time.RFC3339))
}

type TooEarlyError struct {
	BookingID string
	OpensAt   time.Time
}

func (e *TooEarlyError) Error() string {
	return fmt.Sprintf("booking %s cannot check in before %s", e.BookingID, e.OpensAt.Format(time.RFC3339))
}

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// ReconciliationRequiredError is returned for bookings frozen after a fatal
// bookkeeping failure. Only manual reconciliation clears the flag.
type ReconciliationRequiredError struct {
	BookingID string
	Cause     string
}

func (e *ReconciliationRequiredError) Error() string {
	return fmt.Sprintf("booking %s requires manual reconciliation: %s", e.BookingID, e.Cause)
}

// IsFatal reports whether err signals a bookkeeping fault that must halt
// processing of the affected booking.
func IsFatal(err error) bool {
	var unbalanced *UnbalancedPostingError
	return errors.As(err, &unbalanced) || errors.Is(err, ErrMissingReferenceData)
}

// ForbiddenError is returned when the actor is not a party allowed to act.
type ForbiddenError struct {
	Actor  string
	Action string
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("%s is not allowed to %s", e.Actor, e.Action)
}
