package domain

import (
	"errors"
	"fmt"
)

var (
	ErrValidation               = errors.New("validation error")
	ErrAuthInvalid              = errors.New("invalid or expired token")
	ErrAuthUnreachable          = errors.New("identity provider unreachable")
	ErrForbidden                = errors.New("forbidden")
	ErrNotOwner                 = errors.New("not the event owner")
	ErrEventNotFound            = errors.New("event not found")
	ErrTierNotFound             = errors.New("tier not found")
	ErrSoldOut                  = errors.New("sold out")
	ErrCapacityShrinkBelowSold  = errors.New("capacity below tickets already sold")
	ErrUnsupportedPaymentMethod = errors.New("unsupported payment method")
	ErrPaymentTimeout           = errors.New("payment timed out")
	ErrPaymentFailed            = errors.New("payment failed")
	ErrTicketNotFound           = errors.New("ticket not found")
	ErrTicketNotReserved        = errors.New("ticket is not reserved")
	ErrInvalidID                = errors.New("invalid id")
)

// ValidationError reports malformed input on a single field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// Invalid builds a ValidationError for field.
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
