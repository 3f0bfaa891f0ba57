package domain

import "time"

type TicketStatus string

const (
	TicketStatusReserved  TicketStatus = "reserved"
	TicketStatusConfirmed TicketStatus = "confirmed"
	TicketStatusFailed    TicketStatus = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s TicketStatus) Terminal() bool {
	return s == TicketStatusConfirmed || s == TicketStatusFailed
}

type PaymentMethod string

const (
	PaymentMethodCash         PaymentMethod = "cash"
	PaymentMethodMobileWallet PaymentMethod = "mobile_wallet"
)

// FailureReason records why a reservation was released.
type FailureReason string

const (
	FailurePaymentError      FailureReason = "payment_error"
	FailurePaymentTimeout    FailureReason = "payment_timeout"
	FailureUnsupportedMethod FailureReason = "unsupported_payment_method"
	FailureAbandoned         FailureReason = "abandoned"
	FailureNone              FailureReason = ""
)

// Ticket is a capacity-counted claim on one seat of a tier.
type Ticket struct {
	ID            string
	EventID       string
	TierName      string
	CustomerID    string
	Method        PaymentMethod
	Price         Money
	Status        TicketStatus
	FailureReason FailureReason
	ExpiresAt     time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
