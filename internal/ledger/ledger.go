// Package ledger owns per-tier sold counts and the tickets that consume them.
// It is the only authority on whether a new sale may proceed.
package ledger

import (
	"context"
	"time"

	"github.com/cimillas/ticket-engine/internal/domain"
)

// ReserveRequest asks for one seat of a tier.
type ReserveRequest struct {
	EventID    string
	TierName   string
	CustomerID string
	Method     domain.PaymentMethod
	Price      domain.Money
	ExpiresAt  time.Time
}

// TierAvailability is a point-in-time view of one tier's inventory.
type TierAvailability struct {
	TierName  string
	Capacity  int
	Sold      int
	Remaining int
}

// Ledger is implemented by Memory and by postgres.Ledger.
//
// Reserve is a single compare-and-increment per (event, tier): it commits a
// reserved ticket only if sold+1 <= capacity. Commit and Release are
// idempotent on terminal tickets; Release decrements sold exactly once.
type Ledger interface {
	Provision(ctx context.Context, eventID string, tiers []domain.Tier) error
	Resize(ctx context.Context, eventID string, capacities map[string]int) error
	Close(ctx context.Context, eventID string) error

	Reserve(ctx context.Context, req ReserveRequest) (domain.Ticket, error)
	Commit(ctx context.Context, ticketID string) (domain.Ticket, error)
	Release(ctx context.Context, ticketID string, reason domain.FailureReason) (domain.Ticket, error)

	Ticket(ctx context.Context, ticketID string) (domain.Ticket, error)
	TicketsByCustomer(ctx context.Context, customerID string) ([]domain.Ticket, error)
	Expired(ctx context.Context, now time.Time, limit int) ([]domain.Ticket, error)
	Availability(ctx context.Context, eventID string) ([]TierAvailability, error)
}
