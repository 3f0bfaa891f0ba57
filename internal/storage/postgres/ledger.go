package postgres

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cimillas/ticket-engine/internal/clock"
	"github.com/cimillas/ticket-engine/internal/domain"
	"github.com/cimillas/ticket-engine/internal/ledger"
)

// Ledger keeps inventory counters in tier_inventory. A sale is a single
// conditional increment, so the database row lock is what serializes
// buyers of the same tier.
type Ledger struct {
	conn
	clock clock.Clock
}

var _ ledger.Ledger = (*Ledger)(nil)

func NewLedger(pool *pgxpool.Pool, clk clock.Clock) *Ledger {
	return &Ledger{conn: conn{pool: pool}, clock: clk}
}

const ticketColumns = `id, event_id, tier_name, customer_id, method, price, status, failure_reason, expires_at, created_at, updated_at`

func (l *Ledger) Provision(ctx context.Context, eventID string, tiers []domain.Tier) error {
	if err := domain.ValidateTiers(tiers); err != nil {
		return err
	}
	return withTx(ctx, l.pool, func(ctx context.Context) error {
		const stmt = `
INSERT INTO tier_inventory (event_id, tier_name, position, capacity)
VALUES ($1, $2, $3, $4)`
		for i, tier := range tiers {
			if _, err := l.exec(ctx, stmt, eventID, tier.Name, i, tier.Capacity); err != nil {
				if isInvalidUUID(err) {
					return domain.ErrInvalidID
				}
				if isUniqueViolation(err) {
					return fmt.Errorf("provision %s: inventory already exists", eventID)
				}
				return fmt.Errorf("provision tier %s: %w", tier.Name, err)
			}
		}
		return nil
	})
}

// Resize applies every capacity change or none of them.
func (l *Ledger) Resize(ctx context.Context, eventID string, capacities map[string]int) error {
	if len(capacities) == 0 {
		return nil
	}
	for name, c := range capacities {
		if c < 0 {
			return domain.Invalid("tiers.capacity", "tier %q has a negative capacity", name)
		}
	}

	return withTx(ctx, l.pool, func(ctx context.Context) error {
		// Lock in a stable order so two resizes of one event cannot deadlock.
		const lockQuery = `
SELECT tier_name, sold, closed
FROM tier_inventory
WHERE event_id = $1
ORDER BY tier_name
FOR UPDATE`
		rows, err := l.query(ctx, lockQuery, eventID)
		if err != nil {
			if isInvalidUUID(err) {
				return domain.ErrEventNotFound
			}
			return fmt.Errorf("lock inventory: %w", err)
		}
		type row struct {
			sold   int
			closed bool
		}
		current := make(map[string]row)
		for rows.Next() {
			var name string
			var r row
			if err := rows.Scan(&name, &r.sold, &r.closed); err != nil {
				rows.Close()
				return fmt.Errorf("scan inventory: %w", err)
			}
			current[name] = r
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			if isInvalidUUID(err) {
				return domain.ErrEventNotFound
			}
			return fmt.Errorf("iterate inventory: %w", err)
		}
		if len(current) == 0 {
			return domain.ErrEventNotFound
		}

		names := make([]string, 0, len(capacities))
		for name := range capacities {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			r, ok := current[name]
			if !ok {
				return domain.ErrTierNotFound
			}
			if r.closed {
				return domain.ErrEventNotFound
			}
			if capacities[name] < r.sold {
				return domain.ErrCapacityShrinkBelowSold
			}
		}

		const stmt = `UPDATE tier_inventory SET capacity = $3 WHERE event_id = $1 AND tier_name = $2`
		for _, name := range names {
			if _, err := l.exec(ctx, stmt, eventID, name, capacities[name]); err != nil {
				if isCheckViolation(err) {
					return domain.ErrCapacityShrinkBelowSold
				}
				return fmt.Errorf("resize tier %s: %w", name, err)
			}
		}
		return nil
	})
}

func (l *Ledger) Close(ctx context.Context, eventID string) error {
	if _, err := l.exec(ctx, `UPDATE tier_inventory SET closed = TRUE WHERE event_id = $1`, eventID); err != nil {
		if isInvalidUUID(err) {
			return nil
		}
		return fmt.Errorf("close inventory: %w", err)
	}
	return nil
}

// Reserve takes one seat and records the ticket holding it in the same
// transaction.
func (l *Ledger) Reserve(ctx context.Context, req ledger.ReserveRequest) (domain.Ticket, error) {
	var ticket domain.Ticket
	err := withTx(ctx, l.pool, func(ctx context.Context) error {
		const take = `
UPDATE tier_inventory
SET sold = sold + 1
WHERE event_id = $1 AND tier_name = $2 AND NOT closed AND sold < capacity
RETURNING sold`
		var sold int
		err := l.queryRow(ctx, take, req.EventID, req.TierName).Scan(&sold)
		if errors.Is(err, pgx.ErrNoRows) {
			return l.whyNotReserved(ctx, req.EventID, req.TierName)
		}
		if err != nil {
			if isInvalidUUID(err) {
				return domain.ErrEventNotFound
			}
			return fmt.Errorf("take seat: %w", err)
		}

		now := l.clock.Now().UTC()
		const insert = `
INSERT INTO tickets (` + ticketColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
RETURNING ` + ticketColumns
		ticket, err = scanTicket(l.queryRow(ctx, insert,
			uuid.NewString(),
			req.EventID,
			req.TierName,
			req.CustomerID,
			string(req.Method),
			int64(req.Price),
			string(domain.TicketStatusReserved),
			string(domain.FailureNone),
			req.ExpiresAt.UTC(),
			now,
		))
		if err != nil {
			return fmt.Errorf("create ticket: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.Ticket{}, err
	}
	return ticket, nil
}

func (l *Ledger) whyNotReserved(ctx context.Context, eventID, tierName string) error {
	const query = `
SELECT tier_name = $2, closed
FROM tier_inventory
WHERE event_id = $1
ORDER BY tier_name = $2 DESC
LIMIT 1`
	var match, closed bool
	err := l.queryRow(ctx, query, eventID, tierName).Scan(&match, &closed)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return domain.ErrEventNotFound
	case err != nil:
		return fmt.Errorf("inspect inventory: %w", err)
	case closed:
		return domain.ErrEventNotFound
	case !match:
		return domain.ErrTierNotFound
	default:
		return domain.ErrSoldOut
	}
}

// Commit confirms a reserved ticket. Confirming twice is a no-op.
func (l *Ledger) Commit(ctx context.Context, ticketID string) (domain.Ticket, error) {
	const stmt = `
UPDATE tickets
SET status = 'confirmed', updated_at = $2
WHERE id = $1 AND status = 'reserved'
RETURNING ` + ticketColumns
	t, err := scanTicket(l.queryRow(ctx, stmt, ticketID, l.clock.Now().UTC()))
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		if isInvalidUUID(err) {
			return domain.Ticket{}, domain.ErrTicketNotFound
		}
		return domain.Ticket{}, fmt.Errorf("commit ticket: %w", err)
	}

	t, err = l.Ticket(ctx, ticketID)
	if err != nil {
		return domain.Ticket{}, err
	}
	if t.Status == domain.TicketStatusFailed {
		return t, domain.ErrTicketNotReserved
	}
	return t, nil
}

// Release fails a reserved ticket and returns its seat. Terminal tickets are
// returned unchanged.
func (l *Ledger) Release(ctx context.Context, ticketID string, reason domain.FailureReason) (domain.Ticket, error) {
	var ticket domain.Ticket
	err := withTx(ctx, l.pool, func(ctx context.Context) error {
		const fail = `
UPDATE tickets
SET status = 'failed', failure_reason = $2, updated_at = $3
WHERE id = $1 AND status = 'reserved'
RETURNING ` + ticketColumns
		t, err := scanTicket(l.queryRow(ctx, fail, ticketID, string(reason), l.clock.Now().UTC()))
		if errors.Is(err, pgx.ErrNoRows) {
			ticket, err = l.Ticket(ctx, ticketID)
			return err
		}
		if err != nil {
			if isInvalidUUID(err) {
				return domain.ErrTicketNotFound
			}
			return fmt.Errorf("release ticket: %w", err)
		}

		const giveBack = `UPDATE tier_inventory SET sold = sold - 1 WHERE event_id = $1 AND tier_name = $2`
		if _, err := l.exec(ctx, giveBack, t.EventID, t.TierName); err != nil {
			return fmt.Errorf("return seat: %w", err)
		}
		ticket = t
		return nil
	})
	if err != nil {
		return domain.Ticket{}, err
	}
	return ticket, nil
}

func (l *Ledger) Ticket(ctx context.Context, ticketID string) (domain.Ticket, error) {
	t, err := scanTicket(l.queryRow(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE id = $1`, ticketID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isInvalidUUID(err) {
			return domain.Ticket{}, domain.ErrTicketNotFound
		}
		return domain.Ticket{}, fmt.Errorf("get ticket: %w", err)
	}
	return t, nil
}

func (l *Ledger) TicketsByCustomer(ctx context.Context, customerID string) ([]domain.Ticket, error) {
	const query = `SELECT ` + ticketColumns + ` FROM tickets WHERE customer_id = $1 ORDER BY created_at, id`
	return l.tickets(ctx, query, customerID)
}

// Expired returns reserved tickets whose deadline is at or before now,
// oldest deadline first.
func (l *Ledger) Expired(ctx context.Context, now time.Time, limit int) ([]domain.Ticket, error) {
	const query = `
SELECT ` + ticketColumns + `
FROM tickets
WHERE status = 'reserved' AND expires_at <= $1
ORDER BY expires_at
LIMIT $2`
	return l.tickets(ctx, query, now.UTC(), limit)
}

func (l *Ledger) Availability(ctx context.Context, eventID string) ([]ledger.TierAvailability, error) {
	const query = `
SELECT tier_name, capacity, sold, closed
FROM tier_inventory
WHERE event_id = $1
ORDER BY position`
	rows, err := l.query(ctx, query, eventID)
	if err != nil {
		if isInvalidUUID(err) {
			return nil, domain.ErrEventNotFound
		}
		return nil, fmt.Errorf("availability: %w", err)
	}
	defer rows.Close()

	var out []ledger.TierAvailability
	for rows.Next() {
		var (
			a      ledger.TierAvailability
			closed bool
		)
		if err := rows.Scan(&a.TierName, &a.Capacity, &a.Sold, &closed); err != nil {
			return nil, fmt.Errorf("scan availability: %w", err)
		}
		if closed {
			return nil, domain.ErrEventNotFound
		}
		a.Remaining = a.Capacity - a.Sold
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		if isInvalidUUID(err) {
			return nil, domain.ErrEventNotFound
		}
		return nil, fmt.Errorf("iterate availability: %w", err)
	}
	if len(out) == 0 {
		return nil, domain.ErrEventNotFound
	}
	return out, nil
}

func (l *Ledger) tickets(ctx context.Context, query string, args ...any) ([]domain.Ticket, error) {
	rows, err := l.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tickets: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Ticket, error) {
		return scanTicket(row)
	})
	if err != nil {
		return nil, fmt.Errorf("scan tickets: %w", err)
	}
	return out, nil
}

func scanTicket(row pgx.Row) (domain.Ticket, error) {
	var (
		t                      domain.Ticket
		method, status, reason string
		price                  int64
	)
	err := row.Scan(&t.ID, &t.EventID, &t.TierName, &t.CustomerID, &method, &price, &status, &reason, &t.ExpiresAt, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return domain.Ticket{}, err
	}
	t.Method = domain.PaymentMethod(method)
	t.Price = domain.Money(price)
	t.Status = domain.TicketStatus(status)
	t.FailureReason = domain.FailureReason(reason)
	return t, nil
}
