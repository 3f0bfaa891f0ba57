package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cimillas/ticket-engine/internal/domain"
)

type EventRepository struct {
	conn
}

func NewEventRepository(pool *pgxpool.Pool) *EventRepository {
	return &EventRepository{conn{pool: pool}}
}

func (r *EventRepository) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return withTx(ctx, r.pool, fn)
}

func (r *EventRepository) CreateEvent(ctx context.Context, event domain.Event) error {
	return withTx(ctx, r.pool, func(ctx context.Context) error {
		const stmt = `
INSERT INTO events (id, organizer_id, title, description, event_date, venue, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
		_, err := r.exec(ctx, stmt,
			event.ID,
			event.OrganizerID,
			event.Title,
			event.Description,
			event.Date,
			event.Venue,
			event.CreatedAt,
			event.UpdatedAt,
		)
		if err != nil {
			if isInvalidUUID(err) {
				return domain.ErrInvalidID
			}
			return fmt.Errorf("create event: %w", err)
		}
		return r.insertTiers(ctx, event.ID, event.Tiers)
	})
}

func (r *EventRepository) insertTiers(ctx context.Context, eventID string, tiers []domain.Tier) error {
	const stmt = `
INSERT INTO event_tiers (event_id, name, position, price, capacity)
VALUES ($1, $2, $3, $4, $5)`
	for i, tier := range tiers {
		if _, err := r.exec(ctx, stmt, eventID, tier.Name, i, int64(tier.Price), tier.Capacity); err != nil {
			if isUniqueViolation(err) {
				return domain.Invalid("tiers.name", "duplicate tier %q", tier.Name)
			}
			return fmt.Errorf("create tier %s: %w", tier.Name, err)
		}
	}
	return nil
}

// GetEvent loads an event and its tiers. Inside a transaction the event row
// stays locked until commit.
func (r *EventRepository) GetEvent(ctx context.Context, eventID string) (domain.Event, error) {
	query := `
SELECT id, organizer_id, title, description, event_date, venue, created_at, updated_at
FROM events
WHERE id = $1`
	if txFromContext(ctx) != nil {
		query += "\nFOR UPDATE"
	}

	event, err := scanEvent(r.queryRow(ctx, query, eventID))
	if err != nil {
		// A malformed id names no event, same as the memory store.
		if isInvalidUUID(err) {
			return domain.Event{}, domain.ErrEventNotFound
		}
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Event{}, domain.ErrEventNotFound
		}
		return domain.Event{}, fmt.Errorf("get event: %w", err)
	}

	tiers, err := r.tiersFor(ctx, []string{event.ID})
	if err != nil {
		return domain.Event{}, err
	}
	event.Tiers = tiers[event.ID]
	return event, nil
}

// UpdateEvent rewrites event metadata and tier price and capacity. The tier
// set itself never changes after creation.
func (r *EventRepository) UpdateEvent(ctx context.Context, event domain.Event) error {
	return withTx(ctx, r.pool, func(ctx context.Context) error {
		const stmt = `
UPDATE events
SET title = $2, description = $3, event_date = $4, venue = $5, updated_at = $6
WHERE id = $1`
		tag, err := r.exec(ctx, stmt, event.ID, event.Title, event.Description, event.Date, event.Venue, event.UpdatedAt)
		if err != nil {
			if isInvalidUUID(err) {
				return domain.ErrInvalidID
			}
			return fmt.Errorf("update event: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return domain.ErrEventNotFound
		}

		const tierStmt = `UPDATE event_tiers SET price = $3, capacity = $4 WHERE event_id = $1 AND name = $2`
		for _, tier := range event.Tiers {
			tag, err := r.exec(ctx, tierStmt, event.ID, tier.Name, int64(tier.Price), tier.Capacity)
			if err != nil {
				return fmt.Errorf("update tier %s: %w", tier.Name, err)
			}
			if tag.RowsAffected() == 0 {
				return domain.ErrTierNotFound
			}
		}
		return nil
	})
}

func (r *EventRepository) DeleteEvent(ctx context.Context, eventID string) error {
	if _, err := r.exec(ctx, `DELETE FROM events WHERE id = $1`, eventID); err != nil {
		if isInvalidUUID(err) {
			return domain.ErrInvalidID
		}
		return fmt.Errorf("delete event: %w", err)
	}
	return nil
}

// ListEvents pages through events in (date, id) order starting strictly
// after the cursor. A non-empty organizerID restricts the page to that
// organizer's events.
func (r *EventRepository) ListEvents(ctx context.Context, organizerID string, after domain.EventCursor, limit int) ([]domain.Event, error) {
	var (
		where []string
		args  []any
	)
	if organizerID != "" {
		args = append(args, organizerID)
		where = append(where, fmt.Sprintf("organizer_id = $%d", len(args)))
	}
	if !after.IsZero() {
		args = append(args, after.Date, after.ID)
		where = append(where, fmt.Sprintf("(event_date, id) > ($%d, $%d)", len(args)-1, len(args)))
	}
	args = append(args, limit)

	query := `
SELECT id, organizer_id, title, description, event_date, venue, created_at, updated_at
FROM events`
	if len(where) > 0 {
		query += "\nWHERE " + strings.Join(where, " AND ")
	}
	query += fmt.Sprintf("\nORDER BY event_date, id\nLIMIT $%d", len(args))

	rows, err := r.query(ctx, query, args...)
	if err != nil {
		if isInvalidUUID(err) {
			return nil, domain.Invalid("after", "malformed cursor")
		}
		return nil, fmt.Errorf("list events: %w", err)
	}

	events, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Event, error) {
		return scanEvent(row)
	})
	if err != nil {
		if isInvalidUUID(err) {
			return nil, domain.Invalid("after", "malformed cursor")
		}
		return nil, fmt.Errorf("scan events: %w", err)
	}
	if len(events) == 0 {
		return events, nil
	}

	ids := make([]string, len(events))
	for i, e := range events {
		ids[i] = e.ID
	}
	tiers, err := r.tiersFor(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range events {
		events[i].Tiers = tiers[events[i].ID]
	}
	return events, nil
}

func (r *EventRepository) tiersFor(ctx context.Context, eventIDs []string) (map[string][]domain.Tier, error) {
	const query = `
SELECT event_id, name, price, capacity
FROM event_tiers
WHERE event_id = ANY($1)
ORDER BY event_id, position`
	rows, err := r.query(ctx, query, eventIDs)
	if err != nil {
		return nil, fmt.Errorf("list tiers: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]domain.Tier, len(eventIDs))
	for rows.Next() {
		var (
			eventID string
			tier    domain.Tier
			price   int64
		)
		if err := rows.Scan(&eventID, &tier.Name, &price, &tier.Capacity); err != nil {
			return nil, fmt.Errorf("scan tier: %w", err)
		}
		tier.Price = domain.Money(price)
		out[eventID] = append(out[eventID], tier)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate tiers: %w", rows.Err())
	}
	return out, nil
}

func scanEvent(row pgx.Row) (domain.Event, error) {
	var e domain.Event
	err := row.Scan(&e.ID, &e.OrganizerID, &e.Title, &e.Description, &e.Date, &e.Venue, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return domain.Event{}, err
	}
	e.Date = e.Date.UTC()
	return e, nil
}
