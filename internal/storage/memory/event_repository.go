// Package memory keeps catalog records in process memory. It backs the API
// when no database is configured and the service-level tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/cimillas/ticket-engine/internal/domain"
)

type EventRepository struct {
	txMu   sync.Mutex
	mu     sync.RWMutex
	events map[string]domain.Event
}

func NewEventRepository() *EventRepository {
	return &EventRepository{events: make(map[string]domain.Event)}
}

// WithTx serializes fn against other transactions. There is no rollback: a
// failed fn leaves its earlier writes in place, so callers run the fallible
// checks first. fn must not call WithTx again.
func (r *EventRepository) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	r.txMu.Lock()
	defer r.txMu.Unlock()
	return fn(ctx)
}

func (r *EventRepository) CreateEvent(_ context.Context, event domain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.events[event.ID]; ok {
		return fmt.Errorf("create event %s: already exists", event.ID)
	}
	r.events[event.ID] = clone(event)
	return nil
}

func (r *EventRepository) GetEvent(_ context.Context, eventID string) (domain.Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	event, ok := r.events[eventID]
	if !ok {
		return domain.Event{}, domain.ErrEventNotFound
	}
	return clone(event), nil
}

func (r *EventRepository) UpdateEvent(_ context.Context, event domain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.events[event.ID]; !ok {
		return domain.ErrEventNotFound
	}
	r.events[event.ID] = clone(event)
	return nil
}

func (r *EventRepository) DeleteEvent(_ context.Context, eventID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.events, eventID)
	return nil
}

// ListEvents returns up to limit events ordered by (date, id) strictly after
// the cursor, optionally only those of organizerID.
func (r *EventRepository) ListEvents(_ context.Context, organizerID string, after domain.EventCursor, limit int) ([]domain.Event, error) {
	r.mu.RLock()
	out := make([]domain.Event, 0, len(r.events))
	for _, event := range r.events {
		if organizerID != "" && event.OrganizerID != organizerID {
			continue
		}
		if after.Precedes(event) {
			out = append(out, clone(event))
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func clone(e domain.Event) domain.Event {
	e.Tiers = append([]domain.Tier(nil), e.Tiers...)
	return e
}
