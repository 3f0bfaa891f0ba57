package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cimillas/ticket-engine/internal/clock"
	"github.com/cimillas/ticket-engine/internal/domain"
)

type slotKey struct {
	eventID string
	tier    string
}

// slot is the inventory of one tier. Its mutex is the only lock taken on the
// reserve/commit/release path, so unrelated tiers never contend.
type slot struct {
	mu       sync.Mutex
	name     string
	capacity int
	sold     int
	closed   bool
	tickets  map[string]*domain.Ticket
}

// Memory is an in-process Ledger.
type Memory struct {
	clock clock.Clock

	mu     sync.RWMutex
	slots  map[slotKey]*slot
	events map[string][]*slot

	index sync.Map // ticket id -> *slot
}

var _ Ledger = (*Memory)(nil)

func NewMemory(clk clock.Clock) *Memory {
	return &Memory{
		clock:  clk,
		slots:  make(map[slotKey]*slot),
		events: make(map[string][]*slot),
	}
}

func (m *Memory) Provision(_ context.Context, eventID string, tiers []domain.Tier) error {
	if err := domain.ValidateTiers(tiers); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.events[eventID]; exists {
		return fmt.Errorf("provision %s: inventory already exists", eventID)
	}
	ordered := make([]*slot, 0, len(tiers))
	for _, t := range tiers {
		s := &slot{
			name:     t.Name,
			capacity: t.Capacity,
			tickets:  make(map[string]*domain.Ticket),
		}
		m.slots[slotKey{eventID, t.Name}] = s
		ordered = append(ordered, s)
	}
	m.events[eventID] = ordered
	return nil
}

// Resize applies all capacity changes or none of them.
func (m *Memory) Resize(_ context.Context, eventID string, capacities map[string]int) error {
	if len(capacities) == 0 {
		return nil
	}

	names := make([]string, 0, len(capacities))
	for name, c := range capacities {
		if c < 0 {
			return domain.Invalid("tiers.capacity", "tier %q has a negative capacity", name)
		}
		names = append(names, name)
	}
	sort.Strings(names)

	m.mu.RLock()
	_, known := m.events[eventID]
	targets := make([]*slot, 0, len(names))
	for _, name := range names {
		s, ok := m.slots[slotKey{eventID, name}]
		if !ok {
			break
		}
		targets = append(targets, s)
	}
	m.mu.RUnlock()

	if !known {
		return domain.ErrEventNotFound
	}
	if len(targets) != len(names) {
		return domain.ErrTierNotFound
	}

	// Lock in name order so concurrent resizes of the same event cannot deadlock.
	for _, s := range targets {
		s.mu.Lock()
	}
	defer func() {
		for _, s := range targets {
			s.mu.Unlock()
		}
	}()

	for i, s := range targets {
		if s.closed {
			return domain.ErrEventNotFound
		}
		if s.sold > capacities[names[i]] {
			return domain.ErrCapacityShrinkBelowSold
		}
	}
	for i, s := range targets {
		s.capacity = capacities[names[i]]
	}
	return nil
}

// Close stops further sales for an event. Issued tickets are untouched.
func (m *Memory) Close(_ context.Context, eventID string) error {
	m.mu.RLock()
	slots := m.events[eventID]
	m.mu.RUnlock()

	for _, s := range slots {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
	}
	return nil
}

func (m *Memory) Reserve(_ context.Context, req ReserveRequest) (domain.Ticket, error) {
	m.mu.RLock()
	_, known := m.events[req.EventID]
	s := m.slots[slotKey{req.EventID, req.TierName}]
	m.mu.RUnlock()

	if !known {
		return domain.Ticket{}, domain.ErrEventNotFound
	}
	if s == nil {
		return domain.Ticket{}, domain.ErrTierNotFound
	}

	now := m.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return domain.Ticket{}, domain.ErrEventNotFound
	}
	if s.sold+1 > s.capacity {
		return domain.Ticket{}, domain.ErrSoldOut
	}
	s.sold++

	t := &domain.Ticket{
		ID:         uuid.NewString(),
		EventID:    req.EventID,
		TierName:   req.TierName,
		CustomerID: req.CustomerID,
		Method:     req.Method,
		Price:      req.Price,
		Status:     domain.TicketStatusReserved,
		ExpiresAt:  req.ExpiresAt,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	s.tickets[t.ID] = t
	m.index.Store(t.ID, s)
	return *t, nil
}

func (m *Memory) Commit(_ context.Context, ticketID string) (domain.Ticket, error) {
	s, err := m.slotOf(ticketID)
	if err != nil {
		return domain.Ticket{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.tickets[ticketID]
	switch t.Status {
	case domain.TicketStatusConfirmed:
		return *t, nil
	case domain.TicketStatusFailed:
		return *t, domain.ErrTicketNotReserved
	}
	t.Status = domain.TicketStatusConfirmed
	t.UpdatedAt = m.clock.Now()
	return *t, nil
}

func (m *Memory) Release(_ context.Context, ticketID string, reason domain.FailureReason) (domain.Ticket, error) {
	s, err := m.slotOf(ticketID)
	if err != nil {
		return domain.Ticket{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.tickets[ticketID]
	if t.Status.Terminal() {
		return *t, nil
	}
	t.Status = domain.TicketStatusFailed
	t.FailureReason = reason
	t.UpdatedAt = m.clock.Now()
	s.sold--
	return *t, nil
}

func (m *Memory) Ticket(_ context.Context, ticketID string) (domain.Ticket, error) {
	s, err := m.slotOf(ticketID)
	if err != nil {
		return domain.Ticket{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.tickets[ticketID], nil
}

func (m *Memory) TicketsByCustomer(_ context.Context, customerID string) ([]domain.Ticket, error) {
	var out []domain.Ticket
	m.eachSlot(func(s *slot) {
		for _, t := range s.tickets {
			if t.CustomerID == customerID {
				out = append(out, *t)
			}
		}
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// Expired returns reserved tickets whose deadline is at or before now,
// oldest deadline first.
func (m *Memory) Expired(_ context.Context, now time.Time, limit int) ([]domain.Ticket, error) {
	var out []domain.Ticket
	m.eachSlot(func(s *slot) {
		for _, t := range s.tickets {
			if t.Status != domain.TicketStatusReserved || t.ExpiresAt.IsZero() {
				continue
			}
			if !t.ExpiresAt.After(now) {
				out = append(out, *t)
			}
		}
	})
	sort.Slice(out, func(i, j int) bool {
		return out[i].ExpiresAt.Before(out[j].ExpiresAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) Availability(_ context.Context, eventID string) ([]TierAvailability, error) {
	m.mu.RLock()
	slots, ok := m.events[eventID]
	m.mu.RUnlock()
	if !ok {
		return nil, domain.ErrEventNotFound
	}

	out := make([]TierAvailability, 0, len(slots))
	for _, s := range slots {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return nil, domain.ErrEventNotFound
		}
		out = append(out, TierAvailability{
			TierName:  s.name,
			Capacity:  s.capacity,
			Sold:      s.sold,
			Remaining: s.capacity - s.sold,
		})
		s.mu.Unlock()
	}
	return out, nil
}

func (m *Memory) slotOf(ticketID string) (*slot, error) {
	v, ok := m.index.Load(ticketID)
	if !ok {
		return nil, domain.ErrTicketNotFound
	}
	return v.(*slot), nil
}

func (m *Memory) eachSlot(fn func(s *slot)) {
	m.mu.RLock()
	all := make([]*slot, 0, len(m.slots))
	for _, s := range m.slots {
		all = append(all, s)
	}
	m.mu.RUnlock()

	for _, s := range all {
		s.mu.Lock()
		fn(s)
		s.mu.Unlock()
	}
}
