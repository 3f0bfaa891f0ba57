package app

import (
	"context"
	"errors"
	"iter"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/cimillas/ticket-engine/internal/clock"
	"github.com/cimillas/ticket-engine/internal/domain"
	"github.com/cimillas/ticket-engine/internal/ledger"
)

type EventRepository interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	CreateEvent(ctx context.Context, event domain.Event) error
	GetEvent(ctx context.Context, eventID string) (domain.Event, error)
	UpdateEvent(ctx context.Context, event domain.Event) error
	DeleteEvent(ctx context.Context, eventID string) error
	ListEvents(ctx context.Context, organizerID string, after domain.EventCursor, limit int) ([]domain.Event, error)
}

// Inventory is the part of the ledger the catalog drives.
type Inventory interface {
	Provision(ctx context.Context, eventID string, tiers []domain.Tier) error
	Resize(ctx context.Context, eventID string, capacities map[string]int) error
	Close(ctx context.Context, eventID string) error
	Availability(ctx context.Context, eventID string) ([]ledger.TierAvailability, error)
}

type CatalogService struct {
	repo     EventRepository
	inv      Inventory
	clock    clock.Clock
	logger   logrus.FieldLogger
	pageSize int
}

const defaultEventPageSize = 50

type CatalogOption func(*CatalogService)

// WithPageSize sets how many events are fetched per repository round trip.
func WithPageSize(n int) CatalogOption {
	return func(s *CatalogService) {
		if n > 0 {
			s.pageSize = n
		}
	}
}

func WithCatalogLogger(l logrus.FieldLogger) CatalogOption {
	return func(s *CatalogService) {
		if l != nil {
			s.logger = l
		}
	}
}

func NewCatalogService(repo EventRepository, inv Inventory, clk clock.Clock, opts ...CatalogOption) *CatalogService {
	svc := &CatalogService{
		repo:     repo,
		inv:      inv,
		clock:    clk,
		logger:   logrus.StandardLogger(),
		pageSize: defaultEventPageSize,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

type EventInput struct {
	Title       string
	Description string
	Date        string
	Venue       string
	Tiers       []domain.Tier
}

// TierPatch changes one existing tier. Nil fields are left alone.
type TierPatch struct {
	Name     string
	Price    *domain.Money
	Capacity *int
}

type EventPatch struct {
	Title       *string
	Description *string
	Date        *string
	Venue       *string
	Tiers       []TierPatch
}

func (s *CatalogService) CreateEvent(ctx context.Context, caller domain.Identity, in EventInput) (domain.Event, error) {
	if err := s.requireOrganizer(caller, "create_event", ""); err != nil {
		return domain.Event{}, err
	}
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return domain.Event{}, domain.Invalid("title", "is required")
	}
	date, err := domain.ParseDate(in.Date)
	if err != nil {
		return domain.Event{}, err
	}
	if err := domain.ValidateTiers(in.Tiers); err != nil {
		return domain.Event{}, err
	}

	now := s.clock.Now()
	event := domain.Event{
		ID:          uuid.NewString(),
		OrganizerID: caller.UserID,
		Title:       title,
		Description: in.Description,
		Date:        date,
		Venue:       strings.TrimSpace(in.Venue),
		Tiers:       append([]domain.Tier(nil), in.Tiers...),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err = s.repo.WithTx(ctx, func(txCtx context.Context) error {
		if err := s.repo.CreateEvent(txCtx, event); err != nil {
			return err
		}
		return s.inv.Provision(txCtx, event.ID, event.Tiers)
	})
	if err != nil {
		return domain.Event{}, err
	}

	s.logger.WithFields(logrus.Fields{
		"event_id":     event.ID,
		"organizer_id": caller.UserID,
		"tiers":        len(event.Tiers),
	}).Info("event created")
	return event, nil
}

// UpdateEvent applies patch atomically: either every metadata and capacity
// change lands or none does.
func (s *CatalogService) UpdateEvent(ctx context.Context, caller domain.Identity, eventID string, patch EventPatch) (domain.Event, error) {
	if err := s.requireOrganizer(caller, "update_event", eventID); err != nil {
		return domain.Event{}, err
	}

	var updated domain.Event
	err := s.repo.WithTx(ctx, func(txCtx context.Context) error {
		event, err := s.repo.GetEvent(txCtx, eventID)
		if err != nil {
			return err
		}
		if !event.OwnedBy(caller.UserID) {
			s.securityWarn(caller, "update_event", eventID, domain.ErrNotOwner)
			return domain.ErrNotOwner
		}

		next, capacities, err := applyPatch(event, patch)
		if err != nil {
			return err
		}
		next.UpdatedAt = s.clock.Now()

		if err := s.inv.Resize(txCtx, eventID, capacities); err != nil {
			return err
		}
		if err := s.repo.UpdateEvent(txCtx, next); err != nil {
			return err
		}
		updated = next
		return nil
	})
	if err != nil {
		return domain.Event{}, err
	}
	return updated, nil
}

func applyPatch(event domain.Event, patch EventPatch) (domain.Event, map[string]int, error) {
	next := event
	next.Tiers = append([]domain.Tier(nil), event.Tiers...)

	if patch.Title != nil {
		title := strings.TrimSpace(*patch.Title)
		if title == "" {
			return domain.Event{}, nil, domain.Invalid("title", "is required")
		}
		next.Title = title
	}
	if patch.Description != nil {
		next.Description = *patch.Description
	}
	if patch.Venue != nil {
		next.Venue = strings.TrimSpace(*patch.Venue)
	}
	if patch.Date != nil {
		date, err := domain.ParseDate(*patch.Date)
		if err != nil {
			return domain.Event{}, nil, err
		}
		next.Date = date
	}

	capacities := make(map[string]int)
	for _, tp := range patch.Tiers {
		idx := -1
		for i := range next.Tiers {
			if next.Tiers[i].Name == tp.Name {
				idx = i
				break
			}
		}
		if idx < 0 {
			return domain.Event{}, nil, domain.ErrTierNotFound
		}
		if tp.Price != nil {
			next.Tiers[idx].Price = *tp.Price
		}
		if tp.Capacity != nil {
			next.Tiers[idx].Capacity = *tp.Capacity
			capacities[tp.Name] = *tp.Capacity
		}
	}
	if err := domain.ValidateTiers(next.Tiers); err != nil {
		return domain.Event{}, nil, err
	}
	return next, capacities, nil
}

// DeleteEvent removes the event and stops its sales. Deleting an event that
// does not exist succeeds.
func (s *CatalogService) DeleteEvent(ctx context.Context, caller domain.Identity, eventID string) error {
	if err := s.requireOrganizer(caller, "delete_event", eventID); err != nil {
		return err
	}
	return s.repo.WithTx(ctx, func(txCtx context.Context) error {
		event, err := s.repo.GetEvent(txCtx, eventID)
		if errors.Is(err, domain.ErrEventNotFound) || errors.Is(err, domain.ErrInvalidID) {
			return nil
		}
		if err != nil {
			return err
		}
		if !event.OwnedBy(caller.UserID) {
			s.securityWarn(caller, "delete_event", eventID, domain.ErrNotOwner)
			return domain.ErrNotOwner
		}
		if err := s.repo.DeleteEvent(txCtx, eventID); err != nil {
			return err
		}
		if err := s.inv.Close(txCtx, eventID); err != nil {
			return err
		}
		s.logger.WithFields(logrus.Fields{
			"event_id":     eventID,
			"organizer_id": caller.UserID,
		}).Info("event deleted")
		return nil
	})
}

func (s *CatalogService) GetEvent(ctx context.Context, eventID string) (domain.Event, error) {
	if eventID == "" {
		return domain.Event{}, domain.ErrInvalidID
	}
	return s.repo.GetEvent(ctx, eventID)
}

// Events yields events in date order starting after the cursor. The sequence
// is lazy: pages are fetched as the caller advances. Ranging over it again
// restarts from the same cursor.
func (s *CatalogService) Events(ctx context.Context, after domain.EventCursor) iter.Seq2[domain.Event, error] {
	return s.events(ctx, "", after)
}

// OrganizerEvents is Events restricted to the events caller organizes. A
// caller who is not an organizer gets a single domain.ErrForbidden.
func (s *CatalogService) OrganizerEvents(ctx context.Context, caller domain.Identity, after domain.EventCursor) iter.Seq2[domain.Event, error] {
	if err := s.requireOrganizer(caller, "list_own_events", ""); err != nil {
		return func(yield func(domain.Event, error) bool) {
			yield(domain.Event{}, err)
		}
	}
	return s.events(ctx, caller.UserID, after)
}

func (s *CatalogService) events(ctx context.Context, organizerID string, after domain.EventCursor) iter.Seq2[domain.Event, error] {
	return func(yield func(domain.Event, error) bool) {
		cursor := after
		for {
			page, err := s.repo.ListEvents(ctx, organizerID, cursor, s.pageSize)
			if err != nil {
				yield(domain.Event{}, err)
				return
			}
			for _, event := range page {
				if !yield(event, nil) {
					return
				}
			}
			if len(page) < s.pageSize {
				return
			}
			cursor = domain.CursorAfter(page[len(page)-1])
		}
	}
}

func (s *CatalogService) Availability(ctx context.Context, eventID string) ([]ledger.TierAvailability, error) {
	if eventID == "" {
		return nil, domain.ErrInvalidID
	}
	return s.inv.Availability(ctx, eventID)
}

func (s *CatalogService) requireOrganizer(caller domain.Identity, action, eventID string) error {
	if caller.Role == domain.RoleOrganizer && caller.UserID != "" {
		return nil
	}
	s.securityWarn(caller, action, eventID, domain.ErrForbidden)
	return domain.ErrForbidden
}

func (s *CatalogService) securityWarn(caller domain.Identity, action, eventID string, err error) {
	s.logger.WithFields(logrus.Fields{
		"security": true,
		"action":   action,
		"user_id":  caller.UserID,
		"role":     caller.Role,
		"event_id": eventID,
	}).Warn(err.Error())
}
