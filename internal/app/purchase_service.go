package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cimillas/ticket-engine/internal/clock"
	"github.com/cimillas/ticket-engine/internal/domain"
	"github.com/cimillas/ticket-engine/internal/ledger"
	"github.com/cimillas/ticket-engine/internal/payment"
)

type Authorizer interface {
	Authorize(ctx context.Context, token string) (domain.Identity, error)
}

type EventReader interface {
	GetEvent(ctx context.Context, eventID string) (domain.Event, error)
}

type PaymentExecutor interface {
	Execute(ctx context.Context, method domain.PaymentMethod, ticket domain.Ticket, event domain.Event, price domain.Money) (payment.Outcome, error)
}

// TicketNotifier is told about every ticket state change. Failures are logged
// and never affect the purchase.
type TicketNotifier interface {
	TicketChanged(ctx context.Context, ticket domain.Ticket) error
}

// PurchaseObserver receives purchase outcomes for metrics.
type PurchaseObserver interface {
	PurchaseFinished(state PurchaseState, err error)
	TicketReleased(reason domain.FailureReason)
}

type PurchaseState string

const (
	StateAuthorizing PurchaseState = "authorizing"
	StateReserving   PurchaseState = "reserving"
	StatePaying      PurchaseState = "paying"
	StatePending     PurchaseState = "pending"
	StateConfirmed   PurchaseState = "confirmed"
	StateFailed      PurchaseState = "failed"
)

type PurchaseService struct {
	gate     Authorizer
	catalog  EventReader
	ledger   ledger.Ledger
	payments PaymentExecutor
	clock    clock.Clock

	paymentTimeout time.Duration
	executeTimeout time.Duration
	logger         logrus.FieldLogger
	notifier       TicketNotifier
	observer       PurchaseObserver
}

const (
	defaultPaymentTimeout = 15 * time.Minute
	defaultExecuteTimeout = 10 * time.Second
)

type PurchaseOption func(*PurchaseService)

// WithPaymentTimeout bounds how long a reservation may wait for an external
// payment confirmation before it is released.
func WithPaymentTimeout(d time.Duration) PurchaseOption {
	return func(s *PurchaseService) {
		if d > 0 {
			s.paymentTimeout = d
		}
	}
}

// WithExecuteTimeout bounds a single payment strategy call.
func WithExecuteTimeout(d time.Duration) PurchaseOption {
	return func(s *PurchaseService) {
		if d > 0 {
			s.executeTimeout = d
		}
	}
}

func WithPurchaseLogger(l logrus.FieldLogger) PurchaseOption {
	return func(s *PurchaseService) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithNotifier(n TicketNotifier) PurchaseOption {
	return func(s *PurchaseService) {
		if n != nil {
			s.notifier = n
		}
	}
}

func WithObserver(o PurchaseObserver) PurchaseOption {
	return func(s *PurchaseService) {
		if o != nil {
			s.observer = o
		}
	}
}

func NewPurchaseService(gate Authorizer, catalog EventReader, l ledger.Ledger, payments PaymentExecutor, clk clock.Clock, opts ...PurchaseOption) *PurchaseService {
	svc := &PurchaseService{
		gate:           gate,
		catalog:        catalog,
		ledger:         l,
		payments:       payments,
		clock:          clk,
		paymentTimeout: defaultPaymentTimeout,
		executeTimeout: defaultExecuteTimeout,
		logger:         logrus.StandardLogger(),
		notifier:       nopNotifier{},
		observer:       nopObserver{},
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

type PurchaseInput struct {
	Token    string
	EventID  string
	TierName string
	Method   domain.PaymentMethod
}

// PurchaseResult describes where an attempt ended. Artifact is set when the
// ticket awaits an external payment.
type PurchaseResult struct {
	State    PurchaseState
	Ticket   domain.Ticket
	Price    domain.Money
	Artifact *payment.Artifact
}

// Purchase runs one attempt through authorizing, reserving and paying. Once a
// seat is reserved the attempt always resolves: a failed, timed out or
// abandoned payment releases the seat before Purchase returns.
func (s *PurchaseService) Purchase(ctx context.Context, in PurchaseInput) (res PurchaseResult, err error) {
	defer func() {
		s.observer.PurchaseFinished(res.State, err)
	}()

	caller, err := s.gate.Authorize(ctx, in.Token)
	if err != nil {
		return PurchaseResult{State: StateFailed}, err
	}
	if caller.Role != domain.RoleCustomer {
		s.logger.WithFields(logrus.Fields{
			"security": true,
			"action":   "purchase",
			"user_id":  caller.UserID,
			"role":     caller.Role,
			"event_id": in.EventID,
		}).Warn(domain.ErrForbidden.Error())
		return PurchaseResult{State: StateFailed}, domain.ErrForbidden
	}

	log := s.logger.WithFields(logrus.Fields{
		"customer_id": caller.UserID,
		"event_id":    in.EventID,
		"tier":        in.TierName,
		"method":      in.Method,
	})

	event, err := s.catalog.GetEvent(ctx, in.EventID)
	if err != nil {
		return PurchaseResult{State: StateFailed}, err
	}
	tier, ok := event.Tier(in.TierName)
	if !ok {
		return PurchaseResult{State: StateFailed}, domain.ErrTierNotFound
	}

	ticket, err := s.ledger.Reserve(ctx, ledger.ReserveRequest{
		EventID:    event.ID,
		TierName:   tier.Name,
		CustomerID: caller.UserID,
		Method:     in.Method,
		Price:      tier.Price,
		ExpiresAt:  s.clock.Now().Add(s.paymentTimeout),
	})
	if err != nil {
		log.WithError(err).Info("reservation rejected")
		return PurchaseResult{State: StateFailed, Price: tier.Price}, err
	}
	log = log.WithField("ticket_id", ticket.ID)
	s.notify(ctx, ticket)

	// The seat is now held. Compensation must survive the caller going away.
	settle := context.WithoutCancel(ctx)

	execCtx, cancel := context.WithTimeout(ctx, s.executeTimeout)
	outcome, err := s.payments.Execute(execCtx, in.Method, ticket, event, tier.Price)
	cancel()
	if err != nil {
		reason := domain.FailurePaymentError
		switch {
		case ctx.Err() != nil:
			reason = domain.FailureAbandoned
			err = ctx.Err()
		case errors.Is(err, domain.ErrUnsupportedPaymentMethod):
			reason = domain.FailureUnsupportedMethod
		case errors.Is(err, context.DeadlineExceeded):
			reason = domain.FailurePaymentTimeout
			err = fmt.Errorf("%w: %v", domain.ErrPaymentTimeout, err)
		}
		return s.fail(settle, log, ticket, tier.Price, reason, err)
	}

	switch outcome.Kind {
	case payment.OutcomeImmediate:
		confirmed, err := s.ledger.Commit(settle, ticket.ID)
		if err != nil {
			return s.fail(settle, log, ticket, tier.Price, domain.FailurePaymentError, err)
		}
		s.notify(settle, confirmed)
		log.Info("ticket confirmed")
		return PurchaseResult{State: StateConfirmed, Ticket: confirmed, Price: tier.Price}, nil

	case payment.OutcomePending:
		if ctx.Err() != nil {
			return s.fail(settle, log, ticket, tier.Price, domain.FailureAbandoned, ctx.Err())
		}
		log.WithField("reference", outcome.Artifact.Reference).Info("awaiting external payment")
		return PurchaseResult{
			State:    StatePending,
			Ticket:   ticket,
			Price:    tier.Price,
			Artifact: outcome.Artifact,
		}, nil

	default:
		return s.fail(settle, log, ticket, tier.Price, domain.FailurePaymentError,
			fmt.Errorf("%w: unknown outcome %s", domain.ErrPaymentFailed, outcome.Kind))
	}
}

func (s *PurchaseService) fail(ctx context.Context, log logrus.FieldLogger, ticket domain.Ticket, price domain.Money, reason domain.FailureReason, cause error) (PurchaseResult, error) {
	released, err := s.release(ctx, ticket.ID, reason)
	if err != nil {
		log.WithError(err).Error("release after failed payment")
		return PurchaseResult{State: StateFailed, Ticket: ticket, Price: price}, errors.Join(cause, err)
	}
	log.WithError(cause).WithField("reason", reason).Warn("purchase failed, seat released")
	return PurchaseResult{State: StateFailed, Ticket: released, Price: price}, cause
}

// ConfirmExternalPayment advances a reserved ticket to confirmed once the
// payment provider reports success. Confirming an already confirmed ticket
// succeeds; confirming after the payment deadline releases the seat and
// fails with domain.ErrPaymentTimeout.
func (s *PurchaseService) ConfirmExternalPayment(ctx context.Context, ticketID string) (domain.Ticket, error) {
	if ticketID == "" {
		return domain.Ticket{}, domain.ErrInvalidID
	}
	ticket, err := s.ledger.Ticket(ctx, ticketID)
	if err != nil {
		return domain.Ticket{}, err
	}

	switch ticket.Status {
	case domain.TicketStatusConfirmed:
		return ticket, nil
	case domain.TicketStatusFailed:
		return ticket, failedTicketError(ticket)
	}

	if !ticket.ExpiresAt.IsZero() && !s.clock.Now().Before(ticket.ExpiresAt) {
		released, err := s.release(ctx, ticketID, domain.FailurePaymentTimeout)
		if err != nil {
			return domain.Ticket{}, err
		}
		return released, failedTicketError(released)
	}

	confirmed, err := s.ledger.Commit(ctx, ticketID)
	if errors.Is(err, domain.ErrTicketNotReserved) {
		// Lost the race against the sweeper.
		return confirmed, failedTicketError(confirmed)
	}
	if err != nil {
		return domain.Ticket{}, err
	}
	s.notify(ctx, confirmed)
	s.logger.WithField("ticket_id", ticketID).Info("external payment confirmed")
	return confirmed, nil
}

func failedTicketError(t domain.Ticket) error {
	if t.FailureReason == domain.FailurePaymentTimeout {
		return domain.ErrPaymentTimeout
	}
	return domain.ErrTicketNotReserved
}

// ReleaseExpired releases up to limit reservations whose payment deadline
// passed. It returns how many seats were freed.
func (s *PurchaseService) ReleaseExpired(ctx context.Context, limit int) (int, error) {
	expired, err := s.ledger.Expired(ctx, s.clock.Now(), limit)
	if err != nil {
		return 0, err
	}
	freed := 0
	for _, t := range expired {
		if err := ctx.Err(); err != nil {
			return freed, err
		}
		released, err := s.release(ctx, t.ID, domain.FailurePaymentTimeout)
		if err != nil {
			s.logger.WithError(err).WithField("ticket_id", t.ID).Error("release expired reservation")
			continue
		}
		if released.FailureReason == domain.FailurePaymentTimeout {
			freed++
		}
	}
	return freed, nil
}

// CustomerTickets lists the caller's own tickets.
func (s *PurchaseService) CustomerTickets(ctx context.Context, token string) ([]domain.Ticket, error) {
	caller, err := s.gate.Authorize(ctx, token)
	if err != nil {
		return nil, err
	}
	if caller.Role != domain.RoleCustomer {
		return nil, domain.ErrForbidden
	}
	return s.ledger.TicketsByCustomer(ctx, caller.UserID)
}

func (s *PurchaseService) release(ctx context.Context, ticketID string, reason domain.FailureReason) (domain.Ticket, error) {
	before, err := s.ledger.Ticket(ctx, ticketID)
	if err != nil {
		return domain.Ticket{}, err
	}
	released, err := s.ledger.Release(ctx, ticketID, reason)
	if err != nil {
		return domain.Ticket{}, err
	}
	if before.Status == domain.TicketStatusReserved && released.Status == domain.TicketStatusFailed {
		s.observer.TicketReleased(reason)
		s.notify(ctx, released)
	}
	return released, nil
}

func (s *PurchaseService) notify(ctx context.Context, t domain.Ticket) {
	if err := s.notifier.TicketChanged(ctx, t); err != nil {
		s.logger.WithError(err).WithField("ticket_id", t.ID).Warn("ticket notification failed")
	}
}

type nopNotifier struct{}

func (nopNotifier) TicketChanged(context.Context, domain.Ticket) error { return nil }

type nopObserver struct{}

func (nopObserver) PurchaseFinished(PurchaseState, error) {}
func (nopObserver) TicketReleased(domain.FailureReason)   {}
