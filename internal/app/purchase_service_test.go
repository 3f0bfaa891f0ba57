package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cimillas/ticket-engine/internal/domain"
	"github.com/cimillas/ticket-engine/internal/identity"
	"github.com/cimillas/ticket-engine/internal/payment"
)

const (
	customerToken  = "tok-customer"
	organizerToken = "tok-organizer"
)

type purchaseFixture struct {
	catalogFixture
	svc      *PurchaseService
	event    domain.Event
	observer *recordingObserver
	notifier *recordingNotifier
}

func newPurchaseFixture(t *testing.T, payments PaymentExecutor, opts ...PurchaseOption) purchaseFixture {
	t.Helper()
	cf := newCatalogFixture(t)
	ev, err := cf.svc.CreateEvent(context.Background(), organizer, musicFest())
	require.NoError(t, err)

	gate := identity.NewStaticGate(map[string]domain.Identity{
		customerToken:  customer,
		organizerToken: organizer,
	})
	if payments == nil {
		payments = payment.NewDispatcher(payment.Config{})
	}
	obs := &recordingObserver{}
	notif := &recordingNotifier{}
	logger, _ := test.NewNullLogger()
	opts = append([]PurchaseOption{WithPurchaseLogger(logger), WithObserver(obs), WithNotifier(notif)}, opts...)
	svc := NewPurchaseService(gate, cf.svc, cf.ledger, payments, cf.clock, opts...)
	return purchaseFixture{catalogFixture: cf, svc: svc, event: ev, observer: obs, notifier: notif}
}

func (f purchaseFixture) sold(t *testing.T, tier string) int {
	t.Helper()
	avail, err := f.ledger.Availability(context.Background(), f.event.ID)
	require.NoError(t, err)
	for _, a := range avail {
		if a.TierName == tier {
			return a.Sold
		}
	}
	t.Fatalf("tier %s not found", tier)
	return 0
}

func (f purchaseFixture) buy(method domain.PaymentMethod) (PurchaseResult, error) {
	return f.svc.Purchase(context.Background(), PurchaseInput{
		Token: customerToken, EventID: f.event.ID, TierName: "VIP", Method: method,
	})
}

func TestPurchase_CashConfirmsUntilSoldOut(t *testing.T) {
	f := newPurchaseFixture(t, nil)

	for i := 0; i < 2; i++ {
		res, err := f.buy(domain.PaymentMethodCash)
		require.NoError(t, err)
		assert.Equal(t, StateConfirmed, res.State)
		assert.Equal(t, domain.TicketStatusConfirmed, res.Ticket.Status)
		assert.Equal(t, domain.Money(10000), res.Price)
		assert.Nil(t, res.Artifact)
	}

	res, err := f.buy(domain.PaymentMethodCash)
	assert.ErrorIs(t, err, domain.ErrSoldOut)
	assert.Equal(t, StateFailed, res.State)
	assert.Equal(t, 2, f.sold(t, "VIP"))

	tickets, err := f.svc.CustomerTickets(context.Background(), customerToken)
	require.NoError(t, err)
	assert.Len(t, tickets, 2)
}

func TestPurchase_RejectsBeforeReserving(t *testing.T) {
	f := newPurchaseFixture(t, nil)
	ctx := context.Background()

	_, err := f.svc.Purchase(ctx, PurchaseInput{Token: organizerToken, EventID: f.event.ID, TierName: "VIP", Method: domain.PaymentMethodCash})
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = f.svc.Purchase(ctx, PurchaseInput{Token: "bogus", EventID: f.event.ID, TierName: "VIP", Method: domain.PaymentMethodCash})
	assert.ErrorIs(t, err, domain.ErrAuthInvalid)

	_, err = f.svc.Purchase(ctx, PurchaseInput{Token: customerToken, EventID: "missing", TierName: "VIP", Method: domain.PaymentMethodCash})
	assert.ErrorIs(t, err, domain.ErrEventNotFound)

	_, err = f.svc.Purchase(ctx, PurchaseInput{Token: customerToken, EventID: f.event.ID, TierName: "Balcony", Method: domain.PaymentMethodCash})
	assert.ErrorIs(t, err, domain.ErrTierNotFound)

	assert.Zero(t, f.sold(t, "VIP"))
	tickets, err := f.ledger.TicketsByCustomer(ctx, organizer.UserID)
	require.NoError(t, err)
	assert.Empty(t, tickets)
}

func TestPurchase_MobileWalletPendingThenConfirm(t *testing.T) {
	f := newPurchaseFixture(t, nil)
	ctx := context.Background()

	res, err := f.buy(domain.PaymentMethodMobileWallet)
	require.NoError(t, err)
	assert.Equal(t, StatePending, res.State)
	assert.Equal(t, domain.TicketStatusReserved, res.Ticket.Status)
	require.NotNil(t, res.Artifact)
	assert.NotEmpty(t, res.Artifact.Reference)
	assert.Contains(t, res.Artifact.QRPayload, res.Ticket.ID)
	assert.Equal(t, 1, f.sold(t, "VIP"))

	confirmed, err := f.svc.ConfirmExternalPayment(ctx, res.Ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusConfirmed, confirmed.Status)

	again, err := f.svc.ConfirmExternalPayment(ctx, res.Ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusConfirmed, again.Status)
	assert.Equal(t, 1, f.sold(t, "VIP"))

	_, err = f.svc.ConfirmExternalPayment(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrTicketNotFound)
	_, err = f.svc.ConfirmExternalPayment(ctx, "")
	assert.ErrorIs(t, err, domain.ErrInvalidID)

	assert.Equal(t, []domain.TicketStatus{
		domain.TicketStatusReserved,
		domain.TicketStatusConfirmed,
	}, f.notifier.statuses())
}

func TestPurchase_PaymentTimeoutReleasesSeat(t *testing.T) {
	f := newPurchaseFixture(t, nil, WithPaymentTimeout(15*time.Minute))
	ctx := context.Background()

	res, err := f.buy(domain.PaymentMethodMobileWallet)
	require.NoError(t, err)
	assert.Equal(t, f.clock.Now().Add(15*time.Minute), res.Ticket.ExpiresAt)

	f.clock.Advance(15 * time.Minute)
	_, err = f.svc.ConfirmExternalPayment(ctx, res.Ticket.ID)
	assert.ErrorIs(t, err, domain.ErrPaymentTimeout)
	assert.Zero(t, f.sold(t, "VIP"))

	// Further confirmations keep reporting the timeout.
	_, err = f.svc.ConfirmExternalPayment(ctx, res.Ticket.ID)
	assert.ErrorIs(t, err, domain.ErrPaymentTimeout)

	ticket, err := f.ledger.Ticket(ctx, res.Ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusFailed, ticket.Status)
	assert.Equal(t, domain.FailurePaymentTimeout, ticket.FailureReason)
	assert.Equal(t, 1, f.observer.released(domain.FailurePaymentTimeout))
}

func TestPurchase_ReleaseExpired(t *testing.T) {
	f := newPurchaseFixture(t, nil, WithPaymentTimeout(time.Minute))
	ctx := context.Background()

	_, err := f.buy(domain.PaymentMethodMobileWallet)
	require.NoError(t, err)
	_, err = f.buy(domain.PaymentMethodMobileWallet)
	require.NoError(t, err)
	_, err = f.buy(domain.PaymentMethodMobileWallet)
	assert.ErrorIs(t, err, domain.ErrSoldOut)

	n, err := f.svc.ReleaseExpired(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, n)

	f.clock.Advance(time.Minute)
	n = NewSweeper(f.svc, time.Hour, nil).Sweep(ctx)
	assert.Equal(t, 2, n)
	assert.Zero(t, f.sold(t, "VIP"))

	res, err := f.buy(domain.PaymentMethodCash)
	require.NoError(t, err)
	assert.Equal(t, StateConfirmed, res.State)
}

func TestPurchase_UnsupportedMethodReleases(t *testing.T) {
	f := newPurchaseFixture(t, nil)

	res, err := f.buy(domain.PaymentMethod("crypto"))
	assert.ErrorIs(t, err, domain.ErrUnsupportedPaymentMethod)
	assert.Equal(t, StateFailed, res.State)
	assert.Equal(t, domain.TicketStatusFailed, res.Ticket.Status)
	assert.Equal(t, domain.FailureUnsupportedMethod, res.Ticket.FailureReason)
	assert.Zero(t, f.sold(t, "VIP"))
}

func TestPurchase_PaymentErrorReleases(t *testing.T) {
	boom := errors.New("provider down")
	f := newPurchaseFixture(t, executorFunc(func(ctx context.Context) (payment.Outcome, error) {
		return payment.Outcome{}, boom
	}))

	res, err := f.buy(domain.PaymentMethodCash)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, domain.FailurePaymentError, res.Ticket.FailureReason)
	assert.Zero(t, f.sold(t, "VIP"))
	assert.Equal(t, 1, f.observer.released(domain.FailurePaymentError))
}

func TestPurchase_ExecuteTimeout(t *testing.T) {
	f := newPurchaseFixture(t, executorFunc(func(ctx context.Context) (payment.Outcome, error) {
		<-ctx.Done()
		return payment.Outcome{}, ctx.Err()
	}), WithExecuteTimeout(20*time.Millisecond))

	res, err := f.buy(domain.PaymentMethodCash)
	assert.ErrorIs(t, err, domain.ErrPaymentTimeout)
	assert.Equal(t, domain.FailurePaymentTimeout, res.Ticket.FailureReason)
	assert.Zero(t, f.sold(t, "VIP"))
}

func TestPurchase_CancelledCallerReleases(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	f := newPurchaseFixture(t, executorFunc(func(execCtx context.Context) (payment.Outcome, error) {
		cancel()
		<-execCtx.Done()
		return payment.Outcome{}, execCtx.Err()
	}))

	res, err := f.svc.Purchase(ctx, PurchaseInput{Token: customerToken, EventID: f.event.ID, TierName: "VIP", Method: domain.PaymentMethodCash})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, domain.FailureAbandoned, res.Ticket.FailureReason)
	assert.Zero(t, f.sold(t, "VIP"))
}

func TestPurchase_ConcurrentBuyersNeverOversell(t *testing.T) {
	f := newPurchaseFixture(t, nil)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		confirmed int
		soldOut   int
	)
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.buy(domain.PaymentMethodCash)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				confirmed++
			case errors.Is(err, domain.ErrSoldOut):
				soldOut++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 2, confirmed)
	assert.Equal(t, 48, soldOut)
	assert.Equal(t, 2, f.sold(t, "VIP"))
}

func TestCustomerTickets_RequiresCustomer(t *testing.T) {
	f := newPurchaseFixture(t, nil)
	_, err := f.svc.CustomerTickets(context.Background(), organizerToken)
	assert.ErrorIs(t, err, domain.ErrForbidden)
	_, err = f.svc.CustomerTickets(context.Background(), "")
	assert.ErrorIs(t, err, domain.ErrAuthInvalid)
}

type executorFunc func(ctx context.Context) (payment.Outcome, error)

func (fn executorFunc) Execute(ctx context.Context, _ domain.PaymentMethod, _ domain.Ticket, _ domain.Event, _ domain.Money) (payment.Outcome, error) {
	return fn(ctx)
}

type recordingObserver struct {
	mu       sync.Mutex
	finished []PurchaseState
	releases map[domain.FailureReason]int
}

func (o *recordingObserver) PurchaseFinished(state PurchaseState, _ error) {
	o.mu.Lock()
	o.finished = append(o.finished, state)
	o.mu.Unlock()
}

func (o *recordingObserver) TicketReleased(reason domain.FailureReason) {
	o.mu.Lock()
	if o.releases == nil {
		o.releases = make(map[domain.FailureReason]int)
	}
	o.releases[reason]++
	o.mu.Unlock()
}

func (o *recordingObserver) released(reason domain.FailureReason) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.releases[reason]
}

type recordingNotifier struct {
	mu      sync.Mutex
	tickets []domain.Ticket
}

func (n *recordingNotifier) TicketChanged(_ context.Context, t domain.Ticket) error {
	n.mu.Lock()
	n.tickets = append(n.tickets, t)
	n.mu.Unlock()
	return nil
}

func (n *recordingNotifier) statuses() []domain.TicketStatus {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]domain.TicketStatus, len(n.tickets))
	for i, t := range n.tickets {
		out[i] = t.Status
	}
	return out
}

func TestMusicFest_LastVIPSeat(t *testing.T) {
	ctx := context.Background()
	cf := newCatalogFixture(t)

	in := musicFest()
	in.Tiers[0].Capacity = 1
	ev, err := cf.svc.CreateEvent(ctx, organizer, in)
	require.NoError(t, err)

	gate := identity.NewStaticGate(map[string]domain.Identity{
		"tok-a": {UserID: "cust-a", Role: domain.RoleCustomer},
		"tok-b": {UserID: "cust-b", Role: domain.RoleCustomer},
	})
	logger, _ := test.NewNullLogger()
	svc := NewPurchaseService(gate, cf.svc, cf.ledger, payment.NewDispatcher(payment.Config{}), cf.clock, WithPurchaseLogger(logger))

	a, err := svc.Purchase(ctx, PurchaseInput{Token: "tok-a", EventID: ev.ID, TierName: "VIP", Method: domain.PaymentMethodCash})
	require.NoError(t, err)
	assert.Equal(t, StateConfirmed, a.State)
	assert.Equal(t, domain.TicketStatusConfirmed, a.Ticket.Status)
	assert.Equal(t, "cust-a", a.Ticket.CustomerID)

	b, err := svc.Purchase(ctx, PurchaseInput{Token: "tok-b", EventID: ev.ID, TierName: "VIP", Method: domain.PaymentMethodCash})
	assert.ErrorIs(t, err, domain.ErrSoldOut)
	assert.Equal(t, StateFailed, b.State)

	zero := 0
	_, err = cf.svc.UpdateEvent(ctx, organizer, ev.ID, EventPatch{Tiers: []TierPatch{{Name: "VIP", Capacity: &zero}}})
	assert.ErrorIs(t, err, domain.ErrCapacityShrinkBelowSold)

	avail, err := cf.svc.Availability(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, avail[0].Capacity)
	assert.Equal(t, 1, avail[0].Sold)
	assert.Equal(t, 0, avail[0].Remaining)

	stored, err := cf.svc.GetEvent(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.Tiers[0].Capacity)
}
