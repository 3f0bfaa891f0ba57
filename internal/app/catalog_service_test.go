package app

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cimillas/ticket-engine/internal/clock"
	"github.com/cimillas/ticket-engine/internal/domain"
	"github.com/cimillas/ticket-engine/internal/ledger"
	"github.com/cimillas/ticket-engine/internal/storage/memory"
)

var (
	organizer = domain.Identity{UserID: "org-1", Role: domain.RoleOrganizer}
	rival     = domain.Identity{UserID: "org-2", Role: domain.RoleOrganizer}
	customer  = domain.Identity{UserID: "cust-1", Role: domain.RoleCustomer}
)

func testNow() time.Time {
	return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
}

type catalogFixture struct {
	svc    *CatalogService
	ledger *ledger.Memory
	repo   *memory.EventRepository
	clock  *clock.Manual
	logs   *test.Hook
}

func newCatalogFixture(t *testing.T, opts ...CatalogOption) catalogFixture {
	t.Helper()
	logger, hook := test.NewNullLogger()
	clk := clock.NewManual(testNow())
	repo := memory.NewEventRepository()
	l := ledger.NewMemory(clk)
	opts = append([]CatalogOption{WithCatalogLogger(logger)}, opts...)
	return catalogFixture{
		svc:    NewCatalogService(repo, l, clk, opts...),
		ledger: l,
		repo:   repo,
		clock:  clk,
		logs:   hook,
	}
}

func musicFest() EventInput {
	return EventInput{
		Title: "Music Fest",
		Date:  "2025-07-14",
		Venue: "Main Arena",
		Tiers: []domain.Tier{
			{Name: "VIP", Price: 10000, Capacity: 2},
			{Name: "Normal", Price: 2500, Capacity: 100},
		},
	}
}

func TestCatalogService_CreateAndRead(t *testing.T) {
	f := newCatalogFixture(t)
	ctx := context.Background()

	ev, err := f.svc.CreateEvent(ctx, organizer, musicFest())
	require.NoError(t, err)
	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, organizer.UserID, ev.OrganizerID)
	assert.Equal(t, time.Date(2025, 7, 14, 0, 0, 0, 0, time.UTC), ev.Date)

	got, err := f.svc.GetEvent(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, ev, got)

	avail, err := f.svc.Availability(ctx, ev.ID)
	require.NoError(t, err)
	require.Len(t, avail, 2)
	for _, a := range avail {
		assert.Zero(t, a.Sold)
		assert.Equal(t, a.Capacity, a.Remaining)
	}

	var listed []string
	for e, err := range f.svc.Events(ctx, domain.EventCursor{}) {
		require.NoError(t, err)
		listed = append(listed, e.ID)
	}
	assert.Equal(t, []string{ev.ID}, listed)
}

func TestCatalogService_CreateRejects(t *testing.T) {
	f := newCatalogFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateEvent(ctx, customer, musicFest())
	assert.ErrorIs(t, err, domain.ErrForbidden)
	require.NotNil(t, f.logs.LastEntry())
	assert.Equal(t, logrus.WarnLevel, f.logs.LastEntry().Level)
	assert.Equal(t, true, f.logs.LastEntry().Data["security"])

	in := musicFest()
	in.Title = "  "
	_, err = f.svc.CreateEvent(ctx, organizer, in)
	assert.ErrorIs(t, err, domain.ErrValidation)

	in = musicFest()
	in.Date = "14/07/2025"
	_, err = f.svc.CreateEvent(ctx, organizer, in)
	assert.ErrorIs(t, err, domain.ErrValidation)

	in = musicFest()
	in.Tiers = append(in.Tiers, domain.Tier{Name: "VIP", Capacity: 1})
	_, err = f.svc.CreateEvent(ctx, organizer, in)
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.svc.GetEvent(ctx, "")
	assert.ErrorIs(t, err, domain.ErrInvalidID)
	_, err = f.svc.GetEvent(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrEventNotFound)
}

func TestCatalogService_UpdateEvent(t *testing.T) {
	f := newCatalogFixture(t)
	ctx := context.Background()
	ev, err := f.svc.CreateEvent(ctx, organizer, musicFest())
	require.NoError(t, err)

	title := "Music Fest 2025"
	capacity := 5
	price := domain.Money(12000)
	updated, err := f.svc.UpdateEvent(ctx, organizer, ev.ID, EventPatch{
		Title: &title,
		Tiers: []TierPatch{{Name: "VIP", Capacity: &capacity, Price: &price}},
	})
	require.NoError(t, err)
	assert.Equal(t, title, updated.Title)
	vip, ok := updated.Tier("VIP")
	require.True(t, ok)
	assert.Equal(t, 5, vip.Capacity)
	assert.Equal(t, domain.Money(12000), vip.Price)

	avail, err := f.svc.Availability(ctx, ev.ID)
	require.NoError(t, err)
	for _, a := range avail {
		if a.TierName == "VIP" {
			assert.Equal(t, 5, a.Capacity)
		}
	}

	_, err = f.svc.UpdateEvent(ctx, rival, ev.ID, EventPatch{Title: &title})
	assert.ErrorIs(t, err, domain.ErrNotOwner)

	_, err = f.svc.UpdateEvent(ctx, organizer, ev.ID, EventPatch{Tiers: []TierPatch{{Name: "Balcony", Capacity: &capacity}}})
	assert.ErrorIs(t, err, domain.ErrTierNotFound)

	_, err = f.svc.UpdateEvent(ctx, organizer, "missing", EventPatch{Title: &title})
	assert.ErrorIs(t, err, domain.ErrEventNotFound)
}

func TestCatalogService_UpdateEventShrinkBelowSold(t *testing.T) {
	f := newCatalogFixture(t)
	ctx := context.Background()
	ev, err := f.svc.CreateEvent(ctx, organizer, musicFest())
	require.NoError(t, err)

	for range 2 {
		_, err := f.ledger.Reserve(ctx, ledger.ReserveRequest{
			EventID: ev.ID, TierName: "VIP", CustomerID: customer.UserID,
			Method: domain.PaymentMethodCash, Price: 10000, ExpiresAt: testNow().Add(time.Hour),
		})
		require.NoError(t, err)
	}

	one := 1
	title := "renamed"
	_, err = f.svc.UpdateEvent(ctx, organizer, ev.ID, EventPatch{
		Title: &title,
		Tiers: []TierPatch{{Name: "VIP", Capacity: &one}},
	})
	assert.ErrorIs(t, err, domain.ErrCapacityShrinkBelowSold)

	// Nothing from the rejected patch landed.
	got, err := f.svc.GetEvent(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, "Music Fest", got.Title)
	vip, _ := got.Tier("VIP")
	assert.Equal(t, 2, vip.Capacity)
}

func TestCatalogService_DeleteEvent(t *testing.T) {
	f := newCatalogFixture(t)
	ctx := context.Background()
	ev, err := f.svc.CreateEvent(ctx, organizer, musicFest())
	require.NoError(t, err)

	assert.ErrorIs(t, f.svc.DeleteEvent(ctx, rival, ev.ID), domain.ErrNotOwner)
	assert.ErrorIs(t, f.svc.DeleteEvent(ctx, customer, ev.ID), domain.ErrForbidden)

	require.NoError(t, f.svc.DeleteEvent(ctx, organizer, ev.ID))
	require.NoError(t, f.svc.DeleteEvent(ctx, organizer, ev.ID))

	_, err = f.svc.GetEvent(ctx, ev.ID)
	assert.ErrorIs(t, err, domain.ErrEventNotFound)
	_, err = f.ledger.Reserve(ctx, ledger.ReserveRequest{
		EventID: ev.ID, TierName: "VIP", CustomerID: customer.UserID,
		Method: domain.PaymentMethodCash, ExpiresAt: testNow().Add(time.Hour),
	})
	assert.ErrorIs(t, err, domain.ErrEventNotFound)
}

func TestCatalogService_EventsPagesLazily(t *testing.T) {
	repo := &countingRepo{EventRepository: memory.NewEventRepository()}
	clk := clock.NewManual(testNow())
	logger, _ := test.NewNullLogger()
	svc := NewCatalogService(repo, ledger.NewMemory(clk), clk, WithPageSize(2), WithCatalogLogger(logger))
	ctx := context.Background()

	for day := 1; day <= 5; day++ {
		in := musicFest()
		in.Date = time.Date(2025, 8, day, 0, 0, 0, 0, time.UTC).Format("2006-01-02")
		_, err := svc.CreateEvent(ctx, organizer, in)
		require.NoError(t, err)
	}

	var seen []domain.Event
	for e, err := range svc.Events(ctx, domain.EventCursor{}) {
		require.NoError(t, err)
		seen = append(seen, e)
		if len(seen) == 3 {
			break
		}
	}
	assert.Len(t, seen, 3)
	assert.Equal(t, 2, repo.lists, "stopping early must not fetch further pages")

	// Restart from the third event's cursor.
	var rest []domain.Event
	for e, err := range svc.Events(ctx, domain.CursorAfter(seen[2])) {
		require.NoError(t, err)
		rest = append(rest, e)
	}
	require.Len(t, rest, 2)
	assert.True(t, rest[0].Date.After(seen[2].Date))

	// A second range over the same sequence replays it.
	seq := svc.Events(ctx, domain.EventCursor{})
	count := func() int {
		n := 0
		for _, err := range seq {
			require.NoError(t, err)
			n++
		}
		return n
	}
	assert.Equal(t, 5, count())
	assert.Equal(t, 5, count())
}

func TestCatalogService_OrganizerEvents(t *testing.T) {
	f := newCatalogFixture(t, WithPageSize(1))
	ctx := context.Background()

	var mine []string
	for i := 0; i < 3; i++ {
		ev, err := f.svc.CreateEvent(ctx, organizer, musicFest())
		require.NoError(t, err)
		mine = append(mine, ev.ID)
		_, err = f.svc.CreateEvent(ctx, rival, musicFest())
		require.NoError(t, err)
	}

	var got []string
	for e, err := range f.svc.OrganizerEvents(ctx, organizer, domain.EventCursor{}) {
		require.NoError(t, err)
		assert.Equal(t, organizer.UserID, e.OrganizerID)
		got = append(got, e.ID)
	}
	assert.ElementsMatch(t, mine, got)

	var errs []error
	for _, err := range f.svc.OrganizerEvents(ctx, customer, domain.EventCursor{}) {
		errs = append(errs, err)
	}
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], domain.ErrForbidden)
}

type countingRepo struct {
	*memory.EventRepository
	lists int
}

func (r *countingRepo) ListEvents(ctx context.Context, organizerID string, after domain.EventCursor, limit int) ([]domain.Event, error) {
	r.lists++
	return r.EventRepository.ListEvents(ctx, organizerID, after, limit)
}
