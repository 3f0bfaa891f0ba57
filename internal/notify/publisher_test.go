package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cimillas/ticket-engine/internal/clock"
	"github.com/cimillas/ticket-engine/internal/domain"
)

func TestPublisher_TicketChanged(t *testing.T) {
	logger, _ := test.NewNullLogger()
	pubsub := gochannel.NewGoChannel(gochannel.Config{}, NewWatermillLogger(logger))
	t.Cleanup(func() { _ = pubsub.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	messages, err := pubsub.Subscribe(ctx, TopicTicketFailed)
	require.NoError(t, err)

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	p := NewPublisher(pubsub, clock.NewManual(now))
	ticket := domain.Ticket{
		ID:            "t1",
		EventID:       "e1",
		TierName:      "VIP",
		CustomerID:    "c1",
		Method:        domain.PaymentMethodMobileWallet,
		Price:         10000,
		Status:        domain.TicketStatusFailed,
		FailureReason: domain.FailurePaymentTimeout,
	}
	require.NoError(t, p.TicketChanged(ctx, ticket))

	var msg *message.Message
	select {
	case msg = <-messages:
	case <-ctx.Done():
		t.Fatal("no message received")
	}
	msg.Ack()

	assert.Equal(t, "t1", msg.Metadata.Get("ticket_id"))
	var got TicketChanged
	require.NoError(t, json.Unmarshal(msg.Payload, &got))
	assert.Equal(t, TicketChanged{
		TicketID:      "t1",
		EventID:       "e1",
		Tier:          "VIP",
		CustomerID:    "c1",
		PaymentMethod: "mobile_wallet",
		Price:         10000,
		Status:        "failed",
		FailureReason: "payment_timeout",
		OccurredAt:    now,
	}, got)
}

func TestPublisher_UnknownStatus(t *testing.T) {
	p := NewPublisher(failingPublisher{}, clock.NewSystem())
	assert.Error(t, p.TicketChanged(context.Background(), domain.Ticket{Status: "weird"}))

	err := p.TicketChanged(context.Background(), domain.Ticket{Status: domain.TicketStatusReserved})
	assert.ErrorIs(t, err, errBroker)
}

func TestTopicFor(t *testing.T) {
	for status, want := range map[domain.TicketStatus]string{
		domain.TicketStatusReserved:  TopicTicketReserved,
		domain.TicketStatusConfirmed: TopicTicketConfirmed,
		domain.TicketStatusFailed:    TopicTicketFailed,
	} {
		got, err := TopicFor(status)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

var errBroker = errors.New("broker down")

type failingPublisher struct{}

func (failingPublisher) Publish(string, ...*message.Message) error { return errBroker }
func (failingPublisher) Close() error                              { return nil }
