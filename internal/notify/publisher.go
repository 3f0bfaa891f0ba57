// Package notify publishes ticket lifecycle changes to a message bus so
// downstream consumers (receipts, analytics) can react without touching the
// purchase path.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/cimillas/ticket-engine/internal/clock"
	"github.com/cimillas/ticket-engine/internal/domain"
)

// Topics, one per ticket status.
const (
	TopicTicketReserved  = "ticket.reserved"
	TopicTicketConfirmed = "ticket.confirmed"
	TopicTicketFailed    = "ticket.failed"
)

// TicketChanged is the message payload.
type TicketChanged struct {
	TicketID      string    `json:"ticket_id"`
	EventID       string    `json:"event_id"`
	Tier          string    `json:"tier"`
	CustomerID    string    `json:"customer_id"`
	PaymentMethod string    `json:"payment_method"`
	Price         int64     `json:"price"`
	Status        string    `json:"status"`
	FailureReason string    `json:"failure_reason,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

func TopicFor(status domain.TicketStatus) (string, error) {
	switch status {
	case domain.TicketStatusReserved:
		return TopicTicketReserved, nil
	case domain.TicketStatusConfirmed:
		return TopicTicketConfirmed, nil
	case domain.TicketStatusFailed:
		return TopicTicketFailed, nil
	default:
		return "", fmt.Errorf("no topic for ticket status %q", status)
	}
}

type Publisher struct {
	pub   message.Publisher
	clock clock.Clock
}

func NewPublisher(pub message.Publisher, clk clock.Clock) *Publisher {
	return &Publisher{pub: pub, clock: clk}
}

func (p *Publisher) TicketChanged(ctx context.Context, t domain.Ticket) error {
	topic, err := TopicFor(t.Status)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(TicketChanged{
		TicketID:      t.ID,
		EventID:       t.EventID,
		Tier:          t.TierName,
		CustomerID:    t.CustomerID,
		PaymentMethod: string(t.Method),
		Price:         int64(t.Price),
		Status:        string(t.Status),
		FailureReason: string(t.FailureReason),
		OccurredAt:    p.clock.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal ticket event: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set("ticket_id", t.ID)
	msg.Metadata.Set("event_id", t.EventID)
	msg.SetContext(ctx)
	if err := p.pub.Publish(topic, msg); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}
