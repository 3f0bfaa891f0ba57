// Package payment executes the method-specific side effect of a purchase once
// the ledger has reserved a seat.
package payment

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/lithammer/shortuuid/v3"

	"github.com/cimillas/ticket-engine/internal/domain"
)

type OutcomeKind int

const (
	// OutcomeImmediate means the ticket can be confirmed right away.
	OutcomeImmediate OutcomeKind = iota + 1
	// OutcomePending means the ticket stays reserved until an out-of-band
	// confirmation arrives.
	OutcomePending
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeImmediate:
		return "immediate"
	case OutcomePending:
		return "pending"
	default:
		return "unknown"
	}
}

// Artifact is what the customer needs to complete an external payment.
type Artifact struct {
	Reference string
	QRPayload string
	Amount    domain.Money
	Currency  string
	ExpiresAt time.Time
}

// Outcome is the result of a successful Execute. Artifact is set only for
// OutcomePending.
type Outcome struct {
	Kind     OutcomeKind
	Artifact *Artifact
}

type Config struct {
	Currency     string
	WalletScheme string
	WalletPayee  string
}

// Dispatcher selects the strategy for a payment method. The set of methods is
// closed: anything outside it fails with domain.ErrUnsupportedPaymentMethod.
type Dispatcher struct {
	cfg Config
}

func NewDispatcher(cfg Config) *Dispatcher {
	if cfg.Currency == "" {
		cfg.Currency = "USD"
	}
	if cfg.WalletScheme == "" {
		cfg.WalletScheme = "mwallet"
	}
	return &Dispatcher{cfg: cfg}
}

// Supported reports whether method has a strategy.
func Supported(method domain.PaymentMethod) bool {
	switch method {
	case domain.PaymentMethodCash, domain.PaymentMethodMobileWallet:
		return true
	}
	return false
}

func (d *Dispatcher) Execute(ctx context.Context, method domain.PaymentMethod, ticket domain.Ticket, event domain.Event, price domain.Money) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}
	switch method {
	case domain.PaymentMethodCash:
		return Outcome{Kind: OutcomeImmediate}, nil
	case domain.PaymentMethodMobileWallet:
		return d.mobileWallet(ticket, event, price), nil
	default:
		return Outcome{}, fmt.Errorf("%w: %q", domain.ErrUnsupportedPaymentMethod, method)
	}
}

func (d *Dispatcher) mobileWallet(ticket domain.Ticket, event domain.Event, price domain.Money) Outcome {
	ref := shortuuid.New()

	q := url.Values{}
	q.Set("ref", ref)
	q.Set("ticket", ticket.ID)
	q.Set("event", event.ID)
	q.Set("amount", strconv.FormatInt(int64(price), 10))
	q.Set("currency", d.cfg.Currency)
	if d.cfg.WalletPayee != "" {
		q.Set("payee", d.cfg.WalletPayee)
	}
	payload := url.URL{Scheme: d.cfg.WalletScheme, Host: "pay", RawQuery: q.Encode()}

	return Outcome{
		Kind: OutcomePending,
		Artifact: &Artifact{
			Reference: ref,
			QRPayload: payload.String(),
			Amount:    price,
			Currency:  d.cfg.Currency,
			ExpiresAt: ticket.ExpiresAt,
		},
	}
}
