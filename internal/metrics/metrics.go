// Package metrics exports purchase counters in Prometheus format.
package metrics

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cimillas/ticket-engine/internal/app"
	"github.com/cimillas/ticket-engine/internal/domain"
)

type Purchases struct {
	registry *prometheus.Registry
	attempts *prometheus.CounterVec
	releases *prometheus.CounterVec
}

var _ app.PurchaseObserver = (*Purchases)(nil)

// New registers the purchase collectors plus the Go runtime collectors on a
// private registry.
func New() *Purchases {
	reg := prometheus.NewRegistry()
	p := &Purchases{
		registry: reg,
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tickets",
			Name:      "purchase_attempts_total",
			Help:      "Purchase attempts by final state and error class.",
		}, []string{"state", "error"}),
		releases: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tickets",
			Name:      "reservations_released_total",
			Help:      "Reserved seats returned to inventory, by reason.",
		}, []string{"reason"}),
	}
	reg.MustRegister(
		p.attempts,
		p.releases,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return p
}

func (p *Purchases) PurchaseFinished(state app.PurchaseState, err error) {
	if state == "" {
		state = app.StateFailed
	}
	p.attempts.WithLabelValues(string(state), errorClass(err)).Inc()
}

func (p *Purchases) TicketReleased(reason domain.FailureReason) {
	p.releases.WithLabelValues(string(reason)).Inc()
}

func (p *Purchases) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// errorClass keeps label cardinality bounded.
func errorClass(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, domain.ErrSoldOut):
		return "sold_out"
	case errors.Is(err, domain.ErrAuthInvalid), errors.Is(err, domain.ErrAuthUnreachable), errors.Is(err, domain.ErrForbidden):
		return "auth"
	case errors.Is(err, domain.ErrEventNotFound), errors.Is(err, domain.ErrTierNotFound), errors.Is(err, domain.ErrInvalidID):
		return "not_found"
	case errors.Is(err, domain.ErrUnsupportedPaymentMethod):
		return "unsupported_method"
	case errors.Is(err, domain.ErrPaymentTimeout):
		return "payment_timeout"
	default:
		return "other"
	}
}
