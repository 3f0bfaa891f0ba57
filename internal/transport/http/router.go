package http

import (
	"context"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/cimillas/ticket-engine/internal/domain"
	"github.com/cimillas/ticket-engine/internal/identity"
)

// Authorizer resolves the bearer token of catalog writes.
type Authorizer interface {
	Authorize(ctx context.Context, token string) (domain.Identity, error)
}

type RouterConfig struct {
	Catalog   CatalogService
	Purchases PurchaseService
	Gate      Authorizer
	Metrics   http.Handler
	Health    HealthCheck
	Logger    logrus.FieldLogger

	CORSOrigins    []string
	CallbackSecret string
}

type handlers struct {
	catalog        CatalogService
	purchases      PurchaseService
	gate           Authorizer
	logger         logrus.FieldLogger
	callbackSecret string
}

// NewRouter wires every endpoint behind CORS and request logging.
func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	h := &handlers{
		catalog:        cfg.Catalog,
		purchases:      cfg.Purchases,
		gate:           cfg.Gate,
		logger:         logger,
		callbackSecret: cfg.CallbackSecret,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", healthHandler(cfg.Health, logger))
	if cfg.Metrics != nil {
		mux.Handle("GET /metrics", cfg.Metrics)
	}

	mux.HandleFunc("GET /events", h.listEvents)
	mux.HandleFunc("POST /events", h.createEvent)
	mux.HandleFunc("GET /events/{id}", h.getEvent)
	mux.HandleFunc("PATCH /events/{id}", h.updateEvent)
	mux.HandleFunc("DELETE /events/{id}", h.deleteEvent)
	mux.HandleFunc("GET /events/{id}/availability", h.eventAvailability)

	mux.HandleFunc("POST /purchases", h.purchase)
	mux.HandleFunc("POST /tickets/{id}/confirm-payment", h.confirmPayment)
	mux.HandleFunc("GET /me/tickets", h.myTickets)

	mux.HandleFunc("/", notFound)

	return RequestLogger(CORS(cfg.CORSOrigins, mux), logger)
}

func bearerToken(r *http.Request) string {
	return identity.BearerToken(r.Header.Get("Authorization"))
}

func (h *handlers) authorize(w http.ResponseWriter, r *http.Request) (domain.Identity, bool) {
	caller, err := h.gate.Authorize(r.Context(), bearerToken(r))
	if err != nil {
		h.fail(w, r, err)
		return domain.Identity{}, false
	}
	return caller, true
}

func (h *handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	writeServiceError(w, r, h.logger, err)
}
