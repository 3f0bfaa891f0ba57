package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cimillas/ticket-engine/internal/app"
	"github.com/cimillas/ticket-engine/internal/domain"
	"github.com/cimillas/ticket-engine/internal/ledger"
	"github.com/cimillas/ticket-engine/internal/payment"
)

const maxBodyBytes = 1 << 20

// decodeJSON reads a single JSON object and rejects unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "invalid request body")
		return false
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "invalid request body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type tierBody struct {
	Name     string      `json:"name"`
	Price    json.Number `json:"price"`
	Capacity int         `json:"capacity"`
}

type createEventRequest struct {
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Date        string     `json:"date"`
	Venue       string     `json:"venue"`
	Tiers       []tierBody `json:"tiers"`
}

func (req createEventRequest) input() (app.EventInput, error) {
	tiers := make([]domain.Tier, 0, len(req.Tiers))
	for i, t := range req.Tiers {
		price, err := domain.MoneyFromJSON(t.Price)
		if err != nil {
			return app.EventInput{}, domain.Invalid(fmt.Sprintf("tiers[%d].price", i), "must be a whole number of minor units")
		}
		tiers = append(tiers, domain.Tier{Name: t.Name, Price: price, Capacity: t.Capacity})
	}
	return app.EventInput{
		Title:       req.Title,
		Description: req.Description,
		Date:        req.Date,
		Venue:       req.Venue,
		Tiers:       tiers,
	}, nil
}

type tierPatchBody struct {
	Name     string       `json:"name"`
	Price    *json.Number `json:"price"`
	Capacity *int         `json:"capacity"`
}

type updateEventRequest struct {
	Title       *string         `json:"title"`
	Description *string         `json:"description"`
	Date        *string         `json:"date"`
	Venue       *string         `json:"venue"`
	Tiers       []tierPatchBody `json:"tiers"`
}

func (req updateEventRequest) patch() (app.EventPatch, error) {
	patch := app.EventPatch{
		Title:       req.Title,
		Description: req.Description,
		Date:        req.Date,
		Venue:       req.Venue,
	}
	for i, t := range req.Tiers {
		tp := app.TierPatch{Name: t.Name, Capacity: t.Capacity}
		if t.Price != nil {
			price, err := domain.MoneyFromJSON(*t.Price)
			if err != nil {
				return app.EventPatch{}, domain.Invalid(fmt.Sprintf("tiers[%d].price", i), "must be a whole number of minor units")
			}
			tp.Price = &price
		}
		patch.Tiers = append(patch.Tiers, tp)
	}
	return patch, nil
}

type tierResponse struct {
	Name     string `json:"name"`
	Price    int64  `json:"price"`
	Capacity int    `json:"capacity"`
}

type eventResponse struct {
	ID          string         `json:"id"`
	OrganizerID string         `json:"organizer_id"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Date        string         `json:"date"`
	Venue       string         `json:"venue"`
	Tiers       []tierResponse `json:"tiers"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

func toEventResponse(e domain.Event) eventResponse {
	tiers := make([]tierResponse, 0, len(e.Tiers))
	for _, t := range e.Tiers {
		tiers = append(tiers, tierResponse{Name: t.Name, Price: int64(t.Price), Capacity: t.Capacity})
	}
	return eventResponse{
		ID:          e.ID,
		OrganizerID: e.OrganizerID,
		Title:       e.Title,
		Description: e.Description,
		Date:        domain.FormatDate(e.Date),
		Venue:       e.Venue,
		Tiers:       tiers,
		CreatedAt:   e.CreatedAt,
		UpdatedAt:   e.UpdatedAt,
	}
}

type eventPageResponse struct {
	Events []eventResponse `json:"events"`
	Next   string          `json:"next,omitempty"`
}

type availabilityResponse struct {
	Tier      string `json:"tier"`
	Capacity  int    `json:"capacity"`
	Sold      int    `json:"sold"`
	Remaining int    `json:"remaining"`
}

func toAvailabilityResponse(in []ledger.TierAvailability) []availabilityResponse {
	out := make([]availabilityResponse, 0, len(in))
	for _, a := range in {
		out = append(out, availabilityResponse{Tier: a.TierName, Capacity: a.Capacity, Sold: a.Sold, Remaining: a.Remaining})
	}
	return out
}

type purchaseRequest struct {
	EventID       string `json:"event_id"`
	Tier          string `json:"tier"`
	PaymentMethod string `json:"payment_method"`
}

type ticketResponse struct {
	ID            string    `json:"id"`
	EventID       string    `json:"event_id"`
	Tier          string    `json:"tier"`
	CustomerID    string    `json:"customer_id"`
	PaymentMethod string    `json:"payment_method"`
	Price         int64     `json:"price"`
	Status        string    `json:"status"`
	FailureReason string    `json:"failure_reason,omitempty"`
	ExpiresAt     time.Time `json:"expires_at"`
	CreatedAt     time.Time `json:"created_at"`
}

func toTicketResponse(t domain.Ticket) ticketResponse {
	return ticketResponse{
		ID:            t.ID,
		EventID:       t.EventID,
		Tier:          t.TierName,
		CustomerID:    t.CustomerID,
		PaymentMethod: string(t.Method),
		Price:         int64(t.Price),
		Status:        string(t.Status),
		FailureReason: string(t.FailureReason),
		ExpiresAt:     t.ExpiresAt,
		CreatedAt:     t.CreatedAt,
	}
}

type paymentArtifactResponse struct {
	Reference string    `json:"reference"`
	QRPayload string    `json:"qr_payload"`
	Amount    int64     `json:"amount"`
	Currency  string    `json:"currency"`
	ExpiresAt time.Time `json:"expires_at"`
}

type purchaseResponse struct {
	State   string                   `json:"state"`
	Ticket  ticketResponse           `json:"ticket"`
	Price   int64                    `json:"price"`
	Payment *paymentArtifactResponse `json:"payment,omitempty"`
}

func toPurchaseResponse(res app.PurchaseResult) purchaseResponse {
	out := purchaseResponse{
		State:  string(res.State),
		Ticket: toTicketResponse(res.Ticket),
		Price:  int64(res.Price),
	}
	if a := res.Artifact; a != nil {
		out.Payment = artifactResponse(a)
	}
	return out
}

func artifactResponse(a *payment.Artifact) *paymentArtifactResponse {
	return &paymentArtifactResponse{
		Reference: a.Reference,
		QRPayload: a.QRPayload,
		Amount:    int64(a.Amount),
		Currency:  a.Currency,
		ExpiresAt: a.ExpiresAt,
	}
}
