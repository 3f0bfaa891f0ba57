package http

import (
	"context"
	"crypto/subtle"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/cimillas/ticket-engine/internal/app"
	"github.com/cimillas/ticket-engine/internal/domain"
)

// PurchaseService is what the purchase endpoints need.
type PurchaseService interface {
	Purchase(ctx context.Context, in app.PurchaseInput) (app.PurchaseResult, error)
	ConfirmExternalPayment(ctx context.Context, ticketID string) (domain.Ticket, error)
	CustomerTickets(ctx context.Context, token string) ([]domain.Ticket, error)
}

func (h *handlers) purchase(w http.ResponseWriter, r *http.Request) {
	var req purchaseRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.purchases.Purchase(r.Context(), app.PurchaseInput{
		Token:    bearerToken(r),
		EventID:  req.EventID,
		TierName: req.Tier,
		Method:   domain.PaymentMethod(req.PaymentMethod),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	status := http.StatusCreated
	if res.State == app.StatePending {
		status = http.StatusAccepted
	}
	writeJSON(w, status, toPurchaseResponse(res))
}

// confirmPayment is the payment provider callback. When a callback secret is
// configured the request must carry it in X-Payment-Signature.
func (h *handlers) confirmPayment(w http.ResponseWriter, r *http.Request) {
	if h.callbackSecret != "" {
		got := r.Header.Get("X-Payment-Signature")
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.callbackSecret)) != 1 {
			h.logger.WithFields(logrus.Fields{
				"security":  true,
				"action":    "confirm_payment",
				"ticket_id": r.PathValue("id"),
			}).Warn("rejected payment callback")
			writeError(w, http.StatusUnauthorized, codeInvalidCallbackSecret, "invalid callback signature")
			return
		}
	}

	ticket, err := h.purchases.ConfirmExternalPayment(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTicketResponse(ticket))
}

func (h *handlers) myTickets(w http.ResponseWriter, r *http.Request) {
	tickets, err := h.purchases.CustomerTickets(r.Context(), bearerToken(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]ticketResponse, 0, len(tickets))
	for _, t := range tickets {
		out = append(out, toTicketResponse(t))
	}
	writeJSON(w, http.StatusOK, out)
}
