package http

import (
	"context"
	"iter"
	"net/http"
	"strconv"

	"github.com/cimillas/ticket-engine/internal/app"
	"github.com/cimillas/ticket-engine/internal/domain"
	"github.com/cimillas/ticket-engine/internal/ledger"
)

// CatalogService is what the event endpoints need from the catalog.
type CatalogService interface {
	CreateEvent(ctx context.Context, caller domain.Identity, in app.EventInput) (domain.Event, error)
	UpdateEvent(ctx context.Context, caller domain.Identity, eventID string, patch app.EventPatch) (domain.Event, error)
	DeleteEvent(ctx context.Context, caller domain.Identity, eventID string) error
	GetEvent(ctx context.Context, eventID string) (domain.Event, error)
	Events(ctx context.Context, after domain.EventCursor) iter.Seq2[domain.Event, error]
	OrganizerEvents(ctx context.Context, caller domain.Identity, after domain.EventCursor) iter.Seq2[domain.Event, error]
	Availability(ctx context.Context, eventID string) ([]ledger.TierAvailability, error)
}

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

func (h *handlers) listEvents(w http.ResponseWriter, r *http.Request) {
	after, err := domain.DecodeCursor(r.URL.Query().Get("after"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxListLimit {
			h.fail(w, r, domain.Invalid("limit", "must be between 1 and %d", maxListLimit))
			return
		}
		limit = n
	}

	// organizer=me lists only the caller's own events.
	events := h.catalog.Events(r.Context(), after)
	switch r.URL.Query().Get("organizer") {
	case "":
	case "me":
		caller, ok := h.authorize(w, r)
		if !ok {
			return
		}
		events = h.catalog.OrganizerEvents(r.Context(), caller, after)
	default:
		h.fail(w, r, domain.Invalid("organizer", "only \"me\" is supported"))
		return
	}

	resp := eventPageResponse{Events: make([]eventResponse, 0, limit)}
	var last domain.Event
	for event, err := range events {
		if err != nil {
			h.fail(w, r, err)
			return
		}
		if len(resp.Events) == limit {
			// One more exists, so the page has a successor.
			resp.Next = domain.CursorAfter(last).Encode()
			break
		}
		resp.Events = append(resp.Events, toEventResponse(event))
		last = event
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) getEvent(w http.ResponseWriter, r *http.Request) {
	event, err := h.catalog.GetEvent(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toEventResponse(event))
}

func (h *handlers) eventAvailability(w http.ResponseWriter, r *http.Request) {
	avail, err := h.catalog.Availability(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAvailabilityResponse(avail))
}

func (h *handlers) createEvent(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.authorize(w, r)
	if !ok {
		return
	}
	var req createEventRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	in, err := req.input()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	event, err := h.catalog.CreateEvent(r.Context(), caller, in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toEventResponse(event))
}

func (h *handlers) updateEvent(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.authorize(w, r)
	if !ok {
		return
	}
	var req updateEventRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	patch, err := req.patch()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	event, err := h.catalog.UpdateEvent(r.Context(), caller, r.PathValue("id"), patch)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toEventResponse(event))
}

func (h *handlers) deleteEvent(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.authorize(w, r)
	if !ok {
		return
	}
	if err := h.catalog.DeleteEvent(r.Context(), caller, r.PathValue("id")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
