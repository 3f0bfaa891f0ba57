package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/cimillas/ticket-engine/internal/domain"
)

const (
	codeMethodNotAllowed      = "method_not_allowed"
	codeNotFound              = "not_found"
	codeInvalidRequestBody    = "invalid_request_body"
	codeValidationFailed      = "validation_failed"
	codeInvalidID             = "invalid_id"
	codeUnauthorized          = "unauthorized"
	codeIdentityUnavailable   = "identity_unavailable"
	codeForbidden             = "forbidden"
	codeNotOwner              = "not_owner"
	codeEventNotFound         = "event_not_found"
	codeTierNotFound          = "tier_not_found"
	codeTicketNotFound        = "ticket_not_found"
	codeSoldOut               = "sold_out"
	codeCapacityBelowSold     = "capacity_below_sold"
	codeTicketNotReserved     = "ticket_not_reserved"
	codeUnsupportedPayment    = "unsupported_payment_method"
	codePaymentTimeout        = "payment_timeout"
	codePaymentFailed         = "payment_failed"
	codeInvalidCallbackSecret = "invalid_callback_signature"
	codeInternalError         = "internal_error"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
	Field string `json:"field,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeErrorBody(w, status, errorResponse{Error: msg, Code: code})
}

func writeErrorBody(w http.ResponseWriter, status int, body errorResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	payload, err := json.Marshal(body)
	if err != nil {
		_, _ = w.Write([]byte(`{"error":"internal error","code":"internal_error"}`))
		return
	}
	_, _ = w.Write(payload)
}

var errorStatus = []struct {
	err    error
	status int
	code   string
}{
	{domain.ErrInvalidID, http.StatusBadRequest, codeInvalidID},
	{domain.ErrAuthInvalid, http.StatusUnauthorized, codeUnauthorized},
	{domain.ErrAuthUnreachable, http.StatusServiceUnavailable, codeIdentityUnavailable},
	{domain.ErrForbidden, http.StatusForbidden, codeForbidden},
	{domain.ErrNotOwner, http.StatusForbidden, codeNotOwner},
	{domain.ErrEventNotFound, http.StatusNotFound, codeEventNotFound},
	{domain.ErrTierNotFound, http.StatusNotFound, codeTierNotFound},
	{domain.ErrTicketNotFound, http.StatusNotFound, codeTicketNotFound},
	{domain.ErrSoldOut, http.StatusConflict, codeSoldOut},
	{domain.ErrCapacityShrinkBelowSold, http.StatusConflict, codeCapacityBelowSold},
	{domain.ErrTicketNotReserved, http.StatusConflict, codeTicketNotReserved},
	{domain.ErrUnsupportedPaymentMethod, http.StatusBadRequest, codeUnsupportedPayment},
	{domain.ErrPaymentTimeout, http.StatusGone, codePaymentTimeout},
	{domain.ErrPaymentFailed, http.StatusPaymentRequired, codePaymentFailed},
}

// writeServiceError maps a service error to the JSON envelope. Anything not
// recognised is logged and reported as an internal error.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger logrus.FieldLogger, err error) {
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		writeErrorBody(w, http.StatusBadRequest, errorResponse{
			Error: verr.Error(),
			Code:  codeValidationFailed,
			Field: verr.Field,
		})
		return
	}
	for _, m := range errorStatus {
		if errors.Is(err, m.err) {
			writeError(w, m.status, m.code, m.err.Error())
			return
		}
	}
	logger.WithError(err).WithFields(logrus.Fields{
		"method": r.Method,
		"path":   r.URL.Path,
	}).Error("request failed")
	writeError(w, http.StatusInternalServerError, codeInternalError, "internal error")
}
