package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/petmarket/internal/domain"
)

// Тексты ответов совпадают с теми, на которые рассчитан фронтенд.
const (
	msgNoItems          = "No items"
	msgInvalidItems     = "Invalid items"
	msgItemsUnavailable = "One or more items are no longer available"
	msgNotFound         = "Not found"
	msgForbidden        = "Forbidden"
	msgUnauthorized     = "Access denied. No token provided."
	msgServerError      = "Server error"
	msgInvalidJSON      = "Invalid request body"
	msgInvalidQuantity  = "Invalid quantity"
	msgInvalidStatus    = "Invalid status"
	msgInvalidETA       = "Invalid eta"
	msgProductFields    = "Name and amount (as text) are required"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, messageResponse{Message: message})
}

// statusFor сопоставляет доменную ошибку с HTTP-кодом и текстом ответа.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrNoItems):
		return http.StatusBadRequest, msgNoItems
	case errors.Is(err, domain.ErrInvalidItems):
		return http.StatusBadRequest, msgInvalidItems
	case errors.Is(err, domain.ErrInvalidQuantity):
		return http.StatusBadRequest, msgInvalidQuantity
	case errors.Is(err, domain.ErrInvalidStatus):
		return http.StatusBadRequest, msgInvalidStatus
	case errors.Is(err, domain.ErrProductNameRequired), errors.Is(err, domain.ErrProductAmountRequired):
		return http.StatusBadRequest, msgProductFields
	case domain.IsValidation(err):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, domain.ErrItemsUnavailable):
		return http.StatusConflict, msgItemsUnavailable
	case errors.Is(err, domain.ErrOrderNotFound), errors.Is(err, domain.ErrProductNotFound):
		return http.StatusNotFound, msgNotFound
	default:
		return http.StatusInternalServerError, msgServerError
	}
}

// writeError пишет ответ по ошибке. Детали внутренних ошибок остаются в логе.
func writeError(w http.ResponseWriter, r *http.Request, logger *log.Entry, err error) {
	code, message := statusFor(err)
	if code == http.StatusInternalServerError {
		logger.WithError(err).WithFields(log.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"request_id": middleware.GetReqID(r.Context()),
		}).Error("request failed")
	}
	writeMessage(w, code, message)
}
