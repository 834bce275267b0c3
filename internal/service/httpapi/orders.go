package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/vladislavdragonenkov/petmarket/internal/domain"
	"github.com/vladislavdragonenkov/petmarket/internal/service/orders"
)

// decodeJSON читает тело запроса. Пустое тело не ошибка: поля остаются нулевыми.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())

	var req createOrderRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, msgInvalidJSON)
		return
	}

	items := make([]orders.ItemRequest, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, orders.ItemRequest{ProductID: it.ProductID, Quantity: it.Quantity})
	}

	order, err := h.orders.CreateOrder(r.Context(), principal.ID, items, req.Shipping.toDomain())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, toOrderResponse(order))
}

func (h *Handler) listMyOrders(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())

	list, err := h.orders.ListCustomerOrders(r.Context(), principal.ID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponses(list))
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())

	order, err := h.orders.GetOrder(r.Context(), chi.URLParam(r, "id"), principal.ID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

func (h *Handler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())

	order, err := h.orders.CancelOrder(r.Context(), chi.URLParam(r, "id"), principal.ID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

func (h *Handler) updateOrderStatus(w http.ResponseWriter, r *http.Request) {
	var req statusUpdateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, msgInvalidJSON)
		return
	}

	eta, err := parseETA(req.ETA)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, msgInvalidETA)
		return
	}

	update := domain.StatusUpdate{
		Note:           req.Note,
		Carrier:        strings.TrimSpace(req.Carrier),
		TrackingNumber: strings.TrimSpace(req.TrackingNumber),
		ETA:            eta,
	}
	if strings.TrimSpace(req.Status) != "" {
		status, err := domain.ParseOrderStatus(req.Status)
		if err != nil {
			writeError(w, r, h.logger, err)
			return
		}
		update.Status = status
	}

	order, err := h.orders.UpdateOrderStatus(r.Context(), chi.URLParam(r, "id"), update)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order))
}
