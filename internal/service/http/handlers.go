package httpsvc

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/vladislavdragonenkov/orders/internal/domain"
	"github.com/vladislavdragonenkov/orders/internal/service/orders"
)

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	page, err := parseIntParam(query.Get("page"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "page must be an integer")
		return
	}
	limit, err := parseIntParam(query.Get("limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "limit must be an integer")
		return
	}

	list, err := h.svc.List(r.Context(), orders.ListQuery{
		Status: query.Get("status"),
		Page:   page,
		Limit:  limit,
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toOrderResponses(list))
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	productID, ok := productIDParam(w, r)
	if !ok {
		return
	}
	order, err := h.svc.Get(r.Context(), productID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

func (h *Handler) createOrders(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readBody(w, r)
	if !ok {
		return
	}

	items, _, err := decodeOneOrMany[createOrderRequest](body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	drafts := make([]domain.OrderDraft, 0, len(items))
	for _, item := range items {
		drafts = append(drafts, item.toDraft())
	}

	created, err := h.svc.Create(r.Context(), drafts)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, createResponse{
		Message: fmt.Sprintf("inserted %d orders", len(created)),
		Count:   len(created),
	})
}

func (h *Handler) updateOrders(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readBody(w, r)
	if !ok {
		return
	}

	items, _, err := decodeOneOrMany[patchOrderRequest](body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	patches := make([]domain.OrderPatch, 0, len(items))
	for _, item := range items {
		patches = append(patches, item.toPatch(item.ProductID))
	}

	result, err := h.svc.Update(r.Context(), patches)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toUpdateResponse(result))
}

func (h *Handler) updateOrder(w http.ResponseWriter, r *http.Request) {
	productID, ok := productIDParam(w, r)
	if !ok {
		return
	}
	body, ok := h.readBody(w, r)
	if !ok {
		return
	}

	items, isArray, err := decodeOneOrMany[patchOrderRequest](body)
	if err != nil || isArray {
		writeError(w, http.StatusBadRequest, errMalformedJSON.Error())
		return
	}

	var req patchOrderRequest
	if len(items) == 1 {
		req = items[0]
	}

	updated, err := h.svc.UpdateOne(r.Context(), req.toPatch(productID))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toUpdateResponse(orders.UpdateResult{
		Updated:  []domain.Order{updated},
		Failures: []orders.Failure{},
	}))
}

func (h *Handler) deleteOrder(w http.ResponseWriter, r *http.Request) {
	productID, ok := productIDParam(w, r)
	if !ok {
		return
	}
	deleted, err := h.svc.Delete(r.Context(), productID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, deleteResponse{Message: "order deleted", ProductID: deleted.ProductID})
}

func (h *Handler) orderTimeline(w http.ResponseWriter, r *http.Request) {
	productID, ok := productIDParam(w, r)
	if !ok {
		return
	}
	events, err := h.svc.Timeline(r.Context(), productID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTimelineResponses(events))
}

// productIDParam возвращает декодированный product_id из пути. Если у URL есть RawPath,
// chi сопоставляет маршрут по нему и параметр приходит экранированным ("SKU%2F1").
func productIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	productID := chi.URLParam(r, "productID")
	if r.URL.RawPath == "" {
		return productID, true
	}
	productID, err := url.PathUnescape(productID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid product_id in path")
		return "", false
	}
	return productID, true
}

// readBody читает тело с ограничением maxBodyBytes; при ошибке ответ уже записан.
func (h *Handler) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return nil, false
		}
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return nil, false
	}
	return body, true
}

func parseIntParam(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}

func updateMessage(success, failed int) string {
	return fmt.Sprintf("update finished: %d succeeded, %d failed", success, failed)
}
