package httpsvc

import (
	"bytes"
	"encoding/json"
	"errors"
	"time"

	"github.com/vladislavdragonenkov/orders/internal/domain"
	"github.com/vladislavdragonenkov/orders/internal/service/orders"
)

// optionalString различает отсутствующий ключ, null и значение.
// UnmarshalJSON вызывается только для присутствующего ключа.
type optionalString struct {
	Set   bool
	Value *string
}

func (o *optionalString) UnmarshalJSON(data []byte) error {
	o.Set = true
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		o.Value = nil
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	o.Value = &s
	return nil
}

// ptr возвращает значение для патча: nil если ключа не было, "" для null.
func (o optionalString) ptr() *string {
	if !o.Set {
		return nil
	}
	if o.Value == nil {
		empty := ""
		return &empty
	}
	v := *o.Value
	return &v
}

type createOrderRequest struct {
	ProductID      string `json:"product_id"`
	OrderNo        string `json:"order_no"`
	TrackingNumber string `json:"tracking_number"`
	Status         string `json:"status"`
	BuyerName      string `json:"buyer_name"`
	BuyerPhone     string `json:"buyer_phone"`
	Address        string `json:"address"`
}

func (r createOrderRequest) toDraft() domain.OrderDraft {
	return domain.OrderDraft{
		ProductID:      r.ProductID,
		OrderNo:        r.OrderNo,
		TrackingNumber: r.TrackingNumber,
		Status:         domain.OrderStatus(r.Status),
		BuyerName:      r.BuyerName,
		BuyerPhone:     r.BuyerPhone,
		Address:        r.Address,
	}
}

// patchOrderRequest содержит только разрешённые поля; прочие ключи (created_at и т.п.) игнорируются.
type patchOrderRequest struct {
	ProductID      string         `json:"product_id"`
	OrderNo        optionalString `json:"order_no"`
	TrackingNumber optionalString `json:"tracking_number"`
	Status         optionalString `json:"status"`
	BuyerName      optionalString `json:"buyer_name"`
	BuyerPhone     optionalString `json:"buyer_phone"`
	Address        optionalString `json:"address"`
}

func (r patchOrderRequest) toPatch(productID string) domain.OrderPatch {
	patch := domain.OrderPatch{
		ProductID:      productID,
		OrderNo:        r.OrderNo.ptr(),
		TrackingNumber: r.TrackingNumber.ptr(),
		BuyerName:      r.BuyerName.ptr(),
		BuyerPhone:     r.BuyerPhone.ptr(),
		Address:        r.Address.ptr(),
	}
	if status := r.Status.ptr(); status != nil {
		s := domain.OrderStatus(*status)
		patch.Status = &s
	}
	return patch
}

type orderResponse struct {
	ProductID      string    `json:"product_id"`
	OrderNo        *string   `json:"order_no"`
	TrackingNumber *string   `json:"tracking_number"`
	Status         string    `json:"status"`
	BuyerName      string    `json:"buyer_name"`
	BuyerPhone     string    `json:"buyer_phone"`
	Address        string    `json:"address"`
	CreatedAt      time.Time `json:"created_at"`
}

func toOrderResponse(o domain.Order) orderResponse {
	return orderResponse{
		ProductID:      o.ProductID,
		OrderNo:        o.OrderNo,
		TrackingNumber: o.TrackingNumber,
		Status:         string(o.Status),
		BuyerName:      o.BuyerName,
		BuyerPhone:     o.BuyerPhone,
		Address:        o.Address,
		CreatedAt:      o.CreatedAt.UTC(),
	}
}

func toOrderResponses(list []domain.Order) []orderResponse {
	out := make([]orderResponse, 0, len(list))
	for _, o := range list {
		out = append(out, toOrderResponse(o))
	}
	return out
}

type timelineEventResponse struct {
	Type     string    `json:"type"`
	Reason   string    `json:"reason"`
	Occurred time.Time `json:"occurred"`
}

func toTimelineResponses(events []domain.TimelineEvent) []timelineEventResponse {
	out := make([]timelineEventResponse, 0, len(events))
	for _, e := range events {
		out = append(out, timelineEventResponse{Type: e.Type, Reason: e.Reason, Occurred: e.Occurred.UTC()})
	}
	return out
}

type createResponse struct {
	Message string `json:"message"`
	Count   int    `json:"count"`
}

type failureResponse struct {
	ProductID string `json:"product_id"`
	Reason    string `json:"reason"`
}

type updateResponse struct {
	Message      string            `json:"message"`
	SuccessCount int               `json:"successCount"`
	FailCount    int               `json:"failCount"`
	Failures     []failureResponse `json:"failures"`
}

func toUpdateResponse(result orders.UpdateResult) updateResponse {
	failures := make([]failureResponse, 0, len(result.Failures))
	for _, f := range result.Failures {
		failures = append(failures, failureResponse{ProductID: f.ProductID, Reason: f.Reason})
	}
	return updateResponse{
		Message:      updateMessage(result.SuccessCount(), result.FailCount()),
		SuccessCount: result.SuccessCount(),
		FailCount:    result.FailCount(),
		Failures:     failures,
	}
}

type deleteResponse struct {
	Message   string `json:"message"`
	ProductID string `json:"product_id"`
}

type errorResponse struct {
	Error string `json:"error"`
}

var errMalformedJSON = errors.New("malformed JSON body")

// decodeOneOrMany разбирает тело, содержащее объект или массив объектов.
func decodeOneOrMany[T any](body []byte) ([]T, bool, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, false, nil
	}

	if trimmed[0] == '[' {
		var items []T
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, true, errMalformedJSON
		}
		return items, true, nil
	}
	if trimmed[0] != '{' {
		return nil, false, errMalformedJSON
	}

	var item T
	if err := json.Unmarshal(trimmed, &item); err != nil {
		return nil, false, errMalformedJSON
	}
	return []T{item}, false, nil
}
