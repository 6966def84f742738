package domain

import (
	"strings"
	"time"
)

// OrderStatus описывает жизненный цикл заказа.
type OrderStatus string

const (
	// OrderStatusPending: заказ создан, оплата ещё не получена.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusPaid: оплата подтверждена.
	OrderStatusPaid OrderStatus = "paid"
	// OrderStatusShipped: заказ передан в доставку.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusCompleted: заказ получен покупателем.
	OrderStatusCompleted OrderStatus = "completed"
	// OrderStatusCancelled: заказ отменён.
	OrderStatusCancelled OrderStatus = "cancelled"
)

// OrderStatuses перечисляет допустимые статусы в порядке жизненного цикла.
var OrderStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusPaid,
	OrderStatusShipped,
	OrderStatusCompleted,
	OrderStatusCancelled,
}

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusPaid, OrderStatusShipped, OrderStatusCompleted, OrderStatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal сообщает, что из статуса больше нет переходов.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusCancelled
}

// Order: запись о заказе одного товара.
type Order struct {
	// ProductID: первичный ключ заказа.
	ProductID string
	// OrderNo: внешний номер заказа, уникален если задан.
	OrderNo *string
	// TrackingNumber: трек-номер доставки.
	TrackingNumber *string
	Status         OrderStatus
	BuyerName      string
	BuyerPhone     string
	Address        string
	// CreatedAt проставляется сервером при вставке и больше не меняется.
	CreatedAt time.Time
}

// OrderDraft содержит данные клиента для создания заказа до применения значений по умолчанию.
type OrderDraft struct {
	ProductID      string
	OrderNo        string
	TrackingNumber string
	Status         OrderStatus
	BuyerName      string
	BuyerPhone     string
	Address        string
}

// Build проверяет черновик и собирает заказ с дефолтами:
// статус pending, пустые строки для контактов, NULL для order_no и tracking_number.
func (d OrderDraft) Build(now time.Time) (Order, error) {
	if strings.TrimSpace(d.ProductID) == "" {
		return Order{}, ErrProductIDRequired
	}

	status := d.Status
	if status == "" {
		status = OrderStatusPending
	}
	if !status.Valid() {
		return Order{}, ErrStatusInvalid
	}

	return Order{
		ProductID:      d.ProductID,
		OrderNo:        nullIfEmpty(d.OrderNo),
		TrackingNumber: nullIfEmpty(d.TrackingNumber),
		Status:         status,
		BuyerName:      d.BuyerName,
		BuyerPhone:     d.BuyerPhone,
		Address:        d.Address,
		CreatedAt:      now.UTC(),
	}, nil
}

// ListFilter задаёт выборку для списка заказов.
type ListFilter struct {
	// Status: точное совпадение статуса; пустое значение отключает фильтр.
	Status OrderStatus
	Limit  int
	Offset int
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// StringValue разыменовывает nullable-поле заказа.
func StringValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
