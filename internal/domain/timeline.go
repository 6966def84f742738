package domain

import "time"

// Типы событий таймлайна заказа.
const (
	TimelineOrderCreated       = "OrderCreated"
	TimelineOrderUpdated       = "OrderUpdated"
	TimelineOrderStatusChanged = "OrderStatusChanged"
	TimelineOrderDeleted       = "OrderDeleted"
)

// TimelineEvent описывает событие в жизненном цикле заказа.
type TimelineEvent struct {
	OrderID  string
	Type     string
	Reason   string
	Occurred time.Time
}
