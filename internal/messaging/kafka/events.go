package kafka

import (
	"time"

	"github.com/vladislavdragonenkov/orders/internal/domain"
)

// EventType определяет тип события
type EventType string

const (
	EventTypeOrderCreated EventType = domain.OutboxEventOrderCreated
	EventTypeOrderUpdated EventType = domain.OutboxEventOrderUpdated
	EventTypeOrderDeleted EventType = domain.OutboxEventOrderDeleted
)

// Topics для Kafka
const (
	TopicOrderEvents     = "orders.events"
	TopicDeadLetterQueue = "orders.dlq" // Dead Letter Queue для failed messages
)

// Kafka headers
const (
	HeaderEventType     = "x-event-type"
	HeaderAggregateType = "x-aggregate-type"
	HeaderOutboxID      = "x-outbox-id"
	HeaderOriginalTopic = "x-original-topic"
)

// OrderSnapshot: состояние заказа в теле события.
type OrderSnapshot struct {
	ProductID      string    `json:"product_id"`
	OrderNo        *string   `json:"order_no"`
	TrackingNumber *string   `json:"tracking_number"`
	Status         string    `json:"status"`
	BuyerName      string    `json:"buyer_name"`
	BuyerPhone     string    `json:"buyer_phone"`
	Address        string    `json:"address"`
	CreatedAt      time.Time `json:"created_at"`
}

// OrderEvent представляет событие заказа
type OrderEvent struct {
	EventType      EventType      `json:"event_type"`
	ProductID      string         `json:"product_id"`
	Order          *OrderSnapshot `json:"order,omitempty"`
	PreviousStatus string         `json:"previous_status,omitempty"`
	ChangedFields  []string       `json:"changed_fields,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
}

// NewOrderEvent создает событие заказа со снимком текущего состояния.
func NewOrderEvent(eventType EventType, order domain.Order) *OrderEvent {
	return &OrderEvent{
		EventType: eventType,
		ProductID: order.ProductID,
		Order:     snapshotOf(order),
		Timestamp: time.Now().UTC(),
	}
}

// NewOrderUpdatedEvent создает событие изменения заказа.
func NewOrderUpdatedEvent(previous, updated domain.Order, changed []string) *OrderEvent {
	event := NewOrderEvent(EventTypeOrderUpdated, updated)
	if previous.Status != updated.Status {
		event.PreviousStatus = string(previous.Status)
	}
	event.ChangedFields = changed
	return event
}

func snapshotOf(order domain.Order) *OrderSnapshot {
	return &OrderSnapshot{
		ProductID:      order.ProductID,
		OrderNo:        order.OrderNo,
		TrackingNumber: order.TrackingNumber,
		Status:         string(order.Status),
		BuyerName:      order.BuyerName,
		BuyerPhone:     order.BuyerPhone,
		Address:        order.Address,
		CreatedAt:      order.CreatedAt,
	}
}
