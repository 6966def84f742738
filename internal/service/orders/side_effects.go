package orders

import (
	"context"
	"encoding/json"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orders/internal/domain"
	"github.com/vladislavdragonenkov/orders/internal/messaging/kafka"
)

func (s *Service) appendTimeline(ctx context.Context, productID, eventType, reason string, occurred time.Time) {
	if s.timeline == nil {
		return
	}
	event := domain.TimelineEvent{
		OrderID:  productID,
		Type:     eventType,
		Reason:   reason,
		Occurred: occurred,
	}
	if err := s.timeline.Append(ctx, event); err != nil {
		s.metrics.RecordSideEffectError("timeline")
		s.logger.WithError(err).WithFields(log.Fields{
			"product_id": productID,
			"event":      eventType,
		}).Warn("failed to append timeline event")
		return
	}
	s.metrics.RecordTimelineEvent()
}

func (s *Service) emitEvent(ctx context.Context, productID, eventType string, event *kafka.OrderEvent) {
	if s.outbox == nil {
		return
	}

	data, err := json.Marshal(event)
	if err != nil {
		s.metrics.RecordSideEffectError("outbox")
		s.logger.WithError(err).WithField("product_id", productID).Warn("failed to marshal outbox payload")
		return
	}

	msg := domain.OutboxMessage{
		AggregateType: domain.AggregateTypeOrder,
		AggregateID:   productID,
		EventType:     eventType,
		Payload:       data,
	}
	if _, err := s.outbox.Enqueue(ctx, msg); err != nil {
		s.metrics.RecordSideEffectError("outbox")
		s.logger.WithError(err).WithFields(log.Fields{
			"product_id": productID,
			"event":      eventType,
		}).Warn("failed to enqueue outbox message")
		return
	}
	s.metrics.RecordOutboxEnqueued()
}
