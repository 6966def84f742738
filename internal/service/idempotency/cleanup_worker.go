package idempotency

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orders/internal/domain"
	"github.com/vladislavdragonenkov/orders/internal/metrics"
)

const (
	defaultCleanupInterval  = 10 * time.Minute
	defaultCleanupBatchSize = 500
	defaultMaxBatches       = 20
	// catchUpDelay: пауза перед следующим проходом, если предыдущий упёрся в maxBatches.
	catchUpDelay = time.Second
)

// SweepResult описывает один проход очистки.
type SweepResult struct {
	Deleted int
	Batches int
	// Truncated: проход остановлен по maxBatches, просроченные ключи ещё остались.
	Truncated bool
}

// CleanupOption настраивает CleanupWorker.
type CleanupOption func(*CleanupWorker)

// WithLogger задаёт logger воркера.
func WithLogger(logger *log.Entry) CleanupOption {
	return func(w *CleanupWorker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithMetrics задаёт метрики воркера.
func WithMetrics(m *metrics.CleanupMetrics) CleanupOption {
	return func(w *CleanupWorker) {
		if m != nil {
			w.metrics = m
		}
	}
}

// WithInterval задаёт паузу между проходами.
func WithInterval(interval time.Duration) CleanupOption {
	return func(w *CleanupWorker) {
		if interval > 0 {
			w.interval = interval
		}
	}
}

// WithBatchSize задаёт число ключей, удаляемых одним запросом к хранилищу.
func WithBatchSize(size int) CleanupOption {
	return func(w *CleanupWorker) {
		if size > 0 {
			w.batchSize = size
		}
	}
}

// WithMaxBatches ограничивает число батчей за проход, чтобы очистка не занимала базу надолго.
func WithMaxBatches(n int) CleanupOption {
	return func(w *CleanupWorker) {
		if n > 0 {
			w.maxBatches = n
		}
	}
}

// WithClock подменяет часы.
func WithClock(now func() time.Time) CleanupOption {
	return func(w *CleanupWorker) {
		if now != nil {
			w.now = now
		}
	}
}

// CleanupWorker удаляет истёкшие ключи идемпотентности POST /api/orders.
type CleanupWorker struct {
	store      domain.IdempotencyRepository
	logger     *log.Entry
	metrics    *metrics.CleanupMetrics
	interval   time.Duration
	batchSize  int
	maxBatches int
	now        func() time.Time
}

// NewCleanupWorker создаёт воркер очистки.
func NewCleanupWorker(store domain.IdempotencyRepository, options ...CleanupOption) *CleanupWorker {
	w := &CleanupWorker{
		store:      store,
		interval:   defaultCleanupInterval,
		batchSize:  defaultCleanupBatchSize,
		maxBatches: defaultMaxBatches,
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, option := range options {
		option(w)
	}
	if w.logger == nil {
		w.logger = log.WithField("component", "idempotency-cleanup")
	}
	if w.metrics == nil {
		w.metrics = metrics.NewCleanupMetrics(nil)
	}
	return w
}

// Run чистит ключи сразу и затем раз в interval до отмены ctx. Если проход не успел
// удалить всё, следующий начинается через catchUpDelay.
func (w *CleanupWorker) Run(ctx context.Context) {
	if w.store == nil {
		w.logger.Warn("idempotency cleanup is disabled: no key store")
		return
	}

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		next := w.interval
		result, err := w.Sweep(ctx)
		switch {
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return
		case err != nil:
			w.metrics.RecordRun("error", result.Deleted)
			w.logger.WithError(err).WithField("deleted", result.Deleted).Warn("idempotency cleanup failed")
		default:
			w.metrics.RecordRun("ok", result.Deleted)
			if result.Deleted > 0 {
				w.logger.WithFields(log.Fields{
					"deleted":   result.Deleted,
					"batches":   result.Batches,
					"truncated": result.Truncated,
				}).Info("expired idempotency keys removed")
			}
			if result.Truncated {
				next = catchUpDelay
			}
		}
		timer.Reset(next)
	}
}

// Sweep удаляет ключи, истёкшие к текущему моменту, батчами не больше maxBatches.
func (w *CleanupWorker) Sweep(ctx context.Context) (SweepResult, error) {
	cutoff := w.now()

	var result SweepResult
	for result.Batches < w.maxBatches {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		deleted, err := w.store.DeleteExpired(ctx, cutoff, w.batchSize)
		if err != nil {
			return result, err
		}
		result.Batches++
		result.Deleted += deleted
		w.metrics.AddDeleted(deleted)

		if deleted < w.batchSize {
			return result, nil
		}
	}

	result.Truncated = true
	return result, nil
}
