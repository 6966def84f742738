package orders

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orders/internal/domain"
	"github.com/vladislavdragonenkov/orders/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/orders/internal/metrics"
)

const (
	// DefaultPageLimit: размер страницы, если limit не задан.
	DefaultPageLimit = 300
	// MaxPageLimit: верхняя граница limit.
	MaxPageLimit = 1000
)

// Service реализует операции над заказами поверх OrderRepository.
// Побочные эффекты (timeline, outbox, метрики) выполняются после коммита и не влияют на результат.
type Service struct {
	repo     domain.OrderRepository
	timeline domain.TimelineRepository
	outbox   domain.OutboxRepository
	metrics  *metrics.OrderMetrics
	logger   *log.Entry
	policy   domain.TransitionPolicy
	enforce  bool

	defaultLimit int
	maxLimit     int
	now          func() time.Time
}

// Option настраивает Service.
type Option func(*Service)

// WithTimeline подключает историю заказа.
func WithTimeline(repo domain.TimelineRepository) Option {
	return func(s *Service) {
		s.timeline = repo
	}
}

// WithOutbox включает запись событий в outbox. Запись идёт после коммита изменения заказа
// и не входит в его транзакцию: сбой между коммитом и записью теряет событие.
func WithOutbox(repo domain.OutboxRepository) Option {
	return func(s *Service) {
		s.outbox = repo
	}
}

// WithMetrics задаёт метрики сервиса.
func WithMetrics(m *metrics.OrderMetrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithLogger переопределяет логгер.
func WithLogger(logger *log.Entry) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithStatusTransitions включает проверку переходов статуса по политике.
func WithStatusTransitions(policy domain.TransitionPolicy) Option {
	return func(s *Service) {
		if policy != nil {
			s.policy = policy
			s.enforce = true
		}
	}
}

// WithPageLimits задаёт размер страницы по умолчанию и верхнюю границу.
func WithPageLimits(defaultLimit, maxLimit int) Option {
	return func(s *Service) {
		if maxLimit > 0 {
			s.maxLimit = maxLimit
		}
		if defaultLimit > 0 {
			s.defaultLimit = defaultLimit
		}
		if s.defaultLimit > s.maxLimit {
			s.defaultLimit = s.maxLimit
		}
	}
}

// WithClock подменяет источник времени (для тестов).
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService конструирует сервис заказов.
func NewService(repo domain.OrderRepository, options ...Option) *Service {
	s := &Service{
		repo:         repo,
		logger:       log.WithField("component", "orders"),
		policy:       domain.PermissivePolicy{},
		defaultLimit: DefaultPageLimit,
		maxLimit:     MaxPageLimit,
		now:          time.Now,
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

// ListQuery: параметры выборки до нормализации.
type ListQuery struct {
	Status string
	Page   int
	Limit  int
}

// Failure: отказ по одной позиции пакетного обновления.
type Failure struct {
	ProductID string
	Reason    string
	Err       error
}

// UpdateResult: итог пакетного обновления.
type UpdateResult struct {
	Updated  []domain.Order
	Failures []Failure
}

// SuccessCount возвращает число применённых патчей.
func (r UpdateResult) SuccessCount() int { return len(r.Updated) }

// FailCount возвращает число отказов.
func (r UpdateResult) FailCount() int { return len(r.Failures) }

// Filter нормализует параметры списка: page<1 → 1, limit<1 → default, limit>max → max.
func (s *Service) Filter(q ListQuery) (domain.ListFilter, error) {
	status := domain.OrderStatus(strings.TrimSpace(q.Status))
	if status != "" && !status.Valid() {
		return domain.ListFilter{}, domain.ErrStatusInvalid
	}

	page := q.Page
	if page < 1 {
		page = 1
	}
	limit := q.Limit
	if limit < 1 {
		limit = s.defaultLimit
	}
	if limit > s.maxLimit {
		limit = s.maxLimit
	}

	// Страница за пределами int даёт смещение math.MaxInt: выборка пустая, а не первая страница.
	offset := math.MaxInt
	if page-1 <= math.MaxInt/limit {
		offset = (page - 1) * limit
	}

	return domain.ListFilter{
		Status: status,
		Limit:  limit,
		Offset: offset,
	}, nil
}

// List возвращает страницу заказов, отсортированных по product_id.
func (s *Service) List(ctx context.Context, q ListQuery) ([]domain.Order, error) {
	filter, err := s.Filter(q)
	if err != nil {
		return nil, err
	}
	orders, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	if orders == nil {
		orders = []domain.Order{}
	}
	return orders, nil
}

// Get возвращает заказ или domain.ErrOrderNotFound.
func (s *Service) Get(ctx context.Context, productID string) (domain.Order, error) {
	if strings.TrimSpace(productID) == "" {
		return domain.Order{}, domain.ErrProductIDRequired
	}
	return s.repo.Get(ctx, productID)
}

// Create проверяет все черновики и атомарно сохраняет пакет.
func (s *Service) Create(ctx context.Context, drafts []domain.OrderDraft) ([]domain.Order, error) {
	if len(drafts) == 0 {
		return nil, domain.ErrEmptyPayload
	}

	now := s.now().UTC()
	orders := make([]domain.Order, 0, len(drafts))
	for idx, draft := range drafts {
		order, err := draft.Build(now)
		if err != nil {
			if len(drafts) > 1 {
				return nil, &ItemError{Index: idx, Err: err}
			}
			return nil, err
		}
		orders = append(orders, order)
	}

	if err := s.repo.CreateBatch(ctx, orders); err != nil {
		if !domain.IsConflict(err) {
			s.logger.WithError(err).WithField("count", len(orders)).Error("failed to create orders")
		}
		return nil, err
	}

	s.metrics.RecordCreated(len(orders))
	s.logger.WithField("count", len(orders)).Info("orders created")

	sideCtx := context.WithoutCancel(ctx)
	for _, order := range orders {
		s.appendTimeline(sideCtx, order.ProductID, domain.TimelineOrderCreated, string(order.Status), order.CreatedAt)
		s.emitEvent(sideCtx, order.ProductID, domain.OutboxEventOrderCreated, kafka.NewOrderEvent(kafka.EventTypeOrderCreated, order))
	}

	return orders, nil
}

// Update применяет пакет патчей. Отсутствие product_id в любой позиции отклоняет весь запрос;
// остальные ошибки собираются по позициям в порядке входа.
func (s *Service) Update(ctx context.Context, patches []domain.OrderPatch) (UpdateResult, error) {
	if len(patches) == 0 {
		return UpdateResult{}, domain.ErrEmptyPayload
	}
	for idx, patch := range patches {
		if strings.TrimSpace(patch.ProductID) == "" {
			if len(patches) > 1 {
				return UpdateResult{}, &ItemError{Index: idx, Err: domain.ErrProductIDRequired}
			}
			return UpdateResult{}, domain.ErrProductIDRequired
		}
	}

	// Невалидные позиции отсекаются до транзакции, их место в выдаче сохраняется.
	failures := make(map[int]error, len(patches))
	valid := make([]domain.OrderPatch, 0, len(patches))
	validIdx := make([]int, 0, len(patches))
	for idx, patch := range patches {
		if err := patch.Validate(); err != nil {
			failures[idx] = err
			continue
		}
		valid = append(valid, patch)
		validIdx = append(validIdx, idx)
	}

	outcomes := make(map[int]domain.PatchOutcome, len(valid))
	if len(valid) > 0 {
		results, err := s.repo.UpdateBatch(ctx, valid, s.guard())
		if err != nil {
			s.logger.WithError(err).WithField("count", len(valid)).Error("failed to update orders")
			return UpdateResult{}, fmt.Errorf("update orders: %w", err)
		}
		for i, outcome := range results {
			if outcome.Err != nil {
				failures[validIdx[i]] = outcome.Err
				continue
			}
			outcomes[validIdx[i]] = outcome
		}
	}

	result := UpdateResult{
		Updated:  make([]domain.Order, 0, len(outcomes)),
		Failures: make([]Failure, 0, len(failures)),
	}
	type applied struct {
		patch   domain.OrderPatch
		outcome domain.PatchOutcome
	}
	succeeded := make([]applied, 0, len(outcomes))
	for idx, patch := range patches {
		if err, failed := failures[idx]; failed {
			result.Failures = append(result.Failures, Failure{
				ProductID: patch.ProductID,
				Reason:    err.Error(),
				Err:       err,
			})
			s.metrics.RecordUpdateFailure(err.Error())
			continue
		}
		outcome := outcomes[idx]
		result.Updated = append(result.Updated, outcome.Updated)
		succeeded = append(succeeded, applied{patch: patch, outcome: outcome})
	}

	s.metrics.RecordUpdateBatch(len(patches), len(result.Updated))
	s.logger.WithFields(log.Fields{
		"success": result.SuccessCount(),
		"failed":  result.FailCount(),
	}).Info("orders update processed")

	sideCtx := context.WithoutCancel(ctx)
	for _, item := range succeeded {
		s.afterUpdate(sideCtx, item.patch, item.outcome)
	}

	return result, nil
}

// UpdateOne применяет один патч и переводит отказ в доменную ошибку.
func (s *Service) UpdateOne(ctx context.Context, patch domain.OrderPatch) (domain.Order, error) {
	result, err := s.Update(ctx, []domain.OrderPatch{patch})
	if err != nil {
		return domain.Order{}, err
	}
	if len(result.Failures) > 0 {
		return domain.Order{}, result.Failures[0].Err
	}
	return result.Updated[0], nil
}

// Delete удаляет заказ.
func (s *Service) Delete(ctx context.Context, productID string) (domain.Order, error) {
	if strings.TrimSpace(productID) == "" {
		return domain.Order{}, domain.ErrProductIDRequired
	}

	deleted, err := s.repo.Delete(ctx, productID)
	if err != nil {
		if !errors.Is(err, domain.ErrOrderNotFound) {
			s.logger.WithError(err).WithField("product_id", productID).Error("failed to delete order")
		}
		return domain.Order{}, err
	}

	s.metrics.RecordDeleted()
	s.logger.WithField("product_id", productID).Info("order deleted")

	sideCtx := context.WithoutCancel(ctx)
	s.appendTimeline(sideCtx, productID, domain.TimelineOrderDeleted, string(deleted.Status), s.now().UTC())
	s.emitEvent(sideCtx, productID, domain.OutboxEventOrderDeleted, kafka.NewOrderEvent(kafka.EventTypeOrderDeleted, deleted))

	return deleted, nil
}

// Timeline возвращает историю заказа; доступна и после удаления.
func (s *Service) Timeline(ctx context.Context, productID string) ([]domain.TimelineEvent, error) {
	if s.timeline == nil {
		return []domain.TimelineEvent{}, nil
	}
	events, err := s.timeline.List(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("list timeline: %w", err)
	}
	if events == nil {
		events = []domain.TimelineEvent{}
	}
	return events, nil
}

func (s *Service) guard() domain.PatchGuard {
	if !s.enforce {
		return nil
	}
	policy := s.policy
	return func(current domain.Order, patch domain.OrderPatch) error {
		return domain.CheckTransition(policy, current, patch)
	}
}

func (s *Service) afterUpdate(ctx context.Context, patch domain.OrderPatch, outcome domain.PatchOutcome) {
	now := s.now().UTC()
	fields := patch.Fields()
	s.appendTimeline(ctx, outcome.ProductID, domain.TimelineOrderUpdated, strings.Join(fields, ","), now)
	if outcome.Previous.Status != outcome.Updated.Status {
		reason := fmt.Sprintf("%s -> %s", outcome.Previous.Status, outcome.Updated.Status)
		s.appendTimeline(ctx, outcome.ProductID, domain.TimelineOrderStatusChanged, reason, now)
	}
	s.emitEvent(ctx, outcome.ProductID, domain.OutboxEventOrderUpdated, kafka.NewOrderUpdatedEvent(outcome.Previous, outcome.Updated, fields))
}
