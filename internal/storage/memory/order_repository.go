package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/vladislavdragonenkov/orders/internal/domain"
)

// orderRepositoryInMemory: in-memory реализация OrderRepository.
// Один мьютекс на всё хранилище даёт ту же сериализацию записей, что и транзакции БД.
type orderRepositoryInMemory struct {
	mu        sync.RWMutex
	items     map[string]domain.Order
	byOrderNo map[string]string
}

// NewOrderRepository возвращает in-memory репозиторий для локальной разработки и тестов.
func NewOrderRepository() domain.OrderRepository {
	return &orderRepositoryInMemory{
		items:     make(map[string]domain.Order),
		byOrderNo: make(map[string]string),
	}
}

// List возвращает заказы по возрастанию product_id с учётом фильтра и пагинации.
func (r *orderRepositoryInMemory) List(_ context.Context, filter domain.ListFilter) ([]domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.Order, 0, len(r.items))
	for _, order := range r.items {
		if filter.Status != "" && order.Status != filter.Status {
			continue
		}
		result = append(result, cloneOrder(order))
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].ProductID < result[j].ProductID
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(result) {
			return []domain.Order{}, nil
		}
		result = result[filter.Offset:]
	}
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}

	return result, nil
}

// Get возвращает заказ или ErrOrderNotFound, если его нет.
func (r *orderRepositoryInMemory) Get(_ context.Context, productID string) (domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	order, ok := r.items[productID]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return cloneOrder(order), nil
}

// CreateBatch сначала проверяет весь пакет и только потом вставляет его целиком.
func (r *orderRepositoryInMemory) CreateBatch(_ context.Context, orders []domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	seenIDs := make(map[string]struct{}, len(orders))
	seenNos := make(map[string]struct{}, len(orders))
	for _, order := range orders {
		if _, exists := r.items[order.ProductID]; exists {
			return domain.ErrProductIDConflict
		}
		if _, dup := seenIDs[order.ProductID]; dup {
			return domain.ErrProductIDConflict
		}
		seenIDs[order.ProductID] = struct{}{}

		if order.OrderNo == nil {
			continue
		}
		if _, exists := r.byOrderNo[*order.OrderNo]; exists {
			return domain.ErrOrderNoConflict
		}
		if _, dup := seenNos[*order.OrderNo]; dup {
			return domain.ErrOrderNoConflict
		}
		seenNos[*order.OrderNo] = struct{}{}
	}

	for _, order := range orders {
		r.put(cloneOrder(order))
	}
	return nil
}

// UpdateBatch применяет патчи по одному; отказ позиции не влияет на соседние.
func (r *orderRepositoryInMemory) UpdateBatch(_ context.Context, patches []domain.OrderPatch, guard domain.PatchGuard) ([]domain.PatchOutcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	outcomes := make([]domain.PatchOutcome, 0, len(patches))
	for _, patch := range patches {
		outcome := domain.PatchOutcome{ProductID: patch.ProductID}

		current, ok := r.items[patch.ProductID]
		if !ok {
			outcome.Err = domain.ErrOrderNotFound
			outcomes = append(outcomes, outcome)
			continue
		}
		if guard != nil {
			if err := guard(cloneOrder(current), patch); err != nil {
				outcome.Err = err
				outcomes = append(outcomes, outcome)
				continue
			}
		}

		updated := patch.Apply(cloneOrder(current))
		if updated.OrderNo != nil {
			if owner, taken := r.byOrderNo[*updated.OrderNo]; taken && owner != updated.ProductID {
				outcome.Err = domain.ErrOrderNoConflict
				outcomes = append(outcomes, outcome)
				continue
			}
		}

		r.remove(current.ProductID)
		r.put(updated)

		outcome.Previous = cloneOrder(current)
		outcome.Updated = cloneOrder(updated)
		outcomes = append(outcomes, outcome)
	}

	return outcomes, nil
}

// Delete удаляет заказ и возвращает удалённую запись.
func (r *orderRepositoryInMemory) Delete(_ context.Context, productID string) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	order, ok := r.items[productID]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	r.remove(productID)
	return order, nil
}

func (r *orderRepositoryInMemory) put(order domain.Order) {
	r.items[order.ProductID] = order
	if order.OrderNo != nil {
		r.byOrderNo[*order.OrderNo] = order.ProductID
	}
}

func (r *orderRepositoryInMemory) remove(productID string) {
	order, ok := r.items[productID]
	if !ok {
		return
	}
	if order.OrderNo != nil {
		delete(r.byOrderNo, *order.OrderNo)
	}
	delete(r.items, productID)
}

// cloneOrder копирует nullable-поля, чтобы вызывающий код не мутировал хранилище.
func cloneOrder(o domain.Order) domain.Order {
	if o.OrderNo != nil {
		v := *o.OrderNo
		o.OrderNo = &v
	}
	if o.TrackingNumber != nil {
		v := *o.TrackingNumber
		o.TrackingNumber = &v
	}
	return o
}

var _ domain.OrderRepository = (*orderRepositoryInMemory)(nil)
