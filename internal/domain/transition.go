package domain

// TransitionPolicy решает, можно ли перевести заказ из одного статуса в другой.
type TransitionPolicy interface {
	Allow(from, to OrderStatus) bool
}

// PermissivePolicy разрешает любой переход между допустимыми статусами.
type PermissivePolicy struct{}

// Allow всегда true для валидного целевого статуса.
func (PermissivePolicy) Allow(_, to OrderStatus) bool {
	return to.Valid()
}

// MonotonicPolicy допускает только движение вперёд:
// pending → paid → shipped → completed, cancelled из любого нетерминального статуса.
// Повторная запись того же статуса разрешена.
type MonotonicPolicy struct{}

var forwardTransitions = map[OrderStatus]OrderStatus{
	OrderStatusPending: OrderStatusPaid,
	OrderStatusPaid:    OrderStatusShipped,
	OrderStatusShipped: OrderStatusCompleted,
}

// Allow проверяет переход по графу.
func (MonotonicPolicy) Allow(from, to OrderStatus) bool {
	if !to.Valid() {
		return false
	}
	if from == to {
		return true
	}
	if from.Terminal() {
		return false
	}
	if to == OrderStatusCancelled {
		return true
	}
	return forwardTransitions[from] == to
}

// CheckTransition возвращает ErrStatusTransition, если патч меняет статус недопустимо.
func CheckTransition(policy TransitionPolicy, current Order, patch OrderPatch) error {
	if policy == nil || patch.Status == nil {
		return nil
	}
	if !policy.Allow(current.Status, *patch.Status) {
		return ErrStatusTransition
	}
	return nil
}
