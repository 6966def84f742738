package domain

import "context"

// PatchGuard вызывается внутри транзакции с текущим состоянием заказа
// перед применением патча. Ошибка превращается в отказ по позиции.
type PatchGuard func(current Order, patch OrderPatch) error

// PatchOutcome: результат применения одного патча из пакета.
type PatchOutcome struct {
	ProductID string
	// Previous и Updated заполнены только при успехе.
	Previous Order
	Updated  Order
	Err      error
}

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// List возвращает заказы, отсортированные по product_id по возрастанию.
	List(ctx context.Context, filter ListFilter) ([]Order, error)
	// Get возвращает заказ по product_id или ErrOrderNotFound.
	Get(ctx context.Context, productID string) (Order, error)
	// CreateBatch атомарно вставляет все заказы; при конфликте не сохраняется ни один.
	CreateBatch(ctx context.Context, orders []Order) error
	// UpdateBatch применяет патчи в одной транзакции; ошибки позиций
	// (ErrOrderNotFound, ErrOrderNoConflict, ошибки guard) попадают в PatchOutcome.Err.
	// Возвращаемая ошибка означает сбой всей транзакции.
	UpdateBatch(ctx context.Context, patches []OrderPatch, guard PatchGuard) ([]PatchOutcome, error)
	// Delete удаляет заказ и возвращает удалённую запись или ErrOrderNotFound.
	Delete(ctx context.Context, productID string) (Order, error)
}
