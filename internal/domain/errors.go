package domain

import "errors"

var (
	// ErrValidation: базовая ошибка некорректного запроса (HTTP 400).
	ErrValidation = errors.New("validation failed")
	// ErrOrderConflict: нарушение уникальности product_id или order_no (HTTP 409).
	ErrOrderConflict = errors.New("order conflict")

	// ErrProductIDRequired: в заказе не указан product_id.
	ErrProductIDRequired = newValidationError("product_id is required")
	// ErrEmptyPayload: в запросе нет ни одного заказа.
	ErrEmptyPayload = newValidationError("no orders provided")
	// ErrNoUpdatableFields: патч не содержит разрешённых к изменению полей.
	ErrNoUpdatableFields = newValidationError("no updatable fields")
	// ErrStatusInvalid: статус вне допустимого перечисления.
	ErrStatusInvalid = newValidationError("invalid status")
	// ErrStatusTransition: переход статуса запрещён политикой.
	ErrStatusTransition = newValidationError("status transition not allowed")

	// ErrProductIDConflict: заказ с таким product_id уже существует.
	ErrProductIDConflict = newConflictError("product_id already exists")
	// ErrOrderNoConflict: order_no уже занят другим заказом.
	ErrOrderNoConflict = newConflictError("order_no already exists")

	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOutboxPublish: ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")

	// ErrIdempotencyKeyRequired: пустой idempotency-key.
	ErrIdempotencyKeyRequired = errors.New("idempotency key is required")
	// ErrIdempotencyRequestHashRequired: не вычислен хэш запроса.
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	// ErrIdempotencyKeyAlreadyExists: ключ уже зарегистрирован с тем же запросом.
	ErrIdempotencyKeyAlreadyExists = errors.New("idempotency key already exists")
	// ErrIdempotencyHashMismatch: ключ переиспользован с другим телом запроса.
	ErrIdempotencyHashMismatch = errors.New("idempotency key reused with different request")
	// ErrIdempotencyKeyNotFound: ключ не найден.
	ErrIdempotencyKeyNotFound = errors.New("idempotency key not found")
)

type kindError struct {
	msg  string
	kind error
}

func (e *kindError) Error() string { return e.msg }

func (e *kindError) Unwrap() error { return e.kind }

func newValidationError(msg string) error {
	return &kindError{msg: msg, kind: ErrValidation}
}

func newConflictError(msg string) error {
	return &kindError{msg: msg, kind: ErrOrderConflict}
}

// IsValidation проверяет, относится ли ошибка к ошибкам валидации.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsConflict проверяет, является ли ошибка нарушением уникальности.
func IsConflict(err error) bool {
	return errors.Is(err, ErrOrderConflict)
}

// IsIdempotencyConflict проверяет конфликт по idempotency-key.
func IsIdempotencyConflict(err error) bool {
	return errors.Is(err, ErrIdempotencyKeyAlreadyExists) || errors.Is(err, ErrIdempotencyHashMismatch)
}
