package domain

import "errors"

// Ошибки валидации запроса. Возвращаются до любых изменений состояния.
var (
	// ErrNoItems — в запросе на заказ нет ни одной позиции.
	ErrNoItems = errors.New("no items")
	// ErrInvalidItems — ни один из переданных товаров не найден в каталоге.
	ErrInvalidItems = errors.New("invalid items")
	// Ошибка отрицательного количества в позиции.
	ErrInvalidQuantity = errors.New("item quantity must be non-negative")
	// Ошибка пустого идентификатора товара в позиции.
	ErrProductIDRequired = errors.New("productId is required")
	// ErrInvalidStatus — статус заказа вне допустимого перечня.
	ErrInvalidStatus = errors.New("invalid order status")
	// Ошибка отсутствующего идентификатора клиента.
	ErrCustomerRequired = errors.New("customer_id is required")
	// Ошибка отсутствующего названия объявления.
	ErrProductNameRequired = errors.New("name is required")
	// Ошибка отсутствующей цены объявления (цена хранится текстом).
	ErrProductAmountRequired = errors.New("amount is required and must be text")
	// Ошибка отсутствующего владельца объявления.
	ErrSellerRequired = errors.New("seller_id is required")
)

// Конфликты резервирования.
var (
	// ErrItemsUnavailable — хотя бы один товар заказа уже продан, заказ не создан.
	ErrItemsUnavailable = errors.New("one or more items are no longer available")
	// ErrProductUnavailable — конкретный товар уже зарезервирован или не существует.
	ErrProductUnavailable = errors.New("product is not available")
)

var (
	// ErrOrderNotFound возвращается, если заказ не найден или принадлежит другому клиенту.
	ErrOrderNotFound = errors.New("order not found")
	// ErrProductNotFound возвращается, если объявление не найдено.
	ErrProductNotFound = errors.New("product not found")
	// ErrOrderVersionConflict сигнализирует о конфликте версий при сохранении.
	ErrOrderVersionConflict = errors.New("order version conflict")
	// ErrHistoryRewrite — попытка изменить уже записанную историю заказа.
	ErrHistoryRewrite = errors.New("order history is append-only")
	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
)

// Ошибки idempotency-key.
var (
	ErrIdempotencyKeyRequired         = errors.New("idempotency key is required")
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	ErrIdempotencyKeyAlreadyExists    = errors.New("idempotency key already exists")
	ErrIdempotencyHashMismatch        = errors.New("idempotency key reused with different request")
	ErrIdempotencyKeyNotFound         = errors.New("idempotency key not found")
)

var validationErrors = []error{
	ErrNoItems,
	ErrInvalidItems,
	ErrInvalidQuantity,
	ErrProductIDRequired,
	ErrInvalidStatus,
	ErrCustomerRequired,
	ErrProductNameRequired,
	ErrProductAmountRequired,
	ErrSellerRequired,
}

// IsValidation проверяет, относится ли ошибка к ошибкам валидации запроса.
func IsValidation(err error) bool {
	if err == nil {
		return false
	}
	for _, target := range validationErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsConflict проверяет, является ли ошибка конфликтом резервирования.
func IsConflict(err error) bool {
	return errors.Is(err, ErrItemsUnavailable) || errors.Is(err, ErrProductUnavailable)
}

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrOrderVersionConflict)
}

// IsIdempotencyConflict проверяет, что ключ уже использован.
func IsIdempotencyConflict(err error) bool {
	return errors.Is(err, ErrIdempotencyKeyAlreadyExists) || errors.Is(err, ErrIdempotencyHashMismatch)
}
