package domain

import (
	"context"
	"time"
)

// ProductStore описывает каталог объявлений. Поле isSold через этот интерфейс
// не меняется: для резерва есть только ProductReserver.
type ProductStore interface {
	// CreateProduct сохраняет новое объявление.
	CreateProduct(ctx context.Context, product Product) (Product, error)
	// GetProduct возвращает объявление или ErrProductNotFound.
	GetProduct(ctx context.Context, id string) (Product, error)
	// GetProducts возвращает найденные объявления; отсутствующие id пропускаются.
	GetProducts(ctx context.Context, ids []string) ([]Product, error)
	// ListProducts возвращает объявления по фильтру, новые первыми.
	ListProducts(ctx context.Context, filter ProductFilter) ([]Product, error)
}

// ProductReserver — единственный способ изменить состояние резерва товара.
type ProductReserver interface {
	// ReserveIfAvailable атомарно проверяет isSold == false и помечает товар проданным.
	// Если товар уже продан или не существует, возвращает ErrProductUnavailable без изменений.
	ReserveIfAvailable(ctx context.Context, productID, buyerID string, at time.Time) (Product, error)
	// Release снимает резерв, только если текущий покупатель совпадает с expectedHolderID.
	// Во всех остальных случаях ничего не меняет и возвращает released == false.
	Release(ctx context.Context, productID, expectedHolderID string, at time.Time) (product Product, released bool, err error)
}

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// Create сохраняет новый заказ. Возвращает ошибку, если запись с таким ID уже существует.
	Create(ctx context.Context, order Order) error
	// Get возвращает заказ по идентификатору или ErrOrderNotFound, если его нет.
	Get(ctx context.Context, id string) (Order, error)
	// ListByCustomer возвращает заказы клиента, новые первыми; limit <= 0 — без ограничения.
	ListByCustomer(ctx context.Context, customerID string, limit int) ([]Order, error)
	// Save применяет обновления к заказу с учётом optimistic locking.
	// История может только дополняться, иначе ErrHistoryRewrite.
	Save(ctx context.Context, order Order) error
}

// Tx — набор репозиториев, работающих в одной транзакции.
type Tx interface {
	Products() ProductReserver
	Orders() OrderRepository
}

// TxManager выполняет fn в транзакции: ошибка из fn откатывает все изменения.
type TxManager interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}
