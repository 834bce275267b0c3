package memory

import (
	"context"

	"github.com/vladislavdragonenkov/petmarket/internal/domain"
)

// orderRepositoryInMemory — доступ к заказам вне транзакции: каждая операция
// берёт блокировку хранилища и работает напрямую с базовым состоянием.
type orderRepositoryInMemory struct {
	store *Store
}

// NewOrderRepository возвращает репозиторий заказов поверх отдельного хранилища.
func NewOrderRepository() domain.OrderRepository {
	return NewStore().Orders()
}

func (r *orderRepositoryInMemory) base() *view {
	return &view{store: r.store}
}

func (r *orderRepositoryInMemory) Create(ctx context.Context, order domain.Order) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return r.base().Create(ctx, order)
}

func (r *orderRepositoryInMemory) Get(ctx context.Context, id string) (domain.Order, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return r.base().Get(ctx, id)
}

func (r *orderRepositoryInMemory) ListByCustomer(ctx context.Context, customerID string, limit int) ([]domain.Order, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return r.base().ListByCustomer(ctx, customerID, limit)
}

func (r *orderRepositoryInMemory) Save(ctx context.Context, order domain.Order) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return r.base().Save(ctx, order)
}

var _ domain.OrderRepository = (*orderRepositoryInMemory)(nil)
