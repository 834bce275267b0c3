package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/petmarket/internal/domain"
)

// Store — in-memory хранилище объявлений и заказов для локальной разработки и тестов.
// Одна блокировка на всё хранилище: транзакция держит её до коммита,
// изменения копятся в staged-слое и применяются только при успехе.
type Store struct {
	mu       sync.Mutex
	products map[string]domain.Product
	orders   map[string]domain.Order
}

// NewStore создаёт пустое хранилище.
func NewStore() *Store {
	return &Store{
		products: make(map[string]domain.Product),
		orders:   make(map[string]domain.Order),
	}
}

// Products возвращает каталог объявлений.
func (s *Store) Products() domain.ProductStore {
	return &productRepositoryInMemory{store: s}
}

// Orders возвращает репозиторий заказов вне транзакции.
func (s *Store) Orders() domain.OrderRepository {
	return &orderRepositoryInMemory{store: s}
}

// WithinTx выполняет fn под блокировкой хранилища. Изменения видны
// остальным только после успешного завершения fn.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	v := &view{
		store:          s,
		stagedProducts: make(map[string]domain.Product),
		stagedOrders:   make(map[string]domain.Order),
	}
	if err := fn(ctx, &txInMemory{view: v}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	for id, product := range v.stagedProducts {
		s.products[id] = product
	}
	for id, order := range v.stagedOrders {
		s.orders[id] = order
	}
	return nil
}

type txInMemory struct {
	view *view
}

func (t *txInMemory) Products() domain.ProductReserver { return t.view }
func (t *txInMemory) Orders() domain.OrderRepository  { return t.view }

// view читает сначала staged-слой, затем базовое состояние.
// Вызывающий обязан держать store.mu.
type view struct {
	store          *Store
	stagedProducts map[string]domain.Product
	stagedOrders   map[string]domain.Order
}

func (v *view) product(id string) (domain.Product, bool) {
	if p, ok := v.stagedProducts[id]; ok {
		return p, true
	}
	p, ok := v.store.products[id]
	return p, ok
}

func (v *view) putProduct(p domain.Product) {
	if v.stagedProducts != nil {
		v.stagedProducts[p.ID] = p
		return
	}
	v.store.products[p.ID] = p
}

func (v *view) order(id string) (domain.Order, bool) {
	if o, ok := v.stagedOrders[id]; ok {
		return o, true
	}
	o, ok := v.store.orders[id]
	return o, ok
}

func (v *view) putOrder(o domain.Order) {
	if v.stagedOrders != nil {
		v.stagedOrders[o.ID] = o
		return
	}
	v.store.orders[o.ID] = o
}

// ReserveIfAvailable помечает товар проданным, если он ещё свободен.
func (v *view) ReserveIfAvailable(ctx context.Context, productID, buyerID string, at time.Time) (domain.Product, error) {
	if err := ctx.Err(); err != nil {
		return domain.Product{}, err
	}
	p, ok := v.product(productID)
	if !ok || p.IsSold {
		return domain.Product{}, domain.ErrProductUnavailable
	}
	p = p.Clone()
	p.MarkReserved(buyerID, at)
	v.putProduct(p)
	return p.Clone(), nil
}

// Release возвращает товар в продажу, только если его держит expectedHolderID.
func (v *view) Release(ctx context.Context, productID, expectedHolderID string, at time.Time) (domain.Product, bool, error) {
	if err := ctx.Err(); err != nil {
		return domain.Product{}, false, err
	}
	p, ok := v.product(productID)
	if !ok {
		return domain.Product{}, false, nil
	}
	if !p.HeldBy(expectedHolderID) {
		return p.Clone(), false, nil
	}
	p = p.Clone()
	p.MarkReleased(at)
	v.putProduct(p)
	return p.Clone(), true, nil
}

// Create сохраняет новый заказ, если ID ещё не занят.
func (v *view) Create(_ context.Context, order domain.Order) error {
	if order.ID == "" {
		order.ID = uuid.NewString()
	}
	if _, exists := v.order(order.ID); exists {
		return domain.ErrOrderVersionConflict
	}
	v.putOrder(order.Clone())
	return nil
}

// Get возвращает заказ или ErrOrderNotFound, если его нет.
func (v *view) Get(_ context.Context, id string) (domain.Order, error) {
	order, ok := v.order(id)
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return order.Clone(), nil
}

// ListByCustomer возвращает заказы клиента, новые первыми.
func (v *view) ListByCustomer(_ context.Context, customerID string, limit int) ([]domain.Order, error) {
	seen := make(map[string]struct{}, len(v.stagedOrders))
	result := make([]domain.Order, 0)
	for id, order := range v.stagedOrders {
		seen[id] = struct{}{}
		if order.CustomerID == customerID {
			result = append(result, order.Clone())
		}
	}
	for id, order := range v.store.orders {
		if _, ok := seen[id]; ok {
			continue
		}
		if order.CustomerID == customerID {
			result = append(result, order.Clone())
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// Save перезаписывает заказ, проверяя версию и неизменность истории.
func (v *view) Save(_ context.Context, order domain.Order) error {
	current, ok := v.order(order.ID)
	if !ok {
		return domain.ErrOrderNotFound
	}
	if current.Version != order.Version {
		return domain.ErrOrderVersionConflict
	}
	if !domain.HistoryExtends(current.Tracking.History, order.Tracking.History) {
		return domain.ErrHistoryRewrite
	}
	order = order.Clone()
	order.Version++
	v.putOrder(order)
	return nil
}

var (
	_ domain.TxManager       = (*Store)(nil)
	_ domain.ProductReserver = (*view)(nil)
	_ domain.OrderRepository = (*view)(nil)
)
