package orders

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/petmarket/internal/domain"
	"github.com/vladislavdragonenkov/petmarket/internal/metrics"
	"github.com/vladislavdragonenkov/petmarket/internal/service/notify"
)

const (
	defaultRetryAttempts  = 3
	defaultRetryBaseDelay = 10 * time.Millisecond
	notifyTimeout         = 10 * time.Second
)

// ItemRequest — позиция запроса на создание заказа.
type ItemRequest struct {
	ProductID string
	// Quantity 0 трактуется как 1.
	Quantity int
}

// Manager управляет жизненным циклом заказа: создание с резервом товаров,
// отмена с возвратом товаров в продажу, административная смена статуса.
type Manager struct {
	products domain.ProductStore
	txm      domain.TxManager
	orders   domain.OrderRepository
	notifier domain.Notifier

	logger  *log.Entry
	metrics *metrics.OrderMetrics
	now     func() time.Time
	newID   func() string

	retryAttempts  int
	retryBaseDelay time.Duration

	// очередь разбирается одной горутиной в порядке поступления
	notifyMu       sync.Mutex
	notifyQueue    []domain.Notification
	notifyDraining bool
	notifyClosed   bool
	notifyWG       sync.WaitGroup
}

// Option настраивает Manager.
type Option func(*Manager)

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMetrics включает метрики заказов.
func WithMetrics(om *metrics.OrderMetrics) Option {
	return func(m *Manager) {
		m.metrics = om
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithIDGenerator подменяет генератор идентификаторов заказов.
func WithIDGenerator(newID func() string) Option {
	return func(m *Manager) {
		if newID != nil {
			m.newID = newID
		}
	}
}

// WithRetry задаёт число попыток и базовую задержку при конфликте версий.
func WithRetry(attempts int, baseDelay time.Duration) Option {
	return func(m *Manager) {
		if attempts > 0 {
			m.retryAttempts = attempts
		}
		if baseDelay >= 0 {
			m.retryBaseDelay = baseDelay
		}
	}
}

// NewManager создаёт менеджер заказов. notifier может быть nil: тогда письма не отправляются.
func NewManager(
	products domain.ProductStore,
	txm domain.TxManager,
	orders domain.OrderRepository,
	notifier domain.Notifier,
	opts ...Option,
) *Manager {
	m := &Manager{
		products:       products,
		txm:            txm,
		orders:         orders,
		notifier:       notifier,
		logger:         log.New().WithField("component", "orders"),
		now:            func() time.Time { return time.Now().UTC() },
		newID:          uuid.NewString,
		retryAttempts:  defaultRetryAttempts,
		retryBaseDelay: defaultRetryBaseDelay,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// clock возвращает текущее время с точностью до микросекунд, как его хранит PostgreSQL.
func (m *Manager) clock() time.Time {
	return m.now().UTC().Truncate(time.Microsecond)
}

// CreateOrder создаёт заказ и атомарно резервирует все его товары.
// Если хотя бы один товар уже продан, не резервируется ничего.
func (m *Manager) CreateOrder(ctx context.Context, customerID string, items []ItemRequest, shipping domain.Shipping) (domain.Order, error) {
	start := time.Now()

	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return domain.Order{}, domain.ErrCustomerRequired
	}
	if len(items) == 0 {
		return domain.Order{}, domain.ErrNoItems
	}

	ids := make([]string, 0, len(items))
	quantities := make([]int, 0, len(items))
	for _, item := range items {
		switch {
		case item.Quantity < 0:
			return domain.Order{}, domain.ErrInvalidQuantity
		case item.Quantity == 0:
			quantities = append(quantities, 1)
		default:
			quantities = append(quantities, item.Quantity)
		}
		ids = append(ids, strings.TrimSpace(item.ProductID))
	}

	found, err := m.products.GetProducts(ctx, ids)
	if err != nil {
		return domain.Order{}, fmt.Errorf("lookup products: %w", err)
	}
	byID := make(map[string]domain.Product, len(found))
	for _, p := range found {
		byID[p.ID] = p
	}

	snapshot := make([]domain.OrderItem, 0, len(items))
	for i := range items {
		p, ok := byID[ids[i]]
		if !ok {
			m.logger.WithField("product_id", ids[i]).Debug("unknown product dropped from order")
			continue
		}
		snapshot = append(snapshot, domain.OrderItem{
			ProductID: p.ID,
			Name:      p.Name,
			Amount:    p.Amount,
			Quantity:  quantities[i],
			ImageURL:  p.ImageURL,
			SellerID:  p.SellerID,
		})
	}
	if len(snapshot) == 0 {
		return domain.Order{}, domain.ErrInvalidItems
	}

	now := m.clock()
	order := domain.NewOrder(m.newID(), customerID, snapshot, shipping, now)

	err = m.txm.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		for _, productID := range reservationOrder(order.Items) {
			if _, err := tx.Products().ReserveIfAvailable(ctx, productID, customerID, now); err != nil {
				if errors.Is(err, domain.ErrProductUnavailable) {
					return fmt.Errorf("%w: product %s", domain.ErrItemsUnavailable, productID)
				}
				return fmt.Errorf("reserve product %s: %w", productID, err)
			}
		}
		if err := tx.Orders().Create(ctx, order); err != nil {
			return fmt.Errorf("insert order: %w", err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrItemsUnavailable) {
			m.metrics.RecordOrderConflict()
			m.logger.WithError(err).WithField("customer_id", customerID).Info("order rejected: items no longer available")
		}
		return domain.Order{}, err
	}

	m.metrics.RecordOrderCreated(len(order.Items), time.Since(start))
	m.logger.WithFields(log.Fields{
		"order_id":    order.ID,
		"customer_id": customerID,
		"items":       len(order.Items),
		"total":       order.Total.String(),
	}).Info("order created")

	m.notifyAsync(notify.OrderCreated(order))
	return order, nil
}

// reservationOrder возвращает id товаров по возрастанию.
// Строки товаров блокируются в одном порядке для любых корзин.
func reservationOrder(items []domain.OrderItem) []string {
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ProductID)
	}
	slices.Sort(ids)
	return ids
}

// CancelOrder отменяет заказ покупателя и возвращает его товары в продажу.
// Повторная отмена возвращает заказ без изменений.
func (m *Manager) CancelOrder(ctx context.Context, orderID, customerID string) (domain.Order, error) {
	var (
		result    domain.Order
		cancelled bool
		released  int
	)

	err := m.retryOnConflict(ctx, "cancel", orderID, func() error {
		cancelled, released = false, 0
		return m.txm.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
			order, err := tx.Orders().Get(ctx, orderID)
			if err != nil {
				return err
			}
			if order.CustomerID != customerID {
				return domain.ErrOrderNotFound
			}

			now := m.clock()
			if !order.Cancel(now) {
				result = order
				return nil
			}
			if err := tx.Orders().Save(ctx, order); err != nil {
				return err
			}
			order.Version++

			for _, item := range order.Items {
				_, ok, err := tx.Products().Release(ctx, item.ProductID, customerID, now)
				if err != nil {
					return fmt.Errorf("release product %s: %w", item.ProductID, err)
				}
				if ok {
					released++
				}
			}

			result = order
			cancelled = true
			return nil
		})
	})
	if err != nil {
		return domain.Order{}, err
	}

	if !cancelled {
		m.logger.WithField("order_id", orderID).Debug("order already cancelled")
		return result, nil
	}

	m.metrics.RecordOrderCancelled(released)
	m.logger.WithFields(log.Fields{
		"order_id": orderID,
		"released": released,
	}).Info("order cancelled")

	m.notifyAsync(notify.OrderCancelled(result))
	return result, nil
}

// UpdateOrderStatus применяет административное изменение статуса и трекинга.
// Каждый вызов добавляет ровно одну запись в историю.
func (m *Manager) UpdateOrderStatus(ctx context.Context, orderID string, update domain.StatusUpdate) (domain.Order, error) {
	if update.Status != "" && !update.Status.Valid() {
		return domain.Order{}, domain.ErrInvalidStatus
	}

	var result domain.Order
	err := m.retryOnConflict(ctx, "update_status", orderID, func() error {
		order, err := m.orders.Get(ctx, orderID)
		if err != nil {
			return err
		}
		if err := order.ApplyStatusUpdate(update, m.clock()); err != nil {
			return err
		}
		if err := m.orders.Save(ctx, order); err != nil {
			return err
		}
		order.Version++
		result = order
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}

	m.metrics.RecordStatusUpdate(string(result.Status))
	m.logger.WithFields(log.Fields{
		"order_id": orderID,
		"status":   result.Status,
	}).Info("order status updated")

	m.notifyAsync(notify.OrderStatusChanged(result, update.Note))
	return result, nil
}

// GetOrder возвращает заказ владельца. Чужой заказ неотличим от отсутствующего.
func (m *Manager) GetOrder(ctx context.Context, orderID, customerID string) (domain.Order, error) {
	order, err := m.orders.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if order.CustomerID != customerID {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return order, nil
}

// ListCustomerOrders возвращает заказы покупателя, новые первыми.
func (m *Manager) ListCustomerOrders(ctx context.Context, customerID string) ([]domain.Order, error) {
	return m.orders.ListByCustomer(ctx, customerID, 0)
}

// retryOnConflict повторяет fn при конфликте версий с экспоненциальной задержкой.
func (m *Manager) retryOnConflict(ctx context.Context, op, orderID string, fn func() error) error {
	var err error
	for attempt := 0; attempt < m.retryAttempts; attempt++ {
		err = fn()
		if err == nil || !domain.IsVersionConflict(err) {
			return err
		}
		if attempt == m.retryAttempts-1 {
			break
		}

		m.metrics.RecordVersionRetry()
		m.logger.WithFields(log.Fields{
			"order_id":  orderID,
			"operation": op,
			"attempt":   attempt + 1,
		}).Warn("version conflict detected, retrying")

		delay := m.retryBaseDelay * time.Duration(1<<uint(attempt))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}

// notifyAsync ставит уведомление в очередь. Ошибки отправки только логируются.
func (m *Manager) notifyAsync(n domain.Notification) {
	if m.notifier == nil {
		return
	}

	m.notifyMu.Lock()
	if m.notifyClosed {
		m.notifyMu.Unlock()
		m.logger.WithField("order_id", n.OrderID).Warn("notification skipped during shutdown")
		return
	}
	m.notifyQueue = append(m.notifyQueue, n)
	m.metrics.NotificationStarted()
	if m.notifyDraining {
		m.notifyMu.Unlock()
		return
	}
	m.notifyDraining = true
	m.notifyWG.Add(1)
	m.notifyMu.Unlock()

	go m.drainNotifications()
}

// drainNotifications отправляет уведомления из очереди строго по одному, пока она не опустеет.
func (m *Manager) drainNotifications() {
	defer m.notifyWG.Done()

	for {
		m.notifyMu.Lock()
		if len(m.notifyQueue) == 0 {
			m.notifyDraining = false
			m.notifyMu.Unlock()
			return
		}
		n := m.notifyQueue[0]
		m.notifyQueue = m.notifyQueue[1:]
		m.notifyMu.Unlock()

		m.deliverNotification(n)
	}
}

func (m *Manager) deliverNotification(n domain.Notification) {
	defer m.metrics.NotificationFinished()

	ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()

	if err := m.notifier.Notify(ctx, n); err != nil {
		m.metrics.RecordNotification(string(n.Event), metrics.ResultFailed)
		m.logger.WithError(err).WithFields(log.Fields{
			"order_id": n.OrderID,
			"event":    n.Event,
		}).Warn("notification failed")
		return
	}
	m.metrics.RecordNotification(string(n.Event), metrics.ResultQueued)
}

// Shutdown запрещает новые уведомления и ждёт отправки уже запущенных.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.notifyMu.Lock()
	m.notifyClosed = true
	m.notifyMu.Unlock()

	waitDone := make(chan struct{})
	go func() {
		m.notifyWG.Wait()
		close(waitDone)
	}()

	select {
	case <-waitDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
