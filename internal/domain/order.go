package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus описывает жизненный цикл заказа.
type OrderStatus string

const (
	// OrderStatusPending — заказ создан, товары зарезервированы.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusConfirmed — заказ подтверждён администратором.
	OrderStatusConfirmed OrderStatus = "confirmed"
	// OrderStatusShipped — заказ передан в доставку.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered — заказ доставлен покупателю.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled — заказ отменён покупателем, товары возвращены в продажу.
	OrderStatusCancelled OrderStatus = "cancelled"
)

// Заметки, которые пишутся в историю при создании и отмене.
const (
	NoteOrderCreated   = "Order created"
	NoteOrderCancelled = "Order cancelled by customer"
)

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusConfirmed, OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled:
		return true
	default:
		return false
	}
}

// ParseOrderStatus нормализует строку статуса.
func ParseOrderStatus(raw string) (OrderStatus, error) {
	status := OrderStatus(strings.ToLower(strings.TrimSpace(raw)))
	if !status.Valid() {
		return "", ErrInvalidStatus
	}
	return status, nil
}

// OrderItem — снимок товара на момент покупки. После создания заказа
// из каталога не перечитывается.
type OrderItem struct {
	ProductID string
	Name      string
	Amount    string
	Quantity  int
	ImageURL  string
	SellerID  string
}

// LineTotal возвращает стоимость позиции.
func (i OrderItem) LineTotal() decimal.Decimal {
	return LineTotal(i.Amount, i.Quantity)
}

// Shipping — адрес доставки, указанный покупателем.
type Shipping struct {
	Name       string
	Email      string
	Address    string
	City       string
	Country    string
	PostalCode string
}

// HistoryEntry — запись в истории статусов. После добавления не меняется.
type HistoryEntry struct {
	Status OrderStatus
	Note   string
	At     time.Time
}

// DeliveryTracking хранит данные доставки и историю статусов.
type DeliveryTracking struct {
	Carrier        string
	TrackingNumber string
	ETA            *time.Time
	History        []HistoryEntry
}

// Order агрегирует состояние заказа и его позиции.
type Order struct {
	ID         string
	CustomerID string
	Items      []OrderItem
	Total      decimal.Decimal
	Status     OrderStatus
	Tracking   DeliveryTracking
	Shipping   Shipping
	Version    int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// StatusUpdate — административное изменение статуса и данных доставки.
// Пустые поля не меняют текущие значения.
type StatusUpdate struct {
	Status         OrderStatus
	Note           string
	Carrier        string
	TrackingNumber string
	ETA            *time.Time
}

// NewOrder собирает заказ в статусе pending с первой записью истории.
func NewOrder(id, customerID string, items []OrderItem, shipping Shipping, now time.Time) Order {
	order := Order{
		ID:         id,
		CustomerID: customerID,
		Items:      append([]OrderItem(nil), items...),
		Status:     OrderStatusPending,
		Shipping:   shipping,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	order.Total = ComputeTotal(order.Items)
	order.AppendHistory(OrderStatusPending, NoteOrderCreated, now)
	return order
}

// ComputeTotal суммирует цену × количество по всем позициям.
func ComputeTotal(items []OrderItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.LineTotal())
	}
	return total
}

// AppendHistory добавляет запись в историю. Время записи не может быть
// раньше последней записи, поэтому порядок истории совпадает с порядком переходов.
func (o *Order) AppendHistory(status OrderStatus, note string, at time.Time) HistoryEntry {
	if n := len(o.Tracking.History); n > 0 {
		if last := o.Tracking.History[n-1].At; at.Before(last) {
			at = last
		}
	}
	entry := HistoryEntry{Status: status, Note: note, At: at}
	o.Tracking.History = append(o.Tracking.History, entry)
	return entry
}

// IsCancelled сообщает, отменён ли заказ.
func (o *Order) IsCancelled() bool {
	return o.Status == OrderStatusCancelled
}

// Cancel переводит заказ в cancelled. Повторная отмена ничего не меняет
// и возвращает false.
func (o *Order) Cancel(now time.Time) bool {
	if o.IsCancelled() {
		return false
	}
	o.Status = OrderStatusCancelled
	o.UpdatedAt = now
	o.AppendHistory(OrderStatusCancelled, NoteOrderCancelled, now)
	return true
}

// ApplyStatusUpdate применяет административное изменение. Направление перехода
// не проверяется: любой допустимый статус может смениться любым другим.
func (o *Order) ApplyStatusUpdate(update StatusUpdate, now time.Time) error {
	if update.Status != "" {
		if !update.Status.Valid() {
			return ErrInvalidStatus
		}
		o.Status = update.Status
	}
	if update.Carrier != "" {
		o.Tracking.Carrier = update.Carrier
	}
	if update.TrackingNumber != "" {
		o.Tracking.TrackingNumber = update.TrackingNumber
	}
	if update.ETA != nil {
		eta := *update.ETA
		o.Tracking.ETA = &eta
	}
	o.UpdatedAt = now
	o.AppendHistory(o.Status, update.Note, now)
	return nil
}

// HistoryExtends проверяет, что история next является продолжением истории prev:
// все старые записи сохранены без изменений, новые только дописаны в конец.
func HistoryExtends(prev, next []HistoryEntry) bool {
	if len(next) < len(prev) {
		return false
	}
	for i := range prev {
		if prev[i].Status != next[i].Status || prev[i].Note != next[i].Note || !prev[i].At.Equal(next[i].At) {
			return false
		}
	}
	for i := 1; i < len(next); i++ {
		if next[i].At.Before(next[i-1].At) {
			return false
		}
	}
	return true
}

// ProductIDs возвращает идентификаторы товаров заказа в порядке позиций.
func (o *Order) ProductIDs() []string {
	ids := make([]string, 0, len(o.Items))
	for _, item := range o.Items {
		ids = append(ids, item.ProductID)
	}
	return ids
}

// Clone возвращает копию заказа без общих срезов и указателей.
func (o Order) Clone() Order {
	o.Items = append([]OrderItem(nil), o.Items...)
	o.Tracking.History = append([]HistoryEntry(nil), o.Tracking.History...)
	if o.Tracking.ETA != nil {
		eta := *o.Tracking.ETA
		o.Tracking.ETA = &eta
	}
	return o
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.CustomerID == "" {
		errs = append(errs, ErrCustomerRequired)
	}
	if len(o.Items) == 0 {
		errs = append(errs, ErrNoItems)
	}
	if !o.Status.Valid() {
		errs = append(errs, ErrInvalidStatus)
	}
	for _, item := range o.Items {
		if item.ProductID == "" {
			errs = append(errs, ErrProductIDRequired)
		}
		if item.Quantity <= 0 {
			errs = append(errs, ErrInvalidQuantity)
		}
	}
	if !HistoryExtends(nil, o.Tracking.History) {
		errs = append(errs, ErrHistoryRewrite)
	}

	return errs
}
