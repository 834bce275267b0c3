package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vladislavdragonenkov/petmarket/internal/domain"
)

const orderColumns = `
	id, customer_id, status, total,
	shipping_name, shipping_email, shipping_address, shipping_city, shipping_country, shipping_postal_code,
	carrier, tracking_number, eta, version, created_at, updated_at`

type orderRepository struct {
	q querier
	// forUpdate блокирует строку заказа до конца транзакции.
	forUpdate bool
}

// NewOrderRepository создаёт PostgreSQL-реализацию OrderRepository.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return store.Orders()
}

func (r *orderRepository) Create(ctx context.Context, order domain.Order) error {
	if order.ID == "" {
		order.ID = uuid.NewString()
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	return r.atomically(ctx, func(q querier) error {
		s := order.Shipping
		_, err := q.ExecContext(ctx, `INSERT INTO orders (`+orderColumns+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
			order.ID, order.CustomerID, string(order.Status), order.Total,
			s.Name, s.Email, s.Address, s.City, s.Country, s.PostalCode,
			order.Tracking.Carrier, order.Tracking.TrackingNumber, nullTime(order.Tracking.ETA),
			order.Version, order.CreatedAt, order.UpdatedAt,
		)
		switch {
		case isUniqueViolation(err):
			return domain.ErrOrderVersionConflict
		case err != nil:
			return fmt.Errorf("insert order: %w", err)
		}

		for pos, it := range order.Items {
			_, err := q.ExecContext(ctx, `INSERT INTO order_items
				(order_id, position, product_id, name, amount, quantity, image_url, seller_id)
				VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
				order.ID, pos, it.ProductID, it.Name, it.Amount, it.Quantity, it.ImageURL, it.SellerID)
			if err != nil {
				return fmt.Errorf("insert order item %d: %w", pos, err)
			}
		}
		return appendHistory(ctx, q, order.ID, nil, order.Tracking.History)
	})
}

func (r *orderRepository) Get(ctx context.Context, id string) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	if r.forUpdate {
		query += ` FOR UPDATE`
	}
	order, err := scanOrder(r.q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	if err != nil {
		return domain.Order{}, fmt.Errorf("select order %s: %w", id, err)
	}
	return order, r.loadDetails(ctx, &order)
}

// ListByCustomer отдаёт заказы покупателя от новых к старым; limit <= 0 снимает ограничение.
func (r *orderRepository) ListByCustomer(ctx context.Context, customerID string, limit int) ([]domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	lim := sql.NullInt64{Int64: int64(limit), Valid: limit > 0}
	orders, err := collect(ctx, r.q, scanOrder, `SELECT `+orderColumns+`
		FROM orders
		WHERE customer_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`, customerID, lim)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	for i := range orders {
		if err := r.loadDetails(ctx, &orders[i]); err != nil {
			return nil, err
		}
	}
	return orders, nil
}

// Save обновляет статус и трекинг заказа с проверкой версии.
// Состав заказа не меняется, в историю дописываются только новые записи.
func (r *orderRepository) Save(ctx context.Context, order domain.Order) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	return r.atomically(ctx, func(q querier) error {
		var stored int64
		err := q.QueryRowContext(ctx, `SELECT version FROM orders WHERE id = $1 FOR UPDATE`, order.ID).Scan(&stored)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return domain.ErrOrderNotFound
		case err != nil:
			return fmt.Errorf("lock order %s: %w", order.ID, err)
		case stored != order.Version:
			return domain.ErrOrderVersionConflict
		}

		recorded, err := loadHistory(ctx, q, order.ID)
		if err != nil {
			return err
		}
		if !domain.HistoryExtends(recorded, order.Tracking.History) {
			return domain.ErrHistoryRewrite
		}

		// строка уже под FOR UPDATE, поэтому версия здесь совпадёт
		_, err = q.ExecContext(ctx, `UPDATE orders
			SET status = $2, carrier = $3, tracking_number = $4, eta = $5,
			    version = version + 1, updated_at = $6
			WHERE id = $1`,
			order.ID, string(order.Status),
			order.Tracking.Carrier, order.Tracking.TrackingNumber, nullTime(order.Tracking.ETA),
			order.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("update order %s: %w", order.ID, err)
		}
		return appendHistory(ctx, q, order.ID, recorded, order.Tracking.History)
	})
}

// atomically выполняет fn в транзакции. Если репозиторий уже работает
// внутри транзакции, fn выполняется в ней же.
func (r *orderRepository) atomically(ctx context.Context, fn func(q querier) error) error {
	db, ok := r.q.(*sql.DB)
	if !ok {
		return fn(r.q)
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (r *orderRepository) loadDetails(ctx context.Context, order *domain.Order) error {
	items, err := collect(ctx, r.q, scanItem, `SELECT product_id, name, amount, quantity, image_url, seller_id
		FROM order_items WHERE order_id = $1 ORDER BY position`, order.ID)
	if err != nil {
		return fmt.Errorf("load items of %s: %w", order.ID, err)
	}
	history, err := loadHistory(ctx, r.q, order.ID)
	if err != nil {
		return err
	}
	order.Items, order.Tracking.History = items, history
	return nil
}

func loadHistory(ctx context.Context, q querier, orderID string) ([]domain.HistoryEntry, error) {
	history, err := collect(ctx, q, scanHistory, `SELECT status, note, at
		FROM order_history WHERE order_id = $1 ORDER BY position`, orderID)
	if err != nil {
		return nil, fmt.Errorf("load history of %s: %w", orderID, err)
	}
	return history, nil
}

// appendHistory записывает хвост next, которого ещё нет в recorded.
func appendHistory(ctx context.Context, q querier, orderID string, recorded, next []domain.HistoryEntry) error {
	for pos := len(recorded); pos < len(next); pos++ {
		e := next[pos]
		if _, err := q.ExecContext(ctx, `INSERT INTO order_history (order_id, position, status, note, at)
			VALUES ($1,$2,$3,$4,$5)`, orderID, pos, string(e.Status), e.Note, e.At); err != nil {
			return fmt.Errorf("insert history of %s: %w", orderID, err)
		}
	}
	return nil
}

// collect читает все строки запроса через scan. Пустой результат — пустой срез, не nil.
func collect[T any](ctx context.Context, q querier, scan func(rowScanner) (T, error), query string, args ...any) ([]T, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []T{}
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func scanItem(row rowScanner) (domain.OrderItem, error) {
	var it domain.OrderItem
	err := row.Scan(&it.ProductID, &it.Name, &it.Amount, &it.Quantity, &it.ImageURL, &it.SellerID)
	return it, err
}

func scanHistory(row rowScanner) (domain.HistoryEntry, error) {
	var (
		e      domain.HistoryEntry
		status string
	)
	if err := row.Scan(&status, &e.Note, &e.At); err != nil {
		return e, err
	}
	e.Status = domain.OrderStatus(status)
	e.At = e.At.UTC()
	return e, nil
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		o      domain.Order
		status string
		eta    sql.NullTime
	)
	s := &o.Shipping
	if err := row.Scan(
		&o.ID, &o.CustomerID, &status, &o.Total,
		&s.Name, &s.Email, &s.Address, &s.City, &s.Country, &s.PostalCode,
		&o.Tracking.Carrier, &o.Tracking.TrackingNumber, &eta,
		&o.Version, &o.CreatedAt, &o.UpdatedAt,
	); err != nil {
		return domain.Order{}, err
	}
	o.Status = domain.OrderStatus(status)
	if eta.Valid {
		t := eta.Time.UTC()
		o.Tracking.ETA = &t
	}
	o.CreatedAt, o.UpdatedAt = o.CreatedAt.UTC(), o.UpdatedAt.UTC()
	return o, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func isUniqueViolation(err error) bool {
	return pgCode(err) == "23505"
}

// isLockConflict сообщает о взаимоблокировке (40P01) или сбое сериализации (40001).
func isLockConflict(err error) bool {
	switch pgCode(err) {
	case "40P01", "40001":
		return true
	}
	return false
}

var _ domain.OrderRepository = (*orderRepository)(nil)
