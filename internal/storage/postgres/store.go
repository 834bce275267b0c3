package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/vladislavdragonenkov/petmarket/internal/domain"
)

const (
	pingTimeout = 5 * time.Second
	opTimeout   = 5 * time.Second
)

// pool — настройки database/sql для сервиса с десятками одновременных checkout.
var pool = struct {
	maxOpen, maxIdle   int
	lifetime, idleTime time.Duration
}{maxOpen: 25, maxIdle: 25, lifetime: 30 * time.Minute, idleTime: 5 * time.Minute}

var errStoreClosed = errors.New("postgres store is not initialized")

// querier — то общее, что есть у *sql.DB и *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store — каталог, заказы и служебные таблицы маркетплейса в PostgreSQL
// через драйвер pgx.
type Store struct {
	db *sql.DB
}

// Open подключается по dsn и ждёт ответа базы не дольше pingTimeout.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(pool.maxOpen)
	db.SetMaxIdleConns(pool.maxIdle)
	db.SetConnMaxLifetime(pool.lifetime)
	db.SetConnMaxIdleTime(pool.idleTime)

	s := &Store{db: db}
	if err := s.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return s, nil
}

func (s *Store) ready() error {
	if s == nil || s.db == nil {
		return errStoreClosed
	}
	return nil
}

// DB отдаёт пул подключений для миграций и тестов.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.ready(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	return s.db.PingContext(ctx)
}

// EnsureSchema применяет все недостающие миграции.
func (s *Store) EnsureSchema(ctx context.Context) error {
	return s.MigrateUp(ctx, 0)
}

func (s *Store) Products() domain.ProductStore {
	return &productRepository{q: s.db}
}

func (s *Store) Orders() domain.OrderRepository {
	return &orderRepository{q: s.db}
}

// WithinTx выполняет fn в транзакции READ COMMITTED. Резервы делаются
// условным UPDATE, заказы читаются FOR UPDATE. Ошибка или паника fn
// откатывают всё, включая резервы.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	if err := s.ready(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if err := fn(ctx, sqlTx{tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	committed = true
	return nil
}

// sqlTx — domain.Tx поверх открытой транзакции.
type sqlTx struct {
	tx *sql.Tx
}

func (t sqlTx) Products() domain.ProductReserver {
	return &productRepository{q: t.tx}
}

func (t sqlTx) Orders() domain.OrderRepository {
	return &orderRepository{q: t.tx, forUpdate: true}
}

func (s *Store) Close() error {
	if s.ready() != nil {
		return nil
	}
	return s.db.Close()
}

var _ domain.TxManager = (*Store)(nil)
