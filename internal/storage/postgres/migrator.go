package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strconv"
	"strings"
)

// Миграции лежат в sql/migrations парами NNNN_name.up.sql / NNNN_name.down.sql.
// Изменяющие схему операции выполняются под advisory lock.

//go:embed sql/migrations/*.sql
var migrationsFS embed.FS

const (
	migrationsDir = "sql/migrations"
	// petmarketMigrationLock — ключ pg_advisory_lock для миграций.
	petmarketMigrationLock = int64(0x7065746d)

	ledgerDDL = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version BIGINT PRIMARY KEY,
    name TEXT NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`
)

type migrationDirection string

const (
	migrationUp   migrationDirection = "up"
	migrationDown migrationDirection = "down"
)

// schemaMigration — пара up/down одной версии схемы.
type schemaMigration struct {
	version int64
	name    string
	up      string
	down    string
}

func (m schemaMigration) id() string {
	return fmt.Sprintf("%04d_%s", m.version, m.name)
}

func (m schemaMigration) body(dir migrationDirection) string {
	if dir == migrationDown {
		return m.down
	}
	return m.up
}

// MigrateUp применяет непримененные миграции по возрастанию версии.
// steps <= 0 применяет все.
func (s *Store) MigrateUp(ctx context.Context, steps int) error {
	return s.migrate(ctx, migrationUp, steps)
}

// MigrateDown откатывает последние steps миграций; steps <= 0 откатывает одну.
func (s *Store) MigrateDown(ctx context.Context, steps int) error {
	if steps <= 0 {
		steps = 1
	}
	return s.migrate(ctx, migrationDown, steps)
}

// MigrationStatus возвращает последнюю применённую версию и число применённых миграций.
func (s *Store) MigrationStatus(ctx context.Context) (int64, int, error) {
	var applied []int64
	err := s.withMigrationConn(ctx, false, func(conn *sql.Conn) error {
		var err error
		applied, err = appliedVersions(ctx, conn)
		return err
	})
	if err != nil {
		return 0, 0, err
	}
	if len(applied) == 0 {
		return 0, 0, nil
	}
	return applied[len(applied)-1], len(applied), nil
}

// PendingMigrations возвращает идентификаторы ещё не применённых миграций в порядке применения.
func (s *Store) PendingMigrations(ctx context.Context) ([]string, error) {
	set, err := parseMigrations(migrationsFS)
	if err != nil {
		return nil, err
	}

	var pending []string
	err = s.withMigrationConn(ctx, false, func(conn *sql.Conn) error {
		applied, err := appliedVersions(ctx, conn)
		if err != nil {
			return err
		}
		for _, m := range planUp(set, applied, 0) {
			pending = append(pending, m.id())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if pending == nil {
		pending = []string{}
	}
	return pending, nil
}

func (s *Store) migrate(ctx context.Context, dir migrationDirection, steps int) error {
	if dir != migrationUp && dir != migrationDown {
		return fmt.Errorf("unsupported migration direction: %s", dir)
	}
	set, err := parseMigrations(migrationsFS)
	if err != nil {
		return err
	}

	return s.withMigrationConn(ctx, true, func(conn *sql.Conn) error {
		applied, err := appliedVersions(ctx, conn)
		if err != nil {
			return err
		}

		var plan []schemaMigration
		if dir == migrationUp {
			plan = planUp(set, applied, steps)
		} else if plan, err = planDown(set, applied, steps); err != nil {
			return err
		}

		for _, m := range plan {
			if err := runMigration(ctx, conn, m, dir); err != nil {
				return err
			}
		}
		return nil
	})
}

// withMigrationConn выполняет fn на выделенном соединении с гарантированной таблицей
// schema_migrations. locked берёт advisory lock на время fn.
func (s *Store) withMigrationConn(ctx context.Context, locked bool, fn func(conn *sql.Conn) error) error {
	if err := s.ready(); err != nil {
		return err
	}

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire db connection: %w", err)
	}
	defer conn.Close()

	if locked {
		lockCtx, cancel := context.WithTimeout(ctx, opTimeout)
		_, err := conn.ExecContext(lockCtx, "SELECT pg_advisory_lock($1)", petmarketMigrationLock)
		cancel()
		if err != nil {
			return fmt.Errorf("acquire migration lock: %w", err)
		}
		defer func() {
			_, _ = conn.ExecContext(context.Background(), "SELECT pg_advisory_unlock($1)", petmarketMigrationLock)
		}()
	}

	if _, err := conn.ExecContext(ctx, ledgerDDL); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}
	return fn(conn)
}

// runMigration выполняет тело миграции и запись в schema_migrations одной транзакцией.
func runMigration(ctx context.Context, conn *sql.Conn, m schemaMigration, dir migrationDirection) (err error) {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin %s migration %s: %w", dir, m.id(), err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, m.body(dir)); err != nil {
		return fmt.Errorf("run %s migration %s: %w", dir, m.id(), err)
	}

	if dir == migrationUp {
		_, err = tx.ExecContext(ctx, `INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`, m.version, m.name)
	} else {
		_, err = tx.ExecContext(ctx, `DELETE FROM schema_migrations WHERE version = $1`, m.version)
	}
	if err != nil {
		return fmt.Errorf("record %s migration %s: %w", dir, m.id(), err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit %s migration %s: %w", dir, m.id(), err)
	}
	return nil
}

// appliedVersions возвращает применённые версии по возрастанию.
func appliedVersions(ctx context.Context, conn *sql.Conn) ([]int64, error) {
	rows, err := conn.QueryContext(ctx, `SELECT version FROM schema_migrations ORDER BY version`)
	if err != nil {
		return nil, fmt.Errorf("query applied migrations: %w", err)
	}
	defer rows.Close()

	var versions []int64
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan applied migration: %w", err)
		}
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate applied migrations: %w", err)
	}
	return versions, nil
}

// planUp выбирает до steps непримененных миграций; steps <= 0 — все.
func planUp(set []schemaMigration, applied []int64, steps int) []schemaMigration {
	var plan []schemaMigration
	for _, m := range set {
		if slices.Contains(applied, m.version) {
			continue
		}
		plan = append(plan, m)
		if steps > 0 && len(plan) == steps {
			break
		}
	}
	return plan
}

// planDown выбирает steps последних применённых миграций, начиная с самой новой.
func planDown(set []schemaMigration, applied []int64, steps int) ([]schemaMigration, error) {
	var plan []schemaMigration
	for i := len(applied) - 1; i >= 0 && len(plan) < steps; i-- {
		idx := slices.IndexFunc(set, func(m schemaMigration) bool { return m.version == applied[i] })
		if idx < 0 {
			return nil, fmt.Errorf("cannot rollback unknown migration version %d", applied[i])
		}
		plan = append(plan, set[idx])
	}
	return plan, nil
}

// parseMigrations читает пары up/down из migrationsDir и сортирует их по версии.
func parseMigrations(fsys fs.FS) ([]schemaMigration, error) {
	entries, err := fs.ReadDir(fsys, migrationsDir)
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}

	byVersion := make(map[int64]*schemaMigration)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		version, name, dir, err := parseMigrationFileName(entry.Name())
		if err != nil {
			return nil, err
		}

		raw, err := fs.ReadFile(fsys, path.Join(migrationsDir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		sqlText := strings.TrimSpace(string(raw))
		if sqlText == "" {
			return nil, fmt.Errorf("migration file is empty: %s", entry.Name())
		}

		m, ok := byVersion[version]
		if !ok {
			m = &schemaMigration{version: version, name: name}
			byVersion[version] = m
		}
		if m.name != name {
			return nil, fmt.Errorf("migration %d has two names: %s and %s", version, m.name, name)
		}

		target := &m.up
		if dir == migrationDown {
			target = &m.down
		}
		if *target != "" {
			return nil, fmt.Errorf("duplicate %s migration for version %d", dir, version)
		}
		*target = sqlText
	}
	if len(byVersion) == 0 {
		return nil, errors.New("no migration files found")
	}

	set := make([]schemaMigration, 0, len(byVersion))
	for _, m := range byVersion {
		if m.up == "" || m.down == "" {
			return nil, fmt.Errorf("migration %s must have both up and down files", m.id())
		}
		set = append(set, *m)
	}
	slices.SortFunc(set, func(a, b schemaMigration) int {
		switch {
		case a.version < b.version:
			return -1
		case a.version > b.version:
			return 1
		}
		return 0
	})
	return set, nil
}

// parseMigrationFileName разбирает имя вида 0001_catalog_orders.up.sql.
func parseMigrationFileName(file string) (int64, string, migrationDirection, error) {
	var dir migrationDirection
	stem, ok := strings.CutSuffix(file, ".up.sql")
	if ok {
		dir = migrationUp
	} else if stem, ok = strings.CutSuffix(file, ".down.sql"); ok {
		dir = migrationDown
	} else {
		return 0, "", "", fmt.Errorf("invalid migration file name: %s", file)
	}

	rawVersion, name, ok := strings.Cut(stem, "_")
	if !ok || name == "" || rawVersion == "" {
		return 0, "", "", fmt.Errorf("invalid migration file name: %s", file)
	}
	version, err := strconv.ParseInt(rawVersion, 10, 64)
	if err != nil || version <= 0 {
		return 0, "", "", fmt.Errorf("invalid migration version in %s", file)
	}
	for _, r := range name {
		if r != '_' && (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return 0, "", "", fmt.Errorf("invalid migration file name: %s", file)
		}
	}
	return version, name, dir, nil
}
