// Package postgres управляет подключением к удалённой базе PostgreSQL.
// Используется, когда задан DATABASE_URL; иначе бот работает на локальном SQLite-файле.
//
// Пул pgxpool безопасен для конкурентного использования: обработчики сообщений
// и сканер освобождений ходят в базу без внешних блокировок.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"

	"wenbot/internal/config"
)

// NewPool создаёт новый пул соединений к PostgreSQL.
//
// Параметры:
//   - ctx: контекст для отмены операции
//   - cfg: конфигурация (DATABASE_URL, DB_MAX_CONNS, DB_MIN_CONNS)
//
// Пример:
//
//	pool, err := postgres.NewPool(ctx, cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer pool.Close()
func NewPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	return Connect(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
}

// Connect открывает пул по строке подключения и применяет миграции.
func Connect(ctx context.Context, dsn string, maxConns, minConns int32) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("ошибка парсинга DSN: %w", err)
	}

	poolConfig.MaxConns = maxConns
	poolConfig.MinConns = minConns
	poolConfig.MaxConnLifetime = 1 * time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания пула: %w", err)
	}

	// Проверяем, что база доступна
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("база данных недоступна: %w", err)
	}

	if err := RunMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	log.Info("Подключение к PostgreSQL установлено")
	return pool, nil
}

// RunMigrations создаёт schema_migrations и применяет все миграции по порядку.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMP DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("ошибка создания таблицы миграций: %w", err)
	}

	for _, m := range migrations {
		if err := execMigration(ctx, pool, m.version, m.sql); err != nil {
			return fmt.Errorf("миграция %d: %w", m.version, err)
		}
	}
	log.Debug("Миграции PostgreSQL применены")
	return nil
}

// execMigration применяет миграцию version в одной транзакции вместе с записью
// в schema_migrations. Уже применённая миграция пропускается.
func execMigration(ctx context.Context, pool *pgxpool.Pool, version int, stmt string) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback(ctx)

	var applied bool
	if err := tx.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = $1)", version,
	).Scan(&applied); err != nil {
		return fmt.Errorf("ошибка проверки миграции: %w", err)
	}
	if applied {
		return nil
	}

	// Без аргументов pgx идёт простым протоколом, несколько операторов за раз допустимы
	if _, err := tx.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("ошибка выполнения миграции: %w", err)
	}
	if _, err := tx.Exec(ctx, "INSERT INTO schema_migrations (version) VALUES ($1)", version); err != nil {
		return fmt.Errorf("ошибка записи версии миграции: %w", err)
	}
	return tx.Commit(ctx)
}

var migrations = []struct {
	version int
	sql     string
}{
	{1, migration001Offenses},
}

var migration001Offenses = `
CREATE TABLE IF NOT EXISTS offenses (
    user_id BIGINT NOT NULL,
    space_id BIGINT NOT NULL,
    offense_count INTEGER NOT NULL CHECK (offense_count > 0),
    last_penalty_at BIGINT NOT NULL,
    released_at BIGINT,
    PRIMARY KEY (user_id, space_id)
);
CREATE INDEX IF NOT EXISTS idx_offenses_active ON offenses(space_id, offense_count) WHERE released_at IS NULL;
`
