// Package sqlite открывает локальный файл базы (DATABASE_FILENAME) через
// драйвер modernc.org/sqlite (без cgo) и применяет миграции.
//
// Файл открывается в режиме WAL с synchronous=FULL: после возврата из Exec
// запись уже на диске. Пул ограничен одним соединением, так что конкурирующие
// записи сериализуются на уровне хранилища.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

// Open открывает (или создаёт) файл базы и применяет миграции.
func Open(ctx context.Context, path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("не удалось создать каталог базы: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть базу: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("база данных недоступна: %w", err)
	}

	if err := RunMigrations(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	log.WithField("path", path).Info("SQLite-база открыта")
	return db, nil
}

func dsn(path string) string {
	q := url.Values{}
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "synchronous(FULL)")
	return "file:" + path + "?" + q.Encode()
}

// RunMigrations применяет миграции, которых ещё нет в schema_migrations.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
		)
	`)
	if err != nil {
		return fmt.Errorf("ошибка создания таблицы миграций: %w", err)
	}

	for _, m := range migrations {
		if err := execMigration(ctx, db, m.version, m.sql); err != nil {
			return fmt.Errorf("миграция %d: %w", m.version, err)
		}
	}
	return nil
}

func execMigration(ctx context.Context, db *sql.DB, version int, stmt string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback()

	var exists bool
	if err := tx.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = ?)", version,
	).Scan(&exists); err != nil {
		return fmt.Errorf("ошибка проверки миграции: %w", err)
	}
	if exists {
		return nil
	}

	if _, err := tx.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("ошибка выполнения миграции: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (version) VALUES (?)", version,
	); err != nil {
		return fmt.Errorf("ошибка записи версии миграции: %w", err)
	}
	return tx.Commit()
}

var migrations = []struct {
	version int
	sql     string
}{
	{1, migration001Offenses},
}

var migration001Offenses = `
CREATE TABLE IF NOT EXISTS offenses (
    user_id INTEGER NOT NULL,
    space_id INTEGER NOT NULL,
    offense_count INTEGER NOT NULL CHECK (offense_count > 0),
    last_penalty_at INTEGER NOT NULL,
    released_at INTEGER,
    PRIMARY KEY (user_id, space_id)
);
CREATE INDEX IF NOT EXISTS idx_offenses_active ON offenses(space_id, offense_count);
`
