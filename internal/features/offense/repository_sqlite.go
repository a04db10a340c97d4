// Package offense — repository_sqlite.go работает с таблицей offenses в локальном SQLite-файле.
package offense

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"wenbot/internal/common"
)

// SQLiteRepository — Store поверх database/sql и драйвера modernc.org/sqlite.
type SQLiteRepository struct {
	db    *sql.DB
	clock func() time.Time
}

// NewSQLiteRepository создаёт репозиторий. db должен быть открыт через sqlite.Open.
func NewSQLiteRepository(db *sql.DB, opts ...Option) *SQLiteRepository {
	o := buildOptions(opts)
	return &SQLiteRepository{db: db, clock: o.clock}
}

func (r *SQLiteRepository) Get(ctx context.Context, userID, spaceID int64) (*Record, error) {
	query := `SELECT ` + recordColumns + ` FROM offenses WHERE user_id = ? AND space_id = ?`
	rec, err := scanRecord(r.db.QueryRowContext(ctx, query, userID, spaceID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: чтение (user_id=%d, space_id=%d): %w", common.ErrStorageUnavailable, userID, spaceID, err)
	}
	return rec, nil
}

func (r *SQLiteRepository) Create(ctx context.Context, userID, spaceID int64) (*Record, error) {
	now := unixCeil(r.clock())
	query := `
		INSERT INTO offenses (user_id, space_id, offense_count, last_penalty_at)
		VALUES (?, ?, 1, ?)
		ON CONFLICT (user_id, space_id) DO NOTHING
	`
	res, err := r.db.ExecContext(ctx, query, userID, spaceID, now)
	if err != nil {
		return nil, fmt.Errorf("%w: создание (user_id=%d, space_id=%d): %w", common.ErrStorageUnavailable, userID, spaceID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrStorageUnavailable, err)
	}
	if n == 0 {
		return nil, fmt.Errorf("user_id=%d, space_id=%d: %w", userID, spaceID, common.ErrDuplicateKey)
	}
	return &Record{
		UserID:        userID,
		SpaceID:       spaceID,
		OffenseCount:  1,
		LastPenaltyAt: time.Unix(now, 0),
	}, nil
}

// Increment делает read-modify-write одним UPDATE, без чтения в приложении.
func (r *SQLiteRepository) Increment(ctx context.Context, userID, spaceID int64) (*Record, error) {
	query := `
		UPDATE offenses
		SET offense_count = offense_count + 1,
		    last_penalty_at = MAX(last_penalty_at, ?),
		    released_at = NULL
		WHERE user_id = ? AND space_id = ?
		RETURNING ` + recordColumns
	rec, err := scanRecord(r.db.QueryRowContext(ctx, query, unixCeil(r.clock()), userID, spaceID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user_id=%d, space_id=%d: %w", userID, spaceID, common.ErrNotFound)
		}
		return nil, fmt.Errorf("%w: инкремент (user_id=%d, space_id=%d): %w", common.ErrStorageUnavailable, userID, spaceID, err)
	}
	return rec, nil
}

func (r *SQLiteRepository) ListActivePunished(ctx context.Context, spaceID int64, maxCount int) ([]*Record, error) {
	query := `
		SELECT ` + recordColumns + `
		FROM offenses
		WHERE space_id = ? AND offense_count <= ? AND released_at IS NULL
		ORDER BY last_penalty_at
	`
	rows, err := r.db.QueryContext(ctx, query, spaceID, maxCount)
	if err != nil {
		return nil, fmt.Errorf("%w: список наказанных: %w", common.ErrStorageUnavailable, err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: ошибка сканирования строки: %w", common.ErrStorageUnavailable, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: ошибка чтения строк: %w", common.ErrStorageUnavailable, err)
	}
	return out, nil
}

func (r *SQLiteRepository) MarkReleased(ctx context.Context, userID, spaceID int64, expectCount int, at time.Time) (bool, error) {
	query := `
		UPDATE offenses SET released_at = ?
		WHERE user_id = ? AND space_id = ? AND offense_count = ? AND released_at IS NULL
	`
	res, err := r.db.ExecContext(ctx, query, at.Unix(), userID, spaceID, expectCount)
	if err != nil {
		return false, fmt.Errorf("%w: освобождение (user_id=%d, space_id=%d): %w", common.ErrStorageUnavailable, userID, spaceID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: %w", common.ErrStorageUnavailable, err)
	}
	return n == 1, nil
}

func (r *SQLiteRepository) ListSpaces(ctx context.Context) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT DISTINCT space_id FROM offenses WHERE released_at IS NULL ORDER BY space_id`)
	if err != nil {
		return nil, fmt.Errorf("%w: список чатов: %w", common.ErrStorageUnavailable, err)
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("%w: %w", common.ErrStorageUnavailable, err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrStorageUnavailable, err)
	}
	return out, nil
}

func (r *SQLiteRepository) Delete(ctx context.Context, userID, spaceID int64) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM offenses WHERE user_id = ? AND space_id = ?`, userID, spaceID); err != nil {
		return fmt.Errorf("%w: удаление (user_id=%d, space_id=%d): %w", common.ErrStorageUnavailable, userID, spaceID, err)
	}
	return nil
}

func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}
