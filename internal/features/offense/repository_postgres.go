// Package offense — repository_postgres.go работает с таблицей offenses в PostgreSQL.
package offense

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"wenbot/internal/common"
)

// PostgresRepository — Store поверх pgxpool. Каждый запрос коммитится сам по себе.
type PostgresRepository struct {
	db    *pgxpool.Pool
	clock func() time.Time
}

// NewPostgresRepository создаёт репозиторий. Миграции применяет postgres.Connect.
func NewPostgresRepository(db *pgxpool.Pool, opts ...Option) *PostgresRepository {
	o := buildOptions(opts)
	return &PostgresRepository{db: db, clock: o.clock}
}

func (r *PostgresRepository) Get(ctx context.Context, userID, spaceID int64) (*Record, error) {
	query := `SELECT ` + recordColumns + ` FROM offenses WHERE user_id = $1 AND space_id = $2`
	rec, err := scanRecord(r.db.QueryRow(ctx, query, userID, spaceID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: чтение (user_id=%d, space_id=%d): %w", common.ErrStorageUnavailable, userID, spaceID, err)
	}
	return rec, nil
}

func (r *PostgresRepository) Create(ctx context.Context, userID, spaceID int64) (*Record, error) {
	now := unixCeil(r.clock())
	query := `
		INSERT INTO offenses (user_id, space_id, offense_count, last_penalty_at)
		VALUES ($1, $2, 1, $3)
		ON CONFLICT (user_id, space_id) DO NOTHING
	`
	tag, err := r.db.Exec(ctx, query, userID, spaceID, now)
	if err != nil {
		return nil, fmt.Errorf("%w: создание (user_id=%d, space_id=%d): %w", common.ErrStorageUnavailable, userID, spaceID, err)
	}
	if tag.RowsAffected() == 0 {
		return nil, fmt.Errorf("user_id=%d, space_id=%d: %w", userID, spaceID, common.ErrDuplicateKey)
	}
	return &Record{
		UserID:        userID,
		SpaceID:       spaceID,
		OffenseCount:  1,
		LastPenaltyAt: time.Unix(now, 0),
	}, nil
}

func (r *PostgresRepository) Increment(ctx context.Context, userID, spaceID int64) (*Record, error) {
	query := `
		UPDATE offenses
		SET offense_count = offense_count + 1,
		    last_penalty_at = GREATEST(last_penalty_at, $1),
		    released_at = NULL
		WHERE user_id = $2 AND space_id = $3
		RETURNING ` + recordColumns
	rec, err := scanRecord(r.db.QueryRow(ctx, query, unixCeil(r.clock()), userID, spaceID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("user_id=%d, space_id=%d: %w", userID, spaceID, common.ErrNotFound)
		}
		return nil, fmt.Errorf("%w: инкремент (user_id=%d, space_id=%d): %w", common.ErrStorageUnavailable, userID, spaceID, err)
	}
	return rec, nil
}

func (r *PostgresRepository) ListActivePunished(ctx context.Context, spaceID int64, maxCount int) ([]*Record, error) {
	query := `
		SELECT ` + recordColumns + `
		FROM offenses
		WHERE space_id = $1 AND offense_count <= $2 AND released_at IS NULL
		ORDER BY last_penalty_at
	`
	rows, err := r.db.Query(ctx, query, spaceID, maxCount)
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

func (r *PostgresRepository) MarkReleased(ctx context.Context, userID, spaceID int64, expectCount int, at time.Time) (bool, error) {
	query := `
		UPDATE offenses SET released_at = $1
		WHERE user_id = $2 AND space_id = $3 AND offense_count = $4 AND released_at IS NULL
	`
	tag, err := r.db.Exec(ctx, query, at.Unix(), userID, spaceID, expectCount)
	if err != nil {
		return false, fmt.Errorf("%w: освобождение (user_id=%d, space_id=%d): %w", common.ErrStorageUnavailable, userID, spaceID, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PostgresRepository) ListSpaces(ctx context.Context) ([]int64, error) {
	rows, err := r.db.Query(ctx, `SELECT DISTINCT space_id FROM offenses WHERE released_at IS NULL ORDER BY space_id`)
	if err != nil {
		return nil, fmt.Errorf("%w: список чатов: %w", common.ErrStorageUnavailable, err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrStorageUnavailable, err)
	}
	return ids, nil
}

func (r *PostgresRepository) Delete(ctx context.Context, userID, spaceID int64) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM offenses WHERE user_id = $1 AND space_id = $2`, userID, spaceID); err != nil {
		return fmt.Errorf("%w: удаление (user_id=%d, space_id=%d): %w", common.ErrStorageUnavailable, userID, spaceID, err)
	}
	return nil
}

// Close закрывает пул соединений.
func (r *PostgresRepository) Close() error {
	r.db.Close()
	return nil
}
