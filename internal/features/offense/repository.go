// Package offense — repository.go: общие части реализаций Store.
package offense

import (
	"database/sql"
	"time"
)

// Option настраивает репозиторий.
type Option func(*repoOptions)

type repoOptions struct {
	clock func() time.Time
}

// WithClock подменяет источник текущего времени (для тестов).
func WithClock(clock func() time.Time) Option {
	return func(o *repoOptions) { o.clock = clock }
}

func buildOptions(opts []Option) repoOptions {
	o := repoOptions{clock: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// rowScanner — общий интерфейс для *sql.Row, *sql.Rows, pgx.Row и pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var (
		r          Record
		lastUnix   int64
		releasedAt sql.NullInt64
	)
	if err := row.Scan(&r.UserID, &r.SpaceID, &r.OffenseCount, &lastUnix, &releasedAt); err != nil {
		return nil, err
	}
	r.LastPenaltyAt = time.Unix(lastUnix, 0)
	if releasedAt.Valid {
		t := time.Unix(releasedAt.Int64, 0)
		r.ReleasedAt = &t
	}
	return &r, nil
}

// unixCeil — секунды с эпохи с округлением вверх. last_penalty_at хранится
// в целых секундах, и округление вниз освобождало бы до секунды раньше срока.
func unixCeil(t time.Time) int64 {
	sec := t.Unix()
	if t.Nanosecond() > 0 {
		sec++
	}
	return sec
}

const recordColumns = `user_id, space_id, offense_count, last_penalty_at, released_at`
