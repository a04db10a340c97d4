// Package offense реализует учёт нарушений и эскалацию наказаний за "wen".
// models.go описывает запись о нарушениях и результаты работы координатора.
package offense

import (
	"context"
	"time"
)

// Record — одна строка таблицы offenses: счётчик нарушений пользователя в чате.
// Запись с OffenseCount = 0 не существует, первая провинность создаёт её с 1.
type Record struct {
	UserID        int64      `db:"user_id"`
	SpaceID       int64      `db:"space_id"`
	OffenseCount  int        `db:"offense_count"`
	LastPenaltyAt time.Time  `db:"last_penalty_at"` // секунды с эпохи, не убывает
	ReleasedAt    *time.Time `db:"released_at"`     // nil — наказание ещё действует
}

// Store — долговременное хранилище нарушений.
// Все мутации зафиксированы к моменту возврата.
type Store interface {
	// Get возвращает (nil, nil), если записи нет.
	Get(ctx context.Context, userID, spaceID int64) (*Record, error)
	// Create создаёт запись со счётчиком 1; common.ErrDuplicateKey, если она уже есть.
	Create(ctx context.Context, userID, spaceID int64) (*Record, error)
	// Increment атомарно увеличивает счётчик; common.ErrNotFound, если записи нет.
	Increment(ctx context.Context, userID, spaceID int64) (*Record, error)
	// ListActivePunished — неосвобождённые записи со счётчиком <= maxCount.
	ListActivePunished(ctx context.Context, spaceID int64, maxCount int) ([]*Record, error)
	// MarkReleased помечает запись освобождённой, если счётчик всё ещё равен expectCount.
	MarkReleased(ctx context.Context, userID, spaceID int64, expectCount int, at time.Time) (bool, error)
	// ListSpaces — чаты, в которых есть неосвобождённые записи.
	ListSpaces(ctx context.Context) ([]int64, error)
	// Delete удаляет запись (амнистия). Отсутствие записи — не ошибка.
	Delete(ctx context.Context, userID, spaceID int64) error
	Close() error
}

// Penalty — срок наказания. Permanent означает "навсегда".
type Penalty struct {
	Duration  time.Duration
	Permanent bool
}

// Message — входящее сообщение в том виде, в каком его видит ядро.
type Message struct {
	Text       string
	AuthorID   int64
	AuthorName string
	SpaceID    int64
	// AuthorIsExempt вычисляет платформа (админы, боты)
	AuthorIsExempt bool
}

// Member — пользователь, упомянутый в админской команде.
type Member struct {
	ID   int64
	Name string
}

// Punishment — запрос на наказание: ограничить пользователя и написать в чат.
type Punishment struct {
	UserID       int64
	SpaceID      int64
	OffenseCount int
	Penalty      Penalty
	Notice       string
}

// Release — запрос на снятие ограничения с пользователя.
type Release struct {
	UserID  int64
	SpaceID int64
}

// Enforcer выполняет побочные эффекты на платформе.
// Ядро только просит, реализация живёт в internal/bot.
type Enforcer interface {
	Restrict(ctx context.Context, spaceID, userID int64, p Penalty) error
	Lift(ctx context.Context, spaceID, userID int64) error
	Notify(ctx context.Context, spaceID int64, text string) error
}
