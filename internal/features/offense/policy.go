// Package offense — policy.go содержит политику эскалации наказаний.
package offense

import (
	"fmt"
	"time"

	"wenbot/internal/common"
)

// Policy — пороги эскалации. Все значения приходят из конфига.
//
// Уровни:
//   - count <= FirstOffenseLimit → FirstOffensePenalty
//   - count <= SecondOffenseLimit → SecondOffensePenalty
//   - больше → навсегда, сканер не освобождает
type Policy struct {
	FirstOffensePenalty  time.Duration
	FirstOffenseLimit    int
	SecondOffensePenalty time.Duration
	SecondOffenseLimit   int
}

// DefaultPolicy — значения по умолчанию: 5 минут, затем час до 4-го нарушения, затем навсегда.
func DefaultPolicy() Policy {
	return Policy{
		FirstOffensePenalty:  300 * time.Second,
		FirstOffenseLimit:    1,
		SecondOffensePenalty: 3600 * time.Second,
		SecondOffenseLimit:   4,
	}
}

func (p Policy) Validate() error {
	if p.FirstOffensePenalty <= 0 || p.SecondOffensePenalty <= 0 {
		return fmt.Errorf("%w: длительность наказания должна быть > 0", common.ErrInvalidConfig)
	}
	if p.FirstOffenseLimit < 1 {
		return fmt.Errorf("%w: FIRST_OFFENSE_LIMIT должен быть >= 1", common.ErrInvalidConfig)
	}
	if p.SecondOffenseLimit < p.FirstOffenseLimit {
		return fmt.Errorf("%w: SECOND_OFFENSE_LIMIT меньше FIRST_OFFENSE_LIMIT", common.ErrInvalidConfig)
	}
	return nil
}

// PenaltyFor возвращает наказание для счётчика уже после инкремента.
func (p Policy) PenaltyFor(count int) Penalty {
	switch {
	case count <= p.FirstOffenseLimit:
		return Penalty{Duration: p.FirstOffensePenalty}
	case count <= p.SecondOffenseLimit:
		return Penalty{Duration: p.SecondOffensePenalty}
	default:
		return Penalty{Permanent: true}
	}
}

// EligibleForRelease решает, истёк ли срок наказания к моменту now.
// Для постоянного уровня всегда false.
func (p Policy) EligibleForRelease(count int, lastPenaltyAt, now time.Time) bool {
	if count < 1 {
		return false
	}
	penalty := p.PenaltyFor(count)
	if penalty.Permanent {
		return false
	}
	return now.Sub(lastPenaltyAt) >= penalty.Duration
}

// Tier — имя уровня для логов и метрик.
func (p Policy) Tier(count int) string {
	switch {
	case count <= p.FirstOffenseLimit:
		return "first"
	case count <= p.SecondOffenseLimit:
		return "second"
	default:
		return "permanent"
	}
}
