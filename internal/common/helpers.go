// Package common содержит общие утилиты, используемые во всём проекте.
// Сюда входят: склонение, форматирование длительностей, разбор CSV из переменных окружения.
package common

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Pluralize выбирает форму слова для английского текста.
//
// Примеры:
//
//	Pluralize(1, "was", "were") → "was"
//	Pluralize(3, "was", "were") → "were"
func Pluralize(n int, one, many string) string {
	if n == 1 || n == -1 {
		return one
	}
	return many
}

// WholeMinutes возвращает число полных минут (дробная часть отбрасывается).
// Пример: WholeMinutes(90 * time.Second) → 1
func WholeMinutes(d time.Duration) int64 {
	return int64(d / time.Minute)
}

// FormatMinutes форматирует длительность как "N minute(s)".
func FormatMinutes(d time.Duration) string {
	m := WholeMinutes(d)
	return fmt.Sprintf("%d %s", m, Pluralize(int(m), "minute", "minutes"))
}

// ParseInt64CSV разбирает строку вида "1, 2,3" в []int64. Пустая строка → nil.
func ParseInt64CSV(s string) ([]int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]int64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		v, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad int64 %q: %w", p, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// ParseStringCSV разбирает CSV строк, пустые элементы выбрасываются.
func ParseStringCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
