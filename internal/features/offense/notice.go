// Package offense — notice.go формирует тексты для чата.
package offense

import (
	"fmt"
	"strings"

	"wenbot/internal/common"
)

// PunishNotice — "wen = ban. NAME muted forever." или "... muted for N minutes.".
func PunishNotice(name string, p Penalty) string {
	if p.Permanent {
		return fmt.Sprintf("wen = ban. %s muted forever.", name)
	}
	return fmt.Sprintf("wen = ban. %s muted for %s.", name, common.FormatMinutes(p.Duration))
}

// AmnestyNotice — одно сообщение на всех амнистированных. Пустой список — пустая строка.
func AmnestyNotice(names []string) string {
	if len(names) == 0 {
		return ""
	}
	return fmt.Sprintf("%s %s granted amnesty.",
		strings.Join(names, " "), common.Pluralize(len(names), "was", "were"))
}
