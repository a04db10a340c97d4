// Package offense — detector.go определяет, является ли сообщение нарушением.
package offense

import "regexp"

// В RE2 \w и \b знают только ASCII, поэтому граница слова и буквы
// собраны из Unicode-классов: "when луна?" ловится, "éwen" — нет.
const (
	wordChar  = `[\p{L}\p{N}_]`
	wordStart = `(?:^|[^\p{L}\p{N}_])`
	wordEnd   = `(?:$|[^\p{L}\p{N}_])`
	space     = `[\s\p{Z}]`
)

var violationPatterns = []*regexp.Regexp{
	// "wen" отдельным словом
	regexp.MustCompile(`(?i)` + wordStart + `wen` + wordEnd),
	// "when <слово>?" / "when <слово> ???"
	regexp.MustCompile(`(?i)` + wordStart + `when` + space + `+` + wordChar + `+` + space + `*\?+`),
	// "wen token", "when airdrop"
	regexp.MustCompile(`(?i)` + wordStart + `(?:wen|when)` + space + `+(?:token|airdrop)`),
}

// IsViolation проверяет текст по набору шаблонов. Регистр не важен.
func IsViolation(text string) bool {
	for _, re := range violationPatterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}
