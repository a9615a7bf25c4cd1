package audit

import "regexp"

// MaskToken заменяет найденные чувствительные значения.
const MaskToken = "***MASKED***"

// Redactor маскирует чувствительные подстроки в свободном тексте details.
//
// Это best-effort текстовое сопоставление, а не гарантия безопасности:
// значения, не похожие на "key: value", SSN или номер карты, пройдут как есть.
type Redactor struct {
	rules []redactRule
}

type redactRule struct {
	re   *regexp.Regexp
	repl string
}

var (
	// password: "x", "api_key"=x, access_token: x ...
	// Группа 1 — ключ, группа 2 — разделитель (сохраняем), дальше значение.
	secretKeyValue = regexp.MustCompile(
		`(?i)\b((?:[a-z0-9]+[_-])?(?:password|passwd|pwd|passphrase|secret|token|api[_-]?key|key))("?\s*[:=]\s*)("[^"]*"|'[^']*'|[^\s,;}&"']+)`)

	// ssn: 123-45-6789, social security number = 123456789
	ssnKeyValue = regexp.MustCompile(
		`(?i)\b(ssn|social[ _-]?security(?:[ _-]?number)?)("?\s*[:=]\s*)("?\d{3}-?\d{2}-?\d{4}"?)`)

	// 123-45-6789 без ключа
	ssnShaped = regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)

	// 4111 1111 1111 1111, 4111-1111-1111-1111, 4111111111111111
	cardShaped = regexp.MustCompile(`\b(?:\d{4}[ -]?){3}\d{4}\b`)

	// Amex: 3782 822463 10005
	amexShaped = regexp.MustCompile(`\b\d{4}[ -]?\d{6}[ -]?\d{5}\b`)
)

func NewRedactor() *Redactor {
	return &Redactor{
		rules: []redactRule{
			{re: secretKeyValue, repl: "${1}${2}" + MaskToken},
			{re: ssnKeyValue, repl: "${1}${2}" + MaskToken},
			{re: ssnShaped, repl: MaskToken},
			{re: cardShaped, repl: MaskToken},
			{re: amexShaped, repl: MaskToken},
		},
	}
}

// Redact применяет правила по порядку: сначала key-value, потом "голые" цифровые группы.
func (r *Redactor) Redact(details string) string {
	if details == "" {
		return details
	}
	out := details
	for _, rule := range r.rules {
		out = rule.re.ReplaceAllString(out, rule.repl)
	}
	return out
}
