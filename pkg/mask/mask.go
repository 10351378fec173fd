// Package mask implements pattern-based input masking and currency
// formatting. Apply and Raw are left-inverses modulo information loss:
// masking truncates on the first character that cannot satisfy the pattern,
// unmasking strips the decoration back off.
package mask

import (
	"strings"

	"github.com/goliatone/go-formflow/pkg/schema"
)

// Preset patterns for common masks. Unknown preset names leave input
// untouched so schema typos degrade instead of corrupting values.
var presets = map[string]string{
	"phone":      "(00) 00000-0000",
	"cpf":        "000.000.000-00",
	"cnpj":       "00.000.000/0000-00",
	"cep":        "00000-000",
	"date":       "00/00/0000",
	"time":       "00:00",
	"creditcard": "0000 0000 0000 0000",
}

const defaultCurrencySymbol = "$"

// Apply formats raw according to the mask. The raw input is first cleaned of
// characters the pattern can never accept, then the pattern is walked left to
// right, one cleaned character per placeholder. The walk stops at the first
// cleaned character that fails the current placeholder's class.
func Apply(raw string, m *schema.Mask) string {
	if m == nil {
		return raw
	}
	if isCurrency(m) {
		return formatCurrency(raw, symbol(m))
	}
	pattern := resolvePattern(m)
	if pattern == "" {
		return raw
	}

	clean := cleanInput(raw, pattern)
	var out strings.Builder
	ci := 0
	for pi := 0; pi < len(pattern); pi++ {
		ch := pattern[pi]
		if ch == '\\' && pi+1 < len(pattern) {
			if ci >= len(clean) {
				break
			}
			out.WriteByte(pattern[pi+1])
			pi++
			continue
		}
		switch ch {
		case '0', 'A', '*':
			if ci >= len(clean) {
				return out.String()
			}
			c := clean[ci]
			if !matchesClass(c, ch) {
				return out.String()
			}
			out.WriteByte(c)
			ci++
		default:
			if ci >= len(clean) {
				return out.String()
			}
			out.WriteByte(ch)
		}
	}
	return out.String()
}

// Raw strips mask decoration from a displayed value. For pattern masks that
// is every non-alphanumeric character; for currency it keeps digits and the
// decimal point.
func Raw(display string, m *schema.Mask) string {
	if m == nil {
		return display
	}
	if isCurrency(m) {
		cleaned := rawCurrency(display)
		if cleaned != "" && strings.HasPrefix(strings.TrimSpace(display), "-") {
			return "-" + cleaned
		}
		return cleaned
	}
	if resolvePattern(m) == "" {
		return display
	}
	var out strings.Builder
	for i := 0; i < len(display); i++ {
		if isAlphanumeric(display[i]) {
			out.WriteByte(display[i])
		}
	}
	return out.String()
}

func resolvePattern(m *schema.Mask) string {
	if m.Pattern != "" {
		return m.Pattern
	}
	if m.Preset != "" {
		return presets[m.Preset]
	}
	return ""
}

func isCurrency(m *schema.Mask) bool {
	return m.Preset == "currency"
}

func symbol(m *schema.Mask) string {
	if m.Symbol != "" {
		return m.Symbol
	}
	return defaultCurrencySymbol
}

// cleanInput removes characters the pattern's placeholder classes can never
// consume. A digits-only pattern strips everything but digits, a letters-only
// pattern everything but letters, and mixed patterns keep alphanumerics.
func cleanInput(raw, pattern string) string {
	digits, letters := false, false
	for pi := 0; pi < len(pattern); pi++ {
		switch pattern[pi] {
		case '\\':
			pi++
		case '0':
			digits = true
		case 'A':
			letters = true
		case '*':
			digits, letters = true, true
		}
	}

	var out strings.Builder
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		switch {
		case digits && letters:
			if isAlphanumeric(c) {
				out.WriteByte(c)
			}
		case digits:
			if isDigit(c) {
				out.WriteByte(c)
			}
		case letters:
			if isLetter(c) {
				out.WriteByte(c)
			}
		}
	}
	return out.String()
}

func matchesClass(c, placeholder byte) bool {
	switch placeholder {
	case '0':
		return isDigit(c)
	case 'A':
		return isLetter(c)
	case '*':
		return isAlphanumeric(c)
	}
	return false
}

func isDigit(c byte) bool  { return c >= '0' && c <= '9' }
func isLetter(c byte) bool { return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') }
func isAlphanumeric(c byte) bool {
	return isDigit(c) || isLetter(c)
}

// formatCurrency keeps digits plus one decimal point, limits the fraction to
// two digits, groups the integer part in runs of three from the right, and
// prefixes the symbol. A leading minus survives the cleaning pass so negative
// computed amounts keep their sign.
func formatCurrency(raw, symbol string) string {
	sign := ""
	if strings.HasPrefix(strings.TrimSpace(raw), "-") {
		sign = "-"
	}
	cleaned := rawCurrency(raw)
	if cleaned == "" {
		return ""
	}

	intPart := cleaned
	fracPart := ""
	if dot := strings.IndexByte(cleaned, '.'); dot >= 0 {
		intPart = cleaned[:dot]
		fracPart = cleaned[dot+1:]
		if len(fracPart) > 2 {
			fracPart = fracPart[:2]
		}
	}
	intPart = strings.TrimLeft(intPart, "0")
	if intPart == "" {
		intPart = "0"
	}

	grouped := groupThousands(intPart)
	out := sign + symbol + " " + grouped
	if fracPart != "" {
		out += "." + fracPart
	}
	return out
}

func rawCurrency(display string) string {
	var out strings.Builder
	seenDot := false
	for i := 0; i < len(display); i++ {
		c := display[i]
		switch {
		case isDigit(c):
			out.WriteByte(c)
		case c == '.' && !seenDot:
			seenDot = true
			out.WriteByte(c)
		}
	}
	return out.String()
}

// groupThousands inserts a comma before every run of three digits counted
// from the right, never at the start of the string.
func groupThousands(digits string) string {
	n := len(digits)
	if n <= 3 {
		return digits
	}
	var out strings.Builder
	lead := n % 3
	if lead > 0 {
		out.WriteString(digits[:lead])
	}
	for i := lead; i < n; i += 3 {
		if out.Len() > 0 {
			out.WriteByte(',')
		}
		out.WriteString(digits[i : i+3])
	}
	return out.String()
}

// FormatCurrency exposes the currency rule for the computed-field formatter,
// which shares its thousands-separator behaviour.
func FormatCurrency(value string, symbol string) string {
	if symbol == "" {
		symbol = defaultCurrencySymbol
	}
	return formatCurrency(value, symbol)
}
