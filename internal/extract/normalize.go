package extract

import (
	"strings"
	"unicode"

	"github.com/JakeFAU/registry-graph-crawler/internal/crawler"
)

const (
	noInformationMarker = "No information"
	notVATPayerMarker   = "not VAT payer"
)

func normalizeLabel(label string) string {
	return strings.TrimSpace(strings.ReplaceAll(label, ":", ""))
}

// NormalizeFounded turns the registry's DD/MM/YYYY into YYYY-MM-DD by
// reversing the slash-separated components.
func NormalizeFounded(raw string) string {
	parts := strings.Split(raw, "/")
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, "-")
}

// FirstLine truncates raw at its first newline.
func FirstLine(raw string) string {
	if idx := strings.IndexByte(raw, '\n'); idx >= 0 {
		return strings.TrimRight(raw[:idx], " \t\r")
	}
	return raw
}

// Representatives drops the label echo (first token) and the footer (last
// token), keeping the names in page order.
func Representatives(tokens []string) []string {
	if len(tokens) < 3 {
		return []string{}
	}
	return append([]string(nil), tokens[1:len(tokens)-1]...)
}

// Taxes returns Null when the registry has no information, otherwise the
// tokens after the label and the summary line joined with "; ".
func Taxes(tokens []string) string {
	if len(tokens) > 1 && hasNoInformation(tokens[1]) {
		return crawler.Null
	}
	if len(tokens) <= 2 {
		return ""
	}
	return strings.Join(tokens[2:], "; ")
}

// EmployeeCount extracts the count from "label: N (period)".
func EmployeeCount(raw string) string {
	if hasNoInformation(raw) {
		return crawler.Null
	}
	start := 0
	if idx := strings.Index(raw, ": "); idx >= 0 {
		start = idx + len(": ")
	}
	end := len(raw)
	if idx := strings.Index(raw, " ("); idx >= start {
		end = idx
	}
	return strings.TrimSpace(raw[start:end])
}

// VATIncome keeps the amount before the trailing parenthetical.
func VATIncome(raw string) string {
	if hasNoInformation(raw) {
		return crawler.Null
	}
	if idx := strings.Index(raw, " ("); idx >= 0 {
		return raw[:idx]
	}
	return raw
}

// ParseVATResponse reads the VAT lookup body. The number is the text between
// the first "(" and the first ")", without its country prefix. Non-payers and
// bodies without a parenthesized number yield Null.
func ParseVATResponse(body string) string {
	text := strings.TrimSpace(body)
	if text == "" || strings.Contains(text, notVATPayerMarker) {
		return crawler.Null
	}
	open := strings.IndexByte(text, '(')
	closing := strings.IndexByte(text, ')')
	if open < 0 || closing <= open {
		return crawler.Null
	}
	number := stripCountryPrefix(strings.TrimSpace(text[open+1 : closing]))
	if number == "" {
		return crawler.Null
	}
	return number
}

// stripCountryPrefix removes a leading alphabetic country code ("EE") when
// digits follow it.
func stripCountryPrefix(number string) string {
	digits := strings.TrimLeftFunc(number, func(r rune) bool {
		return r <= unicode.MaxASCII && unicode.IsLetter(r)
	})
	if digits == number || digits == "" || !unicode.IsDigit(rune(digits[0])) {
		return number
	}
	return digits
}

func hasNoInformation(raw string) bool {
	return strings.Contains(raw, noInformationMarker)
}
