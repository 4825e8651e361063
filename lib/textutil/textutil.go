package textutil

import (
	"regexp"
	"strings"
	"unicode"
)

var whitespaceRegex = regexp.MustCompile(`\s+`)

// NormalizeName lowercases name, turns every run of non alphanumeric characters
// into one space and trims the result. "  O'Brien,  JANE " -> "o brien jane"
func NormalizeName(name string) string {
	var out strings.Builder
	for _, c := range strings.ToLower(name) {
		if unicode.IsLetter(c) || unicode.IsDigit(c) {
			out.WriteRune(c)
			continue
		}
		out.WriteRune(' ')
	}
	return strings.TrimSpace(whitespaceRegex.ReplaceAllString(out.String(), " "))
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Digits keeps only the ascii digits of s.
func Digits(s string) string {
	var out strings.Builder
	for _, c := range s {
		if c >= '0' && c <= '9' {
			out.WriteRune(c)
		}
	}
	return out.String()
}

// NormalizePhone keeps the digits of phone, at most the last 10 so that a
// leading country code does not prevent a match.
func NormalizePhone(phone string) string {
	digits := Digits(phone)
	if len(digits) > 10 {
		return digits[len(digits)-10:]
	}
	return digits
}

// IsDigits returns true if s is non-empty and only made of ascii digits.
func IsDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
