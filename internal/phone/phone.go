// Package phone formats the phone numbers captured by the intake for outbound delivery.
package phone

import (
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// DefaultRegion is used for numbers entered without a country code.
const DefaultRegion = "BR"

const brazilCountryCode = "55"

// NormalizeE164 formats a phone number to E.164. Numbers that already start with the
// Brazilian country code are treated as international. If parsing fails, it returns the
// trimmed input.
func NormalizeE164(input string) string {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return trimmed
	}
	candidate := trimmed
	if digits := Digits(trimmed); !strings.HasPrefix(trimmed, "+") && len(digits) >= 12 && strings.HasPrefix(digits, brazilCountryCode) {
		candidate = "+" + digits
	}

	number, err := phonenumbers.Parse(candidate, DefaultRegion)
	if err != nil {
		return trimmed
	}
	if !phonenumbers.IsValidNumber(number) {
		return trimmed
	}
	return phonenumbers.Format(number, phonenumbers.E164)
}

// Digits strips every non-digit character.
func Digits(s string) string {
	var sb strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}
