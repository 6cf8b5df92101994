package flow

import (
	"strings"
	"unicode"

	"github.com/BTreeMap/IntakePipe/internal/models"
	"github.com/BTreeMap/IntakePipe/internal/phone"
)

// Phone digit bounds: Brazilian landline or mobile, with or without country code.
const (
	MinPhoneDigits = 10
	MaxPhoneDigits = 13
)

// AnswerValidator validates and normalizes answers, one rule per step kind.
type AnswerValidator struct {
	areas *AreaTable
}

// NewAnswerValidator creates a validator using the given area table, or the default one.
func NewAnswerValidator(areas *AreaTable) *AnswerValidator {
	if areas == nil {
		areas = NewAreaTable(DefaultAreaSynonyms)
	}
	return &AnswerValidator{areas: areas}
}

var defaultValidator = NewAnswerValidator(nil)

// ValidateAnswer validates raw against the rule for kind using the default area table.
func ValidateAnswer(kind models.StepKind, raw string) (string, error) {
	return defaultValidator.Validate(kind, raw)
}

// Validate returns the normalized answer or a *ValidationError.
func (v *AnswerValidator) Validate(kind models.StepKind, raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", reject(kind, ReasonTooShort, hintFor(kind))
	}
	switch kind {
	case models.StepKindName:
		tokens := strings.Fields(trimmed)
		if len(tokens) < 2 {
			return "", reject(kind, ReasonTooFewTokens, hintName)
		}
		return strings.Join(tokens, " "), nil
	case models.StepKindArea:
		return v.areas.Normalize(trimmed), nil
	case models.StepKindSituation:
		n := 0
		for _, r := range trimmed {
			if !unicode.IsSpace(r) {
				n++
			}
		}
		if n < 3 {
			return "", reject(kind, ReasonTooShort, hintSituation)
		}
		return trimmed, nil
	case models.StepKindConfirmation:
		return trimmed, nil
	case models.StepKindPhone:
		return ValidatePhone(trimmed)
	default:
		return trimmed, nil
	}
}

// ValidatePhone strips every non-digit and accepts 10 to 13 digits. The normalized answer is
// the digit string.
func ValidatePhone(raw string) (string, error) {
	digits := phone.Digits(raw)
	if strings.TrimSpace(raw) == "" {
		return "", reject(models.StepKindPhone, ReasonTooShort, hintPhone)
	}
	if len(digits) < MinPhoneDigits || len(digits) > MaxPhoneDigits {
		return "", reject(models.StepKindPhone, ReasonInvalidFormat, hintPhone)
	}
	return digits, nil
}

func hintFor(kind models.StepKind) string {
	switch kind {
	case models.StepKindName:
		return hintName
	case models.StepKindSituation:
		return hintSituation
	case models.StepKindPhone:
		return hintPhone
	default:
		return hintGeneric
	}
}
