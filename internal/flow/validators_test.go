package flow

import (
	"errors"
	"testing"

	"github.com/BTreeMap/IntakePipe/internal/models"
)

func TestValidateAnswer(t *testing.T) {
	tests := []struct {
		name   string
		kind   models.StepKind
		in     string
		want   string
		reason ValidationReason
	}{
		{"full name", models.StepKindName, "  João   Silva ", "João Silva", ""},
		{"single token name", models.StepKindName, "João", "", ReasonTooFewTokens},
		{"blank name", models.StepKindName, "   ", "", ReasonTooShort},
		{"criminal", models.StepKindArea, "criminal", "Penal", ""},
		{"trabalho", models.StepKindArea, "trabalho", "Trabalhista", ""},
		{"accented area", models.StepKindArea, "FAMÍLIA", "Família", ""},
		{"phrase area", models.StepKindArea, "preciso de um plano de saúde", "Saúde Liminar", ""},
		{"unknown area", models.StepKindArea, "  Ambiental  ", "Ambiental", ""},
		{"blank area", models.StepKindArea, "\t", "", ReasonTooShort},
		{"situation", models.StepKindSituation, " Processo criminal ", "Processo criminal", ""},
		{"short situation", models.StepKindSituation, "a b", "", ReasonTooShort},
		{"confirmation", models.StepKindConfirmation, " Sim ", "Sim", ""},
		{"blank confirmation", models.StepKindConfirmation, " ", "", ReasonTooShort},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ValidateAnswer(tt.kind, tt.in)
			if tt.reason != "" {
				var verr *ValidationError
				if !errors.As(err, &verr) {
					t.Fatalf("expected ValidationError, got %v", err)
				}
				if verr.Reason != tt.reason {
					t.Errorf("reason = %s, want %s", verr.Reason, tt.reason)
				}
				if verr.Hint == "" {
					t.Error("expected a hint")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestValidatePhone(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"11999999999", "11999999999", true},
		{"+55 11 99999-9999", "5511999999999", true},
		{"(11) 3333-4444", "1133334444", true},
		{"whatsapp:+5511999999999", "5511999999999", true},
		{"meu número é 11 9 9999.9999", "11999999999", true},
		{"123", "", false},
		{"55119999999999", "", false},
		{"   ", "", false},
	}
	for _, tt := range tests {
		got, err := ValidatePhone(tt.in)
		if tt.ok {
			if err != nil || got != tt.want {
				t.Errorf("ValidatePhone(%q) = %q, %v; want %q", tt.in, got, err, tt.want)
			}
			continue
		}
		var verr *ValidationError
		if !errors.As(err, &verr) {
			t.Errorf("ValidatePhone(%q) expected rejection, got %q", tt.in, got)
		}
	}
}

func TestCustomAreaTable(t *testing.T) {
	v := NewAnswerValidator(NewAreaTable([]AreaSynonyms{{Canonical: "Ambiental", Synonyms: []string{"meio ambiente", "desmatamento"}}}))
	got, err := v.Validate(models.StepKindArea, "Problema com Meio-Ambiente")
	if err != nil || got != "Ambiental" {
		t.Errorf("got %q, %v", got, err)
	}
	got, _ = v.Validate(models.StepKindArea, "criminal")
	if got != "criminal" {
		t.Errorf("default synonyms should not apply to a custom table, got %q", got)
	}
}
