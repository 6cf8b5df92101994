// Package models defines the intake flow definition types.
package models

import (
	"errors"
	"fmt"
	"time"
)

// DefaultFlowKey is the document key of the intake flow.
const DefaultFlowKey = "law_firm_intake"

// StepKind is the closed set of question step variants. Each kind has exactly one validator.
type StepKind string

const (
	StepKindName         StepKind = "name"
	StepKindArea         StepKind = "area"
	StepKindSituation    StepKind = "situation"
	StepKindConfirmation StepKind = "confirmation"
	// StepKindPhone is the synthetic final step; it never appears in Steps.
	StepKindPhone StepKind = "phone"
)

// IsValidStepKind checks if k is a known step kind.
func IsValidStepKind(k StepKind) bool {
	switch k {
	case StepKindName, StepKindArea, StepKindSituation, StepKindConfirmation, StepKindPhone:
		return true
	default:
		return false
	}
}

// KindForPosition returns the kind a step gets from its position in the canonical flow.
func KindForPosition(id int) StepKind {
	switch id {
	case 1:
		return StepKindName
	case 2:
		return StepKindArea
	case 3:
		return StepKindSituation
	default:
		return StepKindConfirmation
	}
}

// Step is one question of the intake flow.
type Step struct {
	ID       int      `json:"id" yaml:"id"`
	Kind     StepKind `json:"kind,omitempty" yaml:"kind,omitempty"`
	Question string   `json:"question" yaml:"question"`
}

// EffectiveKind returns the declared kind or the positional default.
func (s Step) EffectiveKind() StepKind {
	if s.Kind != "" {
		return s.Kind
	}
	return KindForPosition(s.ID)
}

// FlowDefinition is the ordered list of question steps and the completion message.
// It is owned by the flow store and read-only to the orchestrator.
type FlowDefinition struct {
	Key               string    `json:"key" yaml:"key"`
	Version           string    `json:"version,omitempty" yaml:"version,omitempty"`
	Steps             []Step    `json:"steps" yaml:"steps"`
	CompletionMessage string    `json:"completionMessage" yaml:"completion_message"`
	UpdatedAt         time.Time `json:"updatedAt,omitempty" yaml:"-"`
}

// Flow validation errors.
var (
	ErrFlowNoSteps         = errors.New("flow has no steps")
	ErrFlowBadStepID       = errors.New("flow step ids must be consecutive starting at 1")
	ErrFlowEmptyQuestion   = errors.New("flow step question cannot be empty")
	ErrFlowInvalidKind     = errors.New("flow step kind is invalid")
	ErrFlowEmptyCompletion = errors.New("flow completion message cannot be empty")
)

// Validate checks the structural invariants of the definition.
func (f *FlowDefinition) Validate() error {
	if len(f.Steps) == 0 {
		return ErrFlowNoSteps
	}
	for i, st := range f.Steps {
		if st.ID != i+1 {
			return fmt.Errorf("%w: step %d has id %d", ErrFlowBadStepID, i, st.ID)
		}
		if st.Question == "" {
			return fmt.Errorf("%w: step %d", ErrFlowEmptyQuestion, st.ID)
		}
		if st.Kind != "" && (!IsValidStepKind(st.Kind) || st.Kind == StepKindPhone) {
			return fmt.Errorf("%w: step %d has kind %q", ErrFlowInvalidKind, st.ID, st.Kind)
		}
	}
	if f.CompletionMessage == "" {
		return ErrFlowEmptyCompletion
	}
	return nil
}

// StepByID returns the step with the given id.
func (f *FlowDefinition) StepByID(id int) (Step, bool) {
	for _, st := range f.Steps {
		if st.ID == id {
			return st, true
		}
	}
	return Step{}, false
}

// LastStepID returns the id of the last question step, or 0 for an empty flow.
func (f *FlowDefinition) LastStepID() int {
	if len(f.Steps) == 0 {
		return 0
	}
	return f.Steps[len(f.Steps)-1].ID
}

// DefaultFlowDefinition returns the canonical four-question intake flow.
func DefaultFlowDefinition(key string) FlowDefinition {
	if key == "" {
		key = DefaultFlowKey
	}
	return FlowDefinition{
		Key:     key,
		Version: "1.0",
		Steps: []Step{
			{ID: 1, Kind: StepKindName, Question: "Olá! Para começarmos o seu atendimento, qual é o seu nome completo?"},
			{ID: 2, Kind: StepKindArea, Question: "Em qual área do direito você precisa de ajuda?\n\n• Penal\n• Saúde Liminar\n• Trabalhista\n• Família\n• Outra"},
			{ID: 3, Kind: StepKindSituation, Question: "Por favor, descreva brevemente a sua situação."},
			{ID: 4, Kind: StepKindConfirmation, Question: "Gostaria de agendar uma conversa com um dos nossos advogados? (Sim ou Não)"},
		},
		CompletionMessage: "Perfeito! Suas informações foram registradas com sucesso. Nossa equipe analisará o seu caso e entrará em contato em breve. Obrigado pela confiança!",
	}
}
