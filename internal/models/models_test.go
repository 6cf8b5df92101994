package models

import (
	"errors"
	"testing"
	"time"
)

func TestDefaultFlowDefinitionIsValid(t *testing.T) {
	f := DefaultFlowDefinition("")
	if f.Key != DefaultFlowKey {
		t.Errorf("expected key %q, got %q", DefaultFlowKey, f.Key)
	}
	if err := f.Validate(); err != nil {
		t.Fatalf("default flow invalid: %v", err)
	}
	if len(f.Steps) != 4 || f.LastStepID() != 4 {
		t.Errorf("expected four steps, got %d", len(f.Steps))
	}
}

func TestFlowDefinitionValidate(t *testing.T) {
	base := DefaultFlowDefinition(DefaultFlowKey)

	tests := []struct {
		name   string
		mutate func(f *FlowDefinition)
		want   error
	}{
		{"no steps", func(f *FlowDefinition) { f.Steps = nil }, ErrFlowNoSteps},
		{"starts at 2", func(f *FlowDefinition) { f.Steps[0].ID = 2 }, ErrFlowBadStepID},
		{"gap", func(f *FlowDefinition) { f.Steps[2].ID = 7 }, ErrFlowBadStepID},
		{"empty question", func(f *FlowDefinition) { f.Steps[1].Question = "" }, ErrFlowEmptyQuestion},
		{"phone kind", func(f *FlowDefinition) { f.Steps[3].Kind = StepKindPhone }, ErrFlowInvalidKind},
		{"unknown kind", func(f *FlowDefinition) { f.Steps[3].Kind = "email" }, ErrFlowInvalidKind},
		{"no completion", func(f *FlowDefinition) { f.CompletionMessage = "" }, ErrFlowEmptyCompletion},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := base
			f.Steps = append([]Step(nil), base.Steps...)
			tt.mutate(&f)
			if err := f.Validate(); !errors.Is(err, tt.want) {
				t.Errorf("Validate() = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestStepEffectiveKind(t *testing.T) {
	tests := []struct {
		step Step
		want StepKind
	}{
		{Step{ID: 1}, StepKindName},
		{Step{ID: 2}, StepKindArea},
		{Step{ID: 3}, StepKindSituation},
		{Step{ID: 4}, StepKindConfirmation},
		{Step{ID: 9}, StepKindConfirmation},
		{Step{ID: 1, Kind: StepKindSituation}, StepKindSituation},
	}
	for _, tt := range tests {
		if got := tt.step.EffectiveKind(); got != tt.want {
			t.Errorf("step %+v: got %q, want %q", tt.step, got, tt.want)
		}
	}
}

func TestSessionAppendTurnCapsHistory(t *testing.T) {
	s := NewSession("web_1", PlatformWeb, time.Now())
	for i := 0; i < MaxHistoryTurns+5; i++ {
		s.AppendTurn("user", string(rune('a'+i)))
	}
	if len(s.History) != MaxHistoryTurns {
		t.Fatalf("expected %d turns, got %d", MaxHistoryTurns, len(s.History))
	}
	if s.History[0].Text != string(rune('a'+5)) {
		t.Errorf("expected oldest turns to be dropped, first is %q", s.History[0].Text)
	}
}

func TestSessionCloneIsDeep(t *testing.T) {
	now := time.Now()
	s := NewSession("web_1", PlatformWeb, now)
	s.LeadData = append(s.LeadData, LeadAnswer{StepID: "1", Answer: "João Silva"})
	s.LastAICheck = &now

	c := s.Clone()
	c.LeadData[0].Answer = "changed"
	later := now.Add(time.Hour)
	*c.LastAICheck = later

	if s.LeadData[0].Answer != "João Silva" {
		t.Error("clone shares LeadData with the original")
	}
	if !s.LastAICheck.Equal(now) {
		t.Error("clone shares LastAICheck with the original")
	}
	if v, ok := s.Answer("1"); !ok || v != "João Silva" {
		t.Errorf("Answer(1) = %q, %v", v, ok)
	}
}

func TestLeadPhone(t *testing.T) {
	l := Lead{Answers: []LeadAnswer{{StepID: "1", Answer: "João Silva"}, {StepID: PhoneStepID, Answer: "11999999999"}}}
	if l.Phone() != "11999999999" {
		t.Errorf("unexpected phone %q", l.Phone())
	}
}

func TestIsValidPlatform(t *testing.T) {
	if !IsValidPlatform(PlatformWeb) || !IsValidPlatform(PlatformMessaging) || IsValidPlatform("sms") {
		t.Error("unexpected platform validation result")
	}
}
