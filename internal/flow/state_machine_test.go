package flow

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/IntakePipe/internal/models"
)

func TestStateOf(t *testing.T) {
	def := defaultFlow()
	s := models.NewSession("s1", models.PlatformWeb, time.Now())
	if got := StateOf(s, def); got.State != StateNotStarted {
		t.Errorf("fresh session state = %s", got.State)
	}
	s.FallbackStep = 2
	if got := StateOf(s, def); got.State != StateInProgress || got.Step != 2 {
		t.Errorf("state = %+v", got)
	}
	s.FallbackStep = def.LastStepID() + 1
	if got := StateOf(s, def); got.State != StateAwaitingPhone {
		t.Errorf("state = %s, want awaiting_phone", got.State)
	}
	s.FallbackCompleted = true
	if got := StateOf(s, def); got.State != StateCompleted {
		t.Errorf("state = %s, want completed", got.State)
	}
}

func TestStartDoesNotConsumeMessage(t *testing.T) {
	def := defaultFlow()
	sm := NewStateMachine(def, nil)
	s := models.NewSession("s1", models.PlatformWeb, time.Now())

	tr, err := sm.Advance(s, "João Silva")
	if err != nil {
		t.Fatal(err)
	}
	if s.FallbackStep != 1 {
		t.Errorf("FallbackStep = %d, want 1", s.FallbackStep)
	}
	if len(s.LeadData) != 0 {
		t.Errorf("triggering message was stored: %+v", s.LeadData)
	}
	if tr.Prompt != def.Steps[0].Question {
		t.Errorf("prompt = %q", tr.Prompt)
	}
}

func TestStepMonotonicity(t *testing.T) {
	def := defaultFlow()
	sm := NewStateMachine(def, nil)
	s := models.NewSession("s1", models.PlatformWeb, time.Now())
	sm.Start(s)

	inputs := []string{"João", "João Silva", " ", "criminal", "ok", "Processo criminal", "Sim", "123", "11999999999"}
	prev := s.FallbackStep
	for _, in := range inputs {
		tr, err := sm.Advance(s, in)
		if err != nil {
			t.Fatalf("Advance(%q): %v", in, err)
		}
		delta := s.FallbackStep - prev
		if tr.Accepted && !tr.Completed && delta != 1 {
			t.Errorf("Advance(%q): accepted answer moved step by %d", in, delta)
		}
		if !tr.Accepted && delta != 0 {
			t.Errorf("Advance(%q): rejected answer moved step by %d", in, delta)
		}
		if delta < 0 {
			t.Errorf("Advance(%q): step decreased", in)
		}
		prev = s.FallbackStep
	}
	if !s.PhoneSubmitted || s.Phone != "11999999999" {
		t.Errorf("phone not submitted: %+v", s)
	}
}

func TestSingleTokenNameReemitsQuestion(t *testing.T) {
	def := defaultFlow()
	sm := NewStateMachine(def, nil)
	s := models.NewSession("s1", models.PlatformWeb, time.Now())
	sm.Start(s)

	tr, err := sm.Advance(s, "João")
	if err != nil {
		t.Fatal(err)
	}
	if s.FallbackStep != 1 {
		t.Errorf("FallbackStep = %d, want 1", s.FallbackStep)
	}
	if tr.Rejection == nil || tr.Rejection.Reason != ReasonTooFewTokens {
		t.Fatalf("expected too_few_tokens rejection, got %+v", tr.Rejection)
	}
	if !strings.HasSuffix(tr.Prompt, def.Steps[0].Question) {
		t.Errorf("question not re-emitted: %q", tr.Prompt)
	}
}

func TestAwaitingPhoneRejection(t *testing.T) {
	def := defaultFlow()
	sm := NewStateMachine(def, nil)
	s := models.NewSession("s1", models.PlatformWeb, time.Now())
	s.FallbackStep = def.LastStepID() + 1

	tr, _ := sm.Advance(s, "123")
	if tr.Completed || s.PhoneSubmitted {
		t.Fatal("invalid phone completed the intake")
	}
	if !strings.Contains(tr.Prompt, "11999999999") {
		t.Errorf("phone hint missing example: %q", tr.Prompt)
	}

	tr, _ = sm.Advance(s, "+55 11 99999-9999")
	if !tr.Completed || tr.Prompt != def.CompletionMessage {
		t.Errorf("transition = %+v", tr)
	}
	if got, _ := s.Answer(models.PhoneStepID); got != "5511999999999" {
		t.Errorf("phone answer = %q", got)
	}
}

func TestAdvanceCompleted(t *testing.T) {
	sm := NewStateMachine(defaultFlow(), nil)
	s := models.NewSession("s1", models.PlatformWeb, time.Now())
	s.FallbackCompleted = true
	if _, err := sm.Advance(s, "oi"); !errors.Is(err, ErrIntakeCompleted) {
		t.Errorf("err = %v, want ErrIntakeCompleted", err)
	}
}
