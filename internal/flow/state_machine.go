package flow

import (
	"log/slog"

	"github.com/BTreeMap/IntakePipe/internal/models"
)

// State is the position of a session in the scripted intake.
type State int

const (
	StateNotStarted State = iota
	StateInProgress
	StateAwaitingPhone
	StateCompleted
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateInProgress:
		return "in_progress"
	case StateAwaitingPhone:
		return "awaiting_phone"
	case StateCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// Position is a State plus the current question step when InProgress.
type Position struct {
	State State
	Step  int
}

// StateOf derives the intake position from the session fields.
func StateOf(s *models.Session, def *models.FlowDefinition) Position {
	switch {
	case s.FallbackCompleted:
		return Position{State: StateCompleted}
	case s.FallbackStep <= 0:
		return Position{State: StateNotStarted}
	case s.FallbackStep > def.LastStepID():
		return Position{State: StateAwaitingPhone}
	default:
		return Position{State: StateInProgress, Step: s.FallbackStep}
	}
}

// Transition describes one state machine move.
type Transition struct {
	Prompt    string
	From      Position
	To        Position
	Accepted  bool             // the message was consumed as an answer
	Rejection *ValidationError // set when the answer was rejected
	Completed bool             // the phone was accepted; the lead is ready to persist
}

// StateMachine drives a session through the flow's questions and the final phone step.
// It only mutates the session it is given.
type StateMachine struct {
	def       *models.FlowDefinition
	validator *AnswerValidator
}

// NewStateMachine creates a state machine over def.
func NewStateMachine(def *models.FlowDefinition, validator *AnswerValidator) *StateMachine {
	if validator == nil {
		validator = defaultValidator
	}
	return &StateMachine{def: def, validator: validator}
}

// Start moves a NotStarted session to the first question. The triggering message is not consumed.
func (m *StateMachine) Start(s *models.Session) Transition {
	from := StateOf(s, m.def)
	first, _ := m.def.StepByID(1)
	s.FallbackStep = 1
	slog.Info("StateMachine.Start: fallback intake started", "sessionID", s.ID)
	return Transition{Prompt: first.Question, From: from, To: StateOf(s, m.def)}
}

// Advance consumes msg as the answer to the current step. A NotStarted session is started
// instead, and a Completed session returns ErrIntakeCompleted.
func (m *StateMachine) Advance(s *models.Session, msg string) (Transition, error) {
	from := StateOf(s, m.def)
	switch from.State {
	case StateNotStarted:
		return m.Start(s), nil
	case StateCompleted:
		return Transition{From: from, To: from}, ErrIntakeCompleted
	case StateAwaitingPhone:
		return m.advancePhone(s, from, msg), nil
	}

	step, ok := m.def.StepByID(from.Step)
	if !ok {
		// Steps are consecutive from 1, so this only happens for a flow shrunk under a live session.
		s.FallbackStep = m.def.LastStepID() + 1
		return Transition{Prompt: PhonePrompt, From: from, To: StateOf(s, m.def)}, nil
	}
	answer, err := m.validator.Validate(step.EffectiveKind(), msg)
	if err != nil {
		verr := err.(*ValidationError)
		slog.Debug("StateMachine.Advance: answer rejected", "sessionID", s.ID, "step", step.ID, "reason", verr.Reason)
		return Transition{Prompt: correctivePrompt(verr, step.Question), From: from, To: from, Rejection: verr}, nil
	}
	setAnswer(s, models.StepKey(step.ID), answer)
	s.FallbackStep = step.ID + 1

	t := Transition{From: from, To: StateOf(s, m.def), Accepted: true}
	if next, ok := m.def.StepByID(s.FallbackStep); ok {
		t.Prompt = next.Question
	} else {
		t.Prompt = PhonePrompt
	}
	slog.Debug("StateMachine.Advance: answer accepted", "sessionID", s.ID, "step", step.ID, "next", s.FallbackStep)
	return t, nil
}

func (m *StateMachine) advancePhone(s *models.Session, from Position, msg string) Transition {
	phone, err := ValidatePhone(msg)
	if err != nil {
		verr := err.(*ValidationError)
		slog.Debug("StateMachine.advancePhone: phone rejected", "sessionID", s.ID, "reason", verr.Reason)
		return Transition{Prompt: correctivePrompt(verr, PhonePrompt), From: from, To: from, Rejection: verr}
	}
	s.PhoneSubmitted = true
	s.Phone = phone
	setAnswer(s, models.PhoneStepID, phone)
	return Transition{
		Prompt:    m.def.CompletionMessage,
		From:      from,
		To:        Position{State: StateCompleted},
		Accepted:  true,
		Completed: true,
	}
}

// setAnswer replaces the answer for stepID or appends a new one.
func setAnswer(s *models.Session, stepID, answer string) {
	for i := range s.LeadData {
		if s.LeadData[i].StepID == stepID {
			s.LeadData[i].Answer = answer
			return
		}
	}
	s.LeadData = append(s.LeadData, models.LeadAnswer{StepID: stepID, Answer: answer})
}
