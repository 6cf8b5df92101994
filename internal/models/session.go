// Package models defines the conversation session tracked per visitor or contact.
package models

import "time"

// MaxHistoryTurns bounds the AI conversation memory kept on a session.
const MaxHistoryTurns = 10

// AIOutcome is the classified result of one AI attempt.
type AIOutcome string

const (
	AIOutcomeSuccess       AIOutcome = "success"
	AIOutcomeTimeout       AIOutcome = "timeout"
	AIOutcomeQuotaExceeded AIOutcome = "quota_exceeded"
	AIOutcomeNetworkError  AIOutcome = "network_error"
	AIOutcomeAuthError     AIOutcome = "auth_error"
)

// Turn is one exchange message kept for AI context.
type Turn struct {
	Role string `json:"role"` // "user" or "assistant"
	Text string `json:"text"`
}

// Session is the per-conversation state: fallback progress, the last observed AI
// availability and the answers captured so far.
type Session struct {
	ID                string       `json:"sessionId"`
	Platform          Platform     `json:"platform"`
	AIAvailable       bool         `json:"aiAvailable"`
	LastAIOutcome     AIOutcome    `json:"lastAiOutcome,omitempty"`
	LastAICheck       *time.Time   `json:"lastAiCheck,omitempty"`
	FallbackStep      int          `json:"fallbackStep"`
	FallbackCompleted bool         `json:"fallbackCompleted"`
	PhoneSubmitted    bool         `json:"phoneSubmitted"`
	LeadData          []LeadAnswer `json:"leadData"`
	Phone             string       `json:"phone,omitempty"`
	LeadID            string       `json:"leadId,omitempty"`
	MessageCount      int          `json:"messageCount"`
	History           []Turn       `json:"history,omitempty"`
	LastReply         string       `json:"lastReply,omitempty"`
	CreatedAt         time.Time    `json:"createdAt"`
	UpdatedAt         time.Time    `json:"updatedAt"`
}

// NewSession creates an empty session for the given id and platform.
func NewSession(id string, platform Platform, now time.Time) *Session {
	return &Session{
		ID:        id,
		Platform:  platform,
		LeadData:  []LeadAnswer{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// HasFallbackProgress reports whether the scripted intake has started.
func (s *Session) HasFallbackProgress() bool {
	return s.FallbackStep > 0
}

// AppendTurn records an AI exchange, keeping only the most recent MaxHistoryTurns entries.
func (s *Session) AppendTurn(role, text string) {
	s.History = append(s.History, Turn{Role: role, Text: text})
	if len(s.History) > MaxHistoryTurns {
		s.History = append([]Turn(nil), s.History[len(s.History)-MaxHistoryTurns:]...)
	}
}

// Answer returns the stored answer for a step id, if any.
func (s *Session) Answer(stepID string) (string, bool) {
	for _, a := range s.LeadData {
		if a.StepID == stepID {
			return a.Answer, true
		}
	}
	return "", false
}

// Clone returns a deep copy of the session.
func (s *Session) Clone() *Session {
	c := *s
	c.LeadData = append([]LeadAnswer(nil), s.LeadData...)
	c.History = append([]Turn(nil), s.History...)
	if s.LastAICheck != nil {
		t := *s.LastAICheck
		c.LastAICheck = &t
	}
	return &c
}
