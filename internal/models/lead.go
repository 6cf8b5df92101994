// Package models defines the lead record produced by a completed intake.
package models

import (
	"strconv"
	"time"
)

// LeadStatusNew is the only status a lead is created with.
const LeadStatusNew = "new"

// LeadSourceFallback tags leads captured by the scripted fallback intake.
const LeadSourceFallback = "fallback_intake"

// PhoneStepID is the step id of the synthetic phone entry.
const PhoneStepID = "phone"

// LeadAnswer is one captured answer, keyed by step id.
type LeadAnswer struct {
	StepID string `json:"stepId"`
	Answer string `json:"answer"`
}

// StepKey returns the LeadData key for a question step id.
func StepKey(id int) string {
	return strconv.Itoa(id)
}

// Lead is the immutable structured record of a completed intake.
type Lead struct {
	ID        string       `json:"id"`
	SessionID string       `json:"sessionId"`
	Answers   []LeadAnswer `json:"answers"`
	Platform  Platform     `json:"platform"`
	Status    string       `json:"status"`
	Source    string       `json:"source"`
	CreatedAt time.Time    `json:"createdAt"`
}

// Phone returns the phone entry of the lead.
func (l *Lead) Phone() string {
	for _, a := range l.Answers {
		if a.StepID == PhoneStepID {
			return a.Answer
		}
	}
	return ""
}
