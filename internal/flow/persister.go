package flow

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/BTreeMap/IntakePipe/internal/models"
	"github.com/BTreeMap/IntakePipe/internal/store"
	"github.com/google/uuid"
)

// LeadPersister turns a finished intake into a stored lead.
type LeadPersister struct {
	leads store.LeadStore
	now   func() time.Time
}

// NewLeadPersister creates a persister writing to leads.
func NewLeadPersister(leads store.LeadStore, now func() time.Time) *LeadPersister {
	if now == nil {
		now = time.Now
	}
	return &LeadPersister{leads: leads, now: now}
}

// Persist stores the lead for s and marks the session completed. A session that is already
// completed keeps its lead and nothing is written. The caller must save the session afterwards.
func (p *LeadPersister) Persist(ctx context.Context, s *models.Session) (string, error) {
	if s.FallbackCompleted {
		slog.Debug("LeadPersister.Persist: session already completed", "sessionID", s.ID, "leadID", s.LeadID)
		return s.LeadID, nil
	}
	if !s.PhoneSubmitted {
		return "", fmt.Errorf("session %s has no phone submitted", s.ID)
	}
	lead := models.Lead{
		ID:        "lead_" + uuid.NewString(),
		SessionID: s.ID,
		Answers:   leadAnswers(s),
		Platform:  s.Platform,
		Status:    models.LeadStatusNew,
		Source:    models.LeadSourceFallback,
		CreatedAt: p.now(),
	}
	id, err := p.leads.AppendLead(ctx, lead)
	if err != nil {
		slog.Error("LeadPersister.Persist: failed to append lead", "error", err, "sessionID", s.ID)
		return "", fmt.Errorf("%w: failed to append lead: %v", ErrPersistenceUnavailable, err)
	}
	if id != lead.ID {
		// A concurrent message for this session stored its lead first. The stored lead wins so
		// the session, the reply and the notifications all agree with it.
		if err := p.adopt(ctx, s, id); err != nil {
			return "", err
		}
	}
	s.FallbackCompleted = true
	s.LeadID = id
	slog.Info("LeadPersister.Persist: lead stored", "sessionID", s.ID, "leadID", id)
	return id, nil
}

// adopt copies the answers of the already stored lead id onto s.
func (p *LeadPersister) adopt(ctx context.Context, s *models.Session, id string) error {
	existing, err := p.leads.GetLead(ctx, id)
	if err != nil {
		slog.Error("LeadPersister.adopt: failed to load existing lead", "error", err, "sessionID", s.ID, "leadID", id)
		return fmt.Errorf("%w: failed to load existing lead: %v", ErrPersistenceUnavailable, err)
	}
	if phone := existing.Phone(); phone != s.Phone {
		slog.Warn("LeadPersister.adopt: session phone differs from stored lead, keeping the lead's",
			"sessionID", s.ID, "leadID", id)
		s.Phone = phone
	}
	s.LeadData = append([]models.LeadAnswer(nil), existing.Answers...)
	return nil
}

// leadAnswers orders question answers by ascending step id and puts the phone last.
func leadAnswers(s *models.Session) []models.LeadAnswer {
	var steps []models.LeadAnswer
	var phone *models.LeadAnswer
	for _, a := range s.LeadData {
		if a.StepID == models.PhoneStepID {
			a := a
			phone = &a
			continue
		}
		steps = append(steps, a)
	}
	sort.SliceStable(steps, func(i, j int) bool {
		return stepOrder(steps[i].StepID) < stepOrder(steps[j].StepID)
	})
	if phone == nil && s.Phone != "" {
		phone = &models.LeadAnswer{StepID: models.PhoneStepID, Answer: s.Phone}
	}
	if phone != nil {
		steps = append(steps, *phone)
	}
	return steps
}

func stepOrder(id string) int {
	n, err := strconv.Atoi(id)
	if err != nil {
		return int(^uint(0) >> 1)
	}
	return n
}
