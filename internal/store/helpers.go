package store

import (
	"encoding/json"
	"fmt"

	"github.com/BTreeMap/IntakePipe/internal/models"
	"github.com/google/uuid"
)

// encodeDoc marshals a document for a TEXT/JSONB column.
func encodeDoc(v interface{}) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode document: %w", err)
	}
	return string(b), nil
}

func decodeSession(doc string) (*models.Session, error) {
	var s models.Session
	if err := json.Unmarshal([]byte(doc), &s); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	if s.LeadData == nil {
		s.LeadData = []models.LeadAnswer{}
	}
	return &s, nil
}

func decodeFlow(doc string) (*models.FlowDefinition, error) {
	var f models.FlowDefinition
	if err := json.Unmarshal([]byte(doc), &f); err != nil {
		return nil, fmt.Errorf("decode flow: %w", err)
	}
	return &f, nil
}

func decodeLead(doc string) (*models.Lead, error) {
	var l models.Lead
	if err := json.Unmarshal([]byte(doc), &l); err != nil {
		return nil, fmt.Errorf("decode lead: %w", err)
	}
	return &l, nil
}

// ensureLeadID assigns a fresh id to a lead that has none.
func ensureLeadID(lead *models.Lead) {
	if lead.ID == "" {
		lead.ID = "lead_" + uuid.NewString()
	}
}
