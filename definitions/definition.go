package definitions

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/growthos/activations/activation"
)

// Confidence expresses how much the team trusts an activation definition to
// reflect real engagement.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Definition is a named, versioned activation rule scoped to a workspace.
type Definition struct {
	ID           string
	WorkspaceID  string
	Name         string
	Description  string
	Rule         activation.Rule
	Confidence   Confidence
	Version      int
	LastVerified *time.Time
	Active       bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
	CreatedBy    string
}

// EvaluationResult is the outcome of evaluating one definition against a
// subject's event history.
type EvaluationResult struct {
	DefinitionID   string
	DefinitionName string
	Confidence     Confidence
	Activated      bool
	ActivatedAt    *time.Time
	Error          error
}

type definitionJSON struct {
	ID           string          `json:"definition_id"`
	WorkspaceID  string          `json:"workspace_id"`
	Name         string          `json:"name"`
	Description  string          `json:"description,omitempty"`
	Rule         json.RawMessage `json:"rule"`
	Confidence   Confidence      `json:"confidence"`
	Version      int             `json:"version"`
	LastVerified *time.Time      `json:"last_verified,omitempty"`
	Active       bool            `json:"is_active"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	CreatedBy    string          `json:"created_by,omitempty"`
}

// MarshalJSON renders the definition with its rule in tagged-union wire form.
func (d Definition) MarshalJSON() ([]byte, error) {
	rule, err := activation.MarshalRule(d.Rule)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal rule for definition %s: %w", d.ID, err)
	}

	return json.Marshal(definitionJSON{
		ID:           d.ID,
		WorkspaceID:  d.WorkspaceID,
		Name:         d.Name,
		Description:  d.Description,
		Rule:         rule,
		Confidence:   d.Confidence,
		Version:      d.Version,
		LastVerified: d.LastVerified,
		Active:       d.Active,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
		CreatedBy:    d.CreatedBy,
	})
}

func (d *Definition) UnmarshalJSON(data []byte) error {
	var w definitionJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	rule, err := activation.UnmarshalRule(w.Rule)
	if err != nil {
		return fmt.Errorf("failed to unmarshal rule for definition %s: %w", w.ID, err)
	}

	*d = Definition{
		ID:           w.ID,
		WorkspaceID:  w.WorkspaceID,
		Name:         w.Name,
		Description:  w.Description,
		Rule:         rule,
		Confidence:   w.Confidence,
		Version:      w.Version,
		LastVerified: w.LastVerified,
		Active:       w.Active,
		CreatedAt:    w.CreatedAt,
		UpdatedAt:    w.UpdatedAt,
		CreatedBy:    w.CreatedBy,
	}
	return nil
}
