package main

import (
	"encoding/json"
	"time"

	"github.com/growthos/activations/definitions"
)

// API Request and Response Models with Swagger annotations

// CreateWorkspaceRequest represents the request body for creating a workspace
type CreateWorkspaceRequest struct {
	OrgID string `json:"org_id" example:"org_9f3c2a" binding:"required"`
	Name  string `json:"name" example:"Acme DTC Launch" binding:"required"`
} // @name CreateWorkspaceRequest

// CreateDefinitionRequest represents the request body for creating an
// activation definition. Rule is the tagged JSON form understood by the
// activation package.
type CreateDefinitionRequest struct {
	Name        string          `json:"name" example:"MQL" binding:"required"`
	Description string          `json:"description,omitempty" example:"Booked a demo within 3 days of signup"`
	Rule        json.RawMessage `json:"rule" binding:"required"`
	Confidence  string          `json:"confidence,omitempty" example:"high"`
} // @name CreateDefinitionRequest

// UpdateDefinitionRequest represents the request body for updating a definition
type UpdateDefinitionRequest struct {
	Name         string          `json:"name" example:"MQL"`
	Description  string          `json:"description,omitempty"`
	Rule         json.RawMessage `json:"rule"`
	Confidence   string          `json:"confidence,omitempty" example:"medium"`
	LastVerified *time.Time      `json:"last_verified,omitempty" example:"2025-03-01T00:00:00Z"`
	Active       *bool           `json:"is_active,omitempty" example:"true"`
} // @name UpdateDefinitionRequest

// EventPayload represents one tracked event in requests and responses
type EventPayload struct {
	SubjectID  string         `json:"subject_id" example:"lead_7741" binding:"required"`
	Name       string         `json:"name" example:"demo_booked" binding:"required"`
	OccurredAt time.Time      `json:"occurred_at" example:"2025-03-03T09:00:00Z" binding:"required"`
	Seq        int64          `json:"seq,omitempty" example:"12"`
	Properties map[string]any `json:"properties,omitempty"`
} // @name EventPayload

// IngestEventsRequest represents the request body for ingesting events
type IngestEventsRequest struct {
	Events []EventPayload `json:"events" binding:"required"`
} // @name IngestEventsRequest

// EvaluateRequest represents the request body for evaluating a subject
// against a workspace's activation definitions
type EvaluateRequest struct {
	WorkspaceID string     `json:"workspaceId" example:"ws_123e4567" binding:"required"`
	SubjectID   string     `json:"subjectId" example:"lead_7741" binding:"required"`
	Definitions []string   `json:"definitions,omitempty" example:"actdef_123,actdef_456"`
	From        *time.Time `json:"from,omitempty" example:"2025-03-01T00:00:00Z"`
	To          *time.Time `json:"to,omitempty" example:"2025-03-31T00:00:00Z"`
} // @name EvaluateRequest

// EvaluationResultResponse represents a single definition verdict
type EvaluationResultResponse struct {
	DefinitionID   string     `json:"definition_id" example:"actdef_123"`
	DefinitionName string     `json:"definition_name" example:"MQL"`
	Confidence     string     `json:"confidence,omitempty" example:"high"`
	Activated      bool       `json:"activated" example:"true"`
	ActivatedAt    *time.Time `json:"activated_at,omitempty" example:"2025-03-06T08:00:00Z"`
	Error          *string    `json:"error,omitempty"`
} // @name EvaluationResultResponse

// EvaluateResponse represents the response for subject evaluation
type EvaluateResponse struct {
	SubjectID      string                     `json:"subject_id" example:"lead_7741"`
	Results        []EvaluationResultResponse `json:"results"`
	EvaluationTime string                     `json:"evaluationTime" example:"2.3ms"`
} // @name EvaluateResponse

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error" example:"invalid rule"`
	Details string `json:"details,omitempty"`
} // @name ErrorResponse

// HealthResponse represents the health check response
type HealthResponse struct {
	Status string `json:"status" example:"healthy"`
} // @name HealthResponse

func toResultResponses(results []*definitions.EvaluationResult) []EvaluationResultResponse {
	out := make([]EvaluationResultResponse, 0, len(results))
	for _, r := range results {
		resp := EvaluationResultResponse{
			DefinitionID:   r.DefinitionID,
			DefinitionName: r.DefinitionName,
			Confidence:     string(r.Confidence),
			Activated:      r.Activated,
			ActivatedAt:    r.ActivatedAt,
		}
		if r.Error != nil {
			msg := r.Error.Error()
			resp.Error = &msg
		}
		out = append(out, resp)
	}
	return out
}
