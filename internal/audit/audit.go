// Package audit records who changed what on governed resources, mirroring
// the platform's audit trail for activation definition changes.
package audit

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
)

// Entry is one audit record. OldValue/NewValue are stored as JSONB
// snapshots of the resource before and after the change.
type Entry struct {
	OrgID        string
	WorkspaceID  string
	UserID       string
	Action       string // e.g. activation_definition_created, activation_definition_change
	ResourceType string
	ResourceID   string
	OldValue     any
	NewValue     any
}

// Recorder writes audit entries to PostgreSQL. A nil *Recorder is a no-op,
// so callers never have to guard their Record calls.
type Recorder struct {
	db *sql.DB
}

// NewRecorder creates a recorder backed by the given database
func NewRecorder(db *sql.DB) *Recorder {
	return &Recorder{db: db}
}

// Record inserts one audit entry
func (r *Recorder) Record(e Entry) error {
	if r == nil {
		return nil
	}

	oldJSON, err := marshalValue(e.OldValue)
	if err != nil {
		return fmt.Errorf("failed to marshal old value: %w", err)
	}
	newJSON, err := marshalValue(e.NewValue)
	if err != nil {
		return fmt.Errorf("failed to marshal new value: %w", err)
	}

	_, err = r.db.Exec(`
		INSERT INTO audit_log
			(id, org_id, workspace_id, user_id, action, resource_type, resource_id,
			 old_value, new_value, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, "audit_"+uuid.NewString(), e.OrgID, nullable(e.WorkspaceID), e.UserID,
		e.Action, e.ResourceType, e.ResourceID, oldJSON, newJSON, time.Now())

	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}

	return nil
}

func marshalValue(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
