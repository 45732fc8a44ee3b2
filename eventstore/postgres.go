package eventstore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/growthos/activations/activation"
	_ "github.com/lib/pq"
)

// PostgresEventStore implements EventStore backed by PostgreSQL. Seq comes
// from a BIGSERIAL column, so arrival order is assigned by the database and
// survives restarts; properties are stored as JSONB.
type PostgresEventStore struct {
	db *sql.DB
}

// NewPostgresEventStore creates a PostgreSQL-backed event store
func NewPostgresEventStore(db *sql.DB) *PostgresEventStore {
	return &PostgresEventStore{db: db}
}

// Append inserts a batch of events in one transaction so a partial batch
// never becomes visible.
func (s *PostgresEventStore) Append(workspaceID string, events []activation.Event) error {
	if workspaceID == "" {
		return fmt.Errorf("workspace ID is required")
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO events (workspace_id, subject_id, name, occurred_at, properties)
		VALUES ($1, $2, $3, $4, $5)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range events {
		if e.SubjectID == "" || e.Name == "" {
			return fmt.Errorf("event subject_id and name are required")
		}

		var props []byte
		if e.Properties != nil {
			props, err = json.Marshal(e.Properties)
			if err != nil {
				return fmt.Errorf("failed to marshal properties: %w", err)
			}
		}

		if _, err := stmt.Exec(workspaceID, e.SubjectID, e.Name, e.OccurredAt, props); err != nil {
			return fmt.Errorf("failed to insert event: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit events: %w", err)
	}

	return nil
}

// ListBySubject returns the subject's events ordered by (occurred_at, seq)
func (s *PostgresEventStore) ListBySubject(workspaceID, subjectID string, from, to time.Time) ([]activation.Event, error) {
	var fromArg, toArg any
	if !from.IsZero() {
		fromArg = from
	}
	if !to.IsZero() {
		toArg = to
	}

	rows, err := s.db.Query(`
		SELECT subject_id, name, occurred_at, seq, properties
		FROM events
		WHERE workspace_id = $1 AND subject_id = $2
		  AND ($3::timestamptz IS NULL OR occurred_at >= $3)
		  AND ($4::timestamptz IS NULL OR occurred_at <= $4)
		ORDER BY occurred_at ASC, seq ASC
	`, workspaceID, subjectID, fromArg, toArg)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	var events []activation.Event
	for rows.Next() {
		var (
			e     activation.Event
			props []byte
		)
		if err := rows.Scan(&e.SubjectID, &e.Name, &e.OccurredAt, &e.Seq, &props); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}

		if len(props) > 0 {
			if err := json.Unmarshal(props, &e.Properties); err != nil {
				return nil, fmt.Errorf("stored properties for event %d are invalid: %w", e.Seq, err)
			}
		}

		events = append(events, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}

	return events, nil
}
