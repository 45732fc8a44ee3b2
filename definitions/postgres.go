package definitions

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/growthos/activations/activation"
	_ "github.com/lib/pq"
)

// PostgresDefinitionStore implements DefinitionStore backed by PostgreSQL.
// Every instance is scoped to one workspace; the rule tree is stored as
// JSONB in its tagged-union wire form.
type PostgresDefinitionStore struct {
	db          *sql.DB
	workspaceID string
}

// NewPostgresDefinitionStore creates a PostgreSQL-backed store for a workspace
func NewPostgresDefinitionStore(db *sql.DB, workspaceID string) *PostgresDefinitionStore {
	return &PostgresDefinitionStore{
		db:          db,
		workspaceID: workspaceID,
	}
}

// Add inserts a new definition at version 1
func (s *PostgresDefinitionStore) Add(def *Definition) error {
	var exists bool
	err := s.db.QueryRow(`
		SELECT EXISTS(SELECT 1 FROM activation_definitions WHERE id = $1 AND workspace_id = $2)
	`, def.ID, s.workspaceID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check definition existence: %w", err)
	}
	if exists {
		return fmt.Errorf("definition with ID %s already exists", def.ID)
	}

	ruleJSON, err := activation.MarshalRule(def.Rule)
	if err != nil {
		return fmt.Errorf("failed to marshal rule: %w", err)
	}

	now := time.Now()
	def.WorkspaceID = s.workspaceID
	def.CreatedAt = now
	def.UpdatedAt = now
	if def.Version == 0 {
		def.Version = 1
	}
	if def.Confidence == "" {
		def.Confidence = ConfidenceMedium
	}

	_, err = s.db.Exec(`
		INSERT INTO activation_definitions
			(id, workspace_id, name, description, rule, confidence, version,
			 last_verified, active, created_at, updated_at, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, def.ID, s.workspaceID, def.Name, def.Description, ruleJSON, def.Confidence,
		def.Version, def.LastVerified, def.Active, def.CreatedAt, def.UpdatedAt, def.CreatedBy)

	if err != nil {
		return fmt.Errorf("failed to insert definition: %w", err)
	}

	return nil
}

// Get retrieves a definition by ID
func (s *PostgresDefinitionStore) Get(id string) (*Definition, error) {
	return s.scanOne(s.db.QueryRow(`
		SELECT id, workspace_id, name, description, rule, confidence, version,
		       last_verified, active, created_at, updated_at, created_by
		FROM activation_definitions
		WHERE id = $1 AND workspace_id = $2
	`, id, s.workspaceID), id)
}

func (s *PostgresDefinitionStore) scanOne(row *sql.Row, id string) (*Definition, error) {
	var (
		def          Definition
		ruleJSON     []byte
		description  sql.NullString
		lastVerified sql.NullTime
		createdBy    sql.NullString
	)

	err := row.Scan(
		&def.ID,
		&def.WorkspaceID,
		&def.Name,
		&description,
		&ruleJSON,
		&def.Confidence,
		&def.Version,
		&lastVerified,
		&def.Active,
		&def.CreatedAt,
		&def.UpdatedAt,
		&createdBy,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("definition %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get definition: %w", err)
	}

	def.Description = description.String
	def.CreatedBy = createdBy.String
	if lastVerified.Valid {
		def.LastVerified = &lastVerified.Time
	}

	def.Rule, err = activation.UnmarshalRule(ruleJSON)
	if err != nil {
		return nil, fmt.Errorf("stored rule for definition %s is invalid: %w", def.ID, err)
	}

	return &def, nil
}

// ListActive returns all active definitions for the workspace
func (s *PostgresDefinitionStore) ListActive() ([]*Definition, error) {
	rows, err := s.db.Query(`
		SELECT id, workspace_id, name, description, rule, confidence, version,
		       last_verified, active, created_at, updated_at, created_by
		FROM activation_definitions
		WHERE workspace_id = $1 AND active = true
		ORDER BY created_at ASC
	`, s.workspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list active definitions: %w", err)
	}
	defer rows.Close()

	var defs []*Definition
	for rows.Next() {
		var (
			def          Definition
			ruleJSON     []byte
			description  sql.NullString
			lastVerified sql.NullTime
			createdBy    sql.NullString
		)
		if err := rows.Scan(&def.ID, &def.WorkspaceID, &def.Name, &description,
			&ruleJSON, &def.Confidence, &def.Version, &lastVerified, &def.Active,
			&def.CreatedAt, &def.UpdatedAt, &createdBy); err != nil {
			return nil, fmt.Errorf("failed to scan definition: %w", err)
		}

		def.Description = description.String
		def.CreatedBy = createdBy.String
		if lastVerified.Valid {
			def.LastVerified = &lastVerified.Time
		}

		def.Rule, err = activation.UnmarshalRule(ruleJSON)
		if err != nil {
			return nil, fmt.Errorf("stored rule for definition %s is invalid: %w", def.ID, err)
		}

		defs = append(defs, &def)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating definitions: %w", err)
	}

	return defs, nil
}

// Update modifies an existing definition, bumping its version atomically in
// the database so concurrent updates cannot both claim the same version.
func (s *PostgresDefinitionStore) Update(def *Definition) error {
	ruleJSON, err := activation.MarshalRule(def.Rule)
	if err != nil {
		return fmt.Errorf("failed to marshal rule: %w", err)
	}

	def.UpdatedAt = time.Now()

	err = s.db.QueryRow(`
		UPDATE activation_definitions
		SET name = $1, description = $2, rule = $3, confidence = $4,
		    last_verified = $5, active = $6, updated_at = $7,
		    version = version + 1
		WHERE id = $8 AND workspace_id = $9
		RETURNING version, created_at
	`, def.Name, def.Description, ruleJSON, def.Confidence, def.LastVerified,
		def.Active, def.UpdatedAt, def.ID, s.workspaceID).Scan(&def.Version, &def.CreatedAt)

	if err == sql.ErrNoRows {
		return fmt.Errorf("definition %s not found", def.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to update definition: %w", err)
	}

	return nil
}

// Delete removes a definition from the database
func (s *PostgresDefinitionStore) Delete(id string) error {
	result, err := s.db.Exec(`
		DELETE FROM activation_definitions
		WHERE id = $1 AND workspace_id = $2
	`, id, s.workspaceID)

	if err != nil {
		return fmt.Errorf("failed to delete definition: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("definition %s not found", id)
	}

	return nil
}
