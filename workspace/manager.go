package workspace

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/growthos/activations/definitions"
	"github.com/growthos/activations/eventstore"
)

// Workspace is one client engagement inside an organization
type Workspace struct {
	ID        string    `json:"id"`
	OrgID     string    `json:"org_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Manager holds one definitions.Engine per workspace and the shared event
// store. Engines are created when a workspace is loaded or created and
// looked up per request.
type Manager struct {
	db      *sql.DB
	redis   *redis.Client // optional; nil means in-memory definition caches
	events  eventstore.EventStore
	engines map[string]*definitions.Engine
	mu      sync.RWMutex
}

// NewManager creates a new manager instance. redisClient may be nil, in
// which case each workspace engine uses its own in-memory cache.
func NewManager(db *sql.DB, events eventstore.EventStore, redisClient *redis.Client) *Manager {
	return &Manager{
		db:      db,
		redis:   redisClient,
		events:  events,
		engines: make(map[string]*definitions.Engine),
	}
}

// LoadAllWorkspaces initializes an engine for every workspace in the
// database. Called once at startup.
func (m *Manager) LoadAllWorkspaces() error {
	rows, err := m.db.Query(`SELECT id FROM workspaces`)
	if err != nil {
		return fmt.Errorf("failed to fetch workspaces: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return fmt.Errorf("failed to scan workspace row: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating workspace rows: %w", err)
	}

	for _, id := range ids {
		if _, err := m.openEngine(id); err != nil {
			return fmt.Errorf("failed to initialize workspace %s: %w", id, err)
		}
	}

	return nil
}

// openEngine builds and registers the engine for one workspace
func (m *Manager) openEngine(workspaceID string) (*definitions.Engine, error) {
	store := definitions.NewPostgresDefinitionStore(m.db, workspaceID)

	var cache definitions.DefinitionsCache
	if m.redis != nil {
		cache = definitions.NewRedisDefinitionsCache(m.redis, workspaceID, 0)
	} else {
		cache = definitions.NewInMemoryDefinitionsCache(definitions.DefaultCacheConfig())
	}

	engine, err := definitions.NewEngineWithCache(store, cache)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}

	m.mu.Lock()
	m.engines[workspaceID] = engine
	m.mu.Unlock()

	return engine, nil
}

// CreateWorkspace inserts a workspace row and registers its engine
func (m *Manager) CreateWorkspace(orgID, name string) (*Workspace, error) {
	if orgID == "" || name == "" {
		return nil, fmt.Errorf("org ID and name are required")
	}

	ws := &Workspace{
		ID:        "ws_" + uuid.NewString(),
		OrgID:     orgID,
		Name:      name,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}

	_, err := m.db.Exec(`
		INSERT INTO workspaces (id, org_id, name, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`, ws.ID, ws.OrgID, ws.Name, ws.CreatedAt, ws.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create workspace: %w", err)
	}

	if _, err := m.openEngine(ws.ID); err != nil {
		return nil, err
	}

	return ws, nil
}

// GetEngine retrieves the engine for a specific workspace
func (m *Manager) GetEngine(workspaceID string) (*definitions.Engine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	engine, exists := m.engines[workspaceID]
	if !exists {
		return nil, fmt.Errorf("workspace %s not found", workspaceID)
	}

	return engine, nil
}

// ListWorkspaces returns all loaded workspace IDs
func (m *Manager) ListWorkspaces() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.engines))
	for id := range m.engines {
		ids = append(ids, id)
	}
	return ids
}

// DeleteWorkspace evicts a workspace's engine from the manager.
// Note: this does not delete the workspace from the database.
func (m *Manager) DeleteWorkspace(workspaceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.engines[workspaceID]; !exists {
		return fmt.Errorf("workspace %s not found", workspaceID)
	}

	delete(m.engines, workspaceID)
	return nil
}

// EventStore exposes the shared event store
func (m *Manager) EventStore() eventstore.EventStore {
	return m.events
}

// EvaluateSubject fetches one subject's event slice from the event store
// and evaluates the named definitions against it, or every active
// definition when definitionIDs is empty. Per-definition failures are
// carried in the results rather than aborting the batch.
func (m *Manager) EvaluateSubject(workspaceID, subjectID string, definitionIDs []string, from, to time.Time) ([]*definitions.EvaluationResult, error) {
	engine, err := m.GetEngine(workspaceID)
	if err != nil {
		return nil, err
	}

	events, err := m.events.ListBySubject(workspaceID, subjectID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to load events for subject %s: %w", subjectID, err)
	}

	if len(definitionIDs) == 0 {
		return engine.EvaluateAll(events)
	}

	results := make([]*definitions.EvaluationResult, 0, len(definitionIDs))
	for _, id := range definitionIDs {
		result, err := engine.Evaluate(id, events)
		if err != nil && result == nil {
			// Definition not found; surface it in the batch
			result = &definitions.EvaluationResult{DefinitionID: id, Error: err}
		}
		results = append(results, result)
	}

	return results, nil
}
