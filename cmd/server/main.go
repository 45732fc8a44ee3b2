package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/growthos/activations/activation"
	"github.com/growthos/activations/definitions"
	"github.com/growthos/activations/eventstore"
	"github.com/growthos/activations/internal/audit"
	"github.com/growthos/activations/internal/auth"
	"github.com/growthos/activations/internal/logger"
	"github.com/growthos/activations/workspace"
)

type Server struct {
	db      *sql.DB
	manager *workspace.Manager
	events  eventstore.EventStore
	audit   *audit.Recorder
	authn   *auth.Authenticator
	router  *chi.Mux
}

// Config carries the environment-driven server settings
type Config struct {
	DatabaseURL string
	RedisAddr   string // optional; empty means in-memory definition caches
	AuthSecret  string // optional; empty disables auth (local development)
}

func NewServer(cfg Config) (*Server, error) {
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			return nil, fmt.Errorf("failed to ping redis: %w", err)
		}
	}

	events := eventstore.NewPostgresEventStore(db)
	manager := workspace.NewManager(db, events, redisClient)

	logger.Info("Loading workspaces from database")
	if err := manager.LoadAllWorkspaces(); err != nil {
		return nil, fmt.Errorf("failed to load workspaces: %w", err)
	}
	logger.Info("Workspaces loaded", "count", len(manager.ListWorkspaces()))

	s := &Server{
		db:      db,
		manager: manager,
		events:  events,
		audit:   audit.NewRecorder(db),
		authn:   auth.New(cfg.AuthSecret),
	}

	s.setupRoutes()

	return s, nil
}

// NewServerWithDB builds a server on an existing database handle, with no
// Redis and auth disabled. Used by the integration tests.
func NewServerWithDB(db *sql.DB) (*Server, error) {
	events := eventstore.NewPostgresEventStore(db)
	manager := workspace.NewManager(db, events, nil)

	if err := manager.LoadAllWorkspaces(); err != nil {
		return nil, fmt.Errorf("failed to load workspaces: %w", err)
	}

	s := &Server{
		db:      db,
		manager: manager,
		events:  events,
		audit:   audit.NewRecorder(db),
	}

	s.setupRoutes()

	return s, nil
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/api/v1/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(s.authn.Verify)

		r.Post("/api/v1/evaluate", s.handleEvaluate)

		r.Route("/api/v1/workspaces", func(r chi.Router) {
			r.Get("/", s.handleListWorkspaces)
			r.With(s.authn.Require(auth.RoleAdmin)).Post("/", s.handleCreateWorkspace)

			r.Route("/{workspaceId}", func(r chi.Router) {
				r.Route("/definitions", func(r chi.Router) {
					r.Get("/", s.handleListDefinitions)
					r.Get("/{definitionId}", s.handleGetDefinition)

					r.Group(func(r chi.Router) {
						r.Use(s.authn.Require(auth.DefinitionEditors...))
						r.Post("/", s.handleCreateDefinition)
						r.Put("/{definitionId}", s.handleUpdateDefinition)
						r.Delete("/{definitionId}", s.handleDeleteDefinition)
					})
				})

				r.Route("/events", func(r chi.Router) {
					r.Get("/", s.handleListEvents)
					r.With(s.authn.Require(auth.DefinitionEditors...)).Post("/", s.handleIngestEvents)
				})
			})
		})
	})

	s.router = r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Health check handler
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Ping(); err != nil {
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"status":           "healthy",
		"workspacesLoaded": len(s.manager.ListWorkspaces()),
		"totalErrors":      logger.TotalErrors.Load(),
		"totalWarnings":    logger.TotalWarnings.Load(),
	})
}

// Evaluation handler: classifies one subject against a workspace's
// activation definitions (all active ones, or a named subset).
func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req EvaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	if req.WorkspaceID == "" {
		respondError(w, http.StatusBadRequest, "workspaceId is required", nil)
		return
	}
	if req.SubjectID == "" {
		respondError(w, http.StatusBadRequest, "subjectId is required", nil)
		return
	}

	if _, err := s.manager.GetEngine(req.WorkspaceID); err != nil {
		respondError(w, http.StatusNotFound, "workspace not found", err)
		return
	}

	var from, to time.Time
	if req.From != nil {
		from = *req.From
	}
	if req.To != nil {
		to = *req.To
	}

	startTime := time.Now()

	results, err := s.manager.EvaluateSubject(req.WorkspaceID, req.SubjectID, req.Definitions, from, to)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "evaluation failed", err)
		return
	}

	respondJSON(w, http.StatusOK, EvaluateResponse{
		SubjectID:      req.SubjectID,
		Results:        toResultResponses(results),
		EvaluationTime: time.Since(startTime).String(),
	})
}

// List workspaces handler
func (s *Server) handleListWorkspaces(w http.ResponseWriter, r *http.Request) {
	rows, err := s.db.Query(`SELECT id, org_id, name, created_at, updated_at FROM workspaces ORDER BY created_at DESC`)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list workspaces", err)
		return
	}
	defer rows.Close()

	workspaces := []workspace.Workspace{}
	for rows.Next() {
		var ws workspace.Workspace
		if err := rows.Scan(&ws.ID, &ws.OrgID, &ws.Name, &ws.CreatedAt, &ws.UpdatedAt); err != nil {
			respondError(w, http.StatusInternalServerError, "failed to scan workspace", err)
			return
		}
		workspaces = append(workspaces, ws)
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"workspaces": workspaces,
	})
}

// Create workspace handler
func (s *Server) handleCreateWorkspace(w http.ResponseWriter, r *http.Request) {
	var req CreateWorkspaceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	if req.Name == "" || req.OrgID == "" {
		respondError(w, http.StatusBadRequest, "orgId and name are required", nil)
		return
	}

	ws, err := s.manager.CreateWorkspace(req.OrgID, req.Name)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to create workspace", err)
		return
	}

	respondJSON(w, http.StatusCreated, ws)
}

// Create definition handler
func (s *Server) handleCreateDefinition(w http.ResponseWriter, r *http.Request) {
	workspaceID := chi.URLParam(r, "workspaceId")

	engine, err := s.manager.GetEngine(workspaceID)
	if err != nil {
		respondError(w, http.StatusNotFound, "workspace not found", err)
		return
	}

	var req CreateDefinitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	rule, err := activation.UnmarshalRule(req.Rule)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid rule", err)
		return
	}

	if err := workspace.ValidateDefinition(req.Name, rule); err != nil {
		respondError(w, http.StatusBadRequest, "invalid definition", err)
		return
	}

	confidence := definitions.Confidence(req.Confidence)
	if confidence == "" {
		confidence = definitions.ConfidenceMedium
	}

	def := &definitions.Definition{
		ID:          "actdef_" + uuid.NewString(),
		WorkspaceID: workspaceID,
		Name:        req.Name,
		Description: req.Description,
		Rule:        rule,
		Confidence:  confidence,
		Active:      true,
		CreatedBy:   s.requestUserID(r),
	}

	if err := engine.AddDefinition(def); err != nil {
		respondError(w, http.StatusBadRequest, "failed to add definition", err)
		return
	}

	s.recordAudit(r, workspaceID, "activation_definition_created", def.ID, nil, def)

	respondJSON(w, http.StatusCreated, def)
}

// List definitions handler: returns all of the workspace's definitions,
// active or not, straight from the database.
func (s *Server) handleListDefinitions(w http.ResponseWriter, r *http.Request) {
	workspaceID := chi.URLParam(r, "workspaceId")

	rows, err := s.db.Query(`
		SELECT id FROM activation_definitions
		WHERE workspace_id = $1
		ORDER BY created_at DESC
	`, workspaceID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list definitions", err)
		return
	}
	defer rows.Close()

	store := definitions.NewPostgresDefinitionStore(s.db, workspaceID)
	defs := []*definitions.Definition{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			respondError(w, http.StatusInternalServerError, "failed to scan definition", err)
			return
		}
		def, err := store.Get(id)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "failed to load definition", err)
			return
		}
		defs = append(defs, def)
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"definitions": defs,
	})
}

// Get definition handler
func (s *Server) handleGetDefinition(w http.ResponseWriter, r *http.Request) {
	workspaceID := chi.URLParam(r, "workspaceId")
	definitionID := chi.URLParam(r, "definitionId")

	engine, err := s.manager.GetEngine(workspaceID)
	if err != nil {
		respondError(w, http.StatusNotFound, "workspace not found", err)
		return
	}

	def, err := engine.GetDefinition(definitionID)
	if err != nil {
		respondError(w, http.StatusNotFound, "definition not found", err)
		return
	}

	respondJSON(w, http.StatusOK, def)
}

// Update definition handler: every successful update produces a new version
func (s *Server) handleUpdateDefinition(w http.ResponseWriter, r *http.Request) {
	workspaceID := chi.URLParam(r, "workspaceId")
	definitionID := chi.URLParam(r, "definitionId")

	engine, err := s.manager.GetEngine(workspaceID)
	if err != nil {
		respondError(w, http.StatusNotFound, "workspace not found", err)
		return
	}

	old, err := engine.GetDefinition(definitionID)
	if err != nil {
		respondError(w, http.StatusNotFound, "definition not found", err)
		return
	}

	var req UpdateDefinitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	rule, err := activation.UnmarshalRule(req.Rule)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid rule", err)
		return
	}

	if err := workspace.ValidateDefinition(req.Name, rule); err != nil {
		respondError(w, http.StatusBadRequest, "invalid definition", err)
		return
	}

	def := &definitions.Definition{
		ID:           definitionID,
		WorkspaceID:  workspaceID,
		Name:         req.Name,
		Description:  req.Description,
		Rule:         rule,
		Confidence:   definitions.Confidence(req.Confidence),
		LastVerified: req.LastVerified,
		Active:       old.Active,
		CreatedBy:    old.CreatedBy,
	}
	if def.Confidence == "" {
		def.Confidence = old.Confidence
	}
	if req.Active != nil {
		def.Active = *req.Active
	}

	if err := engine.UpdateDefinition(def); err != nil {
		respondError(w, http.StatusBadRequest, "failed to update definition", err)
		return
	}

	s.recordAudit(r, workspaceID, "activation_definition_change", definitionID, old, def)

	respondJSON(w, http.StatusOK, def)
}

// Delete definition handler
func (s *Server) handleDeleteDefinition(w http.ResponseWriter, r *http.Request) {
	workspaceID := chi.URLParam(r, "workspaceId")
	definitionID := chi.URLParam(r, "definitionId")

	engine, err := s.manager.GetEngine(workspaceID)
	if err != nil {
		respondError(w, http.StatusNotFound, "workspace not found", err)
		return
	}

	old, err := engine.GetDefinition(definitionID)
	if err != nil {
		respondError(w, http.StatusNotFound, "definition not found", err)
		return
	}

	if err := engine.DeleteDefinition(definitionID); err != nil {
		respondError(w, http.StatusNotFound, "definition not found", err)
		return
	}

	s.recordAudit(r, workspaceID, "activation_definition_deleted", definitionID, old, nil)

	w.WriteHeader(http.StatusNoContent)
}

// Ingest events handler
func (s *Server) handleIngestEvents(w http.ResponseWriter, r *http.Request) {
	workspaceID := chi.URLParam(r, "workspaceId")

	if _, err := s.manager.GetEngine(workspaceID); err != nil {
		respondError(w, http.StatusNotFound, "workspace not found", err)
		return
	}

	var req IngestEventsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	if len(req.Events) == 0 {
		respondError(w, http.StatusBadRequest, "events are required", nil)
		return
	}

	events := make([]activation.Event, 0, len(req.Events))
	for _, e := range req.Events {
		events = append(events, activation.Event{
			SubjectID:  e.SubjectID,
			Name:       e.Name,
			OccurredAt: e.OccurredAt,
			Properties: e.Properties,
		})
	}

	if err := s.events.Append(workspaceID, events); err != nil {
		respondError(w, http.StatusBadRequest, "failed to ingest events", err)
		return
	}

	respondJSON(w, http.StatusCreated, map[string]any{
		"ingested": len(events),
	})
}

// List events handler
func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	workspaceID := chi.URLParam(r, "workspaceId")

	subjectID := r.URL.Query().Get("subjectId")
	if subjectID == "" {
		respondError(w, http.StatusBadRequest, "subjectId is required", nil)
		return
	}

	from, err := parseTimeParam(r, "from")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid from timestamp", err)
		return
	}
	to, err := parseTimeParam(r, "to")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid to timestamp", err)
		return
	}

	events, err := s.events.ListBySubject(workspaceID, subjectID, from, to)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list events", err)
		return
	}

	out := make([]EventPayload, 0, len(events))
	for _, e := range events {
		out = append(out, EventPayload{
			SubjectID:  e.SubjectID,
			Name:       e.Name,
			OccurredAt: e.OccurredAt,
			Seq:        e.Seq,
			Properties: e.Properties,
		})
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"events": out,
	})
}

// requestUserID returns the authenticated user ID, or empty with auth off
func (s *Server) requestUserID(r *http.Request) string {
	if claims, ok := auth.FromContext(r.Context()); ok {
		return claims.UserID
	}
	return ""
}

// recordAudit writes an audit entry for a definition mutation. Audit
// failures are logged, not surfaced: the mutation itself already happened.
func (s *Server) recordAudit(r *http.Request, workspaceID, action, resourceID string, oldValue, newValue any) {
	var orgID string
	if err := s.db.QueryRow(`SELECT org_id FROM workspaces WHERE id = $1`, workspaceID).Scan(&orgID); err != nil {
		logger.Warn("audit: failed to resolve workspace org", "workspaceId", workspaceID, "error", err)
	}

	err := s.audit.Record(audit.Entry{
		OrgID:        orgID,
		WorkspaceID:  workspaceID,
		UserID:       s.requestUserID(r),
		Action:       action,
		ResourceType: "activation_definition",
		ResourceID:   resourceID,
		OldValue:     oldValue,
		NewValue:     newValue,
	})
	if err != nil {
		logger.Warn("audit: failed to record entry", "action", action, "resourceId", resourceID, "error", err)
	}
}

func parseTimeParam(r *http.Request, name string) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, raw)
}

// Helper functions
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string, err error) {
	if status >= 500 {
		logger.Error(message, "status", status, "error", err)
	}

	response := map[string]string{
		"error": message,
	}
	if err != nil {
		response["details"] = err.Error()
	}
	respondJSON(w, status, response)
}

func main() {
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		logger.Fatal("DATABASE_URL environment variable is required")
	}

	server, err := NewServer(Config{
		DatabaseURL: databaseURL,
		RedisAddr:   os.Getenv("REDIS_ADDR"),
		AuthSecret:  os.Getenv("AUTH_SECRET"),
	})
	if err != nil {
		logger.Fatal("Failed to create server", "error", err)
	}
	defer server.db.Close()

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	httpServer := &http.Server{
		Addr:         ":" + port,
		Handler:      server,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("Server starting", "port", port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed to start", "error", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("Server shutdown error", "error", err)
	}
	if err := logger.Shutdown(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Logger shutdown error: %v\n", err)
	}

	logger.Info("Server stopped")
}
