package definitions

import (
	"fmt"

	"github.com/growthos/activations/activation"
)

// Engine couples one workspace's definition store, cache, and evaluator.
// It validates and pre-compiles property filters before a definition is
// stored, so a malformed definition is rejected at write time instead of
// failing evaluations later.
type Engine struct {
	evaluator *activation.Evaluator
	store     DefinitionStore
	cache     DefinitionsCache
}

// NewEngine creates an engine with the default in-memory cache
func NewEngine(store DefinitionStore) (*Engine, error) {
	return NewEngineWithCache(store, NewInMemoryDefinitionsCache(DefaultCacheConfig()))
}

// NewEngineWithCache creates an engine with a caller-supplied cache, e.g. a
// Redis-backed one shared across server instances. It compiles the filters
// of every active definition up front and warms the cache.
func NewEngineWithCache(store DefinitionStore, cache DefinitionsCache) (*Engine, error) {
	evaluator, err := activation.NewEvaluator()
	if err != nil {
		return nil, fmt.Errorf("failed to create evaluator: %w", err)
	}

	en := &Engine{
		evaluator: evaluator,
		store:     store,
		cache:     cache,
	}

	defs, err := store.ListActive()
	if err != nil {
		return nil, fmt.Errorf("failed to load definitions: %w", err)
	}
	for _, def := range defs {
		if err := evaluator.CompileFilters(def.Rule); err != nil {
			return nil, fmt.Errorf("failed to compile filters for definition %s: %w", def.ID, err)
		}
	}
	cache.Set(defs)

	return en, nil
}

// AddDefinition validates the rule, compiles its filters, and stores the
// definition. Nothing is stored if validation or compilation fails.
func (en *Engine) AddDefinition(def *Definition) error {
	if _, err := en.store.Get(def.ID); err == nil {
		return fmt.Errorf("definition with ID %s already exists", def.ID)
	}

	if err := activation.Validate(def.Rule); err != nil {
		return err
	}
	if err := en.evaluator.CompileFilters(def.Rule); err != nil {
		return fmt.Errorf("definition validation failed: %w", err)
	}

	if err := en.store.Add(def); err != nil {
		return err
	}

	en.cache.Invalidate()
	return nil
}

// UpdateDefinition validates and recompiles, then stores the new version.
// The store bumps the version counter.
func (en *Engine) UpdateDefinition(def *Definition) error {
	if err := activation.Validate(def.Rule); err != nil {
		return err
	}
	if err := en.evaluator.CompileFilters(def.Rule); err != nil {
		return fmt.Errorf("definition validation failed: %w", err)
	}

	if err := en.store.Update(def); err != nil {
		return err
	}

	en.cache.Invalidate()
	return nil
}

// DeleteDefinition removes a definition
func (en *Engine) DeleteDefinition(id string) error {
	if err := en.store.Delete(id); err != nil {
		return err
	}

	en.cache.Invalidate()
	return nil
}

// GetDefinition retrieves a definition by ID
func (en *Engine) GetDefinition(id string) (*Definition, error) {
	return en.store.Get(id)
}

// Evaluate runs one definition against a subject's event history
func (en *Engine) Evaluate(definitionID string, events []activation.Event) (*EvaluationResult, error) {
	def, err := en.store.Get(definitionID)
	if err != nil {
		return nil, err
	}

	return en.evaluateDefinition(def, events)
}

// EvaluateAll runs every active definition against a subject's event
// history, continuing past per-definition failures so one malformed
// definition cannot hide the verdicts of the rest.
func (en *Engine) EvaluateAll(events []activation.Event) ([]*EvaluationResult, error) {
	defs := en.cache.Get()

	if defs == nil {
		var err error
		defs, err = en.store.ListActive()
		if err != nil {
			return nil, err
		}
		en.cache.Set(defs)
	}

	results := make([]*EvaluationResult, 0, len(defs))
	for _, def := range defs {
		result, _ := en.evaluateDefinition(def, events)
		results = append(results, result)
	}

	return results, nil
}

func (en *Engine) evaluateDefinition(def *Definition, events []activation.Event) (*EvaluationResult, error) {
	result := &EvaluationResult{
		DefinitionID:   def.ID,
		DefinitionName: def.Name,
		Confidence:     def.Confidence,
	}

	verdict, err := en.evaluator.Evaluate(def.Rule, events)
	if err != nil {
		result.Error = err
		return result, err
	}

	result.Activated = verdict.Activated
	if verdict.Activated {
		at := verdict.ActivatedAt
		result.ActivatedAt = &at
	}
	return result, nil
}
