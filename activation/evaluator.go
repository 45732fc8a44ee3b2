package activation

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
)

// filterCostLimit bounds CEL property-filter evaluation so a pathological
// expression cannot exhaust resources.
const filterCostLimit = 1000000

// Evaluator classifies a subject's event history against activation rules.
//
// Evaluate is a pure function of (rule, events): it holds no verdict-affecting
// state between calls, so the same inputs always produce the same verdict and
// many subjects can be evaluated concurrently against the same rule. The only
// internal state is a cache of compiled property filters, keyed by expression,
// which is an optimization invisible in the output.
type Evaluator struct {
	env      *cel.Env
	programs map[string]cel.Program // filter expression -> compiled program
	mu       sync.RWMutex
}

// NewEvaluator creates an evaluator with a CEL environment for property
// filters. Filters see two variables: name (the event name) and props (the
// event's properties map).
func NewEvaluator() (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("name", cel.StringType),
		cel.Variable("props", cel.DynType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Evaluator{
		env:      env,
		programs: make(map[string]cel.Program),
	}, nil
}

// Evaluate produces an activation verdict for one subject's event history.
//
// The rule is validated before any scanning; a malformed rule returns a
// ValidationError and no partial verdict. "Not activated" is a normal
// Verdict, never an error. The input slice is copied and stable-sorted by
// (OccurredAt, Seq), so callers need not pre-sort and reordering the input
// never changes the verdict.
func (ev *Evaluator) Evaluate(r Rule, events []Event) (Verdict, error) {
	if err := Validate(r); err != nil {
		return Verdict{}, err
	}

	ordered := make([]Event, len(events))
	copy(ordered, events)
	sort.SliceStable(ordered, func(i, j int) bool {
		if !ordered[i].OccurredAt.Equal(ordered[j].OccurredAt) {
			return ordered[i].OccurredAt.Before(ordered[j].OccurredAt)
		}
		return ordered[i].Seq < ordered[j].Seq
	})

	return ev.eval(r, ordered)
}

// CompileFilters compiles every property filter in the rule tree, caching
// the programs. The definition engine calls this at write time so a bad
// filter rejects the definition instead of failing later evaluations.
func (ev *Evaluator) CompileFilters(r Rule) error {
	switch v := r.(type) {
	case SingleEvent:
		if v.Where == "" {
			return nil
		}
		_, err := ev.program(v.Where)
		return err
	case Composite:
		for _, child := range v.Children {
			if err := ev.CompileFilters(child); err != nil {
				return err
			}
		}
	}
	return nil
}

func (ev *Evaluator) eval(r Rule, events []Event) (Verdict, error) {
	switch v := r.(type) {
	case SingleEvent:
		return ev.evalSingle(v, events)
	case Sequence:
		return evalSequence(v, events), nil
	case Composite:
		return ev.evalComposite(v, events)
	}
	// Unreachable: Validate rejects anything outside the closed set.
	return Verdict{}, &ValidationError{Field: "rule", Reason: fmt.Sprintf("unknown rule type %T", r)}
}

// evalSingle finds the earliest event matching the rule. Single pass; the
// first qualifying occurrence wins.
func (ev *Evaluator) evalSingle(r SingleEvent, events []Event) (Verdict, error) {
	for _, e := range events {
		if e.Name != r.EventName {
			continue
		}
		if r.Where != "" {
			ok, err := ev.matchFilter(r.Where, e)
			if err != nil {
				return Verdict{}, err
			}
			if !ok {
				continue
			}
		}
		return Verdict{Activated: true, ActivatedAt: e.OccurredAt}, nil
	}
	return Verdict{}, nil
}

// matchFilter runs a compiled property filter against one event. A runtime
// evaluation error (e.g. a missing property key) means the event does not
// qualify; only compilation failures surface as errors. A non-boolean
// result counts as no match.
func (ev *Evaluator) matchFilter(expr string, e Event) (bool, error) {
	prog, err := ev.program(expr)
	if err != nil {
		return false, err
	}

	props := e.Properties
	if props == nil {
		props = map[string]any{}
	}

	out, _, err := prog.Eval(map[string]any{
		"name":  e.Name,
		"props": props,
	})
	if err != nil {
		return false, nil
	}

	b, ok := out.Value().(bool)
	return ok && b, nil
}

func (ev *Evaluator) program(expr string) (cel.Program, error) {
	ev.mu.RLock()
	prog, ok := ev.programs[expr]
	ev.mu.RUnlock()
	if ok {
		return prog, nil
	}

	ast, issues := ev.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("filter compile error: %w", issues.Err())
	}

	prog, err := ev.env.Program(ast, cel.CostLimit(filterCostLimit))
	if err != nil {
		return nil, fmt.Errorf("filter program error: %w", err)
	}

	ev.mu.Lock()
	ev.programs[expr] = prog
	ev.mu.Unlock()

	return prog, nil
}

// evalSequence scans the history once, advancing a pointer into the rule's
// target list. The window anchor is the timestamp of the event matched at
// target index 0. When the sequence completes outside the window, the
// partial match is discarded and the current event is reconsidered as a
// candidate anchor, so a later, faster completion is still found. Each
// history event is consumed at most once per attempt, so duplicate target
// names never double-count a single event instance.
func evalSequence(r Sequence, events []Event) Verdict {
	var (
		next   int       // index of the next unmatched target
		anchor time.Time // OccurredAt of the event matched at target index 0
	)

	for i := 0; i < len(events); i++ {
		e := events[i]
		if e.Name != r.Events[next] {
			continue
		}

		if next == 0 {
			anchor = e.OccurredAt
		}
		next++
		if next < len(r.Events) {
			continue
		}

		if e.OccurredAt.Sub(anchor) <= r.Window {
			return Verdict{Activated: true, ActivatedAt: e.OccurredAt}
		}

		// Window blown: restart the search with the failing event as a
		// candidate for target index 0.
		next = 0
		i--
	}

	return Verdict{}
}

// evalComposite recurses over the child rules. And activates at the latest
// child activation time (the moment the last condition becomes true), Or at
// the earliest among activated children.
func (ev *Evaluator) evalComposite(r Composite, events []Event) (Verdict, error) {
	switch r.Op {
	case And:
		var latest time.Time
		for _, child := range r.Children {
			v, err := ev.eval(child, events)
			if err != nil {
				return Verdict{}, err
			}
			if !v.Activated {
				return Verdict{}, nil
			}
			if v.ActivatedAt.After(latest) {
				latest = v.ActivatedAt
			}
		}
		return Verdict{Activated: true, ActivatedAt: latest}, nil

	case Or:
		var earliest time.Time
		activated := false
		for _, child := range r.Children {
			v, err := ev.eval(child, events)
			if err != nil {
				return Verdict{}, err
			}
			if !v.Activated {
				continue
			}
			if !activated || v.ActivatedAt.Before(earliest) {
				earliest = v.ActivatedAt
				activated = true
			}
		}
		if !activated {
			return Verdict{}, nil
		}
		return Verdict{Activated: true, ActivatedAt: earliest}, nil
	}

	// Unreachable: Validate rejects unknown operators.
	return Verdict{}, &ValidationError{Field: "rule.operator", Reason: fmt.Sprintf("unknown operator %q", string(r.Op))}
}
