package activation

import (
	"errors"
	"testing"
	"time"
)

var t0 = time.Date(2025, time.March, 3, 9, 0, 0, 0, time.UTC) // a Monday

// ev builds an event at an offset from t0. Seq mirrors the slice position so
// timestamps and arrival order agree unless a test says otherwise.
func ev(name string, offset time.Duration, seq int64) Event {
	return Event{
		SubjectID:  "u1",
		Name:       name,
		OccurredAt: t0.Add(offset),
		Seq:        seq,
	}
}

func newTestEvaluator(t *testing.T) *Evaluator {
	t.Helper()
	e, err := NewEvaluator()
	if err != nil {
		t.Fatalf("NewEvaluator() failed: %v", err)
	}
	return e
}

// TestSingleEventFirstOccurrenceWins verifies that the earliest matching
// event sets the activation time regardless of later occurrences.
func TestSingleEventFirstOccurrenceWins(t *testing.T) {
	e := newTestEvaluator(t)

	events := []Event{
		ev("page_view", 0, 0),
		ev("signup", time.Hour, 1),
		ev("signup", 5*time.Hour, 2),
		ev("signup", 9*time.Hour, 3),
	}

	v, err := e.Evaluate(SingleEvent{EventName: "signup"}, events)
	if err != nil {
		t.Fatalf("Evaluate() failed: %v", err)
	}

	if !v.Activated {
		t.Fatal("should be activated")
	}
	if !v.ActivatedAt.Equal(t0.Add(time.Hour)) {
		t.Errorf("ActivatedAt = %v, want first occurrence at %v", v.ActivatedAt, t0.Add(time.Hour))
	}
}

// TestSingleEventAbsent verifies that a missing event is a normal false
// verdict, not an error.
func TestSingleEventAbsent(t *testing.T) {
	e := newTestEvaluator(t)

	v, err := e.Evaluate(SingleEvent{EventName: "purchase"}, []Event{ev("signup", 0, 0)})
	if err != nil {
		t.Fatalf("Evaluate() failed: %v", err)
	}

	if v.Activated {
		t.Error("should not be activated")
	}
	if !v.ActivatedAt.IsZero() {
		t.Errorf("ActivatedAt should be zero when not activated, got %v", v.ActivatedAt)
	}
}

// TestSequenceWindowBoundary verifies the inclusive window check: a run
// ending exactly at the window edge activates, one ending just past it does
// not.
func TestSequenceWindowBoundary(t *testing.T) {
	e := newTestEvaluator(t)
	window := 24 * time.Hour
	rule := Sequence{Events: []string{"a", "b"}, Window: window}

	t.Run("exactly at window", func(t *testing.T) {
		events := []Event{ev("a", 0, 0), ev("b", window, 1)}

		v, err := e.Evaluate(rule, events)
		if err != nil {
			t.Fatalf("Evaluate() failed: %v", err)
		}
		if !v.Activated {
			t.Fatal("run ending exactly at the window edge should activate")
		}
		if !v.ActivatedAt.Equal(t0.Add(window)) {
			t.Errorf("ActivatedAt = %v, want %v", v.ActivatedAt, t0.Add(window))
		}
	})

	t.Run("just past window", func(t *testing.T) {
		events := []Event{ev("a", 0, 0), ev("b", window+time.Nanosecond, 1)}

		v, err := e.Evaluate(rule, events)
		if err != nil {
			t.Fatalf("Evaluate() failed: %v", err)
		}
		if v.Activated {
			t.Error("run ending past the window should not activate")
		}
	})
}

// TestSequenceNoDoubleCounting verifies that one event instance never
// satisfies two targets with the same name.
func TestSequenceNoDoubleCounting(t *testing.T) {
	e := newTestEvaluator(t)
	rule := Sequence{Events: []string{"a", "a", "b"}, Window: 24 * time.Hour}

	t.Run("two a's available", func(t *testing.T) {
		events := []Event{ev("a", time.Minute, 0), ev("a", 2*time.Minute, 1), ev("b", 3*time.Minute, 2)}

		v, err := e.Evaluate(rule, events)
		if err != nil {
			t.Fatalf("Evaluate() failed: %v", err)
		}
		if !v.Activated {
			t.Fatal("should activate: both a's and the b are available")
		}
		if !v.ActivatedAt.Equal(t0.Add(3 * time.Minute)) {
			t.Errorf("ActivatedAt = %v, want %v", v.ActivatedAt, t0.Add(3*time.Minute))
		}
	})

	t.Run("only one a available", func(t *testing.T) {
		events := []Event{ev("a", time.Minute, 0), ev("b", 2*time.Minute, 1)}

		v, err := e.Evaluate(rule, events)
		if err != nil {
			t.Fatalf("Evaluate() failed: %v", err)
		}
		if v.Activated {
			t.Error("should not activate: a single a cannot satisfy two targets")
		}
	})
}

// TestSequenceRetriesAfterWindowFailure verifies that a blown window does
// not end evaluation: a later, faster completion of the same sequence is
// still found, with the failing event eligible to anchor the new attempt.
func TestSequenceRetriesAfterWindowFailure(t *testing.T) {
	e := newTestEvaluator(t)

	t.Run("distinct names", func(t *testing.T) {
		rule := Sequence{Events: []string{"a", "b"}, Window: 10 * time.Minute}
		events := []Event{
			ev("a", 0, 0),
			ev("b", time.Hour, 1), // completes, but 60m > 10m
			ev("a", 61*time.Minute, 2),
			ev("b", 65*time.Minute, 3), // second attempt: 4m, inside window
		}

		v, err := e.Evaluate(rule, events)
		if err != nil {
			t.Fatalf("Evaluate() failed: %v", err)
		}
		if !v.Activated {
			t.Fatal("later completion inside the window should activate")
		}
		if !v.ActivatedAt.Equal(t0.Add(65 * time.Minute)) {
			t.Errorf("ActivatedAt = %v, want %v", v.ActivatedAt, t0.Add(65*time.Minute))
		}
	})

	t.Run("failing event anchors retry", func(t *testing.T) {
		rule := Sequence{Events: []string{"a", "a"}, Window: 10 * time.Minute}
		events := []Event{
			ev("a", 0, 0),
			ev("a", 100*time.Minute, 1), // completes, 100m > 10m; becomes the new anchor
			ev("a", 105*time.Minute, 2), // 5m after the new anchor
		}

		v, err := e.Evaluate(rule, events)
		if err != nil {
			t.Fatalf("Evaluate() failed: %v", err)
		}
		if !v.Activated {
			t.Fatal("the failing event should anchor a successful retry")
		}
		if !v.ActivatedAt.Equal(t0.Add(105 * time.Minute)) {
			t.Errorf("ActivatedAt = %v, want %v", v.ActivatedAt, t0.Add(105*time.Minute))
		}
	})
}

// TestSequenceTooFewEvents verifies a history shorter than the target list
// is a normal false verdict.
func TestSequenceTooFewEvents(t *testing.T) {
	e := newTestEvaluator(t)
	rule := Sequence{Events: []string{"a", "b", "c"}, Window: 24 * time.Hour}

	v, err := e.Evaluate(rule, []Event{ev("a", 0, 0), ev("b", time.Minute, 1)})
	if err != nil {
		t.Fatalf("Evaluate() failed: %v", err)
	}
	if v.Activated {
		t.Error("should not activate with fewer events than targets")
	}
}

// TestSequenceOutOfOrderNamesIgnored verifies that target order matters: a
// b before the a does not count toward the sequence.
func TestSequenceOutOfOrderNamesIgnored(t *testing.T) {
	e := newTestEvaluator(t)
	rule := Sequence{Events: []string{"a", "b"}, Window: 24 * time.Hour}

	v, err := e.Evaluate(rule, []Event{ev("b", 0, 0), ev("a", time.Minute, 1)})
	if err != nil {
		t.Fatalf("Evaluate() failed: %v", err)
	}
	if v.Activated {
		t.Error("b then a should not satisfy the sequence [a, b]")
	}
}

// TestCompositeActivationTimes verifies AND takes the latest child
// activation time and OR the earliest, over the same children.
func TestCompositeActivationTimes(t *testing.T) {
	e := newTestEvaluator(t)

	events := []Event{
		ev("first", 5*time.Hour, 0),
		ev("second", 9*time.Hour, 1),
	}
	children := []Rule{
		SingleEvent{EventName: "first"},
		SingleEvent{EventName: "second"},
	}

	t.Run("AND takes the max", func(t *testing.T) {
		v, err := e.Evaluate(Composite{Op: And, Children: children}, events)
		if err != nil {
			t.Fatalf("Evaluate() failed: %v", err)
		}
		if !v.Activated {
			t.Fatal("both children activate, AND should activate")
		}
		if !v.ActivatedAt.Equal(t0.Add(9 * time.Hour)) {
			t.Errorf("ActivatedAt = %v, want the later child at %v", v.ActivatedAt, t0.Add(9*time.Hour))
		}
	})

	t.Run("OR takes the min", func(t *testing.T) {
		v, err := e.Evaluate(Composite{Op: Or, Children: children}, events)
		if err != nil {
			t.Fatalf("Evaluate() failed: %v", err)
		}
		if !v.Activated {
			t.Fatal("OR should activate")
		}
		if !v.ActivatedAt.Equal(t0.Add(5 * time.Hour)) {
			t.Errorf("ActivatedAt = %v, want the earlier child at %v", v.ActivatedAt, t0.Add(5*time.Hour))
		}
	})
}

// TestCompositeAndMissingChild verifies AND is false when any child never
// activates, regardless of the others.
func TestCompositeAndMissingChild(t *testing.T) {
	e := newTestEvaluator(t)

	rule := Composite{Op: And, Children: []Rule{
		SingleEvent{EventName: "signup"},
		SingleEvent{EventName: "never_fired"},
	}}

	v, err := e.Evaluate(rule, []Event{ev("signup", 0, 0)})
	if err != nil {
		t.Fatalf("Evaluate() failed: %v", err)
	}
	if v.Activated {
		t.Error("AND with a never-activating child should not activate")
	}
}

// TestNestedComposite verifies recursion through a two-level tree.
func TestNestedComposite(t *testing.T) {
	e := newTestEvaluator(t)

	rule := Composite{Op: Or, Children: []Rule{
		SingleEvent{EventName: "upgrade"},
		Composite{Op: And, Children: []Rule{
			SingleEvent{EventName: "signup"},
			Sequence{Events: []string{"login", "login"}, Window: 48 * time.Hour},
		}},
	}}

	events := []Event{
		ev("signup", 0, 0),
		ev("login", time.Hour, 1),
		ev("login", 3*time.Hour, 2),
	}

	v, err := e.Evaluate(rule, events)
	if err != nil {
		t.Fatalf("Evaluate() failed: %v", err)
	}
	if !v.Activated {
		t.Fatal("inner AND branch should activate the OR")
	}
	// The AND completes when the second login lands.
	if !v.ActivatedAt.Equal(t0.Add(3 * time.Hour)) {
		t.Errorf("ActivatedAt = %v, want %v", v.ActivatedAt, t0.Add(3*time.Hour))
	}
}

// TestEvaluateSortsDefensively verifies that reordering the input slice
// (timestamps preserved) never changes the verdict.
func TestEvaluateSortsDefensively(t *testing.T) {
	e := newTestEvaluator(t)
	rule := Sequence{Events: []string{"a", "b", "c"}, Window: 24 * time.Hour}

	sorted := []Event{
		ev("a", 0, 0),
		ev("b", time.Hour, 1),
		ev("c", 2*time.Hour, 2),
	}
	shuffled := []Event{sorted[2], sorted[0], sorted[1]}

	want, err := e.Evaluate(rule, sorted)
	if err != nil {
		t.Fatalf("Evaluate() failed on sorted input: %v", err)
	}
	got, err := e.Evaluate(rule, shuffled)
	if err != nil {
		t.Fatalf("Evaluate() failed on shuffled input: %v", err)
	}

	if got != want {
		t.Errorf("shuffled input verdict = %+v, want %+v", got, want)
	}
	if !got.Activated {
		t.Error("sequence should activate once events are ordered by timestamp")
	}
}

// TestEvaluateTieBreakBySeq verifies that equal timestamps are ordered by
// arrival order.
func TestEvaluateTieBreakBySeq(t *testing.T) {
	e := newTestEvaluator(t)
	rule := Sequence{Events: []string{"a", "b"}, Window: time.Hour}

	// b arrived before a at the same instant: sequence must not match.
	events := []Event{
		{SubjectID: "u1", Name: "b", OccurredAt: t0, Seq: 1},
		{SubjectID: "u1", Name: "a", OccurredAt: t0, Seq: 2},
	}

	v, err := e.Evaluate(rule, events)
	if err != nil {
		t.Fatalf("Evaluate() failed: %v", err)
	}
	if v.Activated {
		t.Error("arrival order should break the timestamp tie, leaving b before a")
	}
}

// TestEvaluateIdempotent verifies repeated evaluation of the same inputs
// yields identical verdicts and does not disturb the input slice.
func TestEvaluateIdempotent(t *testing.T) {
	e := newTestEvaluator(t)
	rule := Composite{Op: And, Children: []Rule{
		SingleEvent{EventName: "a"},
		Sequence{Events: []string{"a", "b"}, Window: 2 * time.Hour},
	}}

	events := []Event{ev("b", time.Hour, 1), ev("a", 0, 0)}
	before := make([]Event, len(events))
	copy(before, events)

	first, err := e.Evaluate(rule, events)
	if err != nil {
		t.Fatalf("first Evaluate() failed: %v", err)
	}
	second, err := e.Evaluate(rule, events)
	if err != nil {
		t.Fatalf("second Evaluate() failed: %v", err)
	}

	if first != second {
		t.Errorf("verdicts differ across calls: %+v vs %+v", first, second)
	}
	for i := range events {
		if events[i].Name != before[i].Name || !events[i].OccurredAt.Equal(before[i].OccurredAt) {
			t.Fatal("Evaluate() must not reorder the caller's slice")
		}
	}
}

// TestEvaluateRejectsInvalidRule verifies validation happens at entry, with
// no partial verdict.
func TestEvaluateRejectsInvalidRule(t *testing.T) {
	e := newTestEvaluator(t)

	testCases := []struct {
		name string
		rule Rule
	}{
		{"empty sequence", Sequence{Events: []string{}, Window: 24 * time.Hour}},
		{"empty composite", Composite{Op: And, Children: []Rule{}}},
		{"zero window", Sequence{Events: []string{"x"}, Window: 0}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := e.Evaluate(tc.rule, []Event{ev("x", 0, 0)})

			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("Evaluate() error = %v, want *ValidationError", err)
			}
		})
	}
}

// TestPropertyFilter verifies the optional CEL predicate on single-event
// rules: matching is restricted to events whose properties satisfy it, and
// events missing the property simply do not qualify.
func TestPropertyFilter(t *testing.T) {
	e := newTestEvaluator(t)
	rule := SingleEvent{EventName: "purchase", Where: `props.amount >= 50.0`}

	events := []Event{
		{SubjectID: "u1", Name: "purchase", OccurredAt: t0, Seq: 0, Properties: map[string]any{"amount": 10.0}},
		{SubjectID: "u1", Name: "purchase", OccurredAt: t0.Add(time.Hour), Seq: 1}, // no properties at all
		{SubjectID: "u1", Name: "purchase", OccurredAt: t0.Add(2 * time.Hour), Seq: 2, Properties: map[string]any{"amount": 80.0}},
	}

	v, err := e.Evaluate(rule, events)
	if err != nil {
		t.Fatalf("Evaluate() failed: %v", err)
	}
	if !v.Activated {
		t.Fatal("the qualifying purchase should activate")
	}
	if !v.ActivatedAt.Equal(t0.Add(2 * time.Hour)) {
		t.Errorf("ActivatedAt = %v, want the first qualifying event at %v", v.ActivatedAt, t0.Add(2*time.Hour))
	}
}

// TestCompileFiltersRejectsBadExpression verifies a broken filter surfaces
// at compile time, before any definition is stored.
func TestCompileFiltersRejectsBadExpression(t *testing.T) {
	e := newTestEvaluator(t)

	rule := Composite{Op: And, Children: []Rule{
		SingleEvent{EventName: "a"},
		SingleEvent{EventName: "b", Where: `props.amount >=`},
	}}

	if err := e.CompileFilters(rule); err == nil {
		t.Fatal("CompileFilters() should reject a syntactically invalid filter")
	}
}

// TestEndToEndMQLScenario exercises a realistic MQL definition: a 72h
// signup -> demo_request sequence, one subject inside the window and one
// outside it.
func TestEndToEndMQLScenario(t *testing.T) {
	e := newTestEvaluator(t)
	rule := Sequence{Events: []string{"signup", "demo_request"}, Window: 72 * time.Hour}

	t.Run("71 hours apart", func(t *testing.T) {
		events := []Event{
			ev("signup", 0, 0),
			ev("demo_request", 71*time.Hour, 1),
		}

		v, err := e.Evaluate(rule, events)
		if err != nil {
			t.Fatalf("Evaluate() failed: %v", err)
		}
		if !v.Activated {
			t.Error("subject inside the 72h window should be activated")
		}
	})

	t.Run("73 hours apart", func(t *testing.T) {
		events := []Event{
			ev("signup", 0, 0),
			ev("demo_request", 73*time.Hour, 1),
		}

		v, err := e.Evaluate(rule, events)
		if err != nil {
			t.Fatalf("Evaluate() failed: %v", err)
		}
		if v.Activated {
			t.Error("subject outside the 72h window should not be activated")
		}
	})
}
