package activation

import "time"

// Operator combines the children of a composite rule.
type Operator string

const (
	And Operator = "AND"
	Or  Operator = "OR"
)

// Rule kind discriminants, used as the rule_type tag on the wire.
const (
	KindSingleEvent = "single_event"
	KindSequence    = "sequence"
	KindComposite   = "composite"
)

// Event is a single analytics event recorded for a subject.
// Events are immutable once recorded. Their total order is
// (OccurredAt, Seq), where Seq is the arrival order assigned by the
// event store and breaks ties between equal timestamps.
type Event struct {
	SubjectID  string
	Name       string
	OccurredAt time.Time
	Seq        int64
	Properties map[string]any
}

// Rule is the closed set of activation rule variants: SingleEvent,
// Sequence, and Composite. The unexported method keeps the set closed so
// the evaluator's type switch is exhaustive.
type Rule interface {
	kind() string
}

// SingleEvent activates at the first occurrence of EventName.
// Where is an optional CEL predicate over the event's properties
// (variables: name, props); empty means any event with the name matches.
type SingleEvent struct {
	EventName string
	Where     string
}

// Sequence activates when all named events occur in order, with the whole
// run contained in a sliding window of Window measured from the first
// matched event to the last (inclusive).
type Sequence struct {
	Events []string
	Window time.Duration
}

// Composite combines child rules with a boolean operator. And activates at
// the latest of the children's activation times, Or at the earliest.
type Composite struct {
	Op       Operator
	Children []Rule
}

func (SingleEvent) kind() string { return KindSingleEvent }
func (Sequence) kind() string    { return KindSequence }
func (Composite) kind() string   { return KindComposite }

// Verdict is the outcome of evaluating a rule against a subject's history.
// ActivatedAt is the zero time unless Activated is true.
type Verdict struct {
	Activated   bool
	ActivatedAt time.Time
}
