package activation

import "fmt"

// ValidationError reports a structurally malformed rule. Field is the path
// of the offending field in wire-format terms, e.g. "rule.sub_rules[1].events".
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid rule: %s: %s", e.Field, e.Reason)
}

// Validate rejects structurally invalid rules: empty event names, empty
// sequences, non-positive windows, empty composites, unknown operators.
// A "not activated" outcome is never a validation concern; this only guards
// the shape of the rule tree itself.
func Validate(r Rule) error {
	return validate(r, "rule")
}

func validate(r Rule, path string) error {
	switch v := r.(type) {
	case SingleEvent:
		if v.EventName == "" {
			return &ValidationError{Field: path + ".event_name", Reason: "event name must not be empty"}
		}
	case Sequence:
		if len(v.Events) == 0 {
			return &ValidationError{Field: path + ".events", Reason: "sequence must name at least one event"}
		}
		for i, name := range v.Events {
			if name == "" {
				return &ValidationError{
					Field:  fmt.Sprintf("%s.events[%d]", path, i),
					Reason: "event name must not be empty",
				}
			}
		}
		if v.Window <= 0 {
			return &ValidationError{Field: path + ".time_window_hours", Reason: "time window must be positive"}
		}
	case Composite:
		if v.Op != And && v.Op != Or {
			return &ValidationError{
				Field:  path + ".operator",
				Reason: fmt.Sprintf("operator must be AND or OR, got %q", string(v.Op)),
			}
		}
		if len(v.Children) == 0 {
			return &ValidationError{Field: path + ".sub_rules", Reason: "composite must have at least one child"}
		}
		for i, child := range v.Children {
			if child == nil {
				return &ValidationError{
					Field:  fmt.Sprintf("%s.sub_rules[%d]", path, i),
					Reason: "child rule must not be nil",
				}
			}
			if err := validate(child, fmt.Sprintf("%s.sub_rules[%d]", path, i)); err != nil {
				return err
			}
		}
	default:
		return &ValidationError{Field: path, Reason: fmt.Sprintf("unknown rule type %T", r)}
	}
	return nil
}
