package activation

import (
	"encoding/json"
	"fmt"
	"time"
)

// Wire shape of a rule. This follows the original Growth OS document model:
// one object carrying a rule_type discriminant plus the variant's fields.
// The window is expressed in whole hours on the wire; the in-memory model
// keeps full time.Duration resolution.
type ruleJSON struct {
	RuleType        string            `json:"rule_type"`
	EventName       string            `json:"event_name,omitempty"`
	Where           string            `json:"where,omitempty"`
	Events          []string          `json:"events,omitempty"`
	TimeWindowHours int64             `json:"time_window_hours,omitempty"`
	Operator        Operator          `json:"operator,omitempty"`
	SubRules        []json.RawMessage `json:"sub_rules,omitempty"`
}

// MarshalRule serializes a rule to its tagged-union wire form.
func MarshalRule(r Rule) ([]byte, error) {
	switch v := r.(type) {
	case SingleEvent:
		return json.Marshal(ruleJSON{
			RuleType:  KindSingleEvent,
			EventName: v.EventName,
			Where:     v.Where,
		})
	case Sequence:
		if v.Window%time.Hour != 0 {
			return nil, fmt.Errorf("sequence window %s is not representable in whole hours", v.Window)
		}
		return json.Marshal(ruleJSON{
			RuleType:        KindSequence,
			Events:          v.Events,
			TimeWindowHours: int64(v.Window / time.Hour),
		})
	case Composite:
		subs := make([]json.RawMessage, 0, len(v.Children))
		for i, child := range v.Children {
			raw, err := MarshalRule(child)
			if err != nil {
				return nil, fmt.Errorf("sub_rules[%d]: %w", i, err)
			}
			subs = append(subs, raw)
		}
		return json.Marshal(ruleJSON{
			RuleType: KindComposite,
			Operator: v.Op,
			SubRules: subs,
		})
	default:
		return nil, fmt.Errorf("unknown rule type %T", r)
	}
}

// UnmarshalRule parses a rule from its tagged-union wire form. An unknown
// or missing rule_type is a ValidationError; structural checks beyond the
// discriminant are left to Validate.
func UnmarshalRule(data []byte) (Rule, error) {
	return unmarshalRule(data, "rule")
}

func unmarshalRule(data []byte, path string) (Rule, error) {
	var w ruleJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	switch w.RuleType {
	case KindSingleEvent:
		return SingleEvent{EventName: w.EventName, Where: w.Where}, nil
	case KindSequence:
		return Sequence{
			Events: w.Events,
			Window: time.Duration(w.TimeWindowHours) * time.Hour,
		}, nil
	case KindComposite:
		children := make([]Rule, 0, len(w.SubRules))
		for i, raw := range w.SubRules {
			child, err := unmarshalRule(raw, fmt.Sprintf("%s.sub_rules[%d]", path, i))
			if err != nil {
				return nil, err
			}
			children = append(children, child)
		}
		return Composite{Op: w.Operator, Children: children}, nil
	default:
		return nil, &ValidationError{
			Field:  path + ".rule_type",
			Reason: fmt.Sprintf("must be one of %s, %s, %s, got %q", KindSingleEvent, KindSequence, KindComposite, w.RuleType),
		}
	}
}
