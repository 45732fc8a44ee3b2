package activation

import (
	"errors"
	"strings"
	"testing"
	"time"
)

// TestValidateAcceptsWellFormedRules verifies that each variant passes
// validation when structurally sound.
func TestValidateAcceptsWellFormedRules(t *testing.T) {
	testCases := []struct {
		name string
		rule Rule
	}{
		{"single event", SingleEvent{EventName: "signup"}},
		{"single event with filter", SingleEvent{EventName: "purchase", Where: `props.amount > 100.0`}},
		{"sequence", Sequence{Events: []string{"signup", "demo_request"}, Window: 72 * time.Hour}},
		{"single-step sequence", Sequence{Events: []string{"signup"}, Window: time.Hour}},
		{"composite AND", Composite{Op: And, Children: []Rule{
			SingleEvent{EventName: "signup"},
			SingleEvent{EventName: "invite_sent"},
		}}},
		{"nested composite", Composite{Op: Or, Children: []Rule{
			SingleEvent{EventName: "signup"},
			Composite{Op: And, Children: []Rule{
				SingleEvent{EventName: "demo_request"},
				Sequence{Events: []string{"login", "login"}, Window: 24 * time.Hour},
			}},
		}}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if err := Validate(tc.rule); err != nil {
				t.Errorf("Validate() failed for well-formed rule: %v", err)
			}
		})
	}
}

// TestValidateRejectsMalformedRules verifies that structural defects produce
// a ValidationError naming the offending field.
func TestValidateRejectsMalformedRules(t *testing.T) {
	testCases := []struct {
		name      string
		rule      Rule
		wantField string
	}{
		{"empty event name", SingleEvent{}, "rule.event_name"},
		{"empty sequence", Sequence{Events: []string{}, Window: 24 * time.Hour}, "rule.events"},
		{"blank step name", Sequence{Events: []string{"signup", ""}, Window: time.Hour}, "rule.events[1]"},
		{"zero window", Sequence{Events: []string{"x"}, Window: 0}, "rule.time_window_hours"},
		{"negative window", Sequence{Events: []string{"x"}, Window: -time.Hour}, "rule.time_window_hours"},
		{"empty composite", Composite{Op: And, Children: []Rule{}}, "rule.sub_rules"},
		{"unknown operator", Composite{Op: Operator("XOR"), Children: []Rule{SingleEvent{EventName: "x"}}}, "rule.operator"},
		{"nil child", Composite{Op: Or, Children: []Rule{SingleEvent{EventName: "x"}, nil}}, "rule.sub_rules[1]"},
		{"nested defect", Composite{Op: And, Children: []Rule{
			SingleEvent{EventName: "x"},
			Composite{Op: Or, Children: []Rule{SingleEvent{}}},
		}}, "rule.sub_rules[1].sub_rules[0].event_name"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := Validate(tc.rule)
			if err == nil {
				t.Fatal("Validate() should reject malformed rule")
			}

			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("Validate() returned %T, want *ValidationError", err)
			}

			if verr.Field != tc.wantField {
				t.Errorf("ValidationError.Field = %q, want %q", verr.Field, tc.wantField)
			}
		})
	}
}

// TestValidationErrorMessage verifies the error string names the field so a
// caller can report it without unwrapping.
func TestValidationErrorMessage(t *testing.T) {
	err := Validate(Sequence{Events: []string{"x"}, Window: 0})
	if err == nil {
		t.Fatal("Validate() should reject zero window")
	}

	if !strings.Contains(err.Error(), "time_window_hours") {
		t.Errorf("error message %q should name the offending field", err.Error())
	}
}
