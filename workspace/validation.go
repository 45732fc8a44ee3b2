package workspace

import (
	"fmt"
	"regexp"
	"time"

	"github.com/growthos/activations/activation"
)

// Structural limits on definitions accepted through the API. Rule trees are
// authored by humans in a builder UI; anything past these caps is a bug or
// abuse, not a real definition.
const (
	maxDefinitionNameLen = 200
	maxEventNameLen      = 100
	maxSequenceLen       = 200
	maxCompositeChildren = 100
	maxCompositeDepth    = 32
	maxWindow            = 8760 * time.Hour // one year
)

var validEventName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_.]*$`)

// ValidateDefinition checks a definition's name and rule tree against the
// platform limits. Structural soundness (non-empty sequences, positive
// windows and so on) is activation.Validate's job and is checked first.
func ValidateDefinition(name string, rule activation.Rule) error {
	if len(name) == 0 {
		return fmt.Errorf("definition name cannot be empty")
	}
	if len(name) > maxDefinitionNameLen {
		return fmt.Errorf("definition name length %d exceeds maximum of %d characters", len(name), maxDefinitionNameLen)
	}

	if err := activation.Validate(rule); err != nil {
		return err
	}

	return validateRule(rule, 1)
}

func validateRule(rule activation.Rule, depth int) error {
	if depth > maxCompositeDepth {
		return fmt.Errorf("rule tree depth exceeds maximum of %d", maxCompositeDepth)
	}

	switch r := rule.(type) {
	case activation.SingleEvent:
		return validateEventName(r.EventName)

	case activation.Sequence:
		if len(r.Events) > maxSequenceLen {
			return fmt.Errorf("sequence has %d steps, maximum allowed is %d", len(r.Events), maxSequenceLen)
		}
		for _, name := range r.Events {
			if err := validateEventName(name); err != nil {
				return err
			}
		}
		if r.Window > maxWindow {
			return fmt.Errorf("time window %s exceeds maximum of %s", r.Window, maxWindow)
		}

	case activation.Composite:
		if len(r.Children) > maxCompositeChildren {
			return fmt.Errorf("composite has %d children, maximum allowed is %d", len(r.Children), maxCompositeChildren)
		}
		for _, child := range r.Children {
			if err := validateRule(child, depth+1); err != nil {
				return err
			}
		}
	}

	return nil
}

// validateEventName enforces the identifier rules for tracked event names:
// start with a letter or underscore, then letters, digits, underscores, or
// dots (dots are common in connector-namespaced events like ga4.sign_up).
func validateEventName(name string) error {
	if len(name) > maxEventNameLen {
		return fmt.Errorf("event name length %d exceeds maximum of %d characters", len(name), maxEventNameLen)
	}
	if !validEventName.MatchString(name) {
		return fmt.Errorf("invalid event name %q: must match pattern ^[a-zA-Z_][a-zA-Z0-9_.]*$", name)
	}
	return nil
}
