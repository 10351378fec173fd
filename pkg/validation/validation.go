// Package validation implements the per-field rule chain and the debounced
// asynchronous remote validator. Validation failures are values, never
// errors: a rule that cannot run (bad regex, unparsable comparison operand)
// degrades to passing, matching the configuration-error policy.
package validation

import (
	"regexp"
	"strings"
	"time"

	"github.com/goliatone/go-formflow/internal/coerce"
	"github.com/goliatone/go-formflow/pkg/condition"
	"github.com/goliatone/go-formflow/pkg/schema"
)

// Rule names used for custom message lookup.
const (
	RuleRequired         = "required"
	RuleRequiredTrue     = "requiredTrue"
	RuleMinLength        = "minLength"
	RuleMaxLength        = "maxLength"
	RuleMin              = "min"
	RuleMax              = "max"
	RulePattern          = "pattern"
	RuleMatchesField     = "matchesField"
	RuleGreaterThanField = "greaterThanField"
	RuleLessThanField    = "lessThanField"
	RuleAsync            = "async"
)

var defaultMessages = map[string]string{
	RuleRequired:         "This field is required",
	RuleRequiredTrue:     "This field must be checked",
	RuleMinLength:        "Value is too short",
	RuleMaxLength:        "Value is too long",
	RuleMin:              "Value is too small",
	RuleMax:              "Value is too large",
	RulePattern:          "Value has an invalid format",
	RuleMatchesField:     "Values do not match",
	RuleGreaterThanField: "Value must be greater",
	RuleLessThanField:    "Value must be smaller",
	RuleAsync:            "Validation failed",
}

// Validate runs the field's synchronous rule chain against the value bag and
// returns the first failing rule's message, or the empty string when the
// field is valid. Rules short-circuit in a fixed order: required, then
// requiredTrue, length bounds, numeric bounds, pattern, and finally the
// cross-field comparisons.
func Validate(f *schema.Field, values map[string]any) string {
	rules := f.Validations
	if rules == nil {
		return ""
	}

	var value any
	if values != nil {
		value = values[f.Name]
	}

	required := rules.Required
	if !required && rules.RequiredIf != nil {
		required = condition.Evaluate(rules.RequiredIf, values)
	}
	empty := coerce.IsEmpty(value)
	if required && empty {
		return message(rules, RuleRequired)
	}
	if empty && !rules.RequiredTrue {
		// Optional and unset: remaining rules do not apply.
		return ""
	}

	if rules.RequiredTrue {
		if ok, _ := coerce.Bool(value); !ok {
			return message(rules, RuleRequiredTrue)
		}
	}

	text := coerce.String(value)
	length := len([]rune(text))
	if rules.MinLength > 0 && length < rules.MinLength {
		return message(rules, RuleMinLength)
	}
	if rules.MaxLength > 0 && length > rules.MaxLength {
		return message(rules, RuleMaxLength)
	}

	if rules.Min != nil || rules.Max != nil {
		if n, ok := coerce.Number(value); ok {
			if rules.Min != nil && n < *rules.Min {
				return message(rules, RuleMin)
			}
			if rules.Max != nil && n > *rules.Max {
				return message(rules, RuleMax)
			}
		}
	}

	if rules.Pattern != "" && !matchPattern(rules.Pattern, text) {
		return message(rules, RulePattern)
	}

	if rules.MatchesField != "" {
		other := values[rules.MatchesField]
		if !coerce.Equal(value, other) {
			return message(rules, RuleMatchesField)
		}
	}
	if rules.GreaterThanField != "" {
		if ok, comparable := greater(value, values[rules.GreaterThanField]); comparable && !ok {
			return message(rules, RuleGreaterThanField)
		}
	}
	if rules.LessThanField != "" {
		if ok, comparable := greater(values[rules.LessThanField], value); comparable && !ok {
			return message(rules, RuleLessThanField)
		}
	}

	return ""
}

func message(rules *schema.Validations, rule string) string {
	if custom, ok := rules.Messages[rule]; ok && strings.TrimSpace(custom) != "" {
		return custom
	}
	return defaultMessages[rule]
}

// matchPattern anchors the expression across the whole value, the way form
// pattern validators behave. An invalid expression passes: it is a schema
// authoring mistake, not a user error.
func matchPattern(pattern, text string) bool {
	anchored := pattern
	if !strings.HasPrefix(anchored, "^") {
		anchored = "^" + anchored
	}
	if !strings.HasSuffix(anchored, "$") {
		anchored += "$"
	}
	re, err := regexp.Compile(anchored)
	if err != nil {
		return true
	}
	return re.MatchString(text)
}

// greater reports a > b, first numerically, then as dates. The second return
// is false when neither interpretation fits both operands, in which case the
// rule is skipped.
func greater(a, b any) (bool, bool) {
	if na, ok := coerce.Number(a); ok {
		if nb, ok := coerce.Number(b); ok {
			return na > nb, true
		}
	}
	ta, aok := parseDate(a)
	tb, bok := parseDate(b)
	if aok && bok {
		return ta.After(tb), true
	}
	return false, false
}

var dateLayouts = []string{time.RFC3339, "2006-01-02", "2006-01-02 15:04:05"}

func parseDate(value any) (time.Time, bool) {
	text := strings.TrimSpace(coerce.String(value))
	if text == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, text); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
