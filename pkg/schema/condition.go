package schema

// ConditionOperator names the comparison applied by a simple condition, or
// the combinator of a compound one.
type ConditionOperator string

const (
	OpEquals             ConditionOperator = "equals"
	OpNotEquals          ConditionOperator = "notEquals"
	OpContains           ConditionOperator = "contains"
	OpNotContains        ConditionOperator = "notContains"
	OpGreaterThan        ConditionOperator = "greaterThan"
	OpLessThan           ConditionOperator = "lessThan"
	OpGreaterThanOrEqual ConditionOperator = "greaterThanOrEqual"
	OpLessThanOrEqual    ConditionOperator = "lessThanOrEqual"
	OpIn                 ConditionOperator = "in"
	OpNotIn              ConditionOperator = "notIn"
	OpIsEmpty            ConditionOperator = "isEmpty"
	OpIsNotEmpty         ConditionOperator = "isNotEmpty"

	OpAnd ConditionOperator = "and"
	OpOr  ConditionOperator = "or"
)

// Condition is the recursive visibility/requirement rule. A simple condition
// sets Field/Operator/Value; a compound one sets Operator to and/or plus a
// Conditions list. The two shapes share one struct since their keys are
// disjoint, which keeps JSON and YAML decoding trivial.
type Condition struct {
	Field      string            `json:"field,omitempty" yaml:"field,omitempty"`
	Operator   ConditionOperator `json:"operator" yaml:"operator"`
	Value      any               `json:"value,omitempty" yaml:"value,omitempty"`
	Conditions []Condition       `json:"conditions,omitempty" yaml:"conditions,omitempty"`
}

// IsCompound reports whether the condition combines nested conditions.
func (c *Condition) IsCompound() bool {
	if c == nil {
		return false
	}
	return c.Operator == OpAnd || c.Operator == OpOr
}

// FieldRefs collects every field name the condition tree reads, for load-time
// reference checking.
func (c *Condition) FieldRefs() []string {
	if c == nil {
		return nil
	}
	if c.IsCompound() {
		var out []string
		for i := range c.Conditions {
			out = append(out, c.Conditions[i].FieldRefs()...)
		}
		return out
	}
	if c.Field == "" {
		return nil
	}
	return []string{c.Field}
}
