package schema

import (
	"encoding/json"
	"strings"
)

// FieldType discriminates the supported field variants.
type FieldType string

const (
	FieldTypeText        FieldType = "text"
	FieldTypeTextarea    FieldType = "textarea"
	FieldTypeEmail       FieldType = "email"
	FieldTypePassword    FieldType = "password"
	FieldTypeNumber      FieldType = "number"
	FieldTypeSelect      FieldType = "select"
	FieldTypeMultiSelect FieldType = "multiselect"
	FieldTypeRadio       FieldType = "radio"
	FieldTypeCheckbox    FieldType = "checkbox"
	FieldTypeDate        FieldType = "date"
	FieldTypeFile        FieldType = "file"
	FieldTypeArray       FieldType = "array"
	FieldTypeComputed    FieldType = "computed"
	FieldTypeRichText    FieldType = "richtext"
	FieldTypeTimeline    FieldType = "timeline"
	FieldTypeHidden      FieldType = "hidden"
)

// Option is a selectable value/label pair used by select, radio, and
// multiselect fields, and returned by dynamic options endpoints.
type Option struct {
	Value any    `json:"value" yaml:"value"`
	Label string `json:"label" yaml:"label"`
}

// StringList accepts either a single string or an array of strings when
// decoding, so schemas may write `dependsOn: "country"` or
// `dependsOn: ["country", "region"]`.
type StringList []string

func (l *StringList) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		if strings.TrimSpace(single) == "" {
			*l = nil
			return nil
		}
		*l = StringList{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	*l = StringList(many)
	return nil
}

func (l *StringList) UnmarshalYAML(unmarshal func(any) error) error {
	var single string
	if err := unmarshal(&single); err == nil {
		if strings.TrimSpace(single) == "" {
			*l = nil
			return nil
		}
		*l = StringList{single}
		return nil
	}
	var many []string
	if err := unmarshal(&many); err != nil {
		return err
	}
	*l = StringList(many)
	return nil
}

// ValueTransform maps a parent field's value onto this field's value. When the
// parent value has no mapping the transform falls back to Default, or clears
// the field when ClearOnEmpty (default true) is set.
type ValueTransform struct {
	DependsOn    string         `json:"dependsOn,omitempty" yaml:"dependsOn,omitempty"`
	Mappings     map[string]any `json:"mappings,omitempty" yaml:"mappings,omitempty"`
	Default      any            `json:"default,omitempty" yaml:"default,omitempty"`
	ClearOnEmpty *bool          `json:"clearOnEmpty,omitempty" yaml:"clearOnEmpty,omitempty"`
}

// ShouldClearOnEmpty resolves the ClearOnEmpty default.
func (t *ValueTransform) ShouldClearOnEmpty() bool {
	if t == nil || t.ClearOnEmpty == nil {
		return true
	}
	return *t.ClearOnEmpty
}

// Computed configures a derived field: a formula over other field values, the
// dependency list that triggers recomputation, and output formatting.
type Computed struct {
	Formula      string     `json:"formula" yaml:"formula"`
	Dependencies StringList `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	FormatAs     string     `json:"formatAs,omitempty" yaml:"formatAs,omitempty"`
	Decimals     *int       `json:"decimals,omitempty" yaml:"decimals,omitempty"`
	Prefix       string     `json:"prefix,omitempty" yaml:"prefix,omitempty"`
	Suffix       string     `json:"suffix,omitempty" yaml:"suffix,omitempty"`
}

// DecimalPlaces resolves the Decimals default of 2.
func (c *Computed) DecimalPlaces() int {
	if c == nil || c.Decimals == nil {
		return 2
	}
	return *c.Decimals
}

// Mask selects either an explicit placeholder pattern or a named preset.
// Pattern legend: 0 = digit, A = letter, * = alphanumeric, \ escapes the next
// character as a literal, anything else is a literal. The "currency" preset
// switches to decimal formatting instead of a pattern walk.
type Mask struct {
	Pattern string `json:"pattern,omitempty" yaml:"pattern,omitempty"`
	Preset  string `json:"preset,omitempty" yaml:"preset,omitempty"`
	Symbol  string `json:"symbol,omitempty" yaml:"symbol,omitempty"`
}

// AsyncValidator configures remote validation for a field.
type AsyncValidator struct {
	Endpoint   string `json:"endpoint" yaml:"endpoint"`
	Method     string `json:"method,omitempty" yaml:"method,omitempty"`
	ValidWhen  string `json:"validWhen,omitempty" yaml:"validWhen,omitempty"`
	DebounceMs int    `json:"debounceMs,omitempty" yaml:"debounceMs,omitempty"`
	Message    string `json:"message,omitempty" yaml:"message,omitempty"`
}

const (
	ValidWhenCustom    = "custom"
	ValidWhenExists    = "exists"
	ValidWhenNotExists = "notExists"
)

// Validations bundles the declarative rules for one field. Zero values mean
// "rule absent". Messages overrides the per-rule default message, keyed by the
// rule name (e.g. "required", "minLength", "matchesField").
type Validations struct {
	Required         bool              `json:"required,omitempty" yaml:"required,omitempty"`
	RequiredIf       *Condition        `json:"requiredIf,omitempty" yaml:"requiredIf,omitempty"`
	RequiredTrue     bool              `json:"requiredTrue,omitempty" yaml:"requiredTrue,omitempty"`
	MinLength        int               `json:"minLength,omitempty" yaml:"minLength,omitempty"`
	MaxLength        int               `json:"maxLength,omitempty" yaml:"maxLength,omitempty"`
	Min              *float64          `json:"min,omitempty" yaml:"min,omitempty"`
	Max              *float64          `json:"max,omitempty" yaml:"max,omitempty"`
	Pattern          string            `json:"pattern,omitempty" yaml:"pattern,omitempty"`
	MatchesField     string            `json:"matchesField,omitempty" yaml:"matchesField,omitempty"`
	GreaterThanField string            `json:"greaterThanField,omitempty" yaml:"greaterThanField,omitempty"`
	LessThanField    string            `json:"lessThanField,omitempty" yaml:"lessThanField,omitempty"`
	Messages         map[string]string `json:"messages,omitempty" yaml:"messages,omitempty"`
	Async            *AsyncValidator   `json:"asyncValidator,omitempty" yaml:"asyncValidator,omitempty"`
}

// ArrayConfig describes a repeater field: the template for each item plus
// item-count bounds.
type ArrayConfig struct {
	ItemFields  []Field `json:"itemFields" yaml:"itemFields"`
	MinItems    int     `json:"minItems,omitempty" yaml:"minItems,omitempty"`
	MaxItems    int     `json:"maxItems,omitempty" yaml:"maxItems,omitempty"`
	AddLabel    string  `json:"addLabel,omitempty" yaml:"addLabel,omitempty"`
	RemoveLabel string  `json:"removeLabel,omitempty" yaml:"removeLabel,omitempty"`
}

// Field is a single schema node. Instances are immutable once a Form is
// loaded; runtime state lives in the state.Store, never here.
type Field struct {
	Type            FieldType           `json:"type" yaml:"type"`
	Name            string              `json:"name" yaml:"name"`
	Label           string              `json:"label,omitempty" yaml:"label,omitempty"`
	Placeholder     string              `json:"placeholder,omitempty" yaml:"placeholder,omitempty"`
	Description     string              `json:"description,omitempty" yaml:"description,omitempty"`
	Default         any                 `json:"default,omitempty" yaml:"default,omitempty"`
	Options         []Option            `json:"options,omitempty" yaml:"options,omitempty"`
	OptionsEndpoint string              `json:"optionsEndpoint,omitempty" yaml:"optionsEndpoint,omitempty"`
	OptionsMap      map[string][]Option `json:"optionsMap,omitempty" yaml:"optionsMap,omitempty"`
	DependsOn       StringList          `json:"dependsOn,omitempty" yaml:"dependsOn,omitempty"`
	ValueTransform  *ValueTransform     `json:"valueTransform,omitempty" yaml:"valueTransform,omitempty"`
	VisibleWhen     *Condition          `json:"visibleWhen,omitempty" yaml:"visibleWhen,omitempty"`
	Computed        *Computed           `json:"computed,omitempty" yaml:"computed,omitempty"`
	Mask            *Mask               `json:"mask,omitempty" yaml:"mask,omitempty"`
	ArrayConfig     *ArrayConfig        `json:"arrayConfig,omitempty" yaml:"arrayConfig,omitempty"`
	Validations     *Validations        `json:"validations,omitempty" yaml:"validations,omitempty"`
	Prefix          string              `json:"prefix,omitempty" yaml:"prefix,omitempty"`
	Suffix          string              `json:"suffix,omitempty" yaml:"suffix,omitempty"`
	Metadata        map[string]string   `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// IsComputed reports whether the field's value is derived rather than
// user-editable.
func (f *Field) IsComputed() bool {
	return f != nil && (f.Type == FieldTypeComputed || f.Computed != nil)
}

// Parents returns every field name this field depends on, merging DependsOn
// with the transform's own dependsOn shorthand. Order is preserved and
// duplicates removed.
func (f *Field) Parents() []string {
	var out []string
	seen := make(map[string]struct{})
	add := func(name string) {
		name = strings.TrimSpace(name)
		if name == "" {
			return
		}
		if _, ok := seen[name]; ok {
			return
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	for _, name := range f.DependsOn {
		add(name)
	}
	if f.ValueTransform != nil {
		add(f.ValueTransform.DependsOn)
	}
	return out
}

// Section groups fields for multi-step forms.
type Section struct {
	Title       string  `json:"title,omitempty" yaml:"title,omitempty"`
	Description string  `json:"description,omitempty" yaml:"description,omitempty"`
	Fields      []Field `json:"fields" yaml:"fields"`
}

// Submission configures where and how the form payload is sent.
type Submission struct {
	Endpoint          string            `json:"endpoint" yaml:"endpoint"`
	Method            string            `json:"method,omitempty" yaml:"method,omitempty"`
	Headers           map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	SuccessMessage    string            `json:"successMessage,omitempty" yaml:"successMessage,omitempty"`
	ErrorMessage      string            `json:"errorMessage,omitempty" yaml:"errorMessage,omitempty"`
	RedirectOnSuccess string            `json:"redirectOnSuccess,omitempty" yaml:"redirectOnSuccess,omitempty"`
	ShowDataOnSuccess bool              `json:"showDataOnSuccess,omitempty" yaml:"showDataOnSuccess,omitempty"`
	ShowSubmitButton  *bool             `json:"showSubmitButton,omitempty" yaml:"showSubmitButton,omitempty"`
}

// Autosave configures periodic draft persistence.
type Autosave struct {
	Enabled         bool   `json:"enabled" yaml:"enabled"`
	IntervalSeconds int    `json:"intervalSeconds,omitempty" yaml:"intervalSeconds,omitempty"`
	Storage         string `json:"storage,omitempty" yaml:"storage,omitempty"`
	Key             string `json:"key,omitempty" yaml:"key,omitempty"`
	ExpirationDays  int    `json:"expirationDays,omitempty" yaml:"expirationDays,omitempty"`
	ShowIndicator   bool   `json:"showIndicator,omitempty" yaml:"showIndicator,omitempty"`
}

// Form is the top-level schema document.
type Form struct {
	Title       string      `json:"title,omitempty" yaml:"title,omitempty"`
	Description string      `json:"description,omitempty" yaml:"description,omitempty"`
	MultiStep   bool        `json:"multiStep,omitempty" yaml:"multiStep,omitempty"`
	Fields      []Field     `json:"fields,omitempty" yaml:"fields,omitempty"`
	Sections    []Section   `json:"sections,omitempty" yaml:"sections,omitempty"`
	Submission  *Submission `json:"submission,omitempty" yaml:"submission,omitempty"`
	Autosave    *Autosave   `json:"autosave,omitempty" yaml:"autosave,omitempty"`

	// Issues holds non-fatal findings from load-time validation, such as
	// dangling references. Not serialised.
	Issues []Issue `json:"-" yaml:"-"`
}

// AllFields flattens the form's fields across sections, preserving order.
func (f *Form) AllFields() []Field {
	if f == nil {
		return nil
	}
	if len(f.Sections) == 0 {
		return f.Fields
	}
	var out []Field
	out = append(out, f.Fields...)
	for _, section := range f.Sections {
		out = append(out, section.Fields...)
	}
	return out
}

// FieldByName looks up a field definition across all sections.
func (f *Form) FieldByName(name string) (*Field, bool) {
	if f == nil {
		return nil, false
	}
	for i := range f.Fields {
		if f.Fields[i].Name == name {
			return &f.Fields[i], true
		}
	}
	for s := range f.Sections {
		fields := f.Sections[s].Fields
		for i := range fields {
			if fields[i].Name == name {
				return &fields[i], true
			}
		}
	}
	return nil, false
}
