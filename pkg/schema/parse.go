package schema

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"gopkg.in/yaml.v3"
)

// SchemaError is the fatal load-time failure: a structurally invalid form
// that must be rejected before rendering begins.
type SchemaError struct {
	Field   string
	Message string
}

func (e *SchemaError) Error() string {
	if e.Field == "" {
		return "schema: " + e.Message
	}
	return fmt.Sprintf("schema: field %q: %s", e.Field, e.Message)
}

// Issue is a non-fatal finding, typically a dangling reference. The runtime
// degrades the affected rule instead of failing.
type Issue struct {
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// Parse decodes a form schema from JSON, falling back to YAML, applies
// defaults, and validates the structure. Duplicate field names are fatal;
// dangling references are collected as Issues on the returned Form.
func Parse(raw []byte) (*Form, error) {
	if len(raw) == 0 {
		return nil, &SchemaError{Message: "document is empty"}
	}

	var form Form
	if err := json.Unmarshal(raw, &form); err != nil {
		form = Form{}
		if yamlErr := yaml.Unmarshal(raw, &form); yamlErr != nil {
			return nil, fmt.Errorf("schema: parse document: %w", err)
		}
	}

	form.applyDefaults()
	if err := form.Validate(); err != nil {
		return nil, err
	}
	return &form, nil
}

// MustParse panics on parse failure. Useful for tests and embedded schemas.
func MustParse(raw []byte) *Form {
	form, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return form
}

func (f *Form) applyDefaults() {
	if f.Submission != nil {
		if f.Submission.Method == "" {
			f.Submission.Method = http.MethodPost
		}
		f.Submission.Method = strings.ToUpper(f.Submission.Method)
	}
	if f.Autosave != nil {
		if f.Autosave.IntervalSeconds <= 0 {
			f.Autosave.IntervalSeconds = 30
		}
		if f.Autosave.ExpirationDays <= 0 {
			f.Autosave.ExpirationDays = 7
		}
		if f.Autosave.Storage == "" {
			f.Autosave.Storage = "localStorage"
		}
	}
	applyFieldDefaults(f.Fields)
	for i := range f.Sections {
		applyFieldDefaults(f.Sections[i].Fields)
	}
}

func applyFieldDefaults(fields []Field) {
	for i := range fields {
		field := &fields[i]
		if field.Type == "" {
			field.Type = FieldTypeText
		}
		if field.Computed != nil {
			if field.Computed.FormatAs == "" {
				field.Computed.FormatAs = "text"
			}
		}
		if v := field.Validations; v != nil && v.Async != nil {
			if v.Async.Method == "" {
				v.Async.Method = http.MethodPost
			}
			v.Async.Method = strings.ToUpper(v.Async.Method)
			if v.Async.ValidWhen == "" {
				v.Async.ValidWhen = ValidWhenCustom
			}
			if v.Async.DebounceMs <= 0 {
				v.Async.DebounceMs = 300
			}
		}
		if field.ArrayConfig != nil {
			applyFieldDefaults(field.ArrayConfig.ItemFields)
		}
	}
}

// Validate checks structural invariants. A duplicate field name returns a
// *SchemaError; dangling references to missing fields are recorded on Issues
// so the caller can surface them without refusing the form.
func (f *Form) Validate() error {
	fields := f.AllFields()
	names := make(map[string]struct{}, len(fields))
	for i := range fields {
		name := strings.TrimSpace(fields[i].Name)
		if name == "" {
			return &SchemaError{Message: fmt.Sprintf("field at index %d has no name", i)}
		}
		if _, dup := names[name]; dup {
			return &SchemaError{Field: name, Message: "duplicate field name"}
		}
		names[name] = struct{}{}
	}

	f.Issues = nil
	for i := range fields {
		f.collectReferenceIssues(&fields[i], names)
	}
	return nil
}

func (f *Form) collectReferenceIssues(field *Field, names map[string]struct{}) {
	check := func(ref, what string) {
		if ref == "" {
			return
		}
		if _, ok := names[ref]; !ok {
			f.Issues = append(f.Issues, Issue{
				Field:   field.Name,
				Message: fmt.Sprintf("%s references unknown field %q", what, ref),
			})
		}
	}

	for _, parent := range field.Parents() {
		check(parent, "dependsOn")
	}
	if field.Computed != nil {
		for _, dep := range field.Computed.Dependencies {
			check(dep, "computed dependency")
		}
	}
	if v := field.Validations; v != nil {
		check(v.MatchesField, "matchesField")
		check(v.GreaterThanField, "greaterThanField")
		check(v.LessThanField, "lessThanField")
		for _, ref := range v.RequiredIf.FieldRefs() {
			check(ref, "requiredIf")
		}
	}
	for _, ref := range field.VisibleWhen.FieldRefs() {
		check(ref, "visibleWhen")
	}
}
