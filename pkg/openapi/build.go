// Package openapi builds form schemas from OpenAPI operations, so documents
// produced for a service's API can drive a running form directly: the
// operation's request body becomes the field list and its path/method become
// the submission target.
package openapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"unicode"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/goliatone/go-formflow/pkg/schema"
)

// BuildForm converts one operation of an OpenAPI document into a form
// schema. The operation is selected by operationId; the JSON request body
// schema supplies the fields.
func BuildForm(ctx context.Context, raw []byte, operationID string) (*schema.Form, error) {
	if len(raw) == 0 {
		return nil, errors.New("openapi: document is empty")
	}
	if strings.TrimSpace(operationID) == "" {
		return nil, errors.New("openapi: operation id is required")
	}

	loader := &openapi3.Loader{Context: ctx}
	doc, err := loader.LoadFromData(raw)
	if err != nil {
		return nil, fmt.Errorf("openapi: load document: %w", err)
	}

	path, method, op := findOperation(doc, operationID)
	if op == nil {
		return nil, fmt.Errorf("openapi: operation %q not found", operationID)
	}

	body := requestBodySchema(op)
	if body == nil {
		return nil, fmt.Errorf("openapi: operation %q has no JSON request body", operationID)
	}

	form := &schema.Form{
		Title:       firstNonEmpty(op.Summary, humanize(operationID)),
		Description: op.Description,
		Fields:      buildFields(body, ""),
		Submission: &schema.Submission{
			Endpoint: path,
			Method:   submissionMethod(method),
		},
	}
	if err := form.Validate(); err != nil {
		return nil, err
	}
	return form, nil
}

func findOperation(doc *openapi3.T, operationID string) (string, string, *openapi3.Operation) {
	if doc.Paths == nil {
		return "", "", nil
	}
	for path, item := range doc.Paths.Map() {
		if item == nil {
			continue
		}
		for method, op := range item.Operations() {
			if op != nil && op.OperationID == operationID {
				return path, method, op
			}
		}
	}
	return "", "", nil
}

func requestBodySchema(op *openapi3.Operation) *openapi3.Schema {
	if op.RequestBody == nil || op.RequestBody.Value == nil {
		return nil
	}
	media := op.RequestBody.Value.Content.Get("application/json")
	if media == nil || media.Schema == nil || media.Schema.Value == nil {
		return nil
	}
	s := media.Schema.Value
	if !s.Type.Is(openapi3.TypeObject) || len(s.Properties) == 0 {
		return nil
	}
	return s
}

// buildFields maps an object schema's properties to fields. Nested objects
// flatten one level with dotted names; map iteration is sorted with required
// fields first so the output is deterministic.
func buildFields(object *openapi3.Schema, prefix string) []schema.Field {
	required := make(map[string]bool, len(object.Required))
	for _, name := range object.Required {
		required[name] = true
	}

	names := make([]string, 0, len(object.Properties))
	for name := range object.Properties {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if required[names[i]] != required[names[j]] {
			return required[names[i]]
		}
		return names[i] < names[j]
	})

	var fields []schema.Field
	for _, name := range names {
		ref := object.Properties[name]
		if ref == nil || ref.Value == nil {
			continue
		}
		prop := ref.Value
		full := name
		if prefix != "" {
			full = prefix + "." + name
		}

		if prop.Type.Is(openapi3.TypeObject) && len(prop.Properties) > 0 {
			fields = append(fields, buildFields(prop, full)...)
			continue
		}
		fields = append(fields, buildField(full, prop, required[name]))
	}
	return fields
}

func buildField(name string, prop *openapi3.Schema, required bool) schema.Field {
	field := schema.Field{
		Name:        name,
		Type:        fieldType(prop),
		Label:       firstNonEmpty(prop.Title, humanize(name)),
		Description: prop.Description,
		Default:     prop.Default,
	}
	if len(prop.Enum) > 0 {
		for _, value := range prop.Enum {
			field.Options = append(field.Options, schema.Option{
				Value: value,
				Label: humanize(fmt.Sprint(value)),
			})
		}
	}
	if v := buildValidations(prop, required); v != nil {
		field.Validations = v
	}
	return field
}

func fieldType(prop *openapi3.Schema) schema.FieldType {
	switch {
	case prop.Type.Is(openapi3.TypeBoolean):
		return schema.FieldTypeCheckbox
	case prop.Type.Is(openapi3.TypeInteger), prop.Type.Is(openapi3.TypeNumber):
		return schema.FieldTypeNumber
	case prop.Type.Is(openapi3.TypeArray):
		return schema.FieldTypeMultiSelect
	}

	if len(prop.Enum) > 0 {
		return schema.FieldTypeSelect
	}
	switch prop.Format {
	case "email":
		return schema.FieldTypeEmail
	case "password":
		return schema.FieldTypePassword
	case "date", "date-time":
		return schema.FieldTypeDate
	case "binary", "byte":
		return schema.FieldTypeFile
	}
	if prop.MaxLength != nil && *prop.MaxLength > 500 {
		return schema.FieldTypeTextarea
	}
	return schema.FieldTypeText
}

func buildValidations(prop *openapi3.Schema, required bool) *schema.Validations {
	v := &schema.Validations{Required: required}
	used := required

	if prop.MinLength > 0 {
		v.MinLength = int(prop.MinLength)
		used = true
	}
	if prop.MaxLength != nil {
		v.MaxLength = int(*prop.MaxLength)
		used = true
	}
	if prop.Pattern != "" {
		v.Pattern = prop.Pattern
		used = true
	}
	if prop.Min != nil {
		min := *prop.Min
		v.Min = &min
		used = true
	}
	if prop.Max != nil {
		max := *prop.Max
		v.Max = &max
		used = true
	}
	if !used {
		return nil
	}
	return v
}

func submissionMethod(method string) string {
	switch strings.ToUpper(method) {
	case http.MethodPut:
		return http.MethodPut
	case http.MethodPatch:
		return http.MethodPatch
	default:
		return http.MethodPost
	}
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

// humanize turns identifier-ish names into labels: "firstName" and
// "first_name" both become "First Name".
func humanize(name string) string {
	if name == "" {
		return ""
	}
	if dot := strings.LastIndex(name, "."); dot >= 0 {
		name = name[dot+1:]
	}

	var words []string
	var current strings.Builder
	flush := func() {
		if current.Len() > 0 {
			words = append(words, current.String())
			current.Reset()
		}
	}
	for _, r := range name {
		switch {
		case r == '_' || r == '-' || r == ' ':
			flush()
		case unicode.IsUpper(r):
			flush()
			current.WriteRune(unicode.ToLower(r))
		default:
			current.WriteRune(r)
		}
	}
	flush()

	for i, word := range words {
		if word == "" {
			continue
		}
		words[i] = strings.ToUpper(word[:1]) + word[1:]
	}
	return strings.Join(words, " ")
}
