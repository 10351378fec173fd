package form

import (
	"errors"
	"fmt"
	"strings"

	"github.com/goliatone/go-formflow/pkg/schema"
	"github.com/goliatone/go-formflow/pkg/validation"
)

// ErrArrayBounds is returned when adding or removing a repeater item would
// violate the configured item bounds.
var ErrArrayBounds = errors.New("form: array item bounds")

// ArrayItemKey builds the value-bag key for one child field of a repeater
// item, e.g. contacts[0].email.
func ArrayItemKey(field string, index int, child string) string {
	return fmt.Sprintf("%s[%d].%s", field, index, child)
}

// AddArrayItem appends an item to a repeater field, seeding the item's child
// defaults, and returns the new item index.
func (r *Runtime) AddArrayItem(name string) (int, error) {
	idx, ok := r.fields[name]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownField, name)
	}
	f := &r.fieldList[idx]
	if f.Type != schema.FieldTypeArray || f.ArrayConfig == nil {
		return 0, fmt.Errorf("form: field %q is not an array", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	n := r.store.ArrayLen(name)
	if f.ArrayConfig.MaxItems > 0 && n >= f.ArrayConfig.MaxItems {
		return 0, fmt.Errorf("%w: %q has at most %d items", ErrArrayBounds, name, f.ArrayConfig.MaxItems)
	}

	for i := range f.ArrayConfig.ItemFields {
		child := &f.ArrayConfig.ItemFields[i]
		if child.Default != nil {
			r.store.SetValue(ArrayItemKey(name, n, child.Name), child.Default)
		}
	}
	r.store.SetArrayLen(name, n+1)
	return n, nil
}

// RemoveArrayItem deletes item index from a repeater field, shifting later
// items down.
func (r *Runtime) RemoveArrayItem(name string, index int) error {
	idx, ok := r.fields[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownField, name)
	}
	f := &r.fieldList[idx]
	if f.Type != schema.FieldTypeArray || f.ArrayConfig == nil {
		return fmt.Errorf("form: field %q is not an array", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	n := r.store.ArrayLen(name)
	if index < 0 || index >= n {
		return fmt.Errorf("%w: index %d out of range [0,%d)", ErrArrayBounds, index, n)
	}
	if f.ArrayConfig.MinItems > 0 && n <= f.ArrayConfig.MinItems {
		return fmt.Errorf("%w: %q needs at least %d items", ErrArrayBounds, name, f.ArrayConfig.MinItems)
	}

	for i := index; i < n-1; i++ {
		for c := range f.ArrayConfig.ItemFields {
			child := f.ArrayConfig.ItemFields[c].Name
			next, ok := r.store.Value(ArrayItemKey(name, i+1, child))
			key := ArrayItemKey(name, i, child)
			if ok {
				r.store.SetValue(key, next)
			} else {
				r.store.SetValue(key, nil)
			}
			r.store.SetError(key, "")
		}
	}
	for c := range f.ArrayConfig.ItemFields {
		last := ArrayItemKey(name, n-1, f.ArrayConfig.ItemFields[c].Name)
		r.store.SetValue(last, nil)
		r.store.SetError(last, "")
	}
	r.store.SetArrayLen(name, n-1)
	return nil
}

// SetArrayValue writes one child value inside a repeater item, applying the
// child's validations against its item scope.
func (r *Runtime) SetArrayValue(name string, index int, child string, value any) error {
	idx, ok := r.fields[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownField, name)
	}
	f := &r.fieldList[idx]
	if f.Type != schema.FieldTypeArray || f.ArrayConfig == nil {
		return fmt.Errorf("form: field %q is not an array", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if index < 0 || index >= r.store.ArrayLen(name) {
		return fmt.Errorf("%w: index %d out of range", ErrArrayBounds, index)
	}
	template, found := itemTemplate(f.ArrayConfig, child)
	if !found {
		return fmt.Errorf("%w: %q has no item field %q", ErrUnknownField, name, child)
	}

	key := ArrayItemKey(name, index, child)
	r.store.SetValue(key, value)

	scoped := scopedItemField(template, name, index)
	msg := validation.Validate(&scoped, r.store.Values())
	r.store.SetError(key, msg)
	return nil
}

// validateArrayItems validates the children of every current item against
// their namespaced keys. Cross-field references inside the item template are
// rewritten to the same item's scope.
func (r *Runtime) validateArrayItems(f *schema.Field, values map[string]any) map[string]string {
	failures := make(map[string]string)
	n := r.store.ArrayLen(f.Name)
	for i := 0; i < n; i++ {
		for c := range f.ArrayConfig.ItemFields {
			child := &f.ArrayConfig.ItemFields[c]
			scoped := scopedItemField(child, f.Name, i)
			r.store.MarkTouched(scoped.Name)
			msg := validation.Validate(&scoped, values)
			r.store.SetError(scoped.Name, msg)
			if msg != "" {
				failures[scoped.Name] = msg
			}
		}
	}
	return failures
}

func itemTemplate(cfg *schema.ArrayConfig, child string) (*schema.Field, bool) {
	for i := range cfg.ItemFields {
		if cfg.ItemFields[i].Name == child {
			return &cfg.ItemFields[i], true
		}
	}
	return nil, false
}

// scopedItemField clones an item template field, rewriting its name and any
// cross-field references into the given item's namespace.
func scopedItemField(template *schema.Field, array string, index int) schema.Field {
	scoped := *template
	scoped.Name = ArrayItemKey(array, index, template.Name)
	if template.Validations != nil {
		v := *template.Validations
		if v.MatchesField != "" {
			v.MatchesField = ArrayItemKey(array, index, v.MatchesField)
		}
		if v.GreaterThanField != "" {
			v.GreaterThanField = ArrayItemKey(array, index, v.GreaterThanField)
		}
		if v.LessThanField != "" {
			v.LessThanField = ArrayItemKey(array, index, v.LessThanField)
		}
		scoped.Validations = &v
	}
	return scoped
}

// Payload assembles the submission body: scalar fields keep their names and
// repeater fields fold their bracketed child keys into ordered item objects.
func (r *Runtime) Payload() map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()

	values := r.store.Values()
	out := make(map[string]any)
	for key, value := range values {
		if strings.ContainsRune(key, '[') {
			continue
		}
		out[key] = value
	}

	for _, name := range r.order {
		f := &r.fieldList[r.fields[name]]
		if f.Type != schema.FieldTypeArray || f.ArrayConfig == nil {
			continue
		}
		n := r.store.ArrayLen(name)
		items := make([]map[string]any, 0, n)
		for i := 0; i < n; i++ {
			item := make(map[string]any)
			for c := range f.ArrayConfig.ItemFields {
				child := f.ArrayConfig.ItemFields[c].Name
				if v, ok := values[ArrayItemKey(name, i, child)]; ok {
					item[child] = v
				}
			}
			items = append(items, item)
		}
		if n > 0 {
			out[name] = items
		}
	}
	return out
}
