// Package state holds the mutable per-form value bag and its companion maps:
// touched, error, options, loading, and array item counts. Every other part
// of the runtime reads and writes field state through a Store. A Store is
// owned by exactly one form instance and is not safe for concurrent use; the
// runtime serialises all mutation.
package state

import (
	"github.com/goliatone/go-formflow/internal/coerce"
	"github.com/goliatone/go-formflow/pkg/schema"
)

// Store is the form's state container.
type Store struct {
	initial   map[string]any
	values    map[string]any
	touched   map[string]bool
	errors    map[string]string
	options   map[string][]schema.Option
	loading   map[string]bool
	arrayLens map[string]int
}

// NewStore seeds a store with the initial values snapshot. Reset restores
// this snapshot until SetInitial re-baselines it.
func NewStore(initial map[string]any) *Store {
	s := &Store{}
	s.SetInitial(initial)
	return s
}

// SetInitial replaces the initial snapshot and resets all state to it.
func (s *Store) SetInitial(initial map[string]any) {
	s.initial = cloneValues(initial)
	s.Reset()
}

// Reset restores the value bag to the initial snapshot and clears the
// touched, error, options, and loading maps.
func (s *Store) Reset() {
	s.values = cloneValues(s.initial)
	s.touched = make(map[string]bool)
	s.errors = make(map[string]string)
	s.options = make(map[string][]schema.Option)
	s.loading = make(map[string]bool)
	s.arrayLens = make(map[string]int)
}

// SetValue writes a field value. Dirtiness is derived, so no flag is stored.
func (s *Store) SetValue(name string, value any) {
	if value == nil {
		delete(s.values, name)
		return
	}
	s.values[name] = value
}

// Value returns the current value for a field and whether one is set.
func (s *Store) Value(name string) (any, bool) {
	v, ok := s.values[name]
	return v, ok
}

// Values returns a deep copy of the current value bag.
func (s *Store) Values() map[string]any {
	return cloneValues(s.values)
}

// MarkTouched records that the field received a blur event.
func (s *Store) MarkTouched(name string) {
	s.touched[name] = true
}

// Touched reports whether the field was blurred at least once.
func (s *Store) Touched(name string) bool {
	return s.touched[name]
}

// SetError records a field-level validation message. An empty message clears
// the entry.
func (s *Store) SetError(name, message string) {
	if message == "" {
		delete(s.errors, name)
		return
	}
	s.errors[name] = message
}

// Error returns the field's current validation message, if any.
func (s *Store) Error(name string) string {
	return s.errors[name]
}

// Errors returns a copy of all current field errors.
func (s *Store) Errors() map[string]string {
	out := make(map[string]string, len(s.errors))
	for k, v := range s.errors {
		out[k] = v
	}
	return out
}

// SetOptions replaces the dynamic options for a field.
func (s *Store) SetOptions(name string, options []schema.Option) {
	if len(options) == 0 {
		delete(s.options, name)
		return
	}
	s.options[name] = append([]schema.Option(nil), options...)
}

// Options returns the dynamic options currently attached to a field.
func (s *Store) Options(name string) []schema.Option {
	return s.options[name]
}

// SetLoading flags a field as waiting on a network call (options fetch or
// async validation).
func (s *Store) SetLoading(name string, loading bool) {
	if !loading {
		delete(s.loading, name)
		return
	}
	s.loading[name] = true
}

// Loading reports whether the field has a network call in flight.
func (s *Store) Loading(name string) bool {
	return s.loading[name]
}

// Dirty reports whether the field's current value differs from its initial
// value. Always derived, never cached.
func (s *Store) Dirty(name string) bool {
	return !coerce.Equal(s.values[name], s.initial[name])
}

// Pristine reports whether no field differs from its initial value.
func (s *Store) Pristine() bool {
	for name := range s.values {
		if s.Dirty(name) {
			return false
		}
	}
	for name := range s.initial {
		if _, ok := s.values[name]; !ok {
			return false
		}
	}
	return true
}

// SetArrayLen records the item count of a repeater field.
func (s *Store) SetArrayLen(name string, n int) {
	if n <= 0 {
		delete(s.arrayLens, name)
		return
	}
	s.arrayLens[name] = n
}

// ArrayLen returns the item count of a repeater field.
func (s *Store) ArrayLen(name string) int {
	return s.arrayLens[name]
}

func cloneValues(src map[string]any) map[string]any {
	out := make(map[string]any, len(src))
	for k, v := range src {
		out[k] = deepCopy(v)
	}
	return out
}

func deepCopy(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		clone := make(map[string]any, len(typed))
		for k, v := range typed {
			clone[k] = deepCopy(v)
		}
		return clone
	case []any:
		clone := make([]any, len(typed))
		for i, v := range typed {
			clone[i] = deepCopy(v)
		}
		return clone
	default:
		return typed
	}
}
