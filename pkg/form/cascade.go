package form

import (
	"github.com/goliatone/go-formflow/internal/coerce"
	"github.com/goliatone/go-formflow/pkg/computed"
	"github.com/goliatone/go-formflow/pkg/schema"
	"github.com/goliatone/go-formflow/pkg/validation"
)

// cascade propagates a write to origin through the dependsOn graph:
// transforms remap dependent values, optionsMaps refresh dependent option
// lists, and both clear values that the parent change invalidated. The walk
// is breadth-first with a visited set, so each field is processed at most
// once per originating write. Cyclic configurations therefore terminate
// after one full pass without looping and without raising an error.
func (r *Runtime) cascade(origin string) []string {
	changed := []string{origin}
	visited := map[string]bool{origin: true}
	queue := append([]string(nil), r.dependents[origin]...)

	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		if visited[name] {
			continue
		}
		visited[name] = true

		f := &r.fieldList[r.fields[name]]
		r.applyTransform(f)
		r.refreshMappedOptions(f)
		changed = append(changed, name)
		queue = append(queue, r.dependents[name]...)
	}
	return changed
}

// applyTransform remaps the field's value from its parent's current value.
// An unmapped parent value falls back to the transform default, or clears
// the field when clearOnEmpty (the default) is set.
func (r *Runtime) applyTransform(f *schema.Field) {
	t := f.ValueTransform
	if t == nil {
		return
	}
	parent := r.transformParent(f)
	if parent == "" {
		return
	}
	pv, _ := r.store.Value(parent)

	switch {
	case coerce.IsEmpty(pv):
		if t.ShouldClearOnEmpty() {
			r.store.SetValue(f.Name, nil)
		}
	default:
		if mapped, ok := t.Mappings[coerce.String(pv)]; ok {
			r.store.SetValue(f.Name, mapped)
		} else if t.Default != nil {
			r.store.SetValue(f.Name, t.Default)
		} else if t.ShouldClearOnEmpty() {
			r.store.SetValue(f.Name, nil)
		}
	}
}

// refreshMappedOptions swaps the field's option list for the set keyed by
// the parent's value and clears the current value when it is no longer a
// valid choice.
func (r *Runtime) refreshMappedOptions(f *schema.Field) {
	if f.OptionsMap == nil {
		return
	}
	parent := r.transformParent(f)
	if parent == "" {
		return
	}
	pv, _ := r.store.Value(parent)
	options := f.OptionsMap[coerce.String(pv)]
	r.store.SetOptions(f.Name, options)

	current, ok := r.store.Value(f.Name)
	if !ok || coerce.IsEmpty(current) {
		return
	}
	for _, opt := range options {
		if coerce.Equal(current, opt.Value) {
			return
		}
	}
	r.store.SetValue(f.Name, nil)
}

func (r *Runtime) transformParent(f *schema.Field) string {
	if f.ValueTransform != nil && f.ValueTransform.DependsOn != "" {
		return f.ValueTransform.DependsOn
	}
	parents := f.Parents()
	if len(parents) == 0 {
		return ""
	}
	return parents[0]
}

// recompute re-evaluates every computed field that reads one of the changed
// fields, then follows computed-to-computed dependencies. Returns changed
// extended with the recomputed field names.
func (r *Runtime) recompute(changed []string) []string {
	visited := make(map[string]bool)
	var queue []string
	for _, name := range changed {
		queue = append(queue, r.computedBy[name]...)
	}

	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		if visited[name] {
			continue
		}
		visited[name] = true

		f := &r.fieldList[r.fields[name]]
		if f.Computed == nil {
			continue
		}
		value := computed.Evaluate(f.Computed, r.store.Values())
		if value == "" {
			r.store.SetValue(name, nil)
		} else {
			r.store.SetValue(name, value)
		}
		changed = append(changed, name)
		queue = append(queue, r.computedBy[name]...)
	}
	return changed
}

// revalidate refreshes errors for every field a change could affect: the
// changed fields themselves, cross-field rule partners, and fields whose
// visibility reads a changed field (so errors on newly hidden fields are
// cleared).
func (r *Runtime) revalidate(changed []string) {
	candidates := make(map[string]bool)
	for _, name := range changed {
		candidates[name] = true
		for _, partner := range r.crossRefs[name] {
			candidates[partner] = true
		}
		for _, watcher := range r.visRefs[name] {
			candidates[watcher] = true
		}
	}

	values := r.store.Values()
	for _, name := range r.order {
		if !candidates[name] {
			continue
		}
		f := &r.fieldList[r.fields[name]]
		if !r.visible(name, values) {
			r.store.SetError(name, "")
			continue
		}
		msg := validation.Validate(f, values)
		r.store.SetError(name, msg)
	}
}
