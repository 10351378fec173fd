// Package form wires the schema evaluators into a running form instance: one
// Runtime owns the state store, the dependency graph built from the schema,
// and the validation machinery. UI layers push value and blur events in and
// read per-field state back out; everything in between (transform cascades,
// visibility, cross-field validation, computed fields) happens synchronously
// inside those calls.
package form

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/goliatone/go-formflow/pkg/computed"
	"github.com/goliatone/go-formflow/pkg/condition"
	"github.com/goliatone/go-formflow/pkg/mask"
	"github.com/goliatone/go-formflow/pkg/schema"
	"github.com/goliatone/go-formflow/pkg/state"
	"github.com/goliatone/go-formflow/pkg/validation"
)

var (
	// ErrUnknownField is returned when an event names a field the schema
	// does not define.
	ErrUnknownField = errors.New("form: unknown field")

	// ErrComputedField is returned on direct writes to a computed field;
	// computed values are owned by their formula.
	ErrComputedField = errors.New("form: field is computed")
)

// Option customises the Runtime configuration.
type Option func(*Runtime)

// WithHTTPClient overrides the client used for async validation and dynamic
// options fetches.
func WithHTTPClient(client *http.Client) Option {
	return func(r *Runtime) {
		if client != nil {
			r.client = client
		}
	}
}

// WithInitialValues overlays externally supplied values on top of the
// schema's field defaults before the store is seeded.
func WithInitialValues(values map[string]any) Option {
	return func(r *Runtime) {
		r.initialOverlay = values
	}
}

// WithAsyncObserver registers a callback fired whenever an async validation
// result lands, after the store has been updated. Useful for driving UI
// refreshes from a non-reactive host.
func WithAsyncObserver(observer func(field, message string)) Option {
	return func(r *Runtime) {
		r.asyncObserver = observer
	}
}

// Runtime is a live form instance. Event handlers are expected from a single
// host loop; the runtime still guards its store with a mutex because async
// validation results arrive on timer goroutines.
type Runtime struct {
	form      *schema.Form
	fieldList []schema.Field
	fields    map[string]int
	order     []string

	mu    sync.Mutex
	store *state.Store

	// dependents maps a field to the fields that react to its changes via
	// dependsOn, valueTransform, or optionsMap.
	dependents map[string][]string
	// computedBy maps a field to the computed fields whose formula reads it.
	computedBy map[string][]string
	// crossRefs maps a field to the fields whose cross-field validation
	// rules reference it.
	crossRefs map[string][]string
	// visRefs maps a field to the fields whose visibility condition reads it.
	visRefs map[string][]string

	client         *http.Client
	async          *validation.AsyncRunner
	asyncObserver  func(field, message string)
	initialOverlay map[string]any
}

// New builds a Runtime for the given form. The form is validated first;
// structural failures (duplicate names) are returned as errors while dangling
// references stay as warnings on the schema.
func New(f *schema.Form, opts ...Option) (*Runtime, error) {
	if f == nil {
		return nil, errors.New("form: schema is required")
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}

	r := &Runtime{
		form:       f,
		fields:     make(map[string]int),
		dependents: make(map[string][]string),
		computedBy: make(map[string][]string),
		crossRefs:  make(map[string][]string),
		visRefs:    make(map[string][]string),
		client:     http.DefaultClient,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}

	r.fieldList = append([]schema.Field(nil), f.AllFields()...)
	for i := range r.fieldList {
		name := r.fieldList[i].Name
		r.fields[name] = i
		r.order = append(r.order, name)
	}
	r.buildGraph()

	r.store = state.NewStore(r.buildInitialValues())
	r.async = validation.NewAsyncRunner(r.client, r.applyAsyncResult)
	return r, nil
}

func (r *Runtime) buildGraph() {
	addEdge := func(m map[string][]string, from, to string) {
		if from == "" || to == "" {
			return
		}
		for _, existing := range m[from] {
			if existing == to {
				return
			}
		}
		m[from] = append(m[from], to)
	}

	for i := range r.fieldList {
		f := &r.fieldList[i]
		for _, parent := range f.Parents() {
			addEdge(r.dependents, parent, f.Name)
		}
		if f.Computed != nil {
			for _, dep := range f.Computed.Dependencies {
				addEdge(r.computedBy, dep, f.Name)
			}
		}
		if v := f.Validations; v != nil {
			addEdge(r.crossRefs, v.MatchesField, f.Name)
			addEdge(r.crossRefs, v.GreaterThanField, f.Name)
			addEdge(r.crossRefs, v.LessThanField, f.Name)
			for _, ref := range v.RequiredIf.FieldRefs() {
				addEdge(r.crossRefs, ref, f.Name)
			}
		}
		for _, ref := range f.VisibleWhen.FieldRefs() {
			addEdge(r.visRefs, ref, f.Name)
		}
	}
}

func (r *Runtime) buildInitialValues() map[string]any {
	initial := make(map[string]any)
	for i := range r.fieldList {
		f := &r.fieldList[i]
		if f.Default != nil && !f.IsComputed() {
			initial[f.Name] = f.Default
		}
	}
	for k, v := range r.initialOverlay {
		initial[k] = v
	}
	// Seed computed fields so they carry a value before the first edit and
	// so Reset restores them consistently. A formula may read a computed
	// field declared after it, so evaluation repeats until the bag settles;
	// each pass settles at least one level of the chain.
	var computedFields []*schema.Field
	for i := range r.fieldList {
		if r.fieldList[i].Computed != nil {
			computedFields = append(computedFields, &r.fieldList[i])
		}
	}
	for pass := 0; pass < len(computedFields); pass++ {
		settled := true
		for _, f := range computedFields {
			value := computed.Evaluate(f.Computed, initial)
			if value == "" {
				continue
			}
			if existing, ok := initial[f.Name]; !ok || existing != value {
				initial[f.Name] = value
				settled = false
			}
		}
		if settled {
			break
		}
	}
	return initial
}

// SetValue applies a user edit: masks and sanitizes the input, writes the
// store, cascades transforms and options refreshes through dependents,
// recomputes affected computed fields, and revalidates every field the
// change could have touched.
func (r *Runtime) SetValue(name string, value any) error {
	idx, ok := r.fields[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownField, name)
	}
	f := &r.fieldList[idx]
	if f.IsComputed() {
		return fmt.Errorf("%w: %q", ErrComputedField, name)
	}

	if text, isText := value.(string); isText {
		if f.Mask != nil {
			value = mask.Apply(text, f.Mask)
		} else if f.Type == schema.FieldTypeRichText {
			value = schema.SanitizeRichText(text)
		}
	}

	r.mu.Lock()
	r.store.SetValue(name, value)
	changed := r.cascade(name)
	changed = r.recompute(changed)
	r.revalidate(changed)
	clean := r.store.Error(name) == ""
	r.mu.Unlock()

	if f.Validations != nil && f.Validations.Async != nil {
		// The previous request, fired or pending, is about a value the
		// field no longer holds.
		r.async.Invalidate(name)
		if clean {
			r.async.Trigger(context.Background(), f, value)
		}
	}
	return nil
}

// Blur marks the field touched and revalidates it.
func (r *Runtime) Blur(name string) error {
	idx, ok := r.fields[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownField, name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.store.MarkTouched(name)
	r.validateField(&r.fieldList[idx], r.store.Values())
	return nil
}

// Visible evaluates the field's visibility condition against the current
// values. Fields without a condition are always visible; unknown names are
// not.
func (r *Runtime) Visible(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.visible(name, r.store.Values())
}

func (r *Runtime) visible(name string, values map[string]any) bool {
	idx, ok := r.fields[name]
	if !ok {
		return false
	}
	f := &r.fieldList[idx]
	if f.VisibleWhen == nil {
		return true
	}
	return condition.Evaluate(f.VisibleWhen, values)
}

// RequiredNow reports whether the field is currently required, folding
// requiredIf into the static required flag.
func (r *Runtime) RequiredNow(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.requiredNow(name, r.store.Values())
}

func (r *Runtime) requiredNow(name string, values map[string]any) bool {
	idx, ok := r.fields[name]
	if !ok {
		return false
	}
	v := r.fieldList[idx].Validations
	if v == nil {
		return false
	}
	if v.Required {
		return true
	}
	if v.RequiredIf == nil {
		return false
	}
	return condition.Evaluate(v.RequiredIf, values)
}

// FieldState is the per-field read model renderers consume.
type FieldState struct {
	Value    any
	Touched  bool
	Dirty    bool
	Visible  bool
	Loading  bool
	Error    string
	Options  []schema.Option
	Required bool
}

// State assembles the read model for one field.
func (r *Runtime) State(name string) (FieldState, error) {
	idx, ok := r.fields[name]
	if !ok {
		return FieldState{}, fmt.Errorf("%w: %q", ErrUnknownField, name)
	}
	f := &r.fieldList[idx]

	r.mu.Lock()
	defer r.mu.Unlock()
	values := r.store.Values()
	value := values[name]
	options := r.store.Options(name)
	if options == nil {
		options = f.Options
	}
	return FieldState{
		Value:    value,
		Touched:  r.store.Touched(name),
		Dirty:    r.store.Dirty(name),
		Visible:  r.visible(name, values),
		Loading:  r.store.Loading(name),
		Error:    r.store.Error(name),
		Options:  options,
		Required: r.requiredNow(name, values),
	}, nil
}

// Value reads a field's current value.
func (r *Runtime) Value(name string) (any, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.store.Value(name)
}

// Values returns a snapshot of the whole value bag, including array child
// entries under their bracketed keys.
func (r *Runtime) Values() map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.store.Values()
}

// Fields returns the flattened field definitions in schema order.
func (r *Runtime) Fields() []schema.Field {
	return r.fieldList
}

// Form returns the schema this runtime executes.
func (r *Runtime) Form() *schema.Form {
	return r.form
}

// Pristine reports whether nothing differs from the initial snapshot.
func (r *Runtime) Pristine() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.store.Pristine()
}

// Error returns the field's current validation message.
func (r *Runtime) Error(name string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.store.Error(name)
}

// ValidateAll validates every currently visible field, marks them touched,
// and returns the failing fields with their messages. Hidden fields are
// skipped and any stale error on them cleared. An empty map means the form
// may submit.
func (r *Runtime) ValidateAll() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()

	values := r.store.Values()
	failures := make(map[string]string)
	for _, name := range r.order {
		f := &r.fieldList[r.fields[name]]
		if f.Type == schema.FieldTypeArray && f.ArrayConfig != nil {
			for key, msg := range r.validateArrayItems(f, values) {
				failures[key] = msg
			}
			continue
		}
		if !r.visible(name, values) {
			r.store.SetError(name, "")
			continue
		}
		r.store.MarkTouched(name)
		if msg := r.validateField(f, values); msg != "" {
			failures[name] = msg
		}
	}
	return failures
}

// Valid reports whether every visible field passes validation, without
// marking anything touched or recording errors.
func (r *Runtime) Valid() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	values := r.store.Values()
	for _, name := range r.order {
		f := &r.fieldList[r.fields[name]]
		if !r.visible(name, values) {
			continue
		}
		if validation.Validate(f, values) != "" {
			return false
		}
	}
	return true
}

// Reset restores the initial snapshot, clearing touched, dirty, and error
// state.
func (r *Runtime) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.store.Reset()
}

// Close releases timers held by the async validator. The runtime must not
// be used afterwards.
func (r *Runtime) Close() {
	r.async.Close()
}

// AsyncState exposes a field's remote-validation lifecycle state.
func (r *Runtime) AsyncState(name string) validation.AsyncState {
	return r.async.State(name)
}

func (r *Runtime) validateField(f *schema.Field, values map[string]any) string {
	msg := validation.Validate(f, values)
	r.store.SetError(f.Name, msg)
	return msg
}

func (r *Runtime) applyAsyncResult(field, message string) {
	r.mu.Lock()
	// Async failures must not mask a sync failure reported since the
	// request fired; sync errors take precedence.
	if message == "" && r.store.Error(field) != "" {
		r.mu.Unlock()
		return
	}
	r.store.SetError(field, message)
	r.mu.Unlock()

	if r.asyncObserver != nil {
		r.asyncObserver(field, message)
	}
}
