package form_test

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/goliatone/go-formflow/pkg/form"
	"github.com/goliatone/go-formflow/pkg/schema"
)

func mustRuntime(t *testing.T, f *schema.Form, opts ...form.Option) *form.Runtime {
	t.Helper()
	r, err := form.New(f, opts...)
	if err != nil {
		t.Fatalf("form.New: %v", err)
	}
	t.Cleanup(r.Close)
	return r
}

func TestRuntime_UnknownAndComputedWrites(t *testing.T) {
	r := mustRuntime(t, &schema.Form{
		Fields: []schema.Field{
			{Name: "price", Type: schema.FieldTypeNumber},
			{
				Name: "total",
				Type: schema.FieldTypeComputed,
				Computed: &schema.Computed{
					Formula:      "price * 2",
					Dependencies: schema.StringList{"price"},
					FormatAs:     "number",
				},
			},
		},
	})

	if err := r.SetValue("nope", 1); !errors.Is(err, form.ErrUnknownField) {
		t.Fatalf("unknown field error = %v", err)
	}
	if err := r.SetValue("total", 99); !errors.Is(err, form.ErrComputedField) {
		t.Fatalf("computed field error = %v", err)
	}
}

func TestRuntime_TransformCascade(t *testing.T) {
	r := mustRuntime(t, &schema.Form{
		Fields: []schema.Field{
			{Name: "country", Type: schema.FieldTypeSelect},
			{
				Name: "timezone",
				Type: schema.FieldTypeText,
				ValueTransform: &schema.ValueTransform{
					DependsOn: "country",
					Mappings: map[string]any{
						"US": "America/New_York",
						"BR": "America/Sao_Paulo",
					},
				},
			},
		},
	})

	if err := r.SetValue("country", "US"); err != nil {
		t.Fatal(err)
	}
	if v, _ := r.Value("timezone"); v != "America/New_York" {
		t.Fatalf("timezone = %v", v)
	}

	if err := r.SetValue("country", "BR"); err != nil {
		t.Fatal(err)
	}
	if v, _ := r.Value("timezone"); v != "America/Sao_Paulo" {
		t.Fatalf("timezone = %v", v)
	}

	// Unmapped value with no default clears the dependent.
	if err := r.SetValue("country", "DE"); err != nil {
		t.Fatal(err)
	}
	if v, ok := r.Value("timezone"); ok {
		t.Fatalf("timezone should be cleared, got %v", v)
	}

	// Emptying the parent clears too.
	if err := r.SetValue("country", "US"); err != nil {
		t.Fatal(err)
	}
	if err := r.SetValue("country", ""); err != nil {
		t.Fatal(err)
	}
	if v, ok := r.Value("timezone"); ok {
		t.Fatalf("timezone should be cleared on empty parent, got %v", v)
	}
}

func TestRuntime_TransformDefaultFallback(t *testing.T) {
	r := mustRuntime(t, &schema.Form{
		Fields: []schema.Field{
			{Name: "plan", Type: schema.FieldTypeSelect},
			{
				Name: "seats",
				Type: schema.FieldTypeNumber,
				ValueTransform: &schema.ValueTransform{
					DependsOn: "plan",
					Mappings:  map[string]any{"team": 10},
					Default:   1,
				},
			},
		},
	})

	if err := r.SetValue("plan", "solo"); err != nil {
		t.Fatal(err)
	}
	if v, _ := r.Value("seats"); v != 1 {
		t.Fatalf("unmapped plan should fall back to default, seats = %v", v)
	}
}

func TestRuntime_MappedOptionsRefresh(t *testing.T) {
	usStates := []schema.Option{
		{Value: "CA", Label: "California"},
		{Value: "NY", Label: "New York"},
	}
	brStates := []schema.Option{
		{Value: "SP", Label: "Sao Paulo"},
	}
	r := mustRuntime(t, &schema.Form{
		Fields: []schema.Field{
			{Name: "country", Type: schema.FieldTypeSelect},
			{
				Name:      "state",
				Type:      schema.FieldTypeSelect,
				DependsOn: schema.StringList{"country"},
				OptionsMap: map[string][]schema.Option{
					"US": usStates,
					"BR": brStates,
				},
			},
		},
	})

	if err := r.SetValue("country", "US"); err != nil {
		t.Fatal(err)
	}
	st, err := r.State("state")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(usStates, st.Options); diff != "" {
		t.Fatalf("state options (-want +got):\n%s", diff)
	}

	if err := r.SetValue("state", "CA"); err != nil {
		t.Fatal(err)
	}
	if err := r.SetValue("country", "BR"); err != nil {
		t.Fatal(err)
	}
	if v, ok := r.Value("state"); ok {
		t.Fatalf("state should be cleared when no longer a valid choice, got %v", v)
	}
	st, err = r.State("state")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(brStates, st.Options); diff != "" {
		t.Fatalf("refreshed options (-want +got):\n%s", diff)
	}
}

func TestRuntime_ComputedRecalculation(t *testing.T) {
	r := mustRuntime(t, &schema.Form{
		Fields: []schema.Field{
			{Name: "price", Type: schema.FieldTypeNumber, Default: 10},
			{Name: "quantity", Type: schema.FieldTypeNumber, Default: 3},
			{
				Name: "total",
				Type: schema.FieldTypeComputed,
				Computed: &schema.Computed{
					Formula:      "price * quantity",
					Dependencies: schema.StringList{"price", "quantity"},
					FormatAs:     "number",
				},
			},
		},
	})

	// Defaults are folded into the computed value before the first edit.
	if v, _ := r.Value("total"); v != "30.00" {
		t.Fatalf("seeded total = %v", v)
	}
	if !r.Pristine() {
		t.Fatal("seeded form should be pristine")
	}

	if err := r.SetValue("quantity", 5); err != nil {
		t.Fatal(err)
	}
	if v, _ := r.Value("total"); v != "50.00" {
		t.Fatalf("total after edit = %v", v)
	}
	if r.Pristine() {
		t.Fatal("edited form should not be pristine")
	}

	// Non-numeric operand empties the computed field.
	if err := r.SetValue("quantity", "several"); err != nil {
		t.Fatal(err)
	}
	if v, ok := r.Value("total"); ok {
		t.Fatalf("total should be empty on invalid operand, got %v", v)
	}

	r.Reset()
	if v, _ := r.Value("total"); v != "30.00" {
		t.Fatalf("total after reset = %v", v)
	}
	if !r.Pristine() {
		t.Fatal("reset form should be pristine")
	}
}

func TestRuntime_ComputedChain(t *testing.T) {
	r := mustRuntime(t, &schema.Form{
		Fields: []schema.Field{
			{Name: "subtotal", Type: schema.FieldTypeNumber},
			{
				Name: "tax",
				Type: schema.FieldTypeComputed,
				Computed: &schema.Computed{
					Formula:      "subtotal * 0.1",
					Dependencies: schema.StringList{"subtotal"},
					FormatAs:     "number",
				},
			},
			{
				Name: "grandTotal",
				Type: schema.FieldTypeComputed,
				Computed: &schema.Computed{
					Formula:      "subtotal + tax",
					Dependencies: schema.StringList{"subtotal", "tax"},
					FormatAs:     "number",
				},
			},
		},
	})

	if err := r.SetValue("subtotal", 100); err != nil {
		t.Fatal(err)
	}
	if v, _ := r.Value("tax"); v != "10.00" {
		t.Fatalf("tax = %v", v)
	}
	if v, _ := r.Value("grandTotal"); v != "110.00" {
		t.Fatalf("grandTotal = %v", v)
	}
}

func TestRuntime_ComputedSeedingIgnoresDeclarationOrder(t *testing.T) {
	// grandTotal reads tax but is declared first; seeding must still settle
	// both from the defaults.
	r := mustRuntime(t, &schema.Form{
		Fields: []schema.Field{
			{
				Name: "grandTotal",
				Type: schema.FieldTypeComputed,
				Computed: &schema.Computed{
					Formula:      "subtotal + tax",
					Dependencies: schema.StringList{"subtotal", "tax"},
					FormatAs:     "number",
				},
			},
			{Name: "subtotal", Type: schema.FieldTypeNumber, Default: 100},
			{
				Name: "tax",
				Type: schema.FieldTypeComputed,
				Computed: &schema.Computed{
					Formula:      "subtotal * 0.1",
					Dependencies: schema.StringList{"subtotal"},
					FormatAs:     "number",
				},
			},
		},
	})

	if v, _ := r.Value("tax"); v != "10.00" {
		t.Fatalf("seeded tax = %v", v)
	}
	if v, _ := r.Value("grandTotal"); v != "110.00" {
		t.Fatalf("seeded grandTotal = %v", v)
	}
	if !r.Pristine() {
		t.Fatal("seeded form should be pristine")
	}
}

func TestRuntime_VisibilityClearsErrors(t *testing.T) {
	r := mustRuntime(t, &schema.Form{
		Fields: []schema.Field{
			{Name: "reason", Type: schema.FieldTypeSelect},
			{
				Name: "otherReason",
				Type: schema.FieldTypeText,
				VisibleWhen: &schema.Condition{
					Field:    "reason",
					Operator: schema.OpEquals,
					Value:    "other",
				},
				Validations: &schema.Validations{Required: true},
			},
		},
	})

	if r.Visible("otherReason") {
		t.Fatal("otherReason should start hidden")
	}

	if err := r.SetValue("reason", "other"); err != nil {
		t.Fatal(err)
	}
	if !r.Visible("otherReason") {
		t.Fatal("otherReason should be visible")
	}
	failures := r.ValidateAll()
	if failures["otherReason"] == "" {
		t.Fatalf("visible required field should fail, got %v", failures)
	}

	// Hiding the field clears its stale error and removes it from
	// validation scope.
	if err := r.SetValue("reason", "price"); err != nil {
		t.Fatal(err)
	}
	if r.Error("otherReason") != "" {
		t.Fatalf("hidden field kept error %q", r.Error("otherReason"))
	}
	if failures := r.ValidateAll(); len(failures) != 0 {
		t.Fatalf("hidden field should not block submission, got %v", failures)
	}
}

func TestRuntime_CrossFieldRevalidation(t *testing.T) {
	r := mustRuntime(t, &schema.Form{
		Fields: []schema.Field{
			{Name: "password", Type: schema.FieldTypePassword},
			{
				Name:        "confirmPassword",
				Type:        schema.FieldTypePassword,
				Validations: &schema.Validations{MatchesField: "password"},
			},
		},
	})

	if err := r.SetValue("password", "hunter2"); err != nil {
		t.Fatal(err)
	}
	if err := r.SetValue("confirmPassword", "hunter2"); err != nil {
		t.Fatal(err)
	}
	if msg := r.Error("confirmPassword"); msg != "" {
		t.Fatalf("matching values should be clean, got %q", msg)
	}

	// Editing the partner re-runs the dependent rule.
	if err := r.SetValue("password", "hunter3"); err != nil {
		t.Fatal(err)
	}
	if msg := r.Error("confirmPassword"); msg != "Values do not match" {
		t.Fatalf("error after partner edit = %q", msg)
	}
}

func TestRuntime_EditDuringAsyncKeepsSyncError(t *testing.T) {
	release := make(chan struct{})
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		<-release
		fmt.Fprint(w, `{"exists": true}`)
	}))
	defer server.Close()

	r := mustRuntime(t, &schema.Form{
		Fields: []schema.Field{
			{
				Name: "username",
				Type: schema.FieldTypeText,
				Validations: &schema.Validations{
					Pattern: "[a-z]+",
					Async: &schema.AsyncValidator{
						Endpoint:   server.URL,
						ValidWhen:  schema.ValidWhenNotExists,
						DebounceMs: 1,
						Message:    "Username is taken",
					},
				},
			},
		},
	}, form.WithHTTPClient(server.Client()))

	// Clean value: the remote check fires and stalls on the server.
	if err := r.SetValue("username", "ab"); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}

	// The user keeps typing into a value that fails the pattern rule.
	if err := r.SetValue("username", "a!"); err != nil {
		t.Fatal(err)
	}
	if msg := r.Error("username"); msg != "Value has an invalid format" {
		t.Fatalf("sync error = %q", msg)
	}

	// The response about the old value lands and must change nothing.
	close(release)
	time.Sleep(50 * time.Millisecond)
	if msg := r.Error("username"); msg != "Value has an invalid format" {
		t.Fatalf("stale async result overwrote the sync error, got %q", msg)
	}
}

func TestRuntime_RequiredNow(t *testing.T) {
	r := mustRuntime(t, &schema.Form{
		Fields: []schema.Field{
			{Name: "employed", Type: schema.FieldTypeCheckbox},
			{
				Name: "employer",
				Type: schema.FieldTypeText,
				Validations: &schema.Validations{
					RequiredIf: &schema.Condition{Field: "employed", Operator: schema.OpEquals, Value: true},
				},
			},
		},
	})

	if r.RequiredNow("employer") {
		t.Fatal("employer should start optional")
	}
	if err := r.SetValue("employed", true); err != nil {
		t.Fatal(err)
	}
	if !r.RequiredNow("employer") {
		t.Fatal("employer should be required once employed is set")
	}
}

func TestRuntime_CyclicDependenciesTerminate(t *testing.T) {
	r := mustRuntime(t, &schema.Form{
		Fields: []schema.Field{
			{
				Name: "a",
				Type: schema.FieldTypeText,
				ValueTransform: &schema.ValueTransform{
					DependsOn: "b",
					Mappings:  map[string]any{"x": "y"},
				},
			},
			{
				Name: "b",
				Type: schema.FieldTypeText,
				ValueTransform: &schema.ValueTransform{
					DependsOn: "a",
					Mappings:  map[string]any{"y": "x"},
				},
			},
		},
	})

	// Each field is visited at most once per write, so this returns.
	if err := r.SetValue("a", "y"); err != nil {
		t.Fatal(err)
	}
	if v, _ := r.Value("b"); v != "x" {
		t.Fatalf("b = %v", v)
	}
}

func TestRuntime_MaskAppliedOnWrite(t *testing.T) {
	r := mustRuntime(t, &schema.Form{
		Fields: []schema.Field{
			{
				Name: "phone",
				Type: schema.FieldTypeText,
				Mask: &schema.Mask{Preset: "phone"},
			},
		},
	})

	if err := r.SetValue("phone", "11987654321"); err != nil {
		t.Fatal(err)
	}
	if v, _ := r.Value("phone"); v != "(11) 98765-4321" {
		t.Fatalf("masked phone = %v", v)
	}
}

func TestRuntime_RichTextSanitizedOnWrite(t *testing.T) {
	r := mustRuntime(t, &schema.Form{
		Fields: []schema.Field{
			{Name: "bio", Type: schema.FieldTypeRichText},
		},
	})

	if err := r.SetValue("bio", `<p>hi</p><script>alert(1)</script>`); err != nil {
		t.Fatal(err)
	}
	v, _ := r.Value("bio")
	if v != "<p>hi</p>" {
		t.Fatalf("sanitized bio = %q", v)
	}
}

func TestRuntime_BlurMarksTouchedAndValidates(t *testing.T) {
	r := mustRuntime(t, &schema.Form{
		Fields: []schema.Field{
			{
				Name:        "email",
				Type:        schema.FieldTypeEmail,
				Validations: &schema.Validations{Required: true},
			},
		},
	})

	if err := r.Blur("email"); err != nil {
		t.Fatal(err)
	}
	st, err := r.State("email")
	if err != nil {
		t.Fatal(err)
	}
	if !st.Touched {
		t.Fatal("blur should mark the field touched")
	}
	if st.Error != "This field is required" {
		t.Fatalf("blur error = %q", st.Error)
	}
}

func TestRuntime_InitialValuesOverlay(t *testing.T) {
	r := mustRuntime(t, &schema.Form{
		Fields: []schema.Field{
			{Name: "name", Type: schema.FieldTypeText, Default: "anonymous"},
			{Name: "role", Type: schema.FieldTypeText},
		},
	}, form.WithInitialValues(map[string]any{"name": "Ada", "role": "engineer"}))

	if v, _ := r.Value("name"); v != "Ada" {
		t.Fatalf("overlay should win over the default, got %v", v)
	}
	if v, _ := r.Value("role"); v != "engineer" {
		t.Fatalf("role = %v", v)
	}
	if !r.Pristine() {
		t.Fatal("overlaid values are the baseline, form should be pristine")
	}
}

func TestRuntime_ArrayItems(t *testing.T) {
	r := mustRuntime(t, &schema.Form{
		Fields: []schema.Field{
			{Name: "team", Type: schema.FieldTypeText},
			{
				Name: "contacts",
				Type: schema.FieldTypeArray,
				ArrayConfig: &schema.ArrayConfig{
					MinItems: 1,
					MaxItems: 2,
					ItemFields: []schema.Field{
						{Name: "name", Type: schema.FieldTypeText, Validations: &schema.Validations{Required: true}},
						{Name: "kind", Type: schema.FieldTypeSelect, Default: "personal"},
					},
				},
			},
		},
	})

	idx, err := r.AddArrayItem("contacts")
	if err != nil {
		t.Fatal(err)
	}
	if idx != 0 {
		t.Fatalf("first item index = %d", idx)
	}
	if v, _ := r.Value("contacts[0].kind"); v != "personal" {
		t.Fatalf("item default not seeded, kind = %v", v)
	}

	if err := r.SetArrayValue("contacts", 0, "name", "Ada"); err != nil {
		t.Fatal(err)
	}
	if _, err := r.AddArrayItem("contacts"); err != nil {
		t.Fatal(err)
	}
	if _, err := r.AddArrayItem("contacts"); !errors.Is(err, form.ErrArrayBounds) {
		t.Fatalf("maxItems should be enforced, err = %v", err)
	}

	// Second item is missing its required name.
	failures := r.ValidateAll()
	if failures["contacts[1].name"] == "" {
		t.Fatalf("missing item name should fail, got %v", failures)
	}

	if err := r.RemoveArrayItem("contacts", 1); err != nil {
		t.Fatal(err)
	}
	if err := r.RemoveArrayItem("contacts", 0); !errors.Is(err, form.ErrArrayBounds) {
		t.Fatalf("minItems should be enforced, err = %v", err)
	}
}

func TestRuntime_RemoveArrayItemShiftsDown(t *testing.T) {
	r := mustRuntime(t, &schema.Form{
		Fields: []schema.Field{
			{
				Name: "contacts",
				Type: schema.FieldTypeArray,
				ArrayConfig: &schema.ArrayConfig{
					ItemFields: []schema.Field{{Name: "name", Type: schema.FieldTypeText}},
				},
			},
		},
	})

	for _, name := range []string{"first", "second", "third"} {
		i, err := r.AddArrayItem("contacts")
		if err != nil {
			t.Fatal(err)
		}
		if err := r.SetArrayValue("contacts", i, "name", name); err != nil {
			t.Fatal(err)
		}
	}

	if err := r.RemoveArrayItem("contacts", 0); err != nil {
		t.Fatal(err)
	}

	want := map[string]any{
		"contacts": []map[string]any{
			{"name": "second"},
			{"name": "third"},
		},
	}
	if diff := cmp.Diff(want, r.Payload()); diff != "" {
		t.Fatalf("payload after removal (-want +got):\n%s", diff)
	}
}

func TestRuntime_PayloadFoldsArrays(t *testing.T) {
	r := mustRuntime(t, &schema.Form{
		Fields: []schema.Field{
			{Name: "team", Type: schema.FieldTypeText},
			{
				Name: "contacts",
				Type: schema.FieldTypeArray,
				ArrayConfig: &schema.ArrayConfig{
					ItemFields: []schema.Field{
						{Name: "name", Type: schema.FieldTypeText},
						{Name: "email", Type: schema.FieldTypeEmail},
					},
				},
			},
		},
	})

	if err := r.SetValue("team", "Platform"); err != nil {
		t.Fatal(err)
	}
	if _, err := r.AddArrayItem("contacts"); err != nil {
		t.Fatal(err)
	}
	if err := r.SetArrayValue("contacts", 0, "name", "Ada"); err != nil {
		t.Fatal(err)
	}
	if err := r.SetArrayValue("contacts", 0, "email", "ada@example.com"); err != nil {
		t.Fatal(err)
	}

	want := map[string]any{
		"team": "Platform",
		"contacts": []map[string]any{
			{"name": "Ada", "email": "ada@example.com"},
		},
	}
	if diff := cmp.Diff(want, r.Payload()); diff != "" {
		t.Fatalf("payload (-want +got):\n%s", diff)
	}
}

func TestRuntime_DuplicateFieldNamesRejected(t *testing.T) {
	_, err := form.New(&schema.Form{
		Fields: []schema.Field{
			{Name: "email", Type: schema.FieldTypeEmail},
			{Name: "email", Type: schema.FieldTypeText},
		},
	})
	if err == nil {
		t.Fatal("duplicate field names should fail construction")
	}
}
