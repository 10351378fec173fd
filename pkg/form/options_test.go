package form_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/goliatone/go-formflow/pkg/form"
	"github.com/goliatone/go-formflow/pkg/schema"
)

func TestRuntime_FetchOptions(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"value": "br", "label": "Brazil"}, {"value": "us", "label": "United States"}]`)
	}))
	defer server.Close()

	r := mustRuntime(t, &schema.Form{
		Fields: []schema.Field{
			{Name: "country", Type: schema.FieldTypeSelect, OptionsEndpoint: server.URL},
		},
	}, form.WithHTTPClient(server.Client()))

	if err := r.SetValue("country", "de"); err != nil {
		t.Fatal(err)
	}
	if err := r.FetchOptions(context.Background(), "country"); err != nil {
		t.Fatal(err)
	}

	st, err := r.State("country")
	if err != nil {
		t.Fatal(err)
	}
	want := []schema.Option{
		{Value: "br", Label: "Brazil"},
		{Value: "us", Label: "United States"},
	}
	if diff := cmp.Diff(want, st.Options); diff != "" {
		t.Fatalf("options (-want +got):\n%s", diff)
	}
	if st.Loading {
		t.Fatal("loading flag should clear after the fetch")
	}
	// "de" is not among the fresh options.
	if v, ok := r.Value("country"); ok {
		t.Fatalf("stale value should be cleared, got %v", v)
	}
}

func TestRuntime_FetchOptionsKeepsValidValue(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"value": "br", "label": "Brazil"}]`)
	}))
	defer server.Close()

	r := mustRuntime(t, &schema.Form{
		Fields: []schema.Field{
			{Name: "country", Type: schema.FieldTypeSelect, OptionsEndpoint: server.URL},
		},
	}, form.WithHTTPClient(server.Client()))

	if err := r.SetValue("country", "br"); err != nil {
		t.Fatal(err)
	}
	if err := r.FetchOptions(context.Background(), "country"); err != nil {
		t.Fatal(err)
	}
	if v, _ := r.Value("country"); v != "br" {
		t.Fatalf("still-valid value should survive, got %v", v)
	}
}

func TestRuntime_FetchOptionsFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	r := mustRuntime(t, &schema.Form{
		Fields: []schema.Field{
			{Name: "country", Type: schema.FieldTypeSelect, OptionsEndpoint: server.URL},
			{Name: "plain", Type: schema.FieldTypeText},
		},
	}, form.WithHTTPClient(server.Client()))

	if err := r.FetchOptions(context.Background(), "country"); err == nil {
		t.Fatal("bad gateway should fail")
	}
	st, err := r.State("country")
	if err != nil {
		t.Fatal(err)
	}
	if st.Loading {
		t.Fatal("loading flag should clear after a failed fetch")
	}

	if err := r.FetchOptions(context.Background(), "plain"); err == nil {
		t.Fatal("field without an endpoint should fail")
	}
}
