package submit_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/goliatone/go-formflow/pkg/schema"
	"github.com/goliatone/go-formflow/pkg/submit"
)

func zeroBackOff() func() backoff.BackOff {
	return func() backoff.BackOff { return &backoff.ZeroBackOff{} }
}

func TestSubmit_Success(t *testing.T) {
	var requests atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %s", ct)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer token" {
			t.Errorf("authorization = %s", auth)
		}
		fmt.Fprint(w, `{"id": "42"}`)
	}))
	defer server.Close()

	o := submit.New(&schema.Submission{
		Endpoint:       server.URL,
		Headers:        map[string]string{"Authorization": "Bearer token"},
		SuccessMessage: "Saved!",
	}, submit.WithHTTPClient(server.Client()))

	result, err := o.Submit(context.Background(), map[string]any{"name": "Ada"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if requests.Load() != 1 {
		t.Fatalf("requests = %d", requests.Load())
	}
	if result.Status != http.StatusOK || result.Message != "Saved!" {
		t.Fatalf("result = %+v", result)
	}
	if result.Body["id"] != "42" {
		t.Fatalf("body = %v", result.Body)
	}
	if o.State() != submit.StateSuccess {
		t.Fatalf("state = %s", o.State())
	}
	if o.LastResult() != result {
		t.Fatal("LastResult should hold the returned result")
	}
}

func TestSubmit_RetriesTransientFailures(t *testing.T) {
	var requests atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	var states []submit.State
	o := submit.New(&schema.Submission{Endpoint: server.URL},
		submit.WithHTTPClient(server.Client()),
		submit.WithBackOff(zeroBackOff()),
		submit.WithOnStateChange(func(s submit.State) { states = append(states, s) }),
	)

	if _, err := o.Submit(context.Background(), nil); err != nil {
		t.Fatalf("Submit should recover on the third attempt: %v", err)
	}
	if requests.Load() != 3 {
		t.Fatalf("requests = %d, want 3", requests.Load())
	}
	if o.RetryCount() != 0 {
		t.Fatalf("retry count resets on success, got %d", o.RetryCount())
	}
	wantStates := []submit.State{submit.StateSubmitting, submit.StateSuccess}
	if len(states) != len(wantStates) || states[0] != wantStates[0] || states[1] != wantStates[1] {
		t.Fatalf("states = %v", states)
	}
}

func TestDefaultBackOff_Schedule(t *testing.T) {
	policy := submit.DefaultBackOff()

	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}
	for i, wantDelay := range want {
		got := policy.NextBackOff()
		if got != wantDelay {
			t.Fatalf("delay %d = %v, want %v", i+1, got, wantDelay)
		}
	}

	// Each submission builds a fresh policy, so the schedule restarts.
	if got := submit.DefaultBackOff().NextBackOff(); got != time.Second {
		t.Fatalf("fresh policy first delay = %v, want 1s", got)
	}
}

func TestSubmit_AttemptCap(t *testing.T) {
	var requests atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	o := submit.New(&schema.Submission{Endpoint: server.URL, ErrorMessage: "Could not save"},
		submit.WithHTTPClient(server.Client()),
		submit.WithBackOff(zeroBackOff()),
	)

	_, err := o.Submit(context.Background(), nil)
	if err == nil {
		t.Fatal("persistent 500s should fail")
	}
	if requests.Load() != 3 {
		t.Fatalf("requests = %d, want 3 attempts", requests.Load())
	}
	if o.RetryCount() != 2 {
		t.Fatalf("retry count = %d, want 2", o.RetryCount())
	}
	if o.State() != submit.StateError {
		t.Fatalf("state = %s", o.State())
	}
	var httpErr *submit.HTTPError
	if !errors.As(err, &httpErr) || httpErr.Status != http.StatusInternalServerError {
		t.Fatalf("err = %v", err)
	}
	if got := err.Error(); !strings.HasPrefix(got, "Could not save") {
		t.Fatalf("error should carry the configured message, got %q", got)
	}
}

func TestSubmit_ClientErrorIsTerminal(t *testing.T) {
	var requests atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		http.Error(w, "bad payload", http.StatusUnprocessableEntity)
	}))
	defer server.Close()

	o := submit.New(&schema.Submission{Endpoint: server.URL},
		submit.WithHTTPClient(server.Client()),
		submit.WithBackOff(zeroBackOff()),
	)

	_, err := o.Submit(context.Background(), nil)
	if err == nil {
		t.Fatal("4xx should fail")
	}
	if requests.Load() != 1 {
		t.Fatalf("4xx must not be retried, requests = %d", requests.Load())
	}
	var httpErr *submit.HTTPError
	if !errors.As(err, &httpErr) || httpErr.Status != http.StatusUnprocessableEntity {
		t.Fatalf("err = %v", err)
	}
	if httpErr.Retryable() {
		t.Fatal("4xx should not be retryable")
	}
}

func TestSubmit_NoEndpoint(t *testing.T) {
	o := submit.New(&schema.Submission{})
	if _, err := o.Submit(context.Background(), nil); err == nil {
		t.Fatal("missing endpoint should fail")
	}
	o = submit.New(nil)
	if _, err := o.Submit(context.Background(), nil); err == nil {
		t.Fatal("nil configuration should fail")
	}
}

func TestSubmit_CancelReturnsToIdle(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	o := submit.New(&schema.Submission{
		Endpoint:          server.URL,
		RedirectOnSuccess: "/thanks",
	},
		submit.WithHTTPClient(server.Client()),
		submit.WithOnRedirect(func(string) { t.Error("redirect should have been cancelled") }),
	)

	if _, err := o.Submit(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
	o.Cancel()
	if o.State() != submit.StateIdle {
		t.Fatalf("state after cancel = %s", o.State())
	}
}
