package form

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/goliatone/go-formflow/internal/coerce"
	"github.com/goliatone/go-formflow/pkg/schema"
)

// FetchOptions loads a field's option list from its optionsEndpoint. The
// endpoint must return a JSON array of {value, label} pairs. The field's
// loading flag is set for the duration of the call, and a current value that
// the fresh options no longer cover is cleared.
func (r *Runtime) FetchOptions(ctx context.Context, name string) error {
	idx, ok := r.fields[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownField, name)
	}
	f := &r.fieldList[idx]
	if f.OptionsEndpoint == "" {
		return fmt.Errorf("form: field %q has no options endpoint", name)
	}

	r.mu.Lock()
	r.store.SetLoading(name, true)
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.store.SetLoading(name, false)
		r.mu.Unlock()
	}()

	options, err := fetchOptionList(ctx, r.client, f.OptionsEndpoint)
	if err != nil {
		return fmt.Errorf("form: fetch options for %q: %w", name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.store.SetOptions(name, options)

	current, ok := r.store.Value(name)
	if !ok || coerce.IsEmpty(current) {
		return nil
	}
	for _, opt := range options {
		if coerce.Equal(current, opt.Value) {
			return nil
		}
	}
	r.store.SetValue(name, nil)
	return nil
}

func fetchOptionList(ctx context.Context, client *http.Client, endpoint string) ([]schema.Option, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}

	var options []schema.Option
	if err := json.NewDecoder(resp.Body).Decode(&options); err != nil {
		return nil, err
	}
	return options, nil
}
