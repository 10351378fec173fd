package validation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-formflow/internal/coerce"
	"github.com/goliatone/go-formflow/pkg/schema"
)

// AsyncState tracks a field's position in the remote validation lifecycle:
// idle until the first request fires, validating while one is in flight, then
// valid or invalid.
type AsyncState string

const (
	AsyncIdle       AsyncState = "idle"
	AsyncValidating AsyncState = "validating"
	AsyncValid      AsyncState = "valid"
	AsyncInvalid    AsyncState = "invalid"
)

// AsyncRunner debounces remote validation requests per field and guarantees
// last-request-wins: each fired request carries a per-field sequence number
// and a response is applied only if its number is still the latest. Stale
// responses are dropped silently.
type AsyncRunner struct {
	mu     sync.Mutex
	client *http.Client
	apply  func(field, message string)
	timers map[string]*time.Timer
	seqs   map[string]uint64
	states map[string]AsyncState
	closed bool
}

// NewAsyncRunner builds a runner. The apply callback receives the field name
// and the validation message (empty when the field is valid); it is invoked
// from a background goroutine.
func NewAsyncRunner(client *http.Client, apply func(field, message string)) *AsyncRunner {
	if client == nil {
		client = http.DefaultClient
	}
	if apply == nil {
		apply = func(string, string) {}
	}
	return &AsyncRunner{
		client: client,
		apply:  apply,
		timers: make(map[string]*time.Timer),
		seqs:   make(map[string]uint64),
		states: make(map[string]AsyncState),
	}
}

// Trigger schedules a validation request after the field's debounce window.
// Calling it again before the window elapses restarts the timer, so a burst
// of keystrokes produces a single request.
func (r *AsyncRunner) Trigger(ctx context.Context, f *schema.Field, value any) {
	if f == nil || f.Validations == nil || f.Validations.Async == nil {
		return
	}
	cfg := f.Validations.Async
	debounce := time.Duration(cfg.DebounceMs) * time.Millisecond
	if debounce <= 0 {
		debounce = 300 * time.Millisecond
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	if timer, ok := r.timers[f.Name]; ok {
		timer.Stop()
	}
	name := f.Name
	messages := f.Validations.Messages
	r.timers[name] = time.AfterFunc(debounce, func() {
		r.fire(ctx, name, cfg, messages, value)
	})
}

// Invalidate drops the field's pending timer and marks any in-flight request
// stale, so its result is discarded when it lands. Called when the field's
// value changes before the previous request resolved.
func (r *AsyncRunner) Invalidate(field string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if timer, ok := r.timers[field]; ok {
		timer.Stop()
		delete(r.timers, field)
	}
	r.seqs[field]++
	r.states[field] = AsyncIdle
}

// State returns the field's current async lifecycle state.
func (r *AsyncRunner) State(field string) AsyncState {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.states[field]; ok {
		return s
	}
	return AsyncIdle
}

// Close cancels pending timers and invalidates in-flight requests. The
// runner must not be used afterwards.
func (r *AsyncRunner) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	for _, timer := range r.timers {
		timer.Stop()
	}
	r.timers = make(map[string]*time.Timer)
}

func (r *AsyncRunner) fire(ctx context.Context, name string, cfg *schema.AsyncValidator, messages map[string]string, value any) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.seqs[name]++
	seq := r.seqs[name]
	r.states[name] = AsyncValidating
	r.mu.Unlock()

	valid, serverMsg, err := r.request(ctx, name, cfg, value)

	r.mu.Lock()
	if r.closed || r.seqs[name] != seq {
		// A newer request superseded this one; its result wins instead.
		r.mu.Unlock()
		return
	}
	if err != nil {
		// Inconclusive: the remote check could not run. Leave the field
		// unflagged rather than blocking the user on infrastructure trouble.
		r.states[name] = AsyncIdle
		r.mu.Unlock()
		return
	}
	if valid {
		r.states[name] = AsyncValid
	} else {
		r.states[name] = AsyncInvalid
	}
	r.mu.Unlock()

	if valid {
		r.apply(name, "")
		return
	}
	msg := cfg.Message
	if msg == "" {
		if custom, ok := messages[RuleAsync]; ok && custom != "" {
			msg = custom
		} else if serverMsg != "" {
			msg = serverMsg
		} else {
			msg = defaultMessages[RuleAsync]
		}
	}
	r.apply(name, msg)
}

type asyncResponse struct {
	Valid   *bool  `json:"valid"`
	Exists  *bool  `json:"exists"`
	Message string `json:"message"`
}

func (r *AsyncRunner) request(ctx context.Context, name string, cfg *schema.AsyncValidator, value any) (bool, string, error) {
	method := cfg.Method
	if method == "" {
		method = http.MethodPost
	}

	var req *http.Request
	var err error
	if method == http.MethodGet {
		target := cfg.Endpoint
		query := url.Values{}
		query.Set("field", name)
		query.Set("value", coerce.String(value))
		if strings.Contains(target, "?") {
			target += "&" + query.Encode()
		} else {
			target += "?" + query.Encode()
		}
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	} else {
		body, marshalErr := json.Marshal(map[string]any{"field": name, "value": value})
		if marshalErr != nil {
			return false, "", marshalErr
		}
		req, err = http.NewRequestWithContext(ctx, method, cfg.Endpoint, bytes.NewReader(body))
		if req != nil {
			req.Header.Set("Content-Type", "application/json")
		}
	}
	if err != nil {
		return false, "", err
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return false, "", err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, "", fmt.Errorf("validation: async endpoint returned %s", resp.Status)
	}

	var decoded asyncResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return false, "", err
	}

	exists := false
	if decoded.Exists != nil {
		exists = *decoded.Exists
	} else if decoded.Valid != nil {
		exists = *decoded.Valid
	}

	switch cfg.ValidWhen {
	case schema.ValidWhenExists:
		return exists, decoded.Message, nil
	case schema.ValidWhenNotExists:
		return !exists, decoded.Message, nil
	default:
		return decoded.Valid != nil && *decoded.Valid, decoded.Message, nil
	}
}
