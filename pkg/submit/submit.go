// Package submit sends the final form payload to the configured endpoint
// with retry on transient failures. The orchestrator moves through
// idle -> submitting -> success | error; a failed submission may re-enter
// submitting through the retry policy before the error state is surfaced.
package submit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/goliatone/go-formflow/pkg/schema"
)

// State names the orchestrator's lifecycle position.
type State string

const (
	StateIdle       State = "idle"
	StateSubmitting State = "submitting"
	StateSuccess    State = "success"
	StateError      State = "error"
)

const (
	defaultMaxAttempts   = 3
	defaultInitialDelay  = time.Second
	defaultRedirectDelay = time.Second
)

// HTTPError carries a non-2xx submission response. Status 0 marks a
// transport failure with no response at all.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	if e.Status == 0 {
		return "submit: network failure"
	}
	return fmt.Sprintf("submit: endpoint returned %d", e.Status)
}

// Retryable reports whether the failure is worth another attempt: network
// failures and server errors are, client errors are terminal.
func (e *HTTPError) Retryable() bool {
	return e.Status == 0 || e.Status >= 500
}

// Result describes a finished submission.
type Result struct {
	Status  int
	Body    map[string]any
	Message string
}

// Option customises an Orchestrator.
type Option func(*Orchestrator)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(o *Orchestrator) {
		if client != nil {
			o.client = client
		}
	}
}

// WithBackOff replaces the retry schedule. Tests inject a constant zero
// backoff here to avoid real sleeps.
func WithBackOff(factory func() backoff.BackOff) Option {
	return func(o *Orchestrator) {
		o.backoffFactory = factory
	}
}

// WithMaxAttempts caps the total number of attempts (first try included).
func WithMaxAttempts(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxAttempts = n
		}
	}
}

// WithOnStateChange registers an observer for lifecycle transitions.
func WithOnStateChange(fn func(State)) Option {
	return func(o *Orchestrator) {
		o.onState = fn
	}
}

// WithOnRedirect registers the redirect handler invoked after a successful
// submission when the schema configures redirectOnSuccess. The call is
// delayed by one second and cancelled by Cancel.
func WithOnRedirect(fn func(url string)) Option {
	return func(o *Orchestrator) {
		o.onRedirect = fn
	}
}

// Orchestrator submits one form's payload according to its submission
// configuration.
type Orchestrator struct {
	cfg            *schema.Submission
	client         *http.Client
	maxAttempts    int
	backoffFactory func() backoff.BackOff
	onState        func(State)
	onRedirect     func(url string)
	redirectDelay  time.Duration

	mu            sync.Mutex
	state         State
	retryCount    int
	lastResult    *Result
	redirectTimer *time.Timer
}

// DefaultBackOff returns the retry schedule used when no override is
// configured: one second before the first retry, doubling each attempt, no
// jitter, capped at thirty seconds.
func DefaultBackOff() backoff.BackOff {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = defaultInitialDelay
	policy.Multiplier = 2
	policy.RandomizationFactor = 0
	policy.MaxInterval = 30 * time.Second
	return policy
}

// New builds an Orchestrator for the given submission configuration.
func New(cfg *schema.Submission, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:           cfg,
		client:        http.DefaultClient,
		maxAttempts:   defaultMaxAttempts,
		redirectDelay: defaultRedirectDelay,
		state:         StateIdle,
	}
	o.backoffFactory = DefaultBackOff
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o
}

// State returns the current lifecycle state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// RetryCount returns how many retries the current or last submission used.
// It resets to zero when a submission succeeds.
func (o *Orchestrator) RetryCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.retryCount
}

// LastResult returns the most recent successful submission, if any.
func (o *Orchestrator) LastResult() *Result {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastResult
}

// Submit sends the payload. Transient failures (network errors, 5xx) are
// retried with exponential backoff up to the attempt cap; client errors fail
// immediately. On success the submitted snapshot is kept and the redirect,
// when configured, fires after the redirect delay.
func (o *Orchestrator) Submit(ctx context.Context, payload map[string]any) (*Result, error) {
	if o.cfg == nil || o.cfg.Endpoint == "" {
		return nil, errors.New("submit: no endpoint configured")
	}

	o.setState(StateSubmitting)
	o.mu.Lock()
	o.retryCount = 0
	o.mu.Unlock()

	body, err := json.Marshal(payload)
	if err != nil {
		o.setState(StateError)
		return nil, fmt.Errorf("submit: encode payload: %w", err)
	}

	attempts := 0
	operation := func() (*Result, error) {
		attempts++
		result, err := o.attempt(ctx, body)
		if err == nil {
			return result, nil
		}
		var httpErr *HTTPError
		if errors.As(err, &httpErr) && !httpErr.Retryable() {
			return nil, backoff.Permanent(err)
		}
		if attempts >= o.maxAttempts {
			return nil, backoff.Permanent(err)
		}
		o.mu.Lock()
		o.retryCount++
		o.mu.Unlock()
		return nil, err
	}

	result, err := backoff.RetryWithData(operation, backoff.WithContext(o.backoffFactory(), ctx))
	if err != nil {
		o.setState(StateError)
		return nil, o.wrapFailure(err)
	}

	o.mu.Lock()
	o.retryCount = 0
	o.lastResult = result
	o.mu.Unlock()
	o.setState(StateSuccess)
	o.scheduleRedirect()
	return result, nil
}

// Cancel stops a pending redirect and returns the orchestrator to idle. A
// submission already in flight still finishes through its own context.
func (o *Orchestrator) Cancel() {
	o.mu.Lock()
	if o.redirectTimer != nil {
		o.redirectTimer.Stop()
		o.redirectTimer = nil
	}
	o.state = StateIdle
	o.retryCount = 0
	fn := o.onState
	o.mu.Unlock()
	if fn != nil {
		fn(StateIdle)
	}
}

func (o *Orchestrator) attempt(ctx context.Context, body []byte) (*Result, error) {
	method := o.cfg.Method
	if method == "" {
		method = http.MethodPost
	}
	req, err := http.NewRequestWithContext(ctx, method, o.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	for name, value := range o.cfg.Headers {
		req.Header.Set(name, value)
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, &HTTPError{Status: 0, Body: err.Error()}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &HTTPError{Status: resp.StatusCode, Body: string(raw)}
	}

	result := &Result{Status: resp.StatusCode, Message: o.successMessage()}
	if len(raw) > 0 {
		var decoded map[string]any
		if err := json.Unmarshal(raw, &decoded); err == nil {
			result.Body = decoded
		}
	}
	return result, nil
}

func (o *Orchestrator) wrapFailure(err error) error {
	msg := o.cfg.ErrorMessage
	if msg == "" {
		msg = "Submission failed. Please try again."
	}
	return fmt.Errorf("%s: %w", msg, err)
}

func (o *Orchestrator) successMessage() string {
	if o.cfg.SuccessMessage != "" {
		return o.cfg.SuccessMessage
	}
	return "Form submitted successfully"
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	fn := o.onState
	o.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

func (o *Orchestrator) scheduleRedirect() {
	if o.cfg.RedirectOnSuccess == "" || o.onRedirect == nil {
		return
	}
	target := o.cfg.RedirectOnSuccess
	o.mu.Lock()
	o.redirectTimer = time.AfterFunc(o.redirectDelay, func() {
		o.onRedirect(target)
	})
	o.mu.Unlock()
}
