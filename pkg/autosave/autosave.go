// Package autosave persists periodic form drafts with an absolute expiry.
// Storage trouble never interrupts the form: failures are reported to an
// optional log hook and otherwise swallowed, so the user can still submit
// even when persistence is unavailable.
package autosave

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-formflow/pkg/schema"
)

const dayMillis = 24 * 60 * 60 * 1000

// Draft is the persisted snapshot. ExpiresAt is epoch milliseconds; a draft
// read past its expiry is evicted and never returned.
type Draft struct {
	FormData  map[string]any `json:"formData"`
	ExpiresAt int64          `json:"expiresAt"`
}

// Option customises a Saver.
type Option func(*Saver)

// WithClock overrides the time source, for expiry tests.
func WithClock(now func() time.Time) Option {
	return func(s *Saver) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogf installs a log hook for storage failures.
func WithLogf(logf func(format string, args ...any)) Option {
	return func(s *Saver) {
		s.logf = logf
	}
}

// WithOnSave registers an observer invoked after every successful save, so
// hosts can drive a "draft saved" indicator.
func WithOnSave(fn func(at time.Time)) Option {
	return func(s *Saver) {
		s.onSave = fn
	}
}

// Saver owns the autosave timer for one form instance.
type Saver struct {
	cfg      *schema.Autosave
	store    Store
	snapshot func() map[string]any
	key      string
	now      func() time.Time
	logf     func(format string, args ...any)
	onSave   func(at time.Time)

	mu   sync.Mutex
	stop chan struct{}
}

// New builds a Saver. The snapshot callback supplies the form data to
// persist; the key falls back to a slug of the form title when the schema
// does not set one.
func New(cfg *schema.Autosave, formTitle string, store Store, snapshot func() map[string]any, opts ...Option) *Saver {
	s := &Saver{
		cfg:      cfg,
		store:    store,
		snapshot: snapshot,
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.key = draftKey(cfg, formTitle)
	return s
}

// Key returns the storage key drafts are written under.
func (s *Saver) Key() string {
	return s.key
}

// SetSnapshot replaces the snapshot callback. Hosts that must restore a draft
// before the form instance exists build the Saver first and attach the
// snapshot here.
func (s *Saver) SetSnapshot(snapshot func() map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot = snapshot
}

// Start launches the recurring save timer. A disabled configuration is a
// no-op. Stop cancels the timer.
func (s *Saver) Start() {
	if s.cfg == nil || !s.cfg.Enabled || s.store == nil {
		return
	}
	interval := time.Duration(s.cfg.IntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		return
	}
	stop := make(chan struct{})
	s.stop = stop

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.SaveNow()
			case <-stop:
				return
			}
		}
	}()
}

// Stop cancels the recurring timer. Safe to call repeatedly.
func (s *Saver) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		close(s.stop)
		s.stop = nil
	}
}

// SaveNow persists the current snapshot immediately.
func (s *Saver) SaveNow() {
	s.mu.Lock()
	snapshot := s.snapshot
	s.mu.Unlock()
	if s.store == nil || snapshot == nil {
		return
	}
	days := 7
	if s.cfg != nil && s.cfg.ExpirationDays > 0 {
		days = s.cfg.ExpirationDays
	}
	now := s.now()
	draft := Draft{
		FormData:  snapshot(),
		ExpiresAt: now.UnixMilli() + int64(days)*dayMillis,
	}
	raw, err := json.Marshal(draft)
	if err != nil {
		s.warn("autosave: encode draft: %v", err)
		return
	}
	if err := s.store.Set(s.key, string(raw)); err != nil {
		s.warn("autosave: persist draft: %v", err)
		return
	}
	if s.onSave != nil {
		s.onSave(now)
	}
}

// Restore loads the persisted draft. Expired and corrupted drafts are
// evicted and reported absent; the caller's current state is never touched
// on failure.
func (s *Saver) Restore() (map[string]any, bool) {
	if s.store == nil {
		return nil, false
	}
	raw, ok, err := s.store.Get(s.key)
	if err != nil {
		s.warn("autosave: read draft: %v", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}

	var draft Draft
	if err := json.Unmarshal([]byte(raw), &draft); err != nil {
		s.warn("autosave: corrupted draft evicted: %v", err)
		s.evict()
		return nil, false
	}
	if draft.ExpiresAt > 0 && s.now().UnixMilli() > draft.ExpiresAt {
		s.evict()
		return nil, false
	}
	return draft.FormData, true
}

// Clear removes the persisted draft, typically after a successful submit.
func (s *Saver) Clear() {
	s.evict()
}

func (s *Saver) evict() {
	if s.store == nil {
		return
	}
	if err := s.store.Delete(s.key); err != nil {
		s.warn("autosave: evict draft: %v", err)
	}
}

func (s *Saver) warn(format string, args ...any) {
	if s.logf != nil {
		s.logf(format, args...)
	}
}

func draftKey(cfg *schema.Autosave, title string) string {
	if cfg != nil && strings.TrimSpace(cfg.Key) != "" {
		return cfg.Key
	}
	slug := slugify(title)
	if slug == "" {
		return "formflow-draft"
	}
	return "formflow-" + slug
}

func slugify(title string) string {
	var out strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(strings.TrimSpace(title)) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			out.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				out.WriteByte('-')
				lastDash = true
			}
		}
	}
	return strings.TrimSuffix(out.String(), "-")
}
