package autosave_test

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/goliatone/go-formflow/pkg/autosave"
	"github.com/goliatone/go-formflow/pkg/schema"
)

type fakeClock struct {
	at time.Time
}

func (c *fakeClock) now() time.Time { return c.at }

func (c *fakeClock) advance(d time.Duration) { c.at = c.at.Add(d) }

func newClock() *fakeClock {
	return &fakeClock{at: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func TestSaver_SaveAndRestore(t *testing.T) {
	clock := newClock()
	store := autosave.NewMemoryStore()
	data := map[string]any{"name": "Ada"}

	saver := autosave.New(
		&schema.Autosave{Enabled: true, Key: "draft-key", ExpirationDays: 7},
		"Contact Form",
		store,
		func() map[string]any { return data },
		autosave.WithClock(clock.now),
	)

	if saver.Key() != "draft-key" {
		t.Fatalf("key = %q", saver.Key())
	}

	saver.SaveNow()
	got, ok := saver.Restore()
	if !ok {
		t.Fatal("draft should restore")
	}
	if diff := cmp.Diff(data, got); diff != "" {
		t.Fatalf("restored draft (-want +got):\n%s", diff)
	}
}

func TestSaver_ExpiredDraftEvicted(t *testing.T) {
	clock := newClock()
	store := autosave.NewMemoryStore()

	saver := autosave.New(
		&schema.Autosave{Enabled: true, ExpirationDays: 7},
		"Signup",
		store,
		func() map[string]any { return map[string]any{"email": "a@b.co"} },
		autosave.WithClock(clock.now),
	)

	saver.SaveNow()

	clock.advance(6 * 24 * time.Hour)
	if _, ok := saver.Restore(); !ok {
		t.Fatal("draft within its lifetime should restore")
	}

	clock.advance(2 * 24 * time.Hour)
	if _, ok := saver.Restore(); ok {
		t.Fatal("expired draft should not restore")
	}
	// Eviction is permanent: rolling the clock back does not resurrect it.
	clock.advance(-5 * 24 * time.Hour)
	if _, ok := saver.Restore(); ok {
		t.Fatal("evicted draft should stay gone")
	}
}

func TestSaver_CorruptedDraftEvicted(t *testing.T) {
	store := autosave.NewMemoryStore()
	var warnings []string

	saver := autosave.New(
		&schema.Autosave{Enabled: true},
		"Signup",
		store,
		func() map[string]any { return nil },
		autosave.WithLogf(func(format string, args ...any) {
			warnings = append(warnings, format)
		}),
	)

	if err := store.Set(saver.Key(), "{not json"); err != nil {
		t.Fatal(err)
	}
	if _, ok := saver.Restore(); ok {
		t.Fatal("corrupted draft should not restore")
	}
	if _, found, _ := store.Get(saver.Key()); found {
		t.Fatal("corrupted draft should be evicted")
	}
	if len(warnings) == 0 {
		t.Fatal("corruption should be reported to the log hook")
	}
}

func TestSaver_ClearRemovesDraft(t *testing.T) {
	store := autosave.NewMemoryStore()
	saver := autosave.New(
		&schema.Autosave{Enabled: true},
		"Signup",
		store,
		func() map[string]any { return map[string]any{"a": 1} },
	)

	saver.SaveNow()
	saver.Clear()
	if _, ok := saver.Restore(); ok {
		t.Fatal("cleared draft should not restore")
	}
}

func TestSaver_KeyFallsBackToTitleSlug(t *testing.T) {
	saver := autosave.New(&schema.Autosave{Enabled: true}, "Job Application  (2026)", autosave.NewMemoryStore(), nil)
	if saver.Key() != "formflow-job-application-2026" {
		t.Fatalf("key = %q", saver.Key())
	}

	saver = autosave.New(nil, "", autosave.NewMemoryStore(), nil)
	if saver.Key() != "formflow-draft" {
		t.Fatalf("empty title key = %q", saver.Key())
	}
}

func TestSaver_OnSaveObserver(t *testing.T) {
	clock := newClock()
	var savedAt []time.Time

	saver := autosave.New(
		&schema.Autosave{Enabled: true},
		"Signup",
		autosave.NewMemoryStore(),
		func() map[string]any { return nil },
		autosave.WithClock(clock.now),
		autosave.WithOnSave(func(at time.Time) { savedAt = append(savedAt, at) }),
	)

	saver.SaveNow()
	if len(savedAt) != 1 || !savedAt[0].Equal(clock.now()) {
		t.Fatalf("savedAt = %v", savedAt)
	}
}

func TestSaver_SetSnapshotAfterConstruction(t *testing.T) {
	store := autosave.NewMemoryStore()
	saver := autosave.New(&schema.Autosave{Enabled: true}, "Signup", store, nil)

	// Without a snapshot callback nothing is written.
	saver.SaveNow()
	if _, ok, _ := store.Get(saver.Key()); ok {
		t.Fatal("save without a snapshot should be a no-op")
	}

	saver.SetSnapshot(func() map[string]any { return map[string]any{"a": "b"} })
	saver.SaveNow()
	got, ok := saver.Restore()
	if !ok || got["a"] != "b" {
		t.Fatalf("restore = %v, %v", got, ok)
	}
}

func TestSaver_StartDisabledIsNoop(t *testing.T) {
	saver := autosave.New(&schema.Autosave{Enabled: false}, "Signup", autosave.NewMemoryStore(), nil)
	saver.Start()
	saver.Stop()
	saver.Stop()
}

func TestNewStoreFor_SelectsBackend(t *testing.T) {
	dir := t.TempDir()

	store, err := autosave.NewStoreFor(&schema.Autosave{Storage: "sessionStorage"}, dir)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := store.(*autosave.MemoryStore); !ok {
		t.Fatalf("sessionStorage backend = %T, want *MemoryStore", store)
	}

	store, err = autosave.NewStoreFor(&schema.Autosave{Storage: "localStorage"}, dir)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := store.(*autosave.FileStore); !ok {
		t.Fatalf("localStorage backend = %T, want *FileStore", store)
	}

	// Unset config falls through to the persistent backend.
	store, err = autosave.NewStoreFor(nil, dir)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := store.(*autosave.FileStore); !ok {
		t.Fatalf("default backend = %T, want *FileStore", store)
	}
}

func TestFileStore_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := autosave.NewFileStore(dir)
	if err != nil {
		t.Fatal(err)
	}

	if err := store.Set("my draft/key", `{"a":1}`); err != nil {
		t.Fatal(err)
	}
	value, ok, err := store.Get("my draft/key")
	if err != nil || !ok {
		t.Fatalf("Get = %q, %v, %v", value, ok, err)
	}
	if value != `{"a":1}` {
		t.Fatalf("value = %q", value)
	}

	if err := store.Delete("my draft/key"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := store.Get("my draft/key"); ok {
		t.Fatal("deleted key should be absent")
	}
	// Deleting again is fine.
	if err := store.Delete("my draft/key"); err != nil {
		t.Fatal(err)
	}
}
