package schema_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/goliatone/go-formflow/pkg/schema"
)

func TestLoad_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "form.json")
	if err := os.WriteFile(path, []byte(contactJSON), 0o644); err != nil {
		t.Fatal(err)
	}

	form, err := schema.Load(context.Background(), schema.SourceFromFile(path))
	if err != nil {
		t.Fatal(err)
	}
	if form.Title != "Contact" {
		t.Fatalf("title = %q", form.Title)
	}
}

func TestLoad_FromFS(t *testing.T) {
	fsys := fstest.MapFS{
		"schemas/contact.yml": &fstest.MapFile{Data: []byte(contactYAML)},
	}

	form, err := schema.Load(context.Background(), schema.SourceFromFS(fsys, "schemas/contact.yml"))
	if err != nil {
		t.Fatal(err)
	}
	if form.Title != "Contact" {
		t.Fatalf("title = %q", form.Title)
	}
}

func TestLoad_FromURL(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, contactJSON)
	}))
	defer server.Close()

	form, err := schema.Load(context.Background(), schema.SourceFromURL(server.URL),
		schema.WithHTTPClient(server.Client()))
	if err != nil {
		t.Fatal(err)
	}
	if form.Title != "Contact" {
		t.Fatalf("title = %q", form.Title)
	}
}

func TestLoad_URLFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer server.Close()

	_, err := schema.Load(context.Background(), schema.SourceFromURL(server.URL),
		schema.WithHTTPClient(server.Client()))
	if err == nil {
		t.Fatal("404 should fail")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := schema.Load(context.Background(), schema.SourceFromFile(filepath.Join(t.TempDir(), "nope.json")))
	if err == nil {
		t.Fatal("missing file should fail")
	}
}

func TestSourceFromURL_PanicsOnGarbage(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("invalid URL should panic")
		}
	}()
	schema.SourceFromURL("://not-a-url")
}
