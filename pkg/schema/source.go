package schema

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"
)

// Source identifies where a schema document originates so Load can operate on
// files, fs.FS entries, or URLs without leaking implementation details.
type Source interface {
	Kind() SourceKind
	Location() string
}

// SourceKind enumerates the loader modalities.
type SourceKind string

const (
	SourceKindFile SourceKind = "file"
	SourceKindFS   SourceKind = "fs"
	SourceKindURL  SourceKind = "url"
)

type fileSource struct {
	path string
}

func (s fileSource) Kind() SourceKind { return SourceKindFile }
func (s fileSource) Location() string { return s.path }

// SourceFromFile returns a Source pointing to a file path.
func SourceFromFile(path string) Source {
	return fileSource{path: filepath.Clean(path)}
}

type fsSource struct {
	fsys fs.FS
	name string
}

func (s fsSource) Kind() SourceKind { return SourceKindFS }
func (s fsSource) Location() string { return s.name }

// SourceFromFS returns a Source identifying a resource inside an fs.FS.
func SourceFromFS(fsys fs.FS, name string) Source {
	return fsSource{fsys: fsys, name: name}
}

type urlSource struct {
	raw string
}

func (s urlSource) Kind() SourceKind { return SourceKindURL }
func (s urlSource) Location() string { return s.raw }

// SourceFromURL parses the supplied URL string and returns a Source. It
// panics if the URL is invalid to surface configuration mistakes early.
func SourceFromURL(raw string) Source {
	if raw == "" {
		panic("schema: empty URL source")
	}
	if _, err := url.ParseRequestURI(raw); err != nil {
		panic(fmt.Sprintf("schema: invalid URL %q: %v", raw, err))
	}
	return urlSource{raw: raw}
}

// LoadOption customises Load behaviour.
type LoadOption func(*loadConfig)

type loadConfig struct {
	client  *http.Client
	timeout time.Duration
}

// WithHTTPClient overrides the HTTP client used for URL sources.
func WithHTTPClient(client *http.Client) LoadOption {
	return func(cfg *loadConfig) {
		cfg.client = client
	}
}

// WithTimeout bounds URL fetches. Zero disables the bound.
func WithTimeout(timeout time.Duration) LoadOption {
	return func(cfg *loadConfig) {
		cfg.timeout = timeout
	}
}

// Load fetches the raw document behind src and parses it.
func Load(ctx context.Context, src Source, opts ...LoadOption) (*Form, error) {
	if src == nil {
		return nil, errors.New("schema: source is required")
	}
	cfg := loadConfig{client: http.DefaultClient, timeout: 30 * time.Second}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	var (
		raw []byte
		err error
	)
	switch typed := src.(type) {
	case fileSource:
		raw, err = os.ReadFile(typed.path)
	case fsSource:
		if typed.fsys == nil {
			return nil, errors.New("schema: fs source has no filesystem")
		}
		raw, err = fs.ReadFile(typed.fsys, typed.name)
	case urlSource:
		raw, err = loadURL(ctx, cfg, typed.raw)
	default:
		return nil, fmt.Errorf("schema: unsupported source kind %q", src.Kind())
	}
	if err != nil {
		return nil, fmt.Errorf("schema: load %s: %w", src.Location(), err)
	}
	return Parse(raw)
}

func loadURL(ctx context.Context, cfg loadConfig, rawURL string) ([]byte, error) {
	reqCtx := ctx
	var cancel context.CancelFunc
	if cfg.timeout > 0 {
		reqCtx, cancel = context.WithTimeout(ctx, cfg.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := cfg.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errors.New("unexpected status " + resp.Status)
	}
	return io.ReadAll(resp.Body)
}
