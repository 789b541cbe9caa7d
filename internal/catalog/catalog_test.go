package catalog

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParseValidCatalog(t *testing.T) {
	data := []byte(`
default_site: docs
sites:
  - id: docs
    name: Docs
    url: https://docs.example.com
  - id: shared
    url: https://app.example.com
    icon: "🧪"
    shared_session: true
`)
	f, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(f.Sites) != 2 {
		t.Fatalf("sites = %d; want 2", len(f.Sites))
	}
	if got := f.Sites[0].Icon; got != DefaultIcon {
		t.Fatalf("default icon = %q; want %q", got, DefaultIcon)
	}
	if got := f.Sites[1].Name; got != "shared" {
		t.Fatalf("name fallback = %q; want %q", got, "shared")
	}
	if !f.Sites[1].SharedSession {
		t.Fatal("shared_session = false; want true")
	}
}

func TestParseRejectsInvalid(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		wantErr string
	}{
		{"empty", `sites: []`, "at least one site"},
		{"missing id", "sites:\n  - url: https://a.example\n", "missing id"},
		{"missing url", "sites:\n  - id: a\n", "missing url"},
		{"bad scheme", "sites:\n  - id: a\n    url: ftp://a.example\n", "invalid url"},
		{"duplicate", "sites:\n  - id: a\n    url: https://a.example\n  - id: a\n    url: https://b.example\n", "duplicate"},
		{"unknown default", "default_site: z\nsites:\n  - id: a\n    url: https://a.example\n", "default_site"},
		{"yaml", "sites: [", "sites config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Parse() error = %v; want %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadOrDefaultMissingFile(t *testing.T) {
	c, err := LoadOrDefault(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadOrDefault() error = %v", err)
	}
	if got := c.Default().ID; got != "deepseek" {
		t.Fatalf("Default() = %q; want deepseek", got)
	}
	if got := len(c.Sites()); got != 6 {
		t.Fatalf("Sites() = %d; want 6", got)
	}
}

func TestCatalogGet(t *testing.T) {
	c := New(Defaults())
	s, ok := c.Get(" chatgpt ")
	if !ok || !s.LoginRequired {
		t.Fatalf("Get(chatgpt) = %+v, %v", s, ok)
	}
	if _, ok := c.Get("nope"); ok {
		t.Fatal("Get(nope) found")
	}
}

func TestWatchReloadsCatalog(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sites.yaml")
	write := func(doc string) {
		t.Helper()
		if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	write("sites:\n  - id: a\n    url: https://a.example\n")

	c, err := LoadOrDefault(path)
	if err != nil {
		t.Fatalf("LoadOrDefault() error = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := c.Watch(ctx, path); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	write("sites: [")
	write("sites:\n  - id: b\n    url: https://b.example\n")

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := c.Get("b"); ok {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("catalog was not reloaded")
}
