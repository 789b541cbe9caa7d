// Package catalog loads the site definitions tabs are opened from.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// DefaultIcon is shown for sites that do not set one.
const DefaultIcon = "🌐"

// Site is one openable web application.
type Site struct {
	ID            string `yaml:"id" json:"id"`
	Name          string `yaml:"name" json:"name"`
	URL           string `yaml:"url" json:"url"`
	Icon          string `yaml:"icon,omitempty" json:"icon,omitempty"`
	Category      string `yaml:"category,omitempty" json:"category,omitempty"`
	SharedSession bool   `yaml:"shared_session,omitempty" json:"shared_session,omitempty"`
	LoginRequired bool   `yaml:"login_required,omitempty" json:"login_required,omitempty"`
}

// File is the YAML document layout.
type File struct {
	DefaultSite string `yaml:"default_site"`
	Sites       []Site `yaml:"sites"`
}

// Defaults returns the bundled site list.
func Defaults() File {
	return File{
		DefaultSite: "deepseek",
		Sites: []Site{
			{ID: "deepseek", Name: "DeepSeek", URL: "https://chat.deepseek.com", Icon: "🤖", Category: "chat"},
			{ID: "chatgpt", Name: "ChatGPT", URL: "https://chat.openai.com", Icon: "🚀", Category: "chat", LoginRequired: true},
			{ID: "claude", Name: "Claude", URL: "https://claude.ai", Icon: "🎭", Category: "chat"},
			{ID: "gemini", Name: "Gemini", URL: "https://gemini.google.com", Icon: "💎", Category: "chat"},
			{ID: "kimi", Name: "Kimi", URL: "https://kimi.moonshot.cn", Icon: "🌙", Category: "chat"},
			{ID: "tongyi", Name: "通义千问", URL: "https://tongyi.aliyun.com", Icon: "🔮", Category: "chat"},
		},
	}
}

// Normalize fills defaults and validates a site.
func (s Site) Normalize() (Site, error) {
	s.ID = strings.TrimSpace(s.ID)
	s.Name = strings.TrimSpace(s.Name)
	s.URL = strings.TrimSpace(s.URL)
	if s.ID == "" {
		return s, errors.New("missing id")
	}
	if s.URL == "" {
		return s, fmt.Errorf("site %s: missing url", s.ID)
	}
	u, err := url.Parse(s.URL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return s, fmt.Errorf("site %s: invalid url %q", s.ID, s.URL)
	}
	if s.Name == "" {
		s.Name = s.ID
	}
	if s.Icon == "" {
		s.Icon = DefaultIcon
	}
	return s, nil
}

// Parse decodes and validates a catalog document.
func Parse(data []byte) (File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return File{}, fmt.Errorf("sites config: %w", err)
	}
	if len(f.Sites) == 0 {
		return File{}, errors.New("sites config: at least one site is required")
	}
	seen := make(map[string]bool, len(f.Sites))
	for i, s := range f.Sites {
		ns, err := s.Normalize()
		if err != nil {
			return File{}, fmt.Errorf("sites config: sites[%d]: %w", i, err)
		}
		if seen[ns.ID] {
			return File{}, fmt.Errorf("sites config: duplicate site id %q", ns.ID)
		}
		seen[ns.ID] = true
		f.Sites[i] = ns
	}
	if f.DefaultSite == "" {
		f.DefaultSite = f.Sites[0].ID
	}
	if !seen[f.DefaultSite] {
		return File{}, fmt.Errorf("sites config: default_site %q is not defined", f.DefaultSite)
	}
	return f, nil
}

// Load reads a catalog file. The error wraps os.ErrNotExist when the file is
// absent so callers can fall back to Defaults.
func Load(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("sites config: %w", err)
	}
	return Parse(data)
}

// Catalog is the live, swappable site list.
type Catalog struct {
	mu   sync.RWMutex
	file File
}

func New(f File) *Catalog {
	return &Catalog{file: f}
}

// LoadOrDefault loads path, falling back to the bundled sites when the file
// does not exist.
func LoadOrDefault(path string) (*Catalog, error) {
	if path == "" {
		return New(Defaults()), nil
	}
	f, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		slog.Info("sites config not found, using defaults", "path", path)
		return New(Defaults()), nil
	}
	if err != nil {
		return nil, err
	}
	return New(f), nil
}

func (c *Catalog) replace(f File) {
	c.mu.Lock()
	c.file = f
	c.mu.Unlock()
}

// Sites returns a copy of the site list.
func (c *Catalog) Sites() []Site {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Site(nil), c.file.Sites...)
}

func (c *Catalog) Get(id string) (Site, bool) {
	id = strings.TrimSpace(id)
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, s := range c.file.Sites {
		if s.ID == id {
			return s, true
		}
	}
	return Site{}, false
}

// Default returns the site opened at startup.
func (c *Catalog) Default() Site {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, s := range c.file.Sites {
		if s.ID == c.file.DefaultSite {
			return s
		}
	}
	return c.file.Sites[0]
}

// Watch reloads path whenever it changes until ctx is done. Invalid edits
// are logged and the previous catalog is kept. The parent directory is
// watched so editors that replace the file atomically are handled.
func (c *Catalog) Watch(ctx context.Context, path string) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("sites watch: %w", err)
	}
	if err := w.Add(filepath.Dir(path)); err != nil {
		_ = w.Close()
		return fmt.Errorf("sites watch: %w", err)
	}

	go func() {
		defer w.Close()
		target := filepath.Clean(path)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				f, err := Load(path)
				if err != nil {
					slog.Warn("sites config reload rejected", "path", path, "error", err)
					continue
				}
				c.replace(f)
				slog.Info("sites config reloaded", "path", path, "sites", len(f.Sites))
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				slog.Warn("sites watch error", "error", err)
			}
		}
	}()
	return nil
}
