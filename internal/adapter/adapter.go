// Package adapter holds the per-site injection strategies and the registry
// that picks one for a page.
package adapter

import (
	"context"
	"net/url"
	"strings"

	"github.com/dgnsrekt/promptdock/internal/surface"
)

// Adapter is a site strategy: how to recognise the site and where to type.
type Adapter interface {
	ID() string
	DisplayName() string
	Matches(rawURL string) bool
	Selectors() []string
	RequiresExternalRouting() bool
	Inject(ctx context.Context, ev surface.Evaluator, text string) (Match, error)
}

// Match describes the element that received the text.
type Match struct {
	Selector string `json:"selector"`
	Kind     string `json:"kind"`
	Tag      string `json:"tag"`
}

// Platform is the table-driven Adapter implementation. Values are treated
// as immutable once registered.
type Platform struct {
	Key             string
	Name            string
	Hosts           []string
	ExternalRouting bool
	Chain           []string
}

func (p Platform) ID() string                    { return p.Key }
func (p Platform) DisplayName() string           { return p.Name }
func (p Platform) RequiresExternalRouting() bool { return p.ExternalRouting }

func (p Platform) Selectors() []string {
	return append([]string(nil), p.Chain...)
}

// Matches reports whether the URL's host is one of the platform hosts or a
// subdomain of one.
func (p Platform) Matches(rawURL string) bool {
	host := hostOf(rawURL)
	if host == "" {
		return false
	}
	for _, h := range p.Hosts {
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	return false
}

func (p Platform) Inject(ctx context.Context, ev surface.Evaluator, text string) (Match, error) {
	return runInject(ctx, ev, p.Chain, text)
}

func hostOf(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	return strings.TrimPrefix(host, "www.")
}

// Descriptor is the wire form of an adapter.
type Descriptor struct {
	ID                      string   `json:"id"`
	DisplayName             string   `json:"display_name"`
	Hosts                   []string `json:"hosts,omitempty"`
	RequiresExternalRouting bool     `json:"requires_external_routing"`
	Selectors               []string `json:"selectors"`
}

func describe(a Adapter) Descriptor {
	d := Descriptor{
		ID:                      a.ID(),
		DisplayName:             a.DisplayName(),
		RequiresExternalRouting: a.RequiresExternalRouting(),
		Selectors:               a.Selectors(),
	}
	if p, ok := a.(Platform); ok {
		d.Hosts = append([]string(nil), p.Hosts...)
	}
	return d
}
