package adapter

import (
	"strings"
	"testing"
)

func TestResolveByURL(t *testing.T) {
	r := NewDefaultRegistry()
	tests := []struct {
		url  string
		want string
	}{
		{"https://chat.deepseek.com/a/chat/s/123", "deepseek"},
		{"https://chatgpt.com/", "chatgpt"},
		{"https://chat.openai.com/c/abc", "chatgpt"},
		{"https://claude.ai/new", "claude"},
		{"https://gemini.google.com/app", "gemini"},
		{"https://kimi.moonshot.cn/", "kimi"},
		{"https://tongyi.aliyun.com/qianwen/", "tongyi"},
		{"https://www.deepseek.com/", "deepseek"},
		{"https://example.com/chat", GenericID},
		{"https://notdeepseek.com/", GenericID},
		{"not a url", GenericID},
		{"", GenericID},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			if got := r.ResolveByURL(tt.url).ID(); got != tt.want {
				t.Fatalf("ResolveByURL(%q) = %q; want %q", tt.url, got, tt.want)
			}
		})
	}
}

func TestResolveByURLRegistrationOrder(t *testing.T) {
	first := Platform{Key: "first", Hosts: []string{"example.com"}, Chain: []string{"textarea"}}
	second := Platform{Key: "second", Hosts: []string{"example.com"}, Chain: []string{"input"}}
	r, err := NewRegistry(first, second)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	if got := r.ResolveByURL("https://example.com/").ID(); got != "first" {
		t.Fatalf("ResolveByURL() = %q; want %q", got, "first")
	}
}

func TestResolveByID(t *testing.T) {
	r := NewDefaultRegistry()
	a, ok := r.ResolveByID(" Claude ")
	if !ok || a.ID() != "claude" {
		t.Fatalf("ResolveByID() = %v, %v; want claude", a, ok)
	}
	if _, ok := r.ResolveByID("generic"); !ok {
		t.Fatal("ResolveByID(generic) not found")
	}
	if _, ok := r.ResolveByID("unknown"); ok {
		t.Fatal("ResolveByID(unknown) found; want miss")
	}
}

func TestResolveByIDMixedCaseRegistration(t *testing.T) {
	r, err := NewRegistry(Platform{Key: "MyChat", Name: "My Chat", Chain: []string{"textarea"}})
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	for _, id := range []string{"MyChat", "mychat", " MYCHAT "} {
		if a, ok := r.ResolveByID(id); !ok || a.DisplayName() != "My Chat" {
			t.Fatalf("ResolveByID(%q) = %v, %v; want My Chat", id, a, ok)
		}
	}
}

func TestNewRegistryRejectsBadAdapters(t *testing.T) {
	tests := []struct {
		name     string
		adapters []Adapter
		wantErr  string
	}{
		{"missing id", []Adapter{Platform{Chain: []string{"x"}}}, "missing id"},
		{"reserved", []Adapter{Platform{Key: GenericID, Chain: []string{"x"}}}, "reserved"},
		{"duplicate", []Adapter{Platform{Key: "a", Chain: []string{"x"}}, Platform{Key: "a", Chain: []string{"y"}}}, "duplicate"},
		{"no selectors", []Adapter{Platform{Key: "a"}}, "no selectors"},
		{"duplicate ignoring case", []Adapter{Platform{Key: "Docs", Chain: []string{"x"}}, Platform{Key: "docs", Chain: []string{"y"}}}, "duplicate"},
		{"reserved ignoring case", []Adapter{Platform{Key: "Generic", Chain: []string{"x"}}}, "reserved"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRegistry(tt.adapters...)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("NewRegistry() error = %v; want %q", err, tt.wantErr)
			}
		})
	}
}

func TestSelectorChainsEndWithCommonSelectors(t *testing.T) {
	r := NewDefaultRegistry()
	for _, d := range r.List() {
		sel := d.Selectors
		if len(sel) < len(commonSelectors) {
			t.Fatalf("%s: %d selectors; want at least %d", d.ID, len(sel), len(commonSelectors))
		}
		tail := sel[len(sel)-len(commonSelectors):]
		for i := range tail {
			if tail[i] != commonSelectors[i] {
				t.Fatalf("%s: selector[%d] = %q; want %q", d.ID, i, tail[i], commonSelectors[i])
			}
		}
	}
}

func TestSelectorsReturnsCopy(t *testing.T) {
	a, _ := NewDefaultRegistry().ResolveByID("deepseek")
	sel := a.Selectors()
	sel[0] = "mutated"
	if got := a.Selectors()[0]; got == "mutated" {
		t.Fatal("Selectors() exposed internal slice")
	}
}

func TestListIncludesRoutingFlag(t *testing.T) {
	list := NewDefaultRegistry().List()
	if got := list[len(list)-1].ID; got != GenericID {
		t.Fatalf("last descriptor = %q; want %q", got, GenericID)
	}
	routed := map[string]bool{}
	for _, d := range list {
		routed[d.ID] = d.RequiresExternalRouting
	}
	if !routed["chatgpt"] || routed["deepseek"] {
		t.Fatalf("routing flags = %v; want chatgpt routed and deepseek direct", routed)
	}
}
