// Package tabs owns the set of open content surfaces, which one is active,
// and the per-tab lifecycle driven by surface events.
package tabs

import (
	"net/url"
	"strings"
	"time"

	"github.com/dgnsrekt/promptdock/internal/surface"
)

type State string

const (
	StateCreated State = "created"
	StateLoading State = "loading"
	StateReady   State = "ready"
	StateClosed  State = "closed"
)

const DefaultIcon = "🌐"

// Tab is a snapshot of one open tab. The surface handle stays inside the
// manager.
type Tab struct {
	ID              string    `json:"id"`
	SiteID          string    `json:"site_id,omitempty"`
	SiteName        string    `json:"site_name"`
	SiteIcon        string    `json:"site_icon"`
	URL             string    `json:"url"`
	Title           string    `json:"title"`
	IsActive        bool      `json:"is_active"`
	IsLoading       bool      `json:"is_loading"`
	State           State     `json:"state"`
	CanGoBack       bool      `json:"can_go_back"`
	CanGoForward    bool      `json:"can_go_forward"`
	CreatedAt       time.Time `json:"created_at"`
	LastActivatedAt time.Time `json:"last_activated_at"`
}

// NavigationState is the payload of navigation-state-changed.
type NavigationState struct {
	TabID        string `json:"tab_id"`
	CanGoBack    bool   `json:"can_go_back"`
	CanGoForward bool   `json:"can_go_forward"`
	IsLoading    bool   `json:"is_loading"`
	CurrentURL   string `json:"current_url"`
	Title        string `json:"title"`
}

func (t Tab) navigationState() NavigationState {
	return NavigationState{
		TabID:        t.ID,
		CanGoBack:    t.CanGoBack,
		CanGoForward: t.CanGoForward,
		IsLoading:    t.IsLoading,
		CurrentURL:   t.URL,
		Title:        t.Title,
	}
}

// Update is the payload of tab-updated. Fields holds only what changed.
type Update struct {
	TabID  string         `json:"tab_id"`
	Fields map[string]any `json:"fields"`
}

// Closed is the payload of tab-closed.
type Closed struct {
	TabID string `json:"tab_id"`
}

// Navigation actions accepted by NavigateTab.
const (
	ActionBack     = "back"
	ActionForward  = "forward"
	ActionReload   = "reload"
	ActionStop     = "stop"
	ActionNavigate = "navigate"
)

type entry struct {
	tab     Tab
	surface surface.Surface

	ready     chan struct{}
	gone      chan struct{}
	loadTimer *time.Timer
	loadGen   int
	goneEarly bool
}

func (e *entry) settled() bool {
	select {
	case <-e.ready:
		return true
	default:
		return false
	}
}

// origin returns scheme://host for dedup matching, lowercased.
func origin(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return ""
	}
	return strings.ToLower(u.Scheme + "://" + u.Host)
}
