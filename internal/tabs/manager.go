package tabs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/dgnsrekt/promptdock/internal/catalog"
	"github.com/dgnsrekt/promptdock/internal/errs"
	"github.com/dgnsrekt/promptdock/internal/events"
	"github.com/dgnsrekt/promptdock/internal/layout"
	"github.com/dgnsrekt/promptdock/internal/surface"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const (
	DedupAlwaysNew = "always_new"
	DedupReuse     = "reuse"

	DefaultMaxTabs     = 8
	DefaultLoadTimeout = 15 * time.Second
)

// ErrClosed is returned by CreateTab after CloseAll.
var ErrClosed = errors.New("tabs: manager closed")

// Layout is the part of the layout controller the manager drives.
type Layout interface {
	ApplyLayout(ctx context.Context) error
	Trigger(reason string)
}

type noopLayout struct{}

func (noopLayout) ApplyLayout(context.Context) error { return nil }
func (noopLayout) Trigger(string)                    {}

type Config struct {
	MaxTabs     int
	DedupPolicy string
	LoadTimeout time.Duration
}

// Target is what an injection needs from the active tab.
type Target struct {
	Tab     Tab
	Surface surface.Evaluator
	Gone    <-chan struct{}
}

// Manager is the tab registry. One mutex guards all state; surface I/O
// happens outside it.
type Manager struct {
	cfg     Config
	factory surface.Factory
	pub     events.Publisher

	mu       sync.Mutex
	layout   Layout
	onPopup  func(tabID, url string)
	onGone   func(Tab)
	entries  map[string]*entry
	pending  map[string]*entry
	order    []string
	activeID string
	shut     bool

	bg sync.WaitGroup
}

func NewManager(cfg Config, factory surface.Factory, pub events.Publisher) *Manager {
	if cfg.MaxTabs <= 0 {
		cfg.MaxTabs = DefaultMaxTabs
	}
	if cfg.LoadTimeout <= 0 {
		cfg.LoadTimeout = DefaultLoadTimeout
	}
	if cfg.DedupPolicy == "" {
		cfg.DedupPolicy = DedupAlwaysNew
	}
	if pub == nil {
		pub = events.Discard
	}
	return &Manager{
		cfg:     cfg,
		factory: factory,
		pub:     pub,
		layout:  noopLayout{},
		entries: make(map[string]*entry),
		pending: make(map[string]*entry),
	}
}

// SetLayout wires the layout controller after both sides exist.
func (m *Manager) SetLayout(l Layout) {
	if l == nil {
		l = noopLayout{}
	}
	m.mu.Lock()
	m.layout = l
	m.mu.Unlock()
}

// OnPopup registers the handler for window-open requests from tab content.
// The handler runs on the surface event path and must not block.
func (m *Manager) OnPopup(fn func(tabID, url string)) {
	m.mu.Lock()
	m.onPopup = fn
	m.mu.Unlock()
}

// OnGone registers fn to be told about tabs whose surface died on its own
// (crash, renderer killed, browser disconnect). Explicit closes are not
// reported.
func (m *Manager) OnGone(fn func(Tab)) {
	m.mu.Lock()
	m.onGone = fn
	m.mu.Unlock()
}

func (m *Manager) currentLayout() Layout {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.layout
}

// CreateTab opens site in a new surface and makes it the active tab.
func (m *Manager) CreateTab(ctx context.Context, site catalog.Site) (Tab, error) {
	site.URL = strings.TrimSpace(site.URL)
	if site.URL == "" {
		return Tab{}, errs.New(errs.CodeInvalidArgument, "url is required", nil)
	}
	if u, err := url.Parse(site.URL); err != nil || u.Scheme == "" {
		return Tab{}, errs.New(errs.CodeInvalidArgument, fmt.Sprintf("invalid url %q", site.URL), err)
	}
	if site.Name == "" {
		site.Name = site.URL
	}
	if site.Icon == "" {
		site.Icon = DefaultIcon
	}

	m.mu.Lock()
	if m.shut {
		m.mu.Unlock()
		return Tab{}, ErrClosed
	}
	if m.cfg.DedupPolicy == DedupReuse {
		if id := m.findReusableLocked(site); id != "" {
			m.mu.Unlock()
			slog.Info("reusing tab", "tab_id", id, "site", site.ID)
			if err := m.SwitchTab(ctx, id); err != nil {
				return Tab{}, err
			}
			return m.Get(id)
		}
	}
	if len(m.entries)+len(m.pending) >= m.cfg.MaxTabs {
		m.mu.Unlock()
		return Tab{}, errs.New(errs.CodeCapacityExceeded, fmt.Sprintf("maximum of %d tabs reached", m.cfg.MaxTabs), nil)
	}

	now := time.Now()
	id := uuid.NewString()
	e := &entry{
		tab: Tab{
			ID:        id,
			SiteID:    site.ID,
			SiteName:  site.Name,
			SiteIcon:  site.Icon,
			URL:       site.URL,
			Title:     site.Name,
			IsLoading: true,
			State:     StateCreated,
			CreatedAt: now,
		},
		ready: make(chan struct{}),
		gone:  make(chan struct{}),
	}
	m.pending[id] = e
	m.mu.Unlock()

	surf, err := m.factory.Create(ctx, surface.CreateOptions{
		Partition: surface.PartitionFor(id, site.SharedSession),
		Observer:  func(ev surface.Event) { m.handleEvent(id, ev) },
	})
	if err != nil {
		m.mu.Lock()
		delete(m.pending, id)
		m.mu.Unlock()
		return Tab{}, err
	}

	m.mu.Lock()
	delete(m.pending, id)
	if m.shut {
		m.mu.Unlock()
		_ = surf.Close(ctx)
		return Tab{}, ErrClosed
	}
	if e.goneEarly {
		m.mu.Unlock()
		_ = surf.Close(ctx)
		slog.Warn("tab surface gone before registration", "tab_id", id, "site", site.ID)
		return Tab{}, errs.New(errs.CodeSurfaceGone, "surface went away while the tab was opening", nil)
	}
	e.surface = surf
	if e.tab.State == StateCreated {
		e.tab.State = StateLoading
	}
	if !e.settled() {
		m.armLoadTimerLocked(id, e)
	}
	m.entries[id] = e
	m.order = append(m.order, id)
	var deactivated []Update
	for _, u := range m.activateLocked(id, now) {
		if u.TabID != id {
			deactivated = append(deactivated, u)
		}
	}
	created := e.tab
	lay := m.layout
	m.mu.Unlock()

	slog.Info("tab created", "tab_id", id, "site", site.ID, "url", site.URL, "surface", surf.ID())
	m.pub.Publish(events.TabCreated, created)
	m.publishUpdates(deactivated)
	m.pub.Publish(events.NavigationStateChanged, created.navigationState())
	if err := lay.ApplyLayout(ctx); err != nil {
		slog.Warn("layout apply after create failed", "tab_id", id, "error", err)
	}
	lay.Trigger("tab-created")

	if err := surf.Navigate(ctx, site.URL); err != nil {
		slog.Warn("initial navigation failed", "tab_id", id, "url", site.URL, "error", err)
		m.failLoad(id, "failed to load: "+site.Name)
	}
	return m.Get(id)
}

func (m *Manager) findReusableLocked(site catalog.Site) string {
	if site.ID != "" {
		for _, id := range m.order {
			if m.entries[id].tab.SiteID == site.ID {
				return id
			}
		}
	}
	want := origin(site.URL)
	if want == "" {
		return ""
	}
	for _, id := range m.order {
		if origin(m.entries[id].tab.URL) == want {
			return id
		}
	}
	return ""
}

// activateLocked marks id active and every other tab inactive. It returns a
// tab-updated payload for each tab whose is_active flag changed.
func (m *Manager) activateLocked(id string, now time.Time) []Update {
	var changed []Update
	for _, other := range m.order {
		e := m.entries[other]
		want := other == id
		if e.tab.IsActive == want {
			continue
		}
		e.tab.IsActive = want
		fields := map[string]any{"is_active": want}
		if want {
			e.tab.LastActivatedAt = now
			fields["last_activated_at"] = now
		}
		changed = append(changed, Update{TabID: other, Fields: fields})
	}
	m.activeID = id
	if e, ok := m.entries[id]; ok {
		e.tab.LastActivatedAt = now
	}
	return changed
}

func (m *Manager) publishUpdates(upds []Update) {
	for _, u := range upds {
		m.pub.Publish(events.TabUpdated, u)
	}
}

func (m *Manager) failLoad(id, title string) {
	m.mu.Lock()
	e, ok := m.entries[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	e.tab.Title = title
	m.settleLocked(e)
	upd := Update{TabID: id, Fields: map[string]any{"title": title, "is_loading": false, "state": e.tab.State}}
	active := e.tab.IsActive
	snap := e.tab
	m.mu.Unlock()

	m.pub.Publish(events.TabUpdated, upd)
	if active {
		m.pub.Publish(events.NavigationStateChanged, snap.navigationState())
	}
}

// CloseTab removes a tab and releases its surface.
func (m *Manager) CloseTab(ctx context.Context, id string) error {
	m.mu.Lock()
	e, successor, promoted, ok := m.removeLocked(id)
	lay := m.layout
	var next Tab
	if successor != "" {
		next = m.entries[successor].tab
	}
	m.mu.Unlock()
	if !ok {
		return errs.New(errs.CodeNotFound, fmt.Sprintf("tab %q not found", id), nil)
	}

	if err := e.surface.Close(ctx); err != nil && !errs.Is(err, errs.CodeSurfaceGone) {
		slog.Warn("surface close failed", "tab_id", id, "error", err)
	}
	slog.Info("tab closed", "tab_id", id, "successor", successor)
	m.pub.Publish(events.TabClosed, Closed{TabID: id})
	m.publishUpdates(promoted)
	if successor != "" {
		m.pub.Publish(events.NavigationStateChanged, next.navigationState())
	}
	if err := lay.ApplyLayout(ctx); err != nil {
		slog.Warn("layout apply after close failed", "error", err)
	}
	return nil
}

// removeLocked drops id from the registry and signals its gone channel.
// When the active tab goes away the first remaining tab in creation order
// takes over; the returned updates announce the promotion.
func (m *Manager) removeLocked(id string) (*entry, string, []Update, bool) {
	e, ok := m.entries[id]
	if !ok {
		return nil, "", nil, false
	}
	delete(m.entries, id)
	for i, other := range m.order {
		if other == id {
			m.order = append(m.order[:i:i], m.order[i+1:]...)
			break
		}
	}
	if e.loadTimer != nil {
		e.loadTimer.Stop()
	}
	e.tab.State = StateClosed
	e.tab.IsActive = false
	close(e.gone)

	successor := ""
	var promoted []Update
	if m.activeID == id {
		m.activeID = ""
		if len(m.order) > 0 {
			successor = m.order[0]
			promoted = m.activateLocked(successor, time.Now())
		}
	}
	return e, successor, promoted, true
}

// SwitchTab makes id the active tab. Switching to the active tab only
// re-verifies the layout.
func (m *Manager) SwitchTab(ctx context.Context, id string) error {
	m.mu.Lock()
	e, ok := m.entries[id]
	if !ok {
		m.mu.Unlock()
		return errs.New(errs.CodeNotFound, fmt.Sprintf("tab %q not found", id), nil)
	}
	lay := m.layout
	if m.activeID == id {
		m.mu.Unlock()
		lay.Trigger("tab-switch")
		return nil
	}
	changed := m.activateLocked(id, time.Now())
	snap := e.tab
	m.mu.Unlock()

	slog.Debug("tab switched", "tab_id", id)
	if err := lay.ApplyLayout(ctx); err != nil {
		slog.Warn("layout apply after switch failed", "tab_id", id, "error", err)
	}
	lay.Trigger("tab-switch")
	m.publishUpdates(changed)
	m.pub.Publish(events.NavigationStateChanged, snap.navigationState())
	return nil
}

// NavigateTab performs a history or navigation action on a tab.
func (m *Manager) NavigateTab(ctx context.Context, id, action, rawURL string) error {
	m.mu.Lock()
	e, ok := m.entries[id]
	var snap Tab
	var surf surface.Surface
	if ok {
		snap = e.tab
		surf = e.surface
	}
	m.mu.Unlock()
	if !ok {
		return errs.New(errs.CodeNotFound, fmt.Sprintf("tab %q not found", id), nil)
	}

	switch strings.ToLower(strings.TrimSpace(action)) {
	case ActionBack:
		if !snap.CanGoBack {
			return nil
		}
		return surf.GoBack(ctx)
	case ActionForward:
		if !snap.CanGoForward {
			return nil
		}
		return surf.GoForward(ctx)
	case ActionReload:
		return surf.Reload(ctx)
	case ActionStop:
		return surf.Stop(ctx)
	case ActionNavigate:
		rawURL = strings.TrimSpace(rawURL)
		if rawURL == "" {
			return errs.New(errs.CodeInvalidArgument, "url is required for navigate", nil)
		}
		if u, err := url.Parse(rawURL); err != nil || u.Scheme == "" {
			return errs.New(errs.CodeInvalidArgument, fmt.Sprintf("invalid url %q", rawURL), err)
		}
		return surf.Navigate(ctx, rawURL)
	default:
		return errs.New(errs.CodeInvalidArgument, fmt.Sprintf("unknown action %q", action), nil)
	}
}

// Get returns a snapshot of one tab.
func (m *Manager) Get(id string) (Tab, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return Tab{}, errs.New(errs.CodeNotFound, fmt.Sprintf("tab %q not found", id), nil)
	}
	return e.tab, nil
}

// Tabs returns snapshots of all tabs in creation order.
func (m *Manager) Tabs() []Tab {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Tab, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.entries[id].tab)
	}
	return out
}

func (m *Manager) ActiveTab() (Tab, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[m.activeID]
	if !ok {
		return Tab{}, false
	}
	return e.tab, true
}

func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// ActiveTarget returns the active tab with its evaluator and gone channel.
func (m *Manager) ActiveTarget() (Target, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[m.activeID]
	if !ok {
		return Target{}, errs.New(errs.CodeNotFound, "no active tab", nil)
	}
	return Target{Tab: e.tab, Surface: e.surface, Gone: e.gone}, nil
}

// Gone returns a channel closed when the tab is removed.
func (m *Manager) Gone(id string) (<-chan struct{}, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return nil, false
	}
	return e.gone, true
}

// WaitReady blocks until the tab has settled its current load.
func (m *Manager) WaitReady(ctx context.Context, id string) error {
	m.mu.Lock()
	e, ok := m.entries[id]
	var ready, gone chan struct{}
	if ok {
		ready, gone = e.ready, e.gone
	}
	m.mu.Unlock()
	if !ok {
		return errs.New(errs.CodeNotFound, fmt.Sprintf("tab %q not found", id), nil)
	}
	select {
	case <-ready:
		return nil
	case <-gone:
		return errs.New(errs.CodeSurfaceGone, "tab closed while loading", nil)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Placements lists every surface for the layout controller.
func (m *Manager) Placements() []layout.Placement {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]layout.Placement, 0, len(m.order))
	for _, id := range m.order {
		e := m.entries[id]
		out = append(out, layout.Placement{ID: id, Surface: e.surface, Active: id == m.activeID})
	}
	return out
}

// CloseAll closes every tab and refuses new ones. Used on shutdown.
func (m *Manager) CloseAll(ctx context.Context) error {
	m.mu.Lock()
	m.shut = true
	var closing []*entry
	for len(m.order) > 0 {
		e, _, _, _ := m.removeLocked(m.order[0])
		closing = append(closing, e)
	}
	m.mu.Unlock()

	var g errgroup.Group
	for _, e := range closing {
		g.Go(func() error {
			err := e.surface.Close(ctx)
			m.pub.Publish(events.TabClosed, Closed{TabID: e.tab.ID})
			if err != nil && !errs.Is(err, errs.CodeSurfaceGone) {
				return fmt.Errorf("close tab %s: %w", e.tab.ID, err)
			}
			return nil
		})
	}
	err := g.Wait()
	m.bg.Wait()
	slog.Info("all tabs closed", "count", len(closing))
	return err
}
