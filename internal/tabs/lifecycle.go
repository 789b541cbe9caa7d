package tabs

import (
	"context"
	"log/slog"
	"time"

	"github.com/dgnsrekt/promptdock/internal/errs"
	"github.com/dgnsrekt/promptdock/internal/events"
	"github.com/dgnsrekt/promptdock/internal/surface"
)

const goneCloseTimeout = 5 * time.Second

type publication struct {
	typ     events.Type
	payload any
}

// handleEvent applies one surface event to its tab. It runs on the surface
// event path, so it only touches registry state and publishes.
func (m *Manager) handleEvent(id string, ev surface.Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in tab event handler", "tab_id", id, "event", ev.Kind, "panic", r)
		}
	}()

	if ev.Kind == surface.EventGone {
		m.handleGone(id)
		return
	}

	m.mu.Lock()
	e, registered := m.entries[id]
	if !registered {
		e = m.pending[id]
	}
	if e == nil {
		m.mu.Unlock()
		return
	}

	fields := map[string]any{}
	var popup func(string, string)

	switch ev.Kind {
	case surface.EventStartLoading:
		if e.tab.State != StateLoading || e.settled() {
			e.tab.State = StateLoading
			e.tab.IsLoading = true
			if e.settled() {
				e.ready = make(chan struct{})
			}
			fields["is_loading"] = true
			fields["state"] = StateLoading
			if registered {
				m.armLoadTimerLocked(id, e)
			}
		}
	case surface.EventDOMReady, surface.EventFinishLoad, surface.EventNavigated:
		if e.tab.IsLoading {
			m.settleLocked(e)
			fields["is_loading"] = false
			fields["state"] = e.tab.State
		}
	case surface.EventLoadFailed:
		if e.tab.IsLoading {
			m.settleLocked(e)
			fields["is_loading"] = false
			fields["state"] = e.tab.State
		}
		if ev.ErrorText != "" {
			fields["error"] = ev.ErrorText
		}
		slog.Warn("tab load failed", "tab_id", id, "url", ev.URL, "error", ev.ErrorText)
	case surface.EventHistoryChanged:
		if e.tab.CanGoBack != ev.CanGoBack {
			e.tab.CanGoBack = ev.CanGoBack
			fields["can_go_back"] = ev.CanGoBack
		}
		if e.tab.CanGoForward != ev.CanGoForward {
			e.tab.CanGoForward = ev.CanGoForward
			fields["can_go_forward"] = ev.CanGoForward
		}
	case surface.EventPopupRequested:
		popup = m.onPopup
	}

	if ev.URL != "" && ev.URL != e.tab.URL && ev.Kind != surface.EventPopupRequested && ev.Kind != surface.EventLoadFailed {
		e.tab.URL = ev.URL
		fields["url"] = ev.URL
	}
	if ev.Title != "" && ev.Title != e.tab.Title {
		e.tab.Title = ev.Title
		fields["title"] = ev.Title
	}

	var pubs []publication
	if registered && len(fields) > 0 {
		pubs = append(pubs, publication{events.TabUpdated, Update{TabID: id, Fields: fields}})
		if e.tab.IsActive {
			pubs = append(pubs, publication{events.NavigationStateChanged, e.tab.navigationState()})
		}
	}
	m.mu.Unlock()

	for _, p := range pubs {
		m.pub.Publish(p.typ, p.payload)
	}
	if popup != nil && ev.URL != "" {
		popup(id, ev.URL)
	}
}

// settleLocked finishes the current load: the ready channel closes and the
// load timer is cancelled.
func (m *Manager) settleLocked(e *entry) {
	e.tab.IsLoading = false
	if e.tab.State != StateClosed {
		e.tab.State = StateReady
	}
	if e.loadTimer != nil {
		e.loadTimer.Stop()
		e.loadTimer = nil
	}
	if !e.settled() {
		close(e.ready)
	}
}

func (m *Manager) armLoadTimerLocked(id string, e *entry) {
	if e.loadTimer != nil {
		e.loadTimer.Stop()
	}
	e.loadGen++
	gen := e.loadGen
	e.loadTimer = time.AfterFunc(m.cfg.LoadTimeout, func() { m.loadTimedOut(id, gen) })
}

func (m *Manager) loadTimedOut(id string, gen int) {
	m.mu.Lock()
	e, ok := m.entries[id]
	if !ok || e.loadGen != gen || !e.tab.IsLoading {
		m.mu.Unlock()
		return
	}
	m.settleLocked(e)
	upd := Update{TabID: id, Fields: map[string]any{"is_loading": false, "state": e.tab.State}}
	active := e.tab.IsActive
	snap := e.tab
	m.mu.Unlock()

	slog.Warn("tab load timed out", "tab_id", id, "timeout", m.cfg.LoadTimeout)
	m.pub.Publish(events.TabUpdated, upd)
	if active {
		m.pub.Publish(events.NavigationStateChanged, snap.navigationState())
	}
}

// handleGone removes a tab whose surface went away underneath us. The
// surface release and relayout run in the background.
func (m *Manager) handleGone(id string) {
	m.mu.Lock()
	e, successor, promoted, ok := m.removeLocked(id)
	if !ok {
		m.markPendingGoneLocked(id)
		m.mu.Unlock()
		return
	}
	var next Tab
	if successor != "" {
		next = m.entries[successor].tab
	}
	onGone := m.onGone
	m.bg.Add(1)
	m.mu.Unlock()

	slog.Warn("tab surface gone", "tab_id", id, "successor", successor)
	m.pub.Publish(events.TabClosed, Closed{TabID: id})
	m.publishUpdates(promoted)
	if successor != "" {
		m.pub.Publish(events.NavigationStateChanged, next.navigationState())
	}
	if onGone != nil {
		onGone(e.tab)
	}

	go func() {
		defer m.bg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), goneCloseTimeout)
		defer cancel()
		if err := e.surface.Close(ctx); err != nil && !errs.Is(err, errs.CodeSurfaceGone) {
			slog.Debug("release of gone surface failed", "tab_id", id, "error", err)
		}
		if err := m.currentLayout().ApplyLayout(ctx); err != nil {
			slog.Warn("layout apply after gone failed", "error", err)
		}
	}()
}

// markPendingGoneLocked records a gone event for a surface that is still
// being created. CreateTab checks the flag before registering the tab.
func (m *Manager) markPendingGoneLocked(id string) {
	if e, ok := m.pending[id]; ok {
		e.goneEarly = true
	}
}

// Wait blocks until background surface releases have finished.
func (m *Manager) Wait() {
	m.bg.Wait()
}
