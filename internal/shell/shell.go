// Package shell ties the host window to the tab registry and layout
// controller: window changes trigger layout passes, popups leave the dock,
// and drift is reported.
package shell

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dgnsrekt/promptdock/internal/cdpcontrol"
	"github.com/dgnsrekt/promptdock/internal/errs"
	"github.com/dgnsrekt/promptdock/internal/events"
	"github.com/dgnsrekt/promptdock/internal/layout"
	"github.com/dgnsrekt/promptdock/internal/tabs"
)

// Window event types accepted from the side panel and produced by polling.
const (
	WindowFocus    = "focus"
	WindowShow     = "show"
	WindowResize   = "resize"
	WindowMove     = "move"
	WindowMaximize = "maximize"
	WindowRestore  = "restore"
	WindowMinimize = "minimize"
)

var panelEvents = map[string]bool{
	WindowFocus:    true,
	WindowShow:     true,
	WindowResize:   true,
	WindowMove:     true,
	WindowMaximize: true,
	WindowRestore:  true,
}

// Host is the window that shows the side panel.
type Host interface {
	Snapshot(ctx context.Context) (cdpcontrol.HostState, error)
	Gone() <-chan struct{}
	Close(ctx context.Context) error
}

// Layout is the part of the layout controller the shell drives.
type Layout interface {
	Trigger(reason string)
	Start(ctx context.Context)
	Stop()
	OnDrift(fn func(layout.Report))
	OnHeal(fn func(layout.Report))
}

// Tabs is the part of the tab registry the shell drives.
type Tabs interface {
	OnPopup(fn func(tabID, url string))
	OnGone(fn func(tabs.Tab))
	CloseAll(ctx context.Context) error
}

// Notifier delivers operator alerts.
type Notifier interface {
	Notify(ctx context.Context, message string)
}

type Config struct {
	PollInterval time.Duration
	// OpenExternal hands a popup URL to the desktop browser.
	OpenExternal func(url string) error
}

// DriftEvent is the payload of layout-drift.
type DriftEvent struct {
	Reason      string `json:"reason"`
	Corrections int    `json:"corrections"`
	Reset       bool   `json:"reset"`
	Escalated   bool   `json:"escalated"`
}

type Shell struct {
	cfg      Config
	host     Host
	tabs     Tabs
	layout   Layout
	pub      events.Publisher
	notifier Notifier

	mu     sync.Mutex
	last   cdpcontrol.HostState
	seen   bool
	cancel context.CancelFunc
	done   chan struct{}
	closed bool

	bg sync.WaitGroup
}

func New(cfg Config, host Host, t Tabs, l Layout, pub events.Publisher, notifier Notifier) *Shell {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 250 * time.Millisecond
	}
	if pub == nil {
		pub = events.Discard
	}
	s := &Shell{cfg: cfg, host: host, tabs: t, layout: l, pub: pub, notifier: notifier}
	t.OnPopup(s.handlePopup)
	t.OnGone(s.handleTabGone)
	l.OnHeal(s.handleHeal)
	l.OnDrift(s.handleDrift)
	return s
}

// Start runs the layout heal loop and the host window poller.
func (s *Shell) Start(ctx context.Context) {
	s.layout.Start(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil || s.closed {
		return
	}
	pollCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.poll(pollCtx, s.done)
	slog.Info("shell started", "poll_interval", s.cfg.PollInterval)
}

func (s *Shell) poll(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.host.Gone():
			slog.Warn("shell host window gone, poller exiting")
			return
		case <-ticker.C:
			st, err := s.host.Snapshot(ctx)
			if err != nil {
				slog.Debug("shell window snapshot failed", "error", err)
				continue
			}
			for _, typ := range s.observe(st) {
				s.dispatch(typ)
			}
		}
	}
}

// observe records st and returns the window events it implies.
func (s *Shell) observe(st cdpcontrol.HostState) []string {
	s.mu.Lock()
	prev, seen := s.last, s.seen
	s.last, s.seen = st, true
	s.mu.Unlock()
	if !seen {
		return nil
	}
	return classify(prev, st)
}

// classify maps a change in window geometry or state to window events.
func classify(prev, cur cdpcontrol.HostState) []string {
	if prev.State != cur.State {
		switch cur.State {
		case "maximized", "fullscreen":
			return []string{WindowMaximize}
		case "minimized":
			return []string{WindowMinimize}
		default:
			return []string{WindowRestore}
		}
	}
	var out []string
	if prev.Width != cur.Width || prev.Height != cur.Height {
		out = append(out, WindowResize)
	}
	if prev.Left != cur.Left || prev.Top != cur.Top {
		out = append(out, WindowMove)
	}
	return out
}

// HandleWindowEvent reacts to a window event reported by the side panel.
func (s *Shell) HandleWindowEvent(typ string) error {
	if !panelEvents[typ] {
		return errs.New(errs.CodeInvalidArgument, fmt.Sprintf("unknown window event %q", typ), nil)
	}
	s.dispatch(typ)
	return nil
}

func (s *Shell) dispatch(typ string) {
	if typ == WindowMinimize {
		slog.Debug("shell host minimized")
		return
	}
	slog.Debug("shell window event", "type", typ)
	s.layout.Trigger("window-" + typ)
}

func (s *Shell) handlePopup(tabID, url string) {
	slog.Info("shell popup routed to external browser", "tab_id", tabID, "url", url)
	if s.cfg.OpenExternal == nil {
		return
	}
	if err := s.cfg.OpenExternal(url); err != nil {
		slog.Warn("shell open external failed", "tab_id", tabID, "url", url, "error", err)
	}
}

func (s *Shell) handleHeal(rep layout.Report) {
	s.pub.Publish(events.LayoutDrift, DriftEvent{Reason: rep.Reason, Corrections: rep.Corrections, Reset: rep.Reset})
}

// handleDrift runs while the layout controller holds its geometry lock, so
// the notification is sent in the background.
func (s *Shell) handleDrift(rep layout.Report) {
	slog.Error("shell unrecoverable layout drift", "reason", rep.Reason, "corrections", rep.Corrections)
	s.pub.Publish(events.LayoutDrift, DriftEvent{Reason: rep.Reason, Corrections: rep.Corrections, Reset: rep.Reset, Escalated: true})
	s.notifyAsync(fmt.Sprintf("layout drift persists: %d surfaces out of place (%s)", rep.Corrections, rep.Reason))
}

func (s *Shell) handleTabGone(tab tabs.Tab) {
	s.notifyAsync(fmt.Sprintf("tab %q (%s) closed unexpectedly", tab.SiteName, tab.URL))
}

func (s *Shell) notifyAsync(msg string) {
	if s.notifier == nil {
		return
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.bg.Add(1)
	s.mu.Unlock()
	go func() {
		defer s.bg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.notifier.Notify(ctx, msg)
	}()
}

// Close stops the poller and the heal loop, closes every tab, then the host
// window. Safe to call more than once.
func (s *Shell) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	s.layout.Stop()

	var firstErr error
	if err := s.tabs.CloseAll(ctx); err != nil {
		slog.Warn("shell close tabs failed", "error", err)
		firstErr = err
	}
	if s.host != nil {
		if err := s.host.Close(ctx); err != nil {
			slog.Warn("shell close host window failed", "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	s.bg.Wait()
	slog.Info("shell closed")
	return firstErr
}
