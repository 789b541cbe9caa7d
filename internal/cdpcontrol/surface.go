package cdpcontrol

import (
	"context"
	"log/slog"
	"sync"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/target"
	"github.com/dgnsrekt/promptdock/internal/errs"
	"github.com/dgnsrekt/promptdock/internal/surface"
)

// Surface is a page target shown in its own browser window and positioned
// over the host window's content area.
type Surface struct {
	client    *Client
	targetID  target.ID
	contextID cdp.BrowserContextID
	partition string
	observer  surface.Observer

	gone     chan struct{}
	goneOnce sync.Once
	wg       sync.WaitGroup

	mu        sync.Mutex
	windowID  browser.WindowID
	sessionID string
	nav       surface.NavState
	closed    bool
}

var _ surface.Surface = (*Surface)(nil)

func (s *Surface) ID() string { return string(s.targetID) }

// Gone is closed once the target is destroyed or the surface is closed.
func (s *Surface) Gone() <-chan struct{} { return s.gone }

func (s *Surface) attach(ctx context.Context, raw *rawCDP) error {
	sid, err := raw.attachToTarget(ctx, s.targetID)
	if err != nil {
		return mapError("attach to target", err)
	}
	s.mu.Lock()
	s.sessionID = sid
	s.mu.Unlock()
	s.client.registerSession(s, sid)

	if err := raw.enableDomain(ctx, sid, "Page"); err != nil {
		return mapError("enable page domain", err)
	}
	return nil
}

// session returns a live connection and session id, re-attaching when the
// previous session was detached underneath us.
func (s *Surface) session(ctx context.Context) (*rawCDP, string, error) {
	if s.isGone() {
		return nil, "", errs.New(errs.CodeSurfaceGone, "surface closed", nil)
	}
	raw, err := s.client.conn()
	if err != nil {
		return nil, "", err
	}
	s.mu.Lock()
	sid := s.sessionID
	s.mu.Unlock()
	if sid != "" {
		return raw, sid, nil
	}

	slog.Debug("cdpcontrol reattaching surface", "target_id", s.targetID)
	if err := s.attach(ctx, raw); err != nil {
		return nil, "", err
	}
	s.mu.Lock()
	sid = s.sessionID
	s.mu.Unlock()
	return raw, sid, nil
}

func (s *Surface) isGone() bool {
	select {
	case <-s.gone:
		return true
	default:
		return false
	}
}

func (s *Surface) emit(ev surface.Event) {
	if s.observer == nil {
		return
	}
	if ev.Kind != surface.EventGone && s.isGone() {
		return
	}
	s.observer(ev)
}

func (s *Surface) isMainFrame(id cdp.FrameID) bool {
	return string(id) == string(s.targetID)
}

func (s *Surface) setURL(u string) {
	s.mu.Lock()
	s.nav.URL = u
	s.mu.Unlock()
}

// setTitle records title and reports whether it changed.
func (s *Surface) setTitle(title string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if title == "" || title == s.nav.Title {
		return false
	}
	s.nav.Title = title
	return true
}

func (s *Surface) clearSession(sessionID string) {
	s.mu.Lock()
	if s.sessionID == sessionID {
		s.sessionID = ""
	}
	s.mu.Unlock()
}

func (s *Surface) markGone() {
	s.goneOnce.Do(func() {
		close(s.gone)
		if s.observer != nil {
			s.observer(surface.Event{Kind: surface.EventGone})
		}
	})
}

// refreshHistory re-reads back/forward availability after a navigation.
// Called from the read loop, so the protocol round trip runs elsewhere.
func (s *Surface) refreshHistory() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()

		raw, err := s.client.conn()
		if err != nil {
			return
		}
		s.mu.Lock()
		sid := s.sessionID
		s.mu.Unlock()
		if sid == "" {
			return
		}
		idx, entries, err := raw.navigationHistory(ctx, sid)
		if err != nil {
			slog.Debug("cdpcontrol history refresh failed", "target_id", s.targetID, "error", err)
			return
		}

		back, forward := idx > 0, idx < len(entries)-1
		s.mu.Lock()
		changed := s.nav.CanGoBack != back || s.nav.CanGoForward != forward
		s.nav.CanGoBack, s.nav.CanGoForward = back, forward
		s.mu.Unlock()
		if changed {
			s.emit(surface.Event{Kind: surface.EventHistoryChanged, CanGoBack: back, CanGoForward: forward})
		}
	}()
}

func (s *Surface) Evaluate(ctx context.Context, script string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.client.evalTimeout)
	defer cancel()

	var lastErr error
	for attempt := 1; attempt <= 2; attempt++ {
		raw, sid, err := s.session(ctx)
		if err != nil {
			return "", mapError("evaluate", err)
		}
		out, err := raw.evaluate(ctx, sid, script)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if !shouldRetry(err) || ctx.Err() != nil {
			break
		}
		slog.Debug("cdpcontrol evaluate retry", "target_id", s.targetID, "attempt", attempt, "error", err)
		s.client.unregisterSession(sid)
		s.clearSession(sid)
	}
	if s.isGone() {
		return "", errs.New(errs.CodeSurfaceGone, "evaluate", lastErr)
	}
	return "", mapError("evaluate", lastErr)
}

// Navigate starts loading url. A browser-side rejection is reported both as
// a load-failed event and as the returned error.
func (s *Surface) Navigate(ctx context.Context, url string) error {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	raw, sid, err := s.session(ctx)
	if err != nil {
		return mapError("navigate", err)
	}
	errorText, err := raw.navigate(ctx, sid, url)
	if err != nil {
		return mapError("navigate", err)
	}
	if errorText != "" {
		s.emit(surface.Event{Kind: surface.EventLoadFailed, URL: url, ErrorText: errorText})
		return errs.New(errs.CodePageNotReady, "navigate: "+errorText, nil)
	}
	return nil
}

func (s *Surface) GoBack(ctx context.Context) error    { return s.stepHistory(ctx, -1) }
func (s *Surface) GoForward(ctx context.Context) error { return s.stepHistory(ctx, 1) }

// stepHistory moves delta entries through the session history. Stepping past
// either end is a no-op.
func (s *Surface) stepHistory(ctx context.Context, delta int) error {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	raw, sid, err := s.session(ctx)
	if err != nil {
		return mapError("history", err)
	}
	idx, entries, err := raw.navigationHistory(ctx, sid)
	if err != nil {
		return mapError("history", err)
	}
	next := idx + delta
	if next < 0 || next >= len(entries) {
		return nil
	}
	return mapError("history", raw.navigateToHistoryEntry(ctx, sid, entries[next].ID))
}

func (s *Surface) Reload(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()
	raw, sid, err := s.session(ctx)
	if err != nil {
		return mapError("reload", err)
	}
	return mapError("reload", raw.reload(ctx, sid))
}

func (s *Surface) Stop(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()
	raw, sid, err := s.session(ctx)
	if err != nil {
		return mapError("stop", err)
	}
	return mapError("stop", raw.stopLoading(ctx, sid))
}

func (s *Surface) NavState() surface.NavState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nav
}

func (s *Surface) window(ctx context.Context, raw *rawCDP) (browser.WindowID, error) {
	s.mu.Lock()
	id := s.windowID
	s.mu.Unlock()
	if id != 0 {
		return id, nil
	}
	id, _, err := raw.getWindowForTarget(ctx, s.targetID)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	s.windowID = id
	s.mu.Unlock()
	return id, nil
}

// SetBounds places the surface window at b, relative to the host window.
// The zero rectangle minimizes the window.
func (s *Surface) SetBounds(ctx context.Context, b surface.Bounds) error {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	if s.isGone() {
		return errs.New(errs.CodeSurfaceGone, "set bounds", nil)
	}
	raw, err := s.client.conn()
	if err != nil {
		return err
	}
	wid, err := s.window(ctx, raw)
	if err != nil {
		return mapError("set bounds", err)
	}
	cur, err := raw.getWindowBounds(ctx, wid)
	if err != nil {
		return mapError("set bounds", err)
	}

	if b.Zero() {
		if cur.WindowState == browser.WindowStateMinimized {
			return nil
		}
		return mapError("set bounds", raw.setWindowBounds(ctx, wid, windowBounds{WindowState: browser.WindowStateMinimized}))
	}

	// Geometry cannot be combined with a non-normal window state.
	restored := cur.WindowState != "" && cur.WindowState != browser.WindowStateNormal
	if restored {
		if err := raw.setWindowBounds(ctx, wid, windowBounds{WindowState: browser.WindowStateNormal}); err != nil {
			return mapError("set bounds", err)
		}
	}
	ox, oy := s.client.hostOrigin(ctx)
	if err := raw.setWindowBounds(ctx, wid, geometry(ox+b.X, oy+b.Y, b.Width, b.Height)); err != nil {
		return mapError("set bounds", err)
	}
	if restored {
		if err := raw.activateTarget(ctx, s.targetID); err != nil {
			slog.Debug("cdpcontrol activate failed", "target_id", s.targetID, "error", err)
		}
	}
	return nil
}

// Bounds reads the window geometry back in host-relative coordinates.
// A minimized window reads as the zero rectangle.
func (s *Surface) Bounds(ctx context.Context) (surface.Bounds, error) {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	if s.isGone() {
		return surface.Bounds{}, errs.New(errs.CodeSurfaceGone, "bounds", nil)
	}
	raw, err := s.client.conn()
	if err != nil {
		return surface.Bounds{}, err
	}
	wid, err := s.window(ctx, raw)
	if err != nil {
		return surface.Bounds{}, mapError("bounds", err)
	}
	cur, err := raw.getWindowBounds(ctx, wid)
	if err != nil {
		return surface.Bounds{}, mapError("bounds", err)
	}
	if cur.WindowState == browser.WindowStateMinimized {
		return surface.Bounds{}, nil
	}
	left, top, width, height := cur.get()
	ox, oy := s.client.hostOrigin(ctx)
	return surface.Bounds{X: left - ox, Y: top - oy, Width: width, Height: height}, nil
}

// Close destroys the target and, for private partitions, its browser
// context. Closing twice is a no-op.
func (s *Surface) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.client.forget(s)
	s.goneOnce.Do(func() { close(s.gone) })

	var closeErr error
	if raw, err := s.client.conn(); err == nil {
		closeCtx, cancel := context.WithTimeout(ctx, commandTimeout)
		if err := raw.closeTarget(closeCtx, s.targetID); err != nil && !isGoneError(err) {
			closeErr = mapError("close target", err)
		}
		cancel()
		s.client.disposeContext(raw, s.contextID)
	}
	s.wg.Wait()
	slog.Info("cdpcontrol surface closed", "target_id", s.targetID, "partition", s.partition)
	return closeErr
}
