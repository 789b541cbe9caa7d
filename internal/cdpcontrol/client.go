// Package cdpcontrol renders content surfaces as Chrome page targets driven
// over the DevTools protocol.
package cdpcontrol

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/target"
	"github.com/dgnsrekt/promptdock/internal/errs"
	"github.com/dgnsrekt/promptdock/internal/surface"
)

// transientHints are substrings in error causes that indicate a transient
// failure worth retrying (e.g. broken connection, closed session).
var transientHints = []string{
	"context canceled",
	"session closed",
	"session with given id not found",
	"websocket",
	"connection reset",
	"broken pipe",
	"eof",
	"connection refused",
	"connection closed",
}

// goneHints mark protocol errors for targets that no longer exist.
var goneHints = []string{
	"no target with given id",
	"target closed",
	"no window for target",
	"browser window not found",
}

const commandTimeout = 10 * time.Second

// Client owns the browser connection and every surface created through it.
// It implements surface.Factory. mu is never held across protocol I/O,
// because event handlers running on the read loop take it too.
type Client struct {
	cdpURL      string
	evalTimeout time.Duration

	connMu sync.Mutex // serializes connect and close

	mu         sync.Mutex
	cdp        *rawCDP
	unregister []func()
	byTarget   map[target.ID]*Surface
	bySession  map[string]*Surface
	popups     map[target.ID]*Surface
	host       *HostWindow
}

func NewClient(cdpURL string, evalTimeout time.Duration) *Client {
	if evalTimeout <= 0 {
		evalTimeout = 5 * time.Second
	}
	return &Client{
		cdpURL:      cdpURL,
		evalTimeout: evalTimeout,
		byTarget:    make(map[target.ID]*Surface),
		bySession:   make(map[string]*Surface),
		popups:      make(map[target.ID]*Surface),
	}
}

func (c *Client) Connect(ctx context.Context) error {
	_, err := c.ensureConnected(ctx)
	return err
}

func (c *Client) ensureConnected(ctx context.Context) (*rawCDP, error) {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	c.mu.Lock()
	raw := c.cdp
	c.mu.Unlock()
	if raw != nil {
		return raw, nil
	}
	if c.cdpURL == "" {
		return nil, errs.New(errs.CodeCDPUnavailable, "missing CDP URL", nil)
	}

	slog.Info("cdpcontrol connect start", "cdp_url", c.cdpURL)
	raw = newRawCDP(c.cdpURL)
	if err := raw.connect(ctx); err != nil {
		return nil, errs.New(errs.CodeCDPUnavailable, "connect to CDP failed", err)
	}
	unregister := c.subscribe(raw)
	c.mu.Lock()
	c.cdp = raw
	c.unregister = unregister
	c.mu.Unlock()

	if err := raw.setDiscoverTargets(ctx, true); err != nil {
		slog.Error("cdpcontrol target discovery failed", "error", err)
		c.teardown()
		return nil, errs.New(errs.CodeCDPUnavailable, "enable target discovery failed", err)
	}

	targets, err := raw.listTargets(ctx)
	if err != nil {
		slog.Warn("cdpcontrol list targets failed", "error", err)
	}
	slog.Info("cdpcontrol connect ok", "cdp_url", c.cdpURL, "targets", len(targets))
	return raw, nil
}

func (c *Client) subscribe(raw *rawCDP) []func() {
	var unregister []func()
	on := func(method string, fn func(sessionID string, params json.RawMessage)) {
		unregister = append(unregister, raw.registerEventHandler(method, fn))
	}
	on("Page.frameStartedLoading", c.onFrameStartedLoading)
	on("Page.domContentEventFired", c.onSessionEvent(surface.EventDOMReady))
	on("Page.loadEventFired", c.onSessionEvent(surface.EventFinishLoad))
	on("Page.frameNavigated", c.onFrameNavigated)
	on("Page.navigatedWithinDocument", c.onNavigatedWithinDocument)
	on("Target.targetInfoChanged", c.onTargetInfoChanged)
	on("Target.targetCreated", c.onTargetCreated)
	on("Target.targetDestroyed", c.onTargetGone)
	on("Target.targetCrashed", c.onTargetGone)
	on("Target.detachedFromTarget", c.onDetached)
	on(eventDisconnected, func(string, json.RawMessage) { c.onDisconnected(raw) })
	return unregister
}

// Close disconnects from the browser. Surfaces still registered are reported
// gone; browser targets are left to the browser's own shutdown.
func (c *Client) Close() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	c.teardown()
	return nil
}

func (c *Client) teardown() {
	c.mu.Lock()
	raw := c.cdp
	c.cdp = nil
	unregister := c.unregister
	c.unregister = nil
	sessions := make([]string, 0, len(c.bySession))
	for sid := range c.bySession {
		sessions = append(sessions, sid)
	}
	surfaces := make([]*Surface, 0, len(c.byTarget))
	for _, s := range c.byTarget {
		surfaces = append(surfaces, s)
	}
	c.byTarget = make(map[target.ID]*Surface)
	c.bySession = make(map[string]*Surface)
	c.popups = make(map[target.ID]*Surface)
	c.mu.Unlock()

	for _, fn := range unregister {
		fn()
	}
	if raw != nil {
		for _, sid := range sessions {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			if err := raw.detachFromTarget(ctx, sid); err != nil {
				slog.Debug("cdpcontrol detach cleanup failed", "session_id", sid, "error", err)
			}
			cancel()
		}
		raw.close()
	}
	for _, s := range surfaces {
		s.markGone()
	}
}

func (c *Client) conn() (*rawCDP, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cdp == nil {
		return nil, errs.New(errs.CodeCDPUnavailable, "CDP client not connected", nil)
	}
	return c.cdp, nil
}

// Create allocates a page target in its own window. Tabs with a private
// partition get a fresh browser context; the shared partition uses the
// default profile context so logins persist.
func (c *Client) Create(ctx context.Context, opts surface.CreateOptions) (surface.Surface, error) {
	raw, err := c.ensureConnected(ctx)
	if err != nil {
		return nil, err
	}

	var contextID cdp.BrowserContextID
	if opts.Partition != "" && opts.Partition != surface.SharedPartition {
		contextID, err = raw.createBrowserContext(ctx)
		if err != nil {
			return nil, mapError("create browser context", err)
		}
	}

	targetID, err := raw.createTarget(ctx, "about:blank", contextID)
	if err != nil {
		c.disposeContext(raw, contextID)
		return nil, mapError("create target", err)
	}

	s := &Surface{
		client:    c,
		targetID:  targetID,
		contextID: contextID,
		partition: opts.Partition,
		observer:  opts.Observer,
		gone:      make(chan struct{}),
	}
	c.mu.Lock()
	c.byTarget[targetID] = s
	c.mu.Unlock()

	if err := s.attach(ctx, raw); err != nil {
		c.forget(s)
		closeCtx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		_ = raw.closeTarget(closeCtx, targetID)
		cancel()
		c.disposeContext(raw, contextID)
		return nil, err
	}

	windowID, _, err := raw.getWindowForTarget(ctx, targetID)
	if err != nil {
		slog.Warn("cdpcontrol window lookup failed", "target_id", targetID, "error", err)
	}
	s.mu.Lock()
	s.windowID = windowID
	s.mu.Unlock()

	slog.Info("cdpcontrol surface created", "target_id", targetID, "partition", opts.Partition, "window_id", windowID)
	return s, nil
}

func (c *Client) disposeContext(raw *rawCDP, id cdp.BrowserContextID) {
	if id == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	if err := raw.disposeBrowserContext(ctx, id); err != nil {
		slog.Debug("cdpcontrol dispose context failed", "browser_context_id", id, "error", err)
	}
}

func (c *Client) registerSession(s *Surface, sessionID string) {
	c.mu.Lock()
	c.bySession[sessionID] = s
	c.mu.Unlock()
}

func (c *Client) unregisterSession(sessionID string) {
	c.mu.Lock()
	delete(c.bySession, sessionID)
	c.mu.Unlock()
}

func (c *Client) forget(s *Surface) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.byTarget, s.targetID)
	for sid, other := range c.bySession {
		if other == s {
			delete(c.bySession, sid)
		}
	}
}

func (c *Client) surfaceForSession(sessionID string) *Surface {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bySession[sessionID]
}

func (c *Client) surfaceForTarget(id target.ID) *Surface {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.byTarget[id]
}

// hostOrigin returns the screen position surfaces are placed relative to.
func (c *Client) hostOrigin(ctx context.Context) (int, int) {
	c.mu.Lock()
	host := c.host
	c.mu.Unlock()
	if host == nil {
		return 0, 0
	}
	return host.origin(ctx)
}

type frameParams struct {
	FrameID cdp.FrameID `json:"frameId"`
	URL     string      `json:"url"`
}

func (c *Client) onSessionEvent(kind surface.EventKind) func(string, json.RawMessage) {
	return func(sessionID string, _ json.RawMessage) {
		if s := c.surfaceForSession(sessionID); s != nil {
			s.emit(surface.Event{Kind: kind})
		}
	}
}

func (c *Client) onFrameStartedLoading(sessionID string, params json.RawMessage) {
	s := c.surfaceForSession(sessionID)
	if s == nil {
		return
	}
	var p frameParams
	if json.Unmarshal(params, &p) != nil || !s.isMainFrame(p.FrameID) {
		return
	}
	s.emit(surface.Event{Kind: surface.EventStartLoading})
}

func (c *Client) onFrameNavigated(sessionID string, params json.RawMessage) {
	s := c.surfaceForSession(sessionID)
	if s == nil {
		return
	}
	var p struct {
		Frame struct {
			ID       cdp.FrameID `json:"id"`
			ParentID cdp.FrameID `json:"parentId"`
			URL      string      `json:"url"`
		} `json:"frame"`
	}
	if json.Unmarshal(params, &p) != nil || p.Frame.ParentID != "" {
		return
	}
	s.setURL(p.Frame.URL)
	s.emit(surface.Event{Kind: surface.EventNavigated, URL: p.Frame.URL})
	s.refreshHistory()
}

func (c *Client) onNavigatedWithinDocument(sessionID string, params json.RawMessage) {
	s := c.surfaceForSession(sessionID)
	if s == nil {
		return
	}
	var p frameParams
	if json.Unmarshal(params, &p) != nil || !s.isMainFrame(p.FrameID) {
		return
	}
	s.setURL(p.URL)
	s.emit(surface.Event{Kind: surface.EventNavigated, URL: p.URL})
	s.refreshHistory()
}

type targetInfoParams struct {
	TargetInfo target.Info `json:"targetInfo"`
}

func (c *Client) onTargetInfoChanged(_ string, params json.RawMessage) {
	var p targetInfoParams
	if json.Unmarshal(params, &p) != nil {
		return
	}
	info := p.TargetInfo
	if s := c.surfaceForTarget(info.TargetID); s != nil {
		if s.setTitle(info.Title) {
			s.emit(surface.Event{Kind: surface.EventTitleUpdated, Title: info.Title})
		}
		return
	}
	c.maybeRoutePopup(info)
}

// onTargetCreated watches for pages opened by one of our surfaces
// (window.open, target=_blank). Those are routed out of the dock.
func (c *Client) onTargetCreated(_ string, params json.RawMessage) {
	var p targetInfoParams
	if json.Unmarshal(params, &p) != nil {
		return
	}
	info := p.TargetInfo
	if info.Type != "page" || info.OpenerID == "" {
		return
	}
	opener := c.surfaceForTarget(info.OpenerID)
	if opener == nil {
		return
	}
	c.mu.Lock()
	c.popups[info.TargetID] = opener
	c.mu.Unlock()
	c.maybeRoutePopup(info)
}

func (c *Client) maybeRoutePopup(info target.Info) {
	if info.URL == "" || info.URL == "about:blank" {
		return
	}
	c.mu.Lock()
	opener, ok := c.popups[info.TargetID]
	if ok {
		delete(c.popups, info.TargetID)
	}
	raw := c.cdp
	c.mu.Unlock()
	if !ok {
		return
	}

	slog.Info("cdpcontrol popup routed", "opener", opener.targetID, "url", info.URL)
	opener.emit(surface.Event{Kind: surface.EventPopupRequested, URL: info.URL})
	if raw == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		if err := raw.closeTarget(ctx, info.TargetID); err != nil {
			slog.Debug("cdpcontrol popup close failed", "target_id", info.TargetID, "error", err)
		}
	}()
}

func (c *Client) onTargetGone(_ string, params json.RawMessage) {
	var p struct {
		TargetID target.ID `json:"targetId"`
		Status   string    `json:"status"`
	}
	if json.Unmarshal(params, &p) != nil {
		return
	}
	c.mu.Lock()
	delete(c.popups, p.TargetID)
	host := c.host
	c.mu.Unlock()

	if host != nil && host.targetID == p.TargetID {
		host.markGone()
		return
	}
	s := c.surfaceForTarget(p.TargetID)
	if s == nil {
		return
	}
	slog.Warn("cdpcontrol surface target gone", "target_id", p.TargetID, "status", p.Status)
	c.forget(s)
	s.markGone()
}

func (c *Client) onDetached(_ string, params json.RawMessage) {
	var p struct {
		SessionID string `json:"sessionId"`
	}
	if json.Unmarshal(params, &p) != nil {
		return
	}
	if s := c.surfaceForSession(p.SessionID); s != nil {
		c.unregisterSession(p.SessionID)
		s.clearSession(p.SessionID)
	}
}

func (c *Client) onDisconnected(raw *rawCDP) {
	c.mu.Lock()
	if c.cdp != raw {
		c.mu.Unlock()
		return
	}
	c.cdp = nil
	surfaces := make([]*Surface, 0, len(c.byTarget))
	for _, s := range c.byTarget {
		surfaces = append(surfaces, s)
	}
	c.byTarget = make(map[target.ID]*Surface)
	c.bySession = make(map[string]*Surface)
	c.popups = make(map[target.ID]*Surface)
	host := c.host
	c.mu.Unlock()

	slog.Warn("cdpcontrol browser connection lost", "surfaces", len(surfaces))
	for _, s := range surfaces {
		s.markGone()
	}
	if host != nil {
		host.markGone()
	}
}

func shouldRetry(err error) bool {
	if err == nil || errs.Is(err, errs.CodeSurfaceGone) {
		return false
	}
	if errs.Is(err, errs.CodeCDPUnavailable) {
		return true
	}
	cause := strings.ToLower(err.Error())
	for _, hint := range transientHints {
		if strings.Contains(cause, hint) {
			return true
		}
	}
	return false
}

func isGoneError(err error) bool {
	var pe *protocolError
	if !errors.As(err, &pe) {
		return false
	}
	msg := strings.ToLower(pe.Message)
	for _, hint := range goneHints {
		if strings.Contains(msg, hint) {
			return true
		}
	}
	return false
}

// mapError converts transport and protocol failures into coded errors.
func mapError(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errs.CodeOf(err) != "":
		return err
	case isGoneError(err):
		return errs.New(errs.CodeSurfaceGone, op, err)
	case errors.Is(err, context.DeadlineExceeded):
		return errs.New(errs.CodeEvalTimeout, op+" timed out", err)
	case errors.Is(err, errNotConnected):
		return errs.New(errs.CodeCDPUnavailable, op, err)
	default:
		var ex *evalException
		if errors.As(err, &ex) {
			return errs.New(errs.CodeScriptExecution, op, err)
		}
		return errs.New(errs.CodeCDPUnavailable, op, err)
	}
}
