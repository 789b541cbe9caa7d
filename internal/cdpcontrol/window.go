package cdpcontrol

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/target"
	"github.com/dgnsrekt/promptdock/internal/errs"
	"github.com/dgnsrekt/promptdock/internal/surface"
)

const originTTL = 250 * time.Millisecond

const metricsScript = `JSON.stringify({x:window.screenX,y:window.screenY,ow:window.outerWidth,oh:window.outerHeight,iw:window.innerWidth,ih:window.innerHeight})`

type windowMetrics struct {
	X  int `json:"x"`
	Y  int `json:"y"`
	OW int `json:"ow"`
	OH int `json:"oh"`
	IW int `json:"iw"`
	IH int `json:"ih"`
}

// contentOrigin estimates the screen position of the content area's top
// left corner from the window frame sizes.
func (m windowMetrics) contentOrigin() (int, int) {
	border := max((m.OW-m.IW)/2, 0)
	return m.X + border, m.Y + max(m.OH-m.IH-border, 0)
}

// HostState is the host window's outer geometry and state.
type HostState struct {
	Left   int    `json:"left"`
	Top    int    `json:"top"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	State  string `json:"state"`
}

// HostWindow is the window showing the side panel. Surfaces are placed
// relative to its content area.
type HostWindow struct {
	client   *Client
	targetID target.ID
	windowID browser.WindowID

	gone     chan struct{}
	goneOnce sync.Once

	mu        sync.Mutex
	sessionID string
	originX   int
	originY   int
	originAt  time.Time
}

// OpenHost adopts an existing page whose URL starts with url, or opens a new
// window on url, and makes it the host window.
func (c *Client) OpenHost(ctx context.Context, url string, width, height int) (*HostWindow, error) {
	raw, err := c.ensureConnected(ctx)
	if err != nil {
		return nil, err
	}

	var targetID target.ID
	targets, err := raw.listTargets(ctx)
	if err != nil {
		slog.Warn("cdpcontrol list targets failed", "error", err)
	}
	for _, t := range targets {
		if t.Type == "page" && strings.HasPrefix(t.URL, url) {
			targetID = t.TargetID
			break
		}
	}
	if targetID == "" {
		targetID, err = raw.createTarget(ctx, url, "")
		if err != nil {
			return nil, mapError("create host window", err)
		}
	}

	windowID, _, err := raw.getWindowForTarget(ctx, targetID)
	if err != nil {
		return nil, mapError("host window lookup", err)
	}
	if width > 0 && height > 0 {
		size := windowBounds{Width: &width, Height: &height}
		if err := raw.setWindowBounds(ctx, windowID, size); err != nil {
			slog.Warn("cdpcontrol host resize failed", "error", err)
		}
	}
	sid, err := raw.attachToTarget(ctx, targetID)
	if err != nil {
		return nil, mapError("attach host window", err)
	}

	h := &HostWindow{
		client:    c,
		targetID:  targetID,
		windowID:  windowID,
		gone:      make(chan struct{}),
		sessionID: sid,
	}
	c.mu.Lock()
	c.host = h
	c.mu.Unlock()
	slog.Info("cdpcontrol host window ready", "target_id", targetID, "window_id", windowID, "url", url)
	return h, nil
}

func (h *HostWindow) Gone() <-chan struct{} { return h.gone }

func (h *HostWindow) markGone() {
	h.goneOnce.Do(func() {
		slog.Warn("cdpcontrol host window gone", "target_id", h.targetID)
		close(h.gone)
	})
}

func (h *HostWindow) metrics(ctx context.Context) (windowMetrics, error) {
	var m windowMetrics
	raw, err := h.client.conn()
	if err != nil {
		return m, err
	}
	h.mu.Lock()
	sid := h.sessionID
	h.mu.Unlock()
	out, err := raw.evaluate(ctx, sid, metricsScript)
	if err != nil {
		return m, mapError("host metrics", err)
	}
	if err := json.Unmarshal([]byte(out), &m); err != nil {
		return m, fmt.Errorf("decode host metrics: %w", err)
	}
	return m, nil
}

// ContentSize returns the host's content area size.
func (h *HostWindow) ContentSize(ctx context.Context) (surface.Size, error) {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()
	m, err := h.metrics(ctx)
	if err != nil {
		return surface.Size{}, err
	}
	h.storeOrigin(m.contentOrigin())
	return surface.Size{Width: m.IW, Height: m.IH}, nil
}

func (h *HostWindow) storeOrigin(x, y int) {
	h.mu.Lock()
	h.originX, h.originY, h.originAt = x, y, time.Now()
	h.mu.Unlock()
}

// origin is the screen position of the content area, cached briefly so a
// layout pass over many surfaces costs one round trip.
func (h *HostWindow) origin(ctx context.Context) (int, int) {
	h.mu.Lock()
	if time.Since(h.originAt) < originTTL {
		x, y := h.originX, h.originY
		h.mu.Unlock()
		return x, y
	}
	h.mu.Unlock()

	m, err := h.metrics(ctx)
	if err == nil {
		x, y := m.contentOrigin()
		h.storeOrigin(x, y)
		return x, y
	}
	st, serr := h.Snapshot(ctx)
	if serr != nil {
		slog.Debug("cdpcontrol host origin unavailable", "error", err)
		return 0, 0
	}
	return st.Left, st.Top
}

// Snapshot reads the host window's outer bounds and state.
func (h *HostWindow) Snapshot(ctx context.Context) (HostState, error) {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()
	raw, err := h.client.conn()
	if err != nil {
		return HostState{}, err
	}
	b, err := raw.getWindowBounds(ctx, h.windowID)
	if err != nil {
		return HostState{}, mapError("host bounds", err)
	}
	left, top, width, height := b.get()
	return HostState{Left: left, Top: top, Width: width, Height: height, State: string(b.WindowState)}, nil
}

// Close closes the host window page.
func (h *HostWindow) Close(ctx context.Context) error {
	defer h.markGone()
	raw, err := h.client.conn()
	if err != nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()
	if err := raw.closeTarget(ctx, h.targetID); err != nil && !isGoneError(err) {
		return errs.New(errs.CodeCDPUnavailable, "close host window", err)
	}
	return nil
}
