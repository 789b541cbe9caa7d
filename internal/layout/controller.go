package layout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dgnsrekt/promptdock/internal/errs"
	"golang.org/x/sync/singleflight"
)

// ErrStopped is returned once the controller has been stopped.
var ErrStopped = errors.New("layout: controller stopped")

// Placeable is the geometry side of a surface.
type Placeable interface {
	SetBounds(ctx context.Context, b Bounds) error
	Bounds(ctx context.Context) (Bounds, error)
}

// Placement is one surface the controller is responsible for.
type Placement struct {
	ID      string
	Surface Placeable
	Active  bool
}

// Source lists the surfaces to place.
type Source interface {
	Placements() []Placement
}

// Window reports the host window's current content area.
type Window interface {
	ContentSize(ctx context.Context) (Size, error)
}

type Config struct {
	TopInset          int
	SidebarWidth      int
	MinWidth          int
	MinHeight         int
	PositionTolerance int
	SizeTolerance     int
	Interval          time.Duration
	ResetThreshold    int
	ReverifyDelay     time.Duration
	MaxResets         int
}

func (c Config) withDefaults() Config {
	if c.MinWidth <= 0 {
		c.MinWidth = DefaultMinWidth
	}
	if c.MinHeight <= 0 {
		c.MinHeight = DefaultMinHeight
	}
	if c.PositionTolerance <= 0 {
		c.PositionTolerance = 5
	}
	if c.SizeTolerance <= 0 {
		c.SizeTolerance = 10
	}
	if c.Interval <= 0 {
		c.Interval = 500 * time.Millisecond
	}
	if c.ResetThreshold <= 0 {
		c.ResetThreshold = 3
	}
	if c.ReverifyDelay <= 0 {
		c.ReverifyDelay = 100 * time.Millisecond
	}
	if c.MaxResets <= 0 {
		c.MaxResets = 3
	}
	c.SidebarWidth = ClampSidebar(c.SidebarWidth)
	return c
}

// Report summarizes one verification pass.
type Report struct {
	Reason      string    `json:"reason"`
	Checked     int       `json:"checked"`
	Corrections int       `json:"corrections"`
	Reset       bool      `json:"reset"`
	Canonical   Bounds    `json:"canonical"`
	At          time.Time `json:"at"`
}

// Status is a point-in-time view of the controller.
type Status struct {
	Insets    Insets `json:"insets"`
	Canonical Bounds `json:"canonical"`
	Running   bool   `json:"running"`
	Last      Report `json:"last"`
}

// Controller keeps surface geometry consistent with tab state. All geometry
// writes go through apply, which holds geomMu.
type Controller struct {
	cfg    Config
	window Window

	geomMu sync.Mutex
	group  singleflight.Group

	mu         sync.Mutex
	source     Source
	sidebar    int
	last       Report
	resets     int
	onDrift    func(Report)
	onHeal     func(Report)
	reverify   *time.Timer
	stopped    bool
	loopCancel context.CancelFunc
	loopDone   chan struct{}

	pending sync.WaitGroup
	trigger chan string
}

func NewController(cfg Config, window Window) *Controller {
	cfg = cfg.withDefaults()
	return &Controller{
		cfg:     cfg,
		window:  window,
		sidebar: cfg.SidebarWidth,
		trigger: make(chan string, 1),
	}
}

// SetSource attaches the surface source. Tab registries are built after the
// controller, so this is not a constructor argument.
func (c *Controller) SetSource(src Source) {
	c.mu.Lock()
	c.source = src
	c.mu.Unlock()
}

// OnDrift registers the handler for unrecoverable drift.
func (c *Controller) OnDrift(fn func(Report)) {
	c.mu.Lock()
	c.onDrift = fn
	c.mu.Unlock()
}

// OnHeal registers fn to be called after every pass that corrected at
// least one surface.
func (c *Controller) OnHeal(fn func(Report)) {
	c.mu.Lock()
	c.onHeal = fn
	c.mu.Unlock()
}

func (c *Controller) insets() Insets {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Insets{Top: c.cfg.TopInset, Sidebar: c.sidebar}
}

// SetSidebarWidth clamps and stores the sidebar width, then re-applies layout.
func (c *Controller) SetSidebarWidth(ctx context.Context, width int) (int, error) {
	width = ClampSidebar(width)
	c.mu.Lock()
	c.sidebar = width
	c.mu.Unlock()
	slog.Info("layout sidebar width set", "width", width)
	return width, c.ApplyLayout(ctx)
}

// Canonical returns the active surface rectangle for the current window.
func (c *Controller) Canonical(ctx context.Context) (Bounds, error) {
	size, err := c.window.ContentSize(ctx)
	if err != nil {
		return Bounds{}, fmt.Errorf("layout: content size: %w", err)
	}
	return ComputeCanonicalBounds(size, c.insets(), c.cfg.MinWidth, c.cfg.MinHeight), nil
}

func (c *Controller) snapshot() ([]Placement, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return nil, false
	}
	if c.source == nil {
		return nil, true
	}
	return c.source.Placements(), true
}

// ApplyLayout sets canonical bounds on the active surface and zero bounds on
// every other surface.
func (c *Controller) ApplyLayout(ctx context.Context) error {
	placements, ok := c.snapshot()
	if !ok {
		return ErrStopped
	}
	canonical, err := c.Canonical(ctx)
	if err != nil {
		return err
	}

	c.geomMu.Lock()
	defer c.geomMu.Unlock()
	return c.applyAll(ctx, placements, canonical)
}

func (c *Controller) applyAll(ctx context.Context, placements []Placement, canonical Bounds) error {
	var failures []error
	for _, p := range placements {
		want := Bounds{}
		if p.Active {
			want = canonical
		}
		if err := p.Surface.SetBounds(ctx, want); err != nil {
			if errs.Is(err, errs.CodeSurfaceGone) {
				slog.Debug("layout skip gone surface", "tab_id", p.ID)
				continue
			}
			failures = append(failures, fmt.Errorf("tab %s: %w", p.ID, err))
		}
	}
	return errors.Join(failures...)
}

// VerifyAndHeal reads back every surface's bounds and corrects deviations.
// Overlapping callers share the in-flight pass.
func (c *Controller) VerifyAndHeal(ctx context.Context, reason string) (Report, error) {
	v, err, shared := c.group.Do("verify", func() (any, error) {
		return c.verify(ctx, reason)
	})
	if shared {
		slog.Debug("layout verify joined in-flight pass", "reason", reason)
	}
	rep, _ := v.(Report)
	return rep, err
}

func (c *Controller) verify(ctx context.Context, reason string) (Report, error) {
	placements, ok := c.snapshot()
	if !ok {
		return Report{}, ErrStopped
	}
	canonical, err := c.Canonical(ctx)
	if err != nil {
		return Report{}, err
	}

	c.geomMu.Lock()
	defer c.geomMu.Unlock()

	rep := Report{Reason: reason, Canonical: canonical, At: time.Now()}
	var drifted []Placement
	for _, p := range placements {
		actual, err := p.Surface.Bounds(ctx)
		if err != nil {
			slog.Debug("layout read bounds failed", "tab_id", p.ID, "error", err)
			continue
		}
		rep.Checked++
		want := Bounds{}
		if p.Active {
			want = canonical
		}
		if deviates(actual, want, p.Active, c.cfg.PositionTolerance, c.cfg.SizeTolerance) {
			slog.Debug("layout drift detected", "tab_id", p.ID, "active", p.Active, "actual", actual, "want", want)
			drifted = append(drifted, p)
		}
	}
	rep.Corrections = len(drifted)

	var applyErr error
	if rep.Corrections >= c.cfg.ResetThreshold {
		rep.Reset = true
		applyErr = c.emergencyResetLocked(ctx, placements, canonical, rep)
	} else {
		applyErr = c.applyAll(ctx, drifted, canonical)
		c.mu.Lock()
		c.resets = 0
		c.mu.Unlock()
	}

	if rep.Corrections > 0 {
		slog.Info("layout heal pass", "reason", reason, "checked", rep.Checked, "corrections", rep.Corrections, "reset", rep.Reset)
	}

	c.mu.Lock()
	c.last = rep
	onHeal := c.onHeal
	c.mu.Unlock()
	if onHeal != nil && rep.Corrections > 0 {
		onHeal(rep)
	}
	return rep, applyErr
}

// EmergencyReset forcibly reapplies bounds to every surface and schedules a
// follow-up verification.
func (c *Controller) EmergencyReset(ctx context.Context) error {
	placements, ok := c.snapshot()
	if !ok {
		return ErrStopped
	}
	canonical, err := c.Canonical(ctx)
	if err != nil {
		return err
	}
	c.geomMu.Lock()
	defer c.geomMu.Unlock()
	return c.emergencyResetLocked(ctx, placements, canonical, Report{Reason: "manual", Canonical: canonical, At: time.Now()})
}

func (c *Controller) emergencyResetLocked(ctx context.Context, placements []Placement, canonical Bounds, rep Report) error {
	slog.Warn("layout emergency reset", "reason", rep.Reason, "surfaces", len(placements), "corrections", rep.Corrections)
	err := c.applyAll(ctx, placements, canonical)

	c.mu.Lock()
	c.resets++
	escalate := c.resets >= c.cfg.MaxResets
	if escalate {
		c.resets = 0
	}
	onDrift := c.onDrift
	c.scheduleReverifyLocked()
	c.mu.Unlock()

	if escalate {
		slog.Error("layout drift persists after emergency resets", "max_resets", c.cfg.MaxResets, "corrections", rep.Corrections)
		if onDrift != nil {
			onDrift(rep)
		}
		if err == nil {
			err = errs.New(errs.CodeLayoutDrift, fmt.Sprintf("%d surfaces out of place after %d resets", rep.Corrections, c.cfg.MaxResets), nil)
		}
	}
	return err
}

// scheduleReverifyLocked arms the follow-up pass. Callers hold c.mu.
func (c *Controller) scheduleReverifyLocked() {
	if c.stopped {
		return
	}
	if c.reverify != nil && c.reverify.Stop() {
		c.pending.Done()
	}
	c.pending.Add(1)
	c.reverify = time.AfterFunc(c.cfg.ReverifyDelay, func() {
		defer c.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.Interval*4)
		defer cancel()
		if _, err := c.VerifyAndHeal(ctx, "reset-reverify"); err != nil && !errors.Is(err, ErrStopped) {
			slog.Debug("layout reverify failed", "error", err)
		}
	})
}

// Trigger requests an immediate verification pass from the heal loop.
// Requests arriving while one is queued are coalesced.
func (c *Controller) Trigger(reason string) {
	select {
	case c.trigger <- reason:
	default:
	}
}

// Start runs the periodic heal loop until ctx is done or Stop is called.
func (c *Controller) Start(ctx context.Context) {
	c.mu.Lock()
	if c.loopDone != nil || c.stopped {
		c.mu.Unlock()
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.loopCancel = cancel
	c.loopDone = done
	c.mu.Unlock()

	slog.Info("layout heal loop started", "interval", c.cfg.Interval)
	go c.run(loopCtx, done)
}

func (c *Controller) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.heal(ctx, "interval")
		case reason := <-c.trigger:
			c.heal(ctx, reason)
		}
	}
}

func (c *Controller) heal(ctx context.Context, reason string) {
	passCtx, cancel := context.WithTimeout(ctx, c.cfg.Interval*4)
	defer cancel()
	if _, err := c.VerifyAndHeal(passCtx, reason); err != nil && !errors.Is(err, ErrStopped) && ctx.Err() == nil {
		slog.Warn("layout heal failed", "reason", reason, "error", err)
	}
}

// Stop cancels the heal loop and any pending re-verification and waits for
// them to finish. After Stop no surface geometry is touched.
func (c *Controller) Stop() {
	c.mu.Lock()
	c.stopped = true
	cancel, done := c.loopCancel, c.loopDone
	if c.reverify != nil && c.reverify.Stop() {
		c.pending.Done()
	}
	c.reverify = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	c.pending.Wait()
	slog.Info("layout heal loop stopped")
}

// Status returns the current insets, canonical bounds and last pass.
func (c *Controller) Status(ctx context.Context) Status {
	canonical, err := c.Canonical(ctx)
	if err != nil {
		slog.Debug("layout status canonical failed", "error", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		Insets:    Insets{Top: c.cfg.TopInset, Sidebar: c.sidebar},
		Canonical: canonical,
		Running:   c.loopDone != nil && !c.stopped,
		Last:      c.last,
	}
}
