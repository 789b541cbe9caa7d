// Package surfacetest provides in-memory surfaces for tests.
package surfacetest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dgnsrekt/promptdock/internal/errs"
	"github.com/dgnsrekt/promptdock/internal/surface"
)

// Surface is a fake surface. Bounds writes are recorded; geometry can be
// perturbed with Drift to simulate the window system moving things.
type Surface struct {
	id        string
	partition string
	observer  surface.Observer

	mu          sync.Mutex
	bounds      surface.Bounds
	nav         surface.NavState
	closed      bool
	navigations []string
	actions     []string
	setCalls    int
	boundsErr   error

	// EvalFunc answers Evaluate. Defaults to returning an error.
	EvalFunc func(ctx context.Context, script string) (string, error)
	// NavigateErr, when set, is returned by Navigate.
	NavigateErr error
}

func (s *Surface) ID() string        { return s.id }
func (s *Surface) Partition() string { return s.partition }

// Emit delivers an event to the registered observer.
func (s *Surface) Emit(ev surface.Event) {
	s.mu.Lock()
	if ev.URL != "" {
		s.nav.URL = ev.URL
	}
	if ev.Title != "" {
		s.nav.Title = ev.Title
	}
	if ev.Kind == surface.EventHistoryChanged {
		s.nav.CanGoBack = ev.CanGoBack
		s.nav.CanGoForward = ev.CanGoForward
	}
	s.mu.Unlock()
	if s.observer != nil {
		s.observer(ev)
	}
}

func (s *Surface) Evaluate(ctx context.Context, script string) (string, error) {
	if s.Closed() {
		return "", errs.New(errs.CodeSurfaceGone, "surface closed", nil)
	}
	if s.EvalFunc == nil {
		return "", fmt.Errorf("no evaluator")
	}
	return s.EvalFunc(ctx, script)
}

func (s *Surface) Navigate(ctx context.Context, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.navigations = append(s.navigations, url)
	if s.NavigateErr != nil {
		return s.NavigateErr
	}
	s.nav.URL = url
	return nil
}

func (s *Surface) record(action string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errs.New(errs.CodeSurfaceGone, "surface closed", nil)
	}
	s.actions = append(s.actions, action)
	return nil
}

func (s *Surface) GoBack(ctx context.Context) error    { return s.record("back") }
func (s *Surface) GoForward(ctx context.Context) error { return s.record("forward") }
func (s *Surface) Reload(ctx context.Context) error    { return s.record("reload") }
func (s *Surface) Stop(ctx context.Context) error      { return s.record("stop") }

func (s *Surface) NavState() surface.NavState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nav
}

func (s *Surface) SetBounds(ctx context.Context, b surface.Bounds) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errs.New(errs.CodeSurfaceGone, "surface closed", nil)
	}
	if s.boundsErr != nil {
		return s.boundsErr
	}
	s.bounds = b
	s.setCalls++
	return nil
}

func (s *Surface) Bounds(ctx context.Context) (surface.Bounds, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return surface.Bounds{}, errs.New(errs.CodeSurfaceGone, "surface closed", nil)
	}
	return s.bounds, nil
}

func (s *Surface) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Drift overwrites the bounds without counting it as a SetBounds call.
func (s *Surface) Drift(b surface.Bounds) {
	s.mu.Lock()
	s.bounds = b
	s.mu.Unlock()
}

// FailBounds makes subsequent SetBounds calls return err.
func (s *Surface) FailBounds(err error) {
	s.mu.Lock()
	s.boundsErr = err
	s.mu.Unlock()
}

func (s *Surface) CurrentBounds() surface.Bounds {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bounds
}

func (s *Surface) SetBoundsCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setCalls
}

func (s *Surface) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Surface) Navigations() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.navigations...)
}

func (s *Surface) Actions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.actions...)
}

// Factory hands out fake surfaces and remembers them in creation order.
type Factory struct {
	seq atomic.Int64

	mu       sync.Mutex
	surfaces []*Surface

	// CreateErr, when set, is returned by Create.
	CreateErr error
	// Prepare runs on every new surface before it is returned.
	Prepare func(*Surface)
}

func (f *Factory) Create(ctx context.Context, opts surface.CreateOptions) (surface.Surface, error) {
	if f.CreateErr != nil {
		return nil, f.CreateErr
	}
	s := &Surface{
		id:        fmt.Sprintf("surface-%d", f.seq.Add(1)),
		partition: opts.Partition,
		observer:  opts.Observer,
	}
	if f.Prepare != nil {
		f.Prepare(s)
	}
	f.mu.Lock()
	f.surfaces = append(f.surfaces, s)
	f.mu.Unlock()
	return s, nil
}

// Surfaces returns every surface created so far.
func (f *Factory) Surfaces() []*Surface {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Surface(nil), f.surfaces...)
}

// Last returns the most recently created surface or nil.
func (f *Factory) Last() *Surface {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.surfaces) == 0 {
		return nil
	}
	return f.surfaces[len(f.surfaces)-1]
}
