package injection

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dgnsrekt/promptdock/internal/adapter"
	"github.com/dgnsrekt/promptdock/internal/catalog"
	"github.com/dgnsrekt/promptdock/internal/errs"
	"github.com/dgnsrekt/promptdock/internal/events"
	"github.com/dgnsrekt/promptdock/internal/surface"
	"github.com/dgnsrekt/promptdock/internal/surface/surfacetest"
	"github.com/dgnsrekt/promptdock/internal/tabs"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const (
	okEnvelope      = `{"ok":true,"data":{"selector":"textarea","kind":"native","tag":"textarea"}}`
	noInputEnvelope = `{"ok":false,"error_code":"NO_INPUT_FOUND","error_message":"no visible editable input (readyState=complete)"}`
	pageEnvelope    = `{"ok":true,"data":{"ready_state":"complete","url":"https://chat.deepseek.com/"}}`
)

type capture struct {
	mu      sync.Mutex
	results []Result
}

func (c *capture) Publish(typ events.Type, payload any) {
	if typ != events.InjectionCompleted {
		return
	}
	c.mu.Lock()
	c.results = append(c.results, payload.(Result))
	c.mu.Unlock()
}

type fixture struct {
	engine  *Engine
	tabs    *tabs.Manager
	factory *surfacetest.Factory
	pub     *capture
}

func newFixture(t *testing.T, cfg Config, eval func(ctx context.Context, script string) (string, error)) *fixture {
	t.Helper()
	f := &fixture{
		factory: &surfacetest.Factory{Prepare: func(s *surfacetest.Surface) { s.EvalFunc = eval }},
		pub:     &capture{},
	}
	f.tabs = tabs.NewManager(tabs.Config{LoadTimeout: time.Minute}, f.factory, nil)
	f.engine = NewEngine(cfg, f.tabs, adapter.NewDefaultRegistry(), f.pub)
	t.Cleanup(func() { _ = f.tabs.CloseAll(context.Background()) })
	return f
}

func (f *fixture) open(t *testing.T, rawURL string, settled bool) tabs.Tab {
	t.Helper()
	tab, err := f.tabs.CreateTab(context.Background(), catalog.Site{Name: "test", URL: rawURL})
	if err != nil {
		t.Fatalf("CreateTab() error = %v", err)
	}
	if settled {
		f.factory.Last().Emit(surface.Event{Kind: surface.EventFinishLoad})
	}
	return tab
}

func isPageProbe(script string) bool {
	return strings.Contains(script, "ready_state:document.readyState")
}

func TestInjectSucceeds(t *testing.T) {
	f := newFixture(t, Config{}, func(ctx context.Context, script string) (string, error) {
		return okEnvelope, nil
	})
	tab := f.open(t, "https://chat.deepseek.com/", true)

	res := f.engine.Inject(context.Background(), "hello", "")
	if !res.Success {
		t.Fatalf("Inject() = %+v; want success", res)
	}
	if res.Adapter != "deepseek" || res.Selector != "textarea" || res.Attempts != 1 || res.TabID != tab.ID {
		t.Fatalf("Inject() = %+v", res)
	}
	if res.Message == "" || res.Error != "" {
		t.Fatalf("Inject() message/error = %q/%q", res.Message, res.Error)
	}
	if len(f.pub.results) != 1 || !f.pub.results[0].Success {
		t.Fatalf("injection-completed events = %+v", f.pub.results)
	}
}

func TestInjectExplicitSiteID(t *testing.T) {
	var sawClaude atomic.Bool
	f := newFixture(t, Config{}, func(ctx context.Context, script string) (string, error) {
		if strings.Contains(script, "Talk to Claude") {
			sawClaude.Store(true)
		}
		return okEnvelope, nil
	})
	f.open(t, "https://unknown.example.org/", true)

	res := f.engine.Inject(context.Background(), "hi", "Claude")
	if !res.Success || res.Adapter != "claude" {
		t.Fatalf("Inject() = %+v; want claude adapter", res)
	}
	if !sawClaude.Load() {
		t.Fatal("claude selectors not used")
	}

	res = f.engine.Inject(context.Background(), "hi", "nope")
	if res.Adapter != adapter.GenericID {
		t.Fatalf("unknown site id adapter = %q; want generic fallback", res.Adapter)
	}
}

func TestInjectRejectsEmptyText(t *testing.T) {
	f := newFixture(t, Config{}, nil)
	res := f.engine.Inject(context.Background(), "  \n", "")
	if res.Success || res.Code != errs.CodeInvalidArgument {
		t.Fatalf("Inject() = %+v; want INVALID_ARGUMENT", res)
	}
}

func TestInjectWithoutTabs(t *testing.T) {
	f := newFixture(t, Config{}, nil)
	res := f.engine.Inject(context.Background(), "hello", "")
	if res.Success || res.Code != errs.CodeNotFound {
		t.Fatalf("Inject() = %+v; want NOT_FOUND", res)
	}
}

func TestInjectRetriesOnceOnNoInput(t *testing.T) {
	var calls atomic.Int32
	f := newFixture(t, Config{RetryDelay: 10 * time.Millisecond}, func(ctx context.Context, script string) (string, error) {
		if isPageProbe(script) {
			return pageEnvelope, nil
		}
		if calls.Add(1) == 1 {
			return noInputEnvelope, nil
		}
		return okEnvelope, nil
	})
	f.open(t, "https://chat.deepseek.com/", true)

	res := f.engine.Inject(context.Background(), "hello", "")
	if !res.Success || res.Attempts != 2 {
		t.Fatalf("Inject() = %+v; want success on attempt 2", res)
	}
}

func TestInjectFailsAfterSecondNoInput(t *testing.T) {
	var calls atomic.Int32
	f := newFixture(t, Config{RetryDelay: 10 * time.Millisecond}, func(ctx context.Context, script string) (string, error) {
		if isPageProbe(script) {
			return pageEnvelope, nil
		}
		calls.Add(1)
		return noInputEnvelope, nil
	})
	f.open(t, "https://chat.deepseek.com/", true)

	start := time.Now()
	res := f.engine.Inject(context.Background(), "hello", "")
	if res.Success || res.Code != errs.CodeNoInputFound {
		t.Fatalf("Inject() = %+v; want NO_INPUT_FOUND", res)
	}
	if !strings.HasPrefix(res.Error, "no input found: ") {
		t.Fatalf("Error = %q", res.Error)
	}
	if calls.Load() != 2 || res.Attempts != 2 {
		t.Fatalf("inject calls = %d attempts = %d; want 2", calls.Load(), res.Attempts)
	}
	if time.Since(start) < 10*time.Millisecond {
		t.Fatal("retry did not wait for the retry delay")
	}
}

func TestInjectScriptErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	f := newFixture(t, Config{RetryDelay: time.Millisecond}, func(ctx context.Context, script string) (string, error) {
		calls.Add(1)
		return `{"ok":false,"error_code":"SCRIPT_EXECUTION_ERROR","error_message":"TypeError: x is undefined"}`, nil
	})
	f.open(t, "https://chat.deepseek.com/", true)

	res := f.engine.Inject(context.Background(), "hello", "")
	if res.Code != errs.CodeScriptExecution || !strings.HasPrefix(res.Error, "script execution error: ") {
		t.Fatalf("Inject() = %+v; want script execution error", res)
	}
	if calls.Load() != 1 {
		t.Fatalf("calls = %d; want 1", calls.Load())
	}
}

// A tab that never settles is injected once the ready bound passes.
func TestInjectProceedsAfterReadyTimeout(t *testing.T) {
	f := newFixture(t, Config{ReadyTimeout: 30 * time.Millisecond}, func(ctx context.Context, script string) (string, error) {
		return okEnvelope, nil
	})
	f.open(t, "https://chat.deepseek.com/", false)

	start := time.Now()
	res := f.engine.Inject(context.Background(), "hello", "")
	if !res.Success {
		t.Fatalf("Inject() = %+v; want success", res)
	}
	if waited := time.Since(start); waited < 30*time.Millisecond {
		t.Fatalf("Inject() returned after %v; want at least the ready timeout", waited)
	}
}

func TestInjectWaitsForLoadToSettle(t *testing.T) {
	f := newFixture(t, Config{ReadyTimeout: 5 * time.Second}, func(ctx context.Context, script string) (string, error) {
		return okEnvelope, nil
	})
	f.open(t, "https://chat.deepseek.com/", false)
	s := f.factory.Last()

	time.AfterFunc(20*time.Millisecond, func() { s.Emit(surface.Event{Kind: surface.EventDOMReady}) })
	start := time.Now()
	res := f.engine.Inject(context.Background(), "hello", "")
	if !res.Success {
		t.Fatalf("Inject() = %+v", res)
	}
	if time.Since(start) > 2*time.Second {
		t.Fatal("Inject() waited for the full ready timeout")
	}
}

func TestInjectResolvesAdapterAfterLoadSettles(t *testing.T) {
	f := newFixture(t, Config{ReadyTimeout: 5 * time.Second}, func(ctx context.Context, script string) (string, error) {
		return okEnvelope, nil
	})
	f.open(t, "https://www.example.org/", false)
	s := f.factory.Last()

	time.AfterFunc(50*time.Millisecond, func() {
		s.Emit(surface.Event{Kind: surface.EventNavigated, URL: "https://claude.ai/new"})
	})
	res := f.engine.Inject(context.Background(), "hello", "")
	if !res.Success || res.Adapter != "claude" {
		t.Fatalf("Inject() = %+v; want claude adapter", res)
	}
}

func TestInjectTabClosedMidRequest(t *testing.T) {
	started := make(chan struct{})
	f := newFixture(t, Config{}, func(ctx context.Context, script string) (string, error) {
		close(started)
		<-ctx.Done()
		return "", ctx.Err()
	})
	tab := f.open(t, "https://chat.deepseek.com/", true)

	go func() {
		<-started
		_ = f.tabs.CloseTab(context.Background(), tab.ID)
	}()
	res := f.engine.Inject(context.Background(), "hello", "")
	if res.Success || res.Code != errs.CodeSurfaceGone {
		t.Fatalf("Inject() = %+v; want SURFACE_GONE", res)
	}
	if !strings.HasPrefix(res.Error, "surface gone: ") {
		t.Fatalf("Error = %q", res.Error)
	}
}

func TestInjectEvaluatorGone(t *testing.T) {
	f := newFixture(t, Config{}, func(ctx context.Context, script string) (string, error) {
		return "", errs.New(errs.CodeSurfaceGone, "target destroyed", nil)
	})
	f.open(t, "https://chat.deepseek.com/", true)

	res := f.engine.Inject(context.Background(), "hello", "")
	if res.Code != errs.CodeSurfaceGone {
		t.Fatalf("Inject() = %+v; want SURFACE_GONE", res)
	}
}

func TestInjectEvalTimeoutIsPageNotReady(t *testing.T) {
	f := newFixture(t, Config{}, func(ctx context.Context, script string) (string, error) {
		return "", errs.New(errs.CodeEvalTimeout, "evaluation timed out", context.DeadlineExceeded)
	})
	f.open(t, "https://chat.deepseek.com/", true)

	res := f.engine.Inject(context.Background(), "hello", "")
	if res.Code != errs.CodeEvalTimeout || !strings.HasPrefix(res.Error, "page not ready: ") {
		t.Fatalf("Inject() = %+v", res)
	}
}

func TestInjectRecoversFromPanic(t *testing.T) {
	f := newFixture(t, Config{}, func(ctx context.Context, script string) (string, error) {
		panic("evaluator exploded")
	})
	f.open(t, "https://chat.deepseek.com/", true)

	res := f.engine.Inject(context.Background(), "hello", "")
	if res.Success || res.Code != errs.CodeScriptExecution {
		t.Fatalf("Inject() = %+v; want recovered failure", res)
	}
}
