// Package injection delivers prompt text into the active tab's chat input.
package injection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dgnsrekt/promptdock/internal/adapter"
	"github.com/dgnsrekt/promptdock/internal/errs"
	"github.com/dgnsrekt/promptdock/internal/events"
	"github.com/dgnsrekt/promptdock/internal/tabs"
)

const (
	DefaultReadyTimeout = 10 * time.Second
	DefaultRetryDelay   = 2 * time.Second
	maxAttempts         = 2
)

var errTabGone = errors.New("tab closed during injection")

// Tabs is the part of the tab manager the engine needs.
type Tabs interface {
	ActiveTarget() (tabs.Target, error)
	WaitReady(ctx context.Context, id string) error
	Get(id string) (tabs.Tab, error)
}

// Resolver picks the adapter for a request.
type Resolver interface {
	ResolveByID(id string) (adapter.Adapter, bool)
	ResolveByURL(rawURL string) adapter.Adapter
}

type Config struct {
	ReadyTimeout time.Duration
	RetryDelay   time.Duration
}

// Result is the outcome of one injection request. Failures carry a
// human-readable Error and a stable Code.
type Result struct {
	Success  bool   `json:"success"`
	Message  string `json:"message,omitempty"`
	Error    string `json:"error,omitempty"`
	Code     string `json:"error_code,omitempty"`
	TabID    string `json:"tab_id,omitempty"`
	Adapter  string `json:"adapter,omitempty"`
	Selector string `json:"selector,omitempty"`
	Attempts int    `json:"attempts"`
}

type Engine struct {
	cfg      Config
	tabs     Tabs
	adapters Resolver
	pub      events.Publisher
}

func NewEngine(cfg Config, t Tabs, adapters Resolver, pub events.Publisher) *Engine {
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = DefaultReadyTimeout
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if pub == nil {
		pub = events.Discard
	}
	return &Engine{cfg: cfg, tabs: t, adapters: adapters, pub: pub}
}

// Inject writes text into the active tab. siteID, when set, selects the
// adapter explicitly; otherwise the tab's current URL decides. Inject never
// panics and never returns a bare error: every outcome is a Result.
func (e *Engine) Inject(ctx context.Context, text, siteID string) (res Result) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic during injection", "panic", r)
			res = failure(errs.CodeScriptExecution, "internal fault", res)
		}
		e.pub.Publish(events.InjectionCompleted, res)
		shown, digest := preview(text, previewBytes)
		slog.Info("injection finished",
			"success", res.Success,
			"text", shown,
			"text_len", len(text),
			"text_sha256", digest,
			"code", res.Code,
			"tab_id", res.TabID,
			"adapter", res.Adapter,
			"attempts", res.Attempts,
			"duration", time.Since(start),
		)
	}()

	if strings.TrimSpace(text) == "" {
		return failure(errs.CodeInvalidArgument, "text is required", res)
	}

	target, err := e.tabs.ActiveTarget()
	if err != nil {
		return failure(errs.CodeNotFound, "open a tab first", res)
	}
	res.TabID = target.Tab.ID

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	go func() {
		select {
		case <-target.Gone:
			cancel(errTabGone)
		case <-ctx.Done():
		}
	}()

	if target.Tab.IsLoading {
		if err := e.awaitReady(ctx, target.Tab.ID); err != nil {
			return e.fail(ctx, err, res)
		}
	}
	// The load may have redirected to another site; resolve by where the
	// tab is now.
	current, err := e.tabs.Get(target.Tab.ID)
	if err != nil {
		return failure(errs.CodeSurfaceGone, errTabGone.Error(), res)
	}
	target.Tab = current

	ad := e.resolve(siteID, target.Tab.URL)
	res.Adapter = ad.ID()

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		res.Attempts = attempt
		match, err := ad.Inject(ctx, target.Surface, text)
		if err == nil {
			res.Success = true
			res.Selector = match.Selector
			res.Message = fmt.Sprintf("prompt injected into %s (%s)", ad.DisplayName(), match.Selector)
			return res
		}
		if !errs.Is(err, errs.CodeNoInputFound) || attempt == maxAttempts {
			return e.fail(ctx, err, res)
		}

		slog.Debug("no input found, retrying",
			"tab_id", target.Tab.ID,
			"adapter", ad.ID(),
			"delay", e.cfg.RetryDelay,
			"ready_state", e.readyState(ctx, target),
		)
		timer := time.NewTimer(e.cfg.RetryDelay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return e.fail(ctx, ctx.Err(), res)
		}
	}
	return res
}

// awaitReady waits for the tab's current load to settle, bounded by the
// ready timeout. Hitting the bound is not an error.
func (e *Engine) awaitReady(ctx context.Context, tabID string) error {
	waitCtx, cancel := context.WithTimeout(ctx, e.cfg.ReadyTimeout)
	defer cancel()
	err := e.tabs.WaitReady(waitCtx, tabID)
	switch {
	case err == nil:
		return nil
	case errs.Is(err, errs.CodeNotFound):
		return errs.New(errs.CodeSurfaceGone, "tab closed before injection", err)
	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		slog.Warn("tab still loading, injecting anyway", "tab_id", tabID, "waited", e.cfg.ReadyTimeout)
		return nil
	default:
		return err
	}
}

func (e *Engine) resolve(siteID, currentURL string) adapter.Adapter {
	if siteID = strings.TrimSpace(siteID); siteID != "" {
		if ad, ok := e.adapters.ResolveByID(siteID); ok {
			return ad
		}
		slog.Warn("unknown site id for injection, resolving by url", "site_id", siteID, "url", currentURL)
	}
	return e.adapters.ResolveByURL(currentURL)
}

func (e *Engine) readyState(ctx context.Context, target tabs.Target) string {
	st, err := adapter.ProbePage(ctx, target.Surface)
	if err != nil {
		return "unknown"
	}
	return st.ReadyState
}

// fail converts an attempt error into a failed Result.
func (e *Engine) fail(ctx context.Context, err error, res Result) Result {
	if errors.Is(context.Cause(ctx), errTabGone) {
		return failure(errs.CodeSurfaceGone, errTabGone.Error(), res)
	}
	code := errs.CodeOf(err)
	switch {
	case code != "":
	case errors.Is(err, context.DeadlineExceeded):
		code = errs.CodeEvalTimeout
	case errors.Is(err, context.Canceled):
		code = errs.CodePageNotReady
	default:
		code = errs.CodeScriptExecution
	}
	return failure(code, errs.MessageOf(err), res)
}

func failure(code, msg string, res Result) Result {
	res.Success = false
	res.Message = ""
	res.Code = code
	res.Error = category(code) + ": " + msg
	return res
}

// category maps a code onto the user-facing failure prefix.
func category(code string) string {
	switch code {
	case errs.CodeSurfaceGone:
		return "surface gone"
	case errs.CodeNoInputFound:
		return "no input found"
	case errs.CodePageNotReady, errs.CodeEvalTimeout, errs.CodeCDPUnavailable:
		return "page not ready"
	case errs.CodeInvalidArgument:
		return "invalid argument"
	case errs.CodeNotFound:
		return "no active tab"
	default:
		return "script execution error"
	}
}
