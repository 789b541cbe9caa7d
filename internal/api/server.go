package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/dgnsrekt/promptdock/internal/adapter"
	"github.com/dgnsrekt/promptdock/internal/catalog"
	"github.com/dgnsrekt/promptdock/internal/controller"
	"github.com/dgnsrekt/promptdock/internal/errs"
	"github.com/dgnsrekt/promptdock/internal/events"
	"github.com/dgnsrekt/promptdock/internal/injection"
	"github.com/dgnsrekt/promptdock/internal/layout"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type Service interface {
	CreateTab(ctx context.Context, req controller.CreateTabRequest) controller.TabResult
	CloseTab(ctx context.Context, id string) controller.ActionResult
	SwitchTab(ctx context.Context, id string) controller.ActionResult
	NavigateTab(ctx context.Context, id, action, rawURL string) controller.ActionResult
	GetTabs() controller.TabList
	InjectPrompt(ctx context.Context, text, siteID string) injection.Result
	Sites() []catalog.Site
	Adapters() []adapter.Descriptor
	LayoutStatus(ctx context.Context) layout.Status
	VerifyLayout(ctx context.Context) (layout.Report, error)
	SetSidebarWidth(ctx context.Context, width int) (int, error)
	WindowEvent(typ string) error
}

type tabIDInput struct {
	TabID string `path:"tab_id" doc:"Tab identifier"`
}

type actionOutput struct {
	Body controller.ActionResult
}

const apiTitle = "promptdock API"

// NewServer builds the HTTP handler. broker may be nil, in which case the
// event stream endpoints are not mounted.
func NewServer(svc Service, broker *events.Broker) http.Handler {
	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(requestLogger)
	router.Use(middleware.Recoverer)

	cfg := huma.DefaultConfig(apiTitle, "1.0.0")
	cfg.DocsPath = ""
	api := humachi.New(router, cfg)

	router.Get("/docs", staticPage(docsPage(apiTitle, cfg.OpenAPIPath+".json")))
	router.Get("/panel", Panel())
	if broker != nil {
		router.Get("/api/v1/events", events.SSEHandler(broker))
		router.Get("/api/v1/events/ws", events.WSHandler(broker))
	}

	registerTabHandlers(api, svc)
	registerInjectHandlers(api, svc)
	registerLayoutHandlers(api, svc)
	registerMiscHandlers(api, svc)

	return router
}

// Panel serves the side panel page on its own, for use before the API is
// ready.
func Panel() http.HandlerFunc {
	return staticPage(panelHTML)
}

func staticPage(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if _, err := w.Write([]byte(body)); err != nil {
			slog.Debug("page response write failed", "path", r.URL.Path, "error", err)
		}
	}
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	code := errs.CodeOf(err)
	msg := errs.MessageOf(err)
	switch code {
	case errs.CodeInvalidArgument:
		return huma.Error400BadRequest(msg)
	case errs.CodeNotFound:
		return huma.Error404NotFound(msg)
	case errs.CodeCapacityExceeded:
		return huma.Error409Conflict(msg)
	case errs.CodeEvalTimeout:
		return huma.Error504GatewayTimeout(msg)
	case errs.CodeCDPUnavailable, errs.CodeSurfaceGone:
		return huma.Error502BadGateway(msg)
	case "":
		return huma.Error500InternalServerError(err.Error())
	default:
		return huma.Error500InternalServerError(fmt.Sprintf("%s: %s", code, msg))
	}
}
