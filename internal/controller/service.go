// Package controller is the request/response facade over the tab registry,
// injection engine, layout controller and site catalog. Tab and injection
// operations return discriminated results rather than errors.
package controller

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/dgnsrekt/promptdock/internal/adapter"
	"github.com/dgnsrekt/promptdock/internal/catalog"
	"github.com/dgnsrekt/promptdock/internal/errs"
	"github.com/dgnsrekt/promptdock/internal/injection"
	"github.com/dgnsrekt/promptdock/internal/layout"
	"github.com/dgnsrekt/promptdock/internal/tabs"
)

// TabRegistry is the tab manager surface used by the service.
type TabRegistry interface {
	CreateTab(ctx context.Context, site catalog.Site) (tabs.Tab, error)
	CloseTab(ctx context.Context, id string) error
	SwitchTab(ctx context.Context, id string) error
	NavigateTab(ctx context.Context, id, action, rawURL string) error
	Tabs() []tabs.Tab
	ActiveTab() (tabs.Tab, bool)
}

type Injector interface {
	Inject(ctx context.Context, text, siteID string) injection.Result
}

type Sites interface {
	Get(id string) (catalog.Site, bool)
	Sites() []catalog.Site
	Default() catalog.Site
}

type Adapters interface {
	List() []adapter.Descriptor
}

type Layout interface {
	Status(ctx context.Context) layout.Status
	VerifyAndHeal(ctx context.Context, reason string) (layout.Report, error)
	SetSidebarWidth(ctx context.Context, width int) (int, error)
}

type WindowEvents interface {
	HandleWindowEvent(typ string) error
}

// Service wraps dock operations for the HTTP layer.
type Service struct {
	tabs     TabRegistry
	engine   Injector
	sites    Sites
	adapters Adapters
	layout   Layout
	window   WindowEvents
}

func NewService(t TabRegistry, engine Injector, sites Sites, adapters Adapters, l Layout, window WindowEvents) *Service {
	return &Service{tabs: t, engine: engine, sites: sites, adapters: adapters, layout: l, window: window}
}

// CreateTabRequest names either a catalog site (SiteID) or an ad-hoc site.
type CreateTabRequest struct {
	SiteID string `json:"site_id,omitempty"`
	ID     string `json:"id,omitempty"`
	Name   string `json:"name,omitempty"`
	URL    string `json:"url,omitempty"`
	Icon   string `json:"icon,omitempty"`
}

type TabResult struct {
	Success bool      `json:"success"`
	Tab     *tabs.Tab `json:"tab,omitempty"`
	Error   string    `json:"error,omitempty"`
	Code    string    `json:"error_code,omitempty"`
}

type ActionResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"error_code,omitempty"`
}

type TabList struct {
	Tabs        []tabs.Tab `json:"tabs"`
	ActiveTabID *string    `json:"active_tab_id"`
}

func (s *Service) requireNonEmpty(value, fieldName string) error {
	if strings.TrimSpace(value) == "" {
		return errs.New(errs.CodeInvalidArgument, fieldName+" is required", nil)
	}
	return nil
}

// describe splits err into the message and code carried by a failed result.
func describe(err error) (string, string) {
	code := errs.CodeOf(err)
	switch {
	case code != "":
		return errs.MessageOf(err), code
	case errors.Is(err, tabs.ErrClosed):
		return err.Error(), errs.CodeInvalidArgument
	default:
		return err.Error(), errs.CodeScriptExecution
	}
}

func actionResult(op string, err error) ActionResult {
	if err == nil {
		return ActionResult{Success: true}
	}
	msg, code := describe(err)
	slog.Warn("controller "+op+" failed", "code", code, "error", msg)
	return ActionResult{Error: msg, Code: code}
}

// resolveSite turns a request into the site to open. A catalog id wins; an
// ad-hoc site whose id matches a catalog entry inherits its session flag.
func (s *Service) resolveSite(req CreateTabRequest) (catalog.Site, error) {
	if id := strings.TrimSpace(req.SiteID); id != "" {
		site, ok := s.sites.Get(id)
		if !ok {
			return catalog.Site{}, errs.New(errs.CodeNotFound, "unknown site "+id, nil)
		}
		return site, nil
	}
	if err := s.requireNonEmpty(req.URL, "url"); err != nil {
		return catalog.Site{}, err
	}
	site := catalog.Site{
		ID:   strings.TrimSpace(req.ID),
		Name: strings.TrimSpace(req.Name),
		URL:  strings.TrimSpace(req.URL),
		Icon: strings.TrimSpace(req.Icon),
	}
	if known, ok := s.sites.Get(site.ID); ok && site.ID != "" {
		site.SharedSession = known.SharedSession
		if site.Icon == "" {
			site.Icon = known.Icon
		}
	}
	return site, nil
}

func (s *Service) CreateTab(ctx context.Context, req CreateTabRequest) TabResult {
	site, err := s.resolveSite(req)
	if err == nil {
		var tab tabs.Tab
		tab, err = s.tabs.CreateTab(ctx, site)
		if err == nil {
			return TabResult{Success: true, Tab: &tab}
		}
	}
	msg, code := describe(err)
	slog.Warn("controller create tab failed", "site_id", req.SiteID, "url", req.URL, "code", code, "error", msg)
	return TabResult{Error: msg, Code: code}
}

// OpenDefault opens the catalog's default site.
func (s *Service) OpenDefault(ctx context.Context) TabResult {
	return s.CreateTab(ctx, CreateTabRequest{SiteID: s.sites.Default().ID})
}

func (s *Service) CloseTab(ctx context.Context, id string) ActionResult {
	if err := s.requireNonEmpty(id, "tab_id"); err != nil {
		return actionResult("close tab", err)
	}
	return actionResult("close tab", s.tabs.CloseTab(ctx, strings.TrimSpace(id)))
}

func (s *Service) SwitchTab(ctx context.Context, id string) ActionResult {
	if err := s.requireNonEmpty(id, "tab_id"); err != nil {
		return actionResult("switch tab", err)
	}
	return actionResult("switch tab", s.tabs.SwitchTab(ctx, strings.TrimSpace(id)))
}

func (s *Service) NavigateTab(ctx context.Context, id, action, rawURL string) ActionResult {
	if err := s.requireNonEmpty(action, "action"); err != nil {
		return actionResult("navigate tab", err)
	}
	action = strings.ToLower(strings.TrimSpace(action))
	return actionResult("navigate tab", s.tabs.NavigateTab(ctx, strings.TrimSpace(id), action, strings.TrimSpace(rawURL)))
}

func (s *Service) GetTabs() TabList {
	list := TabList{Tabs: s.tabs.Tabs()}
	if list.Tabs == nil {
		list.Tabs = []tabs.Tab{}
	}
	if active, ok := s.tabs.ActiveTab(); ok {
		id := active.ID
		list.ActiveTabID = &id
	}
	return list
}

func (s *Service) InjectPrompt(ctx context.Context, text, siteID string) injection.Result {
	return s.engine.Inject(ctx, text, siteID)
}

func (s *Service) Sites() []catalog.Site {
	return s.sites.Sites()
}

func (s *Service) Adapters() []adapter.Descriptor {
	return s.adapters.List()
}

func (s *Service) LayoutStatus(ctx context.Context) layout.Status {
	return s.layout.Status(ctx)
}

func (s *Service) VerifyLayout(ctx context.Context) (layout.Report, error) {
	return s.layout.VerifyAndHeal(ctx, "manual")
}

func (s *Service) SetSidebarWidth(ctx context.Context, width int) (int, error) {
	if width <= 0 {
		return 0, errs.New(errs.CodeInvalidArgument, "width must be positive", nil)
	}
	return s.layout.SetSidebarWidth(ctx, width)
}

func (s *Service) WindowEvent(typ string) error {
	if err := s.requireNonEmpty(typ, "type"); err != nil {
		return err
	}
	return s.window.HandleWindowEvent(strings.ToLower(strings.TrimSpace(typ)))
}
