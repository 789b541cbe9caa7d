package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/dgnsrekt/promptdock/internal/adapter"
	"github.com/dgnsrekt/promptdock/internal/catalog"
)

func registerMiscHandlers(api huma.API, svc Service) {
	type healthOutput struct {
		Body struct {
			Status string `json:"status"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "health", Method: http.MethodGet, Path: "/health", Summary: "Health check", Tags: []string{"Health"}},
		func(ctx context.Context, input *struct{}) (*healthOutput, error) {
			out := &healthOutput{}
			out.Body.Status = "ok"
			return out, nil
		})

	type sitesOutput struct {
		Body struct {
			Sites []catalog.Site `json:"sites"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "list-sites", Method: http.MethodGet, Path: "/api/v1/sites", Summary: "List catalog sites", Tags: []string{"Catalog"}},
		func(ctx context.Context, input *struct{}) (*sitesOutput, error) {
			out := &sitesOutput{}
			out.Body.Sites = svc.Sites()
			return out, nil
		})

	type adaptersOutput struct {
		Body struct {
			Adapters []adapter.Descriptor `json:"adapters"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "list-adapters", Method: http.MethodGet, Path: "/api/v1/adapters", Summary: "List injection adapters", Tags: []string{"Injection"}},
		func(ctx context.Context, input *struct{}) (*adaptersOutput, error) {
			out := &adaptersOutput{}
			out.Body.Adapters = svc.Adapters()
			return out, nil
		})

	type windowOutput struct {
		Body struct {
			Accepted bool `json:"accepted"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "window-event", Method: http.MethodPost, Path: "/api/v1/window/events", Summary: "Report a host window event", Description: "Posted by the side panel on focus, show, resize, move, maximize and restore.", Tags: []string{"Window"}},
		func(ctx context.Context, input *struct {
			Body struct {
				Type string `json:"type" required:"true"`
			}
		}) (*windowOutput, error) {
			if err := svc.WindowEvent(input.Body.Type); err != nil {
				return nil, mapErr(err)
			}
			out := &windowOutput{}
			out.Body.Accepted = true
			return out, nil
		})
}
