package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/dgnsrekt/promptdock/internal/layout"
)

func registerLayoutHandlers(api huma.API, svc Service) {
	type statusOutput struct {
		Body layout.Status
	}
	huma.Register(api, huma.Operation{OperationID: "get-layout", Method: http.MethodGet, Path: "/api/v1/layout", Summary: "Canonical bounds and the last heal report", Tags: []string{"Layout"}},
		func(ctx context.Context, input *struct{}) (*statusOutput, error) {
			return &statusOutput{Body: svc.LayoutStatus(ctx)}, nil
		})

	type reportOutput struct {
		Body layout.Report
	}
	huma.Register(api, huma.Operation{OperationID: "verify-layout", Method: http.MethodPost, Path: "/api/v1/layout/verify", Summary: "Run a verification pass now", Tags: []string{"Layout"}},
		func(ctx context.Context, input *struct{}) (*reportOutput, error) {
			rep, err := svc.VerifyLayout(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			return &reportOutput{Body: rep}, nil
		})

	type sidebarOutput struct {
		Body struct {
			Width int `json:"width"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "set-sidebar-width", Method: http.MethodPut, Path: "/api/v1/layout/sidebar", Summary: "Set the side panel width", Description: "The width is clamped to 200..600.", Tags: []string{"Layout"}},
		func(ctx context.Context, input *struct {
			Body struct {
				Width int `json:"width" required:"true"`
			}
		}) (*sidebarOutput, error) {
			width, err := svc.SetSidebarWidth(ctx, input.Body.Width)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &sidebarOutput{}
			out.Body.Width = width
			return out, nil
		})
}
