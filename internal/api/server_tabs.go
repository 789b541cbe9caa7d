package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/dgnsrekt/promptdock/internal/controller"
)

func registerTabHandlers(api huma.API, svc Service) {
	type tabOutput struct {
		Body controller.TabResult
	}
	huma.Register(api, huma.Operation{OperationID: "create-tab", Method: http.MethodPost, Path: "/api/v1/tabs", Summary: "Open a tab for a catalog or ad hoc site", Tags: []string{"Tabs"}},
		func(ctx context.Context, input *struct {
			Body controller.CreateTabRequest
		}) (*tabOutput, error) {
			return &tabOutput{Body: svc.CreateTab(ctx, input.Body)}, nil
		})

	type listOutput struct {
		Body controller.TabList
	}
	huma.Register(api, huma.Operation{OperationID: "list-tabs", Method: http.MethodGet, Path: "/api/v1/tabs", Summary: "List open tabs in creation order", Tags: []string{"Tabs"}},
		func(ctx context.Context, input *struct{}) (*listOutput, error) {
			return &listOutput{Body: svc.GetTabs()}, nil
		})

	huma.Register(api, huma.Operation{OperationID: "close-tab", Method: http.MethodDelete, Path: "/api/v1/tabs/{tab_id}", Summary: "Close a tab", Tags: []string{"Tabs"}},
		func(ctx context.Context, input *tabIDInput) (*actionOutput, error) {
			return &actionOutput{Body: svc.CloseTab(ctx, input.TabID)}, nil
		})

	huma.Register(api, huma.Operation{OperationID: "activate-tab", Method: http.MethodPost, Path: "/api/v1/tabs/{tab_id}/activate", Summary: "Make a tab the visible one", Tags: []string{"Tabs"}},
		func(ctx context.Context, input *tabIDInput) (*actionOutput, error) {
			return &actionOutput{Body: svc.SwitchTab(ctx, input.TabID)}, nil
		})

	huma.Register(api, huma.Operation{OperationID: "navigate-tab", Method: http.MethodPost, Path: "/api/v1/tabs/{tab_id}/navigate", Summary: "Navigate a tab", Description: "Action is one of back, forward, reload, stop or navigate. navigate requires url.", Tags: []string{"Tabs"}},
		func(ctx context.Context, input *struct {
			TabID string `path:"tab_id"`
			Body  struct {
				Action string `json:"action" doc:"One of back, forward, reload, stop, navigate"`
				URL    string `json:"url,omitempty" doc:"Target URL for navigate"`
			}
		}) (*actionOutput, error) {
			return &actionOutput{Body: svc.NavigateTab(ctx, input.TabID, input.Body.Action, input.Body.URL)}, nil
		})
}
