package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/dgnsrekt/promptdock/internal/injection"
)

func registerInjectHandlers(api huma.API, svc Service) {
	type injectOutput struct {
		Body injection.Result
	}
	huma.Register(api, huma.Operation{OperationID: "inject-prompt", Method: http.MethodPost, Path: "/api/v1/inject", Summary: "Write a prompt into the active tab", Description: "Failures are reported in the body with success=false and an error_code.", Tags: []string{"Injection"}},
		func(ctx context.Context, input *struct {
			Body struct {
				Text   string `json:"text" doc:"Prompt text"`
				SiteID string `json:"site_id,omitempty" doc:"Adapter to use instead of matching the tab URL"`
			}
		}) (*injectOutput, error) {
			return &injectOutput{Body: svc.InjectPrompt(ctx, input.Body.Text, input.Body.SiteID)}, nil
		})
}
