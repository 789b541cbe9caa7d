package api

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// chatty routes are hit by the side panel on every refresh or window move.
var chatty = map[string]bool{
	"GET /health":                true,
	"GET /api/v1/tabs":           true,
	"GET /api/v1/sites":          true,
	"POST /api/v1/window/events": true,
	"GET /api/v1/layout":         true,
}

func requestLevel(method, route string, status int) slog.Level {
	switch {
	case status >= 500:
		return slog.LevelWarn
	case chatty[method+" "+route]:
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if p := rc.RoutePattern(); p != "" {
				route = p
			}
		}
		attrs := []any{
			"method", r.Method,
			"route", route,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		}
		if id := chi.URLParam(r, "tab_id"); id != "" {
			attrs = append(attrs, "tab_id", id)
		}
		if strings.HasPrefix(route, "/api/v1/events") {
			attrs = append(attrs, "stream", true)
		}
		slog.Log(r.Context(), requestLevel(r.Method, route, ww.Status()), "http request", attrs...)
	})
}
