package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/dgnsrekt/promptdock/internal/adapter"
	"github.com/dgnsrekt/promptdock/internal/api"
	"github.com/dgnsrekt/promptdock/internal/browser"
	"github.com/dgnsrekt/promptdock/internal/catalog"
	"github.com/dgnsrekt/promptdock/internal/cdpcontrol"
	"github.com/dgnsrekt/promptdock/internal/config"
	"github.com/dgnsrekt/promptdock/internal/controller"
	"github.com/dgnsrekt/promptdock/internal/events"
	"github.com/dgnsrekt/promptdock/internal/injection"
	"github.com/dgnsrekt/promptdock/internal/journal"
	"github.com/dgnsrekt/promptdock/internal/layout"
	"github.com/dgnsrekt/promptdock/internal/netutil"
	"github.com/dgnsrekt/promptdock/internal/notify"
	"github.com/dgnsrekt/promptdock/internal/shell"
	"github.com/dgnsrekt/promptdock/internal/tabs"
	"gopkg.in/natefinch/lumberjack.v2"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	if err := setupLogger(cfg.LogLevel, cfg.LogFile); err != nil {
		_, _ = io.WriteString(os.Stderr, "logger setup failed: "+err.Error()+"\n")
		os.Exit(1)
	}

	slog.Info("promptdock config loaded",
		"cdp_url", cfg.CDPURL(),
		"bind_addr", cfg.BindAddr,
		"max_tabs", cfg.MaxTabs,
		"dedup_policy", cfg.DedupPolicy,
		"sidebar_width", cfg.SidebarWidth,
		"sites_config", cfg.SitesConfigPath,
		"log_level", cfg.LogLevel,
		"log_file", cfg.LogFile,
		"journal_dir", cfg.JournalDir,
	)

	if err := run(cfg); err != nil {
		slog.Error("promptdock exited with error", "error", err)
		os.Exit(1)
	}
}

// lateHandler serves the side panel page until the API handler is set.
type lateHandler struct {
	h     atomic.Pointer[http.Handler]
	panel http.Handler
}

func (l *lateHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h := l.h.Load(); h != nil {
		(*h).ServeHTTP(w, r)
		return
	}
	if r.URL.Path == "/panel" {
		l.panel.ServeHTTP(w, r)
		return
	}
	http.Error(w, "promptdock is starting", http.StatusServiceUnavailable)
}

func run(cfg *config.Config) error {
	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(sigCtx)
	defer cancel()

	ln, err := netutil.Listen(cfg.BindAddr, cfg.PortCandidates, cfg.PortAutoFallback)
	if err != nil {
		return err
	}
	addr := ln.Addr().String()
	panelURL := "http://" + addr + "/panel"

	handler := &lateHandler{panel: api.Panel()}
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	defer func() { _ = srv.Close() }()
	serveErr := make(chan error, 1)
	go func() {
		slog.Info("promptdock listening", "addr", addr, "panel", panelURL, "docs", "http://"+addr+"/docs")
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	launcher := browser.NewLauncher(browser.Config{
		CDPAddress:   cfg.CDPAddress,
		CDPPort:      cfg.CDPPort,
		AppURL:       panelURL,
		ProfileDir:   cfg.ProfileDir,
		WindowWidth:  cfg.WindowWidth,
		WindowHeight: cfg.WindowHeight,
	})
	if cfg.LaunchBrowser {
		if err := launcher.Launch(ctx); err != nil {
			return err
		}
		defer launcher.Stop()
	}

	client := cdpcontrol.NewClient(cfg.CDPURL(), time.Duration(cfg.EvalTimeoutMS)*time.Millisecond)
	if err := client.Connect(ctx); err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	host, err := client.OpenHost(ctx, panelURL, cfg.WindowWidth, cfg.WindowHeight)
	if err != nil {
		return err
	}

	sites, err := catalog.LoadOrDefault(cfg.SitesConfigPath)
	if err != nil {
		return err
	}
	if cfg.WatchSites {
		if err := sites.Watch(ctx, cfg.SitesConfigPath); err != nil {
			slog.Warn("sites config watch disabled", "path", cfg.SitesConfigPath, "error", err)
		}
	}

	registry := adapter.NewDefaultRegistry()
	broker := events.NewBroker()
	if cfg.JournalDir != "" {
		j := journal.New(cfg.JournalDir, cfg.JournalMaxMB)
		j.Follow(broker)
		defer func() { _ = j.Close() }()
	}

	tabMgr := tabs.NewManager(tabs.Config{
		MaxTabs:     cfg.MaxTabs,
		DedupPolicy: cfg.DedupPolicy,
		LoadTimeout: time.Duration(cfg.LoadTimeoutMS) * time.Millisecond,
	}, client, broker)

	layoutCtl := layout.NewController(layout.Config{
		TopInset:      cfg.TopInset,
		SidebarWidth:  cfg.SidebarWidth,
		MinWidth:      cfg.MinSurfaceW,
		MinHeight:     cfg.MinSurfaceH,
		Interval:      time.Duration(cfg.HealIntervalMS) * time.Millisecond,
		ReverifyDelay: time.Duration(cfg.ReverifyDelayMS) * time.Millisecond,
		MaxResets:     cfg.MaxResets,
	}, host)
	layoutCtl.SetSource(tabMgr)
	tabMgr.SetLayout(layoutCtl)

	engine := injection.NewEngine(injection.Config{
		ReadyTimeout: time.Duration(cfg.ReadyTimeoutMS) * time.Millisecond,
		RetryDelay:   time.Duration(cfg.RetryDelayMS) * time.Millisecond,
	}, tabMgr, registry, broker)

	notifier := notify.New(nil, cfg.NotifyEndpoint)
	sh := shell.New(shell.Config{
		PollInterval: time.Duration(cfg.WindowPollMS) * time.Millisecond,
		OpenExternal: browser.OpenExternal,
	}, host, tabMgr, layoutCtl, broker, notifier)

	svc := controller.NewService(tabMgr, engine, sites, registry, layoutCtl, sh)
	var h http.Handler = api.NewServer(svc, broker)
	handler.h.Store(&h)

	sh.Start(ctx)
	if res := svc.OpenDefault(ctx); !res.Success {
		slog.Warn("default site did not open", "code", res.Code, "error", res.Error)
	}

	var runErr error
	select {
	case <-ctx.Done():
		slog.Info("shutdown requested")
	case <-host.Gone():
		slog.Info("host window closed, shutting down")
	case runErr = <-serveErr:
		slog.Error("http server failed", "error", runErr)
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown failed", "error", err)
	}
	if err := sh.Close(shutdownCtx); err != nil {
		slog.Warn("shell close incomplete", "error", err)
	}
	return runErr
}

func setupLogger(level, filename string) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
		return err
	}

	logWriter := &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    25,
		MaxBackups: 10,
		MaxAge:     14,
		Compress:   true,
	}

	var slogLevel slog.Level
	switch level {
	case "debug":
		slogLevel = slog.LevelDebug
	case "warn":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}

	h := slog.NewTextHandler(io.MultiWriter(os.Stdout, logWriter), &slog.HandlerOptions{Level: slogLevel})
	slog.SetDefault(slog.New(h))
	return nil
}
