package cdpcontrol

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/chromedp/cdproto/target"
	"github.com/dgnsrekt/promptdock/internal/surface"
)

func TestTeardownLogsDetachFailure(t *testing.T) {
	var buf bytes.Buffer
	oldLogger := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() {
		slog.SetDefault(oldLogger)
	})

	var kinds []surface.EventKind
	s := &Surface{
		targetID: "target-1",
		gone:     make(chan struct{}),
		observer: func(ev surface.Event) { kinds = append(kinds, ev.Kind) },
	}
	client := &Client{
		cdp:       &rawCDP{},
		byTarget:  map[target.ID]*Surface{"target-1": s},
		bySession: map[string]*Surface{"session-1": s},
	}
	client.teardown()

	if !strings.Contains(buf.String(), "detach cleanup failed") {
		t.Fatalf("expected detach cleanup debug log, got %q", buf.String())
	}
	if len(kinds) != 1 || kinds[0] != surface.EventGone {
		t.Fatalf("surface events = %v; want [gone]", kinds)
	}
	if client.cdp != nil || len(client.byTarget) != 0 {
		t.Fatal("teardown left connection state behind")
	}
}
