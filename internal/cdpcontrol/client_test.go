package cdpcontrol

import (
	"context"
	"encoding/json"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/dgnsrekt/promptdock/internal/errs"
	"github.com/dgnsrekt/promptdock/internal/surface"
)

type eventSink chan surface.Event

func (s eventSink) observe(ev surface.Event) {
	select {
	case s <- ev:
	default:
	}
}

func (s eventSink) next(t *testing.T, kind surface.EventKind) surface.Event {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-s:
			if ev.Kind == kind {
				return ev
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %q event", kind)
		}
	}
}

func newTestClient(t *testing.T) (*Client, *fakeBrowser) {
	t.Helper()
	fb := newFakeBrowser(t)
	c := NewClient(fb.URL(), time.Second)
	t.Cleanup(func() { _ = c.Close() })
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	return c, fb
}

func createSurface(t *testing.T, c *Client, partition string) (*Surface, eventSink) {
	t.Helper()
	sink := make(eventSink, 32)
	surf, err := c.Create(context.Background(), surface.CreateOptions{Partition: partition, Observer: sink.observe})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return surf.(*Surface), sink
}

func TestConnectRequiresURL(t *testing.T) {
	c := NewClient("", time.Second)
	err := c.Connect(context.Background())
	if !errs.Is(err, errs.CodeCDPUnavailable) {
		t.Fatalf("Connect() error = %v; want %s", err, errs.CodeCDPUnavailable)
	}
}

func TestCreateSharedPartitionUsesDefaultContext(t *testing.T) {
	c, fb := newTestClient(t)
	s, _ := createSurface(t, c, surface.SharedPartition)

	if s.ID() != "T1" {
		t.Fatalf("ID() = %q; want T1", s.ID())
	}
	if slices.Contains(fb.methods(), "Target.createBrowserContext") {
		t.Fatal("shared partition created a browser context")
	}
	req, ok := fb.lastCall("Target.createTarget")
	if !ok {
		t.Fatal("Target.createTarget not called")
	}
	var p map[string]any
	_ = json.Unmarshal(req.Params, &p)
	if p["newWindow"] != true || p["url"] != "about:blank" {
		t.Fatalf("createTarget params = %v", p)
	}
	if _, ok := fb.lastCall("Page.enable"); !ok {
		t.Fatal("Page.enable not called on the new session")
	}
}

func TestPrivatePartitionContextDisposedOnClose(t *testing.T) {
	c, fb := newTestClient(t)
	s, _ := createSurface(t, c, surface.PartitionFor("abc", false))

	if err := s.Close(context.Background()); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := s.Close(context.Background()); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}

	methods := fb.methods()
	for _, want := range []string{"Target.createBrowserContext", "Target.closeTarget", "Target.disposeBrowserContext"} {
		if !slices.Contains(methods, want) {
			t.Fatalf("methods = %v; missing %s", methods, want)
		}
	}
	select {
	case <-s.Gone():
	default:
		t.Fatal("Gone() not closed after Close()")
	}
	if _, err := s.Evaluate(context.Background(), "1"); !errs.Is(err, errs.CodeSurfaceGone) {
		t.Fatalf("Evaluate() after Close error = %v; want SURFACE_GONE", err)
	}
}

func TestEvaluate(t *testing.T) {
	c, fb := newTestClient(t)
	s, _ := createSurface(t, c, surface.SharedPartition)

	out, err := s.Evaluate(context.Background(), "document.title")
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if out != `{"ok":true}` {
		t.Fatalf("Evaluate() = %q", out)
	}
	req, _ := fb.lastCall("Runtime.evaluate")
	if req.SessionID != "S-T1" {
		t.Fatalf("evaluate session = %q; want S-T1", req.SessionID)
	}
}

func TestEvaluateErrors(t *testing.T) {
	tests := []struct {
		name string
		resp func(fakeRequest) (any, *protocolError)
		want string
	}{
		{
			name: "exception",
			resp: func(fakeRequest) (any, *protocolError) {
				return map[string]any{
					"result":           map[string]any{"type": "object"},
					"exceptionDetails": map[string]any{"text": "Uncaught ReferenceError"},
				}, nil
			},
			want: errs.CodeScriptExecution,
		},
		{
			name: "target gone",
			resp: func(fakeRequest) (any, *protocolError) {
				return nil, &protocolError{Code: -32000, Message: "No target with given id found"}
			},
			want: errs.CodeSurfaceGone,
		},
		{
			name: "hang",
			resp: func(fakeRequest) (any, *protocolError) {
				time.Sleep(1500 * time.Millisecond)
				return map[string]any{"result": map[string]any{"type": "string", "value": "late"}}, nil
			},
			want: errs.CodeEvalTimeout,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, fb := newTestClient(t)
			s, _ := createSurface(t, c, surface.SharedPartition)
			fb.on("Runtime.evaluate", tt.resp)

			_, err := s.Evaluate(context.Background(), "x")
			if code := errs.CodeOf(err); code != tt.want {
				t.Fatalf("Evaluate() code = %q (%v); want %q", code, err, tt.want)
			}
		})
	}
}

func TestNavigateRejected(t *testing.T) {
	c, fb := newTestClient(t)
	s, sink := createSurface(t, c, surface.SharedPartition)
	fb.on("Page.navigate", func(fakeRequest) (any, *protocolError) {
		return map[string]string{"frameId": "T1", "errorText": "net::ERR_NAME_NOT_RESOLVED"}, nil
	})

	err := s.Navigate(context.Background(), "https://nowhere.invalid/")
	if err == nil {
		t.Fatal("Navigate() error = nil; want failure")
	}
	ev := sink.next(t, surface.EventLoadFailed)
	if ev.ErrorText != "net::ERR_NAME_NOT_RESOLVED" {
		t.Fatalf("load-failed ErrorText = %q", ev.ErrorText)
	}
}

func TestPageEventsRoutedBySession(t *testing.T) {
	c, fb := newTestClient(t)
	s1, sink1 := createSurface(t, c, surface.SharedPartition)
	_, sink2 := createSurface(t, c, surface.SharedPartition)
	fb.mu.Lock()
	fb.history.Index = 1
	fb.history.Entries = []historyEntry{{ID: 1, URL: "https://a.example/"}, {ID: 2, URL: "https://a.example/b"}}
	fb.mu.Unlock()

	fb.emit("Page.frameStartedLoading", "S-T1", map[string]string{"frameId": "T1"})
	sink1.next(t, surface.EventStartLoading)

	fb.emit("Page.frameNavigated", "S-T1", map[string]any{"frame": map[string]string{"id": "T1", "url": "https://a.example/b"}})
	ev := sink1.next(t, surface.EventNavigated)
	if ev.URL != "https://a.example/b" {
		t.Fatalf("navigated URL = %q", ev.URL)
	}
	hist := sink1.next(t, surface.EventHistoryChanged)
	if !hist.CanGoBack || hist.CanGoForward {
		t.Fatalf("history-changed = %+v; want back only", hist)
	}

	fb.emit("Page.loadEventFired", "S-T1", map[string]any{"timestamp": 1})
	sink1.next(t, surface.EventFinishLoad)

	fb.emit("Target.targetInfoChanged", "", map[string]any{"targetInfo": map[string]any{"targetId": "T1", "type": "page", "title": "Chat", "url": "https://a.example/b", "attached": true}})
	if ev := sink1.next(t, surface.EventTitleUpdated); ev.Title != "Chat" {
		t.Fatalf("title-updated = %q", ev.Title)
	}

	nav := s1.NavState()
	if nav.URL != "https://a.example/b" || nav.Title != "Chat" || !nav.CanGoBack {
		t.Fatalf("NavState() = %+v", nav)
	}

	select {
	case ev := <-sink2:
		t.Fatalf("second surface received %+v", ev)
	default:
	}
}

func TestSubframeEventsIgnored(t *testing.T) {
	c, fb := newTestClient(t)
	_, sink := createSurface(t, c, surface.SharedPartition)

	fb.emit("Page.frameStartedLoading", "S-T1", map[string]string{"frameId": "IFRAME"})
	fb.emit("Page.frameNavigated", "S-T1", map[string]any{"frame": map[string]string{"id": "IFRAME", "parentId": "T1", "url": "https://ads.example/"}})
	fb.emit("Page.domContentEventFired", "S-T1", map[string]any{"timestamp": 1})

	ev := sink.next(t, surface.EventDOMReady)
	if ev.Kind != surface.EventDOMReady {
		t.Fatalf("event = %+v", ev)
	}
	select {
	case ev := <-sink:
		t.Fatalf("unexpected event %+v", ev)
	default:
	}
}

func TestHistoryNavigation(t *testing.T) {
	c, fb := newTestClient(t)
	s, _ := createSurface(t, c, surface.SharedPartition)
	fb.mu.Lock()
	fb.history.Index = 0
	fb.history.Entries = []historyEntry{{ID: 10, URL: "https://a.example/"}, {ID: 11, URL: "https://a.example/b"}}
	fb.mu.Unlock()

	if err := s.GoBack(context.Background()); err != nil {
		t.Fatalf("GoBack() error = %v", err)
	}
	if _, ok := fb.lastCall("Page.navigateToHistoryEntry"); ok {
		t.Fatal("GoBack() at the first entry navigated")
	}
	if err := s.GoForward(context.Background()); err != nil {
		t.Fatalf("GoForward() error = %v", err)
	}
	req, ok := fb.lastCall("Page.navigateToHistoryEntry")
	if !ok || !strings.Contains(string(req.Params), `"entryId":11`) {
		t.Fatalf("navigateToHistoryEntry params = %s", req.Params)
	}
	if err := s.Reload(context.Background()); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
}

func TestSetBoundsRoundTrip(t *testing.T) {
	c, fb := newTestClient(t)
	s, _ := createSurface(t, c, surface.SharedPartition)

	want := surface.Bounds{X: 10, Y: 20, Width: 640, Height: 480}
	if err := s.SetBounds(context.Background(), want); err != nil {
		t.Fatalf("SetBounds() error = %v", err)
	}
	got, err := s.Bounds(context.Background())
	if err != nil {
		t.Fatalf("Bounds() error = %v", err)
	}
	if got != want {
		t.Fatalf("Bounds() = %+v; want %+v", got, want)
	}

	if err := s.SetBounds(context.Background(), surface.Bounds{}); err != nil {
		t.Fatalf("SetBounds(zero) error = %v", err)
	}
	if w := fb.window(1); w.State != "minimized" {
		t.Fatalf("window state = %q; want minimized", w.State)
	}
	if got, _ := s.Bounds(context.Background()); !got.Zero() {
		t.Fatalf("hidden Bounds() = %+v; want zero", got)
	}

	// Restoring a minimized window needs the state change before geometry.
	if err := s.SetBounds(context.Background(), want); err != nil {
		t.Fatalf("SetBounds() after hide error = %v", err)
	}
	if got, _ := s.Bounds(context.Background()); got != want {
		t.Fatalf("restored Bounds() = %+v; want %+v", got, want)
	}
	if _, ok := fb.lastCall("Target.activateTarget"); !ok {
		t.Fatal("restored surface was not activated")
	}
}

func TestTargetDestroyedMarksGone(t *testing.T) {
	c, fb := newTestClient(t)
	s, sink := createSurface(t, c, surface.SharedPartition)

	fb.emit("Target.targetDestroyed", "", map[string]string{"targetId": "T1"})
	sink.next(t, surface.EventGone)
	select {
	case <-s.Gone():
	case <-time.After(time.Second):
		t.Fatal("Gone() not closed")
	}
	if err := s.SetBounds(context.Background(), surface.Bounds{Width: 1, Height: 1}); !errs.Is(err, errs.CodeSurfaceGone) {
		t.Fatalf("SetBounds() on gone surface error = %v", err)
	}
}

func TestPopupRoutedToOpener(t *testing.T) {
	c, fb := newTestClient(t)
	_, sink := createSurface(t, c, surface.SharedPartition)

	fb.emit("Target.targetCreated", "", map[string]any{"targetInfo": map[string]any{
		"targetId": "POP", "type": "page", "url": "about:blank", "openerId": "T1", "attached": false,
	}})
	fb.emit("Target.targetInfoChanged", "", map[string]any{"targetInfo": map[string]any{
		"targetId": "POP", "type": "page", "url": "https://docs.example/", "openerId": "T1", "attached": false,
	}})

	ev := sink.next(t, surface.EventPopupRequested)
	if ev.URL != "https://docs.example/" {
		t.Fatalf("popup URL = %q", ev.URL)
	}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if req, ok := fb.lastCall("Target.closeTarget"); ok && strings.Contains(string(req.Params), "POP") {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("popup target was not closed")
}

func TestDisconnectMarksSurfacesGoneAndReconnects(t *testing.T) {
	c, fb := newTestClient(t)
	_, sink := createSurface(t, c, surface.SharedPartition)

	fb.drop()
	sink.next(t, surface.EventGone)

	s, err := c.Create(context.Background(), surface.CreateOptions{Partition: surface.SharedPartition})
	if err != nil {
		t.Fatalf("Create() after reconnect error = %v", err)
	}
	if s.ID() != "T2" {
		t.Fatalf("ID() = %q; want T2", s.ID())
	}
}

func TestOpenHostAdoptsExistingPage(t *testing.T) {
	c, fb := newTestClient(t)
	fb.on("Runtime.evaluate", func(fakeRequest) (any, *protocolError) {
		return map[string]any{"result": map[string]any{"type": "string",
			"value": `{"x":100,"y":50,"ow":1200,"oh":800,"iw":1200,"ih":760}`}}, nil
	})

	host, err := c.OpenHost(context.Background(), "http://127.0.0.1:8188/panel", 1200, 800)
	if err != nil {
		t.Fatalf("OpenHost() error = %v", err)
	}
	if slices.Contains(fb.methods(), "Target.createTarget") {
		t.Fatal("OpenHost() created a window although the panel page exists")
	}
	size, err := host.ContentSize(context.Background())
	if err != nil {
		t.Fatalf("ContentSize() error = %v", err)
	}
	if size != (surface.Size{Width: 1200, Height: 760}) {
		t.Fatalf("ContentSize() = %+v", size)
	}
	if x, y := host.origin(context.Background()); x != 100 || y != 90 {
		t.Fatalf("origin() = (%d, %d); want (100, 90)", x, y)
	}

	fb.emit("Target.targetDestroyed", "", map[string]string{"targetId": "HOST"})
	select {
	case <-host.Gone():
	case <-time.After(2 * time.Second):
		t.Fatal("host Gone() not closed")
	}
}
