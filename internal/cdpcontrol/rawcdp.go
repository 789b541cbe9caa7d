package cdpcontrol

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/target"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// rawCDP is a minimal browser-level CDP client using flat sessions. It
// avoids chromedp's allocator and session bootstrap so surfaces can be
// created in arbitrary browser contexts and windows.
type rawCDP struct {
	httpBase string // e.g. "http://127.0.0.1:9220"

	mu   sync.Mutex
	conn net.Conn
	seq  atomic.Int64
	done chan struct{}

	pending   map[int64]chan json.RawMessage
	pendingMu sync.Mutex

	eventMu       sync.RWMutex
	eventHandlers map[string][]eventHandler
}

type eventHandler struct {
	id int64
	fn func(sessionID string, params json.RawMessage)
}

// protocolError is an error response from the browser.
type protocolError struct {
	Method  string
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *protocolError) Error() string {
	return fmt.Sprintf("rawcdp: %s: %s (%d)", e.Method, e.Message, e.Code)
}

func newRawCDP(httpBase string) *rawCDP {
	return &rawCDP{
		httpBase:      strings.TrimRight(httpBase, "/"),
		pending:       make(map[int64]chan json.RawMessage),
		eventHandlers: make(map[string][]eventHandler),
		done:          make(chan struct{}),
	}
}

// connect dials the browser-level WebSocket endpoint.
func (r *rawCDP) connect(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn != nil {
		return nil
	}

	wsURL, err := r.browserWSURL(ctx)
	if err != nil {
		return fmt.Errorf("rawcdp: browser ws url: %w", err)
	}

	slog.Debug("rawcdp connecting", "ws_url", wsURL)
	conn, _, _, err := ws.Dial(ctx, wsURL)
	if err != nil {
		return fmt.Errorf("rawcdp: dial: %w", err)
	}

	r.conn = conn
	r.pending = make(map[int64]chan json.RawMessage)
	go r.readLoop(conn)
	return nil
}

func (r *rawCDP) close() {
	r.mu.Lock()
	conn := r.conn
	r.conn = nil
	r.mu.Unlock()
	if conn != nil {
		conn.Close()
		<-r.done
	}
}

// readLoop processes incoming messages and dispatches responses to waiters.
// Event handlers run on this goroutine and must not issue commands.
func (r *rawCDP) readLoop(conn net.Conn) {
	defer close(r.done)
	for {
		data, err := wsutil.ReadServerText(conn)
		if err != nil {
			slog.Debug("rawcdp read loop exit", "error", err)
			r.mu.Lock()
			if r.conn == conn {
				r.conn = nil
			}
			r.mu.Unlock()
			r.closeAllPending()
			r.dispatchEvent(eventDisconnected, "", nil)
			return
		}

		var msg struct {
			ID        int64           `json:"id"`
			Method    string          `json:"method"`
			SessionID string          `json:"sessionId"`
			Params    json.RawMessage `json:"params"`
		}
		if json.Unmarshal(data, &msg) != nil {
			continue
		}
		if msg.ID > 0 {
			r.pendingMu.Lock()
			ch, ok := r.pending[msg.ID]
			if ok {
				delete(r.pending, msg.ID)
			}
			r.pendingMu.Unlock()
			if ok {
				ch <- json.RawMessage(data)
			}
		} else if msg.Method != "" {
			r.dispatchEvent(msg.Method, msg.SessionID, msg.Params)
		}
	}
}

// eventDisconnected is a synthetic event dispatched when the socket drops.
const eventDisconnected = "rawcdp.disconnected"

func (r *rawCDP) closeAllPending() {
	r.pendingMu.Lock()
	defer r.pendingMu.Unlock()
	for id, ch := range r.pending {
		close(ch)
		delete(r.pending, id)
	}
}

func (r *rawCDP) deletePending(id int64) {
	r.pendingMu.Lock()
	delete(r.pending, id)
	r.pendingMu.Unlock()
}

// sendRaw marshals an envelope, sends it over the WebSocket, and waits for
// the response keyed by the given id.
func (r *rawCDP) sendRaw(ctx context.Context, id int64, envelope any) (json.RawMessage, error) {
	r.mu.Lock()
	conn := r.conn
	r.mu.Unlock()
	if conn == nil {
		return nil, errNotConnected
	}

	ch := make(chan json.RawMessage, 1)
	r.pendingMu.Lock()
	r.pending[id] = ch
	r.pendingMu.Unlock()

	data, err := json.Marshal(envelope)
	if err != nil {
		r.deletePending(id)
		return nil, fmt.Errorf("rawcdp: marshal: %w", err)
	}

	r.mu.Lock()
	err = wsutil.WriteClientText(conn, data)
	r.mu.Unlock()
	if err != nil {
		r.deletePending(id)
		return nil, fmt.Errorf("rawcdp: send: %w", err)
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, fmt.Errorf("rawcdp: connection closed")
		}
		return resp, nil
	case <-ctx.Done():
		r.deletePending(id)
		return nil, ctx.Err()
	}
}

var errNotConnected = fmt.Errorf("rawcdp: not connected")

// call sends method on sessionID (empty for the browser session) and
// decodes the result into out when out is non-nil.
func (r *rawCDP) call(ctx context.Context, sessionID, method string, params, out any) error {
	id := r.seq.Add(1)
	req := struct {
		ID        int64  `json:"id"`
		Method    string `json:"method"`
		SessionID string `json:"sessionId,omitempty"`
		Params    any    `json:"params,omitempty"`
	}{ID: id, Method: method, SessionID: sessionID, Params: params}

	raw, err := r.sendRaw(ctx, id, req)
	if err != nil {
		return err
	}

	var resp struct {
		Result json.RawMessage `json:"result"`
		Error  *protocolError  `json:"error"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return fmt.Errorf("rawcdp: unmarshal %s: %w", method, err)
	}
	if resp.Error != nil {
		resp.Error.Method = method
		return resp.Error
	}
	if out == nil || len(resp.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Result, out); err != nil {
		return fmt.Errorf("rawcdp: decode %s: %w", method, err)
	}
	return nil
}

func (r *rawCDP) setDiscoverTargets(ctx context.Context, discover bool) error {
	params := struct {
		Discover bool `json:"discover"`
	}{Discover: discover}
	return r.call(ctx, "", "Target.setDiscoverTargets", params, nil)
}

func (r *rawCDP) createBrowserContext(ctx context.Context) (cdp.BrowserContextID, error) {
	var out struct {
		BrowserContextID cdp.BrowserContextID `json:"browserContextId"`
	}
	if err := r.call(ctx, "", "Target.createBrowserContext", struct{}{}, &out); err != nil {
		return "", err
	}
	return out.BrowserContextID, nil
}

func (r *rawCDP) disposeBrowserContext(ctx context.Context, id cdp.BrowserContextID) error {
	params := struct {
		BrowserContextID cdp.BrowserContextID `json:"browserContextId"`
	}{BrowserContextID: id}
	return r.call(ctx, "", "Target.disposeBrowserContext", params, nil)
}

// createTarget opens a page in its own window, optionally in a browser
// context other than the default one.
func (r *rawCDP) createTarget(ctx context.Context, url string, contextID cdp.BrowserContextID) (target.ID, error) {
	params := struct {
		URL              string               `json:"url"`
		BrowserContextID cdp.BrowserContextID `json:"browserContextId,omitempty"`
		NewWindow        bool                 `json:"newWindow"`
	}{URL: url, BrowserContextID: contextID, NewWindow: true}

	var out struct {
		TargetID target.ID `json:"targetId"`
	}
	if err := r.call(ctx, "", "Target.createTarget", params, &out); err != nil {
		return "", err
	}
	return out.TargetID, nil
}

func (r *rawCDP) closeTarget(ctx context.Context, targetID target.ID) error {
	params := struct {
		TargetID target.ID `json:"targetId"`
	}{TargetID: targetID}
	return r.call(ctx, "", "Target.closeTarget", params, nil)
}

func (r *rawCDP) activateTarget(ctx context.Context, targetID target.ID) error {
	params := struct {
		TargetID target.ID `json:"targetId"`
	}{TargetID: targetID}
	return r.call(ctx, "", "Target.activateTarget", params, nil)
}

// attachToTarget attaches a flat session to the given target.
func (r *rawCDP) attachToTarget(ctx context.Context, targetID target.ID) (string, error) {
	params := struct {
		TargetID target.ID `json:"targetId"`
		Flatten  bool      `json:"flatten"`
	}{TargetID: targetID, Flatten: true}

	var out struct {
		SessionID string `json:"sessionId"`
	}
	if err := r.call(ctx, "", "Target.attachToTarget", params, &out); err != nil {
		return "", err
	}
	return out.SessionID, nil
}

// detachFromTarget detaches from a session without closing the target.
func (r *rawCDP) detachFromTarget(ctx context.Context, sessionID string) error {
	params := struct {
		SessionID string `json:"sessionId"`
	}{SessionID: sessionID}
	return r.call(ctx, "", "Target.detachFromTarget", params, nil)
}

// windowBounds mirrors Browser.Bounds. Pointer fields let zero coordinates
// through while staying omittable, since window states other than normal
// cannot be combined with geometry.
type windowBounds struct {
	Left        *int                `json:"left,omitempty"`
	Top         *int                `json:"top,omitempty"`
	Width       *int                `json:"width,omitempty"`
	Height      *int                `json:"height,omitempty"`
	WindowState browser.WindowState `json:"windowState,omitempty"`
}

func geometry(left, top, width, height int) windowBounds {
	return windowBounds{Left: &left, Top: &top, Width: &width, Height: &height}
}

func (b windowBounds) get() (left, top, width, height int) {
	deref := func(p *int) int {
		if p == nil {
			return 0
		}
		return *p
	}
	return deref(b.Left), deref(b.Top), deref(b.Width), deref(b.Height)
}

func (r *rawCDP) getWindowForTarget(ctx context.Context, targetID target.ID) (browser.WindowID, windowBounds, error) {
	params := struct {
		TargetID target.ID `json:"targetId"`
	}{TargetID: targetID}
	var out struct {
		WindowID browser.WindowID `json:"windowId"`
		Bounds   windowBounds     `json:"bounds"`
	}
	if err := r.call(ctx, "", "Browser.getWindowForTarget", params, &out); err != nil {
		return 0, windowBounds{}, err
	}
	return out.WindowID, out.Bounds, nil
}

func (r *rawCDP) getWindowBounds(ctx context.Context, windowID browser.WindowID) (windowBounds, error) {
	params := struct {
		WindowID browser.WindowID `json:"windowId"`
	}{WindowID: windowID}
	var out struct {
		Bounds windowBounds `json:"bounds"`
	}
	if err := r.call(ctx, "", "Browser.getWindowBounds", params, &out); err != nil {
		return windowBounds{}, err
	}
	return out.Bounds, nil
}

func (r *rawCDP) setWindowBounds(ctx context.Context, windowID browser.WindowID, b windowBounds) error {
	params := struct {
		WindowID browser.WindowID `json:"windowId"`
		Bounds   windowBounds     `json:"bounds"`
	}{WindowID: windowID, Bounds: b}
	return r.call(ctx, "", "Browser.setWindowBounds", params, nil)
}

// evaluate runs JS on the given session and returns the string result.
func (r *rawCDP) evaluate(ctx context.Context, sessionID, js string) (string, error) {
	params := struct {
		Expression    string `json:"expression"`
		ReturnByValue bool   `json:"returnByValue"`
		AwaitPromise  bool   `json:"awaitPromise"`
	}{Expression: js, ReturnByValue: true, AwaitPromise: true}

	var resp struct {
		Result struct {
			Value json.RawMessage `json:"value"`
			Type  string          `json:"type"`
		} `json:"result"`
		ExceptionDetails *struct {
			Text string `json:"text"`
		} `json:"exceptionDetails"`
	}
	if err := r.call(ctx, sessionID, "Runtime.evaluate", params, &resp); err != nil {
		return "", err
	}
	if resp.ExceptionDetails != nil {
		return "", &evalException{Text: resp.ExceptionDetails.Text}
	}

	// String results come back as JSON-encoded strings.
	var s string
	if err := json.Unmarshal(resp.Result.Value, &s); err != nil {
		return string(resp.Result.Value), nil
	}
	return s, nil
}

type evalException struct {
	Text string
}

func (e *evalException) Error() string { return "rawcdp: eval exception: " + e.Text }

// enableDomain sends <domain>.enable on a flattened session.
func (r *rawCDP) enableDomain(ctx context.Context, sessionID, domain string) error {
	return r.call(ctx, sessionID, domain+".enable", nil, nil)
}

// navigate starts a navigation. A non-empty errorText means the browser
// rejected it without throwing (DNS failure, blocked scheme and so on).
func (r *rawCDP) navigate(ctx context.Context, sessionID, url string) (string, error) {
	params := struct {
		URL string `json:"url"`
	}{URL: url}
	var out struct {
		FrameID   cdp.FrameID `json:"frameId"`
		ErrorText string      `json:"errorText"`
	}
	if err := r.call(ctx, sessionID, "Page.navigate", params, &out); err != nil {
		return "", err
	}
	return out.ErrorText, nil
}

type historyEntry struct {
	ID    int64  `json:"id"`
	URL   string `json:"url"`
	Title string `json:"title"`
}

func (r *rawCDP) navigationHistory(ctx context.Context, sessionID string) (int, []historyEntry, error) {
	var out struct {
		CurrentIndex int            `json:"currentIndex"`
		Entries      []historyEntry `json:"entries"`
	}
	if err := r.call(ctx, sessionID, "Page.getNavigationHistory", nil, &out); err != nil {
		return 0, nil, err
	}
	return out.CurrentIndex, out.Entries, nil
}

func (r *rawCDP) navigateToHistoryEntry(ctx context.Context, sessionID string, entryID int64) error {
	params := struct {
		EntryID int64 `json:"entryId"`
	}{EntryID: entryID}
	return r.call(ctx, sessionID, "Page.navigateToHistoryEntry", params, nil)
}

func (r *rawCDP) reload(ctx context.Context, sessionID string) error {
	return r.call(ctx, sessionID, "Page.reload", struct{}{}, nil)
}

func (r *rawCDP) stopLoading(ctx context.Context, sessionID string) error {
	return r.call(ctx, sessionID, "Page.stopLoading", nil, nil)
}

// listTargets fetches open targets via the HTTP /json/list endpoint.
func (r *rawCDP) listTargets(ctx context.Context) ([]*target.Info, error) {
	listCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(listCtx, http.MethodGet, r.httpBase+"/json/list", nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rawcdp: /json/list: HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var entries []struct {
		ID    string `json:"id"`
		Type  string `json:"type"`
		Title string `json:"title"`
		URL   string `json:"url"`
	}
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, err
	}

	out := make([]*target.Info, 0, len(entries))
	for _, e := range entries {
		out = append(out, &target.Info{
			TargetID: target.ID(e.ID),
			Type:     e.Type,
			Title:    e.Title,
			URL:      e.URL,
		})
	}
	return out, nil
}

// registerEventHandler registers a handler for a CDP event method (e.g.
// "Page.loadEventFired"). Returns an unregister function.
func (r *rawCDP) registerEventHandler(method string, fn func(sessionID string, params json.RawMessage)) func() {
	id := r.seq.Add(1)
	r.eventMu.Lock()
	r.eventHandlers[method] = append(r.eventHandlers[method], eventHandler{id: id, fn: fn})
	r.eventMu.Unlock()
	return func() {
		r.eventMu.Lock()
		defer r.eventMu.Unlock()
		handlers := r.eventHandlers[method]
		for i, h := range handlers {
			if h.id == id {
				r.eventHandlers[method] = append(handlers[:i:i], handlers[i+1:]...)
				break
			}
		}
	}
}

// dispatchEvent invokes all registered handlers for the given CDP event
// method. A panicking handler is logged and does not kill the read loop.
func (r *rawCDP) dispatchEvent(method, sessionID string, params json.RawMessage) {
	r.eventMu.RLock()
	handlers := make([]eventHandler, len(r.eventHandlers[method]))
	copy(handlers, r.eventHandlers[method])
	r.eventMu.RUnlock()
	for _, h := range handlers {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					slog.Error("rawcdp event handler panic", "method", method, "panic", rec)
				}
			}()
			h.fn(sessionID, params)
		}()
	}
}

// browserWSURL fetches the WebSocket debugger URL from /json/version.
func (r *rawCDP) browserWSURL(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.httpBase+"/json/version", nil)
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("rawcdp: /json/version: HTTP %d", resp.StatusCode)
	}

	var info struct {
		WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return "", err
	}
	if info.WebSocketDebuggerURL == "" {
		return "", fmt.Errorf("empty webSocketDebuggerUrl")
	}
	return info.WebSocketDebuggerURL, nil
}
