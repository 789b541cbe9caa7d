package cdpcontrol

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

type fakeRequest struct {
	ID        int64           `json:"id"`
	Method    string          `json:"method"`
	SessionID string          `json:"sessionId"`
	Params    json.RawMessage `json:"params"`
}

type fakeWindow struct {
	Left   int    `json:"left"`
	Top    int    `json:"top"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	State  string `json:"windowState"`
}

// fakeBrowser speaks enough of the DevTools protocol over a real WebSocket
// to drive Client. Handlers in override take precedence over the defaults.
type fakeBrowser struct {
	t   *testing.T
	srv *httptest.Server

	mu       sync.Mutex
	conn     net.Conn
	calls    []fakeRequest
	windows  map[int64]*fakeWindow
	nextID   int
	override map[string]func(req fakeRequest) (any, *protocolError)
	history  struct {
		Index   int
		Entries []historyEntry
	}
}

func newFakeBrowser(t *testing.T) *fakeBrowser {
	t.Helper()
	fb := &fakeBrowser{
		t:        t,
		windows:  make(map[int64]*fakeWindow),
		override: make(map[string]func(fakeRequest) (any, *protocolError)),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/json/version", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{
			"webSocketDebuggerUrl": "ws://" + r.Host + "/devtools/browser/fake",
		})
	})
	mux.HandleFunc("/json/list", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]map[string]string{
			{"id": "HOST", "type": "page", "url": "http://127.0.0.1:8188/panel", "title": "panel"},
		})
	})
	mux.HandleFunc("/devtools/browser/fake", fb.serveWS)
	fb.srv = httptest.NewServer(mux)
	t.Cleanup(fb.srv.Close)
	return fb
}

func (fb *fakeBrowser) URL() string { return fb.srv.URL }

func (fb *fakeBrowser) on(method string, fn func(req fakeRequest) (any, *protocolError)) {
	fb.mu.Lock()
	fb.override[method] = fn
	fb.mu.Unlock()
}

func (fb *fakeBrowser) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		return
	}
	fb.mu.Lock()
	fb.conn = conn
	fb.mu.Unlock()

	go func() {
		defer conn.Close()
		for {
			data, _, err := wsutil.ReadClientData(conn)
			if err != nil {
				return
			}
			var req fakeRequest
			if json.Unmarshal(data, &req) != nil {
				continue
			}
			result, perr := fb.handle(req)
			resp := map[string]any{"id": req.ID}
			if perr != nil {
				resp["error"] = perr
			} else {
				resp["result"] = result
			}
			fb.write(resp)
		}
	}()
}

func (fb *fakeBrowser) write(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		fb.t.Errorf("marshal fake message: %v", err)
		return
	}
	fb.mu.Lock()
	defer fb.mu.Unlock()
	if fb.conn != nil {
		_ = wsutil.WriteServerText(fb.conn, data)
	}
}

// emit pushes a protocol event to the client.
func (fb *fakeBrowser) emit(method, sessionID string, params any) {
	msg := map[string]any{"method": method, "params": params}
	if sessionID != "" {
		msg["sessionId"] = sessionID
	}
	fb.write(msg)
}

func (fb *fakeBrowser) drop() {
	fb.mu.Lock()
	conn := fb.conn
	fb.conn = nil
	fb.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

func (fb *fakeBrowser) handle(req fakeRequest) (any, *protocolError) {
	fb.mu.Lock()
	fb.calls = append(fb.calls, req)
	fn := fb.override[req.Method]
	fb.mu.Unlock()
	if fn != nil {
		return fn(req)
	}

	fb.mu.Lock()
	defer fb.mu.Unlock()
	switch req.Method {
	case "Target.createBrowserContext":
		return map[string]string{"browserContextId": "CTX1"}, nil
	case "Target.createTarget":
		fb.nextID++
		id := "T" + string(rune('0'+fb.nextID))
		fb.windows[int64(fb.nextID)] = &fakeWindow{Width: 800, Height: 600, State: "normal"}
		return map[string]string{"targetId": id}, nil
	case "Target.attachToTarget":
		var p struct {
			TargetID string `json:"targetId"`
		}
		_ = json.Unmarshal(req.Params, &p)
		return map[string]string{"sessionId": "S-" + p.TargetID}, nil
	case "Browser.getWindowForTarget":
		var p struct {
			TargetID string `json:"targetId"`
		}
		_ = json.Unmarshal(req.Params, &p)
		id := int64(1)
		if strings.HasPrefix(p.TargetID, "T") && len(p.TargetID) == 2 {
			id = int64(p.TargetID[1] - '0')
		}
		if fb.windows[id] == nil {
			fb.windows[id] = &fakeWindow{Width: 1200, Height: 800, State: "normal"}
		}
		return map[string]any{"windowId": id, "bounds": fb.windows[id]}, nil
	case "Browser.getWindowBounds":
		var p struct {
			WindowID int64 `json:"windowId"`
		}
		_ = json.Unmarshal(req.Params, &p)
		w := fb.windows[p.WindowID]
		if w == nil {
			return nil, &protocolError{Code: -32000, Message: "Browser window not found"}
		}
		return map[string]any{"bounds": w}, nil
	case "Browser.setWindowBounds":
		var p struct {
			WindowID int64          `json:"windowId"`
			Bounds   map[string]any `json:"bounds"`
		}
		_ = json.Unmarshal(req.Params, &p)
		w := fb.windows[p.WindowID]
		if w == nil {
			return nil, &protocolError{Code: -32000, Message: "Browser window not found"}
		}
		if st, ok := p.Bounds["windowState"].(string); ok {
			w.State = st
		}
		if _, ok := p.Bounds["left"]; ok && w.State != "normal" {
			return nil, &protocolError{Code: -32000, Message: "The 'minimized', 'maximized' and 'fullscreen' states cannot be combined with 'left', 'top', 'width' or 'height'"}
		}
		for key, dst := range map[string]*int{"left": &w.Left, "top": &w.Top, "width": &w.Width, "height": &w.Height} {
			if v, ok := p.Bounds[key].(float64); ok {
				*dst = int(v)
			}
		}
		return struct{}{}, nil
	case "Page.getNavigationHistory":
		return map[string]any{"currentIndex": fb.history.Index, "entries": fb.history.Entries}, nil
	case "Page.navigate":
		return map[string]string{"frameId": strings.TrimPrefix(req.SessionID, "S-")}, nil
	case "Runtime.evaluate":
		return map[string]any{"result": map[string]any{"type": "string", "value": `{"ok":true}`}}, nil
	default:
		return struct{}{}, nil
	}
}

func (fb *fakeBrowser) methods() []string {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	out := make([]string, 0, len(fb.calls))
	for _, c := range fb.calls {
		out = append(out, c.Method)
	}
	return out
}

func (fb *fakeBrowser) lastCall(method string) (fakeRequest, bool) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	for i := len(fb.calls) - 1; i >= 0; i-- {
		if fb.calls[i].Method == method {
			return fb.calls[i], true
		}
	}
	return fakeRequest{}, false
}

func (fb *fakeBrowser) window(id int64) fakeWindow {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	if w := fb.windows[id]; w != nil {
		return *w
	}
	return fakeWindow{}
}
