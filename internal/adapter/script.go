package adapter

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/dgnsrekt/promptdock/internal/errs"
	"github.com/dgnsrekt/promptdock/internal/surface"
)

// envelope is the result record every in-page script returns as a JSON string.
type envelope struct {
	OK           bool            `json:"ok"`
	Data         json.RawMessage `json:"data,omitempty"`
	ErrorCode    string          `json:"error_code,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
}

func runInject(ctx context.Context, ev surface.Evaluator, selectors []string, text string) (Match, error) {
	raw, err := ev.Evaluate(ctx, InjectScript(selectors, text))
	if err != nil {
		if errs.CodeOf(err) != "" {
			return Match{}, err
		}
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return Match{}, err
		}
		return Match{}, errs.New(errs.CodeScriptExecution, "evaluate injection script", err)
	}
	var m Match
	if err := decodeEnvelope(raw, &m); err != nil {
		return Match{}, err
	}
	return m, nil
}

func decodeEnvelope(raw string, out any) error {
	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return errs.New(errs.CodeScriptExecution, "invalid script result", err)
	}
	if !env.OK {
		code := env.ErrorCode
		if code == "" {
			code = errs.CodeScriptExecution
		}
		return errs.New(code, env.ErrorMessage, nil)
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return errs.New(errs.CodeScriptExecution, "invalid script data", err)
	}
	return nil
}

func jsString(v string) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func jsJSON(v any) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func wrapJSEval(body string) string {
	return `(function(){
try {
` + body + `
} catch (err) {
return JSON.stringify({ok:false,error_code:"` + errs.CodeScriptExecution + `",error_message:String(err && err.message || err)});
}
})()`
}

// InjectScript returns the in-page routine that writes text into the first
// visible, editable element matched by selectors, tried strictly in order.
// Native controls are written through the prototype value setter so
// framework-controlled inputs observe the change; rich-text targets get
// textContent and a caret moved to the end. Both dispatch a bubbling,
// cancelable input event.
func InjectScript(selectors []string, text string) string {
	return wrapJSEval(`var selectors = ` + jsJSON(selectors) + `;
var text = ` + jsString(text) + `;
function isVisible(el) {
  var rect = el.getBoundingClientRect ? el.getBoundingClientRect() : null;
  if (!rect || rect.width === 0 || rect.height === 0) return false;
  var style = window.getComputedStyle(el);
  return !style || (style.display !== "none" && style.visibility !== "hidden");
}
function isEditable(el) {
  if (el.disabled || el.readOnly) return false;
  var tag = String(el.tagName || "").toUpperCase();
  if (tag === "TEXTAREA") return true;
  if (tag === "INPUT") {
    var type = String(el.type || "text").toLowerCase();
    return type === "text" || type === "search" || type === "email" || type === "url";
  }
  if (el.isContentEditable) return true;
  var ce = el.getAttribute && el.getAttribute("contenteditable");
  if (ce === "" || ce === "true" || ce === "plaintext-only") return true;
  return el.getAttribute && el.getAttribute("role") === "textbox";
}
var target = null;
var matched = "";
for (var i = 0; i < selectors.length && !target; i++) {
  var nodes;
  try {
    nodes = document.querySelectorAll(selectors[i]);
  } catch (e) {
    continue;
  }
  for (var j = 0; j < nodes.length; j++) {
    if (isVisible(nodes[j]) && isEditable(nodes[j])) {
      target = nodes[j];
      matched = selectors[i];
      break;
    }
  }
}
if (!target) {
  return JSON.stringify({ok:false,error_code:"` + errs.CodeNoInputFound + `",error_message:"no visible editable element for " + selectors.length + " selectors (readyState=" + document.readyState + ")"});
}
var tag = String(target.tagName || "").toUpperCase();
var kind = "rich";
if (typeof target.focus === "function") target.focus();
if (tag === "TEXTAREA" || tag === "INPUT") {
  kind = "native";
  var proto = tag === "TEXTAREA" ? window.HTMLTextAreaElement.prototype : window.HTMLInputElement.prototype;
  var desc = Object.getOwnPropertyDescriptor(proto, "value");
  if (desc && desc.set) {
    desc.set.call(target, text);
  } else {
    target.value = text;
  }
} else {
  target.textContent = text;
}
target.dispatchEvent(new Event("input", {bubbles: true, cancelable: true}));
if (kind === "rich") {
  var range = document.createRange();
  range.selectNodeContents(target);
  range.collapse(false);
  var sel = window.getSelection();
  if (sel) {
    sel.removeAllRanges();
    sel.addRange(range);
  }
}
return JSON.stringify({ok:true,data:{selector:matched,kind:kind,tag:tag.toLowerCase()}});`)
}

// PageStateScript reports document.readyState and the current location.
func PageStateScript() string {
	return wrapJSEval(`return JSON.stringify({ok:true,data:{ready_state:document.readyState,url:String(location.href)}});`)
}

// PageState is the decoded result of PageStateScript.
type PageState struct {
	ReadyState string `json:"ready_state"`
	URL        string `json:"url"`
}

// ProbePage runs PageStateScript on ev.
func ProbePage(ctx context.Context, ev surface.Evaluator) (PageState, error) {
	raw, err := ev.Evaluate(ctx, PageStateScript())
	if err != nil {
		return PageState{}, err
	}
	var st PageState
	if err := decodeEnvelope(raw, &st); err != nil {
		return PageState{}, err
	}
	return st, nil
}
