// Package surface defines the port between tab/layout logic and whatever
// renders a content surface. The CDP backend lives in cdpcontrol; tests use
// in-memory fakes.
package surface

import (
	"context"
)

// Bounds is a rectangle in host-window content coordinates.
type Bounds struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Zero reports whether b is the hidden rectangle.
func (b Bounds) Zero() bool {
	return b == (Bounds{})
}

// Size is a width/height pair.
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

type EventKind string

const (
	EventStartLoading   EventKind = "start-loading"
	EventDOMReady       EventKind = "dom-ready"
	EventFinishLoad     EventKind = "finish-load"
	EventNavigated      EventKind = "navigated"
	EventTitleUpdated   EventKind = "title-updated"
	EventLoadFailed     EventKind = "load-failed"
	EventHistoryChanged EventKind = "history-changed"
	EventPopupRequested EventKind = "popup-requested"
	EventGone           EventKind = "gone"
)

// Event is emitted by a surface in the order the underlying renderer produced it.
type Event struct {
	Kind         EventKind
	URL          string
	Title        string
	ErrorText    string
	CanGoBack    bool
	CanGoForward bool
}

// Observer receives surface events. Implementations must not block.
type Observer func(Event)

// NavState is the last known navigation state of a surface.
type NavState struct {
	URL          string `json:"current_url"`
	Title        string `json:"title"`
	CanGoBack    bool   `json:"can_go_back"`
	CanGoForward bool   `json:"can_go_forward"`
}

// Evaluator runs a script inside a page and returns its string result.
type Evaluator interface {
	Evaluate(ctx context.Context, script string) (string, error)
}

// Surface is one isolated content surface.
type Surface interface {
	Evaluator
	ID() string
	Navigate(ctx context.Context, url string) error
	GoBack(ctx context.Context) error
	GoForward(ctx context.Context) error
	Reload(ctx context.Context) error
	Stop(ctx context.Context) error
	NavState() NavState
	SetBounds(ctx context.Context, b Bounds) error
	Bounds(ctx context.Context) (Bounds, error)
	Close(ctx context.Context) error
}

// CreateOptions configures a new surface. Observer is registered before the
// surface is attached, so no early events are lost.
type CreateOptions struct {
	Partition string
	Observer  Observer
}

// Factory allocates surfaces. Create must not navigate; callers navigate
// after their bookkeeping is in place.
type Factory interface {
	Create(ctx context.Context, opts CreateOptions) (Surface, error)
}

// SharedPartition is the partition used by sites that keep login state
// across tabs.
const SharedPartition = "persist:shared"

// PartitionFor returns the session partition for a tab.
func PartitionFor(tabID string, shared bool) string {
	if shared {
		return SharedPartition
	}
	return "persist:tab-" + tabID
}
