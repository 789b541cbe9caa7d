package layout

import "github.com/dgnsrekt/promptdock/internal/surface"

type Bounds = surface.Bounds
type Size = surface.Size

// Insets is the chrome reserved around content surfaces.
type Insets struct {
	Top     int `json:"top"`
	Sidebar int `json:"sidebar"`
}

const (
	DefaultMinWidth  = 100
	DefaultMinHeight = 100

	MinSidebarWidth = 200
	MaxSidebarWidth = 600
)

// ComputeCanonicalBounds returns the rectangle the active surface occupies.
// minWidth and minHeight keep the rectangle usable while the window is
// mid-resize and reports a tiny or negative content area.
func ComputeCanonicalBounds(content Size, insets Insets, minWidth, minHeight int) Bounds {
	return Bounds{
		X:      0,
		Y:      insets.Top,
		Width:  max(minWidth, content.Width-insets.Sidebar),
		Height: max(minHeight, content.Height-insets.Top),
	}
}

// ClampSidebar bounds a requested sidebar width to the supported range.
func ClampSidebar(width int) int {
	return min(MaxSidebarWidth, max(MinSidebarWidth, width))
}

// deviates reports whether actual is outside tolerance of want. Inactive
// surfaces have no tolerance: anything but the zero rectangle is drift.
func deviates(actual, want Bounds, active bool, posTol, sizeTol int) bool {
	if !active {
		return !actual.Zero()
	}
	return abs(actual.X-want.X) > posTol ||
		abs(actual.Y-want.Y) > posTol ||
		abs(actual.Width-want.Width) > sizeTol ||
		abs(actual.Height-want.Height) > sizeTol
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
