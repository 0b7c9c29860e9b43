// Package layout places the floating mini-player and its companion notes panel.
//
// Coordinates are CSS pixels with the origin at the viewport's top-left corner.
package layout

import "math"

// Corner is one of the four screen anchors the mini-player snaps to.
type Corner string

const (
	TopLeft     Corner = "top-left"
	TopRight    Corner = "top-right"
	BottomLeft  Corner = "bottom-left"
	BottomRight Corner = "bottom-right"
)

// Valid reports whether c names one of the four corners.
func (c Corner) Valid() bool {
	switch c {
	case TopLeft, TopRight, BottomLeft, BottomRight:
		return true
	}
	return false
}

// Right reports whether c is on the right edge.
func (c Corner) Right() bool { return c == TopRight || c == BottomRight }

// Bottom reports whether c is on the bottom edge.
func (c Corner) Bottom() bool { return c == BottomLeft || c == BottomRight }

// Widget geometry in pixels.
const (
	EdgePadding  = 20.0
	WidgetWidth  = 320.0
	WidgetHeight = 200.0 // drag clamp box

	NotesWidth  = 256.0
	NotesHeight = 168.0
	NotesGap    = 16.0
)

// Position is a point in viewport pixels.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Viewport is the size of the visible area.
type Viewport struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// DetectCorner returns the quadrant that contains (x, y). Points on a midline
// resolve to the right or bottom.
func DetectCorner(x, y, width, height float64) Corner {
	right := x >= width/2
	bottom := y >= height/2
	switch {
	case bottom && right:
		return BottomRight
	case bottom:
		return BottomLeft
	case right:
		return TopRight
	default:
		return TopLeft
	}
}

// CornerPosition returns the settled anchor for c. For bottom corners Y is the
// bottom anchor line (height minus padding) and the widget grows upward from it.
func CornerPosition(c Corner, width, height float64) Position {
	x := EdgePadding
	if c.Right() {
		x = width - WidgetWidth - EdgePadding
	}
	y := EdgePadding
	if c.Bottom() {
		y = height - EdgePadding
	}
	return Position{X: x, Y: y}
}

// Clamp keeps a box of size w×h inside the viewport. Applying it twice yields
// the same result as applying it once.
func Clamp(x, y, w, h, width, height float64) Position {
	return Position{
		X: clampAxis(x, width-w),
		Y: clampAxis(y, height-h),
	}
}

func clampAxis(v, limit float64) float64 {
	return math.Max(0, math.Min(v, limit))
}

// NotesOffset is the notes panel displacement relative to the widget origin.
// The panel sits on the side of the widget facing the screen centre.
func NotesOffset(c Corner) Position {
	if c.Right() {
		return Position{X: -(NotesWidth + NotesGap), Y: 0}
	}
	return Position{X: WidgetWidth + NotesGap, Y: 0}
}

// NotesPosition derives the notes panel position from the widget's settled
// anchor. A panel that would run past the bottom edge is lifted so its bottom
// sits at the edge padding, then the result is clamped to the viewport.
func NotesPosition(widget Position, c Corner, vp Viewport) Position {
	off := NotesOffset(c)
	x := widget.X + off.X
	y := widget.Y + off.Y
	if y+NotesHeight+EdgePadding > vp.Height {
		y = vp.Height - NotesHeight - EdgePadding
	}
	return Clamp(x, y, NotesWidth, NotesHeight, vp.Width, vp.Height)
}
