package layout

import "sync"

// WidgetPosition is the current placement of the mini-player.
type WidgetPosition struct {
	Corner         Corner   `json:"corner"`
	Position       Position `json:"position"`
	Dragging       bool     `json:"dragging"`
	BottomAnchored bool     `json:"bottom_anchored"`
}

// Style is the CSS placement of the widget. Exactly one of Top and Bottom is set.
type Style struct {
	Left   float64  `json:"left"`
	Top    *float64 `json:"top,omitempty"`
	Bottom *float64 `json:"bottom,omitempty"`
}

// Draggable tracks a free drag of the mini-player and snaps it to the nearest
// corner on release. While dragging the widget is top-anchored; once settled a
// bottom corner is expressed as a distance from the bottom edge.
type Draggable struct {
	mu       sync.Mutex
	vp       Viewport
	corner   Corner
	pos      Position
	dragging bool
	grab     Position

	onCorner   func(Corner)
	onDragging func(bool)
}

// NewDraggable returns a controller settled at corner within vp.
func NewDraggable(corner Corner, vp Viewport) *Draggable {
	if !corner.Valid() {
		corner = BottomRight
	}
	return &Draggable{
		vp:     vp,
		corner: corner,
		pos:    CornerPosition(corner, vp.Width, vp.Height),
	}
}

// OnCornerChange registers the listener notified after every snap.
func (d *Draggable) OnCornerChange(fn func(Corner)) {
	d.mu.Lock()
	d.onCorner = fn
	d.mu.Unlock()
}

// OnDraggingChange registers the listener notified when a drag starts or ends.
func (d *Draggable) OnDraggingChange(fn func(bool)) {
	d.mu.Lock()
	d.onDragging = fn
	d.mu.Unlock()
}

// DragStart begins a drag. rect is the widget's rendered top-left corner and
// pointer the press location; their difference is kept so the widget does not
// jump under the pointer.
func (d *Draggable) DragStart(pointer, rect Position) {
	d.mu.Lock()
	d.grab = Position{X: pointer.X - rect.X, Y: pointer.Y - rect.Y}
	d.pos = Clamp(rect.X, rect.Y, WidgetWidth, WidgetHeight, d.vp.Width, d.vp.Height)
	wasDragging := d.dragging
	d.dragging = true
	fn := d.onDragging
	d.mu.Unlock()

	if fn != nil && !wasDragging {
		fn(true)
	}
}

// DragMove follows the pointer, keeping the widget inside the viewport.
// It returns false when no drag is in progress.
func (d *Draggable) DragMove(pointer Position) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.dragging {
		return false
	}
	d.pos = Clamp(pointer.X-d.grab.X, pointer.Y-d.grab.Y, WidgetWidth, WidgetHeight, d.vp.Width, d.vp.Height)
	return true
}

// DragEnd snaps the widget to the corner of the quadrant it was released in
// and returns that corner. ok is false when no drag was in progress.
func (d *Draggable) DragEnd() (corner Corner, ok bool) {
	d.mu.Lock()
	if !d.dragging {
		c := d.corner
		d.mu.Unlock()
		return c, false
	}
	d.dragging = false
	d.corner = DetectCorner(d.pos.X, d.pos.Y, d.vp.Width, d.vp.Height)
	d.pos = CornerPosition(d.corner, d.vp.Width, d.vp.Height)
	corner = d.corner
	onDragging, onCorner := d.onDragging, d.onCorner
	d.mu.Unlock()

	if onDragging != nil {
		onDragging(false)
	}
	if onCorner != nil {
		onCorner(corner)
	}
	return corner, true
}

// Resize records a new viewport and re-anchors a settled widget to its corner.
func (d *Draggable) Resize(vp Viewport) {
	if vp.Width <= 0 || vp.Height <= 0 {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	d.vp = vp
	if d.dragging {
		d.pos = Clamp(d.pos.X, d.pos.Y, WidgetWidth, WidgetHeight, vp.Width, vp.Height)
		return
	}
	d.pos = CornerPosition(d.corner, vp.Width, vp.Height)
}

// SetCorner moves a settled widget to c without notifying the listener.
func (d *Draggable) SetCorner(c Corner) {
	if !c.Valid() {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.dragging {
		return
	}
	d.corner = c
	d.pos = CornerPosition(c, d.vp.Width, d.vp.Height)
}

// Viewport returns the last recorded viewport.
func (d *Draggable) Viewport() Viewport {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.vp
}

// Snapshot returns the current placement.
func (d *Draggable) Snapshot() WidgetPosition {
	d.mu.Lock()
	defer d.mu.Unlock()
	return WidgetPosition{
		Corner:         d.corner,
		Position:       d.pos,
		Dragging:       d.dragging,
		BottomAnchored: !d.dragging && d.corner.Bottom(),
	}
}

// Style returns the CSS placement for the current state.
func (d *Draggable) Style() Style {
	d.mu.Lock()
	defer d.mu.Unlock()

	s := Style{Left: d.pos.X}
	if !d.dragging && d.corner.Bottom() {
		bottom := d.vp.Height - d.pos.Y
		s.Bottom = &bottom
		return s
	}
	top := d.pos.Y
	s.Top = &top
	return s
}

// NotesPosition returns where the companion notes panel belongs.
// The panel tracks the settled corner, not the live drag position.
func (d *Draggable) NotesPosition() Position {
	d.mu.Lock()
	defer d.mu.Unlock()
	anchor := CornerPosition(d.corner, d.vp.Width, d.vp.Height)
	return NotesPosition(anchor, d.corner, d.vp)
}
