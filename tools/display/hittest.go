package display

import (
	"canvas-studio/tools/dsl"
)

// Target is a clickable region in logical coordinates.
type Target struct {
	ID            string
	X, Y          float64
	Width, Height float64
}

func (t Target) contains(x, y float64) bool {
	return x >= t.X && y >= t.Y && x < t.X+t.Width && y < t.Y+t.Height
}

// HitIndex maps points to clickable elements of a program.
type HitIndex struct {
	targets []Target
}

// NewHitIndex indexes the clickable rects and round rects of program in op
// order.
func NewHitIndex(program *dsl.DrawProgram) *HitIndex {
	idx := &HitIndex{}
	if program == nil {
		return idx
	}
	for _, op := range program.Ops {
		switch o := op.(type) {
		case dsl.Rect:
			if o.Clickable && o.ID != "" {
				idx.targets = append(idx.targets, Target{ID: o.ID, X: o.X, Y: o.Y, Width: o.Width, Height: o.Height})
			}
		case dsl.RoundRect:
			if o.Clickable && o.ID != "" {
				idx.targets = append(idx.targets, Target{ID: o.ID, X: o.X, Y: o.Y, Width: o.Width, Height: o.Height})
			}
		}
	}
	return idx
}

// Targets returns the indexed regions.
func (h *HitIndex) Targets() []Target {
	return h.targets
}

// Hit returns the first target containing (x, y).
func (h *HitIndex) Hit(x, y float64) (string, bool) {
	for _, t := range h.targets {
		if t.contains(x, y) {
			return t.ID, true
		}
	}
	return "", false
}

// HitTest is a one-shot NewHitIndex(program).Hit(x, y).
func HitTest(program *dsl.DrawProgram, x, y float64) (string, bool) {
	return NewHitIndex(program).Hit(x, y)
}

// Click resolves a raw click at (x, y) into an InputEvent. Clicks outside
// every target are reported with an empty TargetID.
func (h *HitIndex) Click(x, y float64) InputEvent {
	id, _ := h.Hit(x, y)
	return InputEvent{Kind: EventClick, TargetID: id, X: x, Y: y}
}
