// Package dsl defines the drawing-instruction model: a versioned, ordered
// program of draw operations over a fixed canvas, plus the parser, validator
// and JSON Schema descriptor that keep model output closed over that model.
package dsl

import (
	"fmt"
	"math"
)

// Version is the only program version this package accepts.
const Version = "0.2"

// TextSize is the fixed logical font size for Text ops.
const TextSize = 24.0

// TextLineHeight is the multiplier applied to the font line height for
// multi-line text.
const TextLineHeight = 1.2

// MaxCanvasSide bounds canvas width and height.
const MaxCanvasSide = 8192

// MaxOps bounds the number of ops a program may carry.
const MaxOps = 512

// CanvasSpec describes the drawing surface shared by the renderer and the
// display. It is fixed for the lifetime of a session.
type CanvasSpec struct {
	Width      int   `json:"width" toml:"width"`
	Height     int   `json:"height" toml:"height"`
	Background Color `json:"background" toml:"background"`
}

// Validate checks the canvas dimensions.
func (c CanvasSpec) Validate() error {
	if c.Width < 1 || c.Width > MaxCanvasSide {
		return fmt.Errorf("canvas width %d out of range [1, %d]", c.Width, MaxCanvasSide)
	}
	if c.Height < 1 || c.Height > MaxCanvasSide {
		return fmt.Errorf("canvas height %d out of range [1, %d]", c.Height, MaxCanvasSide)
	}
	return nil
}

// maxLength is the upper bound for radii and other lengths not tied to an axis.
func (c CanvasSpec) maxLength() float64 {
	return math.Max(float64(c.Width), float64(c.Height))
}

func (c CanvasSpec) String() string {
	return fmt.Sprintf("%dx%d bg=%s", c.Width, c.Height, c.Background)
}

// DrawProgram is an ordered list of draw operations. Later ops paint over
// earlier ones. A program returned by ParseAndValidate must not be mutated;
// use Clone to derive a modified copy.
type DrawProgram struct {
	Version string
	Ops     []DrawOp
}

// Clone returns a copy whose op slice can be modified independently.
func (p *DrawProgram) Clone() *DrawProgram {
	if p == nil {
		return nil
	}
	ops := make([]DrawOp, len(p.Ops))
	copy(ops, p.Ops)
	return &DrawProgram{Version: p.Version, Ops: ops}
}

// Counts returns the number of ops of each kind.
func (p *DrawProgram) Counts() map[OpKind]int {
	counts := make(map[OpKind]int)
	for _, op := range p.Ops {
		counts[op.Kind()]++
	}
	return counts
}

// OpKind is the tag carried in the "op" field of every serialized op.
type OpKind string

const (
	KindClear     OpKind = "clear"
	KindRect      OpKind = "rect"
	KindText      OpKind = "text"
	KindLine      OpKind = "line"
	KindCircle    OpKind = "circle"
	KindEllipse   OpKind = "ellipse"
	KindRoundRect OpKind = "round_rect"
	KindArc       OpKind = "arc"
	KindPolyline  OpKind = "polyline"
	KindPolygon   OpKind = "polygon"
	KindPath      OpKind = "path"
	KindImage     OpKind = "image"
)

// Kinds lists every op kind in declaration order.
var Kinds = []OpKind{
	KindClear, KindRect, KindText, KindLine, KindCircle, KindEllipse,
	KindRoundRect, KindArc, KindPolyline, KindPolygon, KindPath, KindImage,
}

// StrokeStyle selects the dash pattern used for outlines.
type StrokeStyle string

const (
	StrokeSolid  StrokeStyle = "solid"
	StrokeDashed StrokeStyle = "dashed"
	StrokeDotted StrokeStyle = "dotted"
)

var strokeStyles = []string{string(StrokeSolid), string(StrokeDashed), string(StrokeDotted)}

// TextAlign positions a text line relative to its x coordinate.
type TextAlign string

const (
	AlignLeft   TextAlign = "left"
	AlignCenter TextAlign = "center"
	AlignRight  TextAlign = "right"
)

var textAligns = []string{string(AlignLeft), string(AlignCenter), string(AlignRight)}

// SegmentKind tags a path segment.
type SegmentKind string

const (
	SegMove  SegmentKind = "move"
	SegLine  SegmentKind = "line"
	SegQuad  SegmentKind = "quad"
	SegCubic SegmentKind = "cubic"
	SegClose SegmentKind = "close"
)

var segmentKinds = []string{string(SegMove), string(SegLine), string(SegQuad), string(SegCubic), string(SegClose)}
