package dsl

// DrawOp is one instruction of a DrawProgram. The concrete types are the
// twelve op structs in this file.
type DrawOp interface {
	Kind() OpKind
	// ElementID returns the optional element id, "" when absent.
	ElementID() string
}

// Element carries the optional id shared by every op.
type Element struct {
	ID string `json:"id,omitempty"`
}

func (e Element) ElementID() string { return e.ID }

// Stroke is the outline payload. A nil Color means the op draws no outline
// unless the op defines a default.
type Stroke struct {
	Color *Color      `json:"stroke,omitempty"`
	Width *float64    `json:"stroke_width,omitempty"`
	Style StrokeStyle `json:"stroke_style,omitempty"`
}

// LineWidth returns the stroke width, defaulting to 1.
func (s Stroke) LineWidth() float64 {
	if s.Width == nil {
		return 1
	}
	return *s.Width
}

// DashStyle returns the stroke style, defaulting to solid.
func (s Stroke) DashStyle() StrokeStyle {
	if s.Style == "" {
		return StrokeSolid
	}
	return s.Style
}

// Shape is the fill and outline payload of closed shapes.
type Shape struct {
	Fill *Color `json:"fill,omitempty"`
	Stroke
}

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Clear fills the whole canvas.
type Clear struct {
	Element
	Color Color `json:"color"`
}

type Rect struct {
	Element
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Width     float64 `json:"width"`
	Height    float64 `json:"height"`
	Clickable bool    `json:"clickable,omitempty"`
	Shape
}

// Text draws one or more lines at TextSize. Y is the top of the first line.
type Text struct {
	Element
	X          float64   `json:"x"`
	Y          float64   `json:"y"`
	Text       string    `json:"text"`
	Color      *Color    `json:"color,omitempty"`
	Background *Color    `json:"bg,omitempty"`
	Align      TextAlign `json:"align,omitempty"`
}

// Ink returns the text color, defaulting to black.
func (t Text) Ink() Color {
	if t.Color == nil {
		return Black
	}
	return *t.Color
}

// Line, Arc and Polyline are stroked with black when no stroke color is set.
type Line struct {
	Element
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
	Stroke
}

type Circle struct {
	Element
	CX float64 `json:"cx"`
	CY float64 `json:"cy"`
	R  float64 `json:"r"`
	Shape
}

type Ellipse struct {
	Element
	CX float64 `json:"cx"`
	CY float64 `json:"cy"`
	RX float64 `json:"rx"`
	RY float64 `json:"ry"`
	Shape
}

type RoundRect struct {
	Element
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Width     float64 `json:"width"`
	Height    float64 `json:"height"`
	Radius    float64 `json:"radius"`
	Clickable bool    `json:"clickable,omitempty"`
	Shape
}

// Arc is an open circular arc. Angles are in degrees, clockwise from the
// positive x axis in screen space.
type Arc struct {
	Element
	CX    float64 `json:"cx"`
	CY    float64 `json:"cy"`
	R     float64 `json:"r"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Stroke
}

type Polyline struct {
	Element
	Points []Point `json:"points"`
	Stroke
}

type Polygon struct {
	Element
	Points []Point `json:"points"`
	Shape
}

// Segment is one step of a Path. Control points are used by quad (C1) and
// cubic (C1, C2); close carries no coordinates.
type Segment struct {
	Type SegmentKind `json:"type"`
	C1X  float64     `json:"c1x,omitempty"`
	C1Y  float64     `json:"c1y,omitempty"`
	C2X  float64     `json:"c2x,omitempty"`
	C2Y  float64     `json:"c2y,omitempty"`
	X    float64     `json:"x,omitempty"`
	Y    float64     `json:"y,omitempty"`
}

// Path starts at (X, Y) and follows Segments. Fill uses the non-zero rule.
type Path struct {
	Element
	X        float64   `json:"x"`
	Y        float64   `json:"y"`
	Segments []Segment `json:"segments"`
	Shape
}

// Image draws a decoded raster into the given box. Src is a data: URI or an
// asset name resolved by the renderer.
type Image struct {
	Element
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Src    string  `json:"src"`
}

func (Clear) Kind() OpKind     { return KindClear }
func (Rect) Kind() OpKind      { return KindRect }
func (Text) Kind() OpKind      { return KindText }
func (Line) Kind() OpKind      { return KindLine }
func (Circle) Kind() OpKind    { return KindCircle }
func (Ellipse) Kind() OpKind   { return KindEllipse }
func (RoundRect) Kind() OpKind { return KindRoundRect }
func (Arc) Kind() OpKind       { return KindArc }
func (Polyline) Kind() OpKind  { return KindPolyline }
func (Polygon) Kind() OpKind   { return KindPolygon }
func (Path) Kind() OpKind      { return KindPath }
func (Image) Kind() OpKind     { return KindImage }
