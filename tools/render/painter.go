package render

import (
	"fmt"
	"image"
	"math"

	"github.com/gogpu/gg"

	"canvas-studio/tools/dsl"
)

// painter draws ops in logical coordinates onto a context whose pixels are
// d times denser than the canvas. The context matrix stays identity; every
// coordinate and length is scaled here.
type painter struct {
	dc     *gg.Context
	d      float64
	fonts  FontProvider
	assets AssetResolver

	index    int
	kind     dsl.OpKind
	warnings []Warning
}

func (p *painter) warn(format string, args ...any) {
	p.warnings = append(p.warnings, Warning{OpIndex: p.index, Op: p.kind, Message: fmt.Sprintf(format, args...)})
}

func (p *painter) s(v float64) float64 { return v * p.d }

func (p *painter) draw(op dsl.DrawOp) {
	p.dc.ClearPath()
	switch o := op.(type) {
	case dsl.Clear:
		p.dc.ClearWithColor(gg.FromColor(o.Color))
	case dsl.Rect:
		p.dc.DrawRectangle(p.s(o.X), p.s(o.Y), p.s(o.Width), p.s(o.Height))
		p.paint(o.Shape)
	case dsl.RoundRect:
		p.dc.DrawRoundedRectangle(p.s(o.X), p.s(o.Y), p.s(o.Width), p.s(o.Height), p.s(o.Radius))
		p.paint(o.Shape)
	case dsl.Circle:
		p.dc.DrawCircle(p.s(o.CX), p.s(o.CY), p.s(o.R))
		p.paint(o.Shape)
	case dsl.Ellipse:
		p.dc.DrawEllipse(p.s(o.CX), p.s(o.CY), p.s(o.RX), p.s(o.RY))
		p.paint(o.Shape)
	case dsl.Line:
		p.dc.MoveTo(p.s(o.X1), p.s(o.Y1))
		p.dc.LineTo(p.s(o.X2), p.s(o.Y2))
		p.outline(o.Stroke, true)
	case dsl.Arc:
		p.dc.DrawArc(p.s(o.CX), p.s(o.CY), p.s(o.R), radians(o.Start), radians(o.End))
		p.outline(o.Stroke, true)
	case dsl.Polyline:
		p.polyline(o.Points)
		p.outline(o.Stroke, true)
	case dsl.Polygon:
		p.polyline(o.Points)
		p.dc.ClosePath()
		p.paint(o.Shape)
	case dsl.Path:
		p.path(o)
		p.paint(o.Shape)
	case dsl.Text:
		p.text(o)
	case dsl.Image:
		p.image(o)
	default:
		p.warn("unsupported op %T skipped", op)
	}
	p.dc.ClearPath()
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }

func (p *painter) polyline(points []dsl.Point) {
	for i, pt := range points {
		if i == 0 {
			p.dc.MoveTo(p.s(pt.X), p.s(pt.Y))
			continue
		}
		p.dc.LineTo(p.s(pt.X), p.s(pt.Y))
	}
}

func (p *painter) path(o dsl.Path) {
	p.dc.MoveTo(p.s(o.X), p.s(o.Y))
	for _, seg := range o.Segments {
		switch seg.Type {
		case dsl.SegMove:
			p.dc.MoveTo(p.s(seg.X), p.s(seg.Y))
		case dsl.SegLine:
			p.dc.LineTo(p.s(seg.X), p.s(seg.Y))
		case dsl.SegQuad:
			p.dc.QuadraticTo(p.s(seg.C1X), p.s(seg.C1Y), p.s(seg.X), p.s(seg.Y))
		case dsl.SegCubic:
			p.dc.CubicTo(p.s(seg.C1X), p.s(seg.C1Y), p.s(seg.C2X), p.s(seg.C2Y), p.s(seg.X), p.s(seg.Y))
		case dsl.SegClose:
			p.dc.ClosePath()
		}
	}
}

// paint fills then strokes the current path. Shapes with neither fill nor
// stroke draw nothing.
func (p *painter) paint(shape dsl.Shape) {
	if shape.Fill != nil {
		p.dc.SetFillRule(gg.FillRuleNonZero)
		p.dc.SetColor(*shape.Fill)
		if err := p.dc.FillPreserve(); err != nil {
			p.warn("fill: %v", err)
		}
	}
	p.outline(shape.Stroke, false)
}

// outline strokes the current path. Open figures default to a black stroke.
func (p *painter) outline(stroke dsl.Stroke, open bool) {
	col := stroke.Color
	if col == nil {
		if !open {
			return
		}
		black := dsl.Black
		col = &black
	}

	// A complete Stroke is set every time: once a dash is installed, gg
	// ignores SetLineWidth and SetLineCap.
	w := p.s(stroke.LineWidth())
	st := gg.DefaultStroke().WithWidth(w).WithJoin(gg.LineJoinMiter)
	switch stroke.DashStyle() {
	case dsl.StrokeDashed:
		st = st.WithCap(gg.LineCapButt).WithDashPattern(3*w, 2*w)
	case dsl.StrokeDotted:
		st = st.WithCap(gg.LineCapRound).WithDashPattern(w*0.01, 2*w)
	default:
		st = st.WithCap(gg.LineCapButt)
	}
	p.dc.SetColor(*col)
	p.dc.SetStroke(st)
	if err := p.dc.StrokePreserve(); err != nil {
		p.warn("stroke: %v", err)
	}
}

func (p *painter) image(o dsl.Image) {
	img, err := loadImage(o.Src, p.assets)
	if err != nil {
		p.warn("image skipped: %v", err)
		return
	}
	p.dc.DrawImageEx(gg.ImageBufFromImage(img), gg.DrawImageOptions{
		X:             p.s(o.X),
		Y:             p.s(o.Y),
		DstWidth:      p.s(o.Width),
		DstHeight:     p.s(o.Height),
		Interpolation: gg.InterpBilinear,
		Opacity:       1,
		BlendMode:     gg.BlendNormal,
	})
}

// layer composites an RGBA image drawn at device resolution at (x, y).
func (p *painter) layer(img *image.RGBA, x, y int) {
	b := img.Bounds()
	p.dc.DrawImageEx(gg.ImageBufFromImage(img), gg.DrawImageOptions{
		X:             float64(x),
		Y:             float64(y),
		DstWidth:      float64(b.Dx()),
		DstHeight:     float64(b.Dy()),
		Interpolation: gg.InterpNearest,
		Opacity:       1,
		BlendMode:     gg.BlendNormal,
	})
}
