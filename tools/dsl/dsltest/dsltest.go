// Package dsltest builds programs for tests in packages that consume dsl.
package dsltest

import (
	"fmt"
	"math/rand"

	"canvas-studio/tools/dsl"
)

// Canvas is a small canvas used across tests.
var Canvas = dsl.CanvasSpec{Width: 320, Height: 240, Background: dsl.White}

// LoginForm is the first attempt at a login form: a panel, two labels, a
// field and a submit button whose label overlaps the second field.
func LoginForm() *dsl.DrawProgram {
	return &dsl.DrawProgram{Version: dsl.Version, Ops: []dsl.DrawOp{
		dsl.Rect{X: 20, Y: 20, Width: 280, Height: 200, Shape: dsl.Shape{Fill: ptr(dsl.MustColor("#F0F0F0"))}},
		dsl.Text{X: 40, Y: 40, Text: "Username"},
		dsl.Text{X: 40, Y: 100, Text: "Password"},
		dsl.Rect{Element: dsl.Element{ID: "submit"}, X: 40, Y: 120, Width: 120, Height: 40, Clickable: true,
			Shape: dsl.Shape{Fill: ptr(dsl.MustColor("#3366CC"))}},
		dsl.Text{X: 60, Y: 128, Text: "Log in", Color: ptr(dsl.White)},
	}}
}

// LoginFormFixed moves the submit button below the second field.
func LoginFormFixed() *dsl.DrawProgram {
	p := LoginForm().Clone()
	p.Ops[3] = dsl.Rect{Element: dsl.Element{ID: "submit"}, X: 40, Y: 170, Width: 120, Height: 40, Clickable: true,
		Shape: dsl.Shape{Fill: ptr(dsl.MustColor("#3366CC"))}}
	p.Ops[4] = dsl.Text{X: 60, Y: 178, Text: "Log in", Color: ptr(dsl.White)}
	return p
}

// Document encodes p and panics if it cannot.
func Document(p *dsl.DrawProgram) []byte {
	data, err := dsl.Marshal(p)
	if err != nil {
		panic(fmt.Sprintf("dsltest: marshal: %v", err))
	}
	return data
}

// RandomProgram returns a valid program with between 1 and 12 ops covering
// every op kind except image, whose content depends on the renderer's assets.
func RandomProgram(r *rand.Rand, canvas dsl.CanvasSpec) *dsl.DrawProgram {
	g := generator{r: r, w: float64(canvas.Width), h: float64(canvas.Height)}
	n := 1 + r.Intn(12)
	p := &dsl.DrawProgram{Version: dsl.Version}
	for i := 0; i < n; i++ {
		p.Ops = append(p.Ops, g.op(i))
	}
	return p
}

type generator struct {
	r    *rand.Rand
	w, h float64
}

func (g generator) x() float64 { return float64(g.r.Intn(int(g.w) + 1)) }
func (g generator) y() float64 { return float64(g.r.Intn(int(g.h) + 1)) }

func (g generator) length(limit float64) float64 {
	return 1 + float64(g.r.Intn(int(limit)))
}

func (g generator) color() dsl.Color {
	return dsl.Color{R: uint8(g.r.Intn(256)), G: uint8(g.r.Intn(256)), B: uint8(g.r.Intn(256)), A: 255}
}

func (g generator) point() dsl.Point { return dsl.Point{X: g.x(), Y: g.y()} }

func (g generator) stroke() dsl.Stroke {
	styles := []dsl.StrokeStyle{"", dsl.StrokeSolid, dsl.StrokeDashed, dsl.StrokeDotted}
	w := 1 + float64(g.r.Intn(6))
	return dsl.Stroke{Color: ptr(g.color()), Width: &w, Style: styles[g.r.Intn(len(styles))]}
}

func (g generator) shape() dsl.Shape {
	s := dsl.Shape{Fill: ptr(g.color())}
	if g.r.Intn(2) == 0 {
		s.Stroke = g.stroke()
	}
	return s
}

func (g generator) op(i int) dsl.DrawOp {
	el := dsl.Element{}
	if g.r.Intn(3) == 0 {
		el.ID = fmt.Sprintf("el-%d", i)
	}
	switch g.r.Intn(11) {
	case 0:
		return dsl.Clear{Element: el, Color: g.color()}
	case 1:
		return dsl.Rect{Element: el, X: g.x(), Y: g.y(), Width: g.length(g.w), Height: g.length(g.h),
			Clickable: el.ID != "", Shape: g.shape()}
	case 2:
		words := []string{"Login", "Submit", "設定", "Привет", "ok ✓", "line one\nline two"}
		return dsl.Text{Element: el, X: g.x(), Y: g.y(), Text: words[g.r.Intn(len(words))], Color: ptr(g.color())}
	case 3:
		return dsl.Line{Element: el, X1: g.x(), Y1: g.y(), X2: g.x(), Y2: g.y(), Stroke: g.stroke()}
	case 4:
		return dsl.Circle{Element: el, CX: g.x(), CY: g.y(), R: g.length(g.h / 2), Shape: g.shape()}
	case 5:
		return dsl.Ellipse{Element: el, CX: g.x(), CY: g.y(), RX: g.length(g.w / 2), RY: g.length(g.h / 2), Shape: g.shape()}
	case 6:
		return dsl.RoundRect{Element: el, X: g.x(), Y: g.y(), Width: g.length(g.w), Height: g.length(g.h),
			Radius: float64(g.r.Intn(20)), Shape: g.shape()}
	case 7:
		return dsl.Arc{Element: el, CX: g.x(), CY: g.y(), R: g.length(g.h / 2),
			Start: float64(g.r.Intn(361) - 180), End: float64(g.r.Intn(361)), Stroke: g.stroke()}
	case 8:
		pts := []dsl.Point{g.point(), g.point()}
		for k := g.r.Intn(4); k > 0; k-- {
			pts = append(pts, g.point())
		}
		return dsl.Polyline{Element: el, Points: pts, Stroke: g.stroke()}
	case 9:
		pts := []dsl.Point{g.point(), g.point(), g.point()}
		return dsl.Polygon{Element: el, Points: pts, Shape: g.shape()}
	default:
		segs := []dsl.Segment{
			{Type: dsl.SegLine, X: g.x(), Y: g.y()},
			{Type: dsl.SegQuad, C1X: g.x(), C1Y: g.y(), X: g.x(), Y: g.y()},
			{Type: dsl.SegCubic, C1X: g.x(), C1Y: g.y(), C2X: g.x(), C2Y: g.y(), X: g.x(), Y: g.y()},
			{Type: dsl.SegClose},
		}
		return dsl.Path{Element: el, X: g.x(), Y: g.y(), Segments: segs[:1+g.r.Intn(len(segs))], Shape: g.shape()}
	}
}

func ptr[T any](v T) *T { return &v }
