package dsl_test

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"canvas-studio/tools/dsl"
	"canvas-studio/tools/dsl/dsltest"
)

const allOps = `{
  "version": "0.2",
  "ops": [
    {"op": "clear", "color": "#FFFFFF"},
    {"op": "rect", "id": "panel", "x": 10, "y": 10, "width": 200, "height": 120, "fill": "#EEEEEE", "stroke": "#333333", "stroke_width": 2},
    {"op": "text", "x": 20, "y": 20, "text": "Hello 世界 👋", "color": "#000000", "bg": "#FFFF00", "align": "left"},
    {"op": "line", "x1": 0, "y1": 0, "x2": 320, "y2": 240, "stroke_style": "dashed"},
    {"op": "circle", "cx": 160, "cy": 120, "r": 30, "fill": "#FF000080"},
    {"op": "ellipse", "cx": 160, "cy": 120, "rx": 40, "ry": 20, "stroke": "#0000FF"},
    {"op": "round_rect", "id": "ok", "x": 40, "y": 170, "width": 120, "height": 40, "radius": 8, "clickable": true, "fill": "#3366CC"},
    {"op": "arc", "cx": 100, "cy": 100, "r": 20, "start": 0, "end": 270, "stroke_style": "dotted"},
    {"op": "polyline", "points": [{"x": 0, "y": 0}, {"x": 10, "y": 10}]},
    {"op": "polygon", "points": [{"x": 0, "y": 0}, {"x": 10, "y": 0}, {"x": 5, "y": 8}], "fill": "#00FF00"},
    {"op": "path", "x": 0, "y": 0, "segments": [{"type": "line", "x": 0, "y": 10}, {"type": "quad", "c1x": 5, "c1y": 15, "x": 10, "y": 10}, {"type": "close"}]},
    {"op": "image", "x": 200, "y": 10, "width": 32, "height": 32, "src": "logo.png"}
  ]
}`

func TestParseAllOps(t *testing.T) {
	p, err := dsl.ParseAndValidate([]byte(allOps), dsltest.Canvas)
	require.NoError(t, err)
	require.Len(t, p.Ops, 12)

	for i, kind := range dsl.Kinds {
		assert.Equal(t, kind, p.Ops[i].Kind(), "op %d", i)
	}

	rect := p.Ops[1].(dsl.Rect)
	assert.Equal(t, "panel", rect.ElementID())
	assert.Equal(t, 200.0, rect.Width)
	assert.Equal(t, 2.0, rect.LineWidth())
	assert.Equal(t, dsl.StrokeSolid, rect.DashStyle())

	circle := p.Ops[4].(dsl.Circle)
	require.NotNil(t, circle.Fill)
	assert.Equal(t, uint8(0x80), circle.Fill.A)

	path := p.Ops[10].(dsl.Path)
	require.Len(t, path.Segments, 3)
	assert.Equal(t, dsl.SegClose, path.Segments[2].Type)
}

func TestParseMissingRectWidth(t *testing.T) {
	doc := `{"version":"0.2","ops":[{"op":"clear","color":"#FFFFFF"},{"op":"rect","x":10,"y":10,"height":20}]}`
	_, err := dsl.ParseAndValidate([]byte(doc), dsltest.Canvas)

	var verr *dsl.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, 1, verr.OpIndex)
	assert.Equal(t, "width", verr.Field)
	assert.Equal(t, "ops[1].width: required field is missing", verr.Error())
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		opIndex int
		field   string
	}{
		{"not json", `nope`, -1, ""},
		{"missing version", `{"ops":[{"op":"clear","color":"#FFFFFF"}]}`, -1, "version"},
		{"empty ops", `{"version":"0.2","ops":[]}`, -1, "ops"},
		{"envelope extra", `{"version":"0.2","ops":[{"op":"clear","color":"#FFFFFF"}],"title":"x"}`, -1, "title"},
		{"unknown op", `{"version":"0.2","ops":[{"op":"triangle"}]}`, 0, "op"},
		{"missing tag", `{"version":"0.2","ops":[{"color":"#FFFFFF"}]}`, 0, "op"},
		{"op not object", `{"version":"0.2","ops":[42]}`, 0, ""},
		{"unknown field", `{"version":"0.2","ops":[{"op":"clear","color":"#FFFFFF","alpha":1}]}`, 0, "alpha"},
		{"bad color", `{"version":"0.2","ops":[{"op":"clear","color":"red"}]}`, 0, "color"},
		{"null text", `{"version":"0.2","ops":[{"op":"text","x":1,"y":1,"text":null}]}`, 0, "text"},
		{"string number", `{"version":"0.2","ops":[{"op":"circle","cx":"1","cy":1,"r":1}]}`, 0, "cx"},
		{"x out of bounds", `{"version":"0.2","ops":[{"op":"circle","cx":321,"cy":1,"r":1}]}`, 0, "cx"},
		{"negative y", `{"version":"0.2","ops":[{"op":"circle","cx":1,"cy":-1,"r":1}]}`, 0, "cy"},
		{"zero radius", `{"version":"0.2","ops":[{"op":"circle","cx":1,"cy":1,"r":0}]}`, 0, "r"},
		{"huge number", `{"version":"0.2","ops":[{"op":"circle","cx":1e400,"cy":1,"r":1}]}`, 0, "cx"},
		{"bad stroke style", `{"version":"0.2","ops":[{"op":"line","x1":0,"y1":0,"x2":1,"y2":1,"stroke_style":"wavy"}]}`, 0, "stroke_style"},
		{"stroke too wide", `{"version":"0.2","ops":[{"op":"line","x1":0,"y1":0,"x2":1,"y2":1,"stroke_width":65}]}`, 0, "stroke_width"},
		{"fill on line", `{"version":"0.2","ops":[{"op":"line","x1":0,"y1":0,"x2":1,"y2":1,"fill":"#000000"}]}`, 0, "fill"},
		{"short polyline", `{"version":"0.2","ops":[{"op":"polyline","points":[{"x":0,"y":0}]}]}`, 0, "points"},
		{"point out of bounds", `{"version":"0.2","ops":[{"op":"polygon","points":[{"x":0,"y":0},{"x":0,"y":999},{"x":1,"y":1}]}]}`, 0, "points[1].y"},
		{"segment missing control", `{"version":"0.2","ops":[{"op":"path","x":0,"y":0,"segments":[{"type":"quad","x":1,"y":1}]}]}`, 0, "segments[0].c1x"},
		{"close with coords", `{"version":"0.2","ops":[{"op":"path","x":0,"y":0,"segments":[{"type":"close","x":1}]}]}`, 0, "segments[0].x"},
		{"bad id", `{"version":"0.2","ops":[{"op":"clear","id":"has space","color":"#FFFFFF"}]}`, 0, "id"},
		{"clickable without id", `{"version":"0.2","ops":[{"op":"rect","x":0,"y":0,"width":1,"height":1,"clickable":true}]}`, 0, "id"},
		{"empty src", `{"version":"0.2","ops":[{"op":"image","x":0,"y":0,"width":1,"height":1,"src":""}]}`, 0, "src"},
		{"duplicate id", `{"version":"0.2","ops":[{"op":"clear","id":"a","color":"#FFFFFF"},{"op":"clear","id":"a","color":"#000000"}]}`, 1, "id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := dsl.ParseAndValidate([]byte(tt.doc), dsltest.Canvas)
			var verr *dsl.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.opIndex, verr.OpIndex)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestParseVersion(t *testing.T) {
	_, err := dsl.ParseAndValidate([]byte(`{"version":"0.1","ops":[{"op":"clear","color":"#FFFFFF"}]}`), dsltest.Canvas)
	assert.True(t, errors.Is(err, dsl.ErrUnsupportedVersion))
}

func TestParseStripsFences(t *testing.T) {
	doc := "```json\n{\"version\":\"0.2\",\"ops\":[{\"op\":\"clear\",\"color\":\"#FFFFFF\"}]}\n```"
	p, err := dsl.ParseAndValidate([]byte(doc), dsltest.Canvas)
	require.NoError(t, err)
	assert.Len(t, p.Ops, 1)
}

func TestParseNormalizesText(t *testing.T) {
	doc := `{"version":"0.2","ops":[{"op":"text","x":0,"y":0,"text":"Cafe\u0301"}]}`
	p, err := dsl.ParseAndValidate([]byte(doc), dsltest.Canvas)
	require.NoError(t, err)
	assert.Equal(t, "Caf\u00e9", p.Ops[0].(dsl.Text).Text)
}

func TestParseInvalidCanvas(t *testing.T) {
	_, err := dsl.ParseAndValidate([]byte(allOps), dsl.CanvasSpec{Width: 0, Height: 10})
	var verr *dsl.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "canvas", verr.Field)
}

func TestValidateGoProgram(t *testing.T) {
	require.NoError(t, dsl.Validate(dsltest.LoginForm(), dsltest.Canvas))

	p := dsltest.LoginForm().Clone()
	p.Ops[1] = dsl.Text{X: math.NaN(), Y: 10, Text: "x"}
	err := dsl.Validate(p, dsltest.Canvas)
	var verr *dsl.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, 1, verr.OpIndex)
	assert.Equal(t, "x", verr.Field)

	p.Ops[1] = dsl.Polyline{Points: []dsl.Point{{X: 1, Y: 1}, {X: 2, Y: math.Inf(1)}}}
	err = dsl.Validate(p, dsltest.Canvas)
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "points[1].y", verr.Field)
}

func TestMarshalIsCanonical(t *testing.T) {
	a, err := dsl.Marshal(dsltest.LoginForm())
	require.NoError(t, err)
	b, err := dsl.Marshal(dsltest.LoginForm())
	require.NoError(t, err)
	assert.Equal(t, a, b)

	back, err := dsl.ParseAndValidate(a, dsltest.Canvas)
	require.NoError(t, err)
	assert.Equal(t, dsltest.LoginForm(), back)
}

func TestColor(t *testing.T) {
	c, err := dsl.ParseColor("#3366cc")
	require.NoError(t, err)
	assert.Equal(t, dsl.Color{0x33, 0x66, 0xCC, 0xFF}, c)
	assert.Equal(t, "#3366CC", c.String())

	c, err = dsl.ParseColor("#11223344")
	require.NoError(t, err)
	assert.Equal(t, "#11223344", c.String())

	_, err = dsl.ParseColor("#123")
	assert.Error(t, err)
}

func TestCanvasValidate(t *testing.T) {
	assert.NoError(t, dsltest.Canvas.Validate())
	assert.Error(t, dsl.CanvasSpec{Width: 10, Height: dsl.MaxCanvasSide + 1}.Validate())
}
