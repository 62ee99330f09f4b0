package dsl

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"slices"
	"sort"
	"strings"
	"unicode/utf8"
)

// The field table below is the single description of every op's payload.
// The parser, the schema descriptor and Validate all read from it.

type fieldKind int

const (
	fieldX fieldKind = iota
	fieldY
	fieldWidth
	fieldHeight
	fieldLength
	fieldRadius
	fieldAngle
	fieldStrokeWidth
	fieldColor
	fieldText
	fieldID
	fieldBool
	fieldEnum
	fieldPoints
	fieldSegments
	fieldSrc
)

const (
	maxStrokeWidth = 64.0
	maxTextRunes   = 2000
	maxSrcRunes    = 8 << 20
	maxListItems   = 1024
	idPattern      = `^[A-Za-z0-9_.:-]{1,64}$`
)

var idRe = regexp.MustCompile(idPattern)

type fieldSpec struct {
	name     string
	kind     fieldKind
	required bool
	enum     []string
	minItems int
}

func req(name string, kind fieldKind) fieldSpec { return fieldSpec{name: name, kind: kind, required: true} }
func opt(name string, kind fieldKind) fieldSpec { return fieldSpec{name: name, kind: kind} }

var (
	strokeFields = []fieldSpec{
		opt("stroke", fieldColor),
		opt("stroke_width", fieldStrokeWidth),
		{name: "stroke_style", kind: fieldEnum, enum: strokeStyles},
	}
	shapeFields = append([]fieldSpec{opt("fill", fieldColor)}, strokeFields...)
)

func fieldsOf(base []fieldSpec, payload []fieldSpec) []fieldSpec {
	out := []fieldSpec{opt("id", fieldID)}
	out = append(out, base...)
	return append(out, payload...)
}

var opFields = map[OpKind][]fieldSpec{
	KindClear: fieldsOf([]fieldSpec{req("color", fieldColor)}, nil),
	KindRect: fieldsOf([]fieldSpec{
		req("x", fieldX), req("y", fieldY), req("width", fieldWidth), req("height", fieldHeight),
		opt("clickable", fieldBool),
	}, shapeFields),
	KindText: fieldsOf([]fieldSpec{
		req("x", fieldX), req("y", fieldY), req("text", fieldText),
		opt("color", fieldColor), opt("bg", fieldColor),
		{name: "align", kind: fieldEnum, enum: textAligns},
	}, nil),
	KindLine: fieldsOf([]fieldSpec{
		req("x1", fieldX), req("y1", fieldY), req("x2", fieldX), req("y2", fieldY),
	}, strokeFields),
	KindCircle: fieldsOf([]fieldSpec{
		req("cx", fieldX), req("cy", fieldY), req("r", fieldLength),
	}, shapeFields),
	KindEllipse: fieldsOf([]fieldSpec{
		req("cx", fieldX), req("cy", fieldY), req("rx", fieldLength), req("ry", fieldLength),
	}, shapeFields),
	KindRoundRect: fieldsOf([]fieldSpec{
		req("x", fieldX), req("y", fieldY), req("width", fieldWidth), req("height", fieldHeight),
		req("radius", fieldRadius), opt("clickable", fieldBool),
	}, shapeFields),
	KindArc: fieldsOf([]fieldSpec{
		req("cx", fieldX), req("cy", fieldY), req("r", fieldLength),
		req("start", fieldAngle), req("end", fieldAngle),
	}, strokeFields),
	KindPolyline: fieldsOf([]fieldSpec{{name: "points", kind: fieldPoints, required: true, minItems: 2}}, strokeFields),
	KindPolygon:  fieldsOf([]fieldSpec{{name: "points", kind: fieldPoints, required: true, minItems: 3}}, shapeFields),
	KindPath: fieldsOf([]fieldSpec{
		req("x", fieldX), req("y", fieldY),
		{name: "segments", kind: fieldSegments, required: true, minItems: 1},
	}, shapeFields),
	KindImage: fieldsOf([]fieldSpec{
		req("x", fieldX), req("y", fieldY), req("width", fieldWidth), req("height", fieldHeight),
		req("src", fieldSrc),
	}, nil),
}

// segmentFields lists the coordinates each segment type requires.
var segmentFields = map[SegmentKind][]fieldSpec{
	SegMove:  {req("x", fieldX), req("y", fieldY)},
	SegLine:  {req("x", fieldX), req("y", fieldY)},
	SegQuad:  {req("c1x", fieldX), req("c1y", fieldY), req("x", fieldX), req("y", fieldY)},
	SegCubic: {req("c1x", fieldX), req("c1y", fieldY), req("c2x", fieldX), req("c2y", fieldY), req("x", fieldX), req("y", fieldY)},
	SegClose: {},
}

// clickableKinds may set clickable, which then requires an id.
var clickableKinds = []OpKind{KindRect, KindRoundRect}

// numberBounds returns the admissible range of a numeric field.
func numberBounds(kind fieldKind, c CanvasSpec) (lo, hi float64, exclusiveLo bool) {
	switch kind {
	case fieldX:
		return 0, float64(c.Width), false
	case fieldY:
		return 0, float64(c.Height), false
	case fieldWidth:
		return 0, float64(c.Width), true
	case fieldHeight:
		return 0, float64(c.Height), true
	case fieldLength:
		return 0, c.maxLength(), true
	case fieldRadius:
		return 0, c.maxLength(), false
	case fieldAngle:
		return -360, 360, false
	case fieldStrokeWidth:
		return 0, maxStrokeWidth, true
	}
	return math.Inf(-1), math.Inf(1), false
}

func isNumber(kind fieldKind) bool {
	return kind <= fieldStrokeWidth
}

// record holds the decoded, checked values of one JSON object.
type record struct {
	nums     map[string]float64
	strs     map[string]string
	colors   map[string]Color
	bools    map[string]bool
	points   []Point
	segments []Segment
}

func newRecord() *record {
	return &record{
		nums:   make(map[string]float64),
		strs:   make(map[string]string),
		colors: make(map[string]Color),
		bools:  make(map[string]bool),
	}
}

func (r *record) color(name string) *Color {
	c, ok := r.colors[name]
	if !ok {
		return nil
	}
	return &c
}

func (r *record) stroke() Stroke {
	s := Stroke{Color: r.color("stroke"), Style: StrokeStyle(r.strs["stroke_style"])}
	if w, ok := r.nums["stroke_width"]; ok {
		s.Width = &w
	}
	return s
}

func (r *record) shape() Shape {
	return Shape{Fill: r.color("fill"), Stroke: r.stroke()}
}

func (r *record) element() Element {
	return Element{ID: r.strs["id"]}
}

// reader checks one JSON object against a field list.
type reader struct {
	index  int
	prefix string
	canvas CanvasSpec
}

func (rd reader) fail(field, format string, args ...any) *ValidationError {
	return &ValidationError{OpIndex: rd.index, Field: rd.prefix + field, Reason: fmt.Sprintf(format, args...)}
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// read decodes obj according to specs. skip names keys that were already
// consumed by the caller (the op or segment tag).
func (rd reader) read(obj map[string]json.RawMessage, specs []fieldSpec, skip string) (*record, error) {
	rec := newRecord()
	known := map[string]bool{skip: true}
	for _, spec := range specs {
		known[spec.name] = true
		raw, present := obj[spec.name]
		if !present {
			if spec.required {
				return nil, rd.fail(spec.name, "required field is missing")
			}
			continue
		}
		if err := rd.readField(rec, spec, raw); err != nil {
			return nil, err
		}
	}
	var unknown []string
	for key := range obj {
		if !known[key] {
			unknown = append(unknown, key)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, rd.fail(unknown[0], "unknown field")
	}
	return rec, nil
}

func (rd reader) readField(rec *record, spec fieldSpec, raw json.RawMessage) error {
	name := spec.name
	switch {
	case isNumber(spec.kind):
		var f *float64
		if isNull(raw) || json.Unmarshal(raw, &f) != nil || f == nil {
			return rd.fail(name, "must be a finite number")
		}
		if err := rd.checkNumber(name, spec.kind, *f); err != nil {
			return err
		}
		rec.nums[name] = *f

	case spec.kind == fieldBool:
		var b bool
		if isNull(raw) || json.Unmarshal(raw, &b) != nil {
			return rd.fail(name, "must be a boolean")
		}
		rec.bools[name] = b

	case spec.kind == fieldPoints:
		var items []json.RawMessage
		if isNull(raw) || json.Unmarshal(raw, &items) != nil {
			return rd.fail(name, "must be an array of points")
		}
		if len(items) < spec.minItems || len(items) > maxListItems {
			return rd.fail(name, "must contain between %d and %d points", spec.minItems, maxListItems)
		}
		for i, item := range items {
			sub := reader{index: rd.index, prefix: fmt.Sprintf("%s%s[%d].", rd.prefix, name, i), canvas: rd.canvas}
			obj, err := sub.object(item)
			if err != nil {
				return err
			}
			pr, err := sub.read(obj, []fieldSpec{req("x", fieldX), req("y", fieldY)}, "")
			if err != nil {
				return err
			}
			rec.points = append(rec.points, Point{X: pr.nums["x"], Y: pr.nums["y"]})
		}

	case spec.kind == fieldSegments:
		var items []json.RawMessage
		if isNull(raw) || json.Unmarshal(raw, &items) != nil {
			return rd.fail(name, "must be an array of segments")
		}
		if len(items) < spec.minItems || len(items) > maxListItems {
			return rd.fail(name, "must contain between %d and %d segments", spec.minItems, maxListItems)
		}
		for i, item := range items {
			seg, err := rd.segment(fmt.Sprintf("%s%s[%d].", rd.prefix, name, i), item)
			if err != nil {
				return err
			}
			rec.segments = append(rec.segments, seg)
		}

	default:
		var s *string
		if isNull(raw) || json.Unmarshal(raw, &s) != nil || s == nil {
			return rd.fail(name, "must be a string")
		}
		if err := rd.checkString(rec, spec, *s); err != nil {
			return err
		}
	}
	return nil
}

func (rd reader) checkNumber(name string, kind fieldKind, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return rd.fail(name, "must be a finite number")
	}
	lo, hi, exclusive := numberBounds(kind, rd.canvas)
	if exclusive && v <= lo {
		return rd.fail(name, "must be greater than %g", lo)
	}
	if v < lo || v > hi {
		return rd.fail(name, "must be within [%g, %g]", lo, hi)
	}
	return nil
}

func (rd reader) checkString(rec *record, spec fieldSpec, s string) error {
	name := spec.name
	switch spec.kind {
	case fieldColor:
		c, err := ParseColor(s)
		if err != nil {
			return rd.fail(name, "must be #RRGGBB or #RRGGBBAA")
		}
		rec.colors[name] = c
		return nil
	case fieldID:
		if !idRe.MatchString(s) {
			return rd.fail(name, "must match %s", idPattern)
		}
	case fieldEnum:
		if !slices.Contains(spec.enum, s) {
			return rd.fail(name, "must be one of %v", spec.enum)
		}
	case fieldText:
		if utf8.RuneCountInString(s) > maxTextRunes {
			return rd.fail(name, "must be at most %d characters", maxTextRunes)
		}
	case fieldSrc:
		n := utf8.RuneCountInString(s)
		if n < 1 || n > maxSrcRunes {
			return rd.fail(name, "must be a non-empty image reference")
		}
	}
	rec.strs[name] = s
	return nil
}

func (rd reader) object(raw json.RawMessage) (map[string]json.RawMessage, error) {
	var obj map[string]json.RawMessage
	if isNull(raw) || json.Unmarshal(raw, &obj) != nil {
		return nil, &ValidationError{OpIndex: rd.index, Field: strings.TrimSuffix(rd.prefix, "."), Reason: "must be a JSON object"}
	}
	return obj, nil
}

func (rd reader) segment(prefix string, raw json.RawMessage) (Segment, error) {
	sub := reader{index: rd.index, prefix: prefix, canvas: rd.canvas}
	obj, err := sub.object(raw)
	if err != nil {
		return Segment{}, err
	}
	tagRaw, ok := obj["type"]
	if !ok {
		return Segment{}, sub.fail("type", "required field is missing")
	}
	var tag *string
	if json.Unmarshal(tagRaw, &tag) != nil || tag == nil || !slices.Contains(segmentKinds, *tag) {
		return Segment{}, sub.fail("type", "must be one of %v", segmentKinds)
	}
	kind := SegmentKind(*tag)
	rec, err := sub.read(obj, segmentFields[kind], "type")
	if err != nil {
		return Segment{}, err
	}
	return Segment{
		Type: kind,
		C1X:  rec.nums["c1x"], C1Y: rec.nums["c1y"],
		C2X: rec.nums["c2x"], C2Y: rec.nums["c2y"],
		X: rec.nums["x"], Y: rec.nums["y"],
	}, nil
}
