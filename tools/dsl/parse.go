package dsl

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"sort"

	"golang.org/x/text/unicode/norm"
)

// ParseAndValidate decodes a structured document into a DrawProgram and
// checks it against the canvas. Every failure is a *ValidationError naming
// the op index and field; nothing is coerced.
func ParseAndValidate(raw []byte, canvas CanvasSpec) (*DrawProgram, error) {
	if err := canvas.Validate(); err != nil {
		return nil, envelopeError("canvas", "%v", err)
	}

	var env map[string]json.RawMessage
	if err := json.Unmarshal(StripFences(raw), &env); err != nil || env == nil {
		return nil, &ValidationError{OpIndex: -1, Reason: "document must be a JSON object", Err: ErrNotObject}
	}

	rawVersion, ok := env["version"]
	if !ok {
		return nil, envelopeError("version", "required field is missing")
	}
	var version *string
	if json.Unmarshal(rawVersion, &version) != nil || version == nil {
		return nil, envelopeError("version", "must be a string")
	}
	if *version != Version {
		return nil, &ValidationError{
			OpIndex: -1,
			Field:   "version",
			Reason:  fmt.Sprintf("must be %q, got %q", Version, *version),
			Err:     ErrUnsupportedVersion,
		}
	}

	rawOps, ok := env["ops"]
	if !ok {
		return nil, envelopeError("ops", "required field is missing")
	}
	var items []json.RawMessage
	if isNull(rawOps) || json.Unmarshal(rawOps, &items) != nil {
		return nil, envelopeError("ops", "must be an array of ops")
	}
	if len(items) == 0 || len(items) > MaxOps {
		return nil, envelopeError("ops", "must contain between 1 and %d ops", MaxOps)
	}

	var unknown []string
	for key := range env {
		if key != "version" && key != "ops" {
			unknown = append(unknown, key)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, envelopeError(unknown[0], "unknown field")
	}

	program := &DrawProgram{Version: Version, Ops: make([]DrawOp, 0, len(items))}
	seen := make(map[string]int)
	for i, item := range items {
		op, err := parseOp(i, item, canvas)
		if err != nil {
			return nil, err
		}
		if id := op.ElementID(); id != "" {
			if first, dup := seen[id]; dup {
				return nil, &ValidationError{OpIndex: i, Field: "id", Reason: fmt.Sprintf("duplicate id %q (first used by ops[%d])", id, first)}
			}
			seen[id] = i
		}
		program.Ops = append(program.Ops, op)
	}
	return program, nil
}

func parseOp(index int, raw json.RawMessage, canvas CanvasSpec) (DrawOp, error) {
	rd := reader{index: index, canvas: canvas}
	obj, err := rd.object(raw)
	if err != nil {
		return nil, err
	}

	rawTag, ok := obj["op"]
	if !ok {
		return nil, rd.fail("op", "required field is missing")
	}
	var tag *string
	if json.Unmarshal(rawTag, &tag) != nil || tag == nil {
		return nil, rd.fail("op", "must be a string")
	}
	kind := OpKind(*tag)
	specs, known := opFields[kind]
	if !known {
		return nil, rd.fail("op", "unknown op %q", *tag)
	}

	rec, err := rd.read(obj, specs, "op")
	if err != nil {
		return nil, err
	}
	if rec.bools["clickable"] && slices.Contains(clickableKinds, kind) && rec.strs["id"] == "" {
		return nil, rd.fail("id", "required when clickable is true")
	}
	return build(kind, rec), nil
}

func build(kind OpKind, r *record) DrawOp {
	el := r.element()
	switch kind {
	case KindClear:
		return Clear{Element: el, Color: r.colors["color"]}
	case KindRect:
		return Rect{Element: el, X: r.nums["x"], Y: r.nums["y"], Width: r.nums["width"], Height: r.nums["height"],
			Clickable: r.bools["clickable"], Shape: r.shape()}
	case KindText:
		return Text{Element: el, X: r.nums["x"], Y: r.nums["y"], Text: norm.NFC.String(r.strs["text"]),
			Color: r.color("color"), Background: r.color("bg"), Align: TextAlign(r.strs["align"])}
	case KindLine:
		return Line{Element: el, X1: r.nums["x1"], Y1: r.nums["y1"], X2: r.nums["x2"], Y2: r.nums["y2"], Stroke: r.stroke()}
	case KindCircle:
		return Circle{Element: el, CX: r.nums["cx"], CY: r.nums["cy"], R: r.nums["r"], Shape: r.shape()}
	case KindEllipse:
		return Ellipse{Element: el, CX: r.nums["cx"], CY: r.nums["cy"], RX: r.nums["rx"], RY: r.nums["ry"], Shape: r.shape()}
	case KindRoundRect:
		return RoundRect{Element: el, X: r.nums["x"], Y: r.nums["y"], Width: r.nums["width"], Height: r.nums["height"],
			Radius: r.nums["radius"], Clickable: r.bools["clickable"], Shape: r.shape()}
	case KindArc:
		return Arc{Element: el, CX: r.nums["cx"], CY: r.nums["cy"], R: r.nums["r"], Start: r.nums["start"], End: r.nums["end"],
			Stroke: r.stroke()}
	case KindPolyline:
		return Polyline{Element: el, Points: r.points, Stroke: r.stroke()}
	case KindPolygon:
		return Polygon{Element: el, Points: r.points, Shape: r.shape()}
	case KindPath:
		return Path{Element: el, X: r.nums["x"], Y: r.nums["y"], Segments: r.segments, Shape: r.shape()}
	case KindImage:
		return Image{Element: el, X: r.nums["x"], Y: r.nums["y"], Width: r.nums["width"], Height: r.nums["height"], Src: r.strs["src"]}
	}
	panic(fmt.Sprintf("dsl: no builder for op %q", kind))
}

// StripFences removes a surrounding markdown code fence, which some models
// emit around JSON even when asked not to.
func StripFences(raw []byte) []byte {
	trimmed := bytes.TrimSpace(raw)
	if !bytes.HasPrefix(trimmed, []byte("```")) {
		return trimmed
	}
	trimmed = trimmed[3:]
	if nl := bytes.IndexByte(trimmed, '\n'); nl >= 0 {
		trimmed = trimmed[nl+1:]
	} else {
		trimmed = bytes.TrimPrefix(trimmed, []byte("json"))
	}
	trimmed = bytes.TrimSpace(trimmed)
	trimmed = bytes.TrimSuffix(trimmed, []byte("```"))
	return bytes.TrimSpace(trimmed)
}
