package dsl

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strings"

	"github.com/gowebpki/jcs"
)

// Marshal encodes a program as canonical JSON (RFC 8785), so the same
// program always yields the same bytes in prompts and archives.
func Marshal(p *DrawProgram) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("marshal: nil program")
	}
	ops := make([]json.RawMessage, len(p.Ops))
	for i, op := range p.Ops {
		data, err := MarshalOp(op)
		if err != nil {
			return nil, fmt.Errorf("marshal ops[%d]: %w", i, err)
		}
		ops[i] = data
	}
	doc, err := json.Marshal(struct {
		Version string            `json:"version"`
		Ops     []json.RawMessage `json:"ops"`
	}{p.Version, ops})
	if err != nil {
		return nil, err
	}
	return jcs.Transform(doc)
}

// MarshalOp encodes a single op with its "op" tag.
func MarshalOp(op DrawOp) ([]byte, error) {
	tag := op.Kind()
	switch o := op.(type) {
	case Clear:
		return json.Marshal(struct {
			Op OpKind `json:"op"`
			Clear
		}{tag, o})
	case Rect:
		return json.Marshal(struct {
			Op OpKind `json:"op"`
			Rect
		}{tag, o})
	case Text:
		return json.Marshal(struct {
			Op OpKind `json:"op"`
			Text
		}{tag, o})
	case Line:
		return json.Marshal(struct {
			Op OpKind `json:"op"`
			Line
		}{tag, o})
	case Circle:
		return json.Marshal(struct {
			Op OpKind `json:"op"`
			Circle
		}{tag, o})
	case Ellipse:
		return json.Marshal(struct {
			Op OpKind `json:"op"`
			Ellipse
		}{tag, o})
	case RoundRect:
		return json.Marshal(struct {
			Op OpKind `json:"op"`
			RoundRect
		}{tag, o})
	case Arc:
		return json.Marshal(struct {
			Op OpKind `json:"op"`
			Arc
		}{tag, o})
	case Polyline:
		return json.Marshal(struct {
			Op OpKind `json:"op"`
			Polyline
		}{tag, o})
	case Polygon:
		return json.Marshal(struct {
			Op OpKind `json:"op"`
			Polygon
		}{tag, o})
	case Path:
		return json.Marshal(struct {
			Op OpKind `json:"op"`
			Path
		}{tag, o})
	case Image:
		return json.Marshal(struct {
			Op OpKind `json:"op"`
			Image
		}{tag, o})
	}
	return nil, fmt.Errorf("unsupported op type %T", op)
}

// MarshalJSON writes only the coordinates the segment type uses, so zero
// coordinates survive a round trip.
func (s Segment) MarshalJSON() ([]byte, error) {
	out := map[string]any{"type": s.Type}
	values := map[string]float64{"c1x": s.C1X, "c1y": s.C1Y, "c2x": s.C2X, "c2y": s.C2Y, "x": s.X, "y": s.Y}
	for _, spec := range segmentFields[s.Type] {
		out[spec.name] = values[spec.name]
	}
	return json.Marshal(out)
}

// Validate checks a program built in Go against the same rules
// ParseAndValidate applies to documents.
func Validate(p *DrawProgram, canvas CanvasSpec) error {
	if p == nil {
		return envelopeError("", "program is nil")
	}
	for i, op := range p.Ops {
		if field := nonFinite(reflect.ValueOf(op), ""); field != "" {
			return &ValidationError{OpIndex: i, Field: field, Reason: "must be a finite number"}
		}
	}
	data, err := Marshal(p)
	if err != nil {
		return envelopeError("", "%v", err)
	}
	_, err = ParseAndValidate(data, canvas)
	return err
}

// nonFinite returns the JSON path of the first NaN or infinite float in v.
func nonFinite(v reflect.Value, path string) string {
	switch v.Kind() {
	case reflect.Float32, reflect.Float64:
		if f := v.Float(); math.IsNaN(f) || math.IsInf(f, 0) {
			return path
		}
	case reflect.Pointer, reflect.Interface:
		if !v.IsNil() {
			return nonFinite(v.Elem(), path)
		}
	case reflect.Slice:
		for i := 0; i < v.Len(); i++ {
			if f := nonFinite(v.Index(i), fmt.Sprintf("%s[%d]", path, i)); f != "" {
				return f
			}
		}
	case reflect.Struct:
		t := v.Type()
		for i := 0; i < t.NumField(); i++ {
			sf := t.Field(i)
			name, _, _ := strings.Cut(sf.Tag.Get("json"), ",")
			child := path
			if !sf.Anonymous {
				child = joinPath(path, name)
			}
			if f := nonFinite(v.Field(i), child); f != "" {
				return f
			}
		}
	}
	return ""
}

func joinPath(path, name string) string {
	if path == "" {
		return name
	}
	return path + "." + name
}
