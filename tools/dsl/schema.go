package dsl

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// SchemaName is the name under which the program schema is registered with
// transports that ask for one.
const SchemaName = "draw_program"

// Schema returns the JSON Schema (draft 2020-12) for programs on the given
// canvas. Canvas bounds are baked into the numeric limits, so a document the
// schema accepts also passes ParseAndValidate. Id uniqueness is the one rule
// the schema cannot express; it is stated in the description.
func Schema(canvas CanvasSpec) map[string]any {
	variants := make([]any, 0, len(Kinds))
	for _, kind := range Kinds {
		variants = append(variants, opSchema(kind, canvas))
	}
	return map[string]any{
		"$schema":     "https://json-schema.org/draft/2020-12/schema",
		"title":       "DrawProgram",
		"description": fmt.Sprintf("Drawing program for a %dx%d canvas. Ops paint in order. Element ids must be unique.", canvas.Width, canvas.Height),
		"type":        "object",
		"properties": map[string]any{
			"version": map[string]any{"type": "string", "const": Version},
			"ops": map[string]any{
				"type":     "array",
				"minItems": 1,
				"maxItems": MaxOps,
				"items":    map[string]any{"anyOf": variants},
			},
		},
		"required":             []string{"version", "ops"},
		"additionalProperties": false,
	}
}

// SchemaJSON is Schema encoded as JSON.
func SchemaJSON(canvas CanvasSpec) []byte {
	data, err := json.Marshal(Schema(canvas))
	if err != nil {
		panic(fmt.Sprintf("dsl: encode schema: %v", err))
	}
	return data
}

// CompileSchema compiles Schema for document validation.
func CompileSchema(canvas CanvasSpec) (*jsonschema.Schema, error) {
	url := fmt.Sprintf("mem://%s/%dx%d.json", SchemaName, canvas.Width, canvas.Height)
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(url, bytes.NewReader(SchemaJSON(canvas))); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return compiled, nil
}

// ValidateDocument checks raw JSON against a compiled schema.
func ValidateDocument(schema *jsonschema.Schema, raw []byte) error {
	dec := json.NewDecoder(bytes.NewReader(StripFences(raw)))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("decode document: %w", err)
	}
	return schema.Validate(doc)
}

func opSchema(kind OpKind, canvas CanvasSpec) map[string]any {
	props := map[string]any{"op": map[string]any{"const": string(kind)}}
	required := []string{"op"}
	for _, spec := range opFields[kind] {
		props[spec.name] = fieldSchema(spec, canvas)
		if spec.required {
			required = append(required, spec.name)
		}
	}
	s := map[string]any{
		"type":                 "object",
		"properties":           props,
		"required":             required,
		"additionalProperties": false,
	}
	for _, k := range clickableKinds {
		if k == kind {
			s["if"] = map[string]any{
				"properties": map[string]any{"clickable": map[string]any{"const": true}},
				"required":   []string{"clickable"},
			}
			s["then"] = map[string]any{"required": []string{"id"}}
		}
	}
	return s
}

func fieldSchema(spec fieldSpec, canvas CanvasSpec) map[string]any {
	if isNumber(spec.kind) {
		lo, hi, exclusive := numberBounds(spec.kind, canvas)
		s := map[string]any{"type": "number", "maximum": hi}
		if exclusive {
			s["exclusiveMinimum"] = lo
		} else {
			s["minimum"] = lo
		}
		return s
	}
	switch spec.kind {
	case fieldColor:
		return map[string]any{"type": "string", "pattern": colorPattern}
	case fieldID:
		return map[string]any{"type": "string", "pattern": idPattern}
	case fieldBool:
		return map[string]any{"type": "boolean"}
	case fieldEnum:
		return map[string]any{"type": "string", "enum": spec.enum}
	case fieldText:
		return map[string]any{"type": "string", "maxLength": maxTextRunes}
	case fieldSrc:
		return map[string]any{"type": "string", "minLength": 1, "maxLength": maxSrcRunes}
	case fieldPoints:
		return map[string]any{
			"type":     "array",
			"minItems": spec.minItems,
			"maxItems": maxListItems,
			"items":    objectSchema([]fieldSpec{req("x", fieldX), req("y", fieldY)}, "", canvas),
		}
	case fieldSegments:
		variants := make([]any, 0, len(segmentKinds))
		for _, k := range segmentKinds {
			variants = append(variants, objectSchema(segmentFields[SegmentKind(k)], k, canvas))
		}
		return map[string]any{
			"type":     "array",
			"minItems": spec.minItems,
			"maxItems": maxListItems,
			"items":    map[string]any{"anyOf": variants},
		}
	}
	panic(fmt.Sprintf("dsl: no schema for field %q", spec.name))
}

// objectSchema describes a closed object. A non-empty tag adds a required
// "type" constant.
func objectSchema(specs []fieldSpec, tag string, canvas CanvasSpec) map[string]any {
	props := map[string]any{}
	required := []string{}
	if tag != "" {
		props["type"] = map[string]any{"const": tag}
		required = append(required, "type")
	}
	for _, spec := range specs {
		props[spec.name] = fieldSchema(spec, canvas)
		if spec.required {
			required = append(required, spec.name)
		}
	}
	return map[string]any{
		"type":                 "object",
		"properties":           props,
		"required":             required,
		"additionalProperties": false,
	}
}
