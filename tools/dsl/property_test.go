package dsl_test

import (
	"encoding/json"
	"math/rand"
	"sort"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"

	"canvas-studio/tools/dsl"
	"canvas-studio/tools/dsl/dsltest"
)

// TestSchemaSoundness checks that documents the schema accepts also parse.
// Property: schema.Validate(doc) == nil => ParseAndValidate(doc) succeeds
func TestSchemaSoundness(t *testing.T) {
	schema, err := dsl.CompileSchema(dsltest.Canvas)
	require.NoError(t, err)

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("schema-accepted programs validate", prop.ForAll(
		func(seed int64) bool {
			doc := dsltest.Document(dsltest.RandomProgram(rand.New(rand.NewSource(seed)), dsltest.Canvas))
			if err := dsl.ValidateDocument(schema, doc); err != nil {
				t.Logf("schema rejected generated program: %v", err)
				return false
			}
			_, err := dsl.ParseAndValidate(doc, dsltest.Canvas)
			return err == nil
		},
		gen.Int64(),
	))

	properties.TestingRun(t)
}

// TestAttributability checks that breaking a single constraint on one op is
// reported against that op and field, and that the schema rejects it too.
func TestAttributability(t *testing.T) {
	schema, err := dsl.CompileSchema(dsltest.Canvas)
	require.NoError(t, err)

	mutations := []struct {
		name  string
		apply func(op map[string]any, field string)
	}{
		{"drop", func(op map[string]any, field string) { delete(op, field) }},
		{"null", func(op map[string]any, field string) { op[field] = nil }},
		{"out of range", func(op map[string]any, field string) { op[field] = 1e6 }},
	}

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("single violations are attributed", prop.ForAll(
		func(seed int64, pick int, which int) bool {
			r := rand.New(rand.NewSource(seed))
			doc := dsltest.Document(dsltest.RandomProgram(r, dsltest.Canvas))

			var env struct {
				Version string           `json:"version"`
				Ops     []map[string]any `json:"ops"`
			}
			if err := json.Unmarshal(doc, &env); err != nil {
				return false
			}
			index := pick % len(env.Ops)
			op := env.Ops[index]

			// Only required numeric fields accept every mutation above.
			var fields []string
			for name, v := range op {
				if _, isNum := v.(float64); isNum && requiredNumber(op["op"].(string), name) {
					fields = append(fields, name)
				}
			}
			if len(fields) == 0 {
				return true
			}
			sort.Strings(fields)
			field := fields[which%len(fields)]
			mutation := mutations[which%len(mutations)]
			mutation.apply(op, field)

			broken, err := json.Marshal(env)
			if err != nil {
				return false
			}
			if dsl.ValidateDocument(schema, broken) == nil {
				t.Logf("schema accepted %s of %s", mutation.name, field)
				return false
			}
			_, err = dsl.ParseAndValidate(broken, dsltest.Canvas)
			verr, ok := err.(*dsl.ValidationError)
			return ok && verr.OpIndex == index && verr.Field == field
		},
		gen.Int64(),
		gen.IntRange(0, 1<<16),
		gen.IntRange(0, 1<<16),
	))

	properties.TestingRun(t)
}

func requiredNumber(op, field string) bool {
	required := map[string][]string{
		"rect":       {"x", "y", "width", "height"},
		"text":       {"x", "y"},
		"line":       {"x1", "y1", "x2", "y2"},
		"circle":     {"cx", "cy", "r"},
		"ellipse":    {"cx", "cy", "rx", "ry"},
		"round_rect": {"x", "y", "width", "height", "radius"},
		"arc":        {"cx", "cy", "r", "start", "end"},
		"path":       {"x", "y"},
	}
	for _, f := range required[op] {
		if f == field {
			return true
		}
	}
	return false
}
