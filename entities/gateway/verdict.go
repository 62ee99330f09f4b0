package gateway

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"canvas-studio/tools/dsl"
)

// MalformedVerdictReason is the rejection reason used when the critic's
// answer cannot be read as a verdict.
const MalformedVerdictReason = "critique response was not a well-formed verdict"

// Verdict is the critic's decision. Reason is set on rejection.
type Verdict struct {
	Accept bool   `json:"accept"`
	Reason string `json:"reason,omitempty"`
}

// Accept returns an accepting verdict.
func Accept() Verdict { return Verdict{Accept: true} }

// Reject returns a rejecting verdict with reason.
func Reject(reason string) Verdict { return Verdict{Reason: reason} }

func (v Verdict) String() string {
	if v.Accept {
		return "accept"
	}
	return "reject: " + v.Reason
}

const verdictSchemaName = "verdict"

var verdictSchema = json.RawMessage(`{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "properties": {
    "verdict": {"type": "string", "enum": ["accept", "reject"]},
    "reason": {"type": "string"}
  },
  "required": ["verdict", "reason"],
  "additionalProperties": false
}`)

func compileVerdictSchema() (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	const url = "mem://verdict.json"
	if err := c.AddResource(url, bytes.NewReader(verdictSchema)); err != nil {
		return nil, err
	}
	return c.Compile(url)
}

// parseVerdict reads the critic's document. Anything that is neither a
// clean accept nor a rejection with a reason is a generic rejection.
func parseVerdict(schema *jsonschema.Schema, raw []byte) Verdict {
	if err := dsl.ValidateDocument(schema, raw); err != nil {
		return Reject(MalformedVerdictReason)
	}
	var doc struct {
		Verdict string `json:"verdict"`
		Reason  string `json:"reason"`
	}
	if err := json.Unmarshal(dsl.StripFences(raw), &doc); err != nil {
		return Reject(MalformedVerdictReason)
	}
	reason := strings.TrimSpace(doc.Reason)
	switch doc.Verdict {
	case "accept":
		return Accept()
	case "reject":
		if reason == "" {
			return Reject(MalformedVerdictReason)
		}
		return Reject(reason)
	}
	return Reject(MalformedVerdictReason)
}
