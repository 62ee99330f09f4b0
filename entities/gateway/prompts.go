package gateway

import (
	"fmt"
	"strings"

	"canvas-studio/tools/dsl"
)

// Reference describes the draw program format for the planner.
const Reference = `# Draw Program Reference (version 0.2)

A draw program is a JSON object: {"version": "0.2", "ops": [ ... ]}.
Ops paint in order; later ops cover earlier ones. Coordinates are logical
pixels with (0, 0) at the top left of the canvas and must stay inside it.

## Ops

| op | fields |
|----|--------|
| clear | color |
| rect | x, y, width, height, [fill, stroke, stroke_width, stroke_style, clickable, id] |
| round_rect | x, y, width, height, radius, [fill, stroke, ..., clickable, id] |
| text | x, y, text, [color, bg, align] |
| line | x1, y1, x2, y2, [stroke, stroke_width, stroke_style] |
| circle | cx, cy, r, [fill, stroke, ...] |
| ellipse | cx, cy, rx, ry, [fill, stroke, ...] |
| arc | cx, cy, r, start, end, [stroke, ...] (degrees, clockwise from +x) |
| polyline | points: [{x, y}, ...] (2 or more), [stroke, ...] |
| polygon | points: [{x, y}, ...] (3 or more), [fill, stroke, ...] |
| path | x, y, segments: [{type, ...}], [fill, stroke, ...] |
| image | x, y, width, height, src (data URI or asset name) |

Path segment types: move {x, y}, line {x, y}, quad {c1x, c1y, x, y},
cubic {c1x, c1y, c2x, c2y, x, y}, close {}.

## Styles

- Colors are "#RRGGBB" or "#RRGGBBAA".
- stroke_style is solid, dashed or dotted; stroke_width is at most 64.
- Shapes without fill or stroke draw nothing. Lines, arcs and polylines
  default to a 1px black stroke.

## Text

- Text is always 24px. y is the top of the text box, not the baseline.
- "\n" starts a new line; lines are 1.2x the font height apart.
- align positions the block relative to x: left (default), center, right.
- Text color defaults to black; bg fills the text box behind the glyphs.
- Any Unicode text is allowed, including non-Latin scripts and emoji.

## Rules

- Every op may carry an id; ids must be unique.
- clickable rects and round_rects must have an id.
- No unknown fields, no nulls. Every required field must be present.
`

const plannerSystem = `You design graphical user interfaces by writing draw programs.
You cannot see pixels directly: your program is rendered and you may be shown
a snapshot of the result together with a reviewer's feedback.

Produce exactly one draw program that satisfies the request. Lay out
elements with explicit coordinates, leave comfortable spacing, make text
fit inside its containers, and never let controls overlap. Answer only
with the structured document.`

const criticSystem = `You review rendered user interfaces. You are given the
original request, a reduced-size snapshot of the rendering and the draw
program that produced it.

Accept only if the snapshot satisfies the request and has no visual defects:
overlapping elements, clipped or overflowing text, unreadable contrast,
missing requested parts. Otherwise reject and name the most important
defect in one sentence, concretely enough to fix it.

Answer only with the structured document.`

// prompts holds the static framing for both routes.
type prompts struct {
	planner string
	critic  string
}

func newPrompts(plannerOverride, criticOverride string) prompts {
	p := prompts{
		planner: plannerSystem + "\n\n" + Reference,
		critic:  criticSystem,
	}
	if plannerOverride != "" {
		p.planner = plannerOverride + "\n\n" + Reference
	}
	if criticOverride != "" {
		p.critic = criticOverride
	}
	return p
}

// sessionContext is the static per-session message shared by every call.
func sessionContext(intent string, canvas dsl.CanvasSpec) string {
	return fmt.Sprintf("Interface request:\n%s\n\nCanvas: %d x %d logical pixels, background %s.",
		strings.TrimSpace(intent), canvas.Width, canvas.Height, canvas.Background)
}

func generateInstruction(gc GenerateContext, priorDoc []byte) string {
	var b strings.Builder
	if gc.Prior != nil {
		b.WriteString("Your previous draw program was:\n")
		b.Write(priorDoc)
		b.WriteString("\n\nThe reviewer rejected it: ")
		b.WriteString(gc.Feedback)
		b.WriteString("\n\n")
	}
	if gc.Corrective != nil {
		b.WriteString("Your last response could not be used:\n")
		b.WriteString(gc.Corrective.Error())
		if len(gc.CorrectiveRaw) > 0 {
			b.WriteString("\n\nThe rejected response was:\n")
			b.Write(gc.CorrectiveRaw)
		}
		b.WriteString("\n\n")
	}
	switch {
	case gc.Corrective != nil:
		b.WriteString("Fix that problem and return a complete, valid draw program.")
	case gc.Prior != nil:
		b.WriteString("Return a complete corrected draw program.")
	default:
		b.WriteString("Return the draw program.")
	}
	return b.String()
}

func critiqueInstruction(doc []byte) string {
	return "Draw program:\n" + string(doc) +
		"\n\nDoes the snapshot satisfy the request? Answer accept or reject with a reason."
}
