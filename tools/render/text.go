package render

import (
	"fmt"
	"image"
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/go-text/typesetting/language"
	"github.com/gogpu/gg/text"
	"github.com/rivo/uniseg"

	"canvas-studio/tools/dsl"
)

// run is a stretch of a line drawn with one face.
type run struct {
	text  string
	face  text.Face
	width float64
}

type textLine struct {
	runs  []run
	width float64
}

// text draws a Text op. Glyphs are rasterized onto a transparent layer at
// device resolution, which is then composited so paint order is kept.
func (p *painter) text(o dsl.Text) {
	faces := p.fonts.Faces(dsl.TextSize * p.d)
	if len(faces) == 0 {
		p.warn("no fonts available; text skipped")
		return
	}
	metrics := faces[0].Metrics()
	advance := (metrics.Ascent + metrics.Descent) * dsl.TextLineHeight

	missing := map[rune]bool{}
	var lines []textLine
	blockWidth := 0.0
	for _, raw := range strings.Split(o.Text, "\n") {
		line := layoutLine(raw, faces, missing)
		lines = append(lines, line)
		blockWidth = math.Max(blockWidth, line.width)
	}
	blockHeight := advance * float64(len(lines))

	left := p.s(o.X)
	switch o.Align {
	case dsl.AlignCenter:
		left -= blockWidth / 2
	case dsl.AlignRight:
		left -= blockWidth
	}
	top := p.s(o.Y)

	if o.Background != nil {
		p.dc.DrawRectangle(left, top, blockWidth, blockHeight)
		p.dc.SetColor(*o.Background)
		if err := p.dc.Fill(); err != nil {
			p.warn("text background: %v", err)
		}
	}

	if blockWidth > 0 {
		ox, oy := int(math.Floor(left)), int(math.Floor(top))
		layer := image.NewRGBA(image.Rect(0, 0, int(math.Ceil(blockWidth+left-float64(ox)))+1, int(math.Ceil(blockHeight+top-float64(oy)))+1))
		ink := o.Ink()
		for i, line := range lines {
			x := left - float64(ox)
			switch o.Align {
			case dsl.AlignCenter:
				x += (blockWidth - line.width) / 2
			case dsl.AlignRight:
				x += blockWidth - line.width
			}
			baseline := top - float64(oy) + metrics.Ascent + float64(i)*advance
			for _, r := range line.runs {
				text.DrawWithEmoji(layer, r.text, r.face, x, baseline, ink)
				x += r.width
			}
		}
		p.layer(layer, ox, oy)
	}

	if len(missing) > 0 {
		p.warn("%s", coverageMessage(missing))
	}
}

// layoutLine splits a line into runs, choosing for each grapheme cluster the
// first face that has a glyph for its base rune. Clusters no face covers use
// the primary face and are recorded in missing.
func layoutLine(s string, faces []text.Face, missing map[rune]bool) textLine {
	var line textLine
	var cur *run
	g := uniseg.NewGraphemes(s)
	for g.Next() {
		cluster := g.Str()
		base := g.Runes()[0]
		face := faces[0]
		if !unicode.IsSpace(base) && unicode.IsPrint(base) {
			found := false
			for _, f := range faces {
				if f.HasGlyph(base) {
					face, found = f, true
					break
				}
			}
			if !found {
				missing[base] = true
			}
		}
		if cur == nil || cur.face != face {
			line.runs = append(line.runs, run{face: face})
			cur = &line.runs[len(line.runs)-1]
		}
		cur.text += cluster
	}
	for i := range line.runs {
		r := &line.runs[i]
		r.width = r.face.Advance(r.text)
		line.width += r.width
	}
	return line
}

func coverageMessage(missing map[rune]bool) string {
	runes := make([]rune, 0, len(missing))
	for r := range missing {
		runes = append(runes, r)
	}
	sort.Slice(runes, func(i, j int) bool { return runes[i] < runes[j] })

	parts := make([]string, 0, len(runes))
	for _, r := range runes {
		parts = append(parts, fmt.Sprintf("U+%04X (%s)", r, language.LookupScript(r)))
	}
	return "no installed font covers " + strings.Join(parts, ", ")
}

// MeasureText returns the size of a Text op's block in canvas units.
func (r *Renderer) MeasureText(o dsl.Text) (width, height float64) {
	faces := r.fonts.Faces(dsl.TextSize)
	if len(faces) == 0 {
		return 0, 0
	}
	m := faces[0].Metrics()
	lines := strings.Split(o.Text, "\n")
	for _, l := range lines {
		width = math.Max(width, layoutLine(l, faces, map[rune]bool{}).width)
	}
	return width, (m.Ascent + m.Descent) * dsl.TextLineHeight * float64(len(lines))
}
