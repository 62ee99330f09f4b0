package render

import (
	"fmt"
	"os"
	"strings"

	"github.com/gogpu/gg/text"
	"golang.org/x/image/font/gofont/goregular"
)

// FontProvider supplies the face chain used for text. The first face is the
// primary face and sets line metrics; later faces are consulted per grapheme.
type FontProvider interface {
	Faces(size float64) []text.Face
}

// emojiRanges limits emoji fonts to pictographs so they never supply digits
// or punctuation.
var emojiRanges = []text.UnicodeRange{
	text.RangeEmoji,
	text.RangeEmojiMisc,
	text.RangeEmojiSymbols,
	text.RangeEmojiFlags,
	{Start: 0x2600, End: 0x27BF},   // misc symbols, dingbats
	{Start: 0x1F900, End: 0x1F9FF}, // supplemental symbols and pictographs
	{Start: 0x1FA70, End: 0x1FAFF}, // symbols and pictographs extended-A
}

// SystemFallbacks are probed by DefaultFonts when no fallback is configured.
var SystemFallbacks = []string{
	"/usr/share/fonts/opentype/noto/NotoSansCJK-Regular.ttc",
	"/usr/share/fonts/noto-cjk/NotoSansCJK-Regular.ttc",
	"/usr/share/fonts/truetype/dejavu/DejaVuSans.ttf",
	"/usr/share/fonts/truetype/noto/NotoSansArabic-Regular.ttf",
	"/usr/share/fonts/truetype/noto/NotoSansHebrew-Regular.ttf",
	"/usr/share/fonts/truetype/noto/NotoColorEmoji.ttf",
	"/usr/share/fonts/noto/NotoColorEmoji.ttf",
	"/System/Library/Fonts/PingFang.ttc",
	"/System/Library/Fonts/Apple Color Emoji.ttc",
}

type fontEntry struct {
	source *text.FontSource
	emoji  bool
}

// Fonts is the default FontProvider: the Go font followed by fallback fonts
// loaded from disk.
type Fonts struct {
	entries []fontEntry
	loaded  []string
}

// NewFonts builds a provider whose primary face is the Go regular font.
// Fallback paths that cannot be read or parsed are returned as warnings and
// skipped.
func NewFonts(fallbacks []string) (*Fonts, []error) {
	primary, err := text.NewFontSource(goregular.TTF)
	if err != nil {
		// The embedded font is known good; failing here is a build defect.
		panic(fmt.Sprintf("render: parse embedded font: %v", err))
	}
	f := &Fonts{entries: []fontEntry{{source: primary}}}

	var problems []error
	for _, path := range fallbacks {
		if err := f.add(path); err != nil {
			problems = append(problems, err)
		}
	}
	return f, problems
}

// DefaultFonts loads whichever SystemFallbacks exist on this machine.
func DefaultFonts() *Fonts {
	var present []string
	for _, path := range SystemFallbacks {
		if _, err := os.Stat(path); err == nil {
			present = append(present, path)
		}
	}
	f, _ := NewFonts(present)
	return f
}

func (f *Fonts) add(path string) error {
	var opts []text.SourceOption
	if strings.HasSuffix(strings.ToLower(path), ".ttc") {
		opts = append(opts, text.WithCollectionIndex(0))
	}
	source, err := text.NewFontSourceFromFile(path, opts...)
	if err != nil {
		return fmt.Errorf("load font %s: %w", path, err)
	}
	f.entries = append(f.entries, fontEntry{source: source, emoji: strings.Contains(strings.ToLower(path), "emoji")})
	f.loaded = append(f.loaded, path)
	return nil
}

// Loaded lists the fallback font files in use.
func (f *Fonts) Loaded() []string {
	return f.loaded
}

func (f *Fonts) Faces(size float64) []text.Face {
	faces := make([]text.Face, 0, len(f.entries))
	for _, e := range f.entries {
		face := e.source.Face(size)
		if e.emoji {
			face = text.NewFilteredFace(face, emojiRanges...)
		}
		faces = append(faces, face)
	}
	return faces
}
