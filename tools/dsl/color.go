package dsl

import (
	"encoding/json"
	"fmt"
	"image/color"
	"regexp"
	"strconv"
)

// colorPattern is shared by the parser and the schema descriptor.
const colorPattern = `^#([0-9A-Fa-f]{6}|[0-9A-Fa-f]{8})$`

var colorRe = regexp.MustCompile(colorPattern)

// Color is an sRGB color with straight alpha, written as #RRGGBB or #RRGGBBAA.
type Color struct {
	R, G, B, A uint8
}

var (
	Black = Color{0, 0, 0, 255}
	White = Color{255, 255, 255, 255}
)

// ParseColor parses #RRGGBB or #RRGGBBAA.
func ParseColor(s string) (Color, error) {
	if !colorRe.MatchString(s) {
		return Color{}, fmt.Errorf("invalid color %q: want #RRGGBB or #RRGGBBAA", s)
	}
	v, _ := strconv.ParseUint(s[1:], 16, 32)
	if len(s) == 7 {
		return Color{uint8(v >> 16), uint8(v >> 8), uint8(v), 255}, nil
	}
	return Color{uint8(v >> 24), uint8(v >> 16), uint8(v >> 8), uint8(v)}, nil
}

// MustColor is ParseColor for constants; it panics on malformed input.
func MustColor(s string) Color {
	c, err := ParseColor(s)
	if err != nil {
		panic(err)
	}
	return c
}

func (c Color) String() string {
	if c.A == 255 {
		return fmt.Sprintf("#%02X%02X%02X", c.R, c.G, c.B)
	}
	return fmt.Sprintf("#%02X%02X%02X%02X", c.R, c.G, c.B, c.A)
}

// RGBA implements color.Color with premultiplied components.
func (c Color) RGBA() (r, g, b, a uint32) {
	return color.NRGBA{R: c.R, G: c.G, B: c.B, A: c.A}.RGBA()
}

func (c Color) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

func (c *Color) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseColor(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// MarshalText and UnmarshalText let colors appear as plain strings in TOML.
func (c Color) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Color) UnmarshalText(text []byte) error {
	parsed, err := ParseColor(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
