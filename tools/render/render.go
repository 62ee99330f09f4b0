// Package render rasterizes draw programs. Rendering is a pure function of
// (program, canvas, scale): every scale goes through the same drawing path,
// and scales below 1 only add a resampling step.
package render

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"io"
	"math"

	"github.com/gogpu/gg"

	"canvas-studio/tools/dsl"
)

// MaxScale bounds the output scale factor.
const MaxScale = 4.0

// DefaultSnapshotScale is the evaluation snapshot size used for critique.
const DefaultSnapshotScale = 0.3

// Warning is a non-fatal problem with a single op.
type Warning struct {
	OpIndex int
	Op      dsl.OpKind
	Message string
}

func (w Warning) String() string {
	return fmt.Sprintf("ops[%d] (%s): %s", w.OpIndex, w.Op, w.Message)
}

// PixelBuffer is a rendered program. Each buffer is owned by whoever asked
// for it; the renderer keeps no reference.
type PixelBuffer struct {
	Image    *image.RGBA
	Scale    float64
	Canvas   dsl.CanvasSpec
	Warnings []Warning
}

// Bounds returns the pixel size of the buffer.
func (b *PixelBuffer) Bounds() image.Rectangle {
	return b.Image.Bounds()
}

// EncodePNG writes the buffer as PNG.
func (b *PixelBuffer) EncodePNG(w io.Writer) error {
	return png.Encode(w, b.Image)
}

// PNG returns the buffer encoded as PNG.
func (b *PixelBuffer) PNG() ([]byte, error) {
	var buf bytes.Buffer
	if err := b.EncodePNG(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// RenderError reports a canvas-level problem. Per-op problems are warnings.
type RenderError struct {
	Canvas dsl.CanvasSpec
	Scale  float64
	Reason string
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("render %s at scale %g: %s", e.Canvas, e.Scale, e.Reason)
}

// Option configures a Renderer.
type Option func(*Renderer)

// WithFonts replaces the default font provider.
func WithFonts(fonts FontProvider) Option {
	return func(r *Renderer) { r.fonts = fonts }
}

// WithAssets sets the resolver for image names that are not data URIs.
func WithAssets(assets AssetResolver) Option {
	return func(r *Renderer) { r.assets = assets }
}

// Renderer turns programs into pixels. It holds only read-only
// collaborators and is safe for concurrent use.
type Renderer struct {
	fonts  FontProvider
	assets AssetResolver
}

// New creates a renderer. Without WithFonts it uses the Go font alone.
func New(opts ...Option) *Renderer {
	r := &Renderer{assets: noAssets{}}
	for _, opt := range opts {
		opt(r)
	}
	if r.fonts == nil {
		r.fonts, _ = NewFonts(nil)
	}
	return r
}

// Render draws program onto canvas at the given scale.
func (r *Renderer) Render(program *dsl.DrawProgram, canvas dsl.CanvasSpec, scale float64) (*PixelBuffer, error) {
	if err := canvas.Validate(); err != nil {
		return nil, &RenderError{Canvas: canvas, Scale: scale, Reason: err.Error()}
	}
	if math.IsNaN(scale) || scale <= 0 || scale > MaxScale {
		return nil, &RenderError{Canvas: canvas, Scale: scale, Reason: fmt.Sprintf("scale must be in (0, %g]", MaxScale)}
	}
	if program == nil {
		return nil, &RenderError{Canvas: canvas, Scale: scale, Reason: "nil program"}
	}

	density := math.Max(1, scale)
	raster, warnings := r.rasterize(program, canvas, density)

	out := raster
	if scale < 1 {
		out = resample(raster, scaledSize(canvas, scale))
	}
	return &PixelBuffer{Image: out, Scale: scale, Canvas: canvas, Warnings: warnings}, nil
}

// scaledSize is the pixel size of canvas at scale, at least 1x1.
func scaledSize(canvas dsl.CanvasSpec, scale float64) image.Point {
	return image.Pt(
		max(1, int(math.Round(float64(canvas.Width)*scale))),
		max(1, int(math.Round(float64(canvas.Height)*scale))),
	)
}

func (r *Renderer) rasterize(program *dsl.DrawProgram, canvas dsl.CanvasSpec, density float64) (*image.RGBA, []Warning) {
	size := scaledSize(canvas, density)
	dc := gg.NewContext(size.X, size.Y)
	defer dc.Close()

	dc.ClearWithColor(gg.FromColor(canvas.Background))

	p := &painter{dc: dc, d: density, fonts: r.fonts, assets: r.assets}
	for i, op := range program.Ops {
		p.index = i
		p.kind = op.Kind()
		p.draw(op)
	}
	return toRGBA(dc.Image()), p.warnings
}

func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba
	}
	rgba := image.NewRGBA(img.Bounds())
	draw.Draw(rgba, rgba.Bounds(), img, img.Bounds().Min, draw.Src)
	return rgba
}
