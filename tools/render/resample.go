package render

import (
	"image"

	xdraw "golang.org/x/image/draw"
)

// resample scales src to size with Catmull-Rom filtering. It is the only
// difference between a snapshot and a full-resolution render.
func resample(src *image.RGBA, size image.Point) *image.RGBA {
	dst := image.NewRGBA(image.Rectangle{Max: size})
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), xdraw.Src, nil)
	return dst
}

// Resample returns a copy of buf scaled to scale. For a scale-1 buffer and a
// target below 1 the result equals Render at that scale.
func Resample(buf *PixelBuffer, scale float64) *PixelBuffer {
	return &PixelBuffer{
		Image:    resample(buf.Image, scaledSize(buf.Canvas, scale)),
		Scale:    scale,
		Canvas:   buf.Canvas,
		Warnings: append([]Warning(nil), buf.Warnings...),
	}
}
