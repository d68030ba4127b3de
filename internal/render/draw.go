package render

import (
	"image"
	"image/color"
	"image/draw"
	"math"

	xdraw "golang.org/x/image/draw"

	"github.com/bobarin/reelcut/internal/media"
)

// MaxZoom is the extra scale a still reaches at the end of its scene.
const MaxZoom = 0.15

// progress normalizes t into [0, 1] across [start, end]. Both zoom cases use
// it so a scene always reaches full zoom exactly at its end.
func progress(start, t, end float64) float64 {
	span := end - start
	if span <= 0 {
		return 1
	}
	p := (t - start) / span
	return math.Max(0, math.Min(1, p))
}

// ZoomAt is the pan/zoom scale for time t within [start, end].
func ZoomAt(start, t, end float64) float64 {
	return 1 + MaxZoom*progress(start, t, end)
}

// coverRect returns the part of a src-sized image that, scaled up, fills a
// dst-sized frame. focusX in [0, 1] biases the horizontal crop; vertical is
// always centered. zoom >= 1 narrows the crop further around the same bias.
func coverRect(src image.Rectangle, dstW, dstH int, focusX, zoom float64) image.Rectangle {
	sw, sh := float64(src.Dx()), float64(src.Dy())
	if sw <= 0 || sh <= 0 || dstW <= 0 || dstH <= 0 {
		return src
	}
	if zoom < 1 {
		zoom = 1
	}
	scale := math.Max(float64(dstW)/sw, float64(dstH)/sh) * zoom
	cw := math.Min(sw, float64(dstW)/scale)
	ch := math.Min(sh, float64(dstH)/scale)

	x0 := (sw - cw) * math.Max(0, math.Min(1, focusX))
	y0 := (sh - ch) / 2

	r := image.Rect(
		int(math.Round(x0)), int(math.Round(y0)),
		int(math.Round(x0+cw)), int(math.Round(y0+ch)),
	).Add(src.Min)
	if r.Empty() {
		return src
	}
	return r.Intersect(src)
}

// drawCover fills dst with src, cover-fit.
func drawCover(dst *image.RGBA, src image.Image, focusX, zoom float64) {
	if media.IsPlaceholder(src) {
		return
	}
	b := dst.Bounds()
	crop := coverRect(src.Bounds(), b.Dx(), b.Dy(), focusX, zoom)
	xdraw.ApproxBiLinear.Scale(dst, b, src, crop, draw.Over, nil)
}

// bottomGradient is a transparent-to-black ramp covering the lower part of
// the frame, where subtitles sit.
func bottomGradient(w, h int) *image.NRGBA {
	const (
		coverage = 0.45
		maxAlpha = 0.75
	)
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	top := int(float64(h) * (1 - coverage))
	span := float64(h - top)
	for y := top; y < h; y++ {
		p := float64(y-top) / span
		a := uint8(math.Round(255 * maxAlpha * p * p))
		row := img.Pix[y*img.Stride : y*img.Stride+w*4]
		for x := 0; x < w; x++ {
			row[x*4+3] = a
		}
	}
	return img
}

func fill(dst *image.RGBA, c color.Color) {
	draw.Draw(dst, dst.Bounds(), image.NewUniform(c), image.Point{}, draw.Src)
}
