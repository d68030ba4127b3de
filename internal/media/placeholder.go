// Package media fetches and decodes the images, clips and narration audio a
// scene refers to. A failed asset degrades to a placeholder instead of an
// error so one bad URL never aborts an export.
package media

import (
	"image"
	"image/color"
)

// Placeholder returns a 1x1 transparent image.
func Placeholder() image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, 1, 1))
	img.SetNRGBA(0, 0, color.NRGBA{})
	return img
}

// IsPlaceholder reports whether img is a placeholder (or nil).
func IsPlaceholder(img image.Image) bool {
	if img == nil {
		return true
	}
	b := img.Bounds()
	if b.Dx() != 1 || b.Dy() != 1 {
		return false
	}
	_, _, _, a := img.At(b.Min.X, b.Min.Y).RGBA()
	return a == 0
}
