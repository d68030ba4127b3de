package render

import (
	"fmt"
	"image"
	"image/color"

	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"

	"github.com/bobarin/reelcut/internal/subtitles"
)

const (
	fontScale    = 0.032 // base subtitle size relative to frame height
	activeScale  = 1.15
	lineSpacing  = 1.35
	shadowOffset = 3
	captionY     = 0.78 // vertical center of the caption block
)

var (
	accentColor   = color.NRGBA{R: 250, G: 204, B: 21, A: 255}
	inactiveColor = color.NRGBA{R: 255, G: 255, B: 255, A: 217}
	shadowColor   = color.NRGBA{A: 160}
)

// captionFaces holds the two sizes subtitles are drawn at.
type captionFaces struct {
	base   font.Face
	active font.Face
	size   float64
}

func newCaptionFaces(frameHeight int) (*captionFaces, error) {
	f, err := opentype.Parse(gobold.TTF)
	if err != nil {
		return nil, fmt.Errorf("failed to parse caption font: %w", err)
	}
	size := fontScale * float64(frameHeight)
	base, err := opentype.NewFace(f, &opentype.FaceOptions{Size: size, DPI: 72, Hinting: font.HintingFull})
	if err != nil {
		return nil, fmt.Errorf("failed to create caption face: %w", err)
	}
	active, err := opentype.NewFace(f, &opentype.FaceOptions{Size: size * activeScale, DPI: 72, Hinting: font.HintingFull})
	if err != nil {
		return nil, fmt.Errorf("failed to create active caption face: %w", err)
	}
	return &captionFaces{base: base, active: active, size: size}, nil
}

func (f *captionFaces) Close() {
	f.base.Close()
	f.active.Close()
}

// drawPage renders one subtitle page centered near the bottom of dst, with
// the word at activeIdx highlighted.
func (f *captionFaces) drawPage(dst *image.RGBA, l *subtitles.Layout, page subtitles.Page, activeIdx int) {
	w := dst.Bounds().Dx()
	h := dst.Bounds().Dy()
	lineHeight := f.size * lineSpacing
	blockTop := captionY*float64(h) - lineHeight*float64(len(page.Lines))/2
	space := font.MeasureString(f.base, " ")

	for li, line := range page.Lines {
		faces := make([]font.Face, len(line))
		var lineWidth fixed.Int26_6
		for k, idx := range line {
			faces[k] = f.base
			if idx == activeIdx {
				faces[k] = f.active
			}
			lineWidth += font.MeasureString(faces[k], l.Words[idx].Word)
			if k > 0 {
				lineWidth += space
			}
		}

		x := fixed.I(w)/2 - lineWidth/2
		y := fixed.Int26_6((blockTop + lineHeight*float64(li+1)) * 64)

		for k, idx := range line {
			word := l.Words[idx].Word
			c := inactiveColor
			if idx == activeIdx {
				c = accentColor
				drawWord(dst, faces[k], word, x+fixed.I(shadowOffset), y+fixed.I(shadowOffset), shadowColor)
			}
			drawWord(dst, faces[k], word, x, y, c)
			x += font.MeasureString(faces[k], word) + space
		}
	}
}

func drawWord(dst *image.RGBA, face font.Face, word string, x, y fixed.Int26_6, c color.Color) {
	d := font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(c),
		Face: face,
		Dot:  fixed.Point26_6{X: x, Y: y},
	}
	d.DrawString(word)
}
