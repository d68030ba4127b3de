// Package scene turns scene records into the immutable render assets and the
// timeline shared by the mixer and the compositor.
package scene

import (
	"image"
	"math"

	"github.com/bobarin/reelcut/internal/audio"
	"github.com/bobarin/reelcut/internal/media"
	"github.com/bobarin/reelcut/internal/models"
)

const (
	// FallbackDuration is used when a scene has neither decodable narration
	// nor a duration hint.
	FallbackDuration = 5.0

	// FreezeOffset is how far before the clip end the freeze frame is taken.
	FreezeOffset = 0.1

	// TrailingSilence pads the end of a session without a trailing clip.
	TrailingSilence = 1.0
)

// Asset is everything the engine needs to render one scene. It is built once
// by the Preparer and never mutated afterwards.
type Asset struct {
	Scene     models.Scene
	Image     image.Image
	Clip      *media.ClipSource // nil for still-image scenes
	Freeze    image.Image       // last clip frame, only set when Clip is
	Narration *audio.Buffer
	Words     models.WordTimings // external or aligned timings; nil means derive
	Duration  float64
}

// RenderDuration is the authoritative length of a scene: the decoded
// narration length when valid, else the hint, else FallbackDuration.
func RenderDuration(narration *audio.Buffer, hint float64) float64 {
	if narration.Valid() {
		return narration.Duration()
	}
	if hint > 0 && !math.IsInf(hint, 0) && !math.IsNaN(hint) {
		return hint
	}
	return FallbackDuration
}

// ClipDuration is the usable length of the scene's clip, 0 without one.
func (a Asset) ClipDuration() float64 {
	if a.Clip == nil {
		return 0
	}
	return a.Clip.Duration()
}

// FocusX returns the horizontal framing bias in [0, 1].
func (a Asset) FocusX() float64 {
	f := a.Scene.FocusX / 100
	if f < 0 || math.IsNaN(f) {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

// HasVisual reports whether the asset has something other than a placeholder
// to draw.
func (a Asset) HasVisual() bool {
	if a.Clip != nil && !a.Clip.IsPlaceholder() {
		return true
	}
	return !media.IsPlaceholder(a.Image)
}
