package scene

import (
	"math"

	"github.com/samber/lo"

	"github.com/bobarin/reelcut/internal/audio"
)

// Timeline is the session's single source of durations. The mixer and the
// compositor both read it, so they can never disagree.
type Timeline struct {
	Starts           []float64
	Durations        []float64
	NarrationEnd     float64
	TrailingDuration float64
	TrailingSilence  float64
	Total            float64
}

// NewTimeline lays the arena's scenes back to back. trailing is the trailing
// clip's duration, 0 without one; the one-second silence pad is only added
// when there is no trailing clip.
func NewTimeline(arena *Arena, trailing float64) Timeline {
	durations := arena.Durations()
	starts := make([]float64, len(durations))
	var cursor float64
	for i, d := range durations {
		starts[i] = cursor
		cursor += d
	}

	tl := Timeline{
		Starts:       starts,
		Durations:    durations,
		NarrationEnd: lo.Sum(durations),
	}
	if trailing > 0 {
		tl.TrailingDuration = trailing
	} else {
		tl.TrailingSilence = TrailingSilence
	}
	tl.Total = tl.NarrationEnd + tl.TrailingDuration + tl.TrailingSilence
	return tl
}

// FrameCount is the number of output frames at fps.
func (tl Timeline) FrameCount(fps int) int {
	return int(math.Round(tl.Total * float64(fps)))
}

// InTrailing reports whether t falls in the trailing clip segment.
func (tl Timeline) InTrailing(t float64) bool {
	return tl.TrailingDuration > 0 && t >= tl.NarrationEnd
}

// Locate returns the scene active at t and the time elapsed inside it. Times
// past the narration segment resolve to the last scene. It returns -1 for an
// empty timeline.
func (tl Timeline) Locate(t float64) (int, float64) {
	n := len(tl.Starts)
	if n == 0 {
		return -1, 0
	}
	if t < 0 {
		t = 0
	}
	for i := 0; i < n; i++ {
		if t < tl.Starts[i]+tl.Durations[i] {
			return i, t - tl.Starts[i]
		}
	}
	return n - 1, t - tl.Starts[n-1]
}

// MixInput schedules the arena's narration, the music and the trailing audio
// on this timeline.
func (tl Timeline) MixInput(arena *Arena, music, trailing *audio.Buffer) audio.MixInput {
	narration := lo.Map(arena.Assets(), func(a Asset, _ int) *audio.Buffer { return a.Narration })
	in := audio.MixInput{
		Narration:    narration,
		Offsets:      tl.Starts,
		Durations:    tl.Durations,
		Music:        music,
		NarrationEnd: tl.NarrationEnd,
		Total:        tl.Total,
	}
	if tl.TrailingDuration > 0 {
		in.Trailing = trailing
	}
	return in
}
