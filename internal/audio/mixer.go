package audio

import "math"

const (
	// DefaultMusicGain keeps background music well under the narration.
	DefaultMusicGain = 0.12

	// MusicFadeSec is how long before the end of the narration segment the
	// music starts ramping down to silence.
	MusicFadeSec = 1.0

	// NarrationFadeSec is the click-suppression ramp at both ends of every
	// narration clip.
	NarrationFadeSec = 0.010
)

// MixInput is everything the mixer schedules. Offsets and durations are in
// seconds and come from the session timeline.
type MixInput struct {
	Narration    []*Buffer // one per scene, nil for scenes without audio
	Offsets      []float64 // start of each scene on the session timeline
	Durations    []float64 // render duration of each scene
	Music        *Buffer   // optional, looped
	Trailing     *Buffer   // optional trailing clip audio
	NarrationEnd float64
	Total        float64
}

// Mixer renders a MixInput in one offline pass.
type Mixer struct {
	SampleRate int
	Channels   int
	MusicGain  float64
	MasterGain float64
	Compressor CompressorConfig
}

func NewMixer(musicGain float64) *Mixer {
	if musicGain < 0 {
		musicGain = DefaultMusicGain
	}
	return &Mixer{
		SampleRate: SampleRate,
		Channels:   Channels,
		MusicGain:  musicGain,
		MasterGain: 1.0,
		Compressor: DefaultCompressor,
	}
}

// FrameCount is the exact mixdown length for a session of total seconds.
func FrameCount(total float64, sampleRate int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(total * float64(sampleRate)))
}

// MusicGainAt returns the background music gain at time t: base until
// narrationEnd-1s, a linear ramp to zero reaching it exactly at narrationEnd,
// and silence from then on.
func MusicGainAt(t, narrationEnd, base float64) float64 {
	if t >= narrationEnd {
		return 0
	}
	rampStart := math.Max(0, narrationEnd-MusicFadeSec)
	if t < rampStart {
		return base
	}
	span := narrationEnd - rampStart
	if span <= 0 {
		return 0
	}
	return base * (narrationEnd - t) / span
}

// Mix returns the session mixdown.
func (m *Mixer) Mix(in MixInput) *Buffer {
	sr := m.SampleRate
	out := NewBuffer(sr, m.Channels, FrameCount(in.Total, sr))

	for i, n := range in.Narration {
		if n == nil || i >= len(in.Offsets) {
			continue
		}
		maxFrames := -1
		if i < len(in.Durations) {
			maxFrames = FrameCount(in.Durations[i], sr)
		}
		m.placeNarration(out, Conform(n, sr, m.Channels), in.Offsets[i], maxFrames)
	}

	// A very short track can resample to nothing
	if in.Music != nil {
		if music := Conform(in.Music, sr, m.Channels); music != nil && music.Frames() > 0 {
			m.placeMusic(out, music, in.NarrationEnd)
		}
	}

	if in.Trailing != nil {
		m.add(out, Conform(in.Trailing, sr, m.Channels), FrameCount(in.NarrationEnd, sr), 1)
	}

	NewCompressor(m.Compressor, sr).Process(out)

	for i, s := range out.Data {
		s *= float32(m.MasterGain)
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		out.Data[i] = s
	}
	return out
}

// placeNarration adds src at offset with linear fade-in/out.
func (m *Mixer) placeNarration(out, src *Buffer, offset float64, maxFrames int) {
	n := src.Frames()
	if maxFrames >= 0 && n > maxFrames {
		n = maxFrames
	}
	start := FrameCount(offset, m.SampleRate)
	fade := FrameCount(NarrationFadeSec, m.SampleRate)
	if 2*fade > n {
		fade = n / 2
	}

	ch := m.Channels
	outFrames := out.Frames()
	for k := 0; k < n; k++ {
		dst := start + k
		if dst >= outFrames {
			break
		}
		g := float32(1)
		if fade > 0 {
			if k < fade {
				g = float32(k) / float32(fade)
			} else if tail := n - 1 - k; tail < fade {
				g = float32(tail) / float32(fade)
			}
		}
		for c := 0; c < ch; c++ {
			out.Data[dst*ch+c] += src.Data[k*ch+c] * g
		}
	}
}

// placeMusic loops src from time 0 up to narrationEnd under the fade envelope.
func (m *Mixer) placeMusic(out, src *Buffer, narrationEnd float64) {
	sr := float64(m.SampleRate)
	end := FrameCount(narrationEnd, m.SampleRate)
	if end > out.Frames() {
		end = out.Frames()
	}
	loop := src.Frames()
	if loop == 0 {
		return
	}
	ch := m.Channels
	for f := 0; f < end; f++ {
		g := float32(MusicGainAt(float64(f)/sr, narrationEnd, m.MusicGain))
		if g == 0 {
			continue
		}
		k := f % loop
		for c := 0; c < ch; c++ {
			out.Data[f*ch+c] += src.Data[k*ch+c] * g
		}
	}
}

func (m *Mixer) add(out, src *Buffer, start int, gain float32) {
	ch := m.Channels
	outFrames := out.Frames()
	for k := 0; k < src.Frames(); k++ {
		dst := start + k
		if dst >= outFrames {
			break
		}
		for c := 0; c < ch; c++ {
			out.Data[dst*ch+c] += src.Data[k*ch+c] * gain
		}
	}
}
