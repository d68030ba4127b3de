// Package audio holds decoded PCM buffers and the offline session mixer.
package audio

import "math"

const (
	// SampleRate and Channels describe every mixdown the engine produces.
	SampleRate = 48000
	Channels   = 2
)

// Buffer is interleaved float32 PCM in [-1, 1].
type Buffer struct {
	SampleRate int
	Channels   int
	Data       []float32
}

// NewBuffer allocates a silent buffer of frames sample frames.
func NewBuffer(sampleRate, channels, frames int) *Buffer {
	if frames < 0 {
		frames = 0
	}
	return &Buffer{
		SampleRate: sampleRate,
		Channels:   channels,
		Data:       make([]float32, frames*channels),
	}
}

// Frames returns the number of sample frames (samples per channel).
func (b *Buffer) Frames() int {
	if b == nil || b.Channels == 0 {
		return 0
	}
	return len(b.Data) / b.Channels
}

// Duration returns the buffer length in seconds.
func (b *Buffer) Duration() float64 {
	if b == nil || b.SampleRate == 0 {
		return 0
	}
	return float64(b.Frames()) / float64(b.SampleRate)
}

// Valid reports whether the buffer has a positive, finite duration.
func (b *Buffer) Valid() bool {
	d := b.Duration()
	return d > 0 && !math.IsInf(d, 0) && !math.IsNaN(d)
}

// Sample returns channel ch of frame i, up-mixing mono to any channel.
func (b *Buffer) Sample(i, ch int) float32 {
	if b.Channels == 1 {
		return b.Data[i]
	}
	if ch >= b.Channels {
		ch = b.Channels - 1
	}
	return b.Data[i*b.Channels+ch]
}

// Slice returns frames [from, to) as a new buffer sharing the same storage.
func (b *Buffer) Slice(from, to int) *Buffer {
	n := b.Frames()
	if from < 0 {
		from = 0
	}
	if to > n {
		to = n
	}
	if to < from {
		to = from
	}
	return &Buffer{
		SampleRate: b.SampleRate,
		Channels:   b.Channels,
		Data:       b.Data[from*b.Channels : to*b.Channels],
	}
}

// Conform returns b at the given rate and channel count. Rate changes use
// linear interpolation; mono is duplicated across channels and extra channels
// beyond the target are dropped.
func Conform(b *Buffer, sampleRate, channels int) *Buffer {
	if b == nil {
		return nil
	}
	if b.SampleRate == sampleRate && b.Channels == channels {
		return b
	}

	srcFrames := b.Frames()
	dstFrames := srcFrames
	ratio := 1.0
	if b.SampleRate != sampleRate && b.SampleRate > 0 {
		ratio = float64(b.SampleRate) / float64(sampleRate)
		dstFrames = int(math.Round(float64(srcFrames) / ratio))
	}

	out := NewBuffer(sampleRate, channels, dstFrames)
	for i := 0; i < dstFrames; i++ {
		pos := float64(i) * ratio
		i0 := int(pos)
		frac := float32(pos - float64(i0))
		i1 := i0 + 1
		if i0 >= srcFrames {
			i0 = srcFrames - 1
		}
		if i1 >= srcFrames {
			i1 = srcFrames - 1
		}
		for ch := 0; ch < channels; ch++ {
			a := b.Sample(i0, ch)
			c := b.Sample(i1, ch)
			out.Data[i*channels+ch] = a + (c-a)*frac
		}
	}
	return out
}
