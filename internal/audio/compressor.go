package audio

import "math"

// CompressorConfig describes a soft-knee, linked-stereo bus compressor.
type CompressorConfig struct {
	ThresholdDB float64
	KneeDB      float64
	Ratio       float64
	AttackSec   float64
	ReleaseSec  float64
}

// DefaultCompressor is transparent below about -9 dBFS and holds overlapping
// fades under full scale.
var DefaultCompressor = CompressorConfig{
	ThresholdDB: -6,
	KneeDB:      6,
	Ratio:       4,
	AttackSec:   0.003,
	ReleaseSec:  0.12,
}

// Compressor applies gain reduction in place. It is deterministic: the same
// input always yields the same output.
type Compressor struct {
	cfg     CompressorConfig
	attack  float64
	release float64
	env     float64
}

func NewCompressor(cfg CompressorConfig, sampleRate int) *Compressor {
	return &Compressor{
		cfg:     cfg,
		attack:  coeff(cfg.AttackSec, sampleRate),
		release: coeff(cfg.ReleaseSec, sampleRate),
	}
}

func coeff(sec float64, sampleRate int) float64 {
	if sec <= 0 || sampleRate <= 0 {
		return 0
	}
	return math.Exp(-1 / (sec * float64(sampleRate)))
}

// Process compresses b in place.
func (c *Compressor) Process(b *Buffer) {
	n := b.Frames()
	ch := b.Channels
	for i := 0; i < n; i++ {
		frame := b.Data[i*ch : (i+1)*ch]

		var peak float64
		for _, s := range frame {
			if a := math.Abs(float64(s)); a > peak {
				peak = a
			}
		}

		if peak > c.env {
			c.env = c.attack*c.env + (1-c.attack)*peak
		} else {
			c.env = c.release*c.env + (1-c.release)*peak
		}

		g := float32(c.gain(c.env))
		if g == 1 {
			continue
		}
		for k := range frame {
			frame[k] *= g
		}
	}
}

// gain returns the linear gain for an envelope level.
func (c *Compressor) gain(level float64) float64 {
	if level <= 0 {
		return 1
	}
	x := 20 * math.Log10(level)
	t, w, r := c.cfg.ThresholdDB, c.cfg.KneeDB, c.cfg.Ratio
	if r < 1 {
		r = 1
	}

	var y float64
	switch {
	case 2*(x-t) < -w:
		return 1
	case w > 0 && 2*math.Abs(x-t) <= w:
		d := x - t + w/2
		y = x + (1/r-1)*d*d/(2*w)
	default:
		y = t + (x-t)/r
	}
	return math.Pow(10, (y-x)/20)
}
