package audio

import (
	"math"
	"os"
	"path/filepath"
	"testing"
)

func constBuffer(seconds float64, value float32) *Buffer {
	b := NewBuffer(SampleRate, Channels, FrameCount(seconds, SampleRate))
	for i := range b.Data {
		b.Data[i] = value
	}
	return b
}

func TestMixLengthAllCombinations(t *testing.T) {
	narration := []*Buffer{constBuffer(2.5, 0.1), nil, constBuffer(1.25, 0.1)}
	offsets := []float64{0, 2.5, 5.5}
	durations := []float64{2.5, 3, 1.25}
	narrationEnd := 6.75

	// One frame at 192 kHz resamples to nothing at 48 kHz
	blip := NewBuffer(192000, Channels, 1)
	blip.Data[0] = 0.5

	musics := map[string]*Buffer{"none": nil, "loop": constBuffer(0.7, 0.2), "blip": blip}
	for musicName, music := range musics {
		for _, withTrailing := range []bool{false, true} {
			in := MixInput{
				Narration:    narration,
				Offsets:      offsets,
				Durations:    durations,
				NarrationEnd: narrationEnd,
				Total:        narrationEnd + 1,
			}
			in.Music = music
			if withTrailing {
				in.Trailing = constBuffer(2.333, 0.1)
				in.Total = narrationEnd + 2.333
			}

			out := NewMixer(DefaultMusicGain).Mix(in)
			want := int(math.Round(in.Total * SampleRate))
			if d := out.Frames() - want; d < -1 || d > 1 {
				t.Errorf("music=%s trailing=%v: frames=%d, want %d±1", musicName, withTrailing, out.Frames(), want)
			}
		}
	}
}

func TestMusicGainWindow(t *testing.T) {
	const end = 10.0
	const base = DefaultMusicGain

	if g := MusicGainAt(8.5, end, base); g != base {
		t.Errorf("gain before ramp = %v, want %v", g, base)
	}
	if g := MusicGainAt(end-MusicFadeSec, end, base); math.Abs(g-base) > 1e-12 {
		t.Errorf("gain at ramp start = %v, want %v", g, base)
	}
	if g := MusicGainAt(end-0.5, end, base); math.Abs(g-base/2) > 1e-9 {
		t.Errorf("gain mid-ramp = %v, want %v", g, base/2)
	}
	for _, tt := range []float64{end, end + 0.001, end + 5} {
		if g := MusicGainAt(tt, end, base); g != 0 {
			t.Errorf("gain at %v = %v, want 0", tt, g)
		}
	}

	prev := base
	for tt := end - MusicFadeSec; tt < end; tt += 0.01 {
		g := MusicGainAt(tt, end, base)
		if g > prev+1e-12 {
			t.Fatalf("ramp not monotonic at %v: %v > %v", tt, g, prev)
		}
		prev = g
	}
}

func TestMusicNeverSoundsIntoTrailingSegment(t *testing.T) {
	in := MixInput{
		Music:        constBuffer(0.5, 0.5),
		NarrationEnd: 3,
		Total:        5,
	}
	out := NewMixer(DefaultMusicGain).Mix(in)

	from := FrameCount(in.NarrationEnd, SampleRate)
	for i := from * Channels; i < len(out.Data); i++ {
		if out.Data[i] != 0 {
			t.Fatalf("sample %d after narration end is %v, want silence", i/Channels, out.Data[i])
		}
	}

	mid := FrameCount(1, SampleRate) * Channels
	if out.Data[mid] == 0 {
		t.Error("expected music before the ramp")
	}
}

func TestNarrationPlacementAndFades(t *testing.T) {
	in := MixInput{
		Narration:    []*Buffer{constBuffer(1, 0.1), constBuffer(1, 0.1)},
		Offsets:      []float64{0, 1.5},
		Durations:    []float64{1, 1},
		NarrationEnd: 2.5,
		Total:        3.5,
	}
	out := NewMixer(DefaultMusicGain).Mix(in)

	if out.Data[0] != 0 {
		t.Errorf("first sample should be faded to 0, got %v", out.Data[0])
	}

	steady := FrameCount(0.5, SampleRate) * Channels
	if math.Abs(float64(out.Data[steady])-0.1) > 1e-4 {
		t.Errorf("steady narration sample = %v, want 0.1", out.Data[steady])
	}

	gap := FrameCount(1.25, SampleRate) * Channels
	if out.Data[gap] != 0 {
		t.Errorf("gap between narrations should be silent, got %v", out.Data[gap])
	}

	second := FrameCount(2.0, SampleRate) * Channels
	if math.Abs(float64(out.Data[second])-0.1) > 1e-4 {
		t.Errorf("second narration sample = %v, want 0.1", out.Data[second])
	}
}

func TestTrailingStartsAtNarrationEnd(t *testing.T) {
	in := MixInput{
		Trailing:     constBuffer(1, 0.1),
		NarrationEnd: 2,
		Total:        3,
	}
	out := NewMixer(DefaultMusicGain).Mix(in)

	before := (FrameCount(2, SampleRate) - 1) * Channels
	at := FrameCount(2, SampleRate) * Channels
	if out.Data[before] != 0 {
		t.Errorf("trailing audio leaked before narration end: %v", out.Data[before])
	}
	if math.Abs(float64(out.Data[at])-0.1) > 1e-4 {
		t.Errorf("trailing audio at narration end = %v, want 0.1", out.Data[at])
	}
}

func TestCompressorHoldsOverlapUnderFullScale(t *testing.T) {
	in := MixInput{
		Narration:    []*Buffer{constBuffer(1, 0.9), constBuffer(1, 0.9)},
		Offsets:      []float64{0, 0},
		Durations:    []float64{1, 1},
		NarrationEnd: 1,
		Total:        1,
	}
	out := NewMixer(DefaultMusicGain).Mix(in)
	for i, s := range out.Data {
		if s > 1 || s < -1 {
			t.Fatalf("sample %d out of range: %v", i, s)
		}
	}
	last := out.Data[len(out.Data)/2]
	if last >= 1.8*0.99 {
		t.Errorf("expected gain reduction on a 1.8 peak, got %v", last)
	}
}

func TestConformUpmixesAndResamples(t *testing.T) {
	mono := &Buffer{SampleRate: 24000, Channels: 1, Data: make([]float32, 24000)}
	for i := range mono.Data {
		mono.Data[i] = 0.25
	}
	out := Conform(mono, SampleRate, Channels)
	if out.Frames() != SampleRate {
		t.Fatalf("frames = %d, want %d", out.Frames(), SampleRate)
	}
	if out.Data[100] != 0.25 || out.Data[101] != 0.25 {
		t.Errorf("expected mono duplicated to both channels, got %v %v", out.Data[100], out.Data[101])
	}
}

func TestChunksAndWAVWriter(t *testing.T) {
	b := constBuffer(2.5, 0.5)
	chunks := Chunks(b, 1)
	if len(chunks) != 3 {
		t.Fatalf("chunks = %d, want 3", len(chunks))
	}
	if chunks[2].Frames() != SampleRate/2 {
		t.Errorf("last chunk frames = %d, want %d", chunks[2].Frames(), SampleRate/2)
	}

	path := filepath.Join(t.TempDir(), "mix.wav")
	w, err := NewWAVWriter(path, SampleRate, Channels)
	if err != nil {
		t.Fatalf("NewWAVWriter: %v", err)
	}
	for _, c := range chunks {
		if err := w.Write(c); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	if w.Frames() != b.Frames() {
		t.Errorf("frames written = %d, want %d", w.Frames(), b.Frames())
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	pcmBytes := int64(b.Frames() * Channels * 2)
	if info.Size() < pcmBytes || info.Size() > pcmBytes+128 {
		t.Errorf("wav size = %d, want pcm %d plus header", info.Size(), pcmBytes)
	}
}
