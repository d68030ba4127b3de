package scene

import (
	"context"
	"errors"
	"image"
	"image/color"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/bobarin/reelcut/internal/audio"
	"github.com/bobarin/reelcut/internal/media"
	"github.com/bobarin/reelcut/internal/models"
)

func seconds(d float64) *audio.Buffer {
	return audio.NewBuffer(audio.SampleRate, audio.Channels, audio.FrameCount(d, audio.SampleRate))
}

func solid(c color.NRGBA) image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func TestRenderDurationPrecedence(t *testing.T) {
	tests := []struct {
		name      string
		narration *audio.Buffer
		hint      float64
		want      float64
	}{
		{"audio wins", seconds(3.5), 9, 3.5},
		{"hint when no audio", nil, 2.25, 2.25},
		{"hint when empty audio", seconds(0), 4, 4},
		{"fallback", nil, 0, 5.0},
		{"fallback on bad hint", nil, math.Inf(1), 5.0},
		{"fallback on negative hint", nil, -1, 5.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RenderDuration(tt.narration, tt.hint); got != tt.want {
				t.Errorf("RenderDuration = %v, want %v", got, tt.want)
			}
		})
	}
}

func arenaOf(durations ...float64) *Arena {
	assets := make([]Asset, len(durations))
	for i, d := range durations {
		assets[i] = Asset{Duration: d, Image: solid(color.NRGBA{A: 255})}
	}
	return NewArena(assets)
}

func TestTimelineScenarioA(t *testing.T) {
	tl := NewTimeline(arenaOf(4, 4, 4), 0)

	if tl.NarrationEnd != 12 || tl.TrailingSilence != 1 || tl.Total != 13 {
		t.Errorf("timeline = %+v, want narration 12, silence 1, total 13", tl)
	}
	if got := tl.FrameCount(30); got != 390 {
		t.Errorf("frames @30 = %d, want 390", got)
	}
	if got := tl.FrameCount(60); got != 780 {
		t.Errorf("frames @60 = %d, want 780", got)
	}
}

func TestTimelineTrailingClipReplacesSilence(t *testing.T) {
	tl := NewTimeline(arenaOf(2, 3), 4.5)
	if tl.TrailingSilence != 0 || tl.TrailingDuration != 4.5 || tl.Total != 9.5 {
		t.Errorf("timeline = %+v", tl)
	}
	if !tl.InTrailing(5) || tl.InTrailing(4.99) {
		t.Error("trailing segment should start exactly at narration end")
	}
	if NewTimeline(arenaOf(2), 0).InTrailing(2.5) {
		t.Error("silence pad is not a trailing clip")
	}
}

func TestTimelineLocate(t *testing.T) {
	tl := NewTimeline(arenaOf(2, 3, 1), 0)
	tests := []struct {
		t       float64
		idx     int
		inScene float64
	}{
		{0, 0, 0},
		{1.5, 0, 1.5},
		{2, 1, 0},
		{4.75, 1, 2.75},
		{5.5, 2, 0.5},
		{6.5, 2, 1.5}, // silence pad stays on the last scene
	}
	for _, tt := range tests {
		idx, in := tl.Locate(tt.t)
		if idx != tt.idx || math.Abs(in-tt.inScene) > 1e-9 {
			t.Errorf("Locate(%v) = %d, %v; want %d, %v", tt.t, idx, in, tt.idx, tt.inScene)
		}
	}
	if idx, _ := NewTimeline(NewArena(nil), 0).Locate(1); idx != -1 {
		t.Errorf("empty timeline Locate = %d, want -1", idx)
	}
}

func TestTimelineMixInputMatchesMixerLength(t *testing.T) {
	assets := []Asset{
		{Duration: 1.5, Narration: seconds(1.5)},
		{Duration: 2, Narration: nil},
	}
	arena := NewArena(assets)
	tl := NewTimeline(arena, 0.75)

	in := tl.MixInput(arena, seconds(0.4), seconds(0.75))
	if in.Offsets[1] != 1.5 || in.NarrationEnd != 3.5 || in.Total != 4.25 {
		t.Errorf("mix input = offsets %v, end %v, total %v", in.Offsets, in.NarrationEnd, in.Total)
	}
	out := audio.NewMixer(-1).Mix(in)
	if got, want := out.Frames(), tl.FrameCount(audio.SampleRate); got != want {
		t.Errorf("mixdown frames = %d, want %d", got, want)
	}

	noTrail := NewTimeline(arena, 0)
	if noTrail.MixInput(arena, nil, seconds(1)).Trailing != nil {
		t.Error("trailing audio must not be scheduled without a trailing clip")
	}
}

func TestArenaWithoutClipLeavesOriginal(t *testing.T) {
	clip := media.PlaceholderClip()
	a := NewArena([]Asset{{Clip: clip, Freeze: solid(color.NRGBA{R: 1, A: 255}), Duration: 1}})

	b := a.WithoutClip(0)
	if b.At(0).Clip != nil || b.At(0).Freeze != nil {
		t.Error("view should drop the clip")
	}
	if a.At(0).Clip != clip || a.At(0).Freeze == nil {
		t.Error("original arena was mutated")
	}
	if len(a.Clips()) != 1 || len(b.Clips()) != 0 {
		t.Errorf("clips = %d/%d, want 1/0", len(a.Clips()), len(b.Clips()))
	}
}

func TestArenaHasVisual(t *testing.T) {
	if NewArena([]Asset{{Image: media.Placeholder()}}).HasVisual() {
		t.Error("placeholder-only arena has no visual")
	}
	if !arenaOf(1).HasVisual() {
		t.Error("expected a visual")
	}
}

// ---------------------------------------------------------------------------
// Preparer
// ---------------------------------------------------------------------------

type frameDecoder struct{ color color.NRGBA }

func (d frameDecoder) DecodeAt(ctx context.Context, t float64) (image.Image, error) {
	c := d.color
	c.G = uint8(math.Round(t * 10))
	return solid(c), nil
}

func (frameDecoder) Close() error { return nil }

type fakeLoader struct {
	mu      sync.Mutex
	images  map[string]image.Image
	audio   map[string]*audio.Buffer
	clips   map[string]float64
	delay   time.Duration
	fetches int
}

func (l *fakeLoader) Fetch(ctx context.Context, ref string) ([]byte, error) {
	l.mu.Lock()
	l.fetches++
	l.mu.Unlock()
	return []byte("audio"), nil
}

func (l *fakeLoader) LoadImage(ctx context.Context, ref string) image.Image {
	if l.delay > 0 {
		time.Sleep(l.delay)
	}
	if img, ok := l.images[ref]; ok {
		return img
	}
	return media.Placeholder()
}

func (l *fakeLoader) LoadAudio(ctx context.Context, ref string) *audio.Buffer {
	return l.audio[ref]
}

func (l *fakeLoader) OpenClip(ctx context.Context, ref string) (*media.ClipSource, error) {
	d, ok := l.clips[ref]
	if !ok {
		return nil, errors.New("clip not found")
	}
	info := media.ClipInfo{Duration: d, Width: 4, Height: 4}
	return media.NewClipSource(ref, info, frameDecoder{color: color.NRGBA{R: 9, A: 255}}, zerolog.Nop()), nil
}

type fakeAligner struct {
	words models.WordTimings
	err   error
	calls int
}

func (a *fakeAligner) Align(ctx context.Context, data []byte, filename string) (models.WordTimings, error) {
	a.calls++
	return a.words, a.err
}

func newScene(i int) models.Scene {
	return models.Scene{ID: uuid.New(), SceneIndex: i, Text: "hello there", FocusX: 50}
}

func TestPrepareKeepsOrderAndDurations(t *testing.T) {
	loader := &fakeLoader{
		images: map[string]image.Image{"img0": solid(color.NRGBA{A: 255}), "img1": solid(color.NRGBA{A: 255}), "img2": solid(color.NRGBA{A: 255})},
		audio:  map[string]*audio.Buffer{"a0": seconds(4), "a2": seconds(1.5)},
		delay:  5 * time.Millisecond,
	}
	scenes := []models.Scene{newScene(0), newScene(1), newScene(2)}
	scenes[0].ImageURL, scenes[0].AudioURL = "img0", "a0"
	scenes[1].ImageURL, scenes[1].AudioURL, scenes[1].DurationHint = "img1", "missing", 2.5
	scenes[2].ImageURL, scenes[2].AudioURL = "img2", "a2"

	arena, err := NewPreparer(loader, nil, zerolog.Nop()).Prepare(context.Background(), scenes)
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	defer arena.Close()

	want := []float64{4, 2.5, 1.5}
	for i, d := range arena.Durations() {
		if d != want[i] {
			t.Errorf("scene %d duration = %v, want %v", i, d, want[i])
		}
		if arena.At(i).Scene.SceneIndex != i {
			t.Errorf("asset %d holds scene %d", i, arena.At(i).Scene.SceneIndex)
		}
	}
}

func TestPrepareCapturesFreezeFrameAndRewinds(t *testing.T) {
	loader := &fakeLoader{
		images: map[string]image.Image{"img": solid(color.NRGBA{B: 200, A: 255})},
		audio:  map[string]*audio.Buffer{"a": seconds(5)},
		clips:  map[string]float64{"clip": 2},
	}
	s := newScene(0)
	s.ImageURL, s.AudioURL, s.ClipURL, s.ClipStatus = "img", "a", "clip", models.ClipStatusCompleted

	a := NewPreparer(loader, nil, zerolog.Nop()).PrepareScene(context.Background(), s)
	if a.Clip == nil || a.Freeze == nil {
		t.Fatal("expected clip and freeze frame")
	}
	defer a.Clip.Close()

	// frameDecoder encodes t*10 in green: freeze at 1.9s, rewound to 0.
	if g := a.Freeze.(*image.NRGBA).NRGBAAt(0, 0).G; g != 19 {
		t.Errorf("freeze frame marker = %d, want 19 (t=1.9s)", g)
	}
	if g := a.Clip.Frame().(*image.NRGBA).NRGBAAt(0, 0).G; g != 0 {
		t.Errorf("clip not rewound, current frame marker %d", g)
	}
	if a.Duration != 5 || a.ClipDuration() != 2 {
		t.Errorf("duration = %v clip = %v, want 5 / 2", a.Duration, a.ClipDuration())
	}
}

func TestPrepareClipFailureFallsBackToImage(t *testing.T) {
	loader := &fakeLoader{images: map[string]image.Image{"img": solid(color.NRGBA{A: 255})}}
	s := newScene(0)
	s.ImageURL, s.ClipURL, s.ClipStatus = "img", "broken", models.ClipStatusCompleted

	a := NewPreparer(loader, nil, zerolog.Nop()).PrepareScene(context.Background(), s)
	if a.Clip != nil {
		t.Error("expected no clip after failure")
	}
	if !a.HasVisual() {
		t.Error("expected still image fallback")
	}
	if a.Duration != FallbackDuration {
		t.Errorf("duration = %v, want fallback", a.Duration)
	}
}

func TestPrepareSkipsClipInImageMode(t *testing.T) {
	loader := &fakeLoader{clips: map[string]float64{"clip": 2}}
	s := newScene(0)
	s.ClipURL, s.ClipStatus, s.MediaMode = "clip", models.ClipStatusCompleted, models.MediaModeImage
	if a := NewPreparer(loader, nil, zerolog.Nop()).PrepareScene(context.Background(), s); a.Clip != nil {
		t.Error("image mode must not load the clip")
	}

	s.MediaMode, s.ClipStatus = "", models.ClipStatusProcessing
	if a := NewPreparer(loader, nil, zerolog.Nop()).PrepareScene(context.Background(), s); a.Clip != nil {
		t.Error("unfinished clip must not be loaded")
	}
}

func TestPrepareAlignment(t *testing.T) {
	aligned := models.WordTimings{{Word: "hello", Start: 0, End: 0.5}, {Word: "there", Start: 0.5, End: 1}}
	loader := &fakeLoader{audio: map[string]*audio.Buffer{"a": seconds(1)}}

	s := newScene(0)
	s.AudioURL = "a"
	al := &fakeAligner{words: aligned}
	a := NewPreparer(loader, al, zerolog.Nop()).PrepareScene(context.Background(), s)
	if len(a.Words) != 2 || al.calls != 1 {
		t.Errorf("words = %v, calls = %d", a.Words, al.calls)
	}

	s.WordTimings = models.WordTimings{{Word: "given", Start: 0, End: 1}}
	al = &fakeAligner{words: aligned}
	a = NewPreparer(loader, al, zerolog.Nop()).PrepareScene(context.Background(), s)
	if al.calls != 0 || a.Words[0].Word != "given" {
		t.Error("external timings must not be replaced by alignment")
	}

	s.WordTimings = nil
	al = &fakeAligner{err: errors.New("quota")}
	a = NewPreparer(loader, al, zerolog.Nop()).PrepareScene(context.Background(), s)
	if a.Words != nil {
		t.Errorf("failed alignment should leave words empty, got %v", a.Words)
	}
}

func TestPrepareCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewPreparer(&fakeLoader{}, nil, zerolog.Nop()).Prepare(ctx, []models.Scene{newScene(0)})
	if err == nil {
		t.Error("expected cancellation error")
	}
}
